// Package ratelimit caps how many videos one user may submit per hour.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/user/knowledgebot/internal/types"
)

// Limiter decides whether a user may start another submission. When it
// refuses, retryAfter says how long to wait.
type Limiter interface {
	Allow(ctx context.Context, user types.UserID) (ok bool, retryAfter time.Duration, err error)
}

// Unlimited allows everything.
type Unlimited struct{}

func (Unlimited) Allow(context.Context, types.UserID) (bool, time.Duration, error) {
	return true, 0, nil
}

// Memory is a per-process token bucket per user.
type Memory struct {
	mu      sync.Mutex
	perHour int
	users   map[types.UserID]*bucket
	now     func() time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewMemory allows perHour submissions per user, refilled evenly.
func NewMemory(perHour int) *Memory {
	if perHour < 1 {
		perHour = 1
	}
	return &Memory{perHour: perHour, users: make(map[types.UserID]*bucket), now: time.Now}
}

func (m *Memory) Allow(_ context.Context, user types.UserID) (bool, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	b, ok := m.users[user]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Every(time.Hour/time.Duration(m.perHour)), m.perHour)}
		m.users[user] = b
	}
	b.lastSeen = now
	m.prune(now)

	r := b.limiter.ReserveN(now, 1)
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, delay, nil
	}
	return true, 0, nil
}

// prune drops buckets untouched for an hour; they would be full again.
func (m *Memory) prune(now time.Time) {
	if len(m.users) < 1024 {
		return
	}
	for user, b := range m.users {
		if now.Sub(b.lastSeen) > time.Hour {
			delete(m.users, user)
		}
	}
}

// Redis counts submissions in fixed hourly windows shared by every
// process using the same server.
type Redis struct {
	client  *redis.Client
	perHour int
	prefix  string
	now     func() time.Time
}

// NewRedis parses a redis:// URL and returns a shared limiter.
func NewRedis(url string, perHour int) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisClient(redis.NewClient(opts), perHour), nil
}

func NewRedisClient(client *redis.Client, perHour int) *Redis {
	if perHour < 1 {
		perHour = 1
	}
	return &Redis{client: client, perHour: perHour, prefix: "knowledgebot:rate:", now: time.Now}
}

func (r *Redis) Allow(ctx context.Context, user types.UserID) (bool, time.Duration, error) {
	now := r.now()
	window := now.Truncate(time.Hour)
	key := fmt.Sprintf("%s%s:%d", r.prefix, user, window.Unix())

	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, fmt.Errorf("rate limit %s: %w", user, err)
	}
	if incr.Val() > int64(r.perHour) {
		return false, window.Add(time.Hour).Sub(now), nil
	}
	return true, 0, nil
}

// Ping checks the server answers.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the redis connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}
