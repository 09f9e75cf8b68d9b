package pipeline

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/user/knowledgebot/internal/session"
	"github.com/user/knowledgebot/internal/types"
)

// Expirer ends a user's session as Expired, provided it still belongs to
// run and has been idle for longer than ttl when the eviction commits.
type Expirer interface {
	Expire(user types.UserID, run types.RunID, ttl time.Duration) bool
}

// Janitor evicts sessions idle for longer than the TTL.
type Janitor struct {
	store    *session.Store
	expirer  Expirer
	ttl      time.Duration
	interval time.Duration
	cron     *cron.Cron
}

// NewJanitor creates a janitor that sweeps every interval.
func NewJanitor(store *session.Store, expirer Expirer, ttl, interval time.Duration) *Janitor {
	return &Janitor{
		store:    store,
		expirer:  expirer,
		ttl:      ttl,
		interval: interval,
		cron:     cron.New(),
	}
}

// Start registers the sweep and starts the cron ticker.
func (j *Janitor) Start() error {
	if j.interval <= 0 {
		return fmt.Errorf("janitor: invalid sweep interval %s", j.interval)
	}
	if _, err := j.cron.AddFunc("@every "+j.interval.String(), func() { j.Sweep() }); err != nil {
		return fmt.Errorf("janitor: schedule: %w", err)
	}
	j.cron.Start()
	slog.Info("janitor started", "ttl", j.ttl, "interval", j.interval)
	return nil
}

// Stop stops the ticker and waits for a running sweep to finish.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

// Sweep expires every session idle for longer than the TTL and returns how
// many were evicted.
func (j *Janitor) Sweep() int {
	evicted := 0
	for _, idle := range j.store.ListExpired(j.ttl) {
		if j.expirer.Expire(idle.UserID, idle.RunID, j.ttl) {
			evicted++
		}
	}
	if evicted > 0 {
		Evictions.Add(float64(evicted))
	}
	slog.Info("janitor sweep", "evicted", evicted, "remaining", j.store.Len())
	return evicted
}
