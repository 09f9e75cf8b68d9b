// Package session holds the process-wide table of in-flight sessions.
package session

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/user/knowledgebot/internal/types"
)

// AlreadyActiveError is returned by Create when the user still has a
// non-terminal session.
type AlreadyActiveError struct {
	UserID types.UserID
	Stage  types.Stage
}

func (e *AlreadyActiveError) Error() string {
	return fmt.Sprintf("session for %s already active (stage %s)", e.UserID, e.Stage)
}

// IsAlreadyActive reports whether err is an *AlreadyActiveError.
func IsAlreadyActive(err error) bool {
	var ae *AlreadyActiveError
	return errors.As(err, &ae)
}

// Store maps user ids to sessions. Every read returns a copy; every write
// goes through Update so that no caller holds the live record.
type Store struct {
	mu       sync.RWMutex
	sessions map[types.UserID]*types.Session
	now      func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now, for tests that need exact TTL boundaries.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates an empty Store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		sessions: make(map[types.UserID]*types.Session),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create inserts a Queued session for user. The check for an existing
// non-terminal session and the insert happen under one lock. A terminal
// session still waiting for removal is replaced.
func (s *Store) Create(user types.UserID, sourceURL string) (*types.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.sessions[user]; ok && !cur.Stage.IsTerminal() {
		return nil, &AlreadyActiveError{UserID: user, Stage: cur.Stage}
	}

	now := s.now()
	sess := &types.Session{
		ID:             types.SessionIDFor(user),
		UserID:         user,
		RunID:          types.NewRunID(),
		Stage:          types.StageQueued,
		SourceURL:      sourceURL,
		CreatedAt:      now,
		LastActivityAt: now,
		Attempts:       make(map[types.Stage]int),
		History:        []types.Stage{types.StageQueued},
	}
	s.sessions[user] = sess
	return sess.Clone(), nil
}

// Get returns a copy of the user's session, or nil.
func (s *Store) Get(user types.UserID) *types.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[user].Clone()
}

// Update applies fn to a copy of the user's session under the store lock.
// If fn returns nil the copy replaces the record and last_activity_at is
// refreshed; otherwise the record is left untouched and fn's error is
// returned. Returns types.ErrNotFound when no session exists.
func (s *Store) Update(user types.UserID, fn func(*types.Session) error) (*types.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.sessions[user]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", user, types.ErrNotFound)
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.LastActivityAt = s.now()
	s.sessions[user] = next
	return next.Clone(), nil
}

// Remove deletes the user's session.
func (s *Store) Remove(user types.UserID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, user)
}

// RemoveRun deletes the user's session only if it still belongs to run.
func (s *Store) RemoveRun(user types.UserID, run types.RunID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.sessions[user]; ok && cur.RunID == run {
		delete(s.sessions, user)
		return true
	}
	return false
}

// Idle names a session the janitor may evict. RunID pins the run seen at
// listing time so a newer session for the same user is left alone.
type Idle struct {
	UserID types.UserID
	RunID  types.RunID
}

// ErrActive is returned by CheckIdle for a session active within the TTL.
var ErrActive = errors.New("session active within ttl")

// ListExpired returns sessions whose last activity is strictly older than
// ttl, ordered by user id.
func (s *Store) ListExpired(ttl time.Duration) []Idle {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := s.now().Add(-ttl)
	var out []Idle
	for user, sess := range s.sessions {
		if sess.LastActivityAt.Before(cutoff) {
			out = append(out, Idle{UserID: user, RunID: sess.RunID})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// CheckIdle returns ErrActive unless sess was last active strictly more
// than ttl ago. Call it from an Update mutator to evict atomically.
func (s *Store) CheckIdle(sess *types.Session, ttl time.Duration) error {
	if !sess.LastActivityAt.Before(s.now().Add(-ttl)) {
		return ErrActive
	}
	return nil
}

// List returns copies of all sessions, most recently active first.
func (s *Store) List() []*types.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*types.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivityAt.After(out[j].LastActivityAt)
	})
	return out
}

// Len returns the number of tracked sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
