// Package delivery routes pipeline output to the front-end that owns a user.
package delivery

import (
	"context"
	"fmt"
	"sync"

	"github.com/user/knowledgebot/internal/types"
)

// FrontEnd renders previews and notices for the users of one channel.
type FrontEnd interface {
	PresentPreview(ctx context.Context, user types.UserID, p types.Preview) error
	Notify(ctx context.Context, user types.UserID, n types.Notice) error
}

// Registry routes calls to the front-end registered for the user's
// channel, the part of the user id before the first ':'.
type Registry struct {
	mu        sync.RWMutex
	frontEnds map[string]FrontEnd
}

// NewRegistry creates an empty delivery registry.
func NewRegistry() *Registry {
	return &Registry{
		frontEnds: make(map[string]FrontEnd),
	}
}

// Register adds the front-end for users of channel (e.g. "telegram").
func (r *Registry) Register(channel string, fe FrontEnd) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frontEnds[channel] = fe
}

// Channels returns the registered channel names.
func (r *Registry) Channels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.frontEnds))
	for c := range r.frontEnds {
		out = append(out, c)
	}
	return out
}

func (r *Registry) lookup(user types.UserID) (FrontEnd, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fe, ok := r.frontEnds[user.Channel()]
	if !ok {
		return nil, fmt.Errorf("no front-end for user %s", user)
	}
	return fe, nil
}

// PresentPreview forwards to the user's front-end.
func (r *Registry) PresentPreview(ctx context.Context, user types.UserID, p types.Preview) error {
	fe, err := r.lookup(user)
	if err != nil {
		return err
	}
	return fe.PresentPreview(ctx, user, p)
}

// Notify forwards to the user's front-end.
func (r *Registry) Notify(ctx context.Context, user types.UserID, n types.Notice) error {
	fe, err := r.lookup(user)
	if err != nil {
		return err
	}
	return fe.Notify(ctx, user, n)
}
