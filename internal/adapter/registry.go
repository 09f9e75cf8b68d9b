package adapter

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/user/knowledgebot/internal/types"
)

// Registry owns every adapter acquired at process start and releases them
// together on teardown.
type Registry struct {
	mu       sync.Mutex
	members  []types.Lifecycle
	shutdown sync.Once
	err      error
}

// NewRegistry creates a registry holding the given adapters. Nil entries
// are skipped so optional adapters can be passed unconditionally.
func NewRegistry(members ...types.Lifecycle) *Registry {
	r := &Registry{}
	for _, m := range members {
		r.Add(m)
	}
	return r
}

// Add registers another adapter.
func (r *Registry) Add(m types.Lifecycle) {
	if isNil(m) {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members = append(r.members, m)
}

func (r *Registry) snapshot() []types.Lifecycle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.Lifecycle(nil), r.members...)
}

// Healthcheck probes every adapter in parallel and returns name -> healthy.
func (r *Registry) Healthcheck(ctx context.Context) map[string]bool {
	members := r.snapshot()
	results := make([]bool, len(members))

	g, gctx := errgroup.WithContext(ctx)
	for i, m := range members {
		g.Go(func() error {
			results[i] = m.Healthcheck(gctx)
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]bool, len(members))
	for i, m := range members {
		out[m.Name()] = results[i]
	}
	return out
}

// Shutdown releases every adapter once; later calls return the first result.
func (r *Registry) Shutdown() error {
	r.shutdown.Do(func() {
		members := r.snapshot()
		errs := make([]error, len(members))
		var g errgroup.Group
		for i, m := range members {
			g.Go(func() error {
				if err := m.Shutdown(); err != nil {
					errs[i] = fmt.Errorf("shutdown %s: %w", m.Name(), err)
				}
				return nil
			})
		}
		_ = g.Wait()
		r.err = errors.Join(errs...)
	})
	return r.err
}

func isNil(m types.Lifecycle) bool {
	if m == nil {
		return true
	}
	v := reflect.ValueOf(m)
	return v.Kind() == reflect.Pointer && v.IsNil()
}
