package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/user/knowledgebot/internal/types"
)

// Fanout writes every entry to a primary store and, when set, a fallback.
// The primary's location wins; the fallback's is used only when the
// primary fails.
type Fanout struct {
	primary  types.KnowledgeStore
	fallback types.KnowledgeStore
}

var _ types.KnowledgeStore = (*Fanout)(nil)

// NewFanout combines two stores. fallback may be nil.
func NewFanout(primary, fallback types.KnowledgeStore) *Fanout {
	return &Fanout{primary: primary, fallback: fallback}
}

func (f *Fanout) Name() string {
	if f.fallback == nil {
		return f.primary.Name()
	}
	return f.primary.Name() + "+" + f.fallback.Name()
}

func (f *Fanout) Healthcheck(ctx context.Context) bool {
	if f.primary.Healthcheck(ctx) {
		return true
	}
	return f.fallback != nil && f.fallback.Healthcheck(ctx)
}

func (f *Fanout) Shutdown() error {
	var errs []error
	if err := f.primary.Shutdown(); err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", f.primary.Name(), err))
	}
	if f.fallback != nil {
		if err := f.fallback.Shutdown(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", f.fallback.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (f *Fanout) Persist(ctx context.Context, entry *types.Entry) (string, error) {
	loc, perr := f.primary.Persist(ctx, entry)
	if f.fallback == nil {
		return loc, perr
	}
	floc, ferr := f.fallback.Persist(ctx, entry)
	switch {
	case perr == nil:
		if ferr != nil {
			slog.Warn("fallback store failed", "store", f.fallback.Name(), "error", ferr)
		}
		return loc, nil
	case ferr == nil:
		slog.Warn("primary store failed, kept fallback copy", "store", f.primary.Name(), "error", perr)
		return floc, nil
	default:
		return "", errors.Join(perr, ferr)
	}
}

// List reads from the primary if it can enumerate, else the fallback.
func (f *Fanout) List(ctx context.Context, limit int) ([]*types.Entry, error) {
	for _, s := range []types.KnowledgeStore{f.primary, f.fallback} {
		if l, ok := s.(types.EntryLister); ok && s != nil {
			return l.List(ctx, limit)
		}
	}
	return nil, fmt.Errorf("store %s cannot list entries", f.Name())
}
