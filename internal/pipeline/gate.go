package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/user/knowledgebot/internal/session"
	"github.com/user/knowledgebot/internal/types"
)

var (
	ErrUnknownAction = errors.New("unknown action")
	errDuplicate     = errors.New("decision already pending")
)

// Gate is the approval checkpoint. An orchestrator parks on a waiter
// while its session is AwaitingApproval; Resolve wakes it exactly once.
type Gate struct {
	store      *session.Store
	front      FrontEnd
	categories []string

	mu      sync.Mutex
	waiters map[types.UserID]*waiter
}

type waiter struct {
	run types.RunID
	ch  chan types.Decision
}

// NewGate creates a gate. categories may be nil for the defaults.
func NewGate(store *session.Store, front FrontEnd, categories []string) *Gate {
	if len(categories) == 0 {
		categories = DefaultCategories
	}
	return &Gate{
		store:      store,
		front:      front,
		categories: categories,
		waiters:    make(map[types.UserID]*waiter),
	}
}

// Categories returns the configured category list.
func (g *Gate) Categories() []string { return g.categories }

// park registers a single-use wake channel for run.
func (g *Gate) park(user types.UserID, run types.RunID) <-chan types.Decision {
	g.mu.Lock()
	defer g.mu.Unlock()
	w := &waiter{run: run, ch: make(chan types.Decision, 1)}
	g.waiters[user] = w
	return w.ch
}

// unpark removes the waiter if it still belongs to run.
func (g *Gate) unpark(user types.UserID, run types.RunID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if w, ok := g.waiters[user]; ok && w.run == run {
		delete(g.waiters, user)
	}
}

func (g *Gate) waiting(user types.UserID) *waiter {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.waiters[user]
}

// Present renders the preview of an AwaitingApproval session.
func (g *Gate) Present(ctx context.Context, sess *types.Session) error {
	return g.front.PresentPreview(ctx, sess.UserID, BuildPreview(sess, g.categories))
}

// Resolve delivers d to the orchestrator waiting on user's session. It
// returns false, leaving the session untouched, when the session is not
// AwaitingApproval, nobody is waiting, or a decision was already taken.
func (g *Gate) Resolve(user types.UserID, d types.Decision) bool {
	w := g.waiting(user)
	if w == nil {
		slog.Debug("decision dropped, no waiter", "user", user, "decision", d.Kind)
		Decisions.WithLabelValues(string(d.Kind), "false").Inc()
		return false
	}

	_, err := g.store.Update(user, func(s *types.Session) error {
		if err := session.Expect(s, w.run, types.StageAwaitingApproval); err != nil {
			return err
		}
		if s.Pending != nil {
			return errDuplicate
		}
		if g.waiting(user) != w {
			return session.ErrStale
		}
		if d.Kind == types.DecisionApprove && strings.TrimSpace(d.Category) == "" {
			d.Category = Suggest(s.Analysis, g.categories)[0]
		}
		pending := d
		s.Pending = &pending
		return nil
	})
	if err != nil {
		slog.Debug("decision dropped", "user", user, "decision", d.Kind, "error", err)
		Decisions.WithLabelValues(string(d.Kind), "false").Inc()
		return false
	}

	// The channel has room for exactly one decision and Pending admits one.
	w.ch <- d
	Decisions.WithLabelValues(string(d.Kind), "true").Inc()
	return true
}

// HandleAction maps a front-end action id onto a decision. "pick" does not
// resolve anything; it returns the category choices to show instead.
func (g *Gate) HandleAction(user types.UserID, actionID string) (bool, []types.Action, error) {
	kind, arg, _ := strings.Cut(actionID, ":")
	switch kind {
	case ActionApprove, ActionCategory:
		return g.Resolve(user, types.Approve(arg)), nil, nil
	case ActionPick:
		sess := g.store.Get(user)
		if sess == nil || sess.Stage != types.StageAwaitingApproval {
			return false, nil, nil
		}
		return true, CategoryChoices(g.categories), nil
	case ActionRegen:
		return g.Resolve(user, types.Regenerate(arg)), nil, nil
	case ActionReject:
		return g.Resolve(user, types.Reject()), nil, nil
	default:
		return false, nil, fmt.Errorf("%w: %q", ErrUnknownAction, actionID)
	}
}
