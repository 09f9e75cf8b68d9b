// Package adapter implements the remote collaborators of the pipeline:
// the extraction service and the analysis, enrichment and image models.
// Every adapter owns one client, reports typed errors and is shut down
// exactly once.
package adapter

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/user/knowledgebot/internal/types"
	"github.com/user/knowledgebot/pkg/llm"
)

// lifecycle tracks whether an adapter has been shut down.
type lifecycle struct {
	name    string
	closed  atomic.Bool
	once    sync.Once
	release func()
}

func (l *lifecycle) Name() string { return l.name }

// Shutdown releases the adapter's client. Calls after the first are no-ops.
func (l *lifecycle) Shutdown() error {
	l.once.Do(func() {
		l.closed.Store(true)
		if l.release != nil {
			l.release()
		}
	})
	return nil
}

func (l *lifecycle) check(op string) error {
	if l.closed.Load() {
		return types.Unavailable(l.name, op, types.ErrAdapterClosed)
	}
	return nil
}

// classify converts transport and status errors into *types.ServiceError.
// Errors that are already typed pass through unchanged.
func classify(service, op string, err error) error {
	if err == nil {
		return nil
	}
	var se *types.ServiceError
	if errors.As(err, &se) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return types.TimedOut(service, op, err)
	}
	var status *llm.StatusError
	if errors.As(err, &status) {
		return classifyStatus(service, op, status.StatusCode, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return types.TimedOut(service, op, err)
		}
		return types.Unavailable(service, op, err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return types.Unavailable(service, op, err)
	}
	return err
}

func classifyStatus(service, op string, code int, err error) error {
	switch {
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return types.TimedOut(service, op, err)
	case code == http.StatusTooManyRequests:
		e := types.Unavailable(service, op, err)
		e.Reason = types.ReasonRateLimited
		return e
	case code >= 500:
		return types.Unavailable(service, op, err)
	case code == http.StatusNotFound:
		return types.Rejected(service, op, types.ReasonNotFound, err)
	case code == http.StatusForbidden:
		return types.Rejected(service, op, types.ReasonPrivate, err)
	default:
		return types.Rejected(service, op, types.ReasonMalformed, err)
	}
}

// dropConnections is called after an error that means the remote end is
// gone, so the next attempt dials afresh.
func dropConnections(err error, drop func()) {
	if errors.Is(err, types.ErrRemoteUnavailable) || errors.Is(err, types.ErrTimeout) {
		drop()
	}
}
