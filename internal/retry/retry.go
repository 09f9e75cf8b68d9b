// Package retry runs fallible stage operations with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"

	"github.com/user/knowledgebot/internal/types"
)

// Class tells the executor whether another attempt can help.
type Class int

const (
	Permanent Class = iota
	Transient
)

func (c Class) String() string {
	if c == Transient {
		return "transient"
	}
	return "permanent"
}

// Classify maps an error onto the retry taxonomy. Timeouts and unavailable
// services are transient; rejected content, cancellation and anything
// unrecognised are permanent.
func Classify(err error) Class {
	switch {
	case err == nil:
		return Permanent
	case errors.Is(err, types.ErrRemoteRejected):
		return Permanent
	case errors.Is(err, types.ErrTimeout),
		errors.Is(err, types.ErrRemoteUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		return Transient
	default:
		return Permanent
	}
}

// Policy controls how failed stage calls are retried.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	// Jitter is the largest fraction of the delay added at random.
	Jitter float64

	// Sleep waits between attempts; nil uses a timer honouring ctx.
	Sleep func(ctx context.Context, d time.Duration) error
	// Random returns a value in [0,1); nil uses math/rand.
	Random func() float64
	// OnRetry is called before each backoff sleep.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultPolicy returns 3 attempts, 1s initial delay, 2x multiplier,
// 60s max delay and up to 10% jitter.
func DefaultPolicy() *Policy {
	return &Policy{
		MaxAttempts:  3,
		InitialDelay: 1 * time.Second,
		Multiplier:   2.0,
		MaxDelay:     60 * time.Second,
		Jitter:       0.1,
	}
}

func (p *Policy) maxAttempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// ShouldRetry returns true if err is transient and attempt (1-indexed) has
// not used up the budget.
func (p *Policy) ShouldRetry(err error, attempt int) bool {
	if attempt >= p.maxAttempts() {
		return false
	}
	return Classify(err) == Transient
}

// NextDelay returns the backoff after the given attempt (1-indexed):
// InitialDelay * Multiplier^(attempt-1) plus jitter, capped at MaxDelay.
func (p *Policy) NextDelay(attempt int) time.Duration {
	mult := p.Multiplier
	if mult <= 0 {
		mult = 2.0
	}
	delay := float64(p.InitialDelay) * math.Pow(mult, float64(attempt-1))
	if p.Jitter > 0 {
		r := rand.Float64
		if p.Random != nil {
			r = p.Random
		}
		delay += delay * p.Jitter * r()
	}
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

func (p *Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Execute runs op until it succeeds, fails permanently, the attempt budget
// is spent or ctx is done. The returned result always carries the number of
// attempts made.
func Execute[T any](ctx context.Context, p *Policy, stage types.Stage, op func(context.Context) (T, error)) types.StageResult {
	res := types.StageResult{Stage: stage}
	for attempt := 1; ; attempt++ {
		res.Attempts = attempt
		payload, err := op(ctx)
		if err == nil {
			res.Success = true
			res.Payload = payload
			return res
		}
		res.Err = err
		if ctx.Err() != nil {
			res.Err = errors.Join(err, context.Cause(ctx))
			return res
		}
		if !p.ShouldRetry(err, attempt) {
			return res
		}
		delay := p.NextDelay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, delay)
		}
		if err := p.sleep(ctx, delay); err != nil {
			res.Err = errors.Join(res.Err, context.Cause(ctx))
			return res
		}
	}
}
