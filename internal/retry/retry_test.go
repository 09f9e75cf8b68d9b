package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/user/knowledgebot/internal/types"
)

func fastPolicy(max int) (*Policy, *[]time.Duration) {
	var slept []time.Duration
	p := &Policy{
		MaxAttempts:  max,
		InitialDelay: 10 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     time.Second,
		Sleep: func(ctx context.Context, d time.Duration) error {
			slept = append(slept, d)
			return ctx.Err()
		},
	}
	return p, &slept
}

func failNTimes(n int, err error) (func(context.Context) (string, error), *int) {
	calls := 0
	return func(context.Context) (string, error) {
		calls++
		if calls <= n {
			return "", err
		}
		return "ok", nil
	}, &calls
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want Class
	}{
		{types.TimedOut("analysis", "call", nil), Transient},
		{types.Unavailable("extraction", "download", nil), Transient},
		{fmt.Errorf("wrapped: %w", context.DeadlineExceeded), Transient},
		{types.Rejected("extraction", "download", types.ReasonPrivate, nil), Permanent},
		{context.Canceled, Permanent},
		{errors.New("something unexpected"), Permanent},
		{nil, Permanent},
	}
	for _, tt := range tests {
		if got := Classify(tt.err); got != tt.want {
			t.Errorf("Classify(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestExecuteSucceedsAfterTransientFailures(t *testing.T) {
	for n := 0; n < 4; n++ {
		p, _ := fastPolicy(n + 1)
		op, calls := failNTimes(n, types.TimedOut("analysis", "call", nil))

		res := Execute(context.Background(), p, types.StageAnalyzing, op)
		if !res.Success {
			t.Fatalf("n=%d: expected success, got %v", n, res.Err)
		}
		if res.Attempts != n+1 {
			t.Errorf("n=%d: expected %d attempts, got %d", n, n+1, res.Attempts)
		}
		if *calls != n+1 {
			t.Errorf("n=%d: expected %d calls, got %d", n, n+1, *calls)
		}
		if res.Payload != "ok" {
			t.Errorf("n=%d: expected payload ok, got %v", n, res.Payload)
		}
		if res.Err != nil {
			t.Errorf("n=%d: expected nil error on success, got %v", n, res.Err)
		}
	}
}

func TestExecuteExhaustsBudget(t *testing.T) {
	for _, tc := range []struct{ max, failures int }{{1, 1}, {2, 3}, {3, 3}, {3, 10}} {
		p, slept := fastPolicy(tc.max)
		op, calls := failNTimes(tc.failures, types.Unavailable("enrichment", "call", nil))

		res := Execute(context.Background(), p, types.StageEnriching, op)
		if res.Success {
			t.Fatalf("max=%d failures=%d: expected failure", tc.max, tc.failures)
		}
		if res.Attempts != tc.max {
			t.Errorf("max=%d failures=%d: expected %d attempts, got %d", tc.max, tc.failures, tc.max, res.Attempts)
		}
		if *calls != tc.max {
			t.Errorf("expected %d calls, got %d", tc.max, *calls)
		}
		if len(*slept) != tc.max-1 {
			t.Errorf("expected %d sleeps, got %d", tc.max-1, len(*slept))
		}
		if !errors.Is(res.Err, types.ErrRemoteUnavailable) {
			t.Errorf("expected last error to be kept, got %v", res.Err)
		}
	}
}

func TestExecutePermanentFailsFast(t *testing.T) {
	p, slept := fastPolicy(5)
	op, calls := failNTimes(5, types.Rejected("extraction", "download", types.ReasonPrivate, nil))

	res := Execute(context.Background(), p, types.StageDownloading, op)
	if res.Success {
		t.Fatal("expected failure")
	}
	if res.Attempts != 1 || *calls != 1 {
		t.Errorf("expected a single attempt, got attempts=%d calls=%d", res.Attempts, *calls)
	}
	if len(*slept) != 0 {
		t.Errorf("expected no backoff, got %v", *slept)
	}
}

func TestExecuteUnclassifiedIsPermanent(t *testing.T) {
	p, _ := fastPolicy(3)
	op, calls := failNTimes(3, errors.New("nil pointer somewhere"))

	res := Execute(context.Background(), p, types.StageStoring, op)
	if res.Success || *calls != 1 {
		t.Errorf("expected fail-fast on unclassified error, calls=%d", *calls)
	}
}

func TestExecuteStopsWhenContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p, _ := fastPolicy(5)
	p.Sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}
	op, calls := failNTimes(5, types.TimedOut("analysis", "call", nil))

	res := Execute(ctx, p, types.StageAnalyzing, op)
	if res.Success {
		t.Fatal("expected failure")
	}
	if *calls != 1 {
		t.Errorf("expected 1 call before cancellation, got %d", *calls)
	}
	if !errors.Is(res.Err, context.Canceled) {
		t.Errorf("expected cancellation in error, got %v", res.Err)
	}
}

func TestNextDelay(t *testing.T) {
	p := DefaultPolicy()
	p.Jitter = 0

	want := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}
	for i, w := range want {
		if got := p.NextDelay(i + 1); got != w {
			t.Errorf("attempt %d: expected %v, got %v", i+1, w, got)
		}
	}

	p.MaxDelay = 3 * time.Second
	if got := p.NextDelay(5); got != 3*time.Second {
		t.Errorf("expected delay capped at 3s, got %v", got)
	}
}

func TestNextDelayJitterBounded(t *testing.T) {
	p := DefaultPolicy()
	p.Jitter = 0.5
	p.Random = func() float64 { return 0.999 }

	got := p.NextDelay(1)
	if got < time.Second || got >= 1500*time.Millisecond {
		t.Errorf("expected jittered delay in [1s,1.5s), got %v", got)
	}

	p.Random = func() float64 { return 0 }
	if got := p.NextDelay(2); got != 2*time.Second {
		t.Errorf("expected no jitter with zero random, got %v", got)
	}
}

func TestShouldRetry(t *testing.T) {
	p := DefaultPolicy()
	transient := types.TimedOut("x", "y", nil)

	if !p.ShouldRetry(transient, 1) {
		t.Error("expected retry on first transient failure")
	}
	if p.ShouldRetry(transient, 3) {
		t.Error("should not retry once max attempts is reached")
	}
	if p.ShouldRetry(types.Rejected("x", "y", types.ReasonMalformed, nil), 1) {
		t.Error("rejected errors are not retryable")
	}
}
