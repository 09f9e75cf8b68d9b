// Package pipeline drives one user's video through download, analysis,
// approval, enrichment, optional illustration and storage.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/user/knowledgebot/internal/excerpt"
	"github.com/user/knowledgebot/internal/ratelimit"
	"github.com/user/knowledgebot/internal/retry"
	"github.com/user/knowledgebot/internal/session"
	"github.com/user/knowledgebot/internal/source"
	"github.com/user/knowledgebot/internal/types"
)

var (
	ErrNotStarted = errors.New("orchestrator not started")
	ErrStopped    = errors.New("orchestrator stopped")

	errRegenLimit = errors.New("regeneration limit reached")
	errShutdown   = errors.New("shutting down")
)

// RateLimitedError is returned by Submit when the user has used up their
// hourly budget.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry in %s", e.RetryAfter.Round(time.Second))
}

// Timeouts bound a single adapter attempt per stage.
type Timeouts struct {
	Download   time.Duration
	Analysis   time.Duration
	Enrichment time.Duration
	Images     time.Duration
	Storage    time.Duration
}

// Config tunes the orchestrator.
type Config struct {
	MaxAttempts      int
	BaseDelay        time.Duration
	MaxDelay         time.Duration
	Jitter           float64
	MaxRegenerations int
	// MaxConcurrent caps adapter calls in flight across all sessions.
	MaxConcurrent int64
	MaxImages     int
	Timeouts      Timeouts
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:      3,
		BaseDelay:        time.Second,
		MaxDelay:         60 * time.Second,
		Jitter:           0.1,
		MaxRegenerations: 3,
		MaxConcurrent:    4,
		MaxImages:        3,
		Timeouts: Timeouts{
			Download:   300 * time.Second,
			Analysis:   180 * time.Second,
			Enrichment: 120 * time.Second,
			Images:     180 * time.Second,
			Storage:    30 * time.Second,
		},
	}
}

// Services are the remote collaborators. Illustrator may be nil.
type Services struct {
	Extractor   types.Extractor
	Analyzer    types.Analyzer
	Enricher    types.Enricher
	Illustrator types.Illustrator
	Store       types.KnowledgeStore
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithRecorder(r Recorder) Option { return func(o *Orchestrator) { o.recorder = r } }

func WithLimiter(l ratelimit.Limiter) Option { return func(o *Orchestrator) { o.limiter = l } }

func WithMatcher(m *source.Matcher) Option { return func(o *Orchestrator) { o.matcher = m } }

func WithImagePolicy(p ImagePolicy) Option { return func(o *Orchestrator) { o.policy = p } }

// WithExcerpt sets the token budget used to cut the image prompt context.
func WithExcerpt(b *excerpt.Budget) Option { return func(o *Orchestrator) { o.budget = b } }

// WithSleep replaces the backoff sleep, for tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) { o.sleep = fn }
}

// Orchestrator owns one goroutine per active session.
type Orchestrator struct {
	cfg      Config
	svc      Services
	store    *session.Store
	gate     *Gate
	front    FrontEnd
	recorder Recorder
	limiter  ratelimit.Limiter
	matcher  *source.Matcher
	policy   ImagePolicy
	budget   *excerpt.Budget
	sleep    func(ctx context.Context, d time.Duration) error
	sem      *semaphore.Weighted
	now      func() time.Time

	mu      sync.Mutex
	runs    map[types.UserID]*activeRun
	stopped bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type activeRun struct {
	id     types.RunID
	cancel context.CancelCauseFunc
}

// New creates an orchestrator. Call Start before Submit.
func New(store *session.Store, gate *Gate, front FrontEnd, svc Services, cfg Config, opts ...Option) *Orchestrator {
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	o := &Orchestrator{
		cfg:     cfg,
		svc:     svc,
		store:   store,
		gate:    gate,
		front:   front,
		limiter: ratelimit.Unlimited{},
		policy:  DiagramPolicy(svc.Illustrator != nil),
		budget:  excerpt.Approximate(1500),
		sem:     semaphore.NewWeighted(cfg.MaxConcurrent),
		now:     time.Now,
		runs:    make(map[types.UserID]*activeRun),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.matcher == nil {
		o.matcher, _ = source.NewMatcher(nil)
	}
	return o
}

// Start binds the orchestrator to ctx. Cancelling ctx cancels every run.
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ctx, o.cancel = context.WithCancel(ctx)
}

// Stop fails every active session with "shutting down" and waits for the
// goroutines to exit.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	o.stopped = true
	active := make(map[types.UserID]types.RunID, len(o.runs))
	for user, r := range o.runs {
		active[user] = r.id
	}
	o.mu.Unlock()

	for user, run := range active {
		o.finish(user, run, types.StageFailed, func(s *types.Session) {
			s.FailedStage = s.Stage
			s.FailureReason = errShutdown.Error()
		}, types.Notice{Kind: types.NoticeFailed, Text: "⚠️ The bot is shutting down. Please send the link again later."})
	}
	if o.cancel != nil {
		o.cancel()
	}
	o.wg.Wait()
}

// Active returns the number of running sessions.
func (o *Orchestrator) Active() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.runs)
}

// Gate returns the approval gate the orchestrator parks on.
func (o *Orchestrator) Gate() *Gate { return o.gate }

// Platforms lists the supported video hosts.
func (o *Orchestrator) Platforms() []string { return o.matcher.Names() }

// Submit validates rawURL, creates the user's session and starts its run.
func (o *Orchestrator) Submit(ctx context.Context, user types.UserID, rawURL string) (*types.Session, error) {
	platform, clean, err := o.matcher.Match(rawURL)
	if err != nil {
		Submissions.WithLabelValues("unsupported").Inc()
		return nil, err
	}
	// Checked before the limiter so a refused duplicate costs no budget.
	if cur := o.store.Get(user); cur != nil && !cur.Stage.IsTerminal() {
		Submissions.WithLabelValues("already_active").Inc()
		return nil, &session.AlreadyActiveError{UserID: user, Stage: cur.Stage}
	}
	allowed, wait, err := o.limiter.Allow(ctx, user)
	switch {
	case err != nil:
		slog.Warn("rate limiter failed, allowing submission", "user", user, "error", err)
	case !allowed:
		Submissions.WithLabelValues("rate_limited").Inc()
		return nil, &RateLimitedError{RetryAfter: wait}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ctx == nil {
		return nil, ErrNotStarted
	}
	if o.stopped {
		return nil, ErrStopped
	}

	sess, err := o.store.Create(user, clean)
	if err != nil {
		Submissions.WithLabelValues("already_active").Inc()
		return nil, err
	}
	Submissions.WithLabelValues("accepted").Inc()
	o.record(user, sess.RunID, "", types.StageQueued, 0, platform)

	runCtx, cancel := context.WithCancelCause(o.ctx)
	o.runs[user] = &activeRun{id: sess.RunID, cancel: cancel}
	o.wg.Add(1)
	SessionsActive.Inc()
	go o.run(runCtx, user, sess.RunID)

	slog.Info("session created", "user", user, "run", sess.RunID, "platform", platform, "url", clean)
	return sess, nil
}

// Cancel ends the user's session at the user's request.
func (o *Orchestrator) Cancel(user types.UserID) bool {
	return o.finish(user, "", types.StageCancelled, nil,
		types.Notice{Kind: types.NoticeCancelled, Text: "🚫 Cancelled. Nothing was saved."})
}

// Expire evicts the user's session after inactivity.
func (o *Orchestrator) Expire(user types.UserID, run types.RunID, ttl time.Duration) bool {
	idle := func(s *types.Session) error { return o.store.CheckIdle(s, ttl) }
	if o.finishIf(user, run, types.StageExpired, idle, nil,
		types.Notice{Kind: types.NoticeExpired, Text: "⌛ Your session expired. Send the link again to start over."}) {
		return true
	}
	// A terminal record that was never removed.
	if cur := o.store.Get(user); cur != nil && cur.RunID == run && cur.Stage.IsTerminal() {
		return o.store.RemoveRun(user, run)
	}
	return false
}

func (o *Orchestrator) run(ctx context.Context, user types.UserID, run types.RunID) {
	defer o.wg.Done()
	defer func() {
		o.mu.Lock()
		if r, ok := o.runs[user]; ok && r.id == run {
			r.cancel(nil)
			delete(o.runs, user)
		}
		o.mu.Unlock()
		SessionsActive.Dec()
	}()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("orchestrator panic", "user", user, "run", run, "panic", r)
			stage := types.StageQueued
			if cur := o.store.Get(user); cur != nil {
				stage = cur.Stage
			}
			o.fail(user, run, stage, fmt.Errorf("internal error: %v", r))
		}
	}()

	o.process(ctx, user, run)
}

func (o *Orchestrator) process(ctx context.Context, user types.UserID, run types.RunID) {
	snap, ok := o.advance(ctx, user, run, types.StageQueued, types.StageDownloading, nil)
	if !ok {
		return
	}
	if _, ok := execute(o, ctx, user, run, snap, stageSpec[*types.Media]{
		stage:   types.StageDownloading,
		timeout: o.cfg.Timeouts.Download,
		call: func(ctx context.Context, s *types.Session) (*types.Media, error) {
			return o.svc.Extractor.Call(ctx, types.ExtractRequest{SourceURL: s.SourceURL})
		},
		apply:   func(s *types.Session, m *types.Media) { s.Media = m },
		discard: o.releaseMedia,
	}); !ok {
		return
	}

	snap, ok = o.advance(ctx, user, run, types.StageDownloading, types.StageAnalyzing, nil)
	if !ok {
		return
	}
	var decision types.Decision
	for {
		if _, ok := execute(o, ctx, user, run, snap, stageSpec[*types.Analysis]{
			stage:   types.StageAnalyzing,
			timeout: o.cfg.Timeouts.Analysis,
			call: func(ctx context.Context, s *types.Session) (*types.Analysis, error) {
				return o.svc.Analyzer.Call(ctx, types.AnalyzeRequest{Media: s.Media, FocusHint: s.FocusHint})
			},
			apply: func(s *types.Session, a *types.Analysis) { s.Analysis = a },
		}); !ok {
			return
		}

		decision, ok = o.awaitDecision(ctx, user, run)
		if !ok {
			return
		}
		if decision.Kind != types.DecisionRegenerate {
			break
		}
		snap, ok = o.regenerate(ctx, user, run, decision)
		if !ok {
			return
		}
	}

	if decision.Kind == types.DecisionReject {
		o.finish(user, run, types.StageCancelled, nil,
			types.Notice{Kind: types.NoticeCancelled, Text: "🚫 Rejected. Nothing was saved."})
		return
	}

	snap, ok = o.advance(ctx, user, run, types.StageAwaitingApproval, types.StageEnriching, func(s *types.Session) error {
		s.SelectedCategory = decision.Category
		s.Pending = nil
		return nil
	})
	if !ok {
		return
	}
	enrichment, ok := execute(o, ctx, user, run, snap, stageSpec[*types.Enrichment]{
		stage:   types.StageEnriching,
		timeout: o.cfg.Timeouts.Enrichment,
		call: func(ctx context.Context, s *types.Session) (*types.Enrichment, error) {
			return o.svc.Enricher.Call(ctx, types.EnrichRequest{Analysis: s.Analysis, Category: s.SelectedCategory})
		},
		apply: func(s *types.Session, e *types.Enrichment) { s.Enrichment = e },
	})
	if !ok {
		return
	}

	from := types.StageEnriching
	if o.svc.Illustrator != nil && o.policy(enrichment) {
		snap, ok = o.advance(ctx, user, run, from, types.StageGeneratingImages, nil)
		if !ok {
			return
		}
		if _, ok := execute(o, ctx, user, run, snap, stageSpec[[]types.Image]{
			stage:    types.StageGeneratingImages,
			timeout:  o.cfg.Timeouts.Images,
			optional: true,
			call: func(ctx context.Context, s *types.Session) ([]types.Image, error) {
				return o.svc.Illustrator.Call(ctx, o.imageRequest(s))
			},
			apply: func(s *types.Session, imgs []types.Image) { s.Images = imgs },
		}); !ok {
			return
		}
		from = types.StageGeneratingImages
	}

	snap, ok = o.advance(ctx, user, run, from, types.StageStoring, nil)
	if !ok {
		return
	}
	entry := entryFor(snap, o.now())
	location, ok := execute(o, ctx, user, run, snap, stageSpec[string]{
		stage:   types.StageStoring,
		timeout: o.cfg.Timeouts.Storage,
		call: func(ctx context.Context, _ *types.Session) (string, error) {
			return o.svc.Store.Persist(ctx, entry)
		},
		apply: func(s *types.Session, loc string) { s.Location = loc },
	})
	if !ok {
		return
	}

	o.finish(user, run, types.StageCompleted, nil, types.Notice{
		Kind:     types.NoticeCompleted,
		Text:     fmt.Sprintf("✅ Saved \"%s\" to %s.", entry.Title, Label(entry.Category)),
		Location: location,
	})
}

// awaitDecision parks on the gate until a decision arrives or ctx ends.
func (o *Orchestrator) awaitDecision(ctx context.Context, user types.UserID, run types.RunID) (types.Decision, bool) {
	ch := o.gate.park(user, run)
	defer o.gate.unpark(user, run)

	snap, ok := o.advance(ctx, user, run, types.StageAnalyzing, types.StageAwaitingApproval, nil)
	if !ok {
		return types.Decision{}, false
	}
	if err := o.gate.Present(ctx, snap); err != nil {
		if ctx.Err() == nil {
			o.fail(user, run, types.StageAwaitingApproval, fmt.Errorf("present preview: %w", err))
		}
		return types.Decision{}, false
	}

	select {
	case d := <-ch:
		slog.Info("decision received", "user", user, "decision", d.Kind, "category", d.Category)
		return d, true
	case <-ctx.Done():
		return types.Decision{}, false
	}
}

// regenerate moves back to Analyzing, or cancels once the limit is hit.
func (o *Orchestrator) regenerate(ctx context.Context, user types.UserID, run types.RunID, d types.Decision) (*types.Session, bool) {
	snap, err := o.transition(ctx, user, run, types.StageAwaitingApproval, types.StageAnalyzing, func(s *types.Session) error {
		if s.Regenerations >= o.cfg.MaxRegenerations {
			return errRegenLimit
		}
		s.Regenerations++
		s.FocusHint = d.FocusHint
		s.Pending = nil
		return nil
	})
	if errors.Is(err, errRegenLimit) {
		o.finish(user, run, types.StageCancelled, func(s *types.Session) {
			s.FailureReason = errRegenLimit.Error()
		}, types.Notice{
			Kind: types.NoticeCancelled,
			Text: fmt.Sprintf("🚫 Regeneration limit (%d) reached. Nothing was saved.", o.cfg.MaxRegenerations),
		})
		return nil, false
	}
	return snap, err == nil
}

// advance is transition for callers that only need to know whether to
// continue.
func (o *Orchestrator) advance(ctx context.Context, user types.UserID, run types.RunID, from, to types.Stage, mutate func(*types.Session) error) (*types.Session, bool) {
	snap, err := o.transition(ctx, user, run, from, to, mutate)
	return snap, err == nil
}

// transition moves the session from one stage to the next, provided it is
// still this run's and still at from.
func (o *Orchestrator) transition(ctx context.Context, user types.UserID, run types.RunID, from, to types.Stage, mutate func(*types.Session) error) (*types.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var attempts int
	snap, err := o.store.Update(user, func(s *types.Session) error {
		if err := session.Expect(s, run, from); err != nil {
			return err
		}
		if mutate != nil {
			if err := mutate(s); err != nil {
				return err
			}
		}
		attempts = s.Attempts[from]
		return session.Advance(s, to)
	})
	if err != nil {
		if !errors.Is(err, errRegenLimit) {
			slog.Debug("transition skipped", "user", user, "from", from, "to", to, "error", err)
		}
		return nil, err
	}
	o.record(user, run, from, to, attempts, "")
	if text, ok := progressText[to]; ok {
		o.notify(ctx, user, types.Notice{Kind: types.NoticeProgress, Stage: to, Text: text})
	}
	slog.Info("stage started", "user", user, "stage", to)
	return snap, nil
}

// stageSpec describes one adapter-backed stage.
type stageSpec[T any] struct {
	stage   types.Stage
	timeout time.Duration
	// optional stages log their failure and let the pipeline continue.
	optional bool
	call     func(ctx context.Context, s *types.Session) (T, error)
	apply    func(s *types.Session, payload T)
	// discard releases a successful payload the session no longer wants.
	discard func(payload T)
}

// execute runs step's adapter call under the retry policy and commits the
// result, unless the session moved on in the meantime.
func execute[T any](o *Orchestrator, ctx context.Context, user types.UserID, run types.RunID, snap *types.Session, step stageSpec[T]) (T, bool) {
	var zero T
	start := o.now()
	res := retry.Execute(ctx, o.retryPolicy(user, step.stage), step.stage, func(ctx context.Context) (T, error) {
		if err := o.sem.Acquire(ctx, 1); err != nil {
			return zero, err
		}
		defer o.sem.Release(1)
		if step.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, step.timeout)
			defer cancel()
		}
		return step.call(ctx, snap)
	})

	result := "success"
	if !res.Success {
		result = "error"
	}
	StageDuration.WithLabelValues(string(step.stage), result).Observe(o.now().Sub(start).Seconds())
	StageAttempts.WithLabelValues(string(step.stage)).Add(float64(res.Attempts))

	payload, _ := res.Payload.(T)
	_, err := o.store.Update(user, func(s *types.Session) error {
		if err := session.Expect(s, run, step.stage); err != nil {
			return err
		}
		if s.Attempts == nil {
			s.Attempts = make(map[types.Stage]int)
		}
		s.Attempts[step.stage] = res.Attempts
		if res.Success {
			step.apply(s, payload)
		}
		return nil
	})
	if err != nil {
		slog.Debug("discarding late result", "user", user, "stage", step.stage, "error", err)
		if res.Success && step.discard != nil {
			step.discard(payload)
		}
		return zero, false
	}

	if !res.Success {
		if ctx.Err() != nil {
			// Whoever cancelled the run owns the terminal transition.
			return zero, false
		}
		if step.optional {
			slog.Warn("optional stage failed, continuing", "user", user, "stage", step.stage, "attempts", res.Attempts, "error", res.Err)
			o.notify(ctx, user, types.Notice{Kind: types.NoticeInfo, Stage: step.stage, Text: "⚠️ Diagrams could not be generated; saving without them."})
			return zero, true
		}
		o.fail(user, run, step.stage, res.Err)
		return zero, false
	}
	slog.Info("stage completed", "user", user, "stage", step.stage, "attempts", res.Attempts)
	return payload, true
}

func (o *Orchestrator) retryPolicy(user types.UserID, stage types.Stage) *retry.Policy {
	return &retry.Policy{
		MaxAttempts:  o.cfg.MaxAttempts,
		InitialDelay: o.cfg.BaseDelay,
		Multiplier:   2.0,
		MaxDelay:     o.cfg.MaxDelay,
		Jitter:       o.cfg.Jitter,
		Sleep:        o.sleep,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			slog.Warn("stage attempt failed, retrying", "user", user, "stage", stage, "attempt", attempt, "delay", delay, "error", err)
		},
	}
}

// fail moves the session to Failed and tells the user why.
func (o *Orchestrator) fail(user types.UserID, run types.RunID, stage types.Stage, err error) {
	reason := describe(err)
	slog.Error("stage failed", "user", user, "stage", stage, "error", err)
	o.finish(user, run, types.StageFailed, func(s *types.Session) {
		s.FailedStage = stage
		s.FailureReason = reason
	}, types.Notice{
		Kind:  types.NoticeFailed,
		Stage: stage,
		Text:  fmt.Sprintf("❌ Failed while %s: %s.", stageVerb(stage), reason),
	})
}

// finish applies a terminal stage. Only the caller whose update wins sends
// the terminal notice, so every session gets exactly one. An empty run
// matches whatever run the session belongs to.
func (o *Orchestrator) finish(user types.UserID, run types.RunID, to types.Stage, mutate func(*types.Session), notice types.Notice) bool {
	return o.finishIf(user, run, to, nil, mutate, notice)
}

// finishIf is finish with a guard evaluated under the store lock; a
// non-nil guard error leaves the session untouched.
func (o *Orchestrator) finishIf(user types.UserID, run types.RunID, to types.Stage, guard func(*types.Session) error, mutate func(*types.Session), notice types.Notice) bool {
	var from types.Stage
	final, err := o.store.Update(user, func(s *types.Session) error {
		if run != "" && s.RunID != run {
			return session.ErrStale
		}
		if s.Stage.IsTerminal() {
			return session.ErrStale
		}
		if guard != nil {
			if err := guard(s); err != nil {
				return err
			}
		}
		from = s.Stage
		if mutate != nil {
			mutate(s)
		}
		s.Pending = nil
		return session.Advance(s, to)
	})
	if err != nil {
		slog.Debug("finish skipped", "user", user, "to", to, "error", err)
		return false
	}

	o.mu.Lock()
	if r, ok := o.runs[user]; ok && r.id == final.RunID {
		r.cancel(fmt.Errorf("session %s", to))
	}
	o.mu.Unlock()

	o.record(user, final.RunID, from, to, final.Attempts[from], final.FailureReason)
	o.store.RemoveRun(user, final.RunID)
	o.releaseMedia(final.Media)
	SessionsFinished.WithLabelValues(string(to)).Inc()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	o.notify(ctx, user, notice)

	slog.Info("session finished", "user", user, "run", final.RunID, "stage", to, "from", from, "location", final.Location, "reason", final.FailureReason)
	return true
}

func (o *Orchestrator) releaseMedia(m *types.Media) {
	if m == nil {
		return
	}
	if r, ok := o.svc.Extractor.(MediaReleaser); ok {
		if err := r.Release(m); err != nil {
			slog.Warn("release media failed", "reference", m.Reference, "error", err)
		}
	}
}

func (o *Orchestrator) notify(ctx context.Context, user types.UserID, n types.Notice) {
	if n.At.IsZero() {
		n.At = o.now()
	}
	if err := o.front.Notify(ctx, user, n); err != nil {
		slog.Warn("notify failed", "user", user, "kind", n.Kind, "error", err)
	}
}

func (o *Orchestrator) record(user types.UserID, run types.RunID, from, to types.Stage, attempts int, note string) {
	if o.recorder == nil {
		return
	}
	t := types.Transition{UserID: user, RunID: run, From: from, To: to, At: o.now(), Attempts: attempts, Note: note}
	if err := o.recorder.Record(context.Background(), t); err != nil {
		slog.Warn("journal write failed", "user", user, "error", err)
	}
}

func (o *Orchestrator) imageRequest(s *types.Session) types.ImageRequest {
	req := types.ImageRequest{Max: o.cfg.MaxImages}
	if s.Analysis != nil {
		req.Title = s.Analysis.Title
	}
	if s.Enrichment != nil {
		req.Excerpt = o.budget.Truncate(s.Enrichment.Content)
		req.Hints = s.Enrichment.ImageHints
	}
	return req
}

func entryFor(s *types.Session, now time.Time) *types.Entry {
	e := &types.Entry{
		ID:        types.NewEntryID(),
		SourceURL: s.SourceURL,
		Category:  s.SelectedCategory,
		Images:    s.Images,
		CreatedAt: now,
	}
	if m := s.Media; m != nil {
		e.Title = m.Title
		e.Platform = m.Platform
		e.Author = m.Author
	}
	if a := s.Analysis; a != nil {
		if a.Title != "" {
			e.Title = a.Title
		}
		e.Topic = a.MainTopic
		e.Difficulty = a.Difficulty
		e.Confidence = a.Confidence
		e.Tags = a.Tags
	}
	if s.Enrichment != nil {
		e.Content = s.Enrichment.Content
	}
	if e.Title == "" {
		e.Title = "Untitled video"
	}
	return e
}

// describe turns a stage error into the short reason shown to the user.
func describe(err error) string {
	if text, ok := failureText[types.ReasonOf(err)]; ok && !errors.Is(err, types.ErrTimeout) {
		return text
	}
	switch {
	case errors.Is(err, types.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "the service timed out"
	case errors.Is(err, types.ErrRemoteUnavailable):
		return failureText[types.ReasonUnavailable]
	case errors.Is(err, types.ErrRemoteRejected):
		return "the request was rejected"
	default:
		return "an unexpected error occurred"
	}
}

func stageVerb(s types.Stage) string {
	switch s {
	case types.StageDownloading:
		return "downloading"
	case types.StageAnalyzing:
		return "analyzing"
	case types.StageAwaitingApproval:
		return "waiting for approval"
	case types.StageEnriching:
		return "writing the entry"
	case types.StageGeneratingImages:
		return "generating images"
	case types.StageStoring:
		return "saving"
	default:
		return string(s)
	}
}
