package workload

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/alphagov/forms-load-tests/internal/metrics"
)

// Session is one simulated user journey. Run must return promptly once ctx is
// cancelled.
type Session interface {
	Run(ctx context.Context) error
}

// SessionFactory creates a fresh session for every spawn.
type SessionFactory interface {
	NewSession() Session
}

// SessionFactoryFunc adapts a function to SessionFactory.
type SessionFactoryFunc func() Session

// NewSession calls f.
func (f SessionFactoryFunc) NewSession() Session {
	return f()
}

// Options tunes the scheduler.
type Options struct {
	// ReconcileInterval is how often active sessions are matched to the target.
	ReconcileInterval time.Duration

	// HardDeadline bounds how long in-flight sessions may run past the end of
	// the plan. 0 waits for them indefinitely.
	HardDeadline time.Duration

	// Classify names the failure kind of a session error for metrics.
	Classify func(error) string

	Logger  *zap.Logger
	Metrics *metrics.Engine
}

// Result is the aggregate tally of a run.
type Result struct {
	Started    int64
	Completed  int64
	Failed     int64
	Retired    int64
	Incomplete int64
	FailedBy   map[string]int64
	Duration   time.Duration
}

// Passed reports whether every session that ran to an outcome completed.
func (r Result) Passed() bool {
	return r.Failed == 0
}

type handle struct {
	id        int64
	cancel    context.CancelFunc
	retired   atomic.Bool
	abandoned atomic.Bool
}

// Scheduler keeps the number of running sessions equal to the plan's target.
//
// A single controller goroutine owns spawning and retirement. Each session
// runs on its own goroutine with its own cancellable context.
type Scheduler struct {
	plan    *Plan
	factory SessionFactory
	opts    Options
	log     *zap.Logger
	metrics *metrics.Engine

	start time.Time

	// active holds running sessions in spawn order; retired ones are removed
	// immediately even though their goroutine may still be unwinding.
	active   []*handle
	activeMu sync.Mutex
	nextID   int64

	target atomic.Int32
	wake   chan struct{}
	wg     sync.WaitGroup

	started    atomic.Int64
	completed  atomic.Int64
	failed     atomic.Int64
	retired    atomic.Int64
	incomplete atomic.Int64

	failedBy   map[string]int64
	failedByMu sync.Mutex

	phaseIndex int
}

// NewScheduler creates a scheduler for plan. Zero-valued options fall back to
// a 100ms reconcile interval, a no-op logger and a private metrics engine.
func NewScheduler(plan *Plan, factory SessionFactory, opts Options) *Scheduler {
	if opts.ReconcileInterval <= 0 {
		opts.ReconcileInterval = 100 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewEngine()
	}
	if opts.Classify == nil {
		opts.Classify = func(error) string { return "error" }
	}
	return &Scheduler{
		plan:       plan,
		factory:    factory,
		opts:       opts,
		log:        opts.Logger,
		metrics:    opts.Metrics,
		wake:       make(chan struct{}, 1),
		failedBy:   make(map[string]int64),
		phaseIndex: -1,
	}
}

// Run executes the plan and blocks until every session has finished or been
// abandoned. Cancelling ctx abandons in-flight sessions.
func (s *Scheduler) Run(ctx context.Context) Result {
	s.start = time.Now()

	// sessionCtx outlives the plan so in-flight sessions can finish after the
	// last phase. Cancelling it abandons them.
	sessionCtx, abandon := context.WithCancel(context.WithoutCancel(ctx))
	defer abandon()

	s.log.Info("workload started",
		zap.Int("phases", len(s.plan.phases)),
		zap.Duration("duration", s.plan.TotalDuration()),
		zap.Int("peak", s.plan.Peak()),
	)

	s.control(ctx, sessionCtx)
	s.drain(ctx, abandon)

	s.metrics.SetActive(0)
	s.metrics.SetTarget(0)
	s.metrics.SetPhase(metrics.PhaseDone)

	res := s.Result()
	s.log.Info("workload finished",
		zap.Int64("started", res.Started),
		zap.Int64("completed", res.Completed),
		zap.Int64("failed", res.Failed),
		zap.Int64("retired", res.Retired),
		zap.Int64("incomplete", res.Incomplete),
		zap.Duration("duration", res.Duration),
	)
	return res
}

// control is the reconcile loop. It returns at the end of the plan or when ctx
// is cancelled.
func (s *Scheduler) control(ctx, sessionCtx context.Context) {
	ticker := time.NewTicker(s.opts.ReconcileInterval)
	defer ticker.Stop()

	planEnd := time.NewTimer(s.plan.TotalDuration())
	defer planEnd.Stop()

	s.reconcile(sessionCtx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-planEnd.C:
			return
		case <-ticker.C:
		case <-s.wake:
		}
		s.reconcile(sessionCtx)
	}
}

func (s *Scheduler) reconcile(sessionCtx context.Context) {
	elapsed := time.Since(s.start)
	target := s.plan.Target(elapsed)
	trend := s.plan.TrendAt(elapsed)
	s.target.Store(int32(target))
	s.metrics.SetTarget(target)
	s.updatePhase(elapsed)

	if trend == TrendEnded {
		return
	}

	s.activeMu.Lock()
	current := len(s.active)
	switch {
	case target > current && trend != TrendDecreasing:
		for i := current; i < target; i++ {
			s.spawn(sessionCtx)
		}
	case target < current:
		// Newest sessions go first.
		for i := current - 1; i >= target; i-- {
			h := s.active[i]
			h.retired.Store(true)
			h.cancel()
		}
		s.active = s.active[:target]
	}
	n := len(s.active)
	s.activeMu.Unlock()

	s.metrics.SetActive(n)
}

// spawn starts one session. Callers hold activeMu.
func (s *Scheduler) spawn(sessionCtx context.Context) {
	ctx, cancel := context.WithCancel(sessionCtx)
	s.nextID++
	h := &handle{id: s.nextID, cancel: cancel}
	s.active = append(s.active, h)

	sess := s.factory.NewSession()
	s.started.Add(1)
	s.metrics.SessionStarted()

	s.wg.Add(1)
	go s.run(ctx, h, sess)
}

func (s *Scheduler) run(ctx context.Context, h *handle, sess Session) {
	defer s.wg.Done()
	defer h.cancel()

	begin := time.Now()
	err := sess.Run(ctx)
	took := time.Since(begin)

	s.remove(h)

	switch {
	case err == nil:
		s.completed.Add(1)
		s.metrics.SessionFinished(metrics.OutcomeCompleted, "", took)
	case h.abandoned.Load():
		s.incomplete.Add(1)
		s.metrics.SessionFinished(metrics.OutcomeIncomplete, "", took)
	case h.retired.Load() && errors.Is(err, context.Canceled):
		s.retired.Add(1)
		s.metrics.SessionFinished(metrics.OutcomeRetired, "", took)
	default:
		kind := s.opts.Classify(err)
		s.failed.Add(1)
		s.failedByMu.Lock()
		s.failedBy[kind]++
		s.failedByMu.Unlock()
		s.metrics.SessionFinished(metrics.OutcomeFailed, kind, took)
		s.log.Debug("session failed", zap.Int64("slot", h.id), zap.String("kind", kind), zap.Error(err))
	}

	// Let the controller replace this session without waiting for the tick.
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) remove(h *handle) {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	for i, a := range s.active {
		if a == h {
			s.active = append(s.active[:i], s.active[i+1:]...)
			break
		}
	}
	s.metrics.SetActive(len(s.active))
}

// drain waits for in-flight sessions after the plan ends. Sessions still
// running at the hard deadline, or when ctx is cancelled, are abandoned.
func (s *Scheduler) drain(ctx context.Context, abandon context.CancelFunc) {
	s.metrics.SetPhase(metrics.PhaseDrain)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var deadline <-chan time.Time
	if s.opts.HardDeadline > 0 {
		timer := time.NewTimer(s.opts.HardDeadline)
		defer timer.Stop()
		deadline = timer.C
	}

	s.activeMu.Lock()
	inFlight := len(s.active)
	s.activeMu.Unlock()
	if inFlight > 0 {
		s.log.Info("plan ended, waiting for in-flight sessions",
			zap.Int("in_flight", inFlight),
			zap.Duration("hard_deadline", s.opts.HardDeadline),
		)
	}

	select {
	case <-done:
		return
	case <-deadline:
		s.log.Warn("hard deadline reached, abandoning in-flight sessions")
	case <-ctx.Done():
		s.log.Warn("run cancelled, abandoning in-flight sessions", zap.Error(ctx.Err()))
	}

	s.activeMu.Lock()
	for _, h := range s.active {
		h.abandoned.Store(true)
	}
	s.activeMu.Unlock()
	abandon()
	<-done
}

func (s *Scheduler) updatePhase(elapsed time.Duration) {
	idx, ph, ok := s.plan.PhaseAt(elapsed)
	if !ok || idx == s.phaseIndex {
		return
	}
	s.phaseIndex = idx

	switch ph.trend() {
	case TrendIncreasing:
		s.metrics.SetPhase(metrics.PhaseRampUp)
	case TrendDecreasing:
		s.metrics.SetPhase(metrics.PhaseRampDown)
	default:
		s.metrics.SetPhase(metrics.PhaseSteady)
	}
	s.log.Info("phase started",
		zap.String("phase", ph.Name),
		zap.Int("from", ph.From),
		zap.Int("to", ph.To),
		zap.Duration("duration", ph.Duration),
	)
}

// ActiveSessions returns the number of sessions currently counted against the
// target.
func (s *Scheduler) ActiveSessions() int {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	return len(s.active)
}

// Target returns the most recently computed target.
func (s *Scheduler) Target() int {
	return int(s.target.Load())
}

// Result returns the tally so far.
func (s *Scheduler) Result() Result {
	s.failedByMu.Lock()
	failedBy := make(map[string]int64, len(s.failedBy))
	for k, v := range s.failedBy {
		failedBy[k] = v
	}
	s.failedByMu.Unlock()

	var took time.Duration
	if !s.start.IsZero() {
		took = time.Since(s.start)
	}
	return Result{
		Started:    s.started.Load(),
		Completed:  s.completed.Load(),
		Failed:     s.failed.Load(),
		Retired:    s.retired.Load(),
		Incomplete: s.incomplete.Load(),
		FailedBy:   failedBy,
		Duration:   took,
	}
}
