package workload_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/alphagov/forms-load-tests/internal/metrics"
	"github.com/alphagov/forms-load-tests/internal/workload"
)

// fakeSession runs for hold (forever when zero) and then returns err.
type fakeSession struct {
	hold time.Duration
	err  error
}

func (f *fakeSession) Run(ctx context.Context) error {
	if f.hold == 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(f.hold):
		return f.err
	}
}

func factory(hold time.Duration, err error) workload.SessionFactory {
	return workload.SessionFactoryFunc(func() workload.Session {
		return &fakeSession{hold: hold, err: err}
	})
}

func mustPlan(t *testing.T, phases ...workload.Phase) *workload.Plan {
	t.Helper()
	plan, err := workload.NewPlan(phases)
	require.NoError(t, err)
	return plan
}

func runAsync(ctx context.Context, s *workload.Scheduler) <-chan workload.Result {
	out := make(chan workload.Result, 1)
	go func() { out <- s.Run(ctx) }()
	return out
}

func sampleAt(start time.Time, at time.Duration, s *workload.Scheduler) int {
	time.Sleep(time.Until(start.Add(at)))
	return s.ActiveSessions()
}

func TestScheduler_FollowsDefaultCurve(t *testing.T) {
	if testing.Short() {
		t.Skip("runs for 12s of wall time")
	}

	plan := mustPlan(t, workload.DefaultPhases(time.Second, 10*time.Second, 4)...)
	s := workload.NewScheduler(plan, factory(0, nil), workload.Options{
		ReconcileInterval: 100 * time.Millisecond,
		HardDeadline:      time.Second,
		Logger:            zaptest.NewLogger(t),
	})

	start := time.Now()
	done := runAsync(context.Background(), s)

	assert.InDelta(t, 2, sampleAt(start, 500*time.Millisecond, s), 1)
	assert.Equal(t, 4, sampleAt(start, 6*time.Second, s))
	assert.InDelta(t, 2, sampleAt(start, 11500*time.Millisecond, s), 1)

	res := <-done
	assert.Equal(t, int64(4), res.Started)
	assert.Equal(t, int64(4), res.Retired+res.Incomplete)
	assert.Zero(t, res.Failed)
}

func TestScheduler_ScaledCurve(t *testing.T) {
	plan := mustPlan(t, workload.DefaultPhases(100*time.Millisecond, 600*time.Millisecond, 4)...)
	engine := metrics.NewEngine()
	s := workload.NewScheduler(plan, factory(0, nil), workload.Options{
		ReconcileInterval: 10 * time.Millisecond,
		HardDeadline:      200 * time.Millisecond,
		Metrics:           engine,
	})

	start := time.Now()
	done := runAsync(context.Background(), s)

	assert.Equal(t, 4, sampleAt(start, 400*time.Millisecond, s))
	assert.Equal(t, 4, s.Target())

	res := <-done
	assert.Equal(t, int64(4), res.Started)
	assert.Equal(t, int64(4), res.Retired+res.Incomplete)
	assert.Equal(t, 0, s.ActiveSessions())

	snap := engine.Snapshot()
	assert.Equal(t, metrics.PhaseDone, snap.Phase)
	assert.Equal(t, int64(4), snap.Sessions.Started)

	var phases []metrics.Phase
	for _, pc := range snap.Phases {
		phases = append(phases, pc.Phase)
	}
	assert.Equal(t, []metrics.Phase{
		metrics.PhaseRampUp, metrics.PhaseSteady, metrics.PhaseRampDown, metrics.PhaseDrain, metrics.PhaseDone,
	}, phases)
}

func TestScheduler_ReplacesFinishedSessionsWhileSteady(t *testing.T) {
	plan := mustPlan(t, workload.Phase{From: 3, To: 3, Duration: 400 * time.Millisecond})
	s := workload.NewScheduler(plan, factory(30*time.Millisecond, nil), workload.Options{
		// Long interval: replacements must come from the finish signal.
		ReconcileInterval: time.Hour,
	})

	start := time.Now()
	done := runAsync(context.Background(), s)
	mid := sampleAt(start, 200*time.Millisecond, s)

	res := <-done
	assert.InDelta(t, 3, mid, 1)
	assert.GreaterOrEqual(t, res.Started, int64(15))
	assert.Equal(t, res.Started, res.Completed)
	assert.True(t, res.Passed())
}

func TestScheduler_DoesNotReplaceDuringRampDown(t *testing.T) {
	steady := 200 * time.Millisecond
	plan := mustPlan(t,
		workload.Phase{From: 4, To: 4, Duration: steady},
		workload.Phase{From: 4, To: 0, Duration: 2 * time.Second},
	)

	var mu sync.Mutex
	var spawned []time.Duration
	var start time.Time
	f := workload.SessionFactoryFunc(func() workload.Session {
		mu.Lock()
		spawned = append(spawned, time.Since(start))
		mu.Unlock()
		return &fakeSession{hold: 40 * time.Millisecond}
	})

	s := workload.NewScheduler(plan, f, workload.Options{ReconcileInterval: 5 * time.Millisecond})
	start = time.Now()
	res := s.Run(context.Background())

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, spawned)
	for _, at := range spawned {
		assert.Less(t, at, steady+50*time.Millisecond, "session spawned during ramp-down")
	}
	assert.Equal(t, res.Started, res.Completed)
}

func TestScheduler_HardDeadlineAbandonsSessions(t *testing.T) {
	plan := mustPlan(t, workload.Phase{From: 2, To: 2, Duration: 100 * time.Millisecond})
	s := workload.NewScheduler(plan, factory(0, nil), workload.Options{
		ReconcileInterval: 10 * time.Millisecond,
		HardDeadline:      50 * time.Millisecond,
	})

	begin := time.Now()
	res := s.Run(context.Background())

	assert.Less(t, time.Since(begin), 2*time.Second)
	assert.Equal(t, int64(2), res.Started)
	assert.Equal(t, int64(2), res.Incomplete)
	assert.Zero(t, res.Failed)
	assert.Zero(t, res.Retired)
}

func TestScheduler_SoftStopLetsSessionsFinish(t *testing.T) {
	plan := mustPlan(t, workload.Phase{From: 2, To: 2, Duration: 50 * time.Millisecond})
	s := workload.NewScheduler(plan, factory(200*time.Millisecond, nil), workload.Options{
		ReconcileInterval: 10 * time.Millisecond,
	})

	res := s.Run(context.Background())
	assert.Equal(t, int64(2), res.Started)
	assert.Equal(t, int64(2), res.Completed)
	assert.GreaterOrEqual(t, res.Duration, 200*time.Millisecond)
}

func TestScheduler_FailuresDoNotStopTheRun(t *testing.T) {
	boom := errors.New("boom")
	plan := mustPlan(t, workload.Phase{From: 2, To: 2, Duration: 200 * time.Millisecond})
	engine := metrics.NewEngine()
	s := workload.NewScheduler(plan, factory(10*time.Millisecond, boom), workload.Options{
		ReconcileInterval: 10 * time.Millisecond,
		Metrics:           engine,
		Classify: func(err error) string {
			if errors.Is(err, boom) {
				return "boom"
			}
			return "other"
		},
	})

	res := s.Run(context.Background())
	assert.Greater(t, res.Failed, int64(4))
	assert.Equal(t, res.Failed, res.FailedBy["boom"])
	assert.False(t, res.Passed())
	assert.Equal(t, res.Failed, engine.Snapshot().Sessions.FailedBy["boom"])
}

func TestScheduler_CancelAbandonsInFlight(t *testing.T) {
	plan := mustPlan(t, workload.Phase{From: 3, To: 3, Duration: time.Hour})
	s := workload.NewScheduler(plan, factory(0, nil), workload.Options{ReconcileInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, s)

	require.Eventually(t, func() bool { return s.ActiveSessions() == 3 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case res := <-done:
		assert.Equal(t, int64(3), res.Incomplete)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop after cancellation")
	}
}

func TestScheduler_RetiresNewestFirst(t *testing.T) {
	plan := mustPlan(t,
		workload.Phase{From: 3, To: 3, Duration: 100 * time.Millisecond},
		workload.Phase{From: 1, To: 1, Duration: 100 * time.Millisecond},
	)

	var next atomic.Int32
	var mu sync.Mutex
	var stopped []int32
	f := workload.SessionFactoryFunc(func() workload.Session {
		return &orderedSession{id: next.Add(1), mu: &mu, stopped: &stopped}
	})

	s := workload.NewScheduler(plan, f, workload.Options{
		ReconcileInterval: 5 * time.Millisecond,
		HardDeadline:      10 * time.Millisecond,
	})
	res := s.Run(context.Background())

	assert.Equal(t, int64(3), res.Started)
	assert.Equal(t, int64(2), res.Retired)
	assert.Equal(t, int64(1), res.Incomplete)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, stopped, 3)
	assert.Equal(t, int32(1), stopped[2], "oldest session should outlive retirement")
}

// orderedSession records the order in which sessions observe cancellation.
type orderedSession struct {
	id      int32
	mu      *sync.Mutex
	stopped *[]int32
}

func (o *orderedSession) Run(ctx context.Context) error {
	<-ctx.Done()
	o.mu.Lock()
	*o.stopped = append(*o.stopped, o.id)
	o.mu.Unlock()
	return ctx.Err()
}
