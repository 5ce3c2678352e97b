// Package metrics aggregates request latencies and session outcomes.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Engine collects metrics for one run using HDR histograms.
//
// Engine is safe for concurrent use. Counters are atomic and each histogram is
// guarded by a mutex since hdrhistogram is not thread-safe.
type Engine struct {
	// Microseconds, 1µs to 1h, 3 significant figures.
	latencyHist   *hdrhistogram.Histogram
	latencyHistMu sync.Mutex

	requestHists   map[string]*hdrhistogram.Histogram
	requestHistsMu sync.Mutex

	sessionHist   *hdrhistogram.Histogram
	sessionHistMu sync.Mutex

	totalRequests   atomic.Int64
	successRequests atomic.Int64
	failedRequests  atomic.Int64
	totalBytes      atomic.Int64

	sessionsStarted    atomic.Int64
	sessionsCompleted  atomic.Int64
	sessionsFailed     atomic.Int64
	sessionsRetired    atomic.Int64
	sessionsIncomplete atomic.Int64

	failedBy   map[string]int64
	failedByMu sync.Mutex

	active atomic.Int32
	target atomic.Int32

	currentPhase Phase
	phaseMu      sync.RWMutex
	phaseHistory []PhaseChange

	startTime time.Time
	config    EngineConfig
}

// EngineConfig bounds the histograms.
type EngineConfig struct {
	HistogramMin     int64 // microseconds
	HistogramMax     int64 // microseconds
	HistogramSigFigs int
}

// DefaultEngineConfig records 1µs to 1h at 3 significant figures.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		HistogramMin:     1,
		HistogramMax:     int64(time.Hour / time.Microsecond),
		HistogramSigFigs: 3,
	}
}

// NewEngine creates an engine with the default configuration.
func NewEngine() *Engine {
	return NewEngineWithConfig(DefaultEngineConfig())
}

// NewEngineWithConfig creates an engine with custom histogram bounds.
func NewEngineWithConfig(config EngineConfig) *Engine {
	return &Engine{
		latencyHist:  config.newHistogram(),
		requestHists: make(map[string]*hdrhistogram.Histogram),
		sessionHist:  config.newHistogram(),
		failedBy:     make(map[string]int64),
		currentPhase: PhaseInit,
		startTime:    time.Now(),
		config:       config,
	}
}

func (c EngineConfig) newHistogram() *hdrhistogram.Histogram {
	return hdrhistogram.New(c.HistogramMin, c.HistogramMax, c.HistogramSigFigs)
}

func (c EngineConfig) clamp(d time.Duration) int64 {
	v := d.Microseconds()
	if v < c.HistogramMin {
		return c.HistogramMin
	}
	if v > c.HistogramMax {
		return c.HistogramMax
	}
	return v
}

// RecordRequest records one request under name, e.g. "form 71 question 2".
func (e *Engine) RecordRequest(name string, duration time.Duration, bytes int64, success bool) {
	v := e.config.clamp(duration)

	e.latencyHistMu.Lock()
	_ = e.latencyHist.RecordValue(v)
	e.latencyHistMu.Unlock()

	if name != "" {
		e.requestHistsMu.Lock()
		hist, ok := e.requestHists[name]
		if !ok {
			hist = e.config.newHistogram()
			e.requestHists[name] = hist
		}
		_ = hist.RecordValue(v)
		e.requestHistsMu.Unlock()
	}

	e.totalRequests.Add(1)
	e.totalBytes.Add(bytes)
	if success {
		e.successRequests.Add(1)
	} else {
		e.failedRequests.Add(1)
	}
}

// SessionStarted counts a spawned session.
func (e *Engine) SessionStarted() {
	e.sessionsStarted.Add(1)
}

// SessionFinished counts a session's outcome. kind names the failure class and
// is ignored for other outcomes. Only completed sessions feed the duration
// histogram.
func (e *Engine) SessionFinished(outcome Outcome, kind string, duration time.Duration) {
	switch outcome {
	case OutcomeCompleted:
		e.sessionsCompleted.Add(1)
		v := e.config.clamp(duration)
		e.sessionHistMu.Lock()
		_ = e.sessionHist.RecordValue(v)
		e.sessionHistMu.Unlock()
	case OutcomeFailed:
		e.sessionsFailed.Add(1)
		if kind != "" {
			e.failedByMu.Lock()
			e.failedBy[kind]++
			e.failedByMu.Unlock()
		}
	case OutcomeRetired:
		e.sessionsRetired.Add(1)
	case OutcomeIncomplete:
		e.sessionsIncomplete.Add(1)
	}
}

// SetActive stores the live session count.
func (e *Engine) SetActive(n int) {
	e.active.Store(int32(n))
}

// SetTarget stores the scheduler's current target.
func (e *Engine) SetTarget(n int) {
	e.target.Store(int32(n))
}

// SetPhase records a phase transition. Repeated calls with the same phase are
// ignored.
func (e *Engine) SetPhase(phase Phase) {
	e.phaseMu.Lock()
	defer e.phaseMu.Unlock()

	if e.currentPhase == phase {
		return
	}
	e.currentPhase = phase
	e.phaseHistory = append(e.phaseHistory, PhaseChange{
		Phase:     phase,
		Timestamp: time.Now(),
		Requests:  e.totalRequests.Load(),
	})
}

// Phase returns the current phase.
func (e *Engine) Phase() Phase {
	e.phaseMu.RLock()
	defer e.phaseMu.RUnlock()
	return e.currentPhase
}

// Snapshot returns a copy of the current metrics.
func (e *Engine) Snapshot() *Snapshot {
	e.latencyHistMu.Lock()
	latency := statsOf(e.latencyHist)
	e.latencyHistMu.Unlock()

	e.sessionHistMu.Lock()
	sessionDuration := statsOf(e.sessionHist)
	e.sessionHistMu.Unlock()

	e.requestHistsMu.Lock()
	requests := make(map[string]LatencyStats, len(e.requestHists))
	for name, hist := range e.requestHists {
		requests[name] = statsOf(hist)
	}
	e.requestHistsMu.Unlock()

	e.failedByMu.Lock()
	failedBy := make(map[string]int64, len(e.failedBy))
	for k, v := range e.failedBy {
		failedBy[k] = v
	}
	e.failedByMu.Unlock()

	e.phaseMu.RLock()
	phase := e.currentPhase
	phases := make([]PhaseChange, len(e.phaseHistory))
	copy(phases, e.phaseHistory)
	e.phaseMu.RUnlock()

	elapsed := time.Since(e.startTime)
	total := e.totalRequests.Load()
	failed := e.failedRequests.Load()

	rps := 0.0
	if elapsed > 0 {
		rps = float64(total) / elapsed.Seconds()
	}
	errorRate := 0.0
	if total > 0 {
		errorRate = float64(failed) / float64(total)
	}

	return &Snapshot{
		TotalRequests:   total,
		SuccessRequests: e.successRequests.Load(),
		FailedRequests:  failed,
		TotalBytes:      e.totalBytes.Load(),
		RPS:             rps,
		ErrorRate:       errorRate,
		Latency:         latency,
		Requests:        requests,
		SessionDuration: sessionDuration,
		Sessions: SessionCounts{
			Started:    e.sessionsStarted.Load(),
			Completed:  e.sessionsCompleted.Load(),
			Failed:     e.sessionsFailed.Load(),
			Retired:    e.sessionsRetired.Load(),
			Incomplete: e.sessionsIncomplete.Load(),
			FailedBy:   failedBy,
		},
		ActiveSessions: int(e.active.Load()),
		TargetSessions: int(e.target.Load()),
		Phase:          phase,
		Phases:         phases,
		Elapsed:        elapsed,
		StartTime:      e.startTime,
	}
}

func statsOf(h *hdrhistogram.Histogram) LatencyStats {
	us := func(v int64) time.Duration { return time.Duration(v) * time.Microsecond }
	return LatencyStats{
		Min:    us(h.Min()),
		Max:    us(h.Max()),
		Mean:   time.Duration(h.Mean() * float64(time.Microsecond)),
		StdDev: time.Duration(h.StdDev() * float64(time.Microsecond)),
		P50:    us(h.ValueAtQuantile(50)),
		P90:    us(h.ValueAtQuantile(90)),
		P95:    us(h.ValueAtQuantile(95)),
		P99:    us(h.ValueAtQuantile(99)),
		Count:  h.TotalCount(),
	}
}
