package metrics

import "time"

// Phase is the workload phase the run is in.
type Phase string

const (
	PhaseInit     Phase = "init"
	PhaseRampUp   Phase = "ramp-up"
	PhaseSteady   Phase = "steady"
	PhaseRampDown Phase = "ramp-down"
	PhaseDrain    Phase = "drain"
	PhaseDone     Phase = "done"
)

// Outcome is how a session ended.
type Outcome string

const (
	OutcomeCompleted  Outcome = "completed"
	OutcomeFailed     Outcome = "failed"
	OutcomeRetired    Outcome = "retired"
	OutcomeIncomplete Outcome = "incomplete"
)

// LatencyStats summarises one histogram.
type LatencyStats struct {
	Min    time.Duration `json:"min" yaml:"min"`
	Max    time.Duration `json:"max" yaml:"max"`
	Mean   time.Duration `json:"mean" yaml:"mean"`
	StdDev time.Duration `json:"stddev" yaml:"stddev"`
	P50    time.Duration `json:"p50" yaml:"p50"`
	P90    time.Duration `json:"p90" yaml:"p90"`
	P95    time.Duration `json:"p95" yaml:"p95"`
	P99    time.Duration `json:"p99" yaml:"p99"`
	Count  int64         `json:"count" yaml:"count"`
}

// PhaseChange records a phase transition.
type PhaseChange struct {
	Phase     Phase     `json:"phase" yaml:"phase"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	Requests  int64     `json:"requests" yaml:"requests"`
}

// SessionCounts tallies session outcomes.
type SessionCounts struct {
	Started    int64            `json:"started" yaml:"started"`
	Completed  int64            `json:"completed" yaml:"completed"`
	Failed     int64            `json:"failed" yaml:"failed"`
	Retired    int64            `json:"retired" yaml:"retired"`
	Incomplete int64            `json:"incomplete" yaml:"incomplete"`
	FailedBy   map[string]int64 `json:"failed_by_kind,omitempty" yaml:"failed_by_kind,omitempty"`
}

// Snapshot is a point-in-time copy of everything the engine holds.
type Snapshot struct {
	TotalRequests   int64                   `json:"total_requests" yaml:"total_requests"`
	SuccessRequests int64                   `json:"success_requests" yaml:"success_requests"`
	FailedRequests  int64                   `json:"failed_requests" yaml:"failed_requests"`
	TotalBytes      int64                   `json:"total_bytes" yaml:"total_bytes"`
	RPS             float64                 `json:"rps" yaml:"rps"`
	ErrorRate       float64                 `json:"error_rate" yaml:"error_rate"`
	Latency         LatencyStats            `json:"latency" yaml:"latency"`
	Requests        map[string]LatencyStats `json:"requests" yaml:"requests"`
	SessionDuration LatencyStats            `json:"session_duration" yaml:"session_duration"`
	Sessions        SessionCounts           `json:"sessions" yaml:"sessions"`
	ActiveSessions  int                     `json:"active_sessions" yaml:"active_sessions"`
	TargetSessions  int                     `json:"target_sessions" yaml:"target_sessions"`
	Phase           Phase                   `json:"phase" yaml:"phase"`
	Phases          []PhaseChange           `json:"phases" yaml:"phases"`
	Elapsed         time.Duration           `json:"elapsed" yaml:"elapsed"`
	StartTime       time.Time               `json:"start_time" yaml:"start_time"`
}
