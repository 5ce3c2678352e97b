// Package workload drives the closed workload model: a target number of
// concurrent sessions that follows a piecewise-linear curve over time.
package workload

import (
	"fmt"
	"math"
	"time"

	"github.com/alphagov/forms-load-tests/internal/config"
)

// Phase is one segment of the target curve. From == To is a steady phase.
type Phase struct {
	Name     string
	From     int
	To       int
	Duration time.Duration
}

// Trend is the direction of the target curve at a point in time.
type Trend int

const (
	TrendSteady Trend = iota
	TrendIncreasing
	TrendDecreasing
	TrendEnded
)

func (t Trend) String() string {
	switch t {
	case TrendSteady:
		return "steady"
	case TrendIncreasing:
		return "increasing"
	case TrendDecreasing:
		return "decreasing"
	case TrendEnded:
		return "ended"
	default:
		return fmt.Sprintf("Trend(%d)", int(t))
	}
}

func (p Phase) trend() Trend {
	switch {
	case p.To > p.From:
		return TrendIncreasing
	case p.To < p.From:
		return TrendDecreasing
	default:
		return TrendSteady
	}
}

// Plan is a validated, immutable list of phases.
type Plan struct {
	phases []Phase
	starts []time.Duration
	total  time.Duration
}

// NewPlan validates phases and precomputes their start offsets.
func NewPlan(phases []Phase) (*Plan, error) {
	if len(phases) == 0 {
		return nil, &config.ConfigurationError{Field: config.KeyPlan, Message: "workload plan has no phases"}
	}

	p := &Plan{
		phases: make([]Phase, len(phases)),
		starts: make([]time.Duration, len(phases)),
	}
	for i, ph := range phases {
		if ph.From < 0 || ph.To < 0 {
			return nil, &config.ConfigurationError{
				Field:   config.KeyPlan,
				Message: fmt.Sprintf("phase %d (%s): concurrency must be >= 0", i, ph.label(i)),
			}
		}
		if ph.Duration <= 0 {
			return nil, &config.ConfigurationError{
				Field:   config.KeyPlan,
				Message: fmt.Sprintf("phase %d (%s): duration must be > 0", i, ph.label(i)),
			}
		}
		if ph.Name == "" {
			ph.Name = ph.label(i)
		}
		p.phases[i] = ph
		p.starts[i] = p.total
		p.total += ph.Duration
	}
	return p, nil
}

func (p Phase) label(i int) string {
	if p.Name != "" {
		return p.Name
	}
	switch p.trend() {
	case TrendIncreasing:
		return "ramp-up"
	case TrendDecreasing:
		return "ramp-down"
	default:
		return "steady"
	}
}

// DefaultPhases builds the classic ramp-up, hold, ramp-down curve. Phases
// with zero duration are left out.
func DefaultPhases(ramp, steady time.Duration, peak int) []Phase {
	var phases []Phase
	if ramp > 0 {
		phases = append(phases, Phase{Name: "ramp-up", From: 0, To: peak, Duration: ramp})
	}
	if steady > 0 {
		phases = append(phases, Phase{Name: "steady", From: peak, To: peak, Duration: steady})
	}
	if ramp > 0 {
		phases = append(phases, Phase{Name: "ramp-down", From: peak, To: 0, Duration: ramp})
	}
	return phases
}

// PlanFromConfig returns the plan file phases when configured, otherwise the
// default curve from the ramp, steady and peak settings.
func PlanFromConfig(cfg *config.Config) (*Plan, error) {
	if len(cfg.Phases) == 0 {
		return NewPlan(DefaultPhases(cfg.RampDuration, cfg.SteadyDuration, cfg.PeakConcurrency))
	}
	phases := make([]Phase, len(cfg.Phases))
	for i, pc := range cfg.Phases {
		phases[i] = Phase{Name: pc.Name, From: pc.From, To: pc.To, Duration: pc.Duration}
	}
	return NewPlan(phases)
}

// Phases returns a copy of the plan's phases.
func (p *Plan) Phases() []Phase {
	out := make([]Phase, len(p.phases))
	copy(out, p.phases)
	return out
}

// TotalDuration is the end time of the last phase.
func (p *Plan) TotalDuration() time.Duration {
	return p.total
}

// PhaseAt returns the index and phase active at elapsed. ok is false once the
// plan has ended.
func (p *Plan) PhaseAt(elapsed time.Duration) (int, Phase, bool) {
	if elapsed < 0 {
		elapsed = 0
	}
	for i, ph := range p.phases {
		if elapsed < p.starts[i]+ph.Duration {
			return i, ph, true
		}
	}
	return len(p.phases), Phase{}, false
}

// TargetAt returns the unrounded target concurrency at elapsed. It
// interpolates linearly inside a phase. ok is false after the last phase.
func (p *Plan) TargetAt(elapsed time.Duration) (float64, bool) {
	i, ph, ok := p.PhaseAt(elapsed)
	if !ok {
		return 0, false
	}
	if elapsed < 0 {
		elapsed = 0
	}
	progress := float64(elapsed-p.starts[i]) / float64(ph.Duration)
	return float64(ph.From) + float64(ph.To-ph.From)*progress, true
}

// Target returns the target concurrency at elapsed rounded to the nearest
// session. It is 0 after the plan ends.
func (p *Plan) Target(elapsed time.Duration) int {
	v, ok := p.TargetAt(elapsed)
	if !ok {
		return 0
	}
	return int(v + 0.5)
}

// TrendAt reports whether the target is rising, holding or falling at elapsed.
func (p *Plan) TrendAt(elapsed time.Duration) Trend {
	_, ph, ok := p.PhaseAt(elapsed)
	if !ok {
		return TrendEnded
	}
	return ph.trend()
}

// Area is the exact integral of the target curve in session-seconds.
func (p *Plan) Area() float64 {
	var area float64
	for _, ph := range p.phases {
		area += float64(ph.From+ph.To) / 2 * ph.Duration.Seconds()
	}
	return area
}

// Integral samples the rounded target every step, the way the scheduler
// reconciles, and returns the session-seconds it would maintain.
func (p *Plan) Integral(step time.Duration) float64 {
	if step <= 0 {
		return math.NaN()
	}
	var sum float64
	for t := time.Duration(0); t < p.total; t += step {
		// Midpoint sampling keeps the sum centred on each interval.
		sum += float64(p.Target(t+step/2)) * step.Seconds()
	}
	return sum
}

// Peak returns the highest concurrency any phase reaches.
func (p *Plan) Peak() int {
	peak := 0
	for _, ph := range p.phases {
		if ph.From > peak {
			peak = ph.From
		}
		if ph.To > peak {
			peak = ph.To
		}
	}
	return peak
}
