// Package report renders the outcome of a run.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/alphagov/forms-load-tests/internal/metrics"
	"github.com/alphagov/forms-load-tests/internal/workload"
)

// Meta describes the run being reported.
type Meta struct {
	BaseURL string
	FormIDs []string
	Phases  []workload.Phase
}

// Summary is the machine-readable result of a run.
type Summary struct {
	BaseURL         string         `json:"base_url" yaml:"base_url"`
	FormIDs         []string       `json:"form_ids" yaml:"form_ids"`
	Passed          bool           `json:"passed" yaml:"passed"`
	StartTime       time.Time      `json:"start_time" yaml:"start_time"`
	DurationSeconds float64        `json:"duration_seconds" yaml:"duration_seconds"`
	Phases          []PhaseSummary `json:"phases" yaml:"phases"`
	Sessions        SessionSummary `json:"sessions" yaml:"sessions"`
	Requests        RequestSummary `json:"requests" yaml:"requests"`
	Latency         Latency        `json:"latency" yaml:"latency"`
	SessionDuration Latency        `json:"session_duration" yaml:"session_duration"`
	ByRequest       []NamedLatency `json:"by_request" yaml:"by_request"`
}

// PhaseSummary is one configured phase.
type PhaseSummary struct {
	Name            string  `json:"name" yaml:"name"`
	From            int     `json:"from" yaml:"from"`
	To              int     `json:"to" yaml:"to"`
	DurationSeconds float64 `json:"duration_seconds" yaml:"duration_seconds"`
}

// SessionSummary tallies session outcomes.
type SessionSummary struct {
	Started      int64            `json:"started" yaml:"started"`
	Completed    int64            `json:"completed" yaml:"completed"`
	Failed       int64            `json:"failed" yaml:"failed"`
	Retired      int64            `json:"retired" yaml:"retired"`
	Incomplete   int64            `json:"incomplete" yaml:"incomplete"`
	FailedByKind map[string]int64 `json:"failed_by_kind" yaml:"failed_by_kind"`
}

// RequestSummary tallies requests.
type RequestSummary struct {
	Total     int64   `json:"total" yaml:"total"`
	Succeeded int64   `json:"succeeded" yaml:"succeeded"`
	Failed    int64   `json:"failed" yaml:"failed"`
	ErrorRate float64 `json:"error_rate" yaml:"error_rate"`
	RPS       float64 `json:"rps" yaml:"rps"`
	Bytes     int64   `json:"bytes" yaml:"bytes"`
}

// Latency is a latency distribution in milliseconds.
type Latency struct {
	Count  int64   `json:"count" yaml:"count"`
	MinMs  float64 `json:"min_ms" yaml:"min_ms"`
	MeanMs float64 `json:"mean_ms" yaml:"mean_ms"`
	P50Ms  float64 `json:"p50_ms" yaml:"p50_ms"`
	P90Ms  float64 `json:"p90_ms" yaml:"p90_ms"`
	P95Ms  float64 `json:"p95_ms" yaml:"p95_ms"`
	P99Ms  float64 `json:"p99_ms" yaml:"p99_ms"`
	MaxMs  float64 `json:"max_ms" yaml:"max_ms"`
}

// NamedLatency is the distribution for one request name.
type NamedLatency struct {
	Name    string `json:"name" yaml:"name"`
	Latency `yaml:",inline"`
}

// Build assembles a summary from the scheduler result and a metrics snapshot.
func Build(meta Meta, res workload.Result, snap *metrics.Snapshot) *Summary {
	s := &Summary{
		BaseURL:         meta.BaseURL,
		FormIDs:         meta.FormIDs,
		Passed:          res.Passed(),
		StartTime:       snap.StartTime,
		DurationSeconds: res.Duration.Seconds(),
		Sessions: SessionSummary{
			Started:      res.Started,
			Completed:    res.Completed,
			Failed:       res.Failed,
			Retired:      res.Retired,
			Incomplete:   res.Incomplete,
			FailedByKind: res.FailedBy,
		},
		Requests: RequestSummary{
			Total:     snap.TotalRequests,
			Succeeded: snap.SuccessRequests,
			Failed:    snap.FailedRequests,
			ErrorRate: snap.ErrorRate,
			RPS:       snap.RPS,
			Bytes:     snap.TotalBytes,
		},
		Latency:         latencyOf(snap.Latency),
		SessionDuration: latencyOf(snap.SessionDuration),
	}
	if s.Sessions.FailedByKind == nil {
		s.Sessions.FailedByKind = map[string]int64{}
	}

	for _, ph := range meta.Phases {
		s.Phases = append(s.Phases, PhaseSummary{
			Name:            ph.Name,
			From:            ph.From,
			To:              ph.To,
			DurationSeconds: ph.Duration.Seconds(),
		})
	}

	names := make([]string, 0, len(snap.Requests))
	for name := range snap.Requests {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		s.ByRequest = append(s.ByRequest, NamedLatency{Name: name, Latency: latencyOf(snap.Requests[name])})
	}
	return s
}

func latencyOf(l metrics.LatencyStats) Latency {
	ms := func(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }
	return Latency{
		Count:  l.Count,
		MinMs:  ms(l.Min),
		MeanMs: ms(l.Mean),
		P50Ms:  ms(l.P50),
		P90Ms:  ms(l.P90),
		P95Ms:  ms(l.P95),
		P99Ms:  ms(l.P99),
		MaxMs:  ms(l.Max),
	}
}

// Formats accepted by Write.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Write encodes s to w as JSON or YAML.
func Write(w io.Writer, format string, s *Summary) error {
	switch strings.ToLower(format) {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	case FormatYAML, "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(s); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported output format %q: use json or yaml", format)
	}
}
