package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "formload"

// Collector exposes an Engine to Prometheus. Values are read from a fresh
// Snapshot on every scrape.
type Collector struct {
	engine *Engine

	requests       *prometheus.Desc
	bytes          *prometheus.Desc
	latency        *prometheus.Desc
	sessions       *prometheus.Desc
	sessionsFailed *prometheus.Desc
	active         *prometheus.Desc
	target         *prometheus.Desc
	phase          *prometheus.Desc
}

// NewCollector returns a collector reading from engine.
func NewCollector(engine *Engine) *Collector {
	return &Collector{
		engine: engine,
		requests: prometheus.NewDesc(namespace+"_requests_total",
			"Requests issued, by result.", []string{"result"}, nil),
		bytes: prometheus.NewDesc(namespace+"_response_bytes_total",
			"Response body bytes received.", nil, nil),
		latency: prometheus.NewDesc(namespace+"_request_duration_seconds",
			"Request latency by request name.", []string{"request"}, nil),
		sessions: prometheus.NewDesc(namespace+"_sessions_total",
			"Sessions by outcome.", []string{"outcome"}, nil),
		sessionsFailed: prometheus.NewDesc(namespace+"_sessions_failed_total",
			"Failed sessions by failure kind.", []string{"kind"}, nil),
		active: prometheus.NewDesc(namespace+"_active_sessions",
			"Sessions currently running.", nil, nil),
		target: prometheus.NewDesc(namespace+"_target_sessions",
			"Concurrency the workload plan asks for.", nil, nil),
		phase: prometheus.NewDesc(namespace+"_phase",
			"Current workload phase (1 for the active phase).", []string{"phase"}, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.requests
	ch <- c.bytes
	ch <- c.latency
	ch <- c.sessions
	ch <- c.sessionsFailed
	ch <- c.active
	ch <- c.target
	ch <- c.phase
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.engine.Snapshot()

	ch <- prometheus.MustNewConstMetric(c.requests, prometheus.CounterValue, float64(s.SuccessRequests), "success")
	ch <- prometheus.MustNewConstMetric(c.requests, prometheus.CounterValue, float64(s.FailedRequests), "failure")
	ch <- prometheus.MustNewConstMetric(c.bytes, prometheus.CounterValue, float64(s.TotalBytes))

	for name, stats := range s.Requests {
		ch <- prometheus.MustNewConstSummary(c.latency,
			uint64(stats.Count),
			stats.Mean.Seconds()*float64(stats.Count),
			map[float64]float64{
				0.5:  stats.P50.Seconds(),
				0.9:  stats.P90.Seconds(),
				0.95: stats.P95.Seconds(),
				0.99: stats.P99.Seconds(),
			},
			name,
		)
	}

	for outcome, n := range map[Outcome]int64{
		OutcomeCompleted:  s.Sessions.Completed,
		OutcomeFailed:     s.Sessions.Failed,
		OutcomeRetired:    s.Sessions.Retired,
		OutcomeIncomplete: s.Sessions.Incomplete,
	} {
		ch <- prometheus.MustNewConstMetric(c.sessions, prometheus.CounterValue, float64(n), string(outcome))
	}
	for kind, n := range s.Sessions.FailedBy {
		ch <- prometheus.MustNewConstMetric(c.sessionsFailed, prometheus.CounterValue, float64(n), kind)
	}

	ch <- prometheus.MustNewConstMetric(c.active, prometheus.GaugeValue, float64(s.ActiveSessions))
	ch <- prometheus.MustNewConstMetric(c.target, prometheus.GaugeValue, float64(s.TargetSessions))
	ch <- prometheus.MustNewConstMetric(c.phase, prometheus.GaugeValue, 1, string(s.Phase))
}

// Handler returns an HTTP handler serving engine's metrics on a private
// registry.
func Handler(engine *Engine) http.Handler {
	registry := prometheus.NewRegistry()
	registry.MustRegister(NewCollector(engine))
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
