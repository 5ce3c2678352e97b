package session

import (
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/alphagov/forms-load-tests/internal/metrics"
	"github.com/alphagov/forms-load-tests/internal/transport"
	"github.com/alphagov/forms-load-tests/internal/workload"
)

// Factory creates runners that share a feeder, connection pool, metrics and
// tracer. Each runner gets its own cookie jar.
type Factory struct {
	Feeder  Feeder
	Client  *transport.Client
	Think   ThinkTime
	Metrics *metrics.Engine
	Logger  *zap.Logger
	Tracer  trace.Tracer
}

// NewSession implements workload.SessionFactory.
func (f *Factory) NewSession() workload.Session {
	return NewRunner(Config{
		Feeder:    f.Feeder,
		Transport: f.Client.NewSession(),
		Think:     f.Think,
		Metrics:   f.Metrics,
		Logger:    f.Logger,
		Tracer:    f.Tracer,
	})
}
