// Package session walks one simulated user through a form.
//
// A Runner fetches the start page of a form, answers whatever field each page
// presents until the page signals the end of the questions, then submits the
// answers. Nothing about the form is known in advance: every step is decided
// from the previous response.
package session

import (
	"context"
	"fmt"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/alphagov/forms-load-tests/internal/answer"
	"github.com/alphagov/forms-load-tests/internal/metrics"
	"github.com/alphagov/forms-load-tests/internal/scrape"
	"github.com/alphagov/forms-load-tests/internal/tracing"
	"github.com/alphagov/forms-load-tests/internal/transport"
)

// Feeder supplies form ids.
type Feeder interface {
	Next() string
}

// Transport issues the requests of one session.
type Transport interface {
	Start(ctx context.Context, path string) ([]byte, transport.Result, error)
	Submit(ctx context.Context, path string, form url.Values) ([]byte, transport.Result, error)
}

// Config holds a runner's collaborators.
type Config struct {
	Feeder    Feeder
	Transport Transport
	Think     ThinkTime
	Metrics   *metrics.Engine
	Logger    *zap.Logger
	Tracer    trace.Tracer
}

// Runner executes a single form journey. It is not reusable.
type Runner struct {
	id      string
	feeder  Feeder
	client  Transport
	think   ThinkTime
	metrics *metrics.Engine
	log     *zap.Logger
	tracer  trace.Tracer

	stage atomic.Int32
	state State
}

// NewRunner returns a runner in StageStart.
func NewRunner(cfg Config) *Runner {
	r := &Runner{
		id:      uuid.NewString(),
		feeder:  cfg.Feeder,
		client:  cfg.Transport,
		think:   cfg.Think,
		metrics: cfg.Metrics,
		log:     cfg.Logger,
		tracer:  cfg.Tracer,
	}
	if r.metrics == nil {
		r.metrics = metrics.NewEngine()
	}
	if r.log == nil {
		r.log = zap.NewNop()
	}
	if r.tracer == nil {
		r.tracer = (*tracing.Provider)(nil).Tracer()
	}
	r.state.InputName = scrape.NoInput
	return r
}

// ID returns the session's unique id.
func (r *Runner) ID() string {
	return r.id
}

// Stage returns the current stage. It is safe to call while Run is active.
func (r *Runner) Stage() Stage {
	return Stage(r.stage.Load())
}

// State returns a copy of the session state. Call it after Run returns.
func (r *Runner) State() State {
	return r.state
}

func (r *Runner) enter(s Stage) {
	r.stage.Store(int32(s))
}

// Run drives the journey to completion. It returns nil once the answers are
// submitted and an error for any failure. No step is retried.
func (r *Runner) Run(ctx context.Context) (err error) {
	ctx, span := tracing.StartSessionSpan(ctx, r.tracer, r.id)
	log := r.log.With(zap.String("session", r.id))

	defer func() {
		outcome := "completed"
		if err != nil {
			r.enter(StageFailed)
			kind := Classify(err)
			if kind == KindCancelled {
				log.Debug("session stopped", zap.String("form_id", r.state.FormID))
			} else {
				log.Warn("session failed",
					zap.String("form_id", r.state.FormID),
					zap.String("kind", kind),
					zap.Int("question", r.state.QuestionNumber),
					zap.Error(err),
				)
			}
			outcome = kind
		}
		tracing.EndSpan(span, err, tracing.AttrOutcome.String(outcome))
	}()

	r.enter(StageStart)
	r.state.FormID = r.feeder.Next()
	span.SetAttributes(tracing.AttrFormID.String(r.state.FormID))
	log = log.With(zap.String("form_id", r.state.FormID))

	page, err := r.fetch(ctx, log, fmt.Sprintf("form %s start page", r.state.FormID), func(ctx context.Context) ([]byte, transport.Result, error) {
		return r.client.Start(ctx, "/form/"+url.PathEscape(r.state.FormID))
	})
	if err != nil {
		return err
	}
	r.state.apply(page)

	r.enter(StageAnswering)
	for !page.Terminal() {
		a, err := answer.Build(r.state.InputName)
		if err != nil {
			return fmt.Errorf("form %s question %d: %w", r.state.FormID, r.state.QuestionNumber, err)
		}

		name := fmt.Sprintf("form %s question %d", r.state.FormID, r.state.QuestionNumber)
		body := a.Form(r.state.AuthToken)
		page, err = r.fetch(ctx, log, name, func(ctx context.Context) ([]byte, transport.Result, error) {
			return r.client.Submit(ctx, r.state.ActionPath, body)
		}, tracing.AttrInputName.String(r.state.InputName))
		if err != nil {
			return err
		}
		r.state.apply(page)
		r.state.QuestionNumber++

		if err := r.pause(ctx); err != nil {
			return err
		}
	}

	r.enter(StageSubmitting)
	name := fmt.Sprintf("form %s submit answers", r.state.FormID)
	if _, err := r.exchange(ctx, log, name, func(ctx context.Context) ([]byte, transport.Result, error) {
		return r.client.Submit(ctx, r.state.ActionPath, answer.Completion(r.state.AuthToken))
	}); err != nil {
		return err
	}

	r.enter(StageDone)
	log.Debug("session completed", zap.Int("questions", r.state.QuestionNumber))
	return nil
}

// fetch performs one exchange and scrapes the response.
func (r *Runner) fetch(ctx context.Context, log *zap.Logger, name string, do exchangeFunc, attrs ...attribute.KeyValue) (scrape.Page, error) {
	body, err := r.exchange(ctx, log, name, do, attrs...)
	if err != nil {
		return scrape.Page{}, err
	}
	page, err := scrape.Scrape(body)
	if err != nil {
		return page, fmt.Errorf("%s: %w", name, err)
	}
	log.Debug("page scraped",
		zap.String("state", r.Stage().String()),
		zap.Int("question", r.state.QuestionNumber),
		zap.String("input", page.InputName),
		zap.String("action", page.ActionPath),
	)
	return page, nil
}

type exchangeFunc func(ctx context.Context) ([]byte, transport.Result, error)

// exchange issues one request under name, recording latency and a step span.
func (r *Runner) exchange(ctx context.Context, log *zap.Logger, name string, do exchangeFunc, attrs ...attribute.KeyValue) ([]byte, error) {
	ctx, span := tracing.StartStepSpan(ctx, r.tracer, name, r.state.FormID)
	body, res, err := do(ctx)

	// Abandoned requests are not recorded.
	if ctx.Err() == nil {
		r.metrics.RecordRequest(name, res.Duration, res.Bytes, err == nil)
	}

	attrs = append(attrs,
		attribute.Int("http.response.status_code", res.StatusCode),
		attribute.Int64("http.response.body.size", res.Bytes),
	)
	tracing.EndSpan(span, err, attrs...)

	log.Debug("request",
		zap.String("request", name),
		zap.String("method", res.Method),
		zap.Int("status", res.StatusCode),
		zap.Duration("duration", res.Duration),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return body, nil
}

// pause waits for a think time, returning early if ctx ends.
func (r *Runner) pause(ctx context.Context) error {
	d := r.think.Draw()
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
