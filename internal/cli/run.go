package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/alphagov/forms-load-tests/internal/config"
	"github.com/alphagov/forms-load-tests/internal/feeder"
	"github.com/alphagov/forms-load-tests/internal/metrics"
	"github.com/alphagov/forms-load-tests/internal/report"
	"github.com/alphagov/forms-load-tests/internal/session"
	"github.com/alphagov/forms-load-tests/internal/tracing"
	"github.com/alphagov/forms-load-tests/internal/transport"
	"github.com/alphagov/forms-load-tests/internal/workload"
)

// ErrSessionsFailed is returned by run when at least one session failed.
var ErrSessionsFailed = errors.New("one or more sessions failed")

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the load test",
		Long: `Run simulated users against a forms runner.

Configuration comes from flags, then environment variables, then an optional
config file, then defaults:

  RAMP_DURATION_SECONDS=1 MAX_CONCURRENT_USERS=4 \
  MAX_CONCURRENT_DURATION_SECONDS=10 FORM_IDS=8921,71,33 \
  FORMS_RUNNER_BASE_URL=https://submit.dev.forms.service.gov.uk \
  formload run

Phase plan mode:
  formload run --plan plan.yaml --base-url http://localhost:8080`,
		RunE: runLoad,
	}

	addConfigFlags(cmd.Flags())
	cmd.Flags().StringP("output", "o", report.FormatText, "summary format: text, json or yaml")
	cmd.Flags().String("out-file", "", "write the json or yaml summary to this file")
	cmd.Flags().Duration("progress", 5*time.Second, "progress line interval (0 disables)")
	cmd.Flags().BoolP("quiet", "q", false, "only print PASSED or FAILED")
	cmd.Flags().Bool("no-color", false, "disable coloured output")
	return cmd
}

func runLoad(cmd *cobra.Command, _ []string) error {
	format, _ := cmd.Flags().GetString("output")
	outFile, _ := cmd.Flags().GetString("out-file")
	progressEvery, _ := cmd.Flags().GetDuration("progress")
	quiet, _ := cmd.Flags().GetBool("quiet")
	noColor, _ := cmd.Flags().GetBool("no-color")

	format = strings.ToLower(format)
	switch format {
	case report.FormatText, report.FormatJSON, report.FormatYAML:
	default:
		return fmt.Errorf("unsupported output format %q: use text, json or yaml", format)
	}
	if outFile != "" && format == report.FormatText {
		format = formatFromExtension(outFile)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	log, err := loggerFor(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	plan, err := workload.PlanFromConfig(cfg)
	if err != nil {
		return err
	}
	ids, err := feeder.New(cfg.FormIDs)
	if err != nil {
		return err
	}

	tp, err := tracing.Init(ctx, cfg.Tracing, version)
	if err != nil {
		return fmt.Errorf("initialise tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Warn("tracing shutdown failed", zap.Error(err))
		}
	}()

	opts := transport.DefaultOptions(cfg.BaseURL)
	opts.UserAgent = cfg.UserAgent
	opts.Timeout = cfg.RequestTimeout
	opts.MaxRPS = cfg.MaxRPS
	opts.Propagate = tp.Enabled()
	client, err := transport.New(opts)
	if err != nil {
		return err
	}
	defer client.Close()

	engine := metrics.NewEngine()
	if cfg.MetricsAddr != "" {
		stopMetrics := serveMetrics(cfg.MetricsAddr, engine, log)
		defer stopMetrics()
	}

	factory := &session.Factory{
		Feeder:  ids,
		Client:  client,
		Think:   session.ThinkTime{Min: cfg.ThinkTimeMin, Max: cfg.ThinkTimeMax},
		Metrics: engine,
		Logger:  log,
		Tracer:  tp.Tracer(),
	}
	scheduler := workload.NewScheduler(plan, factory, workload.Options{
		ReconcileInterval: cfg.ReconcileInterval,
		HardDeadline:      cfg.HardDeadline,
		Classify:          session.Classify,
		Logger:            log,
		Metrics:           engine,
	})

	// Structured summaries on stdout keep the human output off it.
	consoleOut := cmd.OutOrStdout()
	if format != report.FormatText && outFile == "" {
		consoleOut = cmd.ErrOrStderr()
	}
	console := report.NewConsole(report.ConsoleConfig{
		Writer:   consoleOut,
		Quiet:    quiet,
		NoColors: noColor,
	})

	meta := report.Meta{BaseURL: cfg.BaseURL, FormIDs: cfg.FormIDs, Phases: plan.Phases()}
	console.PrintHeader(meta)

	done := make(chan workload.Result, 1)
	go func() {
		done <- scheduler.Run(ctx)
	}()

	var tick <-chan time.Time
	if progressEvery > 0 {
		ticker := time.NewTicker(progressEvery)
		defer ticker.Stop()
		tick = ticker.C
	}

	var res workload.Result
progressLoop:
	for {
		select {
		case res = <-done:
			break progressLoop
		case <-tick:
			console.PrintProgress(engine.Snapshot())
		}
	}

	summary := report.Build(meta, res, engine.Snapshot())
	console.PrintSummary(summary)

	if format != report.FormatText {
		if err := writeSummary(cmd.OutOrStdout(), outFile, format, summary); err != nil {
			return err
		}
	}

	if ctx.Err() != nil {
		return fmt.Errorf("run interrupted: %w", context.Cause(ctx))
	}
	if !summary.Passed {
		return ErrSessionsFailed
	}
	return nil
}

func writeSummary(stdout io.Writer, outFile, format string, summary *report.Summary) error {
	if outFile == "" {
		return report.Write(stdout, format, summary)
	}

	dir := filepath.Dir(outFile)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}
	f, err := os.Create(outFile)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	if err := report.Write(f, format, summary); err != nil {
		_ = f.Close()
		return fmt.Errorf("write summary: %w", err)
	}
	return f.Close()
}

// formatFromExtension picks yaml for .yaml/.yml files and json otherwise.
func formatFromExtension(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return report.FormatYAML
	default:
		return report.FormatJSON
	}
}

// serveMetrics starts a Prometheus endpoint and returns a function that
// stops it.
func serveMetrics(addr string, engine *metrics.Engine, log *zap.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(engine))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 2 * time.Second,
	}
	go func() {
		log.Info("serving metrics", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", zap.Error(err))
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// ExitCode maps a command error to a process exit status: 0 on success, 2
// for configuration problems and 1 for everything else.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, config.ErrConfiguration):
		return 2
	default:
		return 1
	}
}
