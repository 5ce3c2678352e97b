package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/alphagov/forms-load-tests/internal/formsim"
)

func newServeFakeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve-fake",
		Short: "Serve simulated forms locally to run the load test against",
		Long: `Serve a set of multi-step forms that mimic the forms runner's markup,
session cookie and anti-forgery token handling.

  formload serve-fake --addr :8080 &
  formload run --base-url http://localhost:8080 --think-min 0 --think-max 0.5`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			addr, _ := cmd.Flags().GetString("addr")
			latency, _ := cmd.Flags().GetDuration("latency")

			log, err := loggerFor(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			opts := []formsim.Option{formsim.WithLogger(log), formsim.WithLatency(latency)}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serveForms(ctx, addr, formsim.New(formsim.DefaultForms(), opts...), log)
		},
	}

	cmd.Flags().String("addr", ":8080", "listen address")
	cmd.Flags().Duration("latency", 0, "delay added to every response")
	return cmd
}

// serveForms runs handler until ctx is cancelled.
func serveForms(ctx context.Context, addr string, handler http.Handler, log *zap.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		ReadHeaderTimeout: 2 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("serving simulated forms", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
