package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/alphagov/forms-load-tests/internal/config"
)

// addConfigFlags registers one flag per configuration key. Flag defaults are
// only shown in help; viper resolves the effective value.
func addConfigFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "optional config file (yaml, json or toml)")

	fs.Float64(config.KeyRamp, 1, "ramp-up and ramp-down duration in seconds")
	fs.Float64(config.KeySteady, 10, "steady phase duration in seconds")
	fs.Int(config.KeyPeak, 4, "peak number of concurrent users")
	fs.String(config.KeyFormIDs, "8921,71,33", "comma-separated form ids to cycle through")
	fs.String(config.KeyBaseURL, "https://submit.dev.forms.service.gov.uk", "forms runner base URL")
	fs.Float64(config.KeyThinkMin, 3, "minimum think time between requests in seconds")
	fs.Float64(config.KeyThinkMax, 10, "maximum think time between requests in seconds")
	fs.Float64(config.KeyRequestTimeout, 60, "per-request timeout in seconds")
	fs.Float64(config.KeyHardDeadline, 0, "seconds to wait for in-flight sessions after the plan ends (0 waits indefinitely)")
	fs.Int64(config.KeyReconcileInterval, 100, "scheduler reconcile interval in milliseconds")
	fs.Float64(config.KeyMaxRPS, 0, "cap on total requests per second (0 is unlimited)")
	fs.String(config.KeyUserAgent, "Gatling load tests", "User-Agent header")
	fs.String(config.KeyPlan, "", "YAML phase plan replacing the ramp/steady/ramp curve")
	fs.String(config.KeyOTLPEndpoint, "", "OTLP collector endpoint; tracing is off when empty")
	fs.String(config.KeyOTLPProtocol, "grpc", "OTLP protocol (grpc or http)")
	fs.Bool(config.KeyOTLPInsecure, false, "disable TLS for the OTLP exporter")
	fs.Float64(config.KeyTraceSampleRate, 1.0, "fraction of sessions to trace")
	fs.String(config.KeyMetricsAddr, "", "address to serve Prometheus /metrics on while running")
}

// loadConfig resolves the configuration for cmd: flags, then environment,
// then the optional config file, then defaults.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v := config.NewViper()

	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if f.Name == "config" || f.Name == "verbose" || bindErr != nil {
			return
		}
		bindErr = v.BindPFlag(f.Name, f)
	})
	if bindErr != nil {
		return nil, fmt.Errorf("bind flags: %w", bindErr)
	}

	if path, _ := cmd.Flags().GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	return config.Load(v)
}

// newLogger builds a zap logger for the given -v count.
func newLogger(verbosity int) (*zap.Logger, error) {
	var zapConfig zap.Config

	switch verbosity {
	case 0:
		zapConfig = zap.NewProductionConfig()
		zapConfig.Level.SetLevel(zap.InfoLevel)
	case 1:
		zapConfig = zap.NewDevelopmentConfig()
		zapConfig.Level.SetLevel(zap.InfoLevel)
	default:
		zapConfig = zap.NewDevelopmentConfig()
		zapConfig.Level.SetLevel(zap.DebugLevel)
	}

	zapConfig.InitialFields = map[string]interface{}{
		"service": "formload",
		"version": version,
	}

	logger, err := zapConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("build zap logger: %w", err)
	}
	return logger, nil
}

func loggerFor(cmd *cobra.Command) (*zap.Logger, error) {
	verbosity, _ := cmd.Flags().GetCount("verbose")
	return newLogger(verbosity)
}
