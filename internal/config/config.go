// Package config resolves the read-only run configuration.
//
// Values come from command-line flags, environment variables, an optional
// config file and documented defaults, in that order of precedence. The
// environment names match the ones the load tests have always used:
//
//	RAMP_DURATION_SECONDS=1
//	MAX_CONCURRENT_USERS=4
//	MAX_CONCURRENT_DURATION_SECONDS=10
//	FORM_IDS=8921,71,33
//	FORMS_RUNNER_BASE_URL=https://submit.dev.forms.service.gov.uk
//
// The resolved Config is constructed once at startup and passed by pointer to
// every component that needs it. Nothing mutates it afterwards.
package config

import (
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Keys used for viper lookups and flag names.
const (
	KeyRamp              = "ramp"
	KeySteady            = "steady"
	KeyPeak              = "peak"
	KeyFormIDs           = "form-ids"
	KeyBaseURL           = "base-url"
	KeyThinkMin          = "think-min"
	KeyThinkMax          = "think-max"
	KeyRequestTimeout    = "request-timeout"
	KeyHardDeadline      = "hard-deadline"
	KeyReconcileInterval = "reconcile-interval"
	KeyMaxRPS            = "max-rps"
	KeyUserAgent         = "user-agent"
	KeyPlan              = "plan"
	KeyOTLPEndpoint      = "otlp-endpoint"
	KeyOTLPProtocol      = "otlp-protocol"
	KeyOTLPInsecure      = "otlp-insecure"
	KeyTraceSampleRate   = "trace-sample-rate"
	KeyMetricsAddr       = "metrics-addr"
)

// Defaults for every key. Durations are expressed in seconds except the
// reconcile interval, which is in milliseconds.
var defaults = map[string]interface{}{
	KeyRamp:              1,
	KeySteady:            10,
	KeyPeak:              4,
	KeyFormIDs:           "8921,71,33",
	KeyBaseURL:           "https://submit.dev.forms.service.gov.uk",
	KeyThinkMin:          3,
	KeyThinkMax:          10,
	KeyRequestTimeout:    60,
	KeyHardDeadline:      0,
	KeyReconcileInterval: 100,
	KeyMaxRPS:            0,
	KeyUserAgent:         "Gatling load tests",
	KeyPlan:              "",
	KeyOTLPEndpoint:      "",
	KeyOTLPProtocol:      "grpc",
	KeyOTLPInsecure:      false,
	KeyTraceSampleRate:   1.0,
	KeyMetricsAddr:       "",
}

var envNames = map[string]string{
	KeyRamp:              "RAMP_DURATION_SECONDS",
	KeySteady:            "MAX_CONCURRENT_DURATION_SECONDS",
	KeyPeak:              "MAX_CONCURRENT_USERS",
	KeyFormIDs:           "FORM_IDS",
	KeyBaseURL:           "FORMS_RUNNER_BASE_URL",
	KeyThinkMin:          "THINK_TIME_MIN_SECONDS",
	KeyThinkMax:          "THINK_TIME_MAX_SECONDS",
	KeyRequestTimeout:    "REQUEST_TIMEOUT_SECONDS",
	KeyHardDeadline:      "HARD_DEADLINE_SECONDS",
	KeyReconcileInterval: "RECONCILE_INTERVAL_MS",
	KeyMaxRPS:            "MAX_REQUESTS_PER_SECOND",
	KeyUserAgent:         "USER_AGENT",
	KeyPlan:              "PLAN_FILE",
	KeyOTLPEndpoint:      "OTEL_EXPORTER_OTLP_ENDPOINT",
	KeyOTLPProtocol:      "OTEL_EXPORTER_OTLP_PROTOCOL",
	KeyOTLPInsecure:      "OTEL_EXPORTER_OTLP_INSECURE",
	KeyTraceSampleRate:   "TRACE_SAMPLE_RATE",
	KeyMetricsAddr:       "METRICS_ADDR",
}

// EnvName returns the environment variable bound to key.
func EnvName(key string) string {
	return envNames[key]
}

// Config is the immutable run configuration.
type Config struct {
	BaseURL         string
	FormIDs         []string
	RampDuration    time.Duration
	SteadyDuration  time.Duration
	PeakConcurrency int

	// Think time is drawn uniformly from [ThinkTimeMin, ThinkTimeMax].
	ThinkTimeMin time.Duration
	ThinkTimeMax time.Duration

	RequestTimeout    time.Duration
	HardDeadline      time.Duration // 0 disables the hard deadline
	ReconcileInterval time.Duration
	MaxRPS            float64 // 0 means unlimited
	UserAgent         string

	// PlanFile replaces the ramp/steady/ramp curve when set.
	PlanFile string
	Phases   []PhaseConfig

	Tracing     TracingConfig
	MetricsAddr string
}

// TracingConfig controls the OpenTelemetry exporter.
type TracingConfig struct {
	Endpoint    string
	Protocol    string // "grpc" or "http"
	Insecure    bool
	SampleRate  float64
	ServiceName string
}

// Enabled reports whether spans should be exported.
func (t TracingConfig) Enabled() bool {
	return strings.TrimSpace(t.Endpoint) != ""
}

// NewViper returns a viper instance with defaults and environment bindings
// applied. Callers bind flags on top of it.
func NewViper() *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	for key, env := range envNames {
		// BindEnv only fails when called without a key.
		_ = v.BindEnv(key, env)
	}
	return v
}

// Load resolves a Config from v and validates it.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		BaseURL:           strings.TrimRight(strings.TrimSpace(v.GetString(KeyBaseURL)), "/"),
		FormIDs:           splitIDs(v.GetString(KeyFormIDs)),
		RampDuration:      seconds(v.GetFloat64(KeyRamp)),
		SteadyDuration:    seconds(v.GetFloat64(KeySteady)),
		PeakConcurrency:   v.GetInt(KeyPeak),
		ThinkTimeMin:      seconds(v.GetFloat64(KeyThinkMin)),
		ThinkTimeMax:      seconds(v.GetFloat64(KeyThinkMax)),
		RequestTimeout:    seconds(v.GetFloat64(KeyRequestTimeout)),
		HardDeadline:      seconds(v.GetFloat64(KeyHardDeadline)),
		ReconcileInterval: time.Duration(v.GetInt64(KeyReconcileInterval)) * time.Millisecond,
		MaxRPS:            v.GetFloat64(KeyMaxRPS),
		UserAgent:         strings.TrimSpace(v.GetString(KeyUserAgent)),
		PlanFile:          strings.TrimSpace(v.GetString(KeyPlan)),
		Tracing: TracingConfig{
			Endpoint:    strings.TrimSpace(v.GetString(KeyOTLPEndpoint)),
			Protocol:    strings.ToLower(strings.TrimSpace(v.GetString(KeyOTLPProtocol))),
			Insecure:    v.GetBool(KeyOTLPInsecure),
			SampleRate:  v.GetFloat64(KeyTraceSampleRate),
			ServiceName: "forms-load-tests",
		},
		MetricsAddr: strings.TrimSpace(v.GetString(KeyMetricsAddr)),
	}

	if cfg.PlanFile != "" {
		phases, err := LoadPlanFile(cfg.PlanFile)
		if err != nil {
			return nil, err
		}
		cfg.Phases = phases
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration and returns every problem found.
func (c *Config) Validate() error {
	errs := &ValidationErrors{}

	validateBaseURL(c.BaseURL, errs)

	if len(c.FormIDs) == 0 {
		errs.Add(KeyFormIDs, "at least one form id is required")
	}

	if len(c.Phases) == 0 {
		if c.PeakConcurrency <= 0 {
			errs.Add(KeyPeak, "peak concurrency must be > 0")
		}
		if c.RampDuration < 0 {
			errs.Add(KeyRamp, "ramp duration must be >= 0")
		}
		if c.SteadyDuration < 0 {
			errs.Add(KeySteady, "steady duration must be >= 0")
		}
		if c.RampDuration == 0 && c.SteadyDuration == 0 {
			errs.Add(KeySteady, "ramp and steady durations cannot both be zero")
		}
	}

	if c.ThinkTimeMin < 0 {
		errs.Add(KeyThinkMin, "think time minimum must be >= 0")
	}
	if c.ThinkTimeMax < c.ThinkTimeMin {
		errs.Add(KeyThinkMax, fmt.Sprintf("think time maximum (%s) must be >= minimum (%s)", c.ThinkTimeMax, c.ThinkTimeMin))
	}
	if c.RequestTimeout <= 0 {
		errs.Add(KeyRequestTimeout, "request timeout must be > 0")
	}
	if c.HardDeadline < 0 {
		errs.Add(KeyHardDeadline, "hard deadline must be >= 0")
	}
	if c.ReconcileInterval <= 0 {
		errs.Add(KeyReconcileInterval, "reconcile interval must be > 0")
	}
	if c.MaxRPS < 0 || math.IsNaN(c.MaxRPS) {
		errs.Add(KeyMaxRPS, "max requests per second must be >= 0")
	}

	if c.Tracing.Enabled() {
		switch c.Tracing.Protocol {
		case "grpc", "http":
		default:
			errs.Add(KeyOTLPProtocol, fmt.Sprintf("unsupported OTLP protocol %q: use \"grpc\" or \"http\"", c.Tracing.Protocol))
		}
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		errs.Add(KeyTraceSampleRate, fmt.Sprintf("sample rate must be between 0.0 and 1.0, got %g", c.Tracing.SampleRate))
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateBaseURL(raw string, errs *ValidationErrors) {
	if raw == "" {
		errs.Add(KeyBaseURL, "base URL is required")
		return
	}
	u, err := url.Parse(raw)
	if err != nil {
		errs.Add(KeyBaseURL, fmt.Sprintf("invalid URL: %v", err))
		return
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		errs.Add(KeyBaseURL, "URL scheme must be http or https")
	}
	if u.Host == "" {
		errs.Add(KeyBaseURL, "URL must include a host")
	}
}

// splitIDs parses a comma-separated id list, dropping blanks.
func splitIDs(raw string) []string {
	parts := strings.Split(raw, ",")
	ids := make([]string, 0, len(parts))
	for _, part := range parts {
		if id := strings.TrimSpace(part); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
