package cli

import (
	"bytes"
	"errors"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"

	"github.com/alphagov/forms-load-tests/internal/config"
	"github.com/alphagov/forms-load-tests/internal/formsim"
)

func execute(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err = cmd.Execute()
	return out.String(), errOut.String(), err
}

func fastRunArgs(baseURL string, extra ...string) []string {
	args := []string{
		"run",
		"--base-url", baseURL,
		"--ramp", "0.2",
		"--steady", "0.6",
		"--peak", "2",
		"--think-min", "0",
		"--think-max", "0",
		"--reconcile-interval", "20",
		"--progress", "0",
		"--no-color",
	}
	return append(args, extra...)
}

func TestRunAgainstSimulatedForms(t *testing.T) {
	sim := formsim.New(formsim.DefaultForms())
	srv := httptest.NewServer(sim)
	defer srv.Close()

	stdout, stderr, err := execute(t, fastRunArgs(srv.URL, "--form-ids", "8921,71,33", "--output", "json")...)
	require.NoError(t, err, stderr)

	require.True(t, gjson.Valid(stdout), stdout)
	assert.True(t, gjson.Get(stdout, "passed").Bool())
	assert.Equal(t, srv.URL, gjson.Get(stdout, "base_url").String())
	assert.Greater(t, gjson.Get(stdout, "sessions.completed").Int(), int64(0))
	assert.Equal(t, int64(0), gjson.Get(stdout, "sessions.failed").Int())
	assert.Equal(t, int64(0), gjson.Get(stdout, "sessions.incomplete").Int())
	assert.Greater(t, gjson.Get(stdout, "requests.total").Int(), int64(0))
	assert.Equal(t, "ramp-up", gjson.Get(stdout, "phases.0.name").String())

	// The human summary moves to stderr when stdout carries JSON.
	assert.Contains(t, stderr, "Completed ✓")

	// Sessions retired mid-submit may still have reached the server.
	assert.GreaterOrEqual(t, int64(len(sim.Submissions())), gjson.Get(stdout, "sessions.completed").Int())
}

func TestRunWritesSummaryFile(t *testing.T) {
	srv := httptest.NewServer(formsim.New(formsim.DefaultForms()))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "reports", "summary.yaml")
	stdout, stderr, err := execute(t, fastRunArgs(srv.URL, "--out-file", path)...)
	require.NoError(t, err, stderr)

	assert.Contains(t, stdout, "Form submission load test")
	assert.Contains(t, stdout, "Completed ✓")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var decoded map[string]interface{}
	require.NoError(t, yaml.Unmarshal(data, &decoded))
	assert.Equal(t, true, decoded["passed"])
}

func TestRunFailsWhenSessionsFail(t *testing.T) {
	srv := httptest.NewServer(formsim.New(formsim.DefaultForms()))
	defer srv.Close()

	stdout, _, err := execute(t, fastRunArgs(srv.URL, "--form-ids", "404404", "--output", "json")...)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSessionsFailed))
	assert.Equal(t, 1, ExitCode(err))

	assert.False(t, gjson.Get(stdout, "passed").Bool())
	assert.Greater(t, gjson.Get(stdout, "sessions.failed_by_kind.transport").Int(), int64(0))
}

func TestRunRejectsInvalidConfiguration(t *testing.T) {
	_, _, err := execute(t, "run", "--peak", "0", "--base-url", "http://localhost:1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, config.ErrConfiguration))
	assert.Equal(t, 2, ExitCode(err))
}

func TestRunRejectsUnknownOutputFormat(t *testing.T) {
	_, _, err := execute(t, "run", "--output", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "xml")
}

func TestPlanCommand(t *testing.T) {
	stdout, _, err := execute(t, "plan", "--ramp", "2", "--steady", "2", "--peak", "4", "--step", "1s")
	require.NoError(t, err)

	assert.Contains(t, stdout, "ramp-up")
	assert.Contains(t, stdout, "ramp-down")
	assert.Contains(t, stdout, "Total duration: 6s")
	assert.Contains(t, stdout, "Peak sessions:  4")
	assert.Contains(t, stdout, "Session-seconds: 16.0")
	assert.Contains(t, stdout, "ended")
}

func TestPlanCommandRejectsZeroStep(t *testing.T) {
	_, _, err := execute(t, "plan", "--step", "0s")
	require.Error(t, err)
}

func TestPlanFromEnvironment(t *testing.T) {
	t.Setenv(config.EnvName(config.KeyPeak), "7")
	t.Setenv(config.EnvName(config.KeySteady), "3")

	stdout, _, err := execute(t, "plan", "--ramp", "0")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Peak sessions:  7")
	assert.Contains(t, stdout, "Total duration: 3s")
}

func TestPlanFlagsOverrideEnvironment(t *testing.T) {
	t.Setenv(config.EnvName(config.KeyPeak), "7")

	stdout, _, err := execute(t, "plan", "--peak", "5")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Peak sessions:  5")
}

func TestPlanFromConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "formload.yaml")
	require.NoError(t, os.WriteFile(path, []byte("peak: 3\nramp: 0\nsteady: 4\n"), 0o600))

	stdout, _, err := execute(t, "plan", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Peak sessions:  3")
	assert.Contains(t, stdout, "Total duration: 4s")
}

func TestPlanFromPlanFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.yaml")
	plan := `phases:
  - name: warm
    to: 2
    duration: 1s
  - name: surge
    to: 6
    duration: 2s
`
	require.NoError(t, os.WriteFile(path, []byte(plan), 0o600))

	stdout, _, err := execute(t, "plan", "--plan", path)
	require.NoError(t, err)
	assert.Contains(t, stdout, "warm")
	assert.Contains(t, stdout, "surge")
	assert.Contains(t, stdout, "Peak sessions:  6")
}

func TestMissingConfigFile(t *testing.T) {
	_, _, err := execute(t, "plan", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config file")
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 1, ExitCode(ErrSessionsFailed))
	assert.Equal(t, 2, ExitCode(fmt.Errorf("load: %w", &config.ConfigurationError{Field: "peak", Message: "bad"})))
}

func TestFormatFromExtension(t *testing.T) {
	assert.Equal(t, "yaml", formatFromExtension("out/summary.YML"))
	assert.Equal(t, "yaml", formatFromExtension("summary.yaml"))
	assert.Equal(t, "json", formatFromExtension("summary.json"))
	assert.Equal(t, "json", formatFromExtension("summary"))
}
