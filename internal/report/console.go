package report

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/alphagov/forms-load-tests/internal/metrics"
)

const boxHorizontal = "━"

// ColorScheme defines the colours used in console output.
type ColorScheme struct {
	Rule    *color.Color
	Title   *color.Color
	Value   *color.Color
	Label   *color.Color
	Good    *color.Color
	Warn    *color.Color
	Bad     *color.Color
	Latency *color.Color
	Phase   *color.Color
}

// DefaultColorScheme returns the default colours.
func DefaultColorScheme() *ColorScheme {
	return &ColorScheme{
		Rule:    color.New(color.FgCyan),
		Title:   color.New(color.Bold),
		Value:   color.New(color.FgCyan),
		Label:   color.New(color.Bold),
		Good:    color.New(color.FgGreen),
		Warn:    color.New(color.FgYellow),
		Bad:     color.New(color.FgRed),
		Latency: color.New(color.FgBlue),
		Phase:   color.New(color.FgMagenta),
	}
}

// NoColorScheme returns a scheme with every colour disabled.
func NoColorScheme() *ColorScheme {
	s := DefaultColorScheme()
	for _, c := range []*color.Color{s.Rule, s.Title, s.Value, s.Label, s.Good, s.Warn, s.Bad, s.Latency, s.Phase} {
		c.DisableColor()
	}
	return s
}

// Console prints human-readable progress and summaries.
type Console struct {
	w      io.Writer
	colors *ColorScheme
	quiet  bool
}

// ConsoleConfig configures a Console.
type ConsoleConfig struct {
	Writer      io.Writer
	Quiet       bool
	ForceColors bool
	NoColors    bool
}

// NewConsole returns a console writing to cfg.Writer, or stdout. Colour is
// used when the writer is a terminal unless NO_COLOR is set.
func NewConsole(cfg ConsoleConfig) *Console {
	if cfg.Writer == nil {
		cfg.Writer = os.Stdout
	}
	useColors := cfg.ForceColors || (!cfg.NoColors && isTerminal(cfg.Writer) && os.Getenv("NO_COLOR") == "")

	scheme := NoColorScheme()
	if useColors {
		scheme = DefaultColorScheme()
		for _, c := range []*color.Color{scheme.Rule, scheme.Title, scheme.Value, scheme.Label, scheme.Good, scheme.Warn, scheme.Bad, scheme.Latency, scheme.Phase} {
			c.EnableColor()
		}
	}
	return &Console{w: cfg.Writer, colors: scheme, quiet: cfg.Quiet}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// PrintHeader announces the run.
func (c *Console) PrintHeader(meta Meta) {
	if c.quiet {
		return
	}
	line := strings.Repeat(boxHorizontal, 56)
	c.writeln(c.colors.Rule.Sprint(line))
	c.writeln(c.colors.Title.Sprintf("Form submission load test - %s", meta.BaseURL))
	c.writeln(c.colors.Rule.Sprint(line))
	c.writeln(fmt.Sprintf("Forms:    %s", strings.Join(meta.FormIDs, ", ")))
	var total time.Duration
	for _, ph := range meta.Phases {
		total += ph.Duration
		c.writeln(fmt.Sprintf("Phase:    %s %d → %d over %s",
			c.colors.Phase.Sprint(ph.Name), ph.From, ph.To, formatDuration(ph.Duration)))
	}
	c.writeln(fmt.Sprintf("Duration: %s", c.colors.Value.Sprint(formatDuration(total))))
	c.writeln("")
}

// PrintProgress prints a one-line status update.
func (c *Console) PrintProgress(snap *metrics.Snapshot) {
	if c.quiet {
		return
	}
	c.writeln(fmt.Sprintf("[%s] %s | Sessions: %d / %d | Done: %d | Failed: %d | Reqs: %d | Errors: %d (%.1f%%) | P95: %s",
		formatDuration(snap.Elapsed),
		c.colors.Phase.Sprint(snap.Phase),
		snap.ActiveSessions,
		snap.TargetSessions,
		snap.Sessions.Completed,
		snap.Sessions.Failed,
		snap.TotalRequests,
		snap.FailedRequests,
		snap.ErrorRate*100,
		formatDurationShort(snap.Latency.P95),
	))
}

// PrintSummary prints the final summary.
func (c *Console) PrintSummary(s *Summary) {
	if c.quiet {
		if s.Passed {
			c.writeln(c.colors.Good.Sprint("PASSED"))
		} else {
			c.writeln(c.colors.Bad.Sprint("FAILED"))
		}
		return
	}

	line := strings.Repeat(boxHorizontal, 56)
	status := c.colors.Good.Sprint("Completed ✓")
	if !s.Passed {
		status = c.colors.Bad.Sprint("Failed ✗")
	}

	c.writeln("")
	c.writeln(c.colors.Rule.Sprint(line))
	c.writeln(fmt.Sprintf("%s - %s", c.colors.Title.Sprint("Form submission load test"), status))
	c.writeln(c.colors.Rule.Sprint(line))
	c.writeln("")

	c.writeln(fmt.Sprintf("Duration:      %s", c.colors.Value.Sprint(formatDuration(time.Duration(s.DurationSeconds*float64(time.Second))))))
	c.writeln(fmt.Sprintf("Total Reqs:    %s", c.colors.Value.Sprint(formatNumber(s.Requests.Total))))
	successRate := 1 - s.Requests.ErrorRate
	c.writeln(fmt.Sprintf("Success Rate:  %s", c.rate(successRate).Sprintf("%.1f%%", successRate*100)))
	c.writeln(fmt.Sprintf("RPS:           %s", c.colors.Value.Sprintf("%.1f", s.Requests.RPS)))
	c.writeln("")

	c.writeln(c.colors.Label.Sprint("Sessions:"))
	c.writeln(fmt.Sprintf("  Started:     %s", formatNumber(s.Sessions.Started)))
	c.writeln(fmt.Sprintf("  Completed:   %s", c.colors.Good.Sprint(formatNumber(s.Sessions.Completed))))
	failed := c.colors.Good
	if s.Sessions.Failed > 0 {
		failed = c.colors.Bad
	}
	c.writeln(fmt.Sprintf("  Failed:      %s", failed.Sprint(formatNumber(s.Sessions.Failed))))
	kinds := make([]string, 0, len(s.Sessions.FailedByKind))
	for kind := range s.Sessions.FailedByKind {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	for _, kind := range kinds {
		c.writeln(fmt.Sprintf("    %-18s %d", kind+":", s.Sessions.FailedByKind[kind]))
	}
	c.writeln(fmt.Sprintf("  Retired:     %s", formatNumber(s.Sessions.Retired)))
	incomplete := c.colors.Good
	if s.Sessions.Incomplete > 0 {
		incomplete = c.colors.Warn
	}
	c.writeln(fmt.Sprintf("  Incomplete:  %s", incomplete.Sprint(formatNumber(s.Sessions.Incomplete))))
	c.writeln("")

	c.writeln(c.colors.Label.Sprint("Latency Distribution:"))
	c.writeln(fmt.Sprintf("  Min:       %s", formatMillis(s.Latency.MinMs)))
	c.writeln(fmt.Sprintf("  P50:       %s", formatMillis(s.Latency.P50Ms)))
	c.writeln(fmt.Sprintf("  P90:       %s", formatMillis(s.Latency.P90Ms)))
	c.writeln(fmt.Sprintf("  P95:       %s", formatMillis(s.Latency.P95Ms)))
	c.writeln(fmt.Sprintf("  P99:       %s", formatMillis(s.Latency.P99Ms)))
	c.writeln(fmt.Sprintf("  Max:       %s", formatMillis(s.Latency.MaxMs)))
	c.writeln("")

	if len(s.ByRequest) > 0 {
		c.writeln(c.colors.Label.Sprint("Requests:"))
		width := 0
		for _, r := range s.ByRequest {
			if len(r.Name) > width {
				width = len(r.Name)
			}
		}
		for _, r := range s.ByRequest {
			c.writeln(fmt.Sprintf("  %-*s  %6d  p50 %s  p95 %s",
				width, r.Name, r.Count,
				c.colors.Latency.Sprint(formatMillis(r.P50Ms)),
				c.colors.Latency.Sprint(formatMillis(r.P95Ms)),
			))
		}
		c.writeln("")
	}
}

func (c *Console) rate(successRate float64) *color.Color {
	switch {
	case successRate < 0.95:
		return c.colors.Bad
	case successRate < 0.99:
		return c.colors.Warn
	default:
		return c.colors.Good
	}
}

func (c *Console) writeln(s string) {
	fmt.Fprintln(c.w, s)
}

// formatDuration formats a duration in a human-readable format.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %02ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %02dm %02ds", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
}

func formatDurationShort(d time.Duration) string {
	switch {
	case d < time.Microsecond:
		return "0ms"
	case d < time.Millisecond:
		return fmt.Sprintf("%dµs", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.2fs", d.Seconds())
	default:
		return fmt.Sprintf("%.1fm", d.Minutes())
	}
}

func formatMillis(ms float64) string {
	return formatDurationShort(time.Duration(ms * float64(time.Millisecond)))
}

// formatNumber formats a number with thousands separators.
func formatNumber(n int64) string {
	str := fmt.Sprintf("%d", n)
	if n < 0 {
		return "-" + formatNumber(-n)
	}
	if len(str) <= 3 {
		return str
	}

	var b strings.Builder
	offset := len(str) % 3
	if offset > 0 {
		b.WriteString(str[:offset])
	}
	for i := offset; i < len(str); i += 3 {
		if b.Len() > 0 {
			b.WriteString(",")
		}
		b.WriteString(str[i : i+3])
	}
	return b.String()
}
