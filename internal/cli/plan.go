package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/alphagov/forms-load-tests/internal/workload"
)

func newPlanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the target concurrency curve without sending requests",
		RunE: func(cmd *cobra.Command, _ []string) error {
			step, _ := cmd.Flags().GetDuration("step")
			if step <= 0 {
				return fmt.Errorf("step must be > 0, got %s", step)
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			plan, err := workload.PlanFromConfig(cfg)
			if err != nil {
				return err
			}
			printPlan(cmd.OutOrStdout(), plan, step)
			return nil
		},
	}

	addConfigFlags(cmd.Flags())
	cmd.Flags().Duration("step", time.Second, "sampling interval")
	return cmd
}

func printPlan(w io.Writer, plan *workload.Plan, step time.Duration) {
	fmt.Fprintln(w, "Phases:")
	for _, ph := range plan.Phases() {
		fmt.Fprintf(w, "  %-12s %4d → %-4d %s\n", ph.Name, ph.From, ph.To, ph.Duration)
	}
	fmt.Fprintf(w, "Total duration: %s\n", plan.TotalDuration())
	fmt.Fprintf(w, "Peak sessions:  %d\n", plan.Peak())
	fmt.Fprintf(w, "Session-seconds: %.1f\n", plan.Area())
	fmt.Fprintln(w)

	fmt.Fprintf(w, "%10s  %-12s %-11s %s\n", "ELAPSED", "PHASE", "TREND", "TARGET")
	for t := time.Duration(0); ; t += step {
		ended := t >= plan.TotalDuration()
		name := "end"
		if _, ph, ok := plan.PhaseAt(t); ok {
			name = ph.Name
		}
		fmt.Fprintf(w, "%10s  %-12s %-11s %d\n", t, name, plan.TrendAt(t), plan.Target(t))
		if ended {
			return
		}
	}
}
