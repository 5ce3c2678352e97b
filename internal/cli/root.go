// Package cli implements the formload command line.
package cli

import (
	"github.com/spf13/cobra"
)

var version = "0.1.0"

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "formload",
		Short:   "Closed-model load generator for GOV.UK Forms",
		Version: version,
		Long: `formload simulates concurrent users filling in GOV.UK Forms.

Each simulated user picks a form id, opens its start page and answers every
question it finds by scraping the page for the active field and the
anti-forgery token, then submits the form. The number of concurrent users
follows a ramp-up, steady and ramp-down curve, or a phase plan from a file.`,
		SilenceUsage: true,
		Run: func(cmd *cobra.Command, args []string) {
			// If no subcommand is provided, print help
			_ = cmd.Help()
		},
	}

	root.PersistentFlags().CountP("verbose", "v", "increase log verbosity (-v development, -vv debug)")

	root.AddCommand(newRunCmd())
	root.AddCommand(newPlanCmd())
	root.AddCommand(newServeFakeCmd())
	return root
}

// Execute runs the root command with os.Args.
func Execute() error {
	return NewRootCmd().Execute()
}
