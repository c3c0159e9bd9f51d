// Command grove-batch runs the batch engine's front-facing processes:
// the HTTP API (serve), a read-only dashboard, a dev-only store reset,
// a status viewer/TUI, and the hidden supervisor entry point a spawned
// job process re-execs into.
//
// Grounded on grovetools-flow's cmd/root_commands.go + main.go for the
// cobra root-command construction, adapted from grove-core's
// cli.NewStandardCommand (a private module with no source in the
// retrieval pack) to a *cobra.Command built directly in this package.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:           "grove-batch",
		Short:         "Batch orchestrator for agentic LLM tasks",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newServeCmd(),
		newDashboardCmd(),
		newResetCmd(),
		newStatusCmd(),
		newSuperviseCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}
