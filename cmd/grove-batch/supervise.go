package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/mattsolo1/grove-batch/internal/agent"
	"github.com/mattsolo1/grove-batch/internal/config"
	"github.com/mattsolo1/grove-batch/internal/pool"
	"github.com/mattsolo1/grove-batch/internal/store"
	"github.com/mattsolo1/grove-batch/internal/supervisor"
)

// newSuperviseCmd is the hidden re-exec target orchestrator.ProcessSpawner
// launches as a detached child; it is never meant to be typed by a
// user, only spawned by this same binary.
func newSuperviseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:    "__supervise <job-id>",
		Hidden: true,
		Args:   cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSupervise(args[0])
		},
	}
	return cmd
}

func runSupervise(jobID string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("%w: %v", errConfig, err)
	}

	log := newLogger().WithField("job_id", jobID)

	st, err := store.Open(cfg.StoragePath)
	if err != nil {
		return fmt.Errorf("%w: %v", errStoreCorrupt, err)
	}
	defer st.Close()

	runner := agent.NewRunner(cfg.AgentCommand)
	metrics := pool.NewMetrics(prometheus.NewRegistry())

	sup := supervisor.New(jobID, st, runner, metrics, log)
	return sup.Run(context.Background())
}
