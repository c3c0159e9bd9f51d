package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mattsolo1/grove-batch/internal/config"
	"github.com/mattsolo1/grove-batch/internal/httpapi"
	"github.com/mattsolo1/grove-batch/internal/store"
)

func newDashboardCmd() *cobra.Command {
	var port int
	var dbPath string
	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Serve a read-only view of job and unit state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDashboard(port, dbPath)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "Listen port, overrides DASHBOARD_PORT")
	cmd.Flags().StringVar(&dbPath, "db", "", "Path to the store database, overrides STORAGE_PATH")
	return cmd
}

// runDashboard serves the same GET surface as serve, minus every
// lifecycle command: the dashboard is meant to be left open on a
// second terminal or shared with a teammate who should not be able to
// kill or restart a job by mistake.
func runDashboard(port int, dbPath string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("%w: %v", errConfig, err)
	}

	log := newLogger()

	if dbPath == "" {
		dbPath = cfg.StoragePath
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("%w: %v", errStoreCorrupt, err)
	}
	defer st.Close()

	if port == 0 {
		port = cfg.DashboardPort
	}
	server := httpapi.New(st, nil,
		httpapi.WithAddr(fmt.Sprintf(":%d", port)),
		httpapi.WithLogger(log.WithField("component", "dashboard")),
		httpapi.WithReadOnly(),
	)

	return serveUntilSignal(server, log)
}
