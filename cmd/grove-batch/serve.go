package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mattsolo1/grove-batch/internal/agent"
	"github.com/mattsolo1/grove-batch/internal/config"
	"github.com/mattsolo1/grove-batch/internal/httpapi"
	"github.com/mattsolo1/grove-batch/internal/orchestrator"
	"github.com/mattsolo1/grove-batch/internal/store"
)

const shutdownGrace = 10 * time.Second

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the front-facing HTTP API (job CRUD, lifecycle commands)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address, overrides DASHBOARD_PORT")
	return cmd
}

func runServe(addr string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("%w: %v", errConfig, err)
	}

	log := newLogger()

	st, err := store.Open(cfg.StoragePath)
	if err != nil {
		return fmt.Errorf("%w: %v", errStoreCorrupt, err)
	}
	defer st.Close()

	runner := agent.NewRunner(cfg.AgentCommand)
	spawner := &orchestrator.ProcessSpawner{StoragePath: cfg.StoragePath}
	orch := orchestrator.New(st, runner, spawner, log)

	if addr == "" {
		addr = fmt.Sprintf(":%d", cfg.DashboardPort)
	}
	server := httpapi.New(st, orch,
		httpapi.WithAddr(addr),
		httpapi.WithLogger(log.WithField("component", "httpapi")),
	)

	return serveUntilSignal(server, log)
}

// serveUntilSignal runs server until it exits on its own or the
// process receives SIGINT/SIGTERM, in which case it drains in-flight
// requests before returning.
func serveUntilSignal(server *httpapi.Server, log *logrus.Entry) error {
	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		log.Info("shutdown signal received, draining requests")
		ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return server.Shutdown(ctx)
	}
}
