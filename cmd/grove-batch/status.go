package main

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/mattsolo1/grove-batch/internal/config"
	"github.com/mattsolo1/grove-batch/internal/store"
)

func newStatusCmd() *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "status [job-id]",
		Short: "Show job status, or watch one job live",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var jobID string
			if len(args) == 1 {
				jobID = args[0]
			}
			return runStatus(jobID, watch)
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Poll and redraw until the job reaches a terminal state")
	return cmd
}

// runStatus prints a single snapshot for the job list or one job, or,
// when --watch is given on an interactive terminal, launches the
// bubbletea live view. Watch mode silently degrades to a one-shot
// print when stdout is not a TTY, since a redrawing TUI piped to a
// file or another process produces garbage.
func runStatus(jobID string, watch bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("%w: %v", errConfig, err)
	}

	st, err := store.Open(cfg.StoragePath)
	if err != nil {
		return fmt.Errorf("%w: %v", errStoreCorrupt, err)
	}
	defer st.Close()

	if jobID == "" {
		return printJobList(os.Stdout, st)
	}

	isTTY := isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
	if watch && isTTY {
		return runStatusTUI(st, jobID)
	}
	return printJobStatus(os.Stdout, st, jobID)
}

func printJobList(w io.Writer, st *store.Store) error {
	jobs, err := st.ListJobs(store.JobFilter{}, 0, 0)
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}
	if len(jobs) == 0 {
		fmt.Fprintln(w, "no jobs")
		return nil
	}
	for _, j := range jobs {
		fmt.Fprintf(w, "%s %-36s %-16s %d/%d completed\n",
			statusIcon(j.Status), j.ID, j.Status, j.DisplayCompletedUnits(), j.TotalUnits)
	}
	return nil
}

func printJobStatus(w io.Writer, st *store.Store, jobID string) error {
	job, err := st.GetJob(jobID)
	if err != nil {
		return fmt.Errorf("get job: %w", err)
	}

	counts, err := st.CountUnitsByStatus(jobID)
	if err != nil {
		return fmt.Errorf("count units: %w", err)
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "Job: %s\n", color.CyanString(job.Name))
	fmt.Fprintf(&buf, "Status: %s %s\n", statusIcon(job.Status), job.Status)
	fmt.Fprintf(&buf, "Progress: %d/%d units completed, %d failed\n",
		job.DisplayCompletedUnits(), job.TotalUnits, job.FailedUnits)

	if job.BypassFailures {
		fmt.Fprintln(&buf, color.YellowString("bypass_failures: true"))
	}

	fmt.Fprintln(&buf)
	for _, status := range []store.UnitStatus{
		store.UnitStatusPending, store.UnitStatusAssigned, store.UnitStatusProcessing,
		store.UnitStatusCompleted, store.UnitStatusFailed,
	} {
		if n := counts[status]; n > 0 {
			fmt.Fprintf(&buf, "  %-12s %d\n", status, n)
		}
	}

	_, err = w.Write(buf.Bytes())
	return err
}

func statusIcon(status store.JobStatus) string {
	switch status {
	case store.JobStatusCompleted:
		return color.GreenString("✓")
	case store.JobStatusRunning, store.JobStatusTesting, store.JobStatusPostProcessing:
		return color.YellowString("⚡")
	case store.JobStatusFailed:
		return color.RedString("✗")
	case store.JobStatusPaused:
		return color.CyanString("⏸")
	default: // created
		return "⏳"
	}
}
