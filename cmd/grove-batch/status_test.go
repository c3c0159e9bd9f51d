package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mattsolo1/grove-batch/internal/store"
)

func newStatusTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "status.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestPrintJobListShowsEachJob(t *testing.T) {
	st := newStatusTestStore(t)
	require.NoError(t, st.CreateJob(&store.Job{
		ID: "job-1", Name: "demo", Status: store.JobStatusRunning,
		TotalUnits: 4, CompletedUnits: 2, CreatedAt: time.Now().UTC(),
	}))

	var buf bytes.Buffer
	require.NoError(t, printJobList(&buf, st))
	require.Contains(t, buf.String(), "job-1")
	require.Contains(t, buf.String(), "2/4 completed")
}

func TestPrintJobListReportsNoJobs(t *testing.T) {
	st := newStatusTestStore(t)

	var buf bytes.Buffer
	require.NoError(t, printJobList(&buf, st))
	require.Equal(t, "no jobs\n", buf.String())
}

func TestPrintJobStatusIncludesUnitBreakdown(t *testing.T) {
	st := newStatusTestStore(t)
	require.NoError(t, st.CreateJob(&store.Job{
		ID: "job-1", Name: "demo", Status: store.JobStatusRunning,
		TotalUnits: 3, CompletedUnits: 1, FailedUnits: 1, CreatedAt: time.Now().UTC(),
	}))
	require.NoError(t, st.CreateWorkUnit(&store.WorkUnit{ID: "u-1", JobID: "job-1", Status: store.UnitStatusCompleted}))
	require.NoError(t, st.CreateWorkUnit(&store.WorkUnit{ID: "u-2", JobID: "job-1", Status: store.UnitStatusFailed}))
	require.NoError(t, st.CreateWorkUnit(&store.WorkUnit{ID: "u-3", JobID: "job-1", Status: store.UnitStatusProcessing}))

	var buf bytes.Buffer
	require.NoError(t, printJobStatus(&buf, st, "job-1"))

	out := buf.String()
	require.True(t, strings.Contains(out, "demo"))
	require.True(t, strings.Contains(out, "completed"))
	require.True(t, strings.Contains(out, "failed"))
	require.True(t, strings.Contains(out, "processing"))
}

func TestPrintJobStatusUnknownJobErrors(t *testing.T) {
	st := newStatusTestStore(t)
	var buf bytes.Buffer
	require.Error(t, printJobStatus(&buf, st, "missing"))
}
