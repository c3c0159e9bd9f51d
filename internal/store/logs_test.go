package store

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppendAndQueryLogs(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.AppendLog(LogEntry{Level: "info", JobID: "job-1", Message: "started"}))
	require.NoError(t, st.AppendLog(LogEntry{Level: "error", JobID: "job-1", UnitID: "u-1", Message: "failed"}))
	require.NoError(t, st.AppendLog(LogEntry{Level: "info", JobID: "job-2", Message: "other job"}))

	forJob, err := st.QueryLogs(LogFilter{JobID: "job-1"})
	require.NoError(t, err)
	require.Len(t, forJob, 2)

	errorsOnly, err := st.QueryLogs(LogFilter{JobID: "job-1", Level: "error"})
	require.NoError(t, err)
	require.Len(t, errorsOnly, 1)
	require.Equal(t, "u-1", errorsOnly[0].UnitID)

	limited, err := st.QueryLogs(LogFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
}
