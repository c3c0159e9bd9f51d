package supervisor

import (
	"fmt"
	"syscall"
	"time"

	"github.com/mattsolo1/grove-batch/internal/batcherr"
	"github.com/mattsolo1/grove-batch/internal/store"
)

// KillUnit group-kills the OS process backing unit_id and marks the
// unit failed with error "killed". It operates directly on the Store
// rather than through a live Pool, since the HTTP API process and the
// Supervisor that is actually running the unit are different OS
// processes — the only channel between them is the Store plus the
// recorded process_id.
func KillUnit(st *store.Store, unitID string) error {
	unit, err := st.GetWorkUnit(unitID)
	if err != nil {
		return fmt.Errorf("load unit: %w", err)
	}
	if unit.Status != store.UnitStatusProcessing || unit.ProcessID == 0 {
		return fmt.Errorf("unit %s is not currently processing: %w", unitID, batcherr.ErrUnitNotFound)
	}

	if err := syscall.Kill(-unit.ProcessID, syscall.SIGKILL); err != nil {
		return fmt.Errorf("kill process group %d: %w", unit.ProcessID, err)
	}

	unit.Status = store.UnitStatusFailed
	unit.Error = batcherr.ErrKilled.Error()
	unit.WorkerID = ""
	unit.ProcessID = 0
	unit.CompletedAt = time.Now().UTC()
	if err := st.UpdateWorkUnit(unit); err != nil {
		return err
	}
	_ = st.AppendLog(store.LogEntry{
		Level:   "warn",
		Source:  "supervisor",
		JobID:   unit.JobID,
		UnitID:  unit.ID,
		Message: "unit killed by operator",
	})
	return nil
}

// RestartUnit resets a failed unit to pending and clears worker_id,
// process_id, and error, leaving retry_count untouched (this is an
// operator override, not a counted retry attempt).
func RestartUnit(st *store.Store, unitID string) error {
	unit, err := st.GetWorkUnit(unitID)
	if err != nil {
		return fmt.Errorf("load unit: %w", err)
	}
	if unit.Status != store.UnitStatusFailed {
		return fmt.Errorf("unit %s is not failed, cannot restart", unitID)
	}

	unit.Status = store.UnitStatusPending
	unit.WorkerID = ""
	unit.ProcessID = 0
	unit.Error = ""
	unit.AssignedAt = time.Time{}
	unit.StartedAt = time.Time{}
	unit.CompletedAt = time.Time{}
	return st.UpdateWorkUnit(unit)
}
