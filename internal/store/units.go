package store

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

// CreateWorkUnit persists a new WorkUnit and indexes it under its job.
func (s *Store) CreateWorkUnit(u *WorkUnit) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	if u.Status == "" {
		u.Status = UnitStatusPending
	}
	u.Version = 1

	return s.db.Update(func(tx *bbolt.Tx) error {
		units := tx.Bucket(bucketWorkUnits)
		if units.Get([]byte(u.ID)) != nil {
			return fmt.Errorf("unit %s: %w", u.ID, errInvariant("unit already exists"))
		}
		if err := putJSON(units, []byte(u.ID), u); err != nil {
			return err
		}
		byJob, err := tx.Bucket(bucketUnitsByJob).CreateBucketIfNotExists([]byte(u.JobID))
		if err != nil {
			return err
		}
		return byJob.Put(createdIndexKey(u.CreatedAt, u.ID), []byte(u.ID))
	})
}

// validateUnitInvariants enforces the WorkUnit field relationships
// that must hold in every persisted record.
func validateUnitInvariants(u *WorkUnit) error {
	if u.RetryCount > u.MaxRetries+1 {
		return fmt.Errorf("unit %s: %w", u.ID, errInvariant("retry_count exceeds max_retries+1"))
	}
	if (u.Status == UnitStatusCompleted || u.Status == UnitStatusFailed) && u.CompletedAt.IsZero() {
		return fmt.Errorf("unit %s: %w", u.ID, errInvariant("terminal status without completed_at"))
	}
	wantsWorker := u.Status == UnitStatusAssigned || u.Status == UnitStatusProcessing
	if wantsWorker && u.WorkerID == "" {
		return fmt.Errorf("unit %s: %w", u.ID, errInvariant("assigned/processing unit without worker_id"))
	}
	if !wantsWorker && u.WorkerID != "" {
		return fmt.Errorf("unit %s: %w", u.ID, errInvariant("worker_id set outside assigned/processing"))
	}
	if u.ProcessID != 0 && u.Status != UnitStatusProcessing {
		return fmt.Errorf("unit %s: %w", u.ID, errInvariant("process_id set outside processing"))
	}
	return nil
}

// UpdateWorkUnit persists changes to an existing unit, enforcing
// invariants and the optimistic-version check.
func (s *Store) UpdateWorkUnit(u *WorkUnit) error {
	if u.Status == UnitStatusCompleted || u.Status == UnitStatusFailed {
		if u.CompletedAt.IsZero() {
			u.CompletedAt = time.Now().UTC()
		}
		if !u.StartedAt.IsZero() {
			u.ExecutionTimeSeconds = u.CompletedAt.Sub(u.StartedAt).Seconds()
		}
	}
	if err := validateUnitInvariants(u); err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		units := tx.Bucket(bucketWorkUnits)
		raw := units.Get([]byte(u.ID))
		if raw == nil {
			return fmt.Errorf("unit %s: %w", u.ID, errNotFound("unit"))
		}
		var existing WorkUnit
		if err := json.Unmarshal(raw, &existing); err != nil {
			return fmt.Errorf("decode existing unit: %w", err)
		}
		if existing.Version != u.Version {
			return fmt.Errorf("unit %s: %w", u.ID, errStale())
		}
		u.Version = existing.Version + 1
		return putJSON(units, []byte(u.ID), u)
	})
}

// GetWorkUnit fetches one unit by id.
func (s *Store) GetWorkUnit(id string) (*WorkUnit, error) {
	var u WorkUnit
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketWorkUnits).Get([]byte(id))
		if raw == nil {
			return fmt.Errorf("unit %s: %w", id, errNotFound("unit"))
		}
		return json.Unmarshal(raw, &u)
	})
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// unitsForJob returns every unit id indexed under jobID, oldest first.
func unitsForJob(tx *bbolt.Tx, jobID string) []string {
	byJob := tx.Bucket(bucketUnitsByJob).Bucket([]byte(jobID))
	if byJob == nil {
		return nil
	}
	var ids []string
	c := byJob.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		ids = append(ids, string(v))
	}
	return ids
}

// GetPendingUnits returns up to limit pending units for jobID, ordered
// by created_at ascending.
func (s *Store) GetPendingUnits(jobID string, limit int) ([]*WorkUnit, error) {
	var out []*WorkUnit
	err := s.db.View(func(tx *bbolt.Tx) error {
		units := tx.Bucket(bucketWorkUnits)
		for _, id := range unitsForJob(tx, jobID) {
			raw := units.Get([]byte(id))
			if raw == nil {
				continue
			}
			var u WorkUnit
			if err := json.Unmarshal(raw, &u); err != nil {
				return err
			}
			if u.Status != UnitStatusPending {
				continue
			}
			out = append(out, &u)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		return nil
	})
	return out, err
}

// CountUnitsByStatus returns a status -> count map for jobID.
func (s *Store) CountUnitsByStatus(jobID string) (map[UnitStatus]int, error) {
	counts := make(map[UnitStatus]int)
	err := s.db.View(func(tx *bbolt.Tx) error {
		units := tx.Bucket(bucketWorkUnits)
		for _, id := range unitsForJob(tx, jobID) {
			raw := units.Get([]byte(id))
			if raw == nil {
				continue
			}
			var u WorkUnit
			if err := json.Unmarshal(raw, &u); err != nil {
				return err
			}
			counts[u.Status]++
		}
		return nil
	})
	return counts, err
}

// ListUnitsForJob returns units for jobID, oldest first, optionally
// excluding the synthetic post_processing unit.
func (s *Store) ListUnitsForJob(jobID string, limit, offset int, excludePostProcessing bool) ([]*WorkUnit, error) {
	var out []*WorkUnit
	err := s.db.View(func(tx *bbolt.Tx) error {
		units := tx.Bucket(bucketWorkUnits)
		skipped := 0
		for _, id := range unitsForJob(tx, jobID) {
			raw := units.Get([]byte(id))
			if raw == nil {
				continue
			}
			var u WorkUnit
			if err := json.Unmarshal(raw, &u); err != nil {
				return err
			}
			if excludePostProcessing && u.UnitType == PostProcessingUnitType {
				continue
			}
			if skipped < offset {
				skipped++
				continue
			}
			out = append(out, &u)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		return nil
	})
	return out, err
}

// ResetStuckUnits resets to pending any unit of jobID in assigned or
// processing status whose worker_id points at a worker that is no
// longer alive. Called on Supervisor start after CleanupStaleWorkers.
// retry_count is left unchanged: this is a supervisor-restart
// recovery, not a retry.
func (s *Store) ResetStuckUnits(jobID string) (int, error) {
	reset := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		units := tx.Bucket(bucketWorkUnits)
		workers := tx.Bucket(bucketWorkers)

		for _, id := range unitsForJob(tx, jobID) {
			raw := units.Get([]byte(id))
			if raw == nil {
				continue
			}
			var u WorkUnit
			if err := json.Unmarshal(raw, &u); err != nil {
				return err
			}
			if u.Status != UnitStatusAssigned && u.Status != UnitStatusProcessing {
				continue
			}

			live := false
			if u.WorkerID != "" {
				if wraw := workers.Get([]byte(u.WorkerID)); wraw != nil {
					var w Worker
					if err := json.Unmarshal(wraw, &w); err == nil && w.Status != WorkerStatusTerminated {
						live = true
					}
				}
			}
			if live {
				continue
			}

			u.Status = UnitStatusPending
			u.WorkerID = ""
			u.ProcessID = 0
			u.AssignedAt = time.Time{}
			u.StartedAt = time.Time{}
			if err := putJSON(units, []byte(u.ID), &u); err != nil {
				return err
			}
			reset++
		}
		return nil
	})
	return reset, err
}
