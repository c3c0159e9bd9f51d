package store

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

// CreateWorker persists a new Worker record and indexes it under its job.
func (s *Store) CreateWorker(w *Worker) error {
	if w.StartedAt.IsZero() {
		w.StartedAt = time.Now().UTC()
	}
	w.LastHeartbeat = w.StartedAt

	return s.db.Update(func(tx *bbolt.Tx) error {
		workers := tx.Bucket(bucketWorkers)
		if err := putJSON(workers, []byte(w.ID), w); err != nil {
			return err
		}
		byJob, err := tx.Bucket(bucketWorkersByJob).CreateBucketIfNotExists([]byte(w.JobID))
		if err != nil {
			return err
		}
		return byJob.Put([]byte(w.ID), []byte{1})
	})
}

// UpdateWorker persists changes to an existing Worker.
func (s *Store) UpdateWorker(w *Worker) error {
	w.LastHeartbeat = time.Now().UTC()
	return s.db.Update(func(tx *bbolt.Tx) error {
		workers := tx.Bucket(bucketWorkers)
		if workers.Get([]byte(w.ID)) == nil {
			return fmt.Errorf("worker %s not found", w.ID)
		}
		return putJSON(workers, []byte(w.ID), w)
	})
}

// GetWorker fetches one worker by id.
func (s *Store) GetWorker(id string) (*Worker, error) {
	var w Worker
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketWorkers).Get([]byte(id))
		if raw == nil {
			return fmt.Errorf("worker %s not found", id)
		}
		return json.Unmarshal(raw, &w)
	})
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// ListWorkersForJob returns every worker record created for jobID.
func (s *Store) ListWorkersForJob(jobID string) ([]*Worker, error) {
	var out []*Worker
	err := s.db.View(func(tx *bbolt.Tx) error {
		workers := tx.Bucket(bucketWorkers)
		byJob := tx.Bucket(bucketWorkersByJob).Bucket([]byte(jobID))
		if byJob == nil {
			return nil
		}
		c := byJob.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			raw := workers.Get(k)
			if raw == nil {
				continue
			}
			var w Worker
			if err := json.Unmarshal(raw, &w); err != nil {
				return err
			}
			out = append(out, &w)
		}
		return nil
	})
	return out, err
}

// LivenessChecker reports whether pid still refers to the same process
// that was recorded as started at startedAt, rather than an unrelated
// process that reused the pid after the original one exited.
// Injected rather than imported directly so the store package stays
// testable without spawning real processes; production wiring is
// internal/store/liveness (gopsutil-backed IsAlive plus StartedAfter).
type LivenessChecker func(pid int, startedAt time.Time) bool

// CleanupStaleWorkers marks every worker of jobID terminated whose
// process_id is not alive (or whose recorded start time no longer
// matches the live process at that pid, a PID-reuse guard for workers
// that were recorded long before a resumed Supervisor rechecks them).
// Called by the Supervisor on every entry before the dispatch loop
// starts.
func (s *Store) CleanupStaleWorkers(jobID string, isAlive LivenessChecker) (int, error) {
	cleaned := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		workers := tx.Bucket(bucketWorkers)
		byJob := tx.Bucket(bucketWorkersByJob).Bucket([]byte(jobID))
		if byJob == nil {
			return nil
		}
		c := byJob.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			raw := workers.Get(k)
			if raw == nil {
				continue
			}
			var w Worker
			if err := json.Unmarshal(raw, &w); err != nil {
				return err
			}
			if w.Status == WorkerStatusTerminated {
				continue
			}
			if w.ProcessID != 0 && isAlive(w.ProcessID, w.StartedAt) {
				continue
			}
			w.Status = WorkerStatusTerminated
			if err := putJSON(workers, k, &w); err != nil {
				return err
			}
			cleaned++
		}
		return nil
	})
	return cleaned, err
}
