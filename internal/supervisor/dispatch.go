package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mattsolo1/grove-batch/internal/store"
	"github.com/mattsolo1/grove-batch/internal/store/liveness"
)

// pollInterval is how long the dispatch loop waits before re-checking
// for pending units when none were found but the pool still has
// in-flight work (a retry can land a unit back in pending between
// pages).
const pollInterval = 500 * time.Millisecond

// dependencyLivenessChecker wires the gopsutil-backed liveness probe
// into the store.LivenessChecker the Store's cleanup queries expect,
// without the store package itself importing gopsutil. A worker whose
// process_id is alive but started before the recorded worker is
// treated as dead: the pid was reused by an unrelated process after
// the worker it was recorded for already exited.
func dependencyLivenessChecker() store.LivenessChecker {
	return func(pid int, startedAt time.Time) bool {
		if !liveness.IsAlive(pid) {
			return false
		}
		if startedAt.IsZero() {
			return true
		}
		return liveness.StartedAfter(pid, startedAt.UnixMilli())
	}
}

// dispatchLoop runs while stop has not been requested and pending
// units remain or the pool has in-flight work: it fetches a page of
// pending units and hands each to the pool. pool.Dispatch already
// blocks until a worker slot is free, so this loop folds waiting for
// capacity and submitting into one call.
func (s *Supervisor) dispatchLoop(ctx context.Context, p workerPool, job *store.Job) error {
outer:
	for {
		if s.stopRequested.Load() {
			break
		}

		units, err := s.st.GetPendingUnits(s.JobID, pageSize)
		if err != nil {
			return fmt.Errorf("fetch pending units: %w", err)
		}

		if len(units) == 0 {
			if p.InFlight() == 0 {
				break
			}
			select {
			case <-ctx.Done():
				break outer
			case <-time.After(pollInterval):
			}
			continue
		}

		for _, unit := range units {
			if s.stopRequested.Load() {
				break outer
			}
			p.Dispatch(ctx, job, unit, job.WorkerPromptTemplate)
		}
	}

	p.Wait()
	return nil
}

// runPostProcessing transitions the job to post_processing, creates
// the synthetic unit describing job outcomes, dispatches it through
// the pool with an implicit budget of one (a single Dispatch+Wait),
// and reports whether it succeeded.
func (s *Supervisor) runPostProcessing(ctx context.Context, p workerPool, job *store.Job) (bool, error) {
	job.Status = store.JobStatusPostProcessing
	if err := s.st.UpdateJob(job); err != nil {
		return false, fmt.Errorf("transition to post_processing: %w", err)
	}

	counts, err := s.st.CountUnitsByStatus(s.JobID)
	if err != nil {
		return false, fmt.Errorf("count units for post-processing payload: %w", err)
	}

	unit := &store.WorkUnit{
		ID:         uuid.NewString(),
		JobID:      s.JobID,
		UnitType:   store.PostProcessingUnitType,
		MaxRetries: job.MaxRetries,
		Payload: store.NewPayload(map[string]interface{}{
			"job_id":           s.JobID,
			"job_name":         job.Name,
			"completed_units":  counts[store.UnitStatusCompleted],
			"failed_units":     counts[store.UnitStatusFailed],
			"output_directory": job.PostProcessingOutputDirectory,
		}, []string{"job_id", "job_name", "completed_units", "failed_units", "output_directory"}),
	}
	if err := s.st.CreateWorkUnit(unit); err != nil {
		return false, fmt.Errorf("create post-processing unit: %w", err)
	}

	s.log.Info("dispatching post-processing unit")
	p.Dispatch(ctx, job, unit, job.PostProcessingPrompt)
	p.Wait()

	final, err := s.st.GetWorkUnit(unit.ID)
	if err != nil {
		return false, fmt.Errorf("reload post-processing unit: %w", err)
	}
	return final.Status == store.UnitStatusCompleted, nil
}
