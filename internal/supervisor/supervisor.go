// Package supervisor is the detached process that owns one job's
// lifecycle from the moment it is spawned until the job reaches a
// terminal or paused state: recovery of stale state, the main
// dispatch loop, the optional post-processing unit, and graceful
// shutdown.
//
// Grounded on grovetools-flow's Orchestrator.RunAll poll loop
// (orchestrator.go) for the recovery-then-dispatch shape, and on
// sallandpioneers-ultra-engineer's cmd/ultra-engineer/daemon.go for
// signal-driven cancellation, generalized here to a two-stage
// graceful-drain-then-escalate handler.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mattsolo1/grove-batch/internal/agent"
	"github.com/mattsolo1/grove-batch/internal/pool"
	"github.com/mattsolo1/grove-batch/internal/store"
)

// pageSize bounds how many pending units the dispatch loop fetches per
// pass, so a job with many thousands of units does not load them all
// into memory at once.
const pageSize = 50

// workerPool is the subset of *pool.Pool the dispatch loop and
// post-processing phase depend on, narrowed to an interface so tests
// can drive the state machine with a fake pool instead of spawning
// real agent subprocesses.
type workerPool interface {
	Dispatch(ctx context.Context, job *store.Job, unit *store.WorkUnit, template string)
	Wait()
	InFlight() int
	KillUnit(unitID string) bool
}

// Supervisor drives a single job from its current state to a terminal
// outcome or a graceful pause.
type Supervisor struct {
	JobID string

	st      *store.Store
	runner  *agent.Runner
	metrics *pool.Metrics
	log     *logrus.Entry

	// newPool builds the worker pool used for a run; overridable in
	// tests so the state machine can be exercised against a fake pool
	// instead of spawning real agent subprocesses.
	newPool func(maxWorkers int) workerPool

	stopRequested atomic.Bool
}

// New builds a Supervisor for jobID. The caller owns the Store handle
// and must not also run another Supervisor or Pool against the same
// job concurrently.
func New(jobID string, st *store.Store, runner *agent.Runner, metrics *pool.Metrics, log *logrus.Entry) *Supervisor {
	s := &Supervisor{
		JobID:   jobID,
		st:      st,
		runner:  runner,
		metrics: metrics,
		log:     log.WithField("job_id", jobID),
	}
	s.newPool = func(maxWorkers int) workerPool {
		return pool.New(jobID, maxWorkers, runner, st, metrics, s.log)
	}
	return s
}

// SetPoolFactory overrides how the Supervisor builds its worker pool
// for a run. Test-only hook.
func (s *Supervisor) SetPoolFactory(f func(maxWorkers int) workerPool) {
	s.newPool = f
}

// Run executes the full entry sequence: recovery, transition to
// running, main dispatch loop, optional post-processing, and final
// status computation. It installs its own signal handlers, since a
// Supervisor is meant to run as the body of a detached process that
// owns its own terminal-independent lifecycle.
func (s *Supervisor) Run(parent context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.WithField("panic", fmt.Sprintf("%v", r)).Error("supervisor crashed")
			s.markCrashed(r)
			err = fmt.Errorf("supervisor panic: %v", r)
		}
	}()

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go s.watchSignals(sigCh, cancel)

	if err := s.recover(); err != nil {
		return fmt.Errorf("recovery: %w", err)
	}

	job, err := s.st.GetJob(s.JobID)
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}
	job.Status = store.JobStatusRunning
	if job.StartedAt.IsZero() {
		job.StartedAt = time.Now().UTC()
	}
	if err := s.st.UpdateJob(job); err != nil {
		return fmt.Errorf("transition to running: %w", err)
	}

	p := s.newPool(job.MaxWorkers)

	if err := s.dispatchLoop(ctx, p, job); err != nil {
		return fmt.Errorf("dispatch loop: %w", err)
	}

	job, err = s.st.GetJob(s.JobID)
	if err != nil {
		return fmt.Errorf("reload job after dispatch: %w", err)
	}

	if s.stopRequested.Load() {
		job.Status = store.JobStatusPaused
		job.CompletedAt = time.Time{}
		if err := s.st.UpdateJob(job); err != nil {
			return fmt.Errorf("transition to paused: %w", err)
		}
		s.log.Info("job paused on shutdown request")
		s.appendLog("warn", "job paused on shutdown request")
		return nil
	}

	counts, err := s.st.CountUnitsByStatus(s.JobID)
	if err != nil {
		return fmt.Errorf("count units: %w", err)
	}
	anyFailed := counts[store.UnitStatusFailed] > 0

	if job.PostProcessingPrompt != "" && (!anyFailed || job.BypassFailures) {
		if anyFailed {
			s.log.Warn("bypassing unit failures to run post-processing")
		}
		ppSucceeded, err := s.runPostProcessing(ctx, p, job)
		if err != nil {
			return fmt.Errorf("post-processing: %w", err)
		}
		job, err = s.st.GetJob(s.JobID)
		if err != nil {
			return fmt.Errorf("reload job after post-processing: %w", err)
		}
		if ppSucceeded {
			job.Status = store.JobStatusCompleted
		} else {
			job.Status = store.JobStatusFailed
		}
	} else if anyFailed {
		job.Status = store.JobStatusFailed
	} else {
		job.Status = store.JobStatusCompleted
	}

	job.CompletedAt = time.Now().UTC()
	if err := s.st.UpdateJob(job); err != nil {
		return fmt.Errorf("persist final status: %w", err)
	}
	s.log.WithField("status", job.Status).Info("job finished")
	s.appendLog("info", fmt.Sprintf("job finished with status %s", job.Status))
	return nil
}

// appendLog persists a LogEntry for this job, logging (not failing)
// any write error, the same way the orchestrator package's
// recordSupervisorPID treats its bookkeeping writes.
func (s *Supervisor) appendLog(level, message string) {
	if err := s.st.AppendLog(store.LogEntry{Level: level, Source: "supervisor", JobID: s.JobID, Message: message}); err != nil {
		s.log.WithError(err).Warn("append log entry")
	}
}

// watchSignals implements the two-stage shutdown: the first signal
// requests a graceful drain (stop dispatching new units, let in-flight
// ones finish); the second cancels ctx, which cascades into every
// in-flight unit's runner context and group-kills its subprocess.
func (s *Supervisor) watchSignals(sigCh <-chan os.Signal, escalate context.CancelFunc) {
	first := true
	for range sigCh {
		if first {
			first = false
			s.log.Warn("shutdown signal received, draining in-flight units")
			s.stopRequested.Store(true)
			continue
		}
		s.log.Warn("second shutdown signal, killing in-flight units")
		escalate()
		return
	}
}

// recover performs the startup-recovery steps every entry (fresh start
// or resume) must run before touching the dispatch loop.
func (s *Supervisor) recover() error {
	cleaned, err := s.st.CleanupStaleWorkers(s.JobID, dependencyLivenessChecker())
	if err != nil {
		return fmt.Errorf("cleanup stale workers: %w", err)
	}
	if cleaned > 0 {
		s.log.WithField("count", cleaned).Info("cleaned up stale workers")
	}

	reset, err := s.st.ResetStuckUnits(s.JobID)
	if err != nil {
		return fmt.Errorf("reset stuck units: %w", err)
	}
	if reset > 0 {
		s.log.WithField("count", reset).Info("reset stuck units to pending")
	}
	return nil
}

// markCrashed records a Supervisor-level panic on the job so an
// operator can see why the process died instead of just disappearing.
func (s *Supervisor) markCrashed(panicValue interface{}) {
	job, err := s.st.GetJob(s.JobID)
	if err != nil {
		s.log.WithError(err).Error("load job while recording crash")
		return
	}
	if job.Metadata == nil {
		job.Metadata = map[string]interface{}{}
	}
	job.Metadata["crash"] = fmt.Sprintf("%v", panicValue)
	job.Status = store.JobStatusFailed
	job.CompletedAt = time.Now().UTC()
	if err := s.st.UpdateJob(job); err != nil {
		s.log.WithError(err).Error("persist crash status")
	}
	s.appendLog("error", fmt.Sprintf("supervisor crashed: %v", panicValue))
}
