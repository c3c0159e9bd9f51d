// Package pool is the bounded-concurrency dispatcher a Supervisor uses
// to run a job's work units: it holds a semaphore sized to
// max_workers, hands each admitted unit to a goroutine that drives one
// agent.Runner invocation end to end, and folds the outcome back into
// the Store (unit status, retry bookkeeping, job counters).
//
// Grounded on grovetools-flow's runJobsConcurrently (orchestrator.go)
// generalized from a one-shot fan-out over a fixed job list into a
// long-lived pool a caller feeds one unit at a time, and on
// sallandpioneers-ultra-engineer's internal/orchestrator/concurrent.go
// WorkerPool for the persistent worker-goroutine/channel shape.
package pool

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mattsolo1/grove-batch/internal/agent"
	"github.com/mattsolo1/grove-batch/internal/batcherr"
	"github.com/mattsolo1/grove-batch/internal/store"
)

// AgentRunner is the subset of *agent.Runner a Pool depends on,
// narrowed to an interface so tests can drive runUnit's full lifecycle
// with a fake that returns canned results instead of spawning a real
// agent subprocess.
type AgentRunner interface {
	Run(ctx context.Context, opts agent.RunOptions) *agent.Result
}

// Pool runs work units for a single job with bounded concurrency. A
// Pool is not reused across jobs: the Supervisor constructs one per
// job run.
type Pool struct {
	JobID      string
	MaxWorkers int

	runner  AgentRunner
	st      *store.Store
	metrics *Metrics
	log     *logrus.Entry

	sem chan struct{}
	wg  sync.WaitGroup

	mu       sync.Mutex
	cancels  map[string]context.CancelFunc
	killedBy map[string]bool // unit ids killed via explicit KillUnit, vs. job-level cancellation
}

// New builds a Pool bounded to maxWorkers concurrent unit executions.
func New(jobID string, maxWorkers int, runner AgentRunner, st *store.Store, metrics *Metrics, log *logrus.Entry) *Pool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &Pool{
		JobID:      jobID,
		MaxWorkers: maxWorkers,
		runner:     runner,
		st:         st,
		metrics:    metrics,
		log:        log.WithField("job_id", jobID),
		sem:        make(chan struct{}, maxWorkers),
		cancels:    make(map[string]context.CancelFunc),
		killedBy:   make(map[string]bool),
	}
}

// Dispatch blocks until a worker slot is free, then runs unit in its
// own goroutine. It returns once the unit has been admitted, not once
// it has finished — callers wanting completion call Wait. Cancelling
// ctx both aborts a pending admission and, for every unit already
// admitted under ctx, kills its agent subprocess.
func (p *Pool) Dispatch(ctx context.Context, job *store.Job, unit *store.WorkUnit, template string) {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return
	}

	unitCtx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancels[unit.ID] = cancel
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() { <-p.sem }()
		defer func() {
			p.mu.Lock()
			delete(p.cancels, unit.ID)
			delete(p.killedBy, unit.ID)
			p.mu.Unlock()
			cancel()
		}()
		p.runUnit(unitCtx, job, unit, template)
	}()
}

// KillUnit group-kills the agent subprocess backing unit_id, if it is
// currently in flight on this pool, and marks the resulting failure as
// an explicit kill rather than a transient interruption. Returns false
// if the unit is not currently running here.
func (p *Pool) KillUnit(unitID string) bool {
	p.mu.Lock()
	cancel, ok := p.cancels[unitID]
	if ok {
		p.killedBy[unitID] = true
	}
	p.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Wait blocks until every dispatched unit has finished.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// InFlight reports how many units are currently occupying a slot.
func (p *Pool) InFlight() int {
	return len(p.sem)
}

func (p *Pool) runUnit(ctx context.Context, job *store.Job, unit *store.WorkUnit, template string) {
	logger := p.log.WithField("unit_id", unit.ID)

	worker := &store.Worker{
		ID:            uuid.NewString(),
		JobID:         p.JobID,
		CurrentUnitID: unit.ID,
		Status:        store.WorkerStatusBusy,
	}
	if err := p.st.CreateWorker(worker); err != nil {
		logger.WithError(err).Error("create worker record")
		return
	}
	if p.metrics != nil {
		p.metrics.BusyWorkers.WithLabelValues(p.JobID).Inc()
		p.metrics.UnitsDispatched.WithLabelValues(p.JobID).Inc()
		defer p.metrics.BusyWorkers.WithLabelValues(p.JobID).Dec()
	}

	now := time.Now().UTC()
	unit.Status = store.UnitStatusAssigned
	unit.WorkerID = worker.ID
	unit.AssignedAt = now
	if err := p.st.UpdateWorkUnit(unit); err != nil {
		logger.WithError(err).Error("mark unit assigned")
		return
	}

	unit.Status = store.UnitStatusProcessing
	unit.StartedAt = time.Now().UTC()
	if err := p.st.UpdateWorkUnit(unit); err != nil {
		logger.WithError(err).Error("mark unit processing")
		return
	}

	result := p.runner.Run(ctx, agent.RunOptions{
		Template: template,
		Payload:  unit.Payload,
		WorkDir:  "",
		OnStart: func(pid int) {
			unit.ProcessID = pid
			worker.ProcessID = pid
			_ = p.st.UpdateWorkUnit(unit)
			_ = p.st.UpdateWorker(worker)
		},
	})

	worker.ProcessID = 0
	unit.ProcessID = 0
	unit.RenderedPrompt = result.RenderedPrompt
	unit.Conversation = result.Conversation
	unit.SessionID = result.SessionID
	unit.CostUSD += result.CostUSD
	unit.ExecutionTimeSeconds = result.ExecutionTimeSeconds
	if p.metrics != nil {
		p.metrics.UnitDuration.WithLabelValues(p.JobID).Observe(result.ExecutionTimeSeconds)
	}

	if result.Err == nil && result.Success {
		unit.Status = store.UnitStatusCompleted
		unit.Result = map[string]interface{}{"output": result.Output}
		unit.Error = ""
		unit.WorkerID = ""
		if err := p.st.UpdateWorkUnit(unit); err != nil {
			logger.WithError(err).Error("mark unit completed")
			return
		}
		if p.metrics != nil {
			p.metrics.UnitsCompleted.WithLabelValues(p.JobID).Inc()
		}
		worker.UnitsCompleted++
		worker.Status = store.WorkerStatusIdle
		worker.CurrentUnitID = ""
		_ = p.st.UpdateWorker(worker)
		bumpJobCounter(p.st, p.JobID, logger, func(j *store.Job) { j.CompletedUnits++ })
		return
	}

	if result.Err != nil && errors.Is(result.Err, batcherr.ErrKilled) {
		p.mu.Lock()
		explicit := p.killedBy[unit.ID]
		p.mu.Unlock()
		if !explicit {
			p.interrupt(logger, unit, worker)
			return
		}
	}

	p.fail(logger, job, unit, worker, result)
}

// interrupt puts a unit back to pending without counting it as a
// failed attempt: the supervisor's own context was cancelled (a
// graceful-shutdown drain escalated to a group-kill) rather than the
// agent subprocess itself failing.
func (p *Pool) interrupt(logger *logrus.Entry, unit *store.WorkUnit, worker *store.Worker) {
	worker.Status = store.WorkerStatusIdle
	worker.CurrentUnitID = ""
	_ = p.st.UpdateWorker(worker)

	unit.Status = store.UnitStatusPending
	unit.WorkerID = ""
	unit.AssignedAt = time.Time{}
	unit.StartedAt = time.Time{}
	unit.Error = ""
	if err := p.st.UpdateWorkUnit(unit); err != nil {
		logger.WithError(err).Error("requeue interrupted unit")
	}
}

// fail records a failed attempt and either requeues the unit for
// retry or marks it permanently failed, per the unit's max_retries
// budget and the error's classification.
func (p *Pool) fail(logger *logrus.Entry, job *store.Job, unit *store.WorkUnit, worker *store.Worker, result *agent.Result) {
	errMsg := "unknown agent failure"
	if result.Err != nil {
		errMsg = result.Err.Error()
	} else if result.Output != "" {
		errMsg = result.Output
	}

	unit.AttemptHistory = append(unit.AttemptHistory, store.Attempt{
		Attempt:   unit.RetryCount + 1,
		StartedAt: unit.StartedAt,
		EndedAt:   time.Now().UTC(),
		Error:     errMsg,
	})

	worker.UnitsFailed++
	worker.Status = store.WorkerStatusIdle
	worker.CurrentUnitID = ""
	_ = p.st.UpdateWorker(worker)

	kind := batcherr.Classify(result.Err)
	canRetry := unit.RetryCount < unit.MaxRetries && kind == batcherr.KindTransient

	if canRetry {
		unit.RetryCount++
		unit.Status = store.UnitStatusPending
		unit.WorkerID = ""
		unit.Error = errMsg
		if err := p.st.UpdateWorkUnit(unit); err != nil {
			logger.WithError(err).Error("requeue unit for retry")
		}
		logger.WithField("retry_count", unit.RetryCount).Warn("unit failed, retrying")
		return
	}

	unit.Status = store.UnitStatusFailed
	unit.Error = errMsg
	unit.WorkerID = ""
	if err := p.st.UpdateWorkUnit(unit); err != nil {
		logger.WithError(err).Error("mark unit failed")
		return
	}
	if p.metrics != nil {
		p.metrics.UnitsFailed.WithLabelValues(p.JobID, string(kind)).Inc()
	}
	bumpJobCounter(p.st, p.JobID, logger, func(j *store.Job) { j.FailedUnits++ })
	if err := p.st.AppendLog(store.LogEntry{
		Level:   "error",
		Source:  "pool",
		JobID:   p.JobID,
		UnitID:  unit.ID,
		Message: errMsg,
	}); err != nil {
		logger.WithError(err).Warn("append terminal failure log entry")
	}
}

// bumpJobCounter reloads the job, applies mutate, and writes it back,
// retrying a bounded number of times against optimistic-version
// conflicts from concurrent worker goroutines updating the same job
// record.
func bumpJobCounter(st *store.Store, jobID string, logger *logrus.Entry, mutate func(*store.Job)) {
	const maxAttempts = 10
	for i := 0; i < maxAttempts; i++ {
		job, err := st.GetJob(jobID)
		if err != nil {
			logger.WithError(err).Error("reload job for counter update")
			return
		}
		mutate(job)
		if err := st.UpdateJob(job); err != nil {
			if batcherr.Classify(err) == batcherr.KindStore {
				continue
			}
			logger.WithError(err).Error("persist job counters")
			return
		}
		return
	}
	logger.Error("exhausted retries updating job counters under contention")
}
