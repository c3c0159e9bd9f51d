// Package orchestrator is the front-facing API for batch jobs: it
// creates jobs (enumerate -> persist units -> synthesize template),
// starts/approves/resumes jobs by spawning detached Supervisors, and
// answers status queries straight from the Store.
//
// Grounded on grovetools-flow's pkg/orchestration/orchestrator.go
// NewOrchestrator/executeJob/UpdateJobStatus for the
// construct-validate-register-executors shape, generalized from
// "execute one job synchronously in this process" to "spawn a
// detached process that executes a whole batch"; the detached-spawn
// mechanism itself is grounded on sallandpioneers-ultra-engineer's
// daemon command (own session, PID recorded before the parent
// returns), since the grovetools-flow orchestrator never forks a child
// process of its own.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mattsolo1/grove-batch/internal/agent"
	"github.com/mattsolo1/grove-batch/internal/batcherr"
	"github.com/mattsolo1/grove-batch/internal/enumerator"
	"github.com/mattsolo1/grove-batch/internal/store"
	"github.com/mattsolo1/grove-batch/internal/store/liveness"
)

// Spawner launches the detached Supervisor process for a job and
// returns its OS PID. Production wiring execs this binary's hidden
// `__supervise <job-id>` subcommand; tests inject a fake that runs the
// Supervisor in-process instead.
type Spawner interface {
	Spawn(jobID string) (pid int, err error)
}

// AgentRunner is the subset of *agent.Runner the Orchestrator depends
// on, narrowed to an interface so tests can exercise create_job's
// availability check and the synchronous test phase without spawning
// a real agent subprocess.
type AgentRunner interface {
	Probe(ctx context.Context) error
	Run(ctx context.Context, opts agent.RunOptions) *agent.Result
}

// Orchestrator is the short-lived, front-facing API embedding every
// job and work-unit lifecycle operation.
type Orchestrator struct {
	st      *store.Store
	runner  AgentRunner
	spawner Spawner
	log     *logrus.Entry
}

// New builds an Orchestrator over an already-open Store.
func New(st *store.Store, runner AgentRunner, spawner Spawner, log *logrus.Entry) *Orchestrator {
	return &Orchestrator{st: st, runner: runner, spawner: spawner, log: log.WithField("component", "orchestrator")}
}

// CreateJobParams is the input to CreateJob.
type CreateJobParams struct {
	Name                          string
	UserIntent                    string
	Enumerator                    enumerator.Adapter
	Synthesizer                   enumerator.PromptSynthesizer
	PostProcessingPrompt          string
	PostProcessingOutputDirectory string
	MaxWorkers                    int
	MaxRetries                    int
}

// CreateJobResult is CreateJob's return value.
type CreateJobResult struct {
	JobID       string
	Template    string
	SamplePayload store.Payload
	TotalUnits  int
}

// CreateJob resolves the enumerator, invokes it, synthesizes the
// per-unit prompt template, and persists a Job plus one pending
// WorkUnit per payload.
func (o *Orchestrator) CreateJob(ctx context.Context, p CreateJobParams) (*CreateJobResult, error) {
	if err := o.runner.Probe(ctx); err != nil {
		return nil, fmt.Errorf("agent availability check: %w", err)
	}

	payloads, err := p.Enumerator.Enumerate(ctx)
	if err != nil {
		if batcherr.Classify(err) == batcherr.KindEnumeration {
			return nil, err
		}
		return nil, fmt.Errorf("enumeration failed: %w", err)
	}

	var sample store.Payload
	var payloadSchema store.PayloadSchema
	if len(payloads) > 0 {
		sample = payloads[0]
		payloadSchema, err = store.SchemaForPayload(sample)
		if err != nil {
			return nil, fmt.Errorf("derive payload schema: %w", err)
		}
		for i, payload := range payloads {
			if err := payloadSchema.Validate(payload); err != nil {
				return nil, fmt.Errorf("enumerated payload %d: %w", i, err)
			}
		}
	}

	synthesizer := p.Synthesizer
	if synthesizer == nil {
		synthesizer = enumerator.PassthroughSynthesizer{}
	}
	template, err := synthesizer.Synthesize(ctx, p.UserIntent, sample)
	if err != nil {
		return nil, fmt.Errorf("prompt synthesis failed: %w", err)
	}

	maxWorkers := p.MaxWorkers
	if maxWorkers < 1 {
		maxWorkers = 1
	}

	job := &store.Job{
		ID:                            uuid.NewString(),
		Name:                          p.Name,
		UserIntent:                    p.UserIntent,
		WorkerPromptTemplate:          template,
		PostProcessingPrompt:          p.PostProcessingPrompt,
		PostProcessingOutputDirectory: p.PostProcessingOutputDirectory,
		UnitType:                      p.Enumerator.UnitType(),
		PayloadSchema:                 payloadSchema,
		MaxWorkers:                    maxWorkers,
		MaxRetries:                    p.MaxRetries,
		TotalUnits:                    len(payloads),
		Status:                        store.JobStatusCreated,
		Metadata:                      map[string]interface{}{},
	}
	if err := o.st.CreateJob(job); err != nil {
		return nil, fmt.Errorf("persist job: %w", err)
	}

	for _, payload := range payloads {
		unit := &store.WorkUnit{
			ID:         uuid.NewString(),
			JobID:      job.ID,
			UnitType:   job.UnitType,
			Payload:    payload,
			Status:     store.UnitStatusPending,
			MaxRetries: p.MaxRetries,
		}
		if err := o.st.CreateWorkUnit(unit); err != nil {
			return nil, fmt.Errorf("persist work unit: %w", err)
		}
	}

	o.log.WithFields(logrus.Fields{"job_id": job.ID, "total_units": job.TotalUnits}).Info("job created")
	if err := o.st.AppendLog(store.LogEntry{
		Level:   "info",
		Source:  "orchestrator",
		JobID:   job.ID,
		Message: fmt.Sprintf("job created with %d units", job.TotalUnits),
	}); err != nil {
		o.log.WithError(err).Warn("append log entry")
	}
	return &CreateJobResult{
		JobID:         job.ID,
		Template:      template,
		SamplePayload: sample,
		TotalUnits:    job.TotalUnits,
	}, nil
}

// StartJobParams is the input to StartJob.
type StartJobParams struct {
	JobID    string
	SkipTest bool
	Approve  bool
}

// StartJobResult reports what StartJob did.
type StartJobResult struct {
	SupervisorPID int
	TestResult    *agent.Result // set only when a synchronous test run happened
	Job           *store.Job
}

// StartJob either spawns the Supervisor directly (SkipTest) or walks
// the test/approve handshake: a created job runs its first unit
// synchronously and moves to testing; a testing job spawns the
// Supervisor on approval or resets the test unit and returns to
// created on rejection.
func (o *Orchestrator) StartJob(ctx context.Context, p StartJobParams) (*StartJobResult, error) {
	job, err := o.st.GetJob(p.JobID)
	if err != nil {
		return nil, fmt.Errorf("load job: %w", err)
	}

	if p.SkipTest {
		pid, err := o.spawner.Spawn(job.ID)
		if err != nil {
			return nil, fmt.Errorf("spawn supervisor: %w", err)
		}
		o.recordSupervisorPID(job, pid)
		return &StartJobResult{SupervisorPID: pid, Job: job}, nil
	}

	switch job.Status {
	case store.JobStatusCreated:
		return o.runTestPhase(ctx, job)
	case store.JobStatusTesting:
		if p.Approve {
			pid, err := o.spawner.Spawn(job.ID)
			if err != nil {
				return nil, fmt.Errorf("spawn supervisor: %w", err)
			}
			o.recordSupervisorPID(job, pid)
			return &StartJobResult{SupervisorPID: pid, Job: job}, nil
		}
		return o.rejectTest(job)
	default:
		return nil, fmt.Errorf("job %s is in status %s, cannot start", job.ID, job.Status)
	}
}

// runTestPhase picks the first pending unit, runs it synchronously in
// this process (not through a Pool — the caller is waiting on the
// result to decide whether to approve the rest of the batch), and
// transitions the job to testing.
func (o *Orchestrator) runTestPhase(ctx context.Context, job *store.Job) (*StartJobResult, error) {
	pending, err := o.st.GetPendingUnits(job.ID, 1)
	if err != nil {
		return nil, fmt.Errorf("fetch first pending unit: %w", err)
	}
	if len(pending) == 0 {
		return nil, fmt.Errorf("job %s has no pending units to test", job.ID)
	}
	unit := pending[0]

	worker := &store.Worker{
		ID:            uuid.NewString(),
		JobID:         job.ID,
		CurrentUnitID: unit.ID,
		Status:        store.WorkerStatusBusy,
	}
	if err := o.st.CreateWorker(worker); err != nil {
		return nil, fmt.Errorf("create test worker: %w", err)
	}

	unit.Status = store.UnitStatusProcessing
	unit.WorkerID = worker.ID
	unit.StartedAt = time.Now().UTC()
	if err := o.st.UpdateWorkUnit(unit); err != nil {
		return nil, fmt.Errorf("mark test unit processing: %w", err)
	}

	result := o.runner.Run(ctx, agent.RunOptions{
		Template: job.WorkerPromptTemplate,
		Payload:  unit.Payload,
	})

	unit.RenderedPrompt = result.RenderedPrompt
	unit.Conversation = result.Conversation
	unit.SessionID = result.SessionID
	unit.CostUSD = result.CostUSD
	unit.ExecutionTimeSeconds = result.ExecutionTimeSeconds
	unit.WorkerID = ""
	worker.Status = store.WorkerStatusTerminated
	worker.CurrentUnitID = ""
	if err := o.st.UpdateWorker(worker); err != nil {
		o.log.WithError(err).Warn("release test worker")
	}
	if result.Err == nil && result.Success {
		unit.Status = store.UnitStatusCompleted
		unit.Result = map[string]interface{}{"output": result.Output}
	} else {
		unit.Status = store.UnitStatusFailed
		if result.Err != nil {
			unit.Error = result.Err.Error()
		}
	}
	if err := o.st.UpdateWorkUnit(unit); err != nil {
		return nil, fmt.Errorf("persist test unit result: %w", err)
	}

	job.TestUnitID = unit.ID
	job.TestPassed = result.Success
	// The dispatch loop only ever sees pending units, so a unit
	// resolved synchronously here during the test phase would
	// otherwise never be counted if the job is later approved.
	switch unit.Status {
	case store.UnitStatusCompleted:
		job.CompletedUnits++
	case store.UnitStatusFailed:
		job.FailedUnits++
	}
	job.Status = store.JobStatusTesting
	if err := o.st.UpdateJob(job); err != nil {
		return nil, fmt.Errorf("transition to testing: %w", err)
	}

	return &StartJobResult{TestResult: result, Job: job}, nil
}

// rejectTest implements approve=false: the test unit goes back to
// pending (so the main run re-executes it) and the job returns to
// created.
func (o *Orchestrator) rejectTest(job *store.Job) (*StartJobResult, error) {
	if job.TestUnitID != "" {
		unit, err := o.st.GetWorkUnit(job.TestUnitID)
		if err != nil {
			return nil, fmt.Errorf("load test unit: %w", err)
		}
		switch {
		case unit.Status == store.UnitStatusCompleted && job.CompletedUnits > 0:
			job.CompletedUnits--
		case unit.Status == store.UnitStatusFailed && job.FailedUnits > 0:
			job.FailedUnits--
		}
		unit.Status = store.UnitStatusPending
		unit.Error = ""
		unit.CompletedAt = time.Time{}
		unit.StartedAt = time.Time{}
		if err := o.st.UpdateWorkUnit(unit); err != nil {
			return nil, fmt.Errorf("reset test unit: %w", err)
		}
	}

	job.Status = store.JobStatusCreated
	job.TestUnitID = ""
	job.TestPassed = false
	if err := o.st.UpdateJob(job); err != nil {
		return nil, fmt.Errorf("transition to created: %w", err)
	}
	return &StartJobResult{Job: job}, nil
}

// ResumeJob spawns a fresh Supervisor unless one holding the job's
// recorded PID is already alive, in which case it is left running
// (idempotent resume). A freshly spawned Supervisor recovers
// in-flight state from the Store on entry.
func (o *Orchestrator) ResumeJob(jobID string) (pid int, alreadyRunning bool, err error) {
	job, err := o.st.GetJob(jobID)
	if err != nil {
		return 0, false, fmt.Errorf("load job: %w", err)
	}

	if recordedPID, ok := job.Metadata["executor_pid"]; ok {
		if pidFloat, ok := recordedPID.(float64); ok && pidFloat > 0 {
			if liveness.IsAlive(int(pidFloat)) {
				return int(pidFloat), true, nil
			}
		}
	}

	newPID, err := o.spawner.Spawn(jobID)
	if err != nil {
		return 0, false, fmt.Errorf("spawn supervisor: %w", err)
	}
	o.recordSupervisorPID(job, newPID)
	return newPID, false, nil
}

// KillJob sends a terminate signal to the recorded Supervisor PID.
// The Supervisor's own signal handler then drains gracefully.
func (o *Orchestrator) KillJob(jobID string, terminate func(pid int) error) error {
	job, err := o.st.GetJob(jobID)
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}
	recordedPID, ok := job.Metadata["executor_pid"]
	if !ok {
		return fmt.Errorf("job %s has no recorded supervisor pid", jobID)
	}
	pidFloat, ok := recordedPID.(float64)
	if !ok || pidFloat <= 0 {
		return fmt.Errorf("job %s has an invalid recorded supervisor pid", jobID)
	}
	return terminate(int(pidFloat))
}

// BypassFailures implements the HTTP API's bypass operation: set
// bypass_failures=true on the job and trigger a resume so a
// post_processing_prompt job can proceed past its terminal failures.
func (o *Orchestrator) BypassFailures(jobID string) (pid int, alreadyRunning bool, err error) {
	job, err := o.st.GetJob(jobID)
	if err != nil {
		return 0, false, fmt.Errorf("load job: %w", err)
	}
	job.BypassFailures = true
	if err := o.st.UpdateJob(job); err != nil {
		return 0, false, fmt.Errorf("set bypass_failures: %w", err)
	}
	o.log.WithField("job_id", jobID).Warn("bypassing unit failures for post-processing")
	return o.ResumeJob(jobID)
}

func (o *Orchestrator) recordSupervisorPID(job *store.Job, pid int) {
	if job.Metadata == nil {
		job.Metadata = map[string]interface{}{}
	}
	job.Metadata["executor_pid"] = pid
	if err := o.st.UpdateJob(job); err != nil {
		o.log.WithError(err).Warn("failed to record supervisor pid")
	}
}
