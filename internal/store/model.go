package store

import "time"

// JobStatus is the state of a Job as it moves through the batch
// lifecycle: created, testing, running, post-processing, and a
// terminal outcome.
type JobStatus string

const (
	JobStatusCreated        JobStatus = "created"
	JobStatusTesting        JobStatus = "testing"
	JobStatusRunning        JobStatus = "running"
	JobStatusPostProcessing JobStatus = "post_processing"
	JobStatusCompleted      JobStatus = "completed"
	JobStatusFailed         JobStatus = "failed"
	JobStatusPaused         JobStatus = "paused"
)

// UnitStatus is the state of a WorkUnit.
type UnitStatus string

const (
	UnitStatusPending    UnitStatus = "pending"
	UnitStatusAssigned   UnitStatus = "assigned"
	UnitStatusProcessing UnitStatus = "processing"
	UnitStatusCompleted  UnitStatus = "completed"
	UnitStatusFailed     UnitStatus = "failed"
)

// WorkerStatus is the state of a Worker record.
type WorkerStatus string

const (
	WorkerStatusIdle       WorkerStatus = "idle"
	WorkerStatusBusy       WorkerStatus = "busy"
	WorkerStatusFailed     WorkerStatus = "failed"
	WorkerStatusTerminated WorkerStatus = "terminated"
)

// PostProcessingUnitType tags the single synthetic unit created after
// every other unit in a job has reached a terminal state.
const PostProcessingUnitType = "post_processing"

// Job is the root record for one batch run.
type Job struct {
	ID                            string                 `json:"id"`
	Name                          string                 `json:"name"`
	UserIntent                    string                 `json:"user_intent"`
	WorkerPromptTemplate          string                 `json:"worker_prompt_template"`
	PostProcessingPrompt          string                 `json:"post_processing_prompt,omitempty"`
	PostProcessingOutputDirectory string                 `json:"post_processing_output_directory,omitempty"`
	UnitType                      string                 `json:"unit_type"`
	MaxWorkers                    int                    `json:"max_workers"`
	MaxRetries                    int                    `json:"max_retries"`
	TotalUnits                    int                    `json:"total_units"`
	CompletedUnits                int                    `json:"completed_units"`
	FailedUnits                   int                    `json:"failed_units"`
	CreatedAt                     time.Time              `json:"created_at"`
	StartedAt                     time.Time              `json:"started_at,omitempty"`
	CompletedAt                   time.Time              `json:"completed_at,omitempty"`
	Status                        JobStatus              `json:"status"`
	TestUnitID                    string                 `json:"test_unit_id,omitempty"`
	TestPassed                    bool                   `json:"test_passed"`
	BypassFailures                bool                   `json:"bypass_failures"`
	PayloadSchema                 PayloadSchema          `json:"payload_schema,omitempty"`
	Metadata                     map[string]interface{} `json:"metadata,omitempty"`

	// Version supports optimistic conflict detection across process
	// boundaries: the Orchestrator and a detached Supervisor may both
	// hold a copy of this record.
	Version int `json:"version"`
}

// DisplayCompletedUnits caps CompletedUnits at TotalUnits for display.
// UpdateJob rejects counters above the total, so the clamp only
// matters for records written without that check (CreateJob does not
// validate counters).
func (j *Job) DisplayCompletedUnits() int {
	if j.CompletedUnits > j.TotalUnits {
		return j.TotalUnits
	}
	return j.CompletedUnits
}

// Attempt records one retry attempt of a work unit.
type Attempt struct {
	Attempt   int       `json:"attempt"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// WorkUnit is a single item of a batch.
type WorkUnit struct {
	ID                   string     `json:"id"`
	JobID                string     `json:"job_id"`
	UnitType             string     `json:"unit_type"`
	Payload              Payload    `json:"payload"`
	Status               UnitStatus `json:"status"`
	CreatedAt            time.Time  `json:"created_at"`
	AssignedAt           time.Time  `json:"assigned_at,omitempty"`
	StartedAt            time.Time  `json:"started_at,omitempty"`
	CompletedAt          time.Time  `json:"completed_at,omitempty"`
	WorkerID             string     `json:"worker_id,omitempty"`
	Result               map[string]interface{} `json:"result,omitempty"`
	Error                string     `json:"error,omitempty"`
	RetryCount           int        `json:"retry_count"`
	MaxRetries           int        `json:"max_retries"`
	ExecutionTimeSeconds float64    `json:"execution_time_seconds"`
	OutputFiles          []string   `json:"output_files,omitempty"`
	RenderedPrompt       string     `json:"rendered_prompt,omitempty"`
	Conversation         []Event    `json:"conversation,omitempty"`
	SessionID            string     `json:"session_id,omitempty"`
	CostUSD              float64    `json:"cost_usd"`
	ProcessID            int        `json:"process_id,omitempty"`
	AttemptHistory       []Attempt  `json:"attempt_history,omitempty"`

	Version int `json:"version"`
}

// Event is one line of the agent subprocess's event stream, captured
// verbatim and in emission order into WorkUnit.Conversation.
type Event struct {
	Raw       map[string]interface{} `json:"raw"`
	Timestamp time.Time              `json:"timestamp"`
}

// Worker tracks one in-flight agent subprocess slot.
type Worker struct {
	ID                 string       `json:"id"`
	JobID              string       `json:"job_id"`
	CurrentUnitID       string       `json:"current_unit_id,omitempty"`
	ProcessID           int          `json:"process_id,omitempty"`
	Status              WorkerStatus `json:"status"`
	StartedAt           time.Time    `json:"started_at"`
	LastHeartbeat       time.Time    `json:"last_heartbeat"`
	UnitsCompleted      int          `json:"units_completed"`
	UnitsFailed         int          `json:"units_failed"`
	TotalExecutionTime  float64      `json:"total_execution_time"`
}

// LogEntry is one structured log line persisted for audit/query.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Source    string    `json:"source"`
	JobID     string    `json:"job_id,omitempty"`
	UnitID    string    `json:"unit_id,omitempty"`
	Message   string    `json:"message"`
}
