// Package batcherr defines the error kinds used across the batch engine,
// matching the taxonomy of transient/permanent/store/crash failures that
// the supervisor and worker pool classify on.
package batcherr

import "errors"

// Sentinel errors for the kinds callers need to branch on with errors.Is.
var (
	// ErrTimeout marks a unit failure caused by the agent subprocess
	// exceeding its configured timeout.
	ErrTimeout = errors.New("agent run timed out")

	// ErrNoResult marks a unit failure where the subprocess exited
	// without ever emitting a terminal "result" event.
	ErrNoResult = errors.New("agent exited without a result event")

	// ErrUnavailable marks a fatal, non-retried failure: the agent
	// binary could not be located on PATH.
	ErrUnavailable = errors.New("agent binary unavailable")

	// ErrKilled marks a unit explicitly terminated via kill_unit.
	ErrKilled = errors.New("killed")

	// ErrJobNotFound and ErrUnitNotFound back the HTTP API's
	// JOB_NOT_FOUND / UNIT_NOT_FOUND error codes.
	ErrJobNotFound  = errors.New("job not found")
	ErrUnitNotFound = errors.New("unit not found")

	// ErrStaleVersion is returned by Store mutations when the caller's
	// copy of a record is older than the stored version (optimistic
	// concurrency conflict between two processes).
	ErrStaleVersion = errors.New("stale version: record changed concurrently")

	// ErrInvariantViolation is returned when a mutation would break a
	// data-model invariant; the transaction is rolled back.
	ErrInvariantViolation = errors.New("invariant violation")

	// ErrPendingApproval signals that a dynamic enumerator's output
	// requires human approval before any units may be persisted.
	ErrPendingApproval = errors.New("enumeration pending approval")

	// ErrSupervisorAlive is returned by resume_job when a Supervisor
	// holding the job's recorded PID is already running.
	ErrSupervisorAlive = errors.New("supervisor already running")
)

// Kind classifies an error for logging and for the HTTP error envelope.
type Kind string

const (
	KindTransient   Kind = "transient"
	KindPermanent   Kind = "permanent"
	KindStore       Kind = "store"
	KindCrash       Kind = "crash"
	KindEnumeration Kind = "enumeration"
)

// Classify maps a sentinel to its error Kind. Unknown errors, and a nil
// error, default to KindPermanent, which the Pool never retries.
func Classify(err error) Kind {
	switch {
	case errors.Is(err, ErrTimeout), errors.Is(err, ErrNoResult):
		return KindTransient
	case errors.Is(err, ErrUnavailable):
		return KindPermanent
	case errors.Is(err, ErrStaleVersion), errors.Is(err, ErrInvariantViolation):
		return KindStore
	case errors.Is(err, ErrPendingApproval):
		return KindEnumeration
	default:
		return KindPermanent
	}
}
