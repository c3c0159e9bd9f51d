// Package enumerator defines the data-source adapter contract for
// batch inputs (file glob, tabular query, delimited text,
// structured-document array, user-supplied code) and ships the
// in-tree implementations needed to exercise the engine end to end: a
// file-glob enumerator, a static-list enumerator for tests, and a
// pending-approval enumerator modeling the dynamic-enumerator
// human-approval gate.
//
// These adapters are original code, following a plain
// constructor-function naming convention (NewFileGlobEnumerator and
// friends).
package enumerator

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/mattsolo1/grove-batch/internal/batcherr"
	"github.com/mattsolo1/grove-batch/internal/store"
)

// Adapter enumerates the items of one batch into an ordered list of
// work-unit payloads. Implementations must be side-effect free beyond
// reading their own data source: Enumerate never persists anything,
// that is the Orchestrator's job.
type Adapter interface {
	// UnitType is the tag stamped onto every WorkUnit this adapter
	// produces.
	UnitType() string

	// Enumerate returns the ordered payloads for one batch. A
	// pending-approval adapter returns batcherr.ErrPendingApproval
	// instead of a result.
	Enumerate(ctx context.Context) ([]store.Payload, error)
}

// FileGlobEnumerator produces one payload per file matching a glob
// pattern, each shaped {"file_path": "..."}.
type FileGlobEnumerator struct {
	Pattern string
}

// NewFileGlobEnumerator builds an Adapter over the given glob pattern.
func NewFileGlobEnumerator(pattern string) *FileGlobEnumerator {
	return &FileGlobEnumerator{Pattern: pattern}
}

func (e *FileGlobEnumerator) UnitType() string { return "file" }

func (e *FileGlobEnumerator) Enumerate(ctx context.Context) ([]store.Payload, error) {
	matches, err := filepath.Glob(e.Pattern)
	if err != nil {
		return nil, fmt.Errorf("glob %q: %w", e.Pattern, err)
	}
	sort.Strings(matches)

	out := make([]store.Payload, 0, len(matches))
	for _, m := range matches {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		out = append(out, store.NewPayload(map[string]interface{}{
			"file_path": m,
		}, []string{"file_path"}))
	}
	return out, nil
}

// StaticListEnumerator returns a fixed, caller-supplied list of
// payloads verbatim. Used by tests and by the "user-supplied code"
// data source once a human has approved the code's *output* — the
// approval gate records the code and a human decision, but the
// actual enumeration that feeds the Orchestrator is always this kind
// of static replay, never a live execution of the approved code: this
// boundary is not a sandbox, so anything executed is treated as
// privileged.
type StaticListEnumerator struct {
	Type     string
	Payloads []store.Payload
}

// NewStaticListEnumerator builds an Adapter that replays payloads
// verbatim, tagged with unitType.
func NewStaticListEnumerator(unitType string, payloads []store.Payload) *StaticListEnumerator {
	return &StaticListEnumerator{Type: unitType, Payloads: payloads}
}

func (e *StaticListEnumerator) UnitType() string { return e.Type }

func (e *StaticListEnumerator) Enumerate(ctx context.Context) ([]store.Payload, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	out := make([]store.Payload, len(e.Payloads))
	copy(out, e.Payloads)
	return out, nil
}

// PendingApprovalEnumerator models a dynamic enumerator (user-supplied
// code, or any source requiring a human to review its output before
// anything is persisted) that has not yet been approved. Enumerate
// always fails with batcherr.ErrPendingApproval; Code is retained so a
// reviewer has something concrete to approve or reject.
type PendingApprovalEnumerator struct {
	Type string
	Code string
}

// NewPendingApprovalEnumerator builds an Adapter that always surfaces
// the pending_approval outcome.
func NewPendingApprovalEnumerator(unitType, code string) *PendingApprovalEnumerator {
	return &PendingApprovalEnumerator{Type: unitType, Code: code}
}

func (e *PendingApprovalEnumerator) UnitType() string { return e.Type }

func (e *PendingApprovalEnumerator) Enumerate(ctx context.Context) ([]store.Payload, error) {
	return nil, fmt.Errorf("enumerator code requires approval before execution: %w", batcherr.ErrPendingApproval)
}

// PromptSynthesizer turns a user's free-form batch intent into a
// templated per-unit prompt. The real synthesis helper (an LLM call
// that inspects the enumerator's payload shape) lives outside this
// engine; PassthroughSynthesizer is the in-tree stand-in that lets the
// rest of the engine be exercised without it.
type PromptSynthesizer interface {
	Synthesize(ctx context.Context, userIntent string, sample store.Payload) (template string, err error)
}

// PassthroughSynthesizer treats the user's intent text as the
// template verbatim, so any payload key the caller wants substituted
// must already appear in userIntent as a {key} placeholder.
type PassthroughSynthesizer struct{}

func (PassthroughSynthesizer) Synthesize(ctx context.Context, userIntent string, sample store.Payload) (string, error) {
	return userIntent, nil
}
