package core

import (
	"errors"
	"fmt"
)

// ErrHistoryDivergence is returned by redo when the filesystem no longer
// matches the recorded state of the batch being re-applied.
var ErrHistoryDivergence = errors.New("history divergence: filesystem no longer matches recorded state")

// ErrNothingToUndo is returned when the undo stack is empty.
var ErrNothingToUndo = errors.New("nothing to undo")

// ErrNothingToRedo is returned when the redo stack is empty.
var ErrNothingToRedo = errors.New("nothing to redo")

// StepError is a recoverable per-entry failure raised by a transform step,
// e.g. a metadata field missing for one file. It marks that entry INVALID
// and never aborts the rest of the plan.
type StepError struct {
	Step   string
	Path   string
	Reason string
	Cause  error
}

func (e *StepError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("step %s failed for %s: %s: %v", e.Step, e.Path, e.Reason, e.Cause)
	}
	return fmt.Sprintf("step %s failed for %s: %s", e.Step, e.Path, e.Reason)
}

func (e *StepError) Unwrap() error {
	return e.Cause
}

// ValidationError describes why one entry failed naming validation.
type ValidationError struct {
	Path   string
	Target string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid target %q for %s: %s", e.Target, e.Path, e.Reason)
}

// ConflictError is the batch-level condition blocking execution while
// conflicts remain unresolved, and the result of the Fail policy.
type ConflictError struct {
	Conflicts []Conflict
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%d unresolved naming conflicts block execution", len(e.Conflicts))
}

// ProviderError wraps a metadata/hash provider failure. It propagates as a
// cache miss with no value; it never crashes a plan.
type ProviderError struct {
	Path  string
	Cause error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider failed for %s: %v", e.Path, e.Cause)
}

func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// ExecutionError describes the operation that made a batch stop and roll
// back.
type ExecutionError struct {
	Source string
	Target string
	Cause  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("rename %s -> %s failed: %v", e.Source, e.Target, e.Cause)
}

func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// RollbackError is fatal for its batch: one or more already-applied renames
// could not be reverted after a failure. It wraps the original execution
// error and lists the operations left in place so the caller can warn about
// manual cleanup.
type RollbackError struct {
	OriginalErr error
	Stranded    []ExecutedOperation
}

func (e *RollbackError) Error() string {
	msg := fmt.Sprintf("operation failed: %v", e.OriginalErr)
	if len(e.Stranded) > 0 {
		msg += "; rollback also failed, files left in place:"
		for _, op := range e.Stranded {
			msg += fmt.Sprintf("\n  - %s (from %s): %s", op.Target, op.Source, op.Error)
		}
	}
	return msg
}

func (e *RollbackError) Unwrap() error {
	return e.OriginalErr
}
