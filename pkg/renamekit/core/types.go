package core

import (
	"fmt"
	"path/filepath"
	"time"
)

// FileRecord is an immutable snapshot of one file taken at plan-build time.
// Its fingerprint is the cache-invalidation key for everything derived from
// the file's content.
type FileRecord struct {
	Path    string    // absolute path
	Size    int64
	ModTime time.Time
	Hash    string // content hash, set only when already known
}

// Fingerprint returns a cheap proxy for content change. When a content hash
// is available it wins; otherwise size+mtime is used.
func (r FileRecord) Fingerprint() string {
	if r.Hash != "" {
		return "h:" + r.Hash
	}
	return fmt.Sprintf("%d:%d", r.Size, r.ModTime.UnixNano())
}

// Name returns the file name component of the record's path.
func (r FileRecord) Name() string {
	return filepath.Base(r.Path)
}

// Dir returns the directory containing the record's path.
func (r FileRecord) Dir() string {
	return filepath.Dir(r.Path)
}

// GroupID identifies the source group a record belongs to. Files loaded from
// the same directory form one group; per-group counters reset at these
// boundaries.
func (r FileRecord) GroupID() string {
	return r.Dir()
}

// EntryStatus indicates where a plan entry stands in the
// build/resolve/validate lifecycle.
type EntryStatus string

const (
	// StatusPending means the entry has been built but not yet checked.
	StatusPending EntryStatus = "PENDING"
	// StatusValid means the entry passed validation and is executable.
	StatusValid EntryStatus = "VALID"
	// StatusConflicted means the entry is part of an unresolved conflict.
	StatusConflicted EntryStatus = "CONFLICTED"
	// StatusResolved means a conflict policy rewrote the entry's target.
	StatusResolved EntryStatus = "RESOLVED"
	// StatusInvalid means the entry is excluded from execution; Reason says why.
	StatusInvalid EntryStatus = "INVALID"
)

// PlanEntry is one proposed rename within a plan.
type PlanEntry struct {
	Source      FileRecord
	Target      string   // proposed file name within the source directory
	StepOutputs []string // per-step fragments, in pipeline order
	Status      EntryStatus
	Reason      string // populated when Status is INVALID
}

// TargetPath returns the absolute path the entry renames to.
func (e PlanEntry) TargetPath() string {
	return filepath.Join(e.Source.Dir(), e.Target)
}

// Plan is the full set of proposed rename operations for one batch, prior to
// execution.
type Plan struct {
	Entries   []PlanEntry
	Conflicts []Conflict
}

// Executable reports whether the plan is ready for execution: at least one
// entry to apply and no entry still marked CONFLICTED.
func (p *Plan) Executable() bool {
	ready := false
	for _, e := range p.Entries {
		switch e.Status {
		case StatusConflicted:
			return false
		case StatusValid, StatusResolved:
			ready = true
		}
	}
	return ready
}

// CountByStatus returns how many entries currently carry the given status.
func (p *Plan) CountByStatus(s EntryStatus) int {
	n := 0
	for _, e := range p.Entries {
		if e.Status == s {
			n++
		}
	}
	return n
}

// ConflictCause classifies why a set of plan entries conflicts.
type ConflictCause string

const (
	// CauseIntraBatchDuplicate means two or more entries share a target name.
	CauseIntraBatchDuplicate ConflictCause = "INTRA_BATCH_DUPLICATE"
	// CauseExistingFileCollision means a target already exists on disk and is
	// not itself a source of the batch.
	CauseExistingFileCollision ConflictCause = "EXISTING_FILE_COLLISION"
	// CauseCaseInsensitiveCollision means targets differ only by character
	// case on a case-insensitive filesystem.
	CauseCaseInsensitiveCollision ConflictCause = "CASE_INSENSITIVE_COLLISION"
	// CauseCyclicRename means entries form a rename cycle (A→B, B→A, ...).
	// Not an error: execution breaks the cycle with a temporary name.
	CauseCyclicRename ConflictCause = "CYCLIC_RENAME"
)

// Blocking reports whether the cause blocks execution until resolved.
// Cyclic renames are handled by the executor and never block.
func (c ConflictCause) Blocking() bool {
	return c != CauseCyclicRename
}

// Conflict describes one target-name collision within a plan.
type Conflict struct {
	Target  string // case-folded target path shared by the entries
	Entries []int  // indices into Plan.Entries, in input order
	Cause   ConflictCause
}

// Outcome records what happened to one executed operation.
type Outcome string

const (
	// OutcomeApplied means the rename completed and is in effect.
	OutcomeApplied Outcome = "APPLIED"
	// OutcomeFailed means the rename itself failed.
	OutcomeFailed Outcome = "FAILED"
	// OutcomeRolledBack means the rename was applied, then reverted after a
	// later operation failed.
	OutcomeRolledBack Outcome = "ROLLED_BACK"
	// OutcomeRollbackFailed means the revert itself failed; the file is left
	// at its target path and manual cleanup is required.
	OutcomeRollbackFailed Outcome = "ROLLBACK_FAILED"
	// OutcomeSkipped means the operation was scheduled but never attempted.
	OutcomeSkipped Outcome = "SKIPPED"
)

// ExecutedOperation is the record of one rename issued against the
// filesystem. Immutable once its batch is recorded.
type ExecutedOperation struct {
	Source  string    `json:"source"`
	Target  string    `json:"target"`
	Time    time.Time `json:"time"`
	Outcome Outcome   `json:"outcome"`
	Error   string    `json:"error,omitempty"`
}

// BatchKind tags what produced a batch.
type BatchKind string

const (
	// BatchApply is a forward execution of a plan.
	BatchApply BatchKind = "APPLY"
	// BatchUndo reverses a previously applied batch.
	BatchUndo BatchKind = "UNDO"
	// BatchRedo re-applies a previously undone batch.
	BatchRedo BatchKind = "REDO"
)

// Batch is the ordered record of one completed execution, the unit of
// undo/redo.
type Batch struct {
	ID      string              `json:"id"`
	Time    time.Time           `json:"time"`
	Kind    BatchKind           `json:"kind"`
	Reverts string              `json:"reverts,omitempty"` // batch ID an undo/redo acts on
	Ops     []ExecutedOperation `json:"ops"`
}

// AppliedOps returns the operations that are currently in effect on disk.
func (b *Batch) AppliedOps() []ExecutedOperation {
	var ops []ExecutedOperation
	for _, op := range b.Ops {
		if op.Outcome == OutcomeApplied {
			ops = append(ops, op)
		}
	}
	return ops
}

// Paths returns every path the batch touched, sources and targets alike.
func (b *Batch) Paths() []string {
	paths := make([]string, 0, len(b.Ops)*2)
	for _, op := range b.Ops {
		paths = append(paths, op.Source, op.Target)
	}
	return paths
}

// ExecutionResult is the structured outcome of one executed batch.
type ExecutionResult struct {
	Batch      *Batch
	Applied    int // renames in effect when the run finished
	RolledBack int // applied, then reverted after a failure
	Failed     int // the rename itself failed
	Skipped    int // scheduled but never attempted
	Excluded   int // plan entries excluded before scheduling (INVALID)
	Success    bool
	Err        error // first failure cause, nil on success
	Duration   time.Duration
}
