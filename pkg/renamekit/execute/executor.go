// Package execute turns a validated, conflict-free plan into filesystem
// renames: dependency-ordered so no in-flight operation ever collides,
// cycle-safe through temporary names, and rolled back on first failure.
package execute

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"time"

	"github.com/gammazero/toposort"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/renamekit/renamekit/pkg/renamekit/core"
	"github.com/renamekit/renamekit/pkg/renamekit/fsys"
)

// Invalidator receives the paths a batch touched so cached values for the
// old locations are discarded immediately. The new paths are recomputed
// lazily, never pre-populated.
type Invalidator interface {
	Invalidate(path string)
}

// ProgressEvent reports one operation's outcome as the batch runs.
type ProgressEvent struct {
	Index   int // zero-based position in execution order
	Total   int
	Source  string
	Target  string
	Outcome core.Outcome
}

// Options tunes one execution run.
type Options struct {
	// Progress, when set, is called after every operation.
	Progress func(ProgressEvent)
}

// Executor issues renames for validated plans. A single global mutex allows
// one running batch system-wide: overlapping batches could target the same
// paths.
type Executor struct {
	fs            fsys.FileSystem
	caseSensitive bool
	invalidator   Invalidator
	logger        zerolog.Logger

	mu sync.Mutex // global execution mutex
}

// NewExecutor creates an executor against the given filesystem. invalidator
// may be nil.
func NewExecutor(fs fsys.FileSystem, caseSensitive bool, invalidator Invalidator, logger zerolog.Logger) *Executor {
	return &Executor{
		fs:            fs,
		caseSensitive: caseSensitive,
		invalidator:   invalidator,
		logger:        logger.With().Str("component", "execute").Logger(),
	}
}

// renameOp is one physical rename in execution order. Cycle breaking may
// split a plan entry into two renameOps through a temporary name.
type renameOp struct {
	id     string
	source string
	target string
	// settle marks the second leg of a broken cycle: its source is a
	// temporary name that exists only once the first leg has run, so it
	// never counts as occupying a path up front.
	settle bool
}

// Execute runs the plan. Entries still CONFLICTED make it refuse with a
// ConflictError; INVALID entries are excluded; identity renames (target
// equals source exactly) are no-ops and not scheduled.
//
// On the first failure the executor stops issuing operations and rolls the
// completed ones back in reverse order. Rollback failures are fatal: the
// affected files stay at their target paths and the result carries a
// RollbackError naming them.
func (e *Executor) Execute(ctx context.Context, plan *core.Plan, opts Options) *core.ExecutionResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	result := &core.ExecutionResult{
		Batch: &core.Batch{
			ID:   uuid.NewString(),
			Time: start,
			Kind: core.BatchApply,
		},
	}

	var blocked []core.Conflict
	for _, c := range plan.Conflicts {
		if c.Cause.Blocking() {
			blocked = append(blocked, c)
		}
	}
	if len(blocked) == 0 {
		for i, entry := range plan.Entries {
			if entry.Status == core.StatusConflicted {
				blocked = append(blocked, core.Conflict{
					Target:  entry.TargetPath(),
					Entries: []int{i},
					Cause:   core.CauseIntraBatchDuplicate,
				})
			}
		}
	}
	if len(blocked) > 0 {
		result.Err = &core.ConflictError{Conflicts: blocked}
		result.Duration = time.Since(start)
		e.logger.Warn().Int("conflicts", len(blocked)).Msg("execution blocked by unresolved conflicts")
		return result
	}

	ops, excluded := e.collect(plan)
	result.Excluded = excluded

	ordered, err := e.order(ops)
	if err != nil {
		result.Err = err
		result.Duration = time.Since(start)
		return result
	}

	// Last line of defense against os.Rename's silent replace: a target
	// that no scheduled operation vacates must not already exist on disk.
	// Conflict detection should have caught this before the plan got here.
	vacated := map[string]bool{}
	for _, op := range ordered {
		vacated[e.fold(op.source)] = true
	}
	for _, op := range ordered {
		if vacated[e.fold(op.target)] {
			continue
		}
		if e.exists(op.target) {
			result.Err = &core.ExecutionError{Source: op.source, Target: op.target, Cause: fs.ErrExist}
			result.Duration = time.Since(start)
			e.logger.Warn().
				Str("source", op.source).
				Str("target", op.target).
				Msg("execution refused: target exists and nothing in the batch vacates it")
			return result
		}
	}

	e.logger.Info().
		Str("batch_id", result.Batch.ID).
		Int("operations", len(ordered)).
		Int("excluded", excluded).
		Msg("starting batch execution")

	e.run(ctx, ordered, result, opts)

	result.Duration = time.Since(start)
	e.logger.Info().
		Str("batch_id", result.Batch.ID).
		Bool("success", result.Success).
		Int("applied", result.Applied).
		Int("rolled_back", result.RolledBack).
		Int("failed", result.Failed).
		Int("skipped", result.Skipped).
		Dur("duration", result.Duration).
		Msg("batch execution finished")
	return result
}

// Rename is the single-operation primitive the history manager replays
// undo/redo through. The caller must hold the global execution mutex via
// Lock.
func (e *Executor) Rename(ctx context.Context, source, target string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := e.fs.Rename(source, target); err != nil {
		return &core.ExecutionError{Source: source, Target: target, Cause: err}
	}
	e.invalidate(source)
	e.invalidate(target)
	return nil
}

// Lock serializes a multi-operation sequence (undo/redo) against Execute.
func (e *Executor) Lock() { e.mu.Lock() }

// Unlock releases the global execution mutex.
func (e *Executor) Unlock() { e.mu.Unlock() }

// collect gathers executable entries as physical ops, skipping no-ops.
func (e *Executor) collect(plan *core.Plan) ([]renameOp, int) {
	var ops []renameOp
	excluded := 0
	for i, entry := range plan.Entries {
		switch entry.Status {
		case core.StatusValid, core.StatusResolved:
			if entry.TargetPath() == entry.Source.Path {
				continue // identity rename, nothing to do
			}
			ops = append(ops, renameOp{
				id:     fmt.Sprintf("op-%d", i),
				source: entry.Source.Path,
				target: entry.TargetPath(),
			})
		default:
			excluded++
		}
	}
	return ops, excluded
}

// order computes a safe execution order: an operation whose target is
// another operation's source must wait until that source is vacated.
// Cycles are broken first by routing one member of each cycle through a
// unique temporary name (A→tmp, B→A, ..., tmp→Z), so the graph handed to
// the topological sort is always acyclic.
func (e *Executor) order(ops []renameOp) ([]renameOp, error) {
	ops = e.breakCycles(ops)

	bySource := map[string]int{}
	for i, op := range ops {
		if op.settle {
			continue
		}
		bySource[e.fold(op.source)] = i
	}
	byID := map[string]renameOp{}
	for _, op := range ops {
		byID[op.id] = op
	}

	edges := make([]toposort.Edge, 0)
	constrained := map[string]bool{}
	for i, op := range ops {
		j, ok := bySource[e.fold(op.target)]
		if !ok || j == i {
			continue
		}
		// ops[j] vacates the target first.
		edges = append(edges, toposort.Edge{ops[j].id, op.id})
		constrained[ops[j].id] = true
		constrained[op.id] = true
	}

	if len(edges) == 0 {
		return ops, nil
	}

	sortedIDs, err := toposort.Toposort(edges)
	if err != nil {
		// Cycle breaking ran already, so this means the plan was not the
		// conflict-free input the contract requires.
		return nil, fmt.Errorf("rename graph is not executable: %w", err)
	}

	ordered := make([]renameOp, 0, len(ops))
	for _, id := range sortedIDs {
		ordered = append(ordered, byID[id.(string)])
	}
	for _, op := range ops {
		if !constrained[op.id] {
			ordered = append(ordered, op)
		}
	}
	return ordered, nil
}

// breakCycles rewrites each rename cycle so one member goes through a
// temporary name parked next to its final target.
func (e *Executor) breakCycles(ops []renameOp) []renameOp {
	bySource := map[string]int{}
	for i, op := range ops {
		bySource[e.fold(op.source)] = i
	}

	const (
		unvisited = 0
		inChain   = 1
		done      = 2
	)
	state := make([]int, len(ops))
	var out []renameOp
	var trailers []renameOp

	for start := range ops {
		if state[start] != unvisited {
			continue
		}
		var chain []int
		i := start
		for {
			state[i] = inChain
			chain = append(chain, i)

			next, ok := bySource[e.fold(ops[i].target)]
			if !ok || next == i || state[next] == done {
				break
			}
			if state[next] == inChain {
				// Cycle: next..i. Route the cycle's first member through a
				// temporary name; its second leg runs after the rest.
				tmp := ops[next].source + ".renaming-" + uuid.NewString()[:8]
				e.logger.Debug().
					Str("source", ops[next].source).
					Str("tmp", tmp).
					Msg("breaking rename cycle with temporary name")
				trailers = append(trailers, renameOp{
					id:     ops[next].id + "-settle",
					source: tmp,
					target: ops[next].target,
					settle: true,
				})
				ops[next] = renameOp{id: ops[next].id, source: ops[next].source, target: tmp}
				break
			}
			i = next
		}
		for _, j := range chain {
			state[j] = done
		}
	}

	out = append(out, ops...)
	return append(out, trailers...)
}

// run executes the ordered operations, rolling back on first failure.
func (e *Executor) run(ctx context.Context, ordered []renameOp, result *core.ExecutionResult, opts Options) {
	batch := result.Batch
	failedAt := -1

	for i, op := range ordered {
		if err := ctx.Err(); err != nil {
			// Cancellation behaves exactly like a failure at this point.
			e.logger.Warn().Str("source", op.source).Msg("execution cancelled")
			record(batch, op, core.OutcomeFailed, err)
			result.Failed++
			result.Err = err
			failedAt = i
			report(opts, i, len(ordered), op, core.OutcomeFailed)
			break
		}

		if err := e.fs.Rename(op.source, op.target); err != nil {
			execErr := &core.ExecutionError{Source: op.source, Target: op.target, Cause: err}
			e.logger.Error().Err(err).
				Str("source", op.source).
				Str("target", op.target).
				Msg("rename failed")
			record(batch, op, core.OutcomeFailed, execErr)
			result.Failed++
			result.Err = execErr
			failedAt = i
			report(opts, i, len(ordered), op, core.OutcomeFailed)
			break
		}

		e.invalidate(op.source)
		e.invalidate(op.target)
		record(batch, op, core.OutcomeApplied, nil)
		result.Applied++
		e.logger.Debug().
			Str("source", op.source).
			Str("target", op.target).
			Msg("rename applied")
		report(opts, i, len(ordered), op, core.OutcomeApplied)
	}

	if failedAt < 0 {
		result.Success = true
		return
	}

	// The remaining scheduled operations are never attempted.
	for i := failedAt + 1; i < len(ordered); i++ {
		record(batch, ordered[i], core.OutcomeSkipped, nil)
		result.Skipped++
		report(opts, i, len(ordered), ordered[i], core.OutcomeSkipped)
	}

	e.rollback(batch, result)
}

// rollback reverts the applied operations in reverse order. A revert
// failure leaves that file in place, marks it ROLLBACK_FAILED and upgrades
// the result error to the fatal RollbackError.
func (e *Executor) rollback(batch *core.Batch, result *core.ExecutionResult) {
	var stranded []core.ExecutedOperation

	for i := len(batch.Ops) - 1; i >= 0; i-- {
		op := &batch.Ops[i]
		if op.Outcome != core.OutcomeApplied {
			continue
		}
		if err := e.fs.Rename(op.Target, op.Source); err != nil {
			op.Outcome = core.OutcomeRollbackFailed
			op.Error = err.Error()
			stranded = append(stranded, *op)
			e.logger.Error().Err(err).
				Str("target", op.Target).
				Str("source", op.Source).
				Msg("rollback failed, file left in place")
			continue
		}
		e.invalidate(op.Target)
		e.invalidate(op.Source)
		op.Outcome = core.OutcomeRolledBack
		result.Applied--
		result.RolledBack++
		e.logger.Debug().
			Str("target", op.Target).
			Str("source", op.Source).
			Msg("operation rolled back")
	}

	if len(stranded) > 0 {
		result.Err = &core.RollbackError{OriginalErr: result.Err, Stranded: stranded}
	}
}

func (e *Executor) invalidate(path string) {
	if e.invalidator != nil {
		e.invalidator.Invalidate(path)
	}
}

func (e *Executor) fold(path string) string {
	return core.Fold(path, e.caseSensitive)
}

func (e *Executor) exists(path string) bool {
	_, err := e.fs.Stat(path)
	if err == nil {
		return true
	}
	return !errors.Is(err, fs.ErrNotExist)
}

func record(batch *core.Batch, op renameOp, outcome core.Outcome, err error) {
	rec := core.ExecutedOperation{
		Source:  op.source,
		Target:  op.target,
		Time:    time.Now(),
		Outcome: outcome,
	}
	if err != nil {
		rec.Error = err.Error()
	}
	batch.Ops = append(batch.Ops, rec)
}

func report(opts Options, index, total int, op renameOp, outcome core.Outcome) {
	if opts.Progress == nil {
		return
	}
	opts.Progress(ProgressEvent{
		Index:   index,
		Total:   total,
		Source:  op.source,
		Target:  op.target,
		Outcome: outcome,
	})
}
