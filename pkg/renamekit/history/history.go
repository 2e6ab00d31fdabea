// Package history records executed batches as reversible commands and
// drives undo/redo through the executor's single-operation primitive. The
// stack is bounded, durable across restarts, and never trusts a recorded
// batch blindly: redo validates the filesystem against recorded state first.
package history

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/renamekit/renamekit/pkg/renamekit/core"
	"github.com/renamekit/renamekit/pkg/renamekit/execute"
	"github.com/renamekit/renamekit/pkg/renamekit/fsys"
	"github.com/renamekit/renamekit/pkg/renamekit/store"
)

var batchBucket = []byte("batches")

// DefaultLimit is the default history depth.
const DefaultLimit = 50

// entry is one stack slot: a batch plus its bookkeeping state.
type entry struct {
	seq      uint64
	batch    *core.Batch
	undone   bool
	unusable bool // recorded paths no longer exist; refuse to replay
}

// History is the bounded, durable undo/redo stack.
type History struct {
	mu     sync.Mutex
	store  store.Store
	exec   *execute.Executor
	fs     fsys.StatFS
	logger zerolog.Logger
	limit  int

	entries []*entry
	nextSeq uint64
}

// New loads the recorded history from the store. Batches whose files no
// longer exist at the recorded paths are kept but marked unusable.
func New(st store.Store, exec *execute.Executor, fsys fsys.StatFS, limit int, logger zerolog.Logger) (*History, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	h := &History{
		store:  st,
		exec:   exec,
		fs:     fsys,
		limit:  limit,
		logger: logger.With().Str("component", "history").Logger(),
	}
	if err := h.load(); err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}
	return h, nil
}

func (h *History) load() error {
	var loaded []*entry
	err := h.store.ForEach(batchBucket, func(key, value []byte) error {
		if len(key) != 8 {
			return nil
		}
		var b core.Batch
		if err := json.Unmarshal(value, &b); err != nil {
			h.logger.Warn().Err(err).Msg("unreadable history record dropped")
			return nil
		}
		loaded = append(loaded, &entry{seq: binary.BigEndian.Uint64(key), batch: &b})
		return nil
	})
	if err != nil {
		return err
	}

	sort.Slice(loaded, func(i, j int) bool { return loaded[i].seq < loaded[j].seq })
	for _, en := range loaded {
		if en.seq >= h.nextSeq {
			h.nextSeq = en.seq + 1
		}
		en.unusable = !h.stateMatches(en.batch)
	}
	h.entries = loaded
	h.evict()

	h.logger.Info().Int("batches", len(h.entries)).Msg("history loaded")
	return nil
}

// Record appends a completed batch to the stack and persists it. Batches
// that applied nothing are not recorded. Recording a new forward batch
// drops any undone batches ahead of the cursor: their redo would race the
// new state.
func (h *History) Record(b *core.Batch) {
	if len(b.AppliedOps()) == 0 {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if b.Kind == core.BatchApply {
		h.dropUndone()
	}

	en := &entry{seq: h.nextSeq, batch: b}
	h.nextSeq++
	h.entries = append(h.entries, en)
	h.persist(en)
	h.evict()

	h.logger.Info().
		Str("batch_id", b.ID).
		Str("kind", string(b.Kind)).
		Int("ops", len(b.Ops)).
		Msg("batch recorded")
}

// Undo reverses the most recent non-undone APPLY batch by issuing inverse
// renames in reverse order. The result is recorded as a new UNDO batch.
// Batches whose recorded files have diverged from the filesystem are
// skipped with a warning; if every candidate has diverged, Undo returns
// ErrHistoryDivergence.
func (h *History) Undo(ctx context.Context) (*core.ExecutionResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	target, skipped := h.lastApplied()
	if target == nil {
		if skipped > 0 {
			return nil, fmt.Errorf("no undoable batch: %d diverged from the filesystem: %w", skipped, core.ErrHistoryDivergence)
		}
		return nil, core.ErrNothingToUndo
	}

	h.exec.Lock()
	defer h.exec.Unlock()

	result := h.replay(ctx, target.batch, core.BatchUndo)
	if result.Success {
		target.undone = true
	}
	h.recordLocked(result.Batch)
	return result, resultError(result)
}

// Redo re-applies the most recently undone batch forward, but only if the
// filesystem still matches the recorded state; any divergence refuses with
// ErrHistoryDivergence rather than corrupting files.
func (h *History) Redo(ctx context.Context) (*core.ExecutionResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	target := h.lastUndone()
	if target == nil {
		return nil, core.ErrNothingToRedo
	}
	if !h.redoSafe(target) {
		return nil, fmt.Errorf("batch %s cannot be redone: %w", target.batch.ID, core.ErrHistoryDivergence)
	}

	h.exec.Lock()
	defer h.exec.Unlock()

	result := h.forward(ctx, target.batch)
	if result.Success {
		target.undone = false
	}
	h.recordLocked(result.Batch)
	return result, resultError(result)
}

// Batches returns the recorded batches, oldest first.
func (h *History) Batches() []*core.Batch {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*core.Batch, 0, len(h.entries))
	for _, en := range h.entries {
		out = append(out, en.batch)
	}
	return out
}

// replay issues the inverse of every applied op, newest first.
func (h *History) replay(ctx context.Context, b *core.Batch, kind core.BatchKind) *core.ExecutionResult {
	start := time.Now()
	result := &core.ExecutionResult{
		Batch: &core.Batch{
			ID:      uuid.NewString(),
			Time:    start,
			Kind:    kind,
			Reverts: b.ID,
		},
	}

	applied := b.AppliedOps()
	failed := false
	for i := len(applied) - 1; i >= 0; i-- {
		op := applied[i]
		if failed {
			h.recordOp(result, op.Target, op.Source, core.OutcomeSkipped, nil)
			continue
		}
		if err := h.exec.Rename(ctx, op.Target, op.Source); err != nil {
			h.logger.Error().Err(err).
				Str("target", op.Target).
				Str("source", op.Source).
				Msg("undo rename failed")
			h.recordOp(result, op.Target, op.Source, core.OutcomeFailed, err)
			result.Err = err
			failed = true
			continue
		}
		h.recordOp(result, op.Target, op.Source, core.OutcomeApplied, nil)
	}

	result.Success = !failed
	result.Duration = time.Since(start)
	return result
}

// forward re-applies every applied op of a previously undone batch, oldest
// first.
func (h *History) forward(ctx context.Context, b *core.Batch) *core.ExecutionResult {
	start := time.Now()
	result := &core.ExecutionResult{
		Batch: &core.Batch{
			ID:      uuid.NewString(),
			Time:    start,
			Kind:    core.BatchRedo,
			Reverts: b.ID,
		},
	}

	failed := false
	for _, op := range b.AppliedOps() {
		if failed {
			h.recordOp(result, op.Source, op.Target, core.OutcomeSkipped, nil)
			continue
		}
		if err := h.exec.Rename(ctx, op.Source, op.Target); err != nil {
			h.logger.Error().Err(err).
				Str("source", op.Source).
				Str("target", op.Target).
				Msg("redo rename failed")
			h.recordOp(result, op.Source, op.Target, core.OutcomeFailed, err)
			result.Err = err
			failed = true
			continue
		}
		h.recordOp(result, op.Source, op.Target, core.OutcomeApplied, nil)
	}

	result.Success = !failed
	result.Duration = time.Since(start)
	return result
}

func (h *History) recordOp(result *core.ExecutionResult, source, target string, outcome core.Outcome, err error) {
	op := core.ExecutedOperation{
		Source:  source,
		Target:  target,
		Time:    time.Now(),
		Outcome: outcome,
	}
	if err != nil {
		op.Error = err.Error()
	}
	result.Batch.Ops = append(result.Batch.Ops, op)
	switch outcome {
	case core.OutcomeApplied:
		result.Applied++
	case core.OutcomeFailed:
		result.Failed++
	case core.OutcomeSkipped:
		result.Skipped++
	}
}

// recordLocked is Record for callers already holding h.mu.
func (h *History) recordLocked(b *core.Batch) {
	if len(b.AppliedOps()) == 0 {
		return
	}
	en := &entry{seq: h.nextSeq, batch: b}
	h.nextSeq++
	h.entries = append(h.entries, en)
	h.persist(en)
	h.evict()
}

// lastApplied finds the newest APPLY batch that has not been undone.
// Unusable batches are skipped so that older, still-intact history stays
// reachable; the count of skipped batches is returned alongside.
func (h *History) lastApplied() (*entry, int) {
	skipped := 0
	for i := len(h.entries) - 1; i >= 0; i-- {
		en := h.entries[i]
		if en.batch.Kind == core.BatchApply && !en.undone {
			if en.unusable {
				skipped++
				h.logger.Warn().
					Str("batch_id", en.batch.ID).
					Msg("batch skipped for undo: recorded files no longer on disk")
				continue
			}
			return en, skipped
		}
		if en.batch.Kind == core.BatchRedo && !en.undone {
			// A redo revives its original batch; undo targets that one
			// unless it has been undone again since.
			if orig := h.byID(en.batch.Reverts); orig != nil && !orig.undone {
				if orig.unusable {
					skipped++
					continue
				}
				return orig, skipped
			}
		}
	}
	return nil, skipped
}

// lastUndone finds the newest undone APPLY batch.
func (h *History) lastUndone() *entry {
	for i := len(h.entries) - 1; i >= 0; i-- {
		en := h.entries[i]
		if en.batch.Kind == core.BatchApply && en.undone {
			return en
		}
	}
	return nil
}

func (h *History) byID(id string) *entry {
	for _, en := range h.entries {
		if en.batch.ID == id {
			return en
		}
	}
	return nil
}

// redoSafe verifies no later batch touched the target's paths and that the
// filesystem still matches the state the batch started from: every applied
// op's source must exist and its target must be free.
func (h *History) redoSafe(target *entry) bool {
	touched := map[string]bool{}
	for _, p := range target.batch.Paths() {
		touched[p] = true
	}
	seenTarget := false
	for _, en := range h.entries {
		if en.batch.ID == target.batch.ID {
			seenTarget = true
			continue
		}
		if !seenTarget || en.batch.Reverts == target.batch.ID {
			continue
		}
		for _, p := range en.batch.Paths() {
			if touched[p] {
				h.logger.Warn().
					Str("batch_id", target.batch.ID).
					Str("intervening_id", en.batch.ID).
					Str("path", p).
					Msg("redo refused: intervening batch touched recorded path")
				return false
			}
		}
	}

	for _, op := range target.batch.AppliedOps() {
		if !h.exists(op.Source) {
			return false
		}
		if op.Source != op.Target && h.exists(op.Target) {
			return false
		}
	}
	return true
}

// stateMatches reports whether a batch's recorded final state is still on
// disk, i.e. its applied targets exist.
func (h *History) stateMatches(b *core.Batch) bool {
	applied := b.AppliedOps()
	if len(applied) == 0 {
		return true
	}
	for _, op := range applied {
		if !h.exists(op.Target) {
			return false
		}
	}
	return true
}

func (h *History) exists(path string) bool {
	_, err := h.fs.Stat(path)
	if err == nil {
		return true
	}
	return !errors.Is(err, fs.ErrNotExist)
}

func (h *History) persist(en *entry) {
	raw, err := json.Marshal(en.batch)
	if err != nil {
		h.logger.Error().Err(err).Str("batch_id", en.batch.ID).Msg("history record not serializable")
		return
	}
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, en.seq)
	if err := h.store.Put(batchBucket, key, raw); err != nil {
		h.logger.Error().Err(err).Str("batch_id", en.batch.ID).Msg("history write failed")
	}
}

// evict drops the oldest entries beyond the configured depth, in memory and
// in the store.
func (h *History) evict() {
	for len(h.entries) > h.limit {
		en := h.entries[0]
		h.entries = h.entries[1:]
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, en.seq)
		_ = h.store.Delete(batchBucket, key)
		h.logger.Debug().Str("batch_id", en.batch.ID).Msg("oldest batch evicted from history")
	}
}

// dropUndone removes undone batches from the stack when a new forward batch
// arrives; their redo path is gone.
func (h *History) dropUndone() {
	kept := h.entries[:0]
	for _, en := range h.entries {
		if en.batch.Kind == core.BatchApply && en.undone {
			key := make([]byte, 8)
			binary.BigEndian.PutUint64(key, en.seq)
			_ = h.store.Delete(batchBucket, key)
			continue
		}
		kept = append(kept, en)
	}
	h.entries = kept
}

func resultError(result *core.ExecutionResult) error {
	if result.Success {
		return nil
	}
	return result.Err
}
