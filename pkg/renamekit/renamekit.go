// Package renamekit is a batch rename engine: it composes per-file
// name-transform pipelines into validated, conflict-free rename plans,
// executes them with rollback, and keeps a durable undo/redo history — all
// backed by a two-tier metadata cache populated in the background.
package renamekit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/renamekit/renamekit/pkg/renamekit/cache"
	"github.com/renamekit/renamekit/pkg/renamekit/conflict"
	"github.com/renamekit/renamekit/pkg/renamekit/core"
	"github.com/renamekit/renamekit/pkg/renamekit/execute"
	"github.com/renamekit/renamekit/pkg/renamekit/fsys"
	"github.com/renamekit/renamekit/pkg/renamekit/history"
	"github.com/renamekit/renamekit/pkg/renamekit/plan"
	"github.com/renamekit/renamekit/pkg/renamekit/provider"
	"github.com/renamekit/renamekit/pkg/renamekit/query"
	"github.com/renamekit/renamekit/pkg/renamekit/step"
	"github.com/renamekit/renamekit/pkg/renamekit/store"
	"github.com/renamekit/renamekit/pkg/renamekit/validate"
)

// Options configures an Engine. Everything is explicit: nothing inside the
// engine reads global or implicit state.
type Options struct {
	// FS is the target filesystem. Defaults to the real OS filesystem.
	FS fsys.FileSystem
	// Logger receives structured events. Defaults to DefaultLogger.
	Logger *zerolog.Logger
	// StateDir, when set, holds the durable store (L2 cache and history).
	// Empty keeps everything in memory.
	StateDir string
	// Rules is the naming policy. Zero value selects DefaultRules; its
	// CaseSensitive flag also drives conflict detection and execution
	// ordering.
	Rules validate.Rules
	// DefaultPolicy applies when ResolveConflicts gets an empty policy.
	DefaultPolicy conflict.Policy
	// Provider extracts metadata/hashes in the background. Defaults to the
	// stat-based provider over FS.
	Provider provider.Provider
	// L1Capacity and L2Capacity bound the cache tiers (entry counts).
	L1Capacity int
	L2Capacity int
	// HistoryLimit bounds the undo stack depth.
	HistoryLimit int
	// Workers bounds the background population pool.
	Workers int
	// PreviewWindow bounds preview staleness. Zero selects the default.
	PreviewWindow time.Duration
}

// Engine is the public surface of the rename subsystem.
type Engine struct {
	fs       fsys.FileSystem
	logger   zerolog.Logger
	st       store.Store
	cache    *cache.Cache
	queries  *query.Manager
	pool     *provider.Pool
	builder  *plan.Builder
	preview  *plan.Preview
	resolver *conflict.Resolver
	valid    *validate.Validator
	exec     *execute.Executor
	hist     *history.History
	policy   conflict.Policy
	fields   []string
	lookup   *engineLookup
}

// DefaultFields are the metadata fields the background pool populates.
var DefaultFields = []string{
	provider.FieldName,
	provider.FieldExt,
	provider.FieldSize,
	provider.FieldModTime,
}

// New wires an engine from options.
func New(opts Options) (*Engine, error) {
	fs := opts.FS
	if fs == nil {
		fs = fsys.NewOSFileSystem()
	}
	logger := DefaultLogger()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	rules := opts.Rules
	if rules.MaxNameLength == 0 && rules.ForbiddenRunes == "" {
		caseSensitive := rules.CaseSensitive
		rules = validate.DefaultRules()
		rules.CaseSensitive = caseSensitive
	}
	policy := opts.DefaultPolicy
	if policy == "" {
		policy = conflict.PolicySkip
	}

	var st store.Store
	if opts.StateDir != "" {
		if err := os.MkdirAll(opts.StateDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating state dir: %w", err)
		}
		bolt, err := store.OpenBolt(filepath.Join(opts.StateDir, "renamekit.db"))
		if err != nil {
			return nil, fmt.Errorf("opening state store: %w", err)
		}
		st = bolt
	} else {
		st = store.NewMemStore()
	}

	c, err := cache.New(opts.L1Capacity, opts.L2Capacity, st, logger)
	if err != nil {
		return nil, err
	}
	queries := query.NewManager(c, logger)

	prov := opts.Provider
	if prov == nil {
		prov = provider.NewStatProvider(fs)
	}

	lookup := &engineLookup{m: queries}
	builder := plan.NewBuilder(logger)
	builder.BeginPass = lookup.reset
	exec := execute.NewExecutor(fs, rules.CaseSensitive, c, logger)
	hist, err := history.New(st, exec, fs, opts.HistoryLimit, logger)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	return &Engine{
		fs:       fs,
		logger:   logger,
		st:       st,
		cache:    c,
		queries:  queries,
		pool:     provider.NewPool(prov, queries, opts.Workers, logger),
		builder:  builder,
		preview:  plan.NewPreview(builder, opts.PreviewWindow, logger),
		resolver: conflict.NewResolver(fs, rules.CaseSensitive, logger),
		valid:    validate.NewValidator(rules, logger),
		exec:     exec,
		hist:     hist,
		policy:   policy,
		fields:   DefaultFields,
		lookup:   lookup,
	}, nil
}

// engineLookup implements step.MetadataLookup over the query manager. It
// reads only from the cache; the builder resets it at the start of every
// build so memoized lookups never outlive one planning pass.
type engineLookup struct {
	m    *query.Manager
	pass *query.Pass
}

func (l *engineLookup) Lookup(rec core.FileRecord, field string) (string, bool) {
	if l.pass == nil {
		l.pass = l.m.NewPass()
	}
	return l.pass.Lookup(rec, field)
}

func (l *engineLookup) reset() {
	l.pass = l.m.NewPass()
}

// CompilePipeline compiles a parsed pipeline spec with the engine's cached
// metadata as the lookup source.
func (e *Engine) CompilePipeline(spec step.Spec) (*step.Pipeline, error) {
	return spec.Compile(e.lookup)
}

// Records snapshots the given paths into FileRecords. Paths that cannot be
// inspected are returned as an error; a plan needs a consistent snapshot.
func (e *Engine) Records(paths []string) ([]core.FileRecord, error) {
	records := make([]core.FileRecord, 0, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, err
		}
		info, err := e.fs.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("inspecting %s: %w", p, err)
		}
		records = append(records, core.FileRecord{
			Path:    abs,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	return records, nil
}

// BuildPlan builds a fresh plan. The counter scope is always explicit.
func (e *Engine) BuildPlan(files []core.FileRecord, pipe *step.Pipeline, scope step.Scope) (*core.Plan, error) {
	return e.builder.Build(files, pipe, plan.Settings{Scope: scope})
}

// Preview returns a plan through the keystroke-rate cache: unchanged inputs
// reuse the previous result, any change recomputes fully.
func (e *Engine) Preview(files []core.FileRecord, pipe *step.Pipeline, scope step.Scope) (*core.Plan, error) {
	return e.preview.Plan(files, pipe, plan.Settings{Scope: scope})
}

// ResolveConflicts detects conflicts and applies the policy (the engine's
// default when policy is empty).
func (e *Engine) ResolveConflicts(p *core.Plan, policy conflict.Policy) (*core.Plan, error) {
	if policy == "" {
		policy = e.policy
	}
	e.resolver.Detect(p)
	return e.resolver.Resolve(p, policy)
}

// Validate applies the naming rules to the plan.
func (e *Engine) Validate(p *core.Plan) *core.Plan {
	return e.valid.Validate(p)
}

// Execute runs a validated plan. Progress, when set, is called per
// operation; ctx cancels cooperatively between operations.
func (e *Engine) Execute(ctx context.Context, p *core.Plan, progress func(execute.ProgressEvent)) (*core.ExecutionResult, error) {
	result := e.exec.Execute(ctx, p, execute.Options{Progress: progress})
	e.hist.Record(result.Batch)
	e.preview.Invalidate()
	if result.Err != nil {
		return result, result.Err
	}
	return result, nil
}

// Undo reverses the most recent batch.
func (e *Engine) Undo(ctx context.Context) (*core.ExecutionResult, error) {
	result, err := e.hist.Undo(ctx)
	e.preview.Invalidate()
	return result, err
}

// Redo re-applies the most recently undone batch.
func (e *Engine) Redo(ctx context.Context) (*core.ExecutionResult, error) {
	result, err := e.hist.Redo(ctx)
	e.preview.Invalidate()
	return result, err
}

// History returns the recorded batches, oldest first.
func (e *Engine) History() []*core.Batch {
	return e.hist.Batches()
}

// Refresh schedules background population of the metadata cache for any
// file whose lookups missed during recent builds, plus the given records.
// It blocks only on the bounded pool, never on the preview path.
func (e *Engine) Refresh(ctx context.Context, records []core.FileRecord) error {
	pending := e.queries.DrainMisses()
	pending = append(pending, records...)
	return e.pool.Populate(ctx, pending, e.fields)
}

// SetFields replaces the metadata fields the background pool populates.
func (e *Engine) SetFields(fields []string) {
	e.fields = fields
}

// InvalidateCache clears both cache tiers, e.g. after a configuration
// reload.
func (e *Engine) InvalidateCache() {
	e.cache.InvalidateAll()
}

// Close releases the durable store.
func (e *Engine) Close() error {
	return e.st.Close()
}
