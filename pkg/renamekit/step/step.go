// Package step implements the name-transform pipeline: ordered, pure steps
// that each contribute a fragment of the target name, folded together over a
// shared context that owns counter state.
package step

import (
	"fmt"

	"github.com/renamekit/renamekit/pkg/renamekit/core"
)

// Scope is the boundary within which a sequential counter resets.
type Scope string

const (
	// ScopeGlobal counts monotonically across the whole batch.
	ScopeGlobal Scope = "global"
	// ScopePerGroup restarts the counter at each source group boundary.
	ScopePerGroup Scope = "per-source-group"
	// ScopePerSelection restarts the counter at each selection boundary.
	ScopePerSelection Scope = "per-selection"
)

// ParseScope converts a string to a Scope.
func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case ScopeGlobal, ScopePerGroup, ScopePerSelection:
		return Scope(s), nil
	}
	return "", fmt.Errorf("unknown counter scope %q", s)
}

// Input is what one step sees for one file.
type Input struct {
	Stem      string // original name without extension
	Ext       string // extension without the leading dot, may be empty
	Index     int    // zero-based position in the batch
	Group     string // source-group id
	Selection string // selection id, empty when the whole batch is one selection
	Record    core.FileRecord
}

// Step is one named, ordered unit of the pipeline. Apply is pure given its
// input and context and returns a fragment of the target name.
type Step interface {
	Name() string
	Apply(ctx *Context, in Input) (string, error)
}

// MetadataLookup supplies cached metadata fields to steps. It must never
// block on the extraction provider; a value not in cache is simply absent.
type MetadataLookup interface {
	Lookup(rec core.FileRecord, field string) (string, bool)
}

// Context carries the shared mutable state of one plan build. Counter state
// is keyed by (step, scope, bucket) — never by batch-global index alone —
// so counters reset correctly when several source groups are loaded
// together.
type Context struct {
	scope    Scope
	counters map[string]int
}

// NewContext creates the context for one plan build. The scope is always
// caller-supplied; there is no implicit default.
func NewContext(scope Scope) *Context {
	return &Context{scope: scope, counters: map[string]int{}}
}

// Scope returns the counter scope the context was built with.
func (c *Context) Scope() Scope {
	return c.scope
}

// Next returns the current counter value for the step and advances it.
func (c *Context) Next(step string, in Input, start, increment int) int {
	var bucket string
	switch c.scope {
	case ScopePerGroup:
		bucket = in.Group
	case ScopePerSelection:
		bucket = in.Selection
	}
	key := step + "\x00" + string(c.scope) + "\x00" + bucket

	value, ok := c.counters[key]
	if !ok {
		value = start
	}
	c.counters[key] = value + increment
	return value
}
