// Package conflict detects target-name collisions in a rename plan — among
// the batch's own entries and against files already on disk — and applies a
// resolution policy. Rename cycles are detected here too, but they are not
// errors: the executor breaks them with temporary names.
package conflict

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog"

	"github.com/renamekit/renamekit/pkg/renamekit/core"
	"github.com/renamekit/renamekit/pkg/renamekit/fsys"
	"github.com/renamekit/renamekit/pkg/renamekit/step"
)

// Policy selects how blocking conflicts are resolved.
type Policy string

const (
	// PolicySkip marks conflicting entries INVALID and excludes them.
	PolicySkip Policy = "skip"
	// PolicyAutoSuffix appends a disambiguating counter until unique.
	PolicyAutoSuffix Policy = "auto-suffix"
	// PolicyFail aborts the whole batch on any blocking conflict.
	PolicyFail Policy = "fail"
)

// ParsePolicy converts a string to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicySkip, PolicyAutoSuffix, PolicyFail:
		return Policy(s), nil
	}
	return "", fmt.Errorf("unknown conflict policy %q", s)
}

// Resolver detects and resolves conflicts. Case normalization depends on
// the target filesystem's sensitivity, supplied at construction — the same
// folding the validator uses, so a case-only self-rename is never reported
// as a collision with itself.
type Resolver struct {
	fs            fsys.StatFS
	caseSensitive bool
	logger        zerolog.Logger
}

// NewResolver creates a resolver for a target filesystem with the given
// case sensitivity.
func NewResolver(fs fsys.StatFS, caseSensitive bool, logger zerolog.Logger) *Resolver {
	return &Resolver{
		fs:            fs,
		caseSensitive: caseSensitive,
		logger:        logger.With().Str("component", "conflict").Logger(),
	}
}

// Detect finds every conflict in the plan and marks the entries of blocking
// conflicts CONFLICTED. The plan is updated in place and its conflict list
// replaced.
func (r *Resolver) Detect(plan *core.Plan) []core.Conflict {
	plan.Conflicts = nil

	// A previous detection round may have left CONFLICTED marks that no
	// longer hold after resolution rewrote targets.
	for i := range plan.Entries {
		if plan.Entries[i].Status == core.StatusConflicted {
			plan.Entries[i].Status = core.StatusPending
		}
	}

	// Only live entries vacate their source path. An INVALID entry is
	// excluded from execution, so its file stays where it is and other
	// entries targeting that path collide with it.
	sources := map[string]int{} // folded source path -> entry index
	for i, e := range plan.Entries {
		if e.Status == core.StatusInvalid {
			continue
		}
		sources[r.fold(e.Source.Path)] = i
	}

	// Intra-batch duplicates: group live entries by folded target path.
	groups := map[string][]int{}
	order := []string{}
	for i, e := range plan.Entries {
		if e.Status == core.StatusInvalid {
			continue
		}
		key := r.fold(e.TargetPath())
		if len(groups[key]) == 0 {
			order = append(order, key)
		}
		groups[key] = append(groups[key], i)
	}

	for _, key := range order {
		members := groups[key]
		if len(members) > 1 {
			cause := core.CauseIntraBatchDuplicate
			if !r.caseSensitive && !sameRawTargets(plan, members) {
				cause = core.CauseCaseInsensitiveCollision
			}
			r.addConflict(plan, core.Conflict{Target: key, Entries: members, Cause: cause})
			continue
		}

		// Single claimant: collision only if the target exists on disk and
		// is not itself a source of the batch. An entry whose target folds
		// to its own source is a cosmetic case-only rename, not a conflict.
		i := members[0]
		e := plan.Entries[i]
		if r.fold(e.TargetPath()) == r.fold(e.Source.Path) {
			continue
		}
		if _, claimed := sources[key]; claimed {
			continue
		}
		if r.exists(e.TargetPath()) {
			r.addConflict(plan, core.Conflict{Target: key, Entries: members, Cause: core.CauseExistingFileCollision})
		}
	}

	r.detectCycles(plan, sources)

	if len(plan.Conflicts) > 0 {
		r.logger.Info().
			Int("conflicts", len(plan.Conflicts)).
			Msg("conflicts detected")
	}
	return plan.Conflicts
}

// detectCycles walks source→target chains over the live entries. Entries on
// a cycle get an informational CYCLIC_RENAME conflict; their status is
// untouched because the executor handles cycles with a temporary name.
func (r *Resolver) detectCycles(plan *core.Plan, sources map[string]int) {
	const (
		unvisited = 0
		inChain   = 1
		done      = 2
	)
	state := make([]int, len(plan.Entries))

	for start := range plan.Entries {
		if state[start] != unvisited {
			continue
		}
		var chain []int
		i := start
		for {
			if plan.Entries[i].Status == core.StatusInvalid || plan.Entries[i].Status == core.StatusConflicted {
				break
			}
			state[i] = inChain
			chain = append(chain, i)

			next, ok := sources[r.fold(plan.Entries[i].TargetPath())]
			if !ok || next == i {
				break
			}
			if state[next] == inChain {
				// Cycle closed: members are the chain suffix from next.
				var members []int
				seen := false
				for _, j := range chain {
					if j == next {
						seen = true
					}
					if seen {
						members = append(members, j)
					}
				}
				sort.Ints(members)
				r.addConflict(plan, core.Conflict{
					Target:  r.fold(plan.Entries[next].TargetPath()),
					Entries: members,
					Cause:   core.CauseCyclicRename,
				})
				break
			}
			if state[next] == done {
				break
			}
			i = next
		}
		for _, j := range chain {
			state[j] = done
		}
	}
}

// Resolve applies the policy to every blocking conflict. PolicyFail returns
// a ConflictError and leaves the plan untouched. The returned plan is the
// input plan, updated in place.
func (r *Resolver) Resolve(plan *core.Plan, policy Policy) (*core.Plan, error) {
	blocking := blockingConflicts(plan)
	if len(blocking) == 0 {
		return plan, nil
	}

	switch policy {
	case PolicyFail:
		return plan, &core.ConflictError{Conflicts: blocking}
	case PolicySkip:
		r.resolveSkip(plan, blocking)
	case PolicyAutoSuffix:
		r.resolveAutoSuffix(plan)
	default:
		return plan, fmt.Errorf("unknown conflict policy %q", policy)
	}

	// Re-detect so freshly assigned names are themselves checked.
	r.Detect(plan)
	if remaining := blockingConflicts(plan); len(remaining) > 0 {
		return plan, &core.ConflictError{Conflicts: remaining}
	}
	return plan, nil
}

// resolveSkip keeps the first claimant of each duplicated target and marks
// the rest INVALID. Entries colliding with an on-disk file are all invalid.
func (r *Resolver) resolveSkip(plan *core.Plan, blocking []core.Conflict) {
	for _, c := range blocking {
		members := c.Entries
		if c.Cause != core.CauseExistingFileCollision {
			members = members[1:] // stable input order: first claimant wins
			plan.Entries[c.Entries[0]].Status = core.StatusResolved
		}
		for _, i := range members {
			plan.Entries[i].Status = core.StatusInvalid
			plan.Entries[i].Reason = fmt.Sprintf("target %q conflicts (%s), skipped by policy", plan.Entries[i].Target, c.Cause)
			r.logger.Debug().
				Str("path", plan.Entries[i].Source.Path).
				Str("target", plan.Entries[i].Target).
				Msg("entry skipped by conflict policy")
		}
	}
}

// resolveAutoSuffix walks the entries in stable input order and appends
// " (n)" before the extension until each target is unique, both within the
// batch and against disk. Deterministic: identical plans resolve to
// identical names.
func (r *Resolver) resolveAutoSuffix(plan *core.Plan) {
	used := map[string]bool{}
	sources := map[string]bool{}
	for _, e := range plan.Entries {
		if e.Status == core.StatusInvalid {
			continue
		}
		sources[r.fold(e.Source.Path)] = true
	}

	for i := range plan.Entries {
		e := &plan.Entries[i]
		if e.Status == core.StatusInvalid {
			continue
		}

		target := e.Target
		for n := 2; ; n++ {
			targetPath := filepath.Join(e.Source.Dir(), target)
			folded := r.fold(targetPath)
			collides := used[folded]
			if !collides && folded != r.fold(e.Source.Path) && !sources[folded] && r.exists(targetPath) {
				collides = true
			}
			if !collides {
				if target != e.Target {
					r.logger.Debug().
						Str("path", e.Source.Path).
						Str("from", e.Target).
						Str("to", target).
						Msg("auto-suffix assigned")
					e.Target = target
					e.Status = core.StatusResolved
					e.Reason = ""
				} else if e.Status == core.StatusConflicted {
					e.Status = core.StatusResolved
				}
				used[folded] = true
				break
			}
			target = suffixed(e.Target, n)
		}
	}
}

func (r *Resolver) addConflict(plan *core.Plan, c core.Conflict) {
	plan.Conflicts = append(plan.Conflicts, c)
	if !c.Cause.Blocking() {
		return
	}
	for _, i := range c.Entries {
		plan.Entries[i].Status = core.StatusConflicted
	}
}

func (r *Resolver) fold(path string) string {
	return core.Fold(path, r.caseSensitive)
}

func (r *Resolver) exists(path string) bool {
	if r.fs == nil {
		return false
	}
	_, err := r.fs.Stat(path)
	if err == nil {
		return true
	}
	return !errors.Is(err, fs.ErrNotExist)
}

func blockingConflicts(plan *core.Plan) []core.Conflict {
	var out []core.Conflict
	for _, c := range plan.Conflicts {
		if c.Cause.Blocking() {
			out = append(out, c)
		}
	}
	return out
}

func sameRawTargets(plan *core.Plan, members []int) bool {
	first := plan.Entries[members[0]].Target
	for _, i := range members[1:] {
		if plan.Entries[i].Target != first {
			return false
		}
	}
	return true
}

// suffixed inserts " (n)" before the extension of name.
func suffixed(name string, n int) string {
	stem, ext := step.SplitName(name)
	if ext == "" {
		return fmt.Sprintf("%s (%d)", stem, n)
	}
	return fmt.Sprintf("%s (%d).%s", stem, n, ext)
}
