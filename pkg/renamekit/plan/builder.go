// Package plan builds rename plans from a file list and a transform
// pipeline, and keeps a short-lived preview cache so every configuration
// keystroke does not pay for a full rebuild.
package plan

import (
	"errors"

	"github.com/rs/zerolog"

	"github.com/renamekit/renamekit/pkg/renamekit/core"
	"github.com/renamekit/renamekit/pkg/renamekit/step"
)

// Settings are the caller-supplied knobs for one plan build. Scope has no
// implicit default: construction fails without one.
type Settings struct {
	Scope     step.Scope
	Selection string // selection id for per-selection counters, may be empty
}

// Builder composes per-file transform steps into an ordered rename plan. It
// reads metadata only through the cache-backed lookup compiled into the
// pipeline's steps and never touches the filesystem.
type Builder struct {
	logger zerolog.Logger

	// BeginPass, when set, runs at the start of every build. The engine
	// uses it to start a fresh lookup-memoization pass so one build's
	// cached lookups never leak into the next.
	BeginPass func()
}

// NewBuilder creates a plan builder.
func NewBuilder(logger zerolog.Logger) *Builder {
	return &Builder{logger: logger.With().Str("component", "plan").Logger()}
}

// Build produces one PENDING entry per file, in input order. A step raising
// a recoverable error marks just that entry INVALID with the reason; the
// rest of the batch continues.
func (b *Builder) Build(files []core.FileRecord, pipe *step.Pipeline, settings Settings) (*core.Plan, error) {
	if settings.Scope == "" {
		return nil, errors.New("counter scope must be supplied")
	}
	if pipe == nil || len(pipe.Steps()) == 0 {
		return nil, errors.New("pipeline has no steps")
	}
	if b.BeginPass != nil {
		b.BeginPass()
	}

	ctx := step.NewContext(settings.Scope)
	out := &core.Plan{Entries: make([]core.PlanEntry, 0, len(files))}

	invalid := 0
	for i, rec := range files {
		in := step.InputFor(rec, i, settings.Selection)
		target, fragments, err := pipe.Render(ctx, in)

		entry := core.PlanEntry{
			Source:      rec,
			Target:      target,
			StepOutputs: fragments,
			Status:      core.StatusPending,
		}
		if err != nil {
			entry.Status = core.StatusInvalid
			entry.Reason = reasonOf(err)
			entry.Target = rec.Name() // keep the original name visible
			invalid++
			b.logger.Debug().
				Str("path", rec.Path).
				Str("reason", entry.Reason).
				Msg("entry invalid at build")
		}
		out.Entries = append(out.Entries, entry)
	}

	b.logger.Info().
		Int("files", len(files)).
		Int("invalid", invalid).
		Str("scope", string(settings.Scope)).
		Msg("plan built")
	return out, nil
}

// reasonOf extracts the per-entry reason from a step failure.
func reasonOf(err error) string {
	var stepErr *core.StepError
	if errors.As(err, &stepErr) {
		return stepErr.Reason
	}
	return err.Error()
}
