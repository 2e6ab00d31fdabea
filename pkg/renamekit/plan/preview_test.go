package plan

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/renamekit/renamekit/pkg/renamekit/step"
)

func TestPreview(t *testing.T) {
	builder := NewBuilder(zerolog.Nop())
	pipe := step.NewPipeline(step.ExtPreserve, &step.Literal{Text: "x-"}, &step.OriginalName{})
	settings := Settings{Scope: step.ScopeGlobal}

	t.Run("unchanged inputs return the identical plan object", func(t *testing.T) {
		p := NewPreview(builder, time.Hour, zerolog.Nop())
		files := records("/x/a.txt", "/x/b.txt")

		first, err := p.Plan(files, pipe, settings)
		if err != nil {
			t.Fatalf("plan: %v", err)
		}
		second, err := p.Plan(files, pipe, settings)
		if err != nil {
			t.Fatalf("plan: %v", err)
		}
		if first != second {
			t.Error("expected the cached plan object, got a recomputation")
		}
	})

	t.Run("fingerprint change forces full recomputation", func(t *testing.T) {
		p := NewPreview(builder, time.Hour, zerolog.Nop())
		files := records("/x/a.txt")

		first, _ := p.Plan(files, pipe, settings)
		files[0].Size += 100 // the file changed under us
		second, _ := p.Plan(files, pipe, settings)
		if first == second {
			t.Error("expected recomputation after fingerprint change")
		}
	})

	t.Run("pipeline change forces full recomputation", func(t *testing.T) {
		p := NewPreview(builder, time.Hour, zerolog.Nop())
		files := records("/x/a.txt")

		first, _ := p.Plan(files, pipe, settings)
		other := step.NewPipeline(step.ExtPreserve, &step.Literal{Text: "y-"}, &step.OriginalName{})
		second, _ := p.Plan(files, other, settings)
		if first == second {
			t.Error("expected recomputation after pipeline change")
		}
	})

	t.Run("staleness window expires the cache", func(t *testing.T) {
		p := NewPreview(builder, time.Millisecond, zerolog.Nop())
		files := records("/x/a.txt")

		first, _ := p.Plan(files, pipe, settings)
		time.Sleep(5 * time.Millisecond)
		second, _ := p.Plan(files, pipe, settings)
		if first == second {
			t.Error("expected recomputation after the staleness window")
		}
	})

	t.Run("invalidate drops the cached plan", func(t *testing.T) {
		p := NewPreview(builder, time.Hour, zerolog.Nop())
		files := records("/x/a.txt")

		first, _ := p.Plan(files, pipe, settings)
		p.Invalidate()
		second, _ := p.Plan(files, pipe, settings)
		if first == second {
			t.Error("expected recomputation after invalidation")
		}
	})
}
