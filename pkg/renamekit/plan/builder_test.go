package plan

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/renamekit/renamekit/pkg/renamekit/core"
	"github.com/renamekit/renamekit/pkg/renamekit/step"
)

func records(paths ...string) []core.FileRecord {
	recs := make([]core.FileRecord, 0, len(paths))
	for i, p := range paths {
		recs = append(recs, core.FileRecord{
			Path:    p,
			Size:    int64(10 + i),
			ModTime: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		})
	}
	return recs
}

func TestBuilderBuild(t *testing.T) {
	b := NewBuilder(zerolog.Nop())

	t.Run("scope is mandatory", func(t *testing.T) {
		pipe := step.NewPipeline(step.ExtPreserve, &step.OriginalName{})
		if _, err := b.Build(records("/x/a.txt"), pipe, Settings{}); err == nil {
			t.Error("expected an error without a scope")
		}
	})

	t.Run("entries come back pending in input order", func(t *testing.T) {
		pipe := step.NewPipeline(step.ExtPreserve,
			&step.Literal{Text: "f-"},
			&step.Counter{ID: "1", Start: 1},
		)
		p, err := b.Build(records("/x/b.txt", "/x/a.txt"), pipe, Settings{Scope: step.ScopeGlobal})
		if err != nil {
			t.Fatalf("build: %v", err)
		}
		if len(p.Entries) != 2 {
			t.Fatalf("expected 2 entries, got %d", len(p.Entries))
		}
		if p.Entries[0].Target != "f-1.txt" || p.Entries[1].Target != "f-2.txt" {
			t.Errorf("targets: %q, %q", p.Entries[0].Target, p.Entries[1].Target)
		}
		for _, e := range p.Entries {
			if e.Status != core.StatusPending {
				t.Errorf("expected PENDING, got %s", e.Status)
			}
		}
	})

	t.Run("per-group counters restart per directory", func(t *testing.T) {
		pipe := step.NewPipeline(step.ExtPreserve, &step.Counter{ID: "1", Start: 1})
		files := records("/g1/a.txt", "/g1/b.txt", "/g2/c.txt", "/g2/d.txt")
		p, err := b.Build(files, pipe, Settings{Scope: step.ScopePerGroup})
		if err != nil {
			t.Fatalf("build: %v", err)
		}
		want := []string{"1.txt", "2.txt", "1.txt", "2.txt"}
		for i, e := range p.Entries {
			if e.Target != want[i] {
				t.Errorf("entry %d: got %q, want %q", i, e.Target, want[i])
			}
		}
	})

	t.Run("a failing step invalidates one entry, not the batch", func(t *testing.T) {
		pipe := step.NewPipeline(step.ExtPreserve,
			&step.Metadata{Field: "camera", Lookup: onlyFor{"/x/a.jpg", "X100"}},
		)
		p, err := b.Build(records("/x/a.jpg", "/x/b.jpg"), pipe, Settings{Scope: step.ScopeGlobal})
		if err != nil {
			t.Fatalf("build: %v", err)
		}
		if p.Entries[0].Status != core.StatusPending {
			t.Errorf("first entry should survive: %s (%s)", p.Entries[0].Status, p.Entries[0].Reason)
		}
		if p.Entries[1].Status != core.StatusInvalid {
			t.Errorf("second entry should be invalid: %s", p.Entries[1].Status)
		}
		if p.Entries[1].Reason == "" {
			t.Error("invalid entries need a specific reason")
		}
		if p.Entries[1].Target != "b.jpg" {
			t.Errorf("invalid entries keep the original name visible, got %q", p.Entries[1].Target)
		}
	})
}

// onlyFor serves one field value for exactly one path.
type onlyFor struct {
	path  string
	value string
}

func (o onlyFor) Lookup(rec core.FileRecord, field string) (string, bool) {
	if rec.Path == o.path {
		return o.value, true
	}
	return "", false
}
