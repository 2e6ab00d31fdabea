package renamekit

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/renamekit/renamekit/pkg/renamekit/conflict"
	"github.com/renamekit/renamekit/pkg/renamekit/core"
	"github.com/renamekit/renamekit/pkg/renamekit/fsys"
	"github.com/renamekit/renamekit/pkg/renamekit/step"
	"github.com/renamekit/renamekit/pkg/renamekit/validate"
)

func newEngine(t *testing.T, fs *fsys.TestFileSystem, caseSensitive bool) *Engine {
	t.Helper()
	logger := zerolog.Nop()
	rules := validate.DefaultRules()
	rules.CaseSensitive = caseSensitive
	e, err := New(Options{FS: fs, Logger: &logger, Rules: rules})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func seed(fs *fsys.TestFileSystem, paths ...string) {
	for _, p := range paths {
		fs.WriteFile(p, []byte(p), time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	}
}

func compile(t *testing.T, e *Engine, yamlSpec string) *step.Pipeline {
	t.Helper()
	spec, err := step.ParseSpec([]byte(yamlSpec))
	if err != nil {
		t.Fatalf("parse spec: %v", err)
	}
	pipe, err := e.CompilePipeline(spec)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	return pipe
}

const vacationPipeline = `
ext: preserve
steps:
  - kind: literal
    text: vacation-
  - kind: counter
    start: 1
    pad: 3
`

func TestEngine(t *testing.T) {
	t.Run("plan, validate, execute, undo, redo", func(t *testing.T) {
		fs := fsys.NewTestFileSystem()
		seed(fs, "/photos/IMG_001.jpg", "/photos/IMG_002.jpg")
		e := newEngine(t, fs, true)
		pipe := compile(t, e, vacationPipeline)

		files, err := e.Records([]string{"/photos/IMG_001.jpg", "/photos/IMG_002.jpg"})
		if err != nil {
			t.Fatalf("records: %v", err)
		}
		p, err := e.BuildPlan(files, pipe, step.ScopeGlobal)
		if err != nil {
			t.Fatalf("build: %v", err)
		}
		if p, err = e.ResolveConflicts(p, ""); err != nil {
			t.Fatalf("resolve: %v", err)
		}
		e.Validate(p)
		if !p.Executable() {
			t.Fatalf("plan not executable: %+v", p.Entries)
		}

		result, err := e.Execute(context.Background(), p, nil)
		if err != nil {
			t.Fatalf("execute: %v", err)
		}
		if result.Applied != 2 {
			t.Errorf("applied = %d", result.Applied)
		}
		want := []string{"/photos/vacation-001.jpg", "/photos/vacation-002.jpg"}
		if got := fs.Paths(); !reflect.DeepEqual(got, want) {
			t.Fatalf("paths = %v, want %v", got, want)
		}

		if _, err := e.Undo(context.Background()); err != nil {
			t.Fatalf("undo: %v", err)
		}
		want = []string{"/photos/IMG_001.jpg", "/photos/IMG_002.jpg"}
		if got := fs.Paths(); !reflect.DeepEqual(got, want) {
			t.Fatalf("paths after undo = %v", got)
		}

		if _, err := e.Redo(context.Background()); err != nil {
			t.Fatalf("redo: %v", err)
		}
		if !fs.Exists("/photos/vacation-001.jpg") {
			t.Error("redo did not restore the rename")
		}

		if got := len(e.History()); got != 3 {
			t.Errorf("history batches = %d", got)
		}
	})

	t.Run("preview is served from the cache at keystroke rate", func(t *testing.T) {
		fs := fsys.NewTestFileSystem()
		seed(fs, "/d/a.txt")
		e := newEngine(t, fs, true)
		pipe := compile(t, e, vacationPipeline)
		files, _ := e.Records([]string{"/d/a.txt"})

		first, err := e.Preview(files, pipe, step.ScopeGlobal)
		if err != nil {
			t.Fatalf("preview: %v", err)
		}
		second, err := e.Preview(files, pipe, step.ScopeGlobal)
		if err != nil {
			t.Fatalf("preview: %v", err)
		}
		if first != second {
			t.Error("unchanged preview recomputed")
		}
	})

	t.Run("execution invalidates the preview", func(t *testing.T) {
		fs := fsys.NewTestFileSystem()
		seed(fs, "/d/a.txt", "/d/b.txt")
		e := newEngine(t, fs, true)
		pipe := compile(t, e, vacationPipeline)

		files, _ := e.Records([]string{"/d/a.txt"})
		first, err := e.Preview(files, pipe, step.ScopeGlobal)
		if err != nil {
			t.Fatalf("preview: %v", err)
		}

		// A separate batch runs; the cached preview must not survive it.
		other, _ := e.Records([]string{"/d/b.txt"})
		p, _ := e.BuildPlan(other, compile(t, e, "steps:\n  - kind: literal\n    text: moved\n"), step.ScopeGlobal)
		e.Validate(p)
		if _, err := e.Execute(context.Background(), p, nil); err != nil {
			t.Fatalf("execute: %v", err)
		}

		second, err := e.Preview(files, pipe, step.ScopeGlobal)
		if err != nil {
			t.Fatalf("preview: %v", err)
		}
		if first == second {
			t.Error("stale preview served after execution")
		}
	})

	t.Run("conflicts resolve by policy before execution", func(t *testing.T) {
		fs := fsys.NewTestFileSystem()
		seed(fs, "/d/a.txt", "/d/b.txt")
		e := newEngine(t, fs, true)
		pipe := compile(t, e, "steps:\n  - kind: literal\n    text: same\n")

		files, _ := e.Records([]string{"/d/a.txt", "/d/b.txt"})
		p, _ := e.BuildPlan(files, pipe, step.ScopeGlobal)

		if _, err := e.ResolveConflicts(p, conflict.PolicyFail); err == nil {
			t.Fatal("fail policy accepted a duplicate target")
		}
		if _, err := e.ResolveConflicts(p, conflict.PolicyAutoSuffix); err != nil {
			t.Fatalf("auto-suffix: %v", err)
		}
		e.Validate(p)
		if _, err := e.Execute(context.Background(), p, nil); err != nil {
			t.Fatalf("execute: %v", err)
		}
		want := []string{"/d/same (2).txt", "/d/same.txt"}
		if got := fs.Paths(); !reflect.DeepEqual(got, want) {
			t.Errorf("paths = %v, want %v", got, want)
		}
	})

	t.Run("metadata steps read only the cache until a refresh", func(t *testing.T) {
		fs := fsys.NewTestFileSystem()
		seed(fs, "/d/a.txt")
		e := newEngine(t, fs, true)
		pipe := compile(t, e, "steps:\n  - kind: metadata\n    field: size\n")
		files, _ := e.Records([]string{"/d/a.txt"})

		p, err := e.BuildPlan(files, pipe, step.ScopeGlobal)
		if err != nil {
			t.Fatalf("build: %v", err)
		}
		if p.Entries[0].Status != core.StatusInvalid {
			t.Fatalf("cold-cache metadata entry: %s", p.Entries[0].Status)
		}

		if err := e.Refresh(context.Background(), files); err != nil {
			t.Fatalf("refresh: %v", err)
		}
		p, err = e.BuildPlan(files, pipe, step.ScopeGlobal)
		if err != nil {
			t.Fatalf("rebuild: %v", err)
		}
		if p.Entries[0].Status != core.StatusPending {
			t.Fatalf("warm-cache entry: %s (%s)", p.Entries[0].Status, p.Entries[0].Reason)
		}
		if p.Entries[0].Target != "8.txt" { // len("/d/a.txt") bytes of content
			t.Errorf("target = %q", p.Entries[0].Target)
		}
	})

	t.Run("case-only rename end to end on a case-insensitive target", func(t *testing.T) {
		fs := fsys.NewCaseInsensitiveTestFileSystem()
		seed(fs, "/d/img.jpg")
		e := newEngine(t, fs, false)
		pipe := compile(t, e, "steps:\n  - kind: case\n    mode: upper\n")

		files, _ := e.Records([]string{"/d/img.jpg"})
		p, _ := e.BuildPlan(files, pipe, step.ScopeGlobal)
		if p, _ = e.ResolveConflicts(p, ""); len(p.Conflicts) != 0 {
			t.Fatalf("conflicts: %+v", p.Conflicts)
		}
		e.Validate(p)
		if _, err := e.Execute(context.Background(), p, nil); err != nil {
			t.Fatalf("execute: %v", err)
		}
		got, _ := fs.PathOf("/d/img.jpg")
		if got != "/d/IMG.jpg" {
			t.Errorf("stored path = %q", got)
		}
	})

	t.Run("undo on an empty history", func(t *testing.T) {
		fs := fsys.NewTestFileSystem()
		e := newEngine(t, fs, true)
		if _, err := e.Undo(context.Background()); !errors.Is(err, core.ErrNothingToUndo) {
			t.Errorf("err = %v", err)
		}
	})
}
