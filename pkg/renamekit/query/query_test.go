package query

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/renamekit/renamekit/pkg/renamekit/cache"
	"github.com/renamekit/renamekit/pkg/renamekit/core"
)

func record(path string) core.FileRecord {
	return core.FileRecord{
		Path:    path,
		Size:    1,
		ModTime: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
	}
}

func newManager(t *testing.T) (*Manager, *cache.Cache) {
	t.Helper()
	c, err := cache.New(16, 16, nil, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	return NewManager(c, zerolog.Nop()), c
}

type countingFetcher struct {
	calls  int64
	block  chan struct{} // when set, Fetch waits on it
	values map[string]string
	err    error
}

func (f *countingFetcher) Fetch(_ context.Context, _ string, _ []string) (map[string]string, error) {
	atomic.AddInt64(&f.calls, 1)
	if f.block != nil {
		<-f.block
	}
	return f.values, f.err
}

func TestLookup(t *testing.T) {
	t.Run("cached fields are served", func(t *testing.T) {
		m, c := newManager(t)
		rec := record("/d/a.txt")
		c.Put(rec.Path, rec.Fingerprint(), map[string]string{"sha256": "abc"})

		p := m.NewPass()
		v, ok := p.Lookup(rec, "sha256")
		if !ok || v != "abc" {
			t.Fatalf("v=%q ok=%v", v, ok)
		}
	})

	t.Run("miss records the file and never blocks", func(t *testing.T) {
		m, _ := newManager(t)
		rec := record("/d/a.txt")

		p := m.NewPass()
		if _, ok := p.Lookup(rec, "sha256"); ok {
			t.Fatal("unexpected hit")
		}
		missed := m.DrainMisses()
		if len(missed) != 1 || missed[0].Path != rec.Path {
			t.Fatalf("misses = %+v", missed)
		}
		// Drained means drained.
		if extra := m.DrainMisses(); len(extra) != 0 {
			t.Errorf("second drain = %+v", extra)
		}
	})

	t.Run("one cache probe per file per pass", func(t *testing.T) {
		m, c := newManager(t)
		rec := record("/d/a.txt")
		c.Put(rec.Path, rec.Fingerprint(), map[string]string{"name": "a", "ext": "txt"})

		p := m.NewPass()
		p.Lookup(rec, "name")
		// The entry leaves the cache, but the pass memo still serves it.
		c.Invalidate(rec.Path)
		if v, ok := p.Lookup(rec, "ext"); !ok || v != "txt" {
			t.Fatalf("memo not used: v=%q ok=%v", v, ok)
		}
	})

	t.Run("a missed path is not re-probed within the pass", func(t *testing.T) {
		m, c := newManager(t)
		rec := record("/d/a.txt")

		p := m.NewPass()
		p.Lookup(rec, "sha256")
		// The value arrives mid-pass; the pass stays consistent and keeps
		// reporting a miss until the next pass.
		c.Put(rec.Path, rec.Fingerprint(), map[string]string{"sha256": "abc"})
		if _, ok := p.Lookup(rec, "sha256"); ok {
			t.Error("pass re-probed a missed path")
		}
		if v, ok := m.NewPass().Lookup(rec, "sha256"); !ok || v != "abc" {
			t.Errorf("next pass: v=%q ok=%v", v, ok)
		}
	})

	t.Run("field absent in cached values", func(t *testing.T) {
		m, c := newManager(t)
		rec := record("/d/a.txt")
		c.Put(rec.Path, rec.Fingerprint(), map[string]string{"name": "a"})

		if _, ok := m.NewPass().Lookup(rec, "sha256"); ok {
			t.Fatal("absent field reported present")
		}
	})
}

func TestPopulate(t *testing.T) {
	t.Run("fetch result is written through", func(t *testing.T) {
		m, c := newManager(t)
		rec := record("/d/a.txt")
		f := &countingFetcher{values: map[string]string{"sha256": "abc"}}

		if err := m.Populate(context.Background(), rec, []string{"sha256"}, f); err != nil {
			t.Fatalf("populate: %v", err)
		}
		values, ok := c.Get(rec.Path, rec.Fingerprint())
		if !ok || values["sha256"] != "abc" {
			t.Fatalf("ok=%v values=%v", ok, values)
		}
	})

	t.Run("fetch failure wraps in ProviderError", func(t *testing.T) {
		m, _ := newManager(t)
		f := &countingFetcher{err: errors.New("io error")}

		err := m.Populate(context.Background(), record("/d/a.txt"), nil, f)
		var provErr *core.ProviderError
		if !errors.As(err, &provErr) {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("concurrent populations of one path collapse", func(t *testing.T) {
		m, _ := newManager(t)
		rec := record("/d/a.txt")
		f := &countingFetcher{values: map[string]string{"name": "a"}, block: make(chan struct{})}

		var wg sync.WaitGroup
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = m.Populate(context.Background(), rec, nil, f)
			}()
		}
		time.Sleep(10 * time.Millisecond) // let the goroutines queue up
		close(f.block)
		wg.Wait()

		if n := atomic.LoadInt64(&f.calls); n != 1 {
			t.Errorf("fetch called %d times", n)
		}
	})
}
