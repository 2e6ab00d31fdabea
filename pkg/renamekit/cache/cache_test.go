package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/renamekit/renamekit/pkg/renamekit/store"
)

var bucket = []byte("cache")

func newCache(t *testing.T, l1cap, l2cap int, st store.Store) *Cache {
	t.Helper()
	c, err := New(l1cap, l2cap, st, zerolog.Nop())
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	return c
}

func TestGetPut(t *testing.T) {
	t.Run("hit on matching fingerprint", func(t *testing.T) {
		c := newCache(t, 8, 8, nil)
		c.Put("/d/a.txt", "size:100", map[string]string{"name": "a"})

		values, ok := c.Get("/d/a.txt", "size:100")
		if !ok || values["name"] != "a" {
			t.Fatalf("ok=%v values=%v", ok, values)
		}
	})

	t.Run("changed fingerprint is a miss and evicts the stale entry", func(t *testing.T) {
		st := store.NewMemStore()
		c := newCache(t, 8, 8, st)
		c.Put("/d/a.txt", "size:100", map[string]string{"name": "a"})

		if _, ok := c.Get("/d/a.txt", "size:200"); ok {
			t.Fatal("stale entry served")
		}
		// The stale entry must be gone from both tiers, so even the old
		// fingerprint misses now.
		if _, ok := c.Get("/d/a.txt", "size:100"); ok {
			t.Error("stale entry survived in L1")
		}
		if raw, _ := st.Get(bucket, []byte("/d/a.txt")); raw != nil {
			t.Error("stale entry survived in L2")
		}
	})

	t.Run("L1 eviction falls back to L2 and promotes", func(t *testing.T) {
		st := store.NewMemStore()
		c := newCache(t, 2, 16, st)
		c.Put("/d/a.txt", "f1", map[string]string{"name": "a"})
		c.Put("/d/b.txt", "f2", map[string]string{"name": "b"})
		c.Put("/d/c.txt", "f3", map[string]string{"name": "c"}) // evicts a from L1

		values, ok := c.Get("/d/a.txt", "f1")
		if !ok || values["name"] != "a" {
			t.Fatalf("L2 fallback failed: ok=%v values=%v", ok, values)
		}
	})

	t.Run("stale L2 entry is discarded on sight", func(t *testing.T) {
		st := store.NewMemStore()
		c := newCache(t, 1, 16, st)
		c.Put("/d/a.txt", "f1", map[string]string{"name": "a"})
		c.Put("/d/b.txt", "f2", map[string]string{"name": "b"}) // a leaves L1

		if _, ok := c.Get("/d/a.txt", "f-changed"); ok {
			t.Fatal("stale L2 entry served")
		}
		if raw, _ := st.Get(bucket, []byte("/d/a.txt")); raw != nil {
			t.Error("stale L2 entry not deleted")
		}
	})

	t.Run("memory-only cache works without a store", func(t *testing.T) {
		c := newCache(t, 4, 0, nil)
		c.Put("/d/a.txt", "f1", map[string]string{"name": "a"})
		if _, ok := c.Get("/d/a.txt", "f1"); !ok {
			t.Fatal("miss on memory-only cache")
		}
		c.Sweep() // must not panic with no L2
	})
}

func TestInvalidate(t *testing.T) {
	t.Run("single path clears both tiers", func(t *testing.T) {
		st := store.NewMemStore()
		c := newCache(t, 8, 8, st)
		c.Put("/d/a.txt", "f1", map[string]string{"name": "a"})

		c.Invalidate("/d/a.txt")
		if _, ok := c.Get("/d/a.txt", "f1"); ok {
			t.Error("entry survived invalidation")
		}
		if raw, _ := st.Get(bucket, []byte("/d/a.txt")); raw != nil {
			t.Error("L2 entry survived invalidation")
		}
	})

	t.Run("InvalidateAll empties the cache", func(t *testing.T) {
		st := store.NewMemStore()
		c := newCache(t, 8, 8, st)
		for i := 0; i < 5; i++ {
			path := fmt.Sprintf("/d/%d.txt", i)
			c.Put(path, "f", map[string]string{"name": path})
		}

		c.InvalidateAll()
		if c.Len() != 0 {
			t.Errorf("L1 len = %d", c.Len())
		}
		n, err := st.Len(bucket)
		if err != nil {
			t.Fatal(err)
		}
		if n != 0 {
			t.Errorf("L2 keys = %d", n)
		}
	})
}

func TestSweep(t *testing.T) {
	t.Run("oldest-accessed entries leave first", func(t *testing.T) {
		st := store.NewMemStore()
		c := newCache(t, 16, 3, st)
		for i := 0; i < 5; i++ {
			c.Put(fmt.Sprintf("/d/%d.txt", i), "f", map[string]string{"i": fmt.Sprint(i)})
			time.Sleep(2 * time.Millisecond) // distinct access times
		}

		c.Sweep()
		n, err := st.Len(bucket)
		if err != nil {
			t.Fatal(err)
		}
		if n != 3 {
			t.Fatalf("L2 keys after sweep = %d", n)
		}
		for _, gone := range []string{"/d/0.txt", "/d/1.txt"} {
			if raw, _ := st.Get(bucket, []byte(gone)); raw != nil {
				t.Errorf("%s should have been evicted", gone)
			}
		}
		for _, kept := range []string{"/d/2.txt", "/d/3.txt", "/d/4.txt"} {
			if raw, _ := st.Get(bucket, []byte(kept)); raw == nil {
				t.Errorf("%s should have been kept", kept)
			}
		}
	})

	t.Run("under capacity nothing is evicted", func(t *testing.T) {
		st := store.NewMemStore()
		c := newCache(t, 16, 10, st)
		c.Put("/d/a.txt", "f", map[string]string{"name": "a"})

		c.Sweep()
		if n, _ := st.Len(bucket); n != 1 {
			t.Errorf("L2 keys = %d", n)
		}
	})
}
