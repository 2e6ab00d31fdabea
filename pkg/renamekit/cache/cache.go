// Package cache implements the two-tier lookup store for per-file
// metadata/hash values: a fixed-capacity in-memory LRU in front of a
// capacity-bounded durable key-value tier. Coherency rule: an entry whose
// fingerprint no longer matches the live file is treated exactly like an
// absent entry — discarded on sight, never served.
package cache

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/renamekit/renamekit/pkg/renamekit/store"
)

var l2Bucket = []byte("cache")

// Entry is one cached value set for a file, tagged with the fingerprint it
// was computed from.
type Entry struct {
	Fingerprint string            `json:"fingerprint"`
	Values      map[string]string `json:"values"`
	LastAccess  time.Time         `json:"last_access"`
}

// Cache is the two-tier store. L1 reads go through the LRU's own short
// bookkeeping lock; values are immutable once stored, so no value-level
// locking exists. L2 writes are write-through on every L1 population.
type Cache struct {
	l1     *lru.Cache[string, Entry]
	l2     store.Store // nil disables the durable tier
	l2cap  int
	logger zerolog.Logger

	// sweepMu serializes eviction sweeps; barrier is held for writes during
	// InvalidateAll so readers never observe a half-cleared cache.
	sweepMu sync.Mutex
	barrier sync.RWMutex

	puts int // puts since last sweep check
}

// New creates a cache with the given tier capacities. st may be nil for a
// memory-only cache.
func New(l1cap, l2cap int, st store.Store, logger zerolog.Logger) (*Cache, error) {
	if l1cap <= 0 {
		l1cap = 1024
	}
	if l2cap <= 0 {
		l2cap = 16384
	}
	l1, err := lru.New[string, Entry](l1cap)
	if err != nil {
		return nil, err
	}
	return &Cache{
		l1:     l1,
		l2:     st,
		l2cap:  l2cap,
		logger: logger.With().Str("component", "cache").Logger(),
	}, nil
}

// Get returns the cached values for path if the stored fingerprint matches.
// A fingerprint mismatch discards the stale entry from both tiers and
// reports a miss: stale data is discarded, not served.
func (c *Cache) Get(path, fingerprint string) (map[string]string, bool) {
	c.barrier.RLock()
	defer c.barrier.RUnlock()

	if entry, ok := c.l1.Get(path); ok {
		if entry.Fingerprint == fingerprint {
			return entry.Values, true
		}
		c.logger.Debug().Str("path", path).Msg("stale L1 entry discarded")
		c.l1.Remove(path)
		c.l2Delete(path)
		return nil, false
	}

	entry, ok := c.l2Get(path)
	if !ok {
		return nil, false
	}
	if entry.Fingerprint != fingerprint {
		c.logger.Debug().Str("path", path).Msg("stale L2 entry discarded")
		c.l2Delete(path)
		return nil, false
	}

	// Promote into L1; the durable copy keeps its refreshed access time.
	entry.LastAccess = time.Now()
	c.l1.Add(path, entry)
	c.l2Put(path, entry)
	return entry.Values, true
}

// Put populates both tiers for path. The entry is fully written or not
// written at all; a cancelled population task simply never calls Put.
func (c *Cache) Put(path, fingerprint string, values map[string]string) {
	c.barrier.RLock()
	entry := Entry{Fingerprint: fingerprint, Values: values, LastAccess: time.Now()}
	c.l1.Add(path, entry)
	c.l2Put(path, entry)
	c.barrier.RUnlock()

	c.maybeSweep()
}

// Invalidate discards any entry for path in both tiers immediately. Called
// after a successful rename; the new path is recomputed lazily, never
// pre-populated.
func (c *Cache) Invalidate(path string) {
	c.barrier.RLock()
	defer c.barrier.RUnlock()
	c.l1.Remove(path)
	c.l2Delete(path)
}

// InvalidateAll clears both tiers behind a write barrier, e.g. on
// configuration reload.
func (c *Cache) InvalidateAll() {
	c.barrier.Lock()
	defer c.barrier.Unlock()

	c.l1.Purge()
	if c.l2 == nil {
		return
	}
	var keys [][]byte
	_ = c.l2.ForEach(l2Bucket, func(key, _ []byte) error {
		k := make([]byte, len(key))
		copy(k, key)
		keys = append(keys, k)
		return nil
	})
	for _, k := range keys {
		_ = c.l2.Delete(l2Bucket, k)
	}
	c.logger.Info().Int("evicted", len(keys)).Msg("cache cleared")
}

// Len returns the L1 entry count.
func (c *Cache) Len() int {
	return c.l1.Len()
}

func (c *Cache) l2Get(path string) (Entry, bool) {
	if c.l2 == nil {
		return Entry{}, false
	}
	raw, err := c.l2.Get(l2Bucket, []byte(path))
	if err != nil || raw == nil {
		return Entry{}, false
	}
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		// Unreadable entries are dropped, same as absent.
		_ = c.l2.Delete(l2Bucket, []byte(path))
		return Entry{}, false
	}
	return entry, true
}

func (c *Cache) l2Put(path string, entry Entry) {
	if c.l2 == nil {
		return
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if err := c.l2.Put(l2Bucket, []byte(path), raw); err != nil {
		c.logger.Warn().Err(err).Str("path", path).Msg("L2 write failed")
	}
}

func (c *Cache) l2Delete(path string) {
	if c.l2 == nil {
		return
	}
	_ = c.l2.Delete(l2Bucket, []byte(path))
}

// maybeSweep bounds the durable tier: once the key count exceeds the cap,
// the oldest-accessed entries are deleted down to the cap.
func (c *Cache) maybeSweep() {
	if c.l2 == nil {
		return
	}

	c.sweepMu.Lock()
	defer c.sweepMu.Unlock()

	// Checking the key count on every put would make each population pay
	// for a full bucket stat; amortize instead.
	c.puts++
	if c.puts < 64 {
		return
	}
	c.puts = 0
	c.sweepLocked()
}

// Sweep forces an immediate L2 eviction sweep.
func (c *Cache) Sweep() {
	c.sweepMu.Lock()
	defer c.sweepMu.Unlock()
	if c.l2 == nil {
		return
	}
	c.sweepLocked()
}

func (c *Cache) sweepLocked() {
	n, err := c.l2.Len(l2Bucket)
	if err != nil || n <= c.l2cap {
		return
	}

	type aged struct {
		path string
		at   time.Time
	}
	var all []aged
	_ = c.l2.ForEach(l2Bucket, func(key, value []byte) error {
		var entry Entry
		if err := json.Unmarshal(value, &entry); err != nil {
			all = append(all, aged{path: string(key)}) // zero time sorts first
			return nil
		}
		all = append(all, aged{path: string(key), at: entry.LastAccess})
		return nil
	})

	sort.Slice(all, func(i, j int) bool { return all[i].at.Before(all[j].at) })

	evict := len(all) - c.l2cap
	for i := 0; i < evict && i < len(all); i++ {
		_ = c.l2.Delete(l2Bucket, []byte(all[i].path))
	}
	if evict > 0 {
		c.logger.Debug().Int("evicted", evict).Msg("L2 eviction sweep")
	}
}
