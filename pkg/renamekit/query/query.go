// Package query deduplicates and batches per-file lookups. During one
// planning pass the same file's metadata is requested once no matter how
// many steps need it, and the synchronous path never reaches past the cache:
// misses are recorded for the background population pool instead of being
// fetched inline.
package query

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/renamekit/renamekit/pkg/renamekit/cache"
	"github.com/renamekit/renamekit/pkg/renamekit/core"
)

// Fetcher supplies values on a cache miss. Implemented by the metadata/hash
// provider; invoked only from the background population path.
type Fetcher interface {
	Fetch(ctx context.Context, path string, fields []string) (map[string]string, error)
}

// Manager sits between the plan builder and the cache.
type Manager struct {
	cache  *cache.Cache
	flight singleflight.Group
	logger zerolog.Logger

	mu     sync.Mutex
	misses map[string]core.FileRecord
}

// NewManager creates a query manager over the given cache.
func NewManager(c *cache.Cache, logger zerolog.Logger) *Manager {
	return &Manager{
		cache:  c,
		logger: logger.With().Str("component", "query").Logger(),
		misses: map[string]core.FileRecord{},
	}
}

// Pass is one planning pass's view of the manager. It memoizes every lookup
// so repeated requests for the same file cost one cache probe.
type Pass struct {
	m    *Manager
	memo map[string]map[string]string
	seen map[string]bool // paths already probed and missed this pass
}

// NewPass starts a planning pass.
func (m *Manager) NewPass() *Pass {
	return &Pass{
		m:    m,
		memo: map[string]map[string]string{},
		seen: map[string]bool{},
	}
}

// Lookup returns the cached value of one field for the record. A miss in
// both cache tiers records the file for background population and returns
// ok=false; it never blocks on the provider.
func (p *Pass) Lookup(rec core.FileRecord, field string) (string, bool) {
	if values, ok := p.memo[rec.Path]; ok {
		v, ok := values[field]
		return v, ok
	}
	if p.seen[rec.Path] {
		return "", false
	}

	values, ok := p.m.cache.Get(rec.Path, rec.Fingerprint())
	if !ok {
		p.seen[rec.Path] = true
		p.m.recordMiss(rec)
		return "", false
	}
	p.memo[rec.Path] = values
	v, ok := values[field]
	return v, ok
}

func (m *Manager) recordMiss(rec core.FileRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.misses[rec.Path] = rec
}

// DrainMisses returns and clears the records that missed both tiers since
// the last drain. The caller hands them to the population pool.
func (m *Manager) DrainMisses() []core.FileRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]core.FileRecord, 0, len(m.misses))
	for _, rec := range m.misses {
		out = append(out, rec)
	}
	m.misses = map[string]core.FileRecord{}
	return out
}

// Populate fetches the requested fields for one record and writes them
// through both cache tiers. Concurrent populations of the same path are
// collapsed into a single provider call.
func (m *Manager) Populate(ctx context.Context, rec core.FileRecord, fields []string, f Fetcher) error {
	_, err, shared := m.flight.Do(rec.Path, func() (interface{}, error) {
		values, err := f.Fetch(ctx, rec.Path, fields)
		if err != nil {
			return nil, &core.ProviderError{Path: rec.Path, Cause: err}
		}
		m.cache.Put(rec.Path, rec.Fingerprint(), values)
		return values, nil
	})
	if shared {
		m.logger.Trace().Str("path", rec.Path).Msg("population collapsed into in-flight fetch")
	}
	return err
}
