package store

import (
	"sort"
	"sync"
)

// MemStore is an in-memory Store, used when no state directory is
// configured and in tests.
type MemStore struct {
	mu      sync.RWMutex
	buckets map[string]map[string][]byte
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{buckets: map[string]map[string][]byte{}}
}

// Get returns the value for key, or nil when absent.
func (s *MemStore) Get(bucket, key []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.buckets[string(bucket)]
	if !ok {
		return nil, nil
	}
	v, ok := b[string(key)]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Put stores value under key.
func (s *MemStore) Put(bucket, key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buckets[string(bucket)]
	if !ok {
		b = map[string][]byte{}
		s.buckets[string(bucket)] = b
	}
	v := make([]byte, len(value))
	copy(v, value)
	b[string(key)] = v
	return nil
}

// Delete removes key from the bucket.
func (s *MemStore) Delete(bucket, key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.buckets[string(bucket)]; ok {
		delete(b, string(key))
	}
	return nil
}

// ForEach iterates every key in the bucket in sorted key order, matching
// bbolt's ordering so eviction sweeps behave identically on both backends.
func (s *MemStore) ForEach(bucket []byte, fn func(key, value []byte) error) error {
	s.mu.RLock()
	b, ok := s.buckets[string(bucket)]
	if !ok {
		s.mu.RUnlock()
		return nil
	}
	keys := make([]string, 0, len(b))
	for k := range b {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	type pair struct{ k, v []byte }
	pairs := make([]pair, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, pair{[]byte(k), b[k]})
	}
	s.mu.RUnlock()

	for _, p := range pairs {
		if err := fn(p.k, p.v); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of keys in the bucket.
func (s *MemStore) Len(bucket []byte) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buckets[string(bucket)]), nil
}

// Close is a no-op for the in-memory store.
func (s *MemStore) Close() error {
	return nil
}

var _ Store = (*MemStore)(nil)
