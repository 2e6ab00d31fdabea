// Package store provides the durable key-value surface shared by the L2
// cache and the history manager: get/put/delete by key plus bulk iteration
// for eviction sweeps.
package store

// Store is a bucketed key-value store. Implementations must be safe for
// concurrent use.
type Store interface {
	// Get returns the value for key, or nil when absent.
	Get(bucket, key []byte) ([]byte, error)
	// Put stores value under key, replacing any previous value.
	Put(bucket, key, value []byte) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(bucket, key []byte) error
	// ForEach calls fn for every key in the bucket. Returning an error from
	// fn stops the iteration and propagates the error.
	ForEach(bucket []byte, fn func(key, value []byte) error) error
	// Len returns the number of keys in the bucket.
	Len(bucket []byte) (int, error)
	// Close releases underlying resources.
	Close() error
}
