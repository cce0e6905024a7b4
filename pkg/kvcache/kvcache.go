// Package kvcache provides quota-limited key-value caches used for
// snapshot persistence. Put reports ErrQuotaExceeded when a write would
// push the cache past its byte budget, which drives the snapshot
// degradation ladder.
package kvcache

import "errors"

// ErrQuotaExceeded is returned by Put when the cache byte budget would
// be exceeded.
var ErrQuotaExceeded = errors.New("kvcache: quota exceeded")

// Cache is a key-scoped byte store with a total size budget.
type Cache interface {
	// Get returns the stored value, if any.
	Get(key string) ([]byte, bool)
	// Put stores value under key, returning ErrQuotaExceeded when the
	// write would exceed the cache budget.
	Put(key string, value []byte) error
	// Delete removes key. Removing a missing key is a no-op.
	Delete(key string)
	// Keys returns all stored keys with the given prefix.
	Keys(prefix string) []string
}
