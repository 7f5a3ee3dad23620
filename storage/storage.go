package storage

import (
	"time"
)

// Storage defines the interface for data storage operations.
//
// Expired keys are removed lazily: a read or overwrite of an expired key
// deletes it, nothing else does.
type Storage interface {
	// String operations
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, expiry *time.Time) error
	Del(keys ...string) int64
	Exists(keys ...string) int64

	// Key operations
	Keys(pattern string) []string
	KeyCount() int64
	FlushAll() error

	// Peek returns the raw entry for key without applying expiry
	Peek(key string) (Entry, bool)

	// Info and stats
	Keyspace() KeyspaceStats
	Info() map[string]interface{}

	// Shutdown
	Close() error
}

// KeyspaceStats summarizes the stored keys. Counts include entries that
// have expired but were not yet visited.
type KeyspaceStats struct {
	Keys    int64
	Expires int64
}
