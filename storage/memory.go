package storage

import (
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// shard represents a single shard of data with its own lock
type shard struct {
	mu   sync.RWMutex
	data map[string]*Entry
}

// MemoryStorage implements an in-memory storage engine with lazy expiry
type MemoryStorage struct {
	shards    []shard
	shardMask uint64
	now       func() time.Time

	closeOnce sync.Once
}

// MemoryOption is a function that configures a MemoryStorage instance
type MemoryOption func(*MemoryStorage)

// WithShardCount sets the number of shards for the storage.
// The number is rounded up to the next power of 2.
func WithShardCount(count int) MemoryOption {
	return func(s *MemoryStorage) {
		if count > 0 {
			n := nextPowerOf2(count)
			s.shards = make([]shard, n)
			s.shardMask = uint64(n - 1)
		}
	}
}

// WithClock replaces the time source used for expiry decisions
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStorage) {
		if now != nil {
			s.now = now
		}
	}
}

// NewMemory creates a new in-memory storage instance with 64 shards by default
func NewMemory(opts ...MemoryOption) *MemoryStorage {
	s := &MemoryStorage{
		shards:    make([]shard, 64),
		shardMask: 63,
		now:       time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	for i := range s.shards {
		s.shards[i].data = make(map[string]*Entry)
	}

	return s
}

// nextPowerOf2 returns the next power of 2 >= n
func nextPowerOf2(n int) int {
	if n <= 1 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}

// shardFor returns the shard owning key
func (s *MemoryStorage) shardFor(key string) *shard {
	return &s.shards[xxhash.Sum64String(key)&s.shardMask]
}

// Get retrieves a value by key. An expired key is deleted and reported
// as absent.
func (s *MemoryStorage) Get(key string) ([]byte, bool) {
	sh := s.shardFor(key)
	now := s.now()

	sh.mu.RLock()
	entry, exists := sh.data[key]
	if !exists {
		sh.mu.RUnlock()
		return nil, false
	}
	if entry.ExpiredAt(now) {
		sh.mu.RUnlock()
		s.deleteExpiredKey(sh, key, now)
		return nil, false
	}

	result := make([]byte, len(entry.Value))
	copy(result, entry.Value)
	sh.mu.RUnlock()

	return result, true
}

// Set stores a value, replacing any previous value and expiry
func (s *MemoryStorage) Set(key string, value []byte, expiry *time.Time) error {
	entry := &Entry{Value: append([]byte(nil), value...)}
	if expiry != nil {
		t := *expiry
		entry.Expiry = &t
	}

	sh := s.shardFor(key)
	sh.mu.Lock()
	sh.data[key] = entry
	sh.mu.Unlock()

	return nil
}

// Del deletes one or more keys and returns how many live keys were removed
func (s *MemoryStorage) Del(keys ...string) int64 {
	now := s.now()
	deleted := int64(0)

	for _, key := range keys {
		sh := s.shardFor(key)
		sh.mu.Lock()
		if entry, exists := sh.data[key]; exists {
			delete(sh.data, key)
			if !entry.ExpiredAt(now) {
				deleted++
			}
		}
		sh.mu.Unlock()
	}

	return deleted
}

// Exists counts the keys that are present. A key named twice counts twice.
func (s *MemoryStorage) Exists(keys ...string) int64 {
	count := int64(0)
	for _, key := range keys {
		if _, ok := s.Get(key); ok {
			count++
		}
	}
	return count
}

// Keys returns all live keys matching a glob pattern, sorted.
// Pattern supports glob-style patterns:
// * matches any number of characters (including zero)
// ? matches a single character
// [abc] matches any character in the brackets
// [a-z] matches any character in the range
func (s *MemoryStorage) Keys(pattern string) []string {
	now := s.now()
	keys := make([]string, 0)

	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		for key, entry := range sh.data {
			if entry.ExpiredAt(now) {
				continue
			}
			if pattern == "*" || MatchPattern(key, pattern) {
				keys = append(keys, key)
			}
		}
		sh.mu.RUnlock()
	}

	sort.Strings(keys)
	return keys
}

// KeyCount returns the number of stored entries, including expired
// entries that have not been visited yet
func (s *MemoryStorage) KeyCount() int64 {
	return s.Keyspace().Keys
}

// Keyspace returns key and expiry counts
func (s *MemoryStorage) Keyspace() KeyspaceStats {
	var stats KeyspaceStats
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		stats.Keys += int64(len(sh.data))
		for _, entry := range sh.data {
			if entry.Expiry != nil {
				stats.Expires++
			}
		}
		sh.mu.RUnlock()
	}
	return stats
}

// Peek returns a copy of the raw entry without applying lazy expiry
func (s *MemoryStorage) Peek(key string) (Entry, bool) {
	sh := s.shardFor(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	entry, exists := sh.data[key]
	if !exists {
		return Entry{}, false
	}
	out := Entry{Value: append([]byte(nil), entry.Value...)}
	if entry.Expiry != nil {
		t := *entry.Expiry
		out.Expiry = &t
	}
	return out, true
}

// FlushAll removes all keys
func (s *MemoryStorage) FlushAll() error {
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		sh.data = make(map[string]*Entry)
		sh.mu.Unlock()
	}
	return nil
}

// MemoryUsage returns approximate memory usage in bytes
func (s *MemoryStorage) MemoryUsage() int64 {
	usage := int64(0)
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		for key, entry := range sh.data {
			usage += int64(len(key)) + entry.Size()
		}
		sh.mu.RUnlock()
	}
	return usage
}

// Info returns storage statistics
func (s *MemoryStorage) Info() map[string]interface{} {
	stats := s.Keyspace()
	return map[string]interface{}{
		"keys":         stats.Keys,
		"expires":      stats.Expires,
		"memory_usage": s.MemoryUsage(),
		"shards":       len(s.shards),
	}
}

// Close releases the storage. All keys are dropped.
func (s *MemoryStorage) Close() error {
	s.closeOnce.Do(func() {
		_ = s.FlushAll()
	})
	return nil
}

// deleteExpiredKey removes key if it is still expired under the write lock
func (s *MemoryStorage) deleteExpiredKey(sh *shard, key string, now time.Time) {
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if entry, exists := sh.data[key]; exists && entry.ExpiredAt(now) {
		delete(sh.data, key)
	}
}
