package storage_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raniellyferreira/redis-node/storage"
)

// fakeClock is a manually advanced time source
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestMemoryStorage(t *testing.T) {
	s := storage.NewMemory()
	defer s.Close()

	require.NoError(t, s.Set("key1", []byte("value1"), nil))

	value, exists := s.Get("key1")
	require.True(t, exists)
	assert.Equal(t, "value1", string(value))

	_, exists = s.Get("nonexistent")
	assert.False(t, exists)
}

func TestMemoryStorageOverwriteClearsExpiry(t *testing.T) {
	clock := newFakeClock()
	s := storage.NewMemory(storage.WithClock(clock.Now))

	expiry := clock.Now().Add(10 * time.Millisecond)
	require.NoError(t, s.Set("k", []byte("v1"), &expiry))
	require.NoError(t, s.Set("k", []byte("v2"), nil))

	clock.Advance(time.Second)
	value, exists := s.Get("k")
	require.True(t, exists)
	assert.Equal(t, "v2", string(value))

	entry, ok := s.Peek("k")
	require.True(t, ok)
	assert.Nil(t, entry.Expiry)
}

func TestMemoryStorageLazyExpiry(t *testing.T) {
	clock := newFakeClock()
	s := storage.NewMemory(storage.WithClock(clock.Now))

	expiry := clock.Now().Add(50 * time.Millisecond)
	require.NoError(t, s.Set("k", []byte("v"), &expiry))

	clock.Advance(49 * time.Millisecond)
	_, exists := s.Get("k")
	assert.True(t, exists)

	// Exactly at the expiry instant the key is gone
	clock.Advance(time.Millisecond)

	// Nothing is removed until the key is visited
	_, present := s.Peek("k")
	assert.True(t, present)
	assert.Equal(t, int64(1), s.KeyCount())

	_, exists = s.Get("k")
	assert.False(t, exists)

	_, present = s.Peek("k")
	assert.False(t, present)
	assert.Equal(t, int64(0), s.KeyCount())
}

func TestMemoryStorageRealClockExpiry(t *testing.T) {
	s := storage.NewMemory()

	expiry := time.Now().Add(50 * time.Millisecond)
	require.NoError(t, s.Set("k", []byte("v"), &expiry))

	time.Sleep(60 * time.Millisecond)
	_, exists := s.Get("k")
	assert.False(t, exists)
}

func TestMemoryStorageDelExists(t *testing.T) {
	clock := newFakeClock()
	s := storage.NewMemory(storage.WithClock(clock.Now))

	require.NoError(t, s.Set("a", []byte("1"), nil))
	require.NoError(t, s.Set("b", []byte("2"), nil))
	expiry := clock.Now().Add(time.Millisecond)
	require.NoError(t, s.Set("c", []byte("3"), &expiry))
	clock.Advance(time.Second)

	assert.Equal(t, int64(3), s.Exists("a", "a", "b"))
	assert.Equal(t, int64(0), s.Exists("c"))

	assert.Equal(t, int64(1), s.Del("a", "missing"))
	assert.Equal(t, int64(0), s.Exists("a"))

	require.NoError(t, s.Set("d", []byte("4"), &expiry))
	assert.Equal(t, int64(0), s.Del("d"), "expired keys are not counted as deleted")
}

func TestMemoryStorageKeys(t *testing.T) {
	s := storage.NewMemory(storage.WithShardCount(3))

	for _, key := range []string{"user:1", "user:2", "order:1", "session"} {
		require.NoError(t, s.Set(key, []byte("x"), nil))
	}
	past := time.Now().Add(-time.Second)
	require.NoError(t, s.Set("user:expired", []byte("x"), &past))

	assert.Equal(t, []string{"order:1", "session", "user:1", "user:2"}, s.Keys("*"))
	assert.Equal(t, []string{"user:1", "user:2"}, s.Keys("user:*"))
	assert.Equal(t, []string{"order:1", "user:1"}, s.Keys("*:1"))
	assert.Empty(t, s.Keys("nothing*"))
}

func TestMemoryStorageKeyspace(t *testing.T) {
	s := storage.NewMemory()

	future := time.Now().Add(time.Hour)
	require.NoError(t, s.Set("a", []byte("1"), nil))
	require.NoError(t, s.Set("b", []byte("2"), &future))

	stats := s.Keyspace()
	assert.Equal(t, int64(2), stats.Keys)
	assert.Equal(t, int64(1), stats.Expires)

	info := s.Info()
	assert.Equal(t, int64(2), info["keys"])
	assert.Equal(t, int64(1), info["expires"])

	require.NoError(t, s.FlushAll())
	assert.Equal(t, int64(0), s.KeyCount())
}

func TestMemoryStorageValueIsolation(t *testing.T) {
	s := storage.NewMemory()

	buf := []byte("value")
	require.NoError(t, s.Set("k", buf, nil))
	buf[0] = 'X'

	value, _ := s.Get("k")
	assert.Equal(t, "value", string(value))

	value[0] = 'Y'
	again, _ := s.Get("k")
	assert.Equal(t, "value", string(again))
}

func TestMemoryStorageConcurrency(t *testing.T) {
	s := storage.NewMemory()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("key:%d:%d", g, i)
				_ = s.Set(key, []byte("v"), nil)
				s.Get(key)
				s.Exists(key)
			}
		}(g)
	}
	wg.Wait()

	assert.Equal(t, int64(1600), s.KeyCount())
}
