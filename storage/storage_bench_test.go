package storage_test

import (
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/raniellyferreira/redis-node/storage"
)

func populate(s storage.Storage, n int) {
	for i := 0; i < n; i++ {
		s.Set("key"+strconv.Itoa(i), []byte("value"+strconv.Itoa(i)), nil)
	}
}

func BenchmarkMemoryStorageGet(b *testing.B) {
	s := storage.NewMemory()
	populate(s, 1000)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			s.Get("key" + strconv.Itoa(i%1000))
			i++
		}
	})
}

func BenchmarkMemoryStorageSet(b *testing.B) {
	s := storage.NewMemory()
	value := []byte("value")

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			s.Set("key"+strconv.Itoa(i%10000), value, nil)
			i++
		}
	})
}

func BenchmarkMemoryStorageSetWithExpiry(b *testing.B) {
	s := storage.NewMemory()
	value := []byte("value")
	expiry := time.Now().Add(time.Hour)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.Set("key"+strconv.Itoa(i%10000), value, &expiry)
	}
}

// BenchmarkMixed runs read/write mixes, writePercent of operations being SETs
func BenchmarkMixed(b *testing.B) {
	for _, writePercent := range []int{5, 20, 50} {
		b.Run(fmt.Sprintf("writes=%d%%", writePercent), func(b *testing.B) {
			s := storage.NewMemory()
			populate(s, 1000)
			value := []byte("newvalue")

			b.ResetTimer()
			b.RunParallel(func(pb *testing.PB) {
				i := 0
				for pb.Next() {
					key := "key" + strconv.Itoa(i%1000)
					if i%100 < writePercent {
						s.Set(key, value, nil)
					} else {
						s.Get(key)
					}
					i++
				}
			})
		})
	}
}

// BenchmarkShardScaling measures a balanced workload across shard counts
func BenchmarkShardScaling(b *testing.B) {
	for _, shards := range []int{1, 4, 16, 64, 256} {
		b.Run(fmt.Sprintf("shards=%d", shards), func(b *testing.B) {
			s := storage.NewMemory(storage.WithShardCount(shards))
			populate(s, 1000)
			value := []byte("v")

			b.ResetTimer()
			b.RunParallel(func(pb *testing.PB) {
				i := 0
				for pb.Next() {
					key := "key" + strconv.Itoa(i%1000)
					if i%5 == 0 {
						s.Set(key, value, nil)
					} else {
						s.Get(key)
					}
					i++
				}
			})
		})
	}
}

func BenchmarkKeysPattern(b *testing.B) {
	for _, size := range []int{1000, 10000} {
		b.Run(strconv.Itoa(size), func(b *testing.B) {
			s := storage.NewMemory()
			populate(s, size)

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				s.Keys("key1*")
			}
		})
	}
}

func BenchmarkKeyspace(b *testing.B) {
	s := storage.NewMemory()
	populate(s, 10000)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.Keyspace()
	}
}
