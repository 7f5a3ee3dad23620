// Package storage provides the key-value store shared by every connection
// of a node.
//
// Values are byte strings with an optional absolute expiry. Expiry is lazy:
// there is no background sweeper, an expired key is deleted the next time
// it is read or overwritten.
//
// Basic usage:
//
//	store := storage.NewMemory()
//	expiry := time.Now().Add(time.Second)
//	err := store.Set("key", []byte("value"), &expiry)
//	value, exists := store.Get("key")
//
// Keys are spread over shards selected by an xxhash of the key, each with
// its own lock.
package storage
