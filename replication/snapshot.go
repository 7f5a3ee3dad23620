package replication

import (
	"encoding/base64"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// emptyRDB is an RDB image of an empty dataset, as produced by Redis 7.2
const emptyRDB = "UkVESVMwMDEx+glyZWRpcy12ZXIFNy4yLjD6CnJlZGlzLWJpdHPAQPoFY3RpbWXCbQi8ZfoIdXNlZC1tZW3CsMQQAPoIYW9mLWJhc2XAAP/wbjv+wP9aog=="

var emptySnapshot = mustDecodeSnapshot(emptyRDB)

func mustDecodeSnapshot(s string) []byte {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		panic(fmt.Sprintf("replication: invalid embedded snapshot: %v", err))
	}
	return b
}

// EmptySnapshot returns the snapshot a master sends on full resync. The
// bytes are opaque to this package; a fresh copy is returned on each call.
func EmptySnapshot() []byte {
	out := make([]byte, len(emptySnapshot))
	copy(out, emptySnapshot)
	return out
}

// SnapshotDigest returns the xxhash of a snapshot, used to identify it in
// logs and sync status
func SnapshotDigest(blob []byte) uint64 {
	return xxhash.Sum64(blob)
}
