package util

import (
	"crypto/rand"
	"encoding/binary"
	"time"
)

// --------------------------------------------------------------------------
// Seeds
// --------------------------------------------------------------------------

// GenerateSeed returns a random seed for a maple instance. Two instances hash
// the same key to different shards.
func GenerateSeed() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return uint64(time.Now().UnixNano())
	}
	return binary.LittleEndian.Uint64(b[:])
}

// --------------------------------------------------------------------------
// Hashing
// --------------------------------------------------------------------------

// UintKey is the hashed form of a store key used by the maple shards.
type UintKey uint64

const (
	fnvOffset64 = 14695981039346656037
	fnvPrime64  = 1099511628211
)

// HashString hashes s with FNV-1a, the offset basis mixed with seed.
func HashString(s string, seed uint64) UintKey {
	hash := uint64(fnvOffset64) ^ seed
	for i := 0; i < len(s); i++ {
		hash ^= uint64(s[i])
		hash *= fnvPrime64
	}
	return UintKey(hash)
}

// ReplicaId maps the name of a meta store replica to its raft replica id. The
// mapping is stable across processes and never yields 0, which raft reserves.
func ReplicaId(name string) uint64 {
	if id := uint64(HashString(name, 0)); id != 0 {
		return id
	}
	return 1
}
