package util

import "testing"

func TestHashStringSeed(t *testing.T) {
	if HashString("key", 1) == HashString("key", 2) {
		t.Error("different seeds should give different hashes")
	}
	if HashString("key", 1) != HashString("key", 1) {
		t.Error("hash is not deterministic")
	}
	// FNV-1a of the empty string is the offset basis
	if HashString("", 0) != UintKey(fnvOffset64) {
		t.Errorf("unexpected hash of empty string: %d", HashString("", 0))
	}
}

func TestReplicaId(t *testing.T) {
	a, b := ReplicaId("node-1"), ReplicaId("node-2")
	if a == 0 || b == 0 {
		t.Fatal("replica id must not be 0")
	}
	if a == b {
		t.Error("distinct names should map to distinct ids")
	}
	if a != ReplicaId("node-1") {
		t.Error("replica id is not stable")
	}
}
