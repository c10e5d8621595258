// Package util contains the building blocks of the maple engine: the seeded
// FNV-1a string hash (also used to derive raft replica ids), a keyed deadline heap (Deadlines) used for expiry and
// deletion and an unbounded multi-producer single-consumer queue (Queue)
// carrying garbage collection events.
//
// It also holds the atomic file helpers shared by every component that
// persists snapshots (store files, meta store, backups, key files).
package util
