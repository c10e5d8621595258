// Package maple implements db.KVDB as a sharded in-memory map with a
// background garbage collector and a compact binary snapshot format.
//
// Key Components:
//
//   - mapleImpl: spreads keys over shards by a seeded FNV-1a hash. Every shard
//     is an xsync.MapOf plus two deadline heaps (expiry and deletion) fed by
//     an unbounded event queue, so the per-shard GC goroutine owns its heaps.
//
//   - Entry: value, original key, expiry and deletion deadlines and the write
//     index of the last update. Writes with an older index than the stored one
//     are ignored.
//
// Scanning:
//
// Keys are hashed for placement, but the original key is kept in each entry.
// Scan walks all shards and filters by prefix, which is linear in the size of
// the database. The data service only scans the meta store, which stays small.
//
// Persistence Format (version 4, little endian):
//
//	"MAPLEDB\x00" | version u8 | count u64 | count x record
//	record = keyLen u32 | key | expireAt u64 | deleteAt u64 | index u64 | valueLen u32 | value
//
// Snapshots are fuzzy: Save does not block writers. Load replaces the whole
// content and must not run concurrently with other operations.
//
// Thread Safety:
//
// All operations except Load are safe for concurrent use.
package maple
