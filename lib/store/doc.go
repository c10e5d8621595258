// Package store defines IStore, the write-indexed key-value abstraction the
// data service keeps its metadata in, together with the typed Error and RetCode
// values every store implementation reports.
//
// Implementations:
//
//   - lstore: a single node store directly on top of a db.KVDB. It also
//     implements ISnapshotter so the meta manager can mirror it to disk.
//
//   - dstore: a raft replicated store built on dragonboat. All writes go through
//     consensus, which makes every meta update visible on all replicas without
//     an explicit sync step.
//
// Both implementations support Scan, which the meta manager uses to enumerate
// store ids and backup candidates by key prefix.
package store
