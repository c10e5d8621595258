// Package lstore implements store.IStore for a single node by wrapping a
// db.KVDB and numbering writes with an atomic counter.
//
// The store also implements store.ISnapshotter. Restore continues numbering
// after the highest write index found in the snapshot, so writes issued after
// a restart are never treated as stale.
//
// Thread Safety:
//
// All methods are safe for concurrent use except Restore, which must not run
// concurrently with other calls.
//
// Usage Example:
//
//	metaStore := lstore.NewLocalStore(func() db.KVDB { return maple.NewMapleDB(nil) })
//	_ = metaStore.Set("KvStoreMetaData###...", record)
//	entries, _ := metaStore.Scan("KvStoreMetaData###")
package lstore
