// Package lockmgr implements named locks on top of a store.IStore.
//
// A lock is an entry below KeyPrefix created with SetEIfUnset. Its value is a
// random owner id, so a successful acquire is confirmed by reading the entry
// back. A ttl lets the store delete abandoned locks. The manager keeps no state
// of its own, which means any number of managers may operate on the same store.
//
// The backup subsystem takes one lock per backup file so a scheduled export
// and a recovery of the same store never overlap. With a raft replicated meta
// store the locks also hold across nodes.
//
// Usage Example:
//
//	locks := lockmgr.NewLockManager(metaStore)
//	err := locks.WithLock("backup###"+name, 600, func() error {
//	    return export(name)
//	})
//	if errors.Is(err, lockmgr.ErrLocked) {
//	    // someone else is working on this file
//	}
package lockmgr
