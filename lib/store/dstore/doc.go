// Package dstore is the replicated backend of the kvds meta store, used when
// the service runs with meta mode "raft". Every node of the cluster then sees
// the same store metadata, secret key records and backup leases, which is how
// meta synchronization works without a separate sync channel.
//
// Components:
//
//   - storeImpl (store.go): the store.IStore handed to the meta manager. Writes
//     are encoded as internal.Command and proposed with SyncPropose through a
//     no-op session, reads are internal.Query lookups served by SyncRead.
//     GetDBInfo uses StaleRead since it is informational only.
//
//   - KVStateMachine (statemachine.go): a dragonboat IConcurrentStateMachine
//     wrapping a db.KVDB. The raft log index doubles as the write index of the
//     database, so TTL deadlines agree on all replicas. Snapshots are fuzzy
//     (db.KVDB Save/Load without pausing writers); a recovering replica loads
//     the latest snapshot and replays the log entries committed after it.
//
// Failure handling:
//
// ErrSystemBusy is retried a few times with a pause of a tenth of the timeout.
// Every other failure is returned as a *store.Error; codes produced by the
// state machine are kept, everything else becomes RetCInternalError. A write
// that cannot reach a majority fails after the timeout, the meta manager then
// reports the affected operation as a DB error.
//
// Usage:
//
//	nh, err := dragonboat.NewNodeHost(config.ToNodeHostConfig())
//	err = nh.StartConcurrentReplica(members, false,
//	    dstore.NewStateMachineFactory(func() db.KVDB { return maple.NewMapleDB(nil) }),
//	    config.ToDragonboatConfig(common.ShardMetaStore))
//	metaStore := dstore.NewDistributedStore(nh, common.ShardMetaStore, timeout)
package dstore
