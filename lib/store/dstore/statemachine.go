package dstore

import (
	"fmt"
	"io"
	"time"

	"github.com/ValentinKolb/kvds/lib/db"
	"github.com/ValentinKolb/kvds/lib/store"
	"github.com/ValentinKolb/kvds/lib/store/dstore/internal"
	"github.com/cockroachdb/errors"
	sm "github.com/lni/dragonboat/v4/statemachine"
)

// --------------------------------------------------------------------------
// State Machine Implementation
// --------------------------------------------------------------------------

// KVStateMachine applies meta store commands to a db.KVDB on every replica.
// The raft log index is used as the write index of the database, so expiry
// and deletion deadlines are the same on all replicas.
type KVStateMachine struct {
	replicaID uint64
	shardID   uint64
	database  db.KVDB
}

// NewStateMachineFactory returns the factory dragonboat calls for every replica of the shard.
func NewStateMachineFactory(dbFactory store.DBFactory) func(shardID uint64, replicaID uint64) sm.IConcurrentStateMachine {
	return func(shardID uint64, replicaID uint64) sm.IConcurrentStateMachine {
		return &KVStateMachine{
			replicaID: replicaID,
			shardID:   shardID,
			database:  dbFactory(),
		}
	}
}

// unsupported returns a store error if the database lacks the feature.
func (fsm *KVStateMachine) unsupported(feature db.Feature, op fmt.Stringer) error {
	if fsm.database.SupportsFeature(feature) {
		return nil
	}
	return store.NewError(store.RetCUnsupportedOperation, fmt.Sprintf("%s is not supported", op))
}

// Lookup handles read-only queries.
func (fsm *KVStateMachine) Lookup(itf interface{}) (interface{}, error) {
	q, ok := itf.(internal.Query)
	if !ok {
		return nil, store.NewError(store.RetCInternalError, fmt.Sprintf("invalid Query type: %T", itf))
	}

	switch q.Type {
	case internal.QueryTGet:
		if err := fsm.unsupported(db.FeatureGet, q.Type); err != nil {
			return nil, err
		}
		val, ok := fsm.database.Get(q.Key)
		return internal.QueryResult{Value: val, Ok: ok}, nil
	case internal.QueryTHas:
		if err := fsm.unsupported(db.FeatureHas, q.Type); err != nil {
			return nil, err
		}
		return fsm.database.Has(q.Key), nil
	case internal.QueryTGetDBInfo:
		return fsm.database.GetInfo(), nil
	case internal.QueryTScan:
		if err := fsm.unsupported(db.FeatureScan, q.Type); err != nil {
			return nil, err
		}
		entries := make([]db.KeyValue, 0)
		fsm.database.Scan(q.Key, func(key string, value []byte) bool {
			entries = append(entries, db.KeyValue{Key: key, Value: value})
			return true
		})
		return entries, nil
	default:
		return nil, store.NewError(store.RetCInvalidOperation, fmt.Sprintf("unknown Query operation: %d", q.Type))
	}
}

func result(code store.RetCode, format string, args ...any) sm.Result {
	return sm.Result{Value: uint64(code), Data: []byte(fmt.Sprintf(format, args...))}
}

// apply runs one decoded command at the given log index.
func (fsm *KVStateMachine) apply(cmd internal.Command, index uint64) sm.Result {
	feat, err := cmd.Type.ToDBFeature()
	if err != nil {
		return result(store.RetCInvalidOperation, "unknown Command operation: %s", cmd.Type)
	}
	if !fsm.database.SupportsFeature(feat) {
		return result(store.RetCUnsupportedOperation, "%s is not supported", cmd.Type)
	}

	switch cmd.Type {
	case internal.CommandTSet:
		fsm.database.Set(cmd.Key, cmd.Value, index)
	case internal.CommandTSetE:
		fsm.database.SetE(cmd.Key, cmd.Value, index, cmd.ExpireIn, cmd.DeleteIn)
	case internal.CommandTSetIfUnset:
		fsm.database.SetEIfUnset(cmd.Key, cmd.Value, index, cmd.ExpireIn, cmd.DeleteIn)
	case internal.CommandTExpire:
		fsm.database.Expire(cmd.Key, index)
	case internal.CommandTDelete:
		fsm.database.Delete(cmd.Key, index)
	}
	return result(store.RetCSuccess, "%s: key=%s", cmd.Type, cmd.Key)
}

// Update applies a batch of committed log entries.
func (fsm *KVStateMachine) Update(entries []sm.Entry) ([]sm.Entry, error) {
	if len(entries) == 0 {
		return entries, nil
	}

	start := time.Now()
	var cmd internal.Command
	for idx, e := range entries {
		if err := cmd.UnmarshalBinary(e.Cmd); err != nil {
			// a bad entry is answered, not fatal: the proposer gets the error and the log moves on
			entries[idx].Result = result(store.RetCInvalidOperation, "failed to decode command: %v", err)
			continue
		}
		entries[idx].Result = fsm.apply(cmd, e.Index)
	}

	if elapsed := time.Since(start); elapsed > time.Millisecond {
		log.Infof("meta state machine (shard %d, replica %d) applied %d entries in %.2fms", fsm.shardID, fsm.replicaID, len(entries), float64(elapsed)/float64(time.Millisecond))
	}
	return entries, nil
}

// PrepareSnapshot is not used, snapshots are fuzzy.
func (fsm *KVStateMachine) PrepareSnapshot() (interface{}, error) {
	return nil, nil
}

// SaveSnapshot writes a fuzzy snapshot of the database.
func (fsm *KVStateMachine) SaveSnapshot(_ interface{}, writer io.Writer, _ sm.ISnapshotFileCollection, _ <-chan struct{}) error {
	if !fsm.database.SupportsFeature(db.FeatureSave) {
		return errors.New("the meta database does not support snapshots")
	}
	return errors.Wrap(fsm.database.Save(writer), "save meta snapshot")
}

// RecoverFromSnapshot replaces the database with a snapshot.
func (fsm *KVStateMachine) RecoverFromSnapshot(r io.Reader, _ []sm.SnapshotFile, _ <-chan struct{}) error {
	if !fsm.database.SupportsFeature(db.FeatureLoad) {
		return errors.New("the meta database does not support snapshot recovery")
	}
	return errors.Wrap(fsm.database.Load(r), "recover meta snapshot")
}

func (fsm *KVStateMachine) Close() error {
	return fsm.database.Close()
}
