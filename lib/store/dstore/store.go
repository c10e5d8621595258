package dstore

import (
	"context"
	"fmt"
	"time"

	"github.com/ValentinKolb/kvds/lib/db"
	"github.com/ValentinKolb/kvds/lib/store"
	"github.com/ValentinKolb/kvds/lib/store/dstore/internal"
	"github.com/cockroachdb/errors"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/client"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	retries = 5
	log     = logger.GetLogger("store")
)

// storeImpl is the raft backed store.IStore. Writes are proposed through a
// no-op session, reads are linearizable unless noted otherwise.
type storeImpl struct {
	nh      *dragonboat.NodeHost
	shardID uint64
	cs      *client.Session
	timeout time.Duration
}

// NewDistributedStore returns a store.IStore replicated over the given shard of nh.
// Each operation is bounded by timeout per attempt.
func NewDistributedStore(nh *dragonboat.NodeHost, shardID uint64, timeout time.Duration) store.IStore {
	return &storeImpl{
		nh:      nh,
		shardID: shardID,
		cs:      nh.GetNoOPSession(shardID),
		timeout: timeout,
	}
}

// --------------------------------------------------------------------------
// Internal write and read operations (used by interface methods)
// --------------------------------------------------------------------------

// retryBusy runs op until it succeeds or fails with something other than ErrSystemBusy.
func (s *storeImpl) retryBusy(name string, op func(ctx context.Context) error) error {
	for i := 0; i < retries; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		err := op(ctx)
		cancel()

		if !errors.Is(err, dragonboat.ErrSystemBusy) {
			return err
		}
		log.Infof("%s: system busy, retrying (%d/%d)...", name, i+1, retries)
		time.Sleep(s.timeout / 10)
	}
	return store.NewError(store.RetCInternalError, fmt.Sprintf("%s: system busy after %d attempts", name, retries))
}

// asStoreError keeps store errors of the state machine and wraps everything else.
func asStoreError(err error) error {
	var se *store.Error
	if errors.As(err, &se) {
		return se
	}
	return store.NewError(store.RetCInternalError, err.Error())
}

func (s *storeImpl) write(cmd internal.Command) error {
	data, err := cmd.MarshalBinary()
	if err != nil {
		return store.NewError(store.RetCInvalidOperation, err.Error())
	}

	return s.retryBusy("propose "+cmd.Type.String(), func(ctx context.Context) error {
		res, err := s.nh.SyncPropose(ctx, s.cs, data)
		if err != nil {
			if errors.Is(err, dragonboat.ErrSystemBusy) {
				return err
			}
			return asStoreError(err)
		}
		if res.Value != uint64(store.RetCSuccess) {
			return store.NewError(store.RetCode(res.Value), string(res.Data))
		}
		return nil
	})
}

// read queries the state machine and converts the response to R.
// stale reads skip the read index protocol and may return outdated data.
func read[R any](s *storeImpl, q internal.Query, stale bool) (R, error) {
	var out R
	err := s.retryBusy("read "+q.Type.String(), func(ctx context.Context) error {
		var (
			res interface{}
			err error
		)
		if stale {
			res, err = s.nh.StaleRead(s.shardID, q)
		} else {
			res, err = s.nh.SyncRead(ctx, s.shardID, q)
		}
		if err != nil {
			if errors.Is(err, dragonboat.ErrSystemBusy) {
				return err
			}
			return asStoreError(err)
		}

		casted, ok := res.(R)
		if !ok {
			return store.NewError(store.RetCInternalError, fmt.Sprintf("unexpected type: received %T, expected %T", res, out))
		}
		out = casted
		return nil
	})
	return out, err
}

// --------------------------------------------------------------------------
// Interface Methods (docs see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) Set(key string, value []byte) error {
	return s.write(internal.Command{Type: internal.CommandTSet, Key: key, Value: value})
}

func (s *storeImpl) SetE(key string, value []byte, expireIn, deleteIn uint64) error {
	return s.write(internal.Command{Type: internal.CommandTSetE, Key: key, Value: value, ExpireIn: expireIn, DeleteIn: deleteIn})
}

func (s *storeImpl) SetEIfUnset(key string, value []byte, expireIn, deleteIn uint64) error {
	return s.write(internal.Command{Type: internal.CommandTSetIfUnset, Key: key, Value: value, ExpireIn: expireIn, DeleteIn: deleteIn})
}

func (s *storeImpl) Expire(key string) error {
	return s.write(internal.Command{Type: internal.CommandTExpire, Key: key})
}

func (s *storeImpl) Delete(key string) error {
	return s.write(internal.Command{Type: internal.CommandTDelete, Key: key})
}

func (s *storeImpl) Get(key string) ([]byte, bool, error) {
	res, err := read[internal.QueryResult](s, internal.Query{Type: internal.QueryTGet, Key: key}, false)
	if err != nil {
		return nil, false, err
	}
	return res.Value, res.Ok, nil
}

func (s *storeImpl) Has(key string) (bool, error) {
	return read[bool](s, internal.Query{Type: internal.QueryTHas, Key: key}, false)
}

func (s *storeImpl) Scan(prefix string) ([]db.KeyValue, error) {
	return read[[]db.KeyValue](s, internal.Query{Type: internal.QueryTScan, Key: prefix}, false)
}

func (s *storeImpl) GetDBInfo() (db.DatabaseInfo, error) {
	return read[db.DatabaseInfo](s, internal.Query{Type: internal.QueryTGetDBInfo}, true)
}
