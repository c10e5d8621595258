package server

import (
	"fmt"

	"github.com/ValentinKolb/kvds/lib/store"
	"github.com/ValentinKolb/kvds/rpc/common"
)

// errReadOnly is returned for writes to a read only store adapter.
var errReadOnly = fmt.Errorf("store is read only")

// NewIStoreServerAdapter translates meta store requests to store calls.
// A read only adapter rejects every write with an error response.
func NewIStoreServerAdapter(store store.IStore, readOnly bool) IRPCServerAdapter {
	return &iStoreServerAdapterImpl{store: store, readOnly: readOnly}
}

type iStoreServerAdapterImpl struct {
	store    store.IStore
	readOnly bool
}

func (adapter *iStoreServerAdapterImpl) Handle(req *common.Message) *common.Message {
	store := adapter.store
	if store == nil {
		return common.NewErrorResponse("handler: store is nil")
	}

	switch req.MsgType {
	case common.MsgTKVSet, common.MsgTKVSetE, common.MsgTKVSetEIfUnset, common.MsgTKVExpire, common.MsgTKVDelete:
		if adapter.readOnly {
			return common.NewWriteResponse(req.MsgType, errReadOnly)
		}
	}

	switch req.MsgType {
	case common.MsgTKVSet:
		return common.NewWriteResponse(req.MsgType, store.Set(req.Key, req.Value))
	case common.MsgTKVSetE:
		return common.NewWriteResponse(req.MsgType, store.SetE(req.Key, req.Value, req.ExpireIn, req.DeleteIn))
	case common.MsgTKVSetEIfUnset:
		return common.NewWriteResponse(req.MsgType, store.SetEIfUnset(req.Key, req.Value, req.ExpireIn, req.DeleteIn))
	case common.MsgTKVExpire:
		return common.NewWriteResponse(req.MsgType, store.Expire(req.Key))
	case common.MsgTKVDelete:
		return common.NewWriteResponse(req.MsgType, store.Delete(req.Key))
	case common.MsgTKVGet:
		val, ok, err := store.Get(req.Key)
		return common.NewGetResponse(val, ok, err)
	case common.MsgTKVHas:
		ok, err := store.Has(req.Key)
		return common.NewHasResponse(ok, err)
	case common.MsgTKVScan:
		kvs, err := store.Scan(req.Key)
		entries := make([]common.Entry, 0, len(kvs))
		for _, kv := range kvs {
			entries = append(entries, common.Entry{Key: kv.Key, Value: kv.Value})
		}
		return common.NewScanResponse(entries, err)
	default:
		return common.NewErrorResponse(
			fmt.Sprintf("RPC IStoreAdapter - Unsuported message type: %s", req.MsgType),
		)
	}
}
