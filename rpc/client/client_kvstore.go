package client

import (
	"github.com/ValentinKolb/kvds/lib/kvstore"
	"github.com/ValentinKolb/kvds/rpc/common"
)

// remoteStore is a store opened on the server, addressed by its handle.
// It implements kvstore.ISingleKvStore, the server answers NOT_SUPPORT for the
// capability operations of multi version stores.
type remoteStore struct {
	client  *DataServiceClient
	handle  uint64
	storeId kvstore.StoreId
}

var _ kvstore.ISingleKvStore = (*remoteStore)(nil)

func (s *remoteStore) request(t common.MessageType) *common.Message {
	return common.NewHandleRequest(t, s.client.token, s.handle)
}

// --------------------------------------------------------------------------
// Interface Methods (docu see the kvstore package in handles.go)
// --------------------------------------------------------------------------

func (s *remoteStore) GetStoreId() kvstore.StoreId {
	return s.storeId
}

func (s *remoteStore) Put(key string, value []byte) kvstore.Status {
	req := s.request(common.MsgTStorePut)
	req.Key, req.Value = key, value
	_, status := s.client.invokeStatus(req)
	return status
}

func (s *remoteStore) PutBatch(entries []kvstore.Entry) kvstore.Status {
	req := s.request(common.MsgTStorePutBatch)
	req.Entries = make([]common.Entry, 0, len(entries))
	for _, e := range entries {
		req.Entries = append(req.Entries, common.Entry{Key: e.Key, Value: e.Value})
	}
	_, status := s.client.invokeStatus(req)
	return status
}

func (s *remoteStore) Get(key string) ([]byte, kvstore.Status) {
	req := s.request(common.MsgTStoreGet)
	req.Key = key
	resp, status := s.client.invokeStatus(req)
	if resp == nil || status != kvstore.Success {
		return nil, status
	}
	return resp.Value, status
}

func (s *remoteStore) Delete(key string) kvstore.Status {
	req := s.request(common.MsgTStoreDelete)
	req.Key = key
	_, status := s.client.invokeStatus(req)
	return status
}

func (s *remoteStore) DeleteBatch(keys []string) kvstore.Status {
	req := s.request(common.MsgTStoreDeleteBatch)
	req.Keys = keys
	_, status := s.client.invokeStatus(req)
	return status
}

func (s *remoteStore) GetEntries(prefix string) ([]kvstore.Entry, kvstore.Status) {
	req := s.request(common.MsgTStoreGetEntries)
	req.Key = prefix
	resp, status := s.client.invokeStatus(req)
	if resp == nil {
		return nil, status
	}
	entries := make([]kvstore.Entry, 0, len(resp.Entries))
	for _, e := range resp.Entries {
		entries = append(entries, kvstore.Entry{Key: e.Key, Value: e.Value})
	}
	return entries, status
}

func (s *remoteStore) SetCapabilityEnabled(enabled bool) kvstore.Status {
	req := s.request(common.MsgTStoreSetCapabilityEnabled)
	req.Ok = enabled
	_, status := s.client.invokeStatus(req)
	return status
}

func (s *remoteStore) SetCapabilityRange(localLabels, remoteLabels []string) kvstore.Status {
	req := s.request(common.MsgTStoreSetCapabilityRange)
	req.Value = common.EncodePayload(common.CapabilityRange{Local: localLabels, Remote: remoteLabels})
	_, status := s.client.invokeStatus(req)
	return status
}

func (s *remoteStore) GetSecurityLevel() (kvstore.SecurityLevel, kvstore.Status) {
	level := kvstore.NoLabel
	resp, status := s.client.invokeStatus(s.request(common.MsgTStoreGetSecurityLevel))
	if resp != nil && status == kvstore.Success {
		if err := common.DecodePayload(resp.Value, &level); err != nil {
			return kvstore.NoLabel, kvstore.IpcError
		}
	}
	return level, status
}
