package server

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/kvds/lib/dataservice"
	"github.com/ValentinKolb/kvds/lib/kvstore"
	"github.com/ValentinKolb/kvds/rpc/common"
	"github.com/puzpuzpuz/xsync/v3"
)

// storeHandle is a store opened on behalf of a client.
type storeHandle struct {
	store   kvstore.IKvStore
	single  kvstore.ISingleKvStore // nil for multi version stores
	client  string
	appId   string
	storeId string
}

// DataServiceAdapter serves the data service to remote clients.
//
// Opened stores stay on the server and are addressed by handle ids. Every request
// carrying a client token refreshes the lease of that client. When the lease runs
// out (see Run) the death observers of the client die, its handles are dropped
// and its device watch is stopped.
type DataServiceAdapter struct {
	svc   dataservice.IKvStoreDataService
	lease time.Duration
	now   func() time.Time

	sessions   *xsync.MapOf[string, *clientSession]
	handles    *xsync.MapOf[uint64, *storeHandle]
	nextHandle atomic.Uint64
}

// NewDataServiceAdapter creates an adapter for svc. A lease <= 0 keeps clients alive forever.
func NewDataServiceAdapter(svc dataservice.IKvStoreDataService, lease time.Duration) *DataServiceAdapter {
	return &DataServiceAdapter{
		svc:      svc,
		lease:    lease,
		now:      time.Now,
		sessions: xsync.NewMapOf[string, *clientSession](),
		handles:  xsync.NewMapOf[uint64, *storeHandle](),
	}
}

// Run expires the sessions whose lease ran out until ctx is done.
func (a *DataServiceAdapter) Run(ctx context.Context) {
	if a.lease <= 0 {
		return
	}
	ticker := time.NewTicker(max(a.lease/4, 10*time.Millisecond))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.ExpireSessions()
		}
	}
}

// ExpireSessions ends every session whose lease ran out and returns how many ended.
func (a *DataServiceAdapter) ExpireSessions() int {
	if a.lease <= 0 {
		return 0
	}
	now := a.now()
	var expired []*clientSession
	a.sessions.Range(func(token string, s *clientSession) bool {
		if s.expired(now, a.lease) {
			expired = append(expired, s)
		}
		return true
	})
	ended := 0
	for _, s := range expired {
		if a.endSession(s, now) {
			ended++
		}
	}
	return ended
}

// endSession removes s unless it was refreshed meanwhile.
func (a *DataServiceAdapter) endSession(s *clientSession, now time.Time) bool {
	removed := false
	a.sessions.Compute(s.token, func(cur *clientSession, loaded bool) (*clientSession, bool) {
		if loaded && cur == s && s.expired(now, a.lease) {
			removed = true
			return cur, true
		}
		return cur, !loaded
	})
	if !removed {
		return false
	}
	log.Infof("lease of client %s expired", s.token)

	a.svc.StopWatchDeviceChange(context.Background(), s.listener)
	s.die()
	a.dropHandles(func(h *storeHandle) bool { return h.client == s.token })
	return true
}

// Sessions returns the number of live clients.
func (a *DataServiceAdapter) Sessions() int {
	return a.sessions.Size()
}

// OpenHandles returns the number of store handles held for clients.
func (a *DataServiceAdapter) OpenHandles() int {
	return a.handles.Size()
}

// --------------------------------------------------------------------------
// Interface Methods (docu see IRPCServerAdapter)
// --------------------------------------------------------------------------

func (a *DataServiceAdapter) Handle(req *common.Message) *common.Message {
	var session *clientSession
	if req.Client != "" {
		now := a.now()
		session, _ = a.sessions.LoadOrCompute(req.Client, func() *clientSession {
			log.Debugf("new client %s", req.Client)
			return newClientSession(req.Client, now)
		})
		session.touch(now)
	}

	ctx := kvstore.WithCaller(context.Background(), kvstore.Caller{UID: req.UID})
	appId := kvstore.AppId(req.AppId)
	storeId := kvstore.StoreId(req.StoreId)

	switch req.MsgType {

	// data service

	case common.MsgTDSGetKvStore, common.MsgTDSGetSingleKvStore:
		return a.open(ctx, req)

	case common.MsgTDSGetAllKvStoreId:
		resp := &common.Message{MsgType: req.MsgType}
		a.svc.GetAllKvStoreId(ctx, appId, func(status kvstore.Status, ids []kvstore.StoreId) {
			resp.Status = int32(status)
			resp.Keys = make([]string, 0, len(ids))
			for _, id := range ids {
				resp.Keys = append(resp.Keys, string(id))
			}
		})
		return resp

	case common.MsgTDSCloseKvStore:
		status := a.svc.CloseKvStore(ctx, appId, storeId)
		if status == kvstore.Success {
			a.dropOneHandle(req.Client, req.AppId, req.StoreId, req.Handle)
		}
		return common.NewStatusResponse(req.MsgType, int32(status))

	case common.MsgTDSCloseAllKvStore:
		status := a.svc.CloseAllKvStore(ctx, appId)
		a.dropAppHandles(req.Client, req.AppId, "")
		return common.NewStatusResponse(req.MsgType, int32(status))

	case common.MsgTDSDeleteKvStore:
		status := a.svc.DeleteKvStore(ctx, appId, storeId)
		if status == kvstore.Success {
			a.dropAppHandles(req.Client, req.AppId, req.StoreId)
		}
		return common.NewStatusResponse(req.MsgType, int32(status))

	case common.MsgTDSDeleteAllKvStore:
		status := a.svc.DeleteAllKvStore(ctx, appId)
		a.dropAppHandles(req.Client, req.AppId, "")
		return common.NewStatusResponse(req.MsgType, int32(status))

	case common.MsgTDSRegisterClientDeathObserver:
		if session == nil {
			return common.NewStatusResponse(req.MsgType, int32(kvstore.InvalidArgument))
		}
		status := a.svc.RegisterClientDeathObserver(ctx, appId, session.observer(req.AppId))
		return common.NewStatusResponse(req.MsgType, int32(status))

	case common.MsgTDSAppExit:
		status := a.svc.AppExit(ctx, appId)
		a.dropAppHandles(req.Client, req.AppId, "")
		return common.NewStatusResponse(req.MsgType, int32(status))

	case common.MsgTDSGetLocalDevice:
		info, status := a.svc.GetLocalDevice(ctx)
		return &common.Message{MsgType: req.MsgType, Status: int32(status), Value: common.EncodePayload(info)}

	case common.MsgTDSGetDeviceList:
		var strategy kvstore.DeviceFilterStrategy
		if err := common.DecodePayload(req.Value, &strategy); err != nil {
			return common.NewStatusResponse(req.MsgType, int32(kvstore.InvalidArgument))
		}
		list, status := a.svc.GetDeviceList(ctx, strategy)
		return &common.Message{MsgType: req.MsgType, Status: int32(status), Value: common.EncodePayload(list)}

	case common.MsgTDSStartWatchDeviceChange:
		if session == nil {
			return common.NewStatusResponse(req.MsgType, int32(kvstore.InvalidArgument))
		}
		var strategy kvstore.DeviceFilterStrategy
		if err := common.DecodePayload(req.Value, &strategy); err != nil {
			return common.NewStatusResponse(req.MsgType, int32(kvstore.InvalidArgument))
		}
		status := a.svc.StartWatchDeviceChange(ctx, session.listener, strategy)
		return common.NewStatusResponse(req.MsgType, int32(status))

	case common.MsgTDSStopWatchDeviceChange:
		if session == nil {
			return common.NewStatusResponse(req.MsgType, int32(kvstore.InvalidArgument))
		}
		status := a.svc.StopWatchDeviceChange(ctx, session.listener)
		return common.NewStatusResponse(req.MsgType, int32(status))

	case common.MsgTDSPollDeviceEvents:
		if session == nil {
			return common.NewStatusResponse(req.MsgType, int32(kvstore.InvalidArgument))
		}
		events := session.drain()
		if events == nil {
			events = []common.DeviceEvent{}
		}
		return &common.Message{MsgType: req.MsgType, Value: common.EncodePayload(events)}

	case common.MsgTDSHeartbeat:
		return common.NewStatusResponse(req.MsgType, int32(kvstore.Success))

	// store handles

	case common.MsgTStorePut, common.MsgTStorePutBatch, common.MsgTStoreGet, common.MsgTStoreDelete,
		common.MsgTStoreDeleteBatch, common.MsgTStoreGetEntries, common.MsgTStoreSetCapabilityEnabled,
		common.MsgTStoreSetCapabilityRange, common.MsgTStoreGetSecurityLevel:
		h, ok := a.handles.Load(req.Handle)
		if !ok || h.client != req.Client {
			return common.NewStatusResponse(req.MsgType, int32(kvstore.StoreNotOpen))
		}
		return handleStoreRequest(h, req)

	default:
		return common.NewErrorResponse(
			fmt.Sprintf("RPC DataServiceAdapter - Unsuported message type: %s", req.MsgType),
		)
	}
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (a *DataServiceAdapter) open(ctx context.Context, req *common.Message) *common.Message {
	options := kvstore.DefaultOptions()
	if err := common.DecodePayload(req.Value, &options); err != nil {
		return common.NewStatusResponse(req.MsgType, int32(kvstore.InvalidArgument))
	}

	resp := &common.Message{MsgType: req.MsgType}
	appId, storeId := kvstore.AppId(req.AppId), kvstore.StoreId(req.StoreId)

	var status kvstore.Status
	if req.MsgType == common.MsgTDSGetSingleKvStore {
		status = a.svc.GetSingleKvStore(ctx, options, appId, storeId, func(s kvstore.ISingleKvStore) {
			if s != nil {
				resp.Handle = a.addHandle(req, s, s)
			}
		})
	} else {
		status = a.svc.GetKvStore(ctx, options, appId, storeId, func(s kvstore.IKvStore) {
			if s != nil {
				single, _ := s.(kvstore.ISingleKvStore)
				resp.Handle = a.addHandle(req, s, single)
			}
		})
	}
	resp.Status = int32(status)
	return resp
}

func (a *DataServiceAdapter) addHandle(req *common.Message, s kvstore.IKvStore, single kvstore.ISingleKvStore) uint64 {
	id := a.nextHandle.Add(1)
	a.handles.Store(id, &storeHandle{
		store:   s,
		single:  single,
		client:  req.Client,
		appId:   req.AppId,
		storeId: req.StoreId,
	})
	return id
}

// dropOneHandle removes the handle a close refers to: the given id if it matches, else any handle of the store.
func (a *DataServiceAdapter) dropOneHandle(client, appId, storeId string, id uint64) {
	if h, ok := a.handles.Load(id); ok && h.client == client && h.appId == appId && h.storeId == storeId {
		a.handles.Delete(id)
		return
	}
	var found uint64
	a.handles.Range(func(k uint64, h *storeHandle) bool {
		if h.client == client && h.appId == appId && h.storeId == storeId {
			found = k
			return false
		}
		return true
	})
	if found != 0 {
		a.handles.Delete(found)
	}
}

// dropAppHandles removes the handles of a client for appId, limited to storeId if set.
func (a *DataServiceAdapter) dropAppHandles(client, appId, storeId string) {
	a.dropHandles(func(h *storeHandle) bool {
		return h.client == client && h.appId == appId && (storeId == "" || h.storeId == storeId)
	})
}

func (a *DataServiceAdapter) dropHandles(match func(h *storeHandle) bool) {
	var ids []uint64
	a.handles.Range(func(k uint64, h *storeHandle) bool {
		if match(h) {
			ids = append(ids, k)
		}
		return true
	})
	for _, id := range ids {
		a.handles.Delete(id)
	}
}

func handleStoreRequest(h *storeHandle, req *common.Message) *common.Message {
	resp := &common.Message{MsgType: req.MsgType}
	var status kvstore.Status

	switch req.MsgType {
	case common.MsgTStorePut:
		status = h.store.Put(req.Key, req.Value)
	case common.MsgTStorePutBatch:
		entries := make([]kvstore.Entry, 0, len(req.Entries))
		for _, e := range req.Entries {
			entries = append(entries, kvstore.Entry{Key: e.Key, Value: e.Value})
		}
		status = h.store.PutBatch(entries)
	case common.MsgTStoreGet:
		var value []byte
		value, status = h.store.Get(req.Key)
		if status == kvstore.Success {
			resp.Value = value
			if resp.Value == nil {
				resp.Value = []byte{}
			}
		}
	case common.MsgTStoreDelete:
		status = h.store.Delete(req.Key)
	case common.MsgTStoreDeleteBatch:
		status = h.store.DeleteBatch(req.Keys)
	case common.MsgTStoreGetEntries:
		var entries []kvstore.Entry
		entries, status = h.store.GetEntries(req.Key)
		resp.Entries = make([]common.Entry, 0, len(entries))
		for _, e := range entries {
			resp.Entries = append(resp.Entries, common.Entry{Key: e.Key, Value: e.Value})
		}
	case common.MsgTStoreSetCapabilityEnabled:
		if h.single == nil {
			status = kvstore.NotSupport
			break
		}
		status = h.single.SetCapabilityEnabled(req.Ok)
	case common.MsgTStoreSetCapabilityRange:
		if h.single == nil {
			status = kvstore.NotSupport
			break
		}
		var labels common.CapabilityRange
		if err := common.DecodePayload(req.Value, &labels); err != nil {
			status = kvstore.InvalidArgument
			break
		}
		status = h.single.SetCapabilityRange(labels.Local, labels.Remote)
	case common.MsgTStoreGetSecurityLevel:
		if h.single == nil {
			status = kvstore.NotSupport
			break
		}
		var level kvstore.SecurityLevel
		level, status = h.single.GetSecurityLevel()
		resp.Value = common.EncodePayload(level)
	}

	resp.Status = int32(status)
	return resp
}
