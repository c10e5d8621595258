package server

import (
	"context"
	"testing"
	"time"

	"github.com/ValentinKolb/kvds/lib/account"
	"github.com/ValentinKolb/kvds/lib/dataservice"
	"github.com/ValentinKolb/kvds/lib/device"
	"github.com/ValentinKolb/kvds/lib/kvstore"
	"github.com/ValentinKolb/kvds/lib/layout"
	"github.com/ValentinKolb/kvds/lib/meta"
	"github.com/ValentinKolb/kvds/lib/permission"
	"github.com/ValentinKolb/kvds/rpc/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testBundle = "com.example.notes"
	testUID    = int32(100)
	testLease  = 10 * time.Second
)

type staticAccounts struct{}

func (staticAccounts) CurrentUID() (string, error) { return "100", nil }

func (staticAccounts) WatchEvents(func(account.AccountEventInfo)) (func(), error) {
	return func() {}, nil
}

type adapterFixture struct {
	svc     *dataservice.Service
	devices *device.StaticProvider
	adapter *DataServiceAdapter
	now     time.Time
}

func newAdapterFixture(t *testing.T) *adapterFixture {
	t.Helper()
	l := layout.Layout{Root: t.TempDir(), ServiceName: "kvds"}
	mm, err := meta.NewKvStoreMetaManager(meta.Options{
		MetaDir:       l.MetaDir(),
		SecretKeyDir:  l.SecretKeyDir(),
		LocalDeviceId: func() string { return "local" },
	})
	require.NoError(t, err)
	require.Equal(t, kvstore.Success, mm.GenerateRootKey())

	v := permission.NewValidator(permission.DefaultAllowLists(), nil)
	devices := device.NewStaticProvider(device.BasicInfo{DeviceId: "local", DeviceName: "local"}, nil)
	svc, err := dataservice.NewService(dataservice.Config{
		Layout:    l,
		Meta:      mm,
		Validator: v,
		Accounts:  account.NewAccountDelegate(v, staticAccounts{}),
		Devices:   devices,
	})
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })

	f := &adapterFixture{
		svc:     svc,
		devices: devices,
		adapter: NewDataServiceAdapter(svc, testLease),
		now:     time.Unix(1_700_000_000, 0),
	}
	f.adapter.now = func() time.Time { return f.now }
	return f
}

func (f *adapterFixture) call(req *common.Message) *common.Message {
	return f.adapter.Handle(req)
}

func (f *adapterFixture) open(t *testing.T, client string, o kvstore.Options, storeId string) uint64 {
	t.Helper()
	req := common.NewServiceRequest(common.MsgTDSGetSingleKvStore, client, testUID, testBundle, storeId)
	req.Value = common.EncodePayload(o)
	resp := f.call(req)
	require.Equal(t, int32(kvstore.Success), resp.Status)
	require.NotZero(t, resp.Handle)
	return resp.Handle
}

func status(resp *common.Message) kvstore.Status {
	return kvstore.Status(resp.Status)
}

func TestDataServiceAdapterStoreOperations(t *testing.T) {
	f := newAdapterFixture(t)
	h := f.open(t, "c1", kvstore.DefaultOptions(), "notes")

	put := common.NewHandleRequest(common.MsgTStorePut, "c1", h)
	put.Key, put.Value = "a", []byte("1")
	assert.Equal(t, kvstore.Success, status(f.call(put)))

	batch := common.NewHandleRequest(common.MsgTStorePutBatch, "c1", h)
	batch.Entries = []common.Entry{{Key: "b", Value: []byte("2")}, {Key: "c", Value: []byte("3")}}
	assert.Equal(t, kvstore.Success, status(f.call(batch)))

	get := common.NewHandleRequest(common.MsgTStoreGet, "c1", h)
	get.Key = "a"
	resp := f.call(get)
	require.Equal(t, kvstore.Success, status(resp))
	assert.Equal(t, []byte("1"), resp.Value)

	del := common.NewHandleRequest(common.MsgTStoreDeleteBatch, "c1", h)
	del.Keys = []string{"b"}
	assert.Equal(t, kvstore.Success, status(f.call(del)))

	entries := common.NewHandleRequest(common.MsgTStoreGetEntries, "c1", h)
	resp = f.call(entries)
	require.Equal(t, kvstore.Success, status(resp))
	require.Len(t, resp.Entries, 2)
	assert.Equal(t, "a", resp.Entries[0].Key)
	assert.Equal(t, "c", resp.Entries[1].Key)

	level := f.call(common.NewHandleRequest(common.MsgTStoreGetSecurityLevel, "c1", h))
	require.Equal(t, kvstore.Success, status(level))
	var got kvstore.SecurityLevel
	require.NoError(t, common.DecodePayload(level.Value, &got))
	assert.Equal(t, kvstore.DefaultOptions().SecurityLevel, got)
}

func TestDataServiceAdapterHandleOwnership(t *testing.T) {
	f := newAdapterFixture(t)
	h := f.open(t, "c1", kvstore.DefaultOptions(), "notes")

	// handles are bound to the client that opened them
	get := common.NewHandleRequest(common.MsgTStoreGet, "c2", h)
	get.Key = "a"
	assert.Equal(t, kvstore.StoreNotOpen, status(f.call(get)))

	unknown := common.NewHandleRequest(common.MsgTStoreGet, "c1", h+100)
	assert.Equal(t, kvstore.StoreNotOpen, status(f.call(unknown)))

	closeReq := common.NewServiceRequest(common.MsgTDSCloseKvStore, "c1", testUID, testBundle, "notes")
	closeReq.Handle = h
	assert.Equal(t, kvstore.Success, status(f.call(closeReq)))
	assert.Zero(t, f.adapter.OpenHandles())

	get.Client = "c1"
	assert.Equal(t, kvstore.StoreNotOpen, status(f.call(get)))
	assert.Equal(t, kvstore.StoreNotOpen, status(f.call(closeReq)))
}

func TestDataServiceAdapterStoreIds(t *testing.T) {
	f := newAdapterFixture(t)
	f.open(t, "c1", kvstore.DefaultOptions(), "one")
	f.open(t, "c1", kvstore.DefaultOptions(), "two")
	assert.Equal(t, 2, f.adapter.OpenHandles())

	resp := f.call(common.NewServiceRequest(common.MsgTDSGetAllKvStoreId, "c1", testUID, testBundle, ""))
	require.Equal(t, kvstore.Success, status(resp))
	assert.ElementsMatch(t, []string{"one", "two"}, resp.Keys)

	resp = f.call(common.NewServiceRequest(common.MsgTDSDeleteKvStore, "c1", testUID, testBundle, "one"))
	require.Equal(t, kvstore.Success, status(resp))
	assert.Equal(t, 1, f.adapter.OpenHandles())

	resp = f.call(common.NewServiceRequest(common.MsgTDSCloseAllKvStore, "c1", testUID, testBundle, ""))
	require.Equal(t, kvstore.Success, status(resp))
	assert.Zero(t, f.adapter.OpenHandles())
}

func TestDataServiceAdapterMultiVersionCapabilities(t *testing.T) {
	f := newAdapterFixture(t)
	o := kvstore.DefaultOptions()
	o.KvStoreType = kvstore.MultiVersion

	req := common.NewServiceRequest(common.MsgTDSGetSingleKvStore, "c1", testUID, testBundle, "multi")
	req.Value = common.EncodePayload(o)
	resp := f.call(req)
	assert.Equal(t, kvstore.InvalidArgument, status(resp))
	assert.Zero(t, resp.Handle)

	req.MsgType = common.MsgTDSGetKvStore
	resp = f.call(req)
	require.Equal(t, kvstore.Success, status(resp))

	enable := common.NewHandleRequest(common.MsgTStoreSetCapabilityEnabled, "c1", resp.Handle)
	enable.Ok = true
	assert.Equal(t, kvstore.NotSupport, status(f.call(enable)))
}

func TestDataServiceAdapterInvalidOptions(t *testing.T) {
	f := newAdapterFixture(t)
	req := common.NewServiceRequest(common.MsgTDSGetKvStore, "c1", testUID, testBundle, "notes")
	req.Value = []byte("{not json")
	assert.Equal(t, kvstore.InvalidArgument, status(f.call(req)))
	assert.Zero(t, f.adapter.OpenHandles())
}

func TestDataServiceAdapterLeaseExpiry(t *testing.T) {
	f := newAdapterFixture(t)
	resp := f.call(common.NewServiceRequest(common.MsgTDSRegisterClientDeathObserver, "c1", testUID, testBundle, ""))
	require.Equal(t, kvstore.Success, status(resp))
	require.True(t, f.svc.IsDeathObserverRegistered(testBundle))
	f.open(t, "c1", kvstore.DefaultOptions(), "notes")

	// a heartbeat within the lease keeps the client alive
	f.now = f.now.Add(testLease / 2)
	require.Equal(t, kvstore.Success, status(f.call(common.NewServiceRequest(common.MsgTDSHeartbeat, "c1", 0, "", ""))))
	f.now = f.now.Add(testLease / 2)
	assert.Zero(t, f.adapter.ExpireSessions())
	assert.Equal(t, 1, f.adapter.Sessions())

	f.now = f.now.Add(testLease + time.Second)
	assert.Equal(t, 1, f.adapter.ExpireSessions())
	assert.Zero(t, f.adapter.Sessions())
	assert.Zero(t, f.adapter.OpenHandles())

	// the death recipient ran AppExit
	assert.False(t, f.svc.IsDeathObserverRegistered(testBundle))
	ctx := kvstore.WithCaller(context.Background(), kvstore.Caller{UID: testUID})
	assert.Equal(t, kvstore.StoreNotOpen, f.svc.CloseKvStore(ctx, testBundle, "notes"))
}

func TestDataServiceAdapterRequiresClient(t *testing.T) {
	f := newAdapterFixture(t)
	for _, mt := range []common.MessageType{
		common.MsgTDSRegisterClientDeathObserver,
		common.MsgTDSStartWatchDeviceChange,
		common.MsgTDSStopWatchDeviceChange,
		common.MsgTDSPollDeviceEvents,
	} {
		resp := f.call(common.NewServiceRequest(mt, "", testUID, testBundle, ""))
		assert.Equal(t, kvstore.InvalidArgument, status(resp), mt.String())
	}
	assert.Zero(t, f.adapter.Sessions())

	resp := f.call(&common.Message{MsgType: common.MsgTKVGet, Key: "a"})
	assert.Equal(t, common.MsgTError, resp.MsgType)
}

func TestDataServiceAdapterDeviceEvents(t *testing.T) {
	f := newAdapterFixture(t)

	local := f.call(common.NewServiceRequest(common.MsgTDSGetLocalDevice, "c1", testUID, "", ""))
	require.Equal(t, kvstore.Success, status(local))
	var info kvstore.DeviceInfo
	require.NoError(t, common.DecodePayload(local.Value, &info))
	assert.Equal(t, "local", info.DeviceId)

	start := common.NewServiceRequest(common.MsgTDSStartWatchDeviceChange, "c1", testUID, "", "")
	start.Value = common.EncodePayload(kvstore.NoFilter)
	require.Equal(t, kvstore.Success, status(f.call(start)))

	f.devices.SetOnline(device.BasicInfo{DeviceId: "peer", DeviceName: "peer"})
	f.devices.SetOffline("peer")

	poll := common.NewServiceRequest(common.MsgTDSPollDeviceEvents, "c1", 0, "", "")
	var events []common.DeviceEvent
	require.NoError(t, common.DecodePayload(f.call(poll).Value, &events))
	require.Len(t, events, 2)
	assert.Equal(t, kvstore.DeviceOnline, events[0].Change)
	assert.Equal(t, kvstore.DeviceOffline, events[1].Change)
	assert.Equal(t, device.NodeID("peer"), events[0].Device.DeviceId)

	// drained
	events = nil
	require.NoError(t, common.DecodePayload(f.call(poll).Value, &events))
	assert.Empty(t, events)

	stop := common.NewServiceRequest(common.MsgTDSStopWatchDeviceChange, "c1", testUID, "", "")
	require.Equal(t, kvstore.Success, status(f.call(stop)))
	assert.Equal(t, kvstore.IllegalState, status(f.call(stop)))
}

func TestClientSessionEventQueueBounded(t *testing.T) {
	s := newClientSession("c1", time.Now())
	for i := 0; i < maxQueuedDeviceEvents+5; i++ {
		s.push(common.DeviceEvent{Device: kvstore.DeviceInfo{DeviceName: "d"}, Change: kvstore.DeviceOnline})
	}
	assert.Len(t, s.drain(), maxQueuedDeviceEvents)
	assert.Empty(t, s.drain())
}
