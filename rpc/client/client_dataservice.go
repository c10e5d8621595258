package client

import (
	"context"
	"sync"
	"time"

	"github.com/ValentinKolb/kvds/lib/dataservice"
	"github.com/ValentinKolb/kvds/lib/kvstore"
	"github.com/ValentinKolb/kvds/rpc/common"
	"github.com/ValentinKolb/kvds/rpc/serializer"
	"github.com/ValentinKolb/kvds/rpc/transport"
	"github.com/google/uuid"
)

const (
	defaultHeartbeat = 3 * time.Second
	defaultPoll      = 500 * time.Millisecond
)

// NewDataServiceClient creates a client stub of the data service.
// The caller of each operation is taken from its context (see kvstore.WithCaller).
//
// The stub sends a heartbeat every HeartbeatSecond so the server keeps its lease alive.
// Close stops the heartbeat, after the lease ran out the server runs AppExit for every
// app that registered a death observer through this stub.
func NewDataServiceClient(
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (*DataServiceClient, error) {
	if err := transport.Connect(config); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &DataServiceClient{
		rpcClientAdapter: rpcClientAdapter{
			shardId:    common.ShardDataService,
			config:     config,
			transport:  transport,
			serializer: serializer,
		},
		token:     uuid.NewString(),
		listeners: map[kvstore.IDeviceStatusChangeListener]struct{}{},
		ctx:       ctx,
		cancel:    cancel,
	}

	heartbeat := time.Duration(config.HeartbeatSecond) * time.Second
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	c.wg.Add(1)
	go c.heartbeat(ctx, heartbeat)

	return c, nil
}

// DataServiceClient implements dataservice.IKvStoreDataService over RPC.
type DataServiceClient struct {
	rpcClientAdapter
	token string

	mu        sync.Mutex
	listeners map[kvstore.IDeviceStatusChangeListener]struct{}
	stopPoll  context.CancelFunc

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ dataservice.IKvStoreDataService = (*DataServiceClient)(nil)

// Token returns the id the server knows this client by.
func (c *DataServiceClient) Token() string {
	return c.token
}

// Close stops the background work and closes the transport.
func (c *DataServiceClient) Close() error {
	c.cancel()
	c.wg.Wait()
	return c.transport.Close()
}

func (c *DataServiceClient) heartbeat(ctx context.Context, interval time.Duration) {
	defer c.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.invoke(common.NewServiceRequest(common.MsgTDSHeartbeat, c.token, 0, "", "")); err != nil {
				log.Warningf("heartbeat: %v", err)
			}
		}
	}
}

func (c *DataServiceClient) request(ctx context.Context, t common.MessageType, appId kvstore.AppId, storeId kvstore.StoreId) *common.Message {
	return common.NewServiceRequest(t, c.token, kvstore.CallerFrom(ctx).UID, string(appId), string(storeId))
}

// --------------------------------------------------------------------------
// Interface Methods (docu see the dataservice package in interface.go)
// --------------------------------------------------------------------------

func (c *DataServiceClient) GetKvStore(ctx context.Context, options kvstore.Options, appId kvstore.AppId, storeId kvstore.StoreId, cb func(kvstore.IKvStore)) kvstore.Status {
	h, status := c.open(ctx, common.MsgTDSGetKvStore, options, appId, storeId)
	if cb != nil {
		if h == nil {
			cb(nil)
		} else {
			cb(h)
		}
	}
	return status
}

func (c *DataServiceClient) GetSingleKvStore(ctx context.Context, options kvstore.Options, appId kvstore.AppId, storeId kvstore.StoreId, cb func(kvstore.ISingleKvStore)) kvstore.Status {
	h, status := c.open(ctx, common.MsgTDSGetSingleKvStore, options, appId, storeId)
	if cb != nil {
		if h == nil {
			cb(nil)
		} else {
			cb(h)
		}
	}
	return status
}

func (c *DataServiceClient) open(ctx context.Context, t common.MessageType, options kvstore.Options, appId kvstore.AppId, storeId kvstore.StoreId) (*remoteStore, kvstore.Status) {
	req := c.request(ctx, t, appId, storeId)
	req.Value = common.EncodePayload(options)
	resp, status := c.invokeStatus(req)
	if resp == nil || resp.Handle == 0 {
		return nil, status
	}
	return &remoteStore{client: c, handle: resp.Handle, storeId: storeId}, status
}

func (c *DataServiceClient) GetAllKvStoreId(ctx context.Context, appId kvstore.AppId, cb func(kvstore.Status, []kvstore.StoreId)) {
	resp, status := c.invokeStatus(c.request(ctx, common.MsgTDSGetAllKvStoreId, appId, ""))
	ids := []kvstore.StoreId{}
	if resp != nil {
		for _, id := range resp.Keys {
			ids = append(ids, kvstore.StoreId(id))
		}
	}
	if cb != nil {
		cb(status, ids)
	}
}

func (c *DataServiceClient) CloseKvStore(ctx context.Context, appId kvstore.AppId, storeId kvstore.StoreId) kvstore.Status {
	_, status := c.invokeStatus(c.request(ctx, common.MsgTDSCloseKvStore, appId, storeId))
	return status
}

func (c *DataServiceClient) CloseAllKvStore(ctx context.Context, appId kvstore.AppId) kvstore.Status {
	_, status := c.invokeStatus(c.request(ctx, common.MsgTDSCloseAllKvStore, appId, ""))
	return status
}

func (c *DataServiceClient) DeleteKvStore(ctx context.Context, appId kvstore.AppId, storeId kvstore.StoreId) kvstore.Status {
	_, status := c.invokeStatus(c.request(ctx, common.MsgTDSDeleteKvStore, appId, storeId))
	return status
}

func (c *DataServiceClient) DeleteAllKvStore(ctx context.Context, appId kvstore.AppId) kvstore.Status {
	_, status := c.invokeStatus(c.request(ctx, common.MsgTDSDeleteAllKvStore, appId, ""))
	return status
}

// RegisterClientDeathObserver ties appId to the lease of this client. The observer
// only has to be non nil, the server watches the lease instead.
func (c *DataServiceClient) RegisterClientDeathObserver(ctx context.Context, appId kvstore.AppId, observer kvstore.IRemoteObject) kvstore.Status {
	if observer == nil {
		return kvstore.InvalidArgument
	}
	_, status := c.invokeStatus(c.request(ctx, common.MsgTDSRegisterClientDeathObserver, appId, ""))
	return status
}

func (c *DataServiceClient) AppExit(ctx context.Context, appId kvstore.AppId) kvstore.Status {
	_, status := c.invokeStatus(c.request(ctx, common.MsgTDSAppExit, appId, ""))
	return status
}

func (c *DataServiceClient) GetLocalDevice(ctx context.Context) (kvstore.DeviceInfo, kvstore.Status) {
	var info kvstore.DeviceInfo
	resp, status := c.invokeStatus(c.request(ctx, common.MsgTDSGetLocalDevice, "", ""))
	if resp != nil {
		if err := common.DecodePayload(resp.Value, &info); err != nil {
			return info, kvstore.IpcError
		}
	}
	return info, status
}

func (c *DataServiceClient) GetDeviceList(ctx context.Context, strategy kvstore.DeviceFilterStrategy) ([]kvstore.DeviceInfo, kvstore.Status) {
	req := c.request(ctx, common.MsgTDSGetDeviceList, "", "")
	req.Value = common.EncodePayload(strategy)
	resp, status := c.invokeStatus(req)
	list := []kvstore.DeviceInfo{}
	if resp != nil {
		if err := common.DecodePayload(resp.Value, &list); err != nil {
			return nil, kvstore.IpcError
		}
	}
	return list, status
}

// StartWatchDeviceChange registers listener locally. The first listener starts the
// watch on the server and the poll loop that delivers the queued events.
func (c *DataServiceClient) StartWatchDeviceChange(ctx context.Context, listener kvstore.IDeviceStatusChangeListener, strategy kvstore.DeviceFilterStrategy) kvstore.Status {
	if listener == nil {
		return kvstore.InvalidArgument
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopPoll == nil {
		req := c.request(ctx, common.MsgTDSStartWatchDeviceChange, "", "")
		req.Value = common.EncodePayload(strategy)
		if _, status := c.invokeStatus(req); status != kvstore.Success {
			return status
		}
		interval := time.Duration(c.config.PollMillisecond) * time.Millisecond
		if interval <= 0 {
			interval = defaultPoll
		}
		pollCtx, stop := context.WithCancel(c.ctx)
		c.stopPoll = stop
		c.wg.Add(1)
		go c.poll(pollCtx, interval)
	}
	c.listeners[listener] = struct{}{}
	return kvstore.Success
}

// StopWatchDeviceChange removes listener, the last one stops the watch on the server.
func (c *DataServiceClient) StopWatchDeviceChange(ctx context.Context, listener kvstore.IDeviceStatusChangeListener) kvstore.Status {
	if listener == nil {
		return kvstore.InvalidArgument
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.listeners[listener]; !ok {
		return kvstore.IllegalState
	}
	delete(c.listeners, listener)
	if len(c.listeners) > 0 {
		return kvstore.Success
	}

	c.stopPoll()
	c.stopPoll = nil
	_, status := c.invokeStatus(c.request(ctx, common.MsgTDSStopWatchDeviceChange, "", ""))
	return status
}

func (c *DataServiceClient) poll(ctx context.Context, interval time.Duration) {
	defer c.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.PollDeviceEvents()
		}
	}
}

// PollDeviceEvents fetches the queued device events and delivers them to the
// registered listeners. It returns the number of events fetched.
func (c *DataServiceClient) PollDeviceEvents() int {
	resp, err := c.invoke(common.NewServiceRequest(common.MsgTDSPollDeviceEvents, c.token, 0, "", ""))
	if err != nil {
		log.Warningf("poll device events: %v", err)
		return 0
	}
	var events []common.DeviceEvent
	if err := common.DecodePayload(resp.Value, &events); err != nil {
		log.Warningf("decode device events: %v", err)
		return 0
	}
	if len(events) == 0 {
		return 0
	}

	c.mu.Lock()
	listeners := make([]kvstore.IDeviceStatusChangeListener, 0, len(c.listeners))
	for l := range c.listeners {
		listeners = append(listeners, l)
	}
	c.mu.Unlock()

	for _, ev := range events {
		for _, l := range listeners {
			l.OnChange(ev.Device, ev.Change)
		}
	}
	return len(events)
}
