package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/ValentinKolb/kvds/lib/account"
	"github.com/ValentinKolb/kvds/lib/backup"
	"github.com/ValentinKolb/kvds/lib/dataservice"
	"github.com/ValentinKolb/kvds/lib/db"
	"github.com/ValentinKolb/kvds/lib/db/engines/maple"
	"github.com/ValentinKolb/kvds/lib/device"
	"github.com/ValentinKolb/kvds/lib/kvstore"
	"github.com/ValentinKolb/kvds/lib/layout"
	"github.com/ValentinKolb/kvds/lib/lockmgr"
	"github.com/ValentinKolb/kvds/lib/meta"
	"github.com/ValentinKolb/kvds/lib/permission"
	"github.com/ValentinKolb/kvds/lib/store"
	"github.com/ValentinKolb/kvds/lib/store/dstore"
	"github.com/ValentinKolb/kvds/rpc/common"
	"github.com/ValentinKolb/kvds/rpc/serializer"
	"github.com/ValentinKolb/kvds/rpc/transport"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var log = logger.GetLogger("rpc")

const defaultClientLease = 10 * time.Second

// NewRPCServer creates a new RPC server
// It takes a config, transport and serializer as parameters
//
// Usage:
//
//	s := server.NewRPCServer(
//		*config,
//		unix.NewUnixServerTransport(),
//		serializer.NewBinarySerializer(),
//	)
//
//	if err := s.Serve(ctx); err != nil {
//		panic(err)
//	}
func NewRPCServer(
	config common.ServerConfig,
	transport transport.IRPCServerTransport,
	serializer serializer.IRPCSerializer,
) *RPCServer {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	return &RPCServer{
		config:     config,
		transport:  transport,
		serializer: serializer,
		shards:     xsync.NewMapOf[uint64, IRPCServerAdapter](),
		ready:      make(chan struct{}),
	}
}

// RPCServer wires the data service and serves it over a transport.
//
// Shard ShardDataService serves the data service, shard ShardMetaStore gives read
// only access to the synchronized meta records.
type RPCServer struct {
	config     common.ServerConfig
	transport  transport.IRPCServerTransport
	serializer serializer.IRPCSerializer
	shards     *xsync.MapOf[uint64, IRPCServerAdapter]

	service  *dataservice.Service
	adapter  *DataServiceAdapter
	nodeHost *dragonboat.NodeHost
	closers  []func() error
	ready    chan struct{}
}

// Ready is closed once Serve set up the data service and the transport handler.
func (s *RPCServer) Ready() <-chan struct{} {
	return s.ready
}

// Service returns the data service, nil before Serve initialized it.
func (s *RPCServer) Service() *dataservice.Service {
	return s.service
}

// Adapter returns the data service adapter, nil before Serve initialized it.
func (s *RPCServer) Adapter() *DataServiceAdapter {
	return s.adapter
}

func (s *RPCServer) registerTransportHandler() {
	s.transport.RegisterHandler(func(shardId uint64, req []byte) []byte {
		var msg common.Message
		var respMsg *common.Message

		// Get appropriate shard
		if adapter, ok := s.shards.Load(shardId); !ok {
			respMsg = common.NewErrorResponse("shard not found")
		} else if err := s.serializer.Deserialize(req, &msg); err != nil {
			respMsg = common.NewErrorResponse(fmt.Sprintf("failed to deserialize request: %s", err))
		} else {
			// Let the adapter handle the request
			respMsg = adapter.Handle(&msg)
		}

		val, err := s.serializer.Serialize(*respMsg)
		if err != nil {
			log.Errorf("failed to serialize response: %v", err)
			val, _ = s.serializer.Serialize(*common.NewErrorResponse(fmt.Sprintf("failed to serialize response: %s", err)))
		}
		return val
	})
}

// syncStore returns the store for the synchronized meta records, nil keeps them in the meta manager.
func (s *RPCServer) syncStore() (store.IStore, error) {
	if !s.config.IsRaft() {
		return nil, nil
	}

	// Function to create a new database instance
	dbFactory := func() db.KVDB { return maple.NewMapleDB(nil) }

	nodeHost, err := dragonboat.NewNodeHost(s.config.ToNodeHostConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create node host: %w", err)
	}
	s.nodeHost = nodeHost
	s.closers = append(s.closers, func() error { nodeHost.Close(); return nil })

	shardID := common.ShardMetaStore
	if err := nodeHost.StartConcurrentReplica(s.config.ClusterMembers, false, dstore.NewStateMachineFactory(dbFactory), s.config.ToDragonboatConfig(shardID)); err != nil {
		return nil, fmt.Errorf("failed to start meta shard %d: %w", shardID, err)
	}
	log.Infof("meta records replicated by shard %d", shardID)
	return dstore.NewDistributedStore(nodeHost, shardID, time.Duration(s.config.TimeoutSecond)*time.Second), nil
}

// devices creates the communication provider of the discovery config.
func (s *RPCServer) devices(ctx context.Context) (device.ICommunicationProvider, error) {
	d := s.config.Discovery
	local := device.BasicInfo{DeviceId: d.DeviceId, DeviceName: d.DeviceName}
	if local.DeviceId == "" {
		local.DeviceId = uuid.NewString()
	}
	if local.DeviceName == "" {
		local.DeviceName, _ = os.Hostname()
	}

	switch d.Mode {
	case common.DiscoveryRedis:
		p, err := device.NewRedisProvider(ctx, device.RedisConfig{
			Addr:     d.RedisAddr,
			Password: d.RedisPassword,
			DB:       d.RedisDB,
			Local:    local,
		})
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, p.Close)
		return p, nil
	case common.DiscoveryStatic, "":
		peers := make([]device.BasicInfo, 0, len(d.Peers))
		for _, id := range d.Peers {
			peers = append(peers, device.BasicInfo{DeviceId: id, DeviceName: id})
		}
		return device.NewStaticProvider(local, peers), nil
	default:
		return nil, fmt.Errorf("invalid discovery mode %q", d.Mode)
	}
}

func (s *RPCServer) init(ctx context.Context) error {
	if s.config.LogLevel != "" {
		if err := common.InitLoggers(s.config.LogLevel); err != nil {
			return err
		}
	}
	log.Infof("Created RPC Server")
	log.Infof(s.config.String())

	lay := layout.Layout{Root: s.config.RootDir, ServiceName: s.config.ServiceName}

	devices, err := s.devices(ctx)
	if err != nil {
		return err
	}

	sync, err := s.syncStore()
	if err != nil {
		return err
	}

	metaManager, err := meta.NewKvStoreMetaManager(meta.Options{
		MetaDir:       lay.MetaDir(),
		SecretKeyDir:  lay.SecretKeyDir(),
		BackupDir:     filepath.Join(lay.MetaDir(), "backup"),
		SyncStore:     sync,
		LocalDeviceId: func() string { return devices.GetLocalBasicInfo().DeviceId },
	})
	if err != nil {
		return err
	}
	s.closers = append(s.closers, metaManager.Close)
	if status := metaManager.InitMetaData(); status != kvstore.Success {
		log.Warningf("init meta data: %s", status)
	}

	lists := permission.DefaultAllowLists()
	if s.config.AllowListFile != "" {
		if lists, err = permission.LoadAllowLists(s.config.AllowListFile); err != nil {
			return err
		}
	}
	validator := permission.NewValidator(lists, permission.AllowAll)

	// replicated meta records also replicate the backup file locks
	var locks lockmgr.ILockManager
	if sync != nil {
		locks = lockmgr.NewLockManager(sync)
	}

	backupInterval := time.Duration(s.config.BackupIntervalSecond) * time.Second
	svc, err := dataservice.NewService(dataservice.Config{
		Layout:    lay,
		Meta:      metaManager,
		Validator: validator,
		Accounts:  account.NewAccountDelegate(validator, account.NewOSAccountProvider()),
		Devices:   devices,
		Backup: backup.NewHandler(backup.Config{
			Layout:          lay,
			Meta:            metaManager,
			IsSystemService: validator.IsSystemService,
			Locks:           locks,
			Interval:        backupInterval,
		}),
	})
	if err != nil {
		return err
	}
	s.service = svc

	lease := time.Duration(s.config.ClientLeaseSecond) * time.Second
	if s.config.ClientLeaseSecond == 0 {
		lease = defaultClientLease
	}
	s.adapter = NewDataServiceAdapter(svc, lease)
	s.shards.Store(common.ShardDataService, s.adapter)
	s.shards.Store(common.ShardMetaStore, NewIStoreServerAdapter(metaManager.SyncStore(), true))

	log.Infof("kvds setup completed successfully")

	// Configure the transport layer
	s.registerTransportHandler()
	return nil
}

// Serve initializes the data service and serves requests until ctx is done or the transport fails.
func (s *RPCServer) Serve(ctx context.Context) error {
	if err := s.init(ctx); err != nil {
		return multierror.Append(err, s.shutdown()).ErrorOrNil()
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.service.OnStart(runCtx)
	go s.adapter.Run(runCtx)

	if s.config.AdminEndpoint != "" {
		go func() {
			if err := s.service.ServeAdmin(runCtx, s.config.AdminEndpoint); err != nil {
				log.Errorf("admin endpoint: %v", err)
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() { errCh <- s.transport.Listen(s.config) }()
	close(s.ready)

	var err error
	select {
	case <-ctx.Done():
		if cerr := s.transport.Close(); cerr != nil {
			log.Warningf("close transport: %v", cerr)
		}
		err = <-errCh
	case err = <-errCh:
	}
	cancel()

	if serr := s.shutdown(); serr != nil {
		err = multierror.Append(err, serr).ErrorOrNil()
	}
	return err
}

// shutdown closes the service and releases the collaborators in reverse order of creation.
func (s *RPCServer) shutdown() error {
	var result *multierror.Error
	if s.service != nil {
		result = multierror.Append(result, s.service.Close())
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			result = multierror.Append(result, err)
		}
	}
	s.closers = nil
	if err := result.ErrorOrNil(); err != nil {
		log.Errorf("shutdown: %v", err)
		return err
	}
	log.Infof("kvds stopped")
	return nil
}
