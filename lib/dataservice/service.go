package dataservice

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/kvds/lib/account"
	"github.com/ValentinKolb/kvds/lib/backup"
	"github.com/ValentinKolb/kvds/lib/device"
	"github.com/ValentinKolb/kvds/lib/kvstore"
	"github.com/ValentinKolb/kvds/lib/layout"
	"github.com/ValentinKolb/kvds/lib/meta"
	"github.com/ValentinKolb/kvds/lib/permission"
	"github.com/ValentinKolb/kvds/lib/usermgr"
	"github.com/VictoriaMetrics/metrics"
	"github.com/cockroachdb/errors"
	"github.com/lni/dragonboat/v4/logger"
	"golang.org/x/time/rate"
)

var log = logger.GetLogger("dataservice")

const (
	MaxAppIdLength   = 256
	MaxStoreIdLength = 128

	DefaultAutoLaunchDelay      = 10 * time.Second
	DefaultRootKeyRetries       = 100
	DefaultRootKeyRetryInterval = time.Second

	observerName = "kvds-data-service"
	watcherPipe  = "serviceWatcher"
)

// Config wires the collaborators of a Service.
type Config struct {
	Layout    layout.Layout
	Meta      meta.IKvStoreMetaManager
	Validator *permission.Validator
	Accounts  account.IAccountDelegate
	Devices   device.ICommunicationProvider
	// Backup is created from Layout and Meta if nil.
	Backup *backup.Handler

	// AppIdResolver returns the app id of a bundle, empty if the bundle is unknown. nil returns the bundle name.
	AppIdResolver func(bundleName string) string
	// NewLimiter returns the open limiter of each app, nil uses the app manager default.
	NewLimiter func() *rate.Limiter
	// Metrics receives the fault and request counters. nil creates a private set.
	Metrics *metrics.Set

	AutoLaunchDelay      time.Duration
	RootKeyRetries       int
	RootKeyRetryInterval time.Duration
	// DirtyScanInterval enables the periodic scan for dirty meta records.
	DirtyScanInterval time.Duration
}

// Service is the data service.
//
// Thread-safety: every exported method is safe for concurrent use. The device account
// map is guarded by accountMu, the death observers by deathMu and the device
// listeners by deviceMu. Store I/O runs under accountMu only while the user
// manager of the caller is looked up or an account event is processed.
type Service struct {
	cfg    Config
	faults *faultReporter

	accountEventProcessing atomic.Bool
	autoLaunchEnabled      atomic.Bool
	lastOpenStores         atomic.Int64
	// accountEventHook runs while an account event holds accountMu.
	accountEventHook func(account.AccountEventInfo)

	accountMu      sync.Mutex
	deviceAccounts map[string]*usermgr.Manager

	deathMu        sync.Mutex
	deathObservers map[string]*clientDeathObserver

	deviceMu        sync.Mutex
	deviceBridge    *listenerBridge
	deviceListeners map[kvstore.IDeviceStatusChangeListener]struct{}

	observer *account.ObserverFunc
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewService creates the data service and subscribes it to account events.
func NewService(cfg Config) (*Service, error) {
	if cfg.Meta == nil || cfg.Validator == nil || cfg.Accounts == nil || cfg.Devices == nil {
		return nil, errors.New("data service needs a meta manager, a validator, an account delegate and a device provider")
	}
	if cfg.Backup == nil {
		cfg.Backup = backup.NewHandler(backup.Config{Layout: cfg.Layout, Meta: cfg.Meta, IsSystemService: cfg.Validator.IsSystemService})
	}
	if cfg.AppIdResolver == nil {
		cfg.AppIdResolver = func(bundleName string) string { return bundleName }
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewSet()
	}
	if cfg.AutoLaunchDelay <= 0 {
		cfg.AutoLaunchDelay = DefaultAutoLaunchDelay
	}
	if cfg.RootKeyRetries <= 0 {
		cfg.RootKeyRetries = DefaultRootKeyRetries
	}
	if cfg.RootKeyRetryInterval <= 0 {
		cfg.RootKeyRetryInterval = DefaultRootKeyRetryInterval
	}

	s := &Service{
		cfg:             cfg,
		deviceAccounts:  map[string]*usermgr.Manager{},
		deathObservers:  map[string]*clientDeathObserver{},
		deviceListeners: map[kvstore.IDeviceStatusChangeListener]struct{}{},
	}
	s.faults = newFaultReporter(cfg.Metrics, s.openStoreCount)
	s.observer = &account.ObserverFunc{ObserverName: observerName, Fn: s.AccountEventChanged}
	if status := cfg.Accounts.Subscribe(s.observer); status != kvstore.Success {
		return nil, errors.Newf("subscribe to account events: %s", status)
	}
	return s, nil
}

// Metrics returns the set holding the service counters.
func (s *Service) Metrics() *metrics.Set { return s.cfg.Metrics }

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

// OnStart starts the background work of the service: root key generation, dirty meta
// handling, account event forwarding, the backup scheduler and auto launch.
// Everything stops when ctx is done or Close is called.
func (s *Service) OnStart(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	if s.cfg.Meta.CheckRootKeyExist() != kvstore.Success && s.cfg.Meta.GenerateRootKey() != kvstore.Success {
		s.goBackground(func() { s.generateRootKey(ctx) })
	}

	s.cfg.Meta.SubscribeMetaKvStore(func(md meta.KvStoreMetaData) {
		if !md.IsDirty {
			return
		}
		// handled off the writer's goroutine, the writer may hold accountMu
		go s.dropDirtyStore(md)
	})
	if s.cfg.DirtyScanInterval > 0 {
		s.goBackground(func() { s.cfg.Meta.WatchDirtyMeta(ctx, s.cfg.DirtyScanInterval) })
	}

	if err := s.cfg.Accounts.SubscribeAccountEvent(); err != nil {
		log.Errorf("subscribe os account events failed: %v", err)
	}

	backupPath := s.cfg.Backup.GetBackupPath(account.MainDeviceAccountId, layout.PathCE)
	if err := os.MkdirAll(backupPath, 0o700); err != nil {
		log.Errorf("create backup dir failed: %v", err)
	}
	s.goBackground(func() { s.cfg.Backup.BackSchedule(ctx) })

	s.goBackground(func() {
		timer := time.NewTimer(s.cfg.AutoLaunchDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.C:
			s.autoLaunchEnabled.Store(true)
			log.Infof("store auto launch enabled")
		}
	})
	log.Infof("data service started")
}

func (s *Service) goBackground(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

func (s *Service) generateRootKey(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RootKeyRetryInterval)
	defer ticker.Stop()
	for attempt := 1; attempt < s.cfg.RootKeyRetries; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if s.cfg.Meta.GenerateRootKey() == kvstore.Success {
			log.Infof("root key generated after %d attempts", attempt+1)
			return
		}
		log.Errorf("generate root key failed, attempt %d", attempt+1)
	}
	s.faults.report(faultService, "root_key", "GenerateRootKey")
}

func (s *Service) dropDirtyStore(md meta.KvStoreMetaData) {
	ctx := kvstore.WithCaller(context.Background(), kvstore.Caller{UID: md.Uid})
	s.CloseKvStore(ctx, kvstore.AppId(md.BundleName), kvstore.StoreId(md.StoreId))
	if status := s.DeleteKvStore(ctx, kvstore.AppId(md.BundleName), kvstore.StoreId(md.StoreId)); status != kvstore.Success {
		log.Warningf("delete dirty store %s/%s: %s", md.BundleName, md.StoreId, status)
	}
}

// Close stops the background work and closes every open store.
func (s *Service) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.cfg.Accounts.UnsubscribeAccountEvent()
	s.cfg.Accounts.Unsubscribe(s.observer)

	s.accountMu.Lock()
	for _, um := range s.deviceAccounts {
		um.CloseAllKvStore()
	}
	s.accountMu.Unlock()

	s.deviceMu.Lock()
	if s.deviceBridge != nil {
		if err := s.cfg.Devices.StopWatchDeviceChange(s.deviceBridge, device.PipeInfo{PipeId: watcherPipe}); err != nil {
			log.Warningf("stop device watch: %v", err)
		}
		s.deviceBridge = nil
	}
	s.deviceMu.Unlock()
	return nil
}

// Dump writes the open stores of every device account to w.
func (s *Service) Dump(w io.Writer) {
	s.accountMu.Lock()
	defer s.accountMu.Unlock()
	ids := make([]string, 0, len(s.deviceAccounts))
	for id := range s.deviceAccounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	fmt.Fprintln(w, "------------------------------------------------------------------")
	fmt.Fprintf(w, "DeviceAccount count : %d\n", len(ids))
	for _, id := range ids {
		fmt.Fprintf(w, "DeviceAccountID    : %s\n", id)
		s.deviceAccounts[id].Dump(w)
	}
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

// CheckBundleName accepts non-empty printable names without '/' and the key separator.
func CheckBundleName(bundleName string) bool {
	if bundleName == "" || len(bundleName) > MaxAppIdLength || strings.Contains(bundleName, meta.Separator) {
		return false
	}
	for i := 0; i < len(bundleName); i++ {
		if c := bundleName[i]; c < 0x20 || c > 0x7e || c == '/' {
			return false
		}
	}
	return true
}

// CheckStoreId accepts non-empty ids made of ASCII letters, digits and '_'.
func CheckStoreId(storeId string) bool {
	if storeId == "" || len(storeId) > MaxStoreIdLength || strings.Contains(storeId, meta.Separator) {
		return false
	}
	for i := 0; i < len(storeId); i++ {
		c := storeId[i]
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_') {
			return false
		}
	}
	return true
}

func (s *Service) deviceAccountId(ctx context.Context) (string, int32) {
	uid := kvstore.CallerFrom(ctx).UID
	return s.cfg.Accounts.GetDeviceAccountIdByUID(uid), uid
}

func (s *Service) newUserManager(deviceAccountId string) *usermgr.Manager {
	return usermgr.NewManager(usermgr.Config{
		Layout:          s.cfg.Layout,
		Meta:            s.cfg.Meta,
		Validator:       s.cfg.Validator,
		Backup:          s.cfg.Backup,
		Accounts:        s.cfg.Accounts,
		DeviceAccountId: deviceAccountId,
		NewLimiter:      s.cfg.NewLimiter,
	})
}

// userManagerLocked returns the manager of deviceAccountId, creating it if needed. Caller holds accountMu.
func (s *Service) userManagerLocked(deviceAccountId string) *usermgr.Manager {
	um, ok := s.deviceAccounts[deviceAccountId]
	if !ok {
		um = s.newUserManager(deviceAccountId)
		s.deviceAccounts[deviceAccountId] = um
	}
	return um
}

var _ IKvStoreDataService = (*Service)(nil)
