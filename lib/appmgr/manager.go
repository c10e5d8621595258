package appmgr

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/ValentinKolb/kvds/lib/account"
	"github.com/ValentinKolb/kvds/lib/backup"
	"github.com/ValentinKolb/kvds/lib/crypto"
	"github.com/ValentinKolb/kvds/lib/delegate"
	"github.com/ValentinKolb/kvds/lib/kvstore"
	"github.com/ValentinKolb/kvds/lib/layout"
	"github.com/ValentinKolb/kvds/lib/meta"
	"github.com/ValentinKolb/kvds/lib/permission"
	"github.com/cockroachdb/errors"
	"github.com/hashicorp/go-multierror"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/rcrowley/go-metrics"
	"golang.org/x/time/rate"
)

var log = logger.GetLogger("appmgr")

const (
	// MaxOpenKvStores is the number of stores one app may keep open.
	MaxOpenKvStores = 16

	// BurstCapacity and SustainedCapacity limit how often an app may open stores.
	BurstCapacity     = 1000
	SustainedCapacity = 10000 // per minute
)

// Config configures a Manager.
type Config struct {
	Layout    layout.Layout
	Meta      meta.IKvStoreMetaManager
	Validator *permission.Validator
	Backup    *backup.Handler

	DeviceAccountId string
	// UserId is the harmony account the stores currently belong to.
	UserId     string
	BundleName string
	TrueAppId  string
	Uid        int32

	// Limiter throttles store opens. nil uses BurstCapacity and SustainedCapacity.
	Limiter *rate.Limiter
}

// Manager owns the open stores of one application of one device account.
//
// Stores live in two protection classes (DE and CE), each with its own engine
// manager and separate tables for multi and single version stores. Handles are
// reference counted: every successful open increments the count, CloseKvStore
// decrements it and closes the store with the last reference.
//
// Thread-safety: all methods are safe for concurrent use.
type Manager struct {
	cfg     Config
	limiter *rate.Limiter
	timer   metrics.Timer

	mu           sync.Mutex
	userId       string
	delegates    [len(layout.PathTypes)]*delegate.Manager
	stores       [len(layout.PathTypes)]map[string]*storeImpl
	singleStores [len(layout.PathTypes)]map[string]*storeImpl
}

// NewManager creates the manager of cfg.BundleName.
func NewManager(cfg Config) *Manager {
	if cfg.TrueAppId == "" {
		cfg.TrueAppId = cfg.BundleName
	}
	limiter := cfg.Limiter
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Every(time.Minute/SustainedCapacity), BurstCapacity)
	}
	m := &Manager{
		cfg:     cfg,
		limiter: limiter,
		timer:   metrics.NewTimer(),
		userId:  cfg.UserId,
	}
	for _, t := range layout.PathTypes {
		m.delegates[t] = delegate.NewManager(cfg.TrueAppId, cfg.UserId, m.dataDir(t))
		m.stores[t] = map[string]*storeImpl{}
		m.singleStores[t] = map[string]*storeImpl{}
	}
	return m
}

func (m *Manager) BundleName() string { return m.cfg.BundleName }

// UserId returns the harmony account the stores belong to.
func (m *Manager) UserId() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.userId
}

func (m *Manager) dataDir(t layout.PathType) string {
	return m.cfg.Layout.DataStoragePath(m.cfg.DeviceAccountId, m.cfg.BundleName, t)
}

func (m *Manager) pathType(level kvstore.SecurityLevel) layout.PathType {
	return layout.ConvertPathType(m.cfg.Validator.IsSystemService(m.cfg.BundleName), level)
}

// --------------------------------------------------------------------------
// Open
// --------------------------------------------------------------------------

// GetKvStore opens a multi version store. cb is called exactly once, with nil on failure.
func (m *Manager) GetKvStore(options kvstore.Options, storeId string, secretKey []byte, cb func(kvstore.IKvStore)) kvstore.Status {
	if options.KvStoreType != kvstore.MultiVersion {
		cb(nil)
		return kvstore.InvalidArgument
	}
	impl, status := m.getStore(options, storeId, secretKey, false)
	if impl == nil {
		cb(nil)
		return status
	}
	cb(&KvStore{impl})
	return status
}

// GetSingleKvStore opens a single version or device collaboration store.
// cb is called exactly once, with nil on failure.
func (m *Manager) GetSingleKvStore(options kvstore.Options, storeId string, secretKey []byte, cb func(kvstore.ISingleKvStore)) kvstore.Status {
	if options.KvStoreType != kvstore.SingleVersion && options.KvStoreType != kvstore.DeviceCollaboration {
		cb(nil)
		return kvstore.InvalidArgument
	}
	impl, status := m.getStore(options, storeId, secretKey, true)
	if impl == nil {
		cb(nil)
		return status
	}
	cb(&SingleKvStore{impl})
	return status
}

func (m *Manager) getStore(options kvstore.Options, storeId string, secretKey []byte, single bool) (*storeImpl, kvstore.Status) {
	if !m.limiter.Allow() {
		log.Warningf("app %s exceeded the open rate", m.cfg.BundleName)
		return nil, kvstore.ExceedMaxAccessRate
	}
	t := m.pathType(options.SecurityLevel)

	m.mu.Lock()
	defer m.mu.Unlock()

	table := m.stores[t]
	if single {
		table = m.singleStores[t]
	}
	if impl, ok := table[storeId]; ok {
		impl.openCount.Add(1)
		return impl, kvstore.Success
	}
	if m.totalLocked() >= MaxOpenKvStores {
		log.Errorf("app %s already has %d open stores", m.cfg.BundleName, MaxOpenKvStores)
		return nil, kvstore.Error
	}

	start := time.Now()
	s, err := m.delegates[t].GetKvStore(storeId, delegate.Option{
		CreateIfNecessary: options.CreateIfMissing,
		IsEncryptedDb:     options.Encrypt,
		Passwd:            secretKey,
		SecurityLevel:     options.SecurityLevel,
	})
	m.timer.UpdateSince(start)
	if err != nil {
		log.Errorf("open %s/%s failed: %v", m.cfg.BundleName, storeId, err)
		return nil, ConvertErrorStatus(err, options.CreateIfMissing)
	}
	if options.SecurityLevel != kvstore.NoLabel && s.SecurityLevel() != options.SecurityLevel {
		if err := m.delegates[t].CloseKvStore(s); err != nil {
			log.Warningf("close %s/%s: %v", m.cfg.BundleName, storeId, err)
		}
		return nil, kvstore.SecurityLevelError
	}

	impl := &storeImpl{
		options:         options,
		deviceAccountId: m.cfg.DeviceAccountId,
		bundleName:      m.cfg.BundleName,
		storeId:         storeId,
		pathType:        t,
		meta:            m.cfg.Meta,
		backup:          m.cfg.Backup,
	}
	impl.dbp.Store(s)
	impl.openCount.Store(1)
	table[storeId] = impl
	return impl, kvstore.Success
}

// ConvertErrorStatus maps an engine open error to a status.
func ConvertErrorStatus(err error, createIfMissing bool) kvstore.Status {
	switch {
	case err == nil:
		return kvstore.Success
	case errors.Is(err, delegate.ErrInvalidPasswdOrCorrupted):
		return kvstore.CryptError
	case errors.Is(err, delegate.ErrInvalidArgs):
		return kvstore.InvalidArgument
	case createIfMissing:
		return kvstore.DbError
	default:
		return kvstore.StoreNotFound
	}
}

// --------------------------------------------------------------------------
// Close and delete
// --------------------------------------------------------------------------

// CloseKvStore releases one reference of storeId, STORE_NOT_OPEN if it is not open.
func (m *Manager) CloseKvStore(storeId string) kvstore.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range layout.PathTypes {
		if status, found := m.closeLocked(t, storeId, false); found {
			return status
		}
	}
	return kvstore.StoreNotOpen
}

// closeLocked closes storeId in t. With force the reference count is ignored.
func (m *Manager) closeLocked(t layout.PathType, storeId string, force bool) (kvstore.Status, bool) {
	for _, table := range []map[string]*storeImpl{m.stores[t], m.singleStores[t]} {
		impl, ok := table[storeId]
		if !ok {
			continue
		}
		if !force && impl.openCount.Load() > 1 {
			impl.openCount.Add(-1)
			return kvstore.Success, true
		}
		delete(table, storeId)
		if err := m.delegates[t].CloseKvStore(impl.db()); err != nil && !errors.Is(err, delegate.ErrAlreadyClosed) {
			log.Errorf("close %s/%s failed: %v", m.cfg.BundleName, storeId, err)
			return kvstore.DbError, true
		}
		return kvstore.Success, true
	}
	return kvstore.StoreNotOpen, false
}

// CloseAllKvStore closes every open store regardless of its reference count.
func (m *Manager) CloseAllKvStore() kvstore.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.totalLocked() == 0 {
		return kvstore.StoreNotOpen
	}
	var result *multierror.Error
	for _, t := range layout.PathTypes {
		for _, id := range m.openIdsLocked(t) {
			if status, _ := m.closeLocked(t, id, true); status != kvstore.Success {
				result = multierror.Append(result, errors.Newf("close %s: %s", id, status))
			}
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		log.Errorf("close all stores of %s: %v", m.cfg.BundleName, err)
		return kvstore.DbError
	}
	return kvstore.Success
}

// DeleteKvStore closes storeId if it is open and removes its files in both protection classes.
// Success if the store was deleted in at least one of them.
func (m *Manager) DeleteKvStore(storeId string) kvstore.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	deleted := false
	for _, t := range layout.PathTypes {
		if m.deleteLocked(t, storeId) == nil {
			deleted = true
		}
	}
	if !deleted {
		return kvstore.DbError
	}
	return kvstore.Success
}

func (m *Manager) deleteLocked(t layout.PathType, storeId string) error {
	m.closeLocked(t, storeId, true)
	return m.delegates[t].DeleteKvStore(storeId)
}

// DeleteAllKvStore deletes every open store.
func (m *Manager) DeleteAllKvStore() kvstore.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.totalLocked() == 0 {
		return kvstore.StoreNotOpen
	}
	var result *multierror.Error
	for _, t := range layout.PathTypes {
		for _, id := range m.openIdsLocked(t) {
			if err := m.deleteLocked(t, id); err != nil {
				result = multierror.Append(result, err)
			}
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		log.Errorf("delete all stores of %s: %v", m.cfg.BundleName, err)
		return kvstore.DbError
	}
	return kvstore.Success
}

// --------------------------------------------------------------------------
// Migration
// --------------------------------------------------------------------------

// MigrateAllKvStore moves every open store to harmonyAccountId.
// Auto-launch apps always belong to the default group and are skipped.
func (m *Manager) MigrateAllKvStore(harmonyAccountId string) kvstore.Status {
	if m.cfg.Validator.IsAutoLaunchEnabled(m.cfg.BundleName) {
		return kvstore.Success
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	log.Infof("migrate stores of %s to a new account", m.cfg.BundleName)
	m.cfg.Validator.UpdateKvStoreTupleMap(
		permission.KvStoreTuple{UserId: m.userId, AppId: m.cfg.TrueAppId},
		permission.KvStoreTuple{UserId: harmonyAccountId, AppId: m.cfg.TrueAppId})
	m.userId = harmonyAccountId

	var status [len(layout.PathTypes)]kvstore.Status
	for _, t := range layout.PathTypes {
		status[t] = m.migrateLocked(t)
	}
	if status[layout.PathCE] != kvstore.Success {
		return status[layout.PathCE]
	}
	return status[layout.PathDE]
}

func (m *Manager) migrateLocked(t layout.PathType) kvstore.Status {
	next := delegate.NewManager(m.cfg.TrueAppId, m.userId, m.dataDir(t))
	status := kvstore.Success
	for _, table := range []map[string]*storeImpl{m.stores[t], m.singleStores[t]} {
		for id, impl := range table {
			if s := m.migrateStore(m.delegates[t], next, impl); s != kvstore.Success {
				log.Errorf("migrate %s/%s: %s", m.cfg.BundleName, id, s)
				status = s
			}
		}
	}
	m.delegates[t] = next
	return status
}

func (m *Manager) migrateStore(prev, next *delegate.Manager, impl *storeImpl) kvstore.Status {
	var key []byte
	if impl.options.Encrypt {
		suffix := meta.MultiKeySuffix
		if impl.single() {
			suffix = meta.SingleKeySuffix
		}
		var status kvstore.Status
		key, _, status = m.cfg.Meta.GetSecretKeyFromMeta(
			m.cfg.Meta.GetMetaKey(m.cfg.DeviceAccountId, account.DefaultGroupId, m.cfg.BundleName, impl.storeId, suffix))
		defer crypto.Zero(key)
		if status != kvstore.Success || len(key) == 0 {
			return kvstore.CryptError
		}
	}

	s, err := next.GetKvStore(impl.storeId, delegate.Option{
		IsEncryptedDb: impl.options.Encrypt,
		Passwd:        key,
		SecurityLevel: impl.options.SecurityLevel,
	})
	if err != nil {
		return kvstore.MigrationKvStoreFailed
	}
	if err := prev.CloseKvStore(impl.db()); err != nil && !errors.Is(err, delegate.ErrAlreadyClosed) {
		log.Warningf("close pre-migration handle of %s: %v", impl.storeId, err)
	}
	impl.dbp.Store(s)
	return kvstore.Success
}

// --------------------------------------------------------------------------
// Queries
// --------------------------------------------------------------------------

// GetDbDir returns the directory the stores with the given options live in.
func (m *Manager) GetDbDir(options kvstore.Options) string {
	return m.dataDir(m.pathType(options.SecurityLevel))
}

// IsStoreOpened reports whether storeId is open in any protection class.
func (m *Manager) IsStoreOpened(storeId string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range layout.PathTypes {
		if _, ok := m.stores[t][storeId]; ok {
			return true
		}
		if _, ok := m.singleStores[t][storeId]; ok {
			return true
		}
	}
	return false
}

// GetTotalKvStoreNum returns the number of open stores.
func (m *Manager) GetTotalKvStoreNum() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalLocked()
}

func (m *Manager) totalLocked() int {
	n := 0
	for _, t := range layout.PathTypes {
		n += len(m.stores[t]) + len(m.singleStores[t])
	}
	return n
}

func (m *Manager) openIdsLocked(t layout.PathType) []string {
	ids := make([]string, 0, len(m.stores[t])+len(m.singleStores[t]))
	for id := range m.stores[t] {
		ids = append(ids, id)
	}
	for id := range m.singleStores[t] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Dump writes the open stores and the open latency of the app to w.
func (m *Manager) Dump(w io.Writer) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fmt.Fprintf(w, "    AppID: %s\n", m.cfg.TrueAppId)
	fmt.Fprintf(w, "    BundleName: %s\n", m.cfg.BundleName)
	fmt.Fprintf(w, "    StorePath DE: %s\n", m.dataDir(layout.PathDE))
	fmt.Fprintf(w, "    StorePath CE: %s\n", m.dataDir(layout.PathCE))
	fmt.Fprintf(w, "    Store count: %d\n", m.totalLocked())
	for _, t := range layout.PathTypes {
		for _, table := range []map[string]*storeImpl{m.stores[t], m.singleStores[t]} {
			ids := make([]string, 0, len(table))
			for id := range table {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			for _, id := range ids {
				impl := table[id]
				o := impl.options
				fmt.Fprintf(w, "        StoreID: %s (%s, opened %d)\n", id, t, impl.openCount.Load())
				fmt.Fprintf(w, "            type: %s, encrypt: %t, backup: %t, autoSync: %t, level: %s, schema: %q\n",
					o.KvStoreType, o.Encrypt, o.Backup, o.AutoSync, o.SecurityLevel, o.Schema)
			}
		}
	}
	snap := m.timer.Snapshot()
	fmt.Fprintf(w, "    Opens: %d, mean %s, p99 %s\n",
		snap.Count(), time.Duration(snap.Mean()), time.Duration(snap.Percentile(0.99)))
}
