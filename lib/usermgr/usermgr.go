// Package usermgr groups the app managers of one device account.
package usermgr

import (
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/ValentinKolb/kvds/lib/account"
	"github.com/ValentinKolb/kvds/lib/appmgr"
	"github.com/ValentinKolb/kvds/lib/backup"
	"github.com/ValentinKolb/kvds/lib/kvstore"
	"github.com/ValentinKolb/kvds/lib/layout"
	"github.com/ValentinKolb/kvds/lib/meta"
	"github.com/ValentinKolb/kvds/lib/permission"
	"github.com/lni/dragonboat/v4/logger"
	"golang.org/x/time/rate"
)

var log = logger.GetLogger("usermgr")

// Config configures a Manager.
type Config struct {
	Layout    layout.Layout
	Meta      meta.IKvStoreMetaManager
	Validator *permission.Validator
	Backup    *backup.Handler
	Accounts  account.IAccountDelegate

	DeviceAccountId string
	// NewLimiter returns the open limiter of a new app manager, nil uses the app manager default.
	NewLimiter func() *rate.Limiter
}

// Manager maps bundle names to their app managers.
//
// Thread-safety: all methods are safe for concurrent use. App managers are
// created on the first open and live until DeleteAllKvStore.
type Manager struct {
	cfg  Config
	mu   sync.Mutex
	apps map[string]*appmgr.Manager
}

// NewManager creates the manager of cfg.DeviceAccountId.
func NewManager(cfg Config) *Manager {
	return &Manager{cfg: cfg, apps: map[string]*appmgr.Manager{}}
}

func (m *Manager) DeviceAccountId() string { return m.cfg.DeviceAccountId }

func (m *Manager) newApp(bundleName string, uid int32) *appmgr.Manager {
	var limiter *rate.Limiter
	if m.cfg.NewLimiter != nil {
		limiter = m.cfg.NewLimiter()
	}
	return appmgr.NewManager(appmgr.Config{
		Layout:          m.cfg.Layout,
		Meta:            m.cfg.Meta,
		Validator:       m.cfg.Validator,
		Backup:          m.cfg.Backup,
		DeviceAccountId: m.cfg.DeviceAccountId,
		UserId:          m.cfg.Accounts.GetCurrentHarmonyAccountId(bundleName),
		BundleName:      bundleName,
		TrueAppId:       bundleName,
		Uid:             uid,
		Limiter:         limiter,
	})
}

func (m *Manager) app(bundleName string, uid int32) *appmgr.Manager {
	m.mu.Lock()
	defer m.mu.Unlock()
	app, ok := m.apps[bundleName]
	if !ok {
		app = m.newApp(bundleName, uid)
		m.apps[bundleName] = app
	}
	return app
}

func (m *Manager) lookup(bundleName string) (*appmgr.Manager, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	app, ok := m.apps[bundleName]
	return app, ok
}

func (m *Manager) snapshot() []*appmgr.Manager {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.apps))
	for name := range m.apps {
		names = append(names, name)
	}
	sort.Strings(names)
	apps := make([]*appmgr.Manager, 0, len(names))
	for _, name := range names {
		apps = append(apps, m.apps[name])
	}
	return apps
}

// --------------------------------------------------------------------------
// Store lifecycle
// --------------------------------------------------------------------------

func (m *Manager) GetKvStore(options kvstore.Options, bundleName, storeId string, uid int32, secretKey []byte, cb func(kvstore.IKvStore)) kvstore.Status {
	return m.app(bundleName, uid).GetKvStore(options, storeId, secretKey, cb)
}

func (m *Manager) GetSingleKvStore(options kvstore.Options, bundleName, storeId string, uid int32, secretKey []byte, cb func(kvstore.ISingleKvStore)) kvstore.Status {
	return m.app(bundleName, uid).GetSingleKvStore(options, storeId, secretKey, cb)
}

func (m *Manager) CloseKvStore(bundleName, storeId string) kvstore.Status {
	app, ok := m.lookup(bundleName)
	if !ok {
		return kvstore.StoreNotOpen
	}
	return app.CloseKvStore(storeId)
}

// CloseAllKvStoreOfApp closes every store of bundleName.
func (m *Manager) CloseAllKvStoreOfApp(bundleName string) kvstore.Status {
	app, ok := m.lookup(bundleName)
	if !ok {
		return kvstore.StoreNotOpen
	}
	return app.CloseAllKvStore()
}

// CloseAllKvStore closes the stores of every app.
func (m *Manager) CloseAllKvStore() {
	for _, app := range m.snapshot() {
		app.CloseAllKvStore()
	}
}

// DeleteKvStore deletes a store. Apps without open stores get a temporary app manager.
func (m *Manager) DeleteKvStore(bundleName, storeId string, uid int32) kvstore.Status {
	app, ok := m.lookup(bundleName)
	if !ok {
		app = m.newApp(bundleName, uid)
	}
	return app.DeleteKvStore(storeId)
}

// DeleteAllKvStore deletes the open stores of every app and forgets the apps.
func (m *Manager) DeleteAllKvStore() {
	m.mu.Lock()
	apps := m.apps
	m.apps = map[string]*appmgr.Manager{}
	m.mu.Unlock()

	for name, app := range apps {
		if status := app.DeleteAllKvStore(); status != kvstore.Success && status != kvstore.StoreNotOpen {
			log.Warningf("delete stores of %s: %s", name, status)
		}
	}
}

// MigrateAllKvStore moves the stores of every app to harmonyAccountId.
// The last failing status is returned, the remaining apps are migrated anyway.
func (m *Manager) MigrateAllKvStore(harmonyAccountId string) kvstore.Status {
	result := kvstore.Success
	for _, app := range m.snapshot() {
		if status := app.MigrateAllKvStore(harmonyAccountId); status != kvstore.Success {
			log.Errorf("migrate stores of %s: %s", app.BundleName(), status)
			result = status
		}
	}
	return result
}

// --------------------------------------------------------------------------
// Queries
// --------------------------------------------------------------------------

// GetDbDir returns the data directory of bundleName, empty if the app is unknown.
func (m *Manager) GetDbDir(bundleName string, options kvstore.Options) string {
	app, ok := m.lookup(bundleName)
	if !ok {
		return ""
	}
	return app.GetDbDir(options)
}

func (m *Manager) IsStoreOpened(bundleName, storeId string) bool {
	app, ok := m.lookup(bundleName)
	return ok && app.IsStoreOpened(storeId)
}

// OpenStoreCount returns the number of open stores over all apps.
func (m *Manager) OpenStoreCount() int {
	n := 0
	for _, app := range m.snapshot() {
		n += app.GetTotalKvStoreNum()
	}
	return n
}

func (m *Manager) Dump(w io.Writer) {
	apps := m.snapshot()
	fmt.Fprintf(w, "  DeviceAccountID: %s\n", m.cfg.DeviceAccountId)
	fmt.Fprintf(w, "  App count: %d\n", len(apps))
	for _, app := range apps {
		app.Dump(w)
	}
}
