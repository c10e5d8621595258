package usermgr

import (
	"bytes"
	"testing"

	"github.com/ValentinKolb/kvds/lib/account"
	"github.com/ValentinKolb/kvds/lib/backup"
	"github.com/ValentinKolb/kvds/lib/crypto"
	"github.com/ValentinKolb/kvds/lib/kvstore"
	"github.com/ValentinKolb/kvds/lib/layout"
	"github.com/ValentinKolb/kvds/lib/meta"
	"github.com/ValentinKolb/kvds/lib/permission"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type uidProvider string

func (p uidProvider) CurrentUID() (string, error) { return string(p), nil }

func (p uidProvider) WatchEvents(func(account.AccountEventInfo)) (func(), error) {
	return func() {}, nil
}

func newManager(t *testing.T) *Manager {
	t.Helper()
	l := layout.Layout{Root: t.TempDir(), ServiceName: "kvds"}
	mm, err := meta.NewKvStoreMetaManager(meta.Options{
		MetaDir:       l.MetaDir(),
		SecretKeyDir:  l.SecretKeyDir(),
		LocalDeviceId: func() string { return "dev" },
	})
	require.NoError(t, err)
	v := permission.NewValidator(permission.DefaultAllowLists(), nil)
	return NewManager(Config{
		Layout:          l,
		Meta:            mm,
		Validator:       v,
		Backup:          backup.NewHandler(backup.Config{Layout: l, Meta: mm}),
		Accounts:        account.NewAccountDelegate(v, uidProvider("100")),
		DeviceAccountId: "0",
	})
}

func open(t *testing.T, m *Manager, bundleName, storeId string) kvstore.ISingleKvStore {
	t.Helper()
	var got kvstore.ISingleKvStore
	status := m.GetSingleKvStore(kvstore.DefaultOptions(), bundleName, storeId, 100, nil, func(s kvstore.ISingleKvStore) { got = s })
	require.Equal(t, kvstore.Success, status)
	require.NotNil(t, got)
	return got
}

func TestOpenClose(t *testing.T) {
	m := newManager(t)
	assert.Equal(t, kvstore.StoreNotOpen, m.CloseKvStore("com.a", "s"))
	assert.Equal(t, kvstore.StoreNotOpen, m.CloseAllKvStoreOfApp("com.a"))
	assert.Empty(t, m.GetDbDir("com.a", kvstore.DefaultOptions()))

	open(t, m, "com.a", "s")
	assert.True(t, m.IsStoreOpened("com.a", "s"))
	assert.False(t, m.IsStoreOpened("com.b", "s"))
	assert.NotEmpty(t, m.GetDbDir("com.a", kvstore.DefaultOptions()))

	assert.Equal(t, kvstore.Success, m.CloseKvStore("com.a", "s"))
	assert.Equal(t, kvstore.StoreNotOpen, m.CloseKvStore("com.a", "s"))
}

func TestCloseAll(t *testing.T) {
	m := newManager(t)
	open(t, m, "com.a", "s1")
	open(t, m, "com.a", "s2")
	open(t, m, "com.b", "s1")

	assert.Equal(t, kvstore.Success, m.CloseAllKvStoreOfApp("com.a"))
	assert.False(t, m.IsStoreOpened("com.a", "s1"))
	assert.True(t, m.IsStoreOpened("com.b", "s1"))

	m.CloseAllKvStore()
	assert.False(t, m.IsStoreOpened("com.b", "s1"))
}

func TestDeleteWithoutOpenApp(t *testing.T) {
	m := newManager(t)
	s := open(t, m, "com.a", "s")
	require.Equal(t, kvstore.Success, s.Put("k", []byte("v")))
	require.Equal(t, kvstore.Success, m.CloseKvStore("com.a", "s"))

	// a fresh manager has no app manager for com.a
	other := NewManager(m.cfg)
	assert.Equal(t, kvstore.Success, other.DeleteKvStore("com.a", "s", 100))
	assert.Equal(t, kvstore.DbError, other.DeleteKvStore("com.a", "s", 100))
}

func TestDeleteAll(t *testing.T) {
	m := newManager(t)
	open(t, m, "com.a", "s")
	open(t, m, "com.b", "s")
	m.DeleteAllKvStore()
	assert.False(t, m.IsStoreOpened("com.a", "s"))
	assert.Empty(t, m.GetDbDir("com.a", kvstore.DefaultOptions()))
}

func TestMigrate(t *testing.T) {
	m := newManager(t)
	s := open(t, m, "com.a", "s")
	open(t, m, "providers.calendar", "s")

	assert.Equal(t, kvstore.Success, m.MigrateAllKvStore("new-account"))
	assert.Equal(t, kvstore.Success, s.Put("k", []byte("v")))

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Equal(t, "new-account", m.apps["com.a"].UserId())
	assert.Equal(t, account.DefaultGroupId, m.apps["providers.calendar"].UserId())
}

func TestHarmonyAccountOfNewApps(t *testing.T) {
	m := newManager(t)
	open(t, m, "com.a", "s")
	app, ok := m.lookup("com.a")
	require.True(t, ok)
	assert.Equal(t, crypto.Sha256UserId("100"), app.UserId())
}

func TestDump(t *testing.T) {
	m := newManager(t)
	open(t, m, "com.a", "s")
	var buf bytes.Buffer
	m.Dump(&buf)
	assert.Contains(t, buf.String(), "DeviceAccountID: 0")
	assert.Contains(t, buf.String(), "App count: 1")
	assert.Contains(t, buf.String(), "BundleName: com.a")
}
