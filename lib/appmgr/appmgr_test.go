package appmgr

import (
	"bytes"
	"os"
	"testing"

	"github.com/ValentinKolb/kvds/lib/backup"
	"github.com/ValentinKolb/kvds/lib/crypto"
	"github.com/ValentinKolb/kvds/lib/delegate"
	"github.com/ValentinKolb/kvds/lib/kvstore"
	"github.com/ValentinKolb/kvds/lib/layout"
	"github.com/ValentinKolb/kvds/lib/meta"
	"github.com/ValentinKolb/kvds/lib/permission"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

const bundle = "com.example.notes"

type fixture struct {
	layout    layout.Layout
	meta      meta.IKvStoreMetaManager
	validator *permission.Validator
	backup    *backup.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	l := layout.Layout{Root: t.TempDir(), ServiceName: "kvds"}
	mm, err := meta.NewKvStoreMetaManager(meta.Options{
		MetaDir:       l.MetaDir(),
		SecretKeyDir:  l.SecretKeyDir(),
		LocalDeviceId: func() string { return "dev" },
	})
	require.NoError(t, err)
	require.Equal(t, kvstore.Success, mm.GenerateRootKey())
	v := permission.NewValidator(permission.DefaultAllowLists(), nil)
	return &fixture{
		layout:    l,
		meta:      mm,
		validator: v,
		backup:    backup.NewHandler(backup.Config{Layout: l, Meta: mm, IsSystemService: v.IsSystemService}),
	}
}

func (f *fixture) manager(bundleName string, limiter *rate.Limiter) *Manager {
	return NewManager(Config{
		Layout:          f.layout,
		Meta:            f.meta,
		Validator:       f.validator,
		Backup:          f.backup,
		DeviceAccountId: "0",
		UserId:          "user-1",
		BundleName:      bundleName,
		Limiter:         limiter,
	})
}

func multiOptions() kvstore.Options {
	o := kvstore.DefaultOptions()
	o.KvStoreType = kvstore.MultiVersion
	return o
}

func openMulti(t *testing.T, m *Manager, storeId string, o kvstore.Options, key []byte) (kvstore.IKvStore, kvstore.Status) {
	t.Helper()
	var got kvstore.IKvStore
	calls := 0
	status := m.GetKvStore(o, storeId, key, func(s kvstore.IKvStore) {
		calls++
		got = s
	})
	require.Equal(t, 1, calls, "callback must run exactly once")
	return got, status
}

func openSingle(t *testing.T, m *Manager, storeId string, o kvstore.Options, key []byte) (kvstore.ISingleKvStore, kvstore.Status) {
	t.Helper()
	var got kvstore.ISingleKvStore
	calls := 0
	status := m.GetSingleKvStore(o, storeId, key, func(s kvstore.ISingleKvStore) {
		calls++
		got = s
	})
	require.Equal(t, 1, calls, "callback must run exactly once")
	return got, status
}

func TestOpenReuseClose(t *testing.T) {
	m := newFixture(t).manager(bundle, nil)

	s, status := openMulti(t, m, "notes", multiOptions(), nil)
	require.Equal(t, kvstore.Success, status)
	require.NotNil(t, s)
	assert.Equal(t, kvstore.StoreId("notes"), s.GetStoreId())

	assert.Equal(t, kvstore.Success, s.Put("  k1 ", []byte("v1")))
	v, status := s.Get("k1")
	assert.Equal(t, kvstore.Success, status)
	assert.Equal(t, []byte("v1"), v)
	_, status = s.Get("missing")
	assert.Equal(t, kvstore.KeyNotFound, status)
	assert.Equal(t, kvstore.InvalidArgument, s.Put("   ", []byte("v")))

	again, status := openMulti(t, m, "notes", multiOptions(), nil)
	require.Equal(t, kvstore.Success, status)
	v, _ = again.Get("k1")
	assert.Equal(t, []byte("v1"), v)
	assert.Equal(t, 1, m.GetTotalKvStoreNum())

	assert.Equal(t, kvstore.Success, m.CloseKvStore("notes"))
	assert.True(t, m.IsStoreOpened("notes"))
	assert.Equal(t, kvstore.Success, m.CloseKvStore("notes"))
	assert.False(t, m.IsStoreOpened("notes"))
	assert.Equal(t, kvstore.StoreNotOpen, m.CloseKvStore("notes"))
}

func TestTypeChecks(t *testing.T) {
	m := newFixture(t).manager(bundle, nil)

	s, status := openMulti(t, m, "notes", kvstore.DefaultOptions(), nil)
	assert.Equal(t, kvstore.InvalidArgument, status)
	assert.Nil(t, s)

	single, status := openSingle(t, m, "notes", multiOptions(), nil)
	assert.Equal(t, kvstore.InvalidArgument, status)
	assert.Nil(t, single)

	o := kvstore.DefaultOptions()
	o.KvStoreType = kvstore.DeviceCollaboration
	single, status = openSingle(t, m, "collab", o, nil)
	assert.Equal(t, kvstore.Success, status)
	assert.NotNil(t, single)
}

func TestFlowControl(t *testing.T) {
	m := newFixture(t).manager(bundle, rate.NewLimiter(0, 1))

	_, status := openSingle(t, m, "a", kvstore.DefaultOptions(), nil)
	assert.Equal(t, kvstore.Success, status)
	s, status := openSingle(t, m, "b", kvstore.DefaultOptions(), nil)
	assert.Equal(t, kvstore.ExceedMaxAccessRate, status)
	assert.Nil(t, s)
}

func TestMaxOpenKvStores(t *testing.T) {
	m := newFixture(t).manager(bundle, nil)
	for i := 0; i < MaxOpenKvStores; i++ {
		_, status := openSingle(t, m, "store_"+string(rune('a'+i)), kvstore.DefaultOptions(), nil)
		require.Equal(t, kvstore.Success, status)
	}
	s, status := openSingle(t, m, "one_too_many", kvstore.DefaultOptions(), nil)
	assert.Equal(t, kvstore.Error, status)
	assert.Nil(t, s)

	// an already open store can still be shared
	_, status = openSingle(t, m, "store_a", kvstore.DefaultOptions(), nil)
	assert.Equal(t, kvstore.Success, status)
}

func TestMissingStore(t *testing.T) {
	m := newFixture(t).manager(bundle, nil)
	o := kvstore.DefaultOptions()
	o.CreateIfMissing = false
	s, status := openSingle(t, m, "absent", o, nil)
	assert.Equal(t, kvstore.StoreNotFound, status)
	assert.Nil(t, s)
}

func TestConvertErrorStatus(t *testing.T) {
	assert.Equal(t, kvstore.Success, ConvertErrorStatus(nil, true))
	assert.Equal(t, kvstore.CryptError, ConvertErrorStatus(errors.Wrap(delegate.ErrInvalidPasswdOrCorrupted, "x"), true))
	assert.Equal(t, kvstore.InvalidArgument, ConvertErrorStatus(delegate.ErrInvalidArgs, false))
	assert.Equal(t, kvstore.DbError, ConvertErrorStatus(delegate.ErrStoreNotFound, true))
	assert.Equal(t, kvstore.StoreNotFound, ConvertErrorStatus(delegate.ErrStoreNotFound, false))
}

func TestEncryptedWrongKey(t *testing.T) {
	m := newFixture(t).manager(bundle, nil)
	o := kvstore.DefaultOptions()
	o.Encrypt = true

	_, status := openSingle(t, m, "secret", o, crypto.GetRandomKey(32))
	require.Equal(t, kvstore.Success, status)
	require.Equal(t, kvstore.Success, m.CloseKvStore("secret"))

	s, status := openSingle(t, m, "secret", o, crypto.GetRandomKey(32))
	assert.Equal(t, kvstore.CryptError, status)
	assert.Nil(t, s)
}

func TestSecurityLevelMismatch(t *testing.T) {
	m := newFixture(t).manager(bundle, nil)
	o := kvstore.DefaultOptions()
	o.SecurityLevel = kvstore.S0
	_, status := openSingle(t, m, "labeled", o, nil)
	require.Equal(t, kvstore.Success, status)
	require.Equal(t, kvstore.Success, m.CloseKvStore("labeled"))

	// S1 maps to the same protection class but is a different label
	o.SecurityLevel = kvstore.S1
	s, status := openSingle(t, m, "labeled", o, nil)
	assert.Equal(t, kvstore.SecurityLevelError, status)
	assert.Nil(t, s)
	assert.False(t, m.IsStoreOpened("labeled"))
}

func TestDeleteKvStore(t *testing.T) {
	f := newFixture(t)
	m := f.manager(bundle, nil)

	s, status := openSingle(t, m, "doomed", kvstore.DefaultOptions(), nil)
	require.Equal(t, kvstore.Success, status)
	require.Equal(t, kvstore.Success, s.Put("k", []byte("v")))

	dir := delegate.NewManager(bundle, "user-1", m.GetDbDir(kvstore.DefaultOptions())).GetDatabaseDir("doomed")
	_, err := os.Stat(dir)
	require.NoError(t, err)

	assert.Equal(t, kvstore.Success, m.DeleteKvStore("doomed"))
	assert.False(t, m.IsStoreOpened("doomed"))
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))

	assert.Equal(t, kvstore.DbError, m.DeleteKvStore("doomed"))
}

func TestCloseAllDeleteAll(t *testing.T) {
	m := newFixture(t).manager(bundle, nil)
	assert.Equal(t, kvstore.StoreNotOpen, m.CloseAllKvStore())
	assert.Equal(t, kvstore.StoreNotOpen, m.DeleteAllKvStore())

	_, _ = openSingle(t, m, "a", kvstore.DefaultOptions(), nil)
	_, _ = openSingle(t, m, "a", kvstore.DefaultOptions(), nil)
	_, _ = openMulti(t, m, "b", multiOptions(), nil)
	assert.Equal(t, kvstore.Success, m.CloseAllKvStore())
	assert.Equal(t, 0, m.GetTotalKvStoreNum())

	_, _ = openSingle(t, m, "a", kvstore.DefaultOptions(), nil)
	assert.Equal(t, kvstore.Success, m.DeleteAllKvStore())
	assert.Equal(t, 0, m.GetTotalKvStoreNum())

	o := kvstore.DefaultOptions()
	o.CreateIfMissing = false
	_, status := openSingle(t, m, "a", o, nil)
	assert.Equal(t, kvstore.StoreNotFound, status)
}

func TestMigrateAllKvStore(t *testing.T) {
	f := newFixture(t)
	m := f.manager(bundle, nil)
	key := crypto.GetRandomKey(32)
	require.Equal(t, kvstore.Success,
		f.meta.WriteSecretKeyToMeta(f.meta.GetMetaKey("0", "default", bundle, "secret", meta.SingleKeySuffix), key))

	o := kvstore.DefaultOptions()
	o.Encrypt = true
	s, status := openSingle(t, m, "secret", o, key)
	require.Equal(t, kvstore.Success, status)
	require.Equal(t, kvstore.Success, s.Put("k", []byte("v")))
	plain, status := openMulti(t, m, "plain", multiOptions(), nil)
	require.Equal(t, kvstore.Success, status)

	old := permission.KvStoreTuple{UserId: "user-1", AppId: bundle}
	require.True(t, f.validator.RegisterPermissionChanged(old))

	assert.Equal(t, kvstore.Success, m.MigrateAllKvStore("user-2"))
	assert.Equal(t, "user-2", m.UserId())
	assert.False(t, f.validator.IsRegistered(old))
	assert.True(t, f.validator.IsRegistered(permission.KvStoreTuple{UserId: "user-2", AppId: bundle}))

	// handles stay usable across the migration
	v, status := s.Get("k")
	assert.Equal(t, kvstore.Success, status)
	assert.Equal(t, []byte("v"), v)
	assert.Equal(t, kvstore.Success, plain.Put("p", []byte("1")))
	assert.Equal(t, 2, m.GetTotalKvStoreNum())
}

func TestMigrateWithoutKey(t *testing.T) {
	m := newFixture(t).manager(bundle, nil)
	o := kvstore.DefaultOptions()
	o.Encrypt = true
	_, status := openSingle(t, m, "secret", o, crypto.GetRandomKey(32))
	require.Equal(t, kvstore.Success, status)

	assert.Equal(t, kvstore.CryptError, m.MigrateAllKvStore("user-2"))
}

func TestMigrateSkipsAutoLaunchApps(t *testing.T) {
	m := newFixture(t).manager("providers.calendar", nil)
	assert.Equal(t, kvstore.Success, m.MigrateAllKvStore("user-2"))
	assert.Equal(t, "user-1", m.UserId())
}

func TestCapability(t *testing.T) {
	f := newFixture(t)
	m := f.manager(bundle, nil)
	o := kvstore.DefaultOptions()
	o.SecurityLevel = kvstore.S2
	s, status := openSingle(t, m, "synced", o, nil)
	require.Equal(t, kvstore.Success, status)

	assert.Equal(t, kvstore.Success, s.SetCapabilityEnabled(true))
	assert.Equal(t, kvstore.Success, s.SetCapabilityRange([]string{"a"}, []string{"b"}))

	labels, status := f.meta.GetStrategyMeta(f.meta.GetStrategyMetaKey(meta.StrategyKey{
		DeviceId: "dev", DeviceAccountId: "0", GroupId: "default", BundleName: bundle, StoreId: "synced",
	}))
	require.Equal(t, kvstore.Success, status)
	assert.Equal(t, []string{"a"}, labels["localLabel"])
	assert.Equal(t, []string{"b"}, labels["remoteLabel"])

	level, status := s.GetSecurityLevel()
	assert.Equal(t, kvstore.Success, status)
	assert.Equal(t, kvstore.S2, level)
}

func TestImportFromBackup(t *testing.T) {
	f := newFixture(t)
	m := f.manager(bundle, nil)
	o := kvstore.DefaultOptions()
	s, status := openSingle(t, m, "backed", o, nil)
	require.Equal(t, kvstore.Success, status)
	require.Equal(t, kvstore.Success, s.Put("k", []byte("before")))

	// no backup yet
	assert.False(t, s.(Importer).Import())

	md := meta.MetaData{
		KvStoreType: kvstore.SingleVersion,
		KvStoreMetaData: meta.KvStoreMetaData{
			AppId: bundle, BundleName: bundle, DeviceAccountId: "0", UserId: "default",
			StoreId: "backed", KvStoreType: kvstore.SingleVersion, IsBackup: true,
		},
	}
	require.True(t, f.backup.SingleKvStoreBackup(md))

	require.Equal(t, kvstore.Success, s.Put("k", []byte("after")))
	assert.True(t, s.(Importer).Import())
	v, _ := s.Get("k")
	assert.Equal(t, []byte("before"), v)
}

func TestDump(t *testing.T) {
	m := newFixture(t).manager(bundle, nil)
	_, status := openSingle(t, m, "dumped", kvstore.DefaultOptions(), nil)
	require.Equal(t, kvstore.Success, status)

	var buf bytes.Buffer
	m.Dump(&buf)
	out := buf.String()
	assert.Contains(t, out, "BundleName: "+bundle)
	assert.Contains(t, out, "StoreID: dumped")
	assert.Contains(t, out, "Store count: 1")
	assert.Contains(t, out, "Opens: 1")
}
