package backup

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ValentinKolb/kvds/lib/crypto"
	"github.com/ValentinKolb/kvds/lib/delegate"
	"github.com/ValentinKolb/kvds/lib/kvstore"
	"github.com/ValentinKolb/kvds/lib/layout"
	"github.com/ValentinKolb/kvds/lib/meta"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	layout  layout.Layout
	meta    meta.IKvStoreMetaManager
	handler *Handler
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
	return &fixture{layout: l, meta: mm, handler: NewHandler(Config{Layout: l, Meta: mm})}
}

// createStore opens a store the way the app manager does and registers its meta record.
func (f *fixture) createStore(t *testing.T, md meta.KvStoreMetaData, key []byte) (*delegate.Manager, *delegate.Store) {
	t.Helper()
	dir := f.layout.DataStoragePath(md.DeviceAccountId, md.BundleName, layout.ConvertPathType(false, md.SecurityLevel))
	mgr := delegate.NewManager(md.AppId, md.UserId, dir)
	s, err := mgr.GetKvStore(md.StoreId, delegate.Option{CreateIfNecessary: true, IsEncryptedDb: len(key) > 0, Passwd: key, SecurityLevel: md.SecurityLevel})
	require.NoError(t, err)

	value, err := json.Marshal(md)
	require.NoError(t, err)
	metaKey := f.meta.GetMetaKey(md.DeviceAccountId, "default", md.BundleName, md.StoreId, "")
	require.Equal(t, kvstore.Success, f.meta.CheckUpdateServiceMeta(metaKey, meta.Update, value))
	if len(key) > 0 {
		suffix := meta.MultiKeySuffix
		if md.KvStoreType != kvstore.MultiVersion {
			suffix = meta.SingleKeySuffix
		}
		require.Equal(t, kvstore.Success, f.meta.WriteSecretKeyToMeta(f.meta.GetMetaKey(md.DeviceAccountId, "default", md.BundleName, md.StoreId, suffix), key))
	}
	return mgr, s
}

func storeMeta(storeId string, backup, encrypt bool) meta.KvStoreMetaData {
	return meta.KvStoreMetaData{
		AppId:           "com.example",
		BundleName:      "com.example",
		DeviceAccountId: "0",
		UserId:          "default",
		StoreId:         storeId,
		KvStoreType:     kvstore.SingleVersion,
		IsBackup:        backup,
		IsEncrypt:       encrypt,
		SecurityLevel:   kvstore.S1,
	}
}

func TestHashedBackupName(t *testing.T) {
	assert.Equal(t, crypto.Sha256("default_com.example_store"), GetHashedBackupName(BackupName("default", "com.example", "store")))
}

func TestFileHelpers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	assert.False(t, FileExists(path))
	assert.True(t, RemoveFile(path))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))
	assert.True(t, FileExists(path))
	assert.True(t, RemoveFile(path))
	assert.False(t, FileExists(path))
}

func TestBackupFileLocation(t *testing.T) {
	f := newFixture(t)
	md := storeMeta("store", true, false)

	file := f.handler.BackupFile(md)
	assert.Equal(t, f.handler.GetBackupPath("0", layout.PathDE), filepath.Dir(file))

	md.SecurityLevel = kvstore.S3
	assert.Equal(t, f.handler.GetBackupPath("0", layout.PathCE), filepath.Dir(f.handler.BackupFile(md)))
}

func TestBackupAllAndRecover(t *testing.T) {
	f := newFixture(t)

	md := storeMeta("store", true, false)
	mgr, s := f.createStore(t, md, nil)
	require.NoError(t, s.Put("k", []byte("v1")))

	_, skipped := f.createStore(t, storeMeta("nobackup", false, false), nil)
	require.NoError(t, skipped.Put("k", []byte("v")))

	assert.Equal(t, 1, f.handler.BackupAll())
	assert.True(t, FileExists(f.handler.BackupFile(md)))
	assert.False(t, FileExists(f.handler.BackupFile(storeMeta("nobackup", false, false))))

	require.NoError(t, s.Put("k", []byte("v2")))
	require.NoError(t, s.Put("extra", []byte("x")))

	require.True(t, f.handler.SingleKvStoreRecover(meta.MetaData{KvStoreType: md.KvStoreType, KvStoreMetaData: md}, s))
	got, err := s.Get("k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), got)
	_, err = s.Get("extra")
	assert.ErrorIs(t, err, delegate.ErrKeyNotFound)

	require.NoError(t, mgr.CloseKvStore(s))
}

func TestEncryptedBackup(t *testing.T) {
	f := newFixture(t)

	key := crypto.GetRandomKey(meta.SecretKeySize)
	md := storeMeta("secure", true, true)
	mgr, s := f.createStore(t, md, key)
	require.NoError(t, s.Put("k", []byte("secret")))

	assert.Equal(t, 1, f.handler.BackupAll())
	raw, err := os.ReadFile(f.handler.BackupFile(md))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "secret")

	require.NoError(t, s.Delete("k"))
	assert.False(t, f.handler.SingleKvStoreRecover(meta.MetaData{KvStoreMetaData: md, SecretKey: crypto.GetRandomKey(meta.SecretKeySize)}, s))
	require.True(t, f.handler.SingleKvStoreRecover(meta.MetaData{KvStoreMetaData: md, SecretKey: key}, s))

	got, err := s.Get("k")
	require.NoError(t, err)
	assert.Equal(t, []byte("secret"), got)
	require.NoError(t, mgr.CloseKvStore(s))
}

func TestEncryptedCollaborationBackup(t *testing.T) {
	f := newFixture(t)

	key := crypto.GetRandomKey(meta.SecretKeySize)
	md := storeMeta("collab", true, true)
	md.KvStoreType = kvstore.DeviceCollaboration
	mgr, s := f.createStore(t, md, key)
	defer mgr.CloseKvStore(s)
	require.NoError(t, s.Put("k", []byte("v")))

	full, ok := f.meta.GetFullMetaData()
	require.True(t, ok)
	var found bool
	for _, entry := range full {
		if entry.KvStoreMetaData.StoreId == "collab" {
			found = true
			assert.Equal(t, key, entry.SecretKey)
		}
	}
	require.True(t, found)

	assert.Equal(t, 1, f.handler.BackupAll())
	assert.True(t, FileExists(f.handler.BackupFile(md)))
}

func TestRecoverWithoutBackup(t *testing.T) {
	f := newFixture(t)
	md := storeMeta("store", true, false)
	mgr, s := f.createStore(t, md, nil)
	defer mgr.CloseKvStore(s)

	assert.False(t, f.handler.MultiKvStoreRecover(meta.MetaData{KvStoreMetaData: md}, s))
	assert.False(t, f.handler.SingleKvStoreRecover(meta.MetaData{KvStoreMetaData: md}, nil))
}

func TestBackupMissingStore(t *testing.T) {
	f := newFixture(t)
	assert.False(t, f.handler.SingleKvStoreBackup(meta.MetaData{KvStoreMetaData: storeMeta("missing", true, false)}))
}

func TestBackSchedule(t *testing.T) {
	f := newFixture(t)
	f.handler = NewHandler(Config{Layout: f.layout, Meta: f.meta, Interval: 10 * time.Millisecond})

	md := storeMeta("store", true, false)
	mgr, s := f.createStore(t, md, nil)
	defer mgr.CloseKvStore(s)
	require.NoError(t, s.Put("k", []byte("v")))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.handler.BackSchedule(ctx)
		close(done)
	}()
	assert.Eventually(t, func() bool { return FileExists(f.handler.BackupFile(md)) }, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done
}
