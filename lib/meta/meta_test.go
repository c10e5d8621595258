package meta

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/kvds/lib/crypto"
	"github.com/ValentinKolb/kvds/lib/kvstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDevice = "device-a"

func newTestManager(t *testing.T, root string) *managerImpl {
	t.Helper()
	mm, err := NewKvStoreMetaManager(Options{
		MetaDir:       filepath.Join(root, "meta"),
		SecretKeyDir:  filepath.Join(root, "keys"),
		BackupDir:     filepath.Join(root, "backup"),
		LocalDeviceId: func() string { return testDevice },
	})
	require.NoError(t, err)
	return mm.(*managerImpl)
}

func putStoreMeta(t *testing.T, mm *managerImpl, md KvStoreMetaData) string {
	t.Helper()
	key := mm.GetMetaKey(md.DeviceAccountId, "default", md.BundleName, md.StoreId, "")
	value, err := json.Marshal(md)
	require.NoError(t, err)
	require.Equal(t, kvstore.Success, mm.CheckUpdateServiceMeta(key, Update, value))
	return key
}

type fakeReKeyer struct {
	status kvstore.Status
	got    []byte
}

func (f *fakeReKeyer) ReKey(key []byte) kvstore.Status {
	f.got = append([]byte(nil), key...)
	return f.status
}

func TestKeys(t *testing.T) {
	mm := newTestManager(t, t.TempDir())

	assert.Equal(t, "KvStoreMetaData###device-a###0###default###app###store", mm.GetMetaKey("0", "default", "app", "store", ""))
	assert.Equal(t, "SecretKey###0###default###app###store###SINGLE_KEY", mm.GetMetaKey("0", "default", "app", "store", SingleKeySuffix))
	assert.Equal(t, "StrategyMetaData###dev###0###default###app###store",
		mm.GetStrategyMetaKey(StrategyKey{DeviceId: "dev", DeviceAccountId: "0", GroupId: "default", BundleName: "app", StoreId: "store"}))

	file := mm.GetSecretKeyFile("0", "app", "store")
	assert.True(t, strings.HasSuffix(file, ".mul.key"))
	assert.True(t, strings.HasSuffix(mm.GetSecretSingleKeyFile("0", "app", "store"), ".sig.key"))
	assert.Contains(t, file, crypto.Sha256("store"))
	assert.Equal(t, filepath.Dir(file), filepath.Dir(mm.GetSecretSingleKeyFile("0", "app", "store")))
	assert.Equal(t, "store", StoreIdFromMetaKey("KvStoreMetaData###a###b###store"))
}

func TestCheckUpdateServiceMeta(t *testing.T) {
	mm := newTestManager(t, t.TempDir())

	assert.Equal(t, kvstore.DbError, mm.CheckUpdateServiceMeta("k", CheckExist, nil))
	assert.Equal(t, kvstore.Success, mm.CheckUpdateServiceMeta("k", Update, []byte("v")))
	assert.Equal(t, kvstore.Success, mm.CheckUpdateServiceMeta("k", CheckExist, nil))

	// local and synchronized records are separate
	assert.Equal(t, kvstore.DbError, mm.CheckUpdateServiceMeta("k", CheckExistLocal, nil))
	assert.Equal(t, kvstore.Success, mm.CheckUpdateServiceMeta("k", UpdateLocal, []byte("v")))
	assert.Equal(t, kvstore.Success, mm.CheckUpdateServiceMeta("k", CheckExistLocal, nil))

	assert.Equal(t, kvstore.Success, mm.CheckUpdateServiceMeta("k", Delete, nil))
	assert.Equal(t, kvstore.DbError, mm.CheckUpdateServiceMeta("k", CheckExist, nil))
	assert.Equal(t, kvstore.Success, mm.CheckUpdateServiceMeta("k", CheckExistLocal, nil))

	assert.Equal(t, kvstore.DbError, mm.CheckUpdateServiceMeta("k", Flag(42), nil))
}

func TestCheckExistDoesNotPersist(t *testing.T) {
	root := t.TempDir()
	mm := newTestManager(t, root)
	localFile := filepath.Join(root, "meta", localFileName)

	require.Equal(t, kvstore.Success, mm.CheckUpdateServiceMeta("k", UpdateLocal, []byte("v")))
	require.FileExists(t, localFile)
	require.NoError(t, os.Remove(localFile))

	assert.Equal(t, kvstore.Success, mm.CheckUpdateServiceMeta("k", CheckExistLocal, nil))
	assert.Equal(t, kvstore.DbError, mm.CheckUpdateServiceMeta("k", CheckExist, nil))
	assert.NoFileExists(t, localFile)

	assert.Equal(t, kvstore.Success, mm.CheckUpdateServiceMeta("k", DeleteLocal, nil))
	assert.FileExists(t, localFile)
}

func TestPersistAndBackupRestore(t *testing.T) {
	root := t.TempDir()
	mm := newTestManager(t, root)
	key := putStoreMeta(t, mm, KvStoreMetaData{AppId: "app", BundleName: "app", StoreId: "store", DeviceAccountId: "0", KvStoreType: kvstore.SingleVersion})
	require.NoError(t, mm.Close())

	reopened := newTestManager(t, root)
	md, status := reopened.GetKvStoreMeta(key)
	require.Equal(t, kvstore.Success, status)
	assert.Equal(t, "store", md.StoreId)

	// a damaged meta file is replaced by its backup copy
	require.NoError(t, os.WriteFile(filepath.Join(root, "meta", syncFileName), []byte("garbage"), 0o600))
	recovered := newTestManager(t, root)
	_, status = recovered.GetKvStoreMeta(key)
	assert.Equal(t, kvstore.Success, status)
}

func TestGetKvStoreMeta(t *testing.T) {
	mm := newTestManager(t, t.TempDir())

	_, status := mm.GetKvStoreMeta("missing")
	assert.Equal(t, kvstore.KeyNotFound, status)

	require.Equal(t, kvstore.Success, mm.CheckUpdateServiceMeta("broken", Update, []byte("{")))
	_, status = mm.GetKvStoreMeta("broken")
	assert.Equal(t, kvstore.Error, status)
}

func TestQueryByDeviceAndApp(t *testing.T) {
	mm := newTestManager(t, t.TempDir())
	putStoreMeta(t, mm, KvStoreMetaData{AppId: "one", BundleName: "one", StoreId: "s1", DeviceAccountId: "0"})
	putStoreMeta(t, mm, KvStoreMetaData{AppId: "two", BundleName: "two", StoreId: "s2", DeviceAccountId: "0"})

	md, status := mm.QueryKvStoreMetaDataByDeviceIdAndAppId(testDevice, "two")
	require.Equal(t, kvstore.Success, status)
	assert.Equal(t, "s2", md.StoreId)

	_, status = mm.QueryKvStoreMetaDataByDeviceIdAndAppId(testDevice, "three")
	assert.Equal(t, kvstore.Error, status)
	_, status = mm.QueryKvStoreMetaDataByDeviceIdAndAppId("other-device", "two")
	assert.Equal(t, kvstore.Error, status)
}

func TestRootKey(t *testing.T) {
	root := t.TempDir()
	mm := newTestManager(t, root)

	assert.Equal(t, kvstore.Error, mm.CheckRootKeyExist())
	require.Equal(t, kvstore.Success, mm.GenerateRootKey())
	assert.Equal(t, kvstore.Success, mm.CheckRootKeyExist())

	first, err := os.ReadFile(filepath.Join(root, "meta", rootKeyFile))
	require.NoError(t, err)

	// an existing root key is kept
	require.Equal(t, kvstore.Success, mm.GenerateRootKey())
	second, err := os.ReadFile(filepath.Join(root, "meta", rootKeyFile))
	require.NoError(t, err)
	assert.Equal(t, first, second)

	require.NoError(t, mm.Close())
	assert.Equal(t, kvstore.Success, newTestManager(t, root).CheckRootKeyExist())
}

func TestSecretKeyMetaRoundTrip(t *testing.T) {
	mm := newTestManager(t, t.TempDir())
	require.Equal(t, kvstore.Success, mm.GenerateRootKey())

	metaKey := mm.GetMetaKey("0", "default", "app", "store", SingleKeySuffix)
	_, _, status := mm.GetSecretKeyFromMeta(metaKey)
	assert.Equal(t, kvstore.DbError, status)

	key := crypto.GetRandomKey(SecretKeySize)
	require.Equal(t, kvstore.Success, mm.WriteSecretKeyToMeta(metaKey, key))

	raw, found, err := mm.local.Get(metaKey)
	require.NoError(t, err)
	require.True(t, found)
	assert.NotContains(t, string(raw), string(key))

	var record SecretKeyMetaData
	require.NoError(t, json.Unmarshal(raw, &record))
	assert.Equal(t, kvstore.SingleVersion, record.KvStoreType)

	got, outdated, status := mm.GetSecretKeyFromMeta(metaKey)
	require.Equal(t, kvstore.Success, status)
	assert.False(t, outdated)
	assert.Equal(t, key, got)
}

func TestSecretKeyOutdated(t *testing.T) {
	root := t.TempDir()
	now := time.Now()
	mm, err := NewKvStoreMetaManager(Options{
		MetaDir:       filepath.Join(root, "meta"),
		SecretKeyDir:  filepath.Join(root, "keys"),
		LocalDeviceId: func() string { return testDevice },
		Now:           func() time.Time { return now },
	})
	require.NoError(t, err)
	require.Equal(t, kvstore.Success, mm.GenerateRootKey())

	metaKey := mm.GetMetaKey("0", "default", "app", "store", MultiKeySuffix)
	require.Equal(t, kvstore.Success, mm.WriteSecretKeyToMeta(metaKey, crypto.GetRandomKey(SecretKeySize)))

	now = now.Add(366 * 24 * time.Hour)
	_, outdated, status := mm.GetSecretKeyFromMeta(metaKey)
	require.Equal(t, kvstore.Success, status)
	assert.True(t, outdated)
}

func TestSecretKeyUnsealFailureIsEmpty(t *testing.T) {
	mm := newTestManager(t, t.TempDir())
	require.Equal(t, kvstore.Success, mm.GenerateRootKey())

	record, err := json.Marshal(SecretKeyMetaData{Time: encodeTime(time.Now()), SecretKey: []byte("not sealed by this root key")})
	require.NoError(t, err)
	require.Equal(t, kvstore.Success, mm.CheckUpdateServiceMeta("SecretKey###x", UpdateLocal, record))

	key, _, status := mm.GetSecretKeyFromMeta("SecretKey###x")
	assert.Equal(t, kvstore.Success, status)
	assert.Empty(t, key)

	require.Equal(t, kvstore.Success, mm.CheckUpdateServiceMeta("SecretKey###y", UpdateLocal, []byte("{")))
	_, _, status = mm.GetSecretKeyFromMeta("SecretKey###y")
	assert.Equal(t, kvstore.Error, status)
}

func TestRecoverSecretKeyFromFile(t *testing.T) {
	mm := newTestManager(t, t.TempDir())
	require.Equal(t, kvstore.Success, mm.GenerateRootKey())

	file := mm.GetSecretKeyFile("0", "app", "store")
	metaKey := mm.GetMetaKey("0", "default", "app", "store", MultiKeySuffix)
	key := crypto.GetRandomKey(SecretKeySize)

	_, _, status := mm.RecoverSecretKeyFromFile(file, metaKey)
	assert.Equal(t, kvstore.Error, status)

	require.Equal(t, kvstore.Success, mm.WriteSecretKeyToFile(file, key))
	got, outdated, status := mm.RecoverSecretKeyFromFile(file, metaKey)
	require.Equal(t, kvstore.Success, status)
	assert.False(t, outdated)
	assert.Equal(t, key, got)

	// the meta copy was restored
	fromMeta, _, status := mm.GetSecretKeyFromMeta(metaKey)
	require.Equal(t, kvstore.Success, status)
	assert.Equal(t, key, fromMeta)

	require.NoError(t, os.WriteFile(file, []byte("short"), 0o600))
	_, _, status = mm.RecoverSecretKeyFromFile(file, metaKey)
	assert.Equal(t, kvstore.Error, status)
}

func TestRemoveSecretKey(t *testing.T) {
	mm := newTestManager(t, t.TempDir())
	require.Equal(t, kvstore.Success, mm.GenerateRootKey())

	key := crypto.GetRandomKey(SecretKeySize)
	multi := mm.GetMetaKey("0", "default", "app", "store", MultiKeySuffix)
	single := mm.GetMetaKey("0", "default", "app", "store", SingleKeySuffix)
	require.Equal(t, kvstore.Success, mm.WriteSecretKeyToMeta(multi, key))
	require.Equal(t, kvstore.Success, mm.WriteSecretKeyToMeta(single, key))
	require.Equal(t, kvstore.Success, mm.WriteSecretKeyToFile(mm.GetSecretKeyFile("0", "app", "store"), key))

	require.Equal(t, kvstore.Success, mm.RemoveSecretKey("0", "app", "store"))
	_, _, status := mm.GetSecretKeyFromMeta(multi)
	assert.Equal(t, kvstore.DbError, status)
	_, _, status = mm.GetSecretKeyFromMeta(single)
	assert.Equal(t, kvstore.DbError, status)
	_, err := os.Stat(mm.GetSecretKeyFile("0", "app", "store"))
	assert.True(t, os.IsNotExist(err))
}

func TestReKey(t *testing.T) {
	mm := newTestManager(t, t.TempDir())
	require.Equal(t, kvstore.Success, mm.GenerateRootKey())

	s := &fakeReKeyer{status: kvstore.Success}
	require.Equal(t, kvstore.Success, mm.ReKey("0", "app", "store", true, s))
	require.Len(t, s.got, SecretKeySize)

	got, _, status := mm.GetSecretKeyFromMeta(mm.GetMetaKey("0", "default", "app", "store", SingleKeySuffix))
	require.Equal(t, kvstore.Success, status)
	assert.Equal(t, s.got, got)
	_, err := os.Stat(mm.GetSecretSingleKeyFile("0", "app", "store"))
	assert.NoError(t, err)

	failing := &fakeReKeyer{status: kvstore.DbError}
	assert.Equal(t, kvstore.DbError, mm.ReKey("0", "app", "other", false, failing))
	_, err = os.Stat(mm.GetSecretKeyFile("0", "app", "other"))
	assert.True(t, os.IsNotExist(err), "key file must only be written after a successful rekey")
}

func TestGetFullMetaData(t *testing.T) {
	mm := newTestManager(t, t.TempDir())
	require.Equal(t, kvstore.Success, mm.GenerateRootKey())

	plain := putStoreMeta(t, mm, KvStoreMetaData{AppId: "app", BundleName: "app", StoreId: "plain", DeviceAccountId: "0", KvStoreType: kvstore.MultiVersion})
	enc := putStoreMeta(t, mm, KvStoreMetaData{AppId: "app", BundleName: "app", StoreId: "enc", DeviceAccountId: "0", KvStoreType: kvstore.SingleVersion, IsEncrypt: true})
	collab := putStoreMeta(t, mm, KvStoreMetaData{AppId: "app", BundleName: "app", StoreId: "collab", DeviceAccountId: "0", KvStoreType: kvstore.DeviceCollaboration, IsEncrypt: true})
	putStoreMeta(t, mm, KvStoreMetaData{AppId: "app", BundleName: "app", StoreId: "bad", DeviceAccountId: "0", KvStoreType: kvstore.InvalidType})

	key := crypto.GetRandomKey(SecretKeySize)
	require.Equal(t, kvstore.Success, mm.WriteSecretKeyToMeta(mm.GetMetaKey("0", "default", "app", "enc", SingleKeySuffix), key))
	// every store that is not multi version keeps its key under the single suffix
	collabKey := crypto.GetRandomKey(SecretKeySize)
	require.Equal(t, kvstore.Success, mm.WriteSecretKeyToMeta(mm.GetMetaKey("0", "default", "app", "collab", SingleKeySuffix), collabKey))

	all, ok := mm.GetFullMetaData()
	require.True(t, ok)
	require.Len(t, all, 3)
	assert.Equal(t, collabKey, all[collab].SecretKey)
	assert.Empty(t, all[plain].SecretKey)
	assert.Equal(t, key, all[enc].SecretKey)
	assert.Equal(t, kvstore.SingleVersion, all[enc].KvStoreType)
}

func TestInitMetaData(t *testing.T) {
	mm := newTestManager(t, t.TempDir())
	require.Equal(t, kvstore.Success, mm.InitMetaData())

	md, status := mm.GetKvStoreMeta(mm.GetMetaKey("0", "default", ServiceAppId, ServiceStoreId, ""))
	require.Equal(t, kvstore.Success, status)
	assert.Equal(t, ServiceStoreId, md.StoreId)
	assert.Equal(t, MetaVersion, md.Version)
	assert.Equal(t, kvstore.SingleVersion, md.KvStoreType)
	assert.Equal(t, int32(os.Getuid()), md.Uid)
}

func TestStrategy(t *testing.T) {
	mm := newTestManager(t, t.TempDir())
	putStoreMeta(t, mm, KvStoreMetaData{AppId: "app", BundleName: "app", StoreId: "store", DeviceAccountId: "0"})

	local := mm.GetStrategyMetaKey(StrategyKey{testDevice, "0", "default", "app", "store"})
	remote := mm.GetStrategyMetaKey(StrategyKey{"device-b", "0", "default", "app", "store"})

	// no strategy on either side
	assert.Equal(t, kvstore.Success, mm.CheckSyncPermission("u", "app", "store", 0, "device-b"))
	assert.Equal(t, kvstore.Error, mm.CheckSyncPermission("u", "unknown", "store", 0, "device-b"))

	require.Equal(t, kvstore.Success, mm.SaveStrategyMetaEnable(local, true))
	labels, status := mm.GetStrategyMeta(local)
	require.Equal(t, kvstore.Success, status)
	assert.Empty(t, labels)

	require.Equal(t, kvstore.Success, mm.SaveStrategyMetaLabels(local, []string{"a"}, []string{"x"}))
	require.Equal(t, kvstore.Success, mm.SaveStrategyMetaLabels(remote, []string{"y"}, []string{"a"}))
	assert.Equal(t, kvstore.Error, mm.CheckSyncPermission("u", "app", "store", 0, "device-b"))

	require.Equal(t, kvstore.Success, mm.SaveStrategyMetaLabels(remote, []string{"y", "x"}, nil))
	assert.Equal(t, kvstore.Success, mm.CheckSyncPermission("u", "app", "store", 0, "device-b"))

	// enabling keeps the labels
	require.Equal(t, kvstore.Success, mm.SaveStrategyMetaEnable(local, false))
	labels, _ = mm.GetStrategyMeta(local)
	assert.Equal(t, []string{"a"}, labels["localLabel"])

	require.Equal(t, kvstore.Success, mm.DeleteStrategyMeta("app", "store"))
	labels, _ = mm.GetStrategyMeta(local)
	assert.Empty(t, labels)
	labels, _ = mm.GetStrategyMeta(remote)
	assert.Empty(t, labels)
}

func TestDirtyListener(t *testing.T) {
	mm := newTestManager(t, t.TempDir())

	var calls atomic.Int32
	mm.SubscribeMetaKvStore(func(md KvStoreMetaData) {
		if md.StoreId == "dirty" {
			calls.Add(1)
		}
	})

	putStoreMeta(t, mm, KvStoreMetaData{AppId: "app", BundleName: "app", StoreId: "clean", AppType: HarmonyAppType})
	putStoreMeta(t, mm, KvStoreMetaData{AppId: "app", BundleName: "app", StoreId: "other", AppType: DefaultAppType, IsDirty: true})
	assert.Equal(t, int32(0), calls.Load())

	putStoreMeta(t, mm, KvStoreMetaData{AppId: "app", BundleName: "app", StoreId: "dirty", AppType: HarmonyAppType, IsDirty: true})
	assert.Equal(t, int32(1), calls.Load())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		mm.WatchDirtyMeta(ctx, 10*time.Millisecond)
		close(done)
	}()
	assert.Eventually(t, func() bool { return calls.Load() > 1 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}
