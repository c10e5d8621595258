package meta

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ValentinKolb/kvds/lib/crypto"
	"github.com/ValentinKolb/kvds/lib/db"
	"github.com/ValentinKolb/kvds/lib/db/engines/maple"
	"github.com/ValentinKolb/kvds/lib/db/util"
	"github.com/ValentinKolb/kvds/lib/kvstore"
	"github.com/ValentinKolb/kvds/lib/store"
	"github.com/ValentinKolb/kvds/lib/store/lstore"
	"github.com/cockroachdb/errors"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("meta")

const (
	syncFileName  = "meta.db"
	localFileName = "meta.local.db"
	rootKeyFile   = "root.key"
	backupSuffix  = ".bak"
)

// Options configure a meta manager.
type Options struct {
	// MetaDir holds the meta store files and the root key.
	MetaDir string
	// SecretKeyDir is the root below which secret key files are written
	// (<SecretKeyDir>/<deviceAccountId>/default/<appId>/<hash>.mul.key).
	SecretKeyDir string
	// BackupDir receives a copy of the meta store after every update. Empty disables the copy.
	BackupDir string
	// SyncStore holds the synchronized records. nil keeps them in a local store persisted in MetaDir.
	SyncStore store.IStore
	// LocalDeviceId returns the id of this device.
	LocalDeviceId func() string
	// Now is the clock used for key ages (default time.Now).
	Now func() time.Time
}

type managerImpl struct {
	opts      Options
	syncStore store.IStore
	local     lstore.ILocalStore

	persistMu sync.Mutex

	rootKeyMu sync.Mutex
	rootKey   []byte

	listenerMu sync.RWMutex
	listeners  []func(KvStoreMetaData)
}

func newLocalStore() lstore.ILocalStore {
	return lstore.NewLocalStore(func() db.KVDB { return maple.NewMapleDB(nil) })
}

// NewKvStoreMetaManager opens the meta store described by opts.
// Persisted meta files are restored, a damaged file is replaced by its backup copy.
func NewKvStoreMetaManager(opts Options) (IKvStoreMetaManager, error) {
	if opts.MetaDir == "" {
		return nil, errors.New("meta directory is required")
	}
	if opts.LocalDeviceId == nil {
		return nil, errors.New("local device id provider is required")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if err := os.MkdirAll(opts.MetaDir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create meta directory %s", opts.MetaDir)
	}

	m := &managerImpl{opts: opts, local: newLocalStore()}
	if err := m.restore(m.local, localFileName); err != nil {
		return nil, err
	}

	if opts.SyncStore != nil {
		m.syncStore = opts.SyncStore
	} else {
		s := newLocalStore()
		if err := m.restore(s, syncFileName); err != nil {
			return nil, err
		}
		m.syncStore = s
	}
	return m, nil
}

// --------------------------------------------------------------------------
// Persistence
// --------------------------------------------------------------------------

// restore loads fileName from the meta dir, falling back to the backup copy.
func (m *managerImpl) restore(s store.ISnapshotter, fileName string) error {
	primary := filepath.Join(m.opts.MetaDir, fileName)
	candidates := []string{primary}
	if m.opts.BackupDir != "" {
		candidates = append(candidates, filepath.Join(m.opts.BackupDir, fileName+backupSuffix))
	}

	var lastErr error
	for _, path := range candidates {
		raw, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			continue
		}
		if err == nil {
			err = s.Restore(bytes.NewReader(raw))
		}
		if err == nil {
			if path != primary {
				log.Warningf("meta file %s restored from backup %s", fileName, path)
			}
			return nil
		}
		log.Errorf("restore meta file %s failed: %v", path, err)
		lastErr = err
	}
	if lastErr != nil {
		return errors.Wrapf(lastErr, "restore meta file %s", fileName)
	}
	return nil
}

func snapshotBytes(s store.ISnapshotter) ([]byte, error) {
	var buf bytes.Buffer
	if err := s.Snapshot(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// flush writes the local stores to MetaDir, and to BackupDir if withBackup is set.
func (m *managerImpl) flush(withBackup bool) error {
	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	targets := map[string]store.ISnapshotter{localFileName: m.local}
	if s, ok := m.syncStore.(store.ISnapshotter); ok && m.opts.SyncStore == nil {
		targets[syncFileName] = s
	}

	for name, s := range targets {
		data, err := snapshotBytes(s)
		if err != nil {
			return errors.Wrapf(err, "snapshot %s", name)
		}
		if err := util.WriteFileAtomic(filepath.Join(m.opts.MetaDir, name), data); err != nil {
			return err
		}
		if withBackup && m.opts.BackupDir != "" {
			if err := util.WriteFileAtomic(filepath.Join(m.opts.BackupDir, name+backupSuffix), data); err != nil {
				log.Warningf("backup meta file %s failed: %v", name, err)
			}
		}
	}
	return nil
}

func (m *managerImpl) SyncMeta() {
	if err := m.flush(false); err != nil {
		log.Errorf("sync meta failed: %v", err)
	}
}

func (m *managerImpl) SyncStore() store.IStore { return m.syncStore }

func (m *managerImpl) Close() error {
	return m.flush(false)
}

// --------------------------------------------------------------------------
// Keys and files
// --------------------------------------------------------------------------

func (m *managerImpl) LocalDeviceId() string {
	return m.opts.LocalDeviceId()
}

func (m *managerImpl) GetMetaKey(deviceAccountId, groupId, bundleName, storeId, key string) string {
	if key == "" {
		return JoinKey(KvStoreMetaPrefix, m.LocalDeviceId(), deviceAccountId, groupId, bundleName, storeId)
	}
	return JoinKey(SecretKeyPrefix, deviceAccountId, groupId, bundleName, storeId, key)
}

func (m *managerImpl) secretKeyBase(deviceAccountId, appId, storeId string) string {
	return filepath.Join(m.opts.SecretKeyDir, deviceAccountId, defaultHarmonyAccountName, appId, crypto.Sha256(storeId))
}

func (m *managerImpl) GetSecretKeyFile(deviceAccountId, appId, storeId string) string {
	return m.secretKeyBase(deviceAccountId, appId, storeId) + ".mul.key"
}

func (m *managerImpl) GetSecretSingleKeyFile(deviceAccountId, appId, storeId string) string {
	return m.secretKeyBase(deviceAccountId, appId, storeId) + ".sig.key"
}

func (m *managerImpl) GetStrategyMetaKey(p StrategyKey) string {
	return JoinKey(StrategyMetaPrefix, p.DeviceId, p.DeviceAccountId, p.GroupId, p.BundleName, p.StoreId)
}

// --------------------------------------------------------------------------
// Records
// --------------------------------------------------------------------------

func (m *managerImpl) CheckUpdateServiceMeta(metaKey string, flag Flag, value []byte) kvstore.Status {
	s := m.syncStore
	if flag.local() {
		s = m.local
	}

	var err error
	found := true
	switch flag {
	case Update, UpdateLocal:
		err = s.Set(metaKey, value)
	case Delete, DeleteLocal:
		err = s.Delete(metaKey)
	case CheckExist, CheckExistLocal:
		_, found, err = s.Get(metaKey)
	default:
		err = errors.Newf("unknown flag %d", flag)
	}
	log.Debugf("flag %s on %s: found=%v err=%v", flag, metaKey, found, err)

	if err == nil && flag != CheckExist && flag != CheckExistLocal {
		if ferr := m.flush(true); ferr != nil {
			log.Errorf("persist meta failed: %v", ferr)
		}
	}

	if err != nil || !found {
		return kvstore.DbError
	}
	if flag == Update {
		m.notifyIfDirty(metaKey, value)
	}
	return kvstore.Success
}

func (m *managerImpl) GetKvStoreMeta(metaKey string) (KvStoreMetaData, kvstore.Status) {
	var md KvStoreMetaData
	raw, found, err := m.syncStore.Get(metaKey)
	if err != nil {
		log.Errorf("get meta %s failed: %v", metaKey, err)
		return md, kvstore.DbError
	}
	if !found {
		return md, kvstore.KeyNotFound
	}
	if err := json.Unmarshal(raw, &md); err != nil {
		log.Errorf("decode meta %s failed: %v", metaKey, err)
		return md, kvstore.Error
	}
	return md, kvstore.Success
}

func (m *managerImpl) ScanMeta(prefix string) ([]db.KeyValue, kvstore.Status) {
	entries, err := m.syncStore.Scan(prefix)
	if err != nil {
		log.Errorf("scan meta %s failed: %v", prefix, err)
		return nil, kvstore.DbError
	}
	return entries, kvstore.Success
}

func (m *managerImpl) QueryKvStoreMetaDataByDeviceIdAndAppId(deviceId, appId string) (KvStoreMetaData, kvstore.Status) {
	entries, status := m.ScanMeta(JoinKey(KvStoreMetaPrefix, deviceId))
	if status != kvstore.Success {
		return KvStoreMetaData{}, kvstore.Error
	}
	for _, e := range entries {
		var md KvStoreMetaData
		if err := json.Unmarshal(e.Value, &md); err != nil {
			continue
		}
		if md.AppId == appId {
			return md, kvstore.Success
		}
	}
	log.Debugf("no meta for app %s on device %q", appId, deviceId)
	return KvStoreMetaData{}, kvstore.Error
}

func (m *managerImpl) GetFullMetaData() (map[string]MetaData, bool) {
	entries, status := m.ScanMeta(KvStoreMetaPrefix + Separator)
	if status != kvstore.Success {
		return nil, false
	}

	result := make(map[string]MetaData, len(entries))
	for _, e := range entries {
		var md KvStoreMetaData
		if err := json.Unmarshal(e.Value, &md); err != nil || md.KvStoreType >= kvstore.InvalidType || md.KvStoreType < 0 {
			log.Warningf("skip invalid meta record %s", e.Key)
			continue
		}

		entry := MetaData{KvStoreType: md.KvStoreType, KvStoreMetaData: md}
		if md.IsEncrypt {
			suffix := MultiKeySuffix
			if md.KvStoreType != kvstore.MultiVersion {
				suffix = SingleKeySuffix
			}
			key, _, st := m.GetSecretKeyFromMeta(m.GetMetaKey(md.DeviceAccountId, "default", md.BundleName, md.StoreId, suffix))
			if st != kvstore.Success || len(key) == 0 {
				log.Warningf("no secret key for encrypted store %s", md.StoreId)
				continue
			}
			entry.SecretKey = key
		}
		result[e.Key] = entry
	}
	return result, true
}

func (m *managerImpl) InitMetaData() kvstore.Status {
	md := KvStoreMetaData{
		AppId:           ServiceAppId,
		AppType:         DefaultAppType,
		BundleName:      ServiceAppId,
		DataDir:         m.opts.MetaDir,
		DeviceAccountId: "0",
		DeviceId:        m.LocalDeviceId(),
		KvStoreType:     kvstore.SingleVersion,
		StoreId:         ServiceStoreId,
		UserId:          "default",
		Uid:             int32(os.Getuid()),
		Version:         MetaVersion,
		SecurityLevel:   kvstore.NoLabel,
	}
	value, err := json.Marshal(md)
	if err != nil {
		return kvstore.Error
	}
	if err := m.syncStore.Set(m.GetMetaKey(md.DeviceAccountId, "default", ServiceAppId, ServiceStoreId, ""), value); err != nil {
		log.Errorf("init meta data failed: %v", err)
		return kvstore.DbError
	}
	m.SyncMeta()
	return kvstore.Success
}
