package appmgr

import (
	"strings"
	"sync/atomic"

	"github.com/ValentinKolb/kvds/lib/account"
	"github.com/ValentinKolb/kvds/lib/backup"
	"github.com/ValentinKolb/kvds/lib/crypto"
	"github.com/ValentinKolb/kvds/lib/delegate"
	"github.com/ValentinKolb/kvds/lib/kvstore"
	"github.com/ValentinKolb/kvds/lib/layout"
	"github.com/ValentinKolb/kvds/lib/meta"
	"github.com/cockroachdb/errors"
)

// Importer is implemented by every handle this package returns.
type Importer interface {
	// Import replaces the content of the store with its last backup.
	Import() bool
}

// storeImpl is the state shared by single and multi version handles.
type storeImpl struct {
	options         kvstore.Options
	deviceAccountId string
	bundleName      string
	storeId         string
	pathType        layout.PathType

	dbp       atomic.Pointer[delegate.Store]
	openCount atomic.Int32

	meta   meta.IKvStoreMetaManager
	backup *backup.Handler
}

// db returns the engine handle, it is replaced when the store migrates.
func (s *storeImpl) db() *delegate.Store { return s.dbp.Load() }

func (s *storeImpl) GetStoreId() kvstore.StoreId { return kvstore.StoreId(s.storeId) }

func (s *storeImpl) single() bool { return s.options.KvStoreType != kvstore.MultiVersion }

func (s *storeImpl) Put(key string, value []byte) kvstore.Status {
	key = strings.TrimSpace(key)
	if key == "" || len(key) > delegate.MaxKeyLength || len(value) > delegate.MaxValueLength {
		return kvstore.InvalidArgument
	}
	return s.recoverIfCorrupted(dbStatus(s.db().Put(key, value)))
}

func (s *storeImpl) PutBatch(entries []kvstore.Entry) kvstore.Status {
	trimmed := make([]kvstore.Entry, 0, len(entries))
	for _, e := range entries {
		key := strings.TrimSpace(e.Key)
		if key == "" || len(key) > delegate.MaxKeyLength || len(e.Value) > delegate.MaxValueLength {
			return kvstore.InvalidArgument
		}
		trimmed = append(trimmed, kvstore.Entry{Key: key, Value: e.Value})
	}
	return s.recoverIfCorrupted(dbStatus(s.db().PutBatch(trimmed)))
}

func (s *storeImpl) Get(key string) ([]byte, kvstore.Status) {
	key = strings.TrimSpace(key)
	if key == "" || len(key) > delegate.MaxKeyLength {
		return nil, kvstore.InvalidArgument
	}
	value, err := s.db().Get(key)
	return value, dbStatus(err)
}

func (s *storeImpl) Delete(key string) kvstore.Status {
	key = strings.TrimSpace(key)
	if key == "" || len(key) > delegate.MaxKeyLength {
		return kvstore.InvalidArgument
	}
	return dbStatus(s.db().Delete(key))
}

func (s *storeImpl) DeleteBatch(keys []string) kvstore.Status {
	trimmed := make([]string, 0, len(keys))
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" || len(k) > delegate.MaxKeyLength {
			return kvstore.InvalidArgument
		}
		trimmed = append(trimmed, k)
	}
	return dbStatus(s.db().DeleteBatch(trimmed))
}

func (s *storeImpl) GetEntries(prefix string) ([]kvstore.Entry, kvstore.Status) {
	entries, err := s.db().GetEntries(strings.TrimSpace(prefix))
	return entries, dbStatus(err)
}

// ReKey replaces the secret key of the store file.
func (s *storeImpl) ReKey(key []byte) kvstore.Status {
	if err := s.db().Rekey(key); err != nil {
		log.Errorf("rekey of %s/%s failed: %v", s.bundleName, s.storeId, err)
		return kvstore.Error
	}
	return kvstore.Success
}

func (s *storeImpl) Import() bool {
	md := meta.MetaData{
		KvStoreType: s.options.KvStoreType,
		KvStoreMetaData: meta.KvStoreMetaData{
			AppId:           s.bundleName,
			BundleName:      s.bundleName,
			DeviceAccountId: s.deviceAccountId,
			IsEncrypt:       s.options.Encrypt,
			KvStoreType:     s.options.KvStoreType,
			StoreId:         s.storeId,
			UserId:          account.DefaultGroupId,
			SecurityLevel:   s.options.SecurityLevel,
		},
	}
	if s.options.Encrypt {
		suffix := meta.MultiKeySuffix
		if s.single() {
			suffix = meta.SingleKeySuffix
		}
		key, _, status := s.meta.GetSecretKeyFromMeta(
			s.meta.GetMetaKey(s.deviceAccountId, account.DefaultGroupId, s.bundleName, s.storeId, suffix))
		if status != kvstore.Success || len(key) == 0 {
			log.Errorf("import of %s/%s: secret key unavailable", s.bundleName, s.storeId)
			return false
		}
		defer crypto.Zero(key)
		md.SecretKey = key
	}
	if s.single() {
		return s.backup.SingleKvStoreRecover(md, s.db())
	}
	return s.backup.MultiKvStoreRecover(md, s.db())
}

// recoverIfCorrupted restores the store from its backup when the engine reports a damaged file.
func (s *storeImpl) recoverIfCorrupted(status kvstore.Status) kvstore.Status {
	if status != kvstore.CryptError {
		return status
	}
	if s.Import() {
		return kvstore.RecoverSuccess
	}
	return kvstore.RecoverFailed
}

func (s *storeImpl) strategyKey() string {
	return s.meta.GetStrategyMetaKey(meta.StrategyKey{
		DeviceId:        s.meta.LocalDeviceId(),
		DeviceAccountId: s.deviceAccountId,
		GroupId:         account.DefaultGroupId,
		BundleName:      s.bundleName,
		StoreId:         s.storeId,
	})
}

// dbStatus maps engine errors of data operations to statuses.
func dbStatus(err error) kvstore.Status {
	switch {
	case err == nil:
		return kvstore.Success
	case errors.Is(err, delegate.ErrKeyNotFound):
		return kvstore.KeyNotFound
	case errors.Is(err, delegate.ErrInvalidArgs):
		return kvstore.InvalidArgument
	case errors.Is(err, delegate.ErrAlreadyClosed):
		return kvstore.StoreNotOpen
	case errors.Is(err, delegate.ErrInvalidPasswdOrCorrupted):
		return kvstore.CryptError
	default:
		return kvstore.DbError
	}
}

// --------------------------------------------------------------------------
// Handles
// --------------------------------------------------------------------------

// KvStore is the handle of a multi version store.
type KvStore struct {
	*storeImpl
}

// SingleKvStore is the handle of a single version or device collaboration store.
type SingleKvStore struct {
	*storeImpl
}

func (s *SingleKvStore) SetCapabilityEnabled(enabled bool) kvstore.Status {
	return s.meta.SaveStrategyMetaEnable(s.strategyKey(), enabled)
}

func (s *SingleKvStore) SetCapabilityRange(localLabels, remoteLabels []string) kvstore.Status {
	return s.meta.SaveStrategyMetaLabels(s.strategyKey(), localLabels, remoteLabels)
}

func (s *SingleKvStore) GetSecurityLevel() (kvstore.SecurityLevel, kvstore.Status) {
	return s.db().SecurityLevel(), kvstore.Success
}

var (
	_ kvstore.IKvStore       = (*KvStore)(nil)
	_ kvstore.ISingleKvStore = (*SingleKvStore)(nil)
	_ meta.ReKeyer           = (*KvStore)(nil)
	_ meta.ReKeyer           = (*SingleKvStore)(nil)
	_ Importer               = (*SingleKvStore)(nil)
)
