package meta

import (
	"context"
	"time"

	"github.com/ValentinKolb/kvds/lib/db"
	"github.com/ValentinKolb/kvds/lib/kvstore"
	"github.com/ValentinKolb/kvds/lib/store"
)

// ReKeyer is a store whose secret key can be replaced.
type ReKeyer interface {
	ReKey(key []byte) kvstore.Status
}

// IKvStoreMetaManager persists store metadata, secret keys and sync strategies.
//
// Records come in two kinds: synchronized records (store metadata, strategies) that are
// shared with the other devices, and local records (secret keys, root key marker) that
// never leave the device.
type IKvStoreMetaManager interface {

	// --------------------------------------------------------------------------
	// Keys and files
	// --------------------------------------------------------------------------

	// GetMetaKey returns the KvStoreMetaData key of a store if key is empty,
	// otherwise the SecretKey record key with key as suffix (MultiKeySuffix or SingleKeySuffix).
	GetMetaKey(deviceAccountId, groupId, bundleName, storeId, key string) string

	// GetSecretKeyFile returns the key file of a multi version store.
	GetSecretKeyFile(deviceAccountId, appId, storeId string) string

	// GetSecretSingleKeyFile returns the key file of a single version store.
	GetSecretSingleKeyFile(deviceAccountId, appId, storeId string) string

	// GetStrategyMetaKey returns the key of a strategy record.
	GetStrategyMetaKey(params StrategyKey) string

	// LocalDeviceId returns the id of this device.
	LocalDeviceId() string

	// --------------------------------------------------------------------------
	// Records
	// --------------------------------------------------------------------------

	// CheckUpdateServiceMeta writes, deletes or checks a record depending on flag.
	// Any failure (including a missing key for the check flags) is reported as DbError.
	CheckUpdateServiceMeta(metaKey string, flag Flag, value []byte) kvstore.Status

	// GetKvStoreMeta reads a KvStoreMetaData record, KeyNotFound if it does not exist.
	GetKvStoreMeta(metaKey string) (KvStoreMetaData, kvstore.Status)

	// QueryKvStoreMetaDataByDeviceIdAndAppId returns the first store record of appId on deviceId.
	QueryKvStoreMetaDataByDeviceIdAndAppId(deviceId, appId string) (KvStoreMetaData, kvstore.Status)

	// GetFullMetaData returns every store record keyed by its meta key, with decrypted secret keys.
	GetFullMetaData() (map[string]MetaData, bool)

	// ScanMeta returns all synchronized records starting with prefix.
	ScanMeta(prefix string) ([]db.KeyValue, kvstore.Status)

	// InitMetaData writes the record describing the meta store itself.
	InitMetaData() kvstore.Status

	// --------------------------------------------------------------------------
	// Secret keys
	// --------------------------------------------------------------------------

	// GenerateRootKey creates the root key that seals all work keys.
	GenerateRootKey() kvstore.Status

	// CheckRootKeyExist returns Success if a usable root key exists.
	CheckRootKeyExist() kvstore.Status

	// WriteSecretKeyToMeta stores key (sealed) in the local record metaKey.
	WriteSecretKeyToMeta(metaKey string, key []byte) kvstore.Status

	// WriteSecretKeyToFile stores key (sealed) in file, prefixed by the creation time.
	WriteSecretKeyToFile(file string, key []byte) kvstore.Status

	// GetSecretKeyFromMeta reads a key from the meta store. outdated is set for keys older than a year.
	// A record that cannot be unsealed yields an empty key with Success.
	GetSecretKeyFromMeta(metaKey string) (key []byte, outdated bool, status kvstore.Status)

	// RecoverSecretKeyFromFile reads a key from its file and restores the meta copy.
	RecoverSecretKeyFromFile(file, metaKey string) (key []byte, outdated bool, status kvstore.Status)

	// RemoveSecretKey deletes both meta copies and both key files of a store.
	RemoveSecretKey(deviceAccountId, bundleName, storeId string) kvstore.Status

	// ReKey replaces the secret key of an open store with a fresh one.
	ReKey(deviceAccountId, bundleName, storeId string, single bool, store ReKeyer) kvstore.Status

	// --------------------------------------------------------------------------
	// Strategies
	// --------------------------------------------------------------------------

	SaveStrategyMetaEnable(key string, enable bool) kvstore.Status
	SaveStrategyMetaLabels(key string, localLabels, remoteLabels []string) kvstore.Status
	DeleteStrategyMeta(bundleName, storeId string) kvstore.Status
	GetStrategyMeta(key string) (map[string][]string, kvstore.Status)

	// CheckSyncPermission checks whether the labels of the local and the remote store match.
	CheckSyncPermission(userId, appId, storeId string, flag uint8, deviceId string) kvstore.Status

	// --------------------------------------------------------------------------
	// Lifecycle
	// --------------------------------------------------------------------------

	// SubscribeMetaKvStore registers fn for dirty harmony store records.
	SubscribeMetaKvStore(fn func(KvStoreMetaData))

	// WatchDirtyMeta scans for dirty store records every interval until ctx is done.
	// Records written by other devices are only noticed by this scan.
	WatchDirtyMeta(ctx context.Context, interval time.Duration)

	// SyncMeta flushes the meta store to disk.
	SyncMeta()

	// SyncStore returns the store holding the synchronized records.
	// Writes that bypass the manager are not persisted by it.
	SyncStore() store.IStore

	// Close flushes and releases the meta store.
	Close() error
}
