package meta

import (
	"strings"

	"github.com/ValentinKolb/kvds/lib/kvstore"
)

const (
	Separator          = "###"
	KvStoreMetaPrefix  = "KvStoreMetaData"
	SecretKeyPrefix    = "SecretKey"
	StrategyMetaPrefix = "StrategyMetaData"

	// MultiKeySuffix and SingleKeySuffix select the secret key record of a store variant.
	MultiKeySuffix  = "KEY"
	SingleKeySuffix = "SINGLE_KEY"

	HarmonyAppType = "harmony"
	DefaultAppType = "default"

	// MetaVersion is written into every KvStoreMetaData record.
	MetaVersion uint32 = 1

	// ServiceAppId and ServiceStoreId describe the meta store itself.
	ServiceAppId   = "distributeddata"
	ServiceStoreId = "service_meta"

	SecretKeySize = 32

	rootKeyMarker             = "RootKeyGenerated"
	defaultHarmonyAccountName = "default"
)

// Flag selects the operation of CheckUpdateServiceMeta.
// The *Local variants work on device local records that are never synchronized.
type Flag int

const (
	Update Flag = iota
	Delete
	CheckExist
	UpdateLocal
	DeleteLocal
	CheckExistLocal
)

func (f Flag) String() string {
	switch f {
	case Update:
		return "UPDATE"
	case Delete:
		return "DELETE"
	case CheckExist:
		return "CHECK_EXIST"
	case UpdateLocal:
		return "UPDATE_LOCAL"
	case DeleteLocal:
		return "DELETE_LOCAL"
	case CheckExistLocal:
		return "CHECK_EXIST_LOCAL"
	default:
		return "UNKNOWN"
	}
}

func (f Flag) local() bool {
	return f == UpdateLocal || f == DeleteLocal || f == CheckExistLocal
}

// --------------------------------------------------------------------------
// Records
// --------------------------------------------------------------------------

// KvStoreMetaData describes one store. It is written on every successful open.
type KvStoreMetaData struct {
	AppId           string                `json:"appId"`
	AppType         string                `json:"appType"`
	BundleName      string                `json:"bundleName"`
	DataDir         string                `json:"dataDir"`
	DeviceAccountId string                `json:"deviceAccountId"`
	DeviceId        string                `json:"deviceId"`
	IsAutoSync      bool                  `json:"isAutoSync"`
	IsBackup        bool                  `json:"isBackup"`
	IsEncrypt       bool                  `json:"isEncrypt"`
	KvStoreType     kvstore.KvStoreType   `json:"kvStoreType"`
	Schema          string                `json:"schema"`
	StoreId         string                `json:"storeId"`
	UserId          string                `json:"userId"`
	Uid             int32                 `json:"UID"`
	Version         uint32                `json:"version"`
	SecurityLevel   kvstore.SecurityLevel `json:"securityLevel"`
	IsDirty         bool                  `json:"isDirty"`
}

// SecretKeyMetaData is the meta copy of a store secret.
// SecretKey holds the work key sealed with the root key, never the plain key.
type SecretKeyMetaData struct {
	Time        []byte              `json:"time"`
	SecretKey   []byte              `json:"skey"`
	KvStoreType kvstore.KvStoreType `json:"kvStoreType"`
}

// CapabilityRange lists sync labels. A nil slice means the label list is not configured.
type CapabilityRange struct {
	LocalLabel  []string `json:"localLabel"`
	RemoteLabel []string `json:"remoteLabel"`
}

// StrategyMeta is the sync capability configuration of a store.
type StrategyMeta struct {
	CapabilityEnabled bool             `json:"capabilityEnabled"`
	CapabilityRange   *CapabilityRange `json:"capabilityRange,omitempty"`
}

// StrategyKey identifies the strategy record of a store on a device.
type StrategyKey struct {
	DeviceId        string
	DeviceAccountId string
	GroupId         string
	BundleName      string
	StoreId         string
}

// MetaData is a store record together with its plain secret key (if encrypted).
type MetaData struct {
	KvStoreType     kvstore.KvStoreType
	KvStoreMetaData KvStoreMetaData
	SecretKey       []byte
}

// --------------------------------------------------------------------------
// Keys
// --------------------------------------------------------------------------

// JoinKey concatenates parts with the meta key separator.
func JoinKey(parts ...string) string {
	return strings.Join(parts, Separator)
}

// StoreIdFromMetaKey returns the last component of a meta key.
func StoreIdFromMetaKey(key string) string {
	if i := strings.LastIndex(key, Separator); i >= 0 {
		return key[i+len(Separator):]
	}
	return key
}
