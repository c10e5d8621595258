package kvstore

import "fmt"

// --------------------------------------------------------------------------
// Store Options
// --------------------------------------------------------------------------

// KvStoreType selects the store flavour.
type KvStoreType int

const (
	DeviceCollaboration KvStoreType = iota
	SingleVersion
	MultiVersion
	InvalidType
)

func (t KvStoreType) String() string {
	switch t {
	case DeviceCollaboration:
		return "DEVICE_COLLABORATION"
	case SingleVersion:
		return "SINGLE_VERSION"
	case MultiVersion:
		return "MULTI_VERSION"
	default:
		return fmt.Sprintf("INVALID_TYPE(%d)", int(t))
	}
}

// SecurityLevel is the data protection label of a store.
type SecurityLevel int

const (
	NoLabel SecurityLevel = iota
	S0
	S1
	S2
	S3Ex
	S3
	S4
)

func (l SecurityLevel) String() string {
	switch l {
	case NoLabel:
		return "NO_LABEL"
	case S0:
		return "S0"
	case S1:
		return "S1"
	case S2:
		return "S2"
	case S3Ex:
		return "S3_EX"
	case S3:
		return "S3"
	case S4:
		return "S4"
	default:
		return fmt.Sprintf("LEVEL(%d)", int(l))
	}
}

// Options are passed by clients when opening a store.
type Options struct {
	CreateIfMissing bool          `json:"createIfMissing"`
	Encrypt         bool          `json:"encrypt"`
	Backup          bool          `json:"backup"`
	AutoSync        bool          `json:"autoSync"`
	SecurityLevel   SecurityLevel `json:"securityLevel"`
	KvStoreType     KvStoreType   `json:"kvStoreType"`
	Schema          string        `json:"schema"`
}

// DefaultOptions returns the options a client gets without customizing anything.
func DefaultOptions() Options {
	return Options{
		CreateIfMissing: true,
		Backup:          true,
		AutoSync:        true,
		KvStoreType:     SingleVersion,
	}
}

// AppId is the bundle name of the requesting application.
type AppId string

// StoreId names a store inside an application.
type StoreId string

// Entry is a single key value pair of a store.
type Entry struct {
	Key   string `json:"key"`
	Value []byte `json:"value"`
}

// --------------------------------------------------------------------------
// Devices
// --------------------------------------------------------------------------

// DeviceInfo describes a device known to the communication provider.
type DeviceInfo struct {
	DeviceId   string `json:"deviceId"`
	DeviceName string `json:"deviceName"`
	DeviceType string `json:"deviceType"`
}

// DeviceFilterStrategy is accepted for compatibility, both strategies return all devices.
type DeviceFilterStrategy int

const (
	Filter DeviceFilterStrategy = iota
	NoFilter
)

// DeviceChangeType is the transition reported to device listeners.
type DeviceChangeType int

const (
	DeviceOffline DeviceChangeType = iota
	DeviceOnline
)

func (t DeviceChangeType) String() string {
	if t == DeviceOnline {
		return "DEVICE_ONLINE"
	}
	return "DEVICE_OFFLINE"
}

// IDeviceStatusChangeListener receives online/offline transitions of remote devices.
// Implementations must be comparable (e.g. pointer types), they are used as registry keys.
type IDeviceStatusChangeListener interface {
	OnChange(info DeviceInfo, changeType DeviceChangeType)
}
