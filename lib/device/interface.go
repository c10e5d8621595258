package device

import (
	"github.com/ValentinKolb/kvds/lib/crypto"
)

// BasicInfo describes a device known to the communication provider.
type BasicInfo struct {
	DeviceId   string `json:"deviceId"`
	DeviceName string `json:"deviceName"`
	DeviceType string `json:"deviceType"`
}

// ChangeType is a device state transition reported by a provider.
type ChangeType int

const (
	Online ChangeType = iota
	Offline
)

func (c ChangeType) String() string {
	if c == Online {
		return "online"
	}
	return "offline"
}

// PipeInfo names the channel an observer watches.
type PipeInfo struct {
	PipeId string
}

// ChangeObserver is notified about devices going online or offline.
type ChangeObserver interface {
	OnDeviceChanged(info BasicInfo, change ChangeType)
}

// ICommunicationProvider discovers the devices of the network.
type ICommunicationProvider interface {
	// GetLocalBasicInfo returns this device.
	GetLocalBasicInfo() BasicInfo

	// GetRemoteNodesBasicInfo returns every other device that is currently online.
	GetRemoteNodesBasicInfo() []BasicInfo

	// StartWatchDeviceChange registers observer for state changes of remote devices.
	StartWatchDeviceChange(observer ChangeObserver, pipe PipeInfo) error

	// StopWatchDeviceChange removes an observer.
	StopWatchDeviceChange(observer ChangeObserver, pipe PipeInfo) error

	// ToNodeID converts a device id into the node id handed to clients.
	ToNodeID(deviceId string) string

	Close() error
}

// NodeID derives the node id of a device: the first 16 hex characters of the SHA-256 of its id.
func NodeID(deviceId string) string {
	if deviceId == "" {
		return ""
	}
	return crypto.Sha256(deviceId)[:16]
}
