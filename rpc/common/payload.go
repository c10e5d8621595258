package common

import (
	"encoding/json"

	"github.com/ValentinKolb/kvds/lib/kvstore"
)

// --------------------------------------------------------------------------
// JSON payloads carried in Message.Value
// --------------------------------------------------------------------------

// DeviceEvent is one queued device transition, returned by PollDeviceEvents.
type DeviceEvent struct {
	Device kvstore.DeviceInfo       `json:"device"`
	Change kvstore.DeviceChangeType `json:"change"`
}

// CapabilityRange is the payload of StoreSetCapabilityRange.
type CapabilityRange struct {
	Local  []string `json:"local"`
	Remote []string `json:"remote"`
}

// EncodePayload marshals v for Message.Value.
func EncodePayload(v any) []byte {
	raw, err := json.Marshal(v)
	if err != nil {
		// only plain data types are sent
		panic(err)
	}
	return raw
}

// DecodePayload unmarshals Message.Value into v. An empty value leaves v unchanged.
func DecodePayload(value []byte, v any) error {
	if len(value) == 0 {
		return nil
	}
	return json.Unmarshal(value, v)
}
