package common

import (
	"encoding/json"
	"fmt"
)

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// Message represents a single message used for both requests and responses.
// Which fields are used depends on the type of message.
type Message struct {
	// Type of message
	MsgType MessageType `json:"msg_type"`

	// Store fields (meta store shard and store handles)
	Key      string   `json:"key,omitempty"`      // Used for: IStore operations, Scan (prefix), StoreGet, StorePut, StoreDelete, StoreGetEntries (prefix)
	ExpireIn uint64   `json:"expireIn,omitempty"` // Used for: SetE operations
	DeleteIn uint64   `json:"deleteIn,omitempty"` // Used for: SetE operations
	Value    []byte   `json:"value,omitempty"`    // Used for: values and JSON payloads (options, devices, labels)
	Keys     []string `json:"keys,omitempty"`     // Used for: GetAllKvStoreId (response), StoreDeleteBatch (request)
	Entries  []Entry  `json:"entries,omitempty"`  // Used for: Scan (response), StoreGetEntries (response), StorePutBatch (request)

	// Data service fields
	Client  string `json:"client,omitempty"`  // Token of the client stub, every request refreshes its lease
	UID     int32  `json:"uid,omitempty"`     // Uid of the calling process
	AppId   string `json:"appId,omitempty"`   // Bundle name
	StoreId string `json:"storeId,omitempty"` // Store name
	Handle  uint64 `json:"handle,omitempty"`  // Server side id of an open store
	Status  int32  `json:"status,omitempty"`  // kvstore.Status of the operation (responses)

	// Response only fields
	Ok  bool   `json:"ok,omitempty"`  // Used for: Get, Has responses and SetCapabilityEnabled requests
	Err string `json:"err,omitempty"` // Empty if no error, otherwise contains the error message

	// Meta information
	Meta []byte `json:"meta,omitempty"` // Unused, can be used for additional Adapters
}

// Entry is a key value pair carried by a message.
type Entry struct {
	Key   string `json:"key"`
	Value []byte `json:"value"`
}

// --------------------------------------------------------------------------
// Message Factory Functions (IStore)
// --------------------------------------------------------------------------

// NewSetRequest creates a new Set request
func NewSetRequest(key string, value []byte) *Message {
	return &Message{MsgType: MsgTKVSet, Key: key, Value: value}
}

// NewSetERequest creates a new SetE request
func NewSetERequest(key string, value []byte, expireIn, deleteIn uint64) *Message {
	return &Message{MsgType: MsgTKVSetE, Key: key, Value: value, ExpireIn: expireIn, DeleteIn: deleteIn}
}

// NewSetEIfUnsetRequest creates a new SetEIfUnset request
func NewSetEIfUnsetRequest(key string, value []byte, expireIn, deleteIn uint64) *Message {
	return &Message{MsgType: MsgTKVSetEIfUnset, Key: key, Value: value, ExpireIn: expireIn, DeleteIn: deleteIn}
}

// NewExpireRequest creates a new Expire request
func NewExpireRequest(key string) *Message {
	return &Message{MsgType: MsgTKVExpire, Key: key}
}

// NewDeleteRequest creates a new Delete request
func NewDeleteRequest(key string) *Message {
	return &Message{MsgType: MsgTKVDelete, Key: key}
}

// NewGetRequest creates a new Get request
func NewGetRequest(key string) *Message {
	return &Message{MsgType: MsgTKVGet, Key: key}
}

// NewHasRequest creates a new Has request
func NewHasRequest(key string) *Message {
	return &Message{MsgType: MsgTKVHas, Key: key}
}

// NewScanRequest creates a new Scan request for all keys starting with prefix
func NewScanRequest(prefix string) *Message {
	return &Message{MsgType: MsgTKVScan, Key: prefix}
}

// NewWriteResponse creates the response of a write operation (Set, SetE, SetEIfUnset, Expire, Delete)
func NewWriteResponse(t MessageType, err error) *Message {
	msg := &Message{MsgType: t}
	if err != nil {
		msg.Err = err.Error()
	}
	return msg
}

// NewGetResponse creates a new Get response
func NewGetResponse(value []byte, ok bool, err error) *Message {
	msg := &Message{MsgType: MsgTKVGet, Ok: ok, Value: value}
	if err != nil {
		msg.Err = err.Error()
	}
	return msg
}

// NewHasResponse creates a new Has response
func NewHasResponse(ok bool, err error) *Message {
	msg := &Message{MsgType: MsgTKVHas, Ok: ok}
	if err != nil {
		msg.Err = err.Error()
	}
	return msg
}

// NewScanResponse creates a new Scan response
func NewScanResponse(entries []Entry, err error) *Message {
	msg := &Message{MsgType: MsgTKVScan, Entries: entries}
	if err != nil {
		msg.Err = err.Error()
	}
	return msg
}

// --------------------------------------------------------------------------
// Message Factory Functions (data service)
// --------------------------------------------------------------------------

// NewServiceRequest creates a data service or store handle request on behalf of a client.
func NewServiceRequest(t MessageType, client string, uid int32, appId, storeId string) *Message {
	return &Message{MsgType: t, Client: client, UID: uid, AppId: appId, StoreId: storeId}
}

// NewHandleRequest creates a request on an open store.
func NewHandleRequest(t MessageType, client string, handle uint64) *Message {
	return &Message{MsgType: t, Client: client, Handle: handle}
}

// NewStatusResponse creates a response that only carries a status.
func NewStatusResponse(t MessageType, status int32) *Message {
	return &Message{MsgType: t, Status: status}
}

// NewErrorResponse creates a new Error response
func NewErrorResponse(err string) *Message {
	return &Message{MsgType: MsgTError, Err: err}
}

// --------------------------------------------------------------------------
// Message Type Definition
// --------------------------------------------------------------------------

// MessageType defines the type of message used in RPC communication.
type MessageType uint8

const (
	// General message types

	MsgTUnknown MessageType = iota
	MsgTSuccess             // Indicates a successful operation
	MsgTError               // Indicates an error occurred

	// IStore operations

	MsgTKVSet         // Set a key-value pair
	MsgTKVSetE        // Set a key-value pair with expiration
	MsgTKVSetEIfUnset // Set a key-value pair if not already set
	MsgTKVExpire      // Expire a key
	MsgTKVDelete      // Delete a key-value pair
	MsgTKVGet         // Get a value by key
	MsgTKVHas         // Check if a key exists
	MsgTKVScan        // List the entries below a prefix

	// IKvStoreDataService operations

	MsgTDSGetKvStore                  // Open a store, options as JSON in Value
	MsgTDSGetSingleKvStore            // Open a single version store, options as JSON in Value
	MsgTDSGetAllKvStoreId             // List the store ids of an app
	MsgTDSCloseKvStore                // Close a store
	MsgTDSCloseAllKvStore             // Close every store of an app
	MsgTDSDeleteKvStore               // Delete a store
	MsgTDSDeleteAllKvStore            // Delete every store of an app
	MsgTDSRegisterClientDeathObserver // Tie the stores of an app to the client lease
	MsgTDSAppExit                     // Release everything held for an app
	MsgTDSGetLocalDevice              // Local device as JSON in Value
	MsgTDSGetDeviceList               // Remote devices as JSON in Value
	MsgTDSStartWatchDeviceChange      // Queue device events for the client
	MsgTDSStopWatchDeviceChange       // Stop queueing device events
	MsgTDSPollDeviceEvents            // Drain the queued device events, JSON in Value
	MsgTDSHeartbeat                   // Refresh the client lease

	// Store handle operations

	MsgTStorePut                  // Put Key/Value
	MsgTStorePutBatch             // Put Entries
	MsgTStoreGet                  // Get Key
	MsgTStoreDelete               // Delete Key
	MsgTStoreDeleteBatch          // Delete Keys
	MsgTStoreGetEntries           // Entries below the prefix in Key
	MsgTStoreSetCapabilityEnabled // Enable sync capability (Ok)
	MsgTStoreSetCapabilityRange   // Set sync labels, JSON in Value
	MsgTStoreGetSecurityLevel     // Security level as JSON in Value

	// Custom operations

	MsgTCustom // Custom operation type
)

var messageTypeNames = map[MessageType]string{
	MsgTSuccess: "success",
	MsgTError:   "error",

	MsgTKVSet:         "set",
	MsgTKVSetE:        "setE",
	MsgTKVSetEIfUnset: "setEIfUnset",
	MsgTKVExpire:      "expire",
	MsgTKVDelete:      "delete",
	MsgTKVGet:         "get",
	MsgTKVHas:         "has",
	MsgTKVScan:        "scan",

	MsgTDSGetKvStore:                  "getKvStore",
	MsgTDSGetSingleKvStore:            "getSingleKvStore",
	MsgTDSGetAllKvStoreId:             "getAllKvStoreId",
	MsgTDSCloseKvStore:                "closeKvStore",
	MsgTDSCloseAllKvStore:             "closeAllKvStore",
	MsgTDSDeleteKvStore:               "deleteKvStore",
	MsgTDSDeleteAllKvStore:            "deleteAllKvStore",
	MsgTDSRegisterClientDeathObserver: "registerClientDeathObserver",
	MsgTDSAppExit:                     "appExit",
	MsgTDSGetLocalDevice:              "getLocalDevice",
	MsgTDSGetDeviceList:               "getDeviceList",
	MsgTDSStartWatchDeviceChange:      "startWatchDeviceChange",
	MsgTDSStopWatchDeviceChange:       "stopWatchDeviceChange",
	MsgTDSPollDeviceEvents:            "pollDeviceEvents",
	MsgTDSHeartbeat:                   "heartbeat",

	MsgTStorePut:                  "storePut",
	MsgTStorePutBatch:             "storePutBatch",
	MsgTStoreGet:                  "storeGet",
	MsgTStoreDelete:               "storeDelete",
	MsgTStoreDeleteBatch:          "storeDeleteBatch",
	MsgTStoreGetEntries:           "storeGetEntries",
	MsgTStoreSetCapabilityEnabled: "storeSetCapabilityEnabled",
	MsgTStoreSetCapabilityRange:   "storeSetCapabilityRange",
	MsgTStoreGetSecurityLevel:     "storeGetSecurityLevel",

	MsgTCustom: "custom",
}

var messageTypesByName = func() map[string]MessageType {
	m := make(map[string]MessageType, len(messageTypeNames))
	for t, name := range messageTypeNames {
		m[name] = t
	}
	return m
}()

// String returns the string representation of a MessageType.
func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// MarshalJSON implements the json.Marshaller interface for MessageType.
// This allows MessageType to be serialized as a string in JSON.
func (t MessageType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for MessageType.
// This allows MessageType to be deserialized from a string in JSON.
func (t *MessageType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	mt, ok := messageTypesByName[s]
	if !ok {
		return fmt.Errorf("unknown message type: %s", s)
	}
	*t = mt
	return nil
}
