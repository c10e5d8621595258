package serializer

import (
	"testing"

	"github.com/ValentinKolb/kvds/rpc/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testSerializers is a map of serializer name to factory function
var testSerializers = map[string]func() IRPCSerializer{
	"JSON":   NewJSONSerializer,
	"GOB":    NewGOBSerializer,
	"Binary": NewBinarySerializer,
}

// testMessages creates a set of test messages with different fields filled
func testMessages() []common.Message {
	return []common.Message{
		// Basic message with just a type
		{MsgType: common.MsgTSuccess},

		// meta store scan response
		{
			MsgType: common.MsgTKVScan,
			Entries: []common.Entry{
				{Key: "KvStoreMetaData###dev###0###default###com.example###s1", Value: []byte(`{"version":1}`)},
				{Key: "KvStoreMetaData###dev###0###default###com.example###s2", Value: []byte(`{"version":1}`)},
			},
		},

		// Get response
		{
			MsgType: common.MsgTKVGet,
			Key:     "test-key",
			Value:   []byte("test-value"),
			Ok:      true,
		},

		// Error response
		{
			MsgType: common.MsgTError,
			Err:     "test error message",
		},

		// open request
		{
			MsgType: common.MsgTDSGetKvStore,
			Client:  "client-1",
			UID:     100,
			AppId:   "com.example.notes",
			StoreId: "notes",
			Value:   []byte(`{"kvStoreType":1}`),
		},

		// open response
		{
			MsgType: common.MsgTDSGetKvStore,
			Handle:  42,
			Status:  0,
		},

		// failed open
		{
			MsgType: common.MsgTDSGetSingleKvStore,
			Status:  7,
		},

		// store id listing
		{
			MsgType: common.MsgTDSGetAllKvStoreId,
			Keys:    []string{"notes", "settings", "cache_2"},
		},

		// negative uid
		{
			MsgType: common.MsgTDSHeartbeat,
			Client:  "client-2",
			UID:     -1,
		},

		// Message with all fields filled
		{
			MsgType:  common.MsgTCustom,
			Key:      "test-key",
			ExpireIn: 60,
			DeleteIn: 300,
			Value:    []byte("test-value"),
			Keys:     []string{"a", "b"},
			Entries:  []common.Entry{{Key: "k", Value: []byte("v")}},
			Client:   "client-3",
			UID:      20010034,
			AppId:    "com.example.all",
			StoreId:  "all",
			Handle:   1 << 40,
			Status:   3,
			Ok:       true,
			Meta:     []byte("test-meta-data"),
		},
	}
}

// TestSerializerRoundTrip tests that messages can be serialized and deserialized correctly
func TestSerializerRoundTrip(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()

			for i, msg := range testMessages() {
				data, err := serializer.Serialize(msg)
				require.NoError(t, err, "message %d", i)

				var result common.Message
				require.NoError(t, serializer.Deserialize(data, &result), "message %d", i)
				assert.Equal(t, msg, result, "message %d", i)
			}
		})
	}
}

// TestMessageTypes tests each message type with each serializer
func TestMessageTypes(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()

			// MsgTUnknown has no name and is rejected by the JSON codec
			for msgType := common.MsgTSuccess; msgType <= common.MsgTCustom; msgType++ {
				data, err := serializer.Serialize(common.Message{MsgType: msgType})
				require.NoError(t, err, msgType.String())

				var result common.Message
				require.NoError(t, serializer.Deserialize(data, &result), msgType.String())
				assert.Equal(t, msgType, result.MsgType)
				assert.NotEqual(t, "unknown", msgType.String())
			}
		})
	}
}

// TestBinarySerializerSpecific tests specific edge cases for the binary serializer
func TestBinarySerializerSpecific(t *testing.T) {
	serializer := NewBinarySerializer()

	testCases := []struct {
		name string
		msg  common.Message
	}{
		{
			name: "Empty message",
			msg:  common.Message{},
		},
		{
			name: "Message with empty slices",
			msg: common.Message{
				MsgType: common.MsgTKVSet,
				Value:   []byte{},
				Meta:    []byte{},
				Keys:    []string{},
				Entries: []common.Entry{},
			},
		},
		{
			name: "Message with empty strings but Ok=true",
			msg: common.Message{
				MsgType: common.MsgTKVGet,
				Ok:      true,
			},
		},
		{
			name: "Entry with empty value",
			msg: common.Message{
				MsgType: common.MsgTStorePutBatch,
				Entries: []common.Entry{{Key: "k", Value: []byte{}}},
			},
		},
		{
			name: "Empty store id in listing",
			msg: common.Message{
				MsgType: common.MsgTDSGetAllKvStoreId,
				Keys:    []string{""},
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := serializer.Serialize(tc.msg)
			require.NoError(t, err)

			var result common.Message
			require.NoError(t, serializer.Deserialize(data, &result))
			assert.Equal(t, tc.msg, result)
		})
	}
}

func TestBinaryDeserializeResetsMessage(t *testing.T) {
	serializer := NewBinarySerializer()

	msg := common.Message{MsgType: common.MsgTError, Err: "stale", Handle: 9, Keys: []string{"x"}}
	data, err := serializer.Serialize(common.Message{MsgType: common.MsgTDSCloseKvStore, Status: 1})
	require.NoError(t, err)

	require.NoError(t, serializer.Deserialize(data, &msg))
	assert.Equal(t, common.Message{MsgType: common.MsgTDSCloseKvStore, Status: 1}, msg)
}

// TestInvalidBinaryData tests how the binary serializer handles corrupt or invalid data
func TestInvalidBinaryData(t *testing.T) {
	serializer := NewBinarySerializer()

	testCases := []struct {
		name        string
		data        []byte
		expectError bool
	}{
		{
			name:        "Empty data",
			data:        []byte{},
			expectError: true,
		},
		{
			name:        "Too short header",
			data:        []byte{1, 0}, // no second flags byte
			expectError: true,
		},
		{
			name:        "Valid header only",
			data:        []byte{1, 0, 0},
			expectError: false,
		},
		{
			name:        "Invalid length for key",
			data:        []byte{1, 1, 0, 0, 0, 0, 5, 'a', 'b', 'c'}, // Claims key length 5 but only 3 bytes provided
			expectError: true,
		},
		{
			name:        "Invalid length for value",
			data:        []byte{1, 8, 0, 0, 0, 0, 10}, // Claims value length 10 but no bytes provided
			expectError: true,
		},
		{
			name:        "Truncated handle",
			data:        []byte{1, 0, 64, 0, 0, 1},
			expectError: true,
		},
		{
			name:        "Too many keys",
			data:        []byte{1, 0, 1, 0xff, 0xff, 0xff, 0xff},
			expectError: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var msg common.Message
			err := serializer.Deserialize(tc.data, &msg)
			if tc.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewByName(t *testing.T) {
	for _, name := range Names {
		s, err := New(name)
		require.NoError(t, err, name)
		assert.NotNil(t, s, name)
	}

	_, err := New("protobuf")
	assert.ErrorIs(t, err, ErrUnknownSerializer)
}

// TestDeserializeGarbage checks that every serializer rejects input it did not write
func TestDeserializeGarbage(t *testing.T) {
	for _, name := range []string{"JSON", "GOB"} {
		t.Run(name, func(t *testing.T) {
			var msg common.Message
			assert.Error(t, testSerializers[name]().Deserialize([]byte("\x00not a message"), &msg))
		})
	}
}

func TestDeserializeResetsMessage(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			s := factory()
			data, err := s.Serialize(common.Message{MsgType: common.MsgTSuccess, StoreId: "s1"})
			require.NoError(t, err)

			msg := common.Message{Key: "stale", Handle: 7, UID: 100}
			require.NoError(t, s.Deserialize(data, &msg))
			assert.Equal(t, common.Message{MsgType: common.MsgTSuccess, StoreId: "s1"}, msg)
		})
	}
}
