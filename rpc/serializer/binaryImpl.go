package serializer

import (
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/kvds/rpc/common"
)

// NewBinarySerializer creates a new serializer using a custom binary format
// optimized for speed and efficiency
func NewBinarySerializer() IRPCSerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements IRPCSerializer using a custom binary format.
//
// Layout: [MsgType][flags][flags2][fields...]. Only fields whose flag bit is set
// are written, in the order of the flag bits. Strings and byte slices are
// prefixed with a 4 byte big endian length.
type binarySerializerImpl struct {
}

// Bit flags of the first flags byte
const (
	hasKey      byte = 1 << 0
	hasExpireIn byte = 1 << 1
	hasDeleteIn byte = 1 << 2
	hasValue    byte = 1 << 3
	hasOk       byte = 1 << 4
	hasErr      byte = 1 << 5
	hasMeta     byte = 1 << 6
)

// Bit flags of the second flags byte
const (
	hasKeys    byte = 1 << 0
	hasEntries byte = 1 << 1
	hasClient  byte = 1 << 2
	hasUID     byte = 1 << 3
	hasAppId   byte = 1 << 4
	hasStoreId byte = 1 << 5
	hasHandle  byte = 1 << 6
	hasStatus  byte = 1 << 7
)

const headerSize = 3

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (b binarySerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	w := binaryWriter{buf: make([]byte, headerSize, b.sizeBytes(msg))}
	w.buf[0] = byte(msg.MsgType)

	var flags, flags2 byte

	if msg.Key != "" {
		flags |= hasKey
		w.string(msg.Key)
	}
	if msg.ExpireIn > 0 {
		flags |= hasExpireIn
		w.uint64(msg.ExpireIn)
	}
	if msg.DeleteIn > 0 {
		flags |= hasDeleteIn
		w.uint64(msg.DeleteIn)
	}
	if msg.Value != nil {
		flags |= hasValue
		w.bytes(msg.Value)
	}
	if msg.Ok {
		// the flag carries the value
		flags |= hasOk
	}
	if msg.Err != "" {
		flags |= hasErr
		w.string(msg.Err)
	}
	if msg.Meta != nil {
		flags |= hasMeta
		w.bytes(msg.Meta)
	}

	if msg.Keys != nil {
		flags2 |= hasKeys
		w.uint32(uint32(len(msg.Keys)))
		for _, k := range msg.Keys {
			w.string(k)
		}
	}
	if msg.Entries != nil {
		flags2 |= hasEntries
		w.uint32(uint32(len(msg.Entries)))
		for _, e := range msg.Entries {
			w.string(e.Key)
			w.bytes(e.Value)
		}
	}
	if msg.Client != "" {
		flags2 |= hasClient
		w.string(msg.Client)
	}
	if msg.UID != 0 {
		flags2 |= hasUID
		w.uint32(uint32(msg.UID))
	}
	if msg.AppId != "" {
		flags2 |= hasAppId
		w.string(msg.AppId)
	}
	if msg.StoreId != "" {
		flags2 |= hasStoreId
		w.string(msg.StoreId)
	}
	if msg.Handle != 0 {
		flags2 |= hasHandle
		w.uint64(msg.Handle)
	}
	if msg.Status != 0 {
		flags2 |= hasStatus
		w.uint32(uint32(msg.Status))
	}

	// Set flags after knowing which fields are present
	w.buf[1] = flags
	w.buf[2] = flags2

	return w.buf, nil
}

func (b binarySerializerImpl) Deserialize(data []byte, msg *common.Message) error {
	// Check minimum size (MsgType + flags)
	if len(data) < headerSize {
		return fmt.Errorf("data too short for message header")
	}

	// reset the message, it may be reused by the caller
	value, meta := msg.Value, msg.Meta
	*msg = common.Message{MsgType: common.MessageType(data[0])}
	flags, flags2 := data[1], data[2]
	r := binaryReader{data: data, pos: headerSize}

	if flags&hasKey != 0 {
		msg.Key = r.string("key")
	}
	if flags&hasExpireIn != 0 {
		msg.ExpireIn = r.uint64("ExpireIn")
	}
	if flags&hasDeleteIn != 0 {
		msg.DeleteIn = r.uint64("DeleteIn")
	}
	if flags&hasValue != 0 {
		msg.Value = r.bytesInto(value, "value")
	}
	msg.Ok = flags&hasOk != 0
	if flags&hasErr != 0 {
		msg.Err = r.string("error")
	}
	if flags&hasMeta != 0 {
		msg.Meta = r.bytesInto(meta, "meta")
	}

	if flags2&hasKeys != 0 {
		n := r.count("keys")
		msg.Keys = make([]string, 0, n)
		for i := 0; i < n && r.err == nil; i++ {
			msg.Keys = append(msg.Keys, r.string("keys"))
		}
	}
	if flags2&hasEntries != 0 {
		n := r.count("entries")
		msg.Entries = make([]common.Entry, 0, n)
		for i := 0; i < n && r.err == nil; i++ {
			key := r.string("entry key")
			msg.Entries = append(msg.Entries, common.Entry{Key: key, Value: r.bytesInto(nil, "entry value")})
		}
	}
	if flags2&hasClient != 0 {
		msg.Client = r.string("client")
	}
	if flags2&hasUID != 0 {
		msg.UID = int32(r.uint32("uid"))
	}
	if flags2&hasAppId != 0 {
		msg.AppId = r.string("appId")
	}
	if flags2&hasStoreId != 0 {
		msg.StoreId = r.string("storeId")
	}
	if flags2&hasHandle != 0 {
		msg.Handle = r.uint64("handle")
	}
	if flags2&hasStatus != 0 {
		msg.Status = int32(r.uint32("status"))
	}

	return r.err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// sizeBytes calculates the total size needed for serialization
func (b binarySerializerImpl) sizeBytes(msg common.Message) int {
	size := headerSize

	if msg.Key != "" {
		size += 4 + len(msg.Key)
	}
	if msg.ExpireIn > 0 {
		size += 8
	}
	if msg.DeleteIn > 0 {
		size += 8
	}
	if msg.Value != nil {
		size += 4 + len(msg.Value)
	}
	if msg.Err != "" {
		size += 4 + len(msg.Err)
	}
	if msg.Meta != nil {
		size += 4 + len(msg.Meta)
	}
	if msg.Keys != nil {
		size += 4
		for _, k := range msg.Keys {
			size += 4 + len(k)
		}
	}
	if msg.Entries != nil {
		size += 4
		for _, e := range msg.Entries {
			size += 8 + len(e.Key) + len(e.Value)
		}
	}
	if msg.Client != "" {
		size += 4 + len(msg.Client)
	}
	if msg.UID != 0 {
		size += 4
	}
	if msg.AppId != "" {
		size += 4 + len(msg.AppId)
	}
	if msg.StoreId != "" {
		size += 4 + len(msg.StoreId)
	}
	if msg.Handle != 0 {
		size += 8
	}
	if msg.Status != 0 {
		size += 4
	}

	return size
}

type binaryWriter struct {
	buf []byte
}

func (w *binaryWriter) uint32(v uint32) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, v)
}

func (w *binaryWriter) uint64(v uint64) {
	w.buf = binary.BigEndian.AppendUint64(w.buf, v)
}

func (w *binaryWriter) string(s string) {
	w.uint32(uint32(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *binaryWriter) bytes(p []byte) {
	w.uint32(uint32(len(p)))
	w.buf = append(w.buf, p...)
}

// binaryReader reads fields until the first error, later reads return zero values.
type binaryReader struct {
	data []byte
	pos  int
	err  error
}

func (r *binaryReader) need(n int, field string) bool {
	if r.err != nil {
		return false
	}
	if n < 0 || r.pos+n > len(r.data) {
		r.err = fmt.Errorf("data too short for %s", field)
		return false
	}
	return true
}

func (r *binaryReader) uint32(field string) uint32 {
	if !r.need(4, field) {
		return 0
	}
	v := binary.BigEndian.Uint32(r.data[r.pos : r.pos+4])
	r.pos += 4
	return v
}

func (r *binaryReader) uint64(field string) uint64 {
	if !r.need(8, field) {
		return 0
	}
	v := binary.BigEndian.Uint64(r.data[r.pos : r.pos+8])
	r.pos += 8
	return v
}

// count reads a length prefix and checks it against the remaining data.
func (r *binaryReader) count(field string) int {
	n := int(r.uint32(field + " length"))
	if !r.need(n, field+" data") {
		return 0
	}
	return n
}

func (r *binaryReader) string(field string) string {
	n := r.count(field)
	if r.err != nil {
		return ""
	}
	s := string(r.data[r.pos : r.pos+n])
	r.pos += n
	return s
}

// bytesInto copies a length prefixed slice, reusing dst when it is large enough.
// A zero length slice decodes to an empty, non nil slice.
func (r *binaryReader) bytesInto(dst []byte, field string) []byte {
	n := r.count(field)
	if r.err != nil {
		return nil
	}
	if dst == nil || cap(dst) < n {
		dst = make([]byte, n)
	} else {
		dst = dst[:n]
	}
	copy(dst, r.data[r.pos:r.pos+n])
	r.pos += n
	return dst
}
