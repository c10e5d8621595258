package base

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
)

const (
	frameHeaderSize = 20

	// MaxFrameSize bounds the payload of a single frame. A larger length in a
	// header is treated as a corrupt stream and the connection is dropped.
	MaxFrameSize = 256 << 20
)

// writeFrame writes header and payload with one writev.
//
//	shardID u64 | requestID u64 | length u32 | payload (big endian)
func writeFrame(conn net.Conn, shardID uint64, requestID uint64, data []byte) error {
	if len(data) > MaxFrameSize {
		return fmt.Errorf("frame of %d bytes exceeds the limit of %d bytes", len(data), MaxFrameSize)
	}

	var header [frameHeaderSize]byte
	binary.BigEndian.PutUint64(header[0:8], shardID)
	binary.BigEndian.PutUint64(header[8:16], requestID)
	binary.BigEndian.PutUint32(header[16:20], uint32(len(data)))

	b := net.Buffers{header[:], data}
	_, err := b.WriteTo(conn)
	return err
}

// readFrame reads one frame. The payload is read into buf when it fits,
// otherwise into a new slice, so callers must not assume the result aliases buf.
func readFrame(conn net.Conn, buf []byte) (uint64, uint64, []byte, error) {
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(conn, header[:]); err != nil {
		return 0, 0, nil, err
	}

	shardID := binary.BigEndian.Uint64(header[0:8])
	requestID := binary.BigEndian.Uint64(header[8:16])
	length := int(binary.BigEndian.Uint32(header[16:20]))

	if length > MaxFrameSize {
		return 0, 0, nil, fmt.Errorf("frame of %d bytes exceeds the limit of %d bytes", length, MaxFrameSize)
	}
	if length == 0 {
		return shardID, requestID, []byte{}, nil
	}

	if len(buf) < length {
		buf = make([]byte, length)
	}
	if _, err := io.ReadFull(conn, buf[:length]); err != nil {
		return 0, 0, nil, err
	}
	return shardID, requestID, buf[:length], nil
}
