package internal

import (
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/kvds/lib/db"
	"github.com/cockroachdb/errors"
)

// CommandType defines the possible operations for the state machine.
type CommandType uint8

const (
	CommandTSet        CommandType = iota // Insert or update an entry.
	CommandTSetE                          // Insert or update an entry with expiration and deletion times.
	CommandTSetIfUnset                    // Insert an entry if it does not exist.
	CommandTExpire                        // Expire the value of an entry immediately.
	CommandTDelete                        // Delete an entry.
)

var commandNames = [...]string{"Set", "SetE", "SetIfUnset", "Expire", "Delete"}

var commandFeatures = [...]db.Feature{db.FeatureSet, db.FeatureSetE, db.FeatureSetEIfUnset, db.FeatureExpire, db.FeatureDelete}

func (ct CommandType) String() string {
	if int(ct) < len(commandNames) {
		return commandNames[ct]
	}
	return fmt.Sprintf("Unknown(%d)", ct)
}

// ToDBFeature returns the db.Feature the state machine needs to apply the command.
func (ct CommandType) ToDBFeature() (db.Feature, error) {
	if int(ct) < len(commandFeatures) {
		return commandFeatures[ct], nil
	}
	return 0, errors.Newf("unknown command type %d", ct)
}

// commandVersion is the first byte of every encoded command.
// A replica refuses log entries written by a newer format instead of misreading them.
const commandVersion byte = 1

var (
	ErrCommandTooShort = errors.New("command too short")
	ErrCommandVersion  = errors.New("unsupported command version")
	ErrEmptyKey        = errors.New("command without key")
)

// Command is a single entry of the raft log of the meta store.
type Command struct {
	Type     CommandType
	Key      string
	ExpireIn uint64
	DeleteIn uint64
	Value    []byte
}

// MarshalBinary encodes the command as
//
//	version u8 | type u8 | expireIn uvarint | deleteIn uvarint | keyLen uvarint | key | value
//
// The value runs to the end of the entry.
func (c *Command) MarshalBinary() ([]byte, error) {
	if c.Key == "" {
		return nil, ErrEmptyKey
	}
	buf := make([]byte, 0, 2+3*binary.MaxVarintLen64+len(c.Key)+len(c.Value))
	buf = append(buf, commandVersion, byte(c.Type))
	buf = binary.AppendUvarint(buf, c.ExpireIn)
	buf = binary.AppendUvarint(buf, c.DeleteIn)
	buf = binary.AppendUvarint(buf, uint64(len(c.Key)))
	buf = append(buf, c.Key...)
	buf = append(buf, c.Value...)
	return buf, nil
}

// UnmarshalBinary decodes a command written by MarshalBinary.
// The value does not alias data, raft may reuse the entry buffer.
func (c *Command) UnmarshalBinary(data []byte) error {
	if len(data) < 2 {
		return ErrCommandTooShort
	}
	if data[0] != commandVersion {
		return errors.Wrapf(ErrCommandVersion, "version %d", data[0])
	}
	c.Type = CommandType(data[1])
	rest := data[2:]

	var fields [3]uint64
	for i := range fields {
		v, n := binary.Uvarint(rest)
		if n <= 0 {
			return errors.Wrapf(ErrCommandTooShort, "field %d", i)
		}
		fields[i] = v
		rest = rest[n:]
	}
	c.ExpireIn, c.DeleteIn = fields[0], fields[1]

	keyLen := fields[2]
	if keyLen == 0 {
		return ErrEmptyKey
	}
	if uint64(len(rest)) < keyLen {
		return errors.Wrapf(ErrCommandTooShort, "key of length %d", keyLen)
	}
	c.Key = string(rest[:keyLen])
	rest = rest[keyLen:]

	if len(rest) == 0 {
		c.Value = nil
		return nil
	}
	c.Value = append(c.Value[:0], rest...)
	return nil
}
