package serializer

import (
	"github.com/ValentinKolb/kvds/rpc/common"
	"github.com/cockroachdb/errors"
)

// IRPCSerializer converts a common.Message to bytes and back.
//
// Besides the meta store fields (Key, Value, Entries, ...) a message carries the
// data service fields Client, UID, AppId, StoreId, Handle and Status. Every
// implementation must round trip all of them.
type IRPCSerializer interface {
	// Serialize encodes msg into a new byte slice
	Serialize(msg common.Message) ([]byte, error)
	// Deserialize decodes b into msg. Fields not present in b are left zero.
	Deserialize(b []byte, msg *common.Message) error
}

// ErrUnknownSerializer is returned by New for names it does not know.
var ErrUnknownSerializer = errors.New("unknown serializer")

// Names lists the serializers accepted by New, the default first.
var Names = []string{"binary", "json", "gob"}

// New returns the serializer registered under name.
func New(name string) (IRPCSerializer, error) {
	switch name {
	case "binary":
		return NewBinarySerializer(), nil
	case "json":
		return NewJSONSerializer(), nil
	case "gob":
		return NewGOBSerializer(), nil
	default:
		return nil, errors.Wrapf(ErrUnknownSerializer, "%q (expected one of %v)", name, Names)
	}
}
