package serializer

import (
	"bytes"
	"encoding/gob"

	"github.com/ValentinKolb/kvds/rpc/common"
	"github.com/cockroachdb/errors"
)

// NewGOBSerializer creates a serializer using Go's gob format. Every message is
// encoded with a fresh encoder, so each frame carries its own type description.
func NewGOBSerializer() IRPCSerializer {
	return &gobSerializerImpl{}
}

type gobSerializerImpl struct{}

func (g gobSerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(msg); err != nil {
		return nil, errors.Wrapf(err, "gob encode %s", msg.MsgType)
	}
	return buf.Bytes(), nil
}

func (g gobSerializerImpl) Deserialize(b []byte, msg *common.Message) error {
	*msg = common.Message{}
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(msg); err != nil {
		return errors.Wrap(err, "gob decode message")
	}
	return nil
}
