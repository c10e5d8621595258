package serializer

import (
	"encoding/json"

	"github.com/ValentinKolb/kvds/rpc/common"
	"github.com/cockroachdb/errors"
)

// NewJSONSerializer creates a serializer that writes messages as JSON objects.
// Empty fields are omitted (see the json tags of common.Message).
func NewJSONSerializer() IRPCSerializer {
	return &jsonSerializerImpl{}
}

type jsonSerializerImpl struct{}

func (j jsonSerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, errors.Wrapf(err, "json encode %s", msg.MsgType)
	}
	return b, nil
}

func (j jsonSerializerImpl) Deserialize(b []byte, msg *common.Message) error {
	*msg = common.Message{}
	if err := json.Unmarshal(b, msg); err != nil {
		return errors.Wrap(err, "json decode message")
	}
	return nil
}
