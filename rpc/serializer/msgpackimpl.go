package serializer

import (
	"github.com/hashicorp/go-msgpack/codec"
)

// NewMsgpackSerializer creates a new serializer using MessagePack encoding
func NewMsgpackSerializer() IRPCSerializer {
	return &msgpackSerializerImpl{handle: &codec.MsgpackHandle{}}
}

// msgpackSerializerImpl implements the IRPCSerializer interface using the
// MessagePack codec. The handle is read only after creation and shared by all
// encoders.
type msgpackSerializerImpl struct {
	handle *codec.MsgpackHandle
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (m *msgpackSerializerImpl) Serialize(v any) ([]byte, error) {
	var out []byte
	enc := codec.NewEncoderBytes(&out, m.handle)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *msgpackSerializerImpl) Deserialize(b []byte, v any) error {
	dec := codec.NewDecoderBytes(b, m.handle)
	return dec.Decode(v)
}
