package serializer

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// compressionThreshold is the payload size from which data is compressed
const compressionThreshold = 1024

// Frame markers of the zstd serializer
const (
	frameRaw  byte = 0
	frameZstd byte = 1
)

// NewZstdSerializer wraps inner so that large payloads are zstd compressed.
// Payloads below the threshold are sent as they are, one marker byte tells the
// two apart.
func NewZstdSerializer(inner IRPCSerializer) IRPCSerializer {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		panic(fmt.Sprintf("zstd encoder: %v", err))
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		panic(fmt.Sprintf("zstd decoder: %v", err))
	}
	return &zstdSerializerImpl{inner: inner, enc: enc, dec: dec}
}

// zstdSerializerImpl implements IRPCSerializer on top of another serializer.
// EncodeAll and DecodeAll are safe for concurrent use.
type zstdSerializerImpl struct {
	inner IRPCSerializer
	enc   *zstd.Encoder
	dec   *zstd.Decoder
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (z *zstdSerializerImpl) Serialize(v any) ([]byte, error) {
	data, err := z.inner.Serialize(v)
	if err != nil {
		return nil, err
	}
	if len(data) < compressionThreshold {
		return append([]byte{frameRaw}, data...), nil
	}
	out := make([]byte, 1, len(data)/2+1)
	out[0] = frameZstd
	return z.enc.EncodeAll(data, out), nil
}

func (z *zstdSerializerImpl) Deserialize(b []byte, v any) error {
	if len(b) == 0 {
		return fmt.Errorf("zstd serializer: empty payload")
	}
	switch b[0] {
	case frameRaw:
		return z.inner.Deserialize(b[1:], v)
	case frameZstd:
		data, err := z.dec.DecodeAll(b[1:], nil)
		if err != nil {
			return fmt.Errorf("zstd serializer: %w", err)
		}
		return z.inner.Deserialize(data, v)
	default:
		return fmt.Errorf("zstd serializer: unknown frame marker %d", b[0])
	}
}
