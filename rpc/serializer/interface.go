package serializer

// IRPCSerializer is the interface for all wire serializers. Commands, their
// payloads and the response bodies all travel through one serializer per
// connection.
type IRPCSerializer interface {
	// Serialize serializes v into a byte array
	// It returns the serialized byte array and an error if any
	Serialize(v any) ([]byte, error)
	// Deserialize deserializes a byte array into v
	// It takes a byte array and a pointer to the target value
	// It returns an error if any
	Deserialize(b []byte, v any) error
}

// ByName returns the serializer registered under name
func ByName(name string) (IRPCSerializer, bool) {
	switch name {
	case "json":
		return NewJSONSerializer(), true
	case "gob":
		return NewGOBSerializer(), true
	case "msgpack":
		return NewMsgpackSerializer(), true
	case "zstd":
		return NewZstdSerializer(NewMsgpackSerializer()), true
	default:
		return nil, false
	}
}
