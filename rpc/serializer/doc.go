// Package serializer provides the wire serialization of the cache RPC system.
// It defines a common interface and multiple implementations for serializing
// the command envelope, the typed request payloads and the response bodies
// exchanged between client and server.
//
// Key Components:
//
//   - IRPCSerializer: Core interface that all serializer implementations must satisfy.
//     Every IRPCSerializer is also a common.Codec, the type the response
//     versioning helpers take.
//
//   - msgpackSerializerImpl: MessagePack encoding with the hashicorp codec. Compact
//     and fast, recommended for production use.
//
//   - jsonSerializerImpl: JSON encoding, useful for debugging or interoperability
//     with other systems. Enum types are rendered by name.
//
//   - gobSerializerImpl: Go's gob encoding. Every payload carries its own type
//     information which makes it the largest format.
//
//   - zstdSerializerImpl: Wraps another serializer and zstd compresses payloads
//     from 1 KiB upwards. Useful for large bulk and reader responses.
//
// Thread Safety:
//
//	All serializer implementations are safe for concurrent use across multiple
//	goroutines without additional synchronization.
//
// Usage:
//
//	  s, _ := serializer.ByName("msgpack")
//	  data, err := s.Serialize(&cmd)
//	  // ... send data ...
//	  var received common.Command
//	  err = s.Deserialize(data, &received)
package serializer
