// Package transport defines the interfaces and abstractions for RPC communication
// of the cache server. It provides a common contract that all transport
// implementations must fulfill, enabling protocol-agnostic communication.
//
// The package focuses on:
//   - Defining clear interfaces for client and server transport layers
//   - Connection lifecycle: sessions are bound to connections, the handler is
//     told when a connection appears and when it goes away
//   - Multi-packet responses: one request yields zero, one or many packets
//   - Enabling multiple transport implementations (HTTP, TCP, Unix sockets)
//
// Key Components:
//
//   - IRPCClientTransport: Interface for client-side transport implementations that
//     handles connection management, the per connection handshake and request sending.
//
//   - IRPCServerTransport: Interface for server-side transport implementations that
//     receives requests and routes them to the handler.
//
//   - ServerHandler: Callback interface for connection events and requests.
//
//   - EncodePackets / DecodePackets: Length prefixed packet lists shared by all
//     transports.
package transport
