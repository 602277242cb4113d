// Package base provides a foundation for stream based transport layers of the
// cache server, implementing the framing and connection handling independent of
// the specific network protocol (TCP, Unix sockets). Protocol-specific
// connectors extend it.
//
// The package focuses on:
//   - Protocol-agnostic client and server transport implementations
//   - Frame-based message protocol with cacheID and sequence tracking
//   - Responses carrying any number of packets (zero included)
//   - Connection scoped sessions: the server reports every accepted
//     connection to its handler and the client re-runs its handshake
//     after every reconnect
//   - Robust error handling with retries and reconnection logic
//
// Frame layout (all integers big endian):
//
//	request:  cacheID u64 | sequence u64 | length u32 | data
//	response: cacheID u64 | sequence u64 | count u32 | (length u32 | packet)*
//
// Key Components:
//
//   - IClientConnector/IServerConnector: Interfaces for protocol-specific operations
//     that allow extending the base transport with different network protocols.
//
//   - clientTransport: Core client implementation that manages multiple connections
//     with round-robin load balancing. Supports multiple connections per endpoint.
//
//   - serverTransport: Core server implementation that accepts connections and
//     hands every request to the registered handler. Each connection has its
//     own reader goroutine and its requests are handled one after the other.
//     The handler calls of all connections share a bounded pool of workers,
//     an idle connection holds none.
//
// Thread Safety:
//
//	All public methods are thread-safe. The client correlates responses by
//	sequence number, so several goroutines may share one connection.
package base
