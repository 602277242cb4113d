// Package http implements an HTTP-based transport layer for RPC communication
// with the cache server. It provides concrete implementations of the transport
// interfaces defined in the parent package.
//
// The package focuses on:
//   - Client-side HTTP transport for sending RPC requests to servers
//   - Server-side HTTP transport for receiving and handling RPC requests
//   - Sessions: HTTP has no connections, the client names a session in the
//     X-Dcache-Session header. The first request of a session opens it,
//     DELETE /session closes it.
//   - Round-robin load balancing across multiple server endpoints
//
// Key Components:
//
//   - httpClientTransport: Implements IRPCClientTransport. It holds one session
//     per endpoint and runs the handshake on each of them in Connect.
//
//   - httpServerTransport: Implements IRPCServerTransport. Requests are routed
//     by the cache id in the URL path (POST /{cacheId}), requests of one session
//     are handled one after the other. The response body holds the packet list
//     in the transport.EncodePackets format.
//
// Thread Safety:
//
//	The client transport can be used concurrently. It uses atomic operations
//	for the round-robin counter.
package http
