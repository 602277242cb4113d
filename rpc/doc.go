// Package rpc provides the network layer of the cache server. Clients send
// command envelopes, the server dispatches them to the command handlers and
// answers with one or more response packets.
//
// The package is organized into several subpackages:
//
//   - common: Wire types shared by client and server, including the Command
//     envelope, the typed request payloads, the response bodies, the packet
//     encoding for old and new clients, configuration and logging.
//
//   - transport: Network communication abstractions with pluggable implementations
//     (TCP, Unix sockets, HTTP). A request may be answered by any number of packets.
//
//   - serializer: Payload serialization (MessagePack, JSON, GOB and a zstd
//     compressing wrapper).
//
//   - command: The command framework. Every command type is parsed, executed
//     against the bound cache and answered by one generic driver.
//
//   - client: Typed cache client used by the CLI and the end-to-end tests.
//
//   - server: Server instance with the command manager that binds connections
//     to sessions and caches and dispatches their commands.
package rpc
