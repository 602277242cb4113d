// Package common provides the data structures and utilities shared by the
// client and the server of the cache RPC system.
//
// The package focuses on:
//   - The wire model: the Command envelope, the typed request payloads and the
//     response bodies
//   - Response versioning: EncodeResponse decides between standalone and
//     wrapped packets, DecodePacket reads both
//   - Configuration structures for client and server components
//   - Custom logging implementation integrated with the Dragonboat logger facade
//
// Key Components:
//
//   - Command: Request envelope of every call. The payload holds one of the
//     request structs (ItemRequest, KeyRequest, QueryRequest, ...), which one
//     depends on the CommandType.
//
//   - CommandType / ResponseType: Enumerations of all supported operations.
//     Every command type has exactly one response type, RespException answers
//     any failed command.
//
//   - ResponseHeader: Request id, command id and chunk numbering. Clients from
//     version 5000 on receive it on the body (standalone packets), older
//     clients on the Response envelope (wrapped packets).
//
//   - ExceptionDescriptor: Client side view of a failure, with exception type,
//     message, error code and an optional stack trace.
//
//   - ServerConfig / ClientConfig: Configuration of servers and clients.
//
//   - Logger: Custom logging implementation that integrates with Dragonboat's
//     logging system while providing consistent formatting across the application.
package common
