// Package unix implements Unix domain socket transport for the cache server's
// RPC system. It is meant for clients on the same host as the server and
// avoids the TCP stack entirely.
//
// The connectors plug into the base package, see its documentation for the
// framing and the connection handling.
//
// The default server buffer size is 64 KB.
package unix
