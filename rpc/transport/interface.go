package transport

import (
	"context"

	"github.com/ValentinKolb/dCache/rpc/common"
)

// --------------------------------------------------------------------------
// Server Transport
// --------------------------------------------------------------------------

// Conn is the server side view of one client connection. A session (the
// client bound by Init) lives exactly as long as its connection.
type Conn interface {
	// ID is unique among the connections of a server transport
	ID() uint64
	// RemoteAddr returns the address of the peer
	RemoteAddr() string
	// Context is cancelled when the connection goes away
	Context() context.Context
}

// ServerHandler handles the requests of the connections of a server transport.
// Requests of one connection are handled strictly one after the other,
// different connections are handled in parallel.
type ServerHandler interface {
	// OnConnect is called before the first request of a connection
	OnConnect(conn Conn)
	// Handle processes one request and returns its response packets.
	// A request may yield zero, one or many packets.
	Handle(conn Conn, cacheID uint64, req []byte) (packets [][]byte)
	// OnDisconnect is called once after the last request of a connection
	OnDisconnect(conn Conn)
}

// IRPCServerTransport is the interface for the server side of the RPC transport
type IRPCServerTransport interface {
	// RegisterHandler registers the handler of the transport layer
	// This handler must be registered before Listen is called
	RegisterHandler(handler ServerHandler)
	// Listen starts the transport layer and blocks until Close is called
	Listen(config common.ServerConfig) error
	// Close stops accepting connections, closes the open ones and waits for
	// their handlers to return
	Close() error
}

// --------------------------------------------------------------------------
// Client Transport
// --------------------------------------------------------------------------

// SendFunc sends one request and returns its response packets
type SendFunc func(cacheID uint64, req []byte) (packets [][]byte, err error)

// HandshakeFunc runs on every new connection before it is used for requests.
// The client uses it to bind its session (Init) to the connection.
type HandshakeFunc func(send SendFunc) error

// IRPCClientTransport is the interface for the RPC client transport
type IRPCClientTransport interface {
	// SetHandshake registers the handshake, it must be called before Connect
	SetHandshake(handshake HandshakeFunc)
	// Connect initializes the transport with the given configuration
	Connect(config common.ClientConfig) error
	// Send sends a request to the server and returns the response packets
	Send(cacheID uint64, req []byte) (packets [][]byte, err error)
	// Close closes the transport connection
	Close() error
}
