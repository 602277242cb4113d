package base

import (
	"bufio"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dCache/rpc/common"
	"github.com/ValentinKolb/dCache/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("transport/rpc")

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IClientConnector defines the interface for transport-specific connection operations
type IClientConnector interface {
	// Connect establishes a single connection to endpoint
	Connect(endpoint string) (net.Conn, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string
}

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

// responseResult contains the result of a request
type responseResult struct {
	packets [][]byte
	err     error
}

// clientConnection represents a single net connection. Its reader goroutine
// lives as long as the net connection, a broken connection is replaced on the
// next send.
type clientConnection struct {
	endpoint     string
	parent       *clientTransport
	requestChans *xsync.MapOf[uint64, chan responseResult]

	connMu sync.Mutex // Protects conn and writes to it
	conn   net.Conn
	wg     sync.WaitGroup
}

// clientTransport implements the core client transport functionality
// independent of the specific transport medium (unix, tcp, etc.)
type clientTransport struct {
	connector     IClientConnector
	config        common.ClientConfig
	handshake     transport.HandshakeFunc
	connections   []*clientConnection
	connectionsMu sync.RWMutex
	nextConnIndex uint64 // Atomic counter for Round Robin
	nextSequence  uint64 // Atomic counter for unique request sequences
	stopping      atomic.Bool
}

// -----------------------------------------------------------
// Transport Factory Method (used for tcp, unix, etc.)
// -----------------------------------------------------------

// NewBaseClientTransport creates a new base client transport with the specified connector
func NewBaseClientTransport(connector IClientConnector) transport.IRPCClientTransport {
	return &clientTransport{
		connector: connector,
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCClientTransport)
// --------------------------------------------------------------------------

func (t *clientTransport) SetHandshake(handshake transport.HandshakeFunc) {
	t.handshake = handshake
}

func (t *clientTransport) Connect(config common.ClientConfig) error {
	if len(config.Endpoints) == 0 {
		return fmt.Errorf("no endpoints provided")
	}

	// Close all existing connections
	t.closeConnections()
	t.config = config
	t.stopping.Store(false)

	connectionsPerEP := 1
	if config.ConnectionsPerEndpoint > 0 {
		connectionsPerEP = config.ConnectionsPerEndpoint
	}

	connections := make([]*clientConnection, 0, len(config.Endpoints)*connectionsPerEP)
	for _, endpoint := range config.Endpoints {
		for i := 0; i < connectionsPerEP; i++ {
			clientConn := &clientConnection{
				endpoint:     endpoint,
				parent:       t,
				requestChans: xsync.NewMapOf[uint64, chan responseResult](),
			}

			if err := clientConn.reconnect(); err != nil {
				Logger.Warningf("Failed to connect to %s (connection %d/%d): %v", endpoint, i+1, connectionsPerEP, err)
				continue
			}
			connections = append(connections, clientConn)
			Logger.Debugf("Connected to %s (connection %d/%d)", endpoint, i+1, connectionsPerEP)
		}
	}

	if len(connections) == 0 {
		return fmt.Errorf("failed to connect to any endpoint")
	}

	t.connectionsMu.Lock()
	t.connections = connections
	t.connectionsMu.Unlock()

	Logger.Infof("Connected %d out of %d connections to %d endpoints using %s transport",
		len(connections), len(config.Endpoints)*connectionsPerEP, len(config.Endpoints), t.connector.GetName())
	return nil
}

func (t *clientTransport) Send(cacheID uint64, req []byte) ([][]byte, error) {
	var lastErr error

	// We always try at least once, and up to RetryCount times
	maxRetries := t.config.RetryCount
	if maxRetries < 1 {
		maxRetries = 1
	}

	// Initial backoff duration in milliseconds
	backoffMs := 50

	for i := 0; i < maxRetries; i++ {
		conn := t.getNextConnection()
		if conn == nil {
			return nil, fmt.Errorf("no active connections available")
		}

		packets, err := conn.send(cacheID, req)
		if err == nil {
			return packets, nil
		}

		lastErr = err
		Logger.Debugf("Request attempt %d/%d failed: %v", i+1, maxRetries, err)
		if t.stopping.Load() {
			break
		}

		if i < maxRetries-1 {
			// Exponential backoff with a small random jitter (+-10%)
			jitter := float64(backoffMs) * (0.9 + 0.2*rand.Float64())
			time.Sleep(time.Duration(jitter) * time.Millisecond)
			backoffMs *= 2
		}
	}

	return nil, fmt.Errorf("failed to send request after %d attempts: %w", maxRetries, lastErr)
}

func (t *clientTransport) Close() error {
	t.stopping.Store(true)
	t.closeConnections()
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// getNextConnection selects the next connection via Round Robin
func (t *clientTransport) getNextConnection() *clientConnection {
	t.connectionsMu.RLock()
	defer t.connectionsMu.RUnlock()

	if len(t.connections) == 0 {
		return nil
	}
	if len(t.connections) == 1 {
		return t.connections[0]
	}
	index := atomic.AddUint64(&t.nextConnIndex, 1) % uint64(len(t.connections))
	return t.connections[index]
}

// closeConnections closes all connections and waits for their readers
func (t *clientTransport) closeConnections() {
	t.connectionsMu.Lock()
	connections := t.connections
	t.connections = nil
	t.connectionsMu.Unlock()

	for _, c := range connections {
		c.connMu.Lock()
		if c.conn != nil {
			c.conn.Close()
			c.conn = nil
		}
		c.connMu.Unlock()
		c.wg.Wait()
	}
}

// send writes one request on the connection and waits for its response
func (c *clientConnection) send(cacheID uint64, req []byte) ([][]byte, error) {
	c.connMu.Lock()
	if c.conn == nil {
		c.connMu.Unlock()
		if c.parent.stopping.Load() {
			return nil, fmt.Errorf("transport is closed")
		}
		if err := c.reconnect(); err != nil {
			return nil, err
		}
		c.connMu.Lock()
		if c.conn == nil {
			c.connMu.Unlock()
			return nil, fmt.Errorf("connection to %s is closed", c.endpoint)
		}
	}
	return c.sendLocked(cacheID, req)
}

// sendLocked writes the request. connMu must be held, it is released before
// waiting for the response.
func (c *clientConnection) sendLocked(cacheID uint64, req []byte) ([][]byte, error) {
	sequence := atomic.AddUint64(&c.parent.nextSequence, 1)
	respCh := make(chan responseResult, 1)
	c.requestChans.Store(sequence, respCh)
	defer c.requestChans.Delete(sequence)

	timeout := time.Duration(c.parent.config.TimeoutSecond) * time.Second
	if timeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(timeout))
	}
	err := writeRequest(c.conn, cacheID, sequence, req)
	c.connMu.Unlock()
	if err != nil {
		return nil, err
	}

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case result := <-respCh:
		return result.packets, result.err
	case <-timeoutCh:
		return nil, fmt.Errorf("request timed out")
	}
}

// readResponses reads responses in a loop and distributes them to waiting
// requests. It returns when the connection fails, pending requests then
// receive the error.
func (c *clientConnection) readResponses(conn net.Conn) {
	defer c.wg.Done()
	reader := bufio.NewReader(conn)

	for {
		cacheID, sequence, packets, err := readResponse(reader)
		if err != nil {
			c.connMu.Lock()
			if c.conn == conn {
				c.conn.Close()
				c.conn = nil
			}
			c.connMu.Unlock()

			c.requestChans.Range(func(seq uint64, ch chan responseResult) bool {
				select {
				case ch <- responseResult{err: fmt.Errorf("error reading response: %v", err)}:
				default:
				}
				return true
			})
			if !c.parent.stopping.Load() {
				Logger.Debugf("Connection to %s lost: %v", c.endpoint, err)
			}
			return
		}

		if respCh, found := c.requestChans.Load(sequence); found {
			respCh <- responseResult{packets: packets}
		} else {
			Logger.Warningf("Received response for unknown request %d of cache %d", sequence, cacheID)
		}
	}
}

// reconnect establishes a connection to the endpoint and runs the handshake
// on it before it is used for other requests
func (c *clientConnection) reconnect() error {
	conn, err := c.parent.connector.Connect(c.endpoint)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %v", c.endpoint, err)
	}

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.conn = conn
	c.wg.Add(1)
	go c.readResponses(conn)

	if c.parent.handshake == nil {
		c.connMu.Unlock()
		return nil
	}

	// The handshake holds the connection, requests of other goroutines wait
	handshakeSend := func(cacheID uint64, req []byte) ([][]byte, error) {
		if c.conn != conn {
			return nil, fmt.Errorf("connection to %s lost during handshake", c.endpoint)
		}
		packets, err := c.sendLocked(cacheID, req)
		c.connMu.Lock()
		return packets, err
	}
	err = c.parent.handshake(handshakeSend)
	if err != nil && c.conn == conn {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()
	if err != nil {
		return fmt.Errorf("handshake with %s failed: %w", c.endpoint, err)
	}
	return nil
}
