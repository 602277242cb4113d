package base

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dCache/rpc/common"
	"github.com/ValentinKolb/dCache/rpc/transport"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/sourcegraph/conc/pool"
)

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IServerConnector defines the interface for transport-specific server operations
type IServerConnector interface {
	// Listen creates a listener and returns it
	Listen(config common.ServerConfig) (net.Listener, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string
}

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

// serverConn is one accepted connection (implements transport.Conn)
type serverConn struct {
	id     uint64
	conn   net.Conn
	ctx    context.Context
	cancel context.CancelFunc
}

func (c *serverConn) ID() uint64               { return c.id }
func (c *serverConn) RemoteAddr() string       { return c.conn.RemoteAddr().String() }
func (c *serverConn) Context() context.Context { return c.ctx }

// serverTransport implements the core server transport functionality
type serverTransport struct {
	connector  IServerConnector
	handler    transport.ServerHandler
	config     common.ServerConfig
	bufferPool *sync.Pool

	mu       sync.Mutex
	listener net.Listener
	closed   bool
	done     chan struct{}

	conns  *xsync.MapOf[uint64, *serverConn]
	nextID atomic.Uint64
	connWG sync.WaitGroup
	// workers bounds the requests handled in parallel, an idle connection
	// holds no worker
	workers *pool.Pool
}

// -----------------------------------------------------------
// Transport Factory Method (used for tcp, unix, etc.)
// -----------------------------------------------------------

// NewBaseServerTransport creates a new base server transport. Every connection
// gets its own reader goroutine, the requests are handled by a bounded pool of
// config.Workers goroutines.
func NewBaseServerTransport(connector IServerConnector, bufferSize int) transport.IRPCServerTransport {
	return &serverTransport{
		connector: connector,
		done:      make(chan struct{}),
		conns:     xsync.NewMapOf[uint64, *serverConn](),
		bufferPool: &sync.Pool{
			New: func() interface{} {
				return make([]byte, bufferSize)
			},
		},
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCServerTransport)
// --------------------------------------------------------------------------

func (t *serverTransport) RegisterHandler(handler transport.ServerHandler) {
	t.handler = handler
}

func (t *serverTransport) Listen(config common.ServerConfig) error {
	if t.handler == nil {
		return fmt.Errorf("no handler registered")
	}
	t.config = config

	listener, err := t.connector.Listen(config)
	if err != nil {
		return fmt.Errorf("failed to create listener: %v", err)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		listener.Close()
		return nil
	}
	t.listener = listener
	t.mu.Unlock()
	defer close(t.done)

	workers := config.Workers
	if workers < 1 {
		workers = 1
	}
	t.workers = pool.New().WithMaxGoroutines(workers)

	Logger.Infof("Starting %s server on %s with %d request workers",
		t.connector.GetName(), config.Endpoint, workers)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if t.isClosed() {
				break
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			Logger.Errorf("Accept error: %v", err)
			time.Sleep(10 * time.Millisecond)
			continue
		}

		sc := t.register(conn)
		t.connWG.Add(1)
		go func() {
			defer t.connWG.Done()
			t.handleConnection(sc)
		}()
	}

	// Close the open connections and wait for their handlers
	t.closeConns()
	t.connWG.Wait()
	t.workers.Wait()
	return nil
}

func (t *serverTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	listener := t.listener
	t.mu.Unlock()

	if listener == nil {
		return nil
	}
	err := listener.Close()
	t.closeConns()
	<-t.done
	return err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (t *serverTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// closeConns closes every open connection and cancels the commands running on it
func (t *serverTransport) closeConns() {
	t.conns.Range(func(_ uint64, sc *serverConn) bool {
		sc.cancel()
		sc.conn.Close()
		return true
	})
}

// register assigns the connection its id and context
func (t *serverTransport) register(conn net.Conn) *serverConn {
	ctx, cancel := context.WithCancel(context.Background())
	sc := &serverConn{
		id:     t.nextID.Add(1),
		conn:   conn,
		ctx:    ctx,
		cancel: cancel,
	}
	t.conns.Store(sc.id, sc)
	if t.isClosed() {
		conn.Close()
	}
	return sc
}

// handleConnection serves the requests of one connection one after the other
func (t *serverTransport) handleConnection(sc *serverConn) {
	defer func() {
		sc.cancel()
		sc.conn.Close()
		t.conns.Delete(sc.id)
		t.handler.OnDisconnect(sc)
	}()

	timeout := time.Duration(t.config.TimeoutSecond) * time.Second
	reader := bufio.NewReader(sc.conn)
	buf := t.bufferPool.Get().([]byte)
	defer t.bufferPool.Put(buf)

	t.handler.OnConnect(sc)

	for {
		cacheID, sequence, data, err := readRequest(reader, buf)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				Logger.Debugf("Connection %d closed by client", sc.id)
			} else if !t.isClosed() {
				Logger.Errorf("Error reading request of connection %d: %v", sc.id, err)
			}
			return
		}

		packets := t.handle(sc, cacheID, sequence, data)

		if timeout > 0 {
			if err := sc.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
				Logger.Errorf("Failed to set write deadline: %v", err)
				return
			}
		}
		if err := writeResponse(sc.conn, cacheID, sequence, packets); err != nil {
			Logger.Errorf("Failed to write response of connection %d: %v", sc.id, err)
			return
		}
	}
}

// handle runs the handler on a worker and waits for its packets, so the
// requests of one connection stay in order
func (t *serverTransport) handle(sc *serverConn, cacheID, sequence uint64, data []byte) [][]byte {
	var packets [][]byte
	done := make(chan struct{})
	t.workers.Go(func() {
		defer close(done)
		start := time.Now()
		packets = t.handler.Handle(sc, cacheID, data)
		Logger.Debugf("Processed request %d for cache %d took %s", sequence, cacheID, time.Since(start))
	})
	<-done
	return packets
}
