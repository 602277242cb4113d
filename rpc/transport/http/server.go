package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dCache/rpc/common"
	"github.com/ValentinKolb/dCache/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("transport/rpc")

// SessionHeader carries the session id chosen by the client. HTTP has no
// connections, a session stands in for one.
const SessionHeader = "X-Dcache-Session"

func NewHttpServerTransport() transport.IRPCServerTransport {
	return &httpServerTransport{
		sessions: xsync.NewMapOf[string, *session](),
	}
}

// session is the virtual connection of one client (implements transport.Conn)
type session struct {
	id     uint64
	remote string
	ctx    context.Context
	cancel context.CancelFunc
	// mu serializes the requests of the session
	mu sync.Mutex
}

func (s *session) ID() uint64               { return s.id }
func (s *session) RemoteAddr() string       { return s.remote }
func (s *session) Context() context.Context { return s.ctx }

type httpServerTransport struct {
	handler  transport.ServerHandler
	config   common.ServerConfig
	sessions *xsync.MapOf[string, *session]
	nextID   atomic.Uint64

	mu     sync.Mutex
	server *http.Server
	closed bool
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCServerTransport)
// --------------------------------------------------------------------------

func (t *httpServerTransport) RegisterHandler(handler transport.ServerHandler) {
	t.handler = handler
}

func (t *httpServerTransport) Listen(config common.ServerConfig) error {
	t.config = config

	mux := http.NewServeMux()
	if t.config.LogLevel == "debug" {
		mux.HandleFunc("POST /{cacheId}", loggerMiddleware(t.handleRequest))
		mux.HandleFunc("DELETE /session", loggerMiddleware(t.handleEndSession))
	} else {
		mux.HandleFunc("POST /{cacheId}", t.handleRequest)
		mux.HandleFunc("DELETE /session", t.handleEndSession)
	}

	server := &http.Server{
		Addr:              config.Endpoint,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.server = server
	t.mu.Unlock()

	Logger.Infof("Starting HTTP server on %s", config.Endpoint)
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (t *httpServerTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	server := t.server
	t.mu.Unlock()

	var err error
	if server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = server.Shutdown(ctx)
	}

	t.sessions.Range(func(id string, _ *session) bool {
		t.endSession(id)
		return true
	})
	return err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// sessionFor returns the session of the request, opening it on first use
func (t *httpServerTransport) sessionFor(r *http.Request) (*session, bool) {
	id := r.Header.Get(SessionHeader)
	if id == "" {
		return nil, false
	}
	s, loaded := t.sessions.LoadOrCompute(id, func() *session {
		ctx, cancel := context.WithCancel(context.Background())
		return &session{
			id:     t.nextID.Add(1),
			remote: r.RemoteAddr,
			ctx:    ctx,
			cancel: cancel,
		}
	})
	if !loaded {
		t.handler.OnConnect(s)
	}
	return s, true
}

// endSession closes a session, it is a no-op for unknown ids
func (t *httpServerTransport) endSession(id string) {
	s, ok := t.sessions.LoadAndDelete(id)
	if !ok {
		return
	}
	s.cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	t.handler.OnDisconnect(s)
}

// handleRequest handles incoming HTTP requests and writes the response packets
func (t *httpServerTransport) handleRequest(w http.ResponseWriter, r *http.Request) {
	cacheID, err := strconv.ParseUint(r.PathValue("cacheId"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid cacheId", http.StatusBadRequest)
		return
	}

	s, ok := t.sessionFor(r)
	if !ok {
		http.Error(w, "Missing session header", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(r.Body)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusInternalServerError)
		return
	}

	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		http.Error(w, "Session closed", http.StatusGone)
		return
	}
	packets := t.handler.Handle(s, cacheID, body)
	s.mu.Unlock()

	if _, err = w.Write(transport.EncodePackets(packets)); err != nil {
		Logger.Errorf("Failed to write response: %v", err)
	}
}

// handleEndSession ends the session named in the session header
func (t *httpServerTransport) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get(SessionHeader)
	if id == "" {
		http.Error(w, "Missing session header", http.StatusBadRequest)
		return
	}
	t.endSession(id)
	w.WriteHeader(http.StatusNoContent)
}

// --------------------------------------------------------------------------
// Middleware (logging)
// --------------------------------------------------------------------------

// responseWriter is a custom ResponseWriter that captures status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

// WriteHeader captures the status code before writing it
func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// loggerMiddleware is a middleware that logs HTTP requests
func loggerMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Create custom response writer to capture status code
		rw := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(rw, r)

		Logger.Debugf("%s %s => %d took %s", r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	}
}
