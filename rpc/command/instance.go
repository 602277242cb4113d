package command

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dCache/lib/cache"
	"github.com/ValentinKolb/dCache/lib/dialect"
	"github.com/ValentinKolb/dCache/lib/ledger"
	"github.com/ValentinKolb/dCache/lib/pool"
	"github.com/ValentinKolb/dCache/lib/stats"
	"github.com/ValentinKolb/dCache/rpc/common"
)

// DefaultRequestTimeout is used when a client asks for the server default
const DefaultRequestTimeout = 90 * time.Second

// --------------------------------------------------------------------------
// Instance
// --------------------------------------------------------------------------

// CacheResolver looks up the caches served by an instance
type CacheResolver interface {
	CacheByID(id uint64) (cache.ICache, bool)
	CacheByName(name string) (cache.ICache, uint64, bool)
}

// SessionBinder is notified when a session completes Init. The server uses
// it to replace an older connection of the same client.
type SessionBinder interface {
	Bind(s *Session)
}

// Instance is the state shared by all commands of one server. Nothing in
// this package is process global, two instances never share pools or caches.
type Instance struct {
	Config  *common.ServerConfig
	Codec   common.Codec
	Pools   *pool.Manager
	Caches  CacheResolver
	Version string
	// Ledger is nil if the request ledger is disabled
	Ledger *ledger.Ledger
	// Stats and Sessions may be nil
	Stats    *stats.Collector
	Sessions SessionBinder
}

// --------------------------------------------------------------------------
// Session
// --------------------------------------------------------------------------

// Session is the per connection state established by Init
type Session struct {
	ConnID     uint64
	RemoteAddr string

	ClientID               string
	ClientVersion          int32
	IsDotNet               bool
	Dialect                dialect.Dialect
	SupportAcknowledgement bool
	RequestTimeout         time.Duration

	Cache     cache.ICache
	CacheID   uint64
	CacheName string

	ctx         context.Context
	initialized atomic.Bool
	disposed    atomic.Bool
	replaced    atomic.Bool
	released    atomic.Bool
}

// NewSession creates the session of a new connection. ctx is done when the
// connection goes away.
func NewSession(ctx context.Context, connID uint64, remoteAddr string) *Session {
	return &Session{
		ConnID:         connID,
		RemoteAddr:     remoteAddr,
		Dialect:        dialect.DotNet,
		RequestTimeout: DefaultRequestTimeout,
		ctx:            ctx,
	}
}

// Context returns the connection context
func (s *Session) Context() context.Context {
	if s.ctx == nil {
		return context.Background()
	}
	return s.ctx
}

// Initialized reports whether Init succeeded on the session
func (s *Session) Initialized() bool {
	return s.initialized.Load()
}

// Disposed reports whether the session was disposed or replaced
func (s *Session) Disposed() bool {
	return s.disposed.Load()
}

// Dispose marks the session as unusable. It reports false if it already was.
func (s *Session) Dispose() bool {
	return !s.disposed.Swap(true)
}

// Replace disposes a session whose client reconnected on another
// connection. The client state stays with the new session.
func (s *Session) Replace() {
	s.replaced.Store(true)
	s.Dispose()
}

// Release drops the client state held for the session by the cache and the
// ledger. Only the first call of an initialized, not replaced session has
// an effect.
func (s *Session) Release(inst *Instance) {
	if !s.Initialized() || s.replaced.Load() || s.released.Swap(true) {
		return
	}
	if s.Cache != nil {
		s.Cache.OnClientDisconnected(s.ClientID)
	}
	if inst != nil && inst.Ledger != nil {
		inst.Ledger.DropClient(s.ClientID)
	}
}

// AcceptsCacheID reports whether a frame for cacheID may be served by the
// session. Frames with id 0 always address the bound cache.
func (s *Session) AcceptsCacheID(cacheID uint64) bool {
	return cacheID == 0 || !s.Initialized() || cacheID == s.CacheID
}
