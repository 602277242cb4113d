package server

import (
	"github.com/ValentinKolb/dCache/rpc/command"
	"github.com/puzpuzpuz/xsync/v3"
)

// clientRegistry maps client ids to the session that currently serves the
// client (implements command.SessionBinder). A client that initializes a
// second connection replaces the first one.
type clientRegistry struct {
	sessions *xsync.MapOf[string, *command.Session]
}

func newClientRegistry() *clientRegistry {
	return &clientRegistry{sessions: xsync.NewMapOf[string, *command.Session]()}
}

// Bind makes s the session of its client. The previous session of the
// client is replaced, its client state stays with s.
func (r *clientRegistry) Bind(s *command.Session) {
	old, loaded := r.sessions.LoadAndStore(s.ClientID, s)
	if loaded && old != s {
		old.Replace()
		Logger.Infof("client %s reconnected from %s, replaced connection %d", s.ClientID, s.RemoteAddr, old.ConnID)
	}
}

// unbind removes s if it still is the session of its client. It reports
// whether s was removed.
func (r *clientRegistry) unbind(s *command.Session) bool {
	removed := false
	r.sessions.Compute(s.ClientID, func(cur *command.Session, loaded bool) (*command.Session, bool) {
		if !loaded {
			return cur, true
		}
		if cur != s {
			return cur, false
		}
		removed = true
		return cur, true
	})
	return removed
}

// session returns the current session of a client
func (r *clientRegistry) session(clientID string) (*command.Session, bool) {
	return r.sessions.Load(clientID)
}

// Len returns the number of bound clients
func (r *clientRegistry) Len() int {
	return r.sessions.Size()
}
