package server

import (
	"context"
	"time"

	"github.com/ValentinKolb/dCache/lib/cache"
	"github.com/ValentinKolb/dCache/lib/stats"
	"github.com/ValentinKolb/dCache/rpc/command"
	"github.com/ValentinKolb/dCache/rpc/common"
	"github.com/ValentinKolb/dCache/rpc/transport"
	"github.com/cockroachdb/errors"
	"github.com/puzpuzpuz/xsync/v3"
)

// Reasons a command is dropped without a response
const (
	dropOffline   = "offline"
	dropMalformed = "malformed"
)

// IsMonitoringCommand reports whether commands of type t run under the
// request timeout of the client when request cancellation is enabled
func IsMonitoringCommand(t common.CommandType) bool {
	switch t {
	case common.CmdInit, common.CmdGetOptimalServer, common.CmdGetExpiration, common.CmdInsert,
		common.CmdRegisterKeyNotification, common.CmdRegisterBulkKeyNotification, common.CmdRegisterPollingNotification:
		return false
	}
	return true
}

// isUnsafe reports whether a retry of t would change the cache again. The
// ledger tracks these commands for clients with acknowledgement support.
func isUnsafe(t common.CommandType) bool {
	switch t {
	case common.CmdAdd, common.CmdInsert, common.CmdRemove, common.CmdDelete,
		common.CmdBulkAdd, common.CmdBulkInsert, common.CmdBulkRemove, common.CmdBulkDelete:
		return true
	}
	return false
}

// CommandManager dispatches the requests of all connections to the commands
// (implements transport.ServerHandler)
type CommandManager struct {
	inst     *command.Instance
	registry *command.Registry
	caches   *cacheTable
	clients  *clientRegistry
	// sessions by connection id
	sessions *xsync.MapOf[uint64, *command.Session]
}

// newCommandManager creates the manager of inst. It binds itself as the
// session binder of inst and registers its gauges.
func newCommandManager(inst *command.Instance, caches *cacheTable) *CommandManager {
	m := &CommandManager{
		inst:     inst,
		caches:   caches,
		clients:  newClientRegistry(),
		sessions: xsync.NewMapOf[uint64, *command.Session](),
	}
	inst.Sessions = m.clients
	m.registry = command.NewRegistry(inst)

	if inst.Stats != nil {
		inst.Stats.RegisterGauge("dcache_connections", func() float64 { return float64(m.sessions.Size()) })
		inst.Stats.RegisterGauge("dcache_clients", func() float64 { return float64(m.clients.Len()) })
		inst.Stats.RegisterGauge("dcache_pool_leases_outstanding", func() float64 { return float64(inst.Pools.Outstanding()) })
		if inst.Ledger != nil {
			inst.Stats.RegisterGauge("dcache_ledger_records", func() float64 { return float64(inst.Ledger.Len()) })
		}
	}
	return m
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.ServerHandler)
// --------------------------------------------------------------------------

func (m *CommandManager) OnConnect(conn transport.Conn) {
	m.sessions.Store(conn.ID(), command.NewSession(conn.Context(), conn.ID(), conn.RemoteAddr()))
	Logger.Debugf("connection %d from %s opened", conn.ID(), conn.RemoteAddr())
}

func (m *CommandManager) OnDisconnect(conn transport.Conn) {
	s, ok := m.sessions.LoadAndDelete(conn.ID())
	if !ok {
		return
	}
	if s.Initialized() {
		m.clients.unbind(s)
	}
	s.Release(m.inst)
	s.Dispose()
	Logger.Debugf("connection %d from %s closed", conn.ID(), conn.RemoteAddr())
}

func (m *CommandManager) Handle(conn transport.Conn, cacheID uint64, req []byte) [][]byte {
	s, ok := m.sessions.Load(conn.ID())
	if !ok {
		// the transport did not announce the connection
		s, _ = m.sessions.LoadOrStore(conn.ID(), command.NewSession(conn.Context(), conn.ID(), conn.RemoteAddr()))
	}

	var cmd common.Command
	if err := m.inst.Codec.Deserialize(req, &cmd); err != nil {
		Logger.Errorf("malformed command from %s: %v", s.RemoteAddr, err)
		if m.inst.Stats != nil {
			m.inst.Stats.CommandDropped(common.CmdUnknown, dropMalformed)
		}
		return nil
	}
	return m.dispatch(conn.Context(), s, cacheID, &cmd)
}

// --------------------------------------------------------------------------
// Dispatch
// --------------------------------------------------------------------------

// dispatch runs one command on the session and returns its packets
func (m *CommandManager) dispatch(ctx context.Context, s *command.Session, cacheID uint64, cmd *common.Command) [][]byte {
	if !s.Initialized() && cmd.Type == common.CmdInit {
		// Init without a cache name binds the cache of the frame
		s.CacheID = cacheID
	}
	if !s.AcceptsCacheID(cacheID) {
		return command.ErrorPackets(m.inst, s, cmd,
			errors.Newf("cache %d is not the cache %d bound to the session", cacheID, s.CacheID))
	}
	if m.offline(s, cacheID) {
		Logger.Debugf("dropped %s (request %d), cache is offline", cmd.Type, cmd.RequestID)
		if m.inst.Stats != nil {
			m.inst.Stats.CommandDropped(cmd.Type, dropOffline)
		}
		return nil
	}

	c, ok := m.registry.Rent(cmd.Type)
	if !ok {
		return command.ErrorPackets(m.inst, s, cmd, errors.Wrapf(cache.ErrNotSupported, "command type %d", uint16(cmd.Type)))
	}
	defer c.ReturnLeasableToPool()

	acknowledged := m.inst.Ledger != nil && s.SupportAcknowledgement && isUnsafe(cmd.Type)
	if acknowledged {
		m.inst.Ledger.Register(s.ClientID, cmd.RequestID, cmd.CommandID, cmd.AcknowledgementID)
	}

	if m.inst.Config.EnableRequestCancellation && IsMonitoringCommand(cmd.Type) && s.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.RequestTimeout)
		defer cancel()
	}

	start := time.Now()
	c.ExecuteCommand(ctx, s, cmd)
	elapsed := time.Since(start)

	// the packets belong to the command until it is returned to its pool
	packets := append([][]byte(nil), c.SerializedResponsePackets()...)
	failed := c.OperationResult() == command.Failure

	if acknowledged {
		// a failed command is replayed with its exception, unless its client is gone
		if failed && s.Disposed() {
			m.inst.Ledger.Update(s.ClientID, cmd.RequestID, common.RequestReceivedWithError, nil)
		} else {
			m.inst.Ledger.Update(s.ClientID, cmd.RequestID, common.RequestReceivedAndExecuted, packets)
		}
	}

	m.record(c, elapsed, failed)
	if limit := m.inst.Config.SlowCommandThresholdMs; limit > 0 && elapsed > time.Duration(limit)*time.Millisecond {
		Logger.Warningf("slow command from %s took %s: %s", s.RemoteAddr, elapsed, c.GetCommandParameters())
	}
	if c.IsCancelled() {
		Logger.Infof("%s (request %d) of %s was cancelled", cmd.Type, cmd.RequestID, s.ClientID)
	}
	return packets
}

// offline reports whether the cache addressed by the request is offline
func (m *CommandManager) offline(s *command.Session, cacheID uint64) bool {
	id := cacheID
	if s.Initialized() {
		id = s.CacheID
	}
	hc, ok := m.caches.hosted(id)
	return ok && hc.offline.Load()
}

// record updates the performance counters for an executed command
func (m *CommandManager) record(c command.CommandBase, elapsed time.Duration, failed bool) {
	st := m.inst.Stats
	if st == nil {
		return
	}
	st.MsecPerCacheOperation(elapsed)
	if kind, ok := stats.BulkKindOf(c.Type()); ok && c.IsBulkOperation() {
		st.BulkOperation(kind, elapsed, c.ItemCount())
	}
	st.IncrementRequestsPerSec(1)
	st.CommandExecuted(c.Type(), elapsed, failed)
}
