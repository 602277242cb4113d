package server

import (
	"context"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/dCache/lib/cache"
	"github.com/ValentinKolb/dCache/lib/cache/lcache"
	"github.com/ValentinKolb/dCache/lib/ledger"
	"github.com/ValentinKolb/dCache/lib/opctx"
	"github.com/ValentinKolb/dCache/lib/pool"
	"github.com/ValentinKolb/dCache/lib/stats"
	"github.com/ValentinKolb/dCache/rpc/command"
	"github.com/ValentinKolb/dCache/rpc/common"
	"github.com/ValentinKolb/dCache/rpc/serializer"
)

type fakeConn struct {
	id  uint64
	ctx context.Context
}

func (c *fakeConn) ID() uint64               { return c.id }
func (c *fakeConn) RemoteAddr() string       { return "127.0.0.1:4000" }
func (c *fakeConn) Context() context.Context { return c.ctx }

// blockingEngine blocks Count until the operation is cancelled
type blockingEngine struct {
	*lcache.Cache
}

func (b *blockingEngine) Count(oc *opctx.OperationContext) (int64, error) {
	<-oc.Context().Done()
	return 0, cache.Canceled(oc.Context())
}

// engineRecorder is an EngineFactory that keeps the engines it created
type engineRecorder struct {
	mu      sync.Mutex
	engines map[uint64]*lcache.Cache
	wrap    func(*lcache.Cache) cache.ICache
}

func (r *engineRecorder) create(sc common.ServerCache) (cache.ICache, error) {
	opts := lcache.DefaultOptions(sc.Name)
	opts.JanitorInterval = 0
	c := lcache.New(opts)
	r.mu.Lock()
	if r.engines == nil {
		r.engines = make(map[uint64]*lcache.Cache)
	}
	r.engines[sc.CacheID] = c
	r.mu.Unlock()
	if r.wrap != nil {
		return r.wrap(c), nil
	}
	return c, nil
}

type testManager struct {
	t       *testing.T
	m       *CommandManager
	inst    *command.Instance
	engines *engineRecorder
	nextID  int64
}

func newTestManager(t *testing.T, engines *engineRecorder, mods ...func(*common.ServerConfig)) *testManager {
	cfg := common.DefaultServerConfig()
	cfg.Caches = []common.ServerCache{
		{CacheID: 1, Name: "default", Engine: common.EngineLocal},
		{CacheID: 2, Name: "sessions", Engine: common.EngineLocal},
	}
	for _, m := range mods {
		m(&cfg)
	}
	if engines == nil {
		engines = &engineRecorder{}
	}

	caches, err := newCacheTable(cfg.Caches, engines.create)
	if err != nil {
		t.Fatalf("failed to create caches: %v", err)
	}
	inst := &command.Instance{
		Config:  &cfg,
		Codec:   serializer.NewJSONSerializer(),
		Pools:   pool.NewManager(!cfg.Pooling),
		Caches:  caches,
		Version: common.Version,
		Stats:   stats.New(),
	}
	if cfg.RequestLedger {
		inst.Ledger = ledger.New(time.Minute)
	}
	t.Cleanup(func() {
		if err := caches.Close(); err != nil {
			t.Errorf("failed to close caches: %v", err)
		}
		if inst.Ledger != nil {
			inst.Ledger.Close()
		}
		inst.Stats.Stop()
	})
	return &testManager{t: t, m: newCommandManager(inst, caches), inst: inst, engines: engines}
}

func (tm *testManager) connect(id uint64) *fakeConn {
	conn := &fakeConn{id: id, ctx: context.Background()}
	tm.m.OnConnect(conn)
	return conn
}

func (tm *testManager) send(conn *fakeConn, cacheID uint64, typ common.CommandType, req any) [][]byte {
	tm.t.Helper()
	tm.nextID++
	return tm.sendID(conn, cacheID, tm.nextID, typ, req)
}

func (tm *testManager) sendID(conn *fakeConn, cacheID uint64, requestID int64, typ common.CommandType, req any) [][]byte {
	tm.t.Helper()
	cmd := &common.Command{Type: typ, RequestID: requestID, CommandVersion: 2}
	if req != nil {
		payload, err := tm.inst.Codec.Serialize(req)
		if err != nil {
			tm.t.Fatalf("failed to serialize request: %v", err)
		}
		cmd.Payload = payload
	}
	data, err := tm.inst.Codec.Serialize(cmd)
	if err != nil {
		tm.t.Fatalf("failed to serialize command: %v", err)
	}
	return tm.m.Handle(conn, cacheID, data)
}

func (tm *testManager) init(conn *fakeConn, cacheID uint64, clientID, cacheName string, timeoutMs int64) common.InitResponse {
	tm.t.Helper()
	packets := tm.send(conn, cacheID, common.CmdInit, &common.InitRequest{
		ClientID:           clientID,
		ClientVersion:      common.ClientVersionStandalone,
		OperationTimeoutMs: timeoutMs,
		CacheName:          cacheName,
	})
	var resp common.InitResponse
	tm.decode(packets, &resp)
	return resp
}

// decode deserializes the only packet into v and fails on exceptions
func (tm *testManager) decode(packets [][]byte, v common.Headed) {
	tm.t.Helper()
	if len(packets) != 1 {
		tm.t.Fatalf("expected 1 packet, got %d", len(packets))
	}
	p, err := common.DecodePacket(tm.inst.Codec, packets[0])
	if err != nil {
		tm.t.Fatalf("failed to decode packet: %v", err)
	}
	if p.Type == common.RespException {
		exc, _ := p.Exception(tm.inst.Codec)
		tm.t.Fatalf("unexpected exception: %v", &exc.Exception)
	}
	if err := p.Decode(tm.inst.Codec, v); err != nil {
		tm.t.Fatalf("failed to decode body: %v", err)
	}
}

// exception returns the exception carried by the only packet
func (tm *testManager) exception(packets [][]byte) *common.ExceptionDescriptor {
	tm.t.Helper()
	if len(packets) != 1 {
		tm.t.Fatalf("expected 1 packet, got %d", len(packets))
	}
	p, err := common.DecodePacket(tm.inst.Codec, packets[0])
	if err != nil {
		tm.t.Fatalf("failed to decode packet: %v", err)
	}
	exc, err := p.Exception(tm.inst.Codec)
	if err != nil {
		tm.t.Fatalf("expected an exception: %v", err)
	}
	return &exc.Exception
}

func TestDispatchBindsCache(t *testing.T) {
	tm := newTestManager(t, nil)
	conn := tm.connect(1)
	defer tm.m.OnDisconnect(conn)

	// Init without a name binds the cache of the frame
	resp := tm.init(conn, 2, "client-1", "", -1)
	if resp.CacheID != 2 || resp.CacheName != "sessions" {
		t.Fatalf("Expected cache 2 (sessions), got %d (%s)", resp.CacheID, resp.CacheName)
	}

	var version common.VersionResponse
	tm.decode(tm.send(conn, 0, common.CmdAdd, common.NewItemRequest("a", []byte("1"))), &version)
	var count common.CountResponse
	tm.decode(tm.send(conn, 2, common.CmdCount, nil), &count)
	if count.Count != 1 {
		t.Errorf("Expected 1 item, got %d", count.Count)
	}
	if n, _ := tm.engines.engines[1].Count(opctx.New(opctx.CacheOperation)); n != 0 {
		t.Errorf("Expected the default cache to stay empty, got %d items", n)
	}

	// a frame for another cache is rejected
	exc := tm.exception(tm.send(conn, 1, common.CmdCount, nil))
	if exc.Type != common.ExceptionGeneralFailure {
		t.Errorf("Expected general failure for a foreign cache, got %v", exc)
	}

	// unknown command types are not supported
	exc = tm.exception(tm.send(conn, 0, common.CommandType(999), nil))
	if exc.Type != common.ExceptionNotSupported {
		t.Errorf("Expected not supported for an unknown type, got %v", exc)
	}

	// malformed frames are dropped
	if packets := tm.m.Handle(conn, 0, []byte("{not json")); packets != nil {
		t.Errorf("Expected no packets for a malformed frame, got %d", len(packets))
	}

	// commands before Init fail on a fresh connection
	other := tm.connect(2)
	defer tm.m.OnDisconnect(other)
	exc = tm.exception(tm.send(other, 1, common.CmdCount, nil))
	if exc.ErrorCode != common.ErrorCodeNoSession {
		t.Errorf("Expected no session, got %v", exc)
	}
}

func TestClientReplacement(t *testing.T) {
	tm := newTestManager(t, nil)
	first := tm.connect(1)
	second := tm.connect(2)

	tm.init(first, 1, "client-1", "default", -1)
	tm.init(second, 1, "client-1", "default", -1)

	if s, ok := tm.m.clients.session("client-1"); !ok || s.ConnID != 2 {
		t.Fatalf("Expected connection 2 to serve the client")
	}

	// the replaced connection is no longer usable
	exc := tm.exception(tm.send(first, 0, common.CmdCount, nil))
	if exc.ErrorCode != common.ErrorCodeNoSession {
		t.Errorf("Expected no session on the replaced connection, got %v", exc)
	}
	var count common.CountResponse
	tm.decode(tm.send(second, 0, common.CmdCount, nil), &count)

	// closing the replaced connection keeps the client bound
	tm.m.OnDisconnect(first)
	if tm.m.clients.Len() != 1 {
		t.Errorf("Expected the client to stay bound, got %d clients", tm.m.clients.Len())
	}
	tm.m.OnDisconnect(second)
	if tm.m.clients.Len() != 0 || tm.m.sessions.Size() != 0 {
		t.Errorf("Expected no clients and sessions, got %d and %d", tm.m.clients.Len(), tm.m.sessions.Size())
	}
}

func TestLedgerTracksUnsafeCommands(t *testing.T) {
	tm := newTestManager(t, nil, func(c *common.ServerConfig) { c.RequestLedger = true })
	conn := tm.connect(1)
	defer tm.m.OnDisconnect(conn)

	if resp := tm.init(conn, 1, "client-1", "default", -1); !resp.SupportAcknowledgement {
		t.Fatalf("Expected acknowledgement support")
	}

	added := tm.sendID(conn, 0, 7, common.CmdAdd, common.NewItemRequest("a", []byte("1")))
	status, packets := tm.inst.Ledger.Status("client-1", 7)
	if status != common.RequestReceivedAndExecuted || !reflect.DeepEqual(packets, added) {
		t.Errorf("Expected request 7 executed with its packets, got %s", status)
	}

	tm.sendID(conn, 0, 8, common.CmdCount, nil)
	if status, _ := tm.inst.Ledger.Status("client-1", 8); status != common.RequestNotReceived {
		t.Errorf("Expected reads to stay untracked, got %s", status)
	}

	// a failed write keeps its exception for the retry of the client
	failed := tm.sendID(conn, 0, 9, common.CmdAdd, common.NewItemRequest("a", []byte("2")))
	status, packets = tm.inst.Ledger.Status("client-1", 9)
	if status != common.RequestReceivedAndExecuted || !reflect.DeepEqual(packets, failed) {
		t.Errorf("Expected request 9 executed with its exception packets, got %s", status)
	}
	if exc := tm.exception(packets); exc.ErrorCode != common.ErrorCodeKeyExists {
		t.Errorf("Expected the stored exception to report an existing key, got %v", exc)
	}

	var inquiry common.InquiryResponse
	tm.decode(tm.send(conn, 0, common.CmdInquiryRequest, &common.InquiryRequest{RequestID: 7}), &inquiry)
	if inquiry.Status != common.RequestReceivedAndExecuted {
		t.Errorf("Expected inquiry to report request 7 executed, got %s", inquiry.Status)
	}

	// the records of a client go away with its connection
	tm.m.OnDisconnect(conn)
	if n := tm.inst.Ledger.Len(); n != 0 {
		t.Errorf("Expected an empty ledger after disconnect, got %d records", n)
	}

	// a failure on a disposed session keeps no packets
	old := tm.connect(2)
	defer tm.m.OnDisconnect(old)
	tm.init(old, 1, "client-2", "default", -1)
	replacement := tm.connect(3)
	defer tm.m.OnDisconnect(replacement)
	tm.init(replacement, 1, "client-2", "default", -1)

	tm.sendID(old, 0, 10, common.CmdAdd, common.NewItemRequest("b", []byte("1")))
	status, packets = tm.inst.Ledger.Status("client-2", 10)
	if status != common.RequestReceivedWithError || packets != nil {
		t.Errorf("Expected request 10 failed without packets, got %s with %d packets", status, len(packets))
	}
}

func TestOfflineCacheDropsCommands(t *testing.T) {
	tm := newTestManager(t, nil)
	conn := tm.connect(1)
	defer tm.m.OnDisconnect(conn)
	tm.init(conn, 1, "client-1", "default", -1)

	engine := tm.engines.engines[1]
	engine.SetOperationMode(cache.ModeOffline)
	if packets := tm.send(conn, 0, common.CmdCount, nil); packets != nil {
		t.Errorf("Expected no response while offline, got %d packets", len(packets))
	}
	if n := tm.inst.Stats.CommandCount(common.CmdCount); n != 0 {
		t.Errorf("Expected dropped commands not to count as executed, got %d", n)
	}

	engine.SetOperationMode(cache.ModeOnline)
	var count common.CountResponse
	tm.decode(tm.send(conn, 0, common.CmdCount, nil), &count)
}

func TestStatsCounts(t *testing.T) {
	tm := newTestManager(t, nil)
	conn := tm.connect(1)
	defer tm.m.OnDisconnect(conn)
	tm.init(conn, 1, "client-1", "default", -1)

	tm.send(conn, 0, common.CmdAdd, common.NewItemRequest("a", []byte("1")))
	tm.send(conn, 0, common.CmdAdd, common.NewItemRequest("a", []byte("1")))
	tm.send(conn, 0, common.CmdBulkGet, &common.KeysRequest{Keys: []string{"a", "b"}})

	if n := tm.inst.Stats.CommandCount(common.CmdAdd); n != 2 {
		t.Errorf("Expected 2 adds, got %d", n)
	}
	if n := tm.inst.Stats.FailureCount(common.CmdAdd); n != 1 {
		t.Errorf("Expected 1 failed add, got %d", n)
	}
	if n := tm.inst.Stats.CommandCount(common.CmdBulkGet); n != 1 {
		t.Errorf("Expected 1 bulk get, got %d", n)
	}
	// init, two adds and the bulk get
	if snap := tm.inst.Stats.Snapshot(); snap.Requests != 4 {
		t.Errorf("Expected 4 requests, got %d", snap.Requests)
	}
	if n := tm.inst.Pools.Outstanding(); n != 0 {
		t.Errorf("Expected all leases returned, got %d", n)
	}
}

func TestRequestCancellation(t *testing.T) {
	engines := &engineRecorder{wrap: func(c *lcache.Cache) cache.ICache { return &blockingEngine{Cache: c} }}
	tm := newTestManager(t, engines, func(c *common.ServerConfig) { c.EnableRequestCancellation = true })
	conn := tm.connect(1)
	defer tm.m.OnDisconnect(conn)
	tm.init(conn, 1, "client-1", "default", 50)

	start := time.Now()
	if packets := tm.send(conn, 0, common.CmdCount, nil); packets != nil {
		t.Errorf("Expected no response for a cancelled command, got %d packets", len(packets))
	}
	if d := time.Since(start); d > 5*time.Second {
		t.Errorf("Expected the command to be cancelled after the client timeout, took %s", d)
	}
	if n := tm.inst.Stats.FailureCount(common.CmdCount); n != 1 {
		t.Errorf("Expected the cancelled command to count as failed, got %d", n)
	}
}

func TestIsMonitoringCommand(t *testing.T) {
	for _, typ := range []common.CommandType{
		common.CmdInit, common.CmdGetOptimalServer, common.CmdGetExpiration, common.CmdInsert,
		common.CmdRegisterKeyNotification, common.CmdRegisterBulkKeyNotification, common.CmdRegisterPollingNotification,
	} {
		if IsMonitoringCommand(typ) {
			t.Errorf("Expected %s to run without the request timeout", typ)
		}
	}
	for _, typ := range []common.CommandType{common.CmdGet, common.CmdAdd, common.CmdSearch, common.CmdBulkInsert, common.CmdUnregisterKeyNotification} {
		if !IsMonitoringCommand(typ) {
			t.Errorf("Expected %s to run under the request timeout", typ)
		}
	}
}
