package command

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/dCache/lib/cache"
	"github.com/ValentinKolb/dCache/lib/cache/lcache"
	"github.com/ValentinKolb/dCache/lib/ledger"
	"github.com/ValentinKolb/dCache/lib/opctx"
	"github.com/ValentinKolb/dCache/lib/pool"
	"github.com/ValentinKolb/dCache/rpc/common"
	"github.com/ValentinKolb/dCache/rpc/serializer"
)

// --------------------------------------------------------------------------
// Engine
// --------------------------------------------------------------------------

func newEngine(t *testing.T) *lcache.Cache {
	opts := lcache.DefaultOptions("test")
	opts.JanitorInterval = 0
	c := lcache.New(opts)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// stubEngine wraps the reference engine to inject failures
type stubEngine struct {
	*lcache.Cache
	// before runs ahead of the hooked operations, an error is returned as is
	before func(op string, oc *opctx.OperationContext) error
	// afterRemoveBulk may rewrite the result of RemoveBulk
	afterRemoveBulk func(res cache.BulkResult)
}

func (s *stubEngine) hook(op string, oc *opctx.OperationContext) error {
	if s.before == nil {
		return nil
	}
	return s.before(op, oc)
}

func (s *stubEngine) Count(oc *opctx.OperationContext) (int64, error) {
	if err := s.hook("count", oc); err != nil {
		return 0, err
	}
	return s.Cache.Count(oc)
}

func (s *stubEngine) Add(key string, entry *cache.CacheEntry, oc *opctx.OperationContext) error {
	if err := s.hook("add", oc); err != nil {
		return err
	}
	return s.Cache.Add(key, entry, oc)
}

func (s *stubEngine) Insert(key string, entry *cache.CacheEntry, lock *cache.LockHandle, access cache.LockAccessType, oc *opctx.OperationContext) error {
	if err := s.hook("insert", oc); err != nil {
		return err
	}
	return s.Cache.Insert(key, entry, lock, access, oc)
}

func (s *stubEngine) Get(key string, version uint64, lock *cache.LockHandle, access cache.LockAccessType, timeout time.Duration, oc *opctx.OperationContext) (*cache.Item, error) {
	if err := s.hook("get", oc); err != nil {
		return nil, err
	}
	return s.Cache.Get(key, version, lock, access, timeout, oc)
}

func (s *stubEngine) RemoveBulk(keys []string, flags *cache.BitSet, oc *opctx.OperationContext) (cache.BulkResult, error) {
	res, err := s.Cache.RemoveBulk(keys, flags, oc)
	if err == nil && s.afterRemoveBulk != nil {
		s.afterRemoveBulk(res)
	}
	return res, err
}

type testCaches struct {
	c cache.ICache
}

func (tc testCaches) CacheByID(id uint64) (cache.ICache, bool) {
	if id != 1 {
		return nil, false
	}
	return tc.c, true
}

func (tc testCaches) CacheByName(name string) (cache.ICache, uint64, bool) {
	if !strings.EqualFold(name, tc.c.Name()) {
		return nil, 0, false
	}
	return tc.c, 1, true
}

// --------------------------------------------------------------------------
// Harness
// --------------------------------------------------------------------------

// harness executes commands the way the command manager does
type harness struct {
	t       *testing.T
	inst    *Instance
	reg     *Registry
	session *Session
	nextID  int64
}

// result is what a command left behind after its execution
type result struct {
	packets   [][]byte
	outcome   OperationResult
	cancelled bool
	params    string
	items     int
}

func newHarness(t *testing.T, engine cache.ICache, mods ...func(*common.ServerConfig)) *harness {
	cfg := common.DefaultServerConfig()
	for _, m := range mods {
		m(&cfg)
	}
	inst := &Instance{
		Config:  &cfg,
		Codec:   serializer.NewJSONSerializer(),
		Pools:   pool.NewManager(!cfg.Pooling),
		Caches:  testCaches{c: engine},
		Version: "test",
	}
	if cfg.RequestLedger {
		inst.Ledger = ledger.New(time.Minute)
		t.Cleanup(inst.Ledger.Close)
	}
	return &harness{
		t:       t,
		inst:    inst,
		reg:     NewRegistry(inst),
		session: NewSession(context.Background(), 1, "127.0.0.1:40000"),
	}
}

func (h *harness) exec(typ common.CommandType, req any, mods ...func(*common.Command)) result {
	h.t.Helper()
	return h.execCtx(context.Background(), typ, req, mods...)
}

func (h *harness) execCtx(ctx context.Context, typ common.CommandType, req any, mods ...func(*common.Command)) result {
	h.t.Helper()
	h.nextID++
	cmd := &common.Command{Type: typ, RequestID: h.nextID, CommandVersion: 2}
	if req != nil {
		payload, err := h.inst.Codec.Serialize(req)
		if err != nil {
			h.t.Fatalf("failed to serialize %s request: %v", typ, err)
		}
		cmd.Payload = payload
	}
	for _, m := range mods {
		m(cmd)
	}

	c, ok := h.reg.Rent(typ)
	if !ok {
		h.t.Fatalf("no command registered for %s", typ)
	}
	c.ExecuteCommand(ctx, h.session, cmd)
	res := result{
		packets:   append([][]byte(nil), c.SerializedResponsePackets()...),
		outcome:   c.OperationResult(),
		cancelled: c.IsCancelled(),
		params:    c.GetCommandParameters(),
		items:     c.ItemCount(),
	}
	c.ReturnLeasableToPool()
	return res
}

func (h *harness) init(clientVersion int32, dotNet bool) common.InitResponse {
	h.t.Helper()
	res := h.exec(common.CmdInit, &common.InitRequest{
		ClientID:           "client-1",
		ClientVersion:      clientVersion,
		IsDotNet:           dotNet,
		OperationTimeoutMs: -1,
		CacheName:          "test",
	})
	var resp common.InitResponse
	h.decode(res, 0, &resp)
	return resp
}

// decode deserializes packet i of res into v and fails on exceptions
func (h *harness) decode(res result, i int, v common.Headed) *common.Packet {
	h.t.Helper()
	if len(res.packets) <= i {
		h.t.Fatalf("expected at least %d packets, got %d", i+1, len(res.packets))
	}
	p, err := common.DecodePacket(h.inst.Codec, res.packets[i])
	if err != nil {
		h.t.Fatalf("failed to decode packet: %v", err)
	}
	if _, ok := v.(*common.ExceptionResponse); p.Type == common.RespException && !ok {
		exc, _ := p.Exception(h.inst.Codec)
		h.t.Fatalf("unexpected exception: %v", &exc.Exception)
	}
	if err := p.Decode(h.inst.Codec, v); err != nil {
		h.t.Fatalf("failed to decode body: %v", err)
	}
	return p
}

// exception expects res to hold exactly one exception packet
func (h *harness) exception(res result) common.ExceptionDescriptor {
	h.t.Helper()
	if len(res.packets) != 1 {
		h.t.Fatalf("expected one exception packet, got %d packets", len(res.packets))
	}
	var resp common.ExceptionResponse
	p := h.decode(res, 0, &resp)
	if p.Type != common.RespException {
		h.t.Fatalf("expected exception, got %s response", p.Type)
	}
	return resp.Exception
}

// add stores value under key and returns the assigned version
func (h *harness) add(key, value string) uint64 {
	h.t.Helper()
	res := h.exec(common.CmdAdd, common.NewItemRequest(key, []byte(value)))
	var resp common.VersionResponse
	h.decode(res, 0, &resp)
	return resp.Version
}

// checkPools fails if a lease is outstanding or was released twice
func (h *harness) checkPools() {
	h.t.Helper()
	for _, s := range h.inst.Pools.Stats() {
		if s.Outstanding() != 0 || s.Violations != 0 {
			h.t.Errorf("pool %s: acquired=%d released=%d violations=%d", s.Name, s.Acquired, s.Released, s.Violations)
		}
	}
}
