package lcache

import (
	"reflect"
	"testing"
	"time"

	"github.com/ValentinKolb/dCache/lib/cache"
	cachetesting "github.com/ValentinKolb/dCache/lib/cache/testing"
	"github.com/ValentinKolb/dCache/lib/opctx"
	"github.com/cockroachdb/errors"
	"go.uber.org/goleak"
)

func newTestCache() *Cache {
	opts := DefaultOptions("test")
	opts.JanitorInterval = 0
	return New(opts)
}

func Test(t *testing.T) {
	cachetesting.RunCacheTests(t, "LCache", func() cache.ICache {
		return newTestCache()
	})
}

func Benchmark(b *testing.B) {
	cachetesting.RunCacheBenchmarks(b, "LCache", func() cache.ICache {
		return newTestCache()
	})
}

// fakeClock returns a cache whose clock only moves when advance is called
func fakeClock(c *Cache) (advance func(time.Duration)) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	return func(d time.Duration) { now = now.Add(d) }
}

func TestExpiry(t *testing.T) {
	c := newTestCache()
	defer c.Close()
	advance := fakeClock(c)
	oc := opctx.New(opctx.CacheOperation)

	fixed := cachetesting.Entry("fixed")
	fixed.Expiration = &cache.ExpirationHint{Kind: cache.ExpireFixed, Absolute: c.now().Add(10 * time.Second)}
	idle := cachetesting.Entry("idle")
	idle.Expiration = &cache.ExpirationHint{Kind: cache.ExpireIdle, Sliding: 5 * time.Second}
	for key, e := range map[string]*cache.CacheEntry{"fixed": fixed, "idle": idle} {
		if err := c.Add(key, e, oc); err != nil {
			t.Fatalf("Add(%s) failed: %v", key, err)
		}
	}

	advance(4 * time.Second)
	if item, _ := c.Get("idle", 0, nil, cache.LockDefault, 0, oc); item == nil {
		t.Fatalf("idle item should still exist")
	}
	advance(4 * time.Second)
	if ok, _ := c.Contains("idle", oc); !ok {
		t.Errorf("idle item should survive because it was accessed")
	}

	advance(3 * time.Second)
	if ok, _ := c.Contains("fixed", oc); ok {
		t.Errorf("fixed item should have expired")
	}

	advance(10 * time.Second)
	if n := c.Sweep(); n != 1 {
		t.Errorf("Expected sweep to remove the idle item, removed %d", n)
	}
	if n, _ := c.Count(oc); n != 0 {
		t.Errorf("Expected empty cache, got %d items", n)
	}
}

func TestExpiredItemIsReplaceable(t *testing.T) {
	c := newTestCache()
	defer c.Close()
	advance := fakeClock(c)
	oc := opctx.New(opctx.CacheOperation)

	e := cachetesting.Entry("old")
	e.Expiration = &cache.ExpirationHint{Kind: cache.ExpireIdle, Sliding: time.Second}
	_ = c.Add("key", e, oc)
	advance(2 * time.Second)

	if err := c.Add("key", cachetesting.Entry("new"), oc); err != nil {
		t.Fatalf("Add over an expired item failed: %v", err)
	}
	if item, _ := c.Get("key", 0, nil, cache.LockDefault, 0, oc); string(item.Value) != "new" {
		t.Errorf("Expected new, got %s", item.Value)
	}
}

func TestLockTimeout(t *testing.T) {
	c := newTestCache()
	defer c.Close()
	advance := fakeClock(c)
	oc := opctx.New(opctx.CacheOperation)

	_ = c.Add("key", cachetesting.Entry("v"), oc)
	if _, ok, _ := c.Lock("key", time.Second, oc); !ok {
		t.Fatalf("Lock failed")
	}
	advance(2 * time.Second)
	if _, locked, _ := c.IsLocked("key", oc); locked {
		t.Errorf("Expected the lock to time out")
	}
	if err := c.Insert("key", cachetesting.Entry("v2"), nil, cache.LockDefault, oc); err != nil {
		t.Errorf("Insert after lock timeout failed: %v", err)
	}
}

func TestReadWriteThrough(t *testing.T) {
	var written []string
	opts := DefaultOptions("through")
	opts.JanitorInterval = 0
	opts.ReadThrough = func(key string) ([]byte, error) {
		if key == "db-key" {
			return []byte("from-db"), nil
		}
		return nil, nil
	}
	opts.WriteThrough = func(key string, _ []byte, removed bool) error {
		if key == "fail" {
			return errors.New("backing store down")
		}
		if removed {
			key = "-" + key
		}
		written = append(written, key)
		return nil
	}
	c := New(opts)
	defer c.Close()

	oc := opctx.New(opctx.CacheOperation)
	oc.Add(opctx.FieldReadThru, true)
	item, err := c.Get("db-key", 0, nil, cache.LockDefault, 0, oc)
	if err != nil || item == nil || string(item.Value) != "from-db" {
		t.Fatalf("Expected read-through value, got %+v (%v)", item, err)
	}
	if ok, _ := c.Contains("db-key", opctx.New(opctx.CacheOperation)); !ok {
		t.Errorf("Expected read-through value to be cached")
	}

	wt := opctx.New(opctx.CacheOperation)
	wt.Add(opctx.FieldWriteThru, true)
	_ = c.Insert("a", cachetesting.Entry("v"), nil, cache.LockDefault, wt)
	_ = c.Delete("a", nil, cache.LockDefault, 0, wt)
	if !reflect.DeepEqual(written, []string{"a", "-a"}) {
		t.Errorf("Unexpected write-through calls %v", written)
	}
	if err := c.Insert("fail", cachetesting.Entry("v"), nil, cache.LockDefault, wt); err == nil {
		t.Errorf("Expected write-through failure to be reported")
	}

	wb := opctx.New(opctx.CacheOperation)
	wb.Add(opctx.FieldWriteBehind, true)
	if err := c.Insert("fail", cachetesting.Entry("v"), nil, cache.LockDefault, wb); err != nil {
		t.Errorf("Expected write-behind failure to be swallowed, got %v", err)
	}

	noProvider := newTestCache()
	defer noProvider.Close()
	if _, err := noProvider.Get("x", 0, nil, cache.LockDefault, 0, oc); !errors.Is(err, cache.ErrNotSupported) {
		t.Errorf("Expected ErrNotSupported without provider, got %v", err)
	}
}

func TestOperationMode(t *testing.T) {
	c := newTestCache()
	defer c.Close()

	var seen []cache.OperationMode
	c.RegisterOperationModeListener(func(m cache.OperationMode) { seen = append(seen, m) })
	c.SetOperationMode(cache.ModeOffline)
	c.SetOperationMode(cache.ModeOffline)

	if err := c.Add("key", cachetesting.Entry("v"), opctx.New(opctx.CacheOperation)); !errors.Is(err, cache.ErrOffline) {
		t.Errorf("Expected ErrOffline, got %v", err)
	}
	c.SetOperationMode(cache.ModeOnline)
	if !reflect.DeepEqual(seen, []cache.OperationMode{cache.ModeOffline, cache.ModeOnline}) {
		t.Errorf("Unexpected mode notifications %v", seen)
	}
}

func TestClientDisconnect(t *testing.T) {
	c := newTestCache()
	defer c.Close()
	oc := opctx.New(opctx.CacheOperation)

	c.OnClientConnected("client")
	_, _ = c.SearchCQ("SELECT *", nil, false, &cache.ContinuousQuery{ClientID: "client", NotifyAdd: true}, oc)
	cb := &cache.CallbackInfo{ClientID: "client", CallbackID: 1}
	_ = c.RegisterKeyNotification([]string{"key"}, cb, cb, oc)

	c.OnClientDisconnected("client")
	if c.cqs.Size() != 0 {
		t.Errorf("Expected the continuous queries of the client to be dropped")
	}
	if c.keyCallbacks.Size() != 0 {
		t.Errorf("Expected the key callbacks of the client to be dropped")
	}
	if _, ok := c.clients.Load("client"); ok {
		t.Errorf("Expected the event queue of the client to be dropped")
	}
}

func TestJanitorStops(t *testing.T) {
	defer goleak.VerifyNone(t)

	opts := DefaultOptions("janitor")
	opts.JanitorInterval = time.Millisecond
	c := New(opts)

	e := cachetesting.Entry("v")
	e.Expiration = &cache.ExpirationHint{Kind: cache.ExpireFixed, Absolute: time.Now().Add(5 * time.Millisecond)}
	_ = c.Add("key", e, opctx.New(opctx.CacheOperation))

	deadline := time.Now().Add(2 * time.Second)
	for c.shardFor("key").items.Size() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if c.shardFor("key").items.Size() != 0 {
		t.Errorf("Expected the janitor to remove the expired item")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Second Close failed: %v", err)
	}
}

// --------------------------------------------------------------------------
// Internals
// --------------------------------------------------------------------------

func TestDeadlineHeap(t *testing.T) {
	h := newDeadlineHeap()
	base := time.Unix(0, 0)

	h.schedule("a", base.Add(3*time.Second))
	h.schedule("b", base.Add(1*time.Second))
	h.schedule("c", base.Add(2*time.Second))
	h.schedule("a", base.Add(500*time.Millisecond))

	if at, ok := h.next(); !ok || !at.Equal(base.Add(500*time.Millisecond)) {
		t.Errorf("Expected rescheduled a to be next, got %v", at)
	}
	if !h.cancel("c") || h.cancel("c") {
		t.Errorf("Expected cancel to succeed exactly once")
	}
	if got := h.due(base.Add(time.Second)); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("Expected [a b], got %v", got)
	}
	if h.Len() != 0 || len(h.byKey) != 0 {
		t.Errorf("Expected empty heap, got %d items", h.Len())
	}
}

func TestParseQuery(t *testing.T) {
	q, err := parseQuery("SELECT Product WHERE this.Price >= ? AND Name IN ('a', 'b') AND Tag LIKE 'x*'")
	if err != nil {
		t.Fatalf("parseQuery failed: %v", err)
	}
	if q.delete || q.typ != "Product" || len(q.conds) != 3 {
		t.Fatalf("Unexpected query %+v", q)
	}
	if c := q.conds[0]; c.attr != "Price" || c.op != opGe || !c.operands[0].param {
		t.Errorf("Unexpected first condition %+v", c)
	}
	if c := q.conds[1]; c.op != opIn || len(c.operands) != 2 {
		t.Errorf("Unexpected IN condition %+v", c)
	}

	bound, err := q.bind(map[string]any{"Price": 3})
	if err != nil {
		t.Fatalf("bind failed: %v", err)
	}
	if bound.conds[0].operands[0].value != 3 || !q.conds[0].operands[0].param {
		t.Errorf("bind must not modify the parsed query")
	}

	if _, err := parseQuery("SELECT 'x'"); !errors.Is(err, cache.ErrInvalidQuery) {
		t.Errorf("Expected ErrInvalidQuery, got %v", err)
	}
	if _, err := parseQuery("SELECT Product WHERE Name = 'open"); !errors.Is(err, cache.ErrInvalidQuery) {
		t.Errorf("Expected ErrInvalidQuery for an unterminated string, got %v", err)
	}
}

func TestWildcardMatch(t *testing.T) {
	tests := []struct {
		pattern, s string
		want       bool
	}{
		{"*", "", true},
		{"a*", "abc", true},
		{"a?c", "abc", true},
		{"a?c", "ac", false},
		{"*b*", "abc", true},
		{"*x", "abc", false},
		{"it's", "it's", true},
	}
	for _, tt := range tests {
		if got := wildcardMatch(tt.pattern, tt.s); got != tt.want {
			t.Errorf("wildcardMatch(%q, %q) = %v, want %v", tt.pattern, tt.s, got, tt.want)
		}
	}
}
