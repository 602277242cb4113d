package testing

import (
	"bytes"
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/dCache/lib/cache"
	"github.com/ValentinKolb/dCache/lib/opctx"
	"github.com/cockroachdb/errors"
)

// CacheFactory is a function that creates a new instance of an ICache implementation
type CacheFactory func() cache.ICache

// RunCacheTests runs a comprehensive test suite for an ICache implementation.
func RunCacheTests(t *testing.T, name string, factory CacheFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Add&Get", func(t *testing.T) {
			testAddGet(t, factory())
		})

		t.Run("Insert", func(t *testing.T) {
			testInsert(t, factory())
		})

		t.Run("Versions", func(t *testing.T) {
			testVersions(t, factory())
		})

		t.Run("Remove&Delete", func(t *testing.T) {
			testRemoveDelete(t, factory())
		})

		t.Run("Locking", func(t *testing.T) {
			testLocking(t, factory())
		})

		t.Run("KeyDependency", func(t *testing.T) {
			testKeyDependency(t, factory())
		})

		t.Run("Bulk", func(t *testing.T) {
			testBulk(t, factory())
		})

		t.Run("Tags", func(t *testing.T) {
			testTags(t, factory())
		})

		t.Run("Query", func(t *testing.T) {
			testQuery(t, factory())
		})

		t.Run("Reader", func(t *testing.T) {
			testReader(t, factory())
		})

		t.Run("ContinuousQuery", func(t *testing.T) {
			testContinuousQuery(t, factory())
		})

		t.Run("KeyNotifications", func(t *testing.T) {
			testKeyNotifications(t, factory())
		})

		t.Run("Topics", func(t *testing.T) {
			testTopics(t, factory())
		})

		t.Run("Enumeration", func(t *testing.T) {
			testEnumeration(t, factory())
		})

		t.Run("Cancellation", func(t *testing.T) {
			testCancellation(t, factory())
		})

		t.Run("ConcurrentWriters", func(t *testing.T) {
			testConcurrentWriters(t, factory())
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// Entry builds a cache entry holding value
func Entry(value string) *cache.CacheEntry {
	obj := &cache.UserBinaryObject{}
	obj.SetData([]byte(value))
	return &cache.CacheEntry{
		Value:     obj,
		Flags:     cache.NewBitSet(0),
		Priority:  cache.PriorityDefault,
		NamedTags: map[string]any{},
	}
}

// TaggedEntry builds a cache entry with a type, tags and named tags
func TaggedEntry(value, typ string, tags []string, named map[string]any) *cache.CacheEntry {
	e := Entry(value)
	e.Type = typ
	e.Tags = tags
	e.NamedTags = named
	return e
}

func newOC() *opctx.OperationContext {
	return opctx.New(opctx.CacheOperation)
}

func mustAdd(t *testing.T, c cache.ICache, key string, entry *cache.CacheEntry) {
	t.Helper()
	if err := c.Add(key, entry, newOC()); err != nil {
		t.Fatalf("Add(%s) failed: %v", key, err)
	}
}

func get(t *testing.T, c cache.ICache, key string) *cache.Item {
	t.Helper()
	item, err := c.Get(key, 0, nil, cache.LockDefault, 0, newOC())
	if err != nil {
		t.Fatalf("Get(%s) failed: %v", key, err)
	}
	return item
}

func drain(t *testing.T, c cache.ICache, clientID string) *cache.PollResult {
	t.Helper()
	res, err := c.Poll(clientID, newOC())
	if err != nil {
		t.Fatalf("Poll(%s) failed: %v", clientID, err)
	}
	return res
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testAddGet(t *testing.T, c cache.ICache) {
	defer c.Close()

	mustAdd(t, c, "key", Entry("value1"))

	item := get(t, c, "key")
	if item == nil {
		t.Fatalf("Expected key to exist after Add")
	}
	if !bytes.Equal(item.Value, []byte("value1")) {
		t.Errorf("Expected value value1, got %s", item.Value)
	}
	if item.Version == 0 {
		t.Errorf("Expected a version to be assigned")
	}

	err := c.Add("key", Entry("value2"), newOC())
	if !errors.Is(err, cache.ErrKeyExists) {
		t.Errorf("Expected ErrKeyExists on second Add, got %v", err)
	}

	if item := get(t, c, "missing"); item != nil {
		t.Errorf("Expected nil for a missing key, got %+v", item)
	}

	item.Value[0] = 'X'
	if again := get(t, c, "key"); again.Value[0] == 'X' {
		t.Errorf("Get should return a copy, not a reference to the stored value")
	}

	ok, err := c.Contains("key", newOC())
	if err != nil || !ok {
		t.Errorf("Expected Contains to report true, got %v (%v)", ok, err)
	}
	n, err := c.Count(newOC())
	if err != nil || n != 1 {
		t.Errorf("Expected count 1, got %d (%v)", n, err)
	}

	if err := c.Clear(nil, newOC()); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if n, _ := c.Count(newOC()); n != 0 {
		t.Errorf("Expected empty cache after Clear, got %d items", n)
	}
}

func testInsert(t *testing.T, c cache.ICache) {
	defer c.Close()

	oc := newOC()
	if err := c.Insert("key", Entry("v1"), nil, cache.LockDefault, oc); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	first := oc.ItemVersion()
	if first == 0 {
		t.Errorf("Expected Insert to write the version back")
	}

	oc = newOC()
	if err := c.Insert("key", Entry("v2"), nil, cache.LockDefault, oc); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if oc.ItemVersion() <= first {
		t.Errorf("Expected version to grow, got %d after %d", oc.ItemVersion(), first)
	}
	if item := get(t, c, "key"); string(item.Value) != "v2" {
		t.Errorf("Expected v2, got %s", item.Value)
	}

	oc = newOC()
	oc.SetItemVersion(4711)
	if err := c.Insert("explicit", Entry("v"), nil, cache.LockDefault, oc); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if item := get(t, c, "explicit"); item.Version != 4711 {
		t.Errorf("Expected caller version 4711, got %d", item.Version)
	}
}

func testVersions(t *testing.T, c cache.ICache) {
	defer c.Close()

	mustAdd(t, c, "key", Entry("v1"))
	v1 := get(t, c, "key").Version

	oc := newOC()
	oc.SetItemVersion(v1 + 100)
	err := c.Insert("key", Entry("v2"), nil, cache.LockCompareVersion, oc)
	if !errors.Is(err, cache.ErrVersionMismatch) {
		t.Errorf("Expected ErrVersionMismatch, got %v", err)
	}

	oc = newOC()
	oc.SetItemVersion(v1)
	if err := c.Insert("key", Entry("v2"), nil, cache.LockCompareVersion, oc); err != nil {
		t.Fatalf("Insert with matching version failed: %v", err)
	}
	v2 := oc.ItemVersion()
	if v2 <= v1 {
		t.Errorf("Expected new version > %d, got %d", v1, v2)
	}

	item, err := c.Get("key", v2, nil, cache.LockCompareVersion, 0, newOC())
	if err != nil || item != nil {
		t.Errorf("Expected no newer item than %d, got %+v (%v)", v2, item, err)
	}
	item, _ = c.Get("key", v1, nil, cache.LockCompareVersion, 0, newOC())
	if item == nil || string(item.Value) != "v2" {
		t.Errorf("Expected newer item v2, got %+v", item)
	}
	item, _ = c.Get("key", v1, nil, cache.LockMatchVersion, 0, newOC())
	if item != nil {
		t.Errorf("Expected no item for outdated version")
	}
	item, _ = c.Get("key", v2, nil, cache.LockMatchVersion, 0, newOC())
	if item == nil {
		t.Errorf("Expected item for current version")
	}
}

func testRemoveDelete(t *testing.T, c cache.ICache) {
	defer c.Close()

	mustAdd(t, c, "a", Entry("va"))
	mustAdd(t, c, "b", Entry("vb"))

	removed, err := c.Remove("a", nil, cache.LockDefault, 0, newOC())
	if err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if removed == nil || string(removed.Value) != "va" {
		t.Errorf("Expected removed value va, got %+v", removed)
	}
	removed, err = c.Remove("a", nil, cache.LockDefault, 0, newOC())
	if err != nil || removed != nil {
		t.Errorf("Expected (nil, nil) for a missing key, got %+v (%v)", removed, err)
	}

	err = c.Delete("b", nil, cache.LockDefault, get(t, c, "b").Version+1, newOC())
	if !errors.Is(err, cache.ErrVersionMismatch) {
		t.Errorf("Expected ErrVersionMismatch, got %v", err)
	}
	if err := c.Delete("b", nil, cache.LockDefault, 0, newOC()); err != nil {
		t.Errorf("Delete failed: %v", err)
	}
	if err := c.Delete("b", nil, cache.LockDefault, 0, newOC()); err != nil {
		t.Errorf("Delete of a missing key should succeed, got %v", err)
	}
}

func testLocking(t *testing.T, c cache.ICache) {
	defer c.Close()

	mustAdd(t, c, "key", Entry("v1"))

	lock, ok, err := c.Lock("key", time.Minute, newOC())
	if err != nil || !ok || lock == nil || lock.LockID == "" {
		t.Fatalf("Expected lock to be acquired, got %+v %v (%v)", lock, ok, err)
	}

	held, ok, _ := c.Lock("key", time.Minute, newOC())
	if ok || held == nil || held.LockID != lock.LockID {
		t.Errorf("Expected second Lock to report the held lock %s, got %+v %v", lock.LockID, held, ok)
	}

	held, locked, _ := c.IsLocked("key", newOC())
	if !locked || held.LockID != lock.LockID {
		t.Errorf("Expected IsLocked to report %s, got %+v %v", lock.LockID, held, locked)
	}

	err = c.Insert("key", Entry("v2"), nil, cache.LockDefault, newOC())
	if !errors.Is(err, cache.ErrItemLocked) {
		t.Errorf("Expected ErrItemLocked for foreign writer, got %v", err)
	}
	if item := get(t, c, "key"); item == nil || string(item.Value) != "v1" {
		t.Errorf("Plain reads must ignore locks, got %+v", item)
	}

	other := &cache.LockHandle{}
	item, err := c.Get("key", 0, other, cache.LockAcquire, time.Minute, newOC())
	if err != nil || item != nil || other.LockID != lock.LockID {
		t.Errorf("Expected locked Get to return nil and the held handle, got %+v %+v (%v)", item, other, err)
	}

	if err := c.Unlock("key", "wrong", false, newOC()); !errors.Is(err, cache.ErrLockNotHeld) {
		t.Errorf("Expected ErrLockNotHeld, got %v", err)
	}

	if err := c.Insert("key", Entry("v2"), lock, cache.LockDefault, newOC()); err != nil {
		t.Fatalf("Insert by lock holder failed: %v", err)
	}
	if _, locked, _ := c.IsLocked("key", newOC()); locked {
		t.Errorf("Expected Insert to release the lock")
	}

	acquired := &cache.LockHandle{}
	item, err = c.Get("key", 0, acquired, cache.LockAcquire, time.Minute, newOC())
	if err != nil || item == nil || acquired.LockID == "" {
		t.Fatalf("Expected Get to acquire the lock, got %+v %+v (%v)", item, acquired, err)
	}
	if err := c.Unlock("key", "", true, newOC()); err != nil {
		t.Errorf("Forced unlock failed: %v", err)
	}
	if _, locked, _ := c.IsLocked("key", newOC()); locked {
		t.Errorf("Expected item to be unlocked")
	}

	if h, ok, err := c.Lock("missing", time.Minute, newOC()); h != nil || ok || err != nil {
		t.Errorf("Expected Lock on a missing key to return (nil, false, nil), got %+v %v %v", h, ok, err)
	}
}

func testKeyDependency(t *testing.T, c cache.ICache) {
	defer c.Close()

	mustAdd(t, c, "master", Entry("m"))
	dep := Entry("d")
	dep.Expiration = &cache.ExpirationHint{Kind: cache.ExpireKeyDependency, Keys: []string{"master"}}
	mustAdd(t, c, "dependent", dep)

	if err := c.Insert("master", Entry("m2"), nil, cache.LockDefault, newOC()); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if item := get(t, c, "dependent"); item != nil {
		t.Errorf("Expected dependent to be removed when its master changes")
	}
}

func testBulk(t *testing.T, c cache.ICache) {
	defer c.Close()

	mustAdd(t, c, "b", Entry("existing"))

	keys := []string{"a", "b", "c"}
	entries := []*cache.CacheEntry{Entry("va"), Entry("vb"), Entry("vc")}
	res, err := c.AddBulk(keys, entries, newOC())
	if err != nil {
		t.Fatalf("AddBulk failed: %v", err)
	}
	if res.Failed() != 1 || !errors.Is(res["b"].Err, cache.ErrKeyExists) {
		t.Errorf("Expected only b to fail with ErrKeyExists, got %+v", res)
	}
	if res["a"].Version == 0 || res["a"].Version == res["c"].Version {
		t.Errorf("Expected distinct versions per key, got %d and %d", res["a"].Version, res["c"].Version)
	}

	res, err = c.GetBulk([]string{"a", "b", "missing"}, nil, newOC())
	if err != nil {
		t.Fatalf("GetBulk failed: %v", err)
	}
	if !res["a"].Found || string(res["a"].Item.Value) != "va" {
		t.Errorf("Expected a=va, got %+v", res["a"])
	}
	if !res["b"].Found || string(res["b"].Item.Value) != "existing" {
		t.Errorf("Expected b=existing, got %+v", res["b"])
	}
	if res["missing"].Found {
		t.Errorf("Expected missing to be reported as not found")
	}

	res, err = c.InsertBulk([]string{"a", "d"}, []*cache.CacheEntry{Entry("va2"), Entry("vd")}, newOC())
	if err != nil || res.Failed() != 0 {
		t.Fatalf("InsertBulk failed: %v %+v", err, res)
	}

	res, err = c.RemoveBulk([]string{"a", "d"}, nil, newOC())
	if err != nil || string(res["a"].Item.Value) != "va2" || string(res["d"].Item.Value) != "vd" {
		t.Errorf("Unexpected RemoveBulk result %+v (%v)", res, err)
	}

	res, err = c.DeleteBulk([]string{"b", "c", "missing"}, nil, newOC())
	if err != nil || !res["b"].Found || !res["c"].Found || res["missing"].Found {
		t.Errorf("Unexpected DeleteBulk result %+v (%v)", res, err)
	}
	if n, _ := c.Count(newOC()); n != 0 {
		t.Errorf("Expected empty cache, got %d items", n)
	}

	contains, err := c.ContainsBulk([]string{"a"}, newOC())
	if err != nil || contains["a"] {
		t.Errorf("Expected a to be gone, got %v (%v)", contains, err)
	}

	if _, err := c.AddBulk([]string{"x"}, nil, newOC()); err == nil {
		t.Errorf("Expected mismatched key and entry count to fail")
	}
}

func testTags(t *testing.T, c cache.ICache) {
	defer c.Close()

	mustAdd(t, c, "a", TaggedEntry("va", "", []string{"red", "big"}, nil))
	mustAdd(t, c, "b", TaggedEntry("vb", "", []string{"red"}, nil))
	mustAdd(t, c, "c", TaggedEntry("vc", "", []string{"blue"}, nil))

	keys, err := c.GetKeysByTag([]string{"red", "big"}, cache.TagAll, newOC())
	if err != nil || !reflect.DeepEqual(keys, []string{"a"}) {
		t.Errorf("TagAll: expected [a], got %v (%v)", keys, err)
	}
	keys, _ = c.GetKeysByTag([]string{"big", "blue"}, cache.TagAny, newOC())
	if !reflect.DeepEqual(keys, []string{"a", "c"}) {
		t.Errorf("TagAny: expected [a c], got %v", keys)
	}
	items, err := c.GetByTag([]string{"red"}, cache.TagByTag, newOC())
	if err != nil || len(items) != 2 || string(items["b"].Value) != "vb" {
		t.Errorf("ByTag: unexpected result %v (%v)", items, err)
	}
	if _, err := c.GetByTag([]string{"red", "blue"}, cache.TagByTag, newOC()); !errors.Is(err, cache.ErrInvalidQuery) {
		t.Errorf("ByTag with two tags: expected ErrInvalidQuery, got %v", err)
	}

	n, err := c.RemoveByTag([]string{"red"}, cache.TagAny, newOC())
	if err != nil || n != 2 {
		t.Errorf("Expected 2 removed items, got %d (%v)", n, err)
	}
	if count, _ := c.Count(newOC()); count != 1 {
		t.Errorf("Expected 1 remaining item, got %d", count)
	}
}

func fillProducts(t *testing.T, c cache.ICache) {
	for i := 1; i <= 5; i++ {
		named := map[string]any{"Price": float64(i * 10), "Name": fmt.Sprintf("item-%d", i), "Active": i%2 == 1}
		mustAdd(t, c, fmt.Sprintf("p%d", i), TaggedEntry("v", "Product", nil, named))
	}
	mustAdd(t, c, "o1", TaggedEntry("v", "Order", nil, map[string]any{"Price": float64(99)}))
}

func testQuery(t *testing.T, c cache.ICache) {
	defer c.Close()
	fillProducts(t, c)

	tests := []struct {
		name   string
		query  string
		params map[string]any
		want   []string
	}{
		{"all of type", "SELECT Product", nil, []string{"p1", "p2", "p3", "p4", "p5"}},
		{"any type", "SELECT * WHERE Price > 40", nil, []string{"p5", "o1"}},
		{"param", "SELECT Product WHERE this.Price >= ?", map[string]any{"Price": 30}, []string{"p3", "p4", "p5"}},
		{"range", "SELECT Product WHERE Price > ? AND Price < ?", map[string]any{"Price": []any{10, 40}}, []string{"p2", "p3"}},
		{"in", "SELECT Product WHERE Price IN (?)", map[string]any{"Price": []any{10, 50}}, []string{"p1", "p5"}},
		{"like", "SELECT Product WHERE Name LIKE 'item-?'", nil, []string{"p1", "p2", "p3", "p4", "p5"}},
		{"bool", "SELECT Product WHERE Active = true AND Price != 30", nil, []string{"p1", "p5"}},
		{"case insensitive type", "select from product where Name = 'item-2'", nil, []string{"p2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := c.Search(tt.query, tt.params, newOC())
			if err != nil {
				t.Fatalf("Search(%q) failed: %v", tt.query, err)
			}
			got := append([]string(nil), res.Keys...)
			want := append([]string(nil), tt.want...)
			sort.Strings(got)
			sort.Strings(want)
			if !reflect.DeepEqual(got, want) {
				t.Errorf("Search(%q) = %v, want %v", tt.query, got, want)
			}
		})
	}

	res, err := c.SearchEntries("SELECT Order", nil, newOC())
	if err != nil || len(res.Entries) != 1 || res.Entries[0].Key != "o1" {
		t.Errorf("SearchEntries: unexpected result %+v (%v)", res, err)
	}

	for _, bad := range []string{"", "UPDATE Product", "SELECT Product WHERE", "SELECT Product WHERE Price ~ 3"} {
		if _, err := c.Search(bad, nil, newOC()); !errors.Is(err, cache.ErrInvalidQuery) {
			t.Errorf("Search(%q): expected ErrInvalidQuery, got %v", bad, err)
		}
	}
	if _, err := c.Search("SELECT Product WHERE Price = ?", nil, newOC()); !errors.Is(err, cache.ErrInvalidQuery) {
		t.Errorf("Expected a missing parameter to fail with ErrInvalidQuery, got %v", err)
	}

	n, err := c.DeleteQuery("DELETE Product WHERE Price <= 20", nil, newOC())
	if err != nil || n != 2 {
		t.Errorf("Expected 2 deleted items, got %d (%v)", n, err)
	}
	if _, err := c.DeleteQuery("SELECT Product", nil, newOC()); !errors.Is(err, cache.ErrInvalidQuery) {
		t.Errorf("Expected DeleteQuery to reject SELECT, got %v", err)
	}
}

func testReader(t *testing.T, c cache.ICache) {
	defer c.Close()
	fillProducts(t, c)

	first, err := c.ExecuteReader("SELECT Product", nil, true, 2, newOC())
	if err != nil {
		t.Fatalf("ExecuteReader failed: %v", err)
	}
	if first.IsLast || len(first.Rows) != 2 || first.ReaderID == "" {
		t.Fatalf("Unexpected first chunk %+v", first)
	}

	var keys []string
	for _, row := range first.Rows {
		keys = append(keys, row.Key)
	}
	next := first.NextIndex
	for {
		chunk, err := c.GetReaderChunk(first.ReaderID, next, newOC())
		if err != nil {
			t.Fatalf("GetReaderChunk failed: %v", err)
		}
		for _, row := range chunk.Rows {
			keys = append(keys, row.Key)
		}
		next = chunk.NextIndex
		if chunk.IsLast {
			break
		}
	}
	if !reflect.DeepEqual(keys, []string{"p1", "p2", "p3", "p4", "p5"}) {
		t.Errorf("Expected all products in order, got %v", keys)
	}
	if _, err := c.GetReaderChunk(first.ReaderID, next, newOC()); !errors.Is(err, cache.ErrReaderNotFound) {
		t.Errorf("Expected finished reader to be gone, got %v", err)
	}

	all, err := c.ExecuteReader("SELECT Product", nil, false, 0, newOC())
	if err != nil || !all.IsLast || len(all.Rows) != 5 || all.Rows[0].Value != nil {
		t.Errorf("Expected single keys-only chunk, got %+v (%v)", all, err)
	}

	open, _ := c.ExecuteReader("SELECT Product", nil, true, 1, newOC())
	if err := c.DisposeReader(open.ReaderID, newOC()); err != nil {
		t.Errorf("DisposeReader failed: %v", err)
	}
	if _, err := c.GetReaderChunk(open.ReaderID, 1, newOC()); !errors.Is(err, cache.ErrReaderNotFound) {
		t.Errorf("Expected disposed reader to be gone, got %v", err)
	}
}

func testContinuousQuery(t *testing.T, c cache.ICache) {
	defer c.Close()
	c.OnClientConnected("client")

	mustAdd(t, c, "cheap", TaggedEntry("v", "Product", nil, map[string]any{"Price": float64(5)}))
	info := &cache.ContinuousQuery{ClientID: "client", ClientUniqueID: "u1", NotifyAdd: true, NotifyUpdate: true, NotifyRemove: true}
	res, err := c.SearchCQ("SELECT Product WHERE Price < 10", nil, false, info, newOC())
	if err != nil || res.CQID == "" || !reflect.DeepEqual(res.Keys, []string{"cheap"}) {
		t.Fatalf("SearchCQ: unexpected result %+v (%v)", res, err)
	}

	mustAdd(t, c, "new", TaggedEntry("v", "Product", nil, map[string]any{"Price": float64(1)}))
	mustAdd(t, c, "expensive", TaggedEntry("v", "Product", nil, map[string]any{"Price": float64(100)}))
	if err := c.Insert("cheap", TaggedEntry("v", "Product", nil, map[string]any{"Price": float64(50)}), nil, cache.LockDefault, newOC()); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	events := drain(t, c, "client")
	if !reflect.DeepEqual(events.AddedKeys, []string{"new"}) || !reflect.DeepEqual(events.RemovedKeys, []string{"cheap"}) {
		t.Errorf("Unexpected CQ events %+v", events)
	}

	if err := c.UnregisterCQ(res.CQID, "u1", newOC()); err != nil {
		t.Fatalf("UnregisterCQ failed: %v", err)
	}
	mustAdd(t, c, "later", TaggedEntry("v", "Product", nil, map[string]any{"Price": float64(1)}))
	if events := drain(t, c, "client"); events.Len() != 0 {
		t.Errorf("Expected no events after UnregisterCQ, got %+v", events)
	}
}

func testKeyNotifications(t *testing.T, c cache.ICache) {
	defer c.Close()
	if err := c.RegisterPolling("client", newOC()); err != nil {
		t.Fatalf("RegisterPolling failed: %v", err)
	}

	mustAdd(t, c, "key", Entry("v1"))
	cb := &cache.CallbackInfo{ClientID: "client", CallbackID: 1}
	if err := c.RegisterKeyNotification([]string{"key"}, cb, cb, newOC()); err != nil {
		t.Fatalf("RegisterKeyNotification failed: %v", err)
	}

	_ = c.Insert("key", Entry("v2"), nil, cache.LockDefault, newOC())
	_ = c.Delete("key", nil, cache.LockDefault, 0, newOC())

	events := drain(t, c, "client")
	if !reflect.DeepEqual(events.UpdatedKeys, []string{"key"}) || !reflect.DeepEqual(events.RemovedKeys, []string{"key"}) {
		t.Errorf("Unexpected key events %+v", events)
	}

	withCallback := Entry("v")
	withCallback.Notifications = &cache.Notifications{ClientID: "client", UpdateCallbackID: 3, RemoveCallbackID: cache.NoCallback}
	mustAdd(t, c, "item", withCallback)
	_ = c.Insert("item", Entry("v2"), nil, cache.LockDefault, newOC())
	if events := drain(t, c, "client"); !reflect.DeepEqual(events.UpdatedKeys, []string{"item"}) {
		t.Errorf("Expected item level update event, got %+v", events)
	}

	mustAdd(t, c, "other", Entry("v"))
	if err := c.RegisterKeyNotification([]string{"other"}, cb, nil, newOC()); err != nil {
		t.Fatalf("RegisterKeyNotification failed: %v", err)
	}
	if err := c.UnregisterKeyNotification([]string{"other"}, cb, nil, newOC()); err != nil {
		t.Fatalf("UnregisterKeyNotification failed: %v", err)
	}
	_ = c.Insert("other", Entry("v2"), nil, cache.LockDefault, newOC())
	if events := drain(t, c, "client"); events.Len() != 0 {
		t.Errorf("Expected no events after unregister, got %+v", events)
	}

	if events := drain(t, c, "unknown"); events.Len() != 0 {
		t.Errorf("Expected no events for an unknown client, got %+v", events)
	}
}

func testTopics(t *testing.T, c cache.ICache) {
	defer c.Close()

	op := func(typ cache.TopicOperationType, sub *cache.SubscriptionInfo) (bool, error) {
		return c.TopicOperation(&cache.TopicOperation{Type: typ, Topic: "news", Subscription: sub}, newOC())
	}

	if ok, _ := op(cache.TopicGet, nil); ok {
		t.Errorf("Expected topic to be missing")
	}
	if err := c.PublishMessage(&cache.TopicMessage{Topic: "news"}, newOC()); !errors.Is(err, cache.ErrTopicNotFound) {
		t.Errorf("Expected ErrTopicNotFound, got %v", err)
	}
	if ok, err := op(cache.TopicCreate, nil); !ok || err != nil {
		t.Fatalf("Create failed: %v %v", ok, err)
	}

	alice := &cache.SubscriptionInfo{SubscriptionID: "s1", ClientID: "alice"}
	bob := &cache.SubscriptionInfo{SubscriptionID: "s2", ClientID: "bob"}
	for _, sub := range []*cache.SubscriptionInfo{alice, bob} {
		if ok, err := op(cache.TopicSubscribe, sub); !ok || err != nil {
			t.Fatalf("Subscribe(%s) failed: %v %v", sub.ClientID, ok, err)
		}
	}

	_ = c.PublishMessage(&cache.TopicMessage{ID: "all", Topic: "news", Delivery: cache.DeliverAll}, newOC())
	_ = c.PublishMessage(&cache.TopicMessage{ID: "any", Topic: "news", Delivery: cache.DeliverAny}, newOC())
	if n, _ := c.GetTopicMessageCount("news", newOC()); n != 2 {
		t.Errorf("Expected 2 messages, got %d", n)
	}

	total := 0
	for _, sub := range []*cache.SubscriptionInfo{alice, bob} {
		msgs, err := c.GetAssignedMessages(sub, newOC())
		if err != nil {
			t.Fatalf("GetAssignedMessages failed: %v", err)
		}
		var ids []string
		for _, m := range msgs["news"] {
			ids = append(ids, m.ID)
		}
		total += len(ids)
		if err := c.AcknowledgeMessageReceipt(sub.ClientID, map[string][]string{"news": ids}, newOC()); err != nil {
			t.Fatalf("Acknowledge failed: %v", err)
		}
	}
	if total != 3 {
		t.Errorf("Expected 3 deliveries (all twice, any once), got %d", total)
	}
	if n, _ := c.GetTopicMessageCount("news", newOC()); n != 0 {
		t.Errorf("Expected acknowledged messages to be gone, got %d", n)
	}

	if ok, _ := op(cache.TopicUnsubscribe, bob); !ok {
		t.Errorf("Expected Unsubscribe to succeed")
	}
	if ok, _ := op(cache.TopicRemove, nil); !ok {
		t.Errorf("Expected Remove to report an existing topic")
	}
	if _, err := op(cache.TopicSubscribe, alice); !errors.Is(err, cache.ErrTopicNotFound) {
		t.Errorf("Expected ErrTopicNotFound after Remove, got %v", err)
	}
}

func testEnumeration(t *testing.T, c cache.ICache) {
	defer c.Close()

	want := make([]string, 0, 7)
	for i := 0; i < 7; i++ {
		key := fmt.Sprintf("key-%d", i)
		mustAdd(t, c, key, Entry("v"))
		want = append(want, key)
	}

	var got []string
	pointer := &cache.EnumerationPointer{}
	for {
		chunk, err := c.GetNextChunk(pointer, 3, newOC())
		if err != nil {
			t.Fatalf("GetNextChunk failed: %v", err)
		}
		got = append(got, chunk.Keys...)
		if chunk.IsLast {
			break
		}
		p := chunk.Pointer
		pointer = &p
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}

	chunk, _ := c.GetNextChunk(&cache.EnumerationPointer{}, 2, newOC())
	p := chunk.Pointer
	p.Disposed = true
	if _, err := c.GetNextChunk(&p, 2, newOC()); err != nil {
		t.Fatalf("Disposing failed: %v", err)
	}
	p.Disposed = false
	if _, err := c.GetNextChunk(&p, 2, newOC()); !errors.Is(err, cache.ErrEnumeration) {
		t.Errorf("Expected disposed enumerator to be gone, got %v", err)
	}
}

func testCancellation(t *testing.T, c cache.ICache) {
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	oc := newOC()
	oc.Add(opctx.FieldCancellationToken, ctx)

	if err := c.Add("key", Entry("v"), oc); !cache.IsCanceled(err) {
		t.Errorf("Expected cancellation error, got %v", err)
	}
	if _, err := c.GetBulk([]string{"a"}, nil, oc); !cache.IsCanceled(err) {
		t.Errorf("Expected cancellation error for bulk call, got %v", err)
	}
	if ok, _ := c.Contains("key", newOC()); ok {
		t.Errorf("A cancelled Add must not store the item")
	}
}

func testConcurrentWriters(t *testing.T, c cache.ICache) {
	defer c.Close()

	const writers, perWriter = 8, 200
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				key := fmt.Sprintf("w%d-%d", w, i)
				if err := c.Insert(key, Entry(key), nil, cache.LockDefault, newOC()); err != nil {
					t.Errorf("Insert(%s) failed: %v", key, err)
				}
			}
		}(w)
	}
	wg.Wait()

	if n, _ := c.Count(newOC()); n != writers*perWriter {
		t.Errorf("Expected %d items, got %d", writers*perWriter, n)
	}
}
