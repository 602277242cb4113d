package command

import (
	"reflect"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/dCache/lib/cache"
	"github.com/ValentinKolb/dCache/lib/dialect"
	"github.com/ValentinKolb/dCache/lib/opctx"
	"github.com/ValentinKolb/dCache/lib/query"
	"github.com/ValentinKolb/dCache/rpc/common"
	"github.com/cockroachdb/errors"
)

func TestAddAndGet(t *testing.T) {
	h := newHarness(t, newEngine(t))
	h.init(5000, true)

	before := FallbackItemVersion(time.Now())
	res := h.exec(common.CmdAdd, common.NewItemRequest("a", []byte("v1")))
	after := FallbackItemVersion(time.Now())

	var added common.VersionResponse
	h.decode(res, 0, &added)
	if added.Version < before || added.Version > after {
		t.Errorf("expected a version between %d and %d, got %d", before, after, added.Version)
	}
	if !strings.Contains(res.params, "key=a") {
		t.Errorf("unexpected parameters %q", res.params)
	}

	var got common.ItemResponse
	h.decode(h.exec(common.CmdGet, &common.KeyRequest{Key: "a"}), 0, &got)
	if !got.Found || got.Version != added.Version || string(got.Item.Bytes()) != "v1" {
		t.Errorf("unexpected get response %+v", got)
	}

	explicit := common.NewItemRequest("b", []byte("v2"))
	explicit.ItemVersion = 42
	var kept common.VersionResponse
	h.decode(h.exec(common.CmdAdd, explicit), 0, &kept)
	if kept.Version != 42 {
		t.Errorf("expected version 42, got %d", kept.Version)
	}

	var missing common.ItemResponse
	h.decode(h.exec(common.CmdGet, &common.KeyRequest{Key: "nope"}), 0, &missing)
	if missing.Found || missing.Item != nil {
		t.Errorf("expected a miss, got %+v", missing)
	}
	h.checkPools()
}

func TestInsertAndRemove(t *testing.T) {
	h := newHarness(t, newEngine(t))
	h.init(5000, true)
	v1 := h.add("a", "v1")

	// compare version only writes over the expected version
	stale := common.NewItemRequest("a", []byte("v2"))
	stale.LockAccessType = uint8(cache.LockCompareVersion)
	stale.ItemVersion = v1 + 1
	if exc := h.exception(h.exec(common.CmdInsert, stale)); exc.ErrorCode != common.ErrorCodeVersionMismatch {
		t.Errorf("expected version mismatch, got %d", exc.ErrorCode)
	}
	stale.ItemVersion = v1
	var inserted common.VersionResponse
	h.decode(h.exec(common.CmdInsert, stale), 0, &inserted)
	if inserted.Version <= v1 {
		t.Errorf("expected a version after %d, got %d", v1, inserted.Version)
	}

	var removed common.ItemResponse
	h.decode(h.exec(common.CmdRemove, &common.KeyRequest{Key: "a"}), 0, &removed)
	if !removed.Found || string(removed.Item.Bytes()) != "v2" {
		t.Errorf("unexpected remove response %+v", removed)
	}
	h.decode(h.exec(common.CmdRemove, &common.KeyRequest{Key: "a"}), 0, &removed)
	if removed.Found {
		t.Errorf("second remove should not find the key")
	}

	var contains common.BoolResponse
	h.decode(h.exec(common.CmdContains, &common.KeyRequest{Key: "a"}), 0, &contains)
	if contains.Value {
		t.Errorf("removed key still exists")
	}
	h.checkPools()
}

func TestInsertVersionFallback(t *testing.T) {
	engine := &stubEngine{Cache: newEngine(t)}
	h := newHarness(t, engine)
	h.init(5000, true)
	h.add("a", "v1")

	var seen []uint64
	engine.before = func(op string, oc *opctx.OperationContext) error {
		if op == "insert" {
			seen = append(seen, oc.ItemVersion())
		}
		return nil
	}

	h.exec(common.CmdInsert, common.NewItemRequest("a", []byte("v2")))

	compared := common.NewItemRequest("a", []byte("v3"))
	compared.LockAccessType = uint8(cache.LockCompareVersion)
	if exc := h.exception(h.exec(common.CmdInsert, compared)); exc.ErrorCode != common.ErrorCodeVersionMismatch {
		t.Errorf("expected version mismatch, got %d", exc.ErrorCode)
	}

	if len(seen) != 2 {
		t.Fatalf("expected 2 inserts, got %d", len(seen))
	}
	if seen[0] == 0 {
		t.Errorf("expected a fallback version for a plain insert")
	}
	if seen[1] != 0 {
		t.Errorf("expected the compared version to stay 0, got %d", seen[1])
	}
	h.checkPools()
}

func TestAsyncWrites(t *testing.T) {
	h := newHarness(t, newEngine(t))
	h.init(5000, true)

	req := common.NewItemRequest("a", []byte("1"))
	req.IsAsync = true
	if res := h.exec(common.CmdAdd, req); len(res.packets) != 1 {
		t.Errorf("expected one packet for an async add, got %d", len(res.packets))
	}

	req.Key = "b"
	noResponse := func(c *common.Command) { c.RequestID = common.NoRequestID }
	if res := h.exec(common.CmdInsert, req, noResponse); len(res.packets) != 0 || res.outcome != Success {
		t.Errorf("expected no packet for request id -1, got %d (%s)", len(res.packets), res.outcome)
	}
	if res := h.exec(common.CmdRemove, &common.KeyRequest{Key: "a", IsAsync: true}, noResponse); len(res.packets) != 0 {
		t.Errorf("expected no packet for request id -1, got %d", len(res.packets))
	}

	var count common.CountResponse
	h.decode(h.exec(common.CmdCount, nil), 0, &count)
	if count.Count != 1 {
		t.Errorf("expected 1 item, got %d", count.Count)
	}
}

func TestLocking(t *testing.T) {
	h := newHarness(t, newEngine(t))
	h.init(5000, true)
	h.add("a", "1")

	acquire := &common.KeyRequest{Key: "a", LockAccessType: uint8(cache.LockAcquire), LockTimeoutMs: 10_000}
	var first, second common.ItemResponse
	h.decode(h.exec(common.CmdGet, acquire), 0, &first)
	if !first.Found || first.LockID == "" || first.LockTime == 0 {
		t.Fatalf("expected a locked item, got %+v", first)
	}
	h.decode(h.exec(common.CmdGet, acquire), 0, &second)
	if second.Found || second.LockID != first.LockID {
		t.Errorf("expected the held lock %s, got %+v", first.LockID, second)
	}

	var status common.LockResponse
	h.decode(h.exec(common.CmdIsLocked, &common.KeyRequest{Key: "a"}), 0, &status)
	if !status.Locked || status.LockID != first.LockID {
		t.Errorf("unexpected lock status %+v", status)
	}

	if exc := h.exception(h.exec(common.CmdDelete, &common.KeyRequest{Key: "a"})); exc.ErrorCode != common.ErrorCodeItemLocked {
		t.Errorf("expected ItemLocked, got %d", exc.ErrorCode)
	}

	var unlocked common.BoolResponse
	h.decode(h.exec(common.CmdUnlock, &common.KeyRequest{Key: "a", LockID: first.LockID}), 0, &unlocked)
	h.decode(h.exec(common.CmdIsLocked, &common.KeyRequest{Key: "a"}), 0, &status)
	if status.Locked {
		t.Errorf("item is still locked")
	}
	h.checkPools()
}

func TestBulkRemovePartialFailure(t *testing.T) {
	engine := &stubEngine{Cache: newEngine(t)}
	h := newHarness(t, engine)
	h.init(5000, true)
	h.add("a", "1")
	h.add("c", "3")

	engine.afterRemoveBulk = func(res cache.BulkResult) {
		res["b"] = cache.KeyResult{Err: errors.Wrapf(cache.ErrKeyNotFound, "remove %q", "b")}
	}
	res := h.exec(common.CmdBulkRemove, &common.KeysRequest{Keys: []string{"a", "b", "c"}})
	if res.outcome != Success {
		t.Errorf("a failing key must not fail the command, got %s", res.outcome)
	}
	if res.items != 3 {
		t.Errorf("expected 3 items, got %d", res.items)
	}
	if len(res.packets) != 1 {
		t.Fatalf("expected one packet, got %d", len(res.packets))
	}

	var resp common.BulkResponse
	h.decode(res, 0, &resp)
	if len(resp.Results) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(resp.Results))
	}
	for i, key := range []string{"a", "b", "c"} {
		o := resp.Results[i]
		if o.Key != key {
			t.Errorf("outcome %d: expected key %s, got %s", i, key, o.Key)
		}
		if key == "b" {
			if o.Error == nil || o.Error.ErrorCode != common.ErrorCodeKeyNotFound {
				t.Errorf("expected KeyNotFound for b, got %+v", o.Error)
			}
			continue
		}
		if o.Error != nil || !o.Found || o.Item == nil {
			t.Errorf("expected %s to be removed, got %+v", key, o)
		}
	}
	h.checkPools()
}

func TestBulkWriteAndGet(t *testing.T) {
	h := newHarness(t, newEngine(t), func(cfg *common.ServerConfig) { cfg.ChunkSize = 2 })
	h.init(5000, true)

	var items []common.ItemRequest
	var keys []string
	for _, k := range []string{"k1", "k2", "k3", "k4", "k5"} {
		items = append(items, *common.NewItemRequest(k, []byte("value-"+k)))
		keys = append(keys, k)
	}
	var added common.BulkResponse
	h.decode(h.exec(common.CmdBulkAdd, &common.BulkItemRequest{Items: items}), 0, &added)
	for _, o := range added.Results {
		if o.Error != nil || o.Version == 0 {
			t.Errorf("unexpected outcome %+v", o)
		}
	}

	// a second bulk add fails per key
	var again common.BulkResponse
	h.decode(h.exec(common.CmdBulkAdd, &common.BulkItemRequest{Items: items[:2]}), 0, &again)
	for _, o := range again.Results {
		if o.Error == nil || o.Error.ErrorCode != common.ErrorCodeKeyExists {
			t.Errorf("expected KeyExists for %s, got %+v", o.Key, o.Error)
		}
	}

	res := h.exec(common.CmdBulkGet, &common.KeysRequest{Keys: append(keys, "missing")})
	if len(res.packets) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(res.packets))
	}
	var got []string
	for i := range res.packets {
		var chunk common.BulkResponse
		h.decode(res, i, &chunk)
		if chunk.SequenceID != int32(i+1) || chunk.NumberOfChunks != 3 {
			t.Errorf("chunk %d: sequence %d of %d", i, chunk.SequenceID, chunk.NumberOfChunks)
		}
		for _, o := range chunk.Results {
			if o.Found {
				got = append(got, o.Key+"="+string(o.Item.Bytes()))
			}
		}
	}
	want := []string{"k1=value-k1", "k2=value-k2", "k3=value-k3", "k4=value-k4", "k5=value-k5"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}

	empty := h.exec(common.CmdBulkGet, &common.KeysRequest{})
	var chunk common.BulkResponse
	h.decode(empty, 0, &chunk)
	if len(empty.packets) != 1 || chunk.NumberOfChunks != 1 || len(chunk.Results) != 0 {
		t.Errorf("expected one empty chunk, got %d packets %+v", len(empty.packets), chunk)
	}

	var exists common.ContainsBulkResponse
	h.decode(h.exec(common.CmdContainsBulk, &common.KeysRequest{Keys: []string{"k1", "missing"}}), 0, &exists)
	if !exists.Exists["k1"] || exists.Exists["missing"] {
		t.Errorf("unexpected contains result %v", exists.Exists)
	}

	var deleted common.BulkResponse
	h.decode(h.exec(common.CmdBulkDelete, &common.KeysRequest{Keys: keys}), 0, &deleted)
	var count common.CountResponse
	h.decode(h.exec(common.CmdCount, nil), 0, &count)
	if count.Count != 0 {
		t.Errorf("expected an empty cache, got %d", count.Count)
	}
	h.checkPools()
}

func TestTextQueryMatchesClientStrings(t *testing.T) {
	tests := map[string]struct {
		dotNet     bool
		stringType string
	}{
		"DotNet": {dotNet: true, stringType: "System.String"},
		"Java":   {stringType: "java.lang.String"},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, newEngine(t))
			h.init(5000, tc.dotNet)
			req := common.NewItemRequest("s1", []byte("text"))
			req.Type = tc.stringType
			h.exec(common.CmdAdd, req)

			var keys common.QueryResponse
			h.decode(h.exec(common.CmdSearch, &common.QueryRequest{Query: "SELECT $Text$"}), 0, &keys)
			if !reflect.DeepEqual(keys.Keys, []string{"s1"}) {
				t.Errorf("expected [s1], got %v", keys.Keys)
			}
			h.checkPools()
		})
	}
}

func TestQueries(t *testing.T) {
	str := func(s string) *string { return &s }

	tests := map[string]struct {
		dotNet    bool
		named     func(price string) dialect.NamedTags
		paramType string
	}{
		"DotNet": {
			dotNet: true,
			named: func(price string) dialect.NamedTags {
				return dialect.NamedTags{Names: []string{"price"}, Types: []string{"System.Int32"}, Values: []string{price}}
			},
			paramType: "System.Int32",
		},
		"Java": {
			named: func(price string) dialect.NamedTags {
				return dialect.NamedTags{Names: []string{"price"}, Values: []string{price + "|int"}}
			},
			paramType: "java.lang.Integer",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, newEngine(t))
			h.init(5000, tc.dotNet)
			for key, price := range map[string]string{"p1": "5", "p2": "15", "p3": "25"} {
				req := common.NewItemRequest(key, []byte(key))
				req.Type = "Product"
				req.NamedTags = tc.named(price)
				h.exec(common.CmdAdd, req)
			}

			q := &common.QueryRequest{
				Query:  "SELECT Product WHERE price > ?",
				Params: []query.Param{{Name: "price", Values: []query.TypedValue{{Type: tc.paramType, Value: str("10")}}}},
			}
			var keys common.QueryResponse
			h.decode(h.exec(common.CmdSearch, q), 0, &keys)
			if !reflect.DeepEqual(keys.Keys, []string{"p2", "p3"}) {
				t.Errorf("expected [p2 p3], got %v", keys.Keys)
			}

			var entries common.QueryResponse
			h.decode(h.exec(common.CmdSearchEntries, q), 0, &entries)
			if len(entries.Items) != 2 || entries.Items[0].NamedTags["price"] != "15" {
				t.Errorf("unexpected entries %+v", entries.Items)
			}

			reader := *q
			reader.ChunkSize = 1
			reader.GetData = true
			var first common.ReaderResponse
			h.decode(h.exec(common.CmdExecuteReader, &reader), 0, &first)
			if first.ReaderID == "" || first.IsLast || len(first.Rows) != 1 {
				t.Fatalf("expected an open reader, got %+v", first)
			}
			var next common.ReaderResponse
			h.decode(h.exec(common.CmdGetReaderChunk, &common.ReaderRequest{ReaderID: first.ReaderID, NextIndex: first.NextIndex}), 0, &next)
			if !next.IsLast || len(next.Rows) != 1 {
				t.Errorf("expected the last chunk, got %+v", next)
			}

			var deleted common.CountResponse
			del := *q
			del.Query = "DELETE Product WHERE price > ?"
			h.decode(h.exec(common.CmdDeleteQuery, &del), 0, &deleted)
			if deleted.Count != 2 {
				t.Errorf("expected 2 deleted items, got %d", deleted.Count)
			}
			h.checkPools()
		})
	}
}

func TestContinuousQueryAndPolling(t *testing.T) {
	h := newHarness(t, newEngine(t))
	h.init(5000, true)

	var ok common.BoolResponse
	h.decode(h.exec(common.CmdRegisterPollingNotification, nil), 0, &ok)

	q := &common.QueryRequest{
		Query: "SELECT Product",
		CQ:    &common.CQSpec{ClientUniqueID: "cq-1", NotifyAdd: true, NotifyRemove: true, AddDataFilter: -1, UpdateDataFilter: -1, RemoveDataFilter: -1},
	}
	var registered common.QueryResponse
	h.decode(h.exec(common.CmdSearchCQ, q), 0, &registered)
	if registered.CQID == "" {
		t.Fatalf("expected a continuous query id")
	}

	req := common.NewItemRequest("p1", []byte("1"))
	req.Type = "Product"
	h.exec(common.CmdAdd, req)

	var poll common.PollResponse
	h.decode(h.exec(common.CmdPoll, nil), 0, &poll)
	if !reflect.DeepEqual(poll.Added, []string{"p1"}) {
		t.Errorf("expected p1 to be reported as added, got %+v", poll)
	}

	h.decode(h.exec(common.CmdUnregisterCQ, &common.CQRequest{CQID: registered.CQID, ClientUniqueID: "cq-1"}), 0, &ok)
	if !ok.Value {
		t.Errorf("unregister failed")
	}

	// CQ commands require the registration
	if exc := h.exception(h.exec(common.CmdSearchCQ, &common.QueryRequest{Query: "SELECT Product"})); exc.ErrorCode != common.ErrorCodeParse {
		t.Errorf("expected parse error, got %d", exc.ErrorCode)
	}
}

func TestTags(t *testing.T) {
	h := newHarness(t, newEngine(t))
	h.init(5000, true)
	for key, tags := range map[string][]string{"a": {"red", "big"}, "b": {"red"}, "c": {"blue"}} {
		req := common.NewItemRequest(key, []byte(key))
		req.Tags = tags
		h.exec(common.CmdAdd, req)
	}

	var keys common.KeysResponse
	h.decode(h.exec(common.CmdGetKeysByTag, &common.TagRequest{Tags: []string{"red"}, Comparison: uint8(cache.TagAny)}), 0, &keys)
	sort.Strings(keys.Keys)
	if !reflect.DeepEqual(keys.Keys, []string{"a", "b"}) {
		t.Errorf("expected [a b], got %v", keys.Keys)
	}

	var items common.QueryResponse
	h.decode(h.exec(common.CmdGetByTag, &common.TagRequest{Tags: []string{"red", "big"}, Comparison: uint8(cache.TagAll)}), 0, &items)
	if len(items.Items) != 1 || items.Items[0].Key != "a" {
		t.Errorf("expected item a, got %+v", items.Items)
	}

	var removed common.CountResponse
	h.decode(h.exec(common.CmdRemoveByTag, &common.TagRequest{Tags: []string{"red"}, Comparison: uint8(cache.TagAny)}), 0, &removed)
	if removed.Count != 2 {
		t.Errorf("expected 2 removed items, got %d", removed.Count)
	}

	if exc := h.exception(h.exec(common.CmdGetByTag, &common.TagRequest{Tags: []string{"x"}, Comparison: 9})); exc.ErrorCode != common.ErrorCodeParse {
		t.Errorf("expected parse error, got %d", exc.ErrorCode)
	}
	h.checkPools()
}

func TestTopics(t *testing.T) {
	h := newHarness(t, newEngine(t))
	h.init(5000, true)

	var ok common.BoolResponse
	h.decode(h.exec(common.CmdGetTopic, &common.TopicRequest{Topic: "news"}), 0, &ok)
	if ok.Value {
		t.Errorf("topic should not exist yet")
	}
	steps := []struct {
		typ common.CommandType
		req any
	}{
		{common.CmdGetTopic, &common.TopicRequest{Topic: "news", Create: true}},
		{common.CmdSubscribeTopic, &common.TopicRequest{Topic: "news", SubscriptionID: "sub-1"}},
		{common.CmdMessagePublish, &common.PublishRequest{Topic: "news", MessageID: "m1", Payload: []byte("hello")}},
	}
	for _, s := range steps {
		h.decode(h.exec(s.typ, s.req), 0, &ok)
		if !ok.Value {
			t.Fatalf("%s failed", s.typ)
		}
	}

	var msgs common.MessagesResponse
	h.decode(h.exec(common.CmdGetMessage, &common.GetMessageRequest{SubscriptionID: "sub-1"}), 0, &msgs)
	if len(msgs.Messages["news"]) != 1 || string(msgs.Messages["news"][0].Payload) != "hello" {
		t.Fatalf("unexpected messages %+v", msgs.Messages)
	}

	h.decode(h.exec(common.CmdMessageAcknowledgment, &common.AckRequest{Acks: map[string][]string{"news": {"m1"}}}), 0, &ok)
	var count common.CountResponse
	h.decode(h.exec(common.CmdMessageCount, &common.TopicRequest{Topic: "news"}), 0, &count)
	if count.Count != 0 {
		t.Errorf("expected no pending messages, got %d", count.Count)
	}

	if exc := h.exception(h.exec(common.CmdSubscribeTopic, &common.TopicRequest{Topic: "missing", SubscriptionID: "s"})); exc.ErrorCode != common.ErrorCodeTopicNotFound {
		t.Errorf("expected TopicNotFound, got %d", exc.ErrorCode)
	}
	h.checkPools()
}

func TestProcessing(t *testing.T) {
	h := newHarness(t, newEngine(t))
	h.init(5000, true)
	for _, k := range []string{"a", "b", "c"} {
		h.add(k, k)
	}

	var keys []string
	req := &common.EnumRequest{ChunkSize: 2}
	for i := 0; i < 5; i++ {
		var chunk common.EnumResponse
		h.decode(h.exec(common.CmdGetNextChunk, req), 0, &chunk)
		keys = append(keys, chunk.Keys...)
		if chunk.IsLast {
			break
		}
		req = &common.EnumRequest{PointerID: chunk.PointerID, ChunkID: chunk.ChunkID, ChunkSize: 2}
	}
	if !reflect.DeepEqual(keys, []string{"a", "b", "c"}) {
		t.Errorf("expected [a b c], got %v", keys)
	}

	exc := h.exception(h.exec(common.CmdSubmitMapReduceTask, &common.MapReduceRequest{TaskID: "t1"}))
	if exc.Type != common.ExceptionNotSupported {
		t.Errorf("expected NotSupported, got %s", exc.Type)
	}
}

func TestInquiry(t *testing.T) {
	h := newHarness(t, newEngine(t), func(cfg *common.ServerConfig) { cfg.RequestLedger = true })
	h.init(5000, true)

	h.inst.Ledger.Register("client-1", 10, 0, -1)
	h.inst.Ledger.Update("client-1", 10, common.RequestReceivedAndExecuted, [][]byte{[]byte("packet")})

	var resp common.InquiryResponse
	h.decode(h.exec(common.CmdInquiryRequest, &common.InquiryRequest{RequestID: 10}), 0, &resp)
	if resp.Status != common.RequestReceivedAndExecuted || len(resp.Packets) != 1 || string(resp.Packets[0]) != "packet" {
		t.Errorf("unexpected inquiry response %+v", resp)
	}
	h.decode(h.exec(common.CmdInquiryRequest, &common.InquiryRequest{RequestID: 11}), 0, &resp)
	if resp.Status != common.RequestNotReceived {
		t.Errorf("expected NotReceived, got %s", resp.Status)
	}
}

func TestNotificationsWrapper(t *testing.T) {
	tests := map[string]struct {
		requestID int64
		update    int16
		async     bool
		want      bool
		wantAsync int16
	}{
		"NoCallbacks":     {requestID: 5, update: -1},
		"AsyncNoResponse": {requestID: -1, update: -1, async: true},
		"Async":           {requestID: 5, update: -1, async: true, want: true, wantAsync: 0},
		"UpdateCallback":  {requestID: -1, update: 3, want: true, wantAsync: -1},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			c := &Call{Cmd: &common.Command{RequestID: tc.requestID}, Session: &Session{ClientID: "session-client"}}
			req := common.NewItemRequest("k", nil)
			req.UpdateCallbackID = tc.update
			req.IsAsync = tc.async
			req.RemoveDataFilter = int16(cache.DataFilterMetadata)

			n := c.notifications(req)
			if (n != nil) != tc.want {
				t.Fatalf("expected wrapper=%t, got %+v", tc.want, n)
			}
			if n == nil {
				return
			}
			if n.AsyncOperationCompletedCallbackID != tc.wantAsync {
				t.Errorf("expected async callback id %d, got %d", tc.wantAsync, n.AsyncOperationCompletedCallbackID)
			}
			if n.ClientID != "session-client" || n.UpdateDataFilter != cache.DataFilterNone || n.RemoveDataFilter != cache.DataFilterMetadata {
				t.Errorf("unexpected wrapper %+v", n)
			}
		})
	}
}

func TestExpirationHints(t *testing.T) {
	h := newHarness(t, newEngine(t))
	h.init(5000, true)
	c := &Call{Inst: h.inst, Session: h.session}
	defer c.Scope.Close()

	hint, err := c.expirationHint(common.ExpirationSpec{})
	if err != nil || hint != nil {
		t.Errorf("expected no hint, got %v (%v)", hint, err)
	}

	hint, _ = c.expirationHint(common.ExpirationSpec{Sliding: common.ExpirationDefaultLonger})
	if hint.Kind != cache.ExpireIdle || hint.Sliding != h.inst.Config.Expiration.SlidingLonger {
		t.Errorf("unexpected sliding hint %v", hint)
	}

	at := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	hint, _ = c.expirationHint(common.ExpirationSpec{Absolute: query.TimeToTicks(at), DependencyKeys: []string{"x"}, Resync: true})
	if hint.Kind != cache.ExpireAggregate || len(hint.Hints) != 2 || !hint.Resync {
		t.Fatalf("expected an aggregate of two hints, got %v", hint)
	}
	if !hint.Hints[0].Absolute.Equal(at) || !reflect.DeepEqual(hint.Hints[1].Keys, []string{"x"}) {
		t.Errorf("unexpected nested hints %v", hint.Hints)
	}

	if _, err := c.expirationHint(common.ExpirationSpec{Sliding: -5}); err == nil {
		t.Errorf("expected an error for a negative sliding expiration")
	}
}
