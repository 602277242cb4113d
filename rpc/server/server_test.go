package server_test

import (
	"errors"
	"fmt"
	"io"
	"net"
	nethttp "net/http"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/dCache/lib/cache"
	"github.com/ValentinKolb/dCache/rpc/client"
	"github.com/ValentinKolb/dCache/rpc/common"
	"github.com/ValentinKolb/dCache/rpc/serializer"
	"github.com/ValentinKolb/dCache/rpc/server"
	"github.com/ValentinKolb/dCache/rpc/transport"
	"github.com/ValentinKolb/dCache/rpc/transport/http"
	"github.com/ValentinKolb/dCache/rpc/transport/tcp"
	"github.com/ValentinKolb/dCache/rpc/transport/unix"
	"go.uber.org/goleak"
)

// the go-metrics meter arbiter is a process wide goroutine
var ignoreMeterArbiter = goleak.IgnoreTopFunction("github.com/rcrowley/go-metrics.(*meterArbiter).tick")

func freePort(t *testing.T) string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("no free port: %v", err)
	}
	defer l.Close()
	return l.Addr().String()
}

type transportFactory struct {
	server   func() transport.IRPCServerTransport
	client   func() transport.IRPCClientTransport
	endpoint func(t *testing.T) (serverEP, clientEP string)
}

var transports = map[string]transportFactory{
	"TCP": {
		server: tcp.NewTCPServerTransport,
		client: tcp.NewTCPClientTransport,
		endpoint: func(t *testing.T) (string, string) {
			addr := freePort(t)
			return addr, addr
		},
	},
	"Unix": {
		server: unix.NewUnixServerTransport,
		client: unix.NewUnixClientTransport,
		endpoint: func(t *testing.T) (string, string) {
			path := filepath.Join(t.TempDir(), "dcache.sock")
			return path, path
		},
	},
	"HTTP": {
		server: http.NewHttpServerTransport,
		client: http.NewHttpClientTransport,
		endpoint: func(t *testing.T) (string, string) {
			addr := freePort(t)
			return addr, "http://" + addr
		},
	},
}

var serializers = map[string]func() serializer.IRPCSerializer{
	"JSON":    serializer.NewJSONSerializer,
	"Msgpack": serializer.NewMsgpackSerializer,
}

type testServer struct {
	srv      *server.RPCServer
	clientEP string
	serveErr chan error
}

// startServer serves the caches "default" (1) and "sessions" (2)
func startServer(t *testing.T, f transportFactory, codec func() serializer.IRPCSerializer, mods ...func(*common.ServerConfig)) *testServer {
	serverEP, clientEP := f.endpoint(t)
	config := common.DefaultServerConfig()
	config.Endpoint = serverEP
	config.Workers = 4
	config.LogLevel = "error"
	config.Caches = []common.ServerCache{
		{CacheID: 1, Name: "default", Engine: common.EngineLocal},
		{CacheID: 2, Name: "sessions", Engine: common.EngineLocal},
	}
	for _, m := range mods {
		m(&config)
	}

	ts := &testServer{
		srv:      server.NewRPCServer(config, f.server(), codec()),
		clientEP: clientEP,
		serveErr: make(chan error, 1),
	}
	go func() { ts.serveErr <- ts.srv.Serve() }()

	select {
	case <-ts.srv.Ready():
	case err := <-ts.serveErr:
		t.Fatalf("server failed to start: %v", err)
	}
	return ts
}

func (ts *testServer) stop(t *testing.T) {
	if err := ts.srv.Close(); err != nil {
		t.Errorf("server close failed: %v", err)
	}
	if err := <-ts.serveErr; err != nil {
		t.Errorf("serve returned error: %v", err)
	}
}

// connect creates a client, retrying until the transport accepts connections
func (ts *testServer) connect(t *testing.T, f transportFactory, codec func() serializer.IRPCSerializer, cacheName, clientID string) *client.Client {
	config := common.ClientConfig{
		Endpoints:              []string{ts.clientEP},
		TimeoutSecond:          5,
		RetryCount:             3,
		ConnectionsPerEndpoint: 2,
		ClientID:               clientID,
	}
	var (
		c   *client.Client
		err error
	)
	for i := 0; i < 100; i++ {
		if c, err = client.NewClient(0, cacheName, config, f.client(), codec()); err == nil {
			return c
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("failed to connect: %v", err)
	return nil
}

func TestServer(t *testing.T) {
	defer goleak.VerifyNone(t, ignoreMeterArbiter)

	for tName, f := range transports {
		for sName, codec := range serializers {
			t.Run(tName+"/"+sName, func(t *testing.T) {
				ts := startServer(t, f, codec)
				defer ts.stop(t)

				c := ts.connect(t, f, codec, "default", "client-1")
				defer func() {
					if err := c.Close(); err != nil {
						t.Errorf("client close failed: %v", err)
					}
				}()

				t.Run("Session", func(t *testing.T) {
					if err := c.Ping(); err != nil {
						t.Fatalf("ping failed: %v", err)
					}
					v, err := c.ProductVersion()
					if err != nil || v != common.Version {
						t.Errorf("Expected version %s, got %s (%v)", common.Version, v, err)
					}
					if s := c.Session(); s.CacheName != "default" || s.CacheID != 1 {
						t.Errorf("Expected session on cache default (1), got %s (%d)", s.CacheName, s.CacheID)
					}
				})

				t.Run("Items", func(t *testing.T) {
					version, err := c.Add("a", []byte("1"), client.WithTags("letters"))
					if err != nil || version == 0 {
						t.Fatalf("add failed: %d, %v", version, err)
					}
					if _, err := c.Add("a", []byte("2")); !client.IsException(err, common.ErrorCodeKeyExists) {
						t.Errorf("Expected key exists, got %v", err)
					}
					if _, err := c.Insert("a", []byte("3")); err != nil {
						t.Fatalf("insert failed: %v", err)
					}
					value, ok, err := c.Get("a")
					if err != nil || !ok || string(value) != "3" {
						t.Errorf("Expected a=3, got %q, %t, %v", value, ok, err)
					}
					item, err := c.GetCacheItem("a")
					if err != nil || item == nil || !reflect.DeepEqual(item.Tags, []string{"letters"}) {
						t.Errorf("Expected item with tag letters, got %+v, %v", item, err)
					}
					if ok, err := c.Contains("a"); err != nil || !ok {
						t.Errorf("Expected a to be present: %v", err)
					}
					value, ok, err = c.Remove("a")
					if err != nil || !ok || string(value) != "3" {
						t.Errorf("Expected to remove a=3, got %q, %t, %v", value, ok, err)
					}
					if _, ok, err := c.Get("a"); err != nil || ok {
						t.Errorf("Expected a miss after remove: %v", err)
					}
				})

				t.Run("Locks", func(t *testing.T) {
					if _, err := c.Insert("locked", []byte("x")); err != nil {
						t.Fatalf("insert failed: %v", err)
					}
					info, err := c.Lock("locked", time.Minute)
					if err != nil || !info.Locked || info.LockID == "" {
						t.Fatalf("Expected to lock, got %+v, %v", info, err)
					}
					if again, err := c.Lock("locked", time.Minute); err != nil || again.Locked || again.LockID != info.LockID {
						t.Errorf("Expected the held lock %s, got %+v, %v", info.LockID, again, err)
					}
					if err := c.Delete("locked"); !client.IsException(err, common.ErrorCodeItemLocked) {
						t.Errorf("Expected item locked, got %v", err)
					}
					if err := c.Unlock("locked", info.LockID); err != nil {
						t.Fatalf("unlock failed: %v", err)
					}
					if state, err := c.IsLocked("locked"); err != nil || state.Locked {
						t.Errorf("Expected unlocked item, got %+v, %v", state, err)
					}
					if err := c.Delete("locked"); err != nil {
						t.Errorf("delete failed: %v", err)
					}
				})

				t.Run("Bulk", func(t *testing.T) {
					items := make(map[string][]byte)
					for i := 0; i < 250; i++ {
						items[fmt.Sprintf("bulk-%03d", i)] = []byte(fmt.Sprint(i))
					}
					results, err := c.BulkInsert(items)
					if err != nil || len(results) != len(items) {
						t.Fatalf("bulk insert failed: %d results, %v", len(results), err)
					}
					keys := make([]string, 0, len(items)+1)
					for k := range items {
						keys = append(keys, k)
					}
					keys = append(keys, "bulk-missing")
					// more keys than one chunk holds
					got, err := c.BulkGet(keys...)
					if err != nil {
						t.Fatalf("bulk get failed: %v", err)
					}
					if !reflect.DeepEqual(got, items) {
						t.Errorf("Expected %d items, got %d", len(items), len(got))
					}
					results, err = c.BulkRemove(keys...)
					if err != nil || len(results) != len(keys) {
						t.Fatalf("bulk remove failed: %d results, %v", len(results), err)
					}
					if n, err := c.Count(); err != nil || n != 0 {
						t.Errorf("Expected an empty cache, got %d, %v", n, err)
					}
				})

				t.Run("Queries", func(t *testing.T) {
					for i, tags := range [][]string{{"red"}, {"red", "big"}, {"blue"}} {
						if _, err := c.Insert(fmt.Sprintf("q%d", i), []byte("v"), client.WithTags(tags...)); err != nil {
							t.Fatalf("insert failed: %v", err)
						}
					}
					keys, err := c.GetKeysByTag(cache.TagAny, "red")
					sort.Strings(keys)
					if err != nil || !reflect.DeepEqual(keys, []string{"q0", "q1"}) {
						t.Errorf("Expected [q0 q1], got %v, %v", keys, err)
					}
					for key, price := range map[string]string{"p1": "5", "p2": "15", "p3": "25"} {
						_, err := c.Insert(key, []byte(key), client.WithType("Product"), client.WithNamedTag("price", "System.Int32", price))
						if err != nil {
							t.Fatalf("insert failed: %v", err)
						}
					}
					keys, err = c.Search("SELECT Product WHERE price > ?", client.Param("price", "System.Int32", "10"))
					if err != nil || !reflect.DeepEqual(keys, []string{"p2", "p3"}) {
						t.Errorf("Expected [p2 p3], got %v, %v", keys, err)
					}
					entries, err := c.SearchEntries("SELECT Product WHERE price > ?", client.Param("price", "System.Int32", "20"))
					if err != nil || len(entries) != 1 || entries[0].Key != "p3" {
						t.Errorf("Expected entry p3, got %+v, %v", entries, err)
					}
					if n, err := c.RemoveByTag(cache.TagAll, "red"); err != nil || n != 2 {
						t.Errorf("Expected to remove 2 items, got %d, %v", n, err)
					}
					if err := c.Clear(); err != nil {
						t.Errorf("clear failed: %v", err)
					}
				})

				t.Run("Topics", func(t *testing.T) {
					if ok, err := c.GetTopic("news", true); err != nil || !ok {
						t.Fatalf("Expected to create topic: %v", err)
					}
					if err := c.Subscribe("news", "sub-1", cache.SubscriptionShared); err != nil {
						t.Fatalf("subscribe failed: %v", err)
					}
					if err := c.Publish("news", "m1", []byte("hello"), cache.DeliverAll); err != nil {
						t.Fatalf("publish failed: %v", err)
					}
					msgs, err := c.GetMessages("sub-1")
					if err != nil || len(msgs["news"]) != 1 || string(msgs["news"][0].Payload) != "hello" {
						t.Fatalf("Expected one message on news, got %v, %v", msgs, err)
					}
					if err := c.Acknowledge(map[string][]string{"news": {"m1"}}); err != nil {
						t.Errorf("acknowledge failed: %v", err)
					}
					if n, err := c.MessageCount("news"); err != nil || n != 0 {
						t.Errorf("Expected no pending messages, got %d, %v", n, err)
					}
					if ok, err := c.RemoveTopic("news"); err != nil || !ok {
						t.Errorf("Expected to remove topic: %v", err)
					}
				})

				t.Run("Concurrent", func(t *testing.T) {
					var wg sync.WaitGroup
					errs := make(chan error, 20)
					for i := 0; i < 20; i++ {
						wg.Add(1)
						go func(i int) {
							defer wg.Done()
							key := fmt.Sprintf("c%d", i)
							if _, err := c.Insert(key, []byte(key)); err != nil {
								errs <- err
								return
							}
							value, ok, err := c.Get(key)
							if err != nil || !ok || string(value) != key {
								errs <- fmt.Errorf("get %s: %q, %t, %v", key, value, ok, err)
							}
						}(i)
					}
					wg.Wait()
					close(errs)
					for err := range errs {
						t.Error(err)
					}
				})
			})
		}
	}
}

func TestCachesAreIsolated(t *testing.T) {
	defer goleak.VerifyNone(t, ignoreMeterArbiter)
	f, codec := transports["TCP"], serializers["Msgpack"]

	ts := startServer(t, f, codec)
	defer ts.stop(t)

	a := ts.connect(t, f, codec, "default", "client-a")
	defer a.Close()
	b := ts.connect(t, f, codec, "SESSIONS", "client-b")
	defer b.Close()

	if s := b.Session(); s.CacheID != 2 {
		t.Errorf("Expected the name lookup to ignore case, got cache %d", s.CacheID)
	}
	if _, err := a.Insert("k", []byte("a")); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if _, ok, err := b.Get("k"); err != nil || ok {
		t.Errorf("Expected k to be missing in sessions: %v", err)
	}

	if _, err := client.NewClient(0, "missing", common.ClientConfig{
		Endpoints:     []string{ts.clientEP},
		TimeoutSecond: 5,
	}, f.client(), codec()); err == nil {
		t.Errorf("Expected init of an unknown cache to fail")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	defer goleak.VerifyNone(t, ignoreMeterArbiter)
	f, codec := transports["TCP"], serializers["JSON"]
	metricsAddr := freePort(t)

	ts := startServer(t, f, codec, func(c *common.ServerConfig) { c.MetricsEndpoint = metricsAddr })
	defer ts.stop(t)

	c := ts.connect(t, f, codec, "default", "client-1")
	if _, err := c.Insert("a", []byte("1")); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("client close failed: %v", err)
	}

	if n := ts.srv.Stats().CommandCount(common.CmdInsert); n != 1 {
		t.Errorf("Expected 1 insert, got %d", n)
	}

	httpClient := &nethttp.Client{Transport: &nethttp.Transport{DisableKeepAlives: true}}
	resp, err := httpClient.Get("http://" + metricsAddr + "/metrics")
	if err != nil {
		t.Fatalf("failed to scrape metrics: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read metrics: %v", err)
	}
	for _, want := range []string{`dcache_commands_total{command="insert"} 1`, "dcache_connections"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("Expected %q in the metrics", want)
		}
	}
}

func TestServeFailsOnBadConfig(t *testing.T) {
	defer goleak.VerifyNone(t, ignoreMeterArbiter)

	config := common.DefaultServerConfig()
	config.Endpoint = freePort(t)
	config.Caches = []common.ServerCache{{CacheID: 1, Name: "default", Engine: "raft"}}

	srv := server.NewRPCServer(config, tcp.NewTCPServerTransport(), serializer.NewJSONSerializer())
	err := srv.Serve()
	if err == nil {
		t.Fatalf("Expected an unknown engine to fail")
	}
	var exc *common.ExceptionDescriptor
	if errors.As(err, &exc) {
		t.Errorf("Expected a setup error, got an exception")
	}
}
