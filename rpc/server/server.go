package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/ValentinKolb/dCache/lib/ledger"
	"github.com/ValentinKolb/dCache/lib/pool"
	"github.com/ValentinKolb/dCache/lib/stats"
	"github.com/ValentinKolb/dCache/rpc/command"
	"github.com/ValentinKolb/dCache/rpc/common"
	"github.com/ValentinKolb/dCache/rpc/serializer"
	"github.com/ValentinKolb/dCache/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"go.uber.org/multierr"
)

var Logger = logger.GetLogger("rpc")

// NewRPCServer creates a new RPC server
// It takes a config, transport and serializer as parameters
//
// Usage:
//
//	s := server.NewRPCServer(
//		config,
//		tcp.NewTCPServerTransport(),
//		serializer.NewJSONSerializer(),
//	)
//
//	if err := s.Serve(); err != nil {
//		panic(err)
//	}
func NewRPCServer(
	config common.ServerConfig,
	transport transport.IRPCServerTransport,
	serializer serializer.IRPCSerializer,
) *RPCServer {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	Logger.Infof("Created RPC Server")
	Logger.Infof(config.String())

	return &RPCServer{
		config:     config,
		transport:  transport,
		serializer: serializer,
		engines:    DefaultEngineFactory,
		ready:      make(chan struct{}),
	}
}

// RPCServer serves the configured caches over one transport
type RPCServer struct {
	config     common.ServerConfig
	transport  transport.IRPCServerTransport
	serializer serializer.IRPCSerializer
	engines    EngineFactory

	caches  *cacheTable
	inst    *command.Instance
	manager *CommandManager
	metrics *http.Server

	ready     chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// WithEngineFactory replaces the engine factory, it must be called before Serve
func (s *RPCServer) WithEngineFactory(f EngineFactory) *RPCServer {
	s.engines = f
	return s
}

// Ready is closed once the server is set up, right before the transport
// starts listening
func (s *RPCServer) Ready() <-chan struct{} {
	return s.ready
}

// Stats returns the performance counters, nil before Serve
func (s *RPCServer) Stats() *stats.Collector {
	if s.inst == nil {
		return nil
	}
	return s.inst.Stats
}

func (s *RPCServer) init() error {

	// Init logger
	if err := common.InitLoggers(s.config); err != nil {
		return err
	}

	caches, err := newCacheTable(s.config.Caches, s.engines)
	if err != nil {
		return fmt.Errorf("failed to create caches: %w", err)
	}
	s.caches = caches

	s.inst = &command.Instance{
		Config:  &s.config,
		Codec:   s.serializer,
		Pools:   pool.NewManager(!s.config.Pooling),
		Caches:  caches,
		Version: common.Version,
		Stats:   stats.New(),
	}
	if s.config.RequestLedger {
		s.inst.Ledger = ledger.New(time.Duration(s.config.RequestLedgerTTLSecond) * time.Second)
	}
	s.manager = newCommandManager(s.inst, caches)

	if s.config.MetricsEndpoint != "" {
		if err := s.serveMetrics(); err != nil {
			return err
		}
	}

	Logger.Infof("dCache setup completed successfully")

	// Configure the transport layer
	s.transport.RegisterHandler(s.manager)
	return nil
}

// serveMetrics exposes the performance counters in the Prometheus format
func (s *RPCServer) serveMetrics() error {
	l, err := net.Listen("tcp", s.config.MetricsEndpoint)
	if err != nil {
		return fmt.Errorf("failed to listen on metrics endpoint %s: %w", s.config.MetricsEndpoint, err)
	}
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", s.inst.Stats.Handler())
	s.metrics = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := s.metrics.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			Logger.Errorf("metrics endpoint failed: %v", err)
		}
	}()
	Logger.Infof("serving metrics on %s", l.Addr())
	return nil
}

// Serve starts the RPC server
// This function will also initialize the caches and start the transport layer.
// It blocks until Close is called.
func (s *RPCServer) Serve() error {
	if err := s.init(); err != nil {
		_ = s.Close()
		return err
	}
	close(s.ready)
	return s.transport.Listen(s.config)
}

// Close stops the transport and releases the caches, the ledger and the
// counters. It is safe to call Close more than once.
func (s *RPCServer) Close() error {
	s.closeOnce.Do(func() {
		err := s.transport.Close()
		if s.metrics != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err = multierr.Append(err, s.metrics.Shutdown(ctx))
			cancel()
		}
		if s.caches != nil {
			err = multierr.Append(err, s.caches.Close())
		}
		if s.inst != nil {
			if s.inst.Ledger != nil {
				s.inst.Ledger.Close()
			}
			s.inst.Stats.Stop()
			if n := s.inst.Pools.Outstanding(); n != 0 {
				Logger.Warningf("%d pooled objects were not returned", n)
			}
		}
		s.closeErr = err
	})
	return s.closeErr
}
