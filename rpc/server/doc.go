// Package server implements the cache server. It hosts the configured caches,
// accepts connections through a transport and dispatches every command to the
// handler registered for its type.
//
// Key Components:
//
//   - RPCServer: Created by NewRPCServer with a transport and a serializer.
//     Serve builds the caches, the command instance (pools, ledger, stats) and
//     the optional metrics endpoint, then blocks in the transport. Close shuts
//     everything down and may be called more than once.
//
//   - CommandManager: The transport handler. It keeps one command.Session per
//     connection, drops commands for offline caches, rents the command from the
//     registry, runs it, records the perf counters and returns its packets.
//     Unsafe commands of clients with acknowledgement support are tracked in
//     the request ledger.
//
//   - cacheTable: The hosted caches by id and by (case-insensitive) name. It
//     listens to the operation mode of every engine and latches OFFLINE caches.
//     Engines are created by an EngineFactory, DefaultEngineFactory builds the
//     in-process lcache engine.
//
//   - clientRegistry: Maps client ids to their current session. A client that
//     initializes a new connection replaces its old one.
//
// Usage Example:
//
//	config := common.DefaultServerConfig()
//	config.Caches = []common.ServerCache{
//	  {CacheID: 1, Name: "default", Engine: common.EngineLocal},
//	  {CacheID: 2, Name: "sessions", Engine: common.EngineLocal},
//	}
//	config.Endpoint = "0.0.0.0:8080"
//
//	s := server.NewRPCServer(
//	  config,
//	  tcp.NewTCPServerTransport(),
//	  serializer.NewMsgpackSerializer(),
//	)
//	if err := s.Serve(); err != nil {
//	  log.Fatalf("Server error: %v", err)
//	}
//
// Thread Safety:
//
//	Commands of one connection run one after the other, commands of different
//	connections run in parallel. Serve should be called only once.
package server
