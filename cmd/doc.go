// Package cmd implements the command-line interface of dCache. It provides a
// hierarchical command structure for running the server and for talking to
// it as a client.
//
// The package is organized into several subpackages:
//
//   - cache: Item, query, tag and topic commands plus a perf tool
//   - lock: Item lock commands (acquire, release, status)
//   - serve: Starts and configures the dCache server
//   - util: Shared flag, env and client setup (internal use)
//
// Every flag can also be set as DCACHE_<FLAG> in the environment or in a
// .env file. See dcache -help for a list of all commands.
package cmd
