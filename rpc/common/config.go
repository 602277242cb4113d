package common

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Version is the product version reported to clients
const Version = "1.1.0"

// --------------------------------------------------------------------------
// RPC server configuration struct
// --------------------------------------------------------------------------

// CacheEngineType selects the engine a cache is served by
type CacheEngineType string

const (
	EngineLocal CacheEngineType = "local"
)

// ServerCache binds a cache name to a transport level cache id
type ServerCache struct {
	// CacheID is the id the transport frames carry
	CacheID uint64
	// Name is the cache name clients pass to Init
	Name string
	// Engine selects the engine implementation
	Engine CacheEngineType
}

// ExpirationDefaults resolves the default expiration sentinels clients send
// (1 = default, 2 = default longer).
type ExpirationDefaults struct {
	Absolute       time.Duration
	AbsoluteLonger time.Duration
	Sliding        time.Duration
	SlidingLonger  time.Duration
}

// ServerConfig holds all configuration parameters of a cache server.
type ServerConfig struct {
	// Caches served by this instance
	Caches []ServerCache

	// Endpoint of the rpc transport
	Endpoint string
	// TimeoutSecond is the socket timeout of the transport
	TimeoutSecond int64
	// Workers bounds the number of requests handled in parallel
	Workers int

	// Logging configuration
	LogLevel string

	// ChunkSize is the number of rows per reader and bulk get response packet
	ChunkSize int
	// Pooling turns object reuse on. Without it the pools only count.
	Pooling bool

	// RequestLedger enables acknowledgement support for clients that ask for it
	RequestLedger          bool
	RequestLedgerTTLSecond int64

	// SendStackTraces adds stack traces to exception responses
	SendStackTraces bool
	// EnableRequestCancellation runs monitored commands under the client timeout
	EnableRequestCancellation bool
	// SlowCommandThresholdMs logs commands running longer, 0 disables the log
	SlowCommandThresholdMs int64

	// MetricsEndpoint exposes Prometheus metrics, empty disables it
	MetricsEndpoint string

	Expiration ExpirationDefaults
}

// DefaultServerConfig returns the configuration used when a flag is not set
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Caches:                 []ServerCache{{CacheID: 1, Name: "default", Engine: EngineLocal}},
		Endpoint:               ":8080",
		TimeoutSecond:          5,
		Workers:                64,
		LogLevel:               "info",
		ChunkSize:              100,
		Pooling:                true,
		RequestLedgerTTLSecond: 300,
		Expiration: ExpirationDefaults{
			Absolute:       5 * time.Minute,
			AbsoluteLonger: 10 * time.Minute,
			Sliding:        5 * time.Minute,
			SlidingLonger:  10 * time.Minute,
		},
	}
}

// CacheByName returns the cache with the given name (case-insensitive)
func (c *ServerConfig) CacheByName(name string) (ServerCache, bool) {
	for _, sc := range c.Caches {
		if strings.EqualFold(sc.Name, name) {
			return sc, true
		}
	}
	return ServerCache{}, false
}

// ParseCaches parses a "1=default,2=sessions" cache list
func ParseCaches(s string) ([]ServerCache, error) {
	var caches []ServerCache
	seen := make(map[uint64]bool)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		idStr, name, ok := strings.Cut(part, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("invalid cache definition %q, expected <id>=<name>", part)
		}
		id, err := strconv.ParseUint(strings.TrimSpace(idStr), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid cache id %q: %w", idStr, err)
		}
		if seen[id] {
			return nil, fmt.Errorf("duplicate cache id %d", id)
		}
		seen[id] = true
		caches = append(caches, ServerCache{CacheID: id, Name: strings.TrimSpace(name), Engine: EngineLocal})
	}
	if len(caches) == 0 {
		return nil, fmt.Errorf("no caches configured")
	}
	return caches, nil
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// RPC settings
	addSection("RPC Server")
	addField("Endpoint", c.Endpoint)
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Workers", strconv.Itoa(c.Workers))
	addField("Chunk Size", strconv.Itoa(c.ChunkSize))
	addField("Pooling", strconv.FormatBool(c.Pooling))

	// Requests
	addSection("Requests")
	addField("Request Ledger", strconv.FormatBool(c.RequestLedger))
	if c.RequestLedger {
		addField("Ledger TTL", fmt.Sprintf("%d sec", c.RequestLedgerTTLSecond))
	}
	addField("Cancellation", strconv.FormatBool(c.EnableRequestCancellation))
	addField("Stack Traces", strconv.FormatBool(c.SendStackTraces))
	if c.SlowCommandThresholdMs > 0 {
		addField("Slow Command Log", fmt.Sprintf("%d ms", c.SlowCommandThresholdMs))
	}

	// Logging configuration
	addSection("Logging")
	addField("Log Level", c.LogLevel)
	if c.MetricsEndpoint != "" {
		addField("Metrics Endpoint", c.MetricsEndpoint)
	}

	// Caches
	addSection("Caches")
	caches := append([]ServerCache(nil), c.Caches...)
	sort.Slice(caches, func(i, j int) bool { return caches[i].CacheID < caches[j].CacheID })
	for _, sc := range caches {
		addField(strconv.FormatUint(sc.CacheID, 10), fmt.Sprintf("%s (%s)", sc.Name, sc.Engine))
	}
	return sb.String()
}

// --------------------------------------------------------------------------
// RPC client configuration struct
// --------------------------------------------------------------------------

type ClientConfig struct {
	Endpoints              []string
	TimeoutSecond          int
	RetryCount             int
	ConnectionsPerEndpoint int

	// Session parameters sent with Init
	ClientID       string
	ClientVersion  int32
	CommandVersion int32
	Dialect        string
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// General Client Settings
	addSection("Client Configuration")
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Retry Count", strconv.Itoa(c.RetryCount))
	addField("Connections Per Endpoint", strconv.Itoa(int(math.Max(1, float64(c.ConnectionsPerEndpoint)))))

	// Session
	addSection("Session")
	addField("Client ID", c.ClientID)
	addField("Client Version", strconv.Itoa(int(c.ClientVersion)))
	addField("Command Version", strconv.Itoa(int(c.CommandVersion)))
	addField("Dialect", c.Dialect)

	// Endpoints
	addSection("Endpoints")
	for i, endpoint := range c.Endpoints {
		addField(strconv.Itoa(i), endpoint)
	}

	return sb.String()
}
