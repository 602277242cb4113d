package pool

import (
	"github.com/ValentinKolb/dCache/lib/cache"
	"github.com/ValentinKolb/dCache/lib/opctx"
	"sync"
)

// Manager owns the pools of one server instance. It is created with the
// server and handed to every command through the instance context, there is
// no process wide pool state.
type Manager struct {
	BitSets           *Pool[*cache.BitSet]
	Entries           *Pool[*cache.CacheEntry]
	ExpirationHints   *Pool[*cache.ExpirationHint]
	UserBinaryObjects *Pool[*cache.UserBinaryObject]
	Contexts          *Pool[*opctx.OperationContext]

	mu    sync.Mutex
	extra []StatsProvider
}

// NewManager creates the pools. With fake set objects are never reused.
func NewManager(fake bool) *Manager {
	return &Manager{
		BitSets: New("bitset", func() *cache.BitSet {
			return &cache.BitSet{}
		}, fake),
		Entries: New("cache-entry", func() *cache.CacheEntry {
			return &cache.CacheEntry{NamedTags: make(map[string]any)}
		}, fake),
		ExpirationHints: New("expiration-hint", func() *cache.ExpirationHint {
			return &cache.ExpirationHint{}
		}, fake),
		UserBinaryObjects: New("user-binary-object", func() *cache.UserBinaryObject {
			return &cache.UserBinaryObject{}
		}, fake),
		Contexts: New("operation-context", func() *opctx.OperationContext {
			return &opctx.OperationContext{}
		}, fake),
	}
}

// Track adds another pool (e.g. a command pool) to the reported stats
func (m *Manager) Track(p StatsProvider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.extra = append(m.extra, p)
}

// Stats returns the counters of every pool
func (m *Manager) Stats() []Stats {
	out := []Stats{
		m.BitSets.Stats(),
		m.Entries.Stats(),
		m.ExpirationHints.Stats(),
		m.UserBinaryObjects.Stats(),
		m.Contexts.Stats(),
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.extra {
		out = append(out, p.Stats())
	}
	return out
}

// Outstanding returns the sum of unreleased leases over all pools
func (m *Manager) Outstanding() int64 {
	var n int64
	for _, s := range m.Stats() {
		n += s.Outstanding()
	}
	return n
}
