package lcache

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dCache/lib/cache"
	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("cache")

var _ cache.ICache = (*Cache)(nil)

// --------------------------------------------------------------------------
// Options
// --------------------------------------------------------------------------

// Options configures a Cache
type Options struct {
	Name            string        // Name of the cache
	NumShards       int           // Number of item shards (0 = number of CPUs)
	JanitorInterval time.Duration // Time between expiry sweeps (0 = no background sweeps)
	MaxReaders      int           // Open readers kept before the oldest is dropped
	MaxEnumerators  int           // Open enumerators kept before the oldest is dropped
	MaxPollEvents   int           // Queued events per client before the oldest is dropped

	// ReadThrough loads a missing item when a read asks for read-through.
	// Without it such reads fail with ErrNotSupported.
	ReadThrough func(key string) ([]byte, error)
	// WriteThrough persists a write (removed = false) or removal (removed = true)
	// when a write asks for write-through or write-behind.
	WriteThrough func(key string, value []byte, removed bool) error
}

// DefaultOptions returns the default options for a cache with the given name
func DefaultOptions(name string) *Options {
	return &Options{
		Name:            name,
		NumShards:       runtime.NumCPU(),
		JanitorInterval: time.Second,
		MaxReaders:      1024,
		MaxEnumerators:  1024,
		MaxPollEvents:   10_000,
	}
}

// --------------------------------------------------------------------------
// Cache
// --------------------------------------------------------------------------

// record is the stored form of an item. Records are never modified after
// they are stored, every change stores a new record.
type record struct {
	value        []byte
	flags        uint8
	version      uint64
	typ          string
	group        string
	tags         []string
	named        map[string]any
	priority     cache.EvictionPriority
	expiration   *cache.ExpirationHint
	notif        *cache.Notifications
	created      time.Time
	modified     time.Time
	lastAccess   time.Time
	lock         *cache.LockHandle
	lockDeadline time.Time
}

// shard is one partition of the item table
type shard struct {
	items     *xsync.MapOf[string, *record]
	mu        sync.Mutex // guards deadlines
	deadlines *deadlineHeap
}

// Cache is the in-process reference engine. It implements cache.ICache.
type Cache struct {
	opts   Options
	shards []*shard
	now    func() time.Time

	versions atomic.Uint64

	depMu      sync.Mutex
	dependents map[string]map[string]struct{} // key -> keys depending on it

	keyCallbacks *xsync.MapOf[string, *keyRegistrations]
	clients      *xsync.MapOf[string, *eventQueue]
	cqs          *xsync.MapOf[string, *continuousQuery]
	topics       *xsync.MapOf[string, *topic]
	readers      *lru.Cache
	enumerators  *lru.Cache

	modeMu    sync.Mutex
	mode      cache.OperationMode
	listeners []func(cache.OperationMode)

	stop   chan struct{}
	wg     sync.WaitGroup
	closed atomic.Bool
}

// New creates a cache. If opts is nil the default options are used.
func New(opts *Options) *Cache {
	if opts == nil {
		opts = DefaultOptions("default")
	}
	o := *opts
	if o.NumShards <= 0 {
		o.NumShards = runtime.NumCPU()
	}
	if o.MaxReaders <= 0 {
		o.MaxReaders = 1024
	}
	if o.MaxEnumerators <= 0 {
		o.MaxEnumerators = 1024
	}
	if o.MaxPollEvents <= 0 {
		o.MaxPollEvents = 10_000
	}

	readers, _ := lru.New(o.MaxReaders)
	enumerators, _ := lru.New(o.MaxEnumerators)

	c := &Cache{
		opts:         o,
		shards:       make([]*shard, o.NumShards),
		now:          time.Now,
		dependents:   make(map[string]map[string]struct{}),
		keyCallbacks: xsync.NewMapOf[string, *keyRegistrations](),
		clients:      xsync.NewMapOf[string, *eventQueue](),
		cqs:          xsync.NewMapOf[string, *continuousQuery](),
		topics:       xsync.NewMapOf[string, *topic](),
		readers:      readers,
		enumerators:  enumerators,
		stop:         make(chan struct{}),
	}
	for i := range c.shards {
		c.shards[i] = &shard{
			items:     xsync.NewMapOf[string, *record](),
			deadlines: newDeadlineHeap(),
		}
	}
	c.versions.Store(uint64(time.Now().UnixMilli()))

	if o.JanitorInterval > 0 {
		c.wg.Add(1)
		go c.janitor(o.JanitorInterval)
	}
	return c
}

// shardFor returns the shard owning key
func (c *Cache) shardFor(key string) *shard {
	return c.shards[xxhash.Sum64String(key)%uint64(len(c.shards))]
}

// nextVersion returns a version greater than prev
func (c *Cache) nextVersion(prev uint64) uint64 {
	v := c.versions.Add(1)
	if v <= prev {
		v = prev + 1
		c.versions.Store(v)
	}
	return v
}

// --------------------------------------------------------------------------
// Interface Methods (docu see cache.ICache)
// --------------------------------------------------------------------------

func (c *Cache) Name() string {
	return c.opts.Name
}

func (c *Cache) RegisterOperationModeListener(fn func(cache.OperationMode)) {
	c.modeMu.Lock()
	defer c.modeMu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// SetOperationMode switches the cache ONLINE or OFFLINE and notifies the
// registered listeners if the mode changed
func (c *Cache) SetOperationMode(mode cache.OperationMode) {
	c.modeMu.Lock()
	if c.mode == mode {
		c.modeMu.Unlock()
		return
	}
	c.mode = mode
	listeners := append([]func(cache.OperationMode){}, c.listeners...)
	c.modeMu.Unlock()

	Logger.Infof("cache %s is now %s", c.opts.Name, mode)
	for _, fn := range listeners {
		fn(mode)
	}
}

// OperationMode returns the current mode
func (c *Cache) OperationMode() cache.OperationMode {
	c.modeMu.Lock()
	defer c.modeMu.Unlock()
	return c.mode
}

func (c *Cache) OnClientConnected(clientID string) {
	c.clients.LoadOrStore(clientID, newEventQueue(c.opts.MaxPollEvents))
}

func (c *Cache) OnClientDisconnected(clientID string) {
	c.clients.Delete(clientID)
	c.cqs.Range(func(id string, cq *continuousQuery) bool {
		if cq.info.ClientID == clientID {
			c.cqs.Delete(id)
		}
		return true
	})
	c.keyCallbacks.Range(func(key string, _ *keyRegistrations) bool {
		c.keyCallbacks.Compute(key, func(regs *keyRegistrations, loaded bool) (*keyRegistrations, bool) {
			if !loaded {
				return regs, true
			}
			regs = regs.without(clientID)
			return regs, regs.empty()
		})
		return true
	})
	c.topics.Range(func(_ string, t *topic) bool {
		t.dropClient(clientID)
		return true
	})
}

// Close stops the background janitor and drops all state
func (c *Cache) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(c.stop)
	c.wg.Wait()
	c.readers.Purge()
	c.enumerators.Purge()
	return nil
}

// --------------------------------------------------------------------------
// Expiry
// --------------------------------------------------------------------------

// expired reports whether rec has expired at now. Key dependencies are event
// driven and never expire by time.
func expired(h *cache.ExpirationHint, lastAccess, now time.Time) bool {
	if h == nil {
		return false
	}
	switch h.Kind {
	case cache.ExpireFixed:
		return !now.Before(h.Absolute)
	case cache.ExpireIdle:
		return h.Sliding > 0 && !now.Before(lastAccess.Add(h.Sliding))
	case cache.ExpireAggregate:
		for _, child := range h.Hints {
			if expired(child, lastAccess, now) {
				return true
			}
		}
	}
	return false
}

// nextDeadline returns the earliest time at which h may expire
func nextDeadline(h *cache.ExpirationHint, lastAccess time.Time) (time.Time, bool) {
	if h == nil {
		return time.Time{}, false
	}
	switch h.Kind {
	case cache.ExpireFixed:
		return h.Absolute, true
	case cache.ExpireIdle:
		if h.Sliding > 0 {
			return lastAccess.Add(h.Sliding), true
		}
	case cache.ExpireAggregate:
		var (
			best  time.Time
			found bool
		)
		for _, child := range h.Hints {
			if t, ok := nextDeadline(child, lastAccess); ok && (!found || t.Before(best)) {
				best, found = t, true
			}
		}
		return best, found
	}
	return time.Time{}, false
}

// dependencyKeys returns all keys h depends on
func dependencyKeys(h *cache.ExpirationHint) []string {
	if h == nil {
		return nil
	}
	switch h.Kind {
	case cache.ExpireKeyDependency:
		return h.Keys
	case cache.ExpireAggregate:
		var keys []string
		for _, child := range h.Hints {
			keys = append(keys, dependencyKeys(child)...)
		}
		return keys
	}
	return nil
}

func (r *record) expiredAt(now time.Time) bool {
	return expired(r.expiration, r.lastAccess, now)
}

func (r *record) locked(now time.Time) bool {
	return r.lock != nil && (r.lockDeadline.IsZero() || now.Before(r.lockDeadline))
}

// schedule registers the expiry deadline of rec
func (c *Cache) schedule(key string, rec *record) {
	at, ok := nextDeadline(rec.expiration, rec.lastAccess)
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if ok {
		s.deadlines.schedule(key, at)
	} else {
		s.deadlines.cancel(key)
	}
}

func (c *Cache) registerDependencies(key string, rec *record) {
	deps := dependencyKeys(rec.expiration)
	if len(deps) == 0 {
		return
	}
	c.depMu.Lock()
	defer c.depMu.Unlock()
	for _, dep := range deps {
		set, ok := c.dependents[dep]
		if !ok {
			set = make(map[string]struct{})
			c.dependents[dep] = set
		}
		set[key] = struct{}{}
	}
}

// invalidateDependents removes every item that depends on key
func (c *Cache) invalidateDependents(key string) {
	c.depMu.Lock()
	set := c.dependents[key]
	delete(c.dependents, key)
	c.depMu.Unlock()

	for dependent := range set {
		var removed *record
		c.shardFor(dependent).items.Compute(dependent, func(rec *record, loaded bool) (*record, bool) {
			if !loaded {
				return rec, true
			}
			for _, dep := range dependencyKeys(rec.expiration) {
				if dep == key {
					removed = rec
					return rec, true
				}
			}
			return rec, false
		})
		if removed != nil {
			c.afterRemove(dependent, removed)
		}
	}
}

// expire removes key if its record expired and reports whether it did
func (c *Cache) expire(key string) bool {
	now := c.now()
	var removed, kept *record
	c.shardFor(key).items.Compute(key, func(rec *record, loaded bool) (*record, bool) {
		if !loaded {
			return rec, true
		}
		if rec.expiredAt(now) {
			removed = rec
			return rec, true
		}
		kept = rec
		return rec, false
	})
	if removed != nil {
		Logger.Debugf("cache %s: key %q expired", c.opts.Name, key)
		c.afterRemove(key, removed)
		return true
	}
	if kept != nil {
		c.schedule(key, kept)
	}
	return false
}

// janitor sweeps expired items until Close is called
func (c *Cache) janitor(interval time.Duration) {
	defer c.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}

// Sweep removes every item whose expiry deadline has passed
func (c *Cache) Sweep() int {
	now := c.now()
	n := 0
	for _, s := range c.shards {
		s.mu.Lock()
		keys := s.deadlines.due(now)
		s.mu.Unlock()
		for _, key := range keys {
			if c.expire(key) {
				n++
			}
		}
	}
	return n
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

// load returns the live record of key, removing it if it expired
func (c *Cache) load(key string) (*record, bool) {
	rec, ok := c.shardFor(key).items.Load(key)
	if !ok {
		return nil, false
	}
	if rec.expiredAt(c.now()) {
		c.expire(key)
		return nil, false
	}
	return rec, true
}

// rangeLive calls fn for every live record
func (c *Cache) rangeLive(fn func(key string, rec *record) bool) {
	now := c.now()
	for _, s := range c.shards {
		cont := true
		s.items.Range(func(key string, rec *record) bool {
			if rec.expiredAt(now) {
				return true
			}
			cont = fn(key, rec)
			return cont
		})
		if !cont {
			return
		}
	}
}

// sortedKeys returns the keys of m in ascending order
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// toItem converts a record to a caller owned item
func (r *record) toItem(key string, withData bool) *cache.Item {
	it := &cache.Item{
		Key:          key,
		Flags:        r.flags,
		Version:      r.version,
		Type:         r.typ,
		Group:        r.group,
		Priority:     r.priority,
		CreationTime: r.created,
		LastModified: r.modified,
	}
	if withData {
		it.Value = append([]byte(nil), r.value...)
	}
	if len(r.tags) > 0 {
		it.Tags = append([]string(nil), r.tags...)
	}
	if len(r.named) > 0 {
		it.NamedTags = make(map[string]any, len(r.named))
		for k, v := range r.named {
			it.NamedTags[k] = v
		}
	}
	if r.expiration != nil {
		switch r.expiration.Kind {
		case cache.ExpireFixed:
			it.AbsExpiry = r.expiration.Absolute
		case cache.ExpireIdle:
			it.Sliding = r.expiration.Sliding
		}
	}
	if r.lock != nil {
		l := *r.lock
		it.Lock = &l
	}
	return it
}
