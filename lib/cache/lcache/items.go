package lcache

import (
	"time"

	"github.com/ValentinKolb/dCache/lib/cache"
	"github.com/ValentinKolb/dCache/lib/opctx"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// --------------------------------------------------------------------------
// Write helpers
// --------------------------------------------------------------------------

// checkOp fails if the cache cannot serve an operation right now
func (c *Cache) checkOp(oc *opctx.OperationContext) error {
	if c.closed.Load() {
		return cache.ErrClosed
	}
	if c.OperationMode() == cache.ModeOffline {
		return cache.ErrOffline
	}
	return cache.Canceled(oc.Context())
}

// buildRecord copies everything the cache keeps out of the pooled entry
func buildRecord(entry *cache.CacheEntry, now time.Time) *record {
	rec := &record{
		priority:   entry.Priority,
		typ:        entry.Type,
		group:      entry.Group,
		created:    now,
		modified:   now,
		lastAccess: now,
		notif:      entry.Notifications.Clone(),
	}
	if entry.Value != nil {
		rec.value = entry.Value.Bytes()
	}
	if entry.Flags != nil {
		rec.flags = entry.Flags.Data()
	}
	if len(entry.Tags) > 0 {
		rec.tags = append([]string(nil), entry.Tags...)
	}
	if len(entry.NamedTags) > 0 {
		rec.named = make(map[string]any, len(entry.NamedTags))
		for k, v := range entry.NamedTags {
			rec.named[k] = v
		}
	}
	if !entry.Expiration.IsNone() {
		rec.expiration = &cache.ExpirationHint{}
		entry.Expiration.CopyTo(rec.expiration)
	}
	return rec
}

// assignVersion returns the version requested through oc, or a new one
func (c *Cache) assignVersion(oc *opctx.OperationContext, prev uint64) uint64 {
	if v := oc.ItemVersion(); v != 0 {
		return v
	}
	return c.nextVersion(prev)
}

func (c *Cache) afterWrite(key string, old, rec *record) {
	c.schedule(key, rec)
	c.registerDependencies(key, rec)
	if old != nil {
		c.invalidateDependents(key)
		c.notify(eventUpdated, key, old, rec)
	} else {
		c.notify(eventAdded, key, nil, rec)
	}
}

func (c *Cache) afterRemove(key string, old *record) {
	s := c.shardFor(key)
	s.mu.Lock()
	s.deadlines.cancel(key)
	s.mu.Unlock()
	c.invalidateDependents(key)
	c.notify(eventRemoved, key, old, nil)
}

// writeThrough hands a write to the configured provider if oc asks for it
func (c *Cache) writeThrough(key string, value []byte, removed bool, oc *opctx.OperationContext) error {
	through := oc.Bool(opctx.FieldWriteThru)
	behind := oc.Bool(opctx.FieldWriteBehind)
	if !through && !behind {
		return nil
	}
	if c.opts.WriteThrough == nil {
		return errors.Wrapf(cache.ErrNotSupported, "write-through for %q: no provider configured", key)
	}
	err := c.opts.WriteThrough(key, value, removed)
	if err == nil {
		return nil
	}
	if through {
		return errors.Wrapf(err, "write-through for %q", key)
	}
	Logger.Warningf("cache %s: write-behind for %q failed: %v", c.opts.Name, key, err)
	return nil
}

// put stores rec unconditionally
func (c *Cache) put(key string, rec *record) {
	var old *record
	c.shardFor(key).items.Compute(key, func(cur *record, loaded bool) (*record, bool) {
		if loaded && !cur.expiredAt(rec.modified) {
			old = cur
			rec.created = cur.created
		}
		return rec, false
	})
	c.afterWrite(key, old, rec)
}

// --------------------------------------------------------------------------
// Interface Methods (docu see cache.ItemStore)
// --------------------------------------------------------------------------

func (c *Cache) Add(key string, entry *cache.CacheEntry, oc *opctx.OperationContext) error {
	if err := c.checkOp(oc); err != nil {
		return err
	}
	now := c.now()
	rec := buildRecord(entry, now)

	var exists bool
	var stale *record
	c.shardFor(key).items.Compute(key, func(cur *record, loaded bool) (*record, bool) {
		if loaded && !cur.expiredAt(now) {
			exists = true
			return cur, false
		}
		if loaded {
			stale = cur
		}
		rec.version = c.assignVersion(oc, 0)
		return rec, false
	})
	if exists {
		return errors.Wrapf(cache.ErrKeyExists, "add %q", key)
	}
	if stale != nil {
		c.afterRemove(key, stale)
	}
	oc.SetItemVersion(rec.version)
	c.afterWrite(key, nil, rec)
	return c.writeThrough(key, rec.value, false, oc)
}

func (c *Cache) AddAsync(key string, entry *cache.CacheEntry, oc *opctx.OperationContext) {
	if err := c.Add(key, entry, oc); err != nil {
		Logger.Warningf("cache %s: async add of %q failed: %v", c.opts.Name, key, err)
	}
}

func (c *Cache) Insert(key string, entry *cache.CacheEntry, lock *cache.LockHandle, access cache.LockAccessType, oc *opctx.OperationContext) error {
	if err := c.checkOp(oc); err != nil {
		return err
	}
	now := c.now()
	rec := buildRecord(entry, now)

	var (
		opErr error
		old   *record
		stale *record
	)
	c.shardFor(key).items.Compute(key, func(cur *record, loaded bool) (*record, bool) {
		if loaded && cur.expiredAt(now) {
			stale, cur, loaded = cur, nil, false
		}
		if !loaded {
			if access == cache.LockCompareVersion {
				opErr = errors.Wrapf(cache.ErrKeyNotFound, "insert %q with version", key)
				return cur, true
			}
			rec.version = c.assignVersion(oc, 0)
			return rec, false
		}

		if err := checkLock(cur, lock, access, now); err != nil {
			opErr = errors.Wrapf(err, "insert %q", key)
			return cur, false
		}
		if access == cache.LockCompareVersion {
			if cur.version != oc.ItemVersion() {
				opErr = errors.Wrapf(cache.ErrVersionMismatch, "insert %q: have %d, want %d", key, cur.version, oc.ItemVersion())
				return cur, false
			}
			rec.version = c.nextVersion(cur.version)
		} else {
			rec.version = c.assignVersion(oc, cur.version)
		}
		if access == cache.LockDontRelease && cur.locked(now) {
			rec.lock, rec.lockDeadline = cur.lock, cur.lockDeadline
		}
		rec.created = cur.created
		old = cur
		return rec, false
	})
	if stale != nil {
		c.afterRemove(key, stale)
	}
	if opErr != nil {
		return opErr
	}
	oc.SetItemVersion(rec.version)
	c.afterWrite(key, old, rec)
	return c.writeThrough(key, rec.value, false, oc)
}

func (c *Cache) InsertAsync(key string, entry *cache.CacheEntry, oc *opctx.OperationContext) {
	if err := c.Insert(key, entry, nil, cache.LockDefault, oc); err != nil {
		Logger.Warningf("cache %s: async insert of %q failed: %v", c.opts.Name, key, err)
	}
}

// checkLock fails if cur is locked by someone else than the holder of lock
func checkLock(cur *record, lock *cache.LockHandle, access cache.LockAccessType, now time.Time) error {
	if access == cache.LockIgnore || !cur.locked(now) {
		return nil
	}
	if lock != nil && lock.LockID == cur.lock.LockID {
		return nil
	}
	return cache.ErrItemLocked
}

func (c *Cache) Get(key string, version uint64, lock *cache.LockHandle, access cache.LockAccessType, lockTimeout time.Duration, oc *opctx.OperationContext) (*cache.Item, error) {
	if err := c.checkOp(oc); err != nil {
		return nil, err
	}
	if access == cache.LockAcquire {
		return c.getAndLock(key, lock, lockTimeout)
	}

	rec, ok := c.load(key)
	if !ok {
		return c.readThrough(key, oc)
	}
	switch access {
	case cache.LockCompareVersion:
		if version != 0 && rec.version <= version {
			return nil, nil
		}
	case cache.LockMatchVersion:
		if rec.version != version {
			return nil, nil
		}
	}
	if rec.expiration != nil {
		c.touch(key)
	}
	return rec.toItem(key, true), nil
}

func (c *Cache) GetCacheEntry(key string, version uint64, lock *cache.LockHandle, access cache.LockAccessType, lockTimeout time.Duration, oc *opctx.OperationContext) (*cache.Item, error) {
	return c.Get(key, version, lock, access, lockTimeout, oc)
}

func (c *Cache) getAndLock(key string, lock *cache.LockHandle, timeout time.Duration) (*cache.Item, error) {
	now := c.now()
	var item *cache.Item
	c.shardFor(key).items.Compute(key, func(cur *record, loaded bool) (*record, bool) {
		if !loaded {
			return cur, true
		}
		if cur.expiredAt(now) {
			return cur, false
		}
		if cur.locked(now) {
			if lock != nil {
				*lock = *cur.lock
			}
			return cur, false
		}
		next := *cur
		next.lock = &cache.LockHandle{LockID: uuid.NewString(), LockDate: now}
		next.lockDeadline = time.Time{}
		if timeout > 0 {
			next.lockDeadline = now.Add(timeout)
		}
		next.lastAccess = now
		if lock != nil {
			*lock = *next.lock
		}
		item = next.toItem(key, true)
		return &next, false
	})
	return item, nil
}

// readThrough loads a missing item through the provider if oc asks for it
func (c *Cache) readThrough(key string, oc *opctx.OperationContext) (*cache.Item, error) {
	if !oc.Bool(opctx.FieldReadThru) {
		return nil, nil
	}
	if c.opts.ReadThrough == nil {
		return nil, errors.Wrapf(cache.ErrNotSupported, "read-through for %q: no provider configured", key)
	}
	data, err := c.opts.ReadThrough(key)
	if err != nil {
		return nil, errors.Wrapf(err, "read-through for %q", key)
	}
	if data == nil {
		return nil, nil
	}
	now := c.now()
	rec := &record{
		value:      append([]byte(nil), data...),
		version:    c.nextVersion(0),
		created:    now,
		modified:   now,
		lastAccess: now,
	}
	c.put(key, rec)
	return rec.toItem(key, true), nil
}

// touch renews the last access time of a live item
func (c *Cache) touch(key string) {
	now := c.now()
	var touched *record
	c.shardFor(key).items.Compute(key, func(cur *record, loaded bool) (*record, bool) {
		if !loaded {
			return cur, true
		}
		if cur.expiredAt(now) {
			return cur, false
		}
		next := *cur
		next.lastAccess = now
		touched = &next
		return &next, false
	})
	if touched != nil {
		c.schedule(key, touched)
	}
}

func (c *Cache) Remove(key string, lock *cache.LockHandle, access cache.LockAccessType, version uint64, oc *opctx.OperationContext) (*cache.Item, error) {
	if err := c.checkOp(oc); err != nil {
		return nil, err
	}
	removed, err := c.remove(key, lock, access, version)
	if err != nil || removed == nil {
		return nil, err
	}
	if err := c.writeThrough(key, nil, true, oc); err != nil {
		return nil, err
	}
	return removed.toItem(key, true), nil
}

func (c *Cache) remove(key string, lock *cache.LockHandle, access cache.LockAccessType, version uint64) (*record, error) {
	now := c.now()
	var (
		removed *record
		stale   *record
		opErr   error
	)
	c.shardFor(key).items.Compute(key, func(cur *record, loaded bool) (*record, bool) {
		if !loaded {
			return cur, true
		}
		if cur.expiredAt(now) {
			stale = cur
			return cur, true
		}
		if err := checkLock(cur, lock, access, now); err != nil {
			opErr = errors.Wrapf(err, "remove %q", key)
			return cur, false
		}
		if version != 0 && cur.version != version {
			opErr = errors.Wrapf(cache.ErrVersionMismatch, "remove %q: have %d, want %d", key, cur.version, version)
			return cur, false
		}
		removed = cur
		return cur, true
	})
	if stale != nil {
		c.afterRemove(key, stale)
	}
	if removed != nil {
		c.afterRemove(key, removed)
	}
	return removed, opErr
}

func (c *Cache) RemoveAsync(key string, oc *opctx.OperationContext) {
	if _, err := c.Remove(key, nil, cache.LockDefault, 0, oc); err != nil {
		Logger.Warningf("cache %s: async remove of %q failed: %v", c.opts.Name, key, err)
	}
}

func (c *Cache) Delete(key string, lock *cache.LockHandle, access cache.LockAccessType, version uint64, oc *opctx.OperationContext) error {
	if err := c.checkOp(oc); err != nil {
		return err
	}
	removed, err := c.remove(key, lock, access, version)
	if err != nil || removed == nil {
		return err
	}
	return c.writeThrough(key, nil, true, oc)
}

func (c *Cache) Lock(key string, timeout time.Duration, oc *opctx.OperationContext) (*cache.LockHandle, bool, error) {
	if err := c.checkOp(oc); err != nil {
		return nil, false, err
	}
	now := c.now()
	var (
		handle *cache.LockHandle
		ok     bool
	)
	c.shardFor(key).items.Compute(key, func(cur *record, loaded bool) (*record, bool) {
		if !loaded {
			return cur, true
		}
		if cur.expiredAt(now) {
			return cur, false
		}
		if cur.locked(now) {
			held := *cur.lock
			handle = &held
			return cur, false
		}
		next := *cur
		next.lock = &cache.LockHandle{LockID: uuid.NewString(), LockDate: now}
		next.lockDeadline = time.Time{}
		if timeout > 0 {
			next.lockDeadline = now.Add(timeout)
		}
		acquired := *next.lock
		handle, ok = &acquired, true
		return &next, false
	})
	return handle, ok, nil
}

func (c *Cache) Unlock(key string, lockID string, force bool, oc *opctx.OperationContext) error {
	if err := c.checkOp(oc); err != nil {
		return err
	}
	now := c.now()
	var opErr error
	c.shardFor(key).items.Compute(key, func(cur *record, loaded bool) (*record, bool) {
		if !loaded {
			return cur, true
		}
		if !cur.locked(now) {
			return cur, false
		}
		if !force && cur.lock.LockID != lockID {
			opErr = errors.Wrapf(cache.ErrLockNotHeld, "unlock %q", key)
			return cur, false
		}
		next := *cur
		next.lock, next.lockDeadline = nil, time.Time{}
		return &next, false
	})
	return opErr
}

func (c *Cache) IsLocked(key string, oc *opctx.OperationContext) (*cache.LockHandle, bool, error) {
	if err := c.checkOp(oc); err != nil {
		return nil, false, err
	}
	rec, ok := c.load(key)
	if !ok || !rec.locked(c.now()) {
		return nil, false, nil
	}
	held := *rec.lock
	return &held, true, nil
}

func (c *Cache) Contains(key string, oc *opctx.OperationContext) (bool, error) {
	if err := c.checkOp(oc); err != nil {
		return false, err
	}
	_, ok := c.load(key)
	return ok, nil
}

func (c *Cache) ContainsBulk(keys []string, oc *opctx.OperationContext) (map[string]bool, error) {
	if err := c.checkOp(oc); err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(keys))
	for _, key := range keys {
		_, out[key] = c.load(key)
	}
	return out, nil
}

func (c *Cache) Touch(keys []string, oc *opctx.OperationContext) error {
	if err := c.checkOp(oc); err != nil {
		return err
	}
	for _, key := range keys {
		c.touch(key)
	}
	return nil
}

func (c *Cache) Count(oc *opctx.OperationContext) (int64, error) {
	if err := c.checkOp(oc); err != nil {
		return 0, err
	}
	var n int64
	c.rangeLive(func(string, *record) bool {
		n++
		return true
	})
	return n, nil
}

func (c *Cache) Clear(_ *cache.BitSet, oc *opctx.OperationContext) error {
	if err := c.checkOp(oc); err != nil {
		return err
	}
	for _, s := range c.shards {
		s.items.Clear()
		s.mu.Lock()
		s.deadlines = newDeadlineHeap()
		s.mu.Unlock()
	}
	c.depMu.Lock()
	c.dependents = make(map[string]map[string]struct{})
	c.depMu.Unlock()
	c.cqs.Range(func(_ string, cq *continuousQuery) bool {
		cq.reset()
		return true
	})
	Logger.Infof("cache %s cleared", c.opts.Name)
	return nil
}
