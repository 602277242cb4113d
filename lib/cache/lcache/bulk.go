package lcache

import (
	"github.com/ValentinKolb/dCache/lib/cache"
	"github.com/ValentinKolb/dCache/lib/opctx"
	"github.com/cockroachdb/errors"
)

// eachKey runs fn for every key and collects the per key outcome. The call
// only fails as a whole if it is cancelled.
func (c *Cache) eachKey(keys []string, oc *opctx.OperationContext, fn func(i int, key string) cache.KeyResult) (cache.BulkResult, error) {
	if err := c.checkOp(oc); err != nil {
		return nil, err
	}
	res := make(cache.BulkResult, len(keys))
	for i, key := range keys {
		if err := cache.Canceled(oc.Context()); err != nil {
			return nil, err
		}
		res[key] = fn(i, key)
	}
	return res, nil
}

func checkParallel(keys []string, entries []*cache.CacheEntry) error {
	if len(keys) != len(entries) {
		return errors.Newf("bulk call with %d keys but %d entries", len(keys), len(entries))
	}
	return nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see cache.BulkStore)
// --------------------------------------------------------------------------

func (c *Cache) AddBulk(keys []string, entries []*cache.CacheEntry, oc *opctx.OperationContext) (cache.BulkResult, error) {
	if err := checkParallel(keys, entries); err != nil {
		return nil, err
	}
	return c.eachKey(keys, oc, func(i int, key string) cache.KeyResult {
		keyOC := opctx.New(oc.OperationType())
		copyFields(oc, keyOC)
		if err := c.Add(key, entries[i], keyOC); err != nil {
			return cache.KeyResult{Err: err}
		}
		return cache.KeyResult{Version: keyOC.ItemVersion(), Found: true}
	})
}

func (c *Cache) InsertBulk(keys []string, entries []*cache.CacheEntry, oc *opctx.OperationContext) (cache.BulkResult, error) {
	if err := checkParallel(keys, entries); err != nil {
		return nil, err
	}
	return c.eachKey(keys, oc, func(i int, key string) cache.KeyResult {
		keyOC := opctx.New(oc.OperationType())
		copyFields(oc, keyOC)
		if err := c.Insert(key, entries[i], nil, cache.LockDefault, keyOC); err != nil {
			return cache.KeyResult{Err: err}
		}
		return cache.KeyResult{Version: keyOC.ItemVersion(), Found: true}
	})
}

func (c *Cache) GetBulk(keys []string, _ *cache.BitSet, oc *opctx.OperationContext) (cache.BulkResult, error) {
	return c.eachKey(keys, oc, func(_ int, key string) cache.KeyResult {
		item, err := c.Get(key, 0, nil, cache.LockDefault, 0, oc)
		if err != nil {
			return cache.KeyResult{Err: err}
		}
		if item == nil {
			return cache.KeyResult{}
		}
		return cache.KeyResult{Version: item.Version, Item: item, Found: true}
	})
}

func (c *Cache) RemoveBulk(keys []string, _ *cache.BitSet, oc *opctx.OperationContext) (cache.BulkResult, error) {
	return c.eachKey(keys, oc, func(_ int, key string) cache.KeyResult {
		item, err := c.Remove(key, nil, cache.LockDefault, 0, oc)
		if err != nil {
			return cache.KeyResult{Err: err}
		}
		if item == nil {
			return cache.KeyResult{}
		}
		return cache.KeyResult{Version: item.Version, Item: item, Found: true}
	})
}

func (c *Cache) DeleteBulk(keys []string, _ *cache.BitSet, oc *opctx.OperationContext) (cache.BulkResult, error) {
	return c.eachKey(keys, oc, func(_ int, key string) cache.KeyResult {
		removed, err := c.remove(key, nil, cache.LockDefault, 0)
		if err != nil {
			return cache.KeyResult{Err: err}
		}
		if removed == nil {
			return cache.KeyResult{}
		}
		if err := c.writeThrough(key, nil, true, oc); err != nil {
			return cache.KeyResult{Err: err}
		}
		return cache.KeyResult{Version: removed.version, Found: true}
	})
}

// copyFields copies every field but the item version, each key of a bulk
// write gets its own version
func copyFields(from, to *opctx.OperationContext) {
	for _, name := range from.Fields() {
		if name == opctx.FieldItemVersion {
			continue
		}
		v, _ := from.Get(name)
		to.Add(name, v)
	}
}
