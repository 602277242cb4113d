package lcache

import (
	"github.com/ValentinKolb/dCache/lib/cache"
	"github.com/ValentinKolb/dCache/lib/opctx"
	"github.com/cockroachdb/errors"
)

// tagMatcher returns a predicate over the tags of an item
func tagMatcher(tags []string, cmp cache.TagComparison) (func([]string) bool, error) {
	if len(tags) == 0 {
		return nil, errors.Wrap(cache.ErrInvalidQuery, "no tags given")
	}
	switch cmp {
	case cache.TagByTag:
		if len(tags) != 1 {
			return nil, errors.Wrapf(cache.ErrInvalidQuery, "by tag takes exactly one tag, got %d", len(tags))
		}
		fallthrough
	case cache.TagAny:
		return func(have []string) bool {
			for _, t := range have {
				for _, want := range tags {
					if t == want {
						return true
					}
				}
			}
			return false
		}, nil
	case cache.TagAll:
		return func(have []string) bool {
			set := make(map[string]struct{}, len(have))
			for _, t := range have {
				set[t] = struct{}{}
			}
			for _, want := range tags {
				if _, ok := set[want]; !ok {
					return false
				}
			}
			return true
		}, nil
	}
	return nil, errors.Wrapf(cache.ErrInvalidQuery, "unknown tag comparison %d", cmp)
}

func (c *Cache) matchTags(tags []string, cmp cache.TagComparison, oc *opctx.OperationContext) (map[string]*record, error) {
	if err := c.checkOp(oc); err != nil {
		return nil, err
	}
	match, err := tagMatcher(tags, cmp)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*record)
	c.rangeLive(func(key string, rec *record) bool {
		if match(rec.tags) {
			out[key] = rec
		}
		return true
	})
	return out, nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see cache.TagStore)
// --------------------------------------------------------------------------

func (c *Cache) GetByTag(tags []string, cmp cache.TagComparison, oc *opctx.OperationContext) (map[string]*cache.Item, error) {
	matches, err := c.matchTags(tags, cmp, oc)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*cache.Item, len(matches))
	for key, rec := range matches {
		out[key] = rec.toItem(key, true)
	}
	return out, nil
}

func (c *Cache) GetKeysByTag(tags []string, cmp cache.TagComparison, oc *opctx.OperationContext) ([]string, error) {
	matches, err := c.matchTags(tags, cmp, oc)
	if err != nil {
		return nil, err
	}
	return sortedKeys(matches), nil
}

func (c *Cache) RemoveByTag(tags []string, cmp cache.TagComparison, oc *opctx.OperationContext) (int, error) {
	matches, err := c.matchTags(tags, cmp, oc)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, key := range sortedKeys(matches) {
		removed, err := c.remove(key, nil, cache.LockDefault, 0)
		if err != nil {
			Logger.Debugf("cache %s: remove by tag skipped %q: %v", c.opts.Name, key, err)
			continue
		}
		if removed != nil {
			n++
		}
	}
	return n, nil
}
