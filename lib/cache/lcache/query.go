package lcache

import (
	"sync"

	"github.com/ValentinKolb/dCache/lib/cache"
	"github.com/ValentinKolb/dCache/lib/opctx"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// continuousQuery is a registered query whose result set is kept current
type continuousQuery struct {
	id    string
	info  *cache.ContinuousQuery
	query *compiledQuery

	mu   sync.Mutex
	keys map[string]struct{}
}

// apply updates the result set for a change of key and returns the event
// the owning client has to receive. rec is nil if key was removed.
func (q *continuousQuery) apply(key string, rec *record) (eventKind, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, had := q.keys[key]
	now := rec != nil && q.query.matches(rec)
	switch {
	case now && !had:
		q.keys[key] = struct{}{}
		return eventAdded, q.info.NotifyAdd
	case now && had:
		return eventUpdated, q.info.NotifyUpdate
	case !now && had:
		delete(q.keys, key)
		return eventRemoved, q.info.NotifyRemove
	}
	return 0, false
}

func (q *continuousQuery) reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.keys = make(map[string]struct{})
}

// reader is an open query result handed out chunk by chunk
type reader struct {
	rows      []*cache.Item
	chunkSize int
	cqID      string
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

// compile parses and binds query, it must be a DELETE iff del is set
func compile(query string, params map[string]any, del bool) (*compiledQuery, error) {
	parsed, err := parseQuery(query)
	if err != nil {
		return nil, err
	}
	if parsed.delete != del {
		if del {
			return nil, errors.Wrapf(cache.ErrInvalidQuery, "%q: expected a DELETE query", query)
		}
		return nil, errors.Wrapf(cache.ErrInvalidQuery, "%q: expected a SELECT query", query)
	}
	return parsed.bind(params)
}

// match returns the live records satisfying q
func (c *Cache) match(q *compiledQuery) map[string]*record {
	out := make(map[string]*record)
	c.rangeLive(func(key string, rec *record) bool {
		if q.matches(rec) {
			out[key] = rec
		}
		return true
	})
	return out
}

func (c *Cache) search(query string, params map[string]any, entries bool, oc *opctx.OperationContext) (*cache.QueryResult, *compiledQuery, map[string]*record, error) {
	if err := c.checkOp(oc); err != nil {
		return nil, nil, nil, err
	}
	q, err := compile(query, params, false)
	if err != nil {
		return nil, nil, nil, err
	}
	matches := c.match(q)
	res := &cache.QueryResult{Keys: sortedKeys(matches)}
	if entries {
		res.Entries = make([]*cache.Item, len(res.Keys))
		for i, key := range res.Keys {
			res.Entries[i] = matches[key].toItem(key, true)
		}
	}
	return res, q, matches, nil
}

func (c *Cache) registerCQ(q *compiledQuery, info *cache.ContinuousQuery, matches map[string]*record) (string, error) {
	if info == nil {
		return "", errors.Wrap(cache.ErrInvalidQuery, "continuous query without registration")
	}
	cq := &continuousQuery{
		id:    uuid.NewString(),
		info:  info,
		query: q,
		keys:  make(map[string]struct{}, len(matches)),
	}
	for key := range matches {
		cq.keys[key] = struct{}{}
	}
	c.cqs.Store(cq.id, cq)
	return cq.id, nil
}

func (c *Cache) openReader(rows []*cache.Item, chunkSize int, cqID string) *cache.ReaderResultSet {
	if chunkSize <= 0 || len(rows) <= chunkSize {
		return &cache.ReaderResultSet{NodeAddr: c.opts.Name, NextIndex: len(rows), Rows: rows, IsLast: true, CQID: cqID}
	}
	r := &reader{rows: rows, chunkSize: chunkSize, cqID: cqID}
	id := uuid.NewString()
	c.readers.Add(id, r)
	return &cache.ReaderResultSet{
		ReaderID:  id,
		NodeAddr:  c.opts.Name,
		NextIndex: chunkSize,
		Rows:      rows[:chunkSize],
		CQID:      cqID,
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see cache.QueryStore)
// --------------------------------------------------------------------------

func (c *Cache) Search(query string, params map[string]any, oc *opctx.OperationContext) (*cache.QueryResult, error) {
	res, _, _, err := c.search(query, params, false, oc)
	return res, err
}

func (c *Cache) SearchEntries(query string, params map[string]any, oc *opctx.OperationContext) (*cache.QueryResult, error) {
	res, _, _, err := c.search(query, params, true, oc)
	return res, err
}

func (c *Cache) SearchCQ(query string, params map[string]any, entries bool, info *cache.ContinuousQuery, oc *opctx.OperationContext) (*cache.QueryResult, error) {
	res, q, matches, err := c.search(query, params, entries, oc)
	if err != nil {
		return nil, err
	}
	if res.CQID, err = c.registerCQ(q, info, matches); err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Cache) UnregisterCQ(cqID string, clientUniqueID string, oc *opctx.OperationContext) error {
	if err := c.checkOp(oc); err != nil {
		return err
	}
	c.cqs.Compute(cqID, func(cq *continuousQuery, loaded bool) (*continuousQuery, bool) {
		if !loaded {
			return cq, true
		}
		return cq, clientUniqueID == "" || cq.info.ClientUniqueID == clientUniqueID
	})
	return nil
}

func (c *Cache) ExecuteReader(query string, params map[string]any, getData bool, chunkSize int, oc *opctx.OperationContext) (*cache.ReaderResultSet, error) {
	return c.ExecuteReaderCQ(query, params, getData, chunkSize, nil, oc)
}

// ExecuteReaderCQ is ExecuteReader that also registers info as continuous
// query if it is not nil
func (c *Cache) ExecuteReaderCQ(query string, params map[string]any, getData bool, chunkSize int, info *cache.ContinuousQuery, oc *opctx.OperationContext) (*cache.ReaderResultSet, error) {
	res, q, matches, err := c.search(query, params, false, oc)
	if err != nil {
		return nil, err
	}
	var cqID string
	if info != nil {
		if cqID, err = c.registerCQ(q, info, matches); err != nil {
			return nil, err
		}
	}
	rows := make([]*cache.Item, len(res.Keys))
	for i, key := range res.Keys {
		rows[i] = matches[key].toItem(key, getData)
	}
	return c.openReader(rows, chunkSize, cqID), nil
}

func (c *Cache) GetReaderChunk(readerID string, nextIndex int, oc *opctx.OperationContext) (*cache.ReaderResultSet, error) {
	if err := c.checkOp(oc); err != nil {
		return nil, err
	}
	v, ok := c.readers.Get(readerID)
	if !ok {
		return nil, errors.Wrapf(cache.ErrReaderNotFound, "reader %s", readerID)
	}
	r := v.(*reader)
	if nextIndex < 0 {
		nextIndex = 0
	}
	if nextIndex > len(r.rows) {
		nextIndex = len(r.rows)
	}
	end := nextIndex + r.chunkSize
	res := &cache.ReaderResultSet{ReaderID: readerID, NodeAddr: c.opts.Name, CQID: r.cqID}
	if end >= len(r.rows) {
		end = len(r.rows)
		res.IsLast = true
		c.readers.Remove(readerID)
	}
	res.Rows = r.rows[nextIndex:end]
	res.NextIndex = end
	return res, nil
}

func (c *Cache) DisposeReader(readerID string, oc *opctx.OperationContext) error {
	if err := c.checkOp(oc); err != nil {
		return err
	}
	c.readers.Remove(readerID)
	return nil
}

func (c *Cache) DeleteQuery(query string, params map[string]any, oc *opctx.OperationContext) (int, error) {
	if err := c.checkOp(oc); err != nil {
		return 0, err
	}
	q, err := compile(query, params, true)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, key := range sortedKeys(c.match(q)) {
		removed, err := c.remove(key, nil, cache.LockDefault, 0)
		if err != nil {
			Logger.Debugf("cache %s: delete query skipped %q: %v", c.opts.Name, key, err)
			continue
		}
		if removed != nil {
			n++
		}
	}
	return n, nil
}
