package lcache

import (
	"sync"

	"github.com/ValentinKolb/dCache/lib/cache"
	"github.com/ValentinKolb/dCache/lib/opctx"
	"github.com/cockroachdb/errors"
	"github.com/google/btree"
	"github.com/google/uuid"
)

type keyItem string

func (k keyItem) Less(than btree.Item) bool {
	return k < than.(keyItem)
}

// enumerator is a snapshot of the keys that is consumed in order
type enumerator struct {
	mu      sync.Mutex
	keys    *btree.BTree
	chunkID int
}

func (c *Cache) newEnumerator() *enumerator {
	e := &enumerator{keys: btree.New(32)}
	c.rangeLive(func(key string, _ *record) bool {
		e.keys.ReplaceOrInsert(keyItem(key))
		return true
	})
	return e
}

// take removes and returns up to n keys (all keys if n <= 0)
func (e *enumerator) take(n int) ([]string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var keys []string
	for e.keys.Len() > 0 && (n <= 0 || len(keys) < n) {
		keys = append(keys, string(e.keys.DeleteMin().(keyItem)))
	}
	e.chunkID++
	return keys, e.keys.Len() == 0
}

// --------------------------------------------------------------------------
// Interface Methods (docu see cache.ProcessingStore)
// --------------------------------------------------------------------------

// GetNextChunk starts an enumeration if pointer has no id and otherwise
// continues it. A disposed pointer ends the enumeration.
func (c *Cache) GetNextChunk(pointer *cache.EnumerationPointer, chunkSize int, oc *opctx.OperationContext) (*cache.EnumerationChunk, error) {
	if err := c.checkOp(oc); err != nil {
		return nil, err
	}
	if pointer == nil {
		pointer = &cache.EnumerationPointer{}
	}
	if pointer.Disposed {
		c.enumerators.Remove(pointer.ID)
		return &cache.EnumerationChunk{Pointer: *pointer, IsLast: true}, nil
	}

	var e *enumerator
	id := pointer.ID
	if id == "" {
		id = uuid.NewString()
		e = c.newEnumerator()
		c.enumerators.Add(id, e)
	} else {
		v, ok := c.enumerators.Get(id)
		if !ok {
			return nil, errors.Wrapf(cache.ErrEnumeration, "enumerator %s not found", id)
		}
		e = v.(*enumerator)
	}

	keys, last := e.take(chunkSize)
	if last {
		c.enumerators.Remove(id)
	}
	return &cache.EnumerationChunk{
		Pointer: cache.EnumerationPointer{ID: id, ChunkID: e.chunkID},
		Keys:    keys,
		IsLast:  last,
	}, nil
}

func (c *Cache) SubmitMapReduceTask(task *cache.MapReduceTask, oc *opctx.OperationContext) error {
	if err := c.checkOp(oc); err != nil {
		return err
	}
	return errors.Wrapf(cache.ErrNotSupported, "map reduce task %s", task.TaskID)
}

func (c *Cache) InvokeEntryProcessor(keys []string, _ []byte, oc *opctx.OperationContext) (cache.BulkResult, error) {
	if err := c.checkOp(oc); err != nil {
		return nil, err
	}
	return nil, errors.Wrapf(cache.ErrNotSupported, "entry processor on %d keys", len(keys))
}
