package lcache

import (
	"sync"

	"github.com/ValentinKolb/dCache/lib/cache"
	"github.com/ValentinKolb/dCache/lib/opctx"
)

type eventKind uint8

const (
	eventAdded eventKind = iota
	eventUpdated
	eventRemoved
)

// --------------------------------------------------------------------------
// Event queue
// --------------------------------------------------------------------------

// eventQueue buffers the events of one client until it polls them. If more
// than max events are queued the oldest ones are dropped.
type eventQueue struct {
	mu                      sync.Mutex
	added, updated, removed []string
	max                     int
}

func newEventQueue(max int) *eventQueue {
	return &eventQueue{max: max}
}

func (q *eventQueue) push(kind eventKind, key string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	switch kind {
	case eventAdded:
		q.added = appendBounded(q.added, key, q.max)
	case eventUpdated:
		q.updated = appendBounded(q.updated, key, q.max)
	case eventRemoved:
		q.removed = appendBounded(q.removed, key, q.max)
	}
}

func appendBounded(s []string, key string, max int) []string {
	if max > 0 && len(s) >= max {
		s = s[1:]
	}
	return append(s, key)
}

// drain returns and clears the queued events
func (q *eventQueue) drain() *cache.PollResult {
	q.mu.Lock()
	defer q.mu.Unlock()
	res := &cache.PollResult{AddedKeys: q.added, UpdatedKeys: q.updated, RemovedKeys: q.removed}
	q.added, q.updated, q.removed = nil, nil, nil
	return res
}

// --------------------------------------------------------------------------
// Key registrations
// --------------------------------------------------------------------------

// keyRegistrations holds the callbacks registered on one key. Values are
// replaced as a whole, never modified in place.
type keyRegistrations struct {
	update []cache.CallbackInfo
	remove []cache.CallbackInfo
}

func withCallback(list []cache.CallbackInfo, cb *cache.CallbackInfo) []cache.CallbackInfo {
	out := make([]cache.CallbackInfo, 0, len(list)+1)
	for _, existing := range list {
		if existing.ClientID == cb.ClientID && existing.CallbackID == cb.CallbackID {
			continue
		}
		out = append(out, existing)
	}
	return append(out, *cb)
}

func withoutCallback(list []cache.CallbackInfo, keep func(cache.CallbackInfo) bool) []cache.CallbackInfo {
	var out []cache.CallbackInfo
	for _, existing := range list {
		if keep(existing) {
			out = append(out, existing)
		}
	}
	return out
}

// with returns a copy holding the given callbacks as well
func (r *keyRegistrations) with(update, remove *cache.CallbackInfo) *keyRegistrations {
	next := &keyRegistrations{}
	if r != nil {
		next.update, next.remove = r.update, r.remove
	}
	if update != nil {
		next.update = withCallback(next.update, update)
	}
	if remove != nil {
		next.remove = withCallback(next.remove, remove)
	}
	return next
}

// minus returns a copy without the given callbacks
func (r *keyRegistrations) minus(update, remove *cache.CallbackInfo) *keyRegistrations {
	next := &keyRegistrations{update: r.update, remove: r.remove}
	if update != nil {
		next.update = withoutCallback(next.update, func(cb cache.CallbackInfo) bool {
			return cb.ClientID != update.ClientID || cb.CallbackID != update.CallbackID
		})
	}
	if remove != nil {
		next.remove = withoutCallback(next.remove, func(cb cache.CallbackInfo) bool {
			return cb.ClientID != remove.ClientID || cb.CallbackID != remove.CallbackID
		})
	}
	return next
}

// without returns a copy without any callback of clientID
func (r *keyRegistrations) without(clientID string) *keyRegistrations {
	keep := func(cb cache.CallbackInfo) bool { return cb.ClientID != clientID }
	return &keyRegistrations{
		update: withoutCallback(r.update, keep),
		remove: withoutCallback(r.remove, keep),
	}
}

func (r *keyRegistrations) empty() bool {
	return len(r.update) == 0 && len(r.remove) == 0
}

// --------------------------------------------------------------------------
// Dispatch
// --------------------------------------------------------------------------

// queue adds an event for a client. Clients without a queue miss the event.
func (c *Cache) queue(clientID string, kind eventKind, key string) {
	if q, ok := c.clients.Load(clientID); ok {
		q.push(kind, key)
	}
}

// notify raises the item, key and continuous query events of one change.
// old is nil for additions, rec is nil for removals.
func (c *Cache) notify(kind eventKind, key string, old, rec *record) {
	if old != nil && old.notif != nil {
		switch {
		case kind == eventUpdated && old.notif.UpdateCallbackID != cache.NoCallback:
			c.queue(old.notif.ClientID, eventUpdated, key)
		case kind == eventRemoved && old.notif.RemoveCallbackID != cache.NoCallback:
			c.queue(old.notif.ClientID, eventRemoved, key)
		}
	}

	if regs, ok := c.keyCallbacks.Load(key); ok {
		switch kind {
		case eventUpdated:
			for _, cb := range regs.update {
				c.queue(cb.ClientID, eventUpdated, key)
			}
		case eventRemoved:
			for _, cb := range regs.remove {
				c.queue(cb.ClientID, eventRemoved, key)
			}
			c.keyCallbacks.Delete(key)
		}
	}

	c.cqs.Range(func(_ string, cq *continuousQuery) bool {
		if ev, ok := cq.apply(key, rec); ok {
			c.queue(cq.info.ClientID, ev, key)
		}
		return true
	})
}

// --------------------------------------------------------------------------
// Interface Methods (docu see cache.NotificationStore)
// --------------------------------------------------------------------------

func (c *Cache) RegisterKeyNotification(keys []string, update, remove *cache.CallbackInfo, oc *opctx.OperationContext) error {
	if err := c.checkOp(oc); err != nil {
		return err
	}
	for _, key := range keys {
		c.keyCallbacks.Compute(key, func(regs *keyRegistrations, _ bool) (*keyRegistrations, bool) {
			return regs.with(update, remove), false
		})
	}
	return nil
}

func (c *Cache) UnregisterKeyNotification(keys []string, update, remove *cache.CallbackInfo, oc *opctx.OperationContext) error {
	if err := c.checkOp(oc); err != nil {
		return err
	}
	for _, key := range keys {
		c.keyCallbacks.Compute(key, func(regs *keyRegistrations, loaded bool) (*keyRegistrations, bool) {
			if !loaded {
				return regs, true
			}
			regs = regs.minus(update, remove)
			return regs, regs.empty()
		})
	}
	return nil
}

func (c *Cache) RegisterPolling(clientID string, oc *opctx.OperationContext) error {
	if err := c.checkOp(oc); err != nil {
		return err
	}
	c.clients.LoadOrStore(clientID, newEventQueue(c.opts.MaxPollEvents))
	return nil
}

func (c *Cache) Poll(clientID string, oc *opctx.OperationContext) (*cache.PollResult, error) {
	if err := c.checkOp(oc); err != nil {
		return nil, err
	}
	q, ok := c.clients.Load(clientID)
	if !ok {
		return &cache.PollResult{}, nil
	}
	return q.drain(), nil
}
