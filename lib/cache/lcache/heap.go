package lcache

import (
	"container/heap"
	"time"
)

// deadline is one scheduled expiry check
type deadline struct {
	key   string
	at    time.Time
	index int
}

// deadlineHeap is a min heap of expiry deadlines with O(1) access by key.
// A key is scheduled at most once, rescheduling moves it.
//
// Not thread-safe, every shard guards its heap with its own mutex.
type deadlineHeap struct {
	items []*deadline
	byKey map[string]*deadline
}

func newDeadlineHeap() *deadlineHeap {
	return &deadlineHeap{byKey: make(map[string]*deadline)}
}

func (h *deadlineHeap) Len() int { return len(h.items) }

func (h *deadlineHeap) Less(i, j int) bool { return h.items[i].at.Before(h.items[j].at) }

func (h *deadlineHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].index = i
	h.items[j].index = j
}

func (h *deadlineHeap) Push(x any) {
	d := x.(*deadline)
	d.index = len(h.items)
	h.items = append(h.items, d)
	h.byKey[d.key] = d
}

func (h *deadlineHeap) Pop() any {
	n := len(h.items)
	d := h.items[n-1]
	h.items[n-1] = nil
	h.items = h.items[:n-1]
	d.index = -1
	delete(h.byKey, d.key)
	return d
}

// schedule adds key or moves its deadline to at
func (h *deadlineHeap) schedule(key string, at time.Time) {
	if d, ok := h.byKey[key]; ok {
		d.at = at
		heap.Fix(h, d.index)
		return
	}
	heap.Push(h, &deadline{key: key, at: at})
}

// cancel removes the deadline of key
func (h *deadlineHeap) cancel(key string) bool {
	d, ok := h.byKey[key]
	if !ok {
		return false
	}
	heap.Remove(h, d.index)
	return true
}

// due pops every key whose deadline is not after now
func (h *deadlineHeap) due(now time.Time) []string {
	var keys []string
	for len(h.items) > 0 && !h.items[0].at.After(now) {
		keys = append(keys, heap.Pop(h).(*deadline).key)
	}
	return keys
}

// next returns the earliest deadline
func (h *deadlineHeap) next() (time.Time, bool) {
	if len(h.items) == 0 {
		return time.Time{}, false
	}
	return h.items[0].at, true
}
