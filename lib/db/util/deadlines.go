package util

import "container/heap"

// Deadlines is a min-heap of keys ordered by a deadline (a write index), with
// O(1) lookup by key. maple keeps one per shard for expiry and one for deletion.
//
// Thread-safety: not safe for concurrent use. Each maple shard owns its heaps
// and only the shard's gc goroutine touches them.
type Deadlines[K comparable] struct {
	h deadlineHeap[K]
}

type deadline[K comparable] struct {
	key   K
	at    uint64
	index int
}

// NewDeadlines returns an empty deadline heap.
func NewDeadlines[K comparable]() *Deadlines[K] {
	return &Deadlines[K]{h: deadlineHeap[K]{byKey: make(map[K]*deadline[K])}}
}

// Len returns the number of scheduled keys.
func (d *Deadlines[K]) Len() int { return len(d.h.items) }

// Set schedules key at the given deadline, moving it if it is already scheduled.
func (d *Deadlines[K]) Set(key K, at uint64) {
	if it, ok := d.h.byKey[key]; ok {
		it.at = at
		heap.Fix(&d.h, it.index)
		return
	}
	heap.Push(&d.h, &deadline[K]{key: key, at: at})
}

// Remove unschedules key and reports whether it was scheduled.
func (d *Deadlines[K]) Remove(key K) bool {
	it, ok := d.h.byKey[key]
	if !ok {
		return false
	}
	heap.Remove(&d.h, it.index)
	return true
}

// Deadline returns the deadline of key.
func (d *Deadlines[K]) Deadline(key K) (uint64, bool) {
	it, ok := d.h.byKey[key]
	if !ok {
		return 0, false
	}
	return it.at, true
}

// Next returns the key with the earliest deadline without removing it.
func (d *Deadlines[K]) Next() (K, uint64, bool) {
	if len(d.h.items) == 0 {
		var zero K
		return zero, 0, false
	}
	it := d.h.items[0]
	return it.key, it.at, true
}

// PopDue removes and returns the earliest key if its deadline is at or before now.
func (d *Deadlines[K]) PopDue(now uint64) (K, bool) {
	if len(d.h.items) == 0 || d.h.items[0].at > now {
		var zero K
		return zero, false
	}
	it := heap.Pop(&d.h).(*deadline[K])
	return it.key, true
}

// deadlineHeap implements heap.Interface, kept unexported so callers cannot break the index map.
type deadlineHeap[K comparable] struct {
	items []*deadline[K]
	byKey map[K]*deadline[K]
}

func (h deadlineHeap[K]) Len() int           { return len(h.items) }
func (h deadlineHeap[K]) Less(i, j int) bool { return h.items[i].at < h.items[j].at }

func (h deadlineHeap[K]) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].index = i
	h.items[j].index = j
}

func (h *deadlineHeap[K]) Push(x any) {
	it := x.(*deadline[K])
	it.index = len(h.items)
	h.items = append(h.items, it)
	h.byKey[it.key] = it
}

func (h *deadlineHeap[K]) Pop() any {
	n := len(h.items)
	it := h.items[n-1]
	h.items[n-1] = nil
	h.items = h.items[:n-1]
	it.index = -1
	delete(h.byKey, it.key)
	return it
}
