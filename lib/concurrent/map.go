package concurrent

import "github.com/puzpuzpuz/xsync/v3"

// Map is a thread-safe associative container.
//
// Thread-safety: every method is atomic on its own. Sequences of calls
// (e.g. ContainsKey followed by Get) are not atomic as a pair, use
// Emplace or ComputeIfPresent when a decision depends on the current value.
type Map[K comparable, V any] struct {
	m *xsync.MapOf[K, V]
}

// NewMap creates an empty map.
func NewMap[K comparable, V any]() *Map[K, V] {
	return &Map[K, V]{m: xsync.NewMapOf[K, V]()}
}

// Insert stores value under key, replacing any previous value.
func (c *Map[K, V]) Insert(key K, value V) {
	c.m.Store(key, value)
}

// Emplace stores value under key only if the key is absent.
// Returns true if the value was stored.
func (c *Map[K, V]) Emplace(key K, value V) bool {
	_, loaded := c.m.LoadOrStore(key, value)
	return !loaded
}

// Get returns the value stored under key.
func (c *Map[K, V]) Get(key K) (V, bool) {
	return c.m.Load(key)
}

// ContainsKey reports whether key is present.
func (c *Map[K, V]) ContainsKey(key K) bool {
	_, ok := c.m.Load(key)
	return ok
}

// Erase removes key and reports whether it was present.
func (c *Map[K, V]) Erase(key K) bool {
	_, ok := c.m.LoadAndDelete(key)
	return ok
}

// Clear removes all entries.
func (c *Map[K, V]) Clear() {
	c.m.Clear()
}

// Size returns the number of entries.
func (c *Map[K, V]) Size() int {
	return c.m.Size()
}

// Empty reports whether the map has no entries.
func (c *Map[K, V]) Empty() bool {
	return c.m.Size() == 0
}

// ForEach calls fn for every entry until fn returns false.
// Entries inserted or removed during the iteration may or may not be visited.
func (c *Map[K, V]) ForEach(fn func(key K, value V) bool) {
	c.m.Range(fn)
}

// ComputeIfPresent replaces the value under key with fn(key, value) if the key is present.
// If fn returns keep=false the entry is removed. Returns whether the key was present.
func (c *Map[K, V]) ComputeIfPresent(key K, fn func(key K, value V) (newValue V, keep bool)) bool {
	present := false
	c.m.Compute(key, func(old V, loaded bool) (V, bool) {
		if !loaded {
			var zero V
			return zero, true
		}
		present = true
		newValue, keep := fn(key, old)
		return newValue, !keep
	})
	return present
}
