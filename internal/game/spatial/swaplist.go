package spatial

// SwapList is a capped, unordered collection with O(1) swap-remove.
// Removal moves the last element into the freed slot, so iteration order is
// not stable across removals.
type SwapList[T any] struct {
	items    []T
	capacity int
}

// NewSwapList creates a list holding at most capacity items. A capacity of
// zero or less means the list accepts nothing.
func NewSwapList[T any](capacity int) *SwapList[T] {
	if capacity < 0 {
		capacity = 0
	}
	return &SwapList[T]{items: make([]T, 0, capacity), capacity: capacity}
}

// Add appends v and reports whether there was room for it.
func (l *SwapList[T]) Add(v T) bool {
	if len(l.items) >= l.capacity {
		return false
	}
	l.items = append(l.items, v)
	return true
}

// Len returns the number of items held.
func (l *SwapList[T]) Len() int { return len(l.items) }

// Items returns the live backing slice. Callers must not retain it across
// Add or RemoveIf.
func (l *SwapList[T]) Items() []T { return l.items }

// RemoveIf swap-removes every item matching pred and returns how many were
// removed.
func (l *SwapList[T]) RemoveIf(pred func(T) bool) int {
	removed := 0
	for i := 0; i < len(l.items); {
		if !pred(l.items[i]) {
			i++
			continue
		}
		last := len(l.items) - 1
		l.items[i] = l.items[last]
		var zero T
		l.items[last] = zero
		l.items = l.items[:last]
		removed++
	}
	return removed
}
