package common

import "strconv"

// RollingIndex is a bounded cache of consecutively indexed items. It retains
// at most 2*size items; when full, the oldest half is evicted in one go.
// Indexes are arbitrary (they map to chain heights here) but must be set
// without gaps.
type RollingIndex[T any] struct {
	name      string
	size      int
	lastIndex int
	items     []T
}

// NewRollingIndex ...
func NewRollingIndex[T any](name string, size int) *RollingIndex[T] {
	return &RollingIndex[T]{
		name:      name,
		size:      size,
		items:     make([]T, 0, 2*size),
		lastIndex: -1,
	}
}

// GetLastWindow returns all cached items and the last index.
func (r *RollingIndex[T]) GetLastWindow() (lastWindow []T, lastIndex int) {
	return r.items, r.lastIndex
}

// LastIndex returns the index of the most recently set item, or -1.
func (r *RollingIndex[T]) LastIndex() int {
	return r.lastIndex
}

// GetItem retrieves an item by index. It returns a TooOld error when the item
// was evicted, and a KeyNotFound error when the index is ahead of the window.
func (r *RollingIndex[T]) GetItem(index int) (T, error) {
	var zero T
	items := len(r.items)
	oldestCached := r.lastIndex - items + 1
	if index < oldestCached {
		return zero, NewStoreErr(r.name, TooOld, strconv.Itoa(index))
	}
	findex := index - oldestCached
	if findex >= items {
		return zero, NewStoreErr(r.name, KeyNotFound, strconv.Itoa(index))
	}
	return r.items[findex], nil
}

// Set inserts an item at the given index, or replaces an item already inside
// the window. Inserting more than one step ahead of the last index is an
// error; there are no gaps between items.
func (r *RollingIndex[T]) Set(item T, index int) error {
	// adding a new item
	if r.lastIndex < 0 || index == r.lastIndex+1 {
		if len(r.items) >= 2*r.size {
			r.Roll()
		}
		r.items = append(r.items, item)
		r.lastIndex = index
		return nil
	}

	if index > r.lastIndex+1 {
		return NewStoreErr(r.name, SkippedIndex, strconv.Itoa(index))
	}

	// replacing an existing item; make sure it is still cached
	oldestCached := r.lastIndex - len(r.items) + 1
	if index < oldestCached {
		return NewStoreErr(r.name, TooOld, strconv.Itoa(index))
	}
	r.items[index-oldestCached] = item
	return nil
}

// Roll evicts the oldest half of the window.
func (r *RollingIndex[T]) Roll() {
	newList := make([]T, 0, 2*r.size)
	newList = append(newList, r.items[r.size:]...)
	r.items = newList
}

// Truncate drops every item with an index strictly greater than lastIndex.
// It is used when the chain rolls back, so that stale items above the new
// tip cannot be served.
func (r *RollingIndex[T]) Truncate(lastIndex int) {
	if lastIndex >= r.lastIndex {
		return
	}
	oldestCached := r.lastIndex - len(r.items) + 1
	if lastIndex < oldestCached {
		r.items = r.items[:0]
		r.lastIndex = lastIndex
		return
	}
	r.items = r.items[:lastIndex-oldestCached+1]
	r.lastIndex = lastIndex
}
