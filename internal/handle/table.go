// Package handle provides a generation-tagged handle table.
//
// The host runtime never sees a Go pointer. It holds a Handle, which encodes a
// slot index and the slot's generation at insert time. Removing a value bumps
// the slot generation, so a handle that outlives its value (use after destroy,
// double destroy) no longer resolves even after the slot is reused.
package handle

import (
	"fmt"
	"sync"
)

// Handle is an opaque reference to a value in a Table.
// Handle 0 is reserved and always invalid.
type Handle uint64

func newHandle(index, gen uint32) Handle {
	return Handle(uint64(gen)<<32 | uint64(index))
}

// Index returns the slot index encoded in h.
func (h Handle) Index() uint32 {
	return uint32(h)
}

// Generation returns the slot generation encoded in h.
func (h Handle) Generation() uint32 {
	return uint32(h >> 32)
}

// IsZero reports whether h is the reserved invalid handle.
func (h Handle) IsZero() bool {
	return h == 0
}

func (h Handle) String() string {
	return fmt.Sprintf("%d:%d", h.Index(), h.Generation())
}

type slot[T any] struct {
	value T
	gen   uint32
	live  bool
}

// Table maps handles to values of type T. It is safe for concurrent use.
type Table[T any] struct {
	mu    sync.Mutex
	slots []slot[T]
	free  []uint32
	count int
}

// NewTable creates an empty table.
func NewTable[T any]() *Table[T] {
	return &Table[T]{}
}

// Insert stores value and returns its handle.
func (t *Table[T]) Insert(value T) Handle {
	t.mu.Lock()
	defer t.mu.Unlock()

	var idx uint32
	if n := len(t.free); n > 0 {
		idx = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		idx = uint32(len(t.slots))
		t.slots = append(t.slots, slot[T]{})
	}

	s := &t.slots[idx]
	if s.gen == 0 {
		s.gen = 1
	}
	s.value = value
	s.live = true
	t.count++

	return newHandle(idx, s.gen)
}

// Get retrieves the value for h.
func (t *Table[T]) Get(h Handle) (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.lookup(h)
	if !ok {
		var zero T
		return zero, false
	}
	return s.value, true
}

// Remove drops h and returns (value, true) if it was live.
func (t *Table[T]) Remove(h Handle) (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var zero T
	s, ok := t.lookup(h)
	if !ok {
		return zero, false
	}

	value := s.value
	s.value = zero
	s.live = false
	s.gen++
	if s.gen == 0 {
		s.gen = 1
	}
	t.free = append(t.free, h.Index())
	t.count--

	return value, true
}

// Len returns the number of live handles.
func (t *Table[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// Each calls fn for every live handle until fn returns false. fn must not
// call back into the table.
func (t *Table[T]) Each(fn func(Handle, T) bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.slots {
		s := &t.slots[i]
		if !s.live {
			continue
		}
		if !fn(newHandle(uint32(i), s.gen), s.value) {
			return
		}
	}
}

func (t *Table[T]) lookup(h Handle) (*slot[T], bool) {
	if h.IsZero() {
		return nil, false
	}
	idx := h.Index()
	if int(idx) >= len(t.slots) {
		return nil, false
	}
	s := &t.slots[idx]
	if !s.live || s.gen != h.Generation() {
		return nil, false
	}
	return s, true
}
