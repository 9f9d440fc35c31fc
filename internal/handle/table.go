// Package handle maps small integers to live values so foreign code can refer to
// a value without holding its address.
//
// Handles are slot indices offset by one; 0 is never issued. A freed slot is reused
// by the next Insert, so a handle must not be used after it has been removed. grip
// removes every handle synchronously once the single callback it was minted for
// returns, which leaves no second holder that could observe a recycled slot.
//
// A Table is not safe for concurrent use.
package handle

// Handle identifies a live value in a Table
type Handle int64

// Invalid is never returned by Insert
const Invalid Handle = 0

type slot[T any] struct {
	value T
	live  bool
}

// Table is a slot-indexed registry with a free list
type Table[T any] struct {
	slots    []slot[T]
	freeList []Handle
	live     int
}

// New creates an empty table
func New[T any]() *Table[T] {
	return &Table[T]{
		slots:    make([]slot[T], 0, 16),
		freeList: make([]Handle, 0, 16),
	}
}

// Insert stores v and returns a handle not assigned to any other live value.
// The most recently freed slot is reused first.
func (t *Table[T]) Insert(v T) Handle {
	t.live++

	if n := len(t.freeList); n > 0 {
		h := t.freeList[n-1]
		t.freeList = t.freeList[:n-1]
		t.slots[h-1] = slot[T]{value: v, live: true}
		return h
	}

	t.slots = append(t.slots, slot[T]{value: v, live: true})
	return Handle(len(t.slots))
}

// Lookup returns the value for h. The result is valid until h is removed.
func (t *Table[T]) Lookup(h Handle) (T, bool) {
	var zero T
	s := t.slot(h)
	if s == nil {
		return zero, false
	}
	return s.value, true
}

// Remove frees h and returns its value. Unknown or already removed handles
// return false.
func (t *Table[T]) Remove(h Handle) (T, bool) {
	var zero T
	s := t.slot(h)
	if s == nil {
		return zero, false
	}

	v := s.value
	*s = slot[T]{}
	t.freeList = append(t.freeList, h)
	t.live--
	return v, true
}

// Len returns the number of live values
func (t *Table[T]) Len() int {
	return t.live
}

func (t *Table[T]) slot(h Handle) *slot[T] {
	if h <= Invalid || int64(h) > int64(len(t.slots)) {
		return nil
	}
	s := &t.slots[h-1]
	if !s.live {
		return nil
	}
	return s
}
