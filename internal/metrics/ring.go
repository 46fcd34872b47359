package metrics

// Ring is a fixed-capacity buffer that keeps the most recent values and
// evicts the oldest on overflow. It is not safe for concurrent use.
type Ring[T any] struct {
	buf  []T
	next int
	full bool
}

// NewRing returns a ring holding at most capacity values. capacity must be
// positive.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		panic("metrics: ring capacity must be positive")
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Push appends v, overwriting the oldest value when full.
func (r *Ring[T]) Push(v T) {
	r.buf[r.next] = v
	r.next++
	if r.next == len(r.buf) {
		r.next = 0
		r.full = true
	}
}

// Len returns the number of values held.
func (r *Ring[T]) Len() int {
	if r.full {
		return len(r.buf)
	}
	return r.next
}

func (r *Ring[T]) Cap() int { return len(r.buf) }

// AppendTo appends the held values to dst, oldest first.
func (r *Ring[T]) AppendTo(dst []T) []T {
	if !r.full {
		return append(dst, r.buf[:r.next]...)
	}
	dst = append(dst, r.buf[r.next:]...)
	return append(dst, r.buf[:r.next]...)
}
