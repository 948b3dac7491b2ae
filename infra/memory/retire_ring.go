package memory

import "sync/atomic"

// RetireRing is a lock-free SPSC ring buffer for retired objects.
// Exactly one goroutine may Enqueue and exactly one may Peek/Dequeue.
type RetireRing[T any] struct {
	head  uint64
	_pad1 [56]byte
	tail  uint64
	_pad2 [56]byte
	buf   []T
	mask  uint64
}

func NewRetireRing[T any](size uint64) *RetireRing[T] {
	if size == 0 || size&(size-1) != 0 {
		panic("RetireRing size must be power of two")
	}
	return &RetireRing[T]{
		buf:  make([]T, size),
		mask: size - 1,
	}
}

// Enqueue appends v. It returns false when the ring is full.
func (r *RetireRing[T]) Enqueue(v T) bool {
	h := atomic.LoadUint64(&r.head)
	t := atomic.LoadUint64(&r.tail)
	if h-t == uint64(len(r.buf)) {
		return false
	}
	r.buf[h&r.mask] = v
	atomic.StoreUint64(&r.head, h+1)
	return true
}

// Peek returns the oldest entry without removing it.
func (r *RetireRing[T]) Peek() (T, bool) {
	var zero T
	t := atomic.LoadUint64(&r.tail)
	h := atomic.LoadUint64(&r.head)
	if t == h {
		return zero, false
	}
	return r.buf[t&r.mask], true
}

// Dequeue removes and returns the oldest entry.
func (r *RetireRing[T]) Dequeue() (T, bool) {
	var zero T
	t := atomic.LoadUint64(&r.tail)
	h := atomic.LoadUint64(&r.head)
	if t == h {
		return zero, false
	}
	v := r.buf[t&r.mask]
	r.buf[t&r.mask] = zero
	atomic.StoreUint64(&r.tail, t+1)
	return v, true
}

func (r *RetireRing[T]) Len() int {
	h := atomic.LoadUint64(&r.head)
	t := atomic.LoadUint64(&r.tail)
	return int(h - t)
}

func (r *RetireRing[T]) Cap() int {
	return len(r.buf)
}
