package memory

import (
	"sync/atomic"

	"github.com/pkg/errors"
)

// Handle addresses a slot in an Arena. The zero Handle is never allocated
// and stands for "no slot".
type Handle uint32

const Nil Handle = 0

const (
	chunkBits = 12
	chunkSize = 1 << chunkBits
	chunkMask = chunkSize - 1

	// MaxCapacity is the largest number of slots an Arena can address.
	MaxCapacity = 1<<32 - 1

	DefaultCapacity = 1 << 20
)

// ErrArenaExhausted is the panic value raised when every slot is in use.
var ErrArenaExhausted = errors.New("memory: arena exhausted")

type slot[T any] struct {
	value T
	link  atomic.Uint32
}

type chunk[T any] [chunkSize]slot[T]

// Arena is a chunked slab of T addressed by stable Handles.
//
// Alloc, Get and Free are safe for concurrent use. Chunks are installed
// lazily and never released, so a Handle stays dereferenceable for the
// lifetime of the Arena even after it has been freed.
type Arena[T any] struct {
	chunks []atomic.Pointer[chunk[T]]
	limit  uint64

	bump atomic.Uint64
	// free packs [tag:32][handle:32]; the tag changes on every push and
	// pop so a stale head cannot be swapped back in.
	free atomic.Uint64
	live atomic.Int64
}

// NewArena returns an arena able to hold capacity slots. Zero selects
// DefaultCapacity.
func NewArena[T any](capacity uint64) *Arena[T] {
	switch {
	case capacity == 0:
		capacity = DefaultCapacity
	case capacity > MaxCapacity:
		capacity = MaxCapacity
	}
	n := (capacity + 1 + chunkMask) >> chunkBits
	return &Arena[T]{
		chunks: make([]atomic.Pointer[chunk[T]], n),
		limit:  capacity,
	}
}

// Alloc returns a free slot. The slot keeps whatever value its previous
// owner left in it; callers initialize it before publishing the Handle.
// It panics with ErrArenaExhausted when no slot is left.
func (a *Arena[T]) Alloc() (Handle, *T) {
	h, v, err := a.TryAlloc()
	if err != nil {
		panic(err)
	}
	return h, v
}

// TryAlloc is Alloc returning ErrArenaExhausted instead of panicking.
func (a *Arena[T]) TryAlloc() (Handle, *T, error) {
	if h := a.pop(); h != Nil {
		a.live.Add(1)
		return h, &a.slot(h).value, nil
	}

	n := a.bump.Add(1)
	if n > a.limit {
		a.bump.Add(^uint64(0))
		return Nil, nil, ErrArenaExhausted
	}
	h := Handle(n)
	c := a.ensureChunk(uint32(h) >> chunkBits)
	a.live.Add(1)
	return h, &c[uint32(h)&chunkMask].value, nil
}

// Get dereferences h. h must have been returned by Alloc.
func (a *Arena[T]) Get(h Handle) *T {
	return &a.slot(h).value
}

// Free returns h to the free list. h must not be reachable by any reader.
func (a *Arena[T]) Free(h Handle) {
	if h == Nil {
		return
	}
	s := a.slot(h)
	for {
		old := a.free.Load()
		s.link.Store(uint32(old))
		if a.free.CompareAndSwap(old, pack(tagOf(old)+1, h)) {
			a.live.Add(-1)
			return
		}
	}
}

// Live returns the number of allocated, not yet freed slots.
func (a *Arena[T]) Live() int64 {
	return a.live.Load()
}

func (a *Arena[T]) Cap() uint64 {
	return a.limit
}

func (a *Arena[T]) pop() Handle {
	for {
		old := a.free.Load()
		h := Handle(uint32(old))
		if h == Nil {
			return Nil
		}
		next := a.slot(h).link.Load()
		if a.free.CompareAndSwap(old, pack(tagOf(old)+1, Handle(next))) {
			return h
		}
	}
}

func (a *Arena[T]) slot(h Handle) *slot[T] {
	c := a.chunks[uint32(h)>>chunkBits].Load()
	return &c[uint32(h)&chunkMask]
}

func (a *Arena[T]) ensureChunk(i uint32) *chunk[T] {
	if c := a.chunks[i].Load(); c != nil {
		return c
	}
	fresh := new(chunk[T])
	if a.chunks[i].CompareAndSwap(nil, fresh) {
		return fresh
	}
	return a.chunks[i].Load()
}

func pack(tag uint32, h Handle) uint64 {
	return uint64(tag)<<32 | uint64(h)
}

func tagOf(v uint64) uint32 {
	return uint32(v >> 32)
}
