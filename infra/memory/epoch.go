package memory

import (
	"math"
	"sync/atomic"
)

const inactive = math.MaxUint64

// Clock is the global epoch. It monotonically increases.
type Clock struct {
	epoch atomic.Uint64
}

func (c *Clock) Now() uint64 {
	return c.epoch.Load()
}

// Advance moves the clock forward and returns the new epoch.
func (c *Clock) Advance() uint64 {
	return c.epoch.Add(1)
}

// ReaderEpoch marks when a reader entered a read section.
type ReaderEpoch struct {
	clock *Clock
	epoch atomic.Uint64
}

// NewReader returns an inactive reader bound to c.
func (c *Clock) NewReader() *ReaderEpoch {
	r := &ReaderEpoch{clock: c}
	r.epoch.Store(inactive)
	return r
}

func (r *ReaderEpoch) Enter() {
	r.epoch.Store(r.clock.Now())
}

func (r *ReaderEpoch) Exit() {
	r.epoch.Store(inactive)
}

func (r *ReaderEpoch) Value() uint64 {
	return r.epoch.Load()
}

// Active reports whether the reader is inside a read section.
func (r *ReaderEpoch) Active() bool {
	return r.Value() != inactive
}

// Retired is an object waiting for every reader that could see it to leave.
type Retired[T any] struct {
	Value T
	Epoch uint64
}

// Retire stamps v with the current epoch and queues it on ring.
// It returns false when the ring is full.
func Retire[T any](c *Clock, ring *RetireRing[Retired[T]], v T) bool {
	return ring.Enqueue(Retired[T]{Value: v, Epoch: c.Now()})
}

// AdvanceEpochAndReclaim advances the epoch and hands every retired
// object older than the oldest active reader to release. It returns the
// number of objects released.
func AdvanceEpochAndReclaim[T any](
	c *Clock,
	ring *RetireRing[Retired[T]],
	release func(T),
	readers ...*ReaderEpoch,
) int {
	c.Advance()
	oldest := minReaderEpoch(readers...)

	n := 0
	for {
		r, ok := ring.Peek()
		if !ok {
			return n
		}
		// A reader that entered at or before the retire epoch may still
		// hold the object. FIFO order means newer entries are not safe either.
		if oldest != inactive && r.Epoch >= oldest {
			return n
		}
		_, _ = ring.Dequeue()
		release(r.Value)
		n++
	}
}

func minReaderEpoch(rs ...*ReaderEpoch) uint64 {
	oldest := uint64(inactive)
	for _, r := range rs {
		if r == nil {
			continue
		}
		if v := r.Value(); v < oldest {
			oldest = v
		}
	}
	return oldest
}
