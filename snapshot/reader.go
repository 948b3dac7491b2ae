package snapshot

import "stockbook/infra/memory"

/*
Snapshot Reader

A thin adapter over memory.ReaderEpoch. Its only responsibility is to
mark when a snapshot begins and when it ends; epoching and reclamation
are handled by the service.
*/

type Reader struct {
	epoch *memory.ReaderEpoch
}

func NewReader(clock *memory.Clock) *Reader {
	return &Reader{
		epoch: clock.NewReader(),
	}
}

// Begin marks the start of a snapshot.
func (r *Reader) Begin() {
	r.epoch.Enter()
}

// End marks the end of a snapshot.
func (r *Reader) End() {
	r.epoch.Exit()
}

// Epoch exposes the underlying epoch for reclaimers.
func (r *Reader) Epoch() *memory.ReaderEpoch {
	return r.epoch
}
