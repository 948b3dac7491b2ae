// Package outbox is the durable hand-off between matching and the broker.
// Every execution report is stored under its sequence number before it
// is published, and stays until the broker has acknowledged it.
package outbox

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/pkg/errors"
)

// -------------------- State --------------------

type State uint8

const (
	StateNew State = iota
	StateSent
	StateAcked
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateSent:
		return "SENT"
	case StateAcked:
		return "ACKED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// -------------------- Record --------------------

// ErrInvalidRecord is returned when a stored value cannot be decoded.
var ErrInvalidRecord = errors.New("outbox: invalid record")

// ErrNotFound is returned by Get for an unknown sequence.
var ErrNotFound = pebble.ErrNotFound

type Record struct {
	Seq         uint64
	State       State
	Retries     uint32
	LastAttempt int64
	Payload     []byte
}

// Entry is a report waiting to be stored.
type Entry struct {
	Seq     uint64
	Payload []byte
}

const headerLen = 1 + 4 + 8

// binary encoding: [state:1][retries:4][lastAttempt:8][payload]
func encodeRecord(r Record) []byte {
	buf := make([]byte, headerLen+len(r.Payload))
	buf[0] = byte(r.State)
	binary.BigEndian.PutUint32(buf[1:5], r.Retries)
	binary.BigEndian.PutUint64(buf[5:13], uint64(r.LastAttempt))
	copy(buf[headerLen:], r.Payload)
	return buf
}

func decodeRecord(seq uint64, b []byte) (Record, error) {
	if len(b) < headerLen {
		return Record{}, errors.Wrapf(ErrInvalidRecord, "seq %d: %d bytes", seq, len(b))
	}
	return Record{
		Seq:         seq,
		State:       State(b[0]),
		Retries:     binary.BigEndian.Uint32(b[1:5]),
		LastAttempt: int64(binary.BigEndian.Uint64(b[5:13])),
		Payload:     bytes.Clone(b[headerLen:]),
	}, nil
}

// -------------------- Outbox --------------------

type Options struct {
	Dir string
	// InMemory keeps the store in memory. Nothing survives Close.
	InMemory bool
}

type Outbox struct {
	db  *pebble.DB
	now func() time.Time
}

func Open(opts Options) (*Outbox, error) {
	po := &pebble.Options{}
	if opts.InMemory {
		po.FS = vfs.NewMem()
	}
	db, err := pebble.Open(opts.Dir, po)
	if err != nil {
		return nil, errors.Wrapf(err, "open outbox %q", opts.Dir)
	}
	return &Outbox{db: db, now: time.Now}, nil
}

func (o *Outbox) Close() error {
	return o.db.Close()
}

// Append stores entries as NEW in one synced batch. The batch also
// raises the sequence high-water mark read by LastSeq. Append must not
// be called concurrently.
func (o *Outbox) Append(entries ...Entry) error {
	if len(entries) == 0 {
		return nil
	}
	high, err := o.LastSeq()
	if err != nil {
		return err
	}

	b := o.db.NewBatch()
	defer b.Close()

	for _, e := range entries {
		rec := Record{State: StateNew, Payload: e.Payload}
		if err := b.Set(keyFor(e.Seq), encodeRecord(rec), nil); err != nil {
			return errors.Wrapf(err, "stage seq %d", e.Seq)
		}
		high = max(high, e.Seq)
	}
	if err := b.Set([]byte(lastSeqKey), binary.BigEndian.AppendUint64(nil, high), nil); err != nil {
		return errors.Wrap(err, "stage last seq")
	}
	return errors.Wrap(b.Commit(pebble.Sync), "commit outbox batch")
}

// Get returns the current record for seq.
func (o *Outbox) Get(seq uint64) (Record, error) {
	val, closer, err := o.db.Get(keyFor(seq))
	if err != nil {
		return Record{}, err
	}
	defer closer.Close()

	return decodeRecord(seq, val)
}

func (o *Outbox) MarkSent(seq uint64) error {
	return o.update(seq, func(r *Record) {
		r.State = StateSent
		r.LastAttempt = o.now().UnixNano()
	})
}

func (o *Outbox) MarkAcked(seq uint64) error {
	return o.update(seq, func(r *Record) {
		r.State = StateAcked
	})
}

// MarkFailed records a failed delivery attempt; the record is retried on
// the next scan.
func (o *Outbox) MarkFailed(seq uint64) error {
	return o.update(seq, func(r *Record) {
		r.State = StateFailed
		r.Retries++
	})
}

func (o *Outbox) update(seq uint64, fn func(*Record)) error {
	rec, err := o.Get(seq)
	if err != nil {
		return errors.Wrapf(err, "load seq %d", seq)
	}
	fn(&rec)
	return errors.Wrapf(o.db.Set(keyFor(seq), encodeRecord(rec), pebble.Sync), "store seq %d", seq)
}

// -------------------- Scan --------------------

// Scan iterates records in sequence order. With no states every record is
// visited; otherwise only records in one of states.
func (o *Outbox) Scan(fn func(Record) error, states ...State) error {
	iter, err := o.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keyPrefix),
		UpperBound: []byte(keyPrefix + "~"),
	})
	if err != nil {
		return errors.Wrap(err, "open outbox iterator")
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		seq, err := parseKey(iter.Key())
		if err != nil {
			return err
		}
		rec, err := decodeRecord(seq, iter.Value())
		if err != nil {
			return err
		}
		if !wanted(rec.State, states) {
			continue
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return iter.Error()
}

// PruneAcked deletes every ACKED record and returns how many were removed.
func (o *Outbox) PruneAcked() (int, error) {
	var seqs []uint64
	err := o.Scan(func(r Record) error {
		seqs = append(seqs, r.Seq)
		return nil
	}, StateAcked)
	if err != nil || len(seqs) == 0 {
		return 0, err
	}

	b := o.db.NewBatch()
	defer b.Close()
	for _, seq := range seqs {
		if err := b.Delete(keyFor(seq), nil); err != nil {
			return 0, errors.Wrapf(err, "stage delete %d", seq)
		}
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return 0, errors.Wrap(err, "commit prune")
	}
	return len(seqs), nil
}

// LastSeq returns the highest sequence ever appended, or 0 for a new
// outbox. Pruning does not lower it.
func (o *Outbox) LastSeq() (uint64, error) {
	val, closer, err := o.db.Get([]byte(lastSeqKey))
	if errors.Is(err, pebble.ErrNotFound) {
		return o.highestKey()
	}
	if err != nil {
		return 0, errors.Wrap(err, "load last seq")
	}
	defer closer.Close()

	if len(val) != 8 {
		return 0, errors.Wrapf(ErrInvalidRecord, "last seq: %d bytes", len(val))
	}
	return binary.BigEndian.Uint64(val), nil
}

// highestKey covers stores written before the high-water mark existed.
func (o *Outbox) highestKey() (uint64, error) {
	iter, err := o.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keyPrefix),
		UpperBound: []byte(keyPrefix + "~"),
	})
	if err != nil {
		return 0, errors.Wrap(err, "open outbox iterator")
	}
	defer iter.Close()

	if !iter.Last() {
		return 0, iter.Error()
	}
	return parseKey(iter.Key())
}

// -------------------- Helpers --------------------

const (
	keyPrefix  = "exec/"
	lastSeqKey = "meta/last_seq"
)

func keyFor(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", keyPrefix, seq))
}

func parseKey(b []byte) (uint64, error) {
	var seq uint64
	_, err := fmt.Sscanf(string(bytes.TrimPrefix(b, []byte(keyPrefix))), "%d", &seq)
	return seq, errors.Wrapf(err, "parse key %q", b)
}

func wanted(s State, states []State) bool {
	if len(states) == 0 {
		return true
	}
	for _, w := range states {
		if s == w {
			return true
		}
	}
	return false
}
