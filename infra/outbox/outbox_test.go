package outbox

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTest(t *testing.T) *Outbox {
	t.Helper()
	o, err := Open(Options{Dir: "outbox", InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = o.Close() })
	return o
}

func collect(t *testing.T, o *Outbox, states ...State) []Record {
	t.Helper()
	var out []Record
	require.NoError(t, o.Scan(func(r Record) error {
		out = append(out, r)
		return nil
	}, states...))
	return out
}

func TestAppendAndGet(t *testing.T) {
	o := openTest(t)
	require.NoError(t, o.Append(Entry{Seq: 1, Payload: []byte("a")}, Entry{Seq: 2, Payload: []byte("b")}))

	rec, err := o.Get(2)
	require.NoError(t, err)
	assert.Equal(t, StateNew, rec.State)
	assert.Equal(t, []byte("b"), rec.Payload)
	assert.EqualValues(t, 2, rec.Seq)

	_, err = o.Get(3)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestStateTransitions(t *testing.T) {
	o := openTest(t)
	o.now = func() time.Time { return time.Unix(0, 500) }
	require.NoError(t, o.Append(Entry{Seq: 7, Payload: []byte("x")}))

	require.NoError(t, o.MarkSent(7))
	rec, err := o.Get(7)
	require.NoError(t, err)
	assert.Equal(t, StateSent, rec.State)
	assert.EqualValues(t, 500, rec.LastAttempt)

	require.NoError(t, o.MarkFailed(7))
	require.NoError(t, o.MarkFailed(7))
	rec, err = o.Get(7)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, rec.State)
	assert.EqualValues(t, 2, rec.Retries)
	assert.Equal(t, []byte("x"), rec.Payload, "payload survives updates")

	require.NoError(t, o.MarkAcked(7))
	rec, err = o.Get(7)
	require.NoError(t, err)
	assert.Equal(t, StateAcked, rec.State)
}

func TestMarkUnknownSeq(t *testing.T) {
	o := openTest(t)
	err := o.MarkAcked(99)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestScanFiltersAndOrders(t *testing.T) {
	o := openTest(t)
	for seq := uint64(1); seq <= 12; seq++ {
		require.NoError(t, o.Append(Entry{Seq: seq, Payload: []byte{byte(seq)}}))
	}
	require.NoError(t, o.MarkAcked(2))
	require.NoError(t, o.MarkFailed(10))

	all := collect(t, o)
	require.Len(t, all, 12)
	for i, r := range all {
		assert.EqualValues(t, i+1, r.Seq, "records come back in sequence order")
	}

	pending := collect(t, o, StateNew, StateFailed)
	assert.Len(t, pending, 11)

	acked := collect(t, o, StateAcked)
	require.Len(t, acked, 1)
	assert.EqualValues(t, 2, acked[0].Seq)
}

func TestScanStopsOnError(t *testing.T) {
	o := openTest(t)
	require.NoError(t, o.Append(Entry{Seq: 1}, Entry{Seq: 2}))

	stop := errors.New("stop")
	n := 0
	err := o.Scan(func(Record) error {
		n++
		return stop
	})
	assert.Equal(t, stop, err)
	assert.Equal(t, 1, n)
}

func TestPruneAcked(t *testing.T) {
	o := openTest(t)
	require.NoError(t, o.Append(Entry{Seq: 1}, Entry{Seq: 2}, Entry{Seq: 3}))
	require.NoError(t, o.MarkAcked(1))
	require.NoError(t, o.MarkAcked(3))

	n, err := o.PruneAcked()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	left := collect(t, o)
	require.Len(t, left, 1)
	assert.EqualValues(t, 2, left[0].Seq)

	n, err = o.PruneAcked()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestLastSeq(t *testing.T) {
	o := openTest(t)
	seq, err := o.LastSeq()
	require.NoError(t, err)
	assert.Zero(t, seq)

	require.NoError(t, o.Append(Entry{Seq: 9}, Entry{Seq: 100}, Entry{Seq: 15}))
	seq, err = o.LastSeq()
	require.NoError(t, err)
	assert.EqualValues(t, 100, seq)
}

func TestLastSeqSurvivesPrune(t *testing.T) {
	o := openTest(t)
	require.NoError(t, o.Append(Entry{Seq: 1}, Entry{Seq: 2}))
	require.NoError(t, o.MarkAcked(1))
	require.NoError(t, o.MarkAcked(2))

	n, err := o.PruneAcked()
	require.NoError(t, err)
	require.Equal(t, 2, n)
	assert.Empty(t, collect(t, o))

	seq, err := o.LastSeq()
	require.NoError(t, err)
	assert.EqualValues(t, 2, seq)

	// A lower seq must not pull the mark back.
	require.NoError(t, o.Append(Entry{Seq: 1}))
	seq, err = o.LastSeq()
	require.NoError(t, err)
	assert.EqualValues(t, 2, seq)
}

func TestLastSeqSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	o, err := Open(Options{Dir: dir})
	require.NoError(t, err)
	require.NoError(t, o.Append(Entry{Seq: 7}))
	require.NoError(t, o.MarkAcked(7))
	_, err = o.PruneAcked()
	require.NoError(t, err)
	require.NoError(t, o.Close())

	o, err = Open(Options{Dir: dir})
	require.NoError(t, err)
	defer o.Close()

	seq, err := o.LastSeq()
	require.NoError(t, err)
	assert.EqualValues(t, 7, seq)
}

func TestDecodeRejectsShortValue(t *testing.T) {
	_, err := decodeRecord(1, []byte{1, 2})
	assert.True(t, errors.Is(err, ErrInvalidRecord))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "ACKED", StateAcked.String())
	assert.Equal(t, "UNKNOWN", State(42).String())
}
