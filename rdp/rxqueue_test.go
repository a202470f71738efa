package rdp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustRxPacket(t *testing.T, seq Value) *Packet {
	t.Helper()
	alloc := testAlloc{}
	pkt := &Packet{Buf: alloc.Alloc(16)}
	pkt.Buf = append(pkt.Buf, "x"...)
	pkt.Length = len(pkt.Buf)
	h, err := AddHeader(pkt)
	if err != nil {
		t.Fatal(err)
	}
	h.SetFlags(FlagACK)
	h.SetSeqNr(seq)
	return pkt
}

func TestRxQueueRejectsDuplicate(t *testing.T) {
	var q rxQueue
	alloc := testAlloc{}
	require.True(t, q.insert(mustRxPacket(t, 5), 5, alloc), "first insert of seq 5 should succeed")
	assert.False(t, q.insert(mustRxPacket(t, 5), 5, alloc), "duplicate insert of seq 5 should be rejected")
	assert.Equal(t, 1, q.len())
}

func TestRxQueueEackSeqsSorted(t *testing.T) {
	var q rxQueue
	alloc := testAlloc{}
	for _, seq := range []Value{9, 3, 7} {
		require.True(t, q.insert(mustRxPacket(t, seq), seq, alloc), "insert seq %d", seq)
	}
	assert.Equal(t, []Value{3, 7, 9}, q.eackSeqs())
}

func TestDrainInOrder(t *testing.T) {
	tcb := &ControlBlock{}
	tcb.allocate(testAlloc{}, &recordingTransport{}, &fakeClock{}, 1, DefaultOptions(), nil)
	tcb.metrics = noopMetrics{}
	tcb.rcv.cur = 10

	alloc := testAlloc{}
	// Insert out of order: 12 arrives before 11.
	tcb.rx.insert(mustRxPacket(t, 12), 12, alloc)
	tcb.rx.insert(mustRxPacket(t, 11), 11, alloc)

	var delivered []Value
	tcb.drainInOrder(func(pkt *Packet) {
		h, err := PeekHeader(pkt)
		require.NoError(t, err)
		delivered = append(delivered, h.SeqNr())
	})
	assert.Equal(t, []Value{11, 12}, delivered)
	assert.Equal(t, Value(12), tcb.rcv.cur)
}
