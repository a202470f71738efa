package rdp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingTransport struct {
	sent []*Packet
}

func (r *recordingTransport) SendDatagram(destID uint32, pkt *Packet) error {
	r.sent = append(r.sent, pkt)
	return nil
}

func newTestTCB(t *testing.T, transport Transport) *ControlBlock {
	t.Helper()
	tcb := &ControlBlock{}
	tcb.allocate(testAlloc{}, transport, &fakeClock{}, 1, DefaultOptions(), nil)
	tcb.metrics = noopMetrics{}
	return tcb
}

type fakeClock struct{ ms uint32 }

func (c *fakeClock) NowMs() uint32 { return c.ms }

func mustSendRaw(t *testing.T, tcb *ControlBlock, flags Flags, seq, ack Value) *Packet {
	t.Helper()
	pkt, err := tcb.newPacket(0)
	if err != nil {
		t.Fatal(err)
	}
	h, err := AddHeader(pkt)
	if err != nil {
		t.Fatal(err)
	}
	h.SetFlags(flags)
	h.SetSeqNr(seq)
	h.SetAckNr(ack)
	return pkt
}

func TestTxQueueSweepDropsAcked(t *testing.T) {
	tr := &recordingTransport{}
	tcb := newTestTCB(t, tr)
	tcb.snd = sendSpace{iss: 10, una: 10, nxt: 11}

	pkt := mustSendRaw(t, tcb, FlagACK, 10, 0)
	require.NoError(t, tcb.tx.enqueue(pkt, 0))

	tcb.snd.una = 11 // peer acked seq 10
	require.NoError(t, tcb.sweepTimeouts(0))
	assert.Equal(t, 0, tcb.tx.len(), "tx queue should be empty after ack")
}

func TestTxQueueSweepRetransmitsOnTimeout(t *testing.T) {
	tr := &recordingTransport{}
	tcb := newTestTCB(t, tr)
	tcb.snd = sendSpace{iss: 10, una: 10, nxt: 11}

	pkt := mustSendRaw(t, tcb, FlagACK, 10, 0)
	require.NoError(t, tcb.tx.enqueue(pkt, 0))

	require.NoError(t, tcb.sweepTimeouts(tcb.opts.PacketTimeoutMs))
	assert.Equal(t, 1, tcb.tx.len(), "entry still awaiting ack should remain queued")
	assert.Len(t, tr.sent, 1, "one retransmission expected")
}

func TestTxQueueFullRejects(t *testing.T) {
	tr := &recordingTransport{}
	tcb := newTestTCB(t, tr)
	for i := 0; i < MaxWindow; i++ {
		pkt := mustSendRaw(t, tcb, FlagACK, Value(i), 0)
		require.NoError(t, tcb.tx.enqueue(pkt, 0), "enqueue %d", i)
	}
	pkt := mustSendRaw(t, tcb, FlagACK, Value(MaxWindow), 0)
	assert.ErrorIs(t, tcb.tx.enqueue(pkt, 0), ErrQueueFull)
}

func TestEackFlushAcksNamedAndExpiresEarlier(t *testing.T) {
	tr := &recordingTransport{}
	tcb := newTestTCB(t, tr)
	tcb.snd = sendSpace{iss: 0, una: 0, nxt: 5}

	for _, seq := range []Value{0, 1, 2, 3} {
		pkt := mustSendRaw(t, tcb, FlagACK, seq, 0)
		require.NoError(t, tcb.tx.enqueue(pkt, 100))
	}

	tcb.eackFlush([]Value{1, 3}, 100)
	require.Equal(t, 2, tcb.tx.len(), "0 and 2 should remain")
	remaining := map[Value]bool{}
	for i := range tcb.tx.entries {
		remaining[tcb.tx.entries[i].seqNr()] = true
	}
	assert.True(t, remaining[0] && remaining[2], "expected seqs 0 and 2 to remain, got %v", remaining)
	// seq 0 is behind the highest named gap (3), so its timestamp should
	// have been forced stale to force an immediate retransmit next sweep:
	// now - timestamp (uint32, as sweepTimeouts computes it) reaches the
	// packet timeout.
	for i := range tcb.tx.entries {
		if tcb.tx.entries[i].seqNr() == 0 {
			assert.GreaterOrEqual(t, uint32(100)-tcb.tx.entries[i].timestampMs, tcb.opts.PacketTimeoutMs, "seq 0 timestamp not forced stale")
		}
	}
}
