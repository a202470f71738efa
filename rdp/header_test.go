package rdp

import (
	"bytes"
	"testing"
)

type testAlloc struct{}

func (testAlloc) Alloc(size int) []byte { return make([]byte, 0, size) }
func (testAlloc) Free(buf []byte)       {}

func TestHeaderRoundTrip(t *testing.T) {
	alloc := testAlloc{}
	pkt := &Packet{Buf: alloc.Alloc(64)}
	pkt.Buf = append(pkt.Buf, "hello"...)
	pkt.Length = len(pkt.Buf)

	h, err := AddHeader(pkt)
	if err != nil {
		t.Fatal(err)
	}
	h.SetFlags(FlagACK | FlagSYN)
	h.SetSeqNr(1234)
	h.SetAckNr(5678)

	peeked, err := PeekHeader(pkt)
	if err != nil {
		t.Fatal(err)
	}
	if peeked.Flags() != (FlagACK | FlagSYN) {
		t.Errorf("flags = %v, want ACK|SYN", peeked.Flags())
	}
	if peeked.SeqNr() != 1234 {
		t.Errorf("seq = %d, want 1234", peeked.SeqNr())
	}
	if peeked.AckNr() != 5678 {
		t.Errorf("ack = %d, want 5678", peeked.AckNr())
	}
	if pkt.Length != len("hello")+HeaderLen {
		t.Errorf("length = %d, want %d", pkt.Length, len("hello")+HeaderLen)
	}

	removed, err := RemoveHeader(pkt)
	if err != nil {
		t.Fatal(err)
	}
	if removed.SeqNr() != 1234 {
		t.Errorf("removed header seq = %d, want 1234", removed.SeqNr())
	}
	if pkt.Length != len("hello") {
		t.Errorf("length after remove = %d, want %d", pkt.Length, len("hello"))
	}
	if !bytes.Equal(pkt.Payload(), []byte("hello")) {
		t.Errorf("payload = %q, want %q", pkt.Payload(), "hello")
	}
}

func TestSynPayloadRoundTrip(t *testing.T) {
	opts := Options{
		WindowSize:      12,
		ConnTimeoutMs:   9000,
		PacketTimeoutMs: 800,
		DelayedAcks:     true,
		AckTimeoutMs:    400,
		AckDelayCount:   3,
	}
	buf := appendSynPayload(nil, opts)
	if len(buf) != synPayloadLen {
		t.Fatalf("syn payload len = %d, want %d", len(buf), synPayloadLen)
	}
	got, err := parseSynPayload(buf)
	if err != nil {
		t.Fatal(err)
	}
	if got != opts {
		t.Errorf("round-tripped options = %+v, want %+v", got, opts)
	}
}

func TestEackPayloadRoundTrip(t *testing.T) {
	seqs := []Value{5, 8, 9, 65535}
	buf := appendEackPayload(nil, seqs)
	got := parseEackPayload(buf)
	if len(got) != len(seqs) {
		t.Fatalf("got %d seqs, want %d", len(got), len(seqs))
	}
	for i := range seqs {
		if got[i] != seqs[i] {
			t.Errorf("seq[%d] = %d, want %d", i, got[i], seqs[i])
		}
	}
}

func TestEackPayloadDiscardsTrailingOddByte(t *testing.T) {
	buf := []byte{0, 1, 0, 2, 0xFF} // 2 full words + 1 trailing byte
	got := parseEackPayload(buf)
	if len(got) != 2 {
		t.Fatalf("got %d seqs, want 2 (trailing odd byte discarded)", len(got))
	}
}
