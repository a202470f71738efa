package rdp

import "encoding/binary"

// HeaderLen is the fixed wire size of an RDP header, in bytes.
const HeaderLen = 6

// synPayloadLen is the size of the six 32-bit words a SYN segment carries
// as its application payload.
const synPayloadLen = 24

// Header is a view over the trailing HeaderLen bytes of a packet's buffer.
// Field accessors convert to/from network byte order.
type Header struct {
	b []byte // exactly HeaderLen bytes, aliasing the packet's buffer
}

func (h Header) Flags() Flags   { return Flags(h.b[0] & byte(flagMask)) }
func (h Header) SeqNr() Value   { return Value(binary.BigEndian.Uint16(h.b[1:3])) }
func (h Header) AckNr() Value   { return Value(binary.BigEndian.Uint16(h.b[3:5])) }

func (h Header) SetFlags(f Flags) { h.b[0] = byte(f & flagMask) }
func (h Header) SetSeqNr(v Value) { binary.BigEndian.PutUint16(h.b[1:3], uint16(v)) }
func (h Header) SetAckNr(v Value) { binary.BigEndian.PutUint16(h.b[3:5], uint16(v)) }

// AddHeader reserves HeaderLen trailing bytes in pkt's buffer, zeroing them,
// and returns a view onto them. pkt.Length grows by HeaderLen: the header is
// appended after whatever payload bytes are already in pkt.Buf.
func AddHeader(pkt *Packet) (Header, error) {
	if cap(pkt.Buf)-pkt.Length < HeaderLen {
		return Header{}, errBufferTooSmall
	}
	if len(pkt.Buf) < pkt.Length+HeaderLen {
		pkt.Buf = pkt.Buf[:pkt.Length+HeaderLen]
	}
	h := Header{b: pkt.Buf[pkt.Length : pkt.Length+HeaderLen]}
	for i := range h.b {
		h.b[i] = 0
	}
	pkt.Length += HeaderLen
	return h, nil
}

// RemoveHeader strips HeaderLen trailing bytes from pkt's logical length and
// returns a view onto them, leaving pkt.Buf's payload (everything before
// the header) intact.
func RemoveHeader(pkt *Packet) (Header, error) {
	if pkt.Length < HeaderLen {
		return Header{}, errBufferTooSmall
	}
	pkt.Length -= HeaderLen
	return Header{b: pkt.Buf[pkt.Length : pkt.Length+HeaderLen]}, nil
}

// PeekHeader reads the trailing header without mutating pkt.Length.
func PeekHeader(pkt *Packet) (Header, error) {
	if pkt.Length < HeaderLen {
		return Header{}, errBufferTooSmall
	}
	return Header{b: pkt.Buf[pkt.Length-HeaderLen : pkt.Length]}, nil
}

// synParams is the six-word parameter block a SYN segment's payload
// carries; the passive side adopts these values verbatim.
type synParams struct {
	windowSize      uint32
	connTimeoutMs   uint32
	packetTimeoutMs uint32
	delayedAcks     uint32
	ackTimeoutMs    uint32
	ackDelayCount   uint32
}

func optionsToSynParams(o Options) synParams {
	var delayed uint32
	if o.DelayedAcks {
		delayed = 1
	}
	return synParams{
		windowSize:      uint32(o.WindowSize),
		connTimeoutMs:   o.ConnTimeoutMs,
		packetTimeoutMs: o.PacketTimeoutMs,
		delayedAcks:     delayed,
		ackTimeoutMs:    o.AckTimeoutMs,
		ackDelayCount:   o.AckDelayCount,
	}
}

func (p synParams) toOptions() Options {
	return Options{
		WindowSize:      Size(p.windowSize),
		ConnTimeoutMs:   p.connTimeoutMs,
		PacketTimeoutMs: p.packetTimeoutMs,
		DelayedAcks:     p.delayedAcks != 0,
		AckTimeoutMs:    p.ackTimeoutMs,
		AckDelayCount:   p.ackDelayCount,
	}
}

// appendSynPayload appends the 24-byte SYN parameter block to buf.
func appendSynPayload(buf []byte, o Options) []byte {
	p := optionsToSynParams(o)
	var tmp [synPayloadLen]byte
	binary.BigEndian.PutUint32(tmp[0:4], p.windowSize)
	binary.BigEndian.PutUint32(tmp[4:8], p.connTimeoutMs)
	binary.BigEndian.PutUint32(tmp[8:12], p.packetTimeoutMs)
	binary.BigEndian.PutUint32(tmp[12:16], p.delayedAcks)
	binary.BigEndian.PutUint32(tmp[16:20], p.ackTimeoutMs)
	binary.BigEndian.PutUint32(tmp[20:24], p.ackDelayCount)
	return append(buf, tmp[:]...)
}

// parseSynPayload decodes the 24-byte SYN parameter block from the front of
// buf. Returns an error if buf is too short.
func parseSynPayload(buf []byte) (Options, error) {
	if len(buf) < synPayloadLen {
		return Options{}, errBufferTooSmall
	}
	p := synParams{
		windowSize:      binary.BigEndian.Uint32(buf[0:4]),
		connTimeoutMs:   binary.BigEndian.Uint32(buf[4:8]),
		packetTimeoutMs: binary.BigEndian.Uint32(buf[8:12]),
		delayedAcks:     binary.BigEndian.Uint32(buf[12:16]),
		ackTimeoutMs:    binary.BigEndian.Uint32(buf[16:20]),
		ackDelayCount:   binary.BigEndian.Uint32(buf[20:24]),
	}
	return p.toOptions(), nil
}

// appendEackPayload appends one 16-bit big-endian word per entry in seqs.
func appendEackPayload(buf []byte, seqs []Value) []byte {
	var tmp [2]byte
	for _, s := range seqs {
		binary.BigEndian.PutUint16(tmp[:], uint16(s))
		buf = append(buf, tmp[:]...)
	}
	return buf
}

// parseEackPayload decodes the EACK payload preceding the header into a
// slice of sequence numbers. Per the chosen resolution of the "EACK
// arithmetic" open question, the payload is read as exactly
// (len(buf))/2 16-bit words, discarding a trailing odd byte rather than
// reading past it.
func parseEackPayload(buf []byte) []Value {
	n := len(buf) / 2
	out := make([]Value, n)
	for i := 0; i < n; i++ {
		out[i] = Value(binary.BigEndian.Uint16(buf[i*2 : i*2+2]))
	}
	return out
}
