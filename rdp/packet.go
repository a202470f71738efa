package rdp

// Packet is an opaque, mutable-length buffer exchanged with the datagram
// layer below and the application above. Once framed, its last 6 bytes
// hold the RDP header; Length tracks the logical packet length, which may
// be smaller than len(Buf) (RemoveHeader shrinks Length only).
type Packet struct {
	Buf    []byte // backing storage, obtained from an Allocator
	Length int    // logical length of Buf currently in use
	DestID uint32 // destination identifier handed to Transport.SendDatagram
	ConnID uint32 // connection identifier this packet belongs to, for demux
}

// Payload returns the first Length bytes of Buf. On a framed packet that
// includes the trailing RDP header; after RemoveHeader it is the
// application data alone.
func (p *Packet) Payload() []byte { return p.Buf[:p.Length] }

// Clone copies p into a freshly allocated packet, used when a queued
// segment is handed to the datagram layer for (re)transmission while the
// original stays owned by its queue.
func (p *Packet) Clone(alloc Allocator) (*Packet, error) {
	buf := alloc.Alloc(len(p.Buf))
	if buf == nil {
		return nil, ErrAllocFail
	}
	buf = append(buf[:0], p.Buf[:p.Length]...)
	return &Packet{Buf: buf, Length: len(buf), DestID: p.DestID, ConnID: p.ConnID}, nil
}

// Transport is the datagram layer's send primitive, held abstract so the
// core state machine never depends on a concrete socket. See package
// transport/udp for a concrete implementation.
type Transport interface {
	SendDatagram(destID uint32, pkt *Packet) error
}

// Allocator is the buffer pool's primitive, held abstract for the same
// reason. See internal/bufpool for a concrete implementation.
type Allocator interface {
	Alloc(size int) []byte
	Free(buf []byte)
}

// Clock is the monotonic millisecond clock, held abstract for the same
// reason. See internal/clock for concrete (wall and virtual) implementations.
type Clock interface {
	NowMs() uint32
}
