// Package memnet implements rdp.Transport as an in-memory datagram fabric,
// generalizing tcp/*_test.go's pattern of handing a sent packet's raw
// bytes directly from client to server (client.Send(buf) / server.Recv(buf))
// into a small asynchronous router so rdp's own tests don't need a real
// socket. Delivery happens on a per-endpoint goroutine rather than inline
// in SendDatagram, matching how a real transport's read loop (see
// transport/udp.Serve) runs independently of whatever goroutine is
// sending. That avoids a same-goroutine re-acquire of a peer's lock when
// two endpoints are driven in the same test process.
package memnet

import (
	"sync"

	"github.com/soypat/rdp/rdp"
)

// Fabric routes packets between endpoints registered under a remote
// identifier.
type Fabric struct {
	mu   sync.Mutex
	eps  map[uint32]*Endpoint
	drop map[[2]uint32]bool // (from, to) pairs to silently drop, for tests simulating loss
}

// NewFabric returns an empty Fabric.
func NewFabric() *Fabric {
	return &Fabric{eps: make(map[uint32]*Endpoint), drop: make(map[[2]uint32]bool)}
}

type inboundPkt struct {
	from uint32
	pkt  *rdp.Packet
}

// Endpoint is one side of the fabric: it implements rdp.Transport and
// delivers inbound packets, in order, to whatever handler the owner
// installs via OnRecv.
type Endpoint struct {
	fabric *Fabric
	id     uint32
	alloc  rdp.Allocator
	onRecv func(fromID uint32, pkt *rdp.Packet)

	inbox chan inboundPkt
	stop  chan struct{}
}

// NewEndpoint registers a new endpoint under id and starts its delivery
// goroutine. alloc is used to copy outgoing payloads so sender and
// receiver never share a backing array. Call Close when done with it.
func (f *Fabric) NewEndpoint(id uint32, alloc rdp.Allocator) *Endpoint {
	ep := &Endpoint{
		fabric: f,
		id:     id,
		alloc:  alloc,
		inbox:  make(chan inboundPkt, 256),
		stop:   make(chan struct{}),
	}
	f.mu.Lock()
	f.eps[id] = ep
	f.mu.Unlock()
	go ep.pump()
	return ep
}

func (ep *Endpoint) pump() {
	for {
		select {
		case in := <-ep.inbox:
			if ep.onRecv != nil {
				ep.onRecv(in.from, in.pkt)
			} else {
				ep.alloc.Free(in.pkt.Buf)
			}
		case <-ep.stop:
			return
		}
	}
}

// OnRecv installs the handler invoked for every packet addressed to ep.
// Must be called before any datagram can be routed to it.
func (ep *Endpoint) OnRecv(handler func(fromID uint32, pkt *rdp.Packet)) {
	ep.onRecv = handler
}

// Close stops ep's delivery goroutine.
func (ep *Endpoint) Close() { close(ep.stop) }

// DropBetween makes the fabric silently discard every datagram from -> to,
// for tests exercising the retransmission/timeout paths.
func (f *Fabric) DropBetween(from, to uint32, drop bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drop[[2]uint32{from, to}] = drop
}

// SendDatagram implements rdp.Transport.
func (ep *Endpoint) SendDatagram(destID uint32, pkt *rdp.Packet) error {
	ep.fabric.mu.Lock()
	dropped := ep.fabric.drop[[2]uint32{ep.id, destID}]
	dst := ep.fabric.eps[destID]
	ep.fabric.mu.Unlock()

	defer ep.alloc.Free(pkt.Buf)
	if dropped || dst == nil {
		return nil
	}
	cp, err := pkt.Clone(dst.alloc)
	if err != nil {
		return err
	}
	select {
	case dst.inbox <- inboundPkt{from: ep.id, pkt: cp}:
	default:
		dst.alloc.Free(cp.Buf) // peer's inbox is backed up, simulate drop.
	}
	return nil
}
