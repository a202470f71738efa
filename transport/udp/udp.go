// Package udp implements rdp.Transport over a real net.UDPConn, addressing
// peers by the IP:port the rdp package's Packet.DestID encodes as an
// index into a small resolved-address table (the protocol's remote
// identifiers are plain uint32s; this package owns the mapping to and
// from net.UDPAddr).
package udp

import (
	"errors"
	"log/slog"
	"net"
	"sync"

	"github.com/soypat/rdp/rdp"
)

var errUnknownRemote = errors.New("udp: unknown remote identifier")

// Transport implements rdp.Transport by writing each packet's payload as
// one UDP datagram. It also implements an inbound pump: call Serve in a
// goroutine to read datagrams and hand them to a connmgr.Table.
type Transport struct {
	conn  *net.UDPConn
	alloc rdp.Allocator
	log   *slog.Logger

	mu     sync.Mutex
	byID   map[uint32]*net.UDPAddr
	byAddr map[string]uint32
	nextID uint32
}

// New binds a UDP socket at localAddr (":0" for an ephemeral port) and
// tunes it with the platform socket options in udp_unix.go / udp_other.go.
func New(localAddr string, alloc rdp.Allocator, log *slog.Logger) (*Transport, error) {
	addr, err := net.ResolveUDPAddr("udp", localAddr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}
	if err := tuneSocket(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return &Transport{
		conn:   conn,
		alloc:  alloc,
		log:    log,
		byID:   make(map[uint32]*net.UDPAddr),
		byAddr: make(map[string]uint32),
	}, nil
}

// LocalAddr returns the bound local address.
func (t *Transport) LocalAddr() net.Addr { return t.conn.LocalAddr() }

// Resolve returns the remote identifier for addr, assigning a fresh one
// on first use. Use the result as a connmgr.Table's remoteID / as a
// Conn.Allocate's remoteID when dialing out.
func (t *Transport) Resolve(addr string) (uint32, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return 0, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	key := udpAddr.String()
	if id, ok := t.byAddr[key]; ok {
		return id, nil
	}
	t.nextID++
	id := t.nextID
	t.byID[id] = udpAddr
	t.byAddr[key] = id
	return id, nil
}

// SendDatagram implements rdp.Transport.
func (t *Transport) SendDatagram(destID uint32, pkt *rdp.Packet) error {
	t.mu.Lock()
	addr, ok := t.byID[destID]
	t.mu.Unlock()
	if !ok {
		return errUnknownRemote
	}
	_, err := t.conn.WriteToUDP(pkt.Payload(), addr)
	t.alloc.Free(pkt.Buf)
	return err
}

// Deliver is the inbound datagram handler a caller's read loop invokes.
type Deliver func(remoteID uint32, pkt *rdp.Packet)

// Serve reads datagrams until the socket is closed or ctx-like cancellation
// happens via Close, handing each one to onPacket after resolving its
// source address to a remote identifier.
func (t *Transport) Serve(onPacket Deliver) error {
	buf := make([]byte, 2048)
	for {
		n, addr, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			return err
		}
		id, err := t.Resolve(addr.String())
		if err != nil {
			if t.log != nil {
				t.log.Error("udp: resolve failed", "err", err)
			}
			continue
		}
		raw := t.alloc.Alloc(n)
		raw = append(raw[:0], buf[:n]...)
		onPacket(id, &rdp.Packet{Buf: raw, Length: n})
	}
}

// Close closes the underlying socket, unblocking Serve.
func (t *Transport) Close() error { return t.conn.Close() }
