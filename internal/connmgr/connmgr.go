// Package connmgr implements the connection table and accept queue that
// sit above the rdp package: demultiplexing inbound datagrams by remote
// identifier to the right *rdp.Conn (allocating and promoting a pooled one
// to LISTEN on first contact), and holding the first-arrival hand-off
// queue an application drains with TryAccept. Grounded directly on
// tcp.Listener (incoming/accepted slices, mu-protected bookkeeping,
// maintainConns sweeping dead connections back to the pool) generalized
// from TCP's per-port listeners to RDP's per-remote-identifier demux.
package connmgr

import (
	"context"
	"log/slog"
	"sync"

	"github.com/soypat/rdp/internal"
	"github.com/soypat/rdp/internal/rdplock"
	"github.com/soypat/rdp/rdp"
)

// Table owns every *rdp.Conn for one local endpoint: established
// connections keyed by remote identifier, a pool of retired Conns ready
// for reuse, and the accept queue for passively opened connections.
type Table struct {
	lock *rdplock.Lock

	alloc     rdp.Allocator
	transport rdp.Transport
	clock     rdp.Clock
	metrics   rdp.MetricsSink
	opts      rdp.Options
	log       *slog.Logger

	mu       sync.Mutex
	byRemote map[uint32]*rdp.Conn
	free     []*rdp.Conn
	incoming []*rdp.Conn
	accepted []*rdp.Conn
}

// NewTable constructs a Table. Every Conn it hands out shares the same
// lock.
func NewTable(alloc rdp.Allocator, transport rdp.Transport, clock rdp.Clock, metrics rdp.MetricsSink, opts rdp.Options, log *slog.Logger) *Table {
	return &Table{
		lock:      rdplock.New(),
		alloc:     alloc,
		transport: transport,
		clock:     clock,
		metrics:   metrics,
		opts:      opts,
		log:       log,
		byRemote:  make(map[uint32]*rdp.Conn),
	}
}

func (t *Table) getPooled() *rdp.Conn {
	if n := len(t.free); n > 0 {
		conn := t.free[n-1]
		t.free = t.free[:n-1]
		return conn
	}
	return rdp.NewConn(t.lock)
}

// Dial actively opens a connection to remoteID and blocks until it is
// OPEN, half-open is detected, or ctx is done.
func (t *Table) Dial(ctx context.Context, remoteID uint32) (*rdp.Conn, error) {
	t.mu.Lock()
	conn := t.getPooled()
	t.mu.Unlock()

	if err := conn.Allocate(ctx, t.alloc, t.transport, t.clock, t.metrics, remoteID, t.opts, t.log); err != nil {
		return nil, err
	}
	if err := conn.ActiveOpen(ctx); err != nil {
		t.mu.Lock()
		t.free = append(t.free, conn)
		t.mu.Unlock()
		return nil, err
	}

	t.mu.Lock()
	t.byRemote[remoteID] = conn
	t.mu.Unlock()
	return conn, nil
}

// Deliver routes an inbound datagram to its connection, allocating and
// promoting a fresh pooled Conn to LISTEN on first contact from remoteID.
func (t *Table) Deliver(ctx context.Context, remoteID uint32, pkt *rdp.Packet) error {
	t.mu.Lock()
	conn, ok := t.byRemote[remoteID]
	if !ok {
		conn = t.getPooled()
		if err := conn.Allocate(ctx, t.alloc, t.transport, t.clock, t.metrics, remoteID, t.opts, t.log); err != nil {
			t.mu.Unlock()
			return err
		}
		if err := conn.Listen(ctx); err != nil {
			t.free = append(t.free, conn)
			t.mu.Unlock()
			return err
		}
		t.byRemote[remoteID] = conn
		t.incoming = append(t.incoming, conn)
	}
	t.mu.Unlock()
	return conn.Deliver(ctx, pkt)
}

// TryAccept returns the next connection that completed a passive
// handshake, if any, moving it from the incoming queue to accepted.
func (t *Table) TryAccept() (*rdp.Conn, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, conn := range t.incoming {
		if conn == nil {
			continue
		}
		if conn.State() == rdp.StateOpen {
			t.accepted = append(t.accepted, conn)
			t.incoming[i] = nil
			t.incoming = internal.DeleteZeroed(t.incoming)
			return conn, true
		}
	}
	return nil, false
}

// Tick advances the timeout engine for every live connection and sweeps
// CLOSED connections back into the free pool, also dropping them from the
// accept queue: an accept-queue entry stuck in SYN_RCVD past its
// connection timeout is closed by its own Conn.Tick and removed from
// incoming here rather than lingering there forever. A connection that
// reached OPEN but was never taken by TryAccept is not timed out.
func (t *Table) Tick(ctx context.Context, now uint32) {
	t.mu.Lock()
	remotes := make([]uint32, 0, len(t.byRemote))
	conns := make([]*rdp.Conn, 0, len(t.byRemote))
	for remote, conn := range t.byRemote {
		remotes = append(remotes, remote)
		conns = append(conns, conn)
	}
	t.mu.Unlock()

	for i, conn := range conns {
		conn.Tick(ctx, now)
		if conn.State() == rdp.StateClosed {
			t.mu.Lock()
			delete(t.byRemote, remotes[i])
			for j := range t.incoming {
				if t.incoming[j] == conn {
					t.incoming[j] = nil
				}
			}
			t.free = append(t.free, conn)
			t.mu.Unlock()
		}
	}

	t.mu.Lock()
	t.incoming = internal.DeleteZeroed(t.incoming)
	t.accepted = internal.DeleteZeroed(t.accepted)
	t.mu.Unlock()
}
