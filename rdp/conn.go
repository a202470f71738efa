package rdp

import (
	"context"
	"log/slog"
	"time"

	"github.com/rs/xid"

	"github.com/soypat/rdp/internal/rdplock"
)

// Conn is the public handle applications hold for one RDP connection. It
// wraps a [ControlBlock] with the concurrency machinery the core state
// machine stays free of: a lock shared by every connection on the table,
// a buffered wake-up signal for goroutines blocked on a full send window
// or an in-flight handshake, and the application-facing receive queue
// in-order payloads are drained into. Mirrors how tcp.Conn keeps ring
// buffers and a logger around a bare control block.
type Conn struct {
	tcb  ControlBlock
	lock *rdplock.Lock

	// txWait is signalled whenever a condition a blocked Send/ActiveOpen
	// goroutine is waiting on might have changed: window space freed by an
	// ack, the handshake completing, or a half-open peer detected.
	txWait chan struct{}
	appRx  chan *Packet

	connTimeout time.Duration
}

// NewConn returns an unallocated Conn (state CLOSED) sharing lock with
// every other Conn in the same connection table; see internal/connmgr.
func NewConn(lock *rdplock.Lock) *Conn {
	return &Conn{
		lock:   lock,
		txWait: make(chan struct{}, 1),
		appRx:  make(chan *Packet, 2*MaxWindow),
	}
}

// Allocate wires in the connection's external collaborators and resets it
// to CLOSED. metrics may be nil, in which case observability
// events are simply dropped.
func (c *Conn) Allocate(ctx context.Context, alloc Allocator, transport Transport, clock Clock, metrics MetricsSink, remoteID uint32, opts Options, log *slog.Logger) error {
	if err := c.lock.Acquire(ctx); err != nil {
		return err
	}
	defer c.lock.Release()
	c.tcb.allocate(alloc, transport, clock, remoteID, opts, log)
	if metrics == nil {
		metrics = noopMetrics{}
	}
	c.tcb.metrics = metrics
	c.tcb.logger.id = xid.New().String()
	c.connTimeout = time.Duration(opts.ConnTimeoutMs) * time.Millisecond
	return nil
}

// State reports the connection's current automaton state. It falls back
// to CLOSED if the global lock cannot be acquired within its budget.
func (c *Conn) State() State {
	if err := c.lock.Acquire(context.Background()); err != nil {
		return StateClosed
	}
	defer c.lock.Release()
	return c.tcb.state
}

// ID returns the short correlation id this connection logs under.
func (c *Conn) ID() string { return c.tcb.logger.id }

// Listen transitions a CLOSED connection straight to LISTEN, for use by a
// connection table handing out a fresh pooled Conn to a passive listener.
func (c *Conn) Listen(ctx context.Context) error {
	if err := c.lock.Acquire(ctx); err != nil {
		return err
	}
	defer c.lock.Release()
	return c.tcb.OpenListen()
}

// ActiveOpen drives the CLOSED -> SYN_SENT -> OPEN handshake,
// blocking until the connection opens, the peer reports it half-open, or
// ctx / the connection's configured timeout expires.
func (c *Conn) ActiveOpen(ctx context.Context) error {
	cctx, cancel := context.WithTimeout(ctx, c.connTimeout)
	defer cancel()

	if err := c.lock.Acquire(cctx); err != nil {
		return err
	}
	pkt, err := c.tcb.OpenActive()
	if err != nil {
		c.lock.Release()
		return err
	}
	clone, err := pkt.Clone(c.tcb.alloc)
	if err != nil {
		c.tcb.alloc.Free(pkt.Buf)
		c.lock.Release()
		return err
	}
	now := c.tcb.clock.NowMs()
	if err := c.tcb.tx.enqueue(pkt, now); err != nil {
		c.tcb.alloc.Free(pkt.Buf)
		c.tcb.alloc.Free(clone.Buf)
		c.lock.Release()
		return err
	}
	sendErr := c.tcb.transport.SendDatagram(c.tcb.remoteID, clone)
	c.lock.Release()
	if sendErr != nil {
		return sendErr
	}

	for {
		select {
		case <-c.txWait:
		case <-cctx.Done():
			c.lock.Acquire(context.Background())
			c.tcb.enterCloseWait(c.tcb.clock.NowMs())
			c.lock.Release()
			return cctx.Err()
		}
		if err := c.lock.Acquire(cctx); err != nil {
			return err
		}
		state := c.tcb.state
		c.lock.Release()
		switch state {
		case StateOpen:
			return nil
		case StateClosed:
			return errHalfOpen
		}
		// Spurious wake (shouldn't happen while still SYN_SENT); keep waiting.
	}
}

// Send queues payload as one data segment and hands it to the transport,
// blocking while the sliding window is full.
func (c *Conn) Send(ctx context.Context, payload []byte) error {
	for {
		if err := c.lock.Acquire(ctx); err != nil {
			return err
		}
		if c.tcb.state != StateOpen {
			c.lock.Release()
			return ErrStateViolation
		}
		outstanding := Size(c.tcb.snd.nxt - c.tcb.snd.una)
		if outstanding+1 >= c.tcb.opts.WindowSize {
			c.tcb.metrics.WindowBlocked()
			c.lock.Release()
			select {
			case <-c.txWait:
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		pkt, err := c.tcb.newPacket(len(payload))
		if err != nil {
			c.lock.Release()
			return err
		}
		pkt.Buf = append(pkt.Buf, payload...)
		pkt.Length = len(pkt.Buf)
		h, err := AddHeader(pkt)
		if err != nil {
			c.tcb.alloc.Free(pkt.Buf)
			c.lock.Release()
			return err
		}
		h.SetFlags(FlagACK)
		h.SetSeqNr(c.tcb.snd.nxt)
		h.SetAckNr(c.tcb.rcv.cur)
		c.tcb.rcv.lsa = c.tcb.rcv.cur

		clone, err := pkt.Clone(c.tcb.alloc)
		if err != nil {
			c.tcb.alloc.Free(pkt.Buf)
			c.lock.Release()
			return err
		}
		now := c.tcb.clock.NowMs()
		if err := c.tcb.tx.enqueue(pkt, now); err != nil {
			c.tcb.alloc.Free(pkt.Buf)
			c.tcb.alloc.Free(clone.Buf)
			c.lock.Release()
			return err
		}
		c.tcb.snd.nxt = Add(c.tcb.snd.nxt, 1)
		sendErr := c.tcb.transport.SendDatagram(c.tcb.remoteID, clone)
		c.lock.Release()
		return sendErr
	}
}

// Deliver hands an inbound datagram to the state machine,
// waking any Send/ActiveOpen/Recv callers the resulting state change
// unblocks.
func (c *Conn) Deliver(ctx context.Context, pkt *Packet) error {
	if err := c.lock.Acquire(ctx); err != nil {
		return err
	}
	defer c.lock.Release()
	hooks := appHooks{
		deliverApp: func(p *Packet) {
			select {
			case c.appRx <- p:
			default:
				tcb := &c.tcb
				tcb.logerr("rdp:app-queue-full")
				tcb.alloc.Free(p.Buf)
			}
		},
		wake: func() {
			select {
			case c.txWait <- struct{}{}:
			default:
			}
		},
	}
	now := c.tcb.clock.NowMs()
	err := c.tcb.recv(hooks, pkt, now)
	if err == ErrSeqUnacceptable || err == ErrAckOutOfRange {
		return nil // already answered with EACK, SYN|ACK or reset.
	}
	return err
}

// Recv blocks until the next in-order application payload is available or
// ctx is done. The returned packet's Length already excludes the header.
func (c *Conn) Recv(ctx context.Context) (*Packet, error) {
	select {
	case pkt := <-c.appRx:
		return pkt, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close initiates a user-driven shutdown: from any state other than CLOSED
// or CLOSE-WAIT it sends RST|ACK and enters CLOSE-WAIT; a connection
// already in CLOSE-WAIT moves straight to CLOSED.
func (c *Conn) Close(ctx context.Context) error {
	if err := c.lock.Acquire(ctx); err != nil {
		return err
	}
	defer c.lock.Release()
	switch c.tcb.state {
	case StateClosed:
		return nil
	case StateCloseWait:
		c.tcb.closeNow()
		return nil
	default:
		now := c.tcb.clock.NowMs()
		c.tcb.sendRaw(FlagRST|FlagACK, c.tcb.snd.nxt, c.tcb.rcv.cur)
		c.tcb.enterCloseWait(now)
		return nil
	}
}

// Tick drives the timeout engine for this connection; see
// timeout.go.
func (c *Conn) Tick(ctx context.Context, now uint32) error {
	if err := c.lock.Acquire(ctx); err != nil {
		return err
	}
	defer c.lock.Release()
	return c.tick(now)
}
