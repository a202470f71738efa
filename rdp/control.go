package rdp

import (
	"log/slog"
)

// sendSpace holds the sender's view of the connection, sequence numbers
// corresponding to locally originated data.
type sendSpace struct {
	iss Value // initial send sequence number
	una Value // smallest seq_nr sent but not yet acknowledged
	nxt Value // next seq_nr to assign to an outgoing data segment
}

// recvSpace holds the receiver's view of the connection, sequence numbers
// corresponding to remote data.
type recvSpace struct {
	irs Value // initial receive sequence number (peer's iss)
	cur Value // highest in-order seq_nr received and delivered
	lsa Value // highest seq_nr for which an ACK has been emitted
}

// ControlBlock holds one RDP connection's protocol state: the sliding
// window accounting, the retransmission and reassembly queues, and the
// negotiated options. It has no concurrency control of its own; callers
// (see [Conn]) serialize access to it with a lock shared by every
// connection on the table.
type ControlBlock struct {
	state State
	snd   sendSpace
	rcv   recvSpace

	ackTimestampMs  uint32
	openTimestampMs uint32

	opts Options

	tx txQueue
	rx rxQueue

	remoteID uint32 // destination identifier for Transport.SendDatagram

	alloc     Allocator
	transport Transport
	clock     Clock
	metrics   MetricsSink

	logger
}

// State returns the connection's current automaton state.
func (tcb *ControlBlock) State() State { return tcb.state }

// RecvCur returns the highest in-order sequence number received so far.
func (tcb *ControlBlock) RecvCur() Value { return tcb.rcv.cur }

// SndNxt returns the next sequence number that will be assigned to an
// outgoing data segment.
func (tcb *ControlBlock) SndNxt() Value { return tcb.snd.nxt }

// SndUna returns the smallest sequence number sent but not yet acknowledged.
func (tcb *ControlBlock) SndUna() Value { return tcb.snd.una }

// resetSnd reinitializes the send sequence space for a fresh handshake.
func (tcb *ControlBlock) resetSnd(iss Value) {
	tcb.snd = sendSpace{iss: iss, una: iss, nxt: Add(iss, 1)}
}

// resetRcv reinitializes the receive sequence space for a fresh handshake.
func (tcb *ControlBlock) resetRcv(irs Value) {
	tcb.rcv = recvSpace{irs: irs, cur: irs, lsa: irs}
}

// allocate wires in the external collaborators and resets all queues and
// sequence state to CLOSED.
func (tcb *ControlBlock) allocate(alloc Allocator, transport Transport, clock Clock, remoteID uint32, opts Options, log *slog.Logger) {
	tcb.flushAll()
	*tcb = ControlBlock{
		state:     StateClosed,
		alloc:     alloc,
		transport: transport,
		clock:     clock,
		remoteID:  remoteID,
		opts:      opts,
		logger:    logger{log: log},
	}
}

// flushAll frees and empties both queues.
func (tcb *ControlBlock) flushAll() {
	if tcb.alloc == nil {
		return
	}
	tcb.tx.reset(tcb.alloc)
	tcb.rx.reset(tcb.alloc)
}

// newPacket allocates a packet of the given application-payload capacity
// plus room for the trailing header.
func (tcb *ControlBlock) newPacket(payloadLen int) (*Packet, error) {
	buf := tcb.alloc.Alloc(payloadLen + HeaderLen)
	if buf == nil {
		return nil, ErrAllocFail
	}
	return &Packet{Buf: buf[:0], DestID: tcb.remoteID}, nil
}

// validateSeq implements the sequence-number acceptance window:
// accept iff rcvCur < seq_nr <= rcvCur + 2*windowSize.
func (tcb *ControlBlock) validateSeq(seq Value) bool {
	return seq.InWindow(tcb.rcv.cur, 2*tcb.opts.WindowSize)
}

// validateAck implements the ack-number acceptance window:
// accept iff sndUna - 1 - 2*windowSize <= ack_nr < sndNxt.
func (tcb *ControlBlock) validateAck(ack Value) bool {
	lo := tcb.snd.una - 1 - Value(2*tcb.opts.WindowSize)
	return ack.InRange(lo, tcb.snd.nxt)
}

// sendRaw builds a bare control segment (no application data) with the
// given flags/seq/ack and hands it to the transport. Used for SYN, SYN|ACK,
// ACK, RST|ACK and RST segments.
func (tcb *ControlBlock) sendRaw(flags Flags, seq, ack Value) error {
	pkt, err := tcb.newPacket(0)
	if err != nil {
		return err
	}
	h, err := AddHeader(pkt)
	if err != nil {
		return err
	}
	h.SetFlags(flags)
	h.SetSeqNr(seq)
	h.SetAckNr(ack)
	return tcb.transport.SendDatagram(tcb.remoteID, pkt)
}

// sendAck emits a bare ACK acknowledging rcv.cur and records the ack
// bookkeeping used by the delayed-ACK policy.
func (tcb *ControlBlock) sendAck() error {
	tcb.rcv.lsa = tcb.rcv.cur
	tcb.ackTimestampMs = tcb.clock.NowMs()
	return tcb.sendRaw(FlagACK, tcb.snd.nxt, tcb.rcv.cur)
}

// sendEack emits an EACK segment listing every sequence number currently
// held in the reassembly queue.
func (tcb *ControlBlock) sendEack() error {
	seqs := tcb.rx.eackSeqs()
	pkt, err := tcb.newPacket(len(seqs) * 2)
	if err != nil {
		return err
	}
	pkt.Buf = appendEackPayload(pkt.Buf, seqs)
	pkt.Length = len(pkt.Buf)
	h, err := AddHeader(pkt)
	if err != nil {
		return err
	}
	h.SetFlags(FlagACK | FlagEAK)
	h.SetSeqNr(tcb.snd.nxt)
	h.SetAckNr(tcb.rcv.cur)
	tcb.metrics.EackSent()
	return tcb.transport.SendDatagram(tcb.remoteID, pkt)
}

// sendSynAck (re)transmits the passive side's SYN|ACK, enqueuing a copy on
// the retransmission queue so the timeout sweep keeps retrying it until
// acknowledged.
func (tcb *ControlBlock) sendSynAck(now uint32) error {
	pkt, err := tcb.newPacket(synPayloadLen)
	if err != nil {
		return err
	}
	pkt.Buf = appendSynPayload(pkt.Buf, tcb.opts)
	pkt.Length = len(pkt.Buf)
	h, err := AddHeader(pkt)
	if err != nil {
		return err
	}
	h.SetFlags(FlagSYN | FlagACK)
	h.SetSeqNr(tcb.snd.iss)
	h.SetAckNr(tcb.rcv.irs)
	clone, err := pkt.Clone(tcb.alloc)
	if err != nil {
		tcb.alloc.Free(pkt.Buf)
		return err
	}
	if err := tcb.tx.enqueue(pkt, now); err != nil {
		tcb.alloc.Free(pkt.Buf)
		tcb.alloc.Free(clone.Buf)
		return err
	}
	return tcb.transport.SendDatagram(tcb.remoteID, clone)
}

// closeNow forces the connection to CLOSED, freeing all queued state.
// Spec §4.4 RST handling / CLOSE-WAIT timeout.
func (tcb *ControlBlock) closeNow() {
	tcb.flushAll()
	tcb.state = StateClosed
	tcb.debug("rdp:closed")
}

// enterCloseWait moves the connection into CLOSE-WAIT and (re)starts its
// idle timer, used both by user-initiated close and in-sequence RST
// handling.
func (tcb *ControlBlock) enterCloseWait(now uint32) {
	tcb.state = StateCloseWait
	tcb.openTimestampMs = now
}
