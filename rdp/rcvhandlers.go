package rdp

// deliverApp, if set, receives every in-order application payload (header
// already stripped) as it is released by drainInOrder.
// wake, if set, is called whenever the handshake completes or a half-open
// peer is detected, to unblock a goroutine parked in ActiveOpen/Send.
// Both are wired by Conn; ControlBlock itself stays free of any channel or
// goroutine machinery so it can be tested as pure state.
type appHooks struct {
	deliverApp func(pkt *Packet)
	wake       func()
}

// OpenListen transitions a freshly allocated, CLOSED connection straight to
// LISTEN. Mirrors tcp's Listener/Conn split: a connection-table
// implementation calls OpenListen on a pooled, CLOSED *ControlBlock before
// handing it its first packet.
func (tcb *ControlBlock) OpenListen() error {
	if tcb.state != StateClosed {
		return errNotClosed
	}
	tcb.resetSnd(issPassive)
	tcb.state = StateListen
	tcb.debug("rdp:listen")
	return nil
}

// OpenActive transitions a freshly allocated, CLOSED connection to
// SYN_SENT and returns the SYN segment the caller must hand to the
// datagram layer and enqueue for retransmission.
func (tcb *ControlBlock) OpenActive() (*Packet, error) {
	if tcb.state != StateClosed {
		return nil, errNotClosed
	}
	if err := tcb.opts.validate(); err != nil {
		return nil, err
	}
	tcb.resetSnd(issActive)
	pkt, err := tcb.newPacket(synPayloadLen)
	if err != nil {
		return nil, err
	}
	pkt.Buf = appendSynPayload(pkt.Buf, tcb.opts)
	pkt.Length = len(pkt.Buf)
	h, err := AddHeader(pkt)
	if err != nil {
		return nil, err
	}
	h.SetFlags(FlagSYN)
	h.SetSeqNr(tcb.snd.iss)
	tcb.state = StateSynSent
	tcb.openTimestampMs = tcb.clock.NowMs()
	tcb.debug("rdp:syn-sent")
	return pkt, nil
}

// recv is the single entry point for inbound packets, dispatching per the
// current state. pkt is consumed: on return, either it has been freed
// (discarded / errored) or ownership has passed to deliverApp/the
// reassembly queue.
func (tcb *ControlBlock) recv(hooks appHooks, pkt *Packet, now uint32) error {
	h, err := PeekHeader(pkt)
	if err != nil {
		tcb.alloc.Free(pkt.Buf)
		return err
	}
	tcb.traceSeg("rdp:recv", h)

	switch tcb.state {
	case StateClosed:
		tcb.alloc.Free(pkt.Buf)
		return nil // no live connection to process this on.

	case StateListen:
		return tcb.recvListen(h, pkt, now)

	case StateSynSent:
		return tcb.recvSynSent(hooks, h, pkt, now)

	case StateSynRcvd, StateOpen:
		return tcb.recvOpenOrSynRcvd(hooks, h, pkt, now)

	case StateCloseWait:
		if h.Flags().HasAny(FlagRST) {
			tcb.handleRst(h, now)
		}
		tcb.alloc.Free(pkt.Buf)
		return nil

	default:
		tcb.alloc.Free(pkt.Buf)
		return nil
	}
}

func (tcb *ControlBlock) recvListen(h Header, pkt *Packet, now uint32) error {
	flags := h.Flags()
	defer tcb.alloc.Free(pkt.Buf)

	if flags.HasAny(FlagACK) && !flags.HasAny(FlagSYN) {
		tcb.sendRaw(FlagRST, 0, 0)
		tcb.closeNow()
		return nil
	}
	if !flags.HasAny(FlagSYN) {
		return nil // not a synchronizing packet, nothing to do in LISTEN.
	}

	opts, err := parseSynPayload(pkt.Payload())
	if err != nil {
		return err
	}
	if err := opts.validate(); err != nil {
		tcb.sendRaw(FlagRST, 0, 0)
		tcb.closeNow()
		return err
	}
	tcb.opts = opts
	tcb.resetRcv(h.SeqNr())
	tcb.state = StateSynRcvd
	tcb.openTimestampMs = now
	tcb.debug("rdp:syn-rcvd")
	return tcb.sendSynAck(now)
}

func (tcb *ControlBlock) recvSynSent(hooks appHooks, h Header, pkt *Packet, now uint32) error {
	flags := h.Flags()
	defer tcb.alloc.Free(pkt.Buf)

	switch {
	case flags.HasAll(FlagSYN | FlagACK):
		tcb.resetRcv(h.SeqNr())
		tcb.snd.una = Add(h.AckNr(), 1)
		tcb.state = StateOpen
		if !tcb.opts.DelayedAcks {
			tcb.sendAck()
		} else {
			tcb.rcv.lsa = tcb.rcv.cur - 1
		}
		tcb.metrics.HandshakeComplete(now - tcb.openTimestampMs)
		tcb.debug("rdp:open")
		if hooks.wake != nil {
			hooks.wake()
		}
		return nil

	case flags.HasAll(FlagACK) && !flags.HasAny(FlagSYN):
		// Peer believes this connection is already open: half-open detected.
		tcb.sendRaw(FlagRST, tcb.snd.nxt, tcb.rcv.cur)
		tcb.closeNow()
		if hooks.wake != nil {
			hooks.wake()
		}
		return errHalfOpen

	default:
		tcb.closeNow()
		return ErrInvalidFlags
	}
}

func (tcb *ControlBlock) recvOpenOrSynRcvd(hooks appHooks, h Header, pkt *Packet, now uint32) error {
	flags := h.Flags()

	if flags.HasAny(FlagRST) {
		tcb.handleRst(h, now)
		tcb.alloc.Free(pkt.Buf)
		return nil
	}

	if flags.HasAny(FlagSYN) || !flags.HasAny(FlagACK) {
		// Invalid for an established/establishing connection: treated as a reset trigger.
		tcb.sendRaw(FlagRST|FlagACK, tcb.snd.nxt, tcb.rcv.cur)
		tcb.enterCloseWait(now)
		tcb.alloc.Free(pkt.Buf)
		return ErrInvalidFlags
	}

	seq, ack := h.SeqNr(), h.AckNr()

	if !tcb.validateSeq(seq) {
		if tcb.state == StateSynRcvd {
			tcb.sendSynAck(now)
		} else {
			tcb.sendEack()
		}
		tcb.alloc.Free(pkt.Buf)
		return ErrSeqUnacceptable
	}

	if !tcb.validateAck(ack) {
		tcb.sendRaw(FlagRST|FlagACK, tcb.snd.nxt, tcb.rcv.cur)
		tcb.closeNow()
		tcb.alloc.Free(pkt.Buf)
		return ErrAckOutOfRange
	}
	tcb.snd.una = Add(ack, 1)

	if tcb.state == StateSynRcvd {
		if ack == tcb.snd.iss {
			tcb.state = StateOpen
			tcb.metrics.HandshakeComplete(now - tcb.openTimestampMs)
			tcb.debug("rdp:open")
			if hooks.wake != nil {
				hooks.wake()
			}
		} else {
			tcb.alloc.Free(pkt.Buf)
			return nil // acceptable ACK, but handshake not yet complete.
		}
	}

	isEack := flags.HasAny(FlagEAK)
	hasData := pkt.Length > HeaderLen
	if isEack {
		if hasData {
			tcb.eackFlush(parseEackPayload(pkt.Payload()[:pkt.Length-HeaderLen]), now)
		}
		tcb.alloc.Free(pkt.Buf)
		return nil
	}

	if !hasData {
		tcb.alloc.Free(pkt.Buf)
		return nil
	}

	if seq == Add(tcb.rcv.cur, 1) {
		tcb.rcv.cur = seq
		RemoveHeader(pkt)
		if hooks.deliverApp != nil {
			hooks.deliverApp(pkt)
		} else {
			tcb.alloc.Free(pkt.Buf)
		}
		tcb.drainInOrder(func(p *Packet) {
			RemoveHeader(p)
			if hooks.deliverApp != nil {
				hooks.deliverApp(p)
			} else {
				tcb.alloc.Free(p.Buf)
			}
		})
		unacked := Size(tcb.rcv.cur - tcb.rcv.lsa)
		if !tcb.opts.DelayedAcks || unacked > Size(tcb.opts.AckDelayCount) {
			tcb.sendAck()
		}
		return nil
	}

	// In-window but out of order: reassemble, then report the gap via EACK.
	if tcb.rx.insert(pkt, seq, tcb.alloc) {
		tcb.sendEack()
	}
	return nil
}

// handleRst implements RST handling for the states
// that carry live sequence context (SYN_RCVD, OPEN, CLOSE_WAIT).
func (tcb *ControlBlock) handleRst(h Header, now uint32) {
	if h.Flags().HasAny(FlagACK) {
		tcb.snd.una = Add(h.AckNr(), 1)
	}
	if tcb.state == StateCloseWait {
		tcb.closeNow()
		return
	}
	if h.SeqNr() == Add(tcb.rcv.cur, 1) {
		tcb.sendRaw(FlagRST|FlagACK, tcb.snd.nxt, tcb.rcv.cur)
		tcb.enterCloseWait(now)
		return
	}
	// Out-of-sequence RST: discard, keep connection open.
}
