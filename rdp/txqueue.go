package rdp

// txEntry is a retransmission-queue entry: a previously sent segment and
// the time it (or its last retransmission) was sent. Spec §3 "Retransmission
// entry".
type txEntry struct {
	timestampMs uint32
	pkt         *Packet
}

func (e *txEntry) seqNr() Value {
	h, err := PeekHeader(e.pkt)
	if err != nil {
		panic("rdp: queued packet missing header")
	}
	return h.SeqNr()
}

// txQueue is the bounded, ordered retransmission queue described in spec
// §3/§4.2. Entries are appended in send order; a scan is O(n), as specified.
type txQueue struct {
	entries []txEntry
}

func (q *txQueue) reset(alloc Allocator) {
	for i := range q.entries {
		alloc.Free(q.entries[i].pkt.Buf)
	}
	q.entries = q.entries[:0]
}

func (q *txQueue) len() int { return len(q.entries) }

// enqueue appends a new outgoing segment to the queue. Returns ErrQueueFull
// if the queue is already at MaxWindow capacity.
func (q *txQueue) enqueue(pkt *Packet, nowMs uint32) error {
	if len(q.entries) >= MaxWindow {
		return ErrQueueFull
	}
	q.entries = append(q.entries, txEntry{timestampMs: nowMs, pkt: pkt})
	return nil
}

// sweepTimeouts implements the timeout sweep : acked entries
// (seq_nr < sndUna) are freed; entries whose packetTimeout has elapsed are
// retransmitted (with a refreshed ack_nr and timestamp) via transport;
// everything else is left untouched. The queue is rebuilt in a single pass,
// preserving order.
func (tcb *ControlBlock) sweepTimeouts(now uint32) error {
	q := &tcb.tx
	kept := q.entries[:0]
	for i := range q.entries {
		e := q.entries[i]
		seq := e.seqNr()
		switch {
		case seq.LessThan(tcb.snd.una):
			tcb.alloc.Free(e.pkt.Buf)
			tcb.metrics.RetransmitAcked()
			continue // dropped, already acknowledged
		case now-e.timestampMs >= tcb.opts.PacketTimeoutMs:
			h, err := PeekHeader(e.pkt)
			if err != nil {
				return err
			}
			h.SetAckNr(tcb.rcv.cur)
			e.timestampMs = now
			clone, err := e.pkt.Clone(tcb.alloc)
			if err != nil {
				kept = append(kept, e)
				return err
			}
			tcb.metrics.RetransmitSent()
			if err := tcb.transport.SendDatagram(tcb.remoteID, clone); err != nil {
				tcb.logerr("rdp:retransmit-send-fail")
			}
			kept = append(kept, e)
		default:
			kept = append(kept, e)
		}
	}
	q.entries = kept
	return nil
}

// eackFlush implements the selective-acknowledgement flush:
// any entry whose seq_nr is named in seqs is freed; any entry whose seq_nr
// is less than some name seq_nr in seqs (i.e. a gap beyond it was reported)
// has its timestamp forced stale so the next timeout sweep retransmits it
// immediately; everything else (not yet covered by a gap report) is left
// untouched.
func (tcb *ControlBlock) eackFlush(seqs []Value, now uint32) {
	if len(seqs) == 0 {
		return
	}
	maxSeq := seqs[0]
	for _, s := range seqs[1:] {
		if maxSeq.LessThan(s) {
			maxSeq = s
		}
	}
	q := &tcb.tx
	kept := q.entries[:0]
	for i := range q.entries {
		e := q.entries[i]
		seq := e.seqNr()
		acked := false
		for _, s := range seqs {
			if s == seq {
				acked = true
				break
			}
		}
		switch {
		case acked:
			tcb.alloc.Free(e.pkt.Buf)
			tcb.metrics.RetransmitAcked()
			continue
		case seq.LessThan(maxSeq):
			e.timestampMs = now - tcb.opts.PacketTimeoutMs
			kept = append(kept, e)
		default:
			kept = append(kept, e)
		}
	}
	q.entries = kept
}
