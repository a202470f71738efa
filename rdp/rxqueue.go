package rdp

import "sort"

// rxEntry is a reassembly-queue entry: a single out-of-order segment held
// until the gap before it closes. Spec §3 "Reassembly entry".
type rxEntry struct {
	pkt *Packet
}

func (e *rxEntry) seqNr() Value {
	h, err := PeekHeader(e.pkt)
	if err != nil {
		panic("rdp: queued packet missing header")
	}
	return h.SeqNr()
}

// rxQueue is the bounded, unordered reassembly queue described in spec
// §3/§4.3. It has set semantics: no two entries may share a seq_nr.
type rxQueue struct {
	entries []rxEntry
}

func (q *rxQueue) reset(alloc Allocator) {
	for i := range q.entries {
		alloc.Free(q.entries[i].pkt.Buf)
	}
	q.entries = q.entries[:0]
}

func (q *rxQueue) len() int { return len(q.entries) }

// contains reports whether seq is already held.
func (q *rxQueue) contains(seq Value) bool {
	for i := range q.entries {
		if q.entries[i].seqNr() == seq {
			return true
		}
	}
	return false
}

// insert adds pkt (whose header carries seq) to the set, rejecting
// duplicates. ok is false (and pkt is freed) if seq is
// already present or the queue is at its 2*MaxWindow bound; this is a
// routine, silent condition, not an error, matching the "dropping
// duplicates" language.
func (q *rxQueue) insert(pkt *Packet, seq Value, alloc Allocator) (ok bool) {
	if q.contains(seq) {
		alloc.Free(pkt.Buf)
		return false
	}
	if len(q.entries) >= 2*MaxWindow {
		alloc.Free(pkt.Buf)
		return false
	}
	q.entries = append(q.entries, rxEntry{pkt: pkt})
	return true
}

// take removes and returns the entry with the given seq_nr, if any.
func (q *rxQueue) take(seq Value) (*Packet, bool) {
	for i := range q.entries {
		if q.entries[i].seqNr() == seq {
			pkt := q.entries[i].pkt
			q.entries[i] = q.entries[len(q.entries)-1]
			q.entries = q.entries[:len(q.entries)-1]
			return pkt, true
		}
	}
	return nil, false
}

// eackSeqs returns every sequence number currently held, sorted ascending,
// for rendering as the wire payload of an EACK segment.
func (q *rxQueue) eackSeqs() []Value {
	out := make([]Value, len(q.entries))
	for i := range q.entries {
		out[i] = q.entries[i].seqNr()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LessThan(out[j]) })
	return out
}

// drainInOrder repeatedly extracts the entry whose seq_nr is rcvCur+1,
// delivering its payload via deliver and advancing rcvCur, until no further
// entry closes the gap. Also known as drain_in_order.
func (tcb *ControlBlock) drainInOrder(deliver func(pkt *Packet)) {
	for {
		next := Add(tcb.rcv.cur, 1)
		pkt, ok := tcb.rx.take(next)
		if !ok {
			return
		}
		tcb.rcv.cur = next
		deliver(pkt)
	}
}
