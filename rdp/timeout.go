package rdp

// tick drives one connection's share of the timeout engine: it closes a
// SYN_RCVD connection whose handshake has not completed within
// ConnTimeoutMs, then runs steps 2-4. Step 5 (sender wake) is in Conn.tick;
// removing closed connections from the accept queue is done by
// internal/connmgr.Table.Tick.
func (tcb *ControlBlock) tick(now uint32) error {
	switch tcb.state {
	case StateClosed, StateListen:
		return nil

	case StateCloseWait:
		if now-tcb.openTimestampMs > tcb.opts.ConnTimeoutMs {
			tcb.closeNow()
		}
		return nil

	case StateSynRcvd:
		if now-tcb.openTimestampMs > tcb.opts.ConnTimeoutMs {
			tcb.closeNow()
			return nil
		}
	}

	if err := tcb.sweepTimeouts(now); err != nil {
		return err
	}

	if tcb.opts.DelayedAcks && tcb.rcv.cur != tcb.rcv.lsa && now-tcb.ackTimestampMs > tcb.opts.AckTimeoutMs {
		tcb.sendAck()
	}
	return nil
}

// tick wraps ControlBlock.tick with the sender-wake step, which needs the
// Conn-level txWait channel the bare control block doesn't own.
func (c *Conn) tick(now uint32) error {
	if err := c.tcb.tick(now); err != nil {
		return err
	}
	queued := Size(c.tcb.tx.len())
	withinWindow := Size(c.tcb.snd.nxt-c.tcb.snd.una) < 2*c.tcb.opts.WindowSize
	if c.tcb.state == StateOpen && queued < c.tcb.opts.WindowSize-1 && withinWindow {
		select {
		case c.txWait <- struct{}{}:
		default:
		}
	}
	return nil
}
