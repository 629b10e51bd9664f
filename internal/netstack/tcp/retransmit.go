package tcp

import "time"

// Tick runs one retransmission pass over every non-Free PCB, called by
// the retransmit goroutine every 100 ms: TimeWait slots whose wait has
// elapsed are released, segments past RetransmitTimeout abandon the
// connection, and due segments are re-emitted with their original
// sequence number, flags, and data; the ACK number and window are taken
// from the PCB's current receive state. It returns the
// number of segments re-emitted and the number of connections abandoned
// during this pass.
func (t *Table) Tick(now time.Time) (resent, abandoned int) {
	var handles []int
	t.pool.Each(func(h int, p PCB) {
		if p.State != Free {
			handles = append(handles, h)
		}
	})

	for _, h := range handles {
		r, a := t.tickOne(h, now)
		resent += r
		abandoned += a
	}
	return resent, abandoned
}

func (t *Table) tickOne(handle int, now time.Time) (resent, abandoned int) {
	p, ok := t.pool.Get(handle)
	if !ok {
		return 0, 0
	}

	if p.State == TimeWait {
		if !p.WaitTime.IsZero() && !now.Before(p.WaitTime) {
			_ = t.pool.Mutate(handle, func(v PCB) PCB { wakeChan(v.Wake); return v })
			t.pool.Release(handle)
		}
		return 0, 0
	}

	var toResend []unacked
	failed := false
	err := t.pool.Mutate(handle, func(v PCB) PCB {
		for i := range v.RetransmitQueue {
			seg := &v.RetransmitQueue[i]
			if now.Sub(seg.firstSentAt) > RetransmitTimeout {
				failed = true
				continue
			}
			if !now.Before(seg.lastSentAt.Add(seg.retryInterval)) {
				seg.lastSentAt = now
				toResend = append(toResend, *seg)
			}
		}
		if failed {
			v.State = Closed
			wakeChan(v.Wake)
		}
		return v
	})
	if err != nil {
		return 0, 0
	}

	if failed {
		t.pool.Release(handle)
		t.noteTransition(p.State, Closed)
		return 0, 1
	}

	for _, seg := range toResend {
		_ = t.send(p.Local, p.Remote, rawSegment{Seq: seg.seq, Ack: p.Recv.next, Flags: seg.flags, Window: p.Recv.window, Data: seg.data, NoRetransmit: true})
	}
	return len(toResend), 0
}
