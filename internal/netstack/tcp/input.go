package tcp

import (
	"time"

	"github.com/quietmachine/tapstack/internal/netstack/ipv4"
	"github.com/quietmachine/tapstack/internal/wire"
)

// shouldRetransmit reports whether seg occupies sequence space and so
// belongs on the retransmit queue: only segments bearing SYN, FIN, or
// payload do.
func shouldRetransmit(seg rawSegment) bool {
	return !seg.NoRetransmit && (seg.Flags.Has(FlagSYN) || seg.Flags.Has(FlagFIN) || len(seg.Data) > 0)
}

func newUnacked(seg rawSegment, now time.Time) unacked {
	return unacked{firstSentAt: now, lastSentAt: now, retryInterval: DefaultRetryInterval, seq: seg.Seq, flags: seg.Flags, data: seg.Data}
}

// Input decodes seg as a TCP segment received from srcIP to dstIP and
// dispatches it against the matching PCB. ifaceBroadcast is the
// receiving interface's broadcast address, used for the unicast-only
// policy drop.
func (t *Table) Input(seg []byte, srcIP, dstIP, ifaceBroadcast wire.IPv4, now time.Time) error {
	h, payload, err := Decode(seg, srcIP, dstIP)
	if err != nil {
		return err
	}
	if srcIP.IsAny() || dstIP.IsAny() || srcIP == ifaceBroadcast || dstIP == ifaceBroadcast {
		return nil
	}

	local := Endpoint{Addr: dstIP, Port: h.DstPort}
	remote := Endpoint{Addr: srcIP, Port: h.SrcPort}
	info := deriveSegmentInfo(h, payload)

	handle, found := t.findConnection(local, remote)
	if !found {
		handle, found = t.findListener(local)
	}
	if !found {
		return t.handleNoPCB(info, local, remote)
	}

	cur, ok := t.pool.Get(handle)
	if !ok {
		return ErrInvalidPCB
	}

	out := process(cur, info, local, remote, now)

	target := &out.PCB
	if out.Child != nil {
		target = out.Child
	}
	for _, seg := range out.Emit {
		if shouldRetransmit(seg) {
			target.RetransmitQueue = append(target.RetransmitQueue, newUnacked(seg, now))
		}
	}

	switch {
	case out.Release:
		_ = t.pool.Mutate(handle, func(p PCB) PCB {
			wakeChan(p.Wake)
			return p
		})
		t.pool.Release(handle)
		t.noteTransition(cur.State, Closed)
		for _, seg := range out.Emit {
			_ = t.send(local, remote, seg)
		}
		return nil

	case out.Child != nil:
		out.Child.ParentID = handle
		childHandle, aerr := t.pool.Alloc(*out.Child)
		if aerr != nil {
			// Pool exhausted: drop the SYN; the peer's own
			// retransmission will retry.
			return nil
		}
		t.noteTransition(Closed, out.Child.State)
		for _, seg := range out.Emit {
			_ = t.send(out.Child.Local, remote, seg)
		}
		_ = childHandle
		return nil

	default:
		if merr := t.pool.Mutate(handle, func(PCB) PCB { return out.PCB }); merr != nil {
			return merr
		}
		t.noteTransition(cur.State, out.PCB.State)
		if out.WakeSelf {
			_ = t.pool.Mutate(handle, func(p PCB) PCB {
				wakeChan(p.Wake)
				return p
			})
		}
		if out.HasParentWake {
			_ = t.pool.Mutate(out.ParentToWake, func(p PCB) PCB {
				p.Backlog = append(p.Backlog, handle)
				wakeChan(p.Wake)
				return p
			})
		}
		for _, seg := range out.Emit {
			_ = t.send(local, remote, seg)
		}
		return nil
	}
}

// handleNoPCB answers a segment that matched no PCB, per RFC 793's
// CLOSED-state rules: RSTs are dropped, anything else is reset.
func (t *Table) handleNoPCB(info segmentInfo, local, remote Endpoint) error {
	if info.Flags.Has(FlagRST) {
		return nil
	}
	if info.Flags.Has(FlagACK) {
		return t.send(local, remote, rawSegment{Seq: info.Ack, Flags: FlagRST, NoRetransmit: true})
	}
	return t.send(local, remote, rawSegment{
		Seq:          0,
		Ack:          info.Seq + uint32(info.Len),
		Flags:        FlagRST | FlagACK,
		NoRetransmit: true,
	})
}

// send encodes and transmits seg from local to remote via the IPv4
// output path.
func (t *Table) send(local, remote Endpoint, seg rawSegment) error {
	raw := Encode(local.Addr, remote.Addr, local.Port, remote.Port, seg.Seq, seg.Ack, seg.Flags, seg.Window, seg.Data)
	return t.out.Output(ipv4.ProtoTCP, raw, local.Addr, remote.Addr)
}
