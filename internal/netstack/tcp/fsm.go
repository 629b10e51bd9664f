package tcp

import "time"

// segmentInfo is the (seq, ack, seg-len, window, urg) tuple RFC 793
// Section 3.9 calls SEG, derived once per received segment.
type segmentInfo struct {
	Seq    uint32
	Ack    uint32
	Flags  Flags
	Window uint16
	Urg    bool
	Len    int
	Data   []byte
}

func deriveSegmentInfo(h Header, payload []byte) segmentInfo {
	return segmentInfo{
		Seq:    h.Seq,
		Ack:    h.Ack,
		Flags:  h.Flags,
		Window: h.Window,
		Urg:    h.Flags.Has(FlagURG),
		Len:    segLenOf(h.Flags, len(payload)),
		Data:   payload,
	}
}

// rawSegment is one segment this stack decides to transmit in response
// to processing an inbound segment.
type rawSegment struct {
	Seq          uint32
	Ack          uint32
	Flags        Flags
	Window       uint16
	Data         []byte
	NoRetransmit bool // true for RST/ACK-only control segments that do not occupy sequence space
}

// outcome is the result of processing one inbound segment against one
// PCB: the caller applies PCB (or Child, for a Listen-mode spawn) to the
// pool, then performs Emit/Wake/Release outside the pcbs-region lock.
type outcome struct {
	PCB     PCB
	Emit    []rawSegment
	Release bool

	WakeSelf bool

	// Child is set only when a Listen PCB in Socket mode accepts a new
	// connection: the caller allocates a fresh pool slot for it instead
	// of overwriting the listener.
	Child *PCB

	// ParentToWake is the parent PCB's handle to wake after this PCB
	// reaches Established with HasParent set: the child enqueues itself
	// into the parent's backlog and a blocked Accept wakes.
	ParentToWake  int
	HasParentWake bool
}

// process dispatches an inbound segment against cur per the RFC 793
// Section 3.9 state table. local and remote are the endpoints derived
// from the IPv4 source/destination and TCP ports of the received
// segment.
func process(cur PCB, info segmentInfo, local, remote Endpoint, now time.Time) outcome {
	switch cur.State {
	case Listen:
		return processListen(cur, info, local, remote)
	case SynSent:
		return processSynSent(cur, info)
	default:
		return processSynchronized(cur, info, now)
	}
}

func processListen(cur PCB, info segmentInfo, local, remote Endpoint) outcome {
	if info.Flags.Has(FlagRST) {
		return outcome{PCB: cur}
	}
	if info.Flags.Has(FlagACK) {
		return outcome{PCB: cur, Emit: []rawSegment{{Seq: info.Ack, Flags: FlagRST, NoRetransmit: true}}}
	}
	if !info.Flags.Has(FlagSYN) {
		return outcome{PCB: cur}
	}

	iss := newISS()
	child := cur
	child.Local = local
	child.Remote = remote
	child.State = SynReceived
	child.Recv = recvContext{next: info.Seq + 1, window: RecvBufferCap, irs: info.Seq}
	child.Send = sendContext{next: iss + 1, una: iss, window: info.Window, iss: iss, wl1: info.Seq, wl2: info.Ack}
	if child.MTU == 0 {
		child.MTU = DefaultMTU
	}
	child.MSS = mss(child.MTU)
	child.RecvBuffer = nil
	child.RetransmitQueue = nil
	child.HasParent = cur.Mode == ModeSocket
	child.ParentID = 0 // filled in by Table.Input once the listener's own handle is known
	child.Backlog = nil

	emit := []rawSegment{{Seq: iss, Ack: child.Recv.next, Flags: FlagSYN | FlagACK, Window: child.Recv.window}}

	if cur.Mode == ModeSocket {
		return outcome{PCB: cur, Emit: emit, Child: &child}
	}
	// Rfc793 passive mode has no socket multiplexing: the listening PCB
	// itself becomes the one connection.
	return outcome{PCB: child, Emit: emit}
}

func processSynSent(cur PCB, info segmentInfo) outcome {
	ackPresent := info.Flags.Has(FlagACK)
	ackValid := ackPresent && seqLess(cur.Send.iss, info.Ack) && seqLessEq(info.Ack, cur.Send.next)

	if ackPresent && !ackValid {
		if info.Flags.Has(FlagRST) {
			return outcome{PCB: cur}
		}
		return outcome{PCB: cur, Emit: []rawSegment{{Seq: info.Ack, Flags: FlagRST, NoRetransmit: true}}}
	}

	if info.Flags.Has(FlagRST) {
		if ackValid {
			return outcome{PCB: cur, Release: true, WakeSelf: true}
		}
		return outcome{PCB: cur}
	}

	if !info.Flags.Has(FlagSYN) {
		return outcome{PCB: cur}
	}

	next := cur
	next.Recv.next = info.Seq + 1
	next.Recv.irs = info.Seq
	next.RetransmitQueue = nil

	if ackValid {
		next.Send.una = info.Ack
	}

	if seqLess(cur.Send.iss, next.Send.una) {
		next.State = Established
		next.Send.window = info.Window
		next.Send.wl1 = info.Seq
		next.Send.wl2 = info.Ack
		emit := []rawSegment{{Seq: next.Send.next, Ack: next.Recv.next, Flags: FlagACK, Window: next.Recv.window, NoRetransmit: true}}
		return outcome{PCB: next, Emit: emit, WakeSelf: true}
	}

	next.State = SynReceived
	emit := []rawSegment{{Seq: next.Send.iss, Ack: next.Recv.next, Flags: FlagSYN | FlagACK, Window: next.Recv.window}}
	return outcome{PCB: next, Emit: emit}
}

// processSynchronized implements the common RFC 793 Section 3.9 path
// shared by SynReceived, Established, FinWait1, FinWait2, Closing,
// TimeWait, CloseWait, and LastAck.
func processSynchronized(cur PCB, info segmentInfo, now time.Time) outcome {
	if !acceptable(info.Seq, info.Len, cur.Recv.next, cur.Recv.window) {
		if info.Flags.Has(FlagRST) {
			return outcome{PCB: cur}
		}
		emit := []rawSegment{{Seq: cur.Send.next, Ack: cur.Recv.next, Flags: FlagACK, Window: cur.Recv.window, NoRetransmit: true}}
		return outcome{PCB: cur, Emit: emit}
	}

	if info.Flags.Has(FlagRST) {
		return outcome{PCB: cur, Release: true, WakeSelf: true}
	}
	if info.Flags.Has(FlagSYN) {
		return outcome{PCB: cur, Release: true, WakeSelf: true}
	}
	if !info.Flags.Has(FlagACK) {
		return outcome{PCB: cur}
	}

	next := cur
	var out outcome

	if cur.State == SynReceived {
		if seqLessEq(cur.Send.una, info.Ack) && seqLessEq(info.Ack, cur.Send.next) {
			next.State = Established
			next.Send.una = info.Ack
			out.WakeSelf = true
			if next.HasParent {
				out.HasParentWake = true
				out.ParentToWake = next.ParentID
			}
		} else {
			return outcome{PCB: cur, Emit: []rawSegment{{Seq: info.Ack, Flags: FlagRST, NoRetransmit: true}}}
		}
	} else {
		if seqLess(cur.Send.una, info.Ack) && seqLessEq(info.Ack, cur.Send.next) {
			next.Send.una = info.Ack
			next.RetransmitQueue = pruneAcked(next.RetransmitQueue, next.Send.una)
		}
		if seqLess(cur.Send.wl1, info.Seq) || (cur.Send.wl1 == info.Seq && seqLessEq(cur.Send.wl2, info.Ack)) {
			next.Send.window = info.Window
			next.Send.wl1 = info.Seq
			next.Send.wl2 = info.Ack
		}
		switch cur.State {
		case FinWait1:
			if next.Send.una == next.Send.next {
				next.State = FinWait2
			}
		case Closing:
			if next.Send.una == next.Send.next {
				next.State = TimeWait
				next.WaitTime = now.Add(TimeWaitDuration)
			}
		case LastAck:
			if next.Send.una == next.Send.next {
				out.Release = true
				out.WakeSelf = true
				return out
			}
		}
	}

	dataLen := len(info.Data)
	if dataLen > 0 && (cur.State == Established || cur.State == FinWait1 || cur.State == FinWait2) {
		room := RecvBufferCap - len(next.RecvBuffer)
		if room < dataLen {
			dataLen = room
		}
		if dataLen > 0 {
			next.RecvBuffer = append(next.RecvBuffer, info.Data[:dataLen]...)
			next.Recv.next += uint32(dataLen)
			if int(next.Recv.window) > dataLen {
				next.Recv.window -= uint16(dataLen)
			} else {
				next.Recv.window = 0
			}
			out.WakeSelf = true
		}
		out.Emit = append(out.Emit, rawSegment{Seq: next.Send.next, Ack: next.Recv.next, Flags: FlagACK, Window: next.Recv.window, NoRetransmit: true})
	}

	if info.Flags.Has(FlagFIN) {
		next.Recv.next++
		out.Emit = append(out.Emit, rawSegment{Seq: next.Send.next, Ack: next.Recv.next, Flags: FlagACK, Window: next.Recv.window, NoRetransmit: true})
		out.WakeSelf = true

		switch cur.State {
		case SynReceived, Established:
			next.State = CloseWait
		case FinWait1:
			if next.Send.una == next.Send.next {
				next.State = TimeWait
			} else {
				next.State = Closing
			}
			next.WaitTime = now.Add(TimeWaitDuration)
		case FinWait2:
			next.State = TimeWait
			next.WaitTime = now.Add(TimeWaitDuration)
		case TimeWait:
			next.WaitTime = now.Add(TimeWaitDuration)
		}
	}

	out.PCB = next
	return out
}

// pruneAcked drops retransmit-queue entries fully covered by the new
// send.una, preserving the invariant that remaining entries' sequence
// numbers lie in [send.una, send.next).
func pruneAcked(q []unacked, una uint32) []unacked {
	out := q[:0:0]
	for _, seg := range q {
		end := seg.seq + uint32(segLenOf(seg.flags, len(seg.data)))
		if seqLess(una, end) {
			out = append(out, seg)
		}
	}
	return out
}
