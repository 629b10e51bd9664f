package tcp

// Sequence numbers wrap modulo 2^32 (RFC 793 Section 3.3). Comparisons use
// the standard signed-difference trick rather than raw < / > so wraparound
// is handled the same way everywhere a sequence number is compared.

func seqLess(a, b uint32) bool {
	return int32(a-b) < 0
}

func seqLessEq(a, b uint32) bool {
	return a == b || seqLess(a, b)
}

func seqInWindow(seq, lo uint32, size uint32) bool {
	if size == 0 {
		return seq == lo
	}
	return seqLessEq(lo, seq) && seqLess(seq, lo+size)
}

// acceptable implements the RFC 793 Section 3.3 Table 7 segment
// acceptability test for a segment of length segLen starting at seq,
// against a receive window of [rcvNext, rcvNext+rcvWnd).
func acceptable(seq uint32, segLen int, rcvNext uint32, rcvWnd uint16) bool {
	switch {
	case segLen == 0 && rcvWnd == 0:
		return seq == rcvNext
	case segLen == 0 && rcvWnd > 0:
		return seqInWindow(seq, rcvNext, uint32(rcvWnd))
	case segLen > 0 && rcvWnd == 0:
		return false
	default:
		last := seq + uint32(segLen) - 1
		return seqInWindow(seq, rcvNext, uint32(rcvWnd)) || seqInWindow(last, rcvNext, uint32(rcvWnd))
	}
}
