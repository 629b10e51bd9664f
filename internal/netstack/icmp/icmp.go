// Package icmp implements ICMP Echo (RFC 792 Type 8/0) processing. No
// other ICMP message types are generated or accepted.
package icmp

import (
	"encoding/binary"
	"errors"

	"github.com/quietmachine/tapstack/internal/wire"
)

// HeaderLen is the fixed ICMP Echo header length: type, code, checksum,
// identifier, sequence number.
const HeaderLen = 8

const (
	TypeEchoReply   = 0
	TypeEchoRequest = 8
)

// ErrShortSegment indicates a segment too small to hold an Echo header.
var ErrShortSegment = errors.New("icmp: segment shorter than 8 bytes")

// ErrNotEchoRequest indicates a type other than Echo Request (8), which
// this stack silently ignores.
var ErrNotEchoRequest = errors.New("icmp: not an echo request")

// ErrChecksum indicates a nonzero one's-complement sum over the segment.
var ErrChecksum = errors.New("icmp: checksum mismatch")

// Echo is a decoded ICMP Echo segment (request or reply).
type Echo struct {
	Type    uint8
	Code    uint8
	ID      uint16
	Seq     uint16
	Payload []byte
}

// DecodeEchoRequest parses seg as an ICMP Echo Request, validating its
// checksum. Any other ICMP type returns ErrNotEchoRequest, which the
// caller treats as a silent drop.
func DecodeEchoRequest(seg []byte) (Echo, error) {
	if len(seg) < HeaderLen {
		return Echo{}, ErrShortSegment
	}
	if seg[0] != TypeEchoRequest {
		return Echo{}, ErrNotEchoRequest
	}
	if wire.Checksum(seg, 0) != 0 {
		return Echo{}, ErrChecksum
	}

	return Echo{
		Type:    seg[0],
		Code:    seg[1],
		ID:      binary.BigEndian.Uint16(seg[4:6]),
		Seq:     binary.BigEndian.Uint16(seg[6:8]),
		Payload: seg[HeaderLen:],
	}, nil
}

// EncodeEchoReply builds an ICMP Echo Reply carrying the same code,
// identifier, sequence number, and payload as req, with a freshly
// computed checksum. The src/dst swap is the caller's IPv4 output
// concern.
func EncodeEchoReply(req Echo) []byte {
	out := make([]byte, HeaderLen+len(req.Payload))
	out[0] = TypeEchoReply
	out[1] = req.Code
	binary.BigEndian.PutUint16(out[2:4], 0) // checksum placeholder
	binary.BigEndian.PutUint16(out[4:6], req.ID)
	binary.BigEndian.PutUint16(out[6:8], req.Seq)
	copy(out[HeaderLen:], req.Payload)

	sum := wire.Checksum(out, 0)
	binary.BigEndian.PutUint16(out[2:4], sum)
	return out
}

// ReplyDestination picks the reply's source address: a request sent to
// the interface broadcast is answered from the interface unicast.
func ReplyDestination(dst, ifaceBroadcast, ifaceUnicast wire.IPv4) wire.IPv4 {
	if dst == ifaceBroadcast {
		return ifaceUnicast
	}
	return dst
}
