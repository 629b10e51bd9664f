// Package udp implements the RFC 768 wire codec, a fixed 16-slot PCB
// pool, and the blocking Open/Bind/SendTo/ReceiveFrom user API.
package udp

import (
	"encoding/binary"
	"errors"

	"github.com/quietmachine/tapstack/internal/wire"
)

// HeaderLen is the fixed UDP header length.
const HeaderLen = 8

// MaxPayload is the largest payload Encode accepts: 65535 less the
// 20-byte IPv4 header. The 8-byte UDP header is not subtracted, so a
// payload above 65507 bytes passes Encode but is rejected by ipv4.Encode.
const MaxPayload = 65515

const pseudoProto = 17

// ErrShortSegment indicates a segment too small to hold a UDP header.
var ErrShortSegment = errors.New("udp: segment shorter than 8 bytes")

// ErrLengthMismatch indicates the UDP length field does not equal the
// received segment length.
var ErrLengthMismatch = errors.New("udp: length field does not match segment length")

// ErrChecksum indicates a pseudo-header checksum mismatch.
var ErrChecksum = errors.New("udp: checksum mismatch")

// ErrPayloadTooLarge indicates a payload exceeding MaxPayload.
var ErrPayloadTooLarge = errors.New("udp: payload exceeds 65515 bytes")

// Header is a decoded UDP header.
type Header struct {
	SrcPort  uint16
	DstPort  uint16
	Length   uint16
	Checksum uint16
}

// pseudoHeader returns the 12-byte IPv4 pseudo-header used for the UDP
// checksum (RFC 768).
func pseudoHeader(src, dst wire.IPv4, udpLen uint16) []byte {
	b := make([]byte, 12)
	copy(b[0:4], src[:])
	copy(b[4:8], dst[:])
	b[8] = 0
	b[9] = pseudoProto
	binary.BigEndian.PutUint16(b[10:12], udpLen)
	return b
}

// Decode parses seg as a UDP segment received from src to dst,
// validating the length field and pseudo-header checksum.
func Decode(seg []byte, src, dst wire.IPv4) (Header, []byte, error) {
	if len(seg) < HeaderLen {
		return Header{}, nil, ErrShortSegment
	}

	h := Header{
		SrcPort:  binary.BigEndian.Uint16(seg[0:2]),
		DstPort:  binary.BigEndian.Uint16(seg[2:4]),
		Length:   binary.BigEndian.Uint16(seg[4:6]),
		Checksum: binary.BigEndian.Uint16(seg[6:8]),
	}
	if int(h.Length) != len(seg) {
		return Header{}, nil, ErrLengthMismatch
	}

	carry := wire.AccumulateCarry(pseudoHeader(src, dst, h.Length), 0)
	carry = wire.AccumulateCarry(seg, carry)
	if wire.FoldCarry(carry) != 0 {
		return Header{}, nil, ErrChecksum
	}

	return h, seg[HeaderLen:], nil
}

// Encode builds a UDP segment from src:srcPort to dst:dstPort carrying
// payload, with the pseudo-header checksum computed over
// pseudo-header || UDP header || payload.
func Encode(src, dst wire.IPv4, srcPort, dstPort uint16, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return nil, ErrPayloadTooLarge
	}

	segLen := HeaderLen + len(payload)
	out := make([]byte, segLen)
	binary.BigEndian.PutUint16(out[0:2], srcPort)
	binary.BigEndian.PutUint16(out[2:4], dstPort)
	binary.BigEndian.PutUint16(out[4:6], uint16(segLen))
	binary.BigEndian.PutUint16(out[6:8], 0) // checksum placeholder
	copy(out[HeaderLen:], payload)

	carry := wire.AccumulateCarry(pseudoHeader(src, dst, uint16(segLen)), 0)
	carry = wire.AccumulateCarry(out, carry)
	sum := wire.FoldCarry(carry)
	if sum == 0 {
		sum = 0xFFFF // RFC 768: a computed zero checksum is transmitted as all-ones.
	}
	binary.BigEndian.PutUint16(out[6:8], sum)

	return out, nil
}
