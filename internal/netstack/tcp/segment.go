// Package tcp implements the RFC 793 state machine: segment codec,
// sequence-number arithmetic, the fixed 16-slot PCB pool, the
// Section 3.9 segment-arrival processing, the retransmission tick, and
// the blocking user API (RFC793Open, Open, Bind, Listen, Accept,
// Connect, Send, Receive, Close).
package tcp

import (
	"encoding/binary"
	"errors"

	"github.com/quietmachine/tapstack/internal/wire"
)

// HeaderLen is the fixed (no-options) TCP header length; data offset is
// always 5.
const HeaderLen = 20

// Flags is the TCP control-bit set.
type Flags uint8

const (
	FlagFIN Flags = 1 << iota
	FlagSYN
	FlagRST
	FlagPSH
	FlagACK
	FlagURG
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// Header is a decoded TCP header (no options).
type Header struct {
	SrcPort  uint16
	DstPort  uint16
	Seq      uint32
	Ack      uint32
	Flags    Flags
	Window   uint16
	Checksum uint16
	Urgent   uint16
}

var ErrShortSegment = errors.New("tcp: segment shorter than 20 bytes")
var ErrDataOffset = errors.New("tcp: data offset does not match a 20-byte no-options header")
var ErrChecksum = errors.New("tcp: checksum mismatch")

const pseudoProto = 6

func pseudoHeader(src, dst wire.IPv4, tcpLen uint16) []byte {
	b := make([]byte, 12)
	copy(b[0:4], src[:])
	copy(b[4:8], dst[:])
	b[8] = 0
	b[9] = pseudoProto
	binary.BigEndian.PutUint16(b[10:12], tcpLen)
	return b
}

// Decode parses seg as a TCP segment received from src to dst,
// validating the pseudo-header checksum.
func Decode(seg []byte, src, dst wire.IPv4) (Header, []byte, error) {
	if len(seg) < HeaderLen {
		return Header{}, nil, ErrShortSegment
	}

	dataOffset := seg[12] >> 4
	if int(dataOffset)*4 != HeaderLen {
		return Header{}, nil, ErrDataOffset
	}

	carry := wire.AccumulateCarry(pseudoHeader(src, dst, uint16(len(seg))), 0)
	carry = wire.AccumulateCarry(seg, carry)
	if wire.FoldCarry(carry) != 0 {
		return Header{}, nil, ErrChecksum
	}

	h := Header{
		SrcPort:  binary.BigEndian.Uint16(seg[0:2]),
		DstPort:  binary.BigEndian.Uint16(seg[2:4]),
		Seq:      binary.BigEndian.Uint32(seg[4:8]),
		Ack:      binary.BigEndian.Uint32(seg[8:12]),
		Flags:    Flags(seg[13]),
		Window:   binary.BigEndian.Uint16(seg[14:16]),
		Checksum: binary.BigEndian.Uint16(seg[16:18]),
		Urgent:   binary.BigEndian.Uint16(seg[18:20]),
	}
	return h, seg[HeaderLen:], nil
}

// Encode builds a 20-byte-header TCP segment from src:srcPort to
// dst:dstPort, with the checksum computed over
// pseudo-header || header || data.
func Encode(src, dst wire.IPv4, srcPort, dstPort uint16, seq, ack uint32, flags Flags, window uint16, data []byte) []byte {
	segLen := HeaderLen + len(data)
	out := make([]byte, segLen)
	binary.BigEndian.PutUint16(out[0:2], srcPort)
	binary.BigEndian.PutUint16(out[2:4], dstPort)
	binary.BigEndian.PutUint32(out[4:8], seq)
	binary.BigEndian.PutUint32(out[8:12], ack)
	out[12] = 5 << 4 // data offset = 5, reserved = 0
	out[13] = byte(flags)
	binary.BigEndian.PutUint16(out[14:16], window)
	binary.BigEndian.PutUint16(out[16:18], 0) // checksum placeholder
	binary.BigEndian.PutUint16(out[18:20], 0) // urgent pointer, unused
	copy(out[HeaderLen:], data)

	carry := wire.AccumulateCarry(pseudoHeader(src, dst, uint16(segLen)), 0)
	carry = wire.AccumulateCarry(out, carry)
	sum := wire.FoldCarry(carry)
	binary.BigEndian.PutUint16(out[16:18], sum)

	return out
}

// segLenOf returns the RFC 793 segment length (SYN and FIN each count
// as one octet of sequence space) used for acceptability testing and
// sequence-number advancement.
func segLenOf(flags Flags, payloadLen int) int {
	n := payloadLen
	if flags.Has(FlagSYN) {
		n++
	}
	if flags.Has(FlagFIN) {
		n++
	}
	return n
}
