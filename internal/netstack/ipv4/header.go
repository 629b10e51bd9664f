// Package ipv4 implements RFC 791 header encode/decode, input
// validation, and the routing/ARP-binding output path. It has no
// fragmentation/reassembly support and no IPv4 options.
package ipv4

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/quietmachine/tapstack/internal/wire"
)

// HeaderLen is the fixed (no-options) IPv4 header length.
const HeaderLen = 20

// Protocol identifies the upper-layer payload (IANA protocol numbers).
type Protocol uint8

const (
	ProtoICMP Protocol = 1
	ProtoTCP  Protocol = 6
	ProtoUDP  Protocol = 17
)

const (
	flagDF = 0x2
	flagMF = 0x1
)

// Sentinel validation errors; malformed input is silently dropped by
// the caller and logged at debug level.
var (
	ErrShortPacket = errors.New("ipv4: packet shorter than 20 bytes")
	ErrVersion     = errors.New("ipv4: version is not 4")
	ErrIHL         = errors.New("ipv4: IHL does not match a 20-byte no-options header")
	ErrTotalLen    = errors.New("ipv4: total length exceeds received length")
	ErrChecksum    = errors.New("ipv4: header checksum is nonzero")
	ErrFragmented  = errors.New("ipv4: fragmented traffic is rejected")
)

// Header is a decoded IPv4 header (no options).
type Header struct {
	TOS      uint8
	TotalLen uint16
	ID       uint16
	Flags    uint8
	FragOff  uint16
	TTL      uint8
	Protocol Protocol
	Checksum uint16
	Src      wire.IPv4
	Dst      wire.IPv4
}

// Decode parses raw as an IPv4 header with no options, validating
// version, IHL, total length, header checksum, and the absence of
// fragmentation. The returned payload is the slice of raw following the
// header, truncated to the header's declared TotalLen.
func Decode(raw []byte) (Header, []byte, error) {
	if len(raw) < HeaderLen {
		return Header{}, nil, ErrShortPacket
	}

	version := raw[0] >> 4
	ihl := raw[0] & 0x0F
	if version != 4 {
		return Header{}, nil, ErrVersion
	}
	if int(ihl)*4 != HeaderLen {
		return Header{}, nil, ErrIHL
	}

	totalLen := binary.BigEndian.Uint16(raw[2:4])
	if int(totalLen) > len(raw) {
		return Header{}, nil, ErrTotalLen
	}

	if wire.Checksum(raw[:HeaderLen], 0) != 0 {
		return Header{}, nil, ErrChecksum
	}

	flagsFrag := binary.BigEndian.Uint16(raw[6:8])
	flags := uint8(flagsFrag >> 13)
	fragOff := flagsFrag & 0x1FFF
	if flags&flagDF != 0 || flags&flagMF != 0 {
		return Header{}, nil, ErrFragmented
	}

	h := Header{
		TOS:      raw[1],
		TotalLen: totalLen,
		ID:       binary.BigEndian.Uint16(raw[4:6]),
		Flags:    flags,
		FragOff:  fragOff,
		TTL:      raw[8],
		Protocol: Protocol(raw[9]),
		Checksum: binary.BigEndian.Uint16(raw[10:12]),
	}
	copy(h.Src[:], raw[12:16])
	copy(h.Dst[:], raw[16:20])

	return h, raw[HeaderLen:totalLen], nil
}

// Encode builds a 20-byte IPv4 header for payload, computing the header
// checksum in a single pass with the checksum field held at zero,
// never by byte-patching a previously checksummed header.
func Encode(proto Protocol, id uint16, ttl uint8, src, dst wire.IPv4, payloadLen int) ([]byte, error) {
	totalLen := HeaderLen + payloadLen
	if totalLen > 0xFFFF {
		return nil, fmt.Errorf("ipv4: encoded packet too large: %d bytes", totalLen)
	}

	out := make([]byte, HeaderLen)
	out[0] = (4 << 4) | 5 // version=4, IHL=5 (20 bytes, no options)
	out[1] = 0            // TOS
	binary.BigEndian.PutUint16(out[2:4], uint16(totalLen))
	binary.BigEndian.PutUint16(out[4:6], id)
	binary.BigEndian.PutUint16(out[6:8], 0) // flags=0, fragoffset=0
	out[8] = ttl
	out[9] = byte(proto)
	binary.BigEndian.PutUint16(out[10:12], 0) // checksum placeholder
	copy(out[12:16], src[:])
	copy(out[16:20], dst[:])

	sum := wire.Checksum(out, 0)
	binary.BigEndian.PutUint16(out[10:12], sum)

	return out, nil
}
