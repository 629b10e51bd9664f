package arp

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/quietmachine/tapstack/internal/wire"
)

// HeaderLen is the fixed ARP-over-Ethernet/IPv4 packet size (RFC 826):
// hw-space(2) proto-space(2) hw-len(1) proto-len(1) op(2) sender-hw(6)
// sender-proto(4) target-hw(6) target-proto(4).
const HeaderLen = 28

// Hardware/protocol space and length constants (RFC 826 over Ethernet/IPv4).
const (
	hwSpaceEthernet = 1
	protoSpaceIPv4  = 0x0800
	hwLenEthernet   = 6
	protoLenIPv4    = 4
)

// Op is the ARP operation code.
type Op uint16

const (
	// OpRequest is ARP Request (op=1).
	OpRequest Op = 1
	// OpReply is ARP Reply (op=2).
	OpReply Op = 2
)

// ErrShortPacket indicates a packet shorter than HeaderLen.
var ErrShortPacket = errors.New("arp: packet shorter than header")

// ErrUnsupportedSpace indicates the hardware/protocol space or length
// fields are not Ethernet/IPv4.
var ErrUnsupportedSpace = errors.New("arp: not an Ethernet/IPv4 packet")

// Packet is a decoded ARP packet.
type Packet struct {
	Op          Op
	SenderHW    wire.MAC
	SenderProto wire.IPv4
	TargetHW    wire.MAC
	TargetProto wire.IPv4
}

// Decode parses raw as an ARP packet, validating that the hw-space/
// proto-space/length fields name Ethernet/IPv4.
func Decode(raw []byte) (Packet, error) {
	if len(raw) < HeaderLen {
		return Packet{}, ErrShortPacket
	}

	hwSpace := binary.BigEndian.Uint16(raw[0:2])
	protoSpace := binary.BigEndian.Uint16(raw[2:4])
	hwLen := raw[4]
	protoLen := raw[5]

	if hwSpace != hwSpaceEthernet || protoSpace != protoSpaceIPv4 ||
		hwLen != hwLenEthernet || protoLen != protoLenIPv4 {
		return Packet{}, fmt.Errorf("%w: hwspace=%d protospace=%#x hwlen=%d protolen=%d",
			ErrUnsupportedSpace, hwSpace, protoSpace, hwLen, protoLen)
	}

	var p Packet
	p.Op = Op(binary.BigEndian.Uint16(raw[6:8]))
	copy(p.SenderHW[:], raw[8:14])
	copy(p.SenderProto[:], raw[14:18])
	copy(p.TargetHW[:], raw[18:24])
	copy(p.TargetProto[:], raw[24:28])

	return p, nil
}

// Encode serializes p into a 28-byte ARP-over-Ethernet/IPv4 packet.
func Encode(p Packet) []byte {
	out := make([]byte, HeaderLen)
	binary.BigEndian.PutUint16(out[0:2], hwSpaceEthernet)
	binary.BigEndian.PutUint16(out[2:4], protoSpaceIPv4)
	out[4] = hwLenEthernet
	out[5] = protoLenIPv4
	binary.BigEndian.PutUint16(out[6:8], uint16(p.Op))
	copy(out[8:14], p.SenderHW[:])
	copy(out[14:18], p.SenderProto[:])
	copy(out[18:24], p.TargetHW[:])
	copy(out[24:28], p.TargetProto[:])
	return out
}
