package wire

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// IPv4Len is the byte length of an IPv4 address.
const IPv4Len = 4

// MACLen is the byte length of an Ethernet hardware address.
const MACLen = 6

// IPv4 is a 32-bit IPv4 address stored at rest in network byte order.
// Arithmetic (route matching, broadcast derivation) operates on the
// host-order Uint32 view.
type IPv4 [IPv4Len]byte

// Broadcast is the limited broadcast address 255.255.255.255.
var Broadcast = IPv4{255, 255, 255, 255}

// Any is the unspecified address 0.0.0.0.
var Any = IPv4{}

// ParseIPv4 parses a dotted-quad string into an IPv4 address.
func ParseIPv4(s string) (IPv4, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return IPv4{}, fmt.Errorf("parse ipv4 %q: want 4 dotted octets", s)
	}
	var out IPv4
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil || v < 0 || v > 255 {
			return IPv4{}, fmt.Errorf("parse ipv4 %q: invalid octet %q", s, p)
		}
		out[i] = byte(v)
	}
	return out, nil
}

// String renders the address as a dotted quad.
func (a IPv4) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", a[0], a[1], a[2], a[3])
}

// Uint32 returns the address as a host-order uint32, suitable for netmask
// arithmetic and route-table comparisons.
func (a IPv4) Uint32() uint32 {
	return binary.BigEndian.Uint32(a[:])
}

// IPv4FromUint32 builds an IPv4 address from a host-order uint32.
func IPv4FromUint32(v uint32) IPv4 {
	var a IPv4
	binary.BigEndian.PutUint32(a[:], v)
	return a
}

// IsAny reports whether the address is 0.0.0.0.
func (a IPv4) IsAny() bool {
	return a == Any
}

// IsZero is an alias for IsAny, matching common Go conventions for the
// zero-valued case of a comparable type.
func (a IPv4) IsZero() bool {
	return a.IsAny()
}

// And returns the bitwise AND of a and mask, both host-order.
func (a IPv4) And(mask IPv4) IPv4 {
	return IPv4FromUint32(a.Uint32() & mask.Uint32())
}

// BroadcastOf computes the interface broadcast address: unicast | ^netmask.
func BroadcastOf(unicast, netmask IPv4) IPv4 {
	return IPv4FromUint32(unicast.Uint32() | ^netmask.Uint32())
}

// NetmaskFromPrefixLen builds a netmask from a CIDR prefix length
// (0-32), used by config parsing to turn "192.0.2.2/24" into an
// Interface's (unicast, netmask) pair.
func NetmaskFromPrefixLen(bits int) (IPv4, error) {
	if bits < 0 || bits > 32 {
		return IPv4{}, fmt.Errorf("netmask prefix length %d out of range [0,32]", bits)
	}
	if bits == 0 {
		return IPv4{}, nil
	}
	return IPv4FromUint32(^uint32(0) << (32 - bits)), nil
}

// ParseCIDR parses "a.b.c.d/n" into its unicast address and netmask.
func ParseCIDR(s string) (addr, netmask IPv4, err error) {
	host, prefix, ok := strings.Cut(s, "/")
	if !ok {
		return IPv4{}, IPv4{}, fmt.Errorf("parse cidr %q: missing /prefix", s)
	}
	addr, err = ParseIPv4(host)
	if err != nil {
		return IPv4{}, IPv4{}, err
	}
	bits, err := strconv.Atoi(prefix)
	if err != nil {
		return IPv4{}, IPv4{}, fmt.Errorf("parse cidr %q: invalid prefix %q", s, prefix)
	}
	netmask, err = NetmaskFromPrefixLen(bits)
	if err != nil {
		return IPv4{}, IPv4{}, fmt.Errorf("parse cidr %q: %w", s, err)
	}
	return addr, netmask, nil
}

// MAC is a 6-byte Ethernet hardware address.
type MAC [MACLen]byte

// BroadcastMAC is ff:ff:ff:ff:ff:ff.
var BroadcastMAC = MAC{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// String renders the address in colon-separated hex, e.g. "02:00:00:00:00:01".
func (m MAC) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", m[0], m[1], m[2], m[3], m[4], m[5])
}

// IsBroadcast reports whether m is the broadcast address.
func (m MAC) IsBroadcast() bool {
	return m == BroadcastMAC
}
