package ipv4

import (
	"github.com/quietmachine/tapstack/internal/device"
	"github.com/quietmachine/tapstack/internal/wire"
)

// InputFor decodes raw as an IPv4 packet arriving on a device whose
// interface is ifc, applying both the structural validation of Decode
// and the destination-ownership check: a destination that is neither
// the interface unicast, the interface broadcast, nor 255.255.255.255
// is dropped.
//
// accepted is false (with a nil error) for the destination-ownership
// policy drop; a non-nil error indicates malformed input, which the
// caller should log at debug level and discard.
func InputFor(raw []byte, ifc *device.Interface) (h Header, payload []byte, accepted bool, err error) {
	h, payload, err = Decode(raw)
	if err != nil {
		return Header{}, nil, false, err
	}

	if h.Dst != ifc.Unicast && h.Dst != ifc.Broadcast && h.Dst != wire.Broadcast {
		return h, nil, false, nil
	}
	return h, payload, true, nil
}
