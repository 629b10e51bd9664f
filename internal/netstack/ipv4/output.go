package ipv4

import (
	"errors"
	"fmt"

	"github.com/quietmachine/tapstack/internal/device"
	"github.com/quietmachine/tapstack/internal/netstack/arp"
	"github.com/quietmachine/tapstack/internal/netstack/ethernet"
	"github.com/quietmachine/tapstack/internal/wire"
)

// DefaultTTL is the outbound IPv4 Time To Live.
const DefaultTTL = 255

// ErrNoRoute indicates no route matches the destination.
var ErrNoRoute = errors.New("ipv4: no route to destination")

// ErrSrcMismatch indicates an explicit source address that is not the
// outgoing interface's unicast address.
var ErrSrcMismatch = errors.New("ipv4: source address does not match outgoing interface")

// FrameSender writes a fully-framed Ethernet frame (or, for a loopback
// device, a bare IPv4 packet) to dev.
type FrameSender func(dev *device.Device, frame []byte) error

// Events receives notable output-path occurrences, for metrics.
// Implementations must be safe for concurrent use.
type Events interface {
	// PacketOut is called after a packet of the given protocol has been
	// handed to a device.
	PacketOut(proto Protocol)
	// PendingARP is called when output returns without transmitting
	// because ARP resolution is still pending.
	PendingARP()
	// ARPRequestSent is called after an ARP Request broadcast goes out.
	ARPRequestSent()
}

// Outputer builds and transmits IPv4 packets, resolving routes and ARP
// bindings on the way down.
type Outputer struct {
	Routes *device.Table
	ARP    *arp.Protocol
	IDs    *IDCounter
	Send   FrameSender

	events Events
}

// NewOutputer creates an Outputer over the given route table, ARP
// protocol, and ID counter, writing frames via send.
func NewOutputer(routes *device.Table, arpProto *arp.Protocol, ids *IDCounter, send FrameSender) *Outputer {
	return &Outputer{Routes: routes, ARP: arpProto, IDs: ids, Send: send}
}

// SetEvents attaches an Events sink. A nil sink (the default) disables
// event reporting.
func (o *Outputer) SetEvents(ev Events) {
	o.events = ev
}

// Output builds an IPv4 packet carrying payload from src (wire.Any
// means "substitute the outgoing interface's unicast address") to dst
// and transmits it.
//
// On an ARP cache miss, Output returns nil: success without
// transmitting. There is no pending-packet queue; the upper layer is
// expected to retry (see DESIGN.md).
func (o *Outputer) Output(proto Protocol, payload []byte, src, dst wire.IPv4) error {
	route, ok := o.Routes.Lookup(dst)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoRoute, dst)
	}

	dev := route.Interface
	ifc, ok := dev.PrimaryInterface()
	if !ok {
		return fmt.Errorf("ipv4: device %s has no interface", dev.Name)
	}

	if src.IsAny() {
		src = ifc.Unicast
	} else if src != ifc.Unicast {
		return fmt.Errorf("%w: %s is not %s", ErrSrcMismatch, src, ifc.Unicast)
	}

	nextHop := route.NextHop
	if nextHop.IsAny() {
		nextHop = dst
	}

	header, err := Encode(proto, o.IDs.Next(), DefaultTTL, src, dst, len(payload))
	if err != nil {
		return err
	}
	packet := append(header, payload...)

	if !dev.Flags().Has(device.FlagNeedsARP) {
		if err := o.Send(dev, packet); err != nil {
			return err
		}
		if o.events != nil {
			o.events.PacketOut(proto)
		}
		return nil
	}

	var dstMAC wire.MAC
	switch {
	case dst == ifc.Broadcast, dst == wire.Broadcast:
		dstMAC = dev.BroadcastHW
	default:
		mac, resolved, rerr := o.ARP.Resolve(nextHop, dev.HWAddr, ifc.Unicast, dev.BroadcastHW, o.arpSender(dev))
		if rerr != nil {
			return rerr
		}
		if !resolved {
			// Pending ARP resolution. Return success without
			// transmitting; the upper layer's own retry (TCP
			// retransmit, UDP double-send convention) will succeed
			// once the cache is populated.
			if o.events != nil {
				o.events.PendingARP()
			}
			return nil
		}
		dstMAC = mac
	}

	frame, err := ethernet.Encode(dstMAC, dev.HWAddr, ethernet.TypeIPv4, packet)
	if err != nil {
		return err
	}
	if err := o.Send(dev, frame); err != nil {
		return err
	}
	if o.events != nil {
		o.events.PacketOut(proto)
	}
	return nil
}

// arpSender adapts the Outputer's FrameSender into an arp.Sender that
// frames ARP packets over Ethernet before writing them to dev.
func (o *Outputer) arpSender(dev *device.Device) arp.Sender {
	return func(pkt []byte, dstMAC wire.MAC) error {
		frame, err := ethernet.Encode(dstMAC, dev.HWAddr, ethernet.TypeARP, pkt)
		if err != nil {
			return err
		}
		if err := o.Send(dev, frame); err != nil {
			return err
		}
		if o.events != nil {
			o.events.ARPRequestSent()
		}
		return nil
	}
}
