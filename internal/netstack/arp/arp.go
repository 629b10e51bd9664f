package arp

import (
	"github.com/quietmachine/tapstack/internal/wire"
)

// Sender abstracts emitting an ARP packet wrapped in an Ethernet frame;
// implemented by the IPv4/orchestrator wiring that owns the device and
// Ethernet codec. dstMAC is the frame's destination hardware address
// (the device's broadcast MAC for a Request, the sender's MAC for a
// Reply).
type Sender func(pkt []byte, dstMAC wire.MAC) error

// Protocol wraps an ARP cache and implements input processing and
// resolution per RFC 826. The local identity (this device's hardware
// and protocol address) is passed to each Input/Resolve call.
type Protocol struct {
	Cache *Cache
}

// NewProtocol creates an ARP protocol handler over cache.
func NewProtocol(cache *Cache) *Protocol {
	return &Protocol{Cache: cache}
}

// Input validates and processes a received ARP packet addressed to
// ourHW/ourProto. If the sender-proto/sender-hw binding is addressed to
// us (TargetProto == ourProto), it is upserted into the cache. If the
// operation is a Request, send is invoked with an ARP Reply framed back
// to the sender. Packets not addressed to ourProto are dropped with a
// nil error. Short packets and packets whose hw-space/proto-space or
// length fields are not Ethernet/IPv4 return Decode's error; a failure
// of send is returned as well.
func (p *Protocol) Input(raw []byte, ourHW wire.MAC, ourProto wire.IPv4, send Sender) error {
	pkt, err := Decode(raw)
	if err != nil {
		return err
	}

	if pkt.TargetProto != ourProto {
		return nil
	}

	p.Cache.Upsert(pkt.SenderProto, pkt.SenderHW, StateResolved)

	if pkt.Op != OpRequest {
		return nil
	}

	reply := Encode(Packet{
		Op:          OpReply,
		SenderHW:    ourHW,
		SenderProto: ourProto,
		TargetHW:    pkt.SenderHW,
		TargetProto: pkt.SenderProto,
	})
	return send(reply, pkt.SenderHW)
}

// Resolve looks up target in the cache. On a hit it returns the bound
// MAC and true. On a miss it broadcasts an ARP Request via send and
// returns (zero, false, nil): resolution is pending and the caller must
// not transmit the waiting datagram now. There is no queue-and-flush;
// upper layers retry once the Reply populates the cache.
func (p *Protocol) Resolve(target wire.IPv4, ourHW wire.MAC, ourProto wire.IPv4, broadcastMAC wire.MAC, send Sender) (wire.MAC, bool, error) {
	if mac, ok := p.Cache.Lookup(target); ok {
		return mac, true, nil
	}

	req := Encode(Packet{
		Op:          OpRequest,
		SenderHW:    ourHW,
		SenderProto: ourProto,
		TargetHW:    wire.MAC{},
		TargetProto: target,
	})
	if err := send(req, broadcastMAC); err != nil {
		return wire.MAC{}, false, err
	}
	return wire.MAC{}, false, nil
}
