package ipv4

import (
	"testing"

	"github.com/quietmachine/tapstack/internal/device"
	"github.com/quietmachine/tapstack/internal/netstack/arp"
	"github.com/quietmachine/tapstack/internal/wire"
)

func ip(s string) wire.IPv4 {
	a, err := wire.ParseIPv4(s)
	if err != nil {
		panic(err)
	}
	return a
}

func TestEncodeChecksumIsZero(t *testing.T) {
	raw, err := Encode(ProtoUDP, 1, DefaultTTL, ip("192.0.2.2"), ip("192.0.2.1"), 8)
	if err != nil {
		t.Fatal(err)
	}
	if wire.Checksum(raw, 0) != 0 {
		t.Fatal("checksum over emitted header must sum to zero")
	}
}

func TestDecodeEncodeRoundTrip(t *testing.T) {
	payload := []byte("PING")
	raw, err := Encode(ProtoICMP, 5, 64, ip("10.0.0.1"), ip("10.0.0.2"), len(payload))
	if err != nil {
		t.Fatal(err)
	}
	raw = append(raw, payload...)

	h, got, err := Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	if h.Protocol != ProtoICMP || h.TTL != 64 || h.ID != 5 {
		t.Fatalf("decoded header mismatch: %+v", h)
	}
	if string(got) != "PING" {
		t.Fatalf("decoded payload = %q, want PING", got)
	}
}

func TestDecodeRejectsFragmented(t *testing.T) {
	raw, _ := Encode(ProtoUDP, 1, 64, ip("10.0.0.1"), ip("10.0.0.2"), 0)
	raw[6] |= 0x20 // set MF bit (bit 5 of byte 6: flags in top 3 bits)
	// recompute the header checksum so the failure is specifically about fragmentation
	raw[10], raw[11] = 0, 0
	sum := wire.Checksum(raw, 0)
	raw[10], raw[11] = byte(sum>>8), byte(sum)
	if _, _, err := Decode(raw); err != ErrFragmented {
		t.Fatalf("err = %v, want ErrFragmented", err)
	}
}

func TestInputForDropsUnownedDestination(t *testing.T) {
	ifc := device.NewInterface(ip("192.0.2.2"), ip("255.255.255.0"))
	raw, _ := Encode(ProtoUDP, 1, 64, ip("198.51.100.1"), ip("203.0.113.9"), 0)

	_, _, accepted, err := InputFor(raw, ifc)
	if err != nil {
		t.Fatal(err)
	}
	if accepted {
		t.Fatal("expected destination-ownership drop")
	}
}

func TestInputForAcceptsBroadcast(t *testing.T) {
	ifc := device.NewInterface(ip("192.0.2.2"), ip("255.255.255.0"))
	raw, _ := Encode(ProtoUDP, 1, 64, ip("198.51.100.1"), ifc.Broadcast, 0)

	_, _, accepted, err := InputFor(raw, ifc)
	if err != nil || !accepted {
		t.Fatalf("accepted=%v err=%v, want accepted=true", accepted, err)
	}
}

func TestOutputARPMissReturnsSuccessWithoutTransmitting(t *testing.T) {
	dev := device.New(0, device.Ethernet, "tap0", 1500, wire.MAC{2}, wire.BroadcastMAC, 40, device.FlagUp|device.FlagNeedsARP)
	ifc := device.NewInterface(ip("192.0.2.2"), ip("255.255.255.0"))
	dev.Interfaces.Append(ifc)

	routes := device.NewTable()
	routes.Add(&device.Route{Network: ip("192.0.2.0"), Netmask: ip("255.255.255.0"), Interface: dev})

	sent := 0
	out := NewOutputer(routes, arp.NewProtocol(arp.NewCache()), NewIDCounter(), func(d *device.Device, frame []byte) error {
		sent++
		return nil
	})

	if err := out.Output(ProtoUDP, []byte("hi"), wire.Any, ip("192.0.2.9")); err != nil {
		t.Fatal(err)
	}
	// The ARP Request itself is transmitted, but not the pending datagram.
	if sent != 1 {
		t.Fatalf("sent = %d, want 1 (the ARP request only)", sent)
	}
}

func TestOutputNoRoute(t *testing.T) {
	out := NewOutputer(device.NewTable(), arp.NewProtocol(arp.NewCache()), NewIDCounter(), func(*device.Device, []byte) error { return nil })
	if err := out.Output(ProtoUDP, nil, wire.Any, ip("203.0.113.1")); err == nil {
		t.Fatal("expected ErrNoRoute")
	}
}
