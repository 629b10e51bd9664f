package udp

import (
	"context"
	"testing"
	"time"

	"github.com/quietmachine/tapstack/internal/device"
	"github.com/quietmachine/tapstack/internal/netstack/arp"
	"github.com/quietmachine/tapstack/internal/netstack/ipv4"
	"github.com/quietmachine/tapstack/internal/wire"
)

func ip(s string) wire.IPv4 {
	a, err := wire.ParseIPv4(s)
	if err != nil {
		panic(err)
	}
	return a
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	src, dst := ip("10.0.0.1"), ip("10.0.0.2")
	seg, err := Encode(src, dst, 5000, 53, []byte("query"))
	if err != nil {
		t.Fatal(err)
	}

	h, payload, err := Decode(seg, src, dst)
	if err != nil {
		t.Fatal(err)
	}
	if h.SrcPort != 5000 || h.DstPort != 53 || string(payload) != "query" {
		t.Fatalf("decoded = %+v payload=%q", h, payload)
	}
}

func TestDecodeRejectsLengthMismatch(t *testing.T) {
	seg, _ := Encode(ip("10.0.0.1"), ip("10.0.0.2"), 1, 2, []byte("x"))
	seg = append(seg, 0xFF) // trailer not accounted for in the length field
	if _, _, err := Decode(seg, ip("10.0.0.1"), ip("10.0.0.2")); err != ErrLengthMismatch {
		t.Fatalf("err = %v, want ErrLengthMismatch", err)
	}
}

func TestDecodeRejectsBadChecksum(t *testing.T) {
	seg, _ := Encode(ip("10.0.0.1"), ip("10.0.0.2"), 1, 2, []byte("x"))
	seg[6] ^= 0xFF
	if _, _, err := Decode(seg, ip("10.0.0.1"), ip("10.0.0.2")); err != ErrChecksum {
		t.Fatalf("err = %v, want ErrChecksum", err)
	}
}

func TestOpenBindConflict(t *testing.T) {
	tbl := NewTable()
	a, _ := tbl.Open()
	b, _ := tbl.Open()

	if err := tbl.Bind(a, Endpoint{Addr: wire.Any, Port: 53}); err != nil {
		t.Fatal(err)
	}
	if err := tbl.Bind(b, Endpoint{Addr: ip("10.0.0.1"), Port: 53}); err != ErrAddressInUse {
		t.Fatalf("err = %v, want ErrAddressInUse (ANY conflicts with any addr on the same port)", err)
	}
}

func TestInputDeliversToOpenPCB(t *testing.T) {
	tbl := NewTable()
	h, _ := tbl.Open()
	if err := tbl.Bind(h, Endpoint{Addr: wire.Any, Port: 53}); err != nil {
		t.Fatal(err)
	}

	seg, err := Encode(ip("10.0.0.9"), ip("10.0.0.1"), 4000, 53, []byte("hello"))
	if err != nil {
		t.Fatal(err)
	}

	delivered, err := tbl.Input(seg, ip("10.0.0.9"), ip("10.0.0.1"))
	if err != nil || !delivered {
		t.Fatalf("delivered=%v err=%v", delivered, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	dg, ok, err := tbl.ReceiveFrom(ctx, h)
	if err != nil || !ok {
		t.Fatalf("receive: ok=%v err=%v", ok, err)
	}
	if string(dg.Payload) != "hello" || dg.Remote.Port != 4000 {
		t.Fatalf("datagram = %+v", dg)
	}
}

func TestReceiveFromUnblocksOnClose(t *testing.T) {
	tbl := NewTable()
	h, _ := tbl.Open()

	done := make(chan struct{})
	var ok bool
	go func() {
		_, ok, _ = tbl.ReceiveFrom(context.Background(), h)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	tbl.Close(h)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ReceiveFrom did not unblock after Close")
	}
	if ok {
		t.Fatal("ok = true, want false after close")
	}
}

func TestSendToResolvesLocalAddressAndPort(t *testing.T) {
	dev := device.New(0, device.Ethernet, "tap0", 1500, wire.MAC{2}, wire.BroadcastMAC, 40, device.FlagUp|device.FlagNeedsARP)
	ifc := device.NewInterface(ip("192.0.2.2"), ip("255.255.255.0"))
	dev.Interfaces.Append(ifc)

	routes := device.NewTable()
	routes.Add(&device.Route{Network: ip("192.0.2.0"), Netmask: ip("255.255.255.0"), Interface: dev})

	cache := arp.NewCache()
	cache.Upsert(ip("192.0.2.9"), wire.MAC{9}, arp.StateResolved)

	var captured []byte
	out := ipv4.NewOutputer(routes, arp.NewProtocol(cache), ipv4.NewIDCounter(), func(d *device.Device, frame []byte) error {
		captured = frame
		return nil
	})

	tbl := NewTable()
	h, _ := tbl.Open()

	if err := tbl.SendTo(h, []byte("ping"), Endpoint{Addr: ip("192.0.2.9"), Port: 7}, routes, out); err != nil {
		t.Fatal(err)
	}
	if captured == nil {
		t.Fatal("expected a frame to be transmitted")
	}

	p, _ := tbl.pool.Get(h)
	if p.local.Addr != ip("192.0.2.2") {
		t.Fatalf("local addr = %v, want interface unicast", p.local.Addr)
	}
	if p.local.Port < EphemeralLow || p.local.Port > EphemeralHigh {
		t.Fatalf("local port = %d, want in ephemeral range", p.local.Port)
	}
}
