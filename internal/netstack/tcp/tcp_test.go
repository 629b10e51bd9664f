package tcp

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

// newTestTable builds a Table wired to a loopback-style device (no ARP)
// whose transmitted frames are captured for inspection.
func newTestTable(t *testing.T) (*Table, *[][]byte) {
	t.Helper()

	dev := device.New(0, device.Loopback, "lo0", 1500, wire.MAC{}, wire.MAC{}, 10, device.FlagUp)
	ifc := device.NewInterface(ip("192.0.2.2"), ip("255.255.255.0"))
	dev.Interfaces.Append(ifc)

	routes := device.NewTable()
	routes.Add(&device.Route{Network: ip("192.0.2.0"), Netmask: ip("255.255.255.0"), Interface: dev})

	var captured [][]byte
	out := ipv4.NewOutputer(routes, arp.NewProtocol(arp.NewCache()), ipv4.NewIDCounter(), func(d *device.Device, frame []byte) error {
		captured = append(captured, frame)
		return nil
	})

	return NewTable(routes, out), &captured
}

// lastSegment decodes the TCP segment carried by the most recently
// captured IPv4 packet.
func lastSegment(t *testing.T, captured [][]byte, src, dst wire.IPv4) (Header, []byte) {
	t.Helper()
	if len(captured) == 0 {
		t.Fatal("no segment captured")
	}
	pkt := captured[len(captured)-1]
	_, payload, err := ipv4.Decode(pkt)
	if err != nil {
		t.Fatal(err)
	}
	h, data, err := Decode(payload, src, dst)
	if err != nil {
		t.Fatal(err)
	}
	return h, data
}

func TestEncodeChecksumIsZero(t *testing.T) {
	src, dst := ip("192.0.2.2"), ip("192.0.2.1")
	seg := Encode(src, dst, 49152, 80, 1000, 0, FlagSYN, RecvBufferCap, nil)

	carry := wire.AccumulateCarry(pseudoHeader(src, dst, uint16(len(seg))), 0)
	carry = wire.AccumulateCarry(seg, carry)
	if wire.FoldCarry(carry) != 0 {
		t.Fatal("pseudo-header checksum must sum to zero")
	}
}

func TestActiveOpenThreeWayHandshake(t *testing.T) {
	tbl, captured := newTestTable(t)
	local := ip("192.0.2.2")
	remote := ip("192.0.2.1")

	h, err := tbl.Open()
	if err != nil {
		t.Fatal(err)
	}

	connectDone := make(chan error, 1)
	go func() {
		connectDone <- tbl.Connect(context.Background(), h, Endpoint{Addr: remote, Port: 8080})
	}()

	// Wait for the SYN to be transmitted.
	deadline := time.Now().Add(time.Second)
	for len(*captured) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	hdr, _ := lastSegment(t, *captured, local, remote)
	if hdr.Flags != FlagSYN {
		t.Fatalf("first segment flags = %v, want SYN", hdr.Flags)
	}
	iss := hdr.Seq

	// Peer replies SYN|ACK.
	peerISS := uint32(5000)
	synAck := Encode(remote, local, 8080, hdr.SrcPort, peerISS, iss+1, FlagSYN|FlagACK, RecvBufferCap, nil)
	if err := tbl.Input(synAck, remote, local, wire.IPv4{}, time.Now()); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-connectDone:
		if err != nil {
			t.Fatalf("Connect returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Connect did not unblock after SYN|ACK")
	}

	p, ok := tbl.pool.Get(h)
	if !ok || p.State != Established {
		t.Fatalf("state = %v, want Established", p.State)
	}
	if p.Recv.irs != peerISS {
		t.Fatalf("irs = %d, want %d", p.Recv.irs, peerISS)
	}

	finalHdr, _ := lastSegment(t, *captured, local, remote)
	if finalHdr.Flags != FlagACK {
		t.Fatalf("final handshake segment flags = %v, want ACK", finalHdr.Flags)
	}
}

func TestSocketModeListenAcceptSpawnsChild(t *testing.T) {
	tbl, captured := newTestTable(t)
	local := ip("192.0.2.2")
	remote := ip("192.0.2.1")

	lh, _ := tbl.Open()
	if err := tbl.Bind(lh, Endpoint{Addr: wire.Any, Port: 7}); err != nil {
		t.Fatal(err)
	}
	if err := tbl.Listen(lh); err != nil {
		t.Fatal(err)
	}

	acceptDone := make(chan int, 1)
	go func() {
		child, err := tbl.Accept(context.Background(), lh)
		if err != nil {
			t.Error(err)
		}
		acceptDone <- child
	}()

	peerISS := uint32(100)
	syn := Encode(remote, local, 40000, 7, peerISS, 0, FlagSYN, RecvBufferCap, nil)
	if err := tbl.Input(syn, remote, local, wire.IPv4{}, time.Now()); err != nil {
		t.Fatal(err)
	}

	hdr, _ := lastSegment(t, *captured, local, remote)
	if hdr.Flags != FlagSYN|FlagACK {
		t.Fatalf("flags = %v, want SYN|ACK", hdr.Flags)
	}
	childISS := hdr.Seq

	ack := Encode(remote, local, 40000, 7, peerISS+1, childISS+1, FlagACK, RecvBufferCap, nil)
	if err := tbl.Input(ack, remote, local, wire.IPv4{}, time.Now()); err != nil {
		t.Fatal(err)
	}

	select {
	case child := <-acceptDone:
		p, ok := tbl.pool.Get(child)
		if !ok || p.State != Established {
			t.Fatalf("child state = %v, want Established", p.State)
		}
	case <-time.After(time.Second):
		t.Fatal("Accept did not unblock")
	}

	lp, _ := tbl.pool.Get(lh)
	if lp.State != Listen {
		t.Fatalf("listener state = %v, want still Listen", lp.State)
	}
}

func TestSendProducesPSHACKAndAdvancesUna(t *testing.T) {
	tbl, captured := newTestTable(t)
	local, remote := ip("192.0.2.2"), ip("192.0.2.1")

	h, _ := tbl.Open()
	iss := uint32(42)
	_ = tbl.pool.Mutate(h, func(v PCB) PCB {
		v.Local = Endpoint{Addr: local, Port: 49200}
		v.Remote = Endpoint{Addr: remote, Port: 8080}
		v.State = Established
		v.Send = sendContext{next: iss + 1, una: iss + 1, window: RecvBufferCap}
		v.Recv = recvContext{next: 9000, window: RecvBufferCap}
		v.MSS = mss(DefaultMTU)
		return v
	})

	if err := tbl.Send(context.Background(), h, []byte("PING")); err != nil {
		t.Fatal(err)
	}

	hdr, data := lastSegment(t, *captured, local, remote)
	if hdr.Flags != FlagPSH|FlagACK || string(data) != "PING" || hdr.Seq != iss+1 {
		t.Fatalf("segment = %+v data=%q", hdr, data)
	}

	peerAck := Encode(remote, local, 8080, 49200, 9000, iss+5, FlagACK, RecvBufferCap, nil)
	if err := tbl.Input(peerAck, remote, local, wire.IPv4{}, time.Now()); err != nil {
		t.Fatal(err)
	}

	p, _ := tbl.pool.Get(h)
	if p.Send.una != iss+5 {
		t.Fatalf("send.una = %d, want %d", p.Send.una, iss+5)
	}
	if len(p.RetransmitQueue) != 0 {
		t.Fatalf("retransmit queue = %v, want empty", p.RetransmitQueue)
	}
}

func TestRetransmissionTimeoutClosesPCB(t *testing.T) {
	tbl, _ := newTestTable(t)
	local, remote := ip("192.0.2.2"), ip("192.0.2.1")

	h, _ := tbl.Open()
	start := time.Now()
	_ = tbl.pool.Mutate(h, func(v PCB) PCB {
		v.Local = Endpoint{Addr: local, Port: 49200}
		v.Remote = Endpoint{Addr: remote, Port: 8080}
		v.State = SynSent
		v.Send = sendContext{next: 1, una: 0, iss: 0}
		v.RetransmitQueue = []unacked{{firstSentAt: start, lastSentAt: start, retryInterval: DefaultRetryInterval, seq: 0, flags: FlagSYN}}
		return v
	})

	tbl.Tick(start.Add(13 * time.Second))

	if _, ok := tbl.pool.Get(h); ok {
		t.Fatal("pcb should have been released after retransmission timeout")
	}
}

func TestRetransmissionResendsAtRetryInterval(t *testing.T) {
	tbl, captured := newTestTable(t)
	local, remote := ip("192.0.2.2"), ip("192.0.2.1")

	h, _ := tbl.Open()
	start := time.Now()
	_ = tbl.pool.Mutate(h, func(v PCB) PCB {
		v.Local = Endpoint{Addr: local, Port: 49200}
		v.Remote = Endpoint{Addr: remote, Port: 8080}
		v.State = SynSent
		v.Send = sendContext{next: 1, una: 0, iss: 0}
		v.Recv = recvContext{window: RecvBufferCap}
		v.RetransmitQueue = []unacked{{firstSentAt: start, lastSentAt: start, retryInterval: DefaultRetryInterval, seq: 0, flags: FlagSYN}}
		return v
	})

	before := len(*captured)
	tbl.Tick(start.Add(250 * time.Millisecond))
	if len(*captured) != before+1 {
		t.Fatalf("expected exactly one retransmit, got %d new segments", len(*captured)-before)
	}
}
