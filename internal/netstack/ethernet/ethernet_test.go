package ethernet

import (
	"bytes"
	"errors"
	"testing"

	"github.com/quietmachine/tapstack/internal/wire"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	dst := wire.MAC{0x02, 0, 0, 0, 0, 1}
	src := wire.MAC{0x02, 0, 0, 0, 0, 2}
	payload := []byte("hello")

	raw, err := Encode(dst, src, TypeIPv4, payload)
	if err != nil {
		t.Fatal(err)
	}
	if len(raw) != HeaderLen+MinPayload {
		t.Fatalf("frame length = %d, want %d (padded)", len(raw), HeaderLen+MinPayload)
	}

	f, ok, err := Decode(raw, dst)
	if err != nil || !ok {
		t.Fatalf("Decode: ok=%v err=%v", ok, err)
	}
	if f.Dst != dst || f.Src != src || f.EtherType != TypeIPv4 {
		t.Fatalf("decoded header mismatch: %+v", f)
	}
	if !bytes.Equal(f.Payload[:len(payload)], payload) {
		t.Fatalf("decoded payload prefix = %q, want %q", f.Payload[:len(payload)], payload)
	}
}

func TestDecodeDropsForeignUnicast(t *testing.T) {
	dst := wire.MAC{1}
	other := wire.MAC{2}
	raw, _ := Encode(dst, wire.MAC{3}, TypeIPv4, []byte("x"))

	_, ok, err := Decode(raw, other)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected frame addressed to a different MAC to be dropped")
	}
}

func TestDecodeAcceptsBroadcast(t *testing.T) {
	raw, _ := Encode(wire.BroadcastMAC, wire.MAC{3}, TypeARP, []byte("x"))
	_, ok, err := Decode(raw, wire.MAC{9})
	if err != nil || !ok {
		t.Fatalf("broadcast frame should be accepted regardless of our MAC: ok=%v err=%v", ok, err)
	}
}

func TestDecodeShortFrame(t *testing.T) {
	_, _, err := Decode(make([]byte, 10), wire.MAC{})
	if err != ErrShortFrame {
		t.Fatalf("err = %v, want ErrShortFrame", err)
	}
}

func TestEncodeRejectsOversizedPayload(t *testing.T) {
	_, err := Encode(wire.MAC{1}, wire.MAC{2}, TypeIPv4, make([]byte, MaxPayload+1))
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("err = %v, want ErrPayloadTooLarge", err)
	}
}
