package icmp

import (
	"testing"

	"github.com/quietmachine/tapstack/internal/wire"
)

func buildEchoRequest(t *testing.T, id, seq uint16, payload []byte) []byte {
	t.Helper()
	seg := make([]byte, HeaderLen+len(payload))
	seg[0] = TypeEchoRequest
	seg[1] = 0
	seg[4] = byte(id >> 8)
	seg[5] = byte(id)
	seg[6] = byte(seq >> 8)
	seg[7] = byte(seq)
	copy(seg[HeaderLen:], payload)
	sum := wire.Checksum(seg, 0)
	seg[2] = byte(sum >> 8)
	seg[3] = byte(sum)
	return seg
}

func TestDecodeEchoRequestRoundTrip(t *testing.T) {
	payload := []byte("abcdefgh")
	seg := buildEchoRequest(t, 42, 7, payload)

	echo, err := DecodeEchoRequest(seg)
	if err != nil {
		t.Fatal(err)
	}
	if echo.ID != 42 || echo.Seq != 7 || string(echo.Payload) != string(payload) {
		t.Fatalf("decoded = %+v", echo)
	}
}

func TestDecodeEchoRequestRejectsOtherTypes(t *testing.T) {
	seg := buildEchoRequest(t, 1, 1, nil)
	seg[0] = TypeEchoReply
	// recompute checksum so the failure is specifically about type, not checksum
	seg[2], seg[3] = 0, 0
	sum := wire.Checksum(seg, 0)
	seg[2], seg[3] = byte(sum>>8), byte(sum)

	if _, err := DecodeEchoRequest(seg); err != ErrNotEchoRequest {
		t.Fatalf("err = %v, want ErrNotEchoRequest", err)
	}
}

func TestDecodeEchoRequestRejectsBadChecksum(t *testing.T) {
	seg := buildEchoRequest(t, 1, 1, []byte("x"))
	seg[2] ^= 0xFF
	if _, err := DecodeEchoRequest(seg); err != ErrChecksum {
		t.Fatalf("err = %v, want ErrChecksum", err)
	}
}

func TestEncodeEchoReplyChecksumIsZero(t *testing.T) {
	seg := buildEchoRequest(t, 5, 9, []byte("payload"))
	req, err := DecodeEchoRequest(seg)
	if err != nil {
		t.Fatal(err)
	}

	reply := EncodeEchoReply(req)
	if reply[0] != TypeEchoReply {
		t.Fatalf("reply type = %d, want %d", reply[0], TypeEchoReply)
	}
	if wire.Checksum(reply, 0) != 0 {
		t.Fatal("reply checksum must sum to zero")
	}
	if string(reply[HeaderLen:]) != "payload" {
		t.Fatalf("reply payload = %q", reply[HeaderLen:])
	}
}

func TestReplyDestinationRewritesBroadcast(t *testing.T) {
	unicast := wire.IPv4{192, 0, 2, 2}
	broadcast := wire.IPv4{192, 0, 2, 255}
	other := wire.IPv4{198, 51, 100, 1}

	if got := ReplyDestination(broadcast, broadcast, unicast); got != unicast {
		t.Fatalf("broadcast dst rewritten to %v, want %v", got, unicast)
	}
	if got := ReplyDestination(other, broadcast, unicast); got != other {
		t.Fatalf("non-broadcast dst changed to %v, want unchanged %v", got, other)
	}
}
