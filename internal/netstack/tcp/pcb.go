package tcp

import (
	"time"

	"github.com/quietmachine/tapstack/internal/wire"
)

// State is a TCP PCB's lifecycle state: the eleven RFC 793 states plus
// Free, which precedes Closed to mark an unallocated slot.
type State uint8

const (
	Free State = iota
	Closed
	Listen
	SynSent
	SynReceived
	Established
	FinWait1
	FinWait2
	Closing
	TimeWait
	CloseWait
	LastAck
)

func (s State) String() string {
	switch s {
	case Free:
		return "Free"
	case Closed:
		return "Closed"
	case Listen:
		return "Listen"
	case SynSent:
		return "SynSent"
	case SynReceived:
		return "SynReceived"
	case Established:
		return "Established"
	case FinWait1:
		return "FinWait1"
	case FinWait2:
		return "FinWait2"
	case Closing:
		return "Closing"
	case TimeWait:
		return "TimeWait"
	case CloseWait:
		return "CloseWait"
	case LastAck:
		return "LastAck"
	default:
		return "Unknown"
	}
}

// Mode distinguishes the RFC793Open blocking-handshake API from the
// BSD-like socket API.
type Mode uint8

const (
	ModeNotSet Mode = iota
	ModeRfc793
	ModeSocket
)

func (m Mode) String() string {
	switch m {
	case ModeRfc793:
		return "Rfc793"
	case ModeSocket:
		return "Socket"
	default:
		return "NotSet"
	}
}

// Endpoint is a (address, port) pair. An ANY address on a local
// endpoint means "any interface"; a zero remote endpoint means
// "unbound" (Listen).
type Endpoint struct {
	Addr wire.IPv4
	Port uint16
}

// sendContext is the send-side sequence-space state (RFC 793 SND.*).
type sendContext struct {
	next   uint32
	una    uint32
	window uint16
	urg    bool
	wl1    uint32
	wl2    uint32
	iss    uint32
}

// recvContext is the receive-side sequence-space state (RFC 793 RCV.*).
type recvContext struct {
	next   uint32
	window uint16
	urg    bool
	irs    uint32
}

// RecvBufferCap bounds the receive buffer at the largest window a
// 16-bit window field can advertise.
const RecvBufferCap = 65535

// unacked is one entry of the per-PCB retransmit queue.
type unacked struct {
	firstSentAt   time.Time
	lastSentAt    time.Time
	retryInterval time.Duration
	seq           uint32
	flags         Flags
	data          []byte
}

// DefaultRetryInterval is the default retransmission retry interval.
const DefaultRetryInterval = 200 * time.Millisecond

// RetransmitTimeout is the elapsed time since a segment's first send
// after which the PCB is abandoned.
const RetransmitTimeout = 12 * time.Second

// TimeWaitDuration substitutes a fixed 30-second wait for RFC 793's 2 MSL.
const TimeWaitDuration = 30 * time.Second

// PCB is one TCP protocol control block.
type PCB struct {
	State  State
	Mode   Mode
	Local  Endpoint
	Remote Endpoint

	Send sendContext
	Recv recvContext

	MTU int
	MSS int

	RecvBuffer []byte

	WaitTime time.Time

	Wake chan struct{}

	RetransmitQueue []unacked

	HasParent bool
	ParentID  int
	Backlog   []int
}

// freshPCB returns a zero-value PCB initialized with a fresh wakeup
// channel, ready for pool.Alloc.
func freshPCB() PCB {
	return PCB{State: Closed, Wake: make(chan struct{}, 1)}
}

func wakeChan(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
