package udp

import (
	"errors"

	"github.com/quietmachine/tapstack/internal/netstack/pool"
	"github.com/quietmachine/tapstack/internal/wire"
)

// NumSlots is the fixed UDP PCB pool size.
const NumSlots = 16

// EphemeralLow and EphemeralHigh bound the automatic port-assignment
// range for SendTo.
const (
	EphemeralLow  = 49152
	EphemeralHigh = 65535
)

// State is a UDP PCB's lifecycle state.
type State uint8

const (
	Free State = iota
	Open
	Closing
)

func (s State) String() string {
	switch s {
	case Free:
		return "Free"
	case Open:
		return "Open"
	case Closing:
		return "Closing"
	default:
		return "Unknown"
	}
}

// Endpoint is an (address, port) pair. An ANY address means "any
// interface" for a local endpoint.
type Endpoint struct {
	Addr wire.IPv4
	Port uint16
}

// Datagram is one queued inbound UDP datagram.
type Datagram struct {
	Remote  Endpoint
	Payload []byte
}

type pcb struct {
	state State
	local Endpoint
	queue []Datagram
	wake  chan struct{}
}

// ErrInvalidPCB indicates an operation on a handle that is not an
// allocated PCB.
var ErrInvalidPCB = errors.New("udp: invalid pcb handle")

// ErrAddressInUse indicates a Bind whose endpoint conflicts with
// another Open PCB's local endpoint.
var ErrAddressInUse = errors.New("udp: local address already in use")

// ErrPortsExhausted indicates no ephemeral port was free.
var ErrPortsExhausted = errors.New("udp: no ephemeral port available")

// Table is the fixed 16-slot UDP PCB pool with its blocking user API.
type Table struct {
	pool *pool.Pool[pcb]
}

// NewTable creates an empty UDP PCB table.
func NewTable() *Table {
	return &Table{pool: pool.New[pcb](NumSlots)}
}

// wakeChan performs a non-blocking post to a PCB's wakeup channel; it
// must be called with the pool's internal lock held (i.e. from within a
// Mutate callback) so the state change and the wakeup are atomic.
func wakeChan(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// conflicts reports whether two local endpoints would both be Open
// simultaneously for the same (address-or-ANY, port); at most one PCB
// may be Open for a given (local-address-or-ANY, local-port).
func conflicts(a, b Endpoint) bool {
	if a.Port != b.Port {
		return false
	}
	return a.Addr.IsAny() || b.Addr.IsAny() || a.Addr == b.Addr
}
