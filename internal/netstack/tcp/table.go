package tcp

import (
	"errors"
	"math/rand/v2"

	"github.com/quietmachine/tapstack/internal/device"
	"github.com/quietmachine/tapstack/internal/netstack/ipv4"
	"github.com/quietmachine/tapstack/internal/netstack/pool"
)

// NumSlots is the fixed TCP PCB pool size.
const NumSlots = 16

// EphemeralLow and EphemeralHigh bound automatic local-port assignment
// for Connect, the same dynamic range UDP SendTo draws from.
const (
	EphemeralLow  = 49152
	EphemeralHigh = 65535
)

var ErrInvalidPCB = errors.New("tcp: invalid pcb handle")
var ErrAddressInUse = errors.New("tcp: local address already in use")
var ErrPortsExhausted = errors.New("tcp: no ephemeral port available")
var ErrNotListening = errors.New("tcp: pcb is not Listen")
var ErrWrongState = errors.New("tcp: operation invalid in current state")

// DefaultMTU is assumed when a PCB has no device-derived MTU; the MSS
// follows as the MTU less the fixed IPv4 and TCP header lengths.
const DefaultMTU = 1500

// Table is the fixed 16-slot TCP PCB pool, bound to the IPv4 output
// path and route table it transmits through.
type Table struct {
	pool   *pool.Pool[PCB]
	routes *device.Table
	out    *ipv4.Outputer

	// OnStateChange, when set, is called after a PCB moves between
	// states. Must be safe for concurrent use.
	OnStateChange func(from, to State)
}

func (t *Table) noteTransition(from, to State) {
	if t.OnStateChange != nil && from != to {
		t.OnStateChange(from, to)
	}
}

// NewTable creates an empty TCP PCB table bound to routes/out for
// transmitting segments.
func NewTable(routes *device.Table, out *ipv4.Outputer) *Table {
	return &Table{pool: pool.New[PCB](NumSlots), routes: routes, out: out}
}

func newISS() uint32 {
	return rand.Uint32()
}

func mss(mtu int) int {
	m := mtu - ipv4HeaderLen - HeaderLen
	if m < 0 {
		m = 0
	}
	return m
}

const ipv4HeaderLen = 20

// localConflicts reports whether two local endpoints would both be
// listening/bound simultaneously for the same (address-or-ANY, port).
func localConflicts(a, b Endpoint) bool {
	if a.Port != b.Port {
		return false
	}
	return a.Addr.IsAny() || b.Addr.IsAny() || a.Addr == b.Addr
}

// findConnection returns the handle of the PCB exactly matching
// (local, remote), an Established-style connection match.
func (t *Table) findConnection(local, remote Endpoint) (int, bool) {
	return t.pool.Find(func(p PCB) bool {
		return p.State != Free && p.State != Closed && p.Local == local && p.Remote == remote
	})
}

// findListener returns the handle of a Listen PCB bound to local's
// port with a matching or wildcard address.
func (t *Table) findListener(local Endpoint) (int, bool) {
	return t.pool.Find(func(p PCB) bool {
		return p.State == Listen && localConflicts(p.Local, local)
	})
}
