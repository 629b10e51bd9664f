package udp

import (
	"context"

	"github.com/quietmachine/tapstack/internal/device"
	"github.com/quietmachine/tapstack/internal/netstack/ipv4"
	"github.com/quietmachine/tapstack/internal/wire"
)

// Open claims a Free slot and marks it Open with an unbound local
// endpoint.
func (t *Table) Open() (int, error) {
	return t.pool.Alloc(pcb{state: Open, wake: make(chan struct{}, 1)})
}

// Bind assigns local to handle, requiring that no other Open PCB
// already uses (addr-or-ANY, port).
func (t *Table) Bind(handle int, local Endpoint) error {
	if _, found := t.pool.Find(func(p pcb) bool {
		return p.state == Open && conflicts(p.local, local)
	}); found {
		return ErrAddressInUse
	}
	return t.pool.Mutate(handle, func(p pcb) pcb {
		p.local = local
		return p
	})
}

// SendTo transmits data to remote via out, resolving an unset local
// address through a route lookup on remote and an unset local port
// from the ephemeral range.
func (t *Table) SendTo(handle int, data []byte, remote Endpoint, routes *device.Table, out *ipv4.Outputer) error {
	p, ok := t.pool.Get(handle)
	if !ok {
		return ErrInvalidPCB
	}

	local := p.local
	if local.Addr.IsAny() {
		route, ok := routes.Lookup(remote.Addr)
		if !ok {
			return ipv4.ErrNoRoute
		}
		ifc, ok := route.Interface.PrimaryInterface()
		if !ok {
			return ErrInvalidPCB
		}
		local.Addr = ifc.Unicast
	}
	if local.Port == 0 {
		port, err := t.allocateEphemeralPort(local.Addr)
		if err != nil {
			return err
		}
		local.Port = port
	}
	if local != p.local {
		np := p
		np.local = local
		if err := t.pool.Update(handle, np); err != nil {
			return err
		}
	}

	seg, err := Encode(local.Addr, remote.Addr, local.Port, remote.Port, data)
	if err != nil {
		return err
	}
	return out.Output(ipv4.ProtoUDP, seg, local.Addr, remote.Addr)
}

// allocateEphemeralPort picks the lowest free port in
// [EphemeralLow, EphemeralHigh] not already used by an Open PCB bound
// to addr or ANY.
func (t *Table) allocateEphemeralPort(addr wire.IPv4) (uint16, error) {
	for port := EphemeralLow; port <= EphemeralHigh; port++ {
		candidate := Endpoint{Addr: addr, Port: uint16(port)}
		if _, found := t.pool.Find(func(p pcb) bool {
			return p.state == Open && conflicts(p.local, candidate)
		}); !found {
			return uint16(port), nil
		}
	}
	return 0, ErrPortsExhausted
}

// ReceiveFrom blocks until handle's inbound queue is non-empty or the
// PCB transitions to Closing, then pops and returns the head datagram.
// ok is false if the PCB was closed while waiting.
func (t *Table) ReceiveFrom(ctx context.Context, handle int) (Datagram, bool, error) {
	waited := false
	for {
		p, ok := t.pool.Get(handle)
		if !ok {
			if waited {
				// Close released the slot while this call was blocked.
				return Datagram{}, false, nil
			}
			return Datagram{}, false, ErrInvalidPCB
		}

		if len(p.queue) > 0 {
			dg := p.queue[0]
			err := t.pool.Mutate(handle, func(v pcb) pcb {
				v.queue = v.queue[1:]
				return v
			})
			if err != nil {
				return Datagram{}, false, err
			}
			return dg, true, nil
		}
		if p.state == Closing {
			return Datagram{}, false, nil
		}

		select {
		case <-p.wake:
			waited = true
		case <-ctx.Done():
			return Datagram{}, false, ctx.Err()
		}
	}
}

// Close sets handle to Closing, wakes any blocked receiver (which will
// observe Closing and return none), then releases the slot.
func (t *Table) Close(handle int) {
	_ = t.pool.Mutate(handle, func(p pcb) pcb {
		p.state = Closing
		wakeChan(p.wake)
		return p
	})
	t.pool.Release(handle)
}

// Snapshot is a point-in-time view of one UDP PCB, for admin/metrics
// introspection.
type Snapshot struct {
	Handle  int
	State   State
	Local   Endpoint
	Pending int
}

// Snapshot returns every non-Free PCB's current state, in pool order.
func (t *Table) Snapshot() []Snapshot {
	var out []Snapshot
	t.pool.Each(func(h int, p pcb) {
		if p.state == Free {
			return
		}
		out = append(out, Snapshot{Handle: h, State: p.state, Local: p.local, Pending: len(p.queue)})
	})
	return out
}

// CloseAll closes every non-Free PCB, waking every blocked receiver.
// Used during orchestrator shutdown.
func (t *Table) CloseAll() {
	var handles []int
	t.pool.Each(func(handle int, p pcb) {
		if p.state != Free {
			handles = append(handles, handle)
		}
	})
	for _, handle := range handles {
		t.Close(handle)
	}
}
