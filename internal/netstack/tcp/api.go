package tcp

import (
	"context"
	"errors"
	"time"

	"github.com/quietmachine/tapstack/internal/netstack/ipv4"
	"github.com/quietmachine/tapstack/internal/wire"
)

// ErrClosed is returned by a blocking call that woke because its PCB
// was released (peer reset, timeout, or local close) rather than
// reaching the state the caller was waiting for.
var ErrClosed = errors.New("tcp: connection closed")

// Open claims a Free slot in Socket mode, state Closed.
func (t *Table) Open() (int, error) {
	p := freshPCB()
	p.Mode = ModeSocket
	p.MTU = DefaultMTU
	p.MSS = mss(DefaultMTU)
	return t.pool.Alloc(p)
}

// Bind assigns local to handle, requiring no conflicting Listen/bound
// PCB (BSD semantics).
func (t *Table) Bind(handle int, local Endpoint) error {
	if _, found := t.pool.Find(func(p PCB) bool {
		return p.State != Free && localConflicts(p.Local, local)
	}); found {
		return ErrAddressInUse
	}
	return t.pool.Mutate(handle, func(p PCB) PCB {
		p.Local = local
		return p
	})
}

// Listen transitions handle to Listen (BSD semantics).
func (t *Table) Listen(handle int) error {
	return t.pool.Mutate(handle, func(p PCB) PCB {
		p.State = Listen
		if p.Mode == ModeNotSet {
			p.Mode = ModeSocket
		}
		return p
	})
}

// Accept blocks until handle's backlog is non-empty and returns the
// head child PCB's handle, which is already Established.
func (t *Table) Accept(ctx context.Context, handle int) (int, error) {
	for {
		p, ok := t.pool.Get(handle)
		if !ok {
			return 0, ErrInvalidPCB
		}
		if p.State != Listen {
			return 0, ErrNotListening
		}
		if len(p.Backlog) > 0 {
			child := p.Backlog[0]
			err := t.pool.Mutate(handle, func(v PCB) PCB {
				v.Backlog = v.Backlog[1:]
				return v
			})
			return child, err
		}

		select {
		case <-p.Wake:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

// Connect resolves handle's local address/port the same way UDP SendTo
// does, emits a SYN, and blocks until Established or the connection is
// abandoned.
func (t *Table) Connect(ctx context.Context, handle int, remote Endpoint) error {
	p, ok := t.pool.Get(handle)
	if !ok {
		return ErrInvalidPCB
	}

	local, err := t.resolveLocal(p.Local, remote.Addr)
	if err != nil {
		return err
	}

	iss := newISS()
	err = t.pool.Mutate(handle, func(v PCB) PCB {
		v.Local = local
		v.Remote = remote
		v.State = SynSent
		v.Send = sendContext{next: iss + 1, una: iss, iss: iss}
		v.Recv = recvContext{window: RecvBufferCap}
		v.RetransmitQueue = []unacked{{firstSentAt: time.Now(), lastSentAt: time.Now(), retryInterval: DefaultRetryInterval, seq: iss, flags: FlagSYN}}
		return v
	})
	if err != nil {
		return err
	}
	if serr := t.send(local, remote, rawSegment{Seq: iss, Flags: FlagSYN, Window: RecvBufferCap}); serr != nil {
		return serr
	}

	return t.waitForEstablished(ctx, handle)
}

// RFC793Open is the RFC 793 Section 3.8 OPEN call: active opens a
// connection like Connect; passive opens a Listen PCB in Rfc793 mode
// and blocks until one SynReceived completes to Established (the
// listening PCB itself, since Rfc793 mode has no socket multiplexing).
func (t *Table) RFC793Open(ctx context.Context, local Endpoint, remote *Endpoint, active bool) (int, error) {
	p := freshPCB()
	p.Mode = ModeRfc793
	p.MTU = DefaultMTU
	p.MSS = mss(DefaultMTU)
	p.Local = local
	handle, err := t.pool.Alloc(p)
	if err != nil {
		return 0, err
	}

	if !active {
		if err := t.pool.Mutate(handle, func(v PCB) PCB { v.State = Listen; return v }); err != nil {
			return 0, err
		}
		if err := t.waitForEstablished(ctx, handle); err != nil {
			return 0, err
		}
		return handle, nil
	}

	if err := t.Connect(ctx, handle, *remote); err != nil {
		return 0, err
	}
	return handle, nil
}

func (t *Table) waitForEstablished(ctx context.Context, handle int) error {
	for {
		p, ok := t.pool.Get(handle)
		if !ok {
			return ErrClosed
		}
		if p.State == Established {
			return nil
		}
		select {
		case <-p.Wake:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// resolveLocal substitutes local.Addr (if ANY) via a route lookup on
// remote, and local.Port (if 0) from the ephemeral range, mirroring the
// UDP send_to convention.
func (t *Table) resolveLocal(local Endpoint, remote wire.IPv4) (Endpoint, error) {
	if local.Addr.IsAny() {
		route, ok := t.routes.Lookup(remote)
		if !ok {
			return Endpoint{}, ipv4.ErrNoRoute
		}
		ifc, ok := route.Interface.PrimaryInterface()
		if !ok {
			return Endpoint{}, ErrInvalidPCB
		}
		local.Addr = ifc.Unicast
	}
	if local.Port == 0 {
		port, err := t.allocateEphemeralPort(local.Addr)
		if err != nil {
			return Endpoint{}, err
		}
		local.Port = port
	}
	return local, nil
}

func (t *Table) allocateEphemeralPort(addr wire.IPv4) (uint16, error) {
	for port := EphemeralLow; port <= EphemeralHigh; port++ {
		candidate := Endpoint{Addr: addr, Port: uint16(port)}
		if _, found := t.pool.Find(func(p PCB) bool {
			return p.State != Free && localConflicts(p.Local, candidate)
		}); !found {
			return uint16(port), nil
		}
	}
	return 0, ErrPortsExhausted
}

// Send segments data by min(mss, remaining, send.window − in-flight),
// blocking while the window is closed, and fails if the connection is
// not in a data-sending state.
func (t *Table) Send(ctx context.Context, handle int, data []byte) error {
	for len(data) > 0 {
		p, ok := t.pool.Get(handle)
		if !ok {
			return ErrClosed
		}
		switch p.State {
		case Closing, Closed, Free, Listen, SynSent, SynReceived:
			return ErrWrongState
		}

		inFlight := uint32(0)
		for _, seg := range p.RetransmitQueue {
			inFlight += uint32(segLenOf(seg.flags, len(seg.data)))
		}
		available := int(p.Send.window) - int(inFlight)
		if available <= 0 {
			select {
			case <-p.Wake:
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		chunk := len(data)
		if chunk > p.MSS {
			chunk = p.MSS
		}
		if chunk > available {
			chunk = available
		}
		if chunk <= 0 {
			continue
		}

		seq := p.Send.next
		payload := data[:chunk]
		err := t.pool.Mutate(handle, func(v PCB) PCB {
			v.Send.next += uint32(chunk)
			v.RetransmitQueue = append(v.RetransmitQueue, unacked{
				firstSentAt: time.Now(), lastSentAt: time.Now(),
				retryInterval: DefaultRetryInterval, seq: seq, flags: FlagPSH | FlagACK, data: payload,
			})
			return v
		})
		if err != nil {
			return err
		}
		if serr := t.send(p.Local, p.Remote, rawSegment{Seq: seq, Ack: p.Recv.next, Flags: FlagPSH | FlagACK, Window: p.Recv.window, Data: payload}); serr != nil {
			return serr
		}
		data = data[chunk:]
	}
	return nil
}

// Receive blocks until handle's receive buffer has at least one byte
// or the PCB closes, then returns up to size bytes and advances
// recv.window by the returned length.
func (t *Table) Receive(ctx context.Context, handle int, size int) ([]byte, error) {
	for {
		p, ok := t.pool.Get(handle)
		if !ok {
			return nil, ErrClosed
		}
		if len(p.RecvBuffer) > 0 {
			n := size
			if n > len(p.RecvBuffer) {
				n = len(p.RecvBuffer)
			}
			var out []byte
			err := t.pool.Mutate(handle, func(v PCB) PCB {
				out = append([]byte(nil), v.RecvBuffer[:n]...)
				v.RecvBuffer = v.RecvBuffer[n:]
				v.Recv.window += uint16(n)
				return v
			})
			return out, err
		}
		switch p.State {
		case Closed, Free, CloseWait, Closing, TimeWait, LastAck:
			return nil, nil
		}

		select {
		case <-p.Wake:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Close emits RST and releases handle immediately, dropping anything
// still in flight. CloseGraceful below is the FIN-handshake alternative.
func (t *Table) Close(handle int) {
	p, ok := t.pool.Get(handle)
	if ok && p.State != Free && p.State != Closed {
		_ = t.send(p.Local, p.Remote, rawSegment{Seq: p.Send.next, Flags: FlagRST, NoRetransmit: true})
	}
	_ = t.pool.Mutate(handle, func(v PCB) PCB {
		wakeChan(v.Wake)
		return v
	})
	t.pool.Release(handle)
}

// Snapshot is a point-in-time view of one TCP PCB, for admin/metrics
// introspection.
type Snapshot struct {
	Handle int
	State  State
	Mode   Mode
	Local  Endpoint
	Remote Endpoint
}

// Snapshot returns every non-Free PCB's current state, in pool order.
func (t *Table) Snapshot() []Snapshot {
	var out []Snapshot
	t.pool.Each(func(h int, p PCB) {
		if p.State == Free {
			return
		}
		out = append(out, Snapshot{Handle: h, State: p.State, Mode: p.Mode, Local: p.Local, Remote: p.Remote})
	})
	return out
}

// CloseAll closes every non-Free PCB, waking every blocked user call.
// Used during orchestrator shutdown.
func (t *Table) CloseAll() {
	var handles []int
	t.pool.Each(func(handle int, p PCB) {
		if p.State != Free {
			handles = append(handles, handle)
		}
	})
	for _, handle := range handles {
		t.Close(handle)
	}
}

// CloseGraceful initiates a FIN-based close (Established to FinWait1,
// then on to FinWait2/TimeWait as the peer answers) instead of the RST
// path.
func (t *Table) CloseGraceful(handle int) error {
	p, ok := t.pool.Get(handle)
	if !ok {
		return ErrInvalidPCB
	}
	if p.State != Established && p.State != CloseWait {
		return ErrWrongState
	}

	seq := p.Send.next
	nextState := FinWait1
	if p.State == CloseWait {
		nextState = LastAck
	}
	err := t.pool.Mutate(handle, func(v PCB) PCB {
		v.Send.next++
		v.State = nextState
		v.RetransmitQueue = append(v.RetransmitQueue, unacked{
			firstSentAt: time.Now(), lastSentAt: time.Now(),
			retryInterval: DefaultRetryInterval, seq: seq, flags: FlagFIN | FlagACK,
		})
		return v
	})
	if err != nil {
		return err
	}
	return t.send(p.Local, p.Remote, rawSegment{Seq: seq, Ack: p.Recv.next, Flags: FlagFIN | FlagACK, Window: p.Recv.window})
}
