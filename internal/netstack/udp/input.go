package udp

import "github.com/quietmachine/tapstack/internal/wire"

// Input decodes seg as a UDP segment from src to dst and delivers it to
// the Open PCB bound to (dst-or-ANY, decoded dst port). delivered is
// false (nil error) when no matching PCB is Open, which the caller
// treats as a silent drop.
func (t *Table) Input(seg []byte, src, dst wire.IPv4) (delivered bool, err error) {
	h, payload, err := Decode(seg, src, dst)
	if err != nil {
		return false, err
	}

	target := Endpoint{Addr: dst, Port: h.DstPort}
	handle, found := t.pool.Find(func(p pcb) bool {
		return p.state == Open && conflicts(p.local, target)
	})
	if !found {
		return false, nil
	}

	dg := Datagram{Remote: Endpoint{Addr: src, Port: h.SrcPort}, Payload: payload}
	err = t.pool.Mutate(handle, func(p pcb) pcb {
		p.queue = append(p.queue, dg)
		wakeChan(p.wake)
		return p
	})
	return err == nil, err
}
