//go:build linux

package netio

import (
	"sync"

	"github.com/quietmachine/tapstack/internal/netstack/ethernet"
)

// LoopbackDriver implements device.Driver for the in-process loopback
// device: Transmit places the payload in a single slot and raises the
// device's IRQ; ISR reads the slot back and emits it as IP-only, since
// loopback carries no Ethernet framing.
type LoopbackDriver struct {
	mu   sync.Mutex
	slot []byte
	irq  int
}

// NewLoopback creates a loopback driver that raises irq on Transmit.
func NewLoopback(irq int) *LoopbackDriver {
	return &LoopbackDriver{irq: irq}
}

// Transmit stores payload in the single slot and raises the device's
// IRQ, waking the orchestrator's signal thread to run ISR.
func (d *LoopbackDriver) Transmit(payload []byte) error {
	d.mu.Lock()
	d.slot = append([]byte(nil), payload...)
	d.mu.Unlock()
	return RaiseDeviceIRQ(d.irq)
}

// ISR reads the slot and delivers it as a bare IPv4 payload.
func (d *LoopbackDriver) ISR(deliver func(ethertype uint16, payload []byte)) error {
	d.mu.Lock()
	payload := d.slot
	d.slot = nil
	d.mu.Unlock()

	if payload == nil {
		return nil
	}
	deliver(uint16(ethernet.TypeIPv4), payload)
	return nil
}
