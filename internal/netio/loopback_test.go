//go:build linux

package netio

import (
	"testing"

	"github.com/quietmachine/tapstack/internal/netstack/ethernet"
)

func TestLoopbackTransmitThenISRDelivers(t *testing.T) {
	drv := NewLoopback(1)

	payload := []byte{1, 2, 3, 4}
	// Raising the real IRQ signal requires a registered handler; the
	// ISR/slot hand-off is exercised directly here, independent of the
	// signal plumbing covered by the orchestrator package's own tests.
	drv.mu.Lock()
	drv.slot = append([]byte(nil), payload...)
	drv.mu.Unlock()

	var gotType uint16
	var gotPayload []byte
	if err := drv.ISR(func(ethertype uint16, payload []byte) {
		gotType = ethertype
		gotPayload = payload
	}); err != nil {
		t.Fatalf("ISR: %v", err)
	}

	if gotType != uint16(ethernet.TypeIPv4) {
		t.Errorf("ethertype = %#x, want %#x", gotType, ethernet.TypeIPv4)
	}
	if string(gotPayload) != string(payload) {
		t.Errorf("payload = %v, want %v", gotPayload, payload)
	}
}

func TestLoopbackISREmptySlotIsNoop(t *testing.T) {
	drv := NewLoopback(1)

	called := false
	if err := drv.ISR(func(uint16, []byte) { called = true }); err != nil {
		t.Fatalf("ISR: %v", err)
	}
	if called {
		t.Error("ISR invoked deliver on an empty slot")
	}
}

func TestLoopbackISRDrainsSlotOnce(t *testing.T) {
	drv := NewLoopback(1)
	drv.mu.Lock()
	drv.slot = []byte{9}
	drv.mu.Unlock()

	calls := 0
	deliver := func(uint16, []byte) { calls++ }
	if err := drv.ISR(deliver); err != nil {
		t.Fatalf("first ISR: %v", err)
	}
	if err := drv.ISR(deliver); err != nil {
		t.Fatalf("second ISR: %v", err)
	}
	if calls != 1 {
		t.Errorf("deliver called %d times, want 1", calls)
	}
}
