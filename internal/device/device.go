// Package device implements the device/interface/route data model:
// devices are created at startup, opened once, and never destroyed;
// interfaces are owned by exactly one device; routes reference an
// interface read-only.
package device

import (
	"fmt"
	"sync"

	"github.com/quietmachine/tapstack/internal/netstack/list"
	"github.com/quietmachine/tapstack/internal/wire"
)

// Type distinguishes the two device kinds this stack drives.
type Type uint8

const (
	// Loopback is the in-process loopback device (IP-only, no framing).
	Loopback Type = iota + 1
	// Ethernet is a framed Ethernet/TAP device.
	Ethernet
)

func (t Type) String() string {
	switch t {
	case Loopback:
		return "loopback"
	case Ethernet:
		return "ethernet"
	default:
		return "unknown"
	}
}

// Flags is the device flag bitset.
type Flags uint16

const (
	// FlagUp must be set for transmit to be accepted.
	FlagUp Flags = 1 << iota
	FlagLoopback
	FlagBroadcast
	FlagP2P
	// FlagNeedsARP marks a device whose egress requires ARP resolution
	// (cleared for loopback and point-to-point devices).
	FlagNeedsARP
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// Interface is an IPv4 interface bound to exactly one device. Broadcast
// is derived as Unicast | ^Netmask at construction.
type Interface struct {
	Unicast   wire.IPv4
	Netmask   wire.IPv4
	Broadcast wire.IPv4
}

// NewInterface builds an Interface, deriving Broadcast from Unicast and
// Netmask.
func NewInterface(unicast, netmask wire.IPv4) *Interface {
	return &Interface{
		Unicast:   unicast,
		Netmask:   netmask,
		Broadcast: wire.BroadcastOf(unicast, netmask),
	}
}

// Driver is the opaque per-device I/O handle: transmit a frame/payload,
// and run one iteration of the interrupt service routine (read one
// frame/payload and hand it to deliver). Implemented by the TAP and
// loopback drivers in package netio.
type Driver interface {
	// Transmit writes a single outbound unit (an Ethernet frame for
	// Ethernet devices, a bare IPv4 payload for loopback) to the device.
	Transmit(payload []byte) error
	// ISR performs one blocking read and invokes deliver with the
	// decoded ethertype and payload. Called by the orchestrator signal
	// thread once per device-IRQ signal.
	ISR(deliver func(ethertype uint16, payload []byte)) error
}

// Device is the identity and state of one network device. Devices are
// created at startup, opened once, and never destroyed; the flags and
// the attached driver (SetDriver) are the only fields mutated after
// construction.
type Device struct {
	Index       int
	Type        Type
	Name        string
	MTU         int
	HWAddr      wire.MAC
	BroadcastHW wire.MAC
	IRQ         int

	Interfaces *list.List[*Interface]

	mu     sync.RWMutex
	flags  Flags
	driver Driver
}

// New creates a Device. The driver is attached separately via SetDriver
// once the underlying TAP/loopback handle has been opened (register,
// then open).
func New(index int, typ Type, name string, mtu int, hwAddr, bcastHW wire.MAC, irq int, flags Flags) *Device {
	return &Device{
		Index:       index,
		Type:        typ,
		Name:        name,
		MTU:         mtu,
		HWAddr:      hwAddr,
		BroadcastHW: bcastHW,
		IRQ:         irq,
		Interfaces:  list.New[*Interface](),
		flags:       flags,
	}
}

// SetDriver attaches the opaque I/O handle once the device is open.
func (d *Device) SetDriver(drv Driver) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.driver = drv
}

// Flags returns the current flag bitset.
func (d *Device) Flags() Flags {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.flags
}

// SetUp sets or clears FlagUp.
func (d *Device) SetUp(up bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if up {
		d.flags |= FlagUp
	} else {
		d.flags &^= FlagUp
	}
}

// Transmit writes payload to the device. A transmit is rejected unless
// FlagUp is set.
func (d *Device) Transmit(payload []byte) error {
	d.mu.RLock()
	drv, up := d.driver, d.flags.Has(FlagUp)
	d.mu.RUnlock()

	if !up {
		return fmt.Errorf("device %s: transmit rejected: device not UP", d.Name)
	}
	if drv == nil {
		return fmt.Errorf("device %s: transmit rejected: no driver attached", d.Name)
	}
	return drv.Transmit(payload)
}

// ISR runs one interrupt-service-routine iteration, delivering the
// decoded unit to deliver. Called by the orchestrator on the device's
// IRQ signal.
func (d *Device) ISR(deliver func(ethertype uint16, payload []byte)) error {
	d.mu.RLock()
	drv := d.driver
	d.mu.RUnlock()

	if drv == nil {
		return fmt.Errorf("device %s: isr: no driver attached", d.Name)
	}
	return drv.ISR(deliver)
}

// PrimaryInterface returns the device's first registered IPv4 interface,
// which is the common case (one interface per device in this stack).
func (d *Device) PrimaryInterface() (*Interface, bool) {
	return d.Interfaces.Find(func(*Interface) bool { return true })
}
