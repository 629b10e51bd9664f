// Package bootstrap brings up the two devices this stack runs with at
// startup: the in-process loopback device and a kernel TAP device, each
// with one IPv4 interface, plus the interface routes and default
// gateway route. Devices are created once and never destroyed.
package bootstrap

import (
	"fmt"

	"github.com/quietmachine/tapstack/internal/config"
	"github.com/quietmachine/tapstack/internal/device"
	"github.com/quietmachine/tapstack/internal/netio"
	"github.com/quietmachine/tapstack/internal/wire"
)

// Loopback and TAP device IRQ numbers. IRQ 0 is reserved for the
// loopback device, which raises its own IRQ in-process rather than
// through a kernel fd.
const (
	loopbackIRQ = 0
	tapIRQ      = 1

	loopbackMTU = 65535
)

// Stack is the set of devices and routes built at startup, ready to be
// handed to orchestrator.New.
type Stack struct {
	Registry *device.Registry
	Loopback *device.Device
	Tap      *device.Device

	// Close releases the TAP file descriptor. Safe to call once.
	Close func() error
}

// BringUp constructs the loopback and TAP devices described by cfg,
// registers their interfaces and routes, and sets both devices UP. The
// returned Stack.Close must be called on shutdown to release the TAP fd.
func BringUp(cfg *config.Config) (*Stack, error) {
	registry := device.NewRegistry()

	loAddr, loMask, err := cfg.Device.LoopbackAddr()
	if err != nil {
		return nil, fmt.Errorf("bootstrap: loopback address: %w", err)
	}
	lo := device.New(1, device.Loopback, "lo0", loopbackMTU, wire.MAC{}, wire.MAC{}, loopbackIRQ,
		device.FlagUp|device.FlagLoopback)
	lo.Interfaces.Append(device.NewInterface(loAddr, loMask))
	lo.SetDriver(netio.NewLoopback(loopbackIRQ))
	registry.Add(lo)
	registry.Routes.Add(&device.Route{
		Network:   loAddr.And(loMask),
		Netmask:   loMask,
		Interface: lo,
	})

	tapAddr, tapMask, err := cfg.Device.TapAddr()
	if err != nil {
		return nil, fmt.Errorf("bootstrap: tap address: %w", err)
	}
	gateway, err := cfg.Device.GatewayAddr()
	if err != nil {
		return nil, fmt.Errorf("bootstrap: gateway address: %w", err)
	}

	drv, mac, mtu, err := netio.OpenTAP(cfg.Device.TapName, tapIRQ)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: open tap %s: %w", cfg.Device.TapName, err)
	}

	tap := device.New(2, device.Ethernet, cfg.Device.TapName, mtu, mac, wire.BroadcastMAC, tapIRQ,
		device.FlagUp|device.FlagBroadcast|device.FlagNeedsARP)
	tap.Interfaces.Append(device.NewInterface(tapAddr, tapMask))
	tap.SetDriver(drv)
	registry.Add(tap)
	registry.Routes.Add(&device.Route{
		Network:   tapAddr.And(tapMask),
		Netmask:   tapMask,
		Interface: tap,
	})
	registry.Routes.Add(&device.Route{
		Network:   wire.Any,
		Netmask:   wire.Any,
		NextHop:   gateway,
		Interface: tap,
	})

	return &Stack{
		Registry: registry,
		Loopback: lo,
		Tap:      tap,
		Close:    drv.Close,
	}, nil
}
