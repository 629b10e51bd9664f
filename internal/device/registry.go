package device

import (
	"fmt"

	"github.com/quietmachine/tapstack/internal/netstack/list"
	"github.com/quietmachine/tapstack/internal/wire"
)

// Registry owns the devices region of the stack's four-region lock
// ordering (devices -> protocols -> contexts -> pcbs). Routes live here
// too since route lookup always needs to resolve back to a device.
type Registry struct {
	devices *list.List[*Device]
	Routes  *Table
}

// NewRegistry creates an empty device/route registry.
func NewRegistry() *Registry {
	return &Registry{
		devices: list.New[*Device](),
		Routes:  NewTable(),
	}
}

// Add registers a device, created at startup and never removed.
func (r *Registry) Add(d *Device) {
	r.devices.Append(d)
}

// ByIndex returns the device with the given index.
func (r *Registry) ByIndex(index int) (*Device, bool) {
	return r.devices.Find(func(d *Device) bool { return d.Index == index })
}

// ByName returns the device with the given name.
func (r *Registry) ByName(name string) (*Device, bool) {
	return r.devices.Find(func(d *Device) bool { return d.Name == name })
}

// Each calls fn for every registered device, in registration order.
func (r *Registry) Each(fn func(*Device)) {
	r.devices.Each(fn)
}

// Snapshot returns all registered devices, in registration order.
func (r *Registry) Snapshot() []*Device {
	return r.devices.Snapshot()
}

// InterfaceFor returns the IPv4 interface owning unicast, along with its
// device, or an error if no device carries that unicast address.
func (r *Registry) InterfaceFor(unicast wire.IPv4) (*Device, *Interface, error) {
	var (
		foundDev *Device
		foundIf  *Interface
	)
	r.devices.Each(func(d *Device) {
		if foundDev != nil {
			return
		}
		d.Interfaces.Each(func(ifc *Interface) {
			if foundDev == nil && ifc.Unicast == unicast {
				foundDev, foundIf = d, ifc
			}
		})
	})
	if foundDev == nil {
		return nil, nil, fmt.Errorf("no interface owns address %s", unicast)
	}
	return foundDev, foundIf, nil
}
