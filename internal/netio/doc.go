// Package netio implements the two device.Driver backends this stack
// runs on: a TAP virtual Ethernet device backed by the host kernel and
// an in-process loopback device. Both drivers participate in the
// signal-driven dispatch model via the per-device real-time-signal IRQ
// helpers in irq_linux.go.
package netio
