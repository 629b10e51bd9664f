//go:build linux

package netio

import (
	"fmt"
	"os"
	"syscall"
)

// RTSignalBase is the first real-time signal number carrying a
// per-device IRQ. 34 is SIGRTMIN on glibc Linux; signals below it are
// reserved for standard use.
const RTSignalBase = 34

// SoftIRQSignal is the designated software-interrupt signal that
// carries protocol-drain requests.
const SoftIRQSignal = syscall.SIGUSR1

// DeviceSignal returns the real-time signal carrying irq's per-device
// interrupt, used both to arm a TAP file descriptor (fcntl F_SETSIG) and
// to register the orchestrator's signal.Notify for that device.
func DeviceSignal(irq int) syscall.Signal {
	return syscall.Signal(RTSignalBase + irq)
}

// RaiseDeviceIRQ sends irq's signal to this process, waking the
// orchestrator's signal thread to run the owning device's ISR. Used by
// the loopback driver's Transmit, which has no kernel fd to arm.
func RaiseDeviceIRQ(irq int) error {
	if err := syscall.Kill(os.Getpid(), DeviceSignal(irq)); err != nil {
		return fmt.Errorf("netio: raise device irq %d: %w", irq, err)
	}
	return nil
}
