//go:build linux

package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quietmachine/tapstack/internal/device"
	"github.com/quietmachine/tapstack/internal/netio"
)

// RetransmitTickInterval is how often RunRetransmit sweeps the TCP
// retransmit queues; the 200ms default retry interval wants a tick
// finer than that to catch timers promptly.
const RetransmitTickInterval = 100 * time.Millisecond

// raiseSoftIRQ sends this process its own software-interrupt signal,
// waking Run's select loop to call DrainProtocols.
func (s *Stack) raiseSoftIRQ() error {
	if err := syscall.Kill(os.Getpid(), netio.SoftIRQSignal); err != nil {
		return fmt.Errorf("orchestrator: raise soft irq: %w", err)
	}
	return nil
}

// Run is the orchestrator's single signal goroutine: it registers every
// device's real-time IRQ signal plus the software interrupt, then loops
// until ctx is done, always handling one signal at a time so that
// HandleIRQ and DrainProtocols never run concurrently with each other.
func (s *Stack) Run(ctx context.Context) error {
	sigCh := make(chan os.Signal, 64)
	defer signal.Stop(sigCh)

	byDeviceSignal := make(map[syscall.Signal]*device.Device)
	s.Devices.Each(func(d *device.Device) {
		sig := netio.DeviceSignal(d.IRQ)
		byDeviceSignal[sig] = d
		signal.Notify(sigCh, sig)
	})
	signal.Notify(sigCh, netio.SoftIRQSignal)

	for {
		select {
		case <-ctx.Done():
			return nil
		case raw := <-sigCh:
			sig, ok := raw.(syscall.Signal)
			if !ok {
				continue
			}
			if sig == netio.SoftIRQSignal {
				s.DrainProtocols()
				continue
			}
			dev, ok := byDeviceSignal[sig]
			if !ok {
				s.Logger.Debug("unexpected signal", slog.String("signal", sig.String()))
				continue
			}
			if err := s.HandleIRQ(dev); err != nil {
				s.Logger.Warn("device isr failed",
					slog.String("device", dev.Name),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunRetransmit drives the TCP retransmission timer, ticking the
// table's queues until ctx is done. It runs on its own goroutine,
// separate from the signal loop, since retransmission is time-driven
// rather than interrupt-driven.
func (s *Stack) RunRetransmit(ctx context.Context) error {
	ticker := time.NewTicker(RetransmitTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			resent, abandoned := s.TCP.Tick(now)
			if s.Metrics != nil {
				s.Metrics.AddTCPRetransmissions(resent)
				s.Metrics.AddTCPConnectionFailures(abandoned)
			}
		}
	}
}
