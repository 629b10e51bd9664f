// Package orchestrator wires the device, ARP, IPv4, UDP, and TCP layers
// into a single signal-driven dispatch loop: one signal goroutine that,
// on each wakeup, either runs a device's interrupt service routine or
// drains the queued protocol input, always acquiring the devices ->
// protocols -> contexts -> pcbs lock regions in that order.
package orchestrator

import (
	"log/slog"
	"sync"
	"time"

	"github.com/quietmachine/tapstack/internal/device"
	"github.com/quietmachine/tapstack/internal/metrics"
	"github.com/quietmachine/tapstack/internal/netstack/arp"
	"github.com/quietmachine/tapstack/internal/netstack/ethernet"
	"github.com/quietmachine/tapstack/internal/netstack/icmp"
	"github.com/quietmachine/tapstack/internal/netstack/ipv4"
	"github.com/quietmachine/tapstack/internal/netstack/tcp"
	"github.com/quietmachine/tapstack/internal/netstack/udp"
	"github.com/quietmachine/tapstack/internal/wire"
)

// pendingFrame is one entry in the protocol-input queue: a frame that a
// device's ISR has already read off the wire, awaiting dispatch on the
// next software interrupt.
type pendingFrame struct {
	dev       *device.Device
	ethertype uint16
	payload   []byte
}

// Stack owns every protocol layer and the queue that bridges device
// ISRs to protocol dispatch. It has no goroutines of its own; Run and
// RunRetransmit (run_linux.go) drive it from the signal and ticker
// goroutines respectively.
type Stack struct {
	Devices *device.Registry
	ARP     *arp.Protocol
	Out     *ipv4.Outputer
	UDP     *udp.Table
	TCP     *tcp.Table
	Logger  *slog.Logger

	// Metrics is optional; when set, frame and ICMP counters are
	// incremented at the dispatch sites below. Nil-safe throughout.
	Metrics *metrics.Collector

	mu      sync.Mutex
	pending []pendingFrame
}

// New builds a Stack over an already-populated device registry: an ARP
// cache and protocol handler, an IPv4 outputer wired to transmit via each
// device's Driver, and fresh UDP/TCP PCB tables. collector may be nil.
func New(devices *device.Registry, logger *slog.Logger, collector *metrics.Collector) *Stack {
	arpProto := arp.NewProtocol(arp.NewCache())
	s := &Stack{
		Devices: devices,
		ARP:     arpProto,
		Logger:  logger,
		Metrics: collector,
	}
	s.Out = ipv4.NewOutputer(devices.Routes, arpProto, ipv4.NewIDCounter(), func(dev *device.Device, frame []byte) error {
		if err := dev.Transmit(frame); err != nil {
			return err
		}
		s.incTransmitted(dev.Name)
		return nil
	})
	if collector != nil {
		s.Out.SetEvents(outputEvents{collector})
	}
	s.UDP = udp.NewTable()
	s.TCP = tcp.NewTable(devices.Routes, s.Out)
	if collector != nil {
		s.TCP.OnStateChange = func(from, to tcp.State) {
			collector.RecordTCPStateTransition(from.String(), to.String())
		}
	}
	return s
}

// outputEvents feeds the IPv4 output path's occurrences into the
// Prometheus collector.
type outputEvents struct {
	collector *metrics.Collector
}

func (e outputEvents) PacketOut(proto ipv4.Protocol) {
	e.collector.IncIPv4PacketsOut(protoLabel(proto))
}

func (e outputEvents) PendingARP() {
	e.collector.IncIPv4PendingARP()
}

func (e outputEvents) ARPRequestSent() {
	e.collector.IncARPRequestsSent()
}

func protoLabel(proto ipv4.Protocol) string {
	switch proto {
	case ipv4.ProtoICMP:
		return "icmp"
	case ipv4.ProtoTCP:
		return "tcp"
	case ipv4.ProtoUDP:
		return "udp"
	default:
		return "other"
	}
}

func (s *Stack) incTransmitted(device string) {
	if s.Metrics != nil {
		s.Metrics.IncFramesTransmitted(device)
	}
}

func (s *Stack) incReceived(device string) {
	if s.Metrics != nil {
		s.Metrics.IncFramesReceived(device)
	}
}

func (s *Stack) incDropped(device, reason string) {
	if s.Metrics != nil {
		s.Metrics.IncFramesDropped(device, reason)
	}
}

// HandleIRQ runs dev's interrupt service routine, enqueuing whatever
// frame it reads for the next protocol drain, then raises the software
// interrupt that triggers that drain.
func (s *Stack) HandleIRQ(dev *device.Device) error {
	err := dev.ISR(func(ethertype uint16, payload []byte) {
		s.incReceived(dev.Name)
		s.mu.Lock()
		s.pending = append(s.pending, pendingFrame{dev: dev, ethertype: ethertype, payload: payload})
		s.mu.Unlock()
	})
	if err != nil {
		return err
	}
	return s.raiseSoftIRQ()
}

// DrainProtocols dispatches every frame queued since the last drain, in
// arrival order, to the ARP or IPv4 input path. Called on the software
// interrupt.
func (s *Stack) DrainProtocols() {
	s.mu.Lock()
	frames := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, f := range frames {
		s.dispatch(f)
	}
}

func (s *Stack) dispatch(f pendingFrame) {
	ifc, ok := f.dev.PrimaryInterface()
	if !ok {
		s.Logger.Debug("dropping frame: device has no interface", slog.String("device", f.dev.Name))
		s.incDropped(f.dev.Name, "no_interface")
		return
	}

	switch ethernet.EtherType(f.ethertype) {
	case ethernet.TypeARP:
		if err := s.ARP.Input(f.payload, f.dev.HWAddr, ifc.Unicast, s.arpSender(f.dev)); err != nil {
			s.Logger.Debug("arp input dropped", slog.String("error", err.Error()))
			s.incDropped(f.dev.Name, "arp_malformed")
		}
	case ethernet.TypeIPv4:
		s.dispatchIPv4(f.dev.Name, ifc, f.payload)
	default:
		s.Logger.Debug("dropping frame with unsupported ethertype", slog.Uint64("ethertype", uint64(f.ethertype)))
		s.incDropped(f.dev.Name, "unsupported_ethertype")
	}
}

func (s *Stack) dispatchIPv4(deviceName string, ifc *device.Interface, raw []byte) {
	h, payload, accepted, err := ipv4.InputFor(raw, ifc)
	if err != nil {
		s.Logger.Debug("ipv4 input malformed", slog.String("error", err.Error()))
		s.incDropped(deviceName, "ipv4_malformed")
		return
	}
	if !accepted {
		s.incDropped(deviceName, "ipv4_not_for_us")
		return
	}

	switch h.Protocol {
	case ipv4.ProtoICMP:
		s.handleICMP(ifc, h, payload)
	case ipv4.ProtoUDP:
		delivered, err := s.UDP.Input(payload, h.Src, h.Dst)
		if err != nil {
			s.Logger.Debug("udp input dropped", slog.String("error", err.Error()))
			if s.Metrics != nil {
				s.Metrics.IncUDPDatagramsDropped("input_error")
			}
		} else if !delivered && s.Metrics != nil {
			s.Metrics.IncUDPDatagramsDropped("no_pcb")
		}
	case ipv4.ProtoTCP:
		if err := s.TCP.Input(payload, h.Src, h.Dst, ifc.Broadcast, time.Now()); err != nil {
			s.Logger.Debug("tcp input dropped", slog.String("error", err.Error()))
		}
	default:
		s.Logger.Debug("dropping ipv4 packet with unsupported protocol", slog.Int("protocol", int(h.Protocol)))
		s.incDropped(deviceName, "unsupported_ip_protocol")
	}
}

// handleICMP replies to an Echo Request, rewriting a broadcast
// destination to the interface's unicast address before swapping source
// and destination for the reply.
func (s *Stack) handleICMP(ifc *device.Interface, h ipv4.Header, payload []byte) {
	echo, err := icmp.DecodeEchoRequest(payload)
	if err != nil {
		s.Logger.Debug("icmp input dropped", slog.String("error", err.Error()))
		return
	}

	replySrc := icmp.ReplyDestination(h.Dst, ifc.Broadcast, ifc.Unicast)
	reply := icmp.EncodeEchoReply(echo)
	if err := s.Out.Output(ipv4.ProtoICMP, reply, replySrc, h.Src); err != nil {
		s.Logger.Warn("icmp reply failed", slog.String("error", err.Error()))
		return
	}
	if s.Metrics != nil {
		s.Metrics.IncICMPEchoReplies()
	}
}

// arpSender adapts a device into an arp.Sender, framing ARP replies over
// Ethernet before writing them to the device, the same pattern as
// ipv4.Outputer's own unexported arpSender, needed here because ARP
// input dispatch never goes through the Outputer.
func (s *Stack) arpSender(dev *device.Device) arp.Sender {
	return func(pkt []byte, dstMAC wire.MAC) error {
		frame, err := ethernet.Encode(dstMAC, dev.HWAddr, ethernet.TypeARP, pkt)
		if err != nil {
			return err
		}
		if err := dev.Transmit(frame); err != nil {
			return err
		}
		s.incTransmitted(dev.Name)
		if s.Metrics != nil {
			s.Metrics.IncARPRepliesSent()
		}
		return nil
	}
}

// Shutdown closes every UDP and TCP PCB, waking every blocked user call.
func (s *Stack) Shutdown() {
	s.UDP.CloseAll()
	s.TCP.CloseAll()
}
