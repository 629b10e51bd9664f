// Package metrics exposes Prometheus instrumentation for the tapstack
// network stack: per-device frame counters, ARP cache size, IPv4 drop
// reasons, and PCB gauges/state-transition counters for UDP and TCP.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespace = "tapstack"
)

// Label names.
const (
	labelDevice = "device"
	labelReason = "reason"
	labelProto  = "protocol"
	labelFrom   = "from_state"
	labelTo     = "to_state"
)

// -------------------------------------------------------------------------
// Collector: Prometheus tapstack Metrics
// -------------------------------------------------------------------------

// Collector holds every Prometheus metric this stack exports, grouped by
// the layer each one instruments (device/ARP/IPv4/UDP/TCP), mirroring the
// per-layer organization of internal/netstack.
type Collector struct {
	// FramesReceived counts Ethernet/loopback frames read off a device,
	// per device name.
	FramesReceived *prometheus.CounterVec

	// FramesTransmitted counts frames written to a device, per device name.
	FramesTransmitted *prometheus.CounterVec

	// FramesDropped counts frames dropped at protocol dispatch (no
	// interface, malformed ARP, unsupported ethertype or IP protocol) or
	// IPv4 input, labeled by device and drop reason. Frames the TAP
	// driver's Ethernet decode discards are not counted.
	FramesDropped *prometheus.CounterVec

	// ARPCacheSize reports the current number of entries in the ARP
	// cache (at most one per protocol address).
	ARPCacheSize prometheus.Gauge

	// ARPRequestsSent counts ARP Request broadcasts issued on cache miss.
	ARPRequestsSent prometheus.Counter

	// ARPRepliesSent counts ARP Reply packets sent in response to a
	// Request targeting one of our interfaces.
	ARPRepliesSent prometheus.Counter

	// IPv4PacketsOut counts IPv4 packets successfully built and handed
	// to a device, per upper-layer protocol.
	IPv4PacketsOut *prometheus.CounterVec

	// IPv4PendingARP counts IPv4 output calls that returned success
	// without transmitting because of an ARP cache miss.
	IPv4PendingARP prometheus.Counter

	// ICMPEchoReplies counts Echo Reply packets sent.
	ICMPEchoReplies prometheus.Counter

	// UDPPCBsInUse reports the number of non-Free UDP PCB slots.
	UDPPCBsInUse prometheus.Gauge

	// UDPDatagramsDropped counts inbound UDP datagrams dropped (checksum
	// failure, length mismatch, no matching Open PCB).
	UDPDatagramsDropped *prometheus.CounterVec

	// TCPPCBsInUse reports the number of non-Free TCP PCB slots.
	TCPPCBsInUse prometheus.Gauge

	// TCPStateTransitions counts TCP PCB FSM state transitions, labeled
	// by (from_state, to_state).
	TCPStateTransitions *prometheus.CounterVec

	// TCPRetransmissions counts segments re-emitted by the 100ms
	// retransmission tick.
	TCPRetransmissions prometheus.Counter

	// TCPConnectionFailures counts PCBs moved to Closed by the
	// retransmission timeout (12s with no ACK).
	TCPConnectionFailures prometheus.Counter
}

// NewCollector creates a Collector with every tapstack metric registered
// against reg. If reg is nil, prometheus.DefaultRegisterer is used.
//
// All metrics use the "tapstack_" namespace prefix to avoid collisions
// with other exporters sharing the same process.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.FramesReceived,
		c.FramesTransmitted,
		c.FramesDropped,
		c.ARPCacheSize,
		c.ARPRequestsSent,
		c.ARPRepliesSent,
		c.IPv4PacketsOut,
		c.IPv4PendingARP,
		c.ICMPEchoReplies,
		c.UDPPCBsInUse,
		c.UDPDatagramsDropped,
		c.TCPPCBsInUse,
		c.TCPStateTransitions,
		c.TCPRetransmissions,
		c.TCPConnectionFailures,
	)

	return c
}

// newMetrics creates all Prometheus metrics without registering them.
func newMetrics() *Collector {
	return &Collector{
		FramesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "device",
			Name:      "frames_received_total",
			Help:      "Total frames read off a device's ISR.",
		}, []string{labelDevice}),

		FramesTransmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "device",
			Name:      "frames_transmitted_total",
			Help:      "Total frames written to a device.",
		}, []string{labelDevice}),

		FramesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "device",
			Name:      "frames_dropped_total",
			Help:      "Total frames dropped at Ethernet or IPv4 input, by reason.",
		}, []string{labelDevice, labelReason}),

		ARPCacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "arp",
			Name:      "cache_size",
			Help:      "Current number of entries in the ARP cache.",
		}),

		ARPRequestsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "arp",
			Name:      "requests_sent_total",
			Help:      "Total ARP Request broadcasts issued on cache miss.",
		}),

		ARPRepliesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "arp",
			Name:      "replies_sent_total",
			Help:      "Total ARP Reply packets sent.",
		}),

		IPv4PacketsOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ipv4",
			Name:      "packets_sent_total",
			Help:      "Total IPv4 packets transmitted, by upper-layer protocol.",
		}, []string{labelProto}),

		IPv4PendingARP: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ipv4",
			Name:      "output_pending_arp_total",
			Help:      "Total IPv4 output calls that dropped a packet awaiting ARP resolution.",
		}),

		ICMPEchoReplies: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "icmp",
			Name:      "echo_replies_total",
			Help:      "Total ICMP Echo Reply packets sent.",
		}),

		UDPPCBsInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "udp",
			Name:      "pcbs_in_use",
			Help:      "Number of non-Free UDP PCB slots.",
		}),

		UDPDatagramsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "udp",
			Name:      "datagrams_dropped_total",
			Help:      "Total inbound UDP datagrams dropped, by reason.",
		}, []string{labelReason}),

		TCPPCBsInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tcp",
			Name:      "pcbs_in_use",
			Help:      "Number of non-Free TCP PCB slots.",
		}),

		TCPStateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tcp",
			Name:      "state_transitions_total",
			Help:      "Total TCP PCB FSM state transitions.",
		}, []string{labelFrom, labelTo}),

		TCPRetransmissions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tcp",
			Name:      "retransmissions_total",
			Help:      "Total segments re-emitted by the retransmission tick.",
		}),

		TCPConnectionFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tcp",
			Name:      "connection_failures_total",
			Help:      "Total PCBs moved to Closed by the retransmission timeout.",
		}),
	}
}

// -------------------------------------------------------------------------
// Device / frame counters
// -------------------------------------------------------------------------

// IncFramesReceived increments the received-frame counter for device.
func (c *Collector) IncFramesReceived(device string) {
	c.FramesReceived.WithLabelValues(device).Inc()
}

// IncFramesTransmitted increments the transmitted-frame counter for device.
func (c *Collector) IncFramesTransmitted(device string) {
	c.FramesTransmitted.WithLabelValues(device).Inc()
}

// IncFramesDropped increments the dropped-frame counter for device/reason.
func (c *Collector) IncFramesDropped(device, reason string) {
	c.FramesDropped.WithLabelValues(device, reason).Inc()
}

// -------------------------------------------------------------------------
// ARP
// -------------------------------------------------------------------------

// SetARPCacheSize sets the current ARP cache entry count.
func (c *Collector) SetARPCacheSize(n int) {
	c.ARPCacheSize.Set(float64(n))
}

// IncARPRequestsSent increments the ARP Request broadcast counter.
func (c *Collector) IncARPRequestsSent() {
	c.ARPRequestsSent.Inc()
}

// IncARPRepliesSent increments the ARP Reply counter.
func (c *Collector) IncARPRepliesSent() {
	c.ARPRepliesSent.Inc()
}

// -------------------------------------------------------------------------
// IPv4 / ICMP
// -------------------------------------------------------------------------

// IncIPv4PacketsOut increments the transmitted-IPv4-packet counter for proto.
func (c *Collector) IncIPv4PacketsOut(proto string) {
	c.IPv4PacketsOut.WithLabelValues(proto).Inc()
}

// IncIPv4PendingARP increments the ARP-cache-miss drop counter.
func (c *Collector) IncIPv4PendingARP() {
	c.IPv4PendingARP.Inc()
}

// IncICMPEchoReplies increments the Echo Reply counter.
func (c *Collector) IncICMPEchoReplies() {
	c.ICMPEchoReplies.Inc()
}

// -------------------------------------------------------------------------
// UDP / TCP PCB gauges
// -------------------------------------------------------------------------

// SetUDPPCBsInUse sets the current count of non-Free UDP PCB slots.
func (c *Collector) SetUDPPCBsInUse(n int) {
	c.UDPPCBsInUse.Set(float64(n))
}

// IncUDPDatagramsDropped increments the dropped-datagram counter for reason.
func (c *Collector) IncUDPDatagramsDropped(reason string) {
	c.UDPDatagramsDropped.WithLabelValues(reason).Inc()
}

// SetTCPPCBsInUse sets the current count of non-Free TCP PCB slots.
func (c *Collector) SetTCPPCBsInUse(n int) {
	c.TCPPCBsInUse.Set(float64(n))
}

// RecordTCPStateTransition increments the state-transition counter for
// (from, to), used to alert on flaps (e.g. Established->Closed via RST).
func (c *Collector) RecordTCPStateTransition(from, to string) {
	c.TCPStateTransitions.WithLabelValues(from, to).Inc()
}

// AddTCPRetransmissions adds one retransmission pass's re-emitted
// segment count.
func (c *Collector) AddTCPRetransmissions(n int) {
	c.TCPRetransmissions.Add(float64(n))
}

// AddTCPConnectionFailures adds one retransmission pass's abandoned
// connection count.
func (c *Collector) AddTCPConnectionFailures(n int) {
	c.TCPConnectionFailures.Add(float64(n))
}
