// Package admin implements a read-only HTTP+JSON introspection server
// over the running stack's devices, routes, ARP cache, and UDP/TCP PCB
// tables. It is a diagnostics surface for tapstackctl, not a control
// plane, so a plain net/http mux and encoding/json bodies suffice.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/quietmachine/tapstack/internal/device"
	"github.com/quietmachine/tapstack/internal/netstack/arp"
	"github.com/quietmachine/tapstack/internal/netstack/tcp"
	"github.com/quietmachine/tapstack/internal/netstack/udp"
	"github.com/quietmachine/tapstack/internal/wire"
)

// Stack is the subset of orchestrator.Stack this server reads from.
// Defining it locally (rather than importing orchestrator) keeps the
// introspection surface decoupled from the dispatch loop's lifecycle.
type Stack struct {
	Devices *device.Registry
	ARP     *arp.Protocol
	UDP     *udp.Table
	TCP     *tcp.Table
}

// Server is the admin HTTP server. It holds no goroutines of its own;
// callers drive it with http.Server.Serve the same way the metrics
// endpoint is run.
type Server struct {
	stack  Stack
	logger *slog.Logger
	mux    *http.ServeMux
}

// New builds an admin server over stack. Handler() is then wired into an
// *http.Server by the caller (cmd/tapstackd).
func New(stack Stack, logger *slog.Logger) *Server {
	s := &Server{stack: stack, logger: logger, mux: http.NewServeMux()}
	s.mux.HandleFunc("/devices", s.handleDevices)
	s.mux.HandleFunc("/routes", s.handleRoutes)
	s.mux.HandleFunc("/arp", s.handleARP)
	s.mux.HandleFunc("/udp", s.handleUDP)
	s.mux.HandleFunc("/tcp", s.handleTCP)
	return s
}

// Handler returns the server's http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// NewHTTPServer wraps Handler in an *http.Server listening on addr.
func NewHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// ListenAndServe creates a listener under ctx and serves until the
// server is shut down.
func ListenAndServe(ctx context.Context, srv *http.Server, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("admin: listen on %s: %w", addr, err)
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("admin: serve on %s: %w", addr, err)
	}
	return nil
}

// interfaceView is the JSON shape of one device.Interface.
type interfaceView struct {
	Unicast   string `json:"unicast"`
	Netmask   string `json:"netmask"`
	Broadcast string `json:"broadcast"`
}

// deviceView is the JSON shape of one device.Device.
type deviceView struct {
	Index       int             `json:"index"`
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	MTU         int             `json:"mtu"`
	HWAddr      string          `json:"hw_addr"`
	BroadcastHW string          `json:"broadcast_hw"`
	Up          bool            `json:"up"`
	Interfaces  []interfaceView `json:"interfaces"`
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	var out []deviceView
	for _, d := range s.stack.Devices.Snapshot() {
		dv := deviceView{
			Index:       d.Index,
			Type:        d.Type.String(),
			Name:        d.Name,
			MTU:         d.MTU,
			HWAddr:      d.HWAddr.String(),
			BroadcastHW: d.BroadcastHW.String(),
			Up:          d.Flags().Has(device.FlagUp),
		}
		for _, ifc := range d.Interfaces.Snapshot() {
			dv.Interfaces = append(dv.Interfaces, interfaceView{
				Unicast:   ifc.Unicast.String(),
				Netmask:   ifc.Netmask.String(),
				Broadcast: ifc.Broadcast.String(),
			})
		}
		out = append(out, dv)
	}
	s.writeJSON(w, out)
}

// routeView is the JSON shape of one device.Route.
type routeView struct {
	Network   string `json:"network"`
	Netmask   string `json:"netmask"`
	NextHop   string `json:"next_hop"`
	Interface string `json:"interface"`
}

func (s *Server) handleRoutes(w http.ResponseWriter, r *http.Request) {
	var out []routeView
	for _, rt := range s.stack.Devices.Routes.Snapshot() {
		ifName := ""
		if rt.Interface != nil {
			ifName = rt.Interface.Name
		}
		out = append(out, routeView{
			Network:   rt.Network.String(),
			Netmask:   rt.Netmask.String(),
			NextHop:   rt.NextHop.String(),
			Interface: ifName,
		})
	}
	s.writeJSON(w, out)
}

// arpEntryView is the JSON shape of one arp.Snapshot.
type arpEntryView struct {
	ProtoAddr  string    `json:"proto_addr"`
	HWAddr     string    `json:"hw_addr"`
	State      string    `json:"state"`
	InsertedAt time.Time `json:"inserted_at"`
}

func arpStateString(st arp.State) string {
	switch st {
	case arp.StateIncomplete:
		return "Incomplete"
	case arp.StateResolved:
		return "Resolved"
	case arp.StateStatic:
		return "Static"
	default:
		return "Unknown"
	}
}

func (s *Server) handleARP(w http.ResponseWriter, r *http.Request) {
	var out []arpEntryView
	for _, e := range s.stack.ARP.Cache.All() {
		out = append(out, arpEntryView{
			ProtoAddr:  e.ProtoAddr.String(),
			HWAddr:     e.HWAddr.String(),
			State:      arpStateString(e.State),
			InsertedAt: e.InsertedAt,
		})
	}
	s.writeJSON(w, out)
}

// udpPCBView is the JSON shape of one udp.Snapshot.
type udpPCBView struct {
	Handle  int    `json:"handle"`
	State   string `json:"state"`
	Local   string `json:"local"`
	Pending int    `json:"pending"`
}

func (s *Server) handleUDP(w http.ResponseWriter, r *http.Request) {
	var out []udpPCBView
	for _, p := range s.stack.UDP.Snapshot() {
		out = append(out, udpPCBView{
			Handle:  p.Handle,
			State:   p.State.String(),
			Local:   endpointString(p.Local.Addr, p.Local.Port),
			Pending: p.Pending,
		})
	}
	s.writeJSON(w, out)
}

// tcpPCBView is the JSON shape of one tcp.Snapshot.
type tcpPCBView struct {
	Handle int    `json:"handle"`
	State  string `json:"state"`
	Mode   string `json:"mode"`
	Local  string `json:"local"`
	Remote string `json:"remote"`
}

func (s *Server) handleTCP(w http.ResponseWriter, r *http.Request) {
	var out []tcpPCBView
	for _, p := range s.stack.TCP.Snapshot() {
		out = append(out, tcpPCBView{
			Handle: p.Handle,
			State:  p.State.String(),
			Mode:   p.Mode.String(),
			Local:  endpointString(p.Local.Addr, p.Local.Port),
			Remote: endpointString(p.Remote.Addr, p.Remote.Port),
		})
	}
	s.writeJSON(w, out)
}

func endpointString(addr wire.IPv4, port uint16) string {
	return fmt.Sprintf("%s:%d", addr, port)
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		s.logger.Warn("admin: encode response failed", slog.String("error", err.Error()))
	}
}
