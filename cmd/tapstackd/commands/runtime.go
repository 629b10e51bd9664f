package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/quietmachine/tapstack/internal/admin"
	"github.com/quietmachine/tapstack/internal/bootstrap"
	"github.com/quietmachine/tapstack/internal/config"
	"github.com/quietmachine/tapstack/internal/metrics"
	"github.com/quietmachine/tapstack/internal/orchestrator"
)

// gaugePollInterval is how often the runtime refreshes the ARP/PCB
// gauges exported by internal/metrics; these aren't updated at their
// own call sites the way counters are, since the ARP cache and PCB
// pools don't know about the collector.
const gaugePollInterval = 2 * time.Second

// Runtime owns one live instance of the network stack: the bootstrapped
// loopback/TAP devices, the orchestrator's signal and retransmit loops,
// and the admin/metrics HTTP servers, all driven by one errgroup.
type Runtime struct {
	Config *config.Config
	Logger *slog.Logger
	Stack  *orchestrator.Stack

	boot   *bootstrap.Stack
	group  *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc

	adminSrv   *http.Server
	metricsSrv *http.Server
}

// StartRuntime loads configuration from configPath (or defaults if
// empty), brings up the devices, and starts the signal loop,
// retransmission ticker, and ambient HTTP servers in the background.
// The caller must call Stop when the requested operation is done.
func StartRuntime(configPath string) (*Runtime, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}

	logger := newLogger(cfg.Log)

	boot, err := bootstrap.BringUp(cfg)
	if err != nil {
		return nil, fmt.Errorf("bring up devices: %w", err)
	}

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	stack := orchestrator.New(boot.Registry, logger, collector)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	g, gCtx := errgroup.WithContext(ctx)

	rt := &Runtime{
		Config: cfg,
		Logger: logger,
		Stack:  stack,
		boot:   boot,
		group:  g,
		ctx:    gCtx,
		cancel: cancel,
	}

	rt.adminSrv = admin.NewHTTPServer(cfg.Admin.Addr, admin.New(admin.Stack{
		Devices: stack.Devices, ARP: stack.ARP, UDP: stack.UDP, TCP: stack.TCP,
	}, logger).Handler())
	rt.metricsSrv = newMetricsServer(cfg.Metrics, reg)

	g.Go(func() error { return stack.Run(gCtx) })
	g.Go(func() error { return stack.RunRetransmit(gCtx) })
	g.Go(func() error { return rt.pollGauges(gCtx, collector) })
	g.Go(func() error {
		logger.Info("admin server listening", slog.String("addr", cfg.Admin.Addr))
		return admin.ListenAndServe(gCtx, rt.adminSrv, cfg.Admin.Addr)
	})
	g.Go(func() error {
		logger.Info("metrics server listening", slog.String("addr", cfg.Metrics.Addr))
		return listenAndServe(gCtx, rt.metricsSrv, cfg.Metrics.Addr)
	})

	notifyReady(logger)

	return rt, nil
}

// Context returns the runtime's cancellation context: done when SIGINT,
// SIGTERM, or Stop fires.
func (rt *Runtime) Context() context.Context {
	return rt.ctx
}

// Stop cancels the runtime's context, shuts down the HTTP servers,
// closes every PCB (waking blocked user calls), closes the TAP fd, and
// waits for every background goroutine to return.
func (rt *Runtime) Stop() error {
	notifyStopping(rt.Logger)
	rt.Stack.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(rt.ctx), 5*time.Second)
	defer cancel()
	_ = rt.adminSrv.Shutdown(shutdownCtx)
	_ = rt.metricsSrv.Shutdown(shutdownCtx)

	rt.cancel()
	err := rt.group.Wait()

	if cerr := rt.boot.Close(); cerr != nil {
		rt.Logger.Warn("close tap device failed", slog.String("error", cerr.Error()))
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("runtime shutdown: %w", err)
	}
	return nil
}

// pollGauges periodically snapshots the ARP cache and PCB tables into
// the collector's gauges, since those regions have no natural counter
// call site of their own (the fixed-size pools and the cache are read,
// not incremented, on every operation).
func (rt *Runtime) pollGauges(ctx context.Context, collector *metrics.Collector) error {
	ticker := time.NewTicker(gaugePollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			collector.SetARPCacheSize(len(rt.Stack.ARP.Cache.All()))
			collector.SetUDPPCBsInUse(len(rt.Stack.UDP.Snapshot()))
			collector.SetTCPPCBsInUse(len(rt.Stack.TCP.Snapshot()))
		}
	}
}

// notifyReady sends READY=1 to systemd once the devices are up and the
// signal loop is running. A no-op outside a systemd unit.
func notifyReady(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		logger.Warn("failed to notify systemd readiness", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: READY")
	}
}

// notifyStopping sends STOPPING=1 to systemd at the start of shutdown.
func notifyStopping(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err != nil {
		logger.Warn("failed to notify systemd stopping", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: STOPPING")
	}
}

// loadConfig loads configuration from a file path or returns defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
		return cfg, nil
	}
	return config.DefaultConfig(), nil
}

// newLogger builds a structured logger per cfg.
func newLogger(cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: config.ParseLogLevel(cfg.Level)}
	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	default:
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// newMetricsServer creates an HTTP server for the Prometheus metrics
// endpoint.
func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// listenAndServe mirrors admin.ListenAndServe for the metrics server,
// which lives in this package rather than internal/metrics since it is
// purely an HTTP concern.
func listenAndServe(ctx context.Context, srv *http.Server, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve on %s: %w", addr, err)
	}
	return nil
}
