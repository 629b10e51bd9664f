package config_test

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/quietmachine/tapstack/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()

	if cfg.Device.TapName != "tap0" {
		t.Errorf("Device.TapName = %q, want %q", cfg.Device.TapName, "tap0")
	}

	if cfg.Device.LoopbackCIDR != "127.0.0.1/24" {
		t.Errorf("Device.LoopbackCIDR = %q, want %q", cfg.Device.LoopbackCIDR, "127.0.0.1/24")
	}

	if cfg.Device.TapCIDR != "192.0.2.2/24" {
		t.Errorf("Device.TapCIDR = %q, want %q", cfg.Device.TapCIDR, "192.0.2.2/24")
	}

	if cfg.Device.Gateway != "192.0.2.1" {
		t.Errorf("Device.Gateway = %q, want %q", cfg.Device.Gateway, "192.0.2.1")
	}

	if cfg.Admin.Addr != ":9101" {
		t.Errorf("Admin.Addr = %q, want %q", cfg.Admin.Addr, ":9101")
	}

	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9100")
	}

	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/metrics")
	}

	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}

	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "json")
	}

	// Defaults must pass validation.
	if err := config.Validate(cfg); err != nil {
		t.Errorf("DefaultConfig() failed validation: %v", err)
	}
}

func TestLoadFromYAML(t *testing.T) {
	t.Parallel()

	yamlContent := `
device:
  tap_name: "tap7"
  loopback_cidr: "127.0.0.1/8"
  tap_cidr: "192.0.2.10/24"
  gateway: "192.0.2.1"
admin:
  addr: ":9901"
metrics:
  addr: ":9200"
  path: "/custom-metrics"
log:
  level: "debug"
  format: "text"
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Device.TapName != "tap7" {
		t.Errorf("Device.TapName = %q, want %q", cfg.Device.TapName, "tap7")
	}

	if cfg.Device.TapCIDR != "192.0.2.10/24" {
		t.Errorf("Device.TapCIDR = %q, want %q", cfg.Device.TapCIDR, "192.0.2.10/24")
	}

	if cfg.Admin.Addr != ":9901" {
		t.Errorf("Admin.Addr = %q, want %q", cfg.Admin.Addr, ":9901")
	}

	if cfg.Metrics.Addr != ":9200" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9200")
	}

	if cfg.Metrics.Path != "/custom-metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/custom-metrics")
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}

	if cfg.Log.Format != "text" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "text")
	}
}

func TestLoadMergesDefaults(t *testing.T) {
	t.Parallel()

	// Partial YAML: only override device.tap_name and log.level.
	// Everything else should inherit from defaults.
	yamlContent := `
device:
  tap_name: "tap9"
log:
  level: "warn"
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	// Overridden values.
	if cfg.Device.TapName != "tap9" {
		t.Errorf("Device.TapName = %q, want %q", cfg.Device.TapName, "tap9")
	}

	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "warn")
	}

	// Default values should be preserved.
	if cfg.Device.TapCIDR != "192.0.2.2/24" {
		t.Errorf("Device.TapCIDR = %q, want default %q", cfg.Device.TapCIDR, "192.0.2.2/24")
	}

	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics.Addr = %q, want default %q", cfg.Metrics.Addr, ":9100")
	}

	if cfg.Admin.Addr != ":9101" {
		t.Errorf("Admin.Addr = %q, want default %q", cfg.Admin.Addr, ":9101")
	}

	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want default %q", cfg.Log.Format, "json")
	}
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		modify  func(*config.Config)
		wantErr error
	}{
		{
			name: "empty tap name",
			modify: func(cfg *config.Config) {
				cfg.Device.TapName = ""
			},
			wantErr: config.ErrEmptyTapName,
		},
		{
			name: "invalid loopback cidr",
			modify: func(cfg *config.Config) {
				cfg.Device.LoopbackCIDR = "not-a-cidr"
			},
			wantErr: config.ErrInvalidLoopbackCIDR,
		},
		{
			name: "invalid tap cidr",
			modify: func(cfg *config.Config) {
				cfg.Device.TapCIDR = "256.0.0.1/24"
			},
			wantErr: config.ErrInvalidTapCIDR,
		},
		{
			name: "invalid gateway",
			modify: func(cfg *config.Config) {
				cfg.Device.Gateway = "not-an-ip"
			},
			wantErr: config.ErrInvalidGateway,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := config.DefaultConfig()
			tt.modify(cfg)

			err := config.Validate(cfg)
			if err == nil {
				t.Fatal("Validate() returned nil, want error")
			}

			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  slog.Level
	}{
		{input: "debug", want: slog.LevelDebug},
		{input: "DEBUG", want: slog.LevelDebug},
		{input: "info", want: slog.LevelInfo},
		{input: "INFO", want: slog.LevelInfo},
		{input: "warn", want: slog.LevelWarn},
		{input: "WARN", want: slog.LevelWarn},
		{input: "error", want: slog.LevelError},
		{input: "Error", want: slog.LevelError},
		{input: "unknown", want: slog.LevelInfo},
		{input: "", want: slog.LevelInfo},
		{input: "trace", want: slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()

			got := config.ParseLogLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestLoadNonexistentFile(t *testing.T) {
	t.Parallel()

	_, err := config.Load("/nonexistent/path/config.yml")
	if err == nil {
		t.Fatal("Load() returned nil error for nonexistent file")
	}
}

// -------------------------------------------------------------------------
// Address Parsing
// -------------------------------------------------------------------------

func TestDeviceConfigAddrParsing(t *testing.T) {
	t.Parallel()

	dc := config.DeviceConfig{
		LoopbackCIDR: "127.0.0.1/24",
		TapCIDR:      "192.0.2.2/24",
		Gateway:      "192.0.2.1",
	}

	addr, mask, err := dc.LoopbackAddr()
	if err != nil {
		t.Fatalf("LoopbackAddr() error: %v", err)
	}
	if addr.String() != "127.0.0.1" {
		t.Errorf("LoopbackAddr() addr = %s, want 127.0.0.1", addr)
	}
	if mask.String() != "255.255.255.0" {
		t.Errorf("LoopbackAddr() mask = %s, want 255.255.255.0", mask)
	}

	addr, mask, err = dc.TapAddr()
	if err != nil {
		t.Fatalf("TapAddr() error: %v", err)
	}
	if addr.String() != "192.0.2.2" {
		t.Errorf("TapAddr() addr = %s, want 192.0.2.2", addr)
	}
	if mask.String() != "255.255.255.0" {
		t.Errorf("TapAddr() mask = %s, want 255.255.255.0", mask)
	}

	gw, err := dc.GatewayAddr()
	if err != nil {
		t.Fatalf("GatewayAddr() error: %v", err)
	}
	if gw.String() != "192.0.2.1" {
		t.Errorf("GatewayAddr() = %s, want 192.0.2.1", gw)
	}
}

// -------------------------------------------------------------------------
// Environment Variable Override Tests
// -------------------------------------------------------------------------

func TestLoadEnvOverrides(t *testing.T) {
	// Environment variable tests cannot be parallel because they modify
	// process-wide state (os.Setenv).

	yamlContent := `
device:
  tap_name: "tap0"
log:
  level: "info"
`
	path := writeTemp(t, yamlContent)

	t.Setenv("TAPSTACK_DEVICE_TAP_NAME", "tap3")
	t.Setenv("TAPSTACK_LOG_LEVEL", "debug")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Device.TapName != "tap3" {
		t.Errorf("Device.TapName = %q, want %q (from env)", cfg.Device.TapName, "tap3")
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q (from env)", cfg.Log.Level, "debug")
	}
}

func TestLoadEnvOverridesMetrics(t *testing.T) {
	yamlContent := `
metrics:
  addr: ":9100"
  path: "/metrics"
`
	path := writeTemp(t, yamlContent)

	t.Setenv("TAPSTACK_METRICS_ADDR", ":9200")
	t.Setenv("TAPSTACK_METRICS_PATH", "/custom")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Metrics.Addr != ":9200" {
		t.Errorf("Metrics.Addr = %q, want %q (from env)", cfg.Metrics.Addr, ":9200")
	}

	if cfg.Metrics.Path != "/custom" {
		t.Errorf("Metrics.Path = %q, want %q (from env)", cfg.Metrics.Path, "/custom")
	}
}

// writeTemp creates a temporary YAML file and returns its path.
// The file is automatically cleaned up when the test finishes.
func writeTemp(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "tapstack.yml")

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	return path
}
