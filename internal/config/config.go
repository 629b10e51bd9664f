// Package config manages tapstack daemon configuration using koanf/v2.
//
// Supports YAML files and environment variables layered over built-in
// defaults; there is no command-line flag layer.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/quietmachine/tapstack/internal/wire"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete tapstack configuration.
type Config struct {
	Device  DeviceConfig  `koanf:"device"`
	Admin   AdminConfig   `koanf:"admin"`
	Metrics MetricsConfig `koanf:"metrics"`
	Log     LogConfig     `koanf:"log"`
}

// DeviceConfig holds the addresses of the two devices this stack brings
// up at startup: the loopback device and the TAP device, plus the
// default gateway route.
type DeviceConfig struct {
	// TapName is the kernel TAP device name to negotiate (e.g. "tap0").
	TapName string `koanf:"tap_name"`

	// LoopbackCIDR is the loopback interface's address and netmask,
	// e.g. "127.0.0.1/24".
	LoopbackCIDR string `koanf:"loopback_cidr"`

	// TapCIDR is the TAP interface's address and netmask,
	// e.g. "192.0.2.2/24".
	TapCIDR string `koanf:"tap_cidr"`

	// Gateway is the default gateway's IPv4 address, e.g. "192.0.2.1".
	Gateway string `koanf:"gateway"`
}

// LoopbackAddr parses LoopbackCIDR into its unicast/netmask pair.
func (dc DeviceConfig) LoopbackAddr() (addr, netmask wire.IPv4, err error) {
	return wire.ParseCIDR(dc.LoopbackCIDR)
}

// TapAddr parses TapCIDR into its unicast/netmask pair.
func (dc DeviceConfig) TapAddr() (addr, netmask wire.IPv4, err error) {
	return wire.ParseCIDR(dc.TapCIDR)
}

// GatewayAddr parses Gateway as a bare IPv4 address.
func (dc DeviceConfig) GatewayAddr() (wire.IPv4, error) {
	return wire.ParseIPv4(dc.Gateway)
}

// AdminConfig holds the read-only introspection HTTP endpoint
// configuration (devices, routes, ARP cache, PCB tables).
type AdminConfig struct {
	// Addr is the HTTP listen address for the admin endpoint (e.g. ":9101").
	Addr string `koanf:"addr"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9100").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with the built-in address
// plan: loopback 127.0.0.1/24, TAP unicast 192.0.2.2/24, default
// gateway 192.0.2.1.
func DefaultConfig() *Config {
	return &Config{
		Device: DeviceConfig{
			TapName:      "tap0",
			LoopbackCIDR: "127.0.0.1/24",
			TapCIDR:      "192.0.2.2/24",
			Gateway:      "192.0.2.1",
		},
		Admin: AdminConfig{
			Addr: ":9101",
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for tapstack configuration.
// Variables are named TAPSTACK_<section>_<key>, e.g., TAPSTACK_DEVICE_TAP_NAME.
const envPrefix = "TAPSTACK_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (TAPSTACK_ prefix), and merges on top of
// DefaultConfig(). Missing fields inherit defaults.
//
// Environment variable mapping:
//
//	TAPSTACK_DEVICE_TAP_NAME      -> device.tap_name
//	TAPSTACK_DEVICE_LOOPBACK_CIDR -> device.loopback_cidr
//	TAPSTACK_DEVICE_TAP_CIDR      -> device.tap_cidr
//	TAPSTACK_DEVICE_GATEWAY       -> device.gateway
//	TAPSTACK_ADMIN_ADDR           -> admin.addr
//	TAPSTACK_METRICS_ADDR         -> metrics.addr
//	TAPSTACK_METRICS_PATH         -> metrics.path
//	TAPSTACK_LOG_LEVEL            -> log.level
//	TAPSTACK_LOG_FORMAT           -> log.format
//
// Uses koanf/v2 with file + env providers and YAML parser.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms TAPSTACK_DEVICE_TAP_NAME -> device.tap_name.
// koanf's "." delimiter then resolves nested struct fields by the
// lowercased koanf tag, which matches our tags directly since they
// already use underscores (e.g. "tap_name").
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	// First underscore-separated segment is the section; the rest of
	// the key keeps its underscores to match multi-word koanf tags
	// like "tap_name".
	section, rest, ok := strings.Cut(s, "_")
	if !ok {
		return s
	}
	return section + "." + rest
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"device.tap_name":      defaults.Device.TapName,
		"device.loopback_cidr": defaults.Device.LoopbackCIDR,
		"device.tap_cidr":      defaults.Device.TapCIDR,
		"device.gateway":       defaults.Device.Gateway,
		"admin.addr":           defaults.Admin.Addr,
		"metrics.addr":         defaults.Metrics.Addr,
		"metrics.path":         defaults.Metrics.Path,
		"log.level":            defaults.Log.Level,
		"log.format":           defaults.Log.Format,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrEmptyTapName indicates the TAP device name is empty.
	ErrEmptyTapName = errors.New("device.tap_name must not be empty")

	// ErrInvalidLoopbackCIDR indicates the loopback CIDR failed to parse.
	ErrInvalidLoopbackCIDR = errors.New("device.loopback_cidr is invalid")

	// ErrInvalidTapCIDR indicates the TAP CIDR failed to parse.
	ErrInvalidTapCIDR = errors.New("device.tap_cidr is invalid")

	// ErrInvalidGateway indicates the gateway address failed to parse.
	ErrInvalidGateway = errors.New("device.gateway is invalid")
)

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.Device.TapName == "" {
		return ErrEmptyTapName
	}
	if _, _, err := cfg.Device.LoopbackAddr(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidLoopbackCIDR, err)
	}
	if _, _, err := cfg.Device.TapAddr(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTapCIDR, err)
	}
	if _, err := cfg.Device.GatewayAddr(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidGateway, err)
	}
	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
//
// Recognized values: "debug", "info", "warn", "error" (case-insensitive).
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
