package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultDataEndpoint      = "ws://127.0.0.1:9001"
	DefaultDeviceName        = "android-device"
	DefaultWorkers           = 1
	DefaultDNSServer         = "1.1.1.1:53"
	DefaultIntakeDir         = "/data/local/tmp/relay_inbox"
	DefaultMinFileSize       = 512
	DefaultScanInterval      = 15 * time.Second
	DefaultWorkerSpawnDelay  = 500 // milliseconds
	DefaultRetryDelay        = 2 * time.Second
	DefaultHeartbeatInterval = 15 * time.Second
	DefaultControlRetry      = 3 * time.Second
	DefaultLogFile           = "/data/local/tmp/relay-worker.log"
)

// Config is the top-level worker configuration.
type Config struct {
	Relay   RelayConfig   `yaml:"relay"`
	General GeneralConfig `yaml:"general"`
	Log     LogConfig     `yaml:"log"`
	Tuning  TuningConfig  `yaml:"tuning"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// RelayConfig describes the collection endpoint.
type RelayConfig struct {
	// DataEndpoint is the ws:// or wss:// base URL of the collector. The data
	// channel connects to "{DataEndpoint}/", the control channel to
	// "{DataEndpoint}/control".
	DataEndpoint string `yaml:"data_endpoint"`

	// DeviceEndpoint overrides the control channel URL when set.
	DeviceEndpoint string `yaml:"device_endpoint"`

	// Secret is sent as "Authorization: Bearer <secret>" on both channels and
	// repeated in the control intro.
	Secret string `yaml:"secret"`

	// UseCompression is accepted for compatibility and currently has no effect.
	UseCompression bool `yaml:"use_compression"`
}

// GeneralConfig holds identity and intake settings.
type GeneralConfig struct {
	DeviceName string `yaml:"device_name"`
	Workers    int    `yaml:"workers"`

	// DNSServer is carried for tooling that shares this file; the worker does
	// not resolve through it.
	DNSServer string `yaml:"dns_server"`

	IntakeDir    string        `yaml:"intake_dir"`
	MinFileSize  int64         `yaml:"min_file_size"`
	ScanInterval time.Duration `yaml:"scan_interval"`

	// ListenAddr enables the length-prefixed TCP intake (e.g. "127.0.0.1:7707").
	ListenAddr string `yaml:"listen_addr"`
}

// LogConfig controls log level, format and optional file rotation.
type LogConfig struct {
	Level      string `yaml:"level"`  // debug | info | warn | error
	Format     string `yaml:"format"` // json | text
	LogToFile  bool   `yaml:"log_to_file"`
	FilePath   string `yaml:"file_path"`
	MaxSize    int    `yaml:"max_size"`    // megabytes
	MaxBackups int    `yaml:"max_backups"` // files
	MaxAge     int    `yaml:"max_age"`     // days
	Compress   bool   `yaml:"compress"`
}

// TuningConfig holds pacing knobs.
type TuningConfig struct {
	WorkerSpawnDelayMs int           `yaml:"worker_spawn_delay_ms"`
	RetryDelay         time.Duration `yaml:"retry_delay"`
	HeartbeatInterval  time.Duration `yaml:"heartbeat_interval"`
	ControlRetry       time.Duration `yaml:"control_retry"`
}

// MetricsConfig enables the Prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// WorkerSpawnDelay returns the stagger between worker starts.
func (t TuningConfig) WorkerSpawnDelay() time.Duration {
	return time.Duration(t.WorkerSpawnDelayMs) * time.Millisecond
}

// DataURL returns the data channel URL.
func (c *Config) DataURL() string {
	return strings.TrimRight(c.Relay.DataEndpoint, "/") + "/"
}

// ControlURL returns the control channel URL, preferring DeviceEndpoint.
func (c *Config) ControlURL() string {
	if c.Relay.DeviceEndpoint != "" {
		return c.Relay.DeviceEndpoint
	}
	return strings.TrimRight(c.Relay.DataEndpoint, "/") + "/control"
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	sanitize(cfg)
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// LoadOrDefault is Load, except that any failure is logged and answered with
// Defaults(). A worker without a usable config file still runs.
func LoadOrDefault(path string) *Config {
	if path == "" {
		return Defaults()
	}
	cfg, err := Load(path)
	if err != nil {
		slog.Warn("config: using defaults", "path", path, "err", err)
		return Defaults()
	}
	return cfg
}

// Defaults returns a Config pre-populated with default values.
func Defaults() *Config {
	return &Config{
		Relay: RelayConfig{
			DataEndpoint: DefaultDataEndpoint,
		},
		General: GeneralConfig{
			DeviceName:   DefaultDeviceName,
			Workers:      DefaultWorkers,
			DNSServer:    DefaultDNSServer,
			IntakeDir:    DefaultIntakeDir,
			MinFileSize:  DefaultMinFileSize,
			ScanInterval: DefaultScanInterval,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			FilePath:   DefaultLogFile,
			MaxSize:    10,
			MaxBackups: 5,
			MaxAge:     7,
		},
		Tuning: TuningConfig{
			WorkerSpawnDelayMs: DefaultWorkerSpawnDelay,
			RetryDelay:         DefaultRetryDelay,
			HeartbeatInterval:  DefaultHeartbeatInterval,
			ControlRetry:       DefaultControlRetry,
		},
	}
}

// sanitize trims strings and replaces out-of-range values with defaults.
func sanitize(cfg *Config) {
	cfg.Relay.DataEndpoint = strings.TrimSpace(cfg.Relay.DataEndpoint)
	cfg.Relay.DeviceEndpoint = strings.TrimSpace(cfg.Relay.DeviceEndpoint)
	cfg.General.DeviceName = strings.TrimSpace(cfg.General.DeviceName)

	if cfg.Relay.DataEndpoint == "" {
		cfg.Relay.DataEndpoint = DefaultDataEndpoint
	}
	if cfg.General.DeviceName == "" {
		cfg.General.DeviceName = DefaultDeviceName
	}
	if cfg.General.Workers < 1 {
		cfg.General.Workers = DefaultWorkers
	}
	if cfg.General.IntakeDir == "" {
		cfg.General.IntakeDir = DefaultIntakeDir
	}
	if cfg.General.MinFileSize <= 0 {
		cfg.General.MinFileSize = DefaultMinFileSize
	}
	if cfg.General.ScanInterval <= 0 {
		cfg.General.ScanInterval = DefaultScanInterval
	}
	if cfg.Tuning.WorkerSpawnDelayMs < 0 {
		cfg.Tuning.WorkerSpawnDelayMs = DefaultWorkerSpawnDelay
	}
	if cfg.Tuning.RetryDelay <= 0 {
		cfg.Tuning.RetryDelay = DefaultRetryDelay
	}
	if cfg.Tuning.HeartbeatInterval <= 0 {
		cfg.Tuning.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.Tuning.ControlRetry <= 0 {
		cfg.Tuning.ControlRetry = DefaultControlRetry
	}
	if cfg.Log.MaxSize <= 0 {
		cfg.Log.MaxSize = 10
	}
	if cfg.Log.MaxBackups < 0 {
		cfg.Log.MaxBackups = 0
	}
	if cfg.Log.MaxAge <= 0 {
		cfg.Log.MaxAge = 7
	}
	if cfg.Log.FilePath == "" {
		cfg.Log.FilePath = DefaultLogFile
	}
}

// validate checks structural constraints sanitize cannot repair.
func validate(cfg *Config) error {
	for name, raw := range map[string]string{
		"relay.data_endpoint":   cfg.Relay.DataEndpoint,
		"relay.device_endpoint": cfg.Relay.DeviceEndpoint,
	} {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return fmt.Errorf("%s: scheme must be ws or wss, got %q", name, u.Scheme)
		}
		if u.Host == "" {
			return fmt.Errorf("%s: missing host", name)
		}
	}
	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "warning", "error", "":
	default:
		return fmt.Errorf("log.level: unknown level %q", cfg.Log.Level)
	}
	switch cfg.Log.Format {
	case "json", "text", "":
	default:
		return fmt.Errorf("log.format: unknown format %q", cfg.Log.Format)
	}
	return nil
}
