package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values for the collector configuration.
const (
	DefaultListenAddr = ":9001"
	DefaultDeviceTTL  = 5 * time.Minute
)

// Config holds the collector configuration parsed from the `collector:`
// section. Other top-level keys are ignored.
type Config struct {
	Collector CollectorConfig `yaml:"collector"`
}

// CollectorConfig holds all collector settings.
type CollectorConfig struct {
	ListenAddr string `yaml:"listen_addr"`

	// GRPCAddr enables the grpc.health.v1 service when set.
	GRPCAddr string `yaml:"grpc_addr"`

	Auth AuthConfig `yaml:"auth"`

	DeviceTTL time.Duration `yaml:"device_ttl"`

	LoginOnConnect bool `yaml:"login_on_connect"`
}

// AuthConfig controls how workers authenticate.
type AuthConfig struct {
	// Mode is one of: bearer | none.
	Mode string `yaml:"mode"`

	// SecretEnv is the name of the environment variable that holds the
	// shared secret workers send as "Authorization: Bearer <secret>".
	SecretEnv string `yaml:"secret_env"`
}

// Secret returns the shared secret resolved from the environment.
func (a AuthConfig) Secret() string {
	if a.SecretEnv == "" {
		return ""
	}
	return os.Getenv(a.SecretEnv)
}

// Load reads and parses the config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("collector config: read %q: %w", path, err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("collector config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("collector config: %w", err)
	}
	return cfg, nil
}

// Defaults returns a Config pre-populated with default values.
func Defaults() *Config {
	return &Config{
		Collector: CollectorConfig{
			ListenAddr: DefaultListenAddr,
			DeviceTTL:  DefaultDeviceTTL,
		},
	}
}

func validate(cfg *Config) error {
	c := cfg.Collector
	if c.ListenAddr == "" {
		return fmt.Errorf("collector.listen_addr must not be empty")
	}
	switch c.Auth.Mode {
	case "bearer", "none", "":
	default:
		return fmt.Errorf("collector.auth.mode %q unknown: want bearer|none", c.Auth.Mode)
	}
	if c.Auth.Mode == "bearer" && c.Auth.SecretEnv == "" {
		return fmt.Errorf("collector.auth.secret_env is required when mode is bearer")
	}
	if c.DeviceTTL <= 0 {
		return fmt.Errorf("collector.device_ttl must be positive")
	}
	return nil
}
