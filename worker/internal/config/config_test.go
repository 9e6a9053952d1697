package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Valid(t *testing.T) {
	yaml := `
relay:
  data_endpoint: "wss://collector.example.com:9001/"
  secret: "s3cret"
general:
  device_name: "pixel-7"
  workers: 4
  intake_dir: "/tmp/inbox"
  min_file_size: 1024
  scan_interval: 5s
tuning:
  worker_spawn_delay_ms: 250
log:
  level: debug
  format: text
`
	cfg := loadFromString(t, yaml)

	assert.Equal(t, "wss://collector.example.com:9001/", cfg.Relay.DataEndpoint)
	assert.Equal(t, 4, cfg.General.Workers)
	assert.Equal(t, int64(1024), cfg.General.MinFileSize)
	assert.Equal(t, 5*time.Second, cfg.General.ScanInterval)
	assert.Equal(t, 250*time.Millisecond, cfg.Tuning.WorkerSpawnDelay())
	assert.Equal(t, "wss://collector.example.com:9001/", cfg.DataURL())
	assert.Equal(t, "wss://collector.example.com:9001/control", cfg.ControlURL())
}

func TestLoad_Defaults(t *testing.T) {
	cfg := loadFromString(t, "general:\n  device_name: dev\n")

	assert.Equal(t, DefaultDataEndpoint, cfg.Relay.DataEndpoint)
	assert.Equal(t, DefaultWorkers, cfg.General.Workers)
	assert.Equal(t, int64(DefaultMinFileSize), cfg.General.MinFileSize)
	assert.Equal(t, DefaultScanInterval, cfg.General.ScanInterval)
	assert.Equal(t, DefaultHeartbeatInterval, cfg.Tuning.HeartbeatInterval)
	assert.Equal(t, DefaultWorkerSpawnDelay, cfg.Tuning.WorkerSpawnDelayMs)
}

func TestLoad_SanitizesOutOfRange(t *testing.T) {
	cfg := loadFromString(t, `
general:
  device_name: "  padded  "
  workers: 0
  min_file_size: -1
tuning:
  retry_delay: -5s
`)
	assert.Equal(t, 1, cfg.General.Workers)
	assert.Equal(t, "padded", cfg.General.DeviceName)
	assert.Equal(t, int64(DefaultMinFileSize), cfg.General.MinFileSize)
	assert.Equal(t, DefaultRetryDelay, cfg.Tuning.RetryDelay)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"http scheme", "relay:\n  data_endpoint: http://127.0.0.1:9001\n"},
		{"no host", "relay:\n  data_endpoint: ws://\n"},
		{"bad device endpoint", "relay:\n  device_endpoint: tcp://x\n"},
		{"bad level", "log:\n  level: loud\n"},
		{"bad format", "log:\n  format: xml\n"},
		{"not yaml", "relay: [unterminated\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeTemp(t, tc.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadOrDefault(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "absent.yaml")
	assert.Equal(t, DefaultDataEndpoint, LoadOrDefault(missing).Relay.DataEndpoint)

	broken := writeTemp(t, "relay: [unterminated\n")
	assert.Equal(t, DefaultDeviceName, LoadOrDefault(broken).General.DeviceName)

	good := writeTemp(t, "general:\n  device_name: lab-1\n")
	assert.Equal(t, "lab-1", LoadOrDefault(good).General.DeviceName)
}

func TestControlURL_DeviceEndpointOverride(t *testing.T) {
	cfg := Defaults()
	cfg.Relay.DeviceEndpoint = "ws://10.0.0.2:9002/control"
	assert.Equal(t, "ws://10.0.0.2:9002/control", cfg.ControlURL())
}

func TestWatch_Reload(t *testing.T) {
	path := writeTemp(t, "log:\n  level: info\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, func(c *Config) {
			select {
			case changed <- c:
			default:
			}
		})
	}()

	// Give the watcher time to register, then replace the file atomically the
	// way config-management tools do.
	time.Sleep(100 * time.Millisecond)
	tmp := path + ".tmp"
	require.NoError(t, os.WriteFile(tmp, []byte("log:\n  level: debug\n"), 0o600))
	require.NoError(t, os.Rename(tmp, path))

	deadline := time.After(3 * time.Second)
	for reloaded := false; !reloaded; {
		select {
		case c := <-changed:
			reloaded = c.Log.Level == "debug"
		case <-deadline:
			t.Fatal("onChange was not called with the new level")
		}
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func loadFromString(t *testing.T, content string) *Config {
	t.Helper()
	cfg, err := Load(writeTemp(t, content))
	require.NoError(t, err)
	return cfg
}

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}
