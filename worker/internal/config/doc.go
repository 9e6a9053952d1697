// Package config loads and watches the relay worker configuration file.
//
// Top-level types:
//   - Config{Relay, General, Log, Tuning, Metrics}: full tree parsed from YAML
//   - RelayConfig: data_endpoint, device_endpoint, secret, use_compression
//   - GeneralConfig: device_name, workers, dns_server, intake_dir,
//     min_file_size, scan_interval, listen_addr
//   - LogConfig: level, format, rotation settings for the optional log file
//   - TuningConfig: worker spawn delay, retry delay, heartbeat and control retry
//
// Load(path) reads the YAML file, applies defaults, sanitizes out-of-range
// values and validates the endpoint. LoadOrDefault(path) never fails: a
// missing or broken file yields Defaults() and a logged warning.
//
// Watch(ctx, path, onChange) uses fsnotify to detect file changes and calls
// onChange with the newly parsed Config. The worker only applies the log
// level on reload; everything else is read once at startup.
package config
