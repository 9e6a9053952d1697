// Package config loads the collector configuration from the `collector:`
// section of a YAML file.
//
// Config fields:
//   - ListenAddr: HTTP address for the data/control websockets and the REST API (default ":9001")
//   - GRPCAddr: optional address of the gRPC health service
//   - Auth.Mode: "bearer" or "none"
//   - Auth.SecretEnv: environment variable holding the shared secret
//   - DeviceTTL: how long a silent device stays listed (default 5m)
//   - LoginOnConnect: send a LOGIN request to each worker after its welcome
//
// Load(path) applies defaults before unmarshalling, then validates.
package config
