// Package poolconfig loads Pool sizing configuration the way a driver
// session would: from built-in defaults, layered over by a config file,
// then environment variables, then command-line flags, then any explicit
// overrides the embedding application passes in last.
package poolconfig

import "time"

// Config is everything a session needs to build pools for hosts at each
// HostDistance, plus how to reach them.
type Config struct {
	Port string `mapstructure:"port" toml:"port"`

	Local  DistanceConfig `mapstructure:"local" toml:"local"`
	Remote DistanceConfig `mapstructure:"remote" toml:"remote"`

	IdleTimeout     Duration `mapstructure:"idle_timeout" toml:"idle_timeout"`
	CleanupInterval Duration `mapstructure:"cleanup_interval" toml:"cleanup_interval"`

	MaxStreamPerConnection int `mapstructure:"max_stream_per_connection" toml:"max_stream_per_connection"`
}

// DistanceConfig is the sizing knobs for one HostDistance.
type DistanceConfig struct {
	CoreConnections        int `mapstructure:"core_connections" toml:"core_connections"`
	MaxConnections         int `mapstructure:"max_connections" toml:"max_connections"`
	MaxRequestsPerConn     int `mapstructure:"max_requests_per_connection" toml:"max_requests_per_connection"`
	NewConnectionThreshold int `mapstructure:"new_connection_threshold" toml:"new_connection_threshold"`
}

// Defaults returns the built-in configuration every Loader starts from,
// before a file, the environment, flags, or explicit overrides are
// layered on top.
func Defaults() *Config {
	return &Config{
		Port: "9042",
		Local: DistanceConfig{
			CoreConnections:        1,
			MaxConnections:         2,
			MaxRequestsPerConn:     1024,
			NewConnectionThreshold: 800,
		},
		Remote: DistanceConfig{
			CoreConnections:        1,
			MaxConnections:         1,
			MaxRequestsPerConn:     256,
			NewConnectionThreshold: 200,
		},
		IdleTimeout:            Duration{Duration: time.Minute},
		CleanupInterval:        Duration{Duration: 10 * time.Second},
		MaxStreamPerConnection: 32768,
	}
}

// merge overlays any non-zero field of patch onto base, field by field.
// Each layer of the Loader's precedence chain calls this once with
// whatever it was able to read, so later layers only touch what they
// actually set.
func merge(base, patch *Config) {
	if patch.Port != "" {
		base.Port = patch.Port
	}
	mergeDistance(&base.Local, &patch.Local)
	mergeDistance(&base.Remote, &patch.Remote)
	if patch.IdleTimeout.Duration != 0 {
		base.IdleTimeout = patch.IdleTimeout
	}
	if patch.CleanupInterval.Duration != 0 {
		base.CleanupInterval = patch.CleanupInterval
	}
	if patch.MaxStreamPerConnection != 0 {
		base.MaxStreamPerConnection = patch.MaxStreamPerConnection
	}
}

func mergeDistance(base, patch *DistanceConfig) {
	if patch.CoreConnections != 0 {
		base.CoreConnections = patch.CoreConnections
	}
	if patch.MaxConnections != 0 {
		base.MaxConnections = patch.MaxConnections
	}
	if patch.MaxRequestsPerConn != 0 {
		base.MaxRequestsPerConn = patch.MaxRequestsPerConn
	}
	if patch.NewConnectionThreshold != 0 {
		base.NewConnectionThreshold = patch.NewConnectionThreshold
	}
}
