package poolconfig

import "github.com/spf13/pflag"

// RegisterFlags adds this package's flags to fs, with the package's
// defaults as their starting values. The embedding command calls this on
// its own flag.CommandLine-equivalent before parsing argv.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Defaults()
	fs.String("port", d.Port, "port to connect to each host on")
	fs.Int("local-core-connections", d.Local.CoreConnections, "core connections to keep open per local host")
	fs.Int("local-max-connections", d.Local.MaxConnections, "max connections to open per local host")
	fs.Int("remote-core-connections", d.Remote.CoreConnections, "core connections to keep open per remote host")
	fs.Int("remote-max-connections", d.Remote.MaxConnections, "max connections to open per remote host")
	fs.Duration("idle-timeout", d.IdleTimeout.Duration, "how long a trashed connection sits before being reaped")
	fs.Int("max-stream-per-connection", d.MaxStreamPerConnection, "protocol concurrent-request ceiling per connection")
}

// flagsToConfig reads back whichever of this package's flags were
// explicitly set on fs into a Config patch. Flags left at their default
// value are treated as not set, so they don't shadow a value the
// environment or config file layer already provided.
func flagsToConfig(fs *pflag.FlagSet) *Config {
	cfg := &Config{}
	if fs.Changed("port") {
		cfg.Port, _ = fs.GetString("port")
	}
	if fs.Changed("local-core-connections") {
		cfg.Local.CoreConnections, _ = fs.GetInt("local-core-connections")
	}
	if fs.Changed("local-max-connections") {
		cfg.Local.MaxConnections, _ = fs.GetInt("local-max-connections")
	}
	if fs.Changed("remote-core-connections") {
		cfg.Remote.CoreConnections, _ = fs.GetInt("remote-core-connections")
	}
	if fs.Changed("remote-max-connections") {
		cfg.Remote.MaxConnections, _ = fs.GetInt("remote-max-connections")
	}
	if fs.Changed("idle-timeout") {
		d, _ := fs.GetDuration("idle-timeout")
		cfg.IdleTimeout.Duration = d
	}
	if fs.Changed("max-stream-per-connection") {
		cfg.MaxStreamPerConnection, _ = fs.GetInt("max-stream-per-connection")
	}
	return cfg
}
