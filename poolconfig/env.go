package poolconfig

import (
	"os"

	"github.com/spf13/cast"
	"github.com/subosito/gotenv"
)

// envPrefix namespaces every environment variable this package reads, so
// HOSTPOOL_PORT doesn't collide with some unrelated PORT the embedding
// process also happens to read.
const envPrefix = "HOSTPOOL_"

// loadDotEnv loads key=value pairs from a .env-style file at path into the
// process environment, if the file exists. It's a layer below the real
// environment: anything already set in os.Environ wins.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return gotenv.Load(path)
}

// loadEnv reads the HOSTPOOL_* environment variables into a Config patch.
func loadEnv() *Config {
	cfg := &Config{}
	if v, ok := lookupEnv("PORT"); ok {
		cfg.Port = v
	}
	if v, ok := lookupEnvInt("LOCAL_CORE_CONNECTIONS"); ok {
		cfg.Local.CoreConnections = v
	}
	if v, ok := lookupEnvInt("LOCAL_MAX_CONNECTIONS"); ok {
		cfg.Local.MaxConnections = v
	}
	if v, ok := lookupEnvInt("REMOTE_CORE_CONNECTIONS"); ok {
		cfg.Remote.CoreConnections = v
	}
	if v, ok := lookupEnvInt("REMOTE_MAX_CONNECTIONS"); ok {
		cfg.Remote.MaxConnections = v
	}
	if v, ok := lookupEnv("IDLE_TIMEOUT"); ok {
		if d, err := cast.ToDurationE(v); err == nil {
			cfg.IdleTimeout.Duration = d
		}
	}
	if v, ok := lookupEnvInt("MAX_STREAM_PER_CONNECTION"); ok {
		cfg.MaxStreamPerConnection = v
	}
	return cfg
}

func lookupEnv(name string) (string, bool) {
	return os.LookupEnv(envPrefix + name)
}

func lookupEnvInt(name string) (int, bool) {
	v, ok := lookupEnv(name)
	if !ok {
		return 0, false
	}
	n, err := cast.ToIntE(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
