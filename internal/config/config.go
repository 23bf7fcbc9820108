// Package config wraps viper for gatesync's static process configuration.
// Operational tunables that change at runtime live in the settings table,
// not here.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides, e.g.
// GATESYNC_SERVER_PORT overrides server.port.
const EnvPrefix = "GATESYNC"

// Config is a read-only view over a viper instance. A nil viper behaves
// like an empty configuration.
type Config struct {
	v *viper.Viper
}

// New wraps v. Passing nil yields an empty configuration.
func New(v *viper.Viper) *Config {
	if v == nil {
		v = viper.New()
	}
	return &Config{v: v}
}

// Load reads the configuration file at path (any format viper supports)
// and applies defaults and GATESYNC_ environment overrides. An empty path
// searches for gatesync.{yaml,toml,json} in the working directory and
// /etc/gatesync, and a missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		return New(v), nil
	}

	v.SetConfigName("gatesync")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/gatesync")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return New(v), nil
}

// SetDefaults registers the default static configuration on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "data")
	v.SetDefault("database.path", "")
	v.SetDefault("snapshot.dir", "")
	v.SetDefault("logs.event_dir", "")
	v.SetDefault("logs.raw_dir", "")
	v.SetDefault("log.development", false)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.shutdown_timeout", "10s")
}

// Viper exposes the underlying viper instance for plugin initialization.
func (c *Config) Viper() *viper.Viper { return c.v }

// GetString returns the string value for key.
func (c *Config) GetString(key string) string { return c.v.GetString(key) }

// GetInt returns the int value for key.
func (c *Config) GetInt(key string) int { return c.v.GetInt(key) }

// GetBool returns the bool value for key.
func (c *Config) GetBool(key string) bool { return c.v.GetBool(key) }

// GetDuration returns the duration value for key.
func (c *Config) GetDuration(key string) time.Duration { return c.v.GetDuration(key) }

// IsSet reports whether key has a value from any source.
func (c *Config) IsSet(key string) bool { return c.v.IsSet(key) }

// Sub returns the sub-tree rooted at key. A missing key yields an empty
// Config rather than nil.
func (c *Config) Sub(key string) *Config {
	return New(c.v.Sub(key))
}

// Unmarshal decodes the whole configuration into target.
func (c *Config) Unmarshal(target any) error {
	return c.v.Unmarshal(target)
}

// ConfigFile returns the path of the file that was read, if any.
func (c *Config) ConfigFile() string { return c.v.ConfigFileUsed() }

// DataDir returns the data directory.
func (c *Config) DataDir() string {
	if d := c.v.GetString("data_dir"); d != "" {
		return d
	}
	return "data"
}

// DatabasePath returns the SQLite file path, defaulting under DataDir.
func (c *Config) DatabasePath() string {
	return c.pathOr("database.path", "gatesync.db")
}

// SnapshotDir returns the root of the snapshot tree.
func (c *Config) SnapshotDir() string {
	return c.pathOr("snapshot.dir", "snapshots")
}

// EventLogDir returns the root of the clean event and system log streams.
func (c *Config) EventLogDir() string {
	return c.pathOr("logs.event_dir", "logs")
}

// RawLogDir returns the root of the raw event log stream.
func (c *Config) RawLogDir() string {
	return c.pathOr("logs.raw_dir", filepath.Join("logs", "raw"))
}

// ListenAddr returns host:port for the operations server.
func (c *Config) ListenAddr() string {
	host := c.v.GetString("server.host")
	port := c.v.GetString("server.port")
	if port == "" {
		port = "8080"
	}
	return host + ":" + port
}

func (c *Config) pathOr(key, rel string) string {
	if p := c.v.GetString(key); p != "" {
		return p
	}
	return filepath.Join(c.DataDir(), rel)
}
