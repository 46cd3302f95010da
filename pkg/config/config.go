// Package config loads node configuration from file and environment.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/busybox42/waypoint/pkg/router"
	"github.com/busybox42/waypoint/pkg/types"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config is the root node configuration.
type Config struct {
	Log     LogConfig     `mapstructure:"log"`
	UDP     ListenConfig  `mapstructure:"udp"`
	TCP     ListenConfig  `mapstructure:"tcp"`
	Tor     TorConfig     `mapstructure:"tor"`
	Metrics MetricsConfig `mapstructure:"metrics"`

	// DefaultKeys maps a kind name (local, udp, tcp, onion) to the key of its
	// default handler. Kinds left out keep their standard key.
	DefaultKeys map[string]uint64 `mapstructure:"default_keys"`
}

type LogConfig struct {
	// Level: trace, debug, info, warn, error
	Level string `mapstructure:"level"`
}

// ListenConfig controls one transport.
type ListenConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

type TorConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type MetricsConfig struct {
	// Listen is the address of the Prometheus endpoint; empty disables it.
	Listen string `mapstructure:"listen"`
}

func Default() *Config {
	keys := make(map[string]uint64)
	for kind, k := range router.StandardDefaultKeys() {
		keys[kind.String()] = uint64(k)
	}
	return &Config{
		Log:         LogConfig{Level: "info"},
		UDP:         ListenConfig{Enabled: true, Listen: "127.0.0.1:7700"},
		TCP:         ListenConfig{Enabled: true, Listen: "127.0.0.1:7701"},
		Metrics:     MetricsConfig{Listen: ""},
		DefaultKeys: keys,
	}
}

// Load reads configuration from path, or from waypoint.{yaml,toml,json} in
// the working directory or ~/.waypoint when path is empty. A missing file is
// not an error. Environment variables use the prefix WAYPOINT with `.`
// replaced by `_`, e.g. WAYPOINT_LOG_LEVEL=debug.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetEnvPrefix("WAYPOINT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("udp.enabled", cfg.UDP.Enabled)
	v.SetDefault("udp.listen", cfg.UDP.Listen)
	v.SetDefault("tcp.enabled", cfg.TCP.Enabled)
	v.SetDefault("tcp.listen", cfg.TCP.Listen)
	v.SetDefault("tor.enabled", cfg.Tor.Enabled)
	v.SetDefault("metrics.listen", cfg.Metrics.Listen)
	// per entry, so a file naming one kind keeps the others
	for name, k := range cfg.DefaultKeys {
		v.SetDefault("default_keys."+name, k)
	}

	if path == "" {
		path = os.Getenv("WAYPOINT_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("waypoint")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".waypoint"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if _, err := c.Level(); err != nil {
		return fmt.Errorf("invalid log.level: %w", err)
	}
	if !c.UDP.Enabled && !c.TCP.Enabled {
		return errors.New("at least one of udp and tcp must be enabled")
	}
	if c.UDP.Enabled {
		if _, _, err := net.SplitHostPort(c.UDP.Listen); err != nil {
			return fmt.Errorf("invalid udp.listen: %w", err)
		}
	}
	if c.TCP.Enabled {
		if _, _, err := net.SplitHostPort(c.TCP.Listen); err != nil {
			return fmt.Errorf("invalid tcp.listen: %w", err)
		}
	}
	if c.Tor.Enabled && !c.TCP.Enabled {
		return errors.New("tor requires the tcp transport")
	}
	if c.Metrics.Listen != "" {
		if _, _, err := net.SplitHostPort(c.Metrics.Listen); err != nil {
			return fmt.Errorf("invalid metrics.listen: %w", err)
		}
	}
	if _, err := c.DefaultKeyTable(); err != nil {
		return err
	}
	return nil
}

func (c *Config) Level() (logrus.Level, error) {
	return logrus.ParseLevel(strings.TrimSpace(c.Log.Level))
}

// DefaultKeyTable converts DefaultKeys into a validated router table.
func (c *Config) DefaultKeyTable() (router.DefaultKeys, error) {
	table := make(router.DefaultKeys, len(c.DefaultKeys))
	for name, k := range c.DefaultKeys {
		kind, err := types.ParseKind(name)
		if err != nil {
			return nil, fmt.Errorf("invalid default_keys: %w", err)
		}
		table[kind] = types.Key(k)
	}
	if err := table.Validate(); err != nil {
		return nil, fmt.Errorf("invalid default_keys: %w", err)
	}
	return table, nil
}
