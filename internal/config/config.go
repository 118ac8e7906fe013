package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server    ServerConfig    `toml:"server"`
	Network   NetworkConfig   `toml:"network"`
	Reconnect ReconnectConfig `toml:"reconnect"`
	Cache     CacheConfig     `toml:"cache"`
	Scripts   ScriptsConfig   `toml:"scripts"`
	Data      DataConfig      `toml:"data"`
	Logging   LoggingConfig   `toml:"logging"`
}

type ServerConfig struct {
	Host       string `toml:"host"`
	Port       int    `toml:"port"`
	PlayerName string `toml:"player_name"`
	AuthToken  string `toml:"auth_token"`
}

type NetworkConfig struct {
	Transport         string        `toml:"transport"` // "tcp" or "udp"
	ConnectTimeout    time.Duration `toml:"connect_timeout"`
	WriteTimeout      time.Duration `toml:"write_timeout"`
	JoinTimeout       time.Duration `toml:"join_timeout"`
	InQueueSize       int           `toml:"in_queue_size"`
	OutQueueSize      int           `toml:"out_queue_size"`
	CompressThreshold int           `toml:"compress_threshold"`
	MovementPerSec    float64       `toml:"movement_per_sec"`
	PingInterval      time.Duration `toml:"ping_interval"`
}

type ReconnectConfig struct {
	MaxAttempts   int           `toml:"max_attempts"` // 0 = retry forever
	InitialDelay  time.Duration `toml:"initial_delay"`
	MaxDelay      time.Duration `toml:"max_delay"`
	BackoffFactor float64       `toml:"backoff_factor"`
}

type CacheConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

type ScriptsConfig struct {
	Enabled bool   `toml:"enabled"`
	Dir     string `toml:"dir"`
}

type DataConfig struct {
	Abilities string `toml:"abilities"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "json" or "console"
}

// Load reads a TOML config file, overlaying it on the built-in defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := defaults()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Default returns the built-in configuration, used when no config file is
// given.
func Default() *Config {
	return defaults()
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:       "127.0.0.1",
			Port:       7777,
			PlayerName: "Player",
		},
		Network: NetworkConfig{
			Transport:         "tcp",
			ConnectTimeout:    5 * time.Second,
			WriteTimeout:      10 * time.Second,
			JoinTimeout:       time.Second,
			InQueueSize:       256,
			OutQueueSize:      256,
			CompressThreshold: 1024,
			MovementPerSec:    20,
			PingInterval:      5 * time.Second,
		},
		Reconnect: ReconnectConfig{
			MaxAttempts:   5,
			InitialDelay:  time.Second,
			MaxDelay:      30 * time.Second,
			BackoffFactor: 1.5,
		},
		Cache: CacheConfig{
			Enabled: true,
			Path:    "cache/chunks.db",
		},
		Scripts: ScriptsConfig{
			Enabled: true,
			Dir:     "scripts/hooks",
		},
		Data: DataConfig{
			Abilities: "data/yaml/abilities.yaml",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}
