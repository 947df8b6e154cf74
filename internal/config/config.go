package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server ServerConfig `yaml:"server"`
	Pubsub PubsubConfig `yaml:"pubsub"`
	Stats  StatsConfig  `yaml:"stats"`
	Mock   MockConfig   `yaml:"mock"`
}

type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AuthToken      string   `yaml:"auth_token"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	// SendBuffer is the number of outbound frames queued per connection
	// before the connection is considered too slow and dropped.
	SendBuffer int `yaml:"send_buffer"`
	// MaxConnections caps concurrent clients; 0 means unlimited.
	MaxConnections int `yaml:"max_connections"`
}

type PubsubConfig struct {
	Debug             bool `yaml:"debug"`
	RequireAuthorized bool `yaml:"require_authorized"`
}

type StatsConfig struct {
	Interval time.Duration `yaml:"interval"`
}

type MockConfig struct {
	JobInterval       time.Duration `yaml:"job_interval"`
	RetargetEvery     int           `yaml:"retarget_every"`
	InitialDifficulty float64       `yaml:"initial_difficulty"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:       3333,
			Host:       "0.0.0.0",
			SendBuffer: 64,
		},
		Stats: StatsConfig{
			Interval: 10 * time.Second,
		},
		Mock: MockConfig{
			JobInterval:       30 * time.Second,
			RetargetEvery:     4,
			InitialDifficulty: 1024,
		},
	}
}

// Default returns the built-in configuration used when no file is present.
func Default() *Config {
	return defaultConfig()
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating %s: %w", path, err)
	}

	return cfg, nil
}

// LoadOrDefault behaves like Load but falls back to the defaults when the
// file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return defaultConfig(), nil
	}
	return cfg, err
}

func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Server.SendBuffer <= 0 {
		return fmt.Errorf("server.send_buffer must be positive, got %d", c.Server.SendBuffer)
	}
	if c.Server.MaxConnections < 0 {
		return fmt.Errorf("server.max_connections must not be negative")
	}
	if c.Stats.Interval < 0 {
		return fmt.Errorf("stats.interval must not be negative")
	}
	if c.Mock.JobInterval <= 0 {
		return fmt.Errorf("mock.job_interval must be positive")
	}
	if c.Mock.InitialDifficulty <= 0 {
		return fmt.Errorf("mock.initial_difficulty must be positive")
	}
	return nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// GenerateToken returns a random 128-bit hex token suitable for
// server.auth_token.
func GenerateToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
