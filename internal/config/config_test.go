package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	yaml := `
server:
  port: 4444
  host: "127.0.0.1"
  auth_token: "secret"
  allowed_origins:
    - "https://pool.example"
pubsub:
  debug: true
  require_authorized: true
stats:
  interval: 2s
mock:
  job_interval: 5s
`
	if err := os.WriteFile(cfgPath, []byte(yaml), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Port != 4444 {
		t.Errorf("Server.Port = %d, want 4444", cfg.Server.Port)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want 127.0.0.1", cfg.Server.Host)
	}
	if cfg.Server.AuthToken != "secret" {
		t.Errorf("Server.AuthToken = %q, want secret", cfg.Server.AuthToken)
	}
	if len(cfg.Server.AllowedOrigins) != 1 || cfg.Server.AllowedOrigins[0] != "https://pool.example" {
		t.Errorf("Server.AllowedOrigins = %v", cfg.Server.AllowedOrigins)
	}
	if !cfg.Pubsub.Debug || !cfg.Pubsub.RequireAuthorized {
		t.Errorf("Pubsub = %+v, want both flags set", cfg.Pubsub)
	}
	if cfg.Stats.Interval != 2*time.Second {
		t.Errorf("Stats.Interval = %v, want 2s", cfg.Stats.Interval)
	}
	if cfg.Mock.JobInterval != 5*time.Second {
		t.Errorf("Mock.JobInterval = %v, want 5s", cfg.Mock.JobInterval)
	}

	// Unset keys keep their defaults.
	if cfg.Server.SendBuffer != 64 {
		t.Errorf("Server.SendBuffer = %d, want default 64", cfg.Server.SendBuffer)
	}
	if cfg.Mock.InitialDifficulty != 1024 {
		t.Errorf("Mock.InitialDifficulty = %v, want default 1024", cfg.Mock.InitialDifficulty)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("Load() on missing file should return error")
	}
}

func TestLoadOrDefaultMissingFile(t *testing.T) {
	cfg, err := LoadOrDefault("/nonexistent/path/config.yaml")
	if err != nil {
		t.Fatalf("LoadOrDefault() error: %v", err)
	}
	if cfg.Server.Port != 3333 {
		t.Errorf("Server.Port = %d, want 3333", cfg.Server.Port)
	}
	if cfg.Addr() != "0.0.0.0:3333" {
		t.Errorf("Addr() = %q, want 0.0.0.0:3333", cfg.Addr())
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(":::not valid yaml"), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	_, err := Load(cfgPath)
	if err == nil {
		t.Fatal("Load() with invalid YAML should return error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"port too large", func(c *Config) { c.Server.Port = 70000 }, true},
		{"zero send buffer", func(c *Config) { c.Server.SendBuffer = 0 }, true},
		{"negative max connections", func(c *Config) { c.Server.MaxConnections = -1 }, true},
		{"negative stats interval", func(c *Config) { c.Stats.Interval = -time.Second }, true},
		{"stats disabled", func(c *Config) { c.Stats.Interval = 0 }, false},
		{"zero job interval", func(c *Config) { c.Mock.JobInterval = 0 }, true},
		{"zero difficulty", func(c *Config) { c.Mock.InitialDifficulty = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGenerateToken(t *testing.T) {
	tok, err := GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken() error: %v", err)
	}
	if len(tok) != 32 { // 16 bytes = 32 hex chars
		t.Errorf("token length = %d, want 32", len(tok))
	}

	tok2, _ := GenerateToken()
	if tok == tok2 {
		t.Error("two generated tokens should not be identical")
	}
}
