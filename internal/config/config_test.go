package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Sandbox.Backend != "auto" {
		t.Errorf("Sandbox.Backend = %q, want auto", cfg.Sandbox.Backend)
	}
	if cfg.Fetch.Depth != 50 {
		t.Errorf("Fetch.Depth = %d, want 50", cfg.Fetch.Depth)
	}
	if cfg.Analysis.CommitLimit != 50 {
		t.Errorf("Analysis.CommitLimit = %d, want 50", cfg.Analysis.CommitLimit)
	}
	if cfg.Oracle.Timeout != 60*time.Second {
		t.Errorf("Oracle.Timeout = %s, want 60s", cfg.Oracle.Timeout)
	}
	if cfg.Sandbox.Limits.MemoryMB < 16 {
		t.Errorf("Sandbox.Limits.MemoryMB = %d, want a sane default", cfg.Sandbox.Limits.MemoryMB)
	}
	if err := cfg.Sandbox.Limits.Validate(); err != nil {
		t.Errorf("default limits do not validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"valid defaults", func(c *Config) {}, false},
		{"server port 0", func(c *Config) { c.Server.Port = 0 }, true},
		{"server port 99999", func(c *Config) { c.Server.Port = 99999 }, true},
		{"fetch depth 0", func(c *Config) { c.Fetch.Depth = 0 }, true},
		{"commit limit 0", func(c *Config) { c.Analysis.CommitLimit = 0 }, true},
		{"oracle parallel 0", func(c *Config) { c.Analysis.OracleParallel = 0 }, true},
		{"memory_mb too small", func(c *Config) { c.Sandbox.Limits.MemoryMB = 8 }, true},
		{"pids_limit too small", func(c *Config) { c.Sandbox.Limits.PidsLimit = 4 }, true},
		{"nofile too large", func(c *Config) { c.Sandbox.Limits.NoFile = 1 << 20 }, true},
		{"relative work root", func(c *Config) { c.Analysis.WorkRoot = "relative/path" }, true},
		{"TLS enabled without cert", func(c *Config) {
			c.TLS.Enabled = true
			c.TLS.CertFile = ""
			c.TLS.KeyFile = ""
		}, true},
		{"TLS enabled with cert+key", func(c *Config) {
			c.TLS.Enabled = true
			c.TLS.CertFile = "/etc/ssl/cert.pem"
			c.TLS.KeyFile = "/etc/ssl/key.pem"
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	yamlContent := `
server:
  host: "127.0.0.1"
  port: 9090
sandbox:
  backend: docker
  limits:
    memory_mb: 512
fetch:
  depth: 25
  timeout: 90s
analysis:
  commit_limit: 30
oracle:
  model: local-analyst
  base_url: http://localhost:11434/v1
`
	tmpFile, err := os.CreateTemp("", "config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmpFile.Name())

	if _, err := tmpFile.WriteString(yamlContent); err != nil {
		t.Fatal(err)
	}
	tmpFile.Close()

	cfg, err := Load(tmpFile.Name())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Sandbox.Backend != "docker" {
		t.Errorf("Sandbox.Backend = %q, want docker", cfg.Sandbox.Backend)
	}
	if cfg.Sandbox.Limits.MemoryMB != 512 {
		t.Errorf("Sandbox.Limits.MemoryMB = %d, want 512", cfg.Sandbox.Limits.MemoryMB)
	}
	if cfg.Fetch.Depth != 25 {
		t.Errorf("Fetch.Depth = %d, want 25", cfg.Fetch.Depth)
	}
	if cfg.Fetch.Timeout != 90*time.Second {
		t.Errorf("Fetch.Timeout = %s, want 90s", cfg.Fetch.Timeout)
	}
	if cfg.Analysis.CommitLimit != 30 {
		t.Errorf("Analysis.CommitLimit = %d, want 30", cfg.Analysis.CommitLimit)
	}
	if cfg.Oracle.Model != "local-analyst" {
		t.Errorf("Oracle.Model = %q, want local-analyst", cfg.Oracle.Model)
	}
	// Unset sections keep their defaults.
	if cfg.Security.RateLimitRPS != 100 {
		t.Errorf("Security.RateLimitRPS = %v, want default 100", cfg.Security.RateLimitRPS)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err == nil {
		t.Error("expected error for missing file, got nil")
	}
}

func TestOracleConfig_APIKeyFromEnv(t *testing.T) {
	t.Setenv("SENTINEL_TEST_ORACLE_KEY", "sk-test")
	o := OracleConfig{APIKeyEnv: "SENTINEL_TEST_ORACLE_KEY"}
	if got := o.APIKey(); got != "sk-test" {
		t.Errorf("APIKey() = %q, want sk-test", got)
	}
	if got := (OracleConfig{}).APIKey(); got != "" {
		t.Errorf("APIKey() with no env = %q, want empty", got)
	}
}

func TestAddress(t *testing.T) {
	cfg := DefaultConfig()
	want := "0.0.0.0:8080"
	if got := cfg.Address(); got != want {
		t.Errorf("Address() = %q, want %q", got, want)
	}

	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 3000
	want = "127.0.0.1:3000"
	if got := cfg.Address(); got != want {
		t.Errorf("Address() = %q, want %q", got, want)
	}
}
