package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Sandbox  SandboxConfig  `yaml:"sandbox"`
	Fetch    FetchConfig    `yaml:"fetch"`
	Oracle   OracleConfig   `yaml:"oracle"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Database DatabaseConfig `yaml:"database"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Security SecurityConfig `yaml:"security"`
	TLS      TLSConfig      `yaml:"tls"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxRequestBody  int64         `yaml:"max_request_body_bytes"`
}

type SandboxConfig struct {
	Backend          string        `yaml:"backend"` // "auto" (default), "containerd", or "docker"
	ContainerdSocket string        `yaml:"containerd_socket"`
	Namespace        string        `yaml:"namespace"`
	ProvisionTimeout time.Duration `yaml:"provision_timeout"`
	Limits           LimitsConfig  `yaml:"limits"`
}

// LimitsConfig is the file form of the sandbox resource ceilings. The
// sandbox package imports config and converts these into its own limits
// type, so no sandbox type may appear here.
type LimitsConfig struct {
	CPUShares int64 `yaml:"cpu_shares"` // 1024 = 1 CPU core
	MemoryMB  int64 `yaml:"memory_mb"`
	PidsLimit int64 `yaml:"pids_limit"`
	NoFile    int64 `yaml:"nofile"`
	DiskMB    int64 `yaml:"disk_mb"`
}

func (l LimitsConfig) Validate() error {
	if l.CPUShares < 2 || l.CPUShares > 8192 {
		return fmt.Errorf("cpu_shares must be 2-8192, got %d", l.CPUShares)
	}
	if l.MemoryMB < 64 || l.MemoryMB > 16384 {
		return fmt.Errorf("memory_mb must be 64-16384, got %d", l.MemoryMB)
	}
	if l.PidsLimit < 16 || l.PidsLimit > 2000 {
		return fmt.Errorf("pids_limit must be 16-2000, got %d", l.PidsLimit)
	}
	if l.NoFile < 64 || l.NoFile > 65536 {
		return fmt.Errorf("nofile must be 64-65536, got %d", l.NoFile)
	}
	if l.DiskMB < 16 || l.DiskMB > 10240 {
		return fmt.Errorf("disk_mb must be 16-10240, got %d", l.DiskMB)
	}
	return nil
}

type FetchConfig struct {
	Depth   int           `yaml:"depth"` // clone history depth bound
	Timeout time.Duration `yaml:"timeout"`
}

type OracleConfig struct {
	BaseURL   string        `yaml:"base_url"` // OpenAI-compatible endpoint
	Model     string        `yaml:"model"`
	APIKeyEnv string        `yaml:"api_key_env"` // env var holding the key, never the key itself
	Timeout   time.Duration `yaml:"timeout"`
	Retries   int           `yaml:"retries"`
}

// APIKey resolves the oracle credential from the configured environment
// variable.
func (o OracleConfig) APIKey() string {
	if o.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(o.APIKeyEnv)
}

type AnalysisConfig struct {
	WorkRoot       string        `yaml:"work_root"`
	CommitLimit    int           `yaml:"commit_limit"`
	DiffLimitBytes int           `yaml:"diff_limit_bytes"`
	OracleParallel int           `yaml:"oracle_parallel"`
	InstallTimeout time.Duration `yaml:"install_timeout"`
	BuildTimeout   time.Duration `yaml:"build_timeout"`
}

type DatabaseConfig struct {
	DSN string `yaml:"dsn"` // empty selects the in-memory store
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type TracingConfig struct {
	Enabled  bool    `yaml:"enabled"`
	Endpoint string  `yaml:"endpoint"`
	Sample   float64 `yaml:"sample_rate"`
}

type SecurityConfig struct {
	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`
}

// TLSConfig controls HTTPS/TLS termination.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path)) // #nosec G304 -- path comes from CLI flag or hardcoded default
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns sensible defaults for all configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxRequestBody:  1 << 20, // 1MB
		},
		Sandbox: SandboxConfig{
			Backend:          "auto",
			ContainerdSocket: "/run/containerd/containerd.sock",
			Namespace:        "repo-sentinel",
			ProvisionTimeout: 60 * time.Second,
			Limits: LimitsConfig{
				CPUShares: 1024, // 1 CPU
				MemoryMB:  1024,
				PidsLimit: 256,
				NoFile:    1024,
				DiskMB:    512,
			},
		},
		Fetch: FetchConfig{
			Depth:   50,
			Timeout: 2 * time.Minute,
		},
		Oracle: OracleConfig{
			Model:     "gpt-4o-mini",
			APIKeyEnv: "SENTINEL_ORACLE_API_KEY",
			Timeout:   60 * time.Second,
			Retries:   3,
		},
		Analysis: AnalysisConfig{
			WorkRoot:       "/var/lib/repo-sentinel/jobs",
			CommitLimit:    50,
			DiffLimitBytes: 16 * 1024,
			OracleParallel: 4,
			InstallTimeout: 5 * time.Minute,
			BuildTimeout:   5 * time.Minute,
		},
		Database: DatabaseConfig{
			DSN: "",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Tracing: TracingConfig{
			Enabled: false,
			Sample:  0.1,
		},
		Security: SecurityConfig{
			RateLimitRPS:   100,
			RateLimitBurst: 200,
		},
		TLS: TLSConfig{
			Enabled: false,
		},
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port)
	}
	if err := c.Sandbox.Limits.Validate(); err != nil {
		return fmt.Errorf("sandbox.limits: %w", err)
	}
	if c.Fetch.Depth < 1 {
		return fmt.Errorf("fetch.depth must be >= 1")
	}
	if c.Analysis.CommitLimit < 1 {
		return fmt.Errorf("analysis.commit_limit must be >= 1")
	}
	if c.Analysis.OracleParallel < 1 {
		return fmt.Errorf("analysis.oracle_parallel must be >= 1")
	}
	if c.Analysis.WorkRoot != "" && !filepath.IsAbs(c.Analysis.WorkRoot) {
		return fmt.Errorf("analysis.work_root must be an absolute path")
	}
	if c.TLS.Enabled {
		if c.TLS.CertFile == "" || c.TLS.KeyFile == "" {
			return fmt.Errorf("tls.cert_file and tls.key_file are required when TLS is enabled")
		}
	}
	if c.Database.DSN != "" && strings.Contains(c.Database.DSN, "sslmode=disable") {
		log.Warn().Msg("database DSN has sslmode=disable — connections to Postgres are unencrypted")
	}
	return nil
}

// Address returns the listen address string.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
