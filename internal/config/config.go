// Package config provides unified configuration loading for GeoQuery.
// Supports YAML files, environment variables, and programmatic overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for GeoQuery.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Provider      ProviderConfig      `yaml:"provider"`
	Compiler      CompilerConfig      `yaml:"compiler"`
	Cache         CacheConfig         `yaml:"cache"`
	Source        SourceConfig        `yaml:"source"`
	Executor      ExecutorConfig      `yaml:"executor"`
	Audit         AuditConfig         `yaml:"audit"`
	Session       SessionConfig       `yaml:"session"`
	Compliance    ComplianceConfig    `yaml:"compliance"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings for the serve command.
type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
}

// ProviderConfig holds text-generation backend settings.
type ProviderConfig struct {
	Backend    string        `yaml:"backend"` // anthropic, openai, or gemini
	APIKey     string        `yaml:"api_key"`
	Model      string        `yaml:"model"`
	BaseURL    string        `yaml:"base_url"`
	MaxTokens  int           `yaml:"max_tokens"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
	BaseDelay  time.Duration `yaml:"base_delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`
}

// CompilerConfig holds query compiler settings.
type CompilerConfig struct {
	ValidationMode   string `yaml:"validation_mode"` // strict or lenient
	MaxQueryLength   int    `yaml:"max_query_length"`
	LimitWarnCeiling int    `yaml:"limit_warn_ceiling"`
}

// CacheConfig holds compile cache settings.
type CacheConfig struct {
	Driver     string        `yaml:"driver"` // memory or redis
	Enabled    bool          `yaml:"enabled"`
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
	Redis      RedisConfig   `yaml:"redis"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// SourceConfig holds feature source settings.
type SourceConfig struct {
	Kind           string        `yaml:"kind"` // arcgis or geojson
	ServiceURL     string        `yaml:"service_url"`
	GeoJSONPath    string        `yaml:"geojson_path"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	PageSize       int           `yaml:"page_size"`
	MaxPages       int           `yaml:"max_pages"` // 0 means unlimited
}

// ExecutorConfig holds query executor settings.
type ExecutorConfig struct {
	MaxResults int `yaml:"max_results"`
}

// AuditConfig holds compile audit log settings.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// SessionConfig holds session persistence settings.
type SessionConfig struct {
	Dir            string `yaml:"dir"`
	AutoBackup     bool   `yaml:"auto_backup"`
	BackupCount    int    `yaml:"backup_count"`
	CompressBackup bool   `yaml:"compress_backup"`
}

// ComplianceConfig holds area compliance settings.
type ComplianceConfig struct {
	MinAreaSqMiles float64 `yaml:"min_area_sq_miles"`
	AreaField      string  `yaml:"area_field"`
	NameField      string  `yaml:"name_field"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults for development.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8092,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     60 * time.Second,
			RequestTimeout:   90 * time.Second,
			GracefulShutdown: 10 * time.Second,
		},
		Provider: ProviderConfig{
			Backend:    "anthropic",
			MaxTokens:  2048,
			Timeout:    60 * time.Second,
			MaxRetries: 3,
			BaseDelay:  time.Second,
			MaxDelay:   30 * time.Second,
		},
		Compiler: CompilerConfig{
			ValidationMode:   "strict",
			MaxQueryLength:   10000,
			LimitWarnCeiling: 10000,
		},
		Cache: CacheConfig{
			Driver:     "memory",
			Enabled:    true,
			TTL:        time.Hour,
			MaxEntries: 1000,
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				DB:       0,
				PoolSize: 10,
			},
		},
		Source: SourceConfig{
			Kind:           "arcgis",
			ConnectTimeout: 10 * time.Second,
			ReadTimeout:    30 * time.Second,
			PageSize:       1000,
			MaxPages:       0,
		},
		Executor: ExecutorConfig{
			MaxResults: 1000,
		},
		Audit: AuditConfig{
			Enabled: false,
			Path:    "geoquery-audit.db",
		},
		Session: SessionConfig{
			Dir:            "sessions",
			AutoBackup:     true,
			BackupCount:    3,
			CompressBackup: true,
		},
		Compliance: ComplianceConfig{
			MinAreaSqMiles: 1000.0,
			AreaField:      "SQMI",
			NameField:      "NAME",
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "json",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	switch c.Provider.Backend {
	case "anthropic", "openai", "gemini":
	default:
		return fmt.Errorf("invalid provider backend: %s", c.Provider.Backend)
	}

	if c.Provider.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative")
	}

	if c.Compiler.ValidationMode != "strict" && c.Compiler.ValidationMode != "lenient" {
		return fmt.Errorf("invalid validation mode: %s", c.Compiler.ValidationMode)
	}

	if c.Cache.Driver != "memory" && c.Cache.Driver != "redis" {
		return fmt.Errorf("invalid cache driver: %s", c.Cache.Driver)
	}

	if c.Source.Kind != "arcgis" && c.Source.Kind != "geojson" {
		return fmt.Errorf("invalid source kind: %s", c.Source.Kind)
	}

	if c.Source.PageSize < 1 {
		return fmt.Errorf("page_size must be positive")
	}

	if c.Executor.MaxResults < 1 {
		return fmt.Errorf("max_results must be positive")
	}

	if c.Compliance.MinAreaSqMiles <= 0 {
		return fmt.Errorf("min_area_sq_miles must be positive")
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GEOQUERY_PROVIDER"); v != "" {
		cfg.Provider.Backend = v
	}

	// Provider API keys follow the conventional per-vendor variables.
	switch cfg.Provider.Backend {
	case "anthropic":
		if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
			cfg.Provider.APIKey = v
		}
	case "openai":
		if v := os.Getenv("OPENAI_API_KEY"); v != "" {
			cfg.Provider.APIKey = v
		}
	case "gemini":
		if v := os.Getenv("GOOGLE_API_KEY"); v != "" {
			cfg.Provider.APIKey = v
		}
	}

	if v := os.Getenv("GEOQUERY_MODEL"); v != "" {
		cfg.Provider.Model = v
	}

	if v := os.Getenv("GEOQUERY_SERVICE_URL"); v != "" {
		cfg.Source.Kind = "arcgis"
		cfg.Source.ServiceURL = v
	}

	if v := os.Getenv("GEOQUERY_GEOJSON_PATH"); v != "" {
		cfg.Source.Kind = "geojson"
		cfg.Source.GeoJSONPath = v
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Cache.Driver = "redis"
		cfg.Cache.Redis.Addr = strings.TrimPrefix(v, "redis://")
	}

	if v := os.Getenv("GEOQUERY_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.TTL = d
		}
	}

	if v := os.Getenv("GEOQUERY_VALIDATION_MODE"); v != "" {
		cfg.Compiler.ValidationMode = v
	}

	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}

	if v := os.Getenv("GEOQUERY_AUDIT_PATH"); v != "" {
		cfg.Audit.Enabled = true
		cfg.Audit.Path = v
	}

	if v := os.Getenv("GEOQUERY_SESSION_DIR"); v != "" {
		cfg.Session.Dir = v
	}
}
