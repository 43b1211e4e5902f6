// Package config loads this broker's configuration: layered YAML
// (config.yml then config.local.yml, each overriding the last),
// followed by environment-variable overrides and defaults for
// anything still zero, adapted from the teacher's internal/config
// loading order.
package config

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for cmd/sepa.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Manager       ManagerConfig       `yaml:"manager"`
	Endpoint      EndpointConfig      `yaml:"endpoint"`
	Auth          AuthConfig          `yaml:"auth"`
	Dependability DependabilityConfig `yaml:"dependability"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// ServerConfig configures the REST and WebSocket gateways.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// ManagerConfig maps to spec.md §6's configuration surface.
type ManagerConfig struct {
	// SPUProcessingTimeoutMs is the per-SPU barrier timeout budget.
	SPUProcessingTimeoutMs int `yaml:"spu_processing_timeout_ms"`
	// EndpointRetryBudget is the number of extra attempts applyWithRetry makes.
	EndpointRetryBudget int `yaml:"endpoint_retry_budget"`
	// UnitScale names a time unit for metrics. It is loaded and
	// defaulted but read by no component; this module reports no metrics.
	UnitScale string `yaml:"unit_scale"`
	// FilterMode selects the active-SPU filter: "all" or "lut".
	FilterMode string `yaml:"filter_mode"`
}

// EndpointConfig selects and configures the backing RDF store.
type EndpointConfig struct {
	// Backend is "memory" or "mongo".
	Backend    string `yaml:"backend"`
	MongoURI   string `yaml:"mongo_uri"`
	MongoDB    string `yaml:"mongo_database"`
	Collection string `yaml:"mongo_collection"`
}

// AuthConfig configures the local dev token service.
type AuthConfig struct {
	// Secret signs and verifies locally minted JWTs. In production
	// deployments this broker only validates tokens issued elsewhere.
	Secret    string `yaml:"secret"`
	TTLMinutes int   `yaml:"ttl_minutes"`
}

// DependabilityConfig configures the NATS side-channel notifier.
type DependabilityConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
}

// LoggingConfig configures the slog handler stack.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"` // "text" or "json"
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Default returns safe defaults for development, matching spec.md
// §6's stated defaults for the Manager section.
func Default() Config {
	return Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080},
		Manager: ManagerConfig{
			SPUProcessingTimeoutMs: 5000,
			EndpointRetryBudget:    0,
			UnitScale:              "ms",
			FilterMode:             "all",
		},
		Endpoint: EndpointConfig{
			Backend:    "memory",
			MongoDB:    "sepa",
			Collection: "quads",
		},
		Auth: AuthConfig{TTLMinutes: 60},
		Dependability: DependabilityConfig{
			Enabled: false,
			URL:     "nats://127.0.0.1:4222",
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// ApplyDefaults fills zero-valued fields with Default()'s values.
func (c *Config) ApplyDefaults() {
	d := Default()
	if c.Server.Host == "" {
		c.Server.Host = d.Server.Host
	}
	if c.Server.Port == 0 {
		c.Server.Port = d.Server.Port
	}
	if c.Manager.SPUProcessingTimeoutMs == 0 {
		c.Manager.SPUProcessingTimeoutMs = d.Manager.SPUProcessingTimeoutMs
	}
	if c.Manager.UnitScale == "" {
		c.Manager.UnitScale = d.Manager.UnitScale
	}
	if c.Manager.FilterMode == "" {
		c.Manager.FilterMode = d.Manager.FilterMode
	}
	if c.Endpoint.Backend == "" {
		c.Endpoint.Backend = d.Endpoint.Backend
	}
	if c.Endpoint.MongoDB == "" {
		c.Endpoint.MongoDB = d.Endpoint.MongoDB
	}
	if c.Endpoint.Collection == "" {
		c.Endpoint.Collection = d.Endpoint.Collection
	}
	if c.Auth.TTLMinutes == 0 {
		c.Auth.TTLMinutes = d.Auth.TTLMinutes
	}
	if c.Dependability.URL == "" {
		c.Dependability.URL = d.Dependability.URL
	}
	if c.Logging.Level == "" {
		c.Logging.Level = d.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = d.Logging.Format
	}
}

// ApplyEnvOverrides lets deployment secrets and endpoints come from
// the environment rather than a checked-in file.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("SEPA_AUTH_SECRET"); v != "" {
		c.Auth.Secret = v
	}
	if v := os.Getenv("SEPA_ENDPOINT_BACKEND"); v != "" {
		c.Endpoint.Backend = v
	}
	if v := os.Getenv("SEPA_MONGO_URI"); v != "" {
		c.Endpoint.MongoURI = v
	}
	if v := os.Getenv("SEPA_DEPENDABILITY_URL"); v != "" {
		c.Dependability.URL = v
	}
	if v := os.Getenv("SEPA_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate rejects a configuration the broker cannot start with.
func (c *Config) Validate() error {
	switch c.Manager.FilterMode {
	case "all", "lut":
	default:
		return fmt.Errorf("config: manager.filter_mode must be \"all\" or \"lut\", got %q", c.Manager.FilterMode)
	}
	switch c.Endpoint.Backend {
	case "memory":
	case "mongo":
		if c.Endpoint.MongoURI == "" {
			return fmt.Errorf("config: endpoint.mongo_uri is required when endpoint.backend is \"mongo\"")
		}
	default:
		return fmt.Errorf("config: endpoint.backend must be \"memory\" or \"mongo\", got %q", c.Endpoint.Backend)
	}
	if c.Manager.EndpointRetryBudget < 0 {
		return fmt.Errorf("config: manager.endpoint_retry_budget must be >= 0")
	}
	if c.Auth.Secret == "" {
		return fmt.Errorf("config: auth.secret must not be empty")
	}
	return nil
}

// Load reads config.yml then config.local.yml from dir (each
// optional, each overriding the last), applies environment overrides
// and defaults, and validates the result.
func Load(dir string, log *slog.Logger) (*Config, error) {
	cfg := Default()
	loadFile(dir+"/config.yml", &cfg, log)
	loadFile(dir+"/config.local.yml", &cfg, log)

	cfg.ApplyEnvOverrides()
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadFile(path string, cfg *Config, log *slog.Logger) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn("config: read failed", "path", path, "err", err)
		}
		return
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		log.Warn("config: parse failed", "path", path, "err", err)
	}
}
