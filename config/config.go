// Package config provides configuration loading, validation, and hot reload.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/fatewise/fatewise/domain/plan"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Engine   EngineConfig   `yaml:"engine"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Plans    []PlanConfig   `yaml:"plans"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DatabaseConfig configures persistence.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig configures token validation and the webhook shared secret.
type AuthConfig struct {
	JWTSecret     string `yaml:"jwt_secret"`
	WebhookSecret string `yaml:"webhook_secret"`
}

// EngineConfig tunes the membership engine.
type EngineConfig struct {
	ConsumeMaxRetries int `yaml:"consume_max_retries"`
	SweepBatchSize    int `yaml:"sweep_batch_size"`
}

// LoggingConfig configures zerolog output.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // trace, debug, info, warn, error
	Format string `yaml:"format"` // "json" or "console"
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// PlanConfig is the YAML shape of a plan definition. When the plans list is
// empty the built-in defaults are used.
type PlanConfig struct {
	ID            string   `yaml:"id"`
	Name          string   `yaml:"name"`
	CreditModel   string   `yaml:"credit_model"` // unlimited, fixed, none
	Credits       int64    `yaml:"credits"`
	Features      []string `yaml:"features"`
	DurationDays  int      `yaml:"duration_days"`
	RefillOnRenew bool     `yaml:"refill_on_renew"`
	PriceCents    int64    `yaml:"price_cents"`
	StripePriceID string   `yaml:"stripe_price_id"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{Path: "fatewise.db"},
		Engine: EngineConfig{
			ConsumeMaxRetries: 3,
			SweepBatchSize:    100,
		},
		Logging: LoggingConfig{Level: "info", Format: "console"},
		Metrics: MetricsConfig{Enabled: true},
	}
}

// Load reads and validates configuration from a YAML file. Missing fields
// fall back to defaults; an empty plans list selects the built-in catalog.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for consistency. Plan validation runs
// through the catalog builder so config errors surface at load time, not at
// request time.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid server port %d", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("config: database path is required")
	}
	if c.Engine.ConsumeMaxRetries <= 0 {
		return fmt.Errorf("config: consume_max_retries must be positive")
	}
	if c.Engine.SweepBatchSize <= 0 {
		return fmt.Errorf("config: sweep_batch_size must be positive")
	}
	if _, err := c.BuildCatalog(); err != nil {
		return err
	}
	return nil
}

// BuildCatalog constructs the plan catalog from config, falling back to the
// built-in defaults when no plans are declared.
func (c *Config) BuildCatalog() (*plan.Catalog, error) {
	if len(c.Plans) == 0 {
		return plan.NewCatalog(plan.Defaults())
	}

	plans := make([]plan.Plan, 0, len(c.Plans))
	for _, pc := range c.Plans {
		features := make([]plan.FeatureID, 0, len(pc.Features))
		for _, f := range pc.Features {
			features = append(features, plan.FeatureID(f))
		}
		plans = append(plans, plan.Plan{
			ID:            plan.ID(pc.ID),
			Name:          pc.Name,
			CreditModel:   plan.CreditModel(pc.CreditModel),
			Credits:       pc.Credits,
			Features:      features,
			DurationDays:  pc.DurationDays,
			RefillOnRenew: pc.RefillOnRenew,
			PriceCents:    pc.PriceCents,
			StripePriceID: pc.StripePriceID,
		})
	}
	return plan.NewCatalog(plans)
}
