// Package config loads optisat settings from YAML files and OPTISAT_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/danielpatrickdp/optisat/internal/stopping"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds all configuration for optisat.
type Config struct {
	Engine EngineConfig `mapstructure:"engine"`
	Server ServerConfig `mapstructure:"server"`
	Store  StoreConfig  `mapstructure:"store"`
	Log    LogConfig    `mapstructure:"log"`
}

// EngineConfig is the default stopping configuration for new runs.
type EngineConfig struct {
	Criteria         []CriterionConfig `mapstructure:"criteria" validate:"dive"`
	SatisfyPatience  int               `mapstructure:"satisfy_patience" validate:"gt=0"`
	OptimizePatience int               `mapstructure:"optimize_patience" validate:"gt=0"`
}

// CriterionConfig is one tracked metric as written in YAML.
type CriterionConfig struct {
	Name      string   `mapstructure:"name" validate:"required"`
	Role      string   `mapstructure:"role" validate:"oneof=optimize satisfy"`
	Direction string   `mapstructure:"direction" validate:"oneof=minimize maximize"`
	Threshold *float64 `mapstructure:"threshold" validate:"required_if=Role satisfy"`
	MinDelta  float64  `mapstructure:"min_delta" validate:"gte=0"`
}

// ServerConfig holds listener addresses for `optisat serve`.
type ServerConfig struct {
	Addr        string `mapstructure:"addr" validate:"required"`
	MetricsAddr string `mapstructure:"metrics_addr"` // empty disables /metrics
}

// StoreConfig locates the SQLite run store.
type StoreConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
}

const envPrefix = "OPTISAT"

var validate = validator.New()

func setDefaults(v *viper.Viper) {
	v.SetDefault("engine.satisfy_patience", 5)
	v.SetDefault("engine.optimize_patience", 5)
	v.SetDefault("server.addr", ":50061")
	v.SetDefault("server.metrics_addr", ":9464")
	v.SetDefault("store.path", "optisat.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads configuration with this precedence, highest first:
//  1. OPTISAT_* environment variables (OPTISAT_SERVER_ADDR, OPTISAT_LOG_LEVEL, ...)
//  2. the file at path, or optisat.yaml in the working directory when path is empty
//  3. built-in defaults
//
// An explicit path must exist; the implicit optisat.yaml is optional.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("optisat")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks struct-level constraints. Cross-criterion rules such as
// "exactly one optimize criterion" are left to stopping.Validate.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// EngineConfig converts the engine section and validates it as the engine would.
func (c *Config) EngineConfig() (stopping.EngineConfig, error) {
	out := c.Engine.ToStopping()
	if err := stopping.Validate(out); err != nil {
		return stopping.EngineConfig{}, err
	}
	return out, nil
}

// ToStopping converts without validating.
func (e EngineConfig) ToStopping() stopping.EngineConfig {
	out := stopping.EngineConfig{
		Criteria:         make([]stopping.CriterionSpec, 0, len(e.Criteria)),
		SatisfyPatience:  e.SatisfyPatience,
		OptimizePatience: e.OptimizePatience,
	}
	for _, c := range e.Criteria {
		spec := stopping.CriterionSpec{
			Name:      c.Name,
			Role:      stopping.Role(c.Role),
			Direction: stopping.Direction(c.Direction),
			MinDelta:  c.MinDelta,
		}
		if c.Threshold != nil {
			t := *c.Threshold
			spec.Threshold = &t
		}
		out.Criteria = append(out.Criteria, spec)
	}
	return out
}
