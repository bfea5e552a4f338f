// Package config loads genomesim configuration and initializes logging.
package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig      `yaml:"store" mapstructure:"store"`
	Engine    EngineConfig     `yaml:"engine" mapstructure:"engine"`
	Log       LogConfig        `yaml:"log" mapstructure:"log"`
	Producers []ProducerConfig `yaml:"producers" mapstructure:"producers"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`

	// RetryAttempts and RetryBackoffMs govern retries of transient write
	// failures such as a locked SQLite database.
	RetryAttempts  int `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	RetryBackoffMs int `yaml:"retry_backoff_ms" mapstructure:"retry_backoff_ms"`
}

// EngineConfig configures plan execution.
type EngineConfig struct {
	MaxWorkers         int     `yaml:"max_workers" mapstructure:"max_workers"`
	Target             string  `yaml:"target" mapstructure:"target"`
	AmbiguityTolerance float64 `yaml:"ambiguity_tolerance" mapstructure:"ambiguity_tolerance"`
}

// ProducerConfig carries construction options for one registered producer.
// Producer identifiers contain dots, so they are listed rather than keyed.
type ProducerConfig struct {
	ID      string         `yaml:"id" mapstructure:"id"`
	Options map[string]any `yaml:"options" mapstructure:"options"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("GENOMESIM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "genomesim.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("store.retry_attempts", 3)
	v.SetDefault("store.retry_backoff_ms", 200)
	v.SetDefault("engine.max_workers", 4)
	v.SetDefault("engine.target", "gene")
	v.SetDefault("engine.ambiguity_tolerance", 0.0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// ProducerOptions returns the configured options keyed by producer
// identifier. Later entries for the same identifier replace earlier ones.
func (c *Config) ProducerOptions() map[string]map[string]any {
	out := make(map[string]map[string]any, len(c.Producers))
	for _, p := range c.Producers {
		out[p.ID] = p.Options
	}
	return out
}

// Validate checks the settings a command needs. Mode is "annotate" for
// commands that run the engine and "store" for commands that only read runs.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, "store.driver must be sqlite or postgres")
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}
	if c.Store.RetryAttempts < 0 {
		errs = append(errs, "store.retry_attempts must not be negative")
	}

	switch mode {
	case "store":
	case "annotate":
		if c.Engine.MaxWorkers < 1 || c.Engine.MaxWorkers > 256 {
			errs = append(errs, "engine.max_workers must be between 1 and 256")
		}
		if c.Engine.AmbiguityTolerance < 0 || c.Engine.AmbiguityTolerance >= 1 {
			errs = append(errs, "engine.ambiguity_tolerance must be in [0, 1)")
		}
		if strings.TrimSpace(c.Engine.Target) == "" {
			errs = append(errs, "engine.target is required")
		}
		for i, p := range c.Producers {
			if p.ID == "" {
				errs = append(errs, fmt.Sprintf("producers[%d].id is required", i))
			}
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
