// Package config loads routing core configuration from the environment,
// optionally overlaid with a YAML file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
)

// ErrInvalidConfig is wrapped by every Validate failure.
var ErrInvalidConfig = errors.New("config: invalid")

// Config holds routing core configuration. Field tags name the YAML overlay
// keys; environment variable names are listed in Load.
type Config struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // "json" | "text"

	// Source URIs: file://, s3://, gs://, or sql:// for programs.
	GraphSource   string `yaml:"graph_source"`
	ProgramSource string `yaml:"program_source"`

	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Engine    EngineConfig    `yaml:"engine"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type DatabaseConfig struct {
	Driver     string `yaml:"driver"` // "sqlite" | "postgres"
	DSN        string `yaml:"dsn"`
	ProfileID  string `yaml:"profile_id"`
	QueryLimit int    `yaml:"query_limit"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

// EngineConfig tunes graph checking, analysis and evaluation.
type EngineConfig struct {
	Version        string        `yaml:"version"`
	CheckMode      string        `yaml:"check_mode"` // "strict" | "open"
	Budget         int           `yaml:"budget"`
	MaxWorlds      int           `yaml:"max_worlds"`
	DeadRulePolicy string        `yaml:"dead_rule_policy"` // "reject" | "warn" | "ignore"
	Strategy       string        `yaml:"strategy"`         // "compiled" | "tree"
	MissingLogRate float64       `yaml:"missing_log_rate"` // ERROR lines per second
	ReloadDebounce time.Duration `yaml:"reload_debounce"`
}

type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	SampleRate  float64 `yaml:"sample_rate"`
	Environment string  `yaml:"environment"`
}

// Load reads configuration from environment variables, falling back to
// defaults for anything unset.
func Load() *Config {
	return &Config{
		LogLevel:      env("LOG_LEVEL", "INFO"),
		LogFormat:     env("LOG_FORMAT", "json"),
		GraphSource:   env("GRAPH_SOURCE", "file://eligibility.yaml"),
		ProgramSource: env("PROGRAM_SOURCE", "file://program.json"),
		Database: DatabaseConfig{
			Driver:     env("DATABASE_DRIVER", "sqlite"),
			DSN:        env("DATABASE_URL", "file:routecore.db?mode=ro"),
			ProfileID:  env("PROFILE_ID", "default"),
			QueryLimit: envInt("DATABASE_QUERY_LIMIT", 10),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       envInt("REDIS_DB", 0),
			Channel:  env("REDIS_CHANNEL", "routecore:activate"),
		},
		Engine: EngineConfig{
			Version:        env("ENGINE_VERSION", "1.0.0"),
			CheckMode:      env("CHECK_MODE", "strict"),
			Budget:         envInt("EVAL_BUDGET", 100_000),
			MaxWorlds:      envInt("MAX_WORLDS", 4096),
			DeadRulePolicy: env("DEAD_RULE_POLICY", "reject"),
			Strategy:       env("INTERP_STRATEGY", "compiled"),
			MissingLogRate: envFloat("MISSING_LOG_RATE", 1),
			ReloadDebounce: envDuration("RELOAD_DEBOUNCE", 250*time.Millisecond),
		},
		Telemetry: TelemetryConfig{
			Enabled:     os.Getenv("TELEMETRY_ENABLED") == "true",
			Endpoint:    env("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") == "true",
			SampleRate:  envFloat("OTEL_SAMPLE_RATE", 1),
			Environment: env("ENVIRONMENT", "development"),
		},
	}
}

// Validate checks enumerated fields and the engine version.
func (c *Config) Validate() error {
	var errs []error
	oneOf := func(field, got string, allowed ...string) {
		for _, a := range allowed {
			if got == a {
				return
			}
		}
		errs = append(errs, fmt.Errorf("%s=%q, want one of %v", field, got, allowed))
	}

	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	oneOf("log_format", c.LogFormat, "json", "text")
	oneOf("database.driver", c.Database.Driver, "sqlite", "postgres")
	oneOf("engine.check_mode", c.Engine.CheckMode, "strict", "open")
	oneOf("engine.dead_rule_policy", c.Engine.DeadRulePolicy, "reject", "warn", "ignore")
	oneOf("engine.strategy", c.Engine.Strategy, "compiled", "tree")
	if _, err := semver.NewVersion(c.Engine.Version); err != nil {
		errs = append(errs, fmt.Errorf("engine.version %q: %v", c.Engine.Version, err))
	}
	if c.Engine.Budget <= 0 {
		errs = append(errs, fmt.Errorf("engine.budget must be positive, got %d", c.Engine.Budget))
	}
	if c.Engine.MaxWorlds <= 0 {
		errs = append(errs, fmt.Errorf("engine.max_worlds must be positive, got %d", c.Engine.MaxWorlds))
	}
	if c.Engine.MissingLogRate < 0 {
		errs = append(errs, fmt.Errorf("engine.missing_log_rate must not be negative"))
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, fmt.Errorf("telemetry.sample_rate %v outside [0, 1]", c.Telemetry.SampleRate))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level %q: %w", c.LogLevel, err)
	}
	return l, nil
}

func env(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if n, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key))); err == nil {
		return n
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if f, err := strconv.ParseFloat(strings.TrimSpace(os.Getenv(key)), 64); err == nil {
		return f
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(strings.TrimSpace(os.Getenv(key))); err == nil {
		return d
	}
	return def
}
