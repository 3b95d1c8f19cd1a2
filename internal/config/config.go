// Package config loads customeriq settings from an optional YAML file
// layered under environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/neomorfeo/customeriq/internal/domain"
)

// Counter backends.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Config is the full process configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Database  DatabaseConfig  `yaml:"database"`
	Counters  CountersConfig  `yaml:"counters"`
	Lifecycle LifecycleConfig `yaml:"lifecycle"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Log       LogConfig       `yaml:"log"`
}

type HTTPConfig struct {
	Port            string        `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type CountersConfig struct {
	Backend     string `yaml:"backend"`
	RedisAddr   string `yaml:"redis_addr"`
	RedisPrefix string `yaml:"redis_prefix"`
}

// LifecycleConfig describes the state graph and the counting policy.
// Without edges every state reaches every other state except the initial one.
type LifecycleConfig struct {
	States         []string            `yaml:"states"`
	Initial        string              `yaml:"initial"`
	Edges          map[string][]string `yaml:"edges"`
	Counted        []string            `yaml:"counted"`
	PeriodLayout   string              `yaml:"period_layout"`
	MaxAttempts    int                 `yaml:"max_attempts"`
	RecordCreation bool                `yaml:"record_creation"`
}

type ReconcileConfig struct {
	// Interval between periodic passes; zero disables them.
	Interval time.Duration `yaml:"interval"`
	Lookback time.Duration `yaml:"lookback"`
}

type TelemetryConfig struct {
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
	Environment    string `yaml:"environment"`
	Exporter       string `yaml:"exporter"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		HTTP:     HTTPConfig{Port: "8080", ShutdownTimeout: 5 * time.Second},
		Database: DatabaseConfig{Path: "customeriq.db"},
		Counters: CountersConfig{Backend: BackendSQLite, RedisPrefix: "customeriq"},
		Lifecycle: LifecycleConfig{
			States:       statesToStrings(domain.DefaultStates),
			Initial:      string(domain.StateNew),
			Counted:      []string{string(domain.StateCertified)},
			PeriodLayout: domain.DefaultPeriodLayout,
			MaxAttempts:  3,
		},
		Reconcile: ReconcileConfig{Interval: time.Hour, Lookback: 31 * 24 * time.Hour},
		Telemetry: TelemetryConfig{
			ServiceName:    "customeriq",
			ServiceVersion: "0.1.0",
			Environment:    "development",
			Exporter:       "stdout",
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
		if err := decode(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.HTTP.Port = envOrDefault("PORT", c.HTTP.Port)
	c.Database.Path = envOrDefault("DATABASE_PATH", c.Database.Path)
	c.Counters.Backend = envOrDefault("CUSTOMERIQ_COUNTER_BACKEND", c.Counters.Backend)
	c.Counters.RedisAddr = envOrDefault("CUSTOMERIQ_REDIS_ADDR", c.Counters.RedisAddr)
	c.Log.Level = envOrDefault("CUSTOMERIQ_LOG_LEVEL", c.Log.Level)

	c.Telemetry.ServiceName = envOrDefault("OTEL_SERVICE_NAME", c.Telemetry.ServiceName)
	c.Telemetry.ServiceVersion = envOrDefault("OTEL_SERVICE_VERSION", c.Telemetry.ServiceVersion)
	c.Telemetry.Environment = envOrDefault("OTEL_ENVIRONMENT", c.Telemetry.Environment)
	c.Telemetry.Exporter = envOrDefault("OTEL_EXPORTER", c.Telemetry.Exporter)

	if v := os.Getenv("CUSTOMERIQ_RECONCILE_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("CUSTOMERIQ_RECONCILE_INTERVAL: %w", err)
		}
		c.Reconcile.Interval = d
	}
	if v := os.Getenv("CUSTOMERIQ_RECORD_CREATION"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("CUSTOMERIQ_RECORD_CREATION: %w", err)
		}
		c.Lifecycle.RecordCreation = b
	}
	return nil
}

// Validate reports every problem found, joined.
func (c Config) Validate() error {
	var errs []error

	if c.HTTP.Port == "" {
		errs = append(errs, errors.New("http.port is required"))
	}
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}

	switch c.Counters.Backend {
	case BackendSQLite:
	case BackendRedis:
		if c.Counters.RedisAddr == "" {
			errs = append(errs, errors.New("counters.redis_addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("counters.backend %q is not one of %q, %q", c.Counters.Backend, BackendSQLite, BackendRedis))
	}

	if _, err := c.Graph(); err != nil {
		errs = append(errs, fmt.Errorf("lifecycle: %w", err))
	}
	known := make(map[string]bool, len(c.Lifecycle.States))
	for _, s := range c.Lifecycle.States {
		known[s] = true
	}
	for _, s := range c.Lifecycle.Counted {
		if !known[s] {
			errs = append(errs, fmt.Errorf("lifecycle.counted: unknown state %q", s))
		}
	}
	if c.Lifecycle.PeriodLayout == "" {
		errs = append(errs, errors.New("lifecycle.period_layout is required"))
	}
	if c.Lifecycle.MaxAttempts < 1 {
		errs = append(errs, errors.New("lifecycle.max_attempts must be at least 1"))
	}

	if c.Reconcile.Interval < 0 || c.Reconcile.Lookback < 0 {
		errs = append(errs, errors.New("reconcile durations must not be negative"))
	}

	if _, err := c.LogLevel(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Graph builds the configured state graph.
func (c Config) Graph() (domain.Graph, error) {
	states := stringsToStates(c.Lifecycle.States)
	initial := domain.State(c.Lifecycle.Initial)
	if len(c.Lifecycle.Edges) == 0 {
		return domain.NewReturnlessGraph(initial, states...)
	}

	edges := make(map[domain.State][]domain.State, len(c.Lifecycle.Edges))
	for from, to := range c.Lifecycle.Edges {
		edges[domain.State(from)] = stringsToStates(to)
	}
	return domain.NewGraph(initial, states, edges)
}

// CountingPolicy returns which states are counted and how periods are formatted.
func (c Config) CountingPolicy() domain.CountingPolicy {
	return domain.CountingPolicy{
		States:       stringsToStates(c.Lifecycle.Counted),
		PeriodLayout: c.Lifecycle.PeriodLayout,
	}
}

// LogLevel parses the configured slog level.
func (c Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func statesToStrings(states []domain.State) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = string(s)
	}
	return out
}

func stringsToStates(names []string) []domain.State {
	out := make([]domain.State, len(names))
	for i, n := range names {
		out[i] = domain.State(n)
	}
	return out
}
