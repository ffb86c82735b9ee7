package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/inference"
	"github.com/xraph/conductor/queue"
	"github.com/xraph/conductor/schedule"
)

// Environment variables that override the config file.
const (
	envRedisURL    = "CONDUCTOR_REDIS_URL"
	envPostgresURL = "CONDUCTOR_POSTGRES_URL"
	envOllamaURL   = "CONDUCTOR_OLLAMA_URL"
	envLogLevel    = "CONDUCTOR_LOG_LEVEL"
)

// Config is the daemon configuration file.
type Config struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	Store   StoreConfig   `yaml:"store"`
	Ollama  OllamaConfig  `yaml:"ollama"`
	Metrics MetricsConfig `yaml:"metrics"`
	Events  EventsConfig  `yaml:"events"`

	Conductor conductor.Config `yaml:"conductor"`
	Queues    []queue.Config   `yaml:"queues"`
	Schedules []schedule.Entry `yaml:"schedules"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	// Driver is memory, redis or postgres. Empty picks postgres when a
	// Postgres URL is set, then redis, then memory.
	Driver      string `yaml:"driver"`
	RedisURL    string `yaml:"redis_url"`
	PostgresURL string `yaml:"postgres_url"`
}

// OllamaConfig configures the inference client.
type OllamaConfig struct {
	URL       string            `yaml:"url"`
	Models    map[string]string `yaml:"models"`
	RateLimit float64           `yaml:"rate_limit"`
	RateBurst int               `yaml:"rate_burst"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// EventsConfig configures the Redis event relay.
type EventsConfig struct {
	Redis bool   `yaml:"redis"`
	Codec string `yaml:"codec"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		LogLevel:  "info",
		LogFormat: "text",
		Ollama:    OllamaConfig{URL: inference.DefaultOllamaURL},
		Metrics:   MetricsConfig{Addr: ":9090"},
		Events:    EventsConfig{Codec: "json"},
		Conductor: conductor.DefaultConfig(),
		Queues:    queue.DefaultConfigs(),
	}
}

// LoadConfig reads path over the defaults, then applies environment
// overrides. An empty path skips the file.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() {
	if v := os.Getenv(envRedisURL); v != "" {
		c.Store.RedisURL = v
	}
	if v := os.Getenv(envPostgresURL); v != "" {
		c.Store.PostgresURL = v
	}
	if v := os.Getenv(envOllamaURL); v != "" {
		c.Ollama.URL = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		c.LogLevel = v
	}
}

// Driver resolves the store driver.
func (c *Config) Driver() string {
	switch {
	case c.Store.Driver != "":
		return strings.ToLower(c.Store.Driver)
	case c.Store.PostgresURL != "":
		return "postgres"
	case c.Store.RedisURL != "":
		return "redis"
	default:
		return "memory"
	}
}

// Validate checks the settings that would otherwise fail late.
func (c *Config) Validate() error {
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.Driver() {
	case "memory":
	case "redis":
		if c.Store.RedisURL == "" {
			return fmt.Errorf("store driver redis needs redis_url or %s", envRedisURL)
		}
	case "postgres":
		if c.Store.PostgresURL == "" {
			return fmt.Errorf("store driver postgres needs postgres_url or %s", envPostgresURL)
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Events.Redis && c.Store.RedisURL == "" {
		return fmt.Errorf("redis events need redis_url or %s", envRedisURL)
	}
	for _, e := range c.Schedules {
		if _, err := schedule.ParseSpec(e.Spec); err != nil {
			return fmt.Errorf("schedule %s: %w", e.Name, err)
		}
	}
	return queue.Validate(c.Queues)
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return l, nil
}

// Logger builds the process logger.
func (c *Config) Logger() *slog.Logger {
	level, _ := parseLevel(c.LogLevel)
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
