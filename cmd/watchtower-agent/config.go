package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all process-level configuration: what's needed before the
// Agent Configuration entity (internal/core/agentconfig) can even be
// constructed.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Runtime RuntimeConfig `mapstructure:"runtime"`
	Log     LogConfig     `mapstructure:"log"`
	Agent   AgentConfig   `mapstructure:"agent"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Address returns the server address in host:port format.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// RuntimeConfig holds container runtime client configuration.
type RuntimeConfig struct {
	Endpoint string `mapstructure:"endpoint"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// AgentConfig holds the initial values for the live Agent Configuration,
// seeded at startup and mutable afterwards through the Control Surface's
// PUT /config endpoint.
type AgentConfig struct {
	CheckInterval      time.Duration `mapstructure:"check_interval"`
	UpdateInterval     time.Duration `mapstructure:"update_interval"`
	AutoUpdate         bool          `mapstructure:"auto_update"`
	Cleanup            bool          `mapstructure:"cleanup"`
	LabelFilter        string        `mapstructure:"label_filter"`
	EventBufferSize    int           `mapstructure:"event_buffer_size"`
	MaxParallelUpdates int           `mapstructure:"max_parallel_updates"`
}

// LoadConfig loads configuration from an optional file, then environment
// variables, falling back to defaults for anything unset. Recognised
// environment variables: CHECK_INTERVAL, UPDATE_INTERVAL, AUTO_UPDATE,
// CLEANUP, LOG_LEVEL, PORT, RUNTIME_ENDPOINT, MAX_PARALLEL_UPDATES,
// EVENT_BUFFER_SIZE.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("runtime.endpoint", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("agent.check_interval", "30s")
	v.SetDefault("agent.update_interval", "300s")
	v.SetDefault("agent.auto_update", false)
	v.SetDefault("agent.cleanup", true)
	v.SetDefault("agent.label_filter", "")
	v.SetDefault("agent.event_buffer_size", 1024)
	v.SetDefault("agent.max_parallel_updates", 1)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigParseError); ok {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
			// file not found is fine, defaults and env vars still apply
		}
	}

	// Flat top-level env vars, no WATCHTOWER_ prefix, per the recognised
	// name list above, bound explicitly so CHECK_INTERVAL maps onto the
	// nested agent.check_interval key viper's automatic env binding
	// wouldn't otherwise reach.
	bindings := map[string]string{
		"CHECK_INTERVAL":       "agent.check_interval",
		"UPDATE_INTERVAL":      "agent.update_interval",
		"AUTO_UPDATE":          "agent.auto_update",
		"CLEANUP":              "agent.cleanup",
		"LOG_LEVEL":            "log.level",
		"PORT":                 "server.port",
		"RUNTIME_ENDPOINT":     "runtime.endpoint",
		"MAX_PARALLEL_UPDATES": "agent.max_parallel_updates",
		"EVENT_BUFFER_SIZE":    "agent.event_buffer_size",
	}
	for env, key := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// SetupLogger creates a logger with the configured level and format.
func SetupLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
