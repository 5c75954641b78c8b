// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Stream  StreamConfig  `mapstructure:"stream"`
	Tasks   TasksConfig   `mapstructure:"tasks"`
	DB      DBConfig      `mapstructure:"db"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles. Authentication is applied to
// task-creation routes only; the event stream stays open by design.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// StreamConfig governs the event stream subsystem.
type StreamConfig struct {
	// HeartbeatSeconds is the liveness event period per open stream.
	HeartbeatSeconds int `mapstructure:"heartbeat_seconds"`
	// GraceMs is how long the transport stays open after a terminal event so
	// the observer can receive it before teardown.
	GraceMs int `mapstructure:"grace_ms"`
}

// TasksConfig governs simulated task driver behavior.
type TasksConfig struct {
	// StageDelayMs is the base delay between driver stage transitions.
	StageDelayMs int `mapstructure:"stage_delay_ms"`
	// DefaultExamples is used when generate_data omits num_examples.
	DefaultExamples int `mapstructure:"default_examples"`
	// MaxExamples caps num_examples for generate_data requests.
	MaxExamples int `mapstructure:"max_examples"`
}

// DBConfig controls access to the relational database. An empty DSN selects
// the in-memory task store.
type DBConfig struct {
	DSN string `mapstructure:"dsn"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TASKSTREAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("stream.heartbeat_seconds", 10)
	v.SetDefault("stream.grace_ms", 2000)
	v.SetDefault("tasks.stage_delay_ms", 800)
	v.SetDefault("tasks.default_examples", 5)
	v.SetDefault("tasks.max_examples", 50)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Stream.HeartbeatSeconds <= 0 {
		return fmt.Errorf("stream.heartbeat_seconds must be > 0")
	}
	if c.Stream.GraceMs < 0 {
		return fmt.Errorf("stream.grace_ms must be >= 0")
	}
	if c.Tasks.StageDelayMs <= 0 {
		return fmt.Errorf("tasks.stage_delay_ms must be > 0")
	}
	if c.Tasks.DefaultExamples <= 0 || c.Tasks.DefaultExamples > c.Tasks.MaxExamples {
		return fmt.Errorf("tasks.default_examples must be in 1..tasks.max_examples")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// Heartbeat converts the heartbeat knob into a duration.
func (c Config) Heartbeat() time.Duration {
	return time.Duration(c.Stream.HeartbeatSeconds) * time.Second
}

// Grace converts the terminal grace knob into a duration.
func (c Config) Grace() time.Duration {
	return time.Duration(c.Stream.GraceMs) * time.Millisecond
}

// StageDelay converts the stage delay knob into a duration.
func (c Config) StageDelay() time.Duration {
	return time.Duration(c.Tasks.StageDelayMs) * time.Millisecond
}
