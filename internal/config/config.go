package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dokzlo13/voltalisd/internal/db"
	"github.com/dokzlo13/voltalisd/internal/voltalis"
)

// Config represents the application configuration
type Config struct {
	Voltalis        VoltalisConfig     `yaml:"voltalis"`
	Coordinators    CoordinatorsConfig `yaml:"coordinators"`
	MQTT            MQTTConfig         `yaml:"mqtt"`
	Control         ControlConfig      `yaml:"control"`
	Database        DatabaseConfig     `yaml:"database"`
	Log             LogConfig          `yaml:"log"`
	Ledger          LedgerConfig       `yaml:"ledger"`
	Healthcheck     HealthcheckConfig  `yaml:"healthcheck"`
	EventBus        EventBusConfig     `yaml:"eventbus"`
	ShutdownTimeout Duration           `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops
}

// VoltalisConfig contains vendor API connection settings
type VoltalisConfig struct {
	BaseURL  string   `yaml:"base_url"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	Timeout  Duration `yaml:"timeout"` // HTTP timeout for API requests

	// Token lifetime in days; omitted = 7. TokenNeverExpires disables expiry.
	TokenLifetimeDays *int `yaml:"token_lifetime_days"`
	TokenNeverExpires bool `yaml:"token_never_expires"`

	RateLimitRPS      float64     `yaml:"rate_limit_rps"`
	ReauthMinInterval Duration    `yaml:"reauth_min_interval"` // Minimum time between re-login attempts
	Retry             RetryConfig `yaml:"retry"`
}

// RetryConfig contains retry settings for idempotent API reads
type RetryConfig struct {
	MaxRetries     int      `yaml:"max_retries"`
	InitialBackoff Duration `yaml:"initial_backoff"`
	MaxBackoff     Duration `yaml:"max_backoff"`
	Multiplier     float64  `yaml:"multiplier"`
}

// CoordinatorsConfig contains polling intervals
type CoordinatorsConfig struct {
	ProgramsInterval Duration `yaml:"programs_interval"`
	DevicesInterval  Duration `yaml:"devices_interval"`
}

// MQTTConfig contains host bridge settings
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"` // Empty = random
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         *int   `yaml:"qos"` // Omitted = 1

	PublishQuiet Duration `yaml:"publish_quiet"` // Coalesce state updates, 0 = publish immediately
}

// ControlConfig contains local control API settings
type ControlConfig struct {
	Enabled *bool  `yaml:"enabled"` // Omitted = true
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Colors bool   `yaml:"colors"`
	JSON   bool   `yaml:"json"`
}

// LedgerConfig contains event ledger settings
type LedgerConfig struct {
	CleanupInterval Duration `yaml:"cleanup_interval"`
	RetentionDays   int      `yaml:"retention_days"`
}

// HealthcheckConfig contains health check server settings
type HealthcheckConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// EventBusConfig contains event bus settings
type EventBusConfig struct {
	Workers   int `yaml:"workers"`    // Number of worker goroutines (default: 4)
	QueueSize int `yaml:"queue_size"` // Event queue size (default: 100)
}

// GetWorkers returns worker count with default
func (c *EventBusConfig) GetWorkers() int {
	if c.Workers <= 0 {
		return 4
	}
	return c.Workers
}

// GetQueueSize returns queue size with default
func (c *EventBusConfig) GetQueueSize() int {
	if c.QueueSize <= 0 {
		return 100
	}
	return c.QueueSize
}

// GetTokenLifetime returns the lifetime handed to the client, nil = never expires
func (c *VoltalisConfig) GetTokenLifetime() *int {
	if c.TokenNeverExpires {
		return nil
	}
	days := voltalis.DefaultTokenLifetimeDays
	if c.TokenLifetimeDays != nil {
		days = *c.TokenLifetimeDays
	}
	return &days
}

// GetQoS returns the MQTT QoS with default
func (c *MQTTConfig) GetQoS() byte {
	if c.QoS == nil {
		return 1
	}
	return byte(*c.QoS)
}

// IsEnabled reports whether the control API should run
func (c *ControlConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse expands environment variables in data, decodes it and applies defaults
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = db.MemoryPath
	}

	// Voltalis defaults
	if cfg.Voltalis.BaseURL == "" {
		cfg.Voltalis.BaseURL = voltalis.DefaultBaseURL
	}
	if cfg.Voltalis.Timeout == 0 {
		cfg.Voltalis.Timeout = Duration(30 * time.Second)
	}
	if cfg.Voltalis.RateLimitRPS == 0 {
		cfg.Voltalis.RateLimitRPS = 5.0
	}
	if cfg.Voltalis.ReauthMinInterval == 0 {
		cfg.Voltalis.ReauthMinInterval = Duration(5 * time.Minute)
	}
	if cfg.Voltalis.Retry.MaxRetries == 0 {
		cfg.Voltalis.Retry.MaxRetries = 3
	}
	if cfg.Voltalis.Retry.InitialBackoff == 0 {
		cfg.Voltalis.Retry.InitialBackoff = Duration(500 * time.Millisecond)
	}
	if cfg.Voltalis.Retry.MaxBackoff == 0 {
		cfg.Voltalis.Retry.MaxBackoff = Duration(10 * time.Second)
	}
	if cfg.Voltalis.Retry.Multiplier == 0 {
		cfg.Voltalis.Retry.Multiplier = 2.0
	}

	// Coordinator defaults
	if cfg.Coordinators.ProgramsInterval == 0 {
		cfg.Coordinators.ProgramsInterval = Duration(time.Minute)
	}
	if cfg.Coordinators.DevicesInterval == 0 {
		cfg.Coordinators.DevicesInterval = Duration(time.Minute)
	}

	// MQTT defaults
	if cfg.MQTT.Broker == "" {
		cfg.MQTT.Broker = "tcp://localhost:1883"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "voltalis"
	}

	// Control API defaults
	if cfg.Control.Host == "" {
		cfg.Control.Host = "127.0.0.1"
	}
	if cfg.Control.Port == 0 {
		cfg.Control.Port = 8089
	}

	// Ledger defaults
	if cfg.Ledger.CleanupInterval == 0 {
		cfg.Ledger.CleanupInterval = Duration(24 * time.Hour)
	}
	if cfg.Ledger.RetentionDays == 0 {
		cfg.Ledger.RetentionDays = 30
	}

	// Healthcheck defaults
	if cfg.Healthcheck.Port == 0 {
		cfg.Healthcheck.Port = 9090
	}
	if cfg.Healthcheck.Host == "" {
		cfg.Healthcheck.Host = "0.0.0.0"
	}

	// General shutdown timeout
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks values that have no sensible default
func (c *Config) Validate() error {
	if days := c.Voltalis.TokenLifetimeDays; days != nil && (*days < 1 || *days > 999) {
		return fmt.Errorf("voltalis.token_lifetime_days must be within [1, 999], got %d", *days)
	}
	if q := c.MQTT.QoS; q != nil && (*q < 0 || *q > 2) {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", *q)
	}
	if c.Voltalis.RateLimitRPS < 0 {
		return fmt.Errorf("voltalis.rate_limit_rps must not be negative")
	}
	return nil
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	// Match ${VAR} or ${VAR:default}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}
