// ABOUTME: Configuration loading and parsing for lumen clients
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete lumen client configuration
type Config struct {
	Backend  BackendConfig  `yaml:"backend"`
	Presence PresenceConfig `yaml:"presence"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// BackendConfig holds backend connection configuration
type BackendConfig struct {
	Endpoint    string            `yaml:"endpoint"`
	Project     string            `yaml:"project"`
	APIKey      string            `yaml:"api_key"` // admin key, only needed by lumen-setup
	Database    string            `yaml:"database"`
	Collections CollectionsConfig `yaml:"collections"`
}

// CollectionsConfig names the three backend collections
type CollectionsConfig struct {
	Identities    string `yaml:"identities"`
	Conversations string `yaml:"conversations"`
	Messages      string `yaml:"messages"`
}

// PresenceConfig holds presence heartbeat configuration
type PresenceConfig struct {
	HeartbeatInterval time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	HeartbeatIntervalRaw string `yaml:"heartbeat_interval"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills in the collection names and logging defaults.
func (c *Config) applyDefaults() {
	if c.Backend.Collections.Identities == "" {
		c.Backend.Collections.Identities = "identities"
	}
	if c.Backend.Collections.Conversations == "" {
		c.Backend.Collections.Conversations = "conversations"
	}
	if c.Backend.Collections.Messages == "" {
		c.Backend.Collections.Messages = "messages"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Presence.HeartbeatIntervalRaw == "" {
		c.Presence.HeartbeatIntervalRaw = "30s"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Backend.Endpoint == "" {
		return fmt.Errorf("backend.endpoint is required")
	}
	if c.Backend.Project == "" {
		return fmt.Errorf("backend.project is required")
	}
	if c.Backend.Database == "" {
		return fmt.Errorf("backend.database is required")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Presence.HeartbeatIntervalRaw != "" {
		cfg.Presence.HeartbeatInterval, err = time.ParseDuration(cfg.Presence.HeartbeatIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing heartbeat_interval %q: %w", cfg.Presence.HeartbeatIntervalRaw, err)
		}
	}

	return nil
}
