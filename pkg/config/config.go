// Package config loads MAM policy documents and service settings, converts
// documents into immutable domain snapshots, and publishes them through
// snapshot providers.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Settings holds the configuration of the polis-mam service itself, as
// opposed to the policy document it serves.
type Settings struct {
	Server    ServerConfig    `yaml:"server"`
	Policy    PolicyConfig    `yaml:"policy"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds configuration for the query API.
type ServerConfig struct {
	ListenAddress string `yaml:"listen_address"`
}

// PolicyConfig locates the policy document.
type PolicyConfig struct {
	File string `yaml:"file"`
	// Watch enables hot reload of the document.
	Watch bool `yaml:"watch"`
	// RegoCacheEntries bounds the Rego URL decision cache; see
	// policy.EngineOptions.
	RegoCacheEntries int `yaml:"rego_cache_entries"`
}

// TelemetryConfig holds configuration for OpenTelemetry.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure"`
	ServiceName  string `yaml:"service_name"`
}

// LoggingConfig holds configuration for logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// DefaultSettings returns the built-in settings.
func DefaultSettings() *Settings {
	return &Settings{
		Server: ServerConfig{ListenAddress: ":8095"},
		Policy: PolicyConfig{Watch: true},
		Telemetry: TelemetryConfig{
			ServiceName: "polis-mam",
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// LoadSettings reads settings from path (optional) and applies environment
// variable overrides.
func LoadSettings(path string) (*Settings, error) {
	cfg := DefaultSettings()

	if path != "" {
		//nolint:gosec // Settings path is controlled by the operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read settings file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse settings file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("settings validation failed: %w", err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Settings) {
	if val := os.Getenv("MAM_POLICY_FILE"); val != "" {
		cfg.Policy.File = val
	}
	if val := os.Getenv("MAM_POLICY_WATCH"); val != "" {
		cfg.Policy.Watch = val == "true"
	}
	if val := os.Getenv("MAM_LISTEN_ADDR"); val != "" {
		cfg.Server.ListenAddress = val
	}
	if val := os.Getenv("MAM_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv("MAM_OTLP_ENDPOINT"); val != "" {
		cfg.Telemetry.OTLPEndpoint = val
	}
	if val := os.Getenv("MAM_OTLP_INSECURE"); val == "true" {
		cfg.Telemetry.Insecure = true
	}
}

// Validate checks the settings for consistency.
func (c *Settings) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	return nil
}

// Validate checks the server section.
func (c *ServerConfig) Validate() error {
	if strings.TrimSpace(c.ListenAddress) == "" {
		return errors.New("listen_address is required")
	}
	return nil
}

// Validate checks the logging section.
func (c *LoggingConfig) Validate() error {
	switch strings.ToLower(c.Level) {
	case "", "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("invalid log level %q", c.Level)
	}
}
