// ABOUTME: Configuration loading and parsing for bookmesh services
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration for a bookmesh service
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds the shared signing material and token lifetimes.
// Secret and IssuerTag must match across every service in the mesh,
// otherwise locally minted tokens fail verification elsewhere.
type AuthConfig struct {
	Secret    string `yaml:"secret"`
	IssuerTag string `yaml:"issuer_tag"`

	AccessTTL    time.Duration `yaml:"-"`
	RenewalTTL   time.Duration `yaml:"-"`
	Leeway       time.Duration `yaml:"-"`
	StoreTimeout time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	AccessTTLRaw    string `yaml:"access_ttl"`
	RenewalTTLRaw   string `yaml:"renewal_ttl"`
	LeewayRaw       string `yaml:"leeway"`
	StoreTimeoutRaw string `yaml:"store_timeout"`
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

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// A service that cannot verify tokens must not start and guess.
	if c.Auth.Secret == "" {
		return fmt.Errorf("auth.secret is required")
	}
	if len(c.Auth.Secret) < 32 {
		return fmt.Errorf("auth.secret must be at least 32 bytes")
	}
	if c.Auth.IssuerTag == "" {
		return fmt.Errorf("auth.issuer_tag is required")
	}

	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"access_ttl", cfg.Auth.AccessTTLRaw, &cfg.Auth.AccessTTL},
		{"renewal_ttl", cfg.Auth.RenewalTTLRaw, &cfg.Auth.RenewalTTL},
		{"leeway", cfg.Auth.LeewayRaw, &cfg.Auth.Leeway},
		{"store_timeout", cfg.Auth.StoreTimeoutRaw, &cfg.Auth.StoreTimeout},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
