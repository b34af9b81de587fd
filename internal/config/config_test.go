// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, duration parsing, and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "0.0.0.0:8080"
  grpc_addr: "0.0.0.0:50051"

database:
  path: "./test.db"

auth:
  secret: "`+testSecret+`"
  issuer_tag: "bookmesh"
  access_ttl: "1h"
  renewal_ttl: "168h"
  leeway: "30s"
  store_timeout: "3s"

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// Verify server config
	if cfg.Server.HTTPAddr != "0.0.0.0:8080" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:8080")
	}
	if cfg.Server.GRPCAddr != "0.0.0.0:50051" {
		t.Errorf("Server.GRPCAddr = %q, want %q", cfg.Server.GRPCAddr, "0.0.0.0:50051")
	}

	// Verify database config
	if cfg.Database.Path != "./test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "./test.db")
	}

	// Verify auth config with duration parsing
	if cfg.Auth.Secret != testSecret {
		t.Errorf("Auth.Secret = %q, want %q", cfg.Auth.Secret, testSecret)
	}
	if cfg.Auth.IssuerTag != "bookmesh" {
		t.Errorf("Auth.IssuerTag = %q, want %q", cfg.Auth.IssuerTag, "bookmesh")
	}
	if cfg.Auth.AccessTTL != time.Hour {
		t.Errorf("Auth.AccessTTL = %v, want %v", cfg.Auth.AccessTTL, time.Hour)
	}
	if cfg.Auth.RenewalTTL != 168*time.Hour {
		t.Errorf("Auth.RenewalTTL = %v, want %v", cfg.Auth.RenewalTTL, 168*time.Hour)
	}
	if cfg.Auth.Leeway != 30*time.Second {
		t.Errorf("Auth.Leeway = %v, want %v", cfg.Auth.Leeway, 30*time.Second)
	}
	if cfg.Auth.StoreTimeout != 3*time.Second {
		t.Errorf("Auth.StoreTimeout = %v, want %v", cfg.Auth.StoreTimeout, 3*time.Second)
	}

	// Verify logging config
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want %q", cfg.Logging.Format, "json")
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_BOOKMESH_SECRET", testSecret)

	configPath := writeConfig(t, `
server:
  http_addr: "0.0.0.0:8080"

database:
  path: "./test.db"

auth:
  secret: "${TEST_BOOKMESH_SECRET}"
  issuer_tag: "bookmesh"

logging:
  level: "info"
  format: "text"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Auth.Secret != testSecret {
		t.Errorf("Auth.Secret = %q, want value from env", cfg.Auth.Secret)
	}
}

func TestLoad_EnvVarExpansion_UnsetVar(t *testing.T) {
	// Ensure the env var is NOT set: an unset secret must fail validation
	// rather than silently start with an empty signing key.
	os.Unsetenv("UNSET_VAR_FOR_TEST")

	configPath := writeConfig(t, `
server:
  http_addr: "0.0.0.0:8080"

database:
  path: "./test.db"

auth:
  secret: "${UNSET_VAR_FOR_TEST}"
  issuer_tag: "bookmesh"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected error for unset secret env var, got nil")
	}
	if !strings.Contains(err.Error(), "auth.secret is required") {
		t.Errorf("Load() error = %q, want secret-required error", err.Error())
	}
}

func TestLoad_DurationParsing(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "0.0.0.0:8080"

database:
  path: "./test.db"

auth:
  secret: "`+testSecret+`"
  issuer_tag: "bookmesh"
  access_ttl: "1h30m"
  renewal_ttl: "720h"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	expectedAccess := time.Hour + 30*time.Minute
	if cfg.Auth.AccessTTL != expectedAccess {
		t.Errorf("Auth.AccessTTL = %v, want %v", cfg.Auth.AccessTTL, expectedAccess)
	}
	if cfg.Auth.RenewalTTL != 720*time.Hour {
		t.Errorf("Auth.RenewalTTL = %v, want %v", cfg.Auth.RenewalTTL, 720*time.Hour)
	}

	// Unset durations stay zero so the session service applies its defaults.
	if cfg.Auth.Leeway != 0 {
		t.Errorf("Auth.Leeway = %v, want 0", cfg.Auth.Leeway)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr "missing colon"
`)

	if _, err := Load(configPath); err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "0.0.0.0:8080"

database:
  path: "./test.db"

auth:
  secret: "`+testSecret+`"
  issuer_tag: "bookmesh"
  access_ttl: "invalid-duration"
`)

	if _, err := Load(configPath); err == nil {
		t.Error("Load() expected error for invalid duration, got nil")
	}
}

func TestValidate_RequiredFields(t *testing.T) {
	valid := func() Config {
		return Config{
			Server:   ServerConfig{HTTPAddr: "0.0.0.0:8080"},
			Database: DatabaseConfig{Path: "./test.db"},
			Auth:     AuthConfig{Secret: testSecret, IssuerTag: "bookmesh"},
		}
	}

	tests := []struct {
		name          string
		mutate        func(*Config)
		wantErrSubstr string
	}{
		{
			name:          "missing secret",
			mutate:        func(c *Config) { c.Auth.Secret = "" },
			wantErrSubstr: "auth.secret is required",
		},
		{
			name:          "short secret",
			mutate:        func(c *Config) { c.Auth.Secret = "tooshort" },
			wantErrSubstr: "auth.secret must be at least 32 bytes",
		},
		{
			name:          "missing issuer tag",
			mutate:        func(c *Config) { c.Auth.IssuerTag = "" },
			wantErrSubstr: "auth.issuer_tag is required",
		},
		{
			name:          "missing http_addr",
			mutate:        func(c *Config) { c.Server.HTTPAddr = "" },
			wantErrSubstr: "server.http_addr is required",
		},
		{
			name:          "missing database path",
			mutate:        func(c *Config) { c.Database.Path = "" },
			wantErrSubstr: "database.path is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatalf("Validate() expected error containing %q, got nil", tt.wantErrSubstr)
			}
			if !strings.Contains(err.Error(), tt.wantErrSubstr) {
				t.Errorf("Validate() error = %q, want error containing %q", err.Error(), tt.wantErrSubstr)
			}
		})
	}

	cfg := valid()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() unexpected error for valid config: %v", err)
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("FOO", "bar")
	t.Setenv("BAZ", "qux")

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "single env var",
			input:    "${FOO}",
			expected: "bar",
		},
		{
			name:     "env var with surrounding text",
			input:    "prefix-${FOO}-suffix",
			expected: "prefix-bar-suffix",
		},
		{
			name:     "multiple env vars",
			input:    "${FOO}/${BAZ}",
			expected: "bar/qux",
		},
		{
			name:     "no env vars",
			input:    "no-vars-here",
			expected: "no-vars-here",
		},
		{
			name:     "unset env var",
			input:    "${UNSET_VAR}",
			expected: "",
		},
		{
			name:     "empty string",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := expandEnvVars(tt.input)
			if result != tt.expected {
				t.Errorf("expandEnvVars(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}
