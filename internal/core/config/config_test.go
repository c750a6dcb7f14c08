package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/commissiontracker/underwriter/internal/types"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "underwriter.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := LoadConfig("")
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.Server.Host != "0.0.0.0" {
			t.Errorf("expected host 0.0.0.0, got %s", cfg.Server.Host)
		}
		if cfg.Server.GRPCPort != 50051 {
			t.Errorf("expected grpc port 50051, got %d", cfg.Server.GRPCPort)
		}
		if cfg.Server.HTTPPort != 8080 {
			t.Errorf("expected http port 8080, got %d", cfg.Server.HTTPPort)
		}
		if cfg.Server.RequestTimeout != 30*time.Second {
			t.Errorf("expected timeout 30s, got %v", cfg.Server.RequestTimeout)
		}
		if cfg.Engine.Policy != "first_match" {
			t.Errorf("expected policy first_match, got %s", cfg.Engine.Policy)
		}
		want := types.DefaultOutcome()
		if cfg.Engine.DefaultOutcome.Eligibility != want.Eligibility ||
			cfg.Engine.DefaultOutcome.HealthClass != want.HealthClass ||
			cfg.Engine.DefaultOutcome.Reason != want.Reason {
			t.Errorf("expected default outcome %+v, got %+v", want, cfg.Engine.DefaultOutcome)
		}
		if cfg.Registry.ConditionFieldsFile != "" {
			t.Errorf("expected no condition fields file, got %s", cfg.Registry.ConditionFieldsFile)
		}
		if !cfg.Auth.Enabled {
			t.Error("expected auth enabled by default")
		}
	})

	t.Run("auth disabled from environment", func(t *testing.T) {
		t.Setenv("UW_AUTH_ENABLED", "false")
		cfg, err := LoadConfig("")
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.Auth.Enabled {
			t.Error("expected auth disabled")
		}
	})

	t.Run("hmac secret in config file rejected", func(t *testing.T) {
		path := writeConfigFile(t, "auth:\n  hmac_secret: should_be_rejected\n")
		_, err := LoadConfig(path)
		if err == nil {
			t.Fatal("expected error for hmac_secret in config file")
		}
		if err.Error() != "HMAC secrets not allowed in config files (use UW_HMAC_SECRET environment variable)" {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("environment override", func(t *testing.T) {
		t.Setenv("UW_SERVER_GRPC_PORT", "9999")
		t.Setenv("UW_SERVER_HOST", "127.0.0.1")
		t.Setenv("UW_ENGINE_POLICY", "most_severe")

		cfg, err := LoadConfig("")
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.Server.GRPCPort != 9999 {
			t.Errorf("expected port 9999, got %d", cfg.Server.GRPCPort)
		}
		if cfg.Server.Host != "127.0.0.1" {
			t.Errorf("expected host 127.0.0.1, got %s", cfg.Server.Host)
		}
		if cfg.Engine.Policy != "most_severe" {
			t.Errorf("expected policy most_severe, got %s", cfg.Engine.Policy)
		}
	})

	t.Run("config file", func(t *testing.T) {
		path := writeConfigFile(t, `server:
  http_port: 9090
database:
  url: "postgres://uw@localhost/uw?sslmode=disable"
engine:
  default_outcome:
    eligibility: refer
    health_class: standard
    table_rating: b
    reason: "manual review"
registry:
  condition_fields_file: /etc/underwriter/conditions.yaml
`)

		cfg, err := LoadConfig(path)
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.Server.HTTPPort != 9090 {
			t.Errorf("expected http port 9090, got %d", cfg.Server.HTTPPort)
		}
		if cfg.Database.URL != "postgres://uw@localhost/uw?sslmode=disable" {
			t.Errorf("unexpected database url %s", cfg.Database.URL)
		}
		out := cfg.Engine.DefaultOutcome
		if out.Eligibility != types.EligibilityRefer || out.TableRating != types.TableRating("B") || out.Reason != "manual review" {
			t.Errorf("unexpected default outcome %+v", out)
		}
		if cfg.Registry.ConditionFieldsFile != "/etc/underwriter/conditions.yaml" {
			t.Errorf("unexpected condition fields file %s", cfg.Registry.ConditionFieldsFile)
		}
	})

	t.Run("environment beats config file", func(t *testing.T) {
		path := writeConfigFile(t, "server:\n  grpc_port: 7000\n")
		t.Setenv("UW_SERVER_GRPC_PORT", "7001")

		cfg, err := LoadConfig(path)
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.Server.GRPCPort != 7001 {
			t.Errorf("expected port 7001, got %d", cfg.Server.GRPCPort)
		}
	})

	t.Run("missing config file", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
		if err == nil {
			t.Error("expected error for missing config file")
		}
	})
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"grpc port too large", func(c *Config) { c.Server.GRPCPort = 70000 }, true},
		{"http port zero", func(c *Config) { c.Server.HTTPPort = 0 }, true},
		{"same ports", func(c *Config) { c.Server.HTTPPort = c.Server.GRPCPort }, true},
		{"negative timeout", func(c *Config) { c.Server.RequestTimeout = -time.Second }, true},
		{"zero body limit", func(c *Config) { c.Server.MaxRequestBytes = 0 }, true},
		{"empty database url", func(c *Config) { c.Database.URL = "" }, true},
		{"unknown log format", func(c *Config) { c.Log.Format = "xml" }, true},
		{"unknown policy", func(c *Config) { c.Engine.Policy = "last_match" }, true},
		{"most severe policy", func(c *Config) { c.Engine.Policy = "most_severe" }, false},
		{"invalid default eligibility", func(c *Config) { c.Engine.DefaultOutcome.Eligibility = "maybe" }, true},
		{"invalid default table rating", func(c *Config) { c.Engine.DefaultOutcome.TableRating = "Z" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := validateConfig(cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateConfigWrapsOutcomeError(t *testing.T) {
	cfg := Default()
	cfg.Engine.DefaultOutcome.HealthClass = "excellent"

	err := validateConfig(cfg)
	if !errors.Is(err, types.ErrInvalidOutcome) {
		t.Fatalf("expected ErrInvalidOutcome, got %v", err)
	}
}

func TestNewLogger(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		logger, err := NewLogger(LogConfig{Level: "debug", Format: "json"})
		if err != nil {
			t.Fatalf("NewLogger failed: %v", err)
		}
		if !logger.Core().Enabled(zapcore.DebugLevel) {
			t.Error("expected debug level enabled")
		}
	})

	t.Run("console", func(t *testing.T) {
		logger, err := NewLogger(LogConfig{Level: "warn", Format: "console"})
		if err != nil {
			t.Fatalf("NewLogger failed: %v", err)
		}
		if logger.Core().Enabled(zapcore.InfoLevel) {
			t.Error("expected info level disabled at warn")
		}
	})

	t.Run("bad level", func(t *testing.T) {
		if _, err := NewLogger(LogConfig{Level: "loud", Format: "json"}); err == nil {
			t.Error("expected error for unknown level")
		}
	})
}

const (
	secretA = "0123456789abcdef0123456789abcdef:dGVzdHNlY3JldDEyMzQ1Njc4OTBhYmNkZWZnaGlqa2xtbm9w"
	secretB = "fedcba9876543210fedcba9876543210:YW5vdGhlcnNlY3JldDEyMzQ1Njc4OTBhYmNkZWZnaGlqa2xtbm9w"
)

func TestHMACSecrets(t *testing.T) {
	t.Run("none", func(t *testing.T) {
		t.Setenv("UW_HMAC_SECRET", "")
		secrets, err := HMACSecrets()
		if err != nil {
			t.Fatalf("HMACSecrets failed: %v", err)
		}
		if len(secrets) != 0 {
			t.Errorf("expected no secrets, got %d", len(secrets))
		}
	})

	t.Run("single", func(t *testing.T) {
		t.Setenv("UW_HMAC_SECRET", secretA)
		secrets, err := HMACSecrets()
		if err != nil {
			t.Fatalf("HMACSecrets failed: %v", err)
		}
		if len(secrets["0123456789abcdef0123456789abcdef"]) < 32 {
			t.Errorf("expected decoded secret for id, got %v", secrets)
		}
	})

	t.Run("rotation", func(t *testing.T) {
		t.Setenv("UW_HMAC_SECRET_1", secretA)
		t.Setenv("UW_HMAC_SECRET_2", secretB)
		secrets, err := HMACSecrets()
		if err != nil {
			t.Fatalf("HMACSecrets failed: %v", err)
		}
		if len(secrets) != 2 {
			t.Errorf("expected 2 secrets, got %d", len(secrets))
		}
	})

	t.Run("duplicate id", func(t *testing.T) {
		t.Setenv("UW_HMAC_SECRET", secretA)
		t.Setenv("UW_HMAC_SECRET_1", secretA)
		if _, err := HMACSecrets(); err == nil {
			t.Error("expected duplicate secret_id error")
		}
	})
}

func TestParseHMACSecretWithID(t *testing.T) {
	tests := []struct {
		name  string
		value string
		ok    bool
	}{
		{"valid", secretA, true},
		{"missing separator", "0123456789abcdef0123456789abcdef", false},
		{"short id", "0123:dGVzdHNlY3JldDEyMzQ1Njc4OTBhYmNkZWZnaGlqa2xtbm9w", false},
		{"non hex id", "0123456789abcdef0123456789abcdeZ:dGVzdHNlY3JldDEyMzQ1Njc4OTBhYmNkZWZnaGlqa2xtbm9w", false},
		{"bad base64", "0123456789abcdef0123456789abcdef:!!!", false},
		{"short secret", "0123456789abcdef0123456789abcdef:c2hvcnQ=", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ParseHMACSecretWithID(tt.value)
			if (err == nil) != tt.ok {
				t.Errorf("ParseHMACSecretWithID(%q) error = %v, want ok=%v", tt.value, err, tt.ok)
			}
		})
	}
}
