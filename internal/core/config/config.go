// Package config provides configuration management for the underwriter services.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/commissiontracker/underwriter/internal/types"
)

// Config is the full service configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Log      LogConfig
	Engine   EngineConfig
	Registry RegistryConfig
	Auth     AuthConfig
}

// ServerConfig holds listener settings for the gRPC and HTTP surfaces.
type ServerConfig struct {
	Host            string
	GRPCPort        int
	HTTPPort        int
	RequestTimeout  time.Duration
	MaxRequestBytes int64
}

// DatabaseConfig selects the rule store. The scheme picks the driver
// (sqlite:// or postgres://).
type DatabaseConfig struct {
	URL string
}

// LogConfig controls the zap logger. Format is "json" or "console".
type LogConfig struct {
	Level  string
	Format string
}

// EngineConfig holds resolution defaults.
type EngineConfig struct {
	Policy         string
	DefaultOutcome types.Outcome
}

// RegistryConfig points at an optional YAML file of extra condition fields.
type RegistryConfig struct {
	ConditionFieldsFile string
}

// AuthConfig controls API key authentication. Secrets never come from
// config files; see HMACSecrets.
type AuthConfig struct {
	Enabled bool
}

// Default returns configuration with default values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			GRPCPort:        50051,
			HTTPPort:        8080,
			RequestTimeout:  30 * time.Second,
			MaxRequestBytes: 1 << 20,
		},
		Database: DatabaseConfig{
			URL: "sqlite://./data/underwriter.db",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Engine: EngineConfig{
			Policy:         "first_match",
			DefaultOutcome: types.DefaultOutcome(),
		},
		Auth: AuthConfig{
			Enabled: true,
		},
	}
}

// HMACSecrets reads API key signing secrets from UW_HMAC_SECRET and the
// numbered UW_HMAC_SECRET_1, UW_HMAC_SECRET_2, ... used during rotation.
// Each value is <secret_id>:<base64_secret>. Returns secret_id -> secret.
func HMACSecrets() (map[string][]byte, error) {
	secrets := make(map[string][]byte)
	add := func(key, val string) error {
		secretID, decoded, err := ParseHMACSecretWithID(val)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		if _, exists := secrets[secretID]; exists {
			return fmt.Errorf("duplicate secret_id '%s' found in environment variables (check UW_HMAC_SECRET and UW_HMAC_SECRET_* for conflicts)", secretID)
		}
		secrets[secretID] = decoded
		return nil
	}

	if val := os.Getenv("UW_HMAC_SECRET"); val != "" {
		if err := add("UW_HMAC_SECRET", val); err != nil {
			return nil, err
		}
	}
	for i := 1; ; i++ {
		key := fmt.Sprintf("UW_HMAC_SECRET_%d", i)
		val := os.Getenv(key)
		if val == "" {
			break
		}
		if err := add(key, val); err != nil {
			return nil, err
		}
	}
	return secrets, nil
}

// ParseHMACSecretWithID parses <secret_id>:<base64_secret>. The secret id is
// 32 lowercase hex chars and the decoded secret at least 32 bytes.
func ParseHMACSecretWithID(envValue string) (secretID string, secret []byte, err error) {
	parts := strings.SplitN(strings.TrimSpace(envValue), ":", 2)
	if len(parts) != 2 {
		return "", nil, fmt.Errorf("format must be <secret_id>:<base64_secret>")
	}

	secretID = parts[0]
	if len(secretID) != 32 {
		return "", nil, fmt.Errorf("secret_id must be 32 hex chars")
	}
	for _, c := range secretID {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return "", nil, fmt.Errorf("secret_id must be hex chars only")
		}
	}

	secret, err = base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", nil, fmt.Errorf("invalid base64 encoding: %w", err)
	}
	if len(secret) < 32 {
		return "", nil, fmt.Errorf("secret must be at least 32 bytes, got %d", len(secret))
	}
	return secretID, secret, nil
}
