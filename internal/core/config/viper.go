package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/commissiontracker/underwriter/internal/rules"
	"github.com/commissiontracker/underwriter/internal/types"
)

// LoadConfig loads configuration from file using viper.
// CLI flags > environment > config file > defaults precedence.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	// Bind environment variables with UW_ prefix
	v.SetEnvPrefix("UW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := validateNoSecretsInConfig(v); err != nil {
		return nil, err
	}

	cfg, err := fromViper(v)
	if err != nil {
		return nil, err
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.grpc_port", d.Server.GRPCPort)
	v.SetDefault("server.http_port", d.Server.HTTPPort)
	v.SetDefault("server.request_timeout", d.Server.RequestTimeout.String())
	v.SetDefault("server.max_request_bytes", d.Server.MaxRequestBytes)
	v.SetDefault("database.url", d.Database.URL)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("engine.policy", d.Engine.Policy)
	v.SetDefault("engine.default_outcome.eligibility", string(d.Engine.DefaultOutcome.Eligibility))
	v.SetDefault("engine.default_outcome.health_class", string(d.Engine.DefaultOutcome.HealthClass))
	v.SetDefault("engine.default_outcome.table_rating", string(d.Engine.DefaultOutcome.TableRating))
	v.SetDefault("engine.default_outcome.reason", d.Engine.DefaultOutcome.Reason)
	v.SetDefault("registry.condition_fields_file", "")
	v.SetDefault("auth.enabled", d.Auth.Enabled)
}

func fromViper(v *viper.Viper) (*Config, error) {
	var rating types.TableRating
	if err := rating.UnmarshalText([]byte(v.GetString("engine.default_outcome.table_rating"))); err != nil {
		return nil, fmt.Errorf("engine.default_outcome.table_rating: %w", err)
	}

	return &Config{
		Server: ServerConfig{
			Host:            v.GetString("server.host"),
			GRPCPort:        v.GetInt("server.grpc_port"),
			HTTPPort:        v.GetInt("server.http_port"),
			RequestTimeout:  v.GetDuration("server.request_timeout"),
			MaxRequestBytes: v.GetInt64("server.max_request_bytes"),
		},
		Database: DatabaseConfig{
			URL: v.GetString("database.url"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		Engine: EngineConfig{
			Policy: v.GetString("engine.policy"),
			DefaultOutcome: types.Outcome{
				Eligibility: types.Eligibility(v.GetString("engine.default_outcome.eligibility")),
				HealthClass: types.HealthClass(v.GetString("engine.default_outcome.health_class")),
				TableRating: rating,
				Reason:      v.GetString("engine.default_outcome.reason"),
			},
		},
		Registry: RegistryConfig{
			ConditionFieldsFile: v.GetString("registry.condition_fields_file"),
		},
		Auth: AuthConfig{
			Enabled: v.GetBool("auth.enabled"),
		},
	}, nil
}

// validateConfig checks ports, timeouts, the engine policy and the default outcome.
func validateConfig(cfg *Config) error {
	if err := validatePort("server.grpc_port", cfg.Server.GRPCPort); err != nil {
		return err
	}
	if err := validatePort("server.http_port", cfg.Server.HTTPPort); err != nil {
		return err
	}
	if cfg.Server.GRPCPort == cfg.Server.HTTPPort {
		return fmt.Errorf("server.grpc_port and server.http_port must differ, both are %d", cfg.Server.GRPCPort)
	}
	if cfg.Server.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %v", cfg.Server.RequestTimeout)
	}
	if cfg.Server.MaxRequestBytes <= 0 {
		return fmt.Errorf("max_request_bytes must be positive, got %d", cfg.Server.MaxRequestBytes)
	}
	if cfg.Database.URL == "" {
		return fmt.Errorf("database.url must not be empty")
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "console" {
		return fmt.Errorf("log.format must be json or console, got %q", cfg.Log.Format)
	}
	if _, err := rules.ParsePolicy(cfg.Engine.Policy); err != nil {
		return fmt.Errorf("engine.policy: %w", err)
	}
	if err := cfg.Engine.DefaultOutcome.Validate(); err != nil {
		return fmt.Errorf("engine.default_outcome: %w", err)
	}
	return nil
}

// validateNoSecretsInConfig keeps signing secrets out of config files.
func validateNoSecretsInConfig(v *viper.Viper) error {
	if v.InConfig("hmac_secret") || v.InConfig("auth.hmac_secret") {
		return fmt.Errorf("HMAC secrets not allowed in config files (use UW_HMAC_SECRET environment variable)")
	}
	return nil
}

func validatePort(key string, port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("%s must be between 1 and 65535, got %d", key, port)
	}
	return nil
}
