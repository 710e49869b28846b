package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// LoadConfig loads configuration from file using viper.
// CLI flags > environment > config file > defaults precedence.
func LoadConfig(configPath string) (*ServerConfig, error) {
	v := viper.New()

	// Set defaults matching DefaultServerConfig
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8084)
	v.SetDefault("server.request_timeout", "30s")
	v.SetDefault("engine.config_cache_ttl", "30s")
	v.SetDefault("engine.conflict_retries", 3)

	// Bind environment variables with WF_ prefix
	v.SetEnvPrefix("WF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Load config file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Security check: reject secrets in config files
	// Secrets must be environment-only per 12-factor principles
	if err := validateNoSecretsInConfig(v); err != nil {
		return nil, err
	}

	cfg := &ServerConfig{
		Host:            v.GetString("server.host"),
		Port:            v.GetInt("server.port"),
		RequestTimeout:  v.GetDuration("server.request_timeout"),
		ConfigCacheTTL:  v.GetDuration("engine.config_cache_ttl"),
		ConflictRetries: v.GetInt("engine.conflict_retries"),
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateConfig checks port range and positive values for timeout, cache
// TTL and retry budget.
func validateConfig(cfg *ServerConfig) error {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", cfg.Port)
	}
	if cfg.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %v", cfg.RequestTimeout)
	}
	if cfg.ConfigCacheTTL <= 0 {
		return fmt.Errorf("config_cache_ttl must be positive, got %v", cfg.ConfigCacheTTL)
	}
	if cfg.ConflictRetries <= 0 {
		return fmt.Errorf("conflict_retries must be positive, got %d", cfg.ConflictRetries)
	}
	return nil
}

// validateNoSecretsInConfig enforces environment-only secrets (12-factor
// principle).
func validateNoSecretsInConfig(v *viper.Viper) error {
	if v.IsSet("hmac_secret") || v.IsSet("server.hmac_secret") {
		return fmt.Errorf("HMAC secrets not allowed in config files (use WF_HMAC_SECRET environment variable)")
	}
	return nil
}
