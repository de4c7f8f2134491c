package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// LoadConfig loads configuration from file using viper.
// CLI flags > environment > config file > defaults precedence.
func LoadConfig(configPath string) (*CompilerConfig, error) {
	v := viper.New()

	// Set defaults matching DefaultCompilerConfig
	v.SetDefault("database_url", "")
	v.SetDefault("schema_path", "schema.yaml")
	v.SetDefault("backend", "plpgsql")
	v.SetDefault("out_dir", "./out")
	v.SetDefault("workers", 0)
	v.SetDefault("enhance.enabled", false)
	v.SetDefault("enhance.model", "gpt-4o")
	v.SetDefault("enhance.timeout", "15s")
	v.SetDefault("enhance.threshold", 0.6)

	// Bind environment variables with SPECFORGE_ prefix
	v.SetEnvPrefix("SPECFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Load config file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Security check: reject API keys in config files
	// Secrets must be environment-only per 12-factor principles
	if err := validateNoSecretsInConfig(v); err != nil {
		return nil, err
	}

	cfg := &CompilerConfig{
		DatabaseURL: v.GetString("database_url"),
		SchemaPath:  v.GetString("schema_path"),
		Backend:     v.GetString("backend"),
		OutDir:      v.GetString("out_dir"),
		Workers:     v.GetInt("workers"),
		Enhance: EnhanceConfig{
			Enabled:   v.GetBool("enhance.enabled"),
			Model:     v.GetString("enhance.model"),
			Timeout:   v.GetDuration("enhance.timeout"),
			Threshold: v.GetFloat64("enhance.threshold"),
		},
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// OpenAIAPIKey reads the enhancement API key from the environment.
func OpenAIAPIKey() string {
	return os.Getenv("SPECFORGE_OPENAI_API_KEY")
}

// validateConfig checks backend name, worker count, and enhancement settings.
func validateConfig(cfg *CompilerConfig) error {
	switch cfg.Backend {
	case "plpgsql", "goorm":
	default:
		return fmt.Errorf("backend must be plpgsql or goorm, got %q", cfg.Backend)
	}
	if cfg.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", cfg.Workers)
	}
	if cfg.Enhance.Timeout <= 0 {
		return fmt.Errorf("enhance.timeout must be positive, got %v", cfg.Enhance.Timeout)
	}
	if cfg.Enhance.Threshold < 0 || cfg.Enhance.Threshold > 1 {
		return fmt.Errorf("enhance.threshold must be between 0 and 1, got %v", cfg.Enhance.Threshold)
	}
	return nil
}

// validateNoSecretsInConfig enforces environment-only secrets (12-factor principle).
func validateNoSecretsInConfig(v *viper.Viper) error {
	if v.IsSet("openai_api_key") || v.IsSet("enhance.api_key") {
		return fmt.Errorf("API keys not allowed in config files (use SPECFORGE_OPENAI_API_KEY environment variable)")
	}
	return nil
}
