// Package config provides configuration management for specforge commands.
package config

import (
	"time"
)

// CompilerConfig holds configuration shared by the compile and reverse commands.
type CompilerConfig struct {
	DatabaseURL string
	SchemaPath  string
	Backend     string
	OutDir      string
	Workers     int
	Enhance     EnhanceConfig
}

// EnhanceConfig controls the optional AI enhancement pass on reverse parses.
// The API key is environment-only (SPECFORGE_OPENAI_API_KEY) and never read
// from config files.
type EnhanceConfig struct {
	Enabled   bool
	Model     string
	Timeout   time.Duration
	Threshold float64
}

// DefaultCompilerConfig returns configuration with default values.
func DefaultCompilerConfig() *CompilerConfig {
	return &CompilerConfig{
		SchemaPath: "schema.yaml",
		Backend:    "plpgsql",
		OutDir:     "./out",
		Workers:    0,
		Enhance: EnhanceConfig{
			Model:     "gpt-4o",
			Timeout:   15 * time.Second,
			Threshold: 0.6,
		},
	}
}
