package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadConfig(t *testing.T) {
	// Clean environment
	os.Unsetenv("SPECFORGE_BACKEND")
	os.Unsetenv("SPECFORGE_WORKERS")

	t.Run("defaults", func(t *testing.T) {
		cfg, err := LoadConfig("")
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.SchemaPath != "schema.yaml" {
			t.Errorf("expected schema_path schema.yaml, got %s", cfg.SchemaPath)
		}
		if cfg.Backend != "plpgsql" {
			t.Errorf("expected backend plpgsql, got %s", cfg.Backend)
		}
		if cfg.OutDir != "./out" {
			t.Errorf("expected out_dir ./out, got %s", cfg.OutDir)
		}
		if cfg.Workers != 0 {
			t.Errorf("expected workers 0, got %d", cfg.Workers)
		}
		if cfg.Enhance.Enabled {
			t.Error("expected enhancement disabled by default")
		}
		if cfg.Enhance.Model != "gpt-4o" {
			t.Errorf("expected model gpt-4o, got %s", cfg.Enhance.Model)
		}
		if cfg.Enhance.Timeout != 15*time.Second {
			t.Errorf("expected timeout 15s, got %v", cfg.Enhance.Timeout)
		}
		if cfg.Enhance.Threshold != 0.6 {
			t.Errorf("expected threshold 0.6, got %v", cfg.Enhance.Threshold)
		}
	})

	t.Run("environment override", func(t *testing.T) {
		os.Setenv("SPECFORGE_BACKEND", "goorm")
		os.Setenv("SPECFORGE_WORKERS", "8")
		defer os.Unsetenv("SPECFORGE_BACKEND")
		defer os.Unsetenv("SPECFORGE_WORKERS")

		cfg, err := LoadConfig("")
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.Backend != "goorm" {
			t.Errorf("expected backend goorm, got %s", cfg.Backend)
		}
		if cfg.Workers != 8 {
			t.Errorf("expected workers 8, got %d", cfg.Workers)
		}
	})

	t.Run("config file", func(t *testing.T) {
		tmpfile, err := os.CreateTemp("", "config-*.yaml")
		if err != nil {
			t.Fatal(err)
		}
		defer os.Remove(tmpfile.Name())

		configContent := `backend: goorm
out_dir: ./generated
enhance:
  enabled: true
  threshold: 0.8
`
		if _, err := tmpfile.Write([]byte(configContent)); err != nil {
			t.Fatal(err)
		}
		tmpfile.Close()

		cfg, err := LoadConfig(tmpfile.Name())
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.Backend != "goorm" {
			t.Errorf("expected backend goorm, got %s", cfg.Backend)
		}
		if cfg.OutDir != "./generated" {
			t.Errorf("expected out_dir ./generated, got %s", cfg.OutDir)
		}
		if !cfg.Enhance.Enabled {
			t.Error("expected enhancement enabled")
		}
		if cfg.Enhance.Threshold != 0.8 {
			t.Errorf("expected threshold 0.8, got %v", cfg.Enhance.Threshold)
		}
	})

	t.Run("environment overrides config file", func(t *testing.T) {
		tmpfile, err := os.CreateTemp("", "config-*.yaml")
		if err != nil {
			t.Fatal(err)
		}
		defer os.Remove(tmpfile.Name())

		if _, err := tmpfile.Write([]byte("workers: 2\n")); err != nil {
			t.Fatal(err)
		}
		tmpfile.Close()

		os.Setenv("SPECFORGE_WORKERS", "16")
		defer os.Unsetenv("SPECFORGE_WORKERS")

		cfg, err := LoadConfig(tmpfile.Name())
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.Workers != 16 {
			t.Errorf("expected workers 16, got %d", cfg.Workers)
		}
	})

	t.Run("invalid backend", func(t *testing.T) {
		os.Setenv("SPECFORGE_BACKEND", "cobol")
		defer os.Unsetenv("SPECFORGE_BACKEND")

		_, err := LoadConfig("")
		if err == nil {
			t.Error("expected error for unknown backend")
		}
	})

	t.Run("invalid negative workers", func(t *testing.T) {
		os.Setenv("SPECFORGE_WORKERS", "-1")
		defer os.Unsetenv("SPECFORGE_WORKERS")

		_, err := LoadConfig("")
		if err == nil {
			t.Error("expected error for negative workers")
		}
	})

	t.Run("invalid threshold", func(t *testing.T) {
		os.Setenv("SPECFORGE_ENHANCE_THRESHOLD", "1.5")
		defer os.Unsetenv("SPECFORGE_ENHANCE_THRESHOLD")

		_, err := LoadConfig("")
		if err == nil {
			t.Error("expected error for threshold > 1")
		}
	})
}

func TestSecretsRejectedInConfigFile(t *testing.T) {
	tmpfile, err := os.CreateTemp("", "config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmpfile.Name())

	configContent := `backend: plpgsql
enhance:
  api_key: "should_be_rejected"
`
	if _, err := tmpfile.Write([]byte(configContent)); err != nil {
		t.Fatal(err)
	}
	tmpfile.Close()

	_, err = LoadConfig(tmpfile.Name())
	if err == nil {
		t.Fatal("expected error for API key in config file")
	}
	if err.Error() != "API keys not allowed in config files (use SPECFORGE_OPENAI_API_KEY environment variable)" {
		t.Fatalf("wrong error message: %v", err)
	}
}

func TestOpenAIAPIKey(t *testing.T) {
	os.Setenv("SPECFORGE_OPENAI_API_KEY", "sk-test")
	defer os.Unsetenv("SPECFORGE_OPENAI_API_KEY")

	if got := OpenAIAPIKey(); got != "sk-test" {
		t.Errorf("expected sk-test, got %s", got)
	}
}
