package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv(ConfigPathEnvVar, filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Addr != ":8787" {
		t.Fatalf("expected default addr, got %q", cfg.Addr)
	}
	if cfg.WebhookTimeout != 10*time.Second {
		t.Fatalf("expected 10s webhook timeout, got %s", cfg.WebhookTimeout)
	}
	if cfg.WebhookConcurrency != 8 {
		t.Fatalf("expected concurrency 8, got %d", cfg.WebhookConcurrency)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := "addr: \":9000\"\nwebhook_concurrency: 3\nlog_level: debug\n"
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("API_ADDR", ":9100")
	t.Setenv("WEBHOOK_TIMEOUT", "3s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Addr != ":9100" {
		t.Fatalf("expected env addr to win, got %q", cfg.Addr)
	}
	if cfg.WebhookConcurrency != 3 {
		t.Fatalf("expected file concurrency 3, got %d", cfg.WebhookConcurrency)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected file log level, got %q", cfg.LogLevel)
	}
	if cfg.WebhookTimeout != 3*time.Second {
		t.Fatalf("expected 3s timeout from env, got %s", cfg.WebhookTimeout)
	}
}

func TestValidateRejectsZeroConcurrency(t *testing.T) {
	cfg := defaultConfig()
	cfg.WebhookConcurrency = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestLoadAcceptsPlainSecondsForDurations(t *testing.T) {
	t.Setenv(ConfigPathEnvVar, filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("SUPPORTDESK_ACCESS_TTL", "900")
	t.Setenv("SUPPORTDESK_REFRESH_TTL_SECONDS", "86400")
	t.Setenv("WEBHOOK_TIMEOUT", "2m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.AccessTTL != 15*time.Minute {
		t.Fatalf("expected 900 seconds, got %s", cfg.AccessTTL)
	}
	if cfg.RefreshTTL != 24*time.Hour {
		t.Fatalf("expected 86400 seconds, got %s", cfg.RefreshTTL)
	}
	if cfg.WebhookTimeout != 2*time.Minute {
		t.Fatalf("expected duration string to still parse, got %s", cfg.WebhookTimeout)
	}
}

func TestLoadPlainSecondsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("password_reset_ttl: 1800\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(ConfigPathEnvVar, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.PasswordResetTTL != 30*time.Minute {
		t.Fatalf("expected 30m reset ttl, got %s", cfg.PasswordResetTTL)
	}
}

func TestValidateRequiresSenderWhenSMTPConfigured(t *testing.T) {
	cfg := defaultConfig()
	cfg.SMTPHost = "smtp.example.com"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected smtp_from to be required")
	}
	cfg.SMTPFrom = "support@example.com"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}
