package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/atiendo_test")
	t.Setenv("CONFIG_FILE", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Env != "development" || cfg.Production() {
		t.Errorf("expected development defaults, got env=%q", cfg.Env)
	}
	if cfg.Battery.DailyLimit != 5.0 {
		t.Errorf("expected default daily limit 5.0, got %v", cfg.Battery.DailyLimit)
	}
	if cfg.SLA != 4*time.Hour {
		t.Errorf("expected default SLA 4h, got %v", cfg.SLA)
	}
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("CONFIG_FILE", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error without DATABASE_URL")
	}
}

func TestLoadYAMLWithEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlBody := `
env: production
port: "9090"
database_url: postgres://db.internal/atiendo
battery:
  daily_limit: 10
webhook_secrets:
  stripe: whsec_from_file
channel_endpoints:
  whatsapp: http://bridge.internal/whatsapp
`
	if err := os.WriteFile(path, []byte(yamlBody), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("DATABASE_URL", "")
	t.Setenv("PORT", "7070")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_from_env")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.Production() {
		t.Error("expected production env from file")
	}
	if cfg.Port != "7070" {
		t.Errorf("env override should win: port=%q", cfg.Port)
	}
	if cfg.Battery.DailyLimit != 10 {
		t.Errorf("expected daily limit 10 from file, got %v", cfg.Battery.DailyLimit)
	}
	if cfg.WebhookSecrets["stripe"] != "whsec_from_env" {
		t.Errorf("env secret should override file: %q", cfg.WebhookSecrets["stripe"])
	}
	if cfg.ChannelEndpoints["whatsapp"] == "" {
		t.Error("expected whatsapp channel endpoint from file")
	}
}
