// Package config loads service configuration from an optional YAML file
// overridden by environment variables. Every field has a local-dev default
// so the service boots with nothing but DATABASE_URL set.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Env         string `yaml:"env"`
	Port        string `yaml:"port"`
	DatabaseURL string `yaml:"database_url"`
	JWTSecret   string `yaml:"jwt_secret"`

	SLA        time.Duration `yaml:"sla"`
	SLAWarning time.Duration `yaml:"sla_warning"`

	Battery BatteryConfig `yaml:"battery"`

	// WebhookSecrets is keyed by provider name (stripe, paypal, generic).
	WebhookSecrets map[string]string `yaml:"webhook_secrets"`

	// ChannelEndpoints maps channel names to bridge URLs the dispatcher
	// posts outbound messages to.
	ChannelEndpoints map[string]string `yaml:"channel_endpoints"`

	// ToolEndpoints maps tool names to their service URLs.
	ToolEndpoints       map[string]string `yaml:"tool_endpoints"`
	DefaultToolEndpoint string            `yaml:"default_tool_endpoint"`

	EngineURL           string `yaml:"engine_url"`
	PaymentProcessorURL string `yaml:"payment_processor_url"`
	SchemaDir           string `yaml:"schema_dir"`
}

type BatteryConfig struct {
	DailyLimit   float64 `yaml:"daily_limit"`
	CallEstimate float64 `yaml:"call_estimate"`
}

// Load reads CONFIG_FILE (when set), then applies environment overrides.
func Load() (*Config, error) {
	cfg := &Config{
		Env:        "development",
		Port:       "8080",
		SLA:        4 * time.Hour,
		SLAWarning: 30 * time.Minute,
		Battery: BatteryConfig{
			DailyLimit:   5.0,
			CallEstimate: 0.05,
		},
		SchemaDir: "schemas",
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	overrideString(&cfg.Env, "APP_ENV")
	overrideString(&cfg.Port, "PORT")
	overrideString(&cfg.DatabaseURL, "DATABASE_URL")
	overrideString(&cfg.JWTSecret, "JWT_SECRET")
	overrideString(&cfg.EngineURL, "ENGINE_URL")
	overrideString(&cfg.PaymentProcessorURL, "PAYMENT_PROCESSOR_URL")
	overrideString(&cfg.SchemaDir, "SCHEMA_DIR")
	overrideDuration(&cfg.SLA, "SLA")
	overrideDuration(&cfg.SLAWarning, "SLA_WARNING")
	overrideFloat(&cfg.Battery.DailyLimit, "BATTERY_DAILY_LIMIT")
	overrideFloat(&cfg.Battery.CallEstimate, "BATTERY_CALL_ESTIMATE")

	if cfg.WebhookSecrets == nil {
		cfg.WebhookSecrets = map[string]string{}
	}
	for provider, env := range map[string]string{
		"stripe":  "STRIPE_WEBHOOK_SECRET",
		"paypal":  "PAYPAL_WEBHOOK_SECRET",
		"generic": "GENERIC_WEBHOOK_SECRET",
	} {
		if v := os.Getenv(env); v != "" {
			cfg.WebhookSecrets[provider] = v
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

// Production reports whether the service runs with production semantics
// (missing webhook secrets become hard failures).
func (c *Config) Production() bool {
	return c.Env == "production"
}

func overrideString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func overrideDuration(dst *time.Duration, env string) {
	if v := os.Getenv(env); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func overrideFloat(dst *float64, env string) {
	if v := os.Getenv(env); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}
