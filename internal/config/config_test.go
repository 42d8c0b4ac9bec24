package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func isolateEnv(t *testing.T) {
	t.Helper()
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("STRIPE_MODE", "mock")
}

func TestLoadDefaults(t *testing.T) {
	isolateEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Tips.MaxAmount != "500" || cfg.Tips.ClockSkew != 120*time.Second {
		t.Fatalf("unexpected tip defaults: %+v", cfg.Tips)
	}
	if cfg.Fees.ProcessorPercent != "2.9" || cfg.Fees.ProcessorFixed != 30 || cfg.Fees.MinimumCharge != 50 {
		t.Fatalf("unexpected fee defaults: %+v", cfg.Fees)
	}
	if cfg.Fraud.MaxDisputes != 3 || cfg.Fraud.MaxDisputeRatio != "0.2" {
		t.Fatalf("unexpected fraud defaults: %+v", cfg.Fraud)
	}
	if !cfg.MockProcessor() {
		t.Fatalf("expected mock processor")
	}
}

func TestLoadEnvOverridesYAML(t *testing.T) {
	isolateEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	yamlBody := "server:\n  port: 9090\ntips:\n  max_amount: \"250\"\nfees:\n  platform_percent: \"1.5\"\n"
	if err := os.WriteFile(path, []byte(yamlBody), 0o600); err != nil {
		t.Fatalf("write yaml: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("TIP_MAX_AMOUNT", "100")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Fatalf("yaml port not applied: %d", cfg.Server.Port)
	}
	if cfg.Fees.PlatformPercent != "1.5" {
		t.Fatalf("yaml platform percent not applied: %s", cfg.Fees.PlatformPercent)
	}
	if cfg.Tips.MaxAmount != "100" {
		t.Fatalf("env should override yaml, got %s", cfg.Tips.MaxAmount)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(*Config){
		"negative percent": func(c *Config) { c.Fees.ProcessorPercent = "-1" },
		"bad max amount":   func(c *Config) { c.Tips.MaxAmount = "lots" },
		"zero minimum":     func(c *Config) { c.Fees.MinimumCharge = 0 },
		"live without key": func(c *Config) { c.Stripe.Mode = "live"; c.Stripe.SecretKey = "" },
		"unknown mode":     func(c *Config) { c.Stripe.Mode = "sandbox" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			cfg.Stripe.Mode = "mock"
			mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
