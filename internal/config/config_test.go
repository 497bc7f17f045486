package config_test

import (
	"strings"
	"testing"

	"bountyline/internal/config"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := config.Default("market-1")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Marketplace.ID != "market-1" {
		t.Fatalf("marketplace id %q", cfg.Marketplace.ID)
	}
	if cfg.Payout.Currency != "USD" || cfg.Payout.MinorExponent != 2 {
		t.Fatalf("payout defaults %+v", cfg.Payout)
	}
	if cfg.Fairness.Threshold != 0.70 {
		t.Fatalf("fairness threshold %v", cfg.Fairness.Threshold)
	}
	if w, ok := cfg.Weight("code"); !ok || w != 30 {
		t.Fatalf("code weight %d %v", w, ok)
	}
	if _, ok := cfg.Weight("unknown"); ok {
		t.Fatal("unknown category resolved")
	}
}

func TestGenerateDefaultRoundTrips(t *testing.T) {
	raw := config.GenerateDefault("market-2")
	cfg, err := config.FromYAML([]byte(raw))
	if err != nil {
		t.Fatalf("parse generated config: %v", err)
	}
	if cfg.Marketplace.ID != "market-2" {
		t.Fatalf("marketplace id %q", cfg.Marketplace.ID)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{"missing marketplace", func(c *config.Config) { c.Marketplace.ID = "" }, "marketplace.id"},
		{"empty weights", func(c *config.Config) { c.Contributions.Weights = nil }, "weights"},
		{"zero weight", func(c *config.Config) { c.Contributions.Weights["code"] = 0 }, "must be positive"},
		{"missing currency", func(c *config.Config) { c.Payout.Currency = "" }, "currency"},
		{"negative exponent", func(c *config.Config) { c.Payout.MinorExponent = -1 }, "minor_exponent"},
		{"bad method", func(c *config.Config) { c.Payout.DefaultMethod = "barter" }, "default_method"},
		{"threshold out of range", func(c *config.Config) { c.Fairness.Threshold = 1.5 }, "threshold"},
		{"webhook without url", func(c *config.Config) { c.Webhooks = []config.WebhookConfig{{}} }, "webhooks"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default("market-1")
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("error %q does not mention %q", err, tc.wantErr)
			}
		})
	}
}

func TestFromYAMLInvalid(t *testing.T) {
	if _, err := config.FromYAML([]byte("not: [valid")); err == nil {
		t.Fatal("malformed yaml accepted")
	}
}
