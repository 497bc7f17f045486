package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models bountyline.yml.
type Config struct {
	Marketplace struct {
		ID string `yaml:"id"`
	} `yaml:"marketplace"`
	Contributions struct {
		// Weights maps a contribution category to its integer payout weight.
		// A contribution's weight is resolved from this table exactly once,
		// at creation time.
		Weights map[string]int `yaml:"weights"`
	} `yaml:"contributions"`
	Payout struct {
		Currency      string `yaml:"currency"`
		MinorExponent int32  `yaml:"minor_exponent"`
		DefaultMethod string `yaml:"default_method"`
	} `yaml:"payout"`
	Fairness struct {
		Threshold float64 `yaml:"threshold"`
	} `yaml:"fairness"`
	// Webhooks are outbound audit-event subscriptions; the settlement
	// processor consumes PAYMENT/CHALLENGE events through one of these.
	Webhooks []WebhookConfig `yaml:"webhooks,omitempty"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret,omitempty"`
	Actions        []string `yaml:"actions,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with bl config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Marketplace.ID == "" {
		return fmt.Errorf("config.marketplace.id is required")
	}
	if len(c.Contributions.Weights) == 0 {
		return fmt.Errorf("config.contributions.weights is required")
	}
	for category, weight := range c.Contributions.Weights {
		if category == "" {
			return fmt.Errorf("config.contributions.weights contains empty category")
		}
		if weight <= 0 {
			return fmt.Errorf("weight for category %s must be positive", category)
		}
	}
	if c.Payout.Currency == "" {
		return fmt.Errorf("config.payout.currency is required")
	}
	if c.Payout.MinorExponent < 0 || c.Payout.MinorExponent > 8 {
		return fmt.Errorf("config.payout.minor_exponent must be between 0 and 8")
	}
	switch c.Payout.DefaultMethod {
	case "fiat", "crypto":
	default:
		return fmt.Errorf("config.payout.default_method must be fiat or crypto")
	}
	if c.Fairness.Threshold < 0 || c.Fairness.Threshold > 1 {
		return fmt.Errorf("config.fairness.threshold must be within [0,1]")
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
	}
	return nil
}

// Weight resolves the payout weight for a contribution category.
func (c *Config) Weight(category string) (int, bool) {
	w, ok := c.Contributions.Weights[category]
	return w, ok
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "bountyline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(marketplaceID string) string {
	return fmt.Sprintf(defaultTemplate, marketplaceID)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for a marketplace.
func Default(marketplaceID string) *Config {
	var cfg Config
	cfg.Marketplace.ID = marketplaceID
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, marketplaceID))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `marketplace:
  id: %s

contributions:
  weights:
    code: 30
    review: 15
    design: 20
    docs: 10
    triage: 5
    testing: 15

payout:
  currency: USD
  minor_exponent: 2
  default_method: fiat

fairness:
  threshold: 0.70
`
