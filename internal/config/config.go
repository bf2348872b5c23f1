package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	OAuth     OAuthConfig     `yaml:"oauth"`
	LLM       LLMConfig       `yaml:"llm"`
	Outbound  OutboundConfig  `yaml:"outbound"`
	Pricing   PricingConfig   `yaml:"pricing"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Crypto    CryptoConfig    `yaml:"crypto"`
}

// DatabaseConfig holds database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// OAuthConfig holds the delegated-auth provider settings
type OAuthConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	AuthURL      string `yaml:"auth_url"`
	TokenURL     string `yaml:"token_url"`
	RevokeURL    string `yaml:"revoke_url"`
	RedirectURI  string `yaml:"redirect_uri"`
	Scope        string `yaml:"scope"`
}

// LLMConfig holds LLM provider settings for intent classification
type LLMConfig struct {
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float32 `yaml:"temperature"`
}

// OutboundConfig holds outbound email settings
type OutboundConfig struct {
	Provider string `yaml:"provider"` // "submission" (OAuth SMTP), "resend", or empty for none
	// Submission settings (if provider is "submission")
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// Resend settings (if provider is "resend")
	ResendKey   string `yaml:"resend_key"`
	FromAddress string `yaml:"from_address"`
	FromName    string `yaml:"from_name"`
}

// PricingConfig holds the pricing defaults applied when a product
// carries no rate of its own.
type PricingConfig struct {
	BaseRatePerSqIn float64 `yaml:"base_rate_per_sq_in"`
	MinOrderAmount  float64 `yaml:"min_order_amount"`
}

// SchedulerConfig holds mailbox polling settings
type SchedulerConfig struct {
	DefaultPollInterval time.Duration `yaml:"default_poll_interval"`
	SweepInterval       time.Duration `yaml:"sweep_interval"`
	TickTimeout         time.Duration `yaml:"tick_timeout"`
}

// CryptoConfig holds the key used to seal stored credentials
type CryptoConfig struct {
	Key string `yaml:"key"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// expandEnvVars expands ${VAR} patterns in the string
func expandEnvVars(s string) string {
	return os.Expand(s, func(key string) string {
		if val, ok := os.LookupEnv(key); ok {
			return val
		}
		return "${" + key + "}"
	})
}

// setDefaults sets default values for missing configuration
func (c *Config) setDefaults() {
	if c.Database.Path == "" {
		c.Database.Path = "./mailquote.db"
	}
	if c.OAuth.AuthURL == "" {
		c.OAuth.AuthURL = "https://accounts.google.com/o/oauth2/auth"
	}
	if c.OAuth.TokenURL == "" {
		c.OAuth.TokenURL = "https://oauth2.googleapis.com/token"
	}
	if c.OAuth.RevokeURL == "" {
		c.OAuth.RevokeURL = "https://oauth2.googleapis.com/revoke"
	}
	if c.OAuth.Scope == "" {
		c.OAuth.Scope = "https://mail.google.com/"
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "gpt-4o-mini"
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = 500
	}
	if c.Outbound.Host == "" {
		c.Outbound.Host = "smtp.gmail.com"
	}
	if c.Outbound.Port == 0 {
		c.Outbound.Port = 587
	}
	if c.Pricing.BaseRatePerSqIn == 0 {
		c.Pricing.BaseRatePerSqIn = 0.05
	}
	if c.Pricing.MinOrderAmount == 0 {
		c.Pricing.MinOrderAmount = 50.00
	}
	if c.Scheduler.DefaultPollInterval == 0 {
		c.Scheduler.DefaultPollInterval = 10 * time.Minute
	}
	if c.Scheduler.SweepInterval == 0 {
		c.Scheduler.SweepInterval = 30 * time.Minute
	}
	if c.Scheduler.TickTimeout == 0 {
		c.Scheduler.TickTimeout = 5 * time.Minute
	}
}

func (c *Config) validate() error {
	if c.Outbound.Provider == "resend" && c.Outbound.ResendKey == "" {
		return fmt.Errorf("outbound provider is resend but resend_key is empty")
	}
	return nil
}
