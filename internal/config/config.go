// Package config defines the autopilot's policy defaults/validation and its
// top-level configuration. Config is loaded from a JSON file with sensitive
// fields overridable via NEARAUTOPILOT_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"nearautopilot/internal/errs"
)

// Policy holds the numeric guardrails the bidding and lifecycle engines
// consult every tick. All fields are validated by Resolve; nothing else
// in the autopilot constructs a Policy directly.
type Policy struct {
	MinBudgetNear                float64 `mapstructure:"minBudgetNear"`
	MaxBudgetNear                float64 `mapstructure:"maxBudgetNear"`
	BidDiscountBps               int     `mapstructure:"bidDiscountBps"`
	MinBidNear                   float64 `mapstructure:"minBidNear"`
	MaxBidNear                   float64 `mapstructure:"maxBidNear"`
	MaxExistingBids              int     `mapstructure:"maxExistingBids"`
	MinMarginNear                float64 `mapstructure:"minMarginNear"`
	StalePendingBidMinutes       float64 `mapstructure:"stalePendingBidMinutes"`
	SubmitRetryLimit             int     `mapstructure:"submitRetryLimit"`
	SubmitRetryBackoffMinutes    float64 `mapstructure:"submitRetryBackoffMinutes"`
	SubmitRetryMaxBackoffMinutes float64 `mapstructure:"submitRetryMaxBackoffMinutes"`
	SubmitEscalateAfterMinutes   float64 `mapstructure:"submitEscalateAfterMinutes"`
	SubmitEscalationLimit        int     `mapstructure:"submitEscalationLimit"`
	FailClosed                   bool    `mapstructure:"failClosed"`
}

// defaultPolicy are the conservative built-in defaults Resolve merges
// operator overrides onto.
func defaultPolicy() Policy {
	return Policy{
		MinBudgetNear:                0.05,
		MaxBudgetNear:                1000,
		BidDiscountBps:               7000,
		MinBidNear:                   0.01,
		MaxBidNear:                   1000,
		MaxExistingBids:              25,
		MinMarginNear:                0.01,
		StalePendingBidMinutes:       180,
		SubmitRetryLimit:             5,
		SubmitRetryBackoffMinutes:    10,
		SubmitRetryMaxBackoffMinutes: 240,
		SubmitEscalateAfterMinutes:   720,
		SubmitEscalationLimit:        3,
		FailClosed:                   true,
	}
}

// PolicyOverride is a partial Policy: every field optional, applied onto
// the defaults by Resolve. A nil pointer field means "keep the default."
type PolicyOverride struct {
	MinBudgetNear                *float64 `mapstructure:"minBudgetNear" json:"minBudgetNear,omitempty"`
	MaxBudgetNear                *float64 `mapstructure:"maxBudgetNear" json:"maxBudgetNear,omitempty"`
	BidDiscountBps               *int     `mapstructure:"bidDiscountBps" json:"bidDiscountBps,omitempty"`
	MinBidNear                   *float64 `mapstructure:"minBidNear" json:"minBidNear,omitempty"`
	MaxBidNear                   *float64 `mapstructure:"maxBidNear" json:"maxBidNear,omitempty"`
	MaxExistingBids              *int     `mapstructure:"maxExistingBids" json:"maxExistingBids,omitempty"`
	MinMarginNear                *float64 `mapstructure:"minMarginNear" json:"minMarginNear,omitempty"`
	StalePendingBidMinutes       *float64 `mapstructure:"stalePendingBidMinutes" json:"stalePendingBidMinutes,omitempty"`
	SubmitRetryLimit             *int     `mapstructure:"submitRetryLimit" json:"submitRetryLimit,omitempty"`
	SubmitRetryBackoffMinutes    *float64 `mapstructure:"submitRetryBackoffMinutes" json:"submitRetryBackoffMinutes,omitempty"`
	SubmitRetryMaxBackoffMinutes *float64 `mapstructure:"submitRetryMaxBackoffMinutes" json:"submitRetryMaxBackoffMinutes,omitempty"`
	SubmitEscalateAfterMinutes   *float64 `mapstructure:"submitEscalateAfterMinutes" json:"submitEscalateAfterMinutes,omitempty"`
	SubmitEscalationLimit        *int     `mapstructure:"submitEscalationLimit" json:"submitEscalationLimit,omitempty"`
	FailClosed                   *bool    `mapstructure:"failClosed" json:"failClosed,omitempty"`
}

// Resolve merges partial onto the built-in defaults and validates every
// field's constraint, failing with a ConfigInvalid-kinded error if any
// constraint is violated.
func Resolve(partial PolicyOverride) (Policy, error) {
	p := defaultPolicy()

	if partial.MinBudgetNear != nil {
		p.MinBudgetNear = *partial.MinBudgetNear
	}
	if partial.MaxBudgetNear != nil {
		p.MaxBudgetNear = *partial.MaxBudgetNear
	}
	if partial.BidDiscountBps != nil {
		p.BidDiscountBps = *partial.BidDiscountBps
	}
	if partial.MinBidNear != nil {
		p.MinBidNear = *partial.MinBidNear
	}
	if partial.MaxBidNear != nil {
		p.MaxBidNear = *partial.MaxBidNear
	}
	if partial.MaxExistingBids != nil {
		p.MaxExistingBids = *partial.MaxExistingBids
	}
	if partial.MinMarginNear != nil {
		p.MinMarginNear = *partial.MinMarginNear
	}
	if partial.StalePendingBidMinutes != nil {
		p.StalePendingBidMinutes = *partial.StalePendingBidMinutes
	}
	if partial.SubmitRetryLimit != nil {
		p.SubmitRetryLimit = *partial.SubmitRetryLimit
	}
	if partial.SubmitRetryBackoffMinutes != nil {
		p.SubmitRetryBackoffMinutes = *partial.SubmitRetryBackoffMinutes
	}
	if partial.SubmitRetryMaxBackoffMinutes != nil {
		p.SubmitRetryMaxBackoffMinutes = *partial.SubmitRetryMaxBackoffMinutes
	}
	if partial.SubmitEscalateAfterMinutes != nil {
		p.SubmitEscalateAfterMinutes = *partial.SubmitEscalateAfterMinutes
	}
	if partial.SubmitEscalationLimit != nil {
		p.SubmitEscalationLimit = *partial.SubmitEscalationLimit
	}
	if partial.FailClosed != nil {
		p.FailClosed = *partial.FailClosed
	}

	if err := validatePolicy(p); err != nil {
		return Policy{}, errs.New(errs.ConfigInvalid, "config.Resolve", err)
	}
	return p, nil
}

func validatePolicy(p Policy) error {
	if p.MinBudgetNear <= 0 {
		return fmt.Errorf("policy.min_budget_near must be > 0")
	}
	if p.MaxBudgetNear < p.MinBudgetNear {
		return fmt.Errorf("policy.max_budget_near must be >= min_budget_near")
	}
	if p.BidDiscountBps < 1 || p.BidDiscountBps > 10000 {
		return fmt.Errorf("policy.bid_discount_bps must be in [1, 10000]")
	}
	if p.MinBidNear <= 0 {
		return fmt.Errorf("policy.min_bid_near must be > 0")
	}
	if p.MaxBidNear < p.MinBidNear {
		return fmt.Errorf("policy.max_bid_near must be >= min_bid_near")
	}
	if p.MaxExistingBids < 0 {
		return fmt.Errorf("policy.max_existing_bids must be >= 0")
	}
	if p.MinMarginNear < 0 {
		return fmt.Errorf("policy.min_margin_near must be >= 0")
	}
	if p.StalePendingBidMinutes <= 0 {
		return fmt.Errorf("policy.stale_pending_bid_minutes must be > 0")
	}
	if p.SubmitRetryLimit < 0 {
		return fmt.Errorf("policy.submit_retry_limit must be >= 0")
	}
	if p.SubmitRetryBackoffMinutes <= 0 {
		return fmt.Errorf("policy.submit_retry_backoff_minutes must be > 0")
	}
	if p.SubmitRetryMaxBackoffMinutes < p.SubmitRetryBackoffMinutes {
		return fmt.Errorf("policy.submit_retry_max_backoff_minutes must be >= submit_retry_backoff_minutes")
	}
	if p.SubmitEscalateAfterMinutes <= 0 {
		return fmt.Errorf("policy.submit_escalate_after_minutes must be > 0")
	}
	if p.SubmitEscalationLimit < 0 {
		return fmt.Errorf("policy.submit_escalation_limit must be >= 0")
	}
	return nil
}

// MarketConfig points the Market Client at the remote marketplace.
type MarketConfig struct {
	BaseURL    string      `mapstructure:"baseUrl"`
	APIKey     string      `mapstructure:"apiKey"`
	AuthHeader string      `mapstructure:"authHeader"`
	TimeoutMs  int         `mapstructure:"timeoutMs"`
	Retry      RetryConfig `mapstructure:"retry"`
}

// RetryConfig tunes the Market Client's retry policy.
type RetryConfig struct {
	Attempts  int `mapstructure:"attempts"`
	BackoffMs int `mapstructure:"backoffMs"`
}

// StateConfig selects and locates the state store driver.
type StateConfig struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
}

// HTTPConfig enables and configures the optional introspection surface.
// A blank Addr leaves it disabled; run/tick never listen.
type HTTPConfig struct {
	Addr           string   `mapstructure:"addr"`
	AllowedOrigins []string `mapstructure:"allowedOrigins"`
}

// LoggingConfig selects the structured logger's output shape.
type LoggingConfig struct {
	Format string `mapstructure:"format"` // "json" or "text"
	Level  string `mapstructure:"level"`  // "debug", "info", "warn", "error"
}

// Config is the top-level configuration, loaded from a JSON file.
type Config struct {
	AgentID          string         `mapstructure:"agentId"`
	Market           MarketConfig   `mapstructure:"market"`
	Policy           PolicyOverride `mapstructure:"policy"`
	State            StateConfig    `mapstructure:"state"`
	HTTP             HTTPConfig     `mapstructure:"http"`
	Logging          LoggingConfig  `mapstructure:"logging"`
	NearPriceUsd     float64        `mapstructure:"nearPriceUsd"`
	SubmitSigningKey string         `mapstructure:"submitSigningKey"`
	SubmitSignerID   string         `mapstructure:"submitSignerId"`
}

// Load reads config from a JSON file with env var overrides for the
// credential-bearing fields (market API key, submit signing key).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	v.SetEnvPrefix("NEARAUTOPILOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, errs.New(errs.ConfigInvalid, "config.Load", fmt.Errorf("read config: %w", err))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errs.New(errs.ConfigInvalid, "config.Load", fmt.Errorf("unmarshal config: %w", err))
	}

	if key := os.Getenv("NEARAUTOPILOT_MARKET_API_KEY"); key != "" {
		cfg.Market.APIKey = key
	}
	if key := os.Getenv("NEARAUTOPILOT_SUBMIT_SIGNING_KEY"); key != "" {
		cfg.SubmitSigningKey = key
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks all required fields, independent of Policy validation
// (which happens separately via Resolve).
func (c *Config) Validate() error {
	if c.AgentID == "" {
		return errs.New(errs.ConfigInvalid, "config.Validate", fmt.Errorf("agentId is required"))
	}
	if c.Market.BaseURL == "" {
		return errs.New(errs.ConfigInvalid, "config.Validate", fmt.Errorf("market.baseUrl is required"))
	}
	if c.Market.AuthHeader == "" {
		c.Market.AuthHeader = "authorization"
	}
	if c.Market.TimeoutMs <= 0 {
		c.Market.TimeoutMs = 10000
	}
	if c.Market.Retry.Attempts <= 0 {
		c.Market.Retry.Attempts = 3
	}
	if c.Market.Retry.BackoffMs <= 0 {
		c.Market.Retry.BackoffMs = 500
	}
	switch c.State.Driver {
	case "file", "sqlite":
	case "":
		return errs.New(errs.ConfigInvalid, "config.Validate", fmt.Errorf("state.driver is required (file or sqlite)"))
	default:
		return errs.New(errs.ConfigInvalid, "config.Validate", fmt.Errorf("state.driver must be 'file' or 'sqlite', got %q", c.State.Driver))
	}
	if c.State.Path == "" {
		return errs.New(errs.ConfigInvalid, "config.Validate", fmt.Errorf("state.path is required"))
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return errs.New(errs.ConfigInvalid, "config.Validate", fmt.Errorf("logging.format must be 'json' or 'text', got %q", c.Logging.Format))
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if _, err := Resolve(c.Policy); err != nil {
		return err
	}
	return nil
}
