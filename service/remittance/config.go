package remittance

import (
	"fmt"
	"time"
)

// RetryConfig bounds retries of transient provider failures.
type RetryConfig struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// Config is everything the core needs, handed in at construction time.
// All amounts are minor units.
type Config struct {
	MinAmount         int64
	MaxAmount         int64
	DailyLimitPerUser int64

	// ProviderTimeouts bounds every call to the named provider.
	ProviderTimeouts map[string]time.Duration

	Retry RetryConfig

	// QuoteDefaultValidity applies when a provider quote carries no expiry.
	QuoteDefaultValidity time.Duration

	// StaleAfter is how long a non-terminal transaction may sit untouched before
	// the recovery sweep picks it up.
	StaleAfter time.Duration

	// ReconcileGracePeriod delays reconciliation of a freshly ambiguous transfer.
	ReconcileGracePeriod time.Duration

	// ReconcileMaxWindow is how long reconciliation may stay inconclusive before
	// it is escalated as an alert.
	ReconcileMaxWindow time.Duration

	// LeaseTTL bounds a per-transaction processing lease. It must exceed the
	// longest chain of provider calls made under one lease.
	LeaseTTL time.Duration
}

// DefaultConfig returns conservative defaults.
func DefaultConfig() Config {
	return Config{
		MinAmount:         100,
		MaxAmount:         100_000_000,
		DailyLimitPerUser: 2_000_000,
		ProviderTimeouts:  map[string]time.Duration{},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseBackoff: time.Second,
			MaxBackoff:  30 * time.Second,
		},
		QuoteDefaultValidity: 30 * time.Second,
		StaleAfter:           10 * time.Minute,
		ReconcileGracePeriod: 2 * time.Minute,
		ReconcileMaxWindow:   24 * time.Hour,
		LeaseTTL:             5 * time.Minute,
	}
}

// Validate checks the configuration for internal consistency.
func (c Config) Validate() error {
	var errs []error

	if c.MinAmount <= 0 {
		errs = append(errs, fmt.Errorf("MinAmount must be positive"))
	}
	if c.MaxAmount < c.MinAmount {
		errs = append(errs, fmt.Errorf("MaxAmount (%d) cannot be less than MinAmount (%d)", c.MaxAmount, c.MinAmount))
	}
	if c.DailyLimitPerUser < c.MinAmount {
		errs = append(errs, fmt.Errorf("DailyLimitPerUser (%d) cannot be less than MinAmount (%d)", c.DailyLimitPerUser, c.MinAmount))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("Retry.MaxAttempts must be at least 1"))
	}
	if c.Retry.BaseBackoff < 0 || c.Retry.MaxBackoff < c.Retry.BaseBackoff {
		errs = append(errs, fmt.Errorf("Retry backoff must satisfy 0 <= BaseBackoff <= MaxBackoff"))
	}
	if c.QuoteDefaultValidity <= 0 {
		errs = append(errs, fmt.Errorf("QuoteDefaultValidity must be positive"))
	}
	if c.LeaseTTL <= 0 {
		errs = append(errs, fmt.Errorf("LeaseTTL must be positive"))
	}
	for name, d := range c.ProviderTimeouts {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("provider timeout for %s must be positive", name))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("core configuration invalid: %v", errs)
	}
	return nil
}
