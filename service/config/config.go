package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/bobbercheng/remit-demo-sub001/service/provider"
	"github.com/bobbercheng/remit-demo-sub001/service/remittance"
)

// Backend names for LOCK_BACKEND and COUNTER_BACKEND.
const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Dispatch modes for DISPATCH_MODE.
const (
	DispatchTemporal = "temporal"
	DispatchLocal    = "local"
)

// ProviderConfig configures one provider adapter. A provider with no URL is
// not registered.
type ProviderConfig struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr    string
	MetricsAddr   string
	LogLevel      string
	WebhookSecret string

	// Storage configuration
	DatabaseURL    string
	RedisURL       string
	LockBackend    string
	CounterBackend string

	// NATS configuration
	NATSURL string

	// Temporal configuration
	TemporalHost         string
	TemporalNamespace    string
	TemporalTaskQueue    string
	DispatchMode         string
	WorkerPoolSize       int
	TransferPollInterval time.Duration
	TransferMaxPolls     int

	// Limits, in source-currency minor units
	MinAmount         int64
	MaxAmount         int64
	DailyLimitPerUser int64

	// Retry of transient provider failures
	RetryMaxAttempts int
	RetryBaseBackoff time.Duration
	RetryMaxBackoff  time.Duration

	// Timing
	QuoteDefaultValidity time.Duration
	StaleAfter           time.Duration
	ReconcileGracePeriod time.Duration
	ReconcileMaxWindow   time.Duration
	ReconcileInterval    time.Duration
	ReconcileBatchSize   int
	LeaseTTL             time.Duration

	// Providers
	InstantPay          ProviderConfig
	CorrBank            ProviderConfig
	CorrBankRateRefresh time.Duration
	IntlTransfer        ProviderConfig
	IntlTransferProfile string
	Corridors           map[provider.Corridor]string
	BreakerFailures     int
	BreakerOpenTimeout  time.Duration
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.MetricsAddr = getEnvOrDefault("METRICS_ADDR", ":9091")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.WebhookSecret = os.Getenv("WEBHOOK_SECRET")

	// Storage configuration
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DATABASE_URL is required"))
	}
	cfg.RedisURL = os.Getenv("REDIS_URL")
	cfg.LockBackend = getEnvOrDefault("LOCK_BACKEND", BackendPostgres)
	cfg.CounterBackend = getEnvOrDefault("COUNTER_BACKEND", BackendPostgres)
	for key, v := range map[string]string{"LOCK_BACKEND": cfg.LockBackend, "COUNTER_BACKEND": cfg.CounterBackend} {
		switch v {
		case BackendPostgres:
		case BackendRedis:
			if cfg.RedisURL == "" {
				errs = append(errs, fmt.Errorf("%s=redis requires REDIS_URL", key))
			}
		default:
			errs = append(errs, fmt.Errorf("%s must be postgres or redis, got %q", key, v))
		}
	}

	// NATS configuration
	cfg.NATSURL = getEnvOrDefault("NATS_URL", "nats://localhost:4222")

	// Temporal configuration
	cfg.TemporalHost = getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "remit-transfers")
	cfg.DispatchMode = getEnvOrDefault("DISPATCH_MODE", DispatchTemporal)
	if cfg.DispatchMode != DispatchTemporal && cfg.DispatchMode != DispatchLocal {
		errs = append(errs, fmt.Errorf("DISPATCH_MODE must be temporal or local, got %q", cfg.DispatchMode))
	}
	cfg.WorkerPoolSize = intVar(&errs, "WORKER_POOL_SIZE", 8)
	cfg.TransferPollInterval = durationVar(&errs, "TRANSFER_POLL_INTERVAL", "30s")
	cfg.TransferMaxPolls = intVar(&errs, "TRANSFER_MAX_POLLS", 20)

	// Limits
	cfg.MinAmount = int64Var(&errs, "MIN_AMOUNT", 100)
	cfg.MaxAmount = int64Var(&errs, "MAX_AMOUNT", 100_000_000)
	cfg.DailyLimitPerUser = int64Var(&errs, "DAILY_LIMIT_PER_USER", 2_000_000)

	// Retry
	cfg.RetryMaxAttempts = intVar(&errs, "RETRY_MAX_ATTEMPTS", 3)
	cfg.RetryBaseBackoff = durationVar(&errs, "RETRY_BASE_BACKOFF", "1s")
	cfg.RetryMaxBackoff = durationVar(&errs, "RETRY_MAX_BACKOFF", "30s")

	// Timing
	cfg.QuoteDefaultValidity = durationVar(&errs, "QUOTE_DEFAULT_VALIDITY", "30s")
	cfg.StaleAfter = durationVar(&errs, "STALE_AFTER", "10m")
	cfg.ReconcileGracePeriod = durationVar(&errs, "RECONCILE_GRACE_PERIOD", "2m")
	cfg.ReconcileMaxWindow = durationVar(&errs, "RECONCILE_MAX_WINDOW", "24h")
	cfg.ReconcileInterval = durationVar(&errs, "RECONCILE_INTERVAL", "1m")
	cfg.ReconcileBatchSize = intVar(&errs, "RECONCILE_BATCH_SIZE", 100)
	cfg.LeaseTTL = durationVar(&errs, "LEASE_TTL", "5m")

	// Providers
	cfg.InstantPay = loadProvider(&errs, "INSTANTPAY", "10s")
	cfg.CorrBank = loadProvider(&errs, "CORRBANK", "30s")
	cfg.CorrBankRateRefresh = durationVar(&errs, "CORRBANK_RATE_REFRESH", "5m")
	cfg.IntlTransfer = loadProvider(&errs, "INTLTRANSFER", "20s")
	cfg.IntlTransferProfile = os.Getenv("INTLTRANSFER_PROFILE_ID")
	if cfg.IntlTransfer.URL != "" && cfg.IntlTransferProfile == "" {
		errs = append(errs, fmt.Errorf("INTLTRANSFER_PROFILE_ID is required when INTLTRANSFER_URL is set"))
	}
	cfg.BreakerFailures = intVar(&errs, "BREAKER_FAILURES", 5)
	cfg.BreakerOpenTimeout = durationVar(&errs, "BREAKER_OPEN_TIMEOUT", "30s")

	corridors, err := provider.ParseCorridors(getEnvOrDefault("CORRIDORS", "USD:INR=instantpay"))
	if err != nil {
		errs = append(errs, fmt.Errorf("CORRIDORS: %w", err))
	} else {
		cfg.Corridors = corridors
	}

	if len(errs) == 0 {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	// Return all validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DatabaseURL is required"))
	}

	if c.TemporalHost == "" {
		errs = append(errs, fmt.Errorf("TemporalHost is required"))
	}

	if c.TemporalTaskQueue == "" {
		errs = append(errs, fmt.Errorf("TemporalTaskQueue is required"))
	}

	if c.WorkerPoolSize < 1 {
		errs = append(errs, fmt.Errorf("WorkerPoolSize must be at least 1"))
	}

	if c.TransferPollInterval < time.Second {
		errs = append(errs, fmt.Errorf("TransferPollInterval must be at least 1 second"))
	}

	if c.ReconcileGracePeriod > c.ReconcileMaxWindow {
		errs = append(errs, fmt.Errorf("ReconcileGracePeriod cannot be greater than ReconcileMaxWindow"))
	}

	// Every routed provider must be configured.
	configured := c.Providers()
	for corridor, name := range c.Corridors {
		if _, ok := configured[name]; !ok {
			errs = append(errs, fmt.Errorf("corridor %s routes to %s, which has no URL configured", corridor, name))
		}
	}

	if err := c.Core().Validate(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// Providers returns the configured providers keyed by adapter name.
func (c *Config) Providers() map[string]ProviderConfig {
	out := make(map[string]ProviderConfig)
	for name, pc := range map[string]ProviderConfig{
		provider.InstantPayment:        c.InstantPay,
		provider.CorrespondentBank:     c.CorrBank,
		provider.InternationalTransfer: c.IntlTransfer,
	} {
		if pc.URL != "" {
			out[name] = pc
		}
	}
	return out
}

// Core converts the loaded configuration into the orchestration core's config.
func (c *Config) Core() remittance.Config {
	timeouts := make(map[string]time.Duration)
	for name, pc := range c.Providers() {
		timeouts[name] = pc.Timeout
	}
	return remittance.Config{
		MinAmount:         c.MinAmount,
		MaxAmount:         c.MaxAmount,
		DailyLimitPerUser: c.DailyLimitPerUser,
		ProviderTimeouts:  timeouts,
		Retry: remittance.RetryConfig{
			MaxAttempts: c.RetryMaxAttempts,
			BaseBackoff: c.RetryBaseBackoff,
			MaxBackoff:  c.RetryMaxBackoff,
		},
		QuoteDefaultValidity: c.QuoteDefaultValidity,
		StaleAfter:           c.StaleAfter,
		ReconcileGracePeriod: c.ReconcileGracePeriod,
		ReconcileMaxWindow:   c.ReconcileMaxWindow,
		LeaseTTL:             c.LeaseTTL,
	}
}

func loadProvider(errs *[]error, prefix, defaultTimeout string) ProviderConfig {
	pc := ProviderConfig{
		URL:    os.Getenv(prefix + "_URL"),
		APIKey: os.Getenv(prefix + "_API_KEY"),
	}
	pc.Timeout = durationVar(errs, prefix+"_TIMEOUT", defaultTimeout)
	return pc
}

func durationVar(errs *[]error, key, defaultValue string) time.Duration {
	v, err := parseDuration(key, defaultValue)
	if err != nil {
		*errs = append(*errs, err)
	}
	return v
}

func intVar(errs *[]error, key string, defaultValue int) int {
	v, err := parseInt(key, defaultValue)
	if err != nil {
		*errs = append(*errs, err)
	}
	return v
}

func int64Var(errs *[]error, key string, defaultValue int64) int64 {
	v, err := parseInt64(key, defaultValue)
	if err != nil {
		*errs = append(*errs, err)
	}
	return v
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}

// parseInt64 parses a 64-bit integer from an environment variable or uses a default.
func parseInt64(key string, defaultValue int64) (int64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}
