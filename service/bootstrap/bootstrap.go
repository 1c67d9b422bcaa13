// Package bootstrap assembles the orchestration core from loaded configuration.
// The server, the worker and the CLI share it so they wire providers and
// storage the same way.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/bobbercheng/remit-demo-sub001/service/config"
	"github.com/bobbercheng/remit-demo-sub001/service/db"
	"github.com/bobbercheng/remit-demo-sub001/service/metrics"
	natspkg "github.com/bobbercheng/remit-demo-sub001/service/nats"
	"github.com/bobbercheng/remit-demo-sub001/service/provider"
	"github.com/bobbercheng/remit-demo-sub001/service/provider/corrbank"
	"github.com/bobbercheng/remit-demo-sub001/service/provider/instantpay"
	"github.com/bobbercheng/remit-demo-sub001/service/provider/intltransfer"
	"github.com/bobbercheng/remit-demo-sub001/service/redisstore"
	"github.com/bobbercheng/remit-demo-sub001/service/remittance"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// NewRouter registers every configured provider behind a Guard and applies
// the corridor table.
func NewRouter(cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) (*provider.Router, error) {
	router := provider.NewRouter()

	configured := cfg.Providers()
	names := make([]string, 0, len(configured))
	for name := range configured {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		pc := configured[name]
		var adapter provider.Adapter
		switch name {
		case provider.InstantPayment:
			adapter = instantpay.New(instantpay.Config{BaseURL: pc.URL, APIKey: pc.APIKey}, logger)
		case provider.CorrespondentBank:
			adapter = corrbank.New(corrbank.Config{BaseURL: pc.URL, APIKey: pc.APIKey, RateRefresh: cfg.CorrBankRateRefresh}, logger)
		case provider.InternationalTransfer:
			adapter = intltransfer.New(intltransfer.Config{BaseURL: pc.URL, APIKey: pc.APIKey, ProfileID: cfg.IntlTransferProfile}, logger)
		default:
			return nil, fmt.Errorf("unknown provider %q", name)
		}

		router.Register(provider.NewGuard(adapter, provider.GuardConfig{
			Timeout:             pc.Timeout,
			ConsecutiveFailures: uint32(cfg.BreakerFailures),
			OpenTimeout:         cfg.BreakerOpenTimeout,
		}, m, logger))
		logger.Info("registered provider", "provider", name, "url", pc.URL, "timeout", pc.Timeout)
	}

	for corridor, name := range cfg.Corridors {
		router.Route(corridor, name)
	}

	return router, nil
}

// Backends picks the counter store and the locker named by COUNTER_BACKEND and
// LOCK_BACKEND. The returned close function releases the Redis connection if
// one was opened.
func Backends(cfg *config.Config, store *db.Store) (remittance.CounterStore, remittance.Locker, func() error, error) {
	var counters remittance.CounterStore = store
	var locker remittance.Locker = store
	closeFn := func() error { return nil }

	if cfg.CounterBackend != config.BackendRedis && cfg.LockBackend != config.BackendRedis {
		return counters, locker, closeFn, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opts)

	if cfg.CounterBackend == config.BackendRedis {
		counters = redisstore.NewCounters(rdb)
	}
	if cfg.LockBackend == config.BackendRedis {
		locker = redisstore.NewLocker(rdb)
	}
	return counters, locker, rdb.Close, nil
}

// Core is a fully wired orchestrator and the resources behind it.
type Core struct {
	Orchestrator *remittance.Orchestrator
	Store        *db.Store
	Router       *provider.Router

	closers []func() error
}

// Close releases every resource opened by New, in reverse order.
func (c *Core) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}

// New connects to Postgres, picks the counter and lock backends, builds the
// provider router and returns the orchestrator. The publisher may be nil.
func New(ctx context.Context, cfg *config.Config, publisher natspkg.Publisher, m *metrics.Metrics, logger *slog.Logger) (*Core, error) {
	core := &Core{}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	core.closers = append(core.closers, func() error { pool.Close(); return nil })

	if err := pool.Ping(ctx); err != nil {
		core.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	logger.Info("connected to database")

	core.Store = db.NewStore(pool).WithMetrics(m)

	counters, locker, closeRedis, err := Backends(cfg, core.Store)
	if err != nil {
		core.Close()
		return nil, err
	}
	core.closers = append(core.closers, closeRedis)
	logger.Info("storage backends selected",
		"counters", cfg.CounterBackend,
		"locks", cfg.LockBackend,
	)

	core.Router, err = NewRouter(cfg, m, logger)
	if err != nil {
		core.Close()
		return nil, err
	}

	opts := []remittance.Option{
		remittance.WithMetrics(m),
		remittance.WithLogger(logger),
	}
	if publisher != nil {
		opts = append(opts, remittance.WithPublisher(publisher))
	}

	core.Orchestrator, err = remittance.NewOrchestrator(cfg.Core(), core.Store, counters, core.Router, locker, opts...)
	if err != nil {
		core.Close()
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}

	return core, nil
}
