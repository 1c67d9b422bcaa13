package bootstrap

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bobbercheng/remit-demo-sub001/service/config"
	"github.com/bobbercheng/remit-demo-sub001/service/db"
	"github.com/bobbercheng/remit-demo-sub001/service/provider"
	"github.com/bobbercheng/remit-demo-sub001/service/redisstore"
	"github.com/bobbercheng/remit-demo-sub001/service/remittance"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewRouter(t *testing.T) {
	cfg := &config.Config{
		InstantPay:          config.ProviderConfig{URL: "https://instantpay.example", Timeout: 5 * time.Second},
		IntlTransfer:        config.ProviderConfig{URL: "https://intl.example", Timeout: 5 * time.Second},
		IntlTransferProfile: "profile-1",
		Corridors: map[provider.Corridor]string{
			{Source: "USD", Destination: "INR"}: provider.InstantPayment,
			{Source: "GBP", Destination: "INR"}: provider.InternationalTransfer,
		},
	}

	router, err := NewRouter(cfg, nil, discardLogger())
	require.NoError(t, err)

	assert.Equal(t, []string{provider.InstantPayment, provider.InternationalTransfer}, router.Providers())

	name, err := router.Select("gbp", "inr")
	require.NoError(t, err)
	assert.Equal(t, provider.InternationalTransfer, name)

	adapter, err := router.Adapter(provider.InstantPayment)
	require.NoError(t, err)
	_, guarded := adapter.(*provider.Guard)
	assert.True(t, guarded, "adapters are registered behind a guard")

	_, err = router.Select("USD", "EUR")
	assert.ErrorIs(t, err, provider.ErrNoProviderForCorridor)
}

func TestBackends_Postgres(t *testing.T) {
	store := db.NewStore(nil)
	cfg := &config.Config{CounterBackend: config.BackendPostgres, LockBackend: config.BackendPostgres}

	counters, locker, closeFn, err := Backends(cfg, store)
	require.NoError(t, err)
	defer closeFn()

	assert.Same(t, store, counters)
	assert.Same(t, store, locker)
}

func TestBackends_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	store := db.NewStore(nil)

	tests := []struct {
		name          string
		counters      string
		locks         string
		redisCounters bool
		redisLocks    bool
	}{
		{"both redis", config.BackendRedis, config.BackendRedis, true, true},
		{"redis counters only", config.BackendRedis, config.BackendPostgres, true, false},
		{"redis locks only", config.BackendPostgres, config.BackendRedis, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{
				RedisURL:       "redis://" + mr.Addr() + "/0",
				CounterBackend: tt.counters,
				LockBackend:    tt.locks,
			}

			counters, locker, closeFn, err := Backends(cfg, store)
			require.NoError(t, err)
			defer closeFn()

			_, isRedisCounters := counters.(*redisstore.Counters)
			assert.Equal(t, tt.redisCounters, isRedisCounters)
			_, isRedisLocker := locker.(*redisstore.Locker)
			assert.Equal(t, tt.redisLocks, isRedisLocker)
		})
	}
}

func TestBackends_RedisRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := &config.Config{
		RedisURL:       "redis://" + mr.Addr() + "/0",
		CounterBackend: config.BackendRedis,
		LockBackend:    config.BackendRedis,
	}

	counters, locker, closeFn, err := Backends(cfg, db.NewStore(nil))
	require.NoError(t, err)
	defer closeFn()

	ctx := context.Background()
	ok, err := counters.Reserve(ctx, remittance.Reservation{TransactionID: "tx-1", UserID: "u", Day: "2026-10-17", Amount: 500}, 1000)
	require.NoError(t, err)
	assert.True(t, ok)

	used, err := counters.Usage(ctx, "u", "2026-10-17")
	require.NoError(t, err)
	assert.Equal(t, int64(500), used)

	lease, acquired, err := locker.TryAcquire(ctx, "tx-1", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)
	require.NoError(t, lease.Release(ctx))
}

func TestBackends_InvalidRedisURL(t *testing.T) {
	cfg := &config.Config{RedisURL: "not a url", CounterBackend: config.BackendRedis, LockBackend: config.BackendPostgres}

	_, _, _, err := Backends(cfg, db.NewStore(nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid REDIS_URL")
}
