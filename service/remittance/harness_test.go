package remittance_test

import (
	"sync"
	"testing"
	"time"

	"github.com/bobbercheng/remit-demo-sub001/service/memstore"
	"github.com/bobbercheng/remit-demo-sub001/service/nats"
	"github.com/bobbercheng/remit-demo-sub001/service/provider"
	"github.com/bobbercheng/remit-demo-sub001/service/provider/providertest"
	"github.com/bobbercheng/remit-demo-sub001/service/remittance"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type harness struct {
	orch   *remittance.Orchestrator
	store  *memstore.Store
	fake   *providertest.Fake
	pub    *nats.MockPublisher
	clock  *clock
	config remittance.Config
}

func testConfig() remittance.Config {
	cfg := remittance.DefaultConfig()
	cfg.MinAmount = 100
	cfg.MaxAmount = 1_000_000
	cfg.DailyLimitPerUser = 1000
	cfg.Retry = remittance.RetryConfig{
		MaxAttempts: 3,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  2 * time.Millisecond,
	}
	return cfg
}

func newHarness(t *testing.T, mutate ...func(*remittance.Config)) *harness {
	t.Helper()

	cfg := testConfig()
	for _, m := range mutate {
		m(&cfg)
	}

	clk := newClock()
	store := memstore.New().WithClock(clk.Now)

	fake := providertest.NewFake("fake")
	fake.Rate = decimal.NewFromInt(83)
	fake.Now = clk.Now

	router := provider.NewRouter()
	router.Register(fake)
	router.Route(provider.Corridor{Source: "USD", Destination: "INR"}, "fake")

	pub := nats.NewMockPublisher()
	orch, err := remittance.NewOrchestrator(cfg, store, store, router, store,
		remittance.WithClock(clk.Now),
		remittance.WithPublisher(pub),
	)
	require.NoError(t, err)

	return &harness{orch: orch, store: store, fake: fake, pub: pub, clock: clk, config: cfg}
}

func request(key string, amount int64) remittance.SubmitRequest {
	return remittance.SubmitRequest{
		IdempotencyKey: key,
		SenderID:       "user-1",
		RecipientID:    "recipient-1",
		Recipient: remittance.Recipient{
			Name:          "Asha Rao",
			AccountNumber: "001122334455",
			BankCode:      "HDFC0001234",
		},
		SourceAmount:        amount,
		SourceCurrency:      "USD",
		DestinationCurrency: "INR",
	}
}

func (h *harness) usage(t *testing.T) int64 {
	t.Helper()
	used, err := h.store.Usage(t.Context(), "user-1", remittance.Day(h.clock.Now()))
	require.NoError(t, err)
	return used
}

func (h *harness) submit(t *testing.T, key string, amount int64) string {
	t.Helper()
	res, err := h.orch.Submit(t.Context(), request(key, amount))
	require.NoError(t, err)
	require.Equal(t, remittance.StatusLimitChecked, res.Status)
	return res.TransactionID
}
