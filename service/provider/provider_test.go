package provider_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bobbercheng/remit-demo-sub001/service/provider"
	"github.com/bobbercheng/remit-demo-sub001/service/provider/providertest"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCorridors(t *testing.T) {
	routes, err := provider.ParseCorridors("inr:inr=instantpay, INR:USD=corrbank,INR:CAD=intltransfer")
	require.NoError(t, err)

	assert.Equal(t, map[provider.Corridor]string{
		{Source: "INR", Destination: "INR"}: "instantpay",
		{Source: "INR", Destination: "USD"}: "corrbank",
		{Source: "INR", Destination: "CAD"}: "intltransfer",
	}, routes)
}

func TestParseCorridors_Invalid(t *testing.T) {
	for _, list := range []string{"INR-USD=corrbank", "INR:USD", "INR:USD=", "INRX:USD=a", "INR:USD=a,INR:USD=b"} {
		_, err := provider.ParseCorridors(list)
		assert.Error(t, err, list)
	}
}

func TestRouter_Select(t *testing.T) {
	r := provider.NewRouter()
	r.Register(providertest.NewFake("corrbank"))
	r.Route(provider.Corridor{Source: "INR", Destination: "USD"}, "corrbank")
	r.Route(provider.Corridor{Source: "INR", Destination: "EUR"}, "missing")

	name, err := r.Select("inr", "usd")
	require.NoError(t, err)
	assert.Equal(t, "corrbank", name)

	_, err = r.Select("INR", "GBP")
	assert.ErrorIs(t, err, provider.ErrNoProviderForCorridor)

	_, err = r.Select("INR", "EUR")
	assert.ErrorIs(t, err, provider.ErrNoProviderForCorridor)

	assert.Equal(t, []string{"corrbank"}, r.Providers())
}

func TestFeeSchedule(t *testing.T) {
	f := provider.FeeSchedule{Fixed: 100, Percent: decimal.RequireFromString("1.5"), Min: 500, Max: 10_000}

	assert.Equal(t, int64(500), f.Compute(1_000), "clamped to min")
	assert.Equal(t, int64(100+1_500), f.Compute(100_000))
	assert.Equal(t, int64(10_000), f.Compute(10_000_000), "clamped to max")
}

func TestMoneyConversions(t *testing.T) {
	major, err := provider.ToMajor(12345, "USD")
	require.NoError(t, err)
	assert.True(t, major.Equal(decimal.RequireFromString("123.45")))

	minor, err := provider.ToMinor(decimal.RequireFromString("1.005"), "JPY")
	require.NoError(t, err)
	assert.Equal(t, int64(1), minor)

	// 1,000.00 INR at 0.012 -> 12.00 USD
	dest, err := provider.Convert(100_000, "INR", "USD", decimal.RequireFromString("0.012"))
	require.NoError(t, err)
	assert.Equal(t, int64(1_200), dest)

	_, err = provider.ToMajor(1, "ZZZ")
	assert.Error(t, err)
	assert.False(t, provider.ValidCurrency("ZZZ"))
	assert.True(t, provider.ValidCurrency("inr"))
}

type slowAdapter struct {
	*providertest.Fake
}

func (s slowAdapter) ExecuteTransfer(ctx context.Context, req provider.TransferRequest) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestGuard_TimeoutIsAmbiguous(t *testing.T) {
	g := provider.NewGuard(slowAdapter{providertest.NewFake("slow")}, provider.GuardConfig{Timeout: 20 * time.Millisecond}, nil, nil)

	_, err := g.ExecuteTransfer(context.Background(), provider.TransferRequest{IdempotencyKey: "k"})
	require.Error(t, err)
	assert.ErrorIs(t, err, provider.ErrProviderTimeout)
}

func TestGuard_BreakerOpensOnUnavailability(t *testing.T) {
	fake := providertest.NewFake("flaky")
	fake.FailQuotes(provider.ErrProviderUnavailable, provider.ErrProviderUnavailable)
	g := provider.NewGuard(fake, provider.GuardConfig{ConsecutiveFailures: 2, OpenTimeout: time.Hour}, nil, nil)

	for i := 0; i < 2; i++ {
		_, err := g.Quote(context.Background(), provider.QuoteRequest{SourceAmount: 1, SourceCurrency: "INR", DestinationCurrency: "INR"})
		require.ErrorIs(t, err, provider.ErrProviderUnavailable)
	}
	assert.Equal(t, gobreaker.StateOpen, g.State())

	_, err := g.Quote(context.Background(), provider.QuoteRequest{SourceAmount: 1, SourceCurrency: "INR", DestinationCurrency: "INR"})
	assert.ErrorIs(t, err, provider.ErrProviderUnavailable)
	assert.Equal(t, 2, fake.QuoteCalls, "open breaker must not reach the adapter")
}

func TestGuard_OpenBreakerOnExecuteIsNotSent(t *testing.T) {
	fake := providertest.NewFake("flaky")
	fake.FailExecutes(provider.ErrProviderUnavailable, provider.ErrProviderUnavailable)
	g := provider.NewGuard(fake, provider.GuardConfig{ConsecutiveFailures: 2, OpenTimeout: time.Hour}, nil, nil)

	for i := 0; i < 2; i++ {
		_, err := g.ExecuteTransfer(context.Background(), provider.TransferRequest{IdempotencyKey: "k"})
		require.ErrorIs(t, err, provider.ErrProviderUnavailable)
		assert.False(t, provider.NotSent(err), "adapter failures may have reached the rail")
	}
	require.Equal(t, gobreaker.StateOpen, g.State())

	_, err := g.ExecuteTransfer(context.Background(), provider.TransferRequest{IdempotencyKey: "k"})
	require.Error(t, err)
	assert.ErrorIs(t, err, provider.ErrCircuitOpen)
	assert.True(t, provider.NotSent(err))
	assert.Equal(t, 2, fake.ExecuteCalls)
}

func TestGuard_RejectionsDoNotTripBreaker(t *testing.T) {
	fake := providertest.NewFake("strict")
	rejected := &provider.RejectedError{Provider: "strict", Message: "no"}
	fake.FailExecutes(rejected, rejected, rejected)
	g := provider.NewGuard(fake, provider.GuardConfig{ConsecutiveFailures: 2}, nil, nil)

	for i := 0; i < 3; i++ {
		_, err := g.ExecuteTransfer(context.Background(), provider.TransferRequest{IdempotencyKey: "k"})
		require.ErrorIs(t, err, provider.ErrProviderRejected)
	}
	assert.Equal(t, gobreaker.StateClosed, g.State())
}

func TestHTTPClient_ErrorMapping(t *testing.T) {
	tests := []struct {
		status int
		body   string
		want   error
	}{
		{http.StatusServiceUnavailable, `{"error":"down"}`, provider.ErrProviderUnavailable},
		{http.StatusTooManyRequests, ``, provider.ErrProviderUnavailable},
		{http.StatusGatewayTimeout, ``, provider.ErrProviderTimeout},
		{http.StatusBadRequest, `{"code":"bad_account","message":"nope"}`, provider.ErrProviderRejected},
		{http.StatusUnprocessableEntity, `{"code":"unsupported_corridor"}`, provider.ErrUnsupportedCorridor},
		{http.StatusNotFound, ``, provider.ErrUnknownReference},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			c := provider.NewHTTPClient("test", server.URL, nil, nil, nil)
			err := c.Do(context.Background(), http.MethodGet, "/x", nil, nil, nil)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, provider.IsRetryable(provider.ErrProviderUnavailable))
	assert.True(t, provider.IsRetryable(provider.ErrProviderTimeout))
	assert.False(t, provider.IsRetryable(provider.ErrProviderRejected))
	assert.False(t, provider.IsRetryable(provider.ErrUnsupportedCorridor))
}
