package corrbank

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bobbercheng/remit-demo-sub001/service/provider"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuote_CachesRate(t *testing.T) {
	var rateCalls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/rates", r.URL.Path)
		assert.Equal(t, "INR", r.URL.Query().Get("from"))
		assert.Equal(t, "USD", r.URL.Query().Get("to"))
		rateCalls.Add(1)
		json.NewEncoder(w).Encode(map[string]any{"rate_id": "r-1", "rate": "0.012"})
	}))
	defer server.Close()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := New(Config{
		BaseURL:     server.URL,
		RateRefresh: time.Minute,
		Fee:         provider.FeeSchedule{Percent: decimal.RequireFromString("0.5"), Min: 1000},
	}, nil)
	a.now = func() time.Time { return now }

	req := provider.QuoteRequest{SourceAmount: 1_000_000, SourceCurrency: "INR", DestinationCurrency: "USD"}

	q1, err := a.Quote(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, q1.ExchangeRate.Equal(decimal.RequireFromString("0.012")))
	assert.Equal(t, int64(5000), q1.Fee)
	assert.Equal(t, "r-1", q1.ProviderQuoteRef)
	assert.True(t, q1.ExpiresAt.Equal(now.Add(time.Minute)))

	_, err = a.Quote(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int32(1), rateCalls.Load(), "second quote should hit the cache")

	now = now.Add(2 * time.Minute)
	_, err = a.Quote(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int32(2), rateCalls.Load(), "expired cache entry should be refreshed")
}

func TestQuote_UnknownPairIsUnsupported(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	a := New(Config{BaseURL: server.URL}, nil)
	_, err := a.Quote(context.Background(), provider.QuoteRequest{SourceAmount: 1, SourceCurrency: "INR", DestinationCurrency: "XAF"})
	assert.ErrorIs(t, err, provider.ErrUnsupportedCorridor)
}

func TestExecuteTransfer_DuplicateReferenceReturnsOriginal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/remittances":
			var body remittanceRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "idem-9", body.ClientReference)
			w.WriteHeader(http.StatusConflict)
			json.NewEncoder(w).Encode(map[string]string{"code": "duplicate_reference", "message": "already booked"})
		case r.Method == http.MethodGet && r.URL.Path == "/api/remittances/by-reference/idem-9":
			json.NewEncoder(w).Encode(remittanceResponse{RemittanceID: "rem-42", Status: "PROCESSING"})
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer server.Close()

	a := New(Config{BaseURL: server.URL}, nil)
	ref, err := a.ExecuteTransfer(context.Background(), provider.TransferRequest{
		QuoteRef:            "r-1",
		SourceAmount:        1000,
		SourceCurrency:      "INR",
		DestinationCurrency: "USD",
		IdempotencyKey:      "idem-9",
	})
	require.NoError(t, err)
	assert.Equal(t, "rem-42", ref)
}

func TestGetTransferStatus(t *testing.T) {
	statuses := map[string]provider.TransferStatus{
		"CREDITED":   provider.Settled(),
		"PROCESSING": provider.Pending(),
		"RETURNED":   provider.Failed("returned"),
	}
	for bankStatus, want := range statuses {
		t.Run(bankStatus, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(remittanceResponse{RemittanceID: "rem-1", Status: bankStatus})
			}))
			defer server.Close()

			a := New(Config{BaseURL: server.URL}, nil)
			got, err := a.GetTransferStatus(context.Background(), "rem-1")
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}
