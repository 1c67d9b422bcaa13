package instantpay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bobbercheng/remit-demo-sub001/service/provider"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuote_DomesticOnly(t *testing.T) {
	a := New(Config{BaseURL: "http://unused"}, nil)

	_, err := a.Quote(context.Background(), provider.QuoteRequest{
		SourceAmount: 10000, SourceCurrency: "INR", DestinationCurrency: "USD",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, provider.ErrUnsupportedCorridor)
}

func TestQuote_UsesGatewayValidity(t *testing.T) {
	validUntil := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/quotes", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]any{
			"quote_id":    "q-1",
			"valid_until": validUntil,
		})
	}))
	defer server.Close()

	a := New(Config{
		BaseURL: server.URL,
		APIKey:  "key",
		Fee:     provider.FeeSchedule{Fixed: 500},
	}, nil)

	q, err := a.Quote(context.Background(), provider.QuoteRequest{
		SourceAmount: 10000, SourceCurrency: "INR", DestinationCurrency: "INR",
	})
	require.NoError(t, err)
	assert.True(t, q.ExchangeRate.Equal(decimal.NewFromInt(1)))
	assert.Equal(t, int64(500), q.Fee)
	assert.Equal(t, "q-1", q.ProviderQuoteRef)
	assert.True(t, q.ExpiresAt.Equal(validUntil))
}

func TestExecuteTransfer_SendsIdempotencyKey(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "idem-1", r.Header.Get("Idempotency-Key"))

		var body paymentRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "q-1", body.QuoteID)
		assert.Equal(t, "HDFC0001", body.Payee.IFSC)

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(paymentResponse{PaymentID: "pay-1", Status: "PENDING"})
	}))
	defer server.Close()

	a := New(Config{BaseURL: server.URL}, nil)
	ref, err := a.ExecuteTransfer(context.Background(), provider.TransferRequest{
		QuoteRef:       "q-1",
		SourceAmount:   10000,
		SourceCurrency: "INR",
		Recipient:      provider.Party{Name: "R", AccountNumber: "123", BankCode: "HDFC0001"},
		IdempotencyKey: "idem-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "pay-1", ref)
}

func TestExecuteTransfer_Rejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]string{"code": "invalid_account", "message": "payee account closed"})
	}))
	defer server.Close()

	a := New(Config{BaseURL: server.URL}, nil)
	_, err := a.ExecuteTransfer(context.Background(), provider.TransferRequest{IdempotencyKey: "k"})
	require.Error(t, err)
	assert.ErrorIs(t, err, provider.ErrProviderRejected)

	var rejected *provider.RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, "invalid_account", rejected.Code)
}

func TestExecuteTransfer_ServerErrorIsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	a := New(Config{BaseURL: server.URL}, nil)
	_, err := a.ExecuteTransfer(context.Background(), provider.TransferRequest{IdempotencyKey: "k"})
	assert.ErrorIs(t, err, provider.ErrProviderUnavailable)
}

func TestGetTransferStatus(t *testing.T) {
	tests := []struct {
		status string
		reason string
		want   provider.TransferStatus
	}{
		{"SUCCESS", "", provider.Settled()},
		{"PENDING", "", provider.Pending()},
		{"FAILED", "insufficient funds", provider.Failed("insufficient funds")},
		{"EXPIRED", "", provider.Failed("expired")},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/v1/payments/pay-1", r.URL.Path)
				json.NewEncoder(w).Encode(paymentResponse{PaymentID: "pay-1", Status: tt.status, FailureReason: tt.reason})
			}))
			defer server.Close()

			a := New(Config{BaseURL: server.URL}, nil)
			got, err := a.GetTransferStatus(context.Background(), "pay-1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
