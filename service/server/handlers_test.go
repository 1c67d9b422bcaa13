package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bobbercheng/remit-demo-sub001/service/memstore"
	"github.com/bobbercheng/remit-demo-sub001/service/provider"
	"github.com/bobbercheng/remit-demo-sub001/service/provider/providertest"
	"github.com/bobbercheng/remit-demo-sub001/service/remittance"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testAPI struct {
	srv  *httptest.Server
	orch *remittance.Orchestrator
	fake *providertest.Fake
}

func newTestAPI(t *testing.T, opts ...Option) *testAPI {
	t.Helper()

	cfg := remittance.DefaultConfig()
	cfg.MinAmount = 100
	cfg.MaxAmount = 500_000
	cfg.DailyLimitPerUser = 200_000
	cfg.Retry = remittance.RetryConfig{MaxAttempts: 2, BaseBackoff: time.Millisecond, MaxBackoff: time.Millisecond}

	fake := providertest.NewFake("fake")
	fake.Rate = decimal.NewFromInt(83)

	router := provider.NewRouter()
	router.Register(fake)
	router.Route(provider.Corridor{Source: "USD", Destination: "INR"}, "fake")

	store := memstore.New()
	orch, err := remittance.NewOrchestrator(cfg, store, store, router, store)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := New(":0", orch, orch.Quotes(), logger, opts...)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	return &testAPI{srv: srv, orch: orch, fake: fake}
}

func (a *testAPI) do(t *testing.T, method, path, body string, headers ...string) (int, map[string]interface{}) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, a.srv.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(bytes.TrimSpace(raw)) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func submitBody(key string, amount int64) string {
	body, _ := json.Marshal(map[string]interface{}{
		"idempotency_key": key,
		"sender_id":       "user-1",
		"recipient_id":    "recipient-1",
		"recipient": map[string]string{
			"name":           "Asha Rao",
			"account_number": "001122334455",
			"bank_code":      "HDFC0001234",
		},
		"source_amount":        amount,
		"source_currency":      "USD",
		"destination_currency": "INR",
	})
	return string(body)
}

func TestSubmitAndGetTransaction(t *testing.T) {
	api := newTestAPI(t)

	status, body := api.do(t, http.MethodPost, "/api/v1/transactions", submitBody("key-1", 10_000))
	require.Equal(t, http.StatusAccepted, status, body)
	id := body["transaction_id"].(string)
	assert.Equal(t, "LIMIT_CHECKED", body["status"])
	assert.Equal(t, false, body["duplicate"])

	status, body = api.do(t, http.MethodGet, "/api/v1/transactions/"+id, "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, id, body["id"])
	assert.Equal(t, "LIMIT_CHECKED", body["status"])
	assert.Equal(t, "$100.00", body["source_amount_display"])
	assert.Nil(t, body["quote"])

	tx, err := api.orch.Advance(t.Context(), id)
	require.NoError(t, err)
	require.Equal(t, remittance.StatusSettled, tx.Status)

	status, body = api.do(t, http.MethodGet, "/api/v1/transactions/"+id, "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "SETTLED", body["status"])
	quote, ok := body["quote"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "83", quote["exchange_rate"])
	assert.Equal(t, float64(830_000), quote["destination_amount"])

	status, body = api.do(t, http.MethodGet, "/api/v1/transactions/"+id+"/payments", "")
	require.Equal(t, http.StatusOK, status)
	payments := body["payments"].([]interface{})
	require.Len(t, payments, 1)
	assert.Equal(t, "SETTLED", payments[0].(map[string]interface{})["status"])
}

func TestSubmitTransaction_Errors(t *testing.T) {
	api := newTestAPI(t)

	tests := []struct {
		name           string
		body           string
		expectedStatus int
		errorContains  string
	}{
		{
			name:           "malformed JSON",
			body:           `{"sender_id":`,
			expectedStatus: http.StatusBadRequest,
			errorContains:  "invalid request body",
		},
		{
			name:           "amount below minimum",
			body:           submitBody("small", 50),
			expectedStatus: http.StatusBadRequest,
			errorContains:  "source_amount",
		},
		{
			name:           "amount above maximum",
			body:           submitBody("large", 600_000),
			expectedStatus: http.StatusBadRequest,
			errorContains:  "source_amount",
		},
		{
			name:           "unknown currency",
			body:           strings.Replace(submitBody("ccy", 10_000), `"INR"`, `"ZZZ"`, 1),
			expectedStatus: http.StatusBadRequest,
			errorContains:  "destination_currency",
		},
		{
			name:           "no provider for corridor",
			body:           strings.Replace(submitBody("eur", 10_000), `"INR"`, `"EUR"`, 1),
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "oversized body",
			body:           `{"sender_id":"` + strings.Repeat("A", 100<<10) + `"}`,
			expectedStatus: http.StatusRequestEntityTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := api.do(t, http.MethodPost, "/api/v1/transactions", tt.body)
			assert.Equal(t, tt.expectedStatus, status, body)
			if tt.errorContains != "" {
				assert.Contains(t, body["error"], tt.errorContains)
			}
		})
	}
}

func TestSubmitTransaction_Idempotency(t *testing.T) {
	api := newTestAPI(t)

	status, first := api.do(t, http.MethodPost, "/api/v1/transactions", submitBody("key-1", 10_000))
	require.Equal(t, http.StatusAccepted, status)

	status, again := api.do(t, http.MethodPost, "/api/v1/transactions", submitBody("key-1", 10_000))
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, first["transaction_id"], again["transaction_id"])
	assert.Equal(t, true, again["duplicate"])

	status, _ = api.do(t, http.MethodPost, "/api/v1/transactions", submitBody("key-1", 20_000))
	assert.Equal(t, http.StatusConflict, status)

	// The header is used when the body carries no key.
	status, viaHeader := api.do(t, http.MethodPost, "/api/v1/transactions", submitBody("", 30_000), "Idempotency-Key", "hdr-1")
	require.Equal(t, http.StatusAccepted, status)
	tx, err := api.orch.Get(t.Context(), viaHeader["transaction_id"].(string))
	require.NoError(t, err)
	assert.Equal(t, "hdr-1", tx.IdempotencyKey)
}

func TestSubmitTransaction_DailyLimit(t *testing.T) {
	api := newTestAPI(t)

	status, _ := api.do(t, http.MethodPost, "/api/v1/transactions", submitBody("a", 150_000))
	require.Equal(t, http.StatusAccepted, status)

	status, body := api.do(t, http.MethodPost, "/api/v1/transactions", submitBody("b", 150_000))
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Contains(t, body["error"], "daily limit")
}

func TestGetTransaction_NotFound(t *testing.T) {
	api := newTestAPI(t)

	status, _ := api.do(t, http.MethodGet, "/api/v1/transactions/missing", "")
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = api.do(t, http.MethodGet, "/api/v1/transactions/missing/payments", "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestCancelTransaction(t *testing.T) {
	api := newTestAPI(t)

	_, body := api.do(t, http.MethodPost, "/api/v1/transactions", submitBody("key-1", 10_000))
	id := body["transaction_id"].(string)

	status, body := api.do(t, http.MethodPost, "/api/v1/transactions/"+id+"/cancel", `{"reason":"customer request"}`)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "CANCELLED", body["status"])
	assert.Equal(t, "customer request", body["status_reason"])

	status, _ = api.do(t, http.MethodPost, "/api/v1/transactions/"+id+"/cancel", "")
	assert.Equal(t, http.StatusConflict, status)

	status, _ = api.do(t, http.MethodPost, "/api/v1/transactions/missing/cancel", "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestListUserTransactions(t *testing.T) {
	api := newTestAPI(t)

	for _, key := range []string{"k1", "k2", "k3"} {
		status, _ := api.do(t, http.MethodPost, "/api/v1/transactions", submitBody(key, 1_000))
		require.Equal(t, http.StatusAccepted, status)
	}

	status, body := api.do(t, http.MethodGet, "/api/v1/users/user-1/transactions?limit=2", "")
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["transactions"], 2)

	status, body = api.do(t, http.MethodGet, "/api/v1/users/user-1/transactions?offset=2", "")
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["transactions"], 1)

	status, body = api.do(t, http.MethodGet, "/api/v1/users/nobody/transactions", "")
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["transactions"], 0)

	status, _ = api.do(t, http.MethodGet, "/api/v1/users/user-1/transactions?limit=0", "")
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = api.do(t, http.MethodGet, "/api/v1/users/user-1/transactions?offset=-1", "")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestGetRate(t *testing.T) {
	api := newTestAPI(t)

	status, body := api.do(t, http.MethodGet, "/api/v1/rates?source=usd&target=INR&amount=10000", "")
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "83", body["exchange_rate"])
	assert.Equal(t, "fake", body["provider"])
	assert.Equal(t, float64(830_000), body["destination_amount"])
	assert.Equal(t, 1, api.fake.QuoteCalls)

	status, _ = api.do(t, http.MethodGet, "/api/v1/rates?source=USD&target=ZZZ&amount=10000", "")
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = api.do(t, http.MethodGet, "/api/v1/rates?source=USD&target=INR&amount=-5", "")
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = api.do(t, http.MethodGet, "/api/v1/rates?source=USD&target=EUR&amount=10000", "")
	assert.Equal(t, http.StatusBadRequest, status)

	api.fake.FailQuotes(provider.ErrProviderUnavailable)
	status, _ = api.do(t, http.MethodGet, "/api/v1/rates?source=USD&target=INR&amount=10000", "")
	assert.Equal(t, http.StatusServiceUnavailable, status)
}

func TestProviderWebhook(t *testing.T) {
	api := newTestAPI(t, WithWebhookSecret("s3cret"))
	api.fake.SetStatuses(provider.Pending())

	_, body := api.do(t, http.MethodPost, "/api/v1/transactions", submitBody("key-1", 10_000))
	id := body["transaction_id"].(string)

	tx, err := api.orch.Advance(t.Context(), id)
	require.NoError(t, err)
	require.Equal(t, remittance.StatusExecuting, tx.Status)

	settled := `{"provider_reference":"fake-ref-1","state":"SETTLED"}`

	status, _ := api.do(t, http.MethodPost, "/api/v1/webhooks/fake", settled)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = api.do(t, http.MethodPost, "/api/v1/webhooks/fake", `{"provider_reference":"fake-ref-1","state":"DONE"}`, "X-Webhook-Secret", "s3cret")
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = api.do(t, http.MethodPost, "/api/v1/webhooks/fake", `{"provider_reference":"nope","state":"SETTLED"}`, "X-Webhook-Secret", "s3cret")
	assert.Equal(t, http.StatusNotFound, status)

	status, body = api.do(t, http.MethodPost, "/api/v1/webhooks/fake", settled, "X-Webhook-Secret", "s3cret")
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, id, body["transaction_id"])
	assert.Equal(t, "SETTLED", body["status"])

	// Replays leave the settled transaction alone.
	status, body = api.do(t, http.MethodPost, "/api/v1/webhooks/fake", settled, "X-Webhook-Secret", "s3cret")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "SETTLED", body["status"])
}

func TestHealthAndCORS(t *testing.T) {
	api := newTestAPI(t)

	resp, err := http.Get(api.srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	req, err := http.NewRequest(http.MethodOptions, api.srv.URL+"/api/v1/transactions", nil)
	require.NoError(t, err)
	preflight, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer preflight.Body.Close()
	assert.Equal(t, http.StatusNoContent, preflight.StatusCode)

	// No metrics collector, no /metrics route.
	metricsResp, err := http.Get(api.srv.URL + "/metrics")
	require.NoError(t, err)
	defer metricsResp.Body.Close()
	assert.Equal(t, http.StatusNotFound, metricsResp.StatusCode)
}

func TestStreamSubject(t *testing.T) {
	assert.Equal(t, "remit.txns.*", streamSubject(""))
	assert.Equal(t, "remit.txns.tx-1", streamSubject("tx-1"))
}
