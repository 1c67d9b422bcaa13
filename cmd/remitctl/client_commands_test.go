package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureStdout runs fn and returns what it wrote to stdout.
func captureStdout(t *testing.T, fn func() error) (string, error) {
	t.Helper()

	oldStdout := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w

	runErr := fn()

	w.Close()
	os.Stdout = oldStdout

	var buf bytes.Buffer
	buf.ReadFrom(r)
	return buf.String(), runErr
}

const testTransaction = `{
	"id": "tx-1",
	"idempotency_key": "key-1",
	"sender_id": "user-1",
	"recipient_id": "rcpt-1",
	"recipient": {"name": "Asha", "account_number": "001", "bank_code": "HDFC0001"},
	"source_amount": 10000,
	"source_currency": "USD",
	"destination_currency": "INR",
	"selected_provider": "instantpay",
	"status": "QUOTED",
	"quote_attempts": 1,
	"created_at": "2026-01-15T10:00:00Z",
	"updated_at": "2026-01-15T10:00:01Z",
	"source_amount_display": "$100.00",
	"quote": {
		"id": "q-1",
		"transaction_id": "tx-1",
		"provider": "instantpay",
		"exchange_rate": "83.12",
		"fee": 150,
		"destination_amount": 818732,
		"expires_at": "2026-01-15T10:05:00Z",
		"fee_display": "$1.50",
		"destination_amount_display": "₹8,187.32"
	}
}`

func newAPITestServer(t *testing.T, submitted *map[string]interface{}) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/transactions", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(submitted))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(`{"transaction_id":"tx-1","status":"CREATED","duplicate":false}`))
	})
	mux.HandleFunc("GET /api/v1/transactions/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "tx-1" {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":"transaction not found"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(testTransaction))
	})
	mux.HandleFunc("GET /api/v1/users/{id}/transactions", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2", r.URL.Query().Get("limit"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"user_id":"user-1","transactions":[` + testTransaction + `],"limit":2,"offset":0}`))
	})
	mux.HandleFunc("GET /api/v1/rates", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "USD", r.URL.Query().Get("source"))
		assert.Equal(t, "INR", r.URL.Query().Get("target"))
		assert.Equal(t, "10000", r.URL.Query().Get("amount"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"provider":"instantpay","exchange_rate":"83.12","fee":150,"destination_amount":818732,"expires_at":"2026-01-15T10:05:00Z","fee_display":"$1.50","destination_amount_display":"₹8,187.32"}`))
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestClientSubmitCommand(t *testing.T) {
	var submitted map[string]interface{}
	server := newAPITestServer(t, &submitted)

	out, err := captureStdout(t, func() error {
		return newApp().Run([]string{"remitctl", "--server-url", server.URL, "--json",
			"client", "submit",
			"--key", "key-1",
			"--sender", "user-1",
			"--recipient", "rcpt-1",
			"--name", "Asha",
			"--account", "001",
			"--bank", "HDFC0001",
			"--amount", "10000",
			"--dest", "inr",
		})
	})
	require.NoError(t, err)

	var res map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "tx-1", res["transaction_id"])
	assert.Equal(t, "CREATED", res["status"])

	assert.Equal(t, "key-1", submitted["idempotency_key"])
	assert.Equal(t, "USD", submitted["source_currency"])
	assert.Equal(t, "INR", submitted["destination_currency"])
	assert.Equal(t, float64(10000), submitted["source_amount"])
	recipient := submitted["recipient"].(map[string]interface{})
	assert.Equal(t, "HDFC0001", recipient["bank_code"])
}

func TestClientSubmitCommand_MissingFlags(t *testing.T) {
	err := newApp().Run([]string{"remitctl", "client", "submit", "--sender", "user-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Required flag")
}

func TestClientGetCommand(t *testing.T) {
	server := newAPITestServer(t, nil)

	t.Run("jq filter", func(t *testing.T) {
		out, err := captureStdout(t, func() error {
			return newApp().Run([]string{"remitctl", "--server-url", server.URL, "--jq", ".quote.fee_display",
				"client", "get", "tx-1"})
		})
		require.NoError(t, err)
		assert.Equal(t, "\"$1.50\"\n", out)
	})

	t.Run("pretty", func(t *testing.T) {
		out, err := captureStdout(t, func() error {
			return newApp().Run([]string{"remitctl", "--server-url", server.URL, "client", "get", "tx-1"})
		})
		require.NoError(t, err)
		assert.Contains(t, out, "Status:       QUOTED")
		assert.Contains(t, out, "Amount:       $100.00")
		assert.Contains(t, out, "Rate:       83.12")
	})

	t.Run("not found", func(t *testing.T) {
		_, err := captureStdout(t, func() error {
			return newApp().Run([]string{"remitctl", "--server-url", server.URL, "client", "get", "missing"})
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "status 404")
		assert.Contains(t, err.Error(), "transaction not found")
	})

	t.Run("missing argument", func(t *testing.T) {
		err := newApp().Run([]string{"remitctl", "--server-url", server.URL, "client", "get"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "transaction ID")
	})
}

func TestClientListCommand(t *testing.T) {
	server := newAPITestServer(t, nil)

	out, err := captureStdout(t, func() error {
		return newApp().Run([]string{"remitctl", "--server-url", server.URL,
			"client", "list", "--limit", "2", "user-1"})
	})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "ID"))
	assert.Contains(t, lines[1], "tx-1")
	assert.Contains(t, lines[1], "USD→INR")
}

func TestClientRateCommand(t *testing.T) {
	server := newAPITestServer(t, nil)

	out, err := captureStdout(t, func() error {
		return newApp().Run([]string{"remitctl", "--server-url", server.URL, "--jq", ".destination_amount",
			"client", "rate", "--source", "usd", "--amount", "10000"})
	})
	require.NoError(t, err)
	assert.Equal(t, "818732\n", out)
}
