package server

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bobbercheng/remit-demo-sub001/service/provider"
	"github.com/bobbercheng/remit-demo-sub001/service/remittance"
)

const (
	maxRequestBodySize = 64 << 10 // 64KB - a transfer request is a few hundred bytes
	maxListLimit       = 500
)

// transactionResponse is a transaction plus display fields for humans.
type transactionResponse struct {
	*remittance.Transaction
	SourceAmountDisplay string         `json:"source_amount_display"`
	Quote               *quoteResponse `json:"quote,omitempty"`
}

type quoteResponse struct {
	*remittance.Quote
	FeeDisplay               string `json:"fee_display"`
	DestinationAmountDisplay string `json:"destination_amount_display"`
}

func transactionToResponse(tx *remittance.Transaction, q *remittance.Quote) transactionResponse {
	resp := transactionResponse{
		Transaction:         tx,
		SourceAmountDisplay: provider.Display(tx.SourceAmount, tx.SourceCurrency),
	}
	if q != nil {
		qr := quoteToResponse(q, tx.SourceCurrency, tx.DestinationCurrency)
		resp.Quote = &qr
	}
	return resp
}

func quoteToResponse(q *remittance.Quote, source, destination string) quoteResponse {
	return quoteResponse{
		Quote:                    q,
		FeeDisplay:               provider.Display(q.Fee, source),
		DestinationAmountDisplay: provider.Display(q.DestinationAmount, destination),
	}
}

// handleSubmitTransaction returns a handler that accepts a transfer request.
// POST /api/v1/transactions
//
// The idempotency key may be sent in the body or the Idempotency-Key header.
// A new transaction answers 202; a replay of an existing key answers 200.
func handleSubmitTransaction(svc Remittances, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req remittance.SubmitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Debug("failed to decode submit request", "error", err)
			if strings.Contains(err.Error(), "http: request body too large") {
				writeError(w, "request body too large", http.StatusRequestEntityTooLarge)
				return
			}
			writeError(w, "invalid request body: must be valid JSON", http.StatusBadRequest)
			return
		}
		if req.IdempotencyKey == "" {
			req.IdempotencyKey = r.Header.Get("Idempotency-Key")
		}

		res, err := svc.Submit(r.Context(), req)
		if err != nil {
			writeServiceError(w, r, logger, "submit", err)
			return
		}

		status := http.StatusAccepted
		if res.Duplicate {
			status = http.StatusOK
		}
		writeJSON(w, res, status)
	})
}

// handleGetTransaction returns a handler that retrieves a transaction and its
// latest quote.
// GET /api/v1/transactions/{id}
func handleGetTransaction(svc Remittances, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")

		tx, err := svc.Get(r.Context(), id)
		if err != nil {
			writeServiceError(w, r, logger, "get transaction", err)
			return
		}

		q, err := svc.LatestQuote(r.Context(), id)
		if err != nil && !errors.Is(err, remittance.ErrQuoteNotFound) {
			writeServiceError(w, r, logger, "get quote", err)
			return
		}

		writeJSON(w, transactionToResponse(tx, q), http.StatusOK)
	})
}

// handleListPayments returns a handler that lists every execution attempt.
// GET /api/v1/transactions/{id}/payments
func handleListPayments(svc Remittances, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")

		payments, err := svc.Payments(r.Context(), id)
		if err != nil {
			writeServiceError(w, r, logger, "list payments", err)
			return
		}
		if payments == nil {
			payments = []*remittance.Payment{}
		}

		writeJSON(w, map[string]interface{}{
			"transaction_id": id,
			"payments":       payments,
		}, http.StatusOK)
	})
}

// handleCancelTransaction returns a handler that cancels a transaction before
// execution.
// POST /api/v1/transactions/{id}/cancel
func handleCancelTransaction(svc Remittances, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req struct {
			Reason string `json:"reason"`
		}
		// An empty body is allowed.
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, "invalid request body: must be valid JSON", http.StatusBadRequest)
				return
			}
		}

		tx, err := svc.Cancel(r.Context(), r.PathValue("id"), req.Reason)
		if err != nil {
			writeServiceError(w, r, logger, "cancel", err)
			return
		}

		logger.Info("transaction cancelled", "transaction_id", tx.ID)
		writeJSON(w, transactionToResponse(tx, nil), http.StatusOK)
	})
}

// handleListUserTransactions returns a handler that lists a sender's transactions.
// GET /api/v1/users/{id}/transactions?limit=50&offset=0
func handleListUserTransactions(svc Remittances, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.PathValue("id")

		limit, err := parseQueryInt(r, "limit", 50)
		if err != nil || limit < 1 || limit > maxListLimit {
			writeError(w, "invalid limit: must be between 1 and 500", http.StatusBadRequest)
			return
		}
		offset, err := parseQueryInt(r, "offset", 0)
		if err != nil || offset < 0 {
			writeError(w, "invalid offset: must be a non-negative integer", http.StatusBadRequest)
			return
		}

		txs, err := svc.ListByUser(r.Context(), userID, limit, offset)
		if err != nil {
			writeServiceError(w, r, logger, "list transactions", err)
			return
		}

		resp := make([]transactionResponse, len(txs))
		for i, tx := range txs {
			resp[i] = transactionToResponse(tx, nil)
		}

		writeJSON(w, map[string]interface{}{
			"user_id":      userID,
			"transactions": resp,
			"limit":        limit,
			"offset":       offset,
		}, http.StatusOK)
	})
}

// handleGetRate returns a handler that prices a corridor without creating a
// transaction.
// GET /api/v1/rates?source=USD&target=INR&amount=10000
func handleGetRate(rates RateQuoter, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		source := strings.ToUpper(strings.TrimSpace(q.Get("source")))
		target := strings.ToUpper(strings.TrimSpace(q.Get("target")))
		if !provider.ValidCurrency(source) || !provider.ValidCurrency(target) {
			writeError(w, "source and target must be ISO 4217 currency codes", http.StatusBadRequest)
			return
		}

		amount, err := strconv.ParseInt(q.Get("amount"), 10, 64)
		if err != nil || amount <= 0 {
			writeError(w, "amount must be a positive integer in minor units", http.StatusBadRequest)
			return
		}

		quote, err := rates.Indicative(r.Context(), amount, source, target)
		if err != nil {
			writeServiceError(w, r, logger, "indicative rate", err)
			return
		}

		writeJSON(w, quoteToResponse(quote, source, target), http.StatusOK)
	})
}

// webhookRequest is a provider's asynchronous status notification.
type webhookRequest struct {
	ProviderReference string         `json:"provider_reference"`
	State             provider.State `json:"state"`
	Reason            string         `json:"reason,omitempty"`
}

// handleProviderWebhook returns a handler that applies a provider's status
// notification to the matching transaction.
// POST /api/v1/webhooks/{provider}
func handleProviderWebhook(svc Remittances, secret string, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if secret != "" {
			got := r.Header.Get("X-Webhook-Secret")
			if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
				writeError(w, "invalid webhook secret", http.StatusUnauthorized)
				return
			}
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req webhookRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, "invalid request body: must be valid JSON", http.StatusBadRequest)
			return
		}
		if req.ProviderReference == "" {
			writeError(w, "provider_reference is required", http.StatusBadRequest)
			return
		}
		switch req.State {
		case provider.StatePending, provider.StateSettled, provider.StateFailed:
		default:
			writeError(w, "state must be PENDING, SETTLED or FAILED", http.StatusBadRequest)
			return
		}

		providerName := r.PathValue("provider")
		tx, err := svc.ApplyProviderStatus(r.Context(), providerName, req.ProviderReference,
			provider.TransferStatus{State: req.State, Reason: req.Reason})
		if err != nil {
			writeServiceError(w, r, logger, "apply webhook", err)
			return
		}

		logger.Info("provider webhook applied",
			"provider", providerName,
			"provider_reference", req.ProviderReference,
			"state", req.State,
			"transaction_id", tx.ID,
			"status", tx.Status,
		)
		writeJSON(w, map[string]interface{}{
			"transaction_id": tx.ID,
			"status":         tx.Status,
			"received_at":    time.Now().UTC(),
		}, http.StatusOK)
	})
}

// writeServiceError maps orchestration errors to HTTP status codes.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	var verr *remittance.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, verr.Error(), http.StatusBadRequest)
	case errors.Is(err, remittance.ErrNoProviderForCorridor), errors.Is(err, remittance.ErrUnsupportedCorridor):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, remittance.ErrDailyLimitExceeded):
		writeError(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, remittance.ErrIdempotencyConflict),
		errors.Is(err, remittance.ErrNotCancellable),
		errors.Is(err, remittance.ErrTransactionBusy),
		errors.Is(err, remittance.ErrStaleStatus):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, remittance.ErrTransactionNotFound),
		errors.Is(err, remittance.ErrPaymentNotFound),
		errors.Is(err, remittance.ErrQuoteNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, remittance.ErrProviderUnavailable), errors.Is(err, remittance.ErrProviderTimeout):
		writeError(w, "provider unavailable, retry later", http.StatusServiceUnavailable)
	default:
		logger.ErrorContext(r.Context(), "request failed", "operation", op, "error", err)
		writeError(w, "internal server error", http.StatusInternalServerError)
	}
}

func parseQueryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}
