// Package instantpay is the adapter for the domestic instant-payment network.
// It serves same-currency corridors only and relies on the network's
// Idempotency-Key header for duplicate suppression.
package instantpay

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bobbercheng/remit-demo-sub001/service/provider"
	"github.com/shopspring/decimal"
)

// Config configures the adapter.
type Config struct {
	BaseURL    string
	APIKey     string
	Currencies []string // served currencies; defaults to INR
	Fee        provider.FeeSchedule
	HTTPClient *http.Client
}

// Adapter talks to the instant-payment gateway.
type Adapter struct {
	http       *provider.HTTPClient
	currencies map[string]bool
	fee        provider.FeeSchedule
}

// New creates an instant-payment adapter.
func New(cfg Config, logger *slog.Logger) *Adapter {
	if len(cfg.Currencies) == 0 {
		cfg.Currencies = []string{"INR"}
	}
	served := make(map[string]bool, len(cfg.Currencies))
	for _, c := range cfg.Currencies {
		served[strings.ToUpper(c)] = true
	}

	headers := map[string]string{}
	if cfg.APIKey != "" {
		headers["Authorization"] = "Bearer " + cfg.APIKey
	}

	return &Adapter{
		http:       provider.NewHTTPClient(provider.InstantPayment, cfg.BaseURL, headers, cfg.HTTPClient, logger),
		currencies: served,
		fee:        cfg.Fee,
	}
}

// Name implements provider.Adapter.
func (a *Adapter) Name() string { return provider.InstantPayment }

type quoteRequest struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type quoteResponse struct {
	QuoteID    string     `json:"quote_id"`
	Fee        *int64     `json:"fee,omitempty"`
	ValidUntil *time.Time `json:"valid_until,omitempty"`
}

// Quote prices a domestic transfer. The rate is always 1.
func (a *Adapter) Quote(ctx context.Context, req provider.QuoteRequest) (*provider.Quote, error) {
	src := strings.ToUpper(req.SourceCurrency)
	if src != strings.ToUpper(req.DestinationCurrency) || !a.currencies[src] {
		return nil, fmt.Errorf("%w: %s does not serve %s to %s",
			provider.ErrUnsupportedCorridor, provider.InstantPayment, req.SourceCurrency, req.DestinationCurrency)
	}

	var resp quoteResponse
	if err := a.http.Do(ctx, http.MethodPost, "/v1/quotes", nil, quoteRequest{
		Amount:   req.SourceAmount,
		Currency: src,
	}, &resp); err != nil {
		return nil, err
	}

	q := &provider.Quote{
		ExchangeRate:     decimal.NewFromInt(1),
		Fee:              a.fee.Compute(req.SourceAmount),
		ProviderQuoteRef: resp.QuoteID,
	}
	if resp.Fee != nil {
		q.Fee = *resp.Fee
	}
	if resp.ValidUntil != nil {
		q.ExpiresAt = *resp.ValidUntil
	}
	return q, nil
}

type party struct {
	Name    string `json:"name"`
	Account string `json:"account"`
	IFSC    string `json:"ifsc,omitempty"`
	Ref     string `json:"reference,omitempty"`
}

type paymentRequest struct {
	QuoteID  string `json:"quote_id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Payer    party  `json:"payer"`
	Payee    party  `json:"payee"`
}

type paymentResponse struct {
	PaymentID     string `json:"payment_id"`
	Status        string `json:"status"`
	FailureReason string `json:"failure_reason,omitempty"`
}

// ExecuteTransfer initiates a payment. The gateway deduplicates on Idempotency-Key
// and returns the original payment for a repeated key.
func (a *Adapter) ExecuteTransfer(ctx context.Context, req provider.TransferRequest) (string, error) {
	var resp paymentResponse
	headers := map[string]string{"Idempotency-Key": req.IdempotencyKey}
	err := a.http.Do(ctx, http.MethodPost, "/v1/payments", headers, paymentRequest{
		QuoteID:  req.QuoteRef,
		Amount:   req.SourceAmount,
		Currency: strings.ToUpper(req.SourceCurrency),
		Payer:    party{Name: req.Sender.Name, Account: req.Sender.AccountNumber, IFSC: req.Sender.BankCode, Ref: req.Sender.ID},
		Payee:    party{Name: req.Recipient.Name, Account: req.Recipient.AccountNumber, IFSC: req.Recipient.BankCode, Ref: req.Recipient.ID},
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.PaymentID == "" {
		return "", fmt.Errorf("%w: %s returned no payment id", provider.ErrProviderUnavailable, provider.InstantPayment)
	}
	return resp.PaymentID, nil
}

// GetTransferStatus maps gateway payment states onto provider states.
func (a *Adapter) GetTransferStatus(ctx context.Context, ref string) (provider.TransferStatus, error) {
	var resp paymentResponse
	if err := a.http.Do(ctx, http.MethodGet, "/v1/payments/"+url.PathEscape(ref), nil, nil, &resp); err != nil {
		return provider.TransferStatus{}, err
	}
	return mapStatus(resp.Status, resp.FailureReason), nil
}

func mapStatus(status, reason string) provider.TransferStatus {
	switch strings.ToUpper(status) {
	case "SUCCESS", "COMPLETED":
		return provider.Settled()
	case "FAILED", "DECLINED", "EXPIRED", "REVERSED":
		if reason == "" {
			reason = strings.ToLower(status)
		}
		return provider.Failed(reason)
	default:
		return provider.Pending()
	}
}
