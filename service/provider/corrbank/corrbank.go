// Package corrbank is the adapter for the correspondent (AD) bank channel.
//
// The bank publishes indicative rates that are cached for RateRefresh. Transfers
// are deduplicated on client_reference; a repeated reference answers 409 with the
// original remittance id.
package corrbank

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bobbercheng/remit-demo-sub001/service/provider"
	"github.com/shopspring/decimal"
)

// Config configures the adapter.
type Config struct {
	BaseURL     string
	APIKey      string
	RateRefresh time.Duration // defaults to 5m
	Fee         provider.FeeSchedule
	HTTPClient  *http.Client
}

// Adapter talks to the correspondent bank API.
type Adapter struct {
	http        *provider.HTTPClient
	fee         provider.FeeSchedule
	rateRefresh time.Duration
	now         func() time.Time
	logger      *slog.Logger

	mu    sync.Mutex
	rates map[provider.Corridor]cachedRate
}

type cachedRate struct {
	rate      decimal.Decimal
	rateID    string
	fetchedAt time.Time
	expiresAt time.Time
}

// New creates a correspondent bank adapter.
func New(cfg Config, logger *slog.Logger) *Adapter {
	if cfg.RateRefresh <= 0 {
		cfg.RateRefresh = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	headers := map[string]string{}
	if cfg.APIKey != "" {
		headers["X-API-Key"] = cfg.APIKey
	}
	return &Adapter{
		http:        provider.NewHTTPClient(provider.CorrespondentBank, cfg.BaseURL, headers, cfg.HTTPClient, logger),
		fee:         cfg.Fee,
		rateRefresh: cfg.RateRefresh,
		now:         time.Now,
		logger:      logger.With("provider", provider.CorrespondentBank),
		rates:       make(map[provider.Corridor]cachedRate),
	}
}

// Name implements provider.Adapter.
func (a *Adapter) Name() string { return provider.CorrespondentBank }

type rateResponse struct {
	RateID     string          `json:"rate_id"`
	Rate       decimal.Decimal `json:"rate"`
	ValidUntil *time.Time      `json:"valid_until,omitempty"`
}

// Quote prices a transfer from the cached bank rate and the local fee schedule.
func (a *Adapter) Quote(ctx context.Context, req provider.QuoteRequest) (*provider.Quote, error) {
	corridor := provider.Corridor{
		Source:      strings.ToUpper(req.SourceCurrency),
		Destination: strings.ToUpper(req.DestinationCurrency),
	}

	rate, err := a.rate(ctx, corridor)
	if err != nil {
		return nil, err
	}

	return &provider.Quote{
		ExchangeRate:     rate.rate,
		Fee:              a.fee.Compute(req.SourceAmount),
		ExpiresAt:        rate.expiresAt,
		ProviderQuoteRef: rate.rateID,
	}, nil
}

func (a *Adapter) rate(ctx context.Context, c provider.Corridor) (cachedRate, error) {
	now := a.now()

	a.mu.Lock()
	cached, ok := a.rates[c]
	a.mu.Unlock()
	if ok && now.Before(cached.expiresAt) {
		return cached, nil
	}

	// Fetch outside the lock; concurrent refreshes are harmless.
	q := url.Values{"from": {c.Source}, "to": {c.Destination}}
	var resp rateResponse
	if err := a.http.Do(ctx, http.MethodGet, "/api/rates?"+q.Encode(), nil, nil, &resp); err != nil {
		if errors.Is(err, provider.ErrUnknownReference) {
			return cachedRate{}, fmt.Errorf("%w: %s", provider.ErrUnsupportedCorridor, c)
		}
		return cachedRate{}, err
	}
	if !resp.Rate.IsPositive() {
		return cachedRate{}, fmt.Errorf("%w: %s returned non-positive rate for %s", provider.ErrProviderUnavailable, provider.CorrespondentBank, c)
	}

	fresh := cachedRate{
		rate:      resp.Rate,
		rateID:    resp.RateID,
		fetchedAt: now,
		expiresAt: now.Add(a.rateRefresh),
	}
	if resp.ValidUntil != nil && resp.ValidUntil.Before(fresh.expiresAt) {
		fresh.expiresAt = *resp.ValidUntil
	}

	a.mu.Lock()
	a.rates[c] = fresh
	a.mu.Unlock()

	a.logger.DebugContext(ctx, "refreshed exchange rate", "corridor", c.String(), "rate", resp.Rate.String())
	return fresh, nil
}

type money struct {
	Value    int64  `json:"value"`
	Currency string `json:"currency"`
}

type person struct {
	Name          string `json:"name"`
	AccountNumber string `json:"account_number,omitempty"`
	BankCode      string `json:"bank_code,omitempty"`
	CustomerRef   string `json:"customer_ref,omitempty"`
}

type remittanceRequest struct {
	ClientReference string `json:"client_reference"`
	RateID          string `json:"rate_id"`
	Amount          money  `json:"amount"`
	TargetCurrency  string `json:"target_currency"`
	Remitter        person `json:"remitter"`
	Beneficiary     person `json:"beneficiary"`
}

type remittanceResponse struct {
	RemittanceID string `json:"remittance_id"`
	Status       string `json:"status"`
	Reason       string `json:"reason,omitempty"`
}

// ExecuteTransfer books a remittance. A 409 for a known client_reference returns
// the original remittance id.
func (a *Adapter) ExecuteTransfer(ctx context.Context, req provider.TransferRequest) (string, error) {
	body := remittanceRequest{
		ClientReference: req.IdempotencyKey,
		RateID:          req.QuoteRef,
		Amount:          money{Value: req.SourceAmount, Currency: strings.ToUpper(req.SourceCurrency)},
		TargetCurrency:  strings.ToUpper(req.DestinationCurrency),
		Remitter:        person{Name: req.Sender.Name, AccountNumber: req.Sender.AccountNumber, BankCode: req.Sender.BankCode, CustomerRef: req.Sender.ID},
		Beneficiary:     person{Name: req.Recipient.Name, AccountNumber: req.Recipient.AccountNumber, BankCode: req.Recipient.BankCode, CustomerRef: req.Recipient.ID},
	}

	var resp remittanceResponse
	err := a.http.Do(ctx, http.MethodPost, "/api/remittances", nil, body, &resp)
	if err != nil {
		var rejected *provider.RejectedError
		if errors.As(err, &rejected) && rejected.Code == "duplicate_reference" {
			return a.lookupByReference(ctx, req.IdempotencyKey)
		}
		return "", err
	}
	if resp.RemittanceID == "" {
		return "", fmt.Errorf("%w: %s returned no remittance id", provider.ErrProviderUnavailable, provider.CorrespondentBank)
	}
	return resp.RemittanceID, nil
}

func (a *Adapter) lookupByReference(ctx context.Context, clientRef string) (string, error) {
	var resp remittanceResponse
	path := "/api/remittances/by-reference/" + url.PathEscape(clientRef)
	if err := a.http.Do(ctx, http.MethodGet, path, nil, nil, &resp); err != nil {
		return "", err
	}
	return resp.RemittanceID, nil
}

// GetTransferStatus maps bank remittance states onto provider states.
func (a *Adapter) GetTransferStatus(ctx context.Context, ref string) (provider.TransferStatus, error) {
	var resp remittanceResponse
	if err := a.http.Do(ctx, http.MethodGet, "/api/remittances/"+url.PathEscape(ref), nil, nil, &resp); err != nil {
		return provider.TransferStatus{}, err
	}

	switch strings.ToUpper(resp.Status) {
	case "CREDITED", "PAID":
		return provider.Settled(), nil
	case "RETURNED", "REJECTED", "CANCELLED":
		reason := resp.Reason
		if reason == "" {
			reason = strings.ToLower(resp.Status)
		}
		return provider.Failed(reason), nil
	default:
		return provider.Pending(), nil
	}
}
