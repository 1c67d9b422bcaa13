// Package intltransfer is the adapter for the international transfer provider.
//
// The provider does not reject a repeated customerTransactionId on its own, so the
// adapter looks the key up before creating a transfer. Amounts cross the wire in
// major units.
package intltransfer

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bobbercheng/remit-demo-sub001/service/provider"
	"github.com/shopspring/decimal"
)

// Config configures the adapter.
type Config struct {
	BaseURL    string
	APIKey     string
	ProfileID  string
	HTTPClient *http.Client
}

// Adapter talks to the international transfer API.
type Adapter struct {
	http      *provider.HTTPClient
	profileID string
	logger    *slog.Logger
}

// New creates an international transfer adapter.
func New(cfg Config, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	headers := map[string]string{}
	if cfg.APIKey != "" {
		headers["Authorization"] = "Bearer " + cfg.APIKey
	}
	return &Adapter{
		http:      provider.NewHTTPClient(provider.InternationalTransfer, cfg.BaseURL, headers, cfg.HTTPClient, logger),
		profileID: cfg.ProfileID,
		logger:    logger.With("provider", provider.InternationalTransfer),
	}
}

// Name implements provider.Adapter.
func (a *Adapter) Name() string { return provider.InternationalTransfer }

type quoteRequest struct {
	SourceCurrency string          `json:"sourceCurrency"`
	TargetCurrency string          `json:"targetCurrency"`
	SourceAmount   decimal.Decimal `json:"sourceAmount"`
}

type quoteResponse struct {
	ID             string          `json:"id"`
	Rate           decimal.Decimal `json:"rate"`
	Fee            decimal.Decimal `json:"fee"`
	ExpirationTime *time.Time      `json:"expirationTime,omitempty"`
}

// Quote requests a priced quote for the profile.
func (a *Adapter) Quote(ctx context.Context, req provider.QuoteRequest) (*provider.Quote, error) {
	src := strings.ToUpper(req.SourceCurrency)
	dst := strings.ToUpper(req.DestinationCurrency)
	if src == dst {
		return nil, fmt.Errorf("%w: %s does not serve same-currency transfers", provider.ErrUnsupportedCorridor, provider.InternationalTransfer)
	}

	amount, err := provider.ToMajor(req.SourceAmount, src)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", provider.ErrUnsupportedCorridor, err)
	}

	var resp quoteResponse
	path := "/v3/profiles/" + url.PathEscape(a.profileID) + "/quotes"
	if err := a.http.Do(ctx, http.MethodPost, path, nil, quoteRequest{
		SourceCurrency: src,
		TargetCurrency: dst,
		SourceAmount:   amount,
	}, &resp); err != nil {
		return nil, err
	}

	fee, err := provider.ToMinor(resp.Fee, src)
	if err != nil {
		return nil, err
	}

	q := &provider.Quote{
		ExchangeRate:     resp.Rate,
		Fee:              fee,
		ProviderQuoteRef: resp.ID,
	}
	if resp.ExpirationTime != nil {
		q.ExpiresAt = *resp.ExpirationTime
	}
	return q, nil
}

type accountRequest struct {
	Profile           string         `json:"profile"`
	AccountHolderName string         `json:"accountHolderName"`
	Currency          string         `json:"currency"`
	Details           accountDetails `json:"details"`
}

type accountDetails struct {
	AccountNumber string `json:"accountNumber"`
	BankCode      string `json:"bankCode"`
}

type accountResponse struct {
	ID int64 `json:"id"`
}

type transferRequest struct {
	TargetAccount         int64           `json:"targetAccount"`
	QuoteUUID             string          `json:"quoteUuid"`
	CustomerTransactionID string          `json:"customerTransactionId"`
	Details               transferDetails `json:"details"`
}

type transferDetails struct {
	Reference string `json:"reference"`
}

type transferResponse struct {
	ID     int64  `json:"id"`
	Status string `json:"status"`
}

// ExecuteTransfer creates the recipient account, the transfer and funds it from
// the profile balance. An existing transfer for the idempotency key is returned,
// after funding it if an earlier attempt stopped before the funding call landed.
func (a *Adapter) ExecuteTransfer(ctx context.Context, req provider.TransferRequest) (string, error) {
	existing, ok, err := a.findByCustomerID(ctx, req.IdempotencyKey)
	if err != nil {
		return "", err
	}
	if ok {
		ref := fmt.Sprintf("%d", existing.ID)
		if !awaitingFunds(existing.Status) {
			a.logger.InfoContext(ctx, "transfer already exists for idempotency key", "transfer_id", ref, "status", existing.Status)
			return ref, nil
		}
		a.logger.InfoContext(ctx, "funding existing transfer", "transfer_id", ref)
		if err := a.fund(ctx, ref); err != nil {
			return "", err
		}
		return ref, nil
	}

	var account accountResponse
	if err := a.http.Do(ctx, http.MethodPost, "/v1/accounts", nil, accountRequest{
		Profile:           a.profileID,
		AccountHolderName: req.Recipient.Name,
		Currency:          strings.ToUpper(req.DestinationCurrency),
		Details: accountDetails{
			AccountNumber: req.Recipient.AccountNumber,
			BankCode:      req.Recipient.BankCode,
		},
	}, &account); err != nil {
		return "", fmt.Errorf("create recipient account: %w", err)
	}

	var transfer transferResponse
	if err := a.http.Do(ctx, http.MethodPost, "/v1/transfers", nil, transferRequest{
		TargetAccount:         account.ID,
		QuoteUUID:             req.QuoteRef,
		CustomerTransactionID: req.IdempotencyKey,
		Details:               transferDetails{Reference: truncate("remit "+req.Sender.Name, 35)},
	}, &transfer); err != nil {
		return "", fmt.Errorf("create transfer: %w", err)
	}
	ref := fmt.Sprintf("%d", transfer.ID)

	if err := a.fund(ctx, ref); err != nil {
		return "", err
	}
	return ref, nil
}

// fund pays a created transfer from the profile balance. The transfer exists
// either way; a failure is only definitive if the provider said so.
func (a *Adapter) fund(ctx context.Context, ref string) error {
	fundPath := "/v3/profiles/" + url.PathEscape(a.profileID) + "/transfers/" + ref + "/payments"
	if err := a.http.Do(ctx, http.MethodPost, fundPath, nil, map[string]string{"type": "BALANCE"}, nil); err != nil {
		return fmt.Errorf("fund transfer %s: %w", ref, err)
	}
	return nil
}

// awaitingFunds reports whether a transfer was created but never funded.
func awaitingFunds(status string) bool {
	return strings.EqualFold(status, "incoming_payment_waiting")
}

func (a *Adapter) findByCustomerID(ctx context.Context, key string) (transferResponse, bool, error) {
	q := url.Values{"profile": {a.profileID}, "customerTransactionId": {key}}
	var found []transferResponse
	if err := a.http.Do(ctx, http.MethodGet, "/v1/transfers?"+q.Encode(), nil, nil, &found); err != nil {
		return transferResponse{}, false, err
	}
	if len(found) == 0 {
		return transferResponse{}, false, nil
	}
	return found[0], true, nil
}

// GetTransferStatus maps provider transfer states onto provider states.
func (a *Adapter) GetTransferStatus(ctx context.Context, ref string) (provider.TransferStatus, error) {
	var resp transferResponse
	if err := a.http.Do(ctx, http.MethodGet, "/v1/transfers/"+url.PathEscape(ref), nil, nil, &resp); err != nil {
		return provider.TransferStatus{}, err
	}
	return MapStatus(resp.Status), nil
}

// MapStatus converts a provider transfer state name. Unknown states are pending.
func MapStatus(status string) provider.TransferStatus {
	switch s := strings.ToLower(status); s {
	case "completed", "outgoing_payment_sent":
		return provider.Settled()
	case "failed", "outgoing_payment_failed", "cancelled", "outgoing_payment_cancelled",
		"funds_refunded", "bounced_back", "charged_back":
		return provider.Failed(s)
	default:
		return provider.Pending()
	}
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
