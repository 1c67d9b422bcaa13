// Package provider defines the capability interface every payment rail implements,
// the corridor router the orchestrator uses to pick a rail, and the guard that
// bounds each call with a timeout and a circuit breaker.
//
// Rail-specific request shaping lives in the subpackages instantpay, corrbank
// and intltransfer.
package provider

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Registered rail names.
const (
	InstantPayment        = "instantpay"
	CorrespondentBank     = "corrbank"
	InternationalTransfer = "intltransfer"
)

// QuoteRequest asks a rail to price a transfer.
type QuoteRequest struct {
	SourceAmount        int64
	SourceCurrency      string
	DestinationCurrency string
}

// Quote is a rail's price for a transfer.
// ExpiresAt is zero when the rail does not state a validity window.
type Quote struct {
	ExchangeRate     decimal.Decimal
	Fee              int64 // minor units of the source currency
	ExpiresAt        time.Time
	ProviderQuoteRef string
}

// Party identifies the sender or recipient of a transfer.
type Party struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	AccountNumber string `json:"account_number,omitempty"`
	BankCode      string `json:"bank_code,omitempty"`
}

// TransferRequest asks a rail to move money against a quote.
// IdempotencyKey must be forwarded so repeated calls do not move funds twice.
type TransferRequest struct {
	QuoteRef            string
	SourceAmount        int64
	SourceCurrency      string
	DestinationCurrency string
	Sender              Party
	Recipient           Party
	IdempotencyKey      string
}

// State is the coarse outcome of a transfer as reported by a rail.
type State string

const (
	StatePending State = "PENDING"
	StateSettled State = "SETTLED"
	StateFailed  State = "FAILED"
)

// TransferStatus is the answer to a status query. Reason is set for StateFailed.
type TransferStatus struct {
	State  State  `json:"state"`
	Reason string `json:"reason,omitempty"`
}

// Pending returns a pending status.
func Pending() TransferStatus { return TransferStatus{State: StatePending} }

// Settled returns a settled status.
func Settled() TransferStatus { return TransferStatus{State: StateSettled} }

// Failed returns a failed status with a reason.
func Failed(reason string) TransferStatus { return TransferStatus{State: StateFailed, Reason: reason} }

// Adapter is the uniform capability set of a payment rail.
//
// Quote may fail with ErrProviderUnavailable or ErrUnsupportedCorridor.
// ExecuteTransfer may fail with ErrProviderRejected or ErrProviderTimeout and must be
// safe to call repeatedly with the same IdempotencyKey.
type Adapter interface {
	Name() string
	Quote(ctx context.Context, req QuoteRequest) (*Quote, error)
	ExecuteTransfer(ctx context.Context, req TransferRequest) (string, error)
	GetTransferStatus(ctx context.Context, providerReference string) (TransferStatus, error)
}
