package remittance

import (
	"errors"
	"fmt"

	"github.com/bobbercheng/remit-demo-sub001/service/provider"
)

// Validation and limit errors.
var (
	ErrAmountTooSmall     = errors.New("amount below minimum")
	ErrAmountTooLarge     = errors.New("amount above maximum")
	ErrInvalidCurrency    = errors.New("invalid currency")
	ErrInvalidRequest     = errors.New("invalid request")
	ErrDailyLimitExceeded = errors.New("daily limit exceeded")
)

// Lifecycle errors.
var (
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrPaymentNotFound     = errors.New("payment not found")
	ErrQuoteNotFound       = errors.New("quote not found")
	ErrIdempotencyConflict = errors.New("idempotency key reused with a different payload")
	ErrNotCancellable      = errors.New("transaction can no longer be cancelled")
	ErrTransactionBusy     = errors.New("transaction is being processed")
	ErrStaleStatus         = errors.New("transaction status changed concurrently")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrReferenceConflict   = errors.New("provider reference already assigned")

	// ErrReconciliationUnresolved is an operational alert: the provider outcome is
	// still unknown after the maximum reconciliation window.
	ErrReconciliationUnresolved = errors.New("reconciliation unresolved")
)

// Provider errors, re-exported so callers need only this package.
var (
	ErrNoProviderForCorridor = provider.ErrNoProviderForCorridor
	ErrUnsupportedCorridor   = provider.ErrUnsupportedCorridor
	ErrProviderUnavailable   = provider.ErrProviderUnavailable
	ErrProviderTimeout       = provider.ErrProviderTimeout
	ErrProviderRejected      = provider.ErrProviderRejected
)

// ValidationError reports a request rejected before any side effect.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
