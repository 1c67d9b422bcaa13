package provider

import (
	"errors"
	"fmt"
)

var (
	// ErrProviderUnavailable means the rail could not be reached or refused service
	// temporarily (5xx, 429, open circuit). Safe to retry for quotes.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrProviderTimeout means the call did not complete in time. For transfers the
	// outcome is unknown.
	ErrProviderTimeout = errors.New("provider timeout")

	// ErrProviderRejected means the rail explicitly refused the request.
	ErrProviderRejected = errors.New("provider rejected request")

	// ErrUnsupportedCorridor means the rail does not serve the currency pair.
	ErrUnsupportedCorridor = errors.New("unsupported corridor")

	// ErrNoProviderForCorridor means no rail is configured for the currency pair.
	ErrNoProviderForCorridor = errors.New("no provider for corridor")

	// ErrUnknownReference means the rail has no transfer under the given reference.
	ErrUnknownReference = errors.New("unknown provider reference")

	// ErrCircuitOpen means the guard refused the call before it reached the rail.
	// It matches ErrProviderUnavailable so quotes keep retrying, but a transfer
	// refused this way was never sent.
	ErrCircuitOpen = fmt.Errorf("%w: circuit breaker open", ErrProviderUnavailable)
)

// RejectedError carries the rail's own rejection code and message.
type RejectedError struct {
	Provider string
	Code     string
	Message  string
}

func (e *RejectedError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s rejected request: %s (%s)", e.Provider, e.Message, e.Code)
	}
	return fmt.Sprintf("%s rejected request: %s", e.Provider, e.Message)
}

// Unwrap lets errors.Is match ErrProviderRejected.
func (e *RejectedError) Unwrap() error { return ErrProviderRejected }

// NotSent reports whether err proves the request never left the process.
func NotSent(err error) bool {
	return errors.Is(err, ErrCircuitOpen)
}

// IsRetryable reports whether err is a transient failure worth retrying.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrProviderUnavailable) || errors.Is(err, ErrProviderTimeout)
}
