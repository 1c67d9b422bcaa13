package remittance

import (
	"time"

	"github.com/shopspring/decimal"
)

// Recipient holds the beneficiary's payout details.
type Recipient struct {
	Name          string `json:"name" validate:"required,max=140"`
	AccountNumber string `json:"account_number" validate:"required,max=64"`
	BankCode      string `json:"bank_code" validate:"required,max=32"`
}

// Transaction is one sender-to-recipient money movement request.
type Transaction struct {
	ID                  string    `json:"id"`
	IdempotencyKey      string    `json:"idempotency_key"`
	PayloadHash         string    `json:"payload_hash"`
	SenderID            string    `json:"sender_id"`
	RecipientID         string    `json:"recipient_id"`
	Recipient           Recipient `json:"recipient"`
	SourceAmount        int64     `json:"source_amount"`
	SourceCurrency      string    `json:"source_currency"`
	DestinationCurrency string    `json:"destination_currency"`
	SelectedProvider    string    `json:"selected_provider"`
	Status              Status    `json:"status"`
	StatusReason        string    `json:"status_reason,omitempty"`
	QuoteAttempts       int       `json:"quote_attempts"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// Quote is a provider price for a transaction. The newest quote is authoritative.
type Quote struct {
	ID                string          `json:"id"`
	TransactionID     string          `json:"transaction_id"`
	Provider          string          `json:"provider"`
	ExchangeRate      decimal.Decimal `json:"exchange_rate"`
	Fee               int64           `json:"fee"`
	DestinationAmount int64           `json:"destination_amount"`
	ExpiresAt         time.Time       `json:"expires_at"`
	ProviderQuoteRef  string          `json:"provider_quote_ref"`
	CreatedAt         time.Time       `json:"created_at"`
}

// Expired reports whether the quote can no longer be executed at now.
func (q *Quote) Expired(now time.Time) bool {
	return now.After(q.ExpiresAt)
}

// PaymentStatus is the state of a single execution attempt.
type PaymentStatus string

const (
	// PaymentRequested is written before the provider is called.
	PaymentRequested PaymentStatus = "REQUESTED"
	// PaymentSubmitted means the provider accepted the transfer and assigned a reference.
	PaymentSubmitted PaymentStatus = "SUBMITTED"
	PaymentSettled   PaymentStatus = "SETTLED"
	PaymentFailed    PaymentStatus = "FAILED"
	// PaymentUnknown means the provider call ended ambiguously.
	PaymentUnknown PaymentStatus = "UNKNOWN"
)

// Payment is one provider execution attempt.
type Payment struct {
	ID                string        `json:"id"`
	TransactionID     string        `json:"transaction_id"`
	AttemptNumber     int           `json:"attempt_number"`
	Provider          string        `json:"provider"`
	ProviderReference string        `json:"provider_reference,omitempty"`
	Status            PaymentStatus `json:"status"`
	RequestedAt       time.Time     `json:"requested_at"`
	LastCheckedAt     *time.Time    `json:"last_checked_at,omitempty"`
	FailureReason     string        `json:"failure_reason,omitempty"`
}

// PaymentUpdate changes an existing attempt. A ProviderReference is only written
// when the attempt has none yet.
type PaymentUpdate struct {
	Status            PaymentStatus
	ProviderReference string
	FailureReason     string
	CheckedAt         time.Time
}

// Reservation is a held allocation against a user's daily limit.
type Reservation struct {
	TransactionID string `json:"transaction_id"`
	UserID        string `json:"user_id"`
	Day           string `json:"day"` // YYYY-MM-DD, UTC
	Amount        int64  `json:"amount"`
}

// StatusChange is a compare-and-set status write.
type StatusChange struct {
	From   Status
	To     Status
	Reason string
}

// SubmitRequest is the caller's request to move money.
type SubmitRequest struct {
	IdempotencyKey      string    `json:"idempotency_key" validate:"omitempty,max=128"`
	SenderID            string    `json:"sender_id" validate:"required,max=64"`
	RecipientID         string    `json:"recipient_id" validate:"required,max=64"`
	Recipient           Recipient `json:"recipient"`
	SourceAmount        int64     `json:"source_amount" validate:"gt=0"`
	SourceCurrency      string    `json:"source_currency" validate:"required,len=3,alpha"`
	DestinationCurrency string    `json:"destination_currency" validate:"required,len=3,alpha"`
}

// SubmitResult is returned once a transaction is durable and enqueued.
type SubmitResult struct {
	TransactionID string `json:"transaction_id"`
	Status        Status `json:"status"`
	// Duplicate is true when an existing transaction was returned for the key.
	Duplicate bool `json:"duplicate"`
}
