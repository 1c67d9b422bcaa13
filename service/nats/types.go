package nats

import (
	"time"
)

// TransactionEvent is published whenever a remittance transaction changes status.
// It is published to the subject "remit.txns.{transaction_id}" in JetStream.
type TransactionEvent struct {
	TransactionID  string `json:"transaction_id"`
	SenderID       string `json:"sender_id"`
	PreviousStatus string `json:"previous_status"`
	Status         string `json:"status"`
	Reason         string `json:"reason,omitempty"`

	// Money movement details
	SourceAmount        int64  `json:"source_amount"`
	SourceCurrency      string `json:"source_currency"`
	DestinationCurrency string `json:"destination_currency"`
	Provider            string `json:"provider"`
	ProviderReference   string `json:"provider_reference,omitempty"`

	OccurredAt  time.Time `json:"occurred_at"`
	PublishedAt time.Time `json:"published_at"`
}

// ReconciliationAlert is published when a transaction stays unresolved past the
// reconciliation window and needs an operator. Subject: "remit.alerts.reconciliation".
type ReconciliationAlert struct {
	TransactionID     string        `json:"transaction_id"`
	Provider          string        `json:"provider"`
	ProviderReference string        `json:"provider_reference,omitempty"`
	Unresolved        time.Duration `json:"unresolved_ns"`
	LastError         string        `json:"last_error,omitempty"`
	PublishedAt       time.Time     `json:"published_at"`
}

// TransactionSubject returns the subject a transaction's events are published on.
func TransactionSubject(transactionID string) string {
	return "remit.txns." + transactionID
}

// AlertSubject is the subject reconciliation alerts are published on.
const AlertSubject = "remit.alerts.reconciliation"
