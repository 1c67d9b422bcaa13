package remittance

import (
	"context"
	"time"
)

// Ledger is the persistent record of transactions, quotes and payment attempts.
// Every method is atomic per record; readers never observe partial writes.
type Ledger interface {
	// Create inserts tx unless a transaction with the same IdempotencyKey exists.
	// It returns the stored transaction and whether this call created it.
	Create(ctx context.Context, tx *Transaction) (*Transaction, bool, error)

	Get(ctx context.Context, id string) (*Transaction, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*Transaction, error)

	// UpdateStatus moves a transaction from change.From to change.To. It fails with
	// ErrStaleStatus when the stored status is no longer change.From.
	UpdateStatus(ctx context.Context, id string, change StatusChange) (*Transaction, error)

	SaveQuote(ctx context.Context, q *Quote) error
	LatestQuote(ctx context.Context, transactionID string) (*Quote, error)

	// AppendPayment stores p with the next attempt number for its transaction and
	// sets p.AttemptNumber.
	AppendPayment(ctx context.Context, p *Payment) error
	UpdatePayment(ctx context.Context, transactionID string, attempt int, upd PaymentUpdate) (*Payment, error)
	Payments(ctx context.Context, transactionID string) ([]*Payment, error)
	LatestPayment(ctx context.Context, transactionID string) (*Payment, error)
	FindPaymentByProviderReference(ctx context.Context, providerName, ref string) (*Payment, error)

	// ListByStatus returns transactions in any of statuses last updated before
	// updatedBefore, oldest first.
	ListByStatus(ctx context.Context, statuses []Status, updatedBefore time.Time, limit int) ([]*Transaction, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*Transaction, error)
}

// CounterStore holds per-user daily totals. Reserve and Release are each a single
// atomic operation and are idempotent per transaction.
type CounterStore interface {
	// Reserve adds r.Amount to (r.UserID, r.Day) if the result stays within limit.
	// If the transaction already has a reservation record nothing is added and the
	// result reports whether that reservation is still held.
	Reserve(ctx context.Context, r Reservation, limit int64) (bool, error)

	// Release returns the reservation held by r.TransactionID. r.UserID must be
	// set; r.Day may be empty. It reports false if there was nothing to release.
	Release(ctx context.Context, r Reservation) (bool, error)

	Usage(ctx context.Context, userID, day string) (int64, error)
}

// Lease is a held per-transaction processing lease.
type Lease interface {
	Release(ctx context.Context) error
}

// Locker grants per-transaction processing leases. A lease expires on its own
// after ttl so a crashed holder cannot block a transaction forever.
type Locker interface {
	// TryAcquire returns (nil, false, nil) when another holder has the lease.
	TryAcquire(ctx context.Context, transactionID string, ttl time.Duration) (Lease, bool, error)
}

// Dispatcher schedules a transaction to be advanced asynchronously.
type Dispatcher interface {
	Enqueue(ctx context.Context, transactionID string) error
}
