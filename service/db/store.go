package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bobbercheng/remit-demo-sub001/service/metrics"
	"github.com/bobbercheng/remit-demo-sub001/service/remittance"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Store is the Postgres ledger. It implements remittance.Ledger,
// remittance.CounterStore and remittance.Locker over one connection pool.
type Store struct {
	pool    *pgxpool.Pool
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewStore creates a new Store with the given database connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, now: time.Now}
}

// WithMetrics records query latency and outcome.
func (s *Store) WithMetrics(m *metrics.Metrics) *Store {
	s.metrics = m
	return s
}

// Pool returns the underlying pool.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) observe(op, table string, start time.Time, err error) {
	if errors.Is(err, pgx.ErrNoRows) {
		err = nil
	}
	s.metrics.RecordDBQuery(op, table, time.Since(start).Seconds(), err)
}

const transactionColumns = `id, idempotency_key, payload_hash, sender_id, recipient_id,
	recipient_name, recipient_account, recipient_bank_code,
	source_amount, source_currency, destination_currency, selected_provider,
	status, status_reason, quote_attempts, created_at, updated_at`

func scanTransaction(row pgx.Row) (*remittance.Transaction, error) {
	var tx remittance.Transaction
	var status string
	err := row.Scan(
		&tx.ID, &tx.IdempotencyKey, &tx.PayloadHash, &tx.SenderID, &tx.RecipientID,
		&tx.Recipient.Name, &tx.Recipient.AccountNumber, &tx.Recipient.BankCode,
		&tx.SourceAmount, &tx.SourceCurrency, &tx.DestinationCurrency, &tx.SelectedProvider,
		&status, &tx.StatusReason, &tx.QuoteAttempts, &tx.CreatedAt, &tx.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	tx.Status = remittance.Status(status)
	return &tx, nil
}

func collectTransactions(rows pgx.Rows) ([]*remittance.Transaction, error) {
	defer rows.Close()
	out := []*remittance.Transaction{}
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

// Create implements remittance.Ledger.
func (s *Store) Create(ctx context.Context, tx *remittance.Transaction) (_ *remittance.Transaction, _ bool, err error) {
	defer func(start time.Time) { s.observe("create", "transactions", start, err) }(time.Now())

	row := s.pool.QueryRow(ctx, `
		INSERT INTO transactions (id, idempotency_key, payload_hash, sender_id, recipient_id,
			recipient_name, recipient_account, recipient_bank_code,
			source_amount, source_currency, destination_currency, selected_provider,
			status, status_reason, quote_attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING `+transactionColumns,
		tx.ID, tx.IdempotencyKey, tx.PayloadHash, tx.SenderID, tx.RecipientID,
		tx.Recipient.Name, tx.Recipient.AccountNumber, tx.Recipient.BankCode,
		tx.SourceAmount, tx.SourceCurrency, tx.DestinationCurrency, tx.SelectedProvider,
		string(tx.Status), tx.StatusReason, tx.QuoteAttempts, tx.CreatedAt, tx.UpdatedAt,
	)
	created, err := scanTransaction(row)
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to insert transaction: %w", err)
	}

	existing, err := s.FindByIdempotencyKey(ctx, tx.IdempotencyKey)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// Get implements remittance.Ledger.
func (s *Store) Get(ctx context.Context, id string) (_ *remittance.Transaction, err error) {
	defer func(start time.Time) { s.observe("get", "transactions", start, err) }(time.Now())

	tx, err := scanTransaction(s.pool.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", remittance.ErrTransactionNotFound, id)
	}
	return tx, err
}

// FindByIdempotencyKey implements remittance.Ledger.
func (s *Store) FindByIdempotencyKey(ctx context.Context, key string) (_ *remittance.Transaction, err error) {
	defer func(start time.Time) { s.observe("find_by_key", "transactions", start, err) }(time.Now())

	tx, err := scanTransaction(s.pool.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE idempotency_key = $1`, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: idempotency key %s", remittance.ErrTransactionNotFound, key)
	}
	return tx, err
}

// UpdateStatus implements remittance.Ledger.
func (s *Store) UpdateStatus(ctx context.Context, id string, change remittance.StatusChange) (_ *remittance.Transaction, err error) {
	defer func(start time.Time) { s.observe("update_status", "transactions", start, err) }(time.Now())

	if !remittance.CanTransition(change.From, change.To) {
		return nil, fmt.Errorf("%w: %s -> %s", remittance.ErrInvalidTransition, change.From, change.To)
	}

	tx, err := scanTransaction(s.pool.QueryRow(ctx, `
		UPDATE transactions
		SET status = $3,
			status_reason = $4,
			updated_at = $5,
			quote_attempts = quote_attempts + CASE WHEN $3 = 'QUOTED' THEN 1 ELSE 0 END
		WHERE id = $1 AND status = $2
		RETURNING `+transactionColumns,
		id, string(change.From), string(change.To), change.Reason, s.now().UTC(),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		current, gerr := s.Get(ctx, id)
		if gerr != nil {
			return nil, gerr
		}
		return nil, fmt.Errorf("%w: %s is %s, expected %s", remittance.ErrStaleStatus, id, current.Status, change.From)
	}
	return tx, err
}

// SaveQuote implements remittance.Ledger.
func (s *Store) SaveQuote(ctx context.Context, q *remittance.Quote) (err error) {
	defer func(start time.Time) { s.observe("insert", "quotes", start, err) }(time.Now())

	_, err = s.pool.Exec(ctx, `
		INSERT INTO quotes (id, transaction_id, provider, exchange_rate, fee,
			destination_amount, expires_at, provider_quote_ref, created_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9)`,
		q.ID, q.TransactionID, q.Provider, q.ExchangeRate.String(), q.Fee,
		q.DestinationAmount, q.ExpiresAt, q.ProviderQuoteRef, q.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert quote: %w", err)
	}
	return nil
}

// LatestQuote implements remittance.Ledger.
func (s *Store) LatestQuote(ctx context.Context, transactionID string) (_ *remittance.Quote, err error) {
	defer func(start time.Time) { s.observe("latest", "quotes", start, err) }(time.Now())

	var q remittance.Quote
	var rate string
	err = s.pool.QueryRow(ctx, `
		SELECT id, transaction_id, provider, exchange_rate::text, fee,
			destination_amount, expires_at, provider_quote_ref, created_at
		FROM quotes
		WHERE transaction_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1`, transactionID,
	).Scan(&q.ID, &q.TransactionID, &q.Provider, &rate, &q.Fee,
		&q.DestinationAmount, &q.ExpiresAt, &q.ProviderQuoteRef, &q.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", remittance.ErrQuoteNotFound, transactionID)
	}
	if err != nil {
		return nil, err
	}
	if q.ExchangeRate, err = decimal.NewFromString(rate); err != nil {
		return nil, fmt.Errorf("invalid stored exchange rate %q: %w", rate, err)
	}
	return &q, nil
}

const paymentColumns = `id, transaction_id, attempt_number, provider,
	COALESCE(provider_reference, ''), status, requested_at, last_checked_at, failure_reason`

func scanPayment(row pgx.Row) (*remittance.Payment, error) {
	var p remittance.Payment
	var status string
	err := row.Scan(&p.ID, &p.TransactionID, &p.AttemptNumber, &p.Provider,
		&p.ProviderReference, &status, &p.RequestedAt, &p.LastCheckedAt, &p.FailureReason)
	if err != nil {
		return nil, err
	}
	p.Status = remittance.PaymentStatus(status)
	return &p, nil
}

// AppendPayment implements remittance.Ledger.
func (s *Store) AppendPayment(ctx context.Context, p *remittance.Payment) (err error) {
	defer func(start time.Time) { s.observe("insert", "payments", start, err) }(time.Now())

	err = s.pool.QueryRow(ctx, `
		INSERT INTO payments (id, transaction_id, attempt_number, provider,
			provider_reference, status, requested_at, failure_reason)
		SELECT $1, $2, COALESCE(MAX(attempt_number), 0) + 1, $3, NULLIF($4::text, ''), $5, $6, $7
		FROM payments WHERE transaction_id = $2
		RETURNING attempt_number`,
		p.ID, p.TransactionID, p.Provider, p.ProviderReference, string(p.Status), p.RequestedAt, p.FailureReason,
	).Scan(&p.AttemptNumber)
	if err != nil {
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

// UpdatePayment implements remittance.Ledger. The provider reference is only
// written while it is empty.
func (s *Store) UpdatePayment(ctx context.Context, transactionID string, attempt int, upd remittance.PaymentUpdate) (_ *remittance.Payment, err error) {
	defer func(start time.Time) { s.observe("update", "payments", start, err) }(time.Now())

	var checkedAt *time.Time
	if !upd.CheckedAt.IsZero() {
		checkedAt = &upd.CheckedAt
	}

	p, err := scanPayment(s.pool.QueryRow(ctx, `
		UPDATE payments
		SET status = COALESCE(NULLIF($3::text, ''), status),
			provider_reference = COALESCE(provider_reference, NULLIF($4::text, '')),
			failure_reason = COALESCE(NULLIF($5::text, ''), failure_reason),
			last_checked_at = COALESCE($6, last_checked_at)
		WHERE transaction_id = $1 AND attempt_number = $2
			AND (provider_reference IS NULL OR $4::text = '' OR provider_reference = $4::text)
		RETURNING `+paymentColumns,
		transactionID, attempt, string(upd.Status), upd.ProviderReference, upd.FailureReason, checkedAt,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		var ref string
		lerr := s.pool.QueryRow(ctx,
			`SELECT COALESCE(provider_reference, '') FROM payments WHERE transaction_id = $1 AND attempt_number = $2`,
			transactionID, attempt).Scan(&ref)
		if errors.Is(lerr, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s attempt %d", remittance.ErrPaymentNotFound, transactionID, attempt)
		}
		if lerr != nil {
			return nil, lerr
		}
		return nil, fmt.Errorf("%w: %s attempt %d has %s", remittance.ErrReferenceConflict, transactionID, attempt, ref)
	}
	return p, err
}

// Payments implements remittance.Ledger.
func (s *Store) Payments(ctx context.Context, transactionID string) (_ []*remittance.Payment, err error) {
	defer func(start time.Time) { s.observe("list", "payments", start, err) }(time.Now())

	rows, err := s.pool.Query(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE transaction_id = $1 ORDER BY attempt_number`,
		transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*remittance.Payment{}
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// LatestPayment implements remittance.Ledger.
func (s *Store) LatestPayment(ctx context.Context, transactionID string) (_ *remittance.Payment, err error) {
	defer func(start time.Time) { s.observe("latest", "payments", start, err) }(time.Now())

	p, err := scanPayment(s.pool.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE transaction_id = $1 ORDER BY attempt_number DESC LIMIT 1`,
		transactionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", remittance.ErrPaymentNotFound, transactionID)
	}
	return p, err
}

// FindPaymentByProviderReference implements remittance.Ledger.
func (s *Store) FindPaymentByProviderReference(ctx context.Context, providerName, ref string) (_ *remittance.Payment, err error) {
	defer func(start time.Time) { s.observe("find_by_reference", "payments", start, err) }(time.Now())

	p, err := scanPayment(s.pool.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE provider = $1 AND provider_reference = $2`,
		providerName, ref))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s reference %s", remittance.ErrPaymentNotFound, providerName, ref)
	}
	return p, err
}

// ListByStatus implements remittance.Ledger.
func (s *Store) ListByStatus(ctx context.Context, statuses []remittance.Status, updatedBefore time.Time, limit int) (_ []*remittance.Transaction, err error) {
	defer func(start time.Time) { s.observe("list_by_status", "transactions", start, err) }(time.Now())

	names := make([]string, len(statuses))
	for i, st := range statuses {
		names[i] = string(st)
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE status = ANY($1) AND updated_at < $2
		ORDER BY updated_at
		LIMIT $3`, names, updatedBefore, limit)
	if err != nil {
		return nil, err
	}
	return collectTransactions(rows)
}

// ListByUser implements remittance.Ledger.
func (s *Store) ListByUser(ctx context.Context, userID string, limit, offset int) (_ []*remittance.Transaction, err error) {
	defer func(start time.Time) { s.observe("list_by_user", "transactions", start, err) }(time.Now())

	rows, err := s.pool.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE sender_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectTransactions(rows)
}
