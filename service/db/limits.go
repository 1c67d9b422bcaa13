package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bobbercheng/remit-demo-sub001/service/remittance"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Reserve implements remittance.CounterStore. The reservation record and the
// counter increment commit together; the counter row lock serialises
// concurrent reservations for the same user and day.
func (s *Store) Reserve(ctx context.Context, r remittance.Reservation, limit int64) (_ bool, err error) {
	defer func(start time.Time) { s.observe("reserve", "daily_limit_counters", start, err) }(time.Now())

	if r.Amount > limit {
		return false, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var id string
	err = tx.QueryRow(ctx, `
		INSERT INTO limit_reservations (transaction_id, user_id, day, amount, reserved_at)
		VALUES ($1, $2, $3::date, $4, $5)
		ON CONFLICT (transaction_id) DO NOTHING
		RETURNING transaction_id`,
		r.TransactionID, r.UserID, r.Day, r.Amount, s.now().UTC(),
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		var releasedAt *time.Time
		if err := tx.QueryRow(ctx,
			`SELECT released_at FROM limit_reservations WHERE transaction_id = $1`,
			r.TransactionID).Scan(&releasedAt); err != nil {
			return false, err
		}
		return releasedAt == nil, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to record reservation: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO daily_limit_counters (user_id, day, used)
		VALUES ($1, $2::date, $3)
		ON CONFLICT (user_id, day) DO UPDATE
		SET used = daily_limit_counters.used + EXCLUDED.used
		WHERE daily_limit_counters.used + EXCLUDED.used <= $4`,
		r.UserID, r.Day, r.Amount, limit,
	)
	if err != nil {
		return false, fmt.Errorf("failed to increment daily counter: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit reservation: %w", err)
	}
	return true, nil
}

// Release implements remittance.CounterStore.
func (s *Store) Release(ctx context.Context, r remittance.Reservation) (_ bool, err error) {
	defer func(start time.Time) { s.observe("release", "daily_limit_counters", start, err) }(time.Now())

	tag, err := s.pool.Exec(ctx, `
		WITH released AS (
			UPDATE limit_reservations
			SET released_at = $2
			WHERE transaction_id = $1 AND released_at IS NULL
			RETURNING user_id, day, amount
		)
		UPDATE daily_limit_counters c
		SET used = c.used - released.amount
		FROM released
		WHERE c.user_id = released.user_id AND c.day = released.day`,
		r.TransactionID, s.now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to release reservation: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Usage implements remittance.CounterStore.
func (s *Store) Usage(ctx context.Context, userID, day string) (_ int64, err error) {
	defer func(start time.Time) { s.observe("usage", "daily_limit_counters", start, err) }(time.Now())

	var used int64
	err = s.pool.QueryRow(ctx,
		`SELECT used FROM daily_limit_counters WHERE user_id = $1 AND day = $2::date`,
		userID, day).Scan(&used)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return used, err
}

// TryAcquire implements remittance.Locker with lease columns on the
// transaction row. An expired lease can be taken over.
func (s *Store) TryAcquire(ctx context.Context, transactionID string, ttl time.Duration) (_ remittance.Lease, _ bool, err error) {
	defer func(start time.Time) { s.observe("acquire_lease", "transactions", start, err) }(time.Now())

	now := s.now().UTC()
	token := uuid.NewString()
	tag, err := s.pool.Exec(ctx, `
		UPDATE transactions
		SET lease_token = $2, lease_expires_at = $3
		WHERE id = $1 AND (lease_expires_at IS NULL OR lease_expires_at <= $4)`,
		transactionID, token, now.Add(ttl), now,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lease: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM transactions WHERE id = $1)`, transactionID).Scan(&exists); err != nil {
			return nil, false, err
		}
		if !exists {
			return nil, false, fmt.Errorf("%w: %s", remittance.ErrTransactionNotFound, transactionID)
		}
		return nil, false, nil
	}
	return &rowLease{store: s, transactionID: transactionID, token: token}, true, nil
}

type rowLease struct {
	store         *Store
	transactionID string
	token         string
}

// Release clears the lease if this holder still owns it.
func (l *rowLease) Release(ctx context.Context) error {
	_, err := l.store.pool.Exec(ctx, `
		UPDATE transactions
		SET lease_token = NULL, lease_expires_at = NULL
		WHERE id = $1 AND lease_token = $2`,
		l.transactionID, l.token,
	)
	return err
}
