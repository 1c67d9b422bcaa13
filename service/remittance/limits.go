package remittance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bobbercheng/remit-demo-sub001/service/metrics"
)

// DayFormat is the layout of the calendar-day component of a counter key.
const DayFormat = "2006-01-02"

// Day returns the UTC calendar day t falls in.
func Day(t time.Time) string {
	return t.UTC().Format(DayFormat)
}

// LimitEnforcer applies static per-transaction bounds and the per-user daily cap.
type LimitEnforcer struct {
	min, max, daily int64
	store           CounterStore
	now             func() time.Time
	metrics         *metrics.Metrics
	logger          *slog.Logger
}

// NewLimitEnforcer creates an enforcer over store.
func NewLimitEnforcer(cfg Config, store CounterStore, m *metrics.Metrics, logger *slog.Logger) *LimitEnforcer {
	return &LimitEnforcer{
		min:     cfg.MinAmount,
		max:     cfg.MaxAmount,
		daily:   cfg.DailyLimitPerUser,
		store:   store,
		now:     time.Now,
		metrics: m,
		logger:  logger,
	}
}

// CheckBounds validates amount against the inclusive [min, max] range.
func (l *LimitEnforcer) CheckBounds(amount int64, currency string) error {
	switch {
	case amount < l.min:
		l.metrics.RecordReservation("too_small")
		return &ValidationError{
			Field:  "source_amount",
			Reason: fmt.Sprintf("%d %s is below the minimum of %d", amount, currency, l.min),
			Err:    ErrAmountTooSmall,
		}
	case amount > l.max:
		l.metrics.RecordReservation("too_large")
		return &ValidationError{
			Field:  "source_amount",
			Reason: fmt.Sprintf("%d %s is above the maximum of %d", amount, currency, l.max),
			Err:    ErrAmountTooLarge,
		}
	}
	return nil
}

// CheckAndReserve validates amount and atomically reserves it against the user's
// daily total for transactionID. On ErrDailyLimitExceeded nothing is reserved.
func (l *LimitEnforcer) CheckAndReserve(ctx context.Context, userID, transactionID string, amount int64, currency string) (Reservation, error) {
	if err := l.CheckBounds(amount, currency); err != nil {
		return Reservation{}, err
	}

	r := Reservation{
		TransactionID: transactionID,
		UserID:        userID,
		Day:           Day(l.now()),
		Amount:        amount,
	}

	ok, err := l.store.Reserve(ctx, r, l.daily)
	if err != nil {
		l.metrics.RecordReservation("error")
		return Reservation{}, fmt.Errorf("failed to reserve daily limit: %w", err)
	}
	if !ok {
		l.metrics.RecordReservation("exceeded")
		return Reservation{}, fmt.Errorf("%w: %d %s for user %s on %s", ErrDailyLimitExceeded, amount, currency, userID, r.Day)
	}

	l.metrics.RecordReservation("reserved")
	return r, nil
}

// Release returns a reservation to the user's daily allowance. Releasing twice is
// a no-op that reports false.
func (l *LimitEnforcer) Release(ctx context.Context, r Reservation, reason string) (bool, error) {
	released, err := l.store.Release(ctx, r)
	if err != nil {
		return false, fmt.Errorf("failed to release reservation for %s: %w", r.TransactionID, err)
	}
	if released {
		l.metrics.RecordRelease(reason)
		l.logger.InfoContext(ctx, "released daily limit reservation",
			"transaction_id", r.TransactionID,
			"reason", reason,
		)
	}
	return released, nil
}

// Usage returns the reserved total for userID on day.
func (l *LimitEnforcer) Usage(ctx context.Context, userID, day string) (int64, error) {
	return l.store.Usage(ctx, userID, day)
}

// DailyLimit returns the configured per-user daily cap.
func (l *LimitEnforcer) DailyLimit() int64 { return l.daily }
