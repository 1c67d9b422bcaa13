package remittance

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/bobbercheng/remit-demo-sub001/service/metrics"
	"github.com/bobbercheng/remit-demo-sub001/service/nats"
	"github.com/bobbercheng/remit-demo-sub001/service/provider"
	"github.com/google/uuid"
)

// Orchestrator drives transactions through the remittance state machine.
//
// Every step that touches a provider runs under a per-transaction lease and
// every status write is a compare-and-set, so concurrent workers cannot both
// advance the same transaction.
type Orchestrator struct {
	cfg        Config
	ledger     Ledger
	limits     *LimitEnforcer
	quotes     *QuoteService
	router     *provider.Router
	locker     Locker
	dispatcher Dispatcher
	publisher  nats.Publisher
	validator  *requestValidator
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithDispatcher sets where submitted transactions are enqueued.
func WithDispatcher(d Dispatcher) Option {
	return func(o *Orchestrator) { o.dispatcher = d }
}

// WithPublisher publishes a TransactionEvent on every status change.
func WithPublisher(p nats.Publisher) Option {
	return func(o *Orchestrator) { o.publisher = p }
}

// WithMetrics records orchestration metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithClock replaces time.Now. Quote expiry, counter days and reconciliation
// windows all read this clock.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// NewOrchestrator wires the core. Without a dispatcher, submitted transactions
// wait for Advance to be called directly or for the recovery sweep.
func NewOrchestrator(cfg Config, ledger Ledger, counters CounterStore, router *provider.Router, locker Locker, opts ...Option) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if ledger == nil || counters == nil || router == nil || locker == nil {
		return nil, fmt.Errorf("ledger, counters, router and locker are required")
	}

	o := &Orchestrator{
		cfg:        cfg,
		ledger:     ledger,
		router:     router,
		locker:     locker,
		dispatcher: noopDispatcher{},
		validator:  newRequestValidator(),
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}

	o.limits = NewLimitEnforcer(cfg, counters, o.metrics, o.logger)
	o.limits.now = o.now
	o.quotes = NewQuoteService(router, ledger, cfg.QuoteDefaultValidity, o.logger)
	o.quotes.now = o.now
	return o, nil
}

// SetDispatcher replaces the dispatcher. Dispatchers usually need the
// orchestrator themselves, so they are attached after construction.
func (o *Orchestrator) SetDispatcher(d Dispatcher) {
	if d == nil {
		d = noopDispatcher{}
	}
	o.dispatcher = d
}

// Limits exposes the limit enforcer for usage queries.
func (o *Orchestrator) Limits() *LimitEnforcer { return o.limits }

// Quotes exposes the quote service for indicative pricing.
func (o *Orchestrator) Quotes() *QuoteService { return o.quotes }

// Submit validates a request, durably records it, runs the daily-limit gate and
// enqueues the transaction for asynchronous processing.
//
// A request that fails validation or the per-transaction bounds creates nothing.
// A request that exceeds the daily limit is recorded as LIMIT_REJECTED and
// returns ErrDailyLimitExceeded. Resubmitting with the same idempotency key
// returns the existing transaction with Duplicate set.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	req = normalizeRequest(req)

	if err := o.validator.validate(req); err != nil {
		o.metrics.RecordSubmission("invalid")
		return nil, err
	}
	if err := o.limits.CheckBounds(req.SourceAmount, req.SourceCurrency); err != nil {
		o.metrics.RecordSubmission("invalid")
		return nil, err
	}

	providerName, err := o.router.Select(req.SourceCurrency, req.DestinationCurrency)
	if err != nil {
		o.metrics.RecordSubmission("no_provider")
		return nil, err
	}

	now := o.now()
	hash := PayloadHash(req)
	key := req.IdempotencyKey
	if key == "" {
		key = DeriveIdempotencyKey(hash, now)
	}

	tx := &Transaction{
		ID:                  uuid.NewString(),
		IdempotencyKey:      key,
		PayloadHash:         hash,
		SenderID:            req.SenderID,
		RecipientID:         req.RecipientID,
		Recipient:           req.Recipient,
		SourceAmount:        req.SourceAmount,
		SourceCurrency:      req.SourceCurrency,
		DestinationCurrency: req.DestinationCurrency,
		SelectedProvider:    providerName,
		Status:              StatusCreated,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	stored, created, err := o.ledger.Create(ctx, tx)
	if err != nil {
		o.metrics.RecordSubmission("error")
		return nil, fmt.Errorf("failed to record transaction: %w", err)
	}
	if !created {
		if stored.PayloadHash != hash {
			o.metrics.RecordSubmission("conflict")
			return nil, fmt.Errorf("%w: key %q belongs to transaction %s", ErrIdempotencyConflict, key, stored.ID)
		}
		o.metrics.RecordSubmission("duplicate")
		o.logger.InfoContext(ctx, "duplicate submission",
			"transaction_id", stored.ID,
			"idempotency_key", key,
			"status", stored.Status,
		)
		return &SubmitResult{TransactionID: stored.ID, Status: stored.Status, Duplicate: true}, nil
	}

	o.logger.InfoContext(ctx, "transaction created",
		"transaction_id", stored.ID,
		"sender_id", stored.SenderID,
		"amount", stored.SourceAmount,
		"source_currency", stored.SourceCurrency,
		"destination_currency", stored.DestinationCurrency,
		"provider", stored.SelectedProvider,
	)
	o.publish(ctx, stored, "", "")

	checked, err := o.checkLimit(ctx, stored)
	if err != nil {
		if errors.Is(err, ErrDailyLimitExceeded) {
			o.metrics.RecordSubmission("limit_rejected")
		} else {
			o.metrics.RecordSubmission("error")
		}
		return nil, err
	}

	if err := o.dispatcher.Enqueue(ctx, checked.ID); err != nil {
		// The recovery sweep picks up transactions that were never dispatched.
		o.logger.WarnContext(ctx, "failed to enqueue transaction",
			"transaction_id", checked.ID,
			"error", err,
		)
	}

	o.metrics.RecordSubmission("accepted")
	return &SubmitResult{TransactionID: checked.ID, Status: checked.Status}, nil
}

// Get returns a transaction by ID.
func (o *Orchestrator) Get(ctx context.Context, id string) (*Transaction, error) {
	return o.ledger.Get(ctx, id)
}

// Payments returns every execution attempt of a transaction, oldest first.
func (o *Orchestrator) Payments(ctx context.Context, id string) ([]*Payment, error) {
	if _, err := o.ledger.Get(ctx, id); err != nil {
		return nil, err
	}
	return o.ledger.Payments(ctx, id)
}

// LatestQuote returns the authoritative quote of a transaction.
func (o *Orchestrator) LatestQuote(ctx context.Context, id string) (*Quote, error) {
	return o.ledger.LatestQuote(ctx, id)
}

// ListByUser returns a sender's transactions, newest first.
func (o *Orchestrator) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*Transaction, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return o.ledger.ListByUser(ctx, userID, limit, offset)
}

// Cancel stops a transaction that has not reached execution and releases its
// reservation. It fails with ErrNotCancellable once execution may have started.
func (o *Orchestrator) Cancel(ctx context.Context, id, reason string) (*Transaction, error) {
	lease, err := o.acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer o.releaseLease(ctx, id, lease)

	tx, err := o.ledger.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !tx.Status.Cancellable() {
		return tx, fmt.Errorf("%w: status is %s", ErrNotCancellable, tx.Status)
	}

	if reason == "" {
		reason = "cancelled by request"
	}
	cancelled, err := o.transition(ctx, tx, StatusCancelled, reason)
	if err != nil {
		return nil, err
	}
	if err := o.release(ctx, cancelled, "cancelled"); err != nil {
		return cancelled, err
	}
	return cancelled, nil
}

// checkLimit reserves the amount against the sender's daily total and moves a
// CREATED transaction to LIMIT_CHECKED or LIMIT_REJECTED.
func (o *Orchestrator) checkLimit(ctx context.Context, tx *Transaction) (*Transaction, error) {
	_, err := o.limits.CheckAndReserve(ctx, tx.SenderID, tx.ID, tx.SourceAmount, tx.SourceCurrency)
	if err != nil {
		if errors.Is(err, ErrDailyLimitExceeded) || IsValidation(err) {
			if _, terr := o.transition(ctx, tx, StatusLimitRejected, err.Error()); terr != nil {
				return nil, terr
			}
		}
		return nil, err
	}
	return o.transition(ctx, tx, StatusLimitChecked, "")
}

// transition performs a compare-and-set status write and emits the change.
func (o *Orchestrator) transition(ctx context.Context, tx *Transaction, to Status, reason string) (*Transaction, error) {
	return o.transitionRef(ctx, tx, to, reason, "")
}

func (o *Orchestrator) transitionRef(ctx context.Context, tx *Transaction, to Status, reason, providerRef string) (*Transaction, error) {
	from := tx.Status
	if !CanTransition(from, to) {
		return nil, fmt.Errorf("%w: %s -> %s for %s", ErrInvalidTransition, from, to, tx.ID)
	}

	updated, err := o.ledger.UpdateStatus(ctx, tx.ID, StatusChange{From: from, To: to, Reason: reason})
	if err != nil {
		return nil, fmt.Errorf("failed to move %s from %s to %s: %w", tx.ID, from, to, err)
	}

	o.metrics.RecordTransition(string(from), string(to))
	o.logger.InfoContext(ctx, "transaction status changed",
		"transaction_id", tx.ID,
		"from", from,
		"to", to,
		"reason", reason,
	)
	o.publish(ctx, updated, from, providerRef)
	return updated, nil
}

// fail moves tx to EXECUTION_FAILED and returns its reservation.
func (o *Orchestrator) fail(ctx context.Context, tx *Transaction, reason string) (*Transaction, error) {
	failed, err := o.transition(ctx, tx, StatusExecutionFailed, reason)
	if err != nil {
		return nil, err
	}
	if err := o.release(ctx, failed, "execution_failed"); err != nil {
		return failed, err
	}
	return failed, nil
}

// release returns the transaction's daily-limit reservation, retrying transient
// store errors. The store makes repeated releases a no-op.
func (o *Orchestrator) release(ctx context.Context, tx *Transaction, reason string) error {
	r := Reservation{TransactionID: tx.ID, UserID: tx.SenderID, Amount: tx.SourceAmount}
	err := retry(ctx, o.cfg.Retry, func() error {
		_, err := o.limits.Release(ctx, r, reason)
		return err
	}, nil)
	if err != nil {
		o.logger.ErrorContext(ctx, "failed to release reservation",
			"transaction_id", tx.ID,
			"reason", reason,
			"error", err,
		)
		return err
	}
	return nil
}

func (o *Orchestrator) acquire(ctx context.Context, id string) (Lease, error) {
	lease, ok, err := o.locker.TryAcquire(ctx, id, o.cfg.LeaseTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lease for %s: %w", id, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTransactionBusy, id)
	}
	return lease, nil
}

func (o *Orchestrator) releaseLease(ctx context.Context, id string, lease Lease) {
	if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
		o.logger.WarnContext(ctx, "failed to release lease",
			"transaction_id", id,
			"error", err,
		)
	}
}

func (o *Orchestrator) publish(ctx context.Context, tx *Transaction, from Status, providerRef string) {
	if o.publisher == nil {
		return
	}
	event := &nats.TransactionEvent{
		TransactionID:       tx.ID,
		SenderID:            tx.SenderID,
		PreviousStatus:      string(from),
		Status:              string(tx.Status),
		Reason:              tx.StatusReason,
		SourceAmount:        tx.SourceAmount,
		SourceCurrency:      tx.SourceCurrency,
		DestinationCurrency: tx.DestinationCurrency,
		Provider:            tx.SelectedProvider,
		ProviderReference:   providerRef,
		OccurredAt:          tx.UpdatedAt,
	}
	if err := o.publisher.PublishTransactionEvent(ctx, event); err != nil {
		o.logger.WarnContext(ctx, "failed to publish transaction event",
			"transaction_id", tx.ID,
			"status", tx.Status,
			"error", err,
		)
	}
}

type noopDispatcher struct{}

func (noopDispatcher) Enqueue(context.Context, string) error { return nil }
