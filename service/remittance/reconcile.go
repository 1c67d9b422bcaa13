package remittance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bobbercheng/remit-demo-sub001/service/metrics"
	"github.com/bobbercheng/remit-demo-sub001/service/nats"
	"github.com/bobbercheng/remit-demo-sub001/service/provider"
	"github.com/google/uuid"
)

// Reconcile resolves a transaction whose execution outcome is unknown by asking
// the provider what happened. Transactions in any other status are returned
// unchanged, so repeated calls never duplicate side effects.
//
// A transfer that is still unresolved past ReconcileMaxWindow raises an alert and
// returns ErrReconciliationUnresolved; the transaction stays UNKNOWN_RECONCILING.
func (o *Orchestrator) Reconcile(ctx context.Context, id string) (*Transaction, error) {
	tx, _, err := o.reconcileByID(ctx, id)
	return tx, err
}

// reconcileByID reports checked=false when the transaction was no longer
// UNKNOWN_RECONCILING once the lease was held.
func (o *Orchestrator) reconcileByID(ctx context.Context, id string) (_ *Transaction, checked bool, _ error) {
	lease, err := o.acquire(ctx, id)
	if err != nil {
		return nil, false, err
	}
	defer o.releaseLease(ctx, id, lease)

	tx, err := o.ledger.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if tx.Status != StatusUnknownReconciling {
		return tx, false, nil
	}

	resolved, err := o.reconcile(ctx, tx)
	switch {
	case err != nil:
		o.metrics.RecordReconcileOutcome("error")
	case resolved.Status == StatusSettled:
		o.metrics.RecordReconcileOutcome("settled")
	case resolved.Status == StatusExecutionFailed:
		o.metrics.RecordReconcileOutcome("failed")
	default:
		o.metrics.RecordReconcileOutcome("pending")
	}
	return resolved, true, err
}

func (o *Orchestrator) reconcile(ctx context.Context, tx *Transaction) (*Transaction, error) {
	p, err := o.ledger.LatestPayment(ctx, tx.ID)
	if errors.Is(err, ErrPaymentNotFound) {
		p = &Payment{
			ID:            uuid.NewString(),
			TransactionID: tx.ID,
			Provider:      tx.SelectedProvider,
			Status:        PaymentRequested,
			RequestedAt:   o.now(),
		}
		if err := o.ledger.AppendPayment(ctx, p); err != nil {
			return nil, fmt.Errorf("failed to record payment attempt: %w", err)
		}
	} else if err != nil {
		return nil, err
	}

	switch p.Status {
	case PaymentSettled:
		return o.settle(ctx, tx, p)
	case PaymentFailed:
		return o.fail(ctx, tx, "payment failed: "+p.FailureReason)
	}

	adapter, err := o.router.Adapter(p.Provider)
	if err != nil {
		return nil, err
	}

	if p.ProviderReference == "" {
		// No reference means we never learned whether the provider accepted the
		// transfer. Re-sending with the same idempotency key either creates it now
		// or returns the reference of the one already made.
		q, qerr := o.ledger.LatestQuote(ctx, tx.ID)
		if qerr != nil && !errors.Is(qerr, ErrQuoteNotFound) {
			return nil, qerr
		}
		ref, err := adapter.ExecuteTransfer(ctx, o.transferRequest(tx, q))
		if err != nil {
			if rejected(err) {
				if _, uerr := o.ledger.UpdatePayment(ctx, tx.ID, p.AttemptNumber, PaymentUpdate{
					Status:        PaymentFailed,
					FailureReason: err.Error(),
					CheckedAt:     o.now(),
				}); uerr != nil {
					return nil, uerr
				}
				return o.fail(ctx, tx, "provider rejected transfer: "+err.Error())
			}
			return o.unresolved(ctx, tx, p, err)
		}
		p, err = o.ledger.UpdatePayment(ctx, tx.ID, p.AttemptNumber, PaymentUpdate{
			Status:            PaymentSubmitted,
			ProviderReference: ref,
			CheckedAt:         o.now(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to record provider reference: %w", err)
		}
		o.logger.InfoContext(ctx, "recovered provider reference",
			"transaction_id", tx.ID,
			"provider", p.Provider,
			"provider_reference", ref,
		)
	}

	st, err := adapter.GetTransferStatus(ctx, p.ProviderReference)
	if err != nil {
		return o.unresolved(ctx, tx, p, err)
	}
	resolved, err := o.applyStatus(ctx, tx, p, st)
	if err != nil {
		return nil, err
	}
	if resolved.Status == StatusUnknownReconciling {
		return o.unresolved(ctx, tx, p, errStillPending)
	}
	return resolved, nil
}

// unresolved leaves tx in UNKNOWN_RECONCILING and escalates once the
// reconciliation window has passed.
func (o *Orchestrator) unresolved(ctx context.Context, tx *Transaction, p *Payment, cause error) (*Transaction, error) {
	age := o.now().Sub(tx.UpdatedAt)
	if age < o.cfg.ReconcileMaxWindow {
		o.logger.InfoContext(ctx, "reconciliation inconclusive",
			"transaction_id", tx.ID,
			"unresolved_for", age,
			"error", cause,
		)
		return tx, nil
	}

	o.metrics.RecordReconcileAlert()
	o.logger.ErrorContext(ctx, "reconciliation unresolved past window",
		"transaction_id", tx.ID,
		"provider", p.Provider,
		"provider_reference", p.ProviderReference,
		"unresolved_for", age,
		"error", cause,
	)
	if o.publisher != nil {
		alert := &nats.ReconciliationAlert{
			TransactionID:     tx.ID,
			Provider:          p.Provider,
			ProviderReference: p.ProviderReference,
			Unresolved:        age,
			LastError:         cause.Error(),
		}
		if err := o.publisher.PublishAlert(ctx, alert); err != nil {
			o.logger.WarnContext(ctx, "failed to publish reconciliation alert",
				"transaction_id", tx.ID,
				"error", err,
			)
		}
	}
	return tx, fmt.Errorf("%w: %s after %s: %v", ErrReconciliationUnresolved, tx.ID, age.Round(time.Second), cause)
}

// ApplyProviderStatus records a status pushed by a provider (a webhook) for the
// transfer with the given reference. Notifications for transactions that are
// already resolved are ignored.
func (o *Orchestrator) ApplyProviderStatus(ctx context.Context, providerName, ref string, st provider.TransferStatus) (*Transaction, error) {
	p, err := o.ledger.FindPaymentByProviderReference(ctx, providerName, ref)
	if err != nil {
		return nil, err
	}

	lease, err := o.acquire(ctx, p.TransactionID)
	if err != nil {
		return nil, err
	}
	defer o.releaseLease(ctx, p.TransactionID, lease)

	tx, err := o.ledger.Get(ctx, p.TransactionID)
	if err != nil {
		return nil, err
	}
	if tx.Status != StatusExecuting && tx.Status != StatusUnknownReconciling {
		o.logger.InfoContext(ctx, "ignoring provider status for resolved transaction",
			"transaction_id", tx.ID,
			"status", tx.Status,
			"provider_state", st.State,
		)
		return tx, nil
	}
	return o.applyStatus(ctx, tx, p, st)
}

// SweepResult counts what one recovery pass did.
type SweepResult struct {
	Resumed    int `json:"resumed"`
	Suspended  int `json:"suspended"`
	Reconciled int `json:"reconciled"`
	Unresolved int `json:"unresolved"`
	Errors     int `json:"errors"`
}

// Reconciler periodically recovers transactions that stopped moving: pre-execution
// work that was never dispatched, EXECUTING transfers left behind by a crashed
// worker, and UNKNOWN_RECONCILING transfers due for another provider check.
type Reconciler struct {
	orch      *Orchestrator
	batchSize int
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewReconciler creates a reconciler over orch.
func NewReconciler(orch *Orchestrator, batchSize int) *Reconciler {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Reconciler{
		orch:      orch,
		batchSize: batchSize,
		metrics:   orch.metrics,
		logger:    orch.logger,
	}
}

// RunOnce performs a single recovery pass.
func (r *Reconciler) RunOnce(ctx context.Context) (SweepResult, error) {
	start := time.Now()
	defer metrics.Timer(start, r.metrics.RecordSweep)()

	var res SweepResult
	o := r.orch
	now := o.now()

	pending, err := o.ledger.ListByStatus(ctx,
		[]Status{StatusCreated, StatusLimitChecked, StatusQuoted, StatusQuoteExpiredRetry},
		now.Add(-o.cfg.StaleAfter), r.batchSize)
	if err != nil {
		return res, fmt.Errorf("failed to list stale transactions: %w", err)
	}
	for _, tx := range pending {
		if err := o.dispatcher.Enqueue(ctx, tx.ID); err != nil {
			res.Errors++
			r.logger.WarnContext(ctx, "failed to re-enqueue stale transaction",
				"transaction_id", tx.ID,
				"error", err,
			)
			continue
		}
		res.Resumed++
	}

	executing, err := o.ledger.ListByStatus(ctx, []Status{StatusExecuting}, now.Add(-o.cfg.StaleAfter), r.batchSize)
	if err != nil {
		return res, fmt.Errorf("failed to list stale executions: %w", err)
	}
	for _, tx := range executing {
		moved, err := r.suspend(ctx, tx.ID)
		if err != nil {
			if !errors.Is(err, ErrTransactionBusy) {
				res.Errors++
				r.logger.WarnContext(ctx, "failed to suspend stale execution",
					"transaction_id", tx.ID,
					"error", err,
				)
			}
			continue
		}
		if moved {
			res.Suspended++
		}
	}

	unknown, err := o.ledger.ListByStatus(ctx, []Status{StatusUnknownReconciling}, now.Add(-o.cfg.ReconcileGracePeriod), r.batchSize)
	if err != nil {
		return res, fmt.Errorf("failed to list unresolved transactions: %w", err)
	}
	for _, tx := range unknown {
		// Another sweep may have resolved it since the listing.
		resolved, checked, err := o.reconcileByID(ctx, tx.ID)
		switch {
		case errors.Is(err, ErrReconciliationUnresolved):
			res.Unresolved++
		case errors.Is(err, ErrTransactionBusy):
		case err != nil:
			res.Errors++
			r.logger.WarnContext(ctx, "reconciliation failed",
				"transaction_id", tx.ID,
				"error", err,
			)
		case checked && resolved.Status.Terminal():
			res.Reconciled++
		}
	}

	r.logger.InfoContext(ctx, "recovery sweep complete",
		"resumed", res.Resumed,
		"suspended", res.Suspended,
		"reconciled", res.Reconciled,
		"unresolved", res.Unresolved,
		"errors", res.Errors,
		"duration", time.Since(start),
	)
	return res, nil
}

// suspend moves an EXECUTING transaction nobody has touched for StaleAfter into
// UNKNOWN_RECONCILING, unless its latest attempt already has a definite answer.
// It reports whether the transaction was still EXECUTING and so was moved.
func (r *Reconciler) suspend(ctx context.Context, id string) (bool, error) {
	o := r.orch
	lease, err := o.acquire(ctx, id)
	if err != nil {
		return false, err
	}
	defer o.releaseLease(ctx, id, lease)

	tx, err := o.ledger.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if tx.Status != StatusExecuting {
		return false, nil
	}

	p, err := o.ledger.LatestPayment(ctx, id)
	if err != nil && !errors.Is(err, ErrPaymentNotFound) {
		return false, err
	}
	switch {
	case p != nil && p.Status == PaymentSettled:
		_, err = o.settle(ctx, tx, p)
	case p != nil && p.Status == PaymentFailed:
		_, err = o.fail(ctx, tx, "payment failed: "+p.FailureReason)
	default:
		_, err = o.transition(ctx, tx, StatusUnknownReconciling, fmt.Sprintf("no progress for %s", o.cfg.StaleAfter))
	}
	return err == nil, err
}

// Run performs a recovery pass every interval until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.InfoContext(ctx, "recovery sweep started", "interval", interval)
	for {
		if _, err := r.RunOnce(ctx); err != nil {
			r.logger.ErrorContext(ctx, "recovery sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "recovery sweep stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
