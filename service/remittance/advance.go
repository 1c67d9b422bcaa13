package remittance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bobbercheng/remit-demo-sub001/service/provider"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

var errStillPending = errors.New("transfer still pending")

// Advance moves a transaction forward until it reaches a terminal status,
// UNKNOWN_RECONCILING, or an EXECUTING transfer the provider has not settled
// yet. It is safe to call repeatedly and from several workers: a transaction
// leased elsewhere fails with ErrTransactionBusy.
func (o *Orchestrator) Advance(ctx context.Context, id string) (*Transaction, error) {
	lease, err := o.acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer o.releaseLease(ctx, id, lease)

	start := time.Now()
	tx, err := o.ledger.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	for {
		var next *Transaction
		switch tx.Status {
		case StatusCreated:
			next, err = o.checkLimit(ctx, tx)
			if errors.Is(err, ErrDailyLimitExceeded) || IsValidation(err) {
				next, err = o.ledger.Get(ctx, id)
			}
		case StatusLimitChecked, StatusQuoteExpiredRetry:
			next, err = o.quote(ctx, tx)
		case StatusQuoted:
			next, err = o.execute(ctx, tx)
		case StatusExecuting:
			next, err = o.resumeExecuting(ctx, tx)
		default:
			o.metrics.RecordAdvance(string(tx.Status), time.Since(start).Seconds())
			return tx, nil
		}
		if err != nil {
			o.logger.WarnContext(ctx, "advance stopped",
				"transaction_id", id,
				"status", tx.Status,
				"error", err,
			)
			return tx, err
		}
		if next.Status == tx.Status {
			o.metrics.RecordAdvance(string(next.Status), time.Since(start).Seconds())
			return next, nil
		}
		tx = next
	}
}

// quote obtains a fresh quote with bounded retries of transient provider errors.
func (o *Orchestrator) quote(ctx context.Context, tx *Transaction) (*Transaction, error) {
	if tx.Status == StatusQuoteExpiredRetry && tx.QuoteAttempts >= o.cfg.Retry.MaxAttempts {
		return o.fail(ctx, tx, fmt.Sprintf("quote expired %d times before execution", tx.QuoteAttempts))
	}

	err := retry(ctx, o.cfg.Retry, func() error {
		_, err := o.quotes.GetQuote(ctx, tx)
		if err == nil || provider.IsRetryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}, o.notifyRetry(ctx, tx, "quote"))
	if err == nil {
		return o.transition(ctx, tx, StatusQuoted, "")
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if providerOutcome(err) {
		return o.fail(ctx, tx, "quote failed: "+err.Error())
	}
	return nil, err
}

// execute checks quote freshness, moves to EXECUTING and submits the transfer.
func (o *Orchestrator) execute(ctx context.Context, tx *Transaction) (*Transaction, error) {
	q, err := o.ledger.LatestQuote(ctx, tx.ID)
	if err != nil && !errors.Is(err, ErrQuoteNotFound) {
		return nil, err
	}
	if q == nil || q.Expired(o.now()) {
		return o.transition(ctx, tx, StatusQuoteExpiredRetry, "quote expired before execution")
	}

	executing, err := o.transition(ctx, tx, StatusExecuting, "")
	if err != nil {
		return nil, err
	}
	return o.submitPayment(ctx, executing, q)
}

// resumeExecuting picks up an EXECUTING transaction from whatever its latest
// payment attempt says.
func (o *Orchestrator) resumeExecuting(ctx context.Context, tx *Transaction) (*Transaction, error) {
	p, err := o.ledger.LatestPayment(ctx, tx.ID)
	if errors.Is(err, ErrPaymentNotFound) {
		// Nothing reached the provider yet.
		q, qerr := o.ledger.LatestQuote(ctx, tx.ID)
		if qerr != nil && !errors.Is(qerr, ErrQuoteNotFound) {
			return nil, qerr
		}
		if q == nil || q.Expired(o.now()) {
			return o.fail(ctx, tx, "quote expired before execution")
		}
		return o.submitPayment(ctx, tx, q)
	}
	if err != nil {
		return nil, err
	}

	switch p.Status {
	case PaymentSettled:
		return o.settle(ctx, tx, p)
	case PaymentFailed:
		return o.fail(ctx, tx, "payment failed: "+p.FailureReason)
	case PaymentSubmitted:
		return o.pollSettlement(ctx, tx, p)
	default:
		return o.transition(ctx, tx, StatusUnknownReconciling, "execution outcome unknown")
	}
}

// submitPayment records a payment attempt before calling the provider so that
// a crash mid-call leaves evidence for reconciliation.
func (o *Orchestrator) submitPayment(ctx context.Context, tx *Transaction, q *Quote) (*Transaction, error) {
	adapter, err := o.router.Adapter(tx.SelectedProvider)
	if err != nil {
		return o.fail(ctx, tx, err.Error())
	}

	p := &Payment{
		ID:            uuid.NewString(),
		TransactionID: tx.ID,
		Provider:      tx.SelectedProvider,
		Status:        PaymentRequested,
		RequestedAt:   o.now(),
	}
	if err := o.ledger.AppendPayment(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to record payment attempt: %w", err)
	}

	ref, err := adapter.ExecuteTransfer(ctx, o.transferRequest(tx, q))
	if err == nil {
		o.logger.InfoContext(ctx, "transfer submitted",
			"transaction_id", tx.ID,
			"provider", tx.SelectedProvider,
			"provider_reference", ref,
			"attempt", p.AttemptNumber,
		)
		if _, err := o.ledger.UpdatePayment(ctx, tx.ID, p.AttemptNumber, PaymentUpdate{
			Status:            PaymentSubmitted,
			ProviderReference: ref,
			CheckedAt:         o.now(),
		}); err != nil {
			return nil, fmt.Errorf("failed to record provider reference: %w", err)
		}
		return tx, nil
	}

	if rejected(err) || provider.NotSent(err) {
		if _, uerr := o.ledger.UpdatePayment(ctx, tx.ID, p.AttemptNumber, PaymentUpdate{
			Status:        PaymentFailed,
			FailureReason: err.Error(),
			CheckedAt:     o.now(),
		}); uerr != nil {
			return nil, uerr
		}
		reason := "provider rejected transfer: "
		if !rejected(err) {
			reason = "transfer not sent: "
		}
		return o.fail(ctx, tx, reason+err.Error())
	}

	// Anything else may or may not have moved money.
	if _, uerr := o.ledger.UpdatePayment(ctx, tx.ID, p.AttemptNumber, PaymentUpdate{
		Status:        PaymentUnknown,
		FailureReason: err.Error(),
		CheckedAt:     o.now(),
	}); uerr != nil {
		return nil, uerr
	}
	o.logger.WarnContext(ctx, "transfer outcome unknown",
		"transaction_id", tx.ID,
		"provider", tx.SelectedProvider,
		"error", err,
	)
	return o.transition(ctx, tx, StatusUnknownReconciling, err.Error())
}

// pollSettlement queries the provider a bounded number of times. A transfer
// that is still pending leaves the transaction in EXECUTING.
func (o *Orchestrator) pollSettlement(ctx context.Context, tx *Transaction, p *Payment) (*Transaction, error) {
	adapter, err := o.router.Adapter(p.Provider)
	if err != nil {
		return nil, err
	}

	result := tx
	err = retry(ctx, o.cfg.Retry, func() error {
		st, err := adapter.GetTransferStatus(ctx, p.ProviderReference)
		if err != nil {
			if provider.IsRetryable(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		next, err := o.applyStatus(ctx, tx, p, st)
		if err != nil {
			return backoff.Permanent(err)
		}
		result = next
		if st.State == provider.StatePending {
			return errStillPending
		}
		return nil
	}, o.notifyRetry(ctx, tx, "status"))

	switch {
	case err == nil:
		return result, nil
	case errors.Is(err, errStillPending), provider.IsRetryable(err), errors.Is(err, provider.ErrUnknownReference):
		return result, nil
	case ctx.Err() != nil:
		return nil, ctx.Err()
	}
	return nil, err
}

// applyStatus records a provider-reported transfer state against p and moves
// the transaction accordingly. Pending only stamps the check time.
func (o *Orchestrator) applyStatus(ctx context.Context, tx *Transaction, p *Payment, st provider.TransferStatus) (*Transaction, error) {
	now := o.now()
	switch st.State {
	case provider.StateSettled:
		updated, err := o.ledger.UpdatePayment(ctx, tx.ID, p.AttemptNumber, PaymentUpdate{Status: PaymentSettled, CheckedAt: now})
		if err != nil {
			return nil, err
		}
		return o.settle(ctx, tx, updated)
	case provider.StateFailed:
		if _, err := o.ledger.UpdatePayment(ctx, tx.ID, p.AttemptNumber, PaymentUpdate{
			Status:        PaymentFailed,
			FailureReason: st.Reason,
			CheckedAt:     now,
		}); err != nil {
			return nil, err
		}
		return o.fail(ctx, tx, "provider reported failure: "+st.Reason)
	default:
		if _, err := o.ledger.UpdatePayment(ctx, tx.ID, p.AttemptNumber, PaymentUpdate{Status: p.Status, CheckedAt: now}); err != nil {
			return nil, err
		}
		return tx, nil
	}
}

func (o *Orchestrator) settle(ctx context.Context, tx *Transaction, p *Payment) (*Transaction, error) {
	return o.transitionRef(ctx, tx, StatusSettled, "", p.ProviderReference)
}

func (o *Orchestrator) transferRequest(tx *Transaction, q *Quote) provider.TransferRequest {
	req := provider.TransferRequest{
		SourceAmount:        tx.SourceAmount,
		SourceCurrency:      tx.SourceCurrency,
		DestinationCurrency: tx.DestinationCurrency,
		Sender:              provider.Party{ID: tx.SenderID},
		Recipient: provider.Party{
			ID:            tx.RecipientID,
			Name:          tx.Recipient.Name,
			AccountNumber: tx.Recipient.AccountNumber,
			BankCode:      tx.Recipient.BankCode,
		},
		IdempotencyKey: tx.IdempotencyKey,
	}
	if q != nil {
		req.QuoteRef = q.ProviderQuoteRef
	}
	return req
}

func (o *Orchestrator) notifyRetry(ctx context.Context, tx *Transaction, op string) backoff.Notify {
	return func(err error, wait time.Duration) {
		o.metrics.RecordProviderRetry(tx.SelectedProvider, op)
		o.logger.WarnContext(ctx, "retrying provider call",
			"transaction_id", tx.ID,
			"provider", tx.SelectedProvider,
			"operation", op,
			"wait", wait,
			"error", err,
		)
	}
}

// retry runs op up to cfg.MaxAttempts times with capped exponential backoff.
// Errors wrapped with backoff.Permanent stop immediately.
func retry(ctx context.Context, cfg RetryConfig, op func() error, notify backoff.Notify) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = cfg.BaseBackoff
	eb.MaxInterval = cfg.MaxBackoff
	eb.MaxElapsedTime = 0
	eb.Reset()

	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(attempts-1)), ctx)
	return backoff.RetryNotify(op, b, notify)
}

// rejected reports a definitive provider refusal: nothing was or will be moved.
func rejected(err error) bool {
	return errors.Is(err, provider.ErrProviderRejected) || errors.Is(err, provider.ErrUnsupportedCorridor)
}

// providerOutcome reports whether a quote failure came from the provider side
// and so should end the transaction rather than be retried later.
func providerOutcome(err error) bool {
	return rejected(err) ||
		provider.IsRetryable(err) ||
		errors.Is(err, provider.ErrNoProviderForCorridor) ||
		errors.Is(err, ErrInvalidCurrency)
}
