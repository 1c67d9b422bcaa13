package remittance_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bobbercheng/remit-demo-sub001/service/provider"
	"github.com/bobbercheng/remit-demo-sub001/service/remittance"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitAndAdvance_Settles(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()

	id := h.submit(t, "key-1", 100)
	assert.Equal(t, int64(100), h.usage(t))

	tx, err := h.orch.Advance(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, remittance.StatusSettled, tx.Status)
	assert.Equal(t, 1, tx.QuoteAttempts)

	q, err := h.orch.LatestQuote(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(8300), q.DestinationAmount)

	payments, err := h.orch.Payments(ctx, id)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, remittance.PaymentSettled, payments[0].Status)
	assert.Equal(t, "fake-ref-1", payments[0].ProviderReference)
	assert.NotNil(t, payments[0].LastCheckedAt)

	// Settled transfers keep their reservation.
	assert.Equal(t, int64(100), h.usage(t))

	var statuses []string
	for _, e := range h.pub.EventsFor(id) {
		statuses = append(statuses, e.Status)
	}
	assert.Equal(t, []string{"CREATED", "LIMIT_CHECKED", "QUOTED", "EXECUTING", "SETTLED"}, statuses)
	events := h.pub.EventsFor(id)
	assert.Equal(t, "fake-ref-1", events[len(events)-1].ProviderReference)

	// Advancing a settled transaction does nothing.
	again, err := h.orch.Advance(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, remittance.StatusSettled, again.Status)
	assert.Equal(t, 1, h.fake.ExecuteCalls)
}

func TestSubmit_BelowMinimumCreatesNothing(t *testing.T) {
	h := newHarness(t)

	_, err := h.orch.Submit(t.Context(), request("key-1", 50))
	require.ErrorIs(t, err, remittance.ErrAmountTooSmall)
	assert.True(t, remittance.IsValidation(err))

	txns, err := h.orch.ListByUser(t.Context(), "user-1", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, txns)
	assert.Equal(t, int64(0), h.usage(t))
}

func TestSubmit_BoundsAreInclusive(t *testing.T) {
	h := newHarness(t, func(c *remittance.Config) {
		c.MaxAmount = 500
		c.DailyLimitPerUser = 10_000
	})

	_, err := h.orch.Submit(t.Context(), request("min", 100))
	require.NoError(t, err)
	_, err = h.orch.Submit(t.Context(), request("max", 500))
	require.NoError(t, err)
	_, err = h.orch.Submit(t.Context(), request("over", 501))
	require.ErrorIs(t, err, remittance.ErrAmountTooLarge)
}

func TestSubmit_RejectsInvalidRequests(t *testing.T) {
	h := newHarness(t)

	bad := request("key-1", 100)
	bad.SourceCurrency = "ZZZ"
	_, err := h.orch.Submit(t.Context(), bad)
	require.ErrorIs(t, err, remittance.ErrInvalidCurrency)

	bad = request("key-2", 100)
	bad.SenderID = ""
	_, err = h.orch.Submit(t.Context(), bad)
	require.ErrorIs(t, err, remittance.ErrInvalidRequest)
	var ve *remittance.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "sender_id", ve.Field)

	bad = request("key-3", 100)
	bad.Recipient.AccountNumber = ""
	_, err = h.orch.Submit(t.Context(), bad)
	require.ErrorIs(t, err, remittance.ErrInvalidRequest)
}

func TestSubmit_NoProviderForCorridor(t *testing.T) {
	h := newHarness(t)

	req := request("key-1", 100)
	req.DestinationCurrency = "EUR"
	_, err := h.orch.Submit(t.Context(), req)
	require.ErrorIs(t, err, remittance.ErrNoProviderForCorridor)

	txns, err := h.orch.ListByUser(t.Context(), "user-1", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, txns)
}

func TestSubmit_DailyLimit(t *testing.T) {
	h := newHarness(t)

	h.submit(t, "key-1", 600)

	_, err := h.orch.Submit(t.Context(), request("key-2", 600))
	require.ErrorIs(t, err, remittance.ErrDailyLimitExceeded)
	assert.Equal(t, int64(600), h.usage(t))

	rejected, err := h.store.FindByIdempotencyKey(t.Context(), "key-2")
	require.NoError(t, err)
	assert.Equal(t, remittance.StatusLimitRejected, rejected.Status)

	// Exactly reaching the limit is allowed.
	h.submit(t, "key-3", 400)
	assert.Equal(t, int64(1000), h.usage(t))
}

func TestSubmit_Idempotency(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()

	first, err := h.orch.Submit(ctx, request("key-1", 100))
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	second, err := h.orch.Submit(ctx, request("key-1", 100))
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.TransactionID, second.TransactionID)
	assert.Equal(t, int64(100), h.usage(t))

	_, err = h.orch.Submit(ctx, request("key-1", 200))
	require.ErrorIs(t, err, remittance.ErrIdempotencyConflict)

	// Without a key, identical payloads on the same day collapse.
	a, err := h.orch.Submit(ctx, request("", 150))
	require.NoError(t, err)
	b, err := h.orch.Submit(ctx, request("", 150))
	require.NoError(t, err)
	assert.Equal(t, a.TransactionID, b.TransactionID)
	assert.True(t, b.Duplicate)
}

func TestAdvance_TimeoutThenSettled(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()

	h.fake.CommitOnError = true
	h.fake.FailExecutes(provider.ErrProviderTimeout)

	id := h.submit(t, "key-1", 100)
	tx, err := h.orch.Advance(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, remittance.StatusUnknownReconciling, tx.Status)

	p, err := h.store.LatestPayment(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, remittance.PaymentUnknown, p.Status)
	assert.Empty(t, p.ProviderReference)

	tx, err = h.orch.Reconcile(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, remittance.StatusSettled, tx.Status)

	// The re-sent transfer deduplicated onto the first one.
	assert.Equal(t, 1, h.fake.Transfers())
	payments, err := h.orch.Payments(ctx, id)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, "fake-ref-1", payments[0].ProviderReference)
	assert.Equal(t, int64(100), h.usage(t))
}

func TestAdvance_TimeoutThenFailedReleasesOnce(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()

	h.fake.CommitOnError = true
	h.fake.FailExecutes(provider.ErrProviderTimeout)
	h.fake.SetStatuses(provider.Failed("beneficiary account closed"))

	h.submit(t, "other", 300)
	id := h.submit(t, "key-1", 100)
	tx, err := h.orch.Advance(ctx, id)
	require.NoError(t, err)
	require.Equal(t, remittance.StatusUnknownReconciling, tx.Status)

	tx, err = h.orch.Reconcile(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, remittance.StatusExecutionFailed, tx.Status)
	assert.Equal(t, int64(300), h.usage(t))

	calls := h.fake.ExecuteCalls + h.fake.StatusCalls
	tx, err = h.orch.Reconcile(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, remittance.StatusExecutionFailed, tx.Status)
	assert.Equal(t, int64(300), h.usage(t))
	assert.Equal(t, calls, h.fake.ExecuteCalls+h.fake.StatusCalls)

	_, err = h.orch.Cancel(ctx, id, "")
	assert.ErrorIs(t, err, remittance.ErrNotCancellable)
	assert.Equal(t, int64(300), h.usage(t))
}

func TestAdvance_RejectionFailsAndReleases(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()

	h.fake.FailExecutes(&provider.RejectedError{Provider: "fake", Code: "invalid_account", Message: "account does not exist"})

	id := h.submit(t, "key-1", 100)
	tx, err := h.orch.Advance(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, remittance.StatusExecutionFailed, tx.Status)
	assert.Contains(t, tx.StatusReason, "account does not exist")
	assert.Equal(t, int64(0), h.usage(t))

	p, err := h.store.LatestPayment(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, remittance.PaymentFailed, p.Status)
}

func TestAdvance_OpenBreakerFailsAndReleases(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()

	h.fake.FailExecutes(fmt.Errorf("%w: fake: %v", provider.ErrCircuitOpen, gobreaker.ErrOpenState))

	id := h.submit(t, "key-1", 100)
	tx, err := h.orch.Advance(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, remittance.StatusExecutionFailed, tx.Status)
	assert.Contains(t, tx.StatusReason, "not sent")
	assert.Equal(t, int64(0), h.usage(t))
	assert.Equal(t, 0, h.fake.Transfers())

	p, err := h.store.LatestPayment(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, remittance.PaymentFailed, p.Status)
}

func TestAdvance_QuoteRetriesTransientErrors(t *testing.T) {
	h := newHarness(t)

	h.fake.FailQuotes(provider.ErrProviderUnavailable, provider.ErrProviderTimeout)

	id := h.submit(t, "key-1", 100)
	tx, err := h.orch.Advance(t.Context(), id)
	require.NoError(t, err)
	assert.Equal(t, remittance.StatusSettled, tx.Status)
	assert.Equal(t, 3, h.fake.QuoteCalls)
}

func TestAdvance_QuoteRetriesExhausted(t *testing.T) {
	h := newHarness(t)

	h.fake.FailQuotes(provider.ErrProviderUnavailable, provider.ErrProviderUnavailable, provider.ErrProviderUnavailable)

	id := h.submit(t, "key-1", 100)
	tx, err := h.orch.Advance(t.Context(), id)
	require.NoError(t, err)
	assert.Equal(t, remittance.StatusExecutionFailed, tx.Status)
	assert.Equal(t, 3, h.fake.QuoteCalls)
	assert.Equal(t, 0, h.fake.ExecuteCalls)
	assert.Equal(t, int64(0), h.usage(t))
}

func TestAdvance_UnsupportedCorridorIsNotRetried(t *testing.T) {
	h := newHarness(t)

	h.fake.FailQuotes(provider.ErrUnsupportedCorridor)

	id := h.submit(t, "key-1", 100)
	tx, err := h.orch.Advance(t.Context(), id)
	require.NoError(t, err)
	assert.Equal(t, remittance.StatusExecutionFailed, tx.Status)
	assert.Equal(t, 1, h.fake.QuoteCalls)
}

func TestAdvance_ExpiredQuoteIsRefreshed(t *testing.T) {
	h := newHarness(t)

	calls := 0
	h.fake.QuoteTTL = time.Minute
	h.fake.Now = func() time.Time {
		calls++
		if calls == 1 {
			return h.clock.Now().Add(-time.Hour)
		}
		return h.clock.Now()
	}

	id := h.submit(t, "key-1", 100)
	tx, err := h.orch.Advance(t.Context(), id)
	require.NoError(t, err)
	assert.Equal(t, remittance.StatusSettled, tx.Status)
	assert.Equal(t, 2, tx.QuoteAttempts)
	assert.Equal(t, 1, h.fake.ExecuteCalls)
}

func TestAdvance_QuoteKeepsExpiringFails(t *testing.T) {
	h := newHarness(t)

	h.fake.QuoteTTL = time.Minute
	h.fake.Now = func() time.Time { return h.clock.Now().Add(-time.Hour) }

	id := h.submit(t, "key-1", 100)
	tx, err := h.orch.Advance(t.Context(), id)
	require.NoError(t, err)
	assert.Equal(t, remittance.StatusExecutionFailed, tx.Status)
	assert.Equal(t, 3, h.fake.QuoteCalls)
	assert.Equal(t, 0, h.fake.ExecuteCalls)
	assert.Equal(t, int64(0), h.usage(t))
}

func TestAdvance_PendingThenWebhook(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()

	h.fake.SetStatuses(provider.Pending())

	id := h.submit(t, "key-1", 100)
	tx, err := h.orch.Advance(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, remittance.StatusExecuting, tx.Status)

	tx, err = h.orch.ApplyProviderStatus(ctx, "fake", "fake-ref-1", provider.Settled())
	require.NoError(t, err)
	assert.Equal(t, remittance.StatusSettled, tx.Status)

	// A replayed notification is ignored.
	tx, err = h.orch.ApplyProviderStatus(ctx, "fake", "fake-ref-1", provider.Failed("late"))
	require.NoError(t, err)
	assert.Equal(t, remittance.StatusSettled, tx.Status)
	assert.Equal(t, int64(100), h.usage(t))

	_, err = h.orch.ApplyProviderStatus(ctx, "fake", "nope", provider.Settled())
	assert.ErrorIs(t, err, remittance.ErrPaymentNotFound)
}

func TestAdvance_BusyTransaction(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()

	id := h.submit(t, "key-1", 100)
	lease, ok, err := h.store.TryAcquire(ctx, id, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = h.orch.Advance(ctx, id)
	require.ErrorIs(t, err, remittance.ErrTransactionBusy)
	assert.Equal(t, 0, h.fake.QuoteCalls)

	require.NoError(t, lease.Release(ctx))
	tx, err := h.orch.Advance(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, remittance.StatusSettled, tx.Status)
}

func TestCancel(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()

	id := h.submit(t, "key-1", 100)
	tx, err := h.orch.Cancel(ctx, id, "customer request")
	require.NoError(t, err)
	assert.Equal(t, remittance.StatusCancelled, tx.Status)
	assert.Equal(t, "customer request", tx.StatusReason)
	assert.Equal(t, int64(0), h.usage(t))

	_, err = h.orch.Cancel(ctx, id, "")
	assert.ErrorIs(t, err, remittance.ErrNotCancellable)
	assert.Equal(t, int64(0), h.usage(t))

	tx, err = h.orch.Advance(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, remittance.StatusCancelled, tx.Status)
	assert.Equal(t, 0, h.fake.QuoteCalls)

	_, err = h.orch.Cancel(ctx, "missing", "")
	assert.ErrorIs(t, err, remittance.ErrTransactionNotFound)
}

func TestCancel_AfterSettlement(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()

	id := h.submit(t, "key-1", 100)
	_, err := h.orch.Advance(ctx, id)
	require.NoError(t, err)

	_, err = h.orch.Cancel(ctx, id, "")
	assert.ErrorIs(t, err, remittance.ErrNotCancellable)
	assert.Equal(t, int64(100), h.usage(t))
}
