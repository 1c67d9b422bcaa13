package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bobbercheng/remit-demo-sub001/service/metrics"
	"github.com/bobbercheng/remit-demo-sub001/service/remittance"
	temporalsdk "go.temporal.io/sdk/temporal"
)

// StepInput identifies the transaction an activity works on.
type StepInput struct {
	TransactionID string `json:"transaction_id"`
}

// StepResult reports where a transaction stands after an activity ran.
type StepResult struct {
	TransactionID string            `json:"transaction_id"`
	Status        remittance.Status `json:"status"`
	StatusReason  string            `json:"status_reason,omitempty"`

	// Unresolved is set when reconciliation gave up and raised an alert.
	Unresolved bool `json:"unresolved,omitempty"`
}

// SweepInput contains parameters for the RunRecoverySweep activity.
type SweepInput struct{}

// Processor is the part of the orchestrator the transfer activities drive.
// *remittance.Orchestrator implements it.
type Processor interface {
	Advance(ctx context.Context, id string) (*remittance.Transaction, error)
	Reconcile(ctx context.Context, id string) (*remittance.Transaction, error)
}

// Sweeper runs one recovery pass. *remittance.Reconciler implements it.
type Sweeper interface {
	RunOnce(ctx context.Context) (remittance.SweepResult, error)
}

// Activities holds the dependencies needed by Temporal activities.
type Activities struct {
	processor Processor
	sweeper   Sweeper
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewActivities creates a new Activities instance with explicit dependencies.
// If metrics is nil, no metrics will be recorded.
func NewActivities(processor Processor, sweeper Sweeper, m *metrics.Metrics, logger *slog.Logger) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		processor: processor,
		sweeper:   sweeper,
		metrics:   m,
		logger:    logger,
	}
}

// AdvanceTransaction moves a transaction forward as far as it can go in one
// pass. Business outcomes such as a limit rejection or a failed execution come
// back as a status, not an error.
func (a *Activities) AdvanceTransaction(ctx context.Context, input StepInput) (_ *StepResult, err error) {
	defer a.observe("AdvanceTransaction", time.Now(), &err)

	a.logger.DebugContext(ctx, "advancing transaction", "transaction_id", input.TransactionID)

	tx, err := a.processor.Advance(ctx, input.TransactionID)
	if err != nil {
		return nil, activityError("advance", input.TransactionID, err)
	}
	return stepResult(tx), nil
}

// ReconcileTransaction asks the provider for the outcome of an ambiguous
// transfer. A transfer still unresolved past the reconciliation window is
// reported through StepResult.Unresolved so the workflow can stop polling.
func (a *Activities) ReconcileTransaction(ctx context.Context, input StepInput) (_ *StepResult, err error) {
	defer a.observe("ReconcileTransaction", time.Now(), &err)

	tx, err := a.processor.Reconcile(ctx, input.TransactionID)
	if errors.Is(err, remittance.ErrReconciliationUnresolved) && tx != nil {
		a.logger.WarnContext(ctx, "transaction unresolved after reconciliation window",
			"transaction_id", input.TransactionID,
		)
		res := stepResult(tx)
		res.Unresolved = true
		return res, nil
	}
	if err != nil {
		return nil, activityError("reconcile", input.TransactionID, err)
	}
	return stepResult(tx), nil
}

// RunRecoverySweep performs one recovery pass over stale transactions.
func (a *Activities) RunRecoverySweep(ctx context.Context, input SweepInput) (_ *remittance.SweepResult, err error) {
	defer a.observe("RunRecoverySweep", time.Now(), &err)

	res, err := a.sweeper.RunOnce(ctx)
	if err != nil {
		a.logger.ErrorContext(ctx, "recovery sweep failed", "error", err)
		return nil, fmt.Errorf("recovery sweep failed: %w", err)
	}
	return &res, nil
}

func (a *Activities) observe(activity string, start time.Time, err *error) {
	outcome := "success"
	if *err != nil {
		outcome = "error"
	}
	a.metrics.RecordActivityDuration(activity, outcome, time.Since(start).Seconds())
}

func stepResult(tx *remittance.Transaction) *StepResult {
	return &StepResult{
		TransactionID: tx.ID,
		Status:        tx.Status,
		StatusReason:  tx.StatusReason,
	}
}

// activityError marks errors that another attempt cannot fix as non-retryable.
// A busy lease, a stale status or an infrastructure failure is left to the
// activity retry policy.
func activityError(op, id string, err error) error {
	msg := fmt.Sprintf("%s %s: %v", op, id, err)
	switch {
	case errors.Is(err, remittance.ErrTransactionNotFound):
		return temporalsdk.NewNonRetryableApplicationError(msg, "TransactionNotFound", err)
	case errors.Is(err, remittance.ErrInvalidTransition):
		return temporalsdk.NewNonRetryableApplicationError(msg, "InvalidTransition", err)
	case remittance.IsValidation(err):
		return temporalsdk.NewNonRetryableApplicationError(msg, "ValidationError", err)
	case errors.Is(err, remittance.ErrTransactionBusy):
		return temporalsdk.NewApplicationErrorWithCause(msg, "TransactionBusy", err)
	}
	return fmt.Errorf("failed to %s transaction %s: %w", op, id, err)
}
