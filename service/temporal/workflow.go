package temporal

import (
	"fmt"
	"time"

	"github.com/bobbercheng/remit-demo-sub001/service/remittance"
	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

const (
	defaultPollInterval = 30 * time.Second
	defaultMaxPolls     = 20
)

// TransferInput contains the input parameters for TransferWorkflow.
type TransferInput struct {
	TransactionID string `json:"transaction_id"`

	// PollInterval is the pause between settlement checks while a transfer is
	// pending or ambiguous.
	PollInterval time.Duration `json:"poll_interval"`

	// MaxPolls bounds how many checks the workflow makes before leaving the
	// transaction to the recovery sweep.
	MaxPolls int `json:"max_polls"`
}

// TransferResult contains the result of a TransferWorkflow run.
type TransferResult struct {
	TransactionID string            `json:"transaction_id"`
	Status        remittance.Status `json:"status"`
	Steps         int               `json:"steps"`
	Unresolved    bool              `json:"unresolved,omitempty"`
	Error         *string           `json:"error,omitempty"`
}

// TransferWorkflow drives one transaction from submission to a terminal status.
// It is started by the Dispatcher with workflow ID "transfer-<transaction id>".
//
// The workflow:
// 1. Advances the transaction (limit check, quote, execute, settlement poll)
// 2. While the transfer is pending, sleeps and advances again
// 3. While the outcome is unknown, sleeps and reconciles
//
// When MaxPolls is reached, or reconciliation raises an alert, the workflow ends
// and the recovery sweep takes over.
func TransferWorkflow(ctx workflow.Context, input TransferInput) (*TransferResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("TransferWorkflow started", "transaction_id", input.TransactionID)

	if input.PollInterval <= 0 {
		input.PollInterval = defaultPollInterval
	}
	if input.MaxPolls <= 0 {
		input.MaxPolls = defaultMaxPolls
	}

	result := &TransferResult{TransactionID: input.TransactionID}
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    5,
		},
	})

	step := StepInput{TransactionID: input.TransactionID}
	activity := a.AdvanceTransaction
	for polls := 0; ; polls++ {
		var stepResult *StepResult
		if err := workflow.ExecuteActivity(ctx, activity, step).Get(ctx, &stepResult); err != nil {
			logger.Error("transfer step failed", "transaction_id", input.TransactionID, "error", err)
			errMsg := err.Error()
			result.Error = &errMsg
			return result, fmt.Errorf("transfer step failed: %w", err)
		}
		result.Steps++
		result.Status = stepResult.Status

		if stepResult.Status.Terminal() {
			logger.Info("TransferWorkflow completed",
				"transaction_id", input.TransactionID,
				"status", stepResult.Status,
				"steps", result.Steps,
			)
			return result, nil
		}
		if stepResult.Unresolved {
			result.Unresolved = true
			logger.Warn("transfer unresolved, leaving it to the recovery sweep",
				"transaction_id", input.TransactionID,
			)
			return result, nil
		}
		if polls >= input.MaxPolls {
			logger.Info("poll budget exhausted, leaving it to the recovery sweep",
				"transaction_id", input.TransactionID,
				"status", stepResult.Status,
			)
			return result, nil
		}

		if stepResult.Status == remittance.StatusUnknownReconciling {
			activity = a.ReconcileTransaction
		} else {
			activity = a.AdvanceTransaction
		}
		if err := workflow.Sleep(ctx, input.PollInterval); err != nil {
			return result, err
		}
	}
}

// ReconcileWorkflow runs one recovery sweep. A Temporal schedule triggers it on
// the configured reconcile interval.
func ReconcileWorkflow(ctx workflow.Context, input SweepInput) (*remittance.SweepResult, error) {
	logger := workflow.GetLogger(ctx)

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Minute,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	})

	var res *remittance.SweepResult
	if err := workflow.ExecuteActivity(ctx, a.RunRecoverySweep, input).Get(ctx, &res); err != nil {
		return nil, fmt.Errorf("recovery sweep failed: %w", err)
	}

	logger.Info("ReconcileWorkflow completed",
		"resumed", res.Resumed,
		"suspended", res.Suspended,
		"reconciled", res.Reconciled,
		"unresolved", res.Unresolved,
		"errors", res.Errors,
	)
	return res, nil
}
