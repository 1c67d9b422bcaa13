package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
)

const (
	// ReconcileScheduleID identifies the single recovery sweep schedule.
	ReconcileScheduleID = "remit-reconcile"

	transferWorkflowPrefix = "transfer-"
)

// TransferWorkflowID returns the workflow ID used for a transaction. One ID per
// transaction keeps two workflows from processing it at once.
func TransferWorkflowID(transactionID string) string {
	return transferWorkflowPrefix + transactionID
}

// Client is a production implementation of Scheduler that talks to Temporal.
type Client struct {
	client    client.Client
	taskQueue string
	logger    *slog.Logger
}

// NewClient creates a new Temporal client.
func NewClient(host, namespace, taskQueue string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("connecting to temporal",
		"host", host,
		"namespace", namespace,
		"task_queue", taskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}

	logger.Info("connected to temporal successfully")

	return &Client{
		client:    c,
		taskQueue: taskQueue,
		logger:    logger,
	}, nil
}

// Dispatcher returns a remittance.Dispatcher that starts a TransferWorkflow on
// this client's task queue.
func (c *Client) Dispatcher(pollInterval time.Duration, maxPolls int) *Dispatcher {
	return NewDispatcher(c.client, c.taskQueue, pollInterval, maxPolls, c.logger)
}

// UpsertReconcileSchedule creates or updates the schedule that runs
// ReconcileWorkflow every interval.
func (c *Client) UpsertReconcileSchedule(ctx context.Context, interval time.Duration) error {
	c.logger.Debug("upserting reconcile schedule",
		"schedule_id", ReconcileScheduleID,
		"interval", interval,
	)

	handle := c.client.ScheduleClient().GetHandle(ctx, ReconcileScheduleID)
	desc, err := handle.Describe(ctx)
	if err != nil {
		c.logger.Debug("schedule not found, creating new one",
			"schedule_id", ReconcileScheduleID,
			"error", err,
		)
		return c.createReconcileSchedule(ctx, interval)
	}

	var current time.Duration
	if len(desc.Schedule.Spec.Intervals) > 0 {
		current = desc.Schedule.Spec.Intervals[0].Every
	}
	if current == interval {
		c.logger.Debug("reconcile schedule unchanged", "schedule_id", ReconcileScheduleID)
		return nil
	}

	err = handle.Update(ctx, client.ScheduleUpdateOptions{
		DoUpdate: func(input client.ScheduleUpdateInput) (*client.ScheduleUpdate, error) {
			input.Description.Schedule.Spec.Intervals = []client.ScheduleIntervalSpec{
				{Every: interval},
			}
			return &client.ScheduleUpdate{
				Schedule: &input.Description.Schedule,
			}, nil
		},
	})
	if err != nil {
		c.logger.Error("failed to update schedule",
			"schedule_id", ReconcileScheduleID,
			"error", err,
		)
		return fmt.Errorf("failed to update schedule %q: %w", ReconcileScheduleID, err)
	}

	c.logger.Info("reconcile schedule updated",
		"schedule_id", ReconcileScheduleID,
		"old_interval", current,
		"interval", interval,
	)
	return nil
}

func (c *Client) createReconcileSchedule(ctx context.Context, interval time.Duration) error {
	_, err := c.client.ScheduleClient().Create(ctx, client.ScheduleOptions{
		ID: ReconcileScheduleID,
		Spec: client.ScheduleSpec{
			Intervals: []client.ScheduleIntervalSpec{{Every: interval}},
		},
		Action: &client.ScheduleWorkflowAction{
			ID:        "reconcile-sweep",
			Workflow:  ReconcileWorkflow,
			TaskQueue: c.taskQueue,
			Args:      []interface{}{SweepInput{}},
		},
		Memo: map[string]interface{}{
			"created_by": "remit",
		},
	})
	if err != nil {
		c.logger.Error("failed to create schedule",
			"schedule_id", ReconcileScheduleID,
			"error", err,
		)
		return fmt.Errorf("failed to create schedule %q: %w", ReconcileScheduleID, err)
	}

	c.logger.Info("reconcile schedule created",
		"schedule_id", ReconcileScheduleID,
		"interval", interval,
	)
	return nil
}

// DeleteReconcileSchedule deletes the recovery sweep schedule.
func (c *Client) DeleteReconcileSchedule(ctx context.Context) error {
	handle := c.client.ScheduleClient().GetHandle(ctx, ReconcileScheduleID)
	if err := handle.Delete(ctx); err != nil {
		c.logger.Error("failed to delete schedule",
			"schedule_id", ReconcileScheduleID,
			"error", err,
		)
		return fmt.Errorf("failed to delete schedule %q: %w", ReconcileScheduleID, err)
	}

	c.logger.Info("reconcile schedule deleted", "schedule_id", ReconcileScheduleID)
	return nil
}

// SDKClient returns the underlying Temporal SDK client for direct workflow operations.
func (c *Client) SDKClient() client.Client {
	return c.client
}

// TaskQueue returns the configured task queue for this client.
func (c *Client) TaskQueue() string {
	return c.taskQueue
}

// Close closes the Temporal client connection.
func (c *Client) Close() {
	c.logger.Info("closing temporal client")
	c.client.Close()
}

// WorkflowStarter is the part of client.Client the Dispatcher needs.
type WorkflowStarter interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
}

// Dispatcher implements remittance.Dispatcher by starting a TransferWorkflow
// per transaction. Enqueueing a transaction whose workflow is already running
// is a no-op.
type Dispatcher struct {
	starter      WorkflowStarter
	taskQueue    string
	pollInterval time.Duration
	maxPolls     int
	logger       *slog.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(starter WorkflowStarter, taskQueue string, pollInterval time.Duration, maxPolls int, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		starter:      starter,
		taskQueue:    taskQueue,
		pollInterval: pollInterval,
		maxPolls:     maxPolls,
		logger:       logger,
	}
}

// Enqueue implements remittance.Dispatcher.
func (d *Dispatcher) Enqueue(ctx context.Context, transactionID string) error {
	opts := client.StartWorkflowOptions{
		ID:                                       TransferWorkflowID(transactionID),
		TaskQueue:                                d.taskQueue,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
	}
	run, err := d.starter.ExecuteWorkflow(ctx, opts, TransferWorkflow, TransferInput{
		TransactionID: transactionID,
		PollInterval:  d.pollInterval,
		MaxPolls:      d.maxPolls,
	})
	var started *serviceerror.WorkflowExecutionAlreadyStarted
	if errors.As(err, &started) {
		d.logger.DebugContext(ctx, "transfer workflow already running", "transaction_id", transactionID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to start transfer workflow for %s: %w", transactionID, err)
	}

	if run != nil {
		d.logger.DebugContext(ctx, "transfer workflow started",
			"transaction_id", transactionID,
			"workflow_id", run.GetID(),
			"run_id", run.GetRunID(),
		)
	}
	return nil
}

// temporalLogger adapts slog.Logger to Temporal's logger interface.
type temporalLogger struct {
	logger *slog.Logger
}

func newTemporalLogger(logger *slog.Logger) *temporalLogger {
	return &temporalLogger{logger: logger}
}

func (l *temporalLogger) Debug(msg string, keyvals ...interface{}) {
	l.logger.Debug(msg, keyvals...)
}

func (l *temporalLogger) Info(msg string, keyvals ...interface{}) {
	l.logger.Info(msg, keyvals...)
}

func (l *temporalLogger) Warn(msg string, keyvals ...interface{}) {
	l.logger.Warn(msg, keyvals...)
}

func (l *temporalLogger) Error(msg string, keyvals ...interface{}) {
	l.logger.Error(msg, keyvals...)
}
