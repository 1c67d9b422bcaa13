package temporal

import (
	"fmt"
	"log/slog"

	"github.com/bobbercheng/remit-demo-sub001/service/metrics"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

// WorkerConfig contains configuration for the Temporal worker.
type WorkerConfig struct {
	// Temporal connection settings
	TemporalHost      string
	TemporalNamespace string
	TaskQueue         string

	// Concurrency limits; zero uses the defaults below.
	MaxConcurrentActivities int
	MaxConcurrentWorkflows  int

	// Dependencies
	Processor Processor
	Sweeper   Sweeper
	Metrics   *metrics.Metrics // Optional: if nil, no metrics will be recorded
	Logger    *slog.Logger
}

// Worker wraps a Temporal worker and provides lifecycle management.
type Worker struct {
	client client.Client
	worker worker.Worker
	logger *slog.Logger
}

// NewWorker creates and configures a new Temporal worker.
// The worker will process workflows and activities on the configured task queue.
func NewWorker(config WorkerConfig) (*Worker, error) {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.MaxConcurrentActivities <= 0 {
		config.MaxConcurrentActivities = 10
	}
	if config.MaxConcurrentWorkflows <= 0 {
		config.MaxConcurrentWorkflows = 10
	}

	logger := config.Logger.With("component", "temporal_worker")

	logger.Info("creating temporal worker",
		"host", config.TemporalHost,
		"namespace", config.TemporalNamespace,
		"task_queue", config.TaskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  config.TemporalHost,
		Namespace: config.TemporalNamespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to temporal: %w", err)
	}

	w := worker.New(c, config.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     config.MaxConcurrentActivities,
		MaxConcurrentWorkflowTaskExecutionSize: config.MaxConcurrentWorkflows,
	})
	register(w, NewActivities(config.Processor, config.Sweeper, config.Metrics, logger))

	logger.Info("registered workflows and activities",
		"workflows", []string{"TransferWorkflow", "ReconcileWorkflow"},
		"activities", []string{"AdvanceTransaction", "ReconcileTransaction", "RunRecoverySweep"},
	)

	return &Worker{
		client: c,
		worker: w,
		logger: logger,
	}, nil
}

func register(r worker.Registry, activities *Activities) {
	r.RegisterWorkflow(TransferWorkflow)
	r.RegisterWorkflow(ReconcileWorkflow)

	// Activities are registered by name, matching the ExecuteActivity calls in the workflows
	r.RegisterActivity(activities.AdvanceTransaction)
	r.RegisterActivity(activities.ReconcileTransaction)
	r.RegisterActivity(activities.RunRecoverySweep)
}

// Start begins processing workflows and activities.
// This method blocks until Stop is called or an interrupt signal arrives.
func (w *Worker) Start() error {
	w.logger.Info("starting temporal worker")
	err := w.worker.Run(worker.InterruptCh())
	if err != nil {
		w.logger.Error("worker stopped with error", "error", err)
		return fmt.Errorf("worker stopped with error: %w", err)
	}
	w.logger.Info("worker stopped gracefully")
	return nil
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() {
	w.logger.Info("stopping temporal worker")
	w.worker.Stop()
	w.client.Close()
	w.logger.Info("temporal worker stopped")
}
