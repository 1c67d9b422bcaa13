package temporal

import (
	"context"
	"time"
)

// Scheduler manages the Temporal schedule for the recovery sweep.
// The schedule triggers ReconcileWorkflow on a fixed interval.
type Scheduler interface {
	// UpsertReconcileSchedule creates the schedule, or updates its interval if
	// it already exists.
	UpsertReconcileSchedule(ctx context.Context, interval time.Duration) error

	// DeleteReconcileSchedule deletes the schedule. Sweeps then only run
	// in-process.
	DeleteReconcileSchedule(ctx context.Context) error
}

var _ Scheduler = (*Client)(nil)

// EnsureReconcileSchedule brings the recovery sweep schedule in line with
// interval. A non-positive interval removes the schedule.
func EnsureReconcileSchedule(ctx context.Context, s Scheduler, interval time.Duration) error {
	if interval <= 0 {
		return s.DeleteReconcileSchedule(ctx)
	}
	return s.UpsertReconcileSchedule(ctx, interval)
}
