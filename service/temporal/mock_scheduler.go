package temporal

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockScheduler is a mock implementation of Scheduler for testing.
type MockScheduler struct {
	mu        sync.Mutex
	schedules map[string]time.Duration // map[scheduleID]interval
	upserts   int
	createErr error
	deleteErr error
}

// NewMockScheduler creates a new MockScheduler.
func NewMockScheduler() *MockScheduler {
	return &MockScheduler{
		schedules: make(map[string]time.Duration),
	}
}

// UpsertReconcileSchedule creates or updates the schedule.
func (m *MockScheduler) UpsertReconcileSchedule(ctx context.Context, interval time.Duration) error {
	if m.createErr != nil {
		return m.createErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.schedules[ReconcileScheduleID] = interval
	m.upserts++
	return nil
}

// DeleteReconcileSchedule records that the schedule was deleted.
func (m *MockScheduler) DeleteReconcileSchedule(ctx context.Context) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.schedules[ReconcileScheduleID]; !exists {
		return fmt.Errorf("schedule %q not found", ReconcileScheduleID)
	}
	delete(m.schedules, ReconcileScheduleID)
	return nil
}

// Interval returns the scheduled interval and whether the schedule exists.
func (m *MockScheduler) Interval() (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	interval, ok := m.schedules[ReconcileScheduleID]
	return interval, ok
}

// Upserts returns how many times the schedule was upserted.
func (m *MockScheduler) Upserts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upserts
}

// SetCreateError makes subsequent upserts fail with err.
func (m *MockScheduler) SetCreateError(err error) {
	m.createErr = err
}

// SetDeleteError makes subsequent deletes fail with err.
func (m *MockScheduler) SetDeleteError(err error) {
	m.deleteErr = err
}

var _ Scheduler = (*MockScheduler)(nil)
