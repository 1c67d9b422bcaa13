package nats

import (
	"context"
	"sync"
)

// MockPublisher is an in-memory Publisher for tests.
type MockPublisher struct {
	mu           sync.RWMutex
	events       []*TransactionEvent
	alerts       []*ReconciliationAlert
	publishError error
	closed       bool
}

// NewMockPublisher creates a new mock publisher for testing.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

// PublishTransactionEvent records the event and returns any configured error.
func (m *MockPublisher) PublishTransactionEvent(ctx context.Context, event *TransactionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishError != nil {
		return m.publishError
	}
	m.events = append(m.events, event)
	return nil
}

// PublishAlert records the alert and returns any configured error.
func (m *MockPublisher) PublishAlert(ctx context.Context, alert *ReconciliationAlert) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishError != nil {
		return m.publishError
	}
	m.alerts = append(m.alerts, alert)
	return nil
}

// Close marks the publisher as closed.
func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Events returns a copy of all published transaction events.
func (m *MockPublisher) Events() []*TransactionEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]*TransactionEvent, len(m.events))
	copy(events, m.events)
	return events
}

// EventsFor returns the events published for one transaction, in order.
func (m *MockPublisher) EventsFor(transactionID string) []*TransactionEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*TransactionEvent
	for _, e := range m.events {
		if e.TransactionID == transactionID {
			out = append(out, e)
		}
	}
	return out
}

// Alerts returns a copy of all published alerts.
func (m *MockPublisher) Alerts() []*ReconciliationAlert {
	m.mu.RLock()
	defer m.mu.RUnlock()

	alerts := make([]*ReconciliationAlert, len(m.alerts))
	copy(alerts, m.alerts)
	return alerts
}

// SetPublishError configures the mock to fail every publish.
func (m *MockPublisher) SetPublishError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishError = err
}

// IsClosed returns whether the publisher has been closed.
func (m *MockPublisher) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
