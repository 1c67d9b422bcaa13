package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/bobbercheng/remit-demo-sub001/service/metrics"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Publisher defines the interface for publishing remittance events to NATS.
type Publisher interface {
	// PublishTransactionEvent publishes a status change to "remit.txns.{transaction_id}".
	PublishTransactionEvent(ctx context.Context, event *TransactionEvent) error

	// PublishAlert publishes an operational alert for an unresolved transaction.
	PublishAlert(ctx context.Context, alert *ReconciliationAlert) error

	// Close closes the connection to NATS.
	Close() error
}

// JetStreamPublisher publishes remittance events to NATS JetStream.
type JetStreamPublisher struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	metrics *metrics.Metrics
	logger  *slog.Logger
}

const (
	// StreamName is the name of the JetStream stream for remittance events.
	StreamName = "REMITTANCES"

	// StreamSubjects is the subject pattern for the stream.
	StreamSubjects = "remit.>"

	// StreamRetention is how long messages are retained (90 days by default).
	StreamRetention = 90 * 24 * time.Hour
)

// NewPublisher creates a new JetStream publisher.
// It connects to NATS and ensures the stream exists.
func NewPublisher(natsURL string, m *metrics.Metrics, logger *slog.Logger) (*JetStreamPublisher, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("remit-publisher"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	publisher := &JetStreamPublisher{
		nc:      nc,
		js:      js,
		metrics: m,
		logger:  logger,
	}

	if err := EnsureStream(context.Background(), js, logger); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream exists: %w", err)
	}

	logger.Info("NATS publisher initialized",
		"url", natsURL,
		"stream", StreamName,
	)

	return publisher, nil
}

// EnsureStream creates the JetStream stream if it doesn't exist.
func EnsureStream(ctx context.Context, js jetstream.JetStream, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if stream, err := js.Stream(ctx, StreamName); err == nil {
		if info, err := stream.Info(ctx); err == nil {
			logger.Debug("JetStream stream already exists",
				"stream", StreamName,
				"messages", info.State.Msgs,
			)
		}
		return nil
	}

	logger.Info("creating JetStream stream", "stream", StreamName)

	_, err := js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Remittance transaction status changes and reconciliation alerts",
		Subjects:    []string{StreamSubjects},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      StreamRetention,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	logger.Info("JetStream stream created", "stream", StreamName)
	return nil
}

// PublishTransactionEvent publishes a single transaction status event.
func (p *JetStreamPublisher) PublishTransactionEvent(ctx context.Context, event *TransactionEvent) error {
	if event.PublishedAt.IsZero() {
		event.PublishedAt = time.Now().UTC()
	}
	subject := TransactionSubject(event.TransactionID)
	if err := p.publish(ctx, subject, event); err != nil {
		return fmt.Errorf("failed to publish transaction event: %w", err)
	}

	p.logger.DebugContext(ctx, "published transaction event",
		"subject", subject,
		"transaction_id", event.TransactionID,
		"status", event.Status,
	)
	return nil
}

// PublishAlert publishes a reconciliation alert.
func (p *JetStreamPublisher) PublishAlert(ctx context.Context, alert *ReconciliationAlert) error {
	if alert.PublishedAt.IsZero() {
		alert.PublishedAt = time.Now().UTC()
	}
	if err := p.publish(ctx, AlertSubject, alert); err != nil {
		return fmt.Errorf("failed to publish reconciliation alert: %w", err)
	}
	return nil
}

func (p *JetStreamPublisher) publish(ctx context.Context, subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	start := time.Now()
	_, err = p.js.Publish(ctx, subject, data)

	// Subject label uses the stream prefix only to bound cardinality.
	label := "remit.txns"
	if subject == AlertSubject {
		label = AlertSubject
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	p.metrics.RecordNATSPublish(label, status, time.Since(start).Seconds())

	return err
}

// Close closes the connection to NATS.
func (p *JetStreamPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info("NATS publisher closed")
	}
	return nil
}
