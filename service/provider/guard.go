package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/bobbercheng/remit-demo-sub001/service/metrics"
	"github.com/sony/gobreaker"
)

// GuardConfig bounds calls to one adapter.
type GuardConfig struct {
	// Timeout applies to every individual call. Zero disables the per-call deadline.
	Timeout time.Duration

	// ConsecutiveFailures trips the breaker. Zero uses 5.
	ConsecutiveFailures uint32

	// OpenTimeout is how long the breaker stays open before probing. Zero uses 30s.
	OpenTimeout time.Duration
}

// Guard decorates an Adapter with a per-call timeout, a circuit breaker and metrics.
// Timeouts surface as ErrProviderTimeout; an open breaker as ErrProviderUnavailable.
// Rejections and unsupported corridors do not count against the breaker.
type Guard struct {
	next    Adapter
	timeout time.Duration
	cb      *gobreaker.CircuitBreaker
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewGuard wraps next.
func NewGuard(next Adapter, cfg GuardConfig, m *metrics.Metrics, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = 5
	}
	if cfg.OpenTimeout == 0 {
		cfg.OpenTimeout = 30 * time.Second
	}

	g := &Guard{
		next:    next,
		timeout: cfg.Timeout,
		metrics: m,
		logger:  logger.With("provider", next.Name()),
	}

	g.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        next.Name(),
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			g.logger.Warn("provider circuit breaker state changed",
				"from", from.String(),
				"to", to.String(),
			)
			g.metrics.SetBreakerState(name, int(to))
		},
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, ErrProviderRejected) ||
				errors.Is(err, ErrUnsupportedCorridor) ||
				errors.Is(err, ErrUnknownReference)
		},
	})

	return g
}

// Name returns the wrapped adapter's name.
func (g *Guard) Name() string { return g.next.Name() }

// Quote prices a transfer through the wrapped adapter.
func (g *Guard) Quote(ctx context.Context, req QuoteRequest) (*Quote, error) {
	res, err := g.call(ctx, "quote", func(ctx context.Context) (any, error) {
		return g.next.Quote(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return res.(*Quote), nil
}

// ExecuteTransfer submits a transfer through the wrapped adapter.
func (g *Guard) ExecuteTransfer(ctx context.Context, req TransferRequest) (string, error) {
	res, err := g.call(ctx, "execute", func(ctx context.Context) (any, error) {
		return g.next.ExecuteTransfer(ctx, req)
	})
	if err != nil {
		return "", err
	}
	return res.(string), nil
}

// GetTransferStatus queries a transfer through the wrapped adapter.
func (g *Guard) GetTransferStatus(ctx context.Context, providerReference string) (TransferStatus, error) {
	res, err := g.call(ctx, "status", func(ctx context.Context) (any, error) {
		return g.next.GetTransferStatus(ctx, providerReference)
	})
	if err != nil {
		return TransferStatus{}, err
	}
	return res.(TransferStatus), nil
}

// State reports the breaker state.
func (g *Guard) State() gobreaker.State {
	return g.cb.State()
}

func (g *Guard) call(ctx context.Context, op string, fn func(context.Context) (any, error)) (any, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	start := time.Now()
	res, err := g.cb.Execute(func() (interface{}, error) {
		return fn(ctx)
	})
	err = g.classify(ctx, err)

	g.metrics.RecordProviderCall(g.next.Name(), op, resultLabel(err), time.Since(start).Seconds())
	if err != nil {
		g.logger.DebugContext(ctx, "provider call failed", "operation", op, "error", err)
	}
	return res, err
}

func (g *Guard) classify(ctx context.Context, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return fmt.Errorf("%w: %s: %v", ErrCircuitOpen, g.next.Name(), err)
	case errors.Is(err, ErrProviderTimeout):
		return err
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: %s: %v", ErrProviderTimeout, g.next.Name(), err)
	case errors.Is(err, context.Canceled):
		// The request may already be on the wire.
		return fmt.Errorf("%w: %s call abandoned: %v", ErrProviderTimeout, g.next.Name(), err)
	default:
		return err
	}
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrProviderRejected):
		return "rejected"
	case errors.Is(err, ErrUnsupportedCorridor):
		return "unsupported"
	case errors.Is(err, ErrProviderTimeout):
		return "timeout"
	case errors.Is(err, ErrProviderUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}
