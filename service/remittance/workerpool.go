package remittance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bobbercheng/remit-demo-sub001/service/metrics"
)

// ErrQueueFull is returned by WorkerPool.Enqueue when the queue has no room.
var ErrQueueFull = errors.New("dispatch queue full")

// ErrPoolStopped is returned by WorkerPool.Enqueue after Stop.
var ErrPoolStopped = errors.New("dispatch pool stopped")

// Advancer is the part of the orchestrator a dispatcher drives.
type Advancer interface {
	Advance(ctx context.Context, id string) (*Transaction, error)
}

// WorkerPool is an in-process Dispatcher. A fixed set of workers drain a bounded
// queue and call Advance for each transaction ID.
type WorkerPool struct {
	advancer   Advancer
	queue      chan string
	numWorkers int
	timeout    time.Duration
	metrics    *metrics.Metrics
	logger     *slog.Logger

	mu       sync.RWMutex
	stopped  bool
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewWorkerPool creates a pool of numWorkers workers with room for queueSize
// pending IDs. Each Advance call is bounded by timeout when it is positive.
func NewWorkerPool(advancer Advancer, numWorkers, queueSize int, timeout time.Duration, m *metrics.Metrics, logger *slog.Logger) *WorkerPool {
	if numWorkers < 1 {
		numWorkers = 1
	}
	if queueSize < 1 {
		queueSize = 1000
	}
	return &WorkerPool{
		advancer:   advancer,
		queue:      make(chan string, queueSize),
		numWorkers: numWorkers,
		timeout:    timeout,
		metrics:    m,
		logger:     logger,
	}
}

// Start launches the workers. They run until Stop is called. Once ctx ends they
// skip queued IDs, but an Advance already running is not cancelled with it.
func (p *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.run(ctx)
		}()
	}
	p.logger.Info("dispatch workers started", "workers", p.numWorkers, "queue_size", cap(p.queue))
}

// Stop closes the queue and waits for in-flight Advance calls to finish. IDs
// still queued are skipped and left for the recovery sweep.
func (p *WorkerPool) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.stopped = true
		close(p.queue)
		p.mu.Unlock()

		p.wg.Wait()
		p.logger.Info("dispatch workers stopped")
	})
}

// Enqueue implements Dispatcher. It never blocks.
func (p *WorkerPool) Enqueue(ctx context.Context, transactionID string) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped {
		return ErrPoolStopped
	}
	select {
	case p.queue <- transactionID:
		p.metrics.SetDispatchQueueDepth(len(p.queue))
		return nil
	default:
		p.metrics.RecordDispatchDropped()
		return fmt.Errorf("%w: %s", ErrQueueFull, transactionID)
	}
}

func (p *WorkerPool) run(ctx context.Context) {
	for id := range p.queue {
		p.metrics.SetDispatchQueueDepth(len(p.queue))
		if ctx.Err() != nil || p.isStopped() {
			continue
		}
		p.advance(context.WithoutCancel(ctx), id)
	}
}

func (p *WorkerPool) advance(ctx context.Context, id string) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	tx, err := p.advancer.Advance(ctx, id)
	switch {
	case errors.Is(err, ErrTransactionBusy):
		p.logger.DebugContext(ctx, "transaction busy, skipping", "transaction_id", id)
	case err != nil:
		p.logger.WarnContext(ctx, "advance failed", "transaction_id", id, "error", err)
	default:
		p.logger.DebugContext(ctx, "advance finished", "transaction_id", id, "status", tx.Status)
	}
}

func (p *WorkerPool) isStopped() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.stopped
}
