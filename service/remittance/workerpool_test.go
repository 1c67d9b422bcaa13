package remittance_test

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/bobbercheng/remit-demo-sub001/service/remittance"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type blockingAdvancer struct {
	mu      sync.Mutex
	seen    []string
	release chan struct{}
}

func (a *blockingAdvancer) Advance(ctx context.Context, id string) (*remittance.Transaction, error) {
	<-a.release
	a.mu.Lock()
	defer a.mu.Unlock()
	a.seen = append(a.seen, id)
	return &remittance.Transaction{ID: id, Status: remittance.StatusSettled}, nil
}

func TestWorkerPool_DrivesSubmittedTransactions(t *testing.T) {
	h := newHarness(t)

	pool := remittance.NewWorkerPool(h.orch, 2, 10, time.Second, nil, slog.Default())
	pool.Start(context.Background())
	defer pool.Stop()
	h.orch.SetDispatcher(pool)

	id := h.submit(t, "key-1", 100)

	require.Eventually(t, func() bool {
		tx, err := h.orch.Get(context.Background(), id)
		return err == nil && tx.Status == remittance.StatusSettled
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWorkerPool_QueueFull(t *testing.T) {
	adv := &blockingAdvancer{release: make(chan struct{})}
	pool := remittance.NewWorkerPool(adv, 1, 1, 0, nil, slog.Default())
	pool.Start(context.Background())

	ctx := context.Background()
	require.NoError(t, pool.Enqueue(ctx, "a"))

	// Wait until the worker holds "a" so the queue slot is free again.
	require.Eventually(t, func() bool {
		return pool.Enqueue(ctx, "b") == nil
	}, time.Second, time.Millisecond)

	err := pool.Enqueue(ctx, "c")
	assert.ErrorIs(t, err, remittance.ErrQueueFull)

	close(adv.release)
	pool.Stop()

	err = pool.Enqueue(ctx, "d")
	assert.ErrorIs(t, err, remittance.ErrPoolStopped)

	adv.mu.Lock()
	defer adv.mu.Unlock()
	assert.Contains(t, adv.seen, "a")
}

type ctxAdvancer struct {
	started chan struct{}
	release chan struct{}

	mu     sync.Mutex
	ctxErr []error
}

func (a *ctxAdvancer) Advance(ctx context.Context, id string) (*remittance.Transaction, error) {
	a.started <- struct{}{}
	<-a.release
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ctxErr = append(a.ctxErr, ctx.Err())
	return &remittance.Transaction{ID: id, Status: remittance.StatusSettled}, nil
}

func TestWorkerPool_ShutdownLetsInFlightAdvanceFinish(t *testing.T) {
	adv := &ctxAdvancer{started: make(chan struct{}, 1), release: make(chan struct{})}
	pool := remittance.NewWorkerPool(adv, 1, 4, time.Minute, nil, slog.Default())
	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)

	require.NoError(t, pool.Enqueue(ctx, "a"))
	<-adv.started
	require.NoError(t, pool.Enqueue(ctx, "b"))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		pool.Stop()
	}()
	cancel()
	close(adv.release)
	wg.Wait()

	adv.mu.Lock()
	defer adv.mu.Unlock()
	require.Len(t, adv.ctxErr, 1, "queued IDs are left for the sweep")
	assert.NoError(t, adv.ctxErr[0])
}
