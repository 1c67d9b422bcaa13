// Package providertest provides a scriptable in-memory provider.Adapter.
package providertest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bobbercheng/remit-demo-sub001/service/provider"
	"github.com/shopspring/decimal"
)

// Fake is a provider.Adapter whose answers are scripted by the test.
//
// Queued errors are consumed one per call. ExecuteTransfer deduplicates on the
// idempotency key like a real rail. When CommitOnError is set, an execute call that
// returns a queued error still records the transfer, which models a timeout after
// the rail accepted the request.
type Fake struct {
	mu sync.Mutex

	name     string
	Rate     decimal.Decimal
	Fee      int64
	QuoteTTL time.Duration // zero means the quote carries no expiry
	Now      func() time.Time

	CommitOnError bool

	quoteErrs   []error
	executeErrs []error
	statusErrs  []error
	statuses    []provider.TransferStatus

	transfers map[string]string // idempotency key -> reference
	byRef     map[string]provider.TransferRequest
	seq       int

	QuoteCalls   int
	ExecuteCalls int
	StatusCalls  int
}

// NewFake returns a fake named name that quotes at rate 1 and settles immediately.
func NewFake(name string) *Fake {
	return &Fake{
		name:      name,
		Rate:      decimal.NewFromInt(1),
		Now:       time.Now,
		statuses:  []provider.TransferStatus{provider.Settled()},
		transfers: make(map[string]string),
		byRef:     make(map[string]provider.TransferRequest),
	}
}

// Name implements provider.Adapter.
func (f *Fake) Name() string { return f.name }

// FailQuotes queues errors for the next Quote calls.
func (f *Fake) FailQuotes(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quoteErrs = append(f.quoteErrs, errs...)
}

// FailExecutes queues errors for the next ExecuteTransfer calls.
func (f *Fake) FailExecutes(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executeErrs = append(f.executeErrs, errs...)
}

// FailStatuses queues errors for the next GetTransferStatus calls.
func (f *Fake) FailStatuses(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusErrs = append(f.statusErrs, errs...)
}

// SetStatuses scripts the answers to GetTransferStatus. The last one repeats.
func (f *Fake) SetStatuses(statuses ...provider.TransferStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = statuses
}

// Transfers returns how many distinct transfers the fake has recorded.
func (f *Fake) Transfers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.transfers)
}

// Quote implements provider.Adapter.
func (f *Fake) Quote(ctx context.Context, req provider.QuoteRequest) (*provider.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.QuoteCalls++
	if err := pop(&f.quoteErrs); err != nil {
		return nil, err
	}

	q := &provider.Quote{
		ExchangeRate:     f.Rate,
		Fee:              f.Fee,
		ProviderQuoteRef: fmt.Sprintf("%s-quote-%d", f.name, f.QuoteCalls),
	}
	if f.QuoteTTL > 0 {
		q.ExpiresAt = f.Now().Add(f.QuoteTTL)
	}
	return q, nil
}

// ExecuteTransfer implements provider.Adapter.
func (f *Fake) ExecuteTransfer(ctx context.Context, req provider.TransferRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.ExecuteCalls++
	if err := pop(&f.executeErrs); err != nil {
		if f.CommitOnError {
			f.record(req)
		}
		return "", err
	}
	return f.record(req), nil
}

func (f *Fake) record(req provider.TransferRequest) string {
	if ref, ok := f.transfers[req.IdempotencyKey]; ok {
		return ref
	}
	f.seq++
	ref := fmt.Sprintf("%s-ref-%d", f.name, f.seq)
	f.transfers[req.IdempotencyKey] = ref
	f.byRef[ref] = req
	return ref
}

// GetTransferStatus implements provider.Adapter.
func (f *Fake) GetTransferStatus(ctx context.Context, ref string) (provider.TransferStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.StatusCalls++
	if err := pop(&f.statusErrs); err != nil {
		return provider.TransferStatus{}, err
	}
	if _, ok := f.byRef[ref]; !ok {
		return provider.TransferStatus{}, fmt.Errorf("%w: %s", provider.ErrUnknownReference, ref)
	}
	if len(f.statuses) == 0 {
		return provider.Pending(), nil
	}
	s := f.statuses[0]
	if len(f.statuses) > 1 {
		f.statuses = f.statuses[1:]
	}
	return s, nil
}

func pop(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}
