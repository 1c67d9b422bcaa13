// Package memstore is an in-memory implementation of the remittance ledger,
// daily-limit counters and processing leases. It backs tests and single-process
// local runs; nothing survives a restart.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bobbercheng/remit-demo-sub001/service/remittance"
	"github.com/google/uuid"
)

// Store implements remittance.Ledger, remittance.CounterStore and remittance.Locker.
type Store struct {
	mu  sync.Mutex
	now func() time.Time

	txns     map[string]*remittance.Transaction
	byKey    map[string]string
	quotes   map[string][]*remittance.Quote
	payments map[string][]*remittance.Payment

	counters     map[counterKey]int64
	reservations map[string]*reservation

	leases map[string]leaseRecord
}

type counterKey struct {
	userID string
	day    string
}

type reservation struct {
	remittance.Reservation
	released bool
}

type leaseRecord struct {
	token     string
	expiresAt time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{
		now:          time.Now,
		txns:         make(map[string]*remittance.Transaction),
		byKey:        make(map[string]string),
		quotes:       make(map[string][]*remittance.Quote),
		payments:     make(map[string][]*remittance.Payment),
		counters:     make(map[counterKey]int64),
		reservations: make(map[string]*reservation),
		leases:       make(map[string]leaseRecord),
	}
}

// WithClock sets the clock used for timestamps and lease expiry.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	return s
}

func copyTx(tx *remittance.Transaction) *remittance.Transaction {
	c := *tx
	return &c
}

func copyPayment(p *remittance.Payment) *remittance.Payment {
	c := *p
	if p.LastCheckedAt != nil {
		t := *p.LastCheckedAt
		c.LastCheckedAt = &t
	}
	return &c
}

// Create implements remittance.Ledger.
func (s *Store) Create(ctx context.Context, tx *remittance.Transaction) (*remittance.Transaction, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byKey[tx.IdempotencyKey]; ok {
		return copyTx(s.txns[id]), false, nil
	}
	if _, ok := s.txns[tx.ID]; ok {
		return nil, false, fmt.Errorf("transaction %s already exists", tx.ID)
	}

	stored := copyTx(tx)
	s.txns[stored.ID] = stored
	s.byKey[stored.IdempotencyKey] = stored.ID
	return copyTx(stored), true, nil
}

// Get implements remittance.Ledger.
func (s *Store) Get(ctx context.Context, id string) (*remittance.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.txns[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", remittance.ErrTransactionNotFound, id)
	}
	return copyTx(tx), nil
}

// FindByIdempotencyKey implements remittance.Ledger.
func (s *Store) FindByIdempotencyKey(ctx context.Context, key string) (*remittance.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byKey[key]
	if !ok {
		return nil, fmt.Errorf("%w: idempotency key %s", remittance.ErrTransactionNotFound, key)
	}
	return copyTx(s.txns[id]), nil
}

// UpdateStatus implements remittance.Ledger.
func (s *Store) UpdateStatus(ctx context.Context, id string, change remittance.StatusChange) (*remittance.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.txns[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", remittance.ErrTransactionNotFound, id)
	}
	if tx.Status != change.From {
		return nil, fmt.Errorf("%w: %s is %s, expected %s", remittance.ErrStaleStatus, id, tx.Status, change.From)
	}
	if !remittance.CanTransition(change.From, change.To) {
		return nil, fmt.Errorf("%w: %s -> %s", remittance.ErrInvalidTransition, change.From, change.To)
	}

	tx.Status = change.To
	tx.StatusReason = change.Reason
	tx.UpdatedAt = s.now()
	if change.To == remittance.StatusQuoted {
		tx.QuoteAttempts++
	}
	return copyTx(tx), nil
}

// SaveQuote implements remittance.Ledger.
func (s *Store) SaveQuote(ctx context.Context, q *remittance.Quote) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.txns[q.TransactionID]; !ok {
		return fmt.Errorf("%w: %s", remittance.ErrTransactionNotFound, q.TransactionID)
	}
	c := *q
	s.quotes[q.TransactionID] = append(s.quotes[q.TransactionID], &c)
	return nil
}

// LatestQuote implements remittance.Ledger.
func (s *Store) LatestQuote(ctx context.Context, transactionID string) (*remittance.Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	qs := s.quotes[transactionID]
	if len(qs) == 0 {
		return nil, fmt.Errorf("%w: %s", remittance.ErrQuoteNotFound, transactionID)
	}
	c := *qs[len(qs)-1]
	return &c, nil
}

// AppendPayment implements remittance.Ledger.
func (s *Store) AppendPayment(ctx context.Context, p *remittance.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.txns[p.TransactionID]; !ok {
		return fmt.Errorf("%w: %s", remittance.ErrTransactionNotFound, p.TransactionID)
	}
	p.AttemptNumber = len(s.payments[p.TransactionID]) + 1
	s.payments[p.TransactionID] = append(s.payments[p.TransactionID], copyPayment(p))
	return nil
}

// UpdatePayment implements remittance.Ledger.
func (s *Store) UpdatePayment(ctx context.Context, transactionID string, attempt int, upd remittance.PaymentUpdate) (*remittance.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ps := s.payments[transactionID]
	if attempt < 1 || attempt > len(ps) {
		return nil, fmt.Errorf("%w: %s attempt %d", remittance.ErrPaymentNotFound, transactionID, attempt)
	}
	p := ps[attempt-1]

	if upd.ProviderReference != "" {
		switch {
		case p.ProviderReference == "":
			p.ProviderReference = upd.ProviderReference
		case p.ProviderReference != upd.ProviderReference:
			return nil, fmt.Errorf("%w: %s attempt %d has %s", remittance.ErrReferenceConflict, transactionID, attempt, p.ProviderReference)
		}
	}
	if upd.Status != "" {
		p.Status = upd.Status
	}
	if upd.FailureReason != "" {
		p.FailureReason = upd.FailureReason
	}
	if !upd.CheckedAt.IsZero() {
		t := upd.CheckedAt
		p.LastCheckedAt = &t
	}
	return copyPayment(p), nil
}

// Payments implements remittance.Ledger.
func (s *Store) Payments(ctx context.Context, transactionID string) ([]*remittance.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*remittance.Payment, 0, len(s.payments[transactionID]))
	for _, p := range s.payments[transactionID] {
		out = append(out, copyPayment(p))
	}
	return out, nil
}

// LatestPayment implements remittance.Ledger.
func (s *Store) LatestPayment(ctx context.Context, transactionID string) (*remittance.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ps := s.payments[transactionID]
	if len(ps) == 0 {
		return nil, fmt.Errorf("%w: %s", remittance.ErrPaymentNotFound, transactionID)
	}
	return copyPayment(ps[len(ps)-1]), nil
}

// FindPaymentByProviderReference implements remittance.Ledger.
func (s *Store) FindPaymentByProviderReference(ctx context.Context, providerName, ref string) (*remittance.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ps := range s.payments {
		for _, p := range ps {
			if p.Provider == providerName && p.ProviderReference == ref {
				return copyPayment(p), nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %s reference %s", remittance.ErrPaymentNotFound, providerName, ref)
}

// ListByStatus implements remittance.Ledger.
func (s *Store) ListByStatus(ctx context.Context, statuses []remittance.Status, updatedBefore time.Time, limit int) ([]*remittance.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	want := make(map[remittance.Status]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}

	var out []*remittance.Transaction
	for _, tx := range s.txns {
		if want[tx.Status] && tx.UpdatedAt.Before(updatedBefore) {
			out = append(out, copyTx(tx))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListByUser implements remittance.Ledger.
func (s *Store) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*remittance.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*remittance.Transaction
	for _, tx := range s.txns {
		if tx.SenderID == userID {
			out = append(out, copyTx(tx))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return []*remittance.Transaction{}, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Reserve implements remittance.CounterStore.
func (s *Store) Reserve(ctx context.Context, r remittance.Reservation, limit int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.reservations[r.TransactionID]; ok {
		return !existing.released, nil
	}

	key := counterKey{r.UserID, r.Day}
	if s.counters[key]+r.Amount > limit {
		return false, nil
	}
	s.counters[key] += r.Amount
	s.reservations[r.TransactionID] = &reservation{Reservation: r}
	return true, nil
}

// Release implements remittance.CounterStore.
func (s *Store) Release(ctx context.Context, r remittance.Reservation) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, ok := s.reservations[r.TransactionID]
	if !ok || res.released {
		return false, nil
	}
	res.released = true
	s.counters[counterKey{res.UserID, res.Day}] -= res.Amount
	return true, nil
}

// Usage implements remittance.CounterStore.
func (s *Store) Usage(ctx context.Context, userID, day string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[counterKey{userID, day}], nil
}

// TryAcquire implements remittance.Locker.
func (s *Store) TryAcquire(ctx context.Context, transactionID string, ttl time.Duration) (remittance.Lease, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if l, ok := s.leases[transactionID]; ok && now.Before(l.expiresAt) {
		return nil, false, nil
	}
	token := uuid.NewString()
	s.leases[transactionID] = leaseRecord{token: token, expiresAt: now.Add(ttl)}
	return &lease{store: s, transactionID: transactionID, token: token}, true, nil
}

type lease struct {
	store         *Store
	transactionID string
	token         string
}

// Release drops the lease if it is still held by this holder.
func (l *lease) Release(ctx context.Context) error {
	l.store.mu.Lock()
	defer l.store.mu.Unlock()

	if cur, ok := l.store.leases[l.transactionID]; ok && cur.token == l.token {
		delete(l.store.leases, l.transactionID)
	}
	return nil
}
