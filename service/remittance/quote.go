package remittance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bobbercheng/remit-demo-sub001/service/provider"
	"github.com/google/uuid"
)

// QuoteService obtains and persists provider quotes.
type QuoteService struct {
	router          *provider.Router
	ledger          Ledger
	defaultValidity time.Duration
	now             func() time.Time
	logger          *slog.Logger
}

// NewQuoteService creates a quote service.
func NewQuoteService(router *provider.Router, ledger Ledger, defaultValidity time.Duration, logger *slog.Logger) *QuoteService {
	return &QuoteService{
		router:          router,
		ledger:          ledger,
		defaultValidity: defaultValidity,
		now:             time.Now,
		logger:          logger,
	}
}

// GetQuote prices tx with its selected provider, stamps an expiry and persists the
// quote. Fails with ErrNoProviderForCorridor or the provider's error.
func (s *QuoteService) GetQuote(ctx context.Context, tx *Transaction) (*Quote, error) {
	pq, err := s.fetch(ctx, tx.SelectedProvider, tx.SourceAmount, tx.SourceCurrency, tx.DestinationCurrency)
	if err != nil {
		return nil, err
	}

	q, err := s.build(tx.SelectedProvider, tx.SourceAmount, tx.SourceCurrency, tx.DestinationCurrency, pq)
	if err != nil {
		return nil, err
	}
	q.TransactionID = tx.ID

	if err := s.ledger.SaveQuote(ctx, q); err != nil {
		return nil, fmt.Errorf("failed to persist quote: %w", err)
	}

	s.logger.InfoContext(ctx, "quote obtained",
		"transaction_id", tx.ID,
		"provider", q.Provider,
		"rate", q.ExchangeRate.String(),
		"fee", q.Fee,
		"expires_at", q.ExpiresAt,
	)
	return q, nil
}

// Indicative prices a corridor without a transaction. Nothing is persisted.
func (s *QuoteService) Indicative(ctx context.Context, amount int64, source, destination string) (*Quote, error) {
	name, err := s.router.Select(source, destination)
	if err != nil {
		return nil, err
	}
	pq, err := s.fetch(ctx, name, amount, source, destination)
	if err != nil {
		return nil, err
	}
	return s.build(name, amount, source, destination, pq)
}

func (s *QuoteService) fetch(ctx context.Context, providerName string, amount int64, source, destination string) (*provider.Quote, error) {
	adapter, err := s.router.Adapter(providerName)
	if err != nil {
		return nil, err
	}
	return adapter.Quote(ctx, provider.QuoteRequest{
		SourceAmount:        amount,
		SourceCurrency:      source,
		DestinationCurrency: destination,
	})
}

func (s *QuoteService) build(providerName string, amount int64, source, destination string, pq *provider.Quote) (*Quote, error) {
	now := s.now()

	expiresAt := pq.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = now.Add(s.defaultValidity)
	}

	// The fee is taken from the source amount before conversion.
	dest, err := provider.Convert(amount-pq.Fee, source, destination, pq.ExchangeRate)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCurrency, err)
	}
	if dest <= 0 {
		return nil, fmt.Errorf("%w: fee %d consumes the whole amount %d", ErrProviderRejected, pq.Fee, amount)
	}

	return &Quote{
		ID:                uuid.NewString(),
		Provider:          providerName,
		ExchangeRate:      pq.ExchangeRate,
		Fee:               pq.Fee,
		DestinationAmount: dest,
		ExpiresAt:         expiresAt,
		ProviderQuoteRef:  pq.ProviderQuoteRef,
		CreatedAt:         now,
	}, nil
}
