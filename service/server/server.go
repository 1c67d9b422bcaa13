package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/bobbercheng/remit-demo-sub001/service/metrics"
	"github.com/bobbercheng/remit-demo-sub001/service/provider"
	"github.com/bobbercheng/remit-demo-sub001/service/remittance"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Remittances is the orchestration surface the API exposes.
// *remittance.Orchestrator implements it.
type Remittances interface {
	Submit(ctx context.Context, req remittance.SubmitRequest) (*remittance.SubmitResult, error)
	Get(ctx context.Context, id string) (*remittance.Transaction, error)
	Payments(ctx context.Context, id string) ([]*remittance.Payment, error)
	LatestQuote(ctx context.Context, id string) (*remittance.Quote, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*remittance.Transaction, error)
	Cancel(ctx context.Context, id, reason string) (*remittance.Transaction, error)
	ApplyProviderStatus(ctx context.Context, providerName, ref string, st provider.TransferStatus) (*remittance.Transaction, error)
}

// RateQuoter prices a corridor without creating a transaction.
// *remittance.QuoteService implements it.
type RateQuoter interface {
	Indicative(ctx context.Context, amount int64, source, destination string) (*remittance.Quote, error)
}

// Server represents the HTTP server for the remittance API.
type Server struct {
	addr          string
	remittances   Remittances
	rates         RateQuoter
	events        *EventStream
	webhookSecret string
	metrics       *metrics.Metrics
	logger        *slog.Logger
	server        *http.Server
}

// Option configures optional server dependencies.
type Option func(*Server)

// WithEventStream enables the SSE status stream endpoints.
func WithEventStream(es *EventStream) Option {
	return func(s *Server) { s.events = es }
}

// WithWebhookSecret requires provider webhooks to carry secret in the
// X-Webhook-Secret header.
func WithWebhookSecret(secret string) Option {
	return func(s *Server) { s.webhookSecret = secret }
}

// WithMetrics records HTTP metrics and exposes /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// New creates a new HTTP server with the given dependencies.
func New(addr string, remittances Remittances, rates RateQuoter, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		addr:        addr,
		remittances: remittances,
		rates:       rates,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the routing tree. It is separate from Start so tests can
// serve it with httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	route := func(pattern, label string, h http.Handler) {
		mux.Handle(pattern, metrics.HTTPMetricsMiddleware(s.metrics, label)(h))
	}

	// Transaction routes
	route("POST /api/v1/transactions", "/api/v1/transactions", handleSubmitTransaction(s.remittances, s.logger))
	route("GET /api/v1/transactions/{id}", "/api/v1/transactions/{id}", handleGetTransaction(s.remittances, s.logger))
	route("GET /api/v1/transactions/{id}/payments", "/api/v1/transactions/{id}/payments", handleListPayments(s.remittances, s.logger))
	route("POST /api/v1/transactions/{id}/cancel", "/api/v1/transactions/{id}/cancel", handleCancelTransaction(s.remittances, s.logger))
	route("GET /api/v1/users/{id}/transactions", "/api/v1/users/{id}/transactions", handleListUserTransactions(s.remittances, s.logger))

	// Rates and provider callbacks
	route("GET /api/v1/rates", "/api/v1/rates", handleGetRate(s.rates, s.logger))
	route("POST /api/v1/webhooks/{provider}", "/api/v1/webhooks/{provider}", handleProviderWebhook(s.remittances, s.webhookSecret, s.logger))

	// SSE streaming endpoints (if an event stream is configured)
	if s.events != nil {
		mux.Handle("GET /api/v1/stream/transactions/{id}", handleStreamTransactions(s.events, s.logger))
		mux.Handle("GET /api/v1/stream/transactions", handleStreamTransactions(s.events, s.logger))
	}

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	return corsMiddleware(mux)
}

// Start starts the HTTP server. It blocks until the server stops.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if s.events != nil {
		s.logger.Info("SSE streaming endpoints enabled")
	} else {
		s.logger.Warn("event stream not configured, streaming endpoints disabled")
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	// Close the event stream first (disconnects all clients)
	if s.events != nil {
		s.events.Close()
	}

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Idempotency-Key")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
