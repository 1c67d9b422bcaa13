package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/bobbercheng/remit-demo-sub001/service/remittance"
)

// Transaction is a transaction as returned by the API, with display fields and
// the latest quote when one exists.
type Transaction struct {
	remittance.Transaction
	SourceAmountDisplay string `json:"source_amount_display"`
	Quote               *Quote `json:"quote,omitempty"`
}

// Quote is a provider price with display fields.
type Quote struct {
	remittance.Quote
	FeeDisplay               string `json:"fee_display"`
	DestinationAmountDisplay string `json:"destination_amount_display"`
}

// APIError is a non-success response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Message)
}

// Client is the HTTP client for the remittance API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new remittance API client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Submit sends a transfer request. A replayed idempotency key returns the
// existing transaction with Duplicate set.
func (c *Client) Submit(ctx context.Context, req remittance.SubmitRequest) (*remittance.SubmitResult, error) {
	var res remittance.SubmitResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/transactions", req, &res, http.StatusAccepted, http.StatusOK); err != nil {
		return nil, err
	}
	c.logger.Debug("transaction submitted",
		"transaction_id", res.TransactionID,
		"status", res.Status,
		"duplicate", res.Duplicate,
	)
	return &res, nil
}

// Get retrieves a transaction and its latest quote.
func (c *Client) Get(ctx context.Context, id string) (*Transaction, error) {
	var tx Transaction
	if err := c.do(ctx, http.MethodGet, "/api/v1/transactions/"+url.PathEscape(id), nil, &tx, http.StatusOK); err != nil {
		return nil, err
	}
	return &tx, nil
}

// Payments lists every execution attempt for a transaction.
func (c *Client) Payments(ctx context.Context, id string) ([]*remittance.Payment, error) {
	var response struct {
		Payments []*remittance.Payment `json:"payments"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/transactions/"+url.PathEscape(id)+"/payments", nil, &response, http.StatusOK); err != nil {
		return nil, err
	}
	return response.Payments, nil
}

// Cancel cancels a transaction that has not started executing.
func (c *Client) Cancel(ctx context.Context, id, reason string) (*Transaction, error) {
	var body interface{}
	if reason != "" {
		body = map[string]string{"reason": reason}
	}
	var tx Transaction
	if err := c.do(ctx, http.MethodPost, "/api/v1/transactions/"+url.PathEscape(id)+"/cancel", body, &tx, http.StatusOK); err != nil {
		return nil, err
	}
	c.logger.Debug("transaction cancelled", "transaction_id", id)
	return &tx, nil
}

// ListByUser lists a sender's transactions, newest first.
func (c *Client) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*Transaction, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	path := "/api/v1/users/" + url.PathEscape(userID) + "/transactions"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var response struct {
		Transactions []*Transaction `json:"transactions"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &response, http.StatusOK); err != nil {
		return nil, err
	}
	return response.Transactions, nil
}

// Rate returns an indicative quote for a corridor. Nothing is persisted.
func (c *Client) Rate(ctx context.Context, source, target string, amount int64) (*Quote, error) {
	q := url.Values{}
	q.Set("source", source)
	q.Set("target", target)
	q.Set("amount", strconv.FormatInt(amount, 10))

	var quote Quote
	if err := c.do(ctx, http.MethodGet, "/api/v1/rates?"+q.Encode(), nil, &quote, http.StatusOK); err != nil {
		return nil, err
	}
	return &quote, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}, expected ...int) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	ok := false
	for _, code := range expected {
		if resp.StatusCode == code {
			ok = true
			break
		}
	}
	if !ok {
		return c.parseErrorResponse(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return &APIError{StatusCode: resp.StatusCode, Message: string(body)}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
}
