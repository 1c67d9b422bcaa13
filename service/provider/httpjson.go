package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"
)

// HTTPClient is the JSON-over-HTTP transport shared by the rail adapters.
// It maps HTTP outcomes onto the provider error taxonomy.
type HTTPClient struct {
	provider   string
	baseURL    string
	headers    map[string]string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHTTPClient creates a transport for provider rooted at baseURL.
// Headers are sent on every request (e.g. Authorization).
func NewHTTPClient(provider, baseURL string, headers map[string]string, httpClient *http.Client, logger *slog.Logger) *HTTPClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &HTTPClient{
		provider:   provider,
		baseURL:    strings.TrimRight(baseURL, "/"),
		headers:    headers,
		httpClient: httpClient,
		logger:     logger,
	}
}

// ErrorBody is the error payload the rails return.
type ErrorBody struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// StatusError is returned for non-2xx responses that are not mapped to a sentinel.
type StatusError struct {
	StatusCode int
	Body       ErrorBody
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body.describe())
}

func (b ErrorBody) describe() string {
	switch {
	case b.Message != "":
		return b.Message
	case b.Error != "":
		return b.Error
	default:
		return "no error body"
	}
}

// Do sends a JSON request and decodes a JSON response into out (which may be nil).
// Extra headers apply to this request only.
func (c *HTTPClient) Do(ctx context.Context, method, path string, headers map[string]string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.transportError(ctx, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return c.transportError(ctx, err)
	}

	c.logger.DebugContext(ctx, "provider response",
		"provider", c.provider,
		"method", method,
		"path", path,
		"status", resp.StatusCode,
	)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil || len(raw) == 0 {
			return nil
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("%w: %s: failed to decode response: %v", ErrProviderUnavailable, c.provider, err)
		}
		return nil
	}

	var eb ErrorBody
	_ = json.Unmarshal(raw, &eb)
	return c.statusError(resp.StatusCode, eb)
}

func (c *HTTPClient) statusError(code int, eb ErrorBody) error {
	switch {
	case code == http.StatusNotFound:
		return fmt.Errorf("%w: %s: %s", ErrUnknownReference, c.provider, eb.describe())
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return fmt.Errorf("%w: %s returned %d", ErrProviderTimeout, c.provider, code)
	case code == http.StatusTooManyRequests || code >= 500:
		return fmt.Errorf("%w: %s returned %d: %s", ErrProviderUnavailable, c.provider, code, eb.describe())
	case eb.Code == "unsupported_corridor":
		return fmt.Errorf("%w: %s: %s", ErrUnsupportedCorridor, c.provider, eb.describe())
	case code >= 400:
		return &RejectedError{Provider: c.provider, Code: eb.Code, Message: eb.describe()}
	default:
		return &StatusError{StatusCode: code, Body: eb}
	}
}

func (c *HTTPClient) transportError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %v", ErrProviderTimeout, c.provider, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %s: %v", ErrProviderTimeout, c.provider, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrProviderUnavailable, c.provider, err)
}
