// Package mpesa talks to the Safaricom Daraja API: OAuth tokens, STK push,
// B2C payments and their callback envelopes.
package mpesa

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"mchango-payments/internal/domain"
	"mchango-payments/internal/metrics"
)

const (
	SandboxBaseURL    = "https://sandbox.safaricom.co.ke"
	ProductionBaseURL = "https://api.safaricom.co.ke"

	maxResponseBytes = 1 << 20
)

// HTTPDoer is the subset of *http.Client the client needs.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Client struct {
	httpClient    HTTPDoer
	tokens        TokenCache
	sandboxURL    string
	productionURL string
	now           func() time.Time
	logger        *zap.Logger
}

type Option func(*Client)

// WithHTTPClient replaces the default 15s-timeout http.Client.
func WithHTTPClient(doer HTTPDoer) Option {
	return func(c *Client) { c.httpClient = doer }
}

func WithBaseURLs(sandbox, production string) Option {
	return func(c *Client) {
		if sandbox != "" {
			c.sandboxURL = sandbox
		}
		if production != "" {
			c.productionURL = production
		}
	}
}

// WithTokenCache enables token caching. Without it, every call re-authenticates.
func WithTokenCache(cache TokenCache) Option {
	return func(c *Client) { c.tokens = cache }
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

func NewClient(logger *zap.Logger, opts ...Option) *Client {
	c := &Client{
		httpClient:    &http.Client{Timeout: 15 * time.Second},
		sandboxURL:    SandboxBaseURL,
		productionURL: ProductionBaseURL,
		now:           time.Now,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Now is the clock used for request timestamps.
func (c *Client) Now() time.Time { return c.now() }

func (c *Client) baseURL(creds domain.Credentials) string {
	if creds.Sandbox {
		return c.sandboxURL
	}
	return c.productionURL
}

// post sends an authenticated JSON request. A 401 drops the cached token and
// retries once with a fresh one.
func (c *Client) post(ctx context.Context, op string, creds domain.Credentials, path string, payload any) (int, []byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("marshal %s request: %w", op, err)
	}
	url := c.baseURL(creds) + path

	for attempt := 0; ; attempt++ {
		token, err := c.Token(ctx, creds)
		if err != nil {
			return 0, nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return 0, nil, fmt.Errorf("build %s request: %w", op, err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/json")

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		if err != nil {
			metrics.UpstreamRequestDuration.WithLabelValues(op, "error").Observe(time.Since(start).Seconds())
			return 0, nil, fmt.Errorf("%s request: %w", op, err)
		}
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		resp.Body.Close()
		metrics.UpstreamRequestDuration.
			With(prometheus.Labels{"operation": op, "status": strconv.Itoa(resp.StatusCode)}).
			Observe(time.Since(start).Seconds())
		if err != nil {
			return resp.StatusCode, nil, fmt.Errorf("read %s response: %w", op, err)
		}

		if resp.StatusCode == http.StatusUnauthorized && attempt == 0 {
			c.logger.Warn("daraja rejected token, refreshing",
				zap.String("operation", op))
			c.InvalidateToken(ctx, creds)
			continue
		}
		return resp.StatusCode, data, nil
	}
}

// apiError is the error body Daraja returns with 4xx/5xx statuses.
type apiError struct {
	RequestID    string `json:"requestId"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
