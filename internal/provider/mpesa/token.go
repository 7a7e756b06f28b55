package mpesa

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"mchango-payments/internal/domain"
	"mchango-payments/internal/metrics"
)

const (
	defaultTokenTTL   = 55 * time.Minute
	tokenExpiryMargin = 60 * time.Second
)

type tokenResponse struct {
	AccessToken string    `json:"access_token"`
	ExpiresIn   codeValue `json:"expires_in"`
}

// Token returns a bearer token for creds, from the cache when one is configured.
func (c *Client) Token(ctx context.Context, creds domain.Credentials) (string, error) {
	key := tokenKey(creds)
	if c.tokens != nil {
		if token, ok := c.tokens.Get(ctx, key); ok {
			metrics.TokenRequestsTotal.WithLabelValues("cache", "hit").Inc()
			return token, nil
		}
	}

	token, ttl, err := c.fetchToken(ctx, creds)
	if err != nil {
		metrics.TokenRequestsTotal.WithLabelValues("network", "error").Inc()
		return "", err
	}
	metrics.TokenRequestsTotal.WithLabelValues("network", "ok").Inc()

	if c.tokens != nil {
		c.tokens.Set(ctx, key, token, ttl)
	}
	return token, nil
}

// InvalidateToken drops any cached token for creds.
func (c *Client) InvalidateToken(ctx context.Context, creds domain.Credentials) {
	if c.tokens != nil {
		c.tokens.Delete(ctx, tokenKey(creds))
	}
}

func (c *Client) fetchToken(ctx context.Context, creds domain.Credentials) (string, time.Duration, error) {
	url := c.baseURL(creds) + "/oauth/v1/generate?grant_type=client_credentials"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", 0, fmt.Errorf("build token request: %w", err)
	}
	req.SetBasicAuth(creds.ConsumerKey, creds.ConsumerSecret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, &domain.UpstreamError{
			Op:          "oauth",
			Description: err.Error(),
			Err:         domain.ErrAuthenticationFailed,
		}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Error("daraja token request failed",
			zap.Int("status", resp.StatusCode),
			zap.Bool("sandbox", creds.Sandbox))
		return "", 0, &domain.UpstreamError{
			Op:         "oauth",
			StatusCode: resp.StatusCode,
			Body:       string(body),
			Err:        domain.ErrAuthenticationFailed,
		}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil || strings.TrimSpace(tr.AccessToken) == "" {
		return "", 0, &domain.UpstreamError{
			Op:          "oauth",
			StatusCode:  resp.StatusCode,
			Description: "empty access token",
			Body:        string(body),
			Err:         domain.ErrAuthenticationFailed,
		}
	}

	ttl := defaultTokenTTL
	if secs, err := strconv.Atoi(string(tr.ExpiresIn)); err == nil && secs > 0 {
		ttl = time.Duration(secs)*time.Second - tokenExpiryMargin
	}
	if ttl <= 0 {
		ttl = time.Second
	}
	return tr.AccessToken, ttl, nil
}

// tokenKey hashes the consumer key so raw credentials never become cache keys.
func tokenKey(creds domain.Credentials) string {
	sum := sha256.Sum256([]byte(creds.ConsumerKey + "|" + strconv.FormatBool(creds.Sandbox)))
	return hex.EncodeToString(sum[:16])
}
