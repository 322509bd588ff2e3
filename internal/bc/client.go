// Package bc implements the Business Central REST client used by the catalog
// sync and the purchase-order submission flow.
package bc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// ErrExternalService indicates the remote ERP stayed unavailable after all
// retries were exhausted.
var ErrExternalService = errors.New("bc: external service unavailable")

// Config carries tenant access settings for the client.
type Config struct {
	BaseURL        string
	TokenURL       string
	TenantID       string
	ClientID       string
	ClientSecret   string
	Environment    string
	Company        string
	HTTPTimeout    time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
}

// Client talks to the Business Central API for one tenant.
type Client struct {
	cfg        Config
	httpClient *http.Client
	tokens     *TokenProvider
	logger     *slog.Logger
	sleep      func(context.Context, time.Duration) error

	companyOnce resolveState
}

// NewClient constructs a Client with its own token provider.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 4
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 500 * time.Millisecond
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = TokenURLForTenant(cfg.TenantID)
	}
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		tokens:     NewTokenProvider(cfg.TokenURL, cfg.ClientID, cfg.ClientSecret, httpClient),
		logger:     logger,
		sleep:      sleepCtx,
	}
}

// Tokens exposes the token provider, mainly for lifecycle management.
func (c *Client) Tokens() *TokenProvider {
	return c.tokens
}

// get performs a GET with bearer auth, decoding the JSON body into out.
// 429 and 5xx responses are retried with exponential backoff. A 401 gets one
// token refresh before failing; other 4xx fail immediately. GETs against BC
// are idempotent so retrying is safe.
func (c *Client) get(ctx context.Context, url string, out any) error {
	var lastStatus int
	refreshed := false
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.cfg.RetryBaseDelay * (1 << (attempt - 1))
			if c.logger != nil {
				c.logger.Warn("bc retrying request",
					slog.String("url", url),
					slog.Int("attempt", attempt),
					slog.Int("last_status", lastStatus),
					slog.Duration("delay", delay))
			}
			if err := c.sleep(ctx, delay); err != nil {
				return err
			}
		}

		status, err := c.doOnce(ctx, http.MethodGet, url, nil, out)
		if err == nil {
			return nil
		}
		lastStatus = status
		if status == http.StatusUnauthorized && !refreshed {
			// A cached token can expire or be revoked server-side between
			// requests. Drop it and retry once with a fresh one.
			refreshed = true
			c.tokens.Invalidate()
			continue
		}
		if !retryable(status, err) {
			return err
		}
	}
	return fmt.Errorf("%w: GET %s failed after %d retries (last status %d)",
		ErrExternalService, url, c.cfg.MaxRetries, lastStatus)
}

// post performs a single POST with bearer auth. Writes against BC are not
// idempotent, so they are never retried here.
func (c *Client) post(ctx context.Context, url string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("bc: encode request body: %w", err)
	}
	_, err = c.doOnce(ctx, http.MethodPost, url, payload, out)
	return err
}

// doOnce performs one HTTP exchange bounded by the client timeout.
func (c *Client) doOnce(ctx context.Context, method, url string, body []byte, out any) (int, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return 0, err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, fmt.Errorf("bc: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("bc: %s %s: %w", method, url, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, fmt.Errorf("bc: %s %s returned %d", method, url, resp.StatusCode)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, fmt.Errorf("bc: decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func retryable(status int, err error) bool {
	if status == http.StatusTooManyRequests || status >= 500 {
		return true
	}
	// Transport-level failures carry no status.
	return status == 0 && err != nil && !errors.Is(err, context.Canceled)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
