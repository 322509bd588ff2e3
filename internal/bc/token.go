package bc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// refreshMargin is how long before expiry a cached token is considered stale.
const refreshMargin = 60 * time.Second

const defaultScope = "https://api.businesscentral.dynamics.com/.default"

// TokenProvider caches a client-credentials bearer token and refreshes it when
// it is within refreshMargin of expiry. Refresh is mutually exclusive so that
// concurrent callers never stampede the token endpoint.
type TokenProvider struct {
	tokenURL     string
	clientID     string
	clientSecret string
	scope        string
	httpClient   *http.Client
	now          func() time.Time

	mu        sync.RWMutex
	token     string
	expiresAt time.Time
}

// NewTokenProvider builds a provider for the Microsoft identity client-credentials grant.
func NewTokenProvider(tokenURL, clientID, clientSecret string, httpClient *http.Client) *TokenProvider {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &TokenProvider{
		tokenURL:     tokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		scope:        defaultScope,
		httpClient:   httpClient,
		now:          time.Now,
	}
}

// TokenURLForTenant returns the v2.0 token endpoint for an Azure AD tenant.
func TokenURLForTenant(tenantID string) string {
	return fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", tenantID)
}

// Token returns the cached bearer token, refreshing it first when stale.
func (p *TokenProvider) Token(ctx context.Context) (string, error) {
	p.mu.RLock()
	if p.valid() {
		token := p.token
		p.mu.RUnlock()
		return token, nil
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.valid() {
		return p.token, nil
	}
	return p.refreshLocked(ctx)
}

// Invalidate drops the cached token; the next Token call fetches a fresh one.
func (p *TokenProvider) Invalidate() {
	p.mu.Lock()
	p.token = ""
	p.expiresAt = time.Time{}
	p.mu.Unlock()
}

func (p *TokenProvider) valid() bool {
	return p.token != "" && p.now().Add(refreshMargin).Before(p.expiresAt)
}

// refreshLocked performs the token POST. The grant call itself is never
// retried: a failed POST surfaces immediately.
func (p *TokenProvider) refreshLocked(ctx context.Context) (string, error) {
	form := url.Values{
		"client_id":     {p.clientID},
		"client_secret": {p.clientSecret},
		"grant_type":    {"client_credentials"},
		"scope":         {p.scope},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("bc: build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("bc: token request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("bc: token endpoint returned %d", resp.StatusCode)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("bc: decode token response: %w", err)
	}
	if payload.AccessToken == "" {
		return "", errors.New("bc: token response missing access_token")
	}

	p.token = payload.AccessToken
	p.expiresAt = p.now().Add(time.Duration(payload.ExpiresIn) * time.Second)
	return p.token, nil
}
