// Package token fetches and caches bearer tokens from an external
// credential provider. The signing protocol is the provider's business;
// this package only does the client-credentials exchange and expiry-checked
// caching.
package token

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token is a bearer credential with its expiry.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// Valid reports whether the token is usable at the given instant with the
// given refresh skew.
func (t Token) Valid(now time.Time, skew time.Duration) bool {
	return t.Value != "" && now.Add(skew).Before(t.ExpiresAt)
}

// Provider exchanges client credentials for bearer tokens over HTTP.
type Provider struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scope        string

	// HTTPClient defaults to a 10s-timeout client when nil.
	HTTPClient *http.Client
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Fetch performs one client-credentials exchange.
func (p *Provider) Fetch(ctx context.Context) (Token, error) {
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {p.ClientID},
		"client_secret": {p.ClientSecret},
	}
	if p.Scope != "" {
		form.Set("scope", p.Scope)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Token{}, fmt.Errorf("building token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	client := p.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return Token{}, fmt.Errorf("requesting token: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Token{}, fmt.Errorf("reading token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Token{}, fmt.Errorf("token endpoint returned %d", resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return Token{}, fmt.Errorf("parsing token response: %w", err)
	}
	if tr.AccessToken == "" {
		return Token{}, fmt.Errorf("token response missing access_token")
	}

	tok := Token{Value: tr.AccessToken}
	switch {
	case tr.ExpiresIn > 0:
		tok.ExpiresAt = time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	default:
		// No expires_in: fall back to the JWT exp claim. The token is
		// not validated here, only read.
		exp, err := expFromJWT(tr.AccessToken)
		if err != nil {
			slog.Warn("token has no expires_in and no readable exp claim, assuming 5m", "error", err)
			exp = time.Now().Add(5 * time.Minute)
		}
		tok.ExpiresAt = exp
	}
	return tok, nil
}

func expFromJWT(raw string) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return time.Time{}, err
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, fmt.Errorf("no exp claim")
	}
	return exp.Time, nil
}

// Cache hands out a provider token, refreshing it when within the refresh
// skew of expiry. It is an explicit per-run object, created at setup and
// passed into iterations; there is no process-wide token state.
type Cache struct {
	mu       sync.Mutex
	provider *Provider
	skew     time.Duration
	current  Token
}

// NewCache wraps a provider. skew <= 0 defaults to 30s.
func NewCache(p *Provider, skew time.Duration) *Cache {
	if skew <= 0 {
		skew = 30 * time.Second
	}
	return &Cache{provider: p, skew: skew}
}

// Bearer returns a currently-valid token value, fetching a fresh one when
// the cached token is missing or near expiry. Concurrent callers during a
// refresh serialize on the cache so the provider sees one request.
func (c *Cache) Bearer(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current.Valid(time.Now(), c.skew) {
		return c.current.Value, nil
	}

	tok, err := c.provider.Fetch(ctx)
	if err != nil {
		return "", err
	}
	c.current = tok
	slog.Debug("bearer token refreshed", "expires_at", tok.ExpiresAt)
	return tok.Value, nil
}
