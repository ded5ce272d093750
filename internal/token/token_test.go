package token

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func tokenServer(t *testing.T, hits *atomic.Int64, body map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if err := r.ParseForm(); err != nil || r.PostForm.Get("grant_type") != "client_credentials" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(body)
	}))
}

func TestProviderFetch(t *testing.T) {
	var hits atomic.Int64
	srv := tokenServer(t, &hits, map[string]any{
		"access_token": "tok-123",
		"token_type":   "Bearer",
		"expires_in":   3600,
	})
	defer srv.Close()

	p := &Provider{TokenURL: srv.URL, ClientID: "app", ClientSecret: "secret"}
	tok, err := p.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}
	if tok.Value != "tok-123" {
		t.Errorf("token = %q, want tok-123", tok.Value)
	}
	until := time.Until(tok.ExpiresAt)
	if until < 59*time.Minute || until > 61*time.Minute {
		t.Errorf("expiry in %s, want ~1h", until)
	}
}

func TestProviderFetchErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	p := &Provider{TokenURL: srv.URL, ClientID: "app", ClientSecret: "bad"}
	if _, err := p.Fetch(context.Background()); err == nil {
		t.Error("Fetch() against 401 should fail")
	}

	var hits atomic.Int64
	empty := tokenServer(t, &hits, map[string]any{"token_type": "Bearer"})
	defer empty.Close()
	p = &Provider{TokenURL: empty.URL, ClientID: "app", ClientSecret: "secret"}
	if _, err := p.Fetch(context.Background()); err == nil {
		t.Error("Fetch() with missing access_token should fail")
	}
}

// unsignedJWT builds an alg:none JWT with the given exp, enough for the
// unverified claim read.
func unsignedJWT(exp time.Time) string {
	enc := func(v any) string {
		b, _ := json.Marshal(v)
		return base64.RawURLEncoding.EncodeToString(b)
	}
	header := enc(map[string]string{"alg": "none", "typ": "JWT"})
	claims := enc(map[string]any{"exp": exp.Unix(), "aud": "bot"})
	return fmt.Sprintf("%s.%s.", header, claims)
}

func TestExpiryFromJWTClaim(t *testing.T) {
	exp := time.Now().Add(42 * time.Minute).Truncate(time.Second)
	var hits atomic.Int64
	srv := tokenServer(t, &hits, map[string]any{
		"access_token": unsignedJWT(exp),
		"token_type":   "Bearer",
	})
	defer srv.Close()

	p := &Provider{TokenURL: srv.URL, ClientID: "app", ClientSecret: "secret"}
	tok, err := p.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}
	if !tok.ExpiresAt.Equal(exp) {
		t.Errorf("expiry = %v, want %v (from exp claim)", tok.ExpiresAt, exp)
	}
}

func TestCacheReusesUntilNearExpiry(t *testing.T) {
	var hits atomic.Int64
	srv := tokenServer(t, &hits, map[string]any{
		"access_token": "tok-xyz",
		"expires_in":   3600,
	})
	defer srv.Close()

	c := NewCache(&Provider{TokenURL: srv.URL, ClientID: "a", ClientSecret: "s"}, time.Minute)

	for i := 0; i < 5; i++ {
		v, err := c.Bearer(context.Background())
		if err != nil {
			t.Fatalf("Bearer() error: %v", err)
		}
		if v != "tok-xyz" {
			t.Errorf("Bearer() = %q, want tok-xyz", v)
		}
	}
	if hits.Load() != 1 {
		t.Errorf("provider hits = %d, want 1 (cached)", hits.Load())
	}
}

func TestCacheRefreshesWithinSkew(t *testing.T) {
	var hits atomic.Int64
	srv := tokenServer(t, &hits, map[string]any{
		"access_token": "tok-short",
		"expires_in":   10, // expires within the skew below
	})
	defer srv.Close()

	c := NewCache(&Provider{TokenURL: srv.URL, ClientID: "a", ClientSecret: "s"}, time.Minute)

	c.Bearer(context.Background())
	c.Bearer(context.Background())
	if hits.Load() != 2 {
		t.Errorf("provider hits = %d, want 2 (token always within refresh skew)", hits.Load())
	}
}

func TestTokenValid(t *testing.T) {
	now := time.Now()
	tok := Token{Value: "t", ExpiresAt: now.Add(time.Minute)}

	if !tok.Valid(now, 30*time.Second) {
		t.Error("token with 1m left should be valid at 30s skew")
	}
	if tok.Valid(now, 2*time.Minute) {
		t.Error("token with 1m left should be invalid at 2m skew")
	}
	if (Token{}).Valid(now, 0) {
		t.Error("zero token should be invalid")
	}
}
