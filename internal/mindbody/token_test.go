package mindbody

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newIssueServer(t *testing.T, issueCalls *int64) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/usertoken/issue" {
			http.NotFound(w, r)
			return
		}
		atomic.AddInt64(issueCalls, 1)
		var creds struct {
			Username string `json:"Username"`
			Password string `json:"Password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
			http.Error(w, "bad body", http.StatusBadRequest)
			return
		}
		if creds.Username == "bad-staff" {
			http.Error(w, "denied", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"AccessToken": "tok-" + creds.Username,
			"ExpiresIn":   3600,
		})
	}))
	t.Cleanup(ts.Close)
	return ts
}

func newTestTokenCache(t *testing.T, baseURL string, rdb *redis.Client) *TokenCache {
	t.Helper()
	return NewTokenCache(TokenCacheConfig{
		BaseURL: baseURL,
		APIKey:  "api-key",
		SiteID:  "-99",
		Staff:   Credentials{Username: "staff-user", Password: "pw"},
		User:    Credentials{Username: "site-user", Password: "pw"},
		Redis:   rdb,
	})
}

func TestTokenCache_NoRefreshOutsideSkew(t *testing.T) {
	var issueCalls int64
	ts := newIssueServer(t, &issueCalls)

	cache := newTestTokenCache(t, ts.URL, nil)
	cache.Seed(TokenStaff, Token{Value: "seeded", ExpiresAt: time.Now().Add(400 * time.Second)})

	for i := 0; i < 2; i++ {
		tok, err := cache.GetValidToken(context.Background(), TokenStaff)
		if err != nil {
			t.Fatalf("GetValidToken() error = %v", err)
		}
		if tok != "seeded" {
			t.Fatalf("token = %s, want seeded", tok)
		}
	}
	if n := atomic.LoadInt64(&issueCalls); n != 0 {
		t.Fatalf("issue calls = %d, want 0 (400s > 300s skew)", n)
	}
}

func TestTokenCache_RefreshInsideSkew(t *testing.T) {
	var issueCalls int64
	ts := newIssueServer(t, &issueCalls)

	cache := newTestTokenCache(t, ts.URL, nil)
	cache.Seed(TokenStaff, Token{Value: "stale", ExpiresAt: time.Now().Add(200 * time.Second)})

	tok, err := cache.GetValidToken(context.Background(), TokenStaff)
	if err != nil {
		t.Fatalf("GetValidToken() error = %v", err)
	}
	if tok != "tok-staff-user" {
		t.Fatalf("token = %s, want freshly issued token", tok)
	}
	if n := atomic.LoadInt64(&issueCalls); n != 1 {
		t.Fatalf("issue calls = %d, want 1", n)
	}
}

func TestTokenCache_PersistsAcrossInstances(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	var issueCalls int64
	ts := newIssueServer(t, &issueCalls)

	first := newTestTokenCache(t, ts.URL, rdb)
	if _, err := first.GetValidToken(context.Background(), TokenStaff); err != nil {
		t.Fatalf("first GetValidToken() error = %v", err)
	}
	if n := atomic.LoadInt64(&issueCalls); n != 1 {
		t.Fatalf("issue calls = %d, want 1", n)
	}

	// A fresh cache (simulated restart) rehydrates from redis without a
	// network call.
	second := newTestTokenCache(t, ts.URL, rdb)
	tok, err := second.GetValidToken(context.Background(), TokenStaff)
	if err != nil {
		t.Fatalf("second GetValidToken() error = %v", err)
	}
	if tok != "tok-staff-user" {
		t.Fatalf("token = %s, want persisted token", tok)
	}
	if n := atomic.LoadInt64(&issueCalls); n != 1 {
		t.Fatalf("issue calls = %d, want 1 after rehydration", n)
	}
}

func TestTokenCache_InvalidateForcesReissue(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	var issueCalls int64
	ts := newIssueServer(t, &issueCalls)

	cache := newTestTokenCache(t, ts.URL, rdb)
	if _, err := cache.GetValidToken(context.Background(), TokenStaff); err != nil {
		t.Fatalf("GetValidToken() error = %v", err)
	}
	cache.Invalidate(context.Background(), TokenStaff)
	if _, err := cache.GetValidToken(context.Background(), TokenStaff); err != nil {
		t.Fatalf("GetValidToken() after invalidate error = %v", err)
	}
	if n := atomic.LoadInt64(&issueCalls); n != 2 {
		t.Fatalf("issue calls = %d, want 2", n)
	}
}

func TestTokenCache_IssueFailureIsAuthError(t *testing.T) {
	var issueCalls int64
	ts := newIssueServer(t, &issueCalls)

	cache := NewTokenCache(TokenCacheConfig{
		BaseURL: ts.URL,
		APIKey:  "api-key",
		SiteID:  "-99",
		Staff:   Credentials{Username: "bad-staff", Password: "pw"},
	})
	_, err := cache.GetValidToken(context.Background(), TokenStaff)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !IsAuthError(err) {
		t.Fatalf("error kind = %s, want auth", ErrorKindOf(err))
	}
}

func TestTokenCache_PreferredFallsBackToUser(t *testing.T) {
	var issueCalls int64
	ts := newIssueServer(t, &issueCalls)

	cache := NewTokenCache(TokenCacheConfig{
		BaseURL: ts.URL,
		APIKey:  "api-key",
		SiteID:  "-99",
		Staff:   Credentials{Username: "bad-staff", Password: "pw"},
		User:    Credentials{Username: "site-user", Password: "pw"},
	})
	tok, kind, err := cache.GetPreferredToken(context.Background())
	if err != nil {
		t.Fatalf("GetPreferredToken() error = %v", err)
	}
	if kind != TokenUser {
		t.Fatalf("kind = %s, want user", kind)
	}
	if tok != "tok-site-user" {
		t.Fatalf("token = %s, want user token", tok)
	}
}

func TestTokenCache_MissingCredentials(t *testing.T) {
	cache := NewTokenCache(TokenCacheConfig{BaseURL: "http://localhost:0", APIKey: "k", SiteID: "s"})
	_, err := cache.GetValidToken(context.Background(), TokenUser)
	if !IsAuthError(err) {
		t.Fatalf("expected auth error for missing credentials, got %v", err)
	}
}
