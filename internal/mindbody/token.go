package mindbody

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/halcyonwell/booking-widget/pkg/logging"
)

// TokenKind selects the credential pair used to issue a token.
type TokenKind string

const (
	// TokenStaff is the staff credential flow, preferred for catalog and
	// administrative calls.
	TokenStaff TokenKind = "staff"
	// TokenUser is the fallback credential flow.
	TokenUser TokenKind = "user"
)

const (
	// refreshSkew is subtracted from the expiry when deciding whether a
	// cached token is still usable.
	refreshSkew = 300 * time.Second

	// defaultTokenTTL applies when upstream omits expires_in.
	defaultTokenTTL = 1800 * time.Second
)

// Credentials is a username/password pair for token issuance.
type Credentials struct {
	Username string
	Password string
}

// Token is a bearer token with its expiry.
type Token struct {
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (t Token) usable(now time.Time) bool {
	return t.Value != "" && now.Before(t.ExpiresAt.Add(-refreshSkew))
}

// TokenCacheConfig configures a TokenCache.
type TokenCacheConfig struct {
	BaseURL string
	APIKey  string
	SiteID  string
	Staff   Credentials
	User    Credentials

	// Redis persists tokens across restarts. Optional; without it the
	// cache is process-local only.
	Redis      *redis.Client
	HTTPClient *http.Client
	Logger     *logging.Logger
	Now        func() time.Time
}

// TokenCache holds bearer tokens per credential kind, refreshing them
// before expiry and dropping them on auth failures. Refresh is serialized
// under a mutex; the cache is shared across request goroutines.
type TokenCache struct {
	baseURL    string
	apiKey     string
	siteID     string
	creds      map[TokenKind]Credentials
	redis      *redis.Client
	httpClient *http.Client
	logger     *logging.Logger
	now        func() time.Time

	mu  sync.Mutex
	mem map[TokenKind]Token
}

// NewTokenCache creates a token cache.
func NewTokenCache(cfg TokenCacheConfig) *TokenCache {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &TokenCache{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		siteID:  cfg.SiteID,
		creds: map[TokenKind]Credentials{
			TokenStaff: cfg.Staff,
			TokenUser:  cfg.User,
		},
		redis:      cfg.Redis,
		httpClient: httpClient,
		logger:     logger,
		now:        now,
	}
}

// GetValidToken returns a cached token when it is still usable, otherwise
// issues a new one and persists it. No network call happens while
// now < expiry - 300s.
func (c *TokenCache) GetValidToken(ctx context.Context, kind TokenKind) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if tok, ok := c.mem[kind]; ok && tok.usable(now) {
		return tok.Value, nil
	}
	if tok, ok := c.loadPersisted(ctx, kind); ok && tok.usable(now) {
		c.remember(kind, tok)
		return tok.Value, nil
	}

	tok, err := c.issue(ctx, kind)
	if err != nil {
		return "", err
	}
	c.remember(kind, tok)
	c.persist(ctx, kind, tok)
	return tok.Value, nil
}

// GetPreferredToken returns a staff token, falling back to the user
// credential flow when staff issuance fails. This is a deliberate fallback
// chain, not a retry.
func (c *TokenCache) GetPreferredToken(ctx context.Context) (string, TokenKind, error) {
	value, err := c.GetValidToken(ctx, TokenStaff)
	if err == nil {
		return value, TokenStaff, nil
	}
	c.logger.Warn("staff token acquisition failed, falling back to user token", "error", err)
	value, userErr := c.GetValidToken(ctx, TokenUser)
	if userErr != nil {
		return "", "", err
	}
	return value, TokenUser, nil
}

// Invalidate drops the cached token for a kind. Called after an upstream
// 401 so the next call re-authenticates.
func (c *TokenCache) Invalidate(ctx context.Context, kind TokenKind) {
	c.mu.Lock()
	delete(c.mem, kind)
	c.mu.Unlock()

	if c.redis != nil {
		if err := c.redis.Del(ctx, tokenKey(kind)).Err(); err != nil {
			c.logger.Warn("failed to delete persisted token", "kind", kind, "error", err)
		}
	}
}

// Seed installs a token directly. Test hook.
func (c *TokenCache) Seed(kind TokenKind, tok Token) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remember(kind, tok)
}

func (c *TokenCache) remember(kind TokenKind, tok Token) {
	if c.mem == nil {
		c.mem = make(map[TokenKind]Token)
	}
	c.mem[kind] = tok
}

func (c *TokenCache) loadPersisted(ctx context.Context, kind TokenKind) (Token, bool) {
	if c.redis == nil {
		return Token{}, false
	}
	data, err := c.redis.Get(ctx, tokenKey(kind)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("failed to load persisted token", "kind", kind, "error", err)
		}
		return Token{}, false
	}
	var tok Token
	if err := json.Unmarshal(data, &tok); err != nil {
		c.logger.Warn("corrupt persisted token, discarding", "kind", kind, "error", err)
		return Token{}, false
	}
	return tok, true
}

func (c *TokenCache) persist(ctx context.Context, kind TokenKind, tok Token) {
	if c.redis == nil {
		return
	}
	data, err := json.Marshal(tok)
	if err != nil {
		return
	}
	ttl := tok.ExpiresAt.Sub(c.now())
	if ttl <= 0 {
		return
	}
	if err := c.redis.Set(ctx, tokenKey(kind), data, ttl).Err(); err != nil {
		c.logger.Warn("failed to persist token", "kind", kind, "error", err)
	}
}

// issue requests a new token from the identity endpoint with the credential
// pair for kind.
func (c *TokenCache) issue(ctx context.Context, kind TokenKind) (Token, error) {
	creds, ok := c.creds[kind]
	if !ok || creds.Username == "" {
		return Token{}, &APIError{Kind: ErrKindAuth, Message: fmt.Sprintf("no %s credentials configured", kind)}
	}

	payload, err := json.Marshal(map[string]string{
		"Username": creds.Username,
		"Password": creds.Password,
	})
	if err != nil {
		return Token{}, &APIError{Kind: ErrKindAuth, Message: "marshal token request: " + err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/usertoken/issue", bytes.NewReader(payload))
	if err != nil {
		return Token{}, &APIError{Kind: ErrKindAuth, Message: "build token request: " + err.Error()}
	}
	req.Header.Set("Api-Key", c.apiKey)
	req.Header.Set("SiteId", c.siteID)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Token{}, &APIError{Kind: ErrKindAuth, Message: "token request failed: " + err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Token{}, &APIError{
			Kind:    ErrKindAuth,
			Status:  resp.StatusCode,
			Message: fmt.Sprintf("token issuance returned %d", resp.StatusCode),
			Body:    string(body),
		}
	}

	var issued struct {
		AccessToken string `json:"AccessToken"`
		ExpiresIn   int    `json:"ExpiresIn"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&issued); err != nil {
		return Token{}, &APIError{Kind: ErrKindAuth, Message: "decode token response: " + err.Error()}
	}
	if issued.AccessToken == "" {
		return Token{}, &APIError{Kind: ErrKindAuth, Message: "token response missing access token"}
	}

	ttl := defaultTokenTTL
	if issued.ExpiresIn > 0 {
		ttl = time.Duration(issued.ExpiresIn) * time.Second
	}
	return Token{Value: issued.AccessToken, ExpiresAt: c.now().Add(ttl)}, nil
}

func tokenKey(kind TokenKind) string {
	return fmt.Sprintf("mbtoken:%s", kind)
}
