package mindbody

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/halcyonwell/booking-widget/internal/observability/metrics"
	"github.com/halcyonwell/booking-widget/pkg/logging"
)

const maxLoggedBody = 300

// GatewayConfig configures the upstream API gateway.
type GatewayConfig struct {
	BaseURL string
	APIKey  string
	SiteID  string
	Tokens  *TokenCache

	// Timeout bounds each request. Defaults to 20s.
	Timeout time.Duration

	// DebugLogging logs endpoint and truncated bodies for every call.
	DebugLogging bool

	Logger  *logging.Logger
	Metrics *metrics.BookingMetrics
}

// Gateway wraps outbound calls to the upstream scheduling API with
// credentials, timeouts and uniform error mapping.
type Gateway struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	siteID     string
	tokens     *TokenCache
	debug      bool
	logger     *logging.Logger
	metrics    *metrics.BookingMetrics
}

// RequestOptions carries the optional parts of an upstream request.
type RequestOptions struct {
	Query url.Values
	Body  any

	// Token overrides token resolution. When empty the gateway asks the
	// token cache for a staff token with user fallback.
	Token string
}

// NewGateway creates an upstream API gateway.
func NewGateway(cfg GatewayConfig) *Gateway {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Gateway{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		siteID:     cfg.SiteID,
		tokens:     cfg.Tokens,
		debug:      cfg.DebugLogging,
		logger:     logger,
		metrics:    cfg.Metrics,
	}
}

// Request performs one upstream call and returns the raw JSON body.
// HTTP status >= 400 maps to an upstream-kind APIError; a 401 additionally
// invalidates the cached token so the next call re-authenticates. The
// current call is not retried.
func (g *Gateway) Request(ctx context.Context, method, path string, opts RequestOptions) (json.RawMessage, error) {
	token := opts.Token
	tokenKind := TokenKind("")
	if token == "" && g.tokens != nil {
		var err error
		token, tokenKind, err = g.tokens.GetPreferredToken(ctx)
		if err != nil {
			return nil, err
		}
	}

	endpoint := g.baseURL + path
	if len(opts.Query) > 0 {
		endpoint += "?" + opts.Query.Encode()
	}

	var bodyReader io.Reader
	var payload []byte
	if opts.Body != nil {
		var err error
		payload, err = json.Marshal(opts.Body)
		if err != nil {
			return nil, NewValidationError("marshal request body: %v", err)
		}
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bodyReader)
	if err != nil {
		return nil, &APIError{Kind: ErrKindNetwork, Message: "build request: " + err.Error()}
	}
	req.Header.Set("Api-Key", g.apiKey)
	req.Header.Set("SiteId", g.siteID)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	if g.debug {
		g.logger.Debug("upstream request", "method", method, "path", path, "body", truncate(string(payload)))
	}

	start := time.Now()
	resp, err := g.httpClient.Do(req)
	if err != nil {
		g.observe(path, "network", start)
		return nil, &APIError{Kind: ErrKindNetwork, Message: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		g.observe(path, "network", start)
		return nil, &APIError{Kind: ErrKindNetwork, Message: "read response: " + err.Error()}
	}

	if g.debug {
		g.logger.Debug("upstream response", "path", path, "status", resp.StatusCode, "body", truncate(string(respBody)))
	}

	if resp.StatusCode >= 400 {
		if resp.StatusCode == http.StatusUnauthorized && g.tokens != nil && tokenKind != "" {
			g.tokens.Invalidate(ctx, tokenKind)
		}
		g.observe(path, "upstream", start)
		return nil, &APIError{
			Kind:    ErrKindUpstream,
			Status:  resp.StatusCode,
			Message: fmt.Sprintf("%s %s returned %d", method, path, resp.StatusCode),
			Body:    truncate(string(respBody)),
		}
	}

	if len(bytes.TrimSpace(respBody)) == 0 {
		g.observe(path, "empty", start)
		return nil, &APIError{Kind: ErrKindEmptyResponse, Message: fmt.Sprintf("%s %s returned an empty body", method, path)}
	}
	if !json.Valid(respBody) {
		g.observe(path, "empty", start)
		return nil, &APIError{Kind: ErrKindEmptyResponse, Message: fmt.Sprintf("%s %s returned an unparseable body", method, path)}
	}

	g.observe(path, "ok", start)
	return respBody, nil
}

// Do performs a request and unmarshals the body into out.
func (g *Gateway) Do(ctx context.Context, method, path string, opts RequestOptions, out any) error {
	raw, err := g.Request(ctx, method, path, opts)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &APIError{Kind: ErrKindEmptyResponse, Message: "decode response: " + err.Error()}
	}
	return nil
}

func (g *Gateway) observe(path, outcome string, start time.Time) {
	g.metrics.ObserveUpstream(path, outcome, time.Since(start).Seconds())
}

func truncate(s string) string {
	if len(s) > maxLoggedBody {
		return s[:maxLoggedBody]
	}
	return s
}
