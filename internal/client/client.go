// Package client executes calls against one configured backend service,
// honoring caching, rate limiting, retries, and response normalization.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/sunqi/platform-mcp/internal/common"
	"github.com/sunqi/platform-mcp/internal/service"
)

// maxResponseSize caps response bodies to prevent OOM from unexpectedly
// large backend responses.
const maxResponseSize = 50 << 20 // 50MB

// userAgent is the fixed client identifier sent on every request.
const userAgent = "MCP-Platform-Integration/1.0"

// defaultResponsePath is the projection applied to json-format responses
// when the endpoint does not configure one.
const defaultResponsePath = "data.list"

// Client executes HTTP calls for one service. Each client owns its own
// connection pool, cache, and rate-limit state; a registry reload discards
// the whole client rather than mutating it in place.
type Client struct {
	cfg        *service.ServiceConfig
	httpClient *http.Client
	logger     *common.Logger
	cache      *responseCache
	limits     *rateWindow

	// backoffUnit scales the 2^attempt retry delay. One second in
	// production; tests shrink it.
	backoffUnit time.Duration
}

// New creates a client bound to one service configuration.
func New(cfg *service.ServiceConfig, logger *common.Logger) *Client {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 30,
	}
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout(),
			Transport: transport,
		},
		logger:      logger,
		cache:       newResponseCache(cfg.CacheTTL()),
		limits:      newRateWindow(),
		backoffUnit: time.Second,
	}
}

// Config returns the service configuration the client is bound to.
func (c *Client) Config() *service.ServiceConfig {
	return c.cfg
}

// Close releases idle connections held by the client's transport.
func (c *Client) Close() {
	if t, ok := c.httpClient.Transport.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
}

// Call executes one logical call to an endpoint.
//
// Order of checks: cache (a hit short-circuits without consuming rate limit),
// then rate limit (a rejection performs zero HTTP requests and is never
// retried), then the HTTP request with up to MaxRetries attempts and
// 2^attempt backoff between them. On a successful non-cached call the
// rate-limit window is recorded (when the endpoint declares a limit) and the
// cache entry written (when useCache is set).
func (c *Client) Call(ctx context.Context, ep *service.APIEndpoint, params map[string]any, useCache bool) ([]byte, error) {
	if params == nil {
		params = map[string]any{}
	}

	method := strings.ToUpper(ep.Method)
	if method != http.MethodGet && method != http.MethodPost {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMethod, ep.Method)
	}

	key := cacheKey(ep.Path, params)
	if useCache {
		if payload, ok := c.cache.get(key); ok {
			c.logger.Debug().
				Str("service", c.cfg.Name).
				Str("path", ep.Path).
				Msg("cache hit")
			return payload, nil
		}
	}

	if !c.limits.allow(ep.Path, ep.RateLimit) {
		return nil, &RateLimitError{Path: ep.Path, Limit: ep.RateLimit}
	}

	target := c.resolveURL(ep.Path)

	var payload []byte
	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		payload, lastErr = c.doRequest(ctx, method, target, ep, params)
		if lastErr == nil {
			break
		}

		c.logger.Warn().
			Str("service", c.cfg.Name).
			Str("path", ep.Path).
			Int("attempt", attempt+1).
			Str("error", lastErr.Error()).
			Msg("request attempt failed")

		if attempt == c.cfg.MaxRetries-1 {
			return nil, lastErr
		}

		delay := time.Duration(1<<uint(attempt)) * c.backoffUnit
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if ep.RateLimit > 0 {
		c.limits.record(ep.Path)
	}
	if useCache {
		c.cache.set(key, payload)
	}

	return payload, nil
}

// resolveURL joins base URL, version segment, and endpoint path.
// Path-parameter substitution is the caller's responsibility.
func (c *Client) resolveURL(path string) string {
	base := strings.TrimRight(c.cfg.BaseURL, "/")
	segments := []string{base}
	if v := strings.Trim(c.cfg.Version, "/"); v != "" {
		segments = append(segments, v)
	}
	segments = append(segments, strings.TrimLeft(path, "/"))
	return strings.Join(segments, "/")
}

// doRequest performs one HTTP attempt and normalizes the response.
func (c *Client) doRequest(ctx context.Context, method, target string, ep *service.APIEndpoint, params map[string]any) ([]byte, error) {
	var req *http.Request
	var err error

	switch method {
	case http.MethodGet:
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, err
		}
		q := req.URL.Query()
		for k, v := range params {
			q.Set(k, paramString(v))
		}
		req.URL.RawQuery = q.Encode()

	case http.MethodPost:
		if ep.ContentType == "form" {
			form := url.Values{}
			for k, v := range params {
				form.Set(k, paramString(v))
			}
			// The backend authenticates form posts via an appKey field.
			form.Set("appKey", c.cfg.APIKey)
			req, err = http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(form.Encode()))
			if err != nil {
				return nil, err
			}
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		} else {
			body, merr := json.Marshal(params)
			if merr != nil {
				return nil, fmt.Errorf("failed to marshal request body: %w", merr)
			}
			req, err = http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(string(body)))
			if err != nil {
				return nil, err
			}
			req.Header.Set("Content-Type", "application/json")
		}
	}

	req.Header.Set("User-Agent", userAgent)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	c.logger.Debug().
		Str("service", c.cfg.Name).
		Str("method", method).
		Str("path", ep.Path).
		Int("status", resp.StatusCode).
		Int64("duration_ms", duration.Milliseconds()).
		Msg("backend response")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{Status: resp.StatusCode, Body: string(body)}
	}

	return normalize(body, ep), nil
}

// normalize converts a successful response body into the call payload.
// json-format endpoints are projected through the configured response path
// (content-type headers are ignored; bodies that do not contain the path
// yield an empty array). text-format endpoints wrap the body as
// {"content": <text>}.
func normalize(body []byte, ep *service.APIEndpoint) []byte {
	if ep.ResponseFormat == "text" {
		wrapped, err := json.Marshal(map[string]string{"content": string(body)})
		if err != nil {
			return []byte(`{"content":""}`)
		}
		return wrapped
	}

	path := ep.ResponsePath
	if path == "" {
		path = defaultResponsePath
	}
	v := gjson.GetBytes(body, path)
	if !v.Exists() {
		return []byte("[]")
	}
	return []byte(v.Raw)
}

// paramString renders a parameter value for query strings and form fields.
func paramString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}
