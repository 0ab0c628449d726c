package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sunqi/platform-mcp/internal/common"
	"github.com/sunqi/platform-mcp/internal/service"
)

// newTestClient builds a client against base with fast retries.
func newTestClient(t *testing.T, base string) *Client {
	t.Helper()
	return newTestClientWithConfig(t, &service.ServiceConfig{
		Name:        "test",
		BaseURL:     base,
		APIKey:      "test-key",
		TimeoutSec:  5,
		MaxRetries:  3,
		CacheTTLSec: 60,
	})
}

func newTestClientWithConfig(t *testing.T, cfg *service.ServiceConfig) *Client {
	t.Helper()
	c := New(cfg, common.NewSilentLogger())
	c.backoffUnit = time.Millisecond
	t.Cleanup(c.Close)
	return c
}

func TestCall_GETQueryParams(t *testing.T) {
	var gotQuery, gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		gotUA = r.Header.Get("User-Agent")
		w.Write([]byte(`{"data":{"list":[]}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	ep := &service.APIEndpoint{Path: "search", Method: "GET", ResponseFormat: "json"}

	_, err := c.Call(context.Background(), ep, map[string]any{"q": "widgets", "page": 2}, false)
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if !strings.Contains(gotQuery, "q=widgets") || !strings.Contains(gotQuery, "page=2") {
		t.Errorf("unexpected query string: %q", gotQuery)
	}
	if gotUA != "MCP-Platform-Integration/1.0" {
		t.Errorf("unexpected User-Agent: %q", gotUA)
	}
}

func TestCall_VersionSegmentInURL(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := newTestClientWithConfig(t, &service.ServiceConfig{
		Name: "test", BaseURL: srv.URL, Version: "v2", TimeoutSec: 5, MaxRetries: 1,
	})
	ep := &service.APIEndpoint{Path: "users/list", Method: "GET", ResponseFormat: "json"}

	if _, err := c.Call(context.Background(), ep, nil, false); err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if gotPath != "/v2/users/list" {
		t.Errorf("expected path /v2/users/list, got %q", gotPath)
	}
}

func TestCall_DataListProjection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"list":[{"id":"42","name":"Ana"}]},"meta":{"total":1}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	ep := &service.APIEndpoint{Path: "users", Method: "GET", ResponseFormat: "json"}

	payload, err := c.Call(context.Background(), ep, nil, false)
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if string(payload) != `[{"id":"42","name":"Ana"}]` {
		t.Errorf("unexpected projected payload: %s", payload)
	}
}

func TestCall_CustomResponsePath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":{"items":[1,2,3]}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	ep := &service.APIEndpoint{Path: "items", Method: "GET", ResponseFormat: "json", ResponsePath: "result.items"}

	payload, err := c.Call(context.Background(), ep, nil, false)
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if string(payload) != `[1,2,3]` {
		t.Errorf("unexpected payload: %s", payload)
	}
}

func TestCall_MissingProjectionPathYieldsEmptyArray(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	ep := &service.APIEndpoint{Path: "status", Method: "GET", ResponseFormat: "json"}

	payload, err := c.Call(context.Background(), ep, nil, false)
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if string(payload) != "[]" {
		t.Errorf("expected empty array for missing path, got %s", payload)
	}
}

func TestCall_TextFormatWrapsContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("plain response"))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	ep := &service.APIEndpoint{Path: "raw", Method: "GET", ResponseFormat: "text"}

	payload, err := c.Call(context.Background(), ep, nil, false)
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}

	var wrapped map[string]string
	if err := json.Unmarshal(payload, &wrapped); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if wrapped["content"] != "plain response" {
		t.Errorf("unexpected content: %q", wrapped["content"])
	}
}

func TestCall_POSTJSONBody(t *testing.T) {
	var gotBody []byte
	var gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotContentType = r.Header.Get("Content-Type")
		w.Write([]byte(`{"data":{"list":[]}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	ep := &service.APIEndpoint{Path: "reports", Method: "POST", ResponseFormat: "json", ContentType: "json"}

	_, err := c.Call(context.Background(), ep, map[string]any{"title": "q2", "pages": 3}, false)
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}

	if gotContentType != "application/json" {
		t.Errorf("unexpected content type: %q", gotContentType)
	}
	var sent map[string]any
	if err := json.Unmarshal(gotBody, &sent); err != nil {
		t.Fatalf("body is not JSON: %v", err)
	}
	if sent["title"] != "q2" || sent["pages"] != float64(3) {
		t.Errorf("unexpected body: %v", sent)
	}
}

func TestCall_POSTFormIncludesAppKey(t *testing.T) {
	var gotForm map[string][]string
	var gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		gotForm = r.PostForm
		gotContentType = r.Header.Get("Content-Type")
		w.Write([]byte(`{"data":{"list":[]}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	ep := &service.APIEndpoint{Path: "submit", Method: "POST", ResponseFormat: "json", ContentType: "form"}

	_, err := c.Call(context.Background(), ep, map[string]any{"title": "q2"}, false)
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}

	if gotContentType != "application/x-www-form-urlencoded" {
		t.Errorf("unexpected content type: %q", gotContentType)
	}
	if got := gotForm["appKey"]; len(got) != 1 || got[0] != "test-key" {
		t.Errorf("expected appKey=test-key in form, got %v", gotForm)
	}
	if got := gotForm["title"]; len(got) != 1 || got[0] != "q2" {
		t.Errorf("expected title=q2 in form, got %v", gotForm)
	}
}

func TestCall_UnsupportedMethod(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:0")
	ep := &service.APIEndpoint{Path: "x", Method: "DELETE"}

	_, err := c.Call(context.Background(), ep, nil, false)
	if !errors.Is(err, ErrUnsupportedMethod) {
		t.Errorf("expected ErrUnsupportedMethod, got %v", err)
	}
}

func TestCall_CacheShortCircuits(t *testing.T) {
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Write([]byte(`{"data":{"list":[{"id":"42"}]}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	ep := &service.APIEndpoint{Path: "users", Method: "GET", ResponseFormat: "json"}
	params := map[string]any{"id": "42"}

	first, err := c.Call(context.Background(), ep, params, true)
	if err != nil {
		t.Fatalf("first call failed: %v", err)
	}
	second, err := c.Call(context.Background(), ep, params, true)
	if err != nil {
		t.Fatalf("second call failed: %v", err)
	}

	if requests.Load() != 1 {
		t.Errorf("expected 1 backend request, got %d", requests.Load())
	}
	if string(first) != string(second) {
		t.Errorf("cached payload differs: %s vs %s", first, second)
	}
}

func TestCall_CacheExpiryTriggersRefetch(t *testing.T) {
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Write([]byte(`{"data":{"list":[]}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	base := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	current := base
	c.cache.now = func() time.Time { return current }

	ep := &service.APIEndpoint{Path: "users", Method: "GET", ResponseFormat: "json"}

	if _, err := c.Call(context.Background(), ep, nil, true); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Call(context.Background(), ep, nil, true); err != nil {
		t.Fatal(err)
	}
	if requests.Load() != 1 {
		t.Fatalf("expected cached second call, got %d requests", requests.Load())
	}

	// Past the 60s service TTL a fresh request is made and re-cached.
	current = base.Add(61 * time.Second)
	if _, err := c.Call(context.Background(), ep, nil, true); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Call(context.Background(), ep, nil, true); err != nil {
		t.Fatal(err)
	}
	if requests.Load() != 2 {
		t.Errorf("expected exactly one refetch after expiry, got %d requests", requests.Load())
	}
}

func TestCall_DifferentParamsBypassCache(t *testing.T) {
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Write([]byte(`{"data":{"list":[]}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	ep := &service.APIEndpoint{Path: "users", Method: "GET", ResponseFormat: "json"}

	c.Call(context.Background(), ep, map[string]any{"id": "1"}, true)
	c.Call(context.Background(), ep, map[string]any{"id": "2"}, true)

	if requests.Load() != 2 {
		t.Errorf("distinct params must not share a cache entry, got %d requests", requests.Load())
	}
}

func TestCall_RateLimitRejectsWithoutHTTP(t *testing.T) {
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Write([]byte(`{"data":{"list":[]}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	ep := &service.APIEndpoint{Path: "limited", Method: "GET", ResponseFormat: "json", RateLimit: 2}

	for i := 0; i < 2; i++ {
		if _, err := c.Call(context.Background(), ep, nil, false); err != nil {
			t.Fatalf("call %d failed: %v", i+1, err)
		}
	}

	_, err := c.Call(context.Background(), ep, nil, false)
	var rle *RateLimitError
	if !errors.As(err, &rle) {
		t.Fatalf("expected RateLimitError, got %v", err)
	}
	if rle.Path != "limited" || rle.Limit != 2 {
		t.Errorf("unexpected error detail: %+v", rle)
	}
	if requests.Load() != 2 {
		t.Errorf("rejected call must not reach the backend, got %d requests", requests.Load())
	}
}

func TestCall_RateLimitNotConsumedOnFailure(t *testing.T) {
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"data":{"list":[]}}`))
	}))
	defer srv.Close()

	c := newTestClientWithConfig(t, &service.ServiceConfig{
		Name: "test", BaseURL: srv.URL, TimeoutSec: 5, MaxRetries: 1,
	})
	ep := &service.APIEndpoint{Path: "limited", Method: "GET", ResponseFormat: "json", RateLimit: 1}

	if _, err := c.Call(context.Background(), ep, nil, false); err == nil {
		t.Fatal("expected first call to fail")
	}
	// The failed call consumed no window slot, so the retry is admitted.
	if _, err := c.Call(context.Background(), ep, nil, false); err != nil {
		t.Fatalf("expected second call to be admitted: %v", err)
	}
}

func TestCall_RetriesThenSucceeds(t *testing.T) {
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) <= 2 {
			http.Error(w, "transient", http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"data":{"list":["ok"]}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL) // MaxRetries: 3
	ep := &service.APIEndpoint{Path: "flaky", Method: "GET", ResponseFormat: "json"}

	payload, err := c.Call(context.Background(), ep, nil, false)
	if err != nil {
		t.Fatalf("expected success on third attempt: %v", err)
	}
	if string(payload) != `["ok"]` {
		t.Errorf("unexpected payload: %s", payload)
	}
	if requests.Load() != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", requests.Load())
	}
}

func TestCall_ExhaustedRetriesSurfaceHTTPError(t *testing.T) {
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		http.Error(w, "persistent failure", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL) // MaxRetries: 3
	ep := &service.APIEndpoint{Path: "down", Method: "GET", ResponseFormat: "json"}

	_, err := c.Call(context.Background(), ep, nil, false)
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected HTTPError, got %v", err)
	}
	if httpErr.Status != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", httpErr.Status)
	}
	if !strings.Contains(httpErr.Body, "persistent failure") {
		t.Errorf("expected body in error, got %q", httpErr.Body)
	}
	if requests.Load() != 3 {
		t.Errorf("expected exactly MaxRetries attempts, got %d", requests.Load())
	}
}

func TestCall_ContextCancelStopsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "fail", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	c.backoffUnit = time.Hour // would block between attempts

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Call(ctx, &service.APIEndpoint{Path: "x", Method: "GET", ResponseFormat: "json"}, nil, false)
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Call did not return after cancellation")
	}
}

func TestErrorStrings(t *testing.T) {
	rle := &RateLimitError{Path: "search", Limit: 10}
	if !strings.Contains(rle.Error(), "search") || !strings.Contains(rle.Error(), "10") {
		t.Errorf("RateLimitError lacks detail: %q", rle.Error())
	}

	he := &HTTPError{Status: 404, Body: "not found"}
	if !strings.Contains(he.Error(), "404") || !strings.Contains(he.Error(), "not found") {
		t.Errorf("HTTPError lacks detail: %q", he.Error())
	}
}
