package offlinecache

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"velgo-hub/client-core/internal/platform/metrics"
	"velgo-hub/client-core/pkg/models"
)

const (
	strategyDynamic    = "dynamic"
	strategyNavigation = "navigation"
	strategyStatic     = "static"
	strategyBypass     = "bypass"

	resultNetwork     = "network"
	resultHit         = "hit"
	resultFallback    = "fallback"
	resultSynthesized = "synthesized"
)

// offlineBody is the well-formed empty result returned when a dynamic request
// fails with nothing cached, so the shell renders an empty state instead of a
// hard failure.
const offlineBody = `{"error":"Offline","data":[]}`

type Options struct {
	Dir              string
	StaticPartition  string
	DynamicPartition string

	// DynamicHost marks hosts whose GET responses can change between calls
	// and must prefer freshness. Identity-provider paths are excluded; a
	// cached auth response is worse than a failed one.
	DynamicHost    string
	AuthPathPrefix string

	// ShellURL is the absolute URL of the cached application shell returned
	// when a navigation request cannot reach the network.
	ShellURL string

	Base    http.RoundTripper
	Metrics *metrics.Collectors
	Logger  *slog.Logger
}

// Transport intercepts every outgoing request at the transport boundary and
// applies one of three routing strategies per request class.
type Transport struct {
	base     http.RoundTripper
	static   *partition
	dynamic  *partition
	opts     Options
	logger   *slog.Logger
	shellKey string
}

func New(opts Options) (*Transport, error) {
	if opts.Dir == "" {
		return nil, errors.New("offlinecache: dir is required")
	}
	if opts.StaticPartition == "" || opts.DynamicPartition == "" {
		return nil, errors.New("offlinecache: partition names are required")
	}
	if opts.StaticPartition == opts.DynamicPartition {
		return nil, errors.New("offlinecache: partitions must be distinct")
	}
	if err := activate(opts.Dir, []string{opts.StaticPartition, opts.DynamicPartition}); err != nil {
		return nil, err
	}
	static, err := openPartition(opts.Dir, opts.StaticPartition)
	if err != nil {
		return nil, err
	}
	dynamic, err := openPartition(opts.Dir, opts.DynamicPartition)
	if err != nil {
		return nil, err
	}
	base := opts.Base
	if base == nil {
		base = http.DefaultTransport
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	t := &Transport{
		base:    base,
		static:  static,
		dynamic: dynamic,
		opts:    opts,
		logger:  logger,
	}
	if opts.ShellURL != "" {
		t.shellKey = requestKey(http.MethodGet, opts.ShellURL)
	}
	return t, nil
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	switch {
	case t.isDynamic(req):
		return t.roundTripDynamic(req)
	case isNavigation(req):
		return t.roundTripNavigation(req)
	case req.Method == http.MethodGet && isCacheableScheme(req):
		return t.roundTripStatic(req)
	default:
		t.count(strategyBypass, resultNetwork)
		return t.base.RoundTrip(req)
	}
}

func (t *Transport) isDynamic(req *http.Request) bool {
	if req.Method != http.MethodGet || t.opts.DynamicHost == "" {
		return false
	}
	if req.URL.Host != t.opts.DynamicHost {
		return false
	}
	if t.opts.AuthPathPrefix != "" && strings.HasPrefix(req.URL.Path, t.opts.AuthPathPrefix) {
		return false
	}
	return true
}

// Network first; success overwrites the cached copy (never merged), failure
// falls back to cache, then to a synthesized empty result.
func (t *Transport) roundTripDynamic(req *http.Request) (*http.Response, error) {
	key := requestKey(req.Method, req.URL.String())
	resp, err := t.base.RoundTrip(req)
	if err == nil && resp.StatusCode < http.StatusInternalServerError {
		stored, storeErr := t.dynamic.store(key, resp)
		if storeErr != nil {
			t.logger.Warn("dynamic cache store failed", "error", storeErr.Error())
			t.count(strategyDynamic, resultNetwork)
			return resp, nil
		}
		t.count(strategyDynamic, resultNetwork)
		return stored, nil
	}
	if resp != nil {
		_ = resp.Body.Close()
	}
	if entry, ok := t.dynamic.load(key); ok {
		t.count(strategyDynamic, resultFallback)
		fallback := entry.response(req)
		fallback.Header.Set("X-Velgo-Cache", "fallback")
		return fallback, nil
	}
	t.count(strategyDynamic, resultSynthesized)
	return synthesizeJSON(req, http.StatusOK, offlineBody), nil
}

// Network first; on failure the cached application shell is returned
// unconditionally so navigation keeps working offline.
func (t *Transport) roundTripNavigation(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err == nil {
		t.count(strategyNavigation, resultNetwork)
		return resp, nil
	}
	if t.shellKey != "" {
		if entry, ok := t.static.load(t.shellKey); ok {
			t.count(strategyNavigation, resultFallback)
			shell := entry.response(req)
			shell.Header.Set("X-Velgo-Cache", "shell")
			return shell, nil
		}
	}
	t.count(strategyNavigation, resultSynthesized)
	return synthesizeJSON(req, http.StatusServiceUnavailable, `{"error":"Offline"}`), nil
}

// Cache first; a miss fetches and stores for next time, and a fetch failure
// resolves to an explicit not-found so a missing asset never breaks the
// caller.
func (t *Transport) roundTripStatic(req *http.Request) (*http.Response, error) {
	key := requestKey(req.Method, req.URL.String())
	if entry, ok := t.static.load(key); ok {
		t.count(strategyStatic, resultHit)
		hit := entry.response(req)
		hit.Header.Set("X-Velgo-Cache", "hit")
		return hit, nil
	}
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		t.count(strategyStatic, resultSynthesized)
		return synthesize(req, http.StatusNotFound, nil), nil
	}
	if resp.StatusCode == http.StatusOK {
		if stored, storeErr := t.static.store(key, resp); storeErr == nil {
			t.count(strategyStatic, resultNetwork)
			return stored, nil
		}
	}
	t.count(strategyStatic, resultNetwork)
	return resp, nil
}

// Warmup pre-caches the configured shell URLs into the static partition.
func (t *Transport) Warmup(ctx context.Context, urls []string) {
	for _, raw := range urls {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, raw, nil)
		if err != nil {
			continue
		}
		resp, err := t.base.RoundTrip(req)
		if err != nil {
			t.logger.Warn("precache fetch failed", "url", raw, "error", err.Error())
			continue
		}
		if resp.StatusCode != http.StatusOK {
			_ = resp.Body.Close()
			continue
		}
		key := requestKey(http.MethodGet, raw)
		if stored, err := t.static.store(key, resp); err == nil {
			_ = stored.Body.Close()
		}
	}
}

func (t *Transport) Status() models.CacheStatus {
	return models.CacheStatus{
		Static:  t.static.status(),
		Dynamic: t.dynamic.status(),
	}
}

func (t *Transport) count(strategy, result string) {
	if t.opts.Metrics == nil {
		return
	}
	t.opts.Metrics.CacheRequests.WithLabelValues(strategy, result).Inc()
}

func isNavigation(req *http.Request) bool {
	if req.Method != http.MethodGet {
		return false
	}
	if strings.EqualFold(req.Header.Get("Sec-Fetch-Mode"), "navigate") {
		return true
	}
	return strings.Contains(req.Header.Get("Accept"), "text/html")
}

func isCacheableScheme(req *http.Request) bool {
	return req.URL.Scheme == "http" || req.URL.Scheme == "https"
}

func synthesizeJSON(req *http.Request, status int, body string) *http.Response {
	resp := synthesize(req, status, []byte(body))
	resp.Header.Set("Content-Type", "application/json")
	return resp
}

func synthesize(req *http.Request, status int, body []byte) *http.Response {
	resp := &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     make(http.Header),
		Body:       io.NopCloser(bytes.NewReader(body)),
		Request:    req,
	}
	resp.Header.Set("X-Velgo-Cache", "synthesized")
	return resp
}
