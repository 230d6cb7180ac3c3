package scraper

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"

	"github.com/aluiziolira/go-scrape-products/cache"
	"github.com/aluiziolira/go-scrape-products/config"
)

type sleepRecorder struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (s *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.sleeps = append(s.sleeps, d)
	s.mu.Unlock()
	return nil
}

func (s *sleepRecorder) All() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, len(s.sleeps))
	copy(out, s.sleeps)
	return out
}

func (s *sleepRecorder) Total() time.Duration {
	var total time.Duration
	for _, d := range s.All() {
		total += d
	}
	return total
}

type fetchHarness struct {
	fetcher   *Fetcher
	transport *httpmock.MockTransport
	sleeps    *sleepRecorder
	cache     *cache.FileStore
	calls     int64
}

func newFetchHarness(t *testing.T, opts ...cache.FileOption) *fetchHarness {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.RequestsPerSecond = 0

	store, err := cache.NewFileStore(t.TempDir(), cfg.CacheFreshness, 0, opts...)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}

	h := &fetchHarness{
		transport: httpmock.NewMockTransport(),
		sleeps:    &sleepRecorder{},
		cache:     store,
	}
	h.fetcher, err = NewFetcher(cfg, store,
		WithTransport(h.transport),
		WithSleeper(h.sleeps.Sleep),
		WithIdentity(FixedUserAgent("test-agent/1.0")),
		WithMetrics(NewMetrics()),
	)
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}
	return h
}

// respond registers a responder returning the given statuses in order,
// repeating the last one.
func (h *fetchHarness) respond(url string, body string, statuses ...int) {
	h.transport.RegisterResponder(http.MethodGet, url, func(req *http.Request) (*http.Response, error) {
		n := atomic.AddInt64(&h.calls, 1)
		idx := int(n - 1)
		if idx >= len(statuses) {
			idx = len(statuses) - 1
		}
		return httpmock.NewStringResponse(statuses[idx], body), nil
	})
}

func (h *fetchHarness) callCount() int {
	return int(atomic.LoadInt64(&h.calls))
}

func isJitter(d time.Duration) bool {
	return d >= time.Second && d <= 3*time.Second
}

func TestFetchSuccessStoresInCache(t *testing.T) {
	h := newFetchHarness(t)
	h.respond("http://site/a", "<html>a</html>", http.StatusOK)

	body, err := h.fetcher.Fetch(context.Background(), "http://site/a")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if body != "<html>a</html>" {
		t.Fatalf("body = %q", body)
	}
	if got := h.callCount(); got != 1 {
		t.Fatalf("calls = %d, want 1", got)
	}

	sleeps := h.sleeps.All()
	if len(sleeps) != 1 || !isJitter(sleeps[0]) {
		t.Fatalf("expected one jitter sleep in [1s,3s], got %v", sleeps)
	}

	cached, ok := h.cache.Lookup(context.Background(), "http://site/a")
	if !ok || cached != body {
		t.Fatalf("expected body cached, got %q ok=%v", cached, ok)
	}

	if _, err := h.fetcher.Fetch(context.Background(), "http://site/a"); err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if got := h.callCount(); got != 1 {
		t.Fatalf("second fetch should be served from cache, calls = %d", got)
	}
}

func TestFetchRateLimitedExhaustsAttempts(t *testing.T) {
	h := newFetchHarness(t)
	h.respond("http://site/c", "slow down", http.StatusTooManyRequests)

	_, err := h.fetcher.Fetch(context.Background(), "http://site/c")
	var exhausted ErrRetriesExhausted
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected ErrRetriesExhausted, got %v", err)
	}
	if exhausted.Attempts != 3 {
		t.Fatalf("attempts = %d, want 3", exhausted.Attempts)
	}
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected wrapped ErrRateLimited, got %v", err)
	}
	if got := h.callCount(); got != 3 {
		t.Fatalf("calls = %d, want 3", got)
	}

	sleeps := h.sleeps.All()
	if len(sleeps) != 5 {
		t.Fatalf("sleeps = %v, want jitter/cooldown/jitter/cooldown/jitter", sleeps)
	}
	for i, d := range sleeps {
		if i%2 == 0 && !isJitter(d) {
			t.Fatalf("sleep %d = %s, want jitter", i, d)
		}
		if i%2 == 1 && d != 30*time.Second {
			t.Fatalf("sleep %d = %s, want 30s cooldown", i, d)
		}
	}
	if total := h.sleeps.Total(); total < 3*time.Second+60*time.Second {
		t.Fatalf("cumulative sleep %s below 3 jitters + 2 cooldowns", total)
	}

	if _, ok := h.cache.Lookup(context.Background(), "http://site/c"); ok {
		t.Fatalf("failed fetch must not be cached")
	}
}

func TestFetchServerErrorsUseShortCooldown(t *testing.T) {
	h := newFetchHarness(t)
	h.respond("http://site/e", "<html>e</html>", http.StatusInternalServerError, http.StatusServiceUnavailable, http.StatusOK)

	body, err := h.fetcher.Fetch(context.Background(), "http://site/e")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if body != "<html>e</html>" {
		t.Fatalf("body = %q", body)
	}
	if got := h.callCount(); got != 3 {
		t.Fatalf("calls = %d, want 3", got)
	}

	var cooldowns []time.Duration
	for _, d := range h.sleeps.All() {
		if !isJitter(d) {
			cooldowns = append(cooldowns, d)
		}
	}
	if len(cooldowns) != 2 || cooldowns[0] != 5*time.Second || cooldowns[1] != 5*time.Second {
		t.Fatalf("cooldowns = %v, want [5s 5s]", cooldowns)
	}
}

func TestFetchTransportErrorAbortsImmediately(t *testing.T) {
	h := newFetchHarness(t)
	h.transport.RegisterResponder(http.MethodGet, "http://site/down", func(req *http.Request) (*http.Response, error) {
		atomic.AddInt64(&h.calls, 1)
		return nil, &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	})

	_, err := h.fetcher.Fetch(context.Background(), "http://site/down")
	if !errors.Is(err, ErrConnection) {
		t.Fatalf("expected ErrConnection, got %v", err)
	}
	if got := h.callCount(); got != 1 {
		t.Fatalf("calls = %d, want 1", got)
	}
	if sleeps := h.sleeps.All(); len(sleeps) != 1 {
		t.Fatalf("only the pre-request jitter should run, got %v", sleeps)
	}
}

func TestFetchFreshCacheSkipsNetwork(t *testing.T) {
	now := time.Date(2025, 3, 2, 12, 0, 0, 0, time.UTC)
	clock := now.Add(-23 * time.Hour)
	h := newFetchHarness(t, cache.WithClock(func() time.Time { return clock }))
	h.respond("http://site/d", "<html>live</html>", http.StatusOK)

	if err := h.cache.Store(context.Background(), "http://site/d", "<html>cached</html>"); err != nil {
		t.Fatalf("seed cache: %v", err)
	}
	clock = now

	body, err := h.fetcher.Fetch(context.Background(), "http://site/d")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if body != "<html>cached</html>" {
		t.Fatalf("body = %q, want cached body", body)
	}
	if got := h.callCount(); got != 0 {
		t.Fatalf("network calls = %d, want 0", got)
	}
	if sleeps := h.sleeps.All(); len(sleeps) != 0 {
		t.Fatalf("cache hit must not sleep, got %v", sleeps)
	}
}

func TestFetchStaleCacheRefetches(t *testing.T) {
	now := time.Date(2025, 3, 2, 12, 0, 0, 0, time.UTC)
	clock := now.Add(-25 * time.Hour)
	h := newFetchHarness(t, cache.WithClock(func() time.Time { return clock }))
	h.respond("http://site/s", "<html>live</html>", http.StatusOK)

	if err := h.cache.Store(context.Background(), "http://site/s", "<html>old</html>"); err != nil {
		t.Fatalf("seed cache: %v", err)
	}
	clock = now

	body, err := h.fetcher.Fetch(context.Background(), "http://site/s")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if body != "<html>live</html>" || h.callCount() != 1 {
		t.Fatalf("expected live fetch, got %q calls=%d", body, h.callCount())
	}
}

func TestFetchSendsIdentityAndNegotiationHeaders(t *testing.T) {
	h := newFetchHarness(t)
	var got http.Header
	h.transport.RegisterResponder(http.MethodGet, "http://site/h", func(req *http.Request) (*http.Response, error) {
		got = req.Header.Clone()
		return httpmock.NewStringResponse(http.StatusOK, "ok"), nil
	})

	if _, err := h.fetcher.Fetch(context.Background(), "http://site/h"); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if ua := got.Get("User-Agent"); ua != "test-agent/1.0" {
		t.Fatalf("User-Agent = %q", ua)
	}
	if accept := got.Get("Accept"); accept != config.DefaultConfig().Accept {
		t.Fatalf("Accept = %q", accept)
	}
	if lang := got.Get("Accept-Language"); lang == "" {
		t.Fatalf("Accept-Language missing")
	}
}

func TestFetchRandomIdentityByDefault(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RequestsPerSecond = 0
	store, err := cache.NewFileStore(t.TempDir(), cfg.CacheFreshness, 0)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	transport := httpmock.NewMockTransport()
	var ua string
	transport.RegisterResponder(http.MethodGet, "http://site/r", func(req *http.Request) (*http.Response, error) {
		ua = req.Header.Get("User-Agent")
		return httpmock.NewStringResponse(http.StatusOK, "ok"), nil
	})
	sleeps := &sleepRecorder{}
	f, err := NewFetcher(cfg, store, WithTransport(transport), WithSleeper(sleeps.Sleep))
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}

	if _, err := f.Fetch(context.Background(), "http://site/r"); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if ua == "" || ua == "test-agent/1.0" {
		t.Fatalf("expected a randomized browser User-Agent, got %q", ua)
	}
}

func TestFetchCancelledContext(t *testing.T) {
	h := newFetchHarness(t)
	h.respond("http://site/x", "x", http.StatusOK)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := h.fetcher.Fetch(ctx, "http://site/x"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if got := h.callCount(); got != 0 {
		t.Fatalf("calls = %d, want 0", got)
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		statusCode int
		expected   string
	}{
		{name: "nil", err: nil, statusCode: 0, expected: "unknown"},
		{name: "context timeout", err: context.DeadlineExceeded, statusCode: 0, expected: "timeout"},
		{name: "net timeout", err: &net.DNSError{IsTimeout: true}, statusCode: 0, expected: "timeout"},
		{name: "connection", err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, statusCode: 0, expected: "connection"},
		{name: "forbidden", err: nil, statusCode: http.StatusForbidden, expected: "forbidden"},
		{name: "not found", err: nil, statusCode: http.StatusNotFound, expected: "not_found"},
		{name: "rate limited", err: nil, statusCode: http.StatusTooManyRequests, expected: "rate_limited"},
		{name: "server error", err: nil, statusCode: http.StatusBadGateway, expected: "http_status"},
		{name: "other", err: errors.New("some other error"), statusCode: 0, expected: "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errorTypeLabel(classifyError(tt.err, tt.statusCode)); got != tt.expected {
				t.Fatalf("classifyError(%v, %d) = %q, want %q", tt.err, tt.statusCode, got, tt.expected)
			}
		})
	}
}
