package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/gocolly/colly/v2/extensions"

	"github.com/aluiziolira/go-scrape-products/cache"
	"github.com/aluiziolira/go-scrape-products/config"
)

// Fetcher retrieves one page at a time, serving fresh pages from the cache and
// otherwise hitting the network through the politeness gate with a bounded
// number of attempts.
type Fetcher struct {
	cfg       *config.Config
	cache     cache.Store
	collector *colly.Collector
	gate      *Gate
	identity  IdentityProvider
	sleep     Sleeper
	Metrics   *Metrics
}

// Option customises a Fetcher.
type Option func(*Fetcher)

// WithIdentity sets the User-Agent provider.
func WithIdentity(p IdentityProvider) Option {
	return func(f *Fetcher) { f.identity = p }
}

// WithMetrics shares a metrics bundle with the rest of the run.
func WithMetrics(m *Metrics) Option {
	return func(f *Fetcher) { f.Metrics = m }
}

// WithGate replaces the politeness gate, e.g. to share one between fetchers.
func WithGate(g *Gate) Option {
	return func(f *Fetcher) { f.gate = g }
}

// WithSleeper replaces the function used for jitter and cooldown waits.
func WithSleeper(s Sleeper) Option {
	return func(f *Fetcher) { f.sleep = s }
}

// WithTransport replaces the HTTP transport of the underlying collector.
func WithTransport(rt http.RoundTripper) Option {
	return func(f *Fetcher) { f.collector.WithTransport(rt) }
}

// NewFetcher builds a fetcher configured from cfg that caches through store.
func NewFetcher(cfg *config.Config, store cache.Store, opts ...Option) (*Fetcher, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if store == nil {
		return nil, fmt.Errorf("cache store is required")
	}

	collector := colly.NewCollector(
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
		colly.IgnoreRobotsTxt(),
	)
	collector.SetRequestTimeout(cfg.Timeout)
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	f := &Fetcher{
		cfg:       cfg,
		cache:     store,
		collector: collector,
		sleep:     sleepContext,
	}
	if cfg.UserAgent != "" {
		f.identity = FixedUserAgent(cfg.UserAgent)
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.gate == nil {
		f.gate = NewGate(cfg.MinDelay, cfg.MaxDelay, cfg.RequestsPerSecond)
		f.gate.sleep = f.sleep
	}
	return f, nil
}

// Fetch returns the body of url. A failed fetch means the URL yields no records;
// it is never fatal to a run.
func (f *Fetcher) Fetch(ctx context.Context, url string) (string, error) {
	if body, ok := f.cache.Lookup(ctx, url); ok {
		f.Metrics.IncCacheLookup(true)
		slog.Debug("cache hit", slog.String("url", url))
		return body, nil
	}
	f.Metrics.IncCacheLookup(false)

	var last error
	for attempt := 1; attempt <= f.cfg.MaxAttempts; attempt++ {
		if err := f.gate.Wait(ctx); err != nil {
			return "", err
		}

		status, body, err := f.attempt(url)
		if err != nil {
			classified := classifyError(err, 0)
			category := errorTypeLabel(classified)
			f.Metrics.IncRequest("transport_error")
			f.Metrics.IncError(category)
			slog.Error("fetch failed",
				slog.String("url", url),
				slog.Int("attempt", attempt),
				slog.String("category", category),
				slog.Any("error", err),
			)
			return "", classified
		}

		if status == http.StatusOK {
			f.Metrics.IncRequest("ok")
			if err := f.cache.Store(ctx, url, string(body)); err != nil {
				slog.Warn("cache write failed", slog.String("url", url), slog.Any("error", err))
			}
			return string(body), nil
		}

		last = classifyError(nil, status)
		f.Metrics.IncRequest("bad_status")
		f.Metrics.IncError(errorTypeLabel(last))

		cooldown := f.cfg.RetryCooldown
		if status == http.StatusTooManyRequests {
			cooldown = f.cfg.RateLimitCooldown
		}
		slog.Warn("non-200 response",
			slog.String("url", url),
			slog.Int("status", status),
			slog.Int("attempt", attempt),
			slog.Duration("cooldown", cooldown),
		)
		if attempt == f.cfg.MaxAttempts {
			break
		}
		f.Metrics.IncRetries()
		if err := f.sleep(ctx, cooldown); err != nil {
			return "", err
		}
	}

	return "", ErrRetriesExhausted{URL: url, Attempts: f.cfg.MaxAttempts, Err: last}
}

// attempt performs a single GET. A non-nil error is a transport failure; any
// HTTP status, including errors, is reported through the status code.
func (f *Fetcher) attempt(url string) (int, []byte, error) {
	c := f.collector.Clone()
	c.AllowURLRevisit = true
	c.ParseHTTPErrorResponse = true
	if f.identity == nil {
		extensions.RandomUserAgent(c)
	}

	c.OnRequest(func(r *colly.Request) {
		if f.identity != nil {
			r.Headers.Set("User-Agent", f.identity.UserAgent())
		}
		r.Headers.Set("Accept", f.cfg.Accept)
		r.Headers.Set("Accept-Language", f.cfg.AcceptLanguage)
	})

	var (
		status int
		body   []byte
	)
	c.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		body = r.Body
	})

	start := time.Now()
	err := c.Visit(url)
	f.Metrics.ObserveDuration(time.Since(start))
	if err != nil {
		return 0, nil, err
	}
	return status, body, nil
}

// classifyError turns a transport error or a non-200 status into a *FetchError.
func classifyError(err error, statusCode int) error {
	if err == nil && statusCode == 0 {
		return nil
	}

	if err != nil {
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return &FetchError{Kind: ErrTimeout, Err: err}
		}
		var opErr *net.OpError
		if errors.As(err, &opErr) {
			return &FetchError{Kind: ErrConnection, Err: err}
		}
		return err
	}

	kind := ErrHTTPStatus
	switch statusCode {
	case http.StatusForbidden:
		kind = ErrForbidden
	case http.StatusNotFound:
		kind = ErrNotFound
	case http.StatusTooManyRequests:
		kind = ErrRateLimited
	}
	return &FetchError{Kind: kind, StatusCode: statusCode}
}
