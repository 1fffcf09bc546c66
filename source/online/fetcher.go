// Package online provides trust data obtained from external providers: CRL
// distribution points, OCSP responders and AIA issuer certificates.
package online

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// Common errors
var (
	ErrFetchFailed       = errors.New("fetch failed")
	ErrUnsupportedScheme = errors.New("unsupported URL scheme")
	ErrResponseTooLarge  = errors.New("response exceeds size limit")
)

// HTTPError reports a non-200 response.
type HTTPError struct {
	URL        string
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s: HTTP %d", e.URL, e.StatusCode)
}

// Config configures the fetcher behavior.
type Config struct {
	// HTTP client timeout
	Timeout time.Duration
	// Maximum response size in bytes
	MaxResponseSize int64
	// User-Agent header
	UserAgent string
	// Whether GET responses are cached
	UseCache bool
	// Cache TTL
	CacheTTL time.Duration

	// Retry configures backoff between attempts. Nil uses DefaultRetryConfig.
	Retry *RetryConfig

	// RequestsPerSecond limits outgoing requests. Zero disables limiting.
	RequestsPerSecond float64
	// Burst is the limiter burst size.
	Burst int

	// Breakers, when set, stops requests to hosts that keep failing.
	Breakers *HostBreakers

	// HTTPClient overrides the default client.
	HTTPClient *http.Client

	// Metrics, when set, receives request counters and durations.
	Metrics *Metrics

	// Clock drives retry delays. Nil uses the real clock.
	Clock clockwork.Clock
}

// DefaultConfig returns the default fetcher configuration.
func DefaultConfig() *Config {
	return &Config{
		Timeout:         30 * time.Second,
		MaxResponseSize: 10 * 1024 * 1024,
		UserAgent:       "trustval/1.0",
		UseCache:        true,
		CacheTTL:        1 * time.Hour,
		Retry:           DefaultRetryConfig(),
	}
}

// Fetcher performs HTTP requests against trust data providers.
type Fetcher struct {
	config  *Config
	client  *http.Client
	cache   *cache.Cache
	group   singleflight.Group
	limiter *rate.Limiter
	clock   clockwork.Clock
}

// NewFetcher creates a new fetcher.
func NewFetcher(config *Config) *Fetcher {
	if config == nil {
		config = DefaultConfig()
	}
	client := config.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: config.Timeout}
	}
	clock := config.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	f := &Fetcher{
		config: config,
		client: client,
		cache:  cache.New(config.CacheTTL, 2*config.CacheTTL),
		clock:  clock,
	}
	if config.RequestsPerSecond > 0 {
		burst := config.Burst
		if burst <= 0 {
			burst = 1
		}
		f.limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), burst)
	}
	return f
}

// Get fetches url. Concurrent calls for the same URL share one request, and
// successful responses are cached when enabled. kind labels the metrics.
func (f *Fetcher) Get(ctx context.Context, kind, urlStr string) ([]byte, error) {
	if f.config.UseCache {
		if data, ok := f.cache.Get(urlStr); ok {
			f.config.Metrics.observe(kind, resultCacheHit, 0)
			return data.([]byte), nil
		}
	}

	v, err, _ := f.group.Do(urlStr, func() (interface{}, error) {
		data, err := f.do(ctx, kind, func(ctx context.Context) (*http.Request, error) {
			return http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
		})
		if err != nil {
			return nil, err
		}
		if f.config.UseCache {
			f.cache.SetDefault(urlStr, data)
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Post sends body to url with the given content type. Responses are not cached.
func (f *Fetcher) Post(ctx context.Context, kind, urlStr, contentType string, body []byte) ([]byte, error) {
	return f.do(ctx, kind, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, urlStr, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", contentType)
		return req, nil
	})
}

// ClearCache drops every cached response.
func (f *Fetcher) ClearCache() {
	f.cache.Flush()
}

func (f *Fetcher) do(ctx context.Context, kind string, newRequest func(context.Context) (*http.Request, error)) ([]byte, error) {
	start := f.clock.Now()
	data, result := Retry(ctx, f.clock, f.config.Retry, func(ctx context.Context) ([]byte, error) {
		return f.attempt(ctx, newRequest)
	})
	elapsed := f.clock.Since(start).Seconds()
	if !result.Success {
		f.config.Metrics.observe(kind, resultError, elapsed)
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, result.AllErrors())
	}
	f.config.Metrics.observe(kind, resultOK, elapsed)
	return data, nil
}

func (f *Fetcher) attempt(ctx context.Context, newRequest func(context.Context) (*http.Request, error)) ([]byte, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	req, err := newRequest(ctx)
	if err != nil {
		return nil, err
	}
	if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, req.URL.Scheme)
	}
	req.Header.Set("User-Agent", f.config.UserAgent)

	if f.config.Breakers == nil {
		return f.send(req)
	}
	var data []byte
	err = f.config.Breakers.Do(req.URL.Host, func() error {
		var err error
		data, err = f.send(req)
		return err
	})
	return data, err
}

func (f *Fetcher) send(req *http.Request) ([]byte, error) {
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{URL: req.URL.String(), StatusCode: resp.StatusCode}
	}

	limit := f.config.MaxResponseSize
	if limit <= 0 {
		limit = DefaultConfig().MaxResponseSize
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, ErrResponseTooLarge
	}
	return data, nil
}

func validURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https")
}
