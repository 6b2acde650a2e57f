package osm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/NERVsystems/streetglow/pkg/core"
	"github.com/NERVsystems/streetglow/pkg/tracing"
)

const (
	// API endpoints
	NominatimBaseURL = "https://nominatim.openstreetmap.org"
	OverpassBaseURL  = "https://overpass-api.de/api/interpreter"

	// DefaultUserAgent is sent when none is configured (required by Nominatim's usage policy)
	DefaultUserAgent = "streetglow/0.1.0"
)

// Options configures a Client
type Options struct {
	NominatimURL string
	OverpassURL  string
	UserAgent    string

	NominatimRPS   float64
	NominatimBurst int
	OverpassRPS    float64
	OverpassBurst  int

	// Overpass queries carry a 900s server budget, so the client timeout is generous
	NominatimTimeout time.Duration
	OverpassTimeout  time.Duration

	NominatimRetry core.RetryOptions
	OverpassRetry  core.RetryOptions

	Logger *slog.Logger
}

// DefaultOptions returns options pointing at the public OSM services
func DefaultOptions() Options {
	return Options{
		NominatimURL:     NominatimBaseURL,
		OverpassURL:      OverpassBaseURL,
		UserAgent:        DefaultUserAgent,
		NominatimRPS:     1,
		NominatimBurst:   1,
		OverpassRPS:      1,
		OverpassBurst:    1,
		NominatimTimeout: 30 * time.Second,
		OverpassTimeout:  960 * time.Second,
		NominatimRetry:   core.DefaultRetryOptions,
		OverpassRetry:    core.NoRetry,
	}
}

// Client performs rate-limited, monitored requests against the OSM services
type Client struct {
	opts       Options
	logger     *slog.Logger
	httpClient *http.Client

	limiterMu sync.RWMutex
	limiters  map[string]*rate.Limiter
}

// NewClient creates a client with connection pooling and per-service rate limiters
func NewClient(opts Options) *Client {
	defaults := DefaultOptions()
	if opts.NominatimURL == "" {
		opts.NominatimURL = defaults.NominatimURL
	}
	if opts.OverpassURL == "" {
		opts.OverpassURL = defaults.OverpassURL
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaults.UserAgent
	}
	if opts.NominatimTimeout <= 0 {
		opts.NominatimTimeout = defaults.NominatimTimeout
	}
	if opts.OverpassTimeout <= 0 {
		opts.OverpassTimeout = defaults.OverpassTimeout
	}
	if opts.NominatimRetry.MaxAttempts == 0 {
		opts.NominatimRetry = defaults.NominatimRetry
	}
	if opts.OverpassRetry.MaxAttempts == 0 {
		opts.OverpassRetry = defaults.OverpassRetry
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		opts:   opts,
		logger: logger,
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiters: make(map[string]*rate.Limiter),
	}
	c.UpdateRateLimits(tracing.ServiceNominatim, opts.NominatimRPS, opts.NominatimBurst)
	c.UpdateRateLimits(tracing.ServiceOverpass, opts.OverpassRPS, opts.OverpassBurst)
	return c
}

// UpdateRateLimits replaces the limiter for a service.
// A non-positive rps disables limiting for that service.
func (c *Client) UpdateRateLimits(service string, rps float64, burst int) {
	c.limiterMu.Lock()
	defer c.limiterMu.Unlock()

	if rps <= 0 {
		delete(c.limiters, service)
		return
	}
	if burst < 1 {
		burst = 1
	}
	c.limiters[service] = rate.NewLimiter(rate.Limit(rps), burst)
}

// UserAgent returns the configured User-Agent string
func (c *Client) UserAgent() string {
	return c.opts.UserAgent
}

func (c *Client) limiter(service string) *rate.Limiter {
	c.limiterMu.RLock()
	defer c.limiterMu.RUnlock()
	return c.limiters[service]
}

// waitForRateLimit blocks until the service's limiter admits one request
func (c *Client) waitForRateLimit(ctx context.Context, service string) error {
	limiter := c.limiter(service)
	if limiter == nil || limiter.Allow() {
		return nil
	}

	startWait := time.Now()
	tracing.AddEvent(ctx, "rate_limit_wait",
		trace.WithAttributes(
			attribute.String(tracing.AttrRateLimitService, service),
		),
	)

	err := limiter.Wait(ctx)

	waitDuration := time.Since(startWait)
	tracing.SetAttributes(ctx,
		attribute.String(tracing.AttrRateLimitService, service),
		attribute.Int64(tracing.AttrRateLimitWaitMs, waitDuration.Milliseconds()),
	)
	if hooks := getMonitoringHooks(); hooks != nil && hooks.OnRateLimit != nil {
		hooks.OnRateLimit(service, waitDuration)
	}

	return err
}

// do performs one request for a service with rate limiting and monitoring hooks
func (c *Client) do(ctx context.Context, service, operation string, timeout time.Duration, req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", c.opts.UserAgent)
	req.Header.Set("Accept", "application/json")

	hooks := getMonitoringHooks()
	if hooks != nil && hooks.OnRequest != nil {
		hooks.OnRequest(service, operation)
	}

	if err := c.waitForRateLimit(ctx, service); err != nil {
		if hooks != nil && hooks.OnError != nil {
			hooks.OnError(service, "rate_limit_wait_error")
		}
		return nil, err
	}

	client := *c.httpClient
	client.Timeout = timeout

	start := time.Now()
	resp, err := client.Do(req)
	duration := time.Since(start)

	success := err == nil && resp.StatusCode < 400
	if hooks != nil && hooks.OnResponse != nil {
		hooks.OnResponse(service, operation, duration, success)
	}
	if err != nil && hooks != nil && hooks.OnError != nil {
		hooks.OnError(service, "request_error")
	}

	return resp, err
}

// CheckNominatimHealth checks if the Nominatim service is available
func (c *Client) CheckNominatimHealth(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.NominatimURL+"/status", nil)
	if err != nil {
		return fmt.Errorf("failed to create nominatim health check request: %w", err)
	}

	resp, err := c.do(ctx, tracing.ServiceNominatim, "status", 10*time.Second, req)
	if err != nil {
		return fmt.Errorf("nominatim health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("nominatim health check returned status %d", resp.StatusCode)
	}
	return nil
}

// CheckOverpassHealth checks if the Overpass API is available
func (c *Client) CheckOverpassHealth(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.OverpassURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create overpass health check request: %w", err)
	}
	req.URL.RawQuery = "data=[out:json];out meta;"

	resp, err := c.do(ctx, tracing.ServiceOverpass, "status", 10*time.Second, req)
	if err != nil {
		return fmt.Errorf("overpass health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("overpass health check returned status %d", resp.StatusCode)
	}
	return nil
}
