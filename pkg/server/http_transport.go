package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/NERVsystems/streetglow/pkg/config"
	"github.com/NERVsystems/streetglow/pkg/core"
	"github.com/NERVsystems/streetglow/pkg/monitoring"
)

// HTTPTransportConfig holds configuration for the HTTP surface
type HTTPTransportConfig struct {
	Addr           string        `json:"addr"`
	BaseURL        string        `json:"base_url"`
	SSEEndpoint    string        `json:"sse_endpoint"`
	MsgEndpoint    string        `json:"msg_endpoint"`
	StreamEndpoint string        `json:"stream_endpoint"`
	CacheDir       string        `json:"cache_dir"`
	RateLimit      float64       `json:"rate_limit"` // new streams per second per IP, 0 disables
	RateBurst      int           `json:"rate_burst"`
	MaxRequestSize int64         `json:"max_request_size"`
	BatchSize      int           `json:"batch_size"`
	TickRate       time.Duration `json:"tick_rate"`
}

// DefaultHTTPTransportConfig returns the serve-mode defaults
func DefaultHTTPTransportConfig() HTTPTransportConfig {
	return HTTPTransportConfig{
		Addr:           config.DefaultHTTPAddr,
		SSEEndpoint:    "/sse",
		MsgEndpoint:    "/message",
		StreamEndpoint: "/stream",
		CacheDir:       config.DefaultCacheDir,
		RateLimit:      2,
		RateBurst:      5,
		MaxRequestSize: 1 << 20,
		BatchSize:      config.DefaultBatchSize,
		TickRate:       config.DefaultTickRate,
	}
}

// HTTPTransport serves /health, /metrics, the segment stream and, when an MCP
// server is given, the MCP HTTP+SSE transport.
type HTTPTransport struct {
	config    HTTPTransportConfig
	logger    *slog.Logger
	sseServer *mcpserver.SSEServer
	stream    *StreamHandler
	health    *monitoring.HealthChecker
	mux       *http.ServeMux
	handler   http.Handler

	mu      sync.Mutex
	httpSrv *http.Server
}

// NewHTTPTransport creates the transport. mcpServer and health may be nil.
func NewHTTPTransport(mcpServer *mcpserver.MCPServer, preparer ScenePreparer, health *monitoring.HealthChecker, cfg HTTPTransportConfig, logger *slog.Logger) *HTTPTransport {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultHTTPTransportConfig()
	if cfg.SSEEndpoint == "" {
		cfg.SSEEndpoint = defaults.SSEEndpoint
	}
	if cfg.MsgEndpoint == "" {
		cfg.MsgEndpoint = defaults.MsgEndpoint
	}
	if cfg.StreamEndpoint == "" {
		cfg.StreamEndpoint = defaults.StreamEndpoint
	}
	if cfg.MaxRequestSize <= 0 {
		cfg.MaxRequestSize = defaults.MaxRequestSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}
	if cfg.TickRate <= 0 {
		cfg.TickRate = defaults.TickRate
	}

	t := &HTTPTransport{
		config: cfg,
		logger: logger.With("component", "http"),
		stream: NewStreamHandler(preparer, cfg.CacheDir, cfg.BatchSize, cfg.TickRate, logger),
		health: health,
		mux:    http.NewServeMux(),
	}
	if mcpServer != nil {
		t.sseServer = mcpserver.NewSSEServer(
			mcpServer,
			mcpserver.WithSSEEndpoint(cfg.SSEEndpoint),
			mcpserver.WithMessageEndpoint(cfg.MsgEndpoint),
			mcpserver.WithBaseURL(cfg.BaseURL),
		)
	}
	t.setupRoutes()

	var h http.Handler = t.mux
	h = RequestSizeLimiter(cfg.MaxRequestSize)(h)
	h = LoggingMiddleware(t.logger)(h)
	h = TracingMiddleware()(h)
	t.handler = h

	return t
}

func (t *HTTPTransport) setupRoutes() {
	t.mux.HandleFunc("GET /{$}", t.handleServiceDiscovery)
	t.mux.HandleFunc("GET /health", t.handleHealth)
	t.mux.Handle("GET /metrics", promhttp.Handler())

	var stream http.Handler = t.stream
	if t.config.RateLimit > 0 {
		stream = NewRateLimiter(rate.Limit(t.config.RateLimit), t.config.RateBurst).Middleware(stream)
	}
	t.mux.Handle("GET "+t.config.StreamEndpoint, stream)

	if t.sseServer != nil {
		t.mux.Handle(t.config.SSEEndpoint, t.sseServer.SSEHandler())
		t.mux.Handle(t.config.MsgEndpoint, t.sseServer.MessageHandler())
	}
}

// Handler returns the routed handler with middleware applied
func (t *HTTPTransport) Handler() http.Handler {
	return t.handler
}

func (t *HTTPTransport) handleServiceDiscovery(w http.ResponseWriter, r *http.Request) {
	baseURL := t.config.BaseURL
	if baseURL == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		baseURL = fmt.Sprintf("%s://%s", scheme, r.Host)
	}
	wsURL := "ws" + baseURL[len("http"):]

	endpoints := map[string]string{
		"health":  baseURL + "/health",
		"metrics": baseURL + "/metrics",
		"stream":  wsURL + t.config.StreamEndpoint,
	}
	if t.sseServer != nil {
		endpoints["sse"] = baseURL + t.config.SSEEndpoint
		endpoints["message"] = baseURL + t.config.MsgEndpoint
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{
		"service":   "streetglow",
		"endpoints": endpoints,
	}); err != nil {
		t.logger.Error("failed to encode service discovery response", "error", err)
	}
}

func (t *HTTPTransport) handleHealth(w http.ResponseWriter, r *http.Request) {
	if t.health != nil {
		t.health.HealthHandler()(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]string{"status": monitoring.StatusHealthy}); err != nil {
		t.logger.Error("failed to encode health response", "error", err)
	}
}

// Start serves until Shutdown. It returns http.ErrServerClosed after a
// graceful stop.
func (t *HTTPTransport) Start() error {
	t.mu.Lock()
	if t.httpSrv != nil {
		t.mu.Unlock()
		return core.NewError(core.ErrCodeInternal, "HTTP transport already started").
			WithGuidance("Stop the running transport before starting it again.")
	}

	// No WriteTimeout: SSE and websocket responses are long lived
	t.httpSrv = &http.Server{
		Addr:              t.config.Addr,
		Handler:           t.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
	srv := t.httpSrv
	t.mu.Unlock()

	t.logger.Info("starting HTTP transport",
		"addr", t.config.Addr,
		"stream_endpoint", t.config.StreamEndpoint,
		"mcp_sse", t.sseServer != nil)

	return srv.ListenAndServe()
}

// Shutdown closes open streams and stops the server
func (t *HTTPTransport) Shutdown(ctx context.Context) error {
	t.stream.Close()

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.httpSrv == nil {
		return nil
	}
	t.logger.Info("shutting down HTTP transport")

	var errs []error
	if t.sseServer != nil {
		if err := t.sseServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("sse shutdown: %w", err))
		}
	}
	if err := t.httpSrv.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	t.httpSrv = nil
	return errors.Join(errs...)
}

// Config returns the transport configuration
func (t *HTTPTransport) Config() HTTPTransportConfig {
	return t.config
}
