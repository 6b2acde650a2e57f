// Package registration announces a serving streetglow instance to a service
// registry. It is optional: a missing or failing registry never stops serving.
package registration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/NERVsystems/streetglow/pkg/core"
	"github.com/NERVsystems/streetglow/pkg/monitoring"
)

const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultTimeout           = 5 * time.Second
	DefaultServiceType       = "mcp"
)

// Config describes this instance to the registry. Registration is enabled
// when RegistryURL is set.
type Config struct {
	RegistryURL string
	ServiceName string
	ServiceType string
	ServiceURL  string
	HealthURL   string
	// StreamURL is the websocket endpoint for segment streams
	StreamURL    string
	Version      string
	Capabilities []string
	Tools        []string
	Metadata     map[string]any

	HeartbeatInterval time.Duration
	Timeout           time.Duration
}

// Enabled reports whether a registry is configured
func (c Config) Enabled() bool {
	return c.RegistryURL != ""
}

// Request is the body of a registration or heartbeat
type Request struct {
	Name         string         `json:"name"`
	Type         string         `json:"type"`
	URL          string         `json:"url"`
	HealthURL    string         `json:"health_url"`
	Version      string         `json:"version"`
	Capabilities []string       `json:"capabilities,omitempty"`
	Tools        []string       `json:"tools,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Response is the registry's acknowledgement
type Response struct {
	Status     string `json:"status"`
	Name       string `json:"name"`
	TTLSeconds int    `json:"ttl_seconds"`
}

// Client registers on start, heartbeats on an interval and deregisters on stop
type Client struct {
	cfg        Config
	logger     *slog.Logger
	httpClient *http.Client

	registered atomic.Bool
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// NewClient creates a client; with no registry configured it does nothing
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ServiceType == "" {
		cfg.ServiceType = DefaultServiceType
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:        cfg,
		logger:     logger.With("component", "registration", "registry", cfg.RegistryURL),
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Start registers in the background and keeps the registration alive
func (c *Client) Start(ctx context.Context) {
	if !c.cfg.Enabled() {
		c.logger.Debug("service registration disabled")
		return
	}

	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go c.heartbeatLoop(ctx)
}

// Stop deregisters and waits for the heartbeat loop to exit
func (c *Client) Stop() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	c.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Timeout)
	defer cancel()
	if err := c.Deregister(ctx); err != nil {
		c.logger.Debug("deregistration failed", "error", err)
	}
}

// IsRegistered reports whether the last heartbeat succeeded
func (c *Client) IsRegistered() bool {
	return c.registered.Load()
}

func (c *Client) heartbeatLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		wasRegistered := c.IsRegistered()
		if err := c.Register(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			monitoring.RecordError("registration", string(core.CodeOf(err)))
			c.logger.Debug("registration failed, registry may be unavailable", "error", err)
		} else if !wasRegistered {
			c.logger.Info("registered with service registry", "name", c.cfg.ServiceName)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (c *Client) request() Request {
	metadata := map[string]any{}
	for k, v := range c.cfg.Metadata {
		metadata[k] = v
	}
	if c.cfg.StreamURL != "" {
		metadata["stream_url"] = c.cfg.StreamURL
	}
	return Request{
		Name:         c.cfg.ServiceName,
		Type:         c.cfg.ServiceType,
		URL:          c.cfg.ServiceURL,
		HealthURL:    c.cfg.HealthURL,
		Version:      c.cfg.Version,
		Capabilities: c.cfg.Capabilities,
		Tools:        c.cfg.Tools,
		Metadata:     metadata,
	}
}

func (c *Client) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	return c.httpClient.Do(req)
}

// Register sends one registration or heartbeat
func (c *Client) Register(ctx context.Context) error {
	body, err := json.Marshal(c.request())
	if err != nil {
		return core.Wrap(core.ErrCodeInternal, err, "failed to marshal registration")
	}

	factory := func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.RegistryURL+"/api/register", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}

	resp, err := core.WithRetryFactory(ctx, factory, c.do, core.NoRetry)
	if err != nil {
		// a cancelled heartbeat says nothing about the registry
		if ctx.Err() == nil {
			c.registered.Store(false)
		}
		return err
	}
	defer resp.Body.Close()

	var ack Response
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		c.registered.Store(false)
		return core.Wrap(core.ErrCodeParseFailed, err, "failed to decode registry response")
	}
	c.registered.Store(true)
	return nil
}

// Deregister removes this instance from the registry if it is registered
func (c *Client) Deregister(ctx context.Context) error {
	if !c.registered.Swap(false) {
		return nil
	}

	target := fmt.Sprintf("%s/api/register/%s", c.cfg.RegistryURL, url.PathEscape(c.cfg.ServiceName))
	factory := func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodDelete, target, nil)
	}
	resp, err := core.WithRetryFactory(ctx, factory, c.do, core.NoRetry)
	if err != nil {
		return err
	}
	resp.Body.Close()
	c.logger.Info("deregistered from service registry", "name", c.cfg.ServiceName)
	return nil
}
