// Package server exposes the road graph pipeline over MCP and HTTP.
package server

import (
	"context"
	"io"
	"log/slog"
	"sync"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/NERVsystems/streetglow/pkg/tools"
	"github.com/NERVsystems/streetglow/pkg/version"
)

// ServerName is the MCP server name
const ServerName = "streetglow"

// Server is the MCP server with the road graph tools registered
type Server struct {
	srv    *mcpserver.MCPServer
	logger *slog.Logger

	mu        sync.Mutex
	running   bool
	stopCh    chan struct{}
	doneCh    chan struct{}
	stopOnce  sync.Once
	ctxCancel context.CancelFunc
}

// NewServer creates an MCP server over the given pipeline components
func NewServer(logger *slog.Logger, deps tools.Deps) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("initializing MCP server",
		"name", ServerName,
		"version", version.BuildVersion)

	srv := mcpserver.NewMCPServer(
		ServerName,
		version.BuildVersion,
		mcpserver.WithToolCapabilities(false),
		mcpserver.WithRecovery(),
	)
	tools.NewRegistry(logger, deps).RegisterTools(srv)

	return &Server{
		srv:    srv,
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Run serves MCP over stdin/stdout and blocks until the stream ends or
// Shutdown is called.
func (s *Server) Run() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	go func() {
		defer close(s.doneCh)
		if err := mcpserver.ServeStdio(s.srv); err != nil && err != io.EOF {
			s.logger.Error("stdio server error", "error", err)
		}
		s.Shutdown()
	}()

	<-s.stopCh

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	<-s.doneCh
	return nil
}

// RunWithContext is Run with shutdown on ctx cancellation
func (s *Server) RunWithContext(ctx context.Context) error {
	derived, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.ctxCancel = cancel
	s.mu.Unlock()

	go func() {
		select {
		case <-derived.Done():
			s.Shutdown()
		case <-s.stopCh:
		}
	}()

	return s.Run()
}

// Shutdown signals Run to return. It does not block.
func (s *Server) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.stopOnce.Do(func() { close(s.stopCh) })
	if s.ctxCancel != nil {
		s.ctxCancel()
	}
}

// MCPServer returns the underlying server, used to mount the SSE transport
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.srv
}
