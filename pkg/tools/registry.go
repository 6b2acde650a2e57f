// Package tools exposes the road graph pipeline as MCP tools.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/NERVsystems/streetglow/pkg/cache"
	"github.com/NERVsystems/streetglow/pkg/config"
	"github.com/NERVsystems/streetglow/pkg/core"
	"github.com/NERVsystems/streetglow/pkg/monitoring"
	"github.com/NERVsystems/streetglow/pkg/pipeline"
	"github.com/NERVsystems/streetglow/pkg/tracing"
)

// ToolHandler is the MCP handler signature
type ToolHandler func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)

// Deps are the pipeline components the tools operate on
type Deps struct {
	Resolver  pipeline.AreaResolver
	Pipeline  *pipeline.Pipeline
	Cache     *cache.GraphCache
	BatchSize int
}

// Registry contains all tool definitions and handlers
type Registry struct {
	logger   *slog.Logger
	deps     Deps
	sessions *Sessions
}

// NewRegistry creates a new tool registry
func NewRegistry(logger *slog.Logger, deps Deps) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.BatchSize <= 0 {
		deps.BatchSize = config.DefaultBatchSize
	}
	return &Registry{
		logger:   logger,
		deps:     deps,
		sessions: NewSessions(DefaultMaxSessions),
	}
}

// ToolDefinition pairs a tool with its handler
type ToolDefinition struct {
	Name    string
	Tool    mcp.Tool
	Handler ToolHandler
}

// GetToolDefinitions returns the list of all available tools.
func (r *Registry) GetToolDefinitions() []ToolDefinition {
	return []ToolDefinition{
		{
			Name:    "get_version",
			Tool:    GetVersionTool(),
			Handler: WithParsedInput("get_version", r.logger, handleGetVersion),
		},
		{
			Name:    "resolve_area",
			Tool:    ResolveAreaTool(),
			Handler: WithParsedInput("resolve_area", r.logger, r.handleResolveArea),
		},
		{
			Name:    "fetch_road_graph",
			Tool:    FetchRoadGraphTool(),
			Handler: WithParsedInput("fetch_road_graph", r.logger, r.handleFetchRoadGraph),
		},
		{
			Name:    "list_cached_graphs",
			Tool:    ListCachedGraphsTool(),
			Handler: WithParsedInput("list_cached_graphs", r.logger, r.handleListCachedGraphs),
		},
		{
			Name:    "extract_segments",
			Tool:    ExtractSegmentsTool(),
			Handler: WithParsedInput("extract_segments", r.logger, r.handleExtractSegments),
		},
		{
			Name:    "draw_next_batch",
			Tool:    DrawNextBatchTool(),
			Handler: WithParsedInput("draw_next_batch", r.logger, r.handleDrawNextBatch),
		},
	}
}

// RegisterTools registers all tools with the MCP server.
func (r *Registry) RegisterTools(mcpServer *server.MCPServer) {
	for _, def := range r.GetToolDefinitions() {
		r.logger.Info("registering tool", "name", def.Name)
		mcpServer.AddTool(def.Tool, server.ToolHandlerFunc(r.wrapWithTracing(def.Name, def.Handler)))
	}
}

// GetToolNames returns a list of all tool names.
func (r *Registry) GetToolNames() []string {
	defs := r.GetToolDefinitions()
	names := make([]string, len(defs))
	for i, def := range defs {
		names[i] = def.Name
	}
	return names
}

// wrapWithTracing wraps a tool handler with a span and request metrics
func (r *Registry) wrapWithTracing(toolName string, handler ToolHandler) ToolHandler {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ctx, span := tracing.StartSpan(ctx, fmt.Sprintf("mcp.tool.%s", toolName),
			trace.WithAttributes(
				attribute.String(tracing.AttrMCPToolName, toolName),
			),
		)
		defer span.End()

		startTime := time.Now()
		result, err := handler(ctx, req)
		duration := time.Since(startTime)

		// Tool failures come back as error results, not Go errors
		failed := err != nil || (result != nil && result.IsError)
		status := tracing.StatusSuccess
		if failed {
			status = tracing.StatusError
			if err != nil {
				span.RecordError(err)
				span.SetAttributes(tracing.ErrorAttributes(string(core.CodeOf(err)), err)...)
			}
			span.SetStatus(codes.Error, "tool failed")
		} else {
			span.SetStatus(codes.Ok, "")
		}

		resultSize := 0
		if result != nil && result.Content != nil {
			if data, marshalErr := json.Marshal(result.Content); marshalErr == nil {
				resultSize = len(data)
			}
		}

		span.SetAttributes(
			attribute.String(tracing.AttrMCPToolStatus, status),
			attribute.Int64(tracing.AttrMCPToolDuration, duration.Milliseconds()),
			attribute.Int(tracing.AttrMCPResultSize, resultSize),
		)
		monitoring.RecordMCPRequest(toolName, duration, !failed)

		r.logger.Debug("tool execution traced",
			"tool", toolName,
			"duration_ms", duration.Milliseconds(),
			"status", status,
			"result_size", resultSize,
		)
		return result, err
	}
}
