package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/NERVsystems/streetglow/pkg/core"
)

// InputParser decodes request arguments into a typed struct
func InputParser[T any](req mcp.CallToolRequest) (T, error) {
	var input T

	inputJSON, err := json.Marshal(req.Params.Arguments)
	if err != nil {
		return input, core.Wrap(core.ErrCodeInvalidInput, err, "invalid input format")
	}
	if err := json.Unmarshal(inputJSON, &input); err != nil {
		return input, core.Wrap(core.ErrCodeInvalidInput, err, "failed to parse input")
	}
	return input, nil
}

// WithParsedInput adapts a typed handler to an MCP handler. Handler errors are
// rendered as structured tool errors; results are returned as JSON text.
func WithParsedInput[T any](
	handlerName string,
	logger *slog.Logger,
	handler func(ctx context.Context, input T, logger *slog.Logger) (any, error),
) func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		logger := logger.With("tool", handlerName)

		input, err := InputParser[T](req)
		if err != nil {
			logger.Error("failed to parse input", "error", err)
			return core.ToMCPResult(err), nil
		}

		result, err := handler(ctx, input, logger)
		if err != nil {
			logger.Error("handler error", "error", err, "code", core.CodeOf(err))
			return core.ToMCPResult(err), nil
		}

		resultBytes, err := json.Marshal(result)
		if err != nil {
			logger.Error("failed to marshal result", "error", err)
			return core.ToMCPResult(fmt.Errorf("failed to generate result: %w", err)), nil
		}
		return mcp.NewToolResultText(string(resultBytes)), nil
	}
}
