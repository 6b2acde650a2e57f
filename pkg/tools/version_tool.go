package tools

import (
	"context"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/NERVsystems/streetglow/pkg/version"
)

// GetVersionTool returns a tool definition for retrieving version information
func GetVersionTool() mcp.Tool {
	return mcp.NewTool("get_version",
		mcp.WithDescription("Get the version and build information of the streetglow service"),
	)
}

func handleGetVersion(ctx context.Context, _ struct{}, logger *slog.Logger) (any, error) {
	return version.Info(), nil
}
