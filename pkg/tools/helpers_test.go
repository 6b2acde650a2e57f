package tools

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
)

// resultText returns the first text content of a tool result
func resultText(result *mcp.CallToolResult) string {
	for _, content := range result.Content {
		if text, ok := content.(mcp.TextContent); ok {
			return text.Text
		}
	}
	return ""
}

// AssertErrorResult fails the test unless result is an error result
func AssertErrorResult(t *testing.T, result *mcp.CallToolResult, message string) {
	t.Helper()
	if result == nil || !result.IsError {
		t.Error(message)
	}
}

// AssertSuccessResult fails the test if result is an error result
func AssertSuccessResult(t *testing.T, result *mcp.CallToolResult, message string) {
	t.Helper()
	if result == nil {
		t.Fatalf("%s: nil result", message)
	}
	if result.IsError {
		t.Fatalf("%s. Got error: %s", message, resultText(result))
	}
}

// ParseResultJSON decodes the JSON text content of a tool result
func ParseResultJSON(result *mcp.CallToolResult, out any) error {
	content := resultText(result)
	if content == "" {
		return fmt.Errorf("no text content in result")
	}
	return json.Unmarshal([]byte(content), out)
}
