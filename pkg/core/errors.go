// Package core provides shared utilities for the streetglow pipeline.
package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
)

// ErrorCode defines standard error codes for pipeline failures
type ErrorCode string

// Standard error codes
const (
	// Input validation errors
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"

	// Resolution and fetch errors
	ErrCodeNotFound           ErrorCode = "NOT_FOUND"
	ErrCodeFetchFailed        ErrorCode = "FETCH_FAILED"
	ErrCodeParseFailed        ErrorCode = "PARSE_FAILED"
	ErrCodeRateLimit          ErrorCode = "RATE_LIMIT"
	ErrCodeServiceTimeout     ErrorCode = "SERVICE_TIMEOUT"
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"

	// Graph errors
	ErrCodeEmptyGraph        ErrorCode = "EMPTY_GRAPH"
	ErrCodeDegenerateBounds  ErrorCode = "DEGENERATE_BOUNDS"
	ErrCodeDanglingReference ErrorCode = "DANGLING_REFERENCE"

	// Cache errors
	ErrCodeCacheWriteFailed ErrorCode = "CACHE_WRITE_FAILED"
	ErrCodeNoCacheEntries   ErrorCode = "NO_CACHE_ENTRIES"

	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// Sentinels for errors.Is. Any *Error with the same code matches.
var (
	ErrInvalidInput      = &Error{Code: ErrCodeInvalidInput}
	ErrNotFound          = &Error{Code: ErrCodeNotFound}
	ErrFetchFailed       = &Error{Code: ErrCodeFetchFailed}
	ErrParseFailed       = &Error{Code: ErrCodeParseFailed}
	ErrEmptyGraph        = &Error{Code: ErrCodeEmptyGraph}
	ErrDegenerateBounds  = &Error{Code: ErrCodeDegenerateBounds}
	ErrDanglingReference = &Error{Code: ErrCodeDanglingReference}
	ErrCacheWriteFailed  = &Error{Code: ErrCodeCacheWriteFailed}
	ErrNoCacheEntries    = &Error{Code: ErrCodeNoCacheEntries}
)

// Error is the structured error carried through the pipeline
type Error struct {
	Code     ErrorCode `json:"code"`
	Message  string    `json:"message"`
	Query    string    `json:"query,omitempty"`
	Guidance string    `json:"guidance,omitempty"`
	Err      error     `json:"-"`
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Guidance != "" {
		msg += ". " + e.Guidance
	}
	return msg
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error carrying the same code
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// NewError creates a new Error with the given code and message
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Errorf creates a new Error with a formatted message
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return NewError(code, fmt.Sprintf(format, args...))
}

// Wrap creates a new Error around a cause
func Wrap(code ErrorCode, err error, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithQuery adds query information to the error
func (e *Error) WithQuery(query string) *Error {
	e.Query = query
	return e
}

// WithGuidance adds guidance information to the error
func (e *Error) WithGuidance(guidance string) *Error {
	e.Guidance = guidance
	return e
}

// CodeOf returns the code of the first *Error in err's chain, or INTERNAL_ERROR
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

// ToMCPResult converts the error to an MCP tool result
func (e *Error) ToMCPResult() *mcp.CallToolResult {
	payload := struct {
		Code     ErrorCode `json:"code"`
		Message  string    `json:"message"`
		Query    string    `json:"query,omitempty"`
		Guidance string    `json:"guidance,omitempty"`
		Cause    string    `json:"cause,omitempty"`
	}{
		Code:     e.Code,
		Message:  e.Message,
		Query:    e.Query,
		Guidance: e.Guidance,
	}
	if e.Err != nil {
		payload.Cause = e.Err.Error()
	}

	errorJSON, err := json.Marshal(payload)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("ERROR: %s - %s", e.Code, e.Message))
	}

	return mcp.NewToolResultError(string(errorJSON))
}

// ToMCPResult renders any error as an MCP tool error result
func ToMCPResult(err error) *mcp.CallToolResult {
	var e *Error
	if errors.As(err, &e) {
		return e.ToMCPResult()
	}
	return Wrap(ErrCodeInternal, err, "unexpected failure").ToMCPResult()
}

// ServiceError creates an error for external service failures
func ServiceError(service string, statusCode int, message string) *Error {
	var code ErrorCode
	var guidance string

	switch statusCode {
	case http.StatusTooManyRequests:
		code = ErrCodeRateLimit
		guidance = "The service is rate-limited. Try again in a few moments."
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		code = ErrCodeServiceTimeout
		guidance = "The request timed out. Large areas can exceed the server-side budget; try a smaller area."
	case http.StatusServiceUnavailable:
		code = ErrCodeServiceUnavailable
		guidance = "The service is temporarily unavailable. Try again later."
	default:
		code = ErrCodeFetchFailed
		guidance = "Try again later."
	}

	return &Error{
		Code:     code,
		Message:  fmt.Sprintf("%s service error: %s", service, message),
		Guidance: guidance,
		Err:      ErrFetchFailed,
	}
}
