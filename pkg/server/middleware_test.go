package server

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimiterMiddleware_TooManyRequests(t *testing.T) {
	handler := NewRateLimiter(rate.Every(time.Second), 1).Middleware(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/stream", nil)
	req.RemoteAddr = "1.2.3.4:1234"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 OK, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}

	// a different client has its own budget
	other := httptest.NewRequest(http.MethodGet, "/stream", nil)
	other.RemoteAddr = "5.6.7.8:1234"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, other)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for another IP, got %d", rec.Code)
	}
}

func TestRateLimiterReusesVisitorLimiter(t *testing.T) {
	rl := NewRateLimiter(rate.Every(time.Minute), 0)
	if rl.burst != 1 {
		t.Errorf("burst = %d, want clamp to 1", rl.burst)
	}
	if rl.limiter("1.1.1.1") != rl.limiter("1.1.1.1") {
		t.Error("limiter recreated for a known visitor")
	}
	if rl.visitors.Len() != 1 {
		t.Errorf("visitors = %d, want 1", rl.visitors.Len())
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"remote addr", nil, "10.0.0.1:5555", "10.0.0.1"},
		{"forwarded first hop", map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.2"}, "10.0.0.1:5555", "203.0.113.7"},
		{"invalid forwarded", map[string]string{"X-Forwarded-For": "garbage"}, "10.0.0.1:5555", "10.0.0.1"},
		{"real ip", map[string]string{"X-Real-IP": "198.51.100.4"}, "10.0.0.1:5555", "198.51.100.4"},
		{"no port", nil, "10.0.0.9", "10.0.0.9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := clientIP(req); got != tt.want {
				t.Errorf("clientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLoggingMiddlewareRecordsStatusAndRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	var seenID string
	handler := LoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenID = requestID(r.Context())
		http.Error(w, "nope", http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc123")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if seenID != "abc123" {
		t.Errorf("request id in context = %q, want abc123", seenID)
	}
	out := buf.String()
	if !strings.Contains(out, "status=418") || !strings.Contains(out, "request_id=abc123") {
		t.Errorf("log output missing status or request id: %s", out)
	}
}

func TestGeneratedRequestID(t *testing.T) {
	a, b := generateRequestID(), generateRequestID()
	if len(a) != 2*requestIDLen {
		t.Errorf("id length = %d, want %d", len(a), 2*requestIDLen)
	}
	if a == b {
		t.Error("two generated ids are equal")
	}
}

func TestResponseWriterPassthrough(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := newResponseWriter(rec)

	var _ http.Flusher = rw
	var _ http.Hijacker = rw

	rw.Flush()
	if !rec.Flushed {
		t.Error("Flush was not forwarded")
	}

	if _, _, err := rw.Hijack(); err != http.ErrNotSupported {
		t.Errorf("Hijack on a recorder = %v, want ErrNotSupported", err)
	}

	if _, err := rw.Write([]byte("hello")); err != nil {
		t.Fatal(err)
	}
	rw.WriteHeader(http.StatusInternalServerError)
	if rw.statusCode != http.StatusOK || rw.bytesWritten != 5 {
		t.Errorf("status=%d bytes=%d, want 200 and 5", rw.statusCode, rw.bytesWritten)
	}
}

func TestRequestSizeLimiter(t *testing.T) {
	var readErr error
	handler := RequestSizeLimiter(4)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 16)
		for readErr == nil {
			_, readErr = r.Body.Read(buf)
		}
	}))

	req := httptest.NewRequest(http.MethodPost, "/message", strings.NewReader("far too long"))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if readErr == nil || !strings.Contains(readErr.Error(), "too large") {
		t.Errorf("expected a too-large error, got %v", readErr)
	}
}
