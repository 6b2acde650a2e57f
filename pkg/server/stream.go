package server

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/NERVsystems/streetglow/pkg/core"
	"github.com/NERVsystems/streetglow/pkg/geometry"
	"github.com/NERVsystems/streetglow/pkg/monitoring"
	"github.com/NERVsystems/streetglow/pkg/pipeline"
	"github.com/NERVsystems/streetglow/pkg/schedule"
	"github.com/NERVsystems/streetglow/pkg/tracing"
)

// Stream message types, in the order a client sees them
const (
	MessageScene    = "scene"
	MessageBatch    = "batch"
	MessageComplete = "complete"
	MessageGlow     = "glow"
	MessageError    = "error"
)

const (
	streamWriteWait   = 10 * time.Second
	minStreamInterval = time.Millisecond
	maxStreamBatch    = 100000
)

// ScenePreparer loads and extracts the graph a stream draws
type ScenePreparer interface {
	Prepare(ctx context.Context, target pipeline.Target) (*pipeline.Scene, error)
}

// StreamMessage is one JSON frame on /stream. Fields are set per Type.
type StreamMessage struct {
	Type     string             `json:"type"`
	Source   string             `json:"source,omitempty"`
	Width    float32            `json:"width,omitempty"`
	Height   float32            `json:"height,omitempty"`
	Cursor   int                `json:"cursor,omitempty"`
	Total    int                `json:"total"`
	Segments []geometry.Segment `json:"segments,omitempty"`
	Glow     uint32             `json:"glow,omitempty"`
	Code     core.ErrorCode     `json:"code,omitempty"`
	Message  string             `json:"message,omitempty"`
}

type streamParams struct {
	target   pipeline.Target
	batch    int
	interval time.Duration
}

// StreamHandler pushes a scene's segments to a websocket client one batch per
// tick, then glow ticks until the client goes away.
type StreamHandler struct {
	preparer ScenePreparer
	cacheDir string
	batch    int
	interval time.Duration
	logger   *slog.Logger
	upgrader websocket.Upgrader

	// closed when the transport shuts down; hijacked conns outlive http.Server
	closing   chan struct{}
	closeOnce sync.Once
}

// NewStreamHandler creates a handler with default batch size and tick interval.
// A ?file= parameter names a file inside cacheDir.
func NewStreamHandler(preparer ScenePreparer, cacheDir string, batch int, interval time.Duration, logger *slog.Logger) *StreamHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamHandler{
		preparer: preparer,
		cacheDir: cacheDir,
		batch:    batch,
		interval: interval,
		logger:   logger.With("component", "stream"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 64 * 1024,
		},
		closing: make(chan struct{}),
	}
}

// Close ends every open stream
func (h *StreamHandler) Close() {
	h.closeOnce.Do(func() { close(h.closing) })
}

func (h *StreamHandler) parseParams(q url.Values) (streamParams, error) {
	p := streamParams{
		target:   pipeline.Target{Place: q.Get("place"), File: q.Get("file")},
		batch:    h.batch,
		interval: h.interval,
	}
	if p.target.Place != "" && p.target.File != "" {
		return p, core.NewError(core.ErrCodeInvalidInput, "set either place or file, not both")
	}
	if f := p.target.File; f != "" {
		if filepath.Base(f) != f || f == "." || f == ".." {
			return p, core.Errorf(core.ErrCodeInvalidInput, "file must be a cache file name, got %q", f)
		}
		p.target.File = filepath.Join(h.cacheDir, f)
	}
	if v := q.Get("batch"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxStreamBatch {
			return p, core.Errorf(core.ErrCodeInvalidInput, "batch must be an integer in [1, %d], got %q", maxStreamBatch, v)
		}
		p.batch = n
	}
	if v := q.Get("interval"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < minStreamInterval {
			return p, core.Errorf(core.ErrCodeInvalidInput, "interval must be a duration of at least %s, got %q", minStreamInterval, v)
		}
		p.interval = d
	}
	return p, nil
}

// ServeHTTP validates the query, upgrades, and streams
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	params, err := h.parseParams(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already replied
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	monitoring.ActiveStreams.Inc()
	defer monitoring.ActiveStreams.Dec()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go h.readLoop(conn, cancel)

	logger := h.logger.With("request_id", requestID(r.Context()), "place", params.target.Place, "file", params.target.File)

	scene, err := h.preparer.Prepare(ctx, params.target)
	if err != nil {
		logger.Warn("stream preparation failed", "error", err)
		monitoring.RecordError("stream", string(core.CodeOf(err)))
		_ = h.write(conn, StreamMessage{Type: MessageError, Code: core.CodeOf(err), Message: err.Error()})
		h.closeConn(conn, websocket.CloseNormalClosure)
		return
	}

	batches, err := h.stream(ctx, conn, scene, params)
	logger.Info("stream finished",
		"source", scene.Source,
		"segments", len(scene.Extraction.Segments),
		"batches", batches,
		"reason", err)
}

// readLoop drains client frames; the only thing a client sends is close
func (h *StreamHandler) readLoop(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *StreamHandler) stream(ctx context.Context, conn *websocket.Conn, scene *pipeline.Scene, params streamParams) (int, error) {
	ext := scene.Extraction
	ctx, span := tracing.StartSpan(ctx, "stream.draw",
		trace.WithAttributes(
			attribute.String(tracing.AttrAreaName, scene.Source),
			attribute.Int(tracing.AttrSegmentCount, len(ext.Segments)),
			attribute.Int(tracing.AttrStreamBatchSize, params.batch),
		),
	)
	defer span.End()

	sched := schedule.New(ext.Segments)
	var glow schedule.Glow
	batches := 0
	announced := false

	err := h.write(conn, StreamMessage{
		Type:   MessageScene,
		Source: scene.Source,
		Width:  ext.Width,
		Height: ext.Height,
		Total:  len(ext.Segments),
	})
	if err != nil {
		return batches, err
	}

	ticker := time.NewTicker(params.interval)
	defer ticker.Stop()

	for {
		if sched.Done() && !announced {
			p := sched.Progress()
			if err := h.write(conn, StreamMessage{Type: MessageComplete, Cursor: p.Cursor, Total: p.Total}); err != nil {
				return batches, err
			}
			announced = true
			span.SetAttributes(attribute.Int(tracing.AttrStreamBatches, batches))
		}

		select {
		case <-ctx.Done():
			return batches, ctx.Err()
		case <-h.closing:
			h.closeConn(conn, websocket.CloseGoingAway)
			return batches, context.Canceled
		case <-ticker.C:
		}

		var msg StreamMessage
		if sched.Done() {
			msg = StreamMessage{Type: MessageGlow, Glow: glow.Tick(), Total: len(ext.Segments)}
		} else {
			msg = StreamMessage{Type: MessageBatch, Segments: sched.Advance(params.batch)}
			p := sched.Progress()
			msg.Cursor, msg.Total = p.Cursor, p.Total
			batches++
			monitoring.RecordDrawBatch("websocket")
		}
		if err := h.write(conn, msg); err != nil {
			return batches, err
		}
	}
}

func (h *StreamHandler) write(conn *websocket.Conn, msg StreamMessage) error {
	if err := conn.SetWriteDeadline(time.Now().Add(streamWriteWait)); err != nil {
		return err
	}
	return conn.WriteJSON(msg)
}

func (h *StreamHandler) closeConn(conn *websocket.Conn, code int) {
	deadline := time.Now().Add(streamWriteWait)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, ""), deadline)
}
