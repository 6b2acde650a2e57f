package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Service name for metrics
	ServiceName = "streetglow"
)

// Cache layers
const (
	CacheLayerMemory = "memory"
	CacheLayerDisk   = "disk"
)

var (
	// MCP request metrics
	MCPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streetglow_mcp_requests_total",
			Help: "Total number of MCP requests processed",
		},
		[]string{"tool", "status"},
	)

	MCPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "streetglow_mcp_request_duration_seconds",
			Help:    "MCP request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		},
		[]string{"tool"},
	)

	// External service metrics
	ExternalServiceRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streetglow_external_service_requests_total",
			Help: "Total number of external service requests",
		},
		[]string{"service", "operation", "status"},
	)

	// Overpass road queries routinely take minutes
	ExternalServiceRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "streetglow_external_service_request_duration_seconds",
			Help:    "External service request duration in seconds",
			Buckets: []float64{0.1, 0.5, 1.0, 5.0, 10.0, 30.0, 60.0, 180.0, 600.0},
		},
		[]string{"service", "operation"},
	)

	RateLimitWaitTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "streetglow_rate_limit_wait_duration_seconds",
			Help:    "Time spent waiting for rate limits",
			Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		},
		[]string{"service"},
	)

	// Graph cache metrics
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streetglow_cache_hits_total",
			Help: "Total number of graph cache hits",
		},
		[]string{"layer"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streetglow_cache_misses_total",
			Help: "Total number of graph cache misses",
		},
		[]string{"layer"},
	)

	GraphFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "streetglow_graph_fetch_duration_seconds",
			Help:    "Time to fetch, partition and persist one area's graph",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 900},
		},
		[]string{"status"},
	)

	GraphElements = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "streetglow_graph_elements",
			Help:    "Nodes and ways per loaded graph",
			Buckets: prometheus.ExponentialBuckets(100, 4, 8),
		},
		[]string{"kind"},
	)

	// Extraction and drawing
	SegmentsExtracted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "streetglow_segments_extracted_total",
			Help: "Total number of road segments extracted",
		},
	)

	DrawBatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streetglow_draw_batches_total",
			Help: "Total number of draw batches released",
		},
		[]string{"transport"},
	)

	ActiveStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "streetglow_active_streams",
			Help: "Number of open segment streams",
		},
	)

	// Error metrics
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streetglow_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "error_type"},
	)

	// System metrics
	SystemInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "streetglow_system_info",
			Help: "System information",
		},
		[]string{"version", "go_version", "build_commit", "build_date"},
	)

	GoRoutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "streetglow_goroutines",
			Help: "Number of goroutines",
		},
	)

	MemoryUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "streetglow_memory_usage_bytes",
			Help: "Memory usage in bytes",
		},
	)
)

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

func RecordMCPRequest(tool string, duration time.Duration, success bool) {
	MCPRequestsTotal.WithLabelValues(tool, statusLabel(success)).Inc()
	MCPRequestDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

func RecordExternalServiceRequest(service, operation string, duration time.Duration, success bool) {
	ExternalServiceRequestsTotal.WithLabelValues(service, operation, statusLabel(success)).Inc()
	ExternalServiceRequestDuration.WithLabelValues(service, operation).Observe(duration.Seconds())
}

func RecordRateLimitWait(service string, duration time.Duration) {
	RateLimitWaitTime.WithLabelValues(service).Observe(duration.Seconds())
}

func RecordCacheHit(layer string) {
	CacheHits.WithLabelValues(layer).Inc()
}

func RecordCacheMiss(layer string) {
	CacheMisses.WithLabelValues(layer).Inc()
}

// RecordGraphFetch records one network fetch of an area graph
func RecordGraphFetch(duration time.Duration, success bool) {
	GraphFetchDuration.WithLabelValues(statusLabel(success)).Observe(duration.Seconds())
}

// RecordGraphSize records the size of a graph that was loaded or fetched
func RecordGraphSize(nodes, ways int) {
	GraphElements.WithLabelValues("nodes").Observe(float64(nodes))
	GraphElements.WithLabelValues("ways").Observe(float64(ways))
}

func RecordSegmentsExtracted(n int) {
	SegmentsExtracted.Add(float64(n))
}

func RecordDrawBatch(transport string) {
	DrawBatches.WithLabelValues(transport).Inc()
}

func RecordError(component, errorType string) {
	ErrorsTotal.WithLabelValues(component, errorType).Inc()
}
