package monitoring

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordMCPRequest(t *testing.T) {
	MCPRequestsTotal.Reset()

	RecordMCPRequest("extract_segments", 100*time.Millisecond, true)
	if got := testutil.ToFloat64(MCPRequestsTotal.WithLabelValues("extract_segments", "success")); got != 1 {
		t.Errorf("Expected 1 successful request, got %v", got)
	}

	RecordMCPRequest("extract_segments", 200*time.Millisecond, false)
	if got := testutil.ToFloat64(MCPRequestsTotal.WithLabelValues("extract_segments", "error")); got != 1 {
		t.Errorf("Expected 1 failed request, got %v", got)
	}
}

func TestRecordExternalServiceRequest(t *testing.T) {
	ExternalServiceRequestsTotal.Reset()

	RecordExternalServiceRequest("overpass", "query", 45*time.Second, true)
	RecordExternalServiceRequest("overpass", "query", 2*time.Second, false)

	if got := testutil.ToFloat64(ExternalServiceRequestsTotal.WithLabelValues("overpass", "query", "success")); got != 1 {
		t.Errorf("Expected 1 successful external request, got %v", got)
	}
	if got := testutil.ToFloat64(ExternalServiceRequestsTotal.WithLabelValues("overpass", "query", "error")); got != 1 {
		t.Errorf("Expected 1 failed external request, got %v", got)
	}
}

func TestCacheMetrics(t *testing.T) {
	CacheHits.Reset()
	CacheMisses.Reset()

	RecordCacheHit(CacheLayerDisk)
	RecordCacheHit(CacheLayerMemory)
	RecordCacheMiss(CacheLayerDisk)

	if got := testutil.ToFloat64(CacheHits.WithLabelValues(CacheLayerDisk)); got != 1 {
		t.Errorf("Expected 1 disk hit, got %v", got)
	}
	if got := testutil.ToFloat64(CacheHits.WithLabelValues(CacheLayerMemory)); got != 1 {
		t.Errorf("Expected 1 memory hit, got %v", got)
	}
	if got := testutil.ToFloat64(CacheMisses.WithLabelValues(CacheLayerDisk)); got != 1 {
		t.Errorf("Expected 1 disk miss, got %v", got)
	}
}

func TestGraphAndDrawMetrics(t *testing.T) {
	DrawBatches.Reset()
	before := testutil.ToFloat64(SegmentsExtracted)

	RecordSegmentsExtracted(1234)
	RecordDrawBatch("websocket")
	RecordDrawBatch("websocket")
	RecordGraphFetch(30*time.Second, true)
	RecordGraphSize(5000, 800)

	if got := testutil.ToFloat64(SegmentsExtracted) - before; got != 1234 {
		t.Errorf("Expected 1234 extracted segments, got %v", got)
	}
	if got := testutil.ToFloat64(DrawBatches.WithLabelValues("websocket")); got != 2 {
		t.Errorf("Expected 2 draw batches, got %v", got)
	}
	if got := testutil.CollectAndCount(GraphElements); got != 2 {
		t.Errorf("Expected node and way series, got %d", got)
	}
}

func TestErrorMetrics(t *testing.T) {
	ErrorsTotal.Reset()

	RecordError("cache", "CACHE_WRITE_FAILED")
	if got := testutil.ToFloat64(ErrorsTotal.WithLabelValues("cache", "CACHE_WRITE_FAILED")); got != 1 {
		t.Errorf("Expected 1 error, got %v", got)
	}
}

func BenchmarkRecordCacheHit(b *testing.B) {
	for i := 0; i < b.N; i++ {
		RecordCacheHit(CacheLayerMemory)
	}
}
