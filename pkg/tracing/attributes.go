package tracing

import "go.opentelemetry.io/otel/attribute"

// Attribute keys for pipeline operations
const (
	// MCP tool attributes
	AttrMCPToolName     = "mcp.tool.name"
	AttrMCPToolStatus   = "mcp.tool.status"
	AttrMCPToolDuration = "mcp.tool.duration_ms"
	AttrMCPResultSize   = "mcp.result.size_bytes"

	// Area attributes
	AttrPlaceName = "streetglow.place"
	AttrAreaID    = "streetglow.area.id"
	AttrAreaName  = "streetglow.area.name"
	AttrAreaCount = "streetglow.area.count"

	// Graph attributes
	AttrGraphNodes   = "streetglow.graph.nodes"
	AttrGraphWays    = "streetglow.graph.ways"
	AttrSegmentCount = "streetglow.segments.count"
	AttrTargetWidth  = "streetglow.target.width"
	AttrTargetHeight = "streetglow.target.height"
	AttrTargetScale  = "streetglow.target.scale"

	// Cache attributes
	AttrCacheLayer = "streetglow.cache.layer"
	AttrCacheHit   = "streetglow.cache.hit"
	AttrCachePath  = "streetglow.cache.path"

	// Rate limiting attributes
	AttrRateLimitService = "osm.ratelimit.service"
	AttrRateLimitWaitMs  = "osm.ratelimit.wait_ms"

	// HTTP attributes
	AttrHTTPMethod     = "http.method"
	AttrHTTPPath       = "http.path"
	AttrHTTPStatusCode = "http.status_code"
	AttrHTTPSessionID  = "http.session_id"

	// Stream attributes
	AttrStreamBatchSize = "streetglow.stream.batch_size"
	AttrStreamBatches   = "streetglow.stream.batches"

	// Error attributes
	AttrErrorCode    = "error.code"
	AttrErrorMessage = "error.message"
)

// Status values
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Service names
const (
	ServiceNominatim = "nominatim"
	ServiceOverpass  = "overpass"
)

// AreaAttributes returns attributes describing an area
func AreaAttributes(areaID int64, name string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int64(AttrAreaID, areaID),
		attribute.String(AttrAreaName, name),
	}
}

// GraphAttributes returns attributes describing a road graph
func GraphAttributes(nodes, ways int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(AttrGraphNodes, nodes),
		attribute.Int(AttrGraphWays, ways),
	}
}

// CacheAttributes returns attributes for cache lookups
func CacheAttributes(layer string, hit bool, path string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrCacheLayer, layer),
		attribute.Bool(AttrCacheHit, hit),
		attribute.String(AttrCachePath, path),
	}
}

// ErrorAttributes returns attributes for errors
func ErrorAttributes(code string, err error) []attribute.KeyValue {
	if err == nil {
		return nil
	}
	return []attribute.KeyValue{
		attribute.String(AttrErrorCode, code),
		attribute.String(AttrErrorMessage, err.Error()),
	}
}
