// Package config holds runtime settings and their environment defaults.
package config

import (
	"os"
	"strconv"
	"time"
)

const (
	DefaultCacheDir    = "./city_data"
	DefaultTargetWidth = 1920
	DefaultScale       = 0.5
	DefaultBatchSize   = 1000
	DefaultTickRate    = 16 * time.Millisecond
	DefaultHTTPAddr    = ":7082"
	DefaultUserAgent   = "streetglow/0.1.0"
)

// Config is the resolved configuration for one run
type Config struct {
	CacheDir  string
	UserAgent string
	Debug     bool

	// Projection
	TargetWidth float64
	Scale       float64

	// Draw budget
	BatchSize int
	TickRate  time.Duration

	// Rate limits per collaborator
	NominatimRPS   float64
	NominatimBurst int
	OverpassRPS    float64
	OverpassBurst  int

	// Number of areas fetched at once
	FetchConcurrency int

	HTTPAddr string
}

// Default returns a Config seeded from the environment
func Default() Config {
	return Config{
		CacheDir:         CacheDir(),
		UserAgent:        DefaultUserAgent,
		TargetWidth:      DefaultTargetWidth,
		Scale:            DefaultScale,
		BatchSize:        DefaultBatchSize,
		TickRate:         DefaultTickRate,
		NominatimRPS:     1,
		NominatimBurst:   1,
		OverpassRPS:      1,
		OverpassBurst:    1,
		FetchConcurrency: envInt("STREETGLOW_FETCH_CONCURRENCY", 2),
		HTTPAddr:         envString("STREETGLOW_HTTP_ADDR", DefaultHTTPAddr),
	}
}

// CacheDir returns the graph cache directory from STREETGLOW_CACHE_DIR,
// falling back to DefaultCacheDir.
func CacheDir() string {
	return envString("STREETGLOW_CACHE_DIR", DefaultCacheDir)
}

// OTLPEndpoint returns the trace collector endpoint, empty when tracing is off
func OTLPEndpoint() string {
	return os.Getenv("OTLP_ENDPOINT")
}

// Environment returns the deployment environment name
func Environment() string {
	return envString("ENVIRONMENT", "development")
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
