package client

import (
	"net/http"

	"github.com/gregjones/httpcache"
	"github.com/gregjones/httpcache/diskcache"
)

// NewCachingHTTPClient creates an HTTP client with disk-based caching.
// The signing service marks GET /public-key and the JWKS document cacheable, so repeat
// verifications skip the round trip.
func NewCachingHTTPClient(cacheDir string) *http.Client {
	if cacheDir == "" {
		// Use in-memory cache if no cache directory specified
		return NewInMemoryCachingHTTPClient()
	}

	// Use disk-based cache for persistence across runs
	return &http.Client{
		Transport: httpcache.NewTransport(diskcache.New(cacheDir)),
	}
}

// NewInMemoryCachingHTTPClient creates an HTTP client with in-memory caching only.
func NewInMemoryCachingHTTPClient() *http.Client {
	return &http.Client{
		Transport: httpcache.NewTransport(httpcache.NewMemoryCache()),
	}
}
