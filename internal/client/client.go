package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gregjones/httpcache"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/rootsigner/internal/api"
)

// Config holds common client configuration
type Config struct {
	ServerURL string
	Timeout   time.Duration
	// CacheDir persists cached public key responses, empty keeps them in memory
	CacheDir string
	// Debug logs every request at debug level
	Debug bool
	// Logger receives debug request logs, the global logger when nil
	Logger *zerolog.Logger
}

// DefaultConfig returns a default client configuration
func DefaultConfig() Config {
	return Config{
		ServerURL: "http://localhost:3000",
		Timeout:   30 * time.Second,
		Debug:     false,
	}
}

// APIError is a non-2xx response from the signing service.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("signing service returned %d", e.StatusCode)
	}
	return fmt.Sprintf("signing service returned %d: %s", e.StatusCode, e.Message)
}

// Client calls the root signing service over HTTP. Cacheable responses such as the public key are
// served from an HTTP cache honouring Cache-Control.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

// New creates a client with the given configuration
func New(config Config) *Client {
	httpClient := NewCachingHTTPClient(config.CacheDir)
	httpClient.Timeout = config.Timeout

	c := NewWithHTTPClient(config.ServerURL, httpClient)
	if config.Debug {
		c.logger = log.Logger
		if config.Logger != nil {
			c.logger = *config.Logger
		}
	}
	return c
}

// NewWithHTTPClient creates a client using an existing HTTP client
func NewWithHTTPClient(serverURL string, httpClient *http.Client) *Client {
	return &Client{
		baseURL:    strings.TrimRight(serverURL, "/"),
		httpClient: httpClient,
		logger:     zerolog.Nop(),
	}
}

// Sign requests a root signature for certContent, which must be a JSON object.
func (c *Client) Sign(ctx context.Context, certContent json.RawMessage) (*api.SignResponse, error) {
	var out api.SignResponse
	if err := c.do(ctx, http.MethodPost, api.PathSignCert, api.SignRequest{CertContent: certContent}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Verify asks the service to check a signature.
func (c *Client) Verify(ctx context.Context, req api.VerifyRequest) (*api.VerifyResponse, error) {
	var out api.VerifyResponse
	if err := c.do(ctx, http.MethodPost, api.PathVerifyCert, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PublicKey fetches the service's public key.
func (c *Client) PublicKey(ctx context.Context) (*api.PublicKeyResponse, error) {
	var out api.PublicKeyResponse
	if err := c.do(ctx, http.MethodGet, api.PathPublicKey, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// JWKS fetches the service's JSON Web Key Set.
func (c *Client) JWKS(ctx context.Context) (*api.JWKSResponse, error) {
	var out api.JWKSResponse
	if err := c.do(ctx, http.MethodGet, api.PathJWKS, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health checks the service is up.
func (c *Client) Health(ctx context.Context) error {
	var out api.HealthResponse
	if err := c.do(ctx, http.MethodGet, api.PathHealth, nil, &out); err != nil {
		return err
	}
	if out.Status != "ok" {
		return fmt.Errorf("unexpected health status %q", out.Status)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug().Err(err).Str("method", method).Str("path", path).Msg("request failed")
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Bool("from_cache", resp.Header.Get(httpcache.XFromCache) != "").
		Dur("duration", time.Since(started)).
		Msg("request completed")

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var errResp api.ErrorResponse
		if json.Unmarshal(data, &errResp) == nil {
			apiErr.Message = errResp.Error
		}
		return apiErr
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
