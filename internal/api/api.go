// Package api defines the JSON bodies exchanged with the root signing service.
package api

import "encoding/json"

const (
	PathSignCert   = "/sign-cert"
	PathVerifyCert = "/verify-cert"
	PathPublicKey  = "/public-key"
	PathJWKS       = "/.well-known/jwks.json"
	PathHealth     = "/health"
)

// SignRequest is the body of POST /sign-cert.
type SignRequest struct {
	CertContent json.RawMessage `json:"certContent"`
}

// SignResponse is returned by POST /sign-cert.
type SignResponse struct {
	RootSignature string `json:"rootSignature"`
	Canonical     string `json:"canonical"`
	SHA256Hex     string `json:"sha256Hex"`
	Algorithm     string `json:"algorithm"`
	KeyID         string `json:"keyId"`
}

// VerifyRequest is the body of POST /verify-cert. PublicKeyPEM is optional; without it the
// service's own key is used.
type VerifyRequest struct {
	CertContent   json.RawMessage `json:"certContent"`
	RootSignature string          `json:"rootSignature"`
	PublicKeyPEM  string          `json:"publicKeyPem,omitempty"`
}

// VerifyResponse is returned by POST /verify-cert.
type VerifyResponse struct {
	Valid     bool   `json:"valid"`
	Canonical string `json:"canonical"`
	SHA256Hex string `json:"sha256Hex"`
}

// PublicKeyResponse is returned by GET /public-key.
type PublicKeyResponse struct {
	KeyID           string `json:"keyId"`
	Algorithm       string `json:"algorithm"`
	PublicKeyPEM    string `json:"publicKeyPem"`
	PublicKeyBase64 string `json:"publicKeyBase64"`
	ModulusBits     int    `json:"modulusBits"`
}

// JWKSResponse is returned by GET /.well-known/jwks.json.
type JWKSResponse struct {
	Keys []map[string]any `json:"keys"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}
