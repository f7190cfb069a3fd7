package server

import (
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/wolfeidau/rootsigner/internal/api"
	rshttp "github.com/wolfeidau/rootsigner/internal/http"
	"github.com/wolfeidau/rootsigner/internal/logger"
	"github.com/wolfeidau/rootsigner/internal/pki"
	"github.com/wolfeidau/rootsigner/internal/signing"
)

// Server exposes the signing service over HTTP
type Server struct {
	service   *signing.Service
	publicKey api.PublicKeyResponse
	jwks      api.JWKSResponse
}

// NewServer creates a new server for the given signing service
func NewServer(service *signing.Service) (*Server, error) {
	pub := service.PublicKey()

	pemBytes, err := pki.PublicKeyPEM(pub)
	if err != nil {
		return nil, fmt.Errorf("failed to encode public key: %w", err)
	}

	b64, err := pki.PublicKeyBase64(pub)
	if err != nil {
		return nil, fmt.Errorf("failed to encode public key: %w", err)
	}

	return &Server{
		service: service,
		publicKey: api.PublicKeyResponse{
			KeyID:           service.KeyID(),
			Algorithm:       pki.AlgorithmSHA256WithRSA,
			PublicKeyPEM:    string(pemBytes),
			PublicKeyBase64: b64,
			ModulusBits:     pub.N.BitLen(),
		},
		jwks: api.JWKSResponse{
			Keys: []map[string]any{pki.JWK(pub, service.KeyID())},
		},
	}, nil
}

// Handler returns the HTTP handler for the server
func (s *Server) Handler(log zerolog.Logger) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint for load balancer
	mux.HandleFunc("GET "+api.PathHealth, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, r, http.StatusOK, api.HealthResponse{Status: "ok"})
	})

	mux.HandleFunc("POST "+api.PathSignCert, s.handleSign)
	mux.HandleFunc("POST "+api.PathVerifyCert, s.handleVerify)
	mux.HandleFunc("GET "+api.PathPublicKey, s.handlePublicKey)
	mux.HandleFunc("GET "+api.PathJWKS, s.handleJWKS)

	return rshttp.Chain(mux,
		rshttp.RequestIDMiddleware(),
		rshttp.ClientIPMiddleware(),
		logger.NewHTTPRequests(log).Middleware,
	)
}
