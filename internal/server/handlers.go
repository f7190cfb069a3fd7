package server

import (
	"crypto/rsa"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/wolfeidau/rootsigner/internal/api"
	"github.com/wolfeidau/rootsigner/internal/jsonvalue"
	"github.com/wolfeidau/rootsigner/internal/pki"
	"github.com/wolfeidau/rootsigner/internal/signing"
)

const publicKeyCacheControl = "public, max-age=3600"

func (s *Server) handleSign(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	certContent, _ := body.Get("certContent")

	resp, err := s.service.Sign(r.Context(), certContent)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, api.SignResponse{
		RootSignature: resp.RootSignature,
		Canonical:     resp.Canonical,
		SHA256Hex:     resp.SHA256Hex,
		Algorithm:     resp.Algorithm,
		KeyID:         resp.KeyID,
	})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	certContent, _ := body.Get("certContent")

	sigValue, _ := body.Get("rootSignature")
	signature, ok := sigValue.Str()
	if !ok || signature == "" {
		writeError(w, r, http.StatusBadRequest, "rootSignature must be a non-empty string")
		return
	}

	var pub *rsa.PublicKey
	if keyValue, found := body.Get("publicKeyPem"); found && !keyValue.IsNull() {
		keyText, ok := keyValue.Str()
		if !ok {
			writeError(w, r, http.StatusBadRequest, "publicKeyPem must be a string")
			return
		}
		parsed, err := pki.ParsePublicKey([]byte(keyText))
		if err != nil {
			zerolog.Ctx(r.Context()).Debug().Err(err).Msg("rejected verification public key")
			writeError(w, r, http.StatusBadRequest, "publicKeyPem is not a valid RSA public key")
			return
		}
		pub = parsed
	}

	res, err := s.service.Verify(r.Context(), certContent, signature, pub)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, api.VerifyResponse{
		Valid:     res.Valid,
		Canonical: res.Canonical,
		SHA256Hex: res.SHA256Hex,
	})
}

func (s *Server) handlePublicKey(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", publicKeyCacheControl)
	writeJSON(w, r, http.StatusOK, s.publicKey)
}

func (s *Server) handleJWKS(w http.ResponseWriter, r *http.Request) {
	zerolog.Ctx(r.Context()).Debug().Str("kid", s.publicKey.KeyID).Msg("JWKS request")

	w.Header().Set("Cache-Control", publicKeyCacheControl)
	writeJSON(w, r, http.StatusOK, s.jwks)
}

// readBody reads and decodes a JSON object request body within the service limits. On failure the
// error response has already been written.
func (s *Server) readBody(w http.ResponseWriter, r *http.Request) (jsonvalue.Value, bool) {
	limits := s.service.Limits()

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limits.MaxBytes))
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, r, http.StatusRequestEntityTooLarge, "request body too large")
			return jsonvalue.Value{}, false
		}
		zerolog.Ctx(r.Context()).Warn().Err(err).Msg("failed to read request body")
		writeError(w, r, http.StatusBadRequest, "failed to read request body")
		return jsonvalue.Value{}, false
	}

	// one extra level for the request envelope around certContent
	limits.MaxDepth++

	body, err := jsonvalue.Decode(data, limits)
	if err != nil {
		zerolog.Ctx(r.Context()).Debug().Err(err).Msg("rejected request body")
		writeError(w, r, http.StatusBadRequest, decodeErrorMessage(err))
		return jsonvalue.Value{}, false
	}

	if body.Kind() != jsonvalue.KindObject {
		writeError(w, r, http.StatusBadRequest, "request body must be a JSON object")
		return jsonvalue.Value{}, false
	}

	return body, true
}

func decodeErrorMessage(err error) string {
	switch {
	case errors.Is(err, jsonvalue.ErrTooDeep):
		return "request body is nested too deeply"
	case errors.Is(err, jsonvalue.ErrTooLarge):
		return "request body too large"
	case errors.Is(err, jsonvalue.ErrDuplicateKey):
		return "request body contains a duplicate object key"
	case errors.Is(err, jsonvalue.ErrInvalidNumber):
		return "request body contains an invalid number"
	}
	return "request body is not valid JSON"
}

// writeServiceError maps signing errors to responses. Only bad requests describe the problem to the
// caller; everything else is logged and reported as a generic internal error.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var badRequest *signing.BadRequestError
	if errors.As(err, &badRequest) {
		zerolog.Ctx(r.Context()).Debug().Err(err).Msg("rejected certificate content")
		writeError(w, r, http.StatusBadRequest, badRequest.Reason)
		return
	}

	if signing.IsCancelled(err) {
		zerolog.Ctx(r.Context()).Debug().Err(err).Msg("request cancelled before signing completed")
		writeError(w, r, http.StatusServiceUnavailable, "request cancelled")
		return
	}

	zerolog.Ctx(r.Context()).Error().Err(err).Msg("failed to sign certificate content")
	writeError(w, r, http.StatusInternalServerError, "internal error")
}

func writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	writeJSON(w, r, status, api.ErrorResponse{Error: message})
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("failed to encode response")
	}
}
