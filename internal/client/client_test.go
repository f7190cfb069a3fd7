package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/rootsigner/internal/api"
)

func newFakeService(t *testing.T, publicKeyHits *atomic.Int32) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+api.PathSignCert, func(w http.ResponseWriter, r *http.Request) {
		var req api.SignRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.CertContent) == 0 || string(req.CertContent) == "null" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"error":"certContent is required"}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(api.SignResponse{
			RootSignature: "c2ln",
			Canonical:     string(req.CertContent),
			SHA256Hex:     "00",
			Algorithm:     "SHA256withRSA",
			KeyID:         "kid",
		})
	})
	mux.HandleFunc("GET "+api.PathPublicKey, func(w http.ResponseWriter, r *http.Request) {
		publicKeyHits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		_ = json.NewEncoder(w).Encode(api.PublicKeyResponse{KeyID: "kid", ModulusBits: 2048})
	})
	mux.HandleFunc("GET "+api.PathHealth, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"status":"ok"}`)
	})
	mux.HandleFunc("POST "+api.PathVerifyCert, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"error":"internal error"}`)
	})

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func TestClient_Sign(t *testing.T) {
	var hits atomic.Int32
	ts := newFakeService(t, &hits)
	c := New(Config{ServerURL: ts.URL + "/"})

	resp, err := c.Sign(context.Background(), json.RawMessage(`{"issuer":"Nodity CA"}`))
	require.NoError(t, err)
	require.Equal(t, `{"issuer":"Nodity CA"}`, resp.Canonical)
	require.Equal(t, "kid", resp.KeyID)

	_, err = c.Sign(context.Background(), nil)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	require.Equal(t, "certContent is required", apiErr.Message)
}

func TestClient_PublicKeyIsCached(t *testing.T) {
	var hits atomic.Int32
	ts := newFakeService(t, &hits)
	c := New(Config{ServerURL: ts.URL, CacheDir: t.TempDir()})

	for range 3 {
		pub, err := c.PublicKey(context.Background())
		require.NoError(t, err)
		require.Equal(t, "kid", pub.KeyID)
	}
	require.Equal(t, int32(1), hits.Load())
}

func TestClient_DebugLogsRequests(t *testing.T) {
	var hits atomic.Int32
	ts := newFakeService(t, &hits)

	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	c := New(Config{ServerURL: ts.URL, Debug: true, Logger: &logger})

	for range 2 {
		_, err := c.PublicKey(context.Background())
		require.NoError(t, err)
	}

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)

	var first, second map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &first))
	require.NoError(t, json.Unmarshal(lines[1], &second))
	require.Equal(t, api.PathPublicKey, first["path"])
	require.Equal(t, float64(http.StatusOK), first["status"])
	require.Equal(t, false, first["from_cache"])
	require.Equal(t, true, second["from_cache"])
}

func TestClient_quietWithoutDebug(t *testing.T) {
	var hits atomic.Int32
	ts := newFakeService(t, &hits)

	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	c := New(Config{ServerURL: ts.URL, Logger: &logger})

	require.NoError(t, c.Health(context.Background()))
	require.Zero(t, buf.Len())
}

func TestClient_Health(t *testing.T) {
	var hits atomic.Int32
	ts := newFakeService(t, &hits)
	require.NoError(t, New(Config{ServerURL: ts.URL}).Health(context.Background()))
}

func TestClient_serverError(t *testing.T) {
	var hits atomic.Int32
	ts := newFakeService(t, &hits)

	_, err := New(Config{ServerURL: ts.URL}).Verify(context.Background(), api.VerifyRequest{})
	require.EqualError(t, err, "signing service returned 500: internal error")
}
