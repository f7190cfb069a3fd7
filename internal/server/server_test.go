package server

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/rootsigner/internal/api"
	"github.com/wolfeidau/rootsigner/internal/jsonvalue"
	"github.com/wolfeidau/rootsigner/internal/pki"
	"github.com/wolfeidau/rootsigner/internal/signing"
)

var testKey = sync.OnceValue(func() *pki.KeyMaterial {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic(err)
	}
	km, err := pki.NewKeyMaterial(key, 0)
	if err != nil {
		panic(err)
	}
	return km
})

func newTestServer(t *testing.T, signer pki.Signer, opts ...signing.Option) *httptest.Server {
	t.Helper()

	srv, err := NewServer(signing.NewService(signer, opts...))
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler(zerolog.Nop()))
	t.Cleanup(ts.Close)
	return ts
}

func post(t *testing.T, url, body string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func get(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestSignCert(t *testing.T) {
	km := testKey()
	ts := newTestServer(t, km)

	resp, data := post(t, ts.URL+api.PathSignCert,
		`{"certContent":{"version":3,"subject":"Nodity CA","issuer":"Nodity CA"}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	require.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	var out api.SignResponse
	require.NoError(t, json.Unmarshal(data, &out))
	require.Equal(t, `{"issuer":"Nodity CA","subject":"Nodity CA","version":3}`, out.Canonical)
	require.Equal(t, "9611f0a1136f69dda8d0fbf56de96af0a3c5146d817cfa68346c7c126a0b7be3", out.SHA256Hex)
	require.Equal(t, "SHA256withRSA", out.Algorithm)
	require.Equal(t, km.KeyID(), out.KeyID)

	sig, err := base64.StdEncoding.DecodeString(out.RootSignature)
	require.NoError(t, err)
	digest := sha256.Sum256([]byte(out.Canonical))
	require.NoError(t, rsa.VerifyPKCS1v15(km.PublicKey(), crypto.SHA256, digest[:], sig))
}

func TestSignCert_canonicalNotHTMLEscaped(t *testing.T) {
	ts := newTestServer(t, testKey())

	_, data := post(t, ts.URL+api.PathSignCert, `{"certContent":{"subject":"<Nodity & Co>"}}`)
	require.Contains(t, string(data), `"canonical":"{\"subject\":\"<Nodity & Co>\"}"`)
}

func TestSignCert_badRequest(t *testing.T) {
	ts := newTestServer(t, testKey())

	tests := []struct {
		name    string
		body    string
		message string
	}{
		{name: "missing certContent", body: `{"subject":"Nodity CA"}`, message: "certContent is required"},
		{name: "null certContent", body: `{"certContent":null}`, message: "certContent is required"},
		{name: "array certContent", body: `{"certContent":[1,2]}`, message: "certContent must be an object, got array"},
		{name: "string certContent", body: `{"certContent":"x"}`, message: "certContent must be an object, got string"},
		{name: "empty certContent", body: `{"certContent":{}}`, message: "certContent must not be empty"},
		{name: "not json", body: `certContent=1`, message: "request body is not valid JSON"},
		{name: "empty body", body: ``, message: "request body is not valid JSON"},
		{name: "not an object", body: `[]`, message: "request body must be a JSON object"},
		{name: "duplicate key", body: `{"certContent":{"a":1,"a":2}}`, message: "request body contains a duplicate object key"},
		{name: "too deep", body: `{"certContent":` + strings.Repeat(`{"a":`, 100) + `1` + strings.Repeat(`}`, 101), message: "request body is nested too deeply"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, data := post(t, ts.URL+api.PathSignCert, tt.body)
			require.Equal(t, http.StatusBadRequest, resp.StatusCode)

			var out map[string]any
			require.NoError(t, json.Unmarshal(data, &out))
			require.Equal(t, tt.message, out["error"])
			require.NotContains(t, out, "rootSignature")
		})
	}
}

func TestSignCert_tooLarge(t *testing.T) {
	ts := newTestServer(t, testKey(), signing.WithLimits(jsonvalue.Limits{MaxBytes: 64}))

	resp, data := post(t, ts.URL+api.PathSignCert, `{"certContent":{"subject":"`+strings.Repeat("x", 128)+`"}}`)
	require.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	require.JSONEq(t, `{"error":"request body too large"}`, string(data))
}

func TestSignCert_internalError(t *testing.T) {
	ts := newTestServer(t, corruptSigner{Signer: testKey()})

	resp, data := post(t, ts.URL+api.PathSignCert, `{"certContent":{"issuer":"Nodity CA"}}`)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	require.JSONEq(t, `{"error":"internal error"}`, string(data))
}

// cancelledSigner reports the request context error, as a remote signer does when the caller
// disconnects.
type cancelledSigner struct {
	pki.Signer
}

func (c cancelledSigner) SignDigest(ctx context.Context, digest []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.Signer.SignDigest(ctx, digest)
}

func TestSignCert_cancelled(t *testing.T) {
	srv, err := NewServer(signing.NewService(cancelledSigner{Signer: testKey()}))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req := httptest.NewRequest(http.MethodPost, api.PathSignCert, strings.NewReader(`{"certContent":{"issuer":"Nodity CA"}}`)).WithContext(ctx)
	rec := httptest.NewRecorder()
	srv.Handler(zerolog.Nop()).ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.JSONEq(t, `{"error":"request cancelled"}`, rec.Body.String())
}

func TestSignCert_methodNotAllowed(t *testing.T) {
	ts := newTestServer(t, testKey())

	resp, _ := get(t, ts.URL+api.PathSignCert)
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	require.Contains(t, resp.Header.Get("Allow"), http.MethodPost)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, testKey())

	resp, data := get(t, ts.URL+api.PathHealth)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"status":"ok"}`, string(data))
}

func TestVerifyCert(t *testing.T) {
	km := testKey()
	ts := newTestServer(t, km)

	_, data := post(t, ts.URL+api.PathSignCert, `{"certContent":{"issuer":"Nodity CA","serialNumber":"01"}}`)
	var signed api.SignResponse
	require.NoError(t, json.Unmarshal(data, &signed))

	pemBytes, err := km.PublicKeyPEM()
	require.NoError(t, err)
	b64, err := km.PublicKeyBase64()
	require.NoError(t, err)

	verify := func(t *testing.T, req api.VerifyRequest) (*http.Response, []byte) {
		body, err := json.Marshal(req)
		require.NoError(t, err)
		return post(t, ts.URL+api.PathVerifyCert, string(body))
	}

	t.Run("own key", func(t *testing.T) {
		resp, data := verify(t, api.VerifyRequest{
			CertContent:   json.RawMessage(`{"serialNumber":"01","issuer":"Nodity CA"}`),
			RootSignature: signed.RootSignature,
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var out api.VerifyResponse
		require.NoError(t, json.Unmarshal(data, &out))
		require.True(t, out.Valid)
		require.Equal(t, signed.Canonical, out.Canonical)
		require.Equal(t, signed.SHA256Hex, out.SHA256Hex)
	})

	for name, key := range map[string]string{"pem key": string(pemBytes), "base64 key": b64} {
		t.Run(name, func(t *testing.T) {
			resp, data := verify(t, api.VerifyRequest{
				CertContent:   json.RawMessage(`{"serialNumber":"01","issuer":"Nodity CA"}`),
				RootSignature: signed.RootSignature,
				PublicKeyPEM:  key,
			})
			require.Equal(t, http.StatusOK, resp.StatusCode)
			require.JSONEq(t, `true`, string(jsonField(t, data, "valid")))
		})
	}

	t.Run("tampered", func(t *testing.T) {
		resp, data := verify(t, api.VerifyRequest{
			CertContent:   json.RawMessage(`{"serialNumber":"02","issuer":"Nodity CA"}`),
			RootSignature: signed.RootSignature,
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.JSONEq(t, `false`, string(jsonField(t, data, "valid")))
	})

	t.Run("missing signature", func(t *testing.T) {
		resp, _ := verify(t, api.VerifyRequest{CertContent: json.RawMessage(`{"issuer":"Nodity CA"}`)})
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("bad public key", func(t *testing.T) {
		resp, data := verify(t, api.VerifyRequest{
			CertContent:   json.RawMessage(`{"issuer":"Nodity CA"}`),
			RootSignature: signed.RootSignature,
			PublicKeyPEM:  "not a key",
		})
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		require.JSONEq(t, `{"error":"publicKeyPem is not a valid RSA public key"}`, string(data))
	})
}

func TestPublicKey(t *testing.T) {
	km := testKey()
	ts := newTestServer(t, km)

	resp, data := get(t, ts.URL+api.PathPublicKey)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "public, max-age=3600", resp.Header.Get("Cache-Control"))

	var out api.PublicKeyResponse
	require.NoError(t, json.Unmarshal(data, &out))
	require.Equal(t, km.KeyID(), out.KeyID)
	require.Equal(t, 2048, out.ModulusBits)
	require.Equal(t, "SHA256withRSA", out.Algorithm)

	pub, err := pki.ParsePublicKey([]byte(out.PublicKeyPEM))
	require.NoError(t, err)
	require.True(t, pub.Equal(km.PublicKey()))

	pub, err = pki.ParsePublicKey([]byte(out.PublicKeyBase64))
	require.NoError(t, err)
	require.True(t, pub.Equal(km.PublicKey()))
}

func TestJWKS(t *testing.T) {
	km := testKey()
	ts := newTestServer(t, km)

	resp, data := get(t, ts.URL+api.PathJWKS)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out api.JWKSResponse
	require.NoError(t, json.Unmarshal(data, &out))
	require.Len(t, out.Keys, 1)
	require.Equal(t, km.KeyID(), out.Keys[0]["kid"])
	require.Equal(t, "RSA", out.Keys[0]["kty"])
}

// corruptSigner returns signatures of the right length that never verify.
type corruptSigner struct {
	pki.Signer
}

func (c corruptSigner) SignDigest(ctx context.Context, digest []byte) ([]byte, error) {
	sig, err := c.Signer.SignDigest(ctx, digest)
	if err != nil {
		return nil, err
	}
	sig[0] ^= 0xff
	return sig, nil
}

func jsonField(t *testing.T, data []byte, field string) json.RawMessage {
	t.Helper()
	var out map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &out))
	return out[field]
}
