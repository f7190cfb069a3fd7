// Package signing turns certificate content into a root signature: canonicalize, hash with
// SHA-256, sign with RSASSA-PKCS1-v1_5 and verify the result before returning it.
package signing

import (
	"context"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/semaphore"

	"github.com/wolfeidau/rootsigner/internal/canonical"
	"github.com/wolfeidau/rootsigner/internal/jsonvalue"
	"github.com/wolfeidau/rootsigner/internal/pki"
	"github.com/wolfeidau/rootsigner/internal/telemetry"
)

// Response is the result of a successful Sign.
type Response struct {
	// RootSignature is the standard base64 encoding of the PKCS#1 v1.5 signature
	RootSignature string
	// Canonical is the exact text that was hashed and signed
	Canonical string
	// SHA256Hex is the lowercase hex digest of Canonical
	SHA256Hex string
	Algorithm string
	KeyID     string
}

// VerifyResult is the result of Verify.
type VerifyResult struct {
	Valid     bool
	Canonical string
	SHA256Hex string
}

// Service signs certificate content with a single root key. It is safe for concurrent use.
type Service struct {
	signer  pki.Signer
	limits  jsonvalue.Limits
	canon   canonical.Canonicalizer
	sem     *semaphore.Weighted
	metrics *telemetry.Metrics
}

// Option configures a Service.
type Option func(*Service)

// WithLimits sets the nesting depth and size limits applied to certificate content.
func WithLimits(limits jsonvalue.Limits) Option {
	return func(s *Service) {
		s.limits = limits
	}
}

// WithMaxConcurrent bounds the number of signing operations running at once. A non-positive n
// selects GOMAXPROCS.
func WithMaxConcurrent(n int) Option {
	return func(s *Service) {
		if n <= 0 {
			n = runtime.GOMAXPROCS(0)
		}
		s.sem = semaphore.NewWeighted(int64(n))
	}
}

// WithMetrics records operations on the given instruments instead of the global set.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// NewService creates a Service that signs with signer.
func NewService(signer pki.Signer, opts ...Option) *Service {
	s := &Service{
		signer: signer,
		limits: jsonvalue.DefaultLimits(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.sem == nil {
		s.sem = semaphore.NewWeighted(int64(runtime.GOMAXPROCS(0)))
	}
	if s.metrics == nil {
		s.metrics = telemetry.GetMetrics()
	}
	if s.limits.MaxDepth <= 0 {
		s.limits.MaxDepth = jsonvalue.DefaultMaxDepth
	}
	if s.limits.MaxBytes <= 0 {
		s.limits.MaxBytes = jsonvalue.DefaultMaxBytes
	}
	s.canon = canonical.New(s.limits.MaxDepth)

	return s
}

// Limits returns the limits applied to certificate content.
func (s *Service) Limits() jsonvalue.Limits { return s.limits }

// KeyID returns the fingerprint of the signing key.
func (s *Service) KeyID() string { return s.signer.KeyID() }

// PublicKey returns the public half of the signing key.
func (s *Service) PublicKey() *rsa.PublicKey { return s.signer.PublicKey() }

// Sign canonicalizes certContent, signs its SHA-256 digest and checks the signature against the
// signer's public key before returning it.
//
// certContent must be a non-empty object. Invalid content returns *BadRequestError, signer
// failures *SigningError and a signature that does not verify ErrSelfVerification. When ctx ends
// before the signature is produced its error is returned unwrapped.
func (s *Service) Sign(ctx context.Context, certContent jsonvalue.Value) (*Response, error) {
	started := time.Now()
	s.metrics.SignRequestsTotal.Add(ctx, 1)

	resp, err := s.sign(ctx, certContent)

	s.metrics.SignDuration.Record(ctx, float64(time.Since(started).Microseconds())/1000.0)
	if err != nil {
		s.metrics.SignErrorsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", errorKind(err))))
		return nil, err
	}

	return resp, nil
}

func (s *Service) sign(ctx context.Context, certContent jsonvalue.Value) (*Response, error) {
	canon, err := s.canonicalize(certContent)
	if err != nil {
		return nil, err
	}
	s.metrics.CanonicalBytes.Record(ctx, int64(len(canon)))

	digest := sha256.Sum256(canon)

	sig, err := s.signDigest(ctx, digest[:])
	if err != nil {
		return nil, err
	}

	if err := s.selfVerify(ctx, canon, sig); err != nil {
		return nil, err
	}

	zerolog.Ctx(ctx).Debug().
		Str("key_id", s.signer.KeyID()).
		Int("canonical_bytes", len(canon)).
		Str("sha256", hex.EncodeToString(digest[:])).
		Msg("signed certificate content")

	return &Response{
		RootSignature: base64.StdEncoding.EncodeToString(sig),
		Canonical:     string(canon),
		SHA256Hex:     hex.EncodeToString(digest[:]),
		Algorithm:     pki.AlgorithmSHA256WithRSA,
		KeyID:         s.signer.KeyID(),
	}, nil
}

// signDigest holds a concurrency slot for the duration of the RSA operation.
func (s *Service) signDigest(ctx context.Context, digest []byte) ([]byte, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.sem.Release(1)

	s.metrics.SignInFlight.Add(ctx, 1)
	defer s.metrics.SignInFlight.Add(ctx, -1)

	sig, err := s.signer.SignDigest(ctx, digest)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return nil, ctxErr
		}
		return nil, &SigningError{Err: err}
	}
	return sig, nil
}

// selfVerify recomputes the digest from the canonical bytes and checks sig against it.
func (s *Service) selfVerify(ctx context.Context, canon, sig []byte) error {
	digest := sha256.Sum256(canon)
	if pki.VerifyDigest(s.signer.PublicKey(), digest[:], sig) {
		return nil
	}

	s.metrics.SelfVerifyFailuresTotal.Add(ctx, 1)
	zerolog.Ctx(ctx).Error().
		Str("key_id", s.signer.KeyID()).
		Str("sha256", hex.EncodeToString(digest[:])).
		Int("signature_bytes", len(sig)).
		Msg("signature failed self-verification")

	return ErrSelfVerification
}

// Verify canonicalizes certContent and checks a base64 signature over its digest. A nil pub
// verifies against the service's own key.
func (s *Service) Verify(ctx context.Context, certContent jsonvalue.Value, signatureB64 string, pub *rsa.PublicKey) (*VerifyResult, error) {
	canon, err := s.canonicalize(certContent)
	if err != nil {
		return nil, err
	}

	sig, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return nil, &BadRequestError{Reason: "rootSignature is not valid base64", Err: err}
	}

	if pub == nil {
		pub = s.signer.PublicKey()
	}

	digest := sha256.Sum256(canon)
	valid := pki.VerifyDigest(pub, digest[:], sig)

	s.metrics.VerifyRequestsTotal.Add(ctx, 1, metric.WithAttributes(attribute.Bool("valid", valid)))

	return &VerifyResult{
		Valid:     valid,
		Canonical: string(canon),
		SHA256Hex: hex.EncodeToString(digest[:]),
	}, nil
}

func (s *Service) canonicalize(certContent jsonvalue.Value) ([]byte, error) {
	switch {
	case certContent.IsNull():
		return nil, &BadRequestError{Reason: "certContent is required"}
	case certContent.Kind() != jsonvalue.KindObject:
		return nil, &BadRequestError{Reason: "certContent must be an object, got " + certContent.Kind().String()}
	case certContent.Len() == 0:
		return nil, &BadRequestError{Reason: "certContent must not be empty"}
	}

	canon, err := s.canon.Canonicalize(certContent)
	if err != nil {
		if errors.Is(err, canonical.ErrTooDeep) {
			return nil, &BadRequestError{Reason: "certContent is nested too deeply", Err: err}
		}
		return nil, err
	}

	if int64(len(canon)) > s.limits.MaxBytes {
		return nil, &BadRequestError{Reason: "certContent is too large", Err: jsonvalue.ErrTooLarge}
	}

	return canon, nil
}
