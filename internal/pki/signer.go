package pki

import (
	"context"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"fmt"

	"github.com/mr-tron/base58"
)

// AlgorithmSHA256WithRSA names the signature scheme produced by every Signer: RSASSA-PKCS1-v1_5
// over a SHA-256 digest.
const AlgorithmSHA256WithRSA = "SHA256withRSA"

// Signer signs SHA-256 digests with an RSA root key.
// Implementations include KeyMaterial (key held in process memory) and KMSSigner (AWS production).
type Signer interface {
	// SignDigest returns the RSASSA-PKCS1-v1_5 signature of a 32 byte SHA-256 digest.
	// The signature length equals the modulus length in bytes.
	SignDigest(ctx context.Context, digest []byte) ([]byte, error)

	// PublicKey returns the public half of the signing key.
	PublicKey() *rsa.PublicKey

	// KeyID returns the fingerprint identifying the signing key.
	KeyID() string
}

// Fingerprint computes the key ID for a public key: the base58 encoded SHA-256 hash of its
// PKIX (SubjectPublicKeyInfo) DER encoding.
func Fingerprint(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("failed to marshal public key: %w", err)
	}

	hash := sha256.Sum256(der)
	return base58.Encode(hash[:]), nil
}

func checkDigest(digest []byte) error {
	if len(digest) != sha256.Size {
		return fmt.Errorf("digest must be %d bytes, got %d", sha256.Size, len(digest))
	}
	return nil
}
