package pki

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/asn1"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
)

// DefaultMinBits is the smallest RSA modulus accepted for a root key.
const DefaultMinBits = 2048

var pemMarker = []byte("-----BEGIN")

// KeyFormatError reports key material that cannot be used: unparsable input, a non-RSA key or a
// modulus that is too short.
type KeyFormatError struct {
	Reason string
	Err    error
}

func (e *KeyFormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid key material: %s: %v", e.Reason, e.Err)
	}
	return "invalid key material: " + e.Reason
}

func (e *KeyFormatError) Unwrap() error { return e.Err }

func keyFormatErrorf(err error, format string, args ...any) *KeyFormatError {
	return &KeyFormatError{Reason: fmt.Sprintf(format, args...), Err: err}
}

// KeyMaterial holds an RSA root key loaded into process memory. It is immutable after loading and
// safe for concurrent use.
type KeyMaterial struct {
	key *rsa.PrivateKey
	kid string
}

var _ Signer = (*KeyMaterial)(nil)

// LoadKeyFile reads a private key file and parses it with ParseKey.
func LoadKeyFile(path string, minBits int) (*KeyMaterial, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	return ParseKey(data, minBits)
}

// ParseKey parses an RSA private key supplied either as PEM (PKCS#1 "RSA PRIVATE KEY" or PKCS#8
// "PRIVATE KEY") or as base64 text of the DER encoding in either container. Whitespace in base64
// input is ignored. Input containing a PEM armor marker is always treated as PEM.
//
// A non-positive minBits selects DefaultMinBits. All failures are *KeyFormatError.
func ParseKey(raw []byte, minBits int) (*KeyMaterial, error) {
	if minBits <= 0 {
		minBits = DefaultMinBits
	}

	input := bytes.TrimSpace(raw)
	if len(input) == 0 {
		return nil, keyFormatErrorf(nil, "empty key input")
	}

	var (
		key any
		err error
	)
	if bytes.Contains(input, pemMarker) {
		key, err = parsePEMPrivateKey(input)
	} else {
		key, err = parseBase64PrivateKey(input)
	}
	if err != nil {
		return nil, err
	}

	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, keyFormatErrorf(nil, "key is not RSA (got %T)", key)
	}

	return NewKeyMaterial(rsaKey, minBits)
}

// NewKeyMaterial validates an RSA private key and wraps it.
func NewKeyMaterial(key *rsa.PrivateKey, minBits int) (*KeyMaterial, error) {
	if minBits <= 0 {
		minBits = DefaultMinBits
	}

	if bits := key.N.BitLen(); bits < minBits {
		return nil, keyFormatErrorf(nil, "RSA modulus is %d bits, minimum is %d", bits, minBits)
	}

	if err := key.Validate(); err != nil {
		return nil, keyFormatErrorf(err, "RSA key failed validation")
	}
	key.Precompute()

	kid, err := Fingerprint(&key.PublicKey)
	if err != nil {
		return nil, keyFormatErrorf(err, "failed to fingerprint public key")
	}

	return &KeyMaterial{key: key, kid: kid}, nil
}

// parsePEMPrivateKey returns the first private key block found in PEM input.
func parsePEMPrivateKey(input []byte) (any, error) {
	// Keys pasted into .env files often carry literal "\n" sequences instead of line breaks.
	if !bytes.Contains(input, []byte("\n")) && bytes.Contains(input, []byte(`\n`)) {
		input = bytes.ReplaceAll(input, []byte(`\n`), []byte("\n"))
	}

	rest := input
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			return nil, keyFormatErrorf(nil, "no private key PEM block found")
		}

		switch block.Type {
		case "RSA PRIVATE KEY":
			key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
			if err != nil {
				return nil, keyFormatErrorf(err, "failed to parse PKCS#1 PEM block")
			}
			return key, nil
		case "PRIVATE KEY":
			key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
			if err != nil {
				return nil, keyFormatErrorf(err, "failed to parse PKCS#8 PEM block")
			}
			return key, nil
		case "ENCRYPTED PRIVATE KEY":
			return nil, keyFormatErrorf(nil, "encrypted private keys are not supported")
		}
	}
}

// parseBase64PrivateKey decodes base64 DER and parses it according to its ASN.1 shape.
func parseBase64PrivateKey(input []byte) (any, error) {
	der, err := decodeBase64(string(input))
	if err != nil {
		return nil, keyFormatErrorf(err, "input is neither PEM nor base64 DER")
	}

	container, err := derContainer(der)
	if err != nil {
		return nil, keyFormatErrorf(err, "base64 input is not a DER private key")
	}

	switch container {
	case containerPKCS1:
		key, err := x509.ParsePKCS1PrivateKey(der)
		if err != nil {
			return nil, keyFormatErrorf(err, "failed to parse PKCS#1 DER")
		}
		return key, nil
	default:
		key, err := x509.ParsePKCS8PrivateKey(der)
		if err != nil {
			return nil, keyFormatErrorf(err, "failed to parse PKCS#8 DER")
		}
		return key, nil
	}
}

// decodeBase64 strips whitespace and decodes standard or URL-safe base64, padded or not.
func decodeBase64(s string) ([]byte, error) {
	s = strings.Join(strings.Fields(s), "")
	if s == "" {
		return nil, errors.New("empty base64 input")
	}

	enc := base64.StdEncoding
	if strings.ContainsAny(s, "-_") {
		enc = base64.URLEncoding
	}
	if !strings.HasSuffix(s, "=") {
		enc = enc.WithPadding(base64.NoPadding)
	}

	return enc.DecodeString(s)
}

type container int

const (
	containerPKCS1 container = iota + 1
	containerPKCS8
)

// derContainer inspects the outer structure of a DER private key. PKCS#1 RSAPrivateKey is
// SEQUENCE { version INTEGER, modulus INTEGER, ... } while PKCS#8 PrivateKeyInfo is
// SEQUENCE { version INTEGER, algorithm SEQUENCE, privateKey OCTET STRING }.
func derContainer(der []byte) (container, error) {
	var outer asn1.RawValue
	rest, err := asn1.Unmarshal(der, &outer)
	if err != nil {
		return 0, err
	}
	if len(rest) > 0 {
		return 0, errors.New("trailing data after DER structure")
	}
	if outer.Class != asn1.ClassUniversal || outer.Tag != asn1.TagSequence || !outer.IsCompound {
		return 0, errors.New("outer element is not a SEQUENCE")
	}

	var version asn1.RawValue
	inner, err := asn1.Unmarshal(outer.Bytes, &version)
	if err != nil {
		return 0, err
	}
	if version.Tag != asn1.TagInteger {
		return 0, errors.New("missing version INTEGER")
	}

	var second asn1.RawValue
	if _, err := asn1.Unmarshal(inner, &second); err != nil {
		return 0, err
	}

	switch second.Tag {
	case asn1.TagInteger:
		return containerPKCS1, nil
	case asn1.TagSequence:
		return containerPKCS8, nil
	}

	return 0, fmt.Errorf("unexpected ASN.1 tag %d after version", second.Tag)
}

// SignDigest signs a SHA-256 digest with RSASSA-PKCS1-v1_5. The scheme is deterministic: the same
// key and digest always give the same signature.
func (km *KeyMaterial) SignDigest(_ context.Context, digest []byte) ([]byte, error) {
	if err := checkDigest(digest); err != nil {
		return nil, err
	}

	sig, err := rsa.SignPKCS1v15(rand.Reader, km.key, crypto.SHA256, digest)
	if err != nil {
		return nil, fmt.Errorf("failed to sign digest: %w", err)
	}
	return sig, nil
}

// PublicKey returns the public half of the key.
func (km *KeyMaterial) PublicKey() *rsa.PublicKey { return &km.key.PublicKey }

// KeyID returns the base58 SHA-256 fingerprint of the public key.
func (km *KeyMaterial) KeyID() string { return km.kid }

// Modulus returns a copy of the RSA modulus.
func (km *KeyMaterial) Modulus() *big.Int { return new(big.Int).Set(km.key.N) }

// PublicExponent returns the RSA public exponent.
func (km *KeyMaterial) PublicExponent() int { return km.key.E }

// Size returns the modulus length in bytes, which is also the signature length.
func (km *KeyMaterial) Size() int { return km.key.Size() }

// PrivateKeyPEM encodes the private key as a PKCS#8 "PRIVATE KEY" PEM block.
func (km *KeyMaterial) PrivateKeyPEM() ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(km.key)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// PublicKeyPEM returns the public key as a "PUBLIC KEY" PEM block.
func (km *KeyMaterial) PublicKeyPEM() ([]byte, error) { return PublicKeyPEM(&km.key.PublicKey) }

// PublicKeyBase64 returns the base64 SubjectPublicKeyInfo DER of the public key.
func (km *KeyMaterial) PublicKeyBase64() (string, error) {
	return PublicKeyBase64(&km.key.PublicKey)
}

// JWK returns the public key in JWK format, keyed by KeyID.
func (km *KeyMaterial) JWK() map[string]any { return JWK(&km.key.PublicKey, km.kid) }
