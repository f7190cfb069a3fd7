package pki

import (
	"bytes"
	"crypto"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"math/big"
)

// VerifyDigest reports whether sig is a valid RSASSA-PKCS1-v1_5 signature of a SHA-256 digest.
func VerifyDigest(pub *rsa.PublicKey, digest, sig []byte) bool {
	if pub == nil || checkDigest(digest) != nil {
		return false
	}
	return rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest, sig) == nil
}

// ParsePublicKey parses an RSA public key from PEM ("PUBLIC KEY", "RSA PUBLIC KEY" or
// "CERTIFICATE") or from base64 of the SubjectPublicKeyInfo DER.
func ParsePublicKey(raw []byte) (*rsa.PublicKey, error) {
	input := bytes.TrimSpace(raw)
	if len(input) == 0 {
		return nil, keyFormatErrorf(nil, "empty public key input")
	}

	var (
		pub any
		err error
	)
	if bytes.Contains(input, pemMarker) {
		pub, err = parsePEMPublicKey(input)
	} else {
		der, decodeErr := decodeBase64(string(input))
		if decodeErr != nil {
			return nil, keyFormatErrorf(decodeErr, "input is neither PEM nor base64 DER")
		}
		pub, err = x509.ParsePKIXPublicKey(der)
		if err != nil {
			err = keyFormatErrorf(err, "failed to parse SubjectPublicKeyInfo DER")
		}
	}
	if err != nil {
		return nil, err
	}

	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, keyFormatErrorf(nil, "public key is not RSA (got %T)", pub)
	}
	return rsaPub, nil
}

func parsePEMPublicKey(input []byte) (any, error) {
	if !bytes.Contains(input, []byte("\n")) && bytes.Contains(input, []byte(`\n`)) {
		input = bytes.ReplaceAll(input, []byte(`\n`), []byte("\n"))
	}

	rest := input
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			return nil, keyFormatErrorf(nil, "no public key PEM block found")
		}

		switch block.Type {
		case "PUBLIC KEY":
			pub, err := x509.ParsePKIXPublicKey(block.Bytes)
			if err != nil {
				return nil, keyFormatErrorf(err, "failed to parse PUBLIC KEY block")
			}
			return pub, nil
		case "RSA PUBLIC KEY":
			pub, err := x509.ParsePKCS1PublicKey(block.Bytes)
			if err != nil {
				return nil, keyFormatErrorf(err, "failed to parse RSA PUBLIC KEY block")
			}
			return pub, nil
		case "CERTIFICATE":
			cert, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, keyFormatErrorf(err, "failed to parse CERTIFICATE block")
			}
			return cert.PublicKey, nil
		}
	}
}

// PublicKeyDER returns the SubjectPublicKeyInfo DER encoding of pub.
func PublicKeyDER(pub *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %w", err)
	}
	return der, nil
}

// PublicKeyPEM returns pub as a "PUBLIC KEY" PEM block.
func PublicKeyPEM(pub *rsa.PublicKey) ([]byte, error) {
	der, err := PublicKeyDER(pub)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// PublicKeyBase64 returns the standard base64 encoding of the SubjectPublicKeyInfo DER, the form
// relying parties store alongside root certificates.
func PublicKeyBase64(pub *rsa.PublicKey) (string, error) {
	der, err := PublicKeyDER(pub)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(der), nil
}

// JWK returns the RSA public key in JWK format.
func JWK(pub *rsa.PublicKey, kid string) map[string]any {
	return map[string]any{
		"kty": "RSA",
		"use": "sig",
		"alg": "RS256",
		"kid": kid,
		"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}
}
