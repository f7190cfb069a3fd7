package pki

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
)

// KMSAPI is the subset of the KMS client used by KMSSigner.
type KMSAPI interface {
	GetPublicKey(ctx context.Context, params *kms.GetPublicKeyInput, optFns ...func(*kms.Options)) (*kms.GetPublicKeyOutput, error)
	Sign(ctx context.Context, params *kms.SignInput, optFns ...func(*kms.Options)) (*kms.SignOutput, error)
}

// KMSSigner implements Signer using an asymmetric RSA key held in AWS KMS.
// The root private key never leaves the KMS HSM; only digest signing operations are performed.
type KMSSigner struct {
	kmsClient KMSAPI
	kmsKeyID  string
	publicKey *rsa.PublicKey
	kid       string
}

var _ Signer = (*KMSSigner)(nil)

// NewKMSSigner creates a KMSSigner from an AWS KMS key.
// The kmsKeyID can be a key ID, key ARN, alias name, or alias ARN.
func NewKMSSigner(ctx context.Context, awsConfig aws.Config, kmsKeyID string, minBits int) (*KMSSigner, error) {
	return NewKMSSignerWithClient(ctx, kms.NewFromConfig(awsConfig), kmsKeyID, minBits)
}

// NewKMSSignerWithClient creates a KMSSigner using the supplied client. The key must be an RSA
// SIGN_VERIFY key of at least minBits; anything else is a *KeyFormatError.
func NewKMSSignerWithClient(ctx context.Context, client KMSAPI, kmsKeyID string, minBits int) (*KMSSigner, error) {
	if minBits <= 0 {
		minBits = DefaultMinBits
	}

	pubKeyOutput, err := client.GetPublicKey(ctx, &kms.GetPublicKeyInput{
		KeyId: aws.String(kmsKeyID),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get public key from KMS: %w", err)
	}

	if pubKeyOutput.KeyUsage != "" && pubKeyOutput.KeyUsage != types.KeyUsageTypeSignVerify {
		return nil, keyFormatErrorf(nil, "KMS key usage is %s, want %s", pubKeyOutput.KeyUsage, types.KeyUsageTypeSignVerify)
	}

	// Parse the public key from KMS (DER-encoded SubjectPublicKeyInfo)
	kmsPublicKey, err := x509.ParsePKIXPublicKey(pubKeyOutput.PublicKey)
	if err != nil {
		return nil, keyFormatErrorf(err, "failed to parse KMS public key")
	}

	rsaPubKey, ok := kmsPublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, keyFormatErrorf(nil, "KMS key is not RSA (got %T)", kmsPublicKey)
	}

	if bits := rsaPubKey.N.BitLen(); bits < minBits {
		return nil, keyFormatErrorf(nil, "KMS RSA modulus is %d bits, minimum is %d", bits, minBits)
	}

	kid, err := Fingerprint(rsaPubKey)
	if err != nil {
		return nil, keyFormatErrorf(err, "failed to fingerprint KMS public key")
	}

	return &KMSSigner{
		kmsClient: client,
		kmsKeyID:  kmsKeyID,
		publicKey: rsaPubKey,
		kid:       kid,
	}, nil
}

// SignDigest signs a SHA-256 digest with RSASSA_PKCS1_V1_5_SHA_256 in KMS.
func (s *KMSSigner) SignDigest(ctx context.Context, digest []byte) ([]byte, error) {
	if err := checkDigest(digest); err != nil {
		return nil, err
	}

	// KMS expects the digest to be hashed already
	signOutput, err := s.kmsClient.Sign(ctx, &kms.SignInput{
		KeyId:            aws.String(s.kmsKeyID),
		Message:          digest,
		MessageType:      types.MessageTypeDigest,
		SigningAlgorithm: types.SigningAlgorithmSpecRsassaPkcs1V15Sha256,
	})
	if err != nil {
		return nil, fmt.Errorf("KMS sign operation failed: %w", err)
	}

	// PKCS#1 v1.5 signatures are raw big-endian integers, no ASN.1 unwrapping needed.
	return signOutput.Signature, nil
}

// PublicKey returns the public key reported by KMS.
func (s *KMSSigner) PublicKey() *rsa.PublicKey { return s.publicKey }

// KeyID returns the base58 SHA-256 fingerprint of the KMS public key.
func (s *KMSSigner) KeyID() string { return s.kid }
