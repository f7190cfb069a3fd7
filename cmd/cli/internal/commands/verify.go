package commands

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/wolfeidau/rootsigner/internal/canonical"
	"github.com/wolfeidau/rootsigner/internal/pki"
)

var ErrInvalidSignature = errors.New("root signature is not valid")

// VerifyCmd checks a root signature against certificate content without contacting the server.
type VerifyCmd struct {
	File      string     `arg:"" help:"JSON file with the certificate content, - for stdin" default:"-"`
	Signature string     `help:"base64 root signature" required:""`
	PublicKey string     `help:"file containing the root public key (PEM or base64 SPKI DER)" required:"" type:"existingfile"`
	Limits    LimitFlags `embed:""`
}

func (c *VerifyCmd) Run(ctx context.Context, globals *Globals) error {
	data, err := readInput(c.File)
	if err != nil {
		return err
	}

	rawKey, err := os.ReadFile(c.PublicKey)
	if err != nil {
		return fmt.Errorf("failed to read public key: %w", err)
	}

	pub, err := pki.ParsePublicKey(rawKey)
	if err != nil {
		return err
	}

	sig, err := base64.StdEncoding.DecodeString(strings.TrimSpace(c.Signature))
	if err != nil {
		return fmt.Errorf("signature is not valid base64: %w", err)
	}

	out, err := canonical.Transform(data, c.Limits.limits())
	if err != nil {
		return fmt.Errorf("failed to canonicalize: %w", err)
	}

	digest := canonical.Digest(out)
	fmt.Fprintf(globals.out(), "SHA-256: %x\n", digest)

	if !pki.VerifyDigest(pub, digest[:], sig) {
		return ErrInvalidSignature
	}

	kid, err := pki.Fingerprint(pub)
	if err != nil {
		return err
	}

	fmt.Fprintf(globals.out(), "Signature valid (key %s)\n", kid)
	return nil
}
