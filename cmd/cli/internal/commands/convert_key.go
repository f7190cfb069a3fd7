package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/wolfeidau/rootsigner/internal/pki"
)

// ConvertKeyCmd reads a root private key in any accepted format (PEM PKCS#1, PEM PKCS#8 or base64
// DER) and prints the PKCS#8 PEM form together with the public key.
type ConvertKeyCmd struct {
	Input   string `arg:"" help:"file containing the private key, - for stdin" default:"-"`
	Output  string `short:"o" help:"write the PKCS#8 PEM private key to this file instead of stdout"`
	MinBits int    `help:"minimum RSA modulus size" default:"2048"`
}

func (c *ConvertKeyCmd) Run(ctx context.Context, globals *Globals) error {
	raw, err := readInput(c.Input)
	if err != nil {
		return err
	}

	km, err := pki.ParseKey(raw, c.MinBits)
	if err != nil {
		return err
	}

	privatePEM, err := km.PrivateKeyPEM()
	if err != nil {
		return err
	}

	publicB64, err := km.PublicKeyBase64()
	if err != nil {
		return err
	}

	out := globals.out()

	if c.Output != "" {
		if err := os.WriteFile(c.Output, privatePEM, 0600); err != nil {
			return fmt.Errorf("failed to write private key: %w", err)
		}
		fmt.Fprintf(out, "Private key written to: %s\n", c.Output)
	} else {
		fmt.Fprint(out, string(privatePEM))
	}

	fmt.Fprintf(out, "Key ID: %s\n", km.KeyID())
	fmt.Fprintf(out, "Modulus bits: %d\n", km.Size()*8)
	fmt.Fprintln(out, "Public key (base64 SPKI DER):")
	fmt.Fprintln(out, publicB64)

	return nil
}
