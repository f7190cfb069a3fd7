package commands

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/rootsigner/internal/canonical"
	"github.com/wolfeidau/rootsigner/internal/client"
	"github.com/wolfeidau/rootsigner/internal/jsonvalue"
	"github.com/wolfeidau/rootsigner/internal/pki"
)

// SignCmd sends certificate content to a signing server and checks the returned signature against
// the server's published public key and a locally computed canonical form.
type SignCmd struct {
	File     string        `arg:"" help:"JSON file with the certificate content, - for stdin" default:"-"`
	Server   string        `help:"signing server URL" default:"http://localhost:3000" env:"ROOTSIGNER_SERVER"`
	Timeout  time.Duration `help:"request timeout" default:"30s"`
	CacheDir string        `help:"directory for cached public key responses" env:"ROOTSIGNER_CACHE_DIR"`
}

func (c *SignCmd) Run(ctx context.Context, globals *Globals) error {
	data, err := readInput(c.File)
	if err != nil {
		return err
	}

	// canonicalize locally so a disagreement with the server is caught before the signature is used
	local, err := canonical.Transform(data, jsonvalue.DefaultLimits())
	if err != nil {
		return fmt.Errorf("failed to canonicalize: %w", err)
	}

	cl := client.New(client.Config{
		ServerURL: c.Server,
		Timeout:   c.Timeout,
		CacheDir:  c.CacheDir,
		Debug:     globals.Debug,
	})

	resp, err := cl.Sign(ctx, json.RawMessage(data))
	if err != nil {
		return err
	}

	if resp.Canonical != string(local) {
		return errors.New("server canonical form differs from local canonical form")
	}

	pk, err := cl.PublicKey(ctx)
	if err != nil {
		return err
	}

	if resp.KeyID != "" && pk.KeyID != resp.KeyID {
		return fmt.Errorf("signature key %s does not match published key %s", resp.KeyID, pk.KeyID)
	}

	pub, err := pki.ParsePublicKey([]byte(pk.PublicKeyPEM))
	if err != nil {
		return err
	}

	sig, err := base64.StdEncoding.DecodeString(resp.RootSignature)
	if err != nil {
		return fmt.Errorf("server returned invalid base64 signature: %w", err)
	}

	digest := canonical.Digest(local)
	if !pki.VerifyDigest(pub, digest[:], sig) {
		return ErrInvalidSignature
	}

	log.Debug().Str("key_id", pk.KeyID).Str("sha256", resp.SHA256Hex).Msg("signature verified")

	enc := json.NewEncoder(globals.out())
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}
