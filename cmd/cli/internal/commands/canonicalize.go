package commands

import (
	"context"
	"fmt"

	"github.com/wolfeidau/rootsigner/internal/canonical"
)

// CanonicalizeCmd prints the canonical form of a JSON document.
type CanonicalizeCmd struct {
	File   string     `arg:"" help:"JSON file to canonicalize, - for stdin" default:"-"`
	Digest bool       `help:"also print the SHA-256 hex digest of the canonical form"`
	Limits LimitFlags `embed:""`
}

func (c *CanonicalizeCmd) Run(ctx context.Context, globals *Globals) error {
	data, err := readInput(c.File)
	if err != nil {
		return err
	}

	out, err := canonical.Transform(data, c.Limits.limits())
	if err != nil {
		return fmt.Errorf("failed to canonicalize: %w", err)
	}

	fmt.Fprintln(globals.out(), string(out))
	if c.Digest {
		fmt.Fprintln(globals.out(), canonical.DigestHex(out))
	}

	return nil
}
