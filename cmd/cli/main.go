package main

import (
	"context"

	"github.com/alecthomas/kong"
	"github.com/wolfeidau/rootsigner/cmd/cli/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Canonicalize commands.CanonicalizeCmd `cmd:"" help:"Print the canonical form of a JSON document"`
		Sign         commands.SignCmd         `cmd:"" help:"Sign certificate content with a rootsigner server"`
		Verify       commands.VerifyCmd       `cmd:"" help:"Verify a root signature locally"`
		ConvertKey   commands.ConvertKeyCmd   `cmd:"" name:"convert-key" help:"Convert a root private key to PKCS#8 PEM and print its public key"`
		Conformance  commands.ConformanceCmd  `cmd:"" help:"Run canonicalization test vectors"`
		Debug        bool                     `help:"Enable debug mode."`
		Version      kong.VersionFlag
	}
)

func main() {
	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Name("rootsigner"),
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{Debug: cli.Debug, Version: version})
	cmd.FatalIfErrorf(err)
}
