package commands

import (
	"context"
	"fmt"

	"github.com/wolfeidau/rootsigner/internal/conformance"
)

// ConformanceCmd runs a YAML file of canonicalization vectors.
type ConformanceCmd struct {
	File    string     `arg:"" help:"YAML file of test vectors" type:"existingfile"`
	Verbose bool       `short:"v" help:"print passing vectors too"`
	Limits  LimitFlags `embed:""`
}

func (c *ConformanceCmd) Run(ctx context.Context, globals *Globals) error {
	suite, err := conformance.LoadFile(c.File)
	if err != nil {
		return err
	}

	report := suite.Run(c.Limits.limits())
	out := globals.out()

	for _, r := range report.Results {
		switch {
		case !r.Passed:
			fmt.Fprintf(out, "FAIL %s: %s\n", r.Vector.Name, r.Reason)
		case c.Verbose:
			fmt.Fprintf(out, "PASS %s\n", r.Vector.Name)
		}
	}

	fmt.Fprintf(out, "%s: %d passed, %d failed\n", suite.Name, report.Passed, report.Failed)

	if report.Failed > 0 {
		return fmt.Errorf("%d of %d vectors failed", report.Failed, len(report.Results))
	}
	return nil
}
