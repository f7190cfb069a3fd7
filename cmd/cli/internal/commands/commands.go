package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/wolfeidau/rootsigner/internal/jsonvalue"
)

type Globals struct {
	Debug   bool
	Version string

	// Stdout receives command output, os.Stdout when nil
	Stdout io.Writer
}

func (g *Globals) out() io.Writer {
	if g.Stdout == nil {
		return os.Stdout
	}
	return g.Stdout
}

// LimitFlags bound documents read by commands.
type LimitFlags struct {
	MaxDepth int   `help:"maximum nesting depth" default:"64"`
	MaxBytes int64 `help:"maximum document size in bytes" default:"1048576"`
}

func (l LimitFlags) limits() jsonvalue.Limits {
	return jsonvalue.Limits{MaxDepth: l.MaxDepth, MaxBytes: l.MaxBytes}
}

// readInput reads a file, or stdin when path is "-".
func readInput(path string) ([]byte, error) {
	if path == "-" || path == "" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		return data, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}
