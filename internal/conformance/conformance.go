// Package conformance runs shared canonicalization test vectors. The same YAML file can drive
// implementations in other languages so every signer agrees on the bytes being signed.
package conformance

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/wolfeidau/rootsigner/internal/canonical"
	"github.com/wolfeidau/rootsigner/internal/jsonvalue"
)

// Error codes used by vectors that expect a failure.
const (
	CodeSyntax        = "syntax"
	CodeTooDeep       = "too_deep"
	CodeTooLarge      = "too_large"
	CodeDuplicateKey  = "duplicate_key"
	CodeInvalidNumber = "invalid_number"
	CodeTrailingData  = "trailing_data"
)

// Suite is a named list of vectors.
type Suite struct {
	Name    string   `yaml:"name"`
	Vectors []Vector `yaml:"vectors"`
}

// Vector is a single input with either its expected canonical form and digest or an expected
// error code.
type Vector struct {
	Name      string `yaml:"name"`
	Input     string `yaml:"input"`
	MaxDepth  int    `yaml:"maxDepth,omitempty"`
	Canonical string `yaml:"canonical,omitempty"`
	SHA256    string `yaml:"sha256,omitempty"`
	Error     string `yaml:"error,omitempty"`
}

// Result is the outcome of running one vector.
type Result struct {
	Vector    Vector
	Canonical string
	SHA256    string
	Err       error
	Passed    bool
	Reason    string
}

// Report summarizes a run.
type Report struct {
	Results []Result
	Passed  int
	Failed  int
}

// LoadFile reads a suite from a YAML file.
func LoadFile(path string) (*Suite, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open vectors: %w", err)
	}
	defer f.Close()

	return Load(f)
}

// Load decodes a suite from YAML. Unknown fields are rejected so typos do not silently skip
// expectations.
func Load(r io.Reader) (*Suite, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var suite Suite
	if err := dec.Decode(&suite); err != nil {
		return nil, fmt.Errorf("failed to decode vectors: %w", err)
	}

	for i, v := range suite.Vectors {
		if v.Error == "" && v.Canonical == "" {
			return nil, fmt.Errorf("vector %d (%s): needs canonical or error", i, v.Name)
		}
		if v.Error != "" && v.Canonical != "" {
			return nil, fmt.Errorf("vector %d (%s): canonical and error are exclusive", i, v.Name)
		}
	}

	return &suite, nil
}

// Run executes every vector with the given base limits.
func (s *Suite) Run(limits jsonvalue.Limits) *Report {
	report := &Report{}

	for _, v := range s.Vectors {
		res := runVector(v, limits)
		if res.Passed {
			report.Passed++
		} else {
			report.Failed++
		}
		report.Results = append(report.Results, res)
	}

	return report
}

func runVector(v Vector, limits jsonvalue.Limits) Result {
	if v.MaxDepth > 0 {
		limits.MaxDepth = v.MaxDepth
	}

	res := Result{Vector: v}

	out, err := canonical.Transform([]byte(v.Input), limits)
	if err != nil {
		res.Err = err
		code := ErrorCode(err)
		switch {
		case v.Error == "":
			res.Reason = fmt.Sprintf("unexpected error: %v", err)
		case code != v.Error:
			res.Reason = fmt.Sprintf("error code %q, want %q", code, v.Error)
		default:
			res.Passed = true
		}
		return res
	}

	res.Canonical = string(out)
	res.SHA256 = canonical.DigestHex(out)

	switch {
	case v.Error != "":
		res.Reason = fmt.Sprintf("expected error %q, got %s", v.Error, res.Canonical)
	case res.Canonical != v.Canonical:
		res.Reason = fmt.Sprintf("canonical %s, want %s", res.Canonical, v.Canonical)
	case v.SHA256 != "" && res.SHA256 != v.SHA256:
		res.Reason = fmt.Sprintf("sha256 %s, want %s", res.SHA256, v.SHA256)
	default:
		res.Passed = true
	}

	return res
}

// ErrorCode maps a decode or canonicalization error to its vector code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, jsonvalue.ErrTooDeep), errors.Is(err, canonical.ErrTooDeep):
		return CodeTooDeep
	case errors.Is(err, jsonvalue.ErrTooLarge):
		return CodeTooLarge
	case errors.Is(err, jsonvalue.ErrDuplicateKey):
		return CodeDuplicateKey
	case errors.Is(err, jsonvalue.ErrInvalidNumber):
		return CodeInvalidNumber
	case errors.Is(err, jsonvalue.ErrTrailingData):
		return CodeTrailingData
	}
	return CodeSyntax
}
