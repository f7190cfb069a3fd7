package jsonvalue

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

const (
	// DefaultMaxDepth bounds how many arrays and objects may be nested inside each other.
	DefaultMaxDepth = 64
	// DefaultMaxBytes bounds the size of a document accepted by Decode.
	DefaultMaxBytes int64 = 1 << 20
)

var (
	ErrSyntax       = errors.New("malformed JSON")
	ErrTooDeep      = errors.New("nesting too deep")
	ErrTooLarge     = errors.New("document too large")
	ErrDuplicateKey = errors.New("duplicate object key")
	ErrTrailingData = errors.New("unexpected data after JSON value")
)

// Limits bounds the resources a single document may consume. Zero fields select the defaults.
type Limits struct {
	MaxDepth int
	MaxBytes int64
}

// DefaultLimits returns the limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{MaxDepth: DefaultMaxDepth, MaxBytes: DefaultMaxBytes}
}

func (l Limits) withDefaults() Limits {
	if l.MaxDepth <= 0 {
		l.MaxDepth = DefaultMaxDepth
	}
	if l.MaxBytes <= 0 {
		l.MaxBytes = DefaultMaxBytes
	}
	return l
}

// Decode parses exactly one JSON document. Number literals are kept verbatim, duplicate object
// keys are rejected, and the document must fit within limits.
func Decode(data []byte, limits Limits) (Value, error) {
	limits = limits.withDefaults()

	if int64(len(data)) > limits.MaxBytes {
		return Value{}, fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrTooLarge, len(data), limits.MaxBytes)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	d := &decoder{dec: dec, maxDepth: limits.MaxDepth}

	tok, err := d.token()
	if err != nil {
		return Value{}, err
	}

	v, err := d.value(tok, 0)
	if err != nil {
		return Value{}, err
	}

	if _, err := dec.Token(); err != io.EOF {
		return Value{}, ErrTrailingData
	}

	return v, nil
}

type decoder struct {
	dec      *json.Decoder
	maxDepth int
}

func (d *decoder) token() (json.Token, error) {
	tok, err := d.dec.Token()
	if err == io.EOF {
		return nil, fmt.Errorf("%w: unexpected end of input", ErrSyntax)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSyntax, err)
	}
	return tok, nil
}

func (d *decoder) value(tok json.Token, depth int) (Value, error) {
	switch t := tok.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case json.Number:
		return Number(t)
	case json.Delim:
		switch t {
		case '[':
			return d.array(depth + 1)
		case '{':
			return d.object(depth + 1)
		}
		return Value{}, fmt.Errorf("%w: unexpected %q", ErrSyntax, t)
	}

	return Value{}, fmt.Errorf("%w: unexpected token %T", ErrSyntax, tok)
}

func (d *decoder) array(depth int) (Value, error) {
	if depth > d.maxDepth {
		return Value{}, fmt.Errorf("%w: limit is %d", ErrTooDeep, d.maxDepth)
	}

	elems := []Value{}
	for d.dec.More() {
		tok, err := d.token()
		if err != nil {
			return Value{}, err
		}
		v, err := d.value(tok, depth)
		if err != nil {
			return Value{}, err
		}
		elems = append(elems, v)
	}

	// closing bracket
	if _, err := d.token(); err != nil {
		return Value{}, err
	}

	return Value{kind: KindArray, arr: elems}, nil
}

func (d *decoder) object(depth int) (Value, error) {
	if depth > d.maxDepth {
		return Value{}, fmt.Errorf("%w: limit is %d", ErrTooDeep, d.maxDepth)
	}

	members := map[string]Value{}
	for d.dec.More() {
		tok, err := d.token()
		if err != nil {
			return Value{}, err
		}
		key, ok := tok.(string)
		if !ok {
			return Value{}, fmt.Errorf("%w: object key must be a string", ErrSyntax)
		}
		if _, dup := members[key]; dup {
			return Value{}, fmt.Errorf("%w: %q", ErrDuplicateKey, key)
		}

		tok, err = d.token()
		if err != nil {
			return Value{}, err
		}
		v, err := d.value(tok, depth)
		if err != nil {
			return Value{}, err
		}
		members[key] = v
	}

	// closing brace
	if _, err := d.token(); err != nil {
		return Value{}, err
	}

	return Value{kind: KindObject, obj: members}, nil
}

// FromAny converts the generic output of encoding/json or yaml.v3 decoding into a Value.
func FromAny(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case json.Number:
		return Number(t)
	case float64:
		return NumberFromFloat(t)
	case float32:
		return NumberFromFloat(float64(t))
	case int:
		return NumberFromInt(int64(t)), nil
	case int32:
		return NumberFromInt(int64(t)), nil
	case int64:
		return NumberFromInt(t), nil
	case uint64:
		return Number(json.Number(fmt.Sprintf("%d", t)))
	case []any:
		elems := make([]Value, 0, len(t))
		for i, e := range t {
			v, err := FromAny(e)
			if err != nil {
				return Value{}, fmt.Errorf("index %d: %w", i, err)
			}
			elems = append(elems, v)
		}
		return Value{kind: KindArray, arr: elems}, nil
	case map[string]any:
		members := make(map[string]Value, len(t))
		for k, e := range t {
			v, err := FromAny(e)
			if err != nil {
				return Value{}, fmt.Errorf("key %q: %w", k, err)
			}
			members[k] = v
		}
		return Value{kind: KindObject, obj: members}, nil
	}

	return Value{}, fmt.Errorf("unsupported type %T", x)
}
