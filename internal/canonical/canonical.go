// Package canonical produces the canonical byte form of JSON values that is hashed and signed.
//
// The encoding is:
//
//   - null, true and false as literals
//   - numbers as their normalized decimal text (see jsonvalue.Number)
//   - strings quoted, escaping only '"', '\' and U+0000 to U+001F; all other code points are
//     written as literal UTF-8
//   - arrays in their original order
//   - object members sorted by the byte-wise order of their UTF-8 keys, at every depth
//
// No whitespace is emitted. The output is independent of the order in which object keys were
// decoded, so every conforming implementation produces the same bytes for the same value.
package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/wolfeidau/rootsigner/internal/jsonvalue"
)

// ErrTooDeep is returned when a value nests deeper than the canonicalizer allows.
var ErrTooDeep = errors.New("canonical: nesting too deep")

// Canonicalizer encodes values with a bounded nesting depth.
type Canonicalizer struct {
	MaxDepth int
}

// New returns a Canonicalizer allowing maxDepth nested arrays and objects. A non-positive
// maxDepth selects jsonvalue.DefaultMaxDepth.
func New(maxDepth int) Canonicalizer {
	if maxDepth <= 0 {
		maxDepth = jsonvalue.DefaultMaxDepth
	}
	return Canonicalizer{MaxDepth: maxDepth}
}

// Canonicalize encodes v with the default depth limit.
func Canonicalize(v jsonvalue.Value) ([]byte, error) {
	return New(0).Canonicalize(v)
}

// Canonicalize returns the canonical form of v.
func (c Canonicalizer) Canonicalize(v jsonvalue.Value) ([]byte, error) {
	maxDepth := c.MaxDepth
	if maxDepth <= 0 {
		maxDepth = jsonvalue.DefaultMaxDepth
	}

	var buf bytes.Buffer
	if err := encode(&buf, v, 0, maxDepth); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Transform decodes a JSON document within limits and returns its canonical form.
func Transform(data []byte, limits jsonvalue.Limits) ([]byte, error) {
	v, err := jsonvalue.Decode(data, limits)
	if err != nil {
		return nil, err
	}
	return New(limits.MaxDepth).Canonicalize(v)
}

// Digest returns the SHA-256 digest of canonical bytes.
func Digest(canonical []byte) [sha256.Size]byte {
	return sha256.Sum256(canonical)
}

// DigestHex returns the lowercase hex SHA-256 digest of canonical bytes.
func DigestHex(canonical []byte) string {
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

func encode(buf *bytes.Buffer, v jsonvalue.Value, depth, maxDepth int) error {
	switch v.Kind() {
	case jsonvalue.KindNull:
		buf.WriteString("null")

	case jsonvalue.KindBool:
		if b, _ := v.Bool(); b {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}

	case jsonvalue.KindNumber:
		text, _ := v.NumberText()
		buf.WriteString(text)

	case jsonvalue.KindString:
		s, _ := v.Str()
		writeString(buf, s)

	case jsonvalue.KindArray:
		if depth+1 > maxDepth {
			return fmt.Errorf("%w: limit is %d", ErrTooDeep, maxDepth)
		}
		buf.WriteByte('[')
		for i, elem := range v.Elems() {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encode(buf, elem, depth+1, maxDepth); err != nil {
				return err
			}
		}
		buf.WriteByte(']')

	case jsonvalue.KindObject:
		if depth+1 > maxDepth {
			return fmt.Errorf("%w: limit is %d", ErrTooDeep, maxDepth)
		}
		buf.WriteByte('{')
		// Keys come back in byte-wise order.
		for i, key := range v.Keys() {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeString(buf, key)
			buf.WriteByte(':')
			member, _ := v.Get(key)
			if err := encode(buf, member, depth+1, maxDepth); err != nil {
				return err
			}
		}
		buf.WriteByte('}')

	default:
		return fmt.Errorf("canonical: unknown value kind %s", v.Kind())
	}

	return nil
}

const hexDigits = "0123456789abcdef"

func writeString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')

	start := 0
	for i := 0; i < len(s); {
		c := s[i]
		if c < utf8.RuneSelf {
			if c >= 0x20 && c != '"' && c != '\\' {
				i++
				continue
			}
			buf.WriteString(s[start:i])
			switch c {
			case '"':
				buf.WriteString(`\"`)
			case '\\':
				buf.WriteString(`\\`)
			case '\b':
				buf.WriteString(`\b`)
			case '\f':
				buf.WriteString(`\f`)
			case '\n':
				buf.WriteString(`\n`)
			case '\r':
				buf.WriteString(`\r`)
			case '\t':
				buf.WriteString(`\t`)
			default:
				buf.WriteString(`\u00`)
				buf.WriteByte(hexDigits[c>>4])
				buf.WriteByte(hexDigits[c&0xf])
			}
			i++
			start = i
			continue
		}

		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			// invalid UTF-8 is coerced to U+FFFD
			buf.WriteString(s[start:i])
			buf.WriteRune(utf8.RuneError)
			i += size
			start = i
			continue
		}
		i += size
	}

	buf.WriteString(s[start:])
	buf.WriteByte('"')
}
