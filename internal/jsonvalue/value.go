// Package jsonvalue provides an explicit tagged representation of decoded JSON documents.
//
// Values are immutable once built. Object key order is never significant: two objects with the
// same keys and equal values are equal however their keys were observed.
package jsonvalue

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
)

// Kind identifies which variant a Value holds.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ErrInvalidNumber is returned for number literals that are not valid JSON, overflow an IEEE-754
// double, or have more than MaxIntegerDigits integer digits.
var ErrInvalidNumber = errors.New("invalid number")

// Value is a JSON value. The zero Value is null.
type Value struct {
	kind Kind
	b    bool
	num  json.Number // literal as supplied
	text string      // normalized number text, or string contents
	arr  []Value
	obj  map[string]Value
}

// Null returns the null value.
func Null() Value { return Value{} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, text: s} }

// Number returns a number value for a JSON number literal.
func Number(n json.Number) (Value, error) {
	text, err := normalizeNumber(string(n))
	if err != nil {
		return Value{}, err
	}
	return Value{kind: KindNumber, num: n, text: text}, nil
}

// NumberFromInt returns a number value for an integer.
func NumberFromInt(i int64) Value {
	s := strconv.FormatInt(i, 10)
	return Value{kind: KindNumber, num: json.Number(s), text: s}
}

// NumberFromFloat returns a number value for a finite float. NaN and infinities have no JSON
// representation and are rejected.
func NumberFromFloat(f float64) (Value, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Value{}, fmt.Errorf("%w: %v", ErrInvalidNumber, f)
	}
	lit := strconv.FormatFloat(f, 'g', -1, 64)
	text, err := normalizeNumber(lit)
	if err != nil {
		return Value{}, err
	}
	return Value{kind: KindNumber, num: json.Number(lit), text: text}, nil
}

// Array returns an array holding elems in order.
func Array(elems ...Value) Value {
	return Value{kind: KindArray, arr: slices.Clone(elems)}
}

// Object returns an object holding a copy of members.
func Object(members map[string]Value) Value {
	obj := make(map[string]Value, len(members))
	for k, v := range members {
		obj[k] = v
	}
	return Value{kind: KindObject, obj: obj}
}

// Kind reports the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Bool returns the boolean held by v and whether v is a boolean.
func (v Value) Bool() (bool, bool) { return v.b, v.kind == KindBool }

// Number returns the literal of a number value as it was supplied.
func (v Value) Number() (json.Number, bool) { return v.num, v.kind == KindNumber }

// NumberText returns the normalized decimal text of a number value.
func (v Value) NumberText() (string, bool) {
	if v.kind != KindNumber {
		return "", false
	}
	return v.text, true
}

// Str returns the contents of a string value.
func (v Value) Str() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.text, true
}

// Elems returns the elements of an array value. The returned slice must not be modified.
func (v Value) Elems() []Value {
	if v.kind != KindArray {
		return nil
	}
	return v.arr
}

// Len returns the number of elements of an array or members of an object.
func (v Value) Len() int {
	switch v.kind {
	case KindArray:
		return len(v.arr)
	case KindObject:
		return len(v.obj)
	default:
		return 0
	}
}

// Keys returns the member names of an object sorted by byte-wise order.
func (v Value) Keys() []string {
	if v.kind != KindObject {
		return nil
	}
	keys := make([]string, 0, len(v.obj))
	for k := range v.obj {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Get returns the member named key of an object value.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindObject {
		return Value{}, false
	}
	m, ok := v.obj[key]
	return m, ok
}

// Equal reports whether a and b are structurally equal. Numbers compare by value, so 1e2, 100
// and 100.0 are equal.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}

	switch a.kind {
	case KindNull:
		return true
	case KindBool:
		return a.b == b.b
	case KindNumber, KindString:
		return a.text == b.text
	case KindArray:
		if len(a.arr) != len(b.arr) {
			return false
		}
		for i := range a.arr {
			if !Equal(a.arr[i], b.arr[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(a.obj) != len(b.obj) {
			return false
		}
		for k, av := range a.obj {
			bv, ok := b.obj[k]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	}

	return false
}
