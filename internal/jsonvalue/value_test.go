package jsonvalue

import (
	"encoding/json"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func mustDecode(t *testing.T, doc string) Value {
	t.Helper()
	v, err := Decode([]byte(doc), DefaultLimits())
	require.NoError(t, err)
	return v
}

func TestDecode_variants(t *testing.T) {
	v := mustDecode(t, `{"n":null,"b":true,"num":1.50,"s":"x","a":[1,"two",false],"o":{}}`)
	require.Equal(t, KindObject, v.Kind())
	require.Equal(t, []string{"a", "b", "n", "num", "o", "s"}, v.Keys())

	n, ok := v.Get("n")
	require.True(t, ok)
	require.True(t, n.IsNull())

	b, _ := v.Get("b")
	bv, ok := b.Bool()
	require.True(t, ok)
	require.True(t, bv)

	num, _ := v.Get("num")
	lit, ok := num.Number()
	require.True(t, ok)
	require.Equal(t, json.Number("1.50"), lit)
	text, _ := num.NumberText()
	require.Equal(t, "1.5", text)

	a, _ := v.Get("a")
	require.Equal(t, KindArray, a.Kind())
	require.Len(t, a.Elems(), 3)

	o, _ := v.Get("o")
	require.Equal(t, KindObject, o.Kind())
	require.Equal(t, 0, o.Len())
}

func TestDecode_errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		err  error
	}{
		{name: "empty input", doc: "", err: ErrSyntax},
		{name: "truncated object", doc: `{"a":1`, err: ErrSyntax},
		{name: "trailing comma", doc: `[1,]`, err: ErrSyntax},
		{name: "trailing data", doc: `{} {}`, err: ErrTrailingData},
		{name: "duplicate key", doc: `{"a":1,"a":2}`, err: ErrDuplicateKey},
		{name: "nested duplicate key", doc: `{"a":{"b":1,"b":1}}`, err: ErrDuplicateKey},
		{name: "number overflow", doc: `[1e400]`, err: ErrInvalidNumber},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.doc), DefaultLimits())
			require.ErrorIs(t, err, tt.err)
		})
	}
}

func TestDecode_limits(t *testing.T) {
	t.Run("depth at limit is accepted", func(t *testing.T) {
		doc := strings.Repeat("[", 3) + strings.Repeat("]", 3)
		_, err := Decode([]byte(doc), Limits{MaxDepth: 3})
		require.NoError(t, err)
	})

	t.Run("depth above limit is rejected", func(t *testing.T) {
		doc := strings.Repeat(`{"a":`, 4) + "1" + strings.Repeat("}", 4)
		_, err := Decode([]byte(doc), Limits{MaxDepth: 3})
		require.ErrorIs(t, err, ErrTooDeep)
	})

	t.Run("adversarial nesting is rejected with defaults", func(t *testing.T) {
		doc := strings.Repeat("[", 100000) + strings.Repeat("]", 100000)
		_, err := Decode([]byte(doc), DefaultLimits())
		require.ErrorIs(t, err, ErrTooDeep)
	})

	t.Run("size above limit is rejected", func(t *testing.T) {
		_, err := Decode([]byte(`{"a":"0123456789"}`), Limits{MaxBytes: 8})
		require.ErrorIs(t, err, ErrTooLarge)
	})
}

func TestNumber_normalization(t *testing.T) {
	tests := []struct {
		lit  string
		want string
	}{
		{"0", "0"},
		{"-0", "0"},
		{"3", "3"},
		{"-42", "-42"},
		{"12345678901234567890123", "12345678901234567890123"},
		{"1.0", "1"},
		{"1.50", "1.5"},
		{"-0.0", "0"},
		{"0.1", "0.1"},
		{"2e3", "2000"},
		{"1E2", "100"},
		{"1e21", "1000000000000000000000"},
		{"1.5e21", "1500000000000000000000"},
		{"100.00", "100"},
		{"-1.0e2", "-100"},
		{"12345678901234567890.0", "12345678901234567890"},
		{"9007199254740993.0", "9007199254740993"},
		{"0.0e5", "0"},
		{"-0e-3", "0"},
		{"1000e-3", "1"},
		{"1e-7", "1e-7"},
		{"0.000001", "0.000001"},
		{"123.456e-2", "1.23456"},
		{"5e-324", "5e-324"},
	}

	for _, tt := range tests {
		t.Run(tt.lit, func(t *testing.T) {
			v, err := Number(json.Number(tt.lit))
			require.NoError(t, err)
			text, ok := v.NumberText()
			require.True(t, ok)
			require.Equal(t, tt.want, text)
		})
	}
}

func TestNumber_invalidLiterals(t *testing.T) {
	for _, lit := range []string{"", "-", "01", "1.", ".5", "1e", "+1", "0x10", "NaN", "1 "} {
		t.Run(lit, func(t *testing.T) {
			_, err := Number(json.Number(lit))
			require.ErrorIs(t, err, ErrInvalidNumber)
		})
	}
}

func TestNumber_integerDigitLimit(t *testing.T) {
	v, err := Number(json.Number("1e308"))
	require.NoError(t, err)
	text, _ := v.NumberText()
	require.Len(t, text, MaxIntegerDigits)

	for _, lit := range []string{"1e309", "1e1000000", "1e99999999999999999999", "-2.5e400"} {
		t.Run(lit, func(t *testing.T) {
			_, err := Number(json.Number(lit))
			require.ErrorIs(t, err, ErrInvalidNumber)
		})
	}
}

func TestNumberFromFloat(t *testing.T) {
	v, err := NumberFromFloat(0.5)
	require.NoError(t, err)
	text, _ := v.NumberText()
	require.Equal(t, "0.5", text)

	v, err = NumberFromFloat(1e21)
	require.NoError(t, err)
	lit, err := Number(json.Number("1e21"))
	require.NoError(t, err)
	require.True(t, Equal(lit, v))

	_, err = NumberFromFloat(math.NaN())
	require.ErrorIs(t, err, ErrInvalidNumber)

	_, err = NumberFromFloat(math.Inf(-1))
	require.ErrorIs(t, err, ErrInvalidNumber)
}

func TestEqual(t *testing.T) {
	t.Run("object key order is ignored", func(t *testing.T) {
		a := mustDecode(t, `{"a":1,"b":{"x":[1,2],"y":null}}`)
		b := mustDecode(t, `{"b":{"y":null,"x":[1,2]},"a":1}`)
		require.True(t, Equal(a, b))
	})

	t.Run("array order matters", func(t *testing.T) {
		require.False(t, Equal(mustDecode(t, `[1,2]`), mustDecode(t, `[2,1]`)))
	})

	t.Run("numbers compare by value", func(t *testing.T) {
		require.True(t, Equal(mustDecode(t, `1.0`), mustDecode(t, `1`)))
		require.True(t, Equal(mustDecode(t, `2e3`), NumberFromInt(2000)))
		require.True(t, Equal(mustDecode(t, `1e21`), mustDecode(t, `1000000000000000000000`)))
		require.True(t, Equal(mustDecode(t, `12345678901234567890.0`), mustDecode(t, `12345678901234567890`)))
		require.True(t, Equal(mustDecode(t, `1e2`), mustDecode(t, `100`)))
		require.False(t, Equal(mustDecode(t, `9007199254740993`), mustDecode(t, `9007199254740992`)))
		require.False(t, Equal(mustDecode(t, `1`), mustDecode(t, `"1"`)))
	})

	t.Run("missing key", func(t *testing.T) {
		require.False(t, Equal(mustDecode(t, `{"a":1}`), mustDecode(t, `{"b":1}`)))
	})
}

func TestFromAny(t *testing.T) {
	v, err := FromAny(map[string]any{
		"version": 3,
		"issuer":  "Nodity CA",
		"tags":    []any{"root", true, nil, 1.5},
	})
	require.NoError(t, err)

	want := mustDecode(t, `{"issuer":"Nodity CA","tags":["root",true,null,1.5],"version":3}`)
	require.True(t, Equal(want, v))

	_, err = FromAny(struct{}{})
	require.Error(t, err)
}
