package jsonvalue

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cyberphone/json-canonicalization/go/src/webpki.org/jsoncanonicalizer"
)

// MaxIntegerDigits bounds the digits of an integer-valued number. 309 digits covers every
// integer up to the largest finite double.
const MaxIntegerDigits = 309

// normalizeNumber converts a JSON number literal into its canonical decimal text.
//
// The literal is read as an exact decimal. When its value is an integer, whatever the spelling
// ("100", "1e2", "100.00"), the exact digits are written with no point and no exponent, and
// "-0" becomes "0". Every other value is read as an IEEE-754 double and written with the
// ECMAScript Number.prototype.toString algorithm: shortest round-trip digits, no trailing zeros,
// and exponent notation only for magnitudes at or above 1e21 or below 1e-6.
func normalizeNumber(lit string) (string, error) {
	d, ok := parseDecimal(lit)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidNumber, lit)
	}

	if d.digits == "" {
		return "0", nil
	}

	if d.exp >= 0 {
		if int64(len(d.digits))+d.exp > MaxIntegerDigits {
			return "", fmt.Errorf("%w: %q has more than %d integer digits", ErrInvalidNumber, lit, MaxIntegerDigits)
		}
		var sb strings.Builder
		if d.neg {
			sb.WriteByte('-')
		}
		sb.WriteString(d.digits)
		sb.WriteString(strings.Repeat("0", int(d.exp)))
		return sb.String(), nil
	}

	f, err := strconv.ParseFloat(lit, 64)
	if err != nil {
		return "", fmt.Errorf("%w: %q out of range", ErrInvalidNumber, lit)
	}

	return formatFloat(f)
}

func formatFloat(f float64) (string, error) {
	text, err := jsoncanonicalizer.NumberToJSON(f)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidNumber, err)
	}
	return text, nil
}

// decimal is the exact value of a number literal: (-1)^neg * digits * 10^exp. digits has no
// leading or trailing zeros and is empty for zero.
type decimal struct {
	neg    bool
	digits string
	exp    int64
}

// exponentClamp keeps exponent arithmetic far from int64 overflow. Any exponent this large is
// rejected or underflows long before it matters.
const exponentClamp = 1 << 40

// parseDecimal validates lit against the JSON number grammar
//
//	-?(0|[1-9][0-9]*)(\.[0-9]+)?([eE][+-]?[0-9]+)?
//
// and returns its exact decimal value.
func parseDecimal(lit string) (decimal, bool) {
	var d decimal
	i := 0
	n := len(lit)

	if i < n && lit[i] == '-' {
		d.neg = true
		i++
	}
	if i >= n {
		return d, false
	}

	intStart := i
	switch {
	case lit[i] == '0':
		i++
	case lit[i] >= '1' && lit[i] <= '9':
		for i < n && isDigit(lit[i]) {
			i++
		}
	default:
		return d, false
	}
	intPart := lit[intStart:i]

	var fracPart string
	if i < n && lit[i] == '.' {
		i++
		start := i
		for i < n && isDigit(lit[i]) {
			i++
		}
		if i == start {
			return d, false
		}
		fracPart = lit[start:i]
	}

	var exp int64
	if i < n && (lit[i] == 'e' || lit[i] == 'E') {
		i++
		expNeg := false
		if i < n && (lit[i] == '+' || lit[i] == '-') {
			expNeg = lit[i] == '-'
			i++
		}
		start := i
		for i < n && isDigit(lit[i]) {
			if exp < exponentClamp {
				exp = exp*10 + int64(lit[i]-'0')
			}
			i++
		}
		if i == start {
			return d, false
		}
		if expNeg {
			exp = -exp
		}
	}

	if i != n {
		return d, false
	}

	digits := strings.TrimLeft(intPart+fracPart, "0")
	exp -= int64(len(fracPart))

	trimmed := strings.TrimRight(digits, "0")
	exp += int64(len(digits) - len(trimmed))

	d.digits = trimmed
	d.exp = exp
	if d.digits == "" {
		d.neg = false
	}
	return d, true
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
