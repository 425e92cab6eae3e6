// Package money implements the fixed-point decimal representation used
// for every balance and amount in the ledger. Values carry exactly four
// fractional digits and are stored internally as an int64 scaled by
// 10^4, so arithmetic never touches binary floating point.
package money

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Scale is the number of fractional digits carried by every value.
const Scale = 4

// factor is 10^Scale.
const factor = 10000

// maxIntegerDigits bounds the integer part so the scaled value cannot
// overflow int64. It matches the numeric(18,4) ledger columns.
const maxIntegerDigits = 14

var formatRegex = regexp.MustCompile(`^-?\d+(?:\.\d{1,4})?$`)

// Money is a fixed-point decimal amount. The zero value is 0.0000.
type Money struct {
	scaled int64
}

// Zero is the 0.0000 value.
var Zero = Money{}

// ErrInvalidFormat is returned by Parse for strings that do not match
// the accepted money format, including amounts with more than four
// fractional digits (callers must reject those, not round them).
var ErrInvalidFormat = fmt.Errorf("money: invalid format")

// Parse validates and normalizes a decimal string. Fewer than four
// fractional digits are zero-padded; more than four is an error.
func Parse(value string) (Money, error) {
	if !formatRegex.MatchString(value) {
		return Zero, ErrInvalidFormat
	}

	negative := strings.HasPrefix(value, "-")
	value = strings.TrimPrefix(value, "-")

	intPart := value
	fracPart := ""
	if i := strings.IndexByte(value, '.'); i >= 0 {
		intPart = value[:i]
		fracPart = value[i+1:]
	}
	if len(strings.TrimLeft(intPart, "0")) > maxIntegerDigits {
		return Zero, ErrInvalidFormat
	}
	for len(fracPart) < Scale {
		fracPart += "0"
	}

	units, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return Zero, ErrInvalidFormat
	}
	frac, err := strconv.ParseInt(fracPart, 10, 64)
	if err != nil {
		return Zero, ErrInvalidFormat
	}

	scaled := units*factor + frac
	if negative {
		scaled = -scaled
	}
	return Money{scaled: scaled}, nil
}

// MustParse is Parse for trusted constants. It panics on error.
func MustParse(value string) Money {
	m, err := Parse(value)
	if err != nil {
		panic(fmt.Sprintf("money: %q: %v", value, err))
	}
	return m
}

// FromScaled builds a Money from an integer already scaled by 10^4.
func FromScaled(scaled int64) Money {
	return Money{scaled: scaled}
}

// Scaled returns the underlying integer scaled by 10^4.
func (m Money) Scaled() int64 {
	return m.scaled
}

// String renders the canonical form: optional sign, integer digits with
// no leading zeros, a dot, exactly four fractional digits.
func (m Money) String() string {
	scaled := m.scaled
	sign := ""
	if scaled < 0 {
		sign = "-"
		scaled = -scaled
	}
	return fmt.Sprintf("%s%d.%04d", sign, scaled/factor, scaled%factor)
}

// Add returns m + other.
func (m Money) Add(other Money) Money {
	return Money{scaled: m.scaled + other.scaled}
}

// Sub returns m - other.
func (m Money) Sub(other Money) Money {
	return Money{scaled: m.scaled - other.scaled}
}

// Compare returns -1, 0 or 1.
func (m Money) Compare(other Money) int {
	switch {
	case m.scaled < other.scaled:
		return -1
	case m.scaled > other.scaled:
		return 1
	default:
		return 0
	}
}

// IsPositive reports whether m is strictly greater than zero.
func (m Money) IsPositive() bool {
	return m.scaled > 0
}

// IsNegative reports whether m is strictly less than zero.
func (m Money) IsNegative() bool {
	return m.scaled < 0
}

// MarshalJSON renders the canonical string form.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON parses a canonical (or parseable) string form.
func (m *Money) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
