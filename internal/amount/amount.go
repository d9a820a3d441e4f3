// Package amount implements the TALER amount encoding used throughout
// the Anastasis provider: a currency code, an integer value, and a
// fraction in units of 1/1e8.
package amount

import (
	"fmt"
	"strconv"
	"strings"
)

// FractionalDigits is the number of fractional decimal digits TALER
// amounts carry (1 unit = 1e8 fraction).
const FractionalDigits = 8

const fractionBase = 100000000

// Amount is a TALER amount: currency, integer value, fraction (1e-8 units).
type Amount struct {
	Currency string
	Value    uint64
	Fraction uint32
}

// Zero returns the zero amount in the given currency.
func Zero(currency string) Amount {
	return Amount{Currency: currency}
}

// Parse parses strings of the form "CURRENCY:VALUE[.FRACTION]", e.g.
// "EUR:1", "EUR:0.50000000".
func Parse(s string) (Amount, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return Amount{}, fmt.Errorf("amount: invalid format %q, expected CURRENCY:VALUE", s)
	}
	currency := strings.TrimSpace(parts[0])
	if currency == "" {
		return Amount{}, fmt.Errorf("amount: missing currency in %q", s)
	}

	numeric := parts[1]
	var intPart, fracPart string
	if dot := strings.IndexByte(numeric, '.'); dot >= 0 {
		intPart, fracPart = numeric[:dot], numeric[dot+1:]
	} else {
		intPart = numeric
	}

	value, err := strconv.ParseUint(intPart, 10, 64)
	if err != nil {
		return Amount{}, fmt.Errorf("amount: invalid value in %q: %w", s, err)
	}

	var fraction uint32
	if fracPart != "" {
		if len(fracPart) > FractionalDigits {
			fracPart = fracPart[:FractionalDigits]
		}
		for len(fracPart) < FractionalDigits {
			fracPart += "0"
		}
		f, err := strconv.ParseUint(fracPart, 10, 32)
		if err != nil {
			return Amount{}, fmt.Errorf("amount: invalid fraction in %q: %w", s, err)
		}
		fraction = uint32(f)
	}

	return Amount{Currency: currency, Value: value, Fraction: fraction}, nil
}

// MustParse is like Parse but panics on error; intended for
// configuration defaults known to be valid at compile time.
func MustParse(s string) Amount {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// String renders the amount back in "CURRENCY:VALUE.FRACTION" form.
func (a Amount) String() string {
	if a.Fraction == 0 {
		return fmt.Sprintf("%s:%d", a.Currency, a.Value)
	}
	return fmt.Sprintf("%s:%d.%08d", a.Currency, a.Value, a.Fraction)
}

// IsZero reports whether the amount has zero value and fraction.
func (a Amount) IsZero() bool {
	return a.Value == 0 && a.Fraction == 0
}

// normalized returns the amount as a (value, fraction) pair with any
// whole units in Fraction carried into Value (fraction always <
// fractionBase).
func (a Amount) normalized() (value uint64, fraction uint32) {
	value = a.Value
	fraction = a.Fraction
	for fraction >= fractionBase {
		fraction -= fractionBase
		value++
	}
	return value, fraction
}

// Add returns a+b. Both amounts must share the same currency.
func Add(a, b Amount) (Amount, error) {
	if a.Currency != b.Currency {
		return Amount{}, fmt.Errorf("amount: currency mismatch %q vs %q", a.Currency, b.Currency)
	}
	av, af := a.normalized()
	bv, bf := b.normalized()
	sum := uint64(af) + uint64(bf)
	carry := uint64(0)
	if sum >= fractionBase {
		sum -= fractionBase
		carry = 1
	}
	return Amount{Currency: a.Currency, Value: av + bv + carry, Fraction: uint32(sum)}, nil
}

// Cmp compares a and b, both of which must share the same currency.
// It returns -1, 0, or 1 as a is less than, equal to, or greater than b.
func Cmp(a, b Amount) (int, error) {
	if a.Currency != b.Currency {
		return 0, fmt.Errorf("amount: currency mismatch %q vs %q", a.Currency, b.Currency)
	}
	av, af := a.normalized()
	bv, bf := b.normalized()
	switch {
	case av != bv:
		if av < bv {
			return -1, nil
		}
		return 1, nil
	case af != bf:
		if af < bf {
			return -1, nil
		}
		return 1, nil
	default:
		return 0, nil
	}
}
