// Package money holds the currency helpers shared by the billing engine.
// Every amount is a shopspring decimal; rounding is half away from zero to
// the cent so that independent implementations agree on every figure.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Scale is the number of decimal places kept on settled amounts.
const Scale = 2

// Zero is the zero amount.
var Zero = decimal.Zero

// Round rounds d to the cent, half away from zero.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Scale)
}

// Parse reads a decimal amount from its string form.
func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return d, nil
}

// MustParse is Parse for literals known to be valid.
func MustParse(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// Min returns the smaller of a and b.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// Sum adds all amounts.
func Sum(amounts ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}

// IsCents reports whether d carries no more than two decimal places.
func IsCents(d decimal.Decimal) bool {
	return d.Equal(d.Round(Scale))
}

// Format renders d with exactly two decimal places.
func Format(d decimal.Decimal) string {
	return d.StringFixed(Scale)
}
