// Package money provides fixed-point monetary arithmetic for prices and
// order totals. All values are handled at two decimal places; rounding is
// always half-up so tax computation matches invoice expectations.
package money

import (
	"database/sql/driver"
	"fmt"

	"github.com/shopspring/decimal"
)

// Money is a fixed-point monetary amount. The zero value is 0.00.
type Money struct {
	d decimal.Decimal
}

// Zero returns a zero amount.
func Zero() Money {
	return Money{}
}

// FromString parses a decimal string (e.g. "33.33") into a Money value.
func FromString(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("invalid money amount %q: %w", s, err)
	}
	return Money{d: d.Round(2)}, nil
}

// MustFromString is FromString that panics on malformed input. Intended for
// constants and tests, not for request data.
func MustFromString(s string) Money {
	m, err := FromString(s)
	if err != nil {
		panic(err)
	}
	return m
}

// FromCents builds a Money value from an integer number of cents.
func FromCents(cents int64) Money {
	return Money{d: decimal.New(cents, -2)}
}

// Add returns m + other.
func (m Money) Add(other Money) Money {
	return Money{d: m.d.Add(other.d)}
}

// Sub returns m - other.
func (m Money) Sub(other Money) Money {
	return Money{d: m.d.Sub(other.d)}
}

// MulInt returns m multiplied by a quantity.
func (m Money) MulInt(qty int) Money {
	return Money{d: m.d.Mul(decimal.NewFromInt(int64(qty)))}
}

// Percent returns the given percentage of m, rounded half-up at two
// decimal places.
func (m Money) Percent(ratePercent Money) Money {
	rate := ratePercent.d.Div(decimal.NewFromInt(100))
	return Money{d: m.d.Mul(rate).Round(2)}
}

// TaxAt computes the tax portion of m at the given percentage rate.
func (m Money) TaxAt(ratePercent Money) Money {
	return m.Percent(ratePercent)
}

// Round2 returns m rounded half-up to two decimal places.
func (m Money) Round2() Money {
	return Money{d: m.d.Round(2)}
}

// Cmp compares two amounts: -1 if m < other, 0 if equal, +1 if m > other.
func (m Money) Cmp(other Money) int {
	return m.d.Cmp(other.d)
}

// Equal reports whether two amounts are numerically equal.
func (m Money) Equal(other Money) bool {
	return m.d.Equal(other.d)
}

// IsZero reports whether the amount is zero.
func (m Money) IsZero() bool {
	return m.d.IsZero()
}

// IsNegative reports whether the amount is below zero.
func (m Money) IsNegative() bool {
	return m.d.IsNegative()
}

// IsPositive reports whether the amount is above zero.
func (m Money) IsPositive() bool {
	return m.d.IsPositive()
}

// String renders the amount with exactly two decimal places.
func (m Money) String() string {
	return m.d.StringFixed(2)
}

// Float64 returns the amount as a float. Only for gateway payloads that
// require JSON numbers; never used for internal arithmetic.
func (m Money) Float64() float64 {
	f, _ := m.d.Float64()
	return f
}

// Cents returns the amount as an integer number of cents.
func (m Money) Cents() int64 {
	return m.d.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// MarshalJSON renders the amount as a JSON string with two decimals.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.String() + `"`), nil
}

// UnmarshalJSON accepts both string and number representations.
func (m *Money) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("invalid money amount %q: %w", s, err)
	}
	m.d = d.Round(2)
	return nil
}

// Value implements driver.Valuer so Money maps to NUMERIC columns.
func (m Money) Value() (driver.Value, error) {
	return m.String(), nil
}

// Scan implements sql.Scanner for NUMERIC columns.
func (m *Money) Scan(value any) error {
	var d decimal.Decimal
	if err := d.Scan(value); err != nil {
		return fmt.Errorf("scan money: %w", err)
	}
	m.d = d.Round(2)
	return nil
}
