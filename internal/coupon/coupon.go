// Package coupon validates discount codes against DB-backed coupon rules
// and supports bulk import of code lists from gzipped files, locally or
// from S3.
package coupon

import (
	"context"

	"tienda/internal/model"
	"tienda/internal/money"
)

// Validator checks a coupon code against an order subtotal.
type Validator interface {
	// Validate returns the coupon when the code is active, inside its
	// validity window, under its usage cap, and the subtotal meets the
	// coupon minimum. Business failures return the coupon errors from
	// the model package.
	Validate(ctx context.Context, code string, subtotal money.Money) (*model.Coupon, error)
}

// Loader reads a gzipped coupon code file, one code per line.
type Loader interface {
	Load(ctx context.Context, path string) ([]string, error)
}

// Discount computes the amount a coupon takes off the given subtotal.
// Percentage discounts round half-up at two decimals; the result is
// capped at the subtotal so totals never go negative.
func Discount(c *model.Coupon, subtotal money.Money) money.Money {
	var d money.Money
	switch c.DiscountType {
	case model.DiscountPercentage:
		d = subtotal.Percent(c.DiscountValue)
	case model.DiscountFixed:
		d = c.DiscountValue
	default:
		return money.Zero()
	}

	if d.Cmp(subtotal) > 0 {
		return subtotal
	}
	return d
}
