package model

import (
	"time"

	"github.com/google/uuid"

	"tienda/internal/money"
)

// DiscountType selects how a coupon discount is computed.
type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

// Coupon is a discount code with a validity window and usage cap.
type Coupon struct {
	ID             uuid.UUID    `json:"id" db:"id"`
	Code           string       `json:"code" db:"code"`
	DiscountType   DiscountType `json:"discountType" db:"discount_type"`
	DiscountValue  money.Money  `json:"discountValue" db:"discount_value"`
	MinOrderAmount money.Money  `json:"minOrderAmount" db:"min_order_amount"`
	UsageLimit     *int         `json:"usageLimit,omitempty" db:"usage_limit"`
	UsedCount      int          `json:"usedCount" db:"used_count"`
	ValidFrom      *time.Time   `json:"validFrom,omitempty" db:"valid_from"`
	ValidUntil     *time.Time   `json:"validUntil,omitempty" db:"valid_until"`
	Active         bool         `json:"active" db:"active"`
	CreatedAt      time.Time    `json:"createdAt" db:"created_at"`
}

// InWindow reports whether the coupon is inside its validity window at t.
func (c *Coupon) InWindow(t time.Time) bool {
	if c.ValidFrom != nil && t.Before(*c.ValidFrom) {
		return false
	}
	if c.ValidUntil != nil && t.After(*c.ValidUntil) {
		return false
	}
	return true
}

// Exhausted reports whether the usage cap has been reached.
func (c *Coupon) Exhausted() bool {
	return c.UsageLimit != nil && c.UsedCount >= *c.UsageLimit
}

// CouponUsage records which order consumed which coupon. Append-only; at
// most one row per (coupon, order) pair.
type CouponUsage struct {
	ID        uuid.UUID `json:"-" db:"id"`
	CouponID  uuid.UUID `json:"couponId" db:"coupon_id"`
	OrderID   uuid.UUID `json:"orderId" db:"order_id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}
