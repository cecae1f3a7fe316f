package coupon

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"tienda/internal/model"
	"tienda/internal/money"
	"tienda/internal/repository"
)

// validator implements Validator against the coupon repository.
type validator struct {
	repo   repository.CouponRepository
	now    func() time.Time
	logger zerolog.Logger
}

// NewValidator creates a coupon validator.
func NewValidator(repo repository.CouponRepository, logger zerolog.Logger) Validator {
	return &validator{
		repo:   repo,
		now:    time.Now,
		logger: logger.With().Str("component", "coupon-validator").Logger(),
	}
}

// Validate checks code against the coupon rules for the given subtotal.
func (v *validator) Validate(ctx context.Context, code string, subtotal money.Money) (*model.Coupon, error) {
	c, err := v.repo.GetActiveByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to look up coupon: %w", err)
	}
	if c == nil {
		v.logger.Debug().Str("code", code).Msg("coupon not found or inactive")
		return nil, model.ErrCouponInvalid
	}

	if !c.InWindow(v.now()) {
		v.logger.Debug().Str("code", code).Msg("coupon outside validity window")
		return nil, model.ErrCouponInvalid
	}

	if c.Exhausted() {
		v.logger.Debug().
			Str("code", code).
			Int("used_count", c.UsedCount).
			Msg("coupon usage limit reached")
		return nil, model.ErrCouponExhausted
	}

	if subtotal.Cmp(c.MinOrderAmount) < 0 {
		v.logger.Debug().
			Str("code", code).
			Str("subtotal", subtotal.String()).
			Str("minimum", c.MinOrderAmount.String()).
			Msg("subtotal below coupon minimum")
		return nil, model.ErrCouponMinAmount
	}

	return c, nil
}
