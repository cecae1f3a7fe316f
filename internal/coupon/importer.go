package coupon

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tienda/internal/model"
	"tienda/internal/money"
	"tienda/internal/repository"
)

// ImportRule is the coupon definition applied to every imported code.
type ImportRule struct {
	DiscountType   model.DiscountType
	DiscountValue  money.Money
	MinOrderAmount money.Money
	UsageLimit     *int
	ValidFrom      *time.Time
	ValidUntil     *time.Time
}

// Importer turns bulk code files into coupon rows.
type Importer struct {
	repo   repository.CouponRepository
	loader Loader
	logger zerolog.Logger
}

// NewImporter creates a coupon importer.
func NewImporter(repo repository.CouponRepository, loader Loader, logger zerolog.Logger) *Importer {
	return &Importer{
		repo:   repo,
		loader: loader,
		logger: logger.With().Str("component", "coupon-importer").Logger(),
	}
}

// Import loads a code file and inserts one coupon per code under the
// given rule. Codes already present are skipped; returns the number of
// coupons actually created.
func (i *Importer) Import(ctx context.Context, path string, rule ImportRule) (int, error) {
	codes, err := i.loader.Load(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("failed to load coupon codes: %w", err)
	}
	if len(codes) == 0 {
		return 0, nil
	}

	coupons := make([]model.Coupon, 0, len(codes))
	for _, code := range codes {
		coupons = append(coupons, model.Coupon{
			ID:             uuid.New(),
			Code:           code,
			DiscountType:   rule.DiscountType,
			DiscountValue:  rule.DiscountValue,
			MinOrderAmount: rule.MinOrderAmount,
			UsageLimit:     rule.UsageLimit,
			ValidFrom:      rule.ValidFrom,
			ValidUntil:     rule.ValidUntil,
			Active:         true,
		})
	}

	inserted, err := i.repo.CreateBatch(ctx, coupons)
	if err != nil {
		return inserted, fmt.Errorf("failed to import coupons: %w", err)
	}

	i.logger.Info().
		Str("path", path).
		Int("codes", len(codes)).
		Int("created", inserted).
		Msg("coupon import finished")

	return inserted, nil
}
