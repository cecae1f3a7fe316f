package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"tienda/internal/model"
)

// couponRepository implements CouponRepository using PostgreSQL.
type couponRepository struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewCouponRepository creates a new PostgreSQL-backed coupon repository.
func NewCouponRepository(pool *pgxpool.Pool, logger zerolog.Logger) CouponRepository {
	return &couponRepository{
		pool:   pool,
		logger: logger.With().Str("repository", "coupon").Logger(),
	}
}

// GetActiveByCode retrieves an active coupon by code, or nil when absent.
func (r *couponRepository) GetActiveByCode(ctx context.Context, code string) (*model.Coupon, error) {
	query := `
		SELECT id, code, discount_type, discount_value, min_order_amount,
		       usage_limit, used_count, valid_from, valid_until, active, created_at
		FROM coupons
		WHERE code = $1 AND active
	`

	var c model.Coupon
	err := r.pool.QueryRow(ctx, query, code).Scan(
		&c.ID, &c.Code, &c.DiscountType, &c.DiscountValue, &c.MinOrderAmount,
		&c.UsageLimit, &c.UsedCount, &c.ValidFrom, &c.ValidUntil, &c.Active, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		r.logger.Error().Err(err).Str("code", code).Msg("failed to query coupon")
		return nil, fmt.Errorf("failed to query coupon: %w", err)
	}

	return &c, nil
}

// RecordUsage appends a usage row and bumps the used counter within tx.
// The usage cap is re-checked against the locked row so concurrent
// checkouts cannot oversubscribe a coupon.
func (r *couponRepository) RecordUsage(ctx context.Context, tx pgx.Tx, couponID, orderID uuid.UUID) error {
	var usageLimit *int
	var usedCount int
	err := tx.QueryRow(ctx, `
		SELECT usage_limit, used_count FROM coupons WHERE id = $1 FOR UPDATE
	`, couponID).Scan(&usageLimit, &usedCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.NewNotFoundError("coupon", couponID.String())
		}
		return fmt.Errorf("failed to lock coupon: %w", err)
	}

	if usageLimit != nil && usedCount >= *usageLimit {
		return model.ErrCouponExhausted
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO coupon_usages (id, coupon_id, order_id, created_at)
		VALUES ($1, $2, $3, NOW())
	`, uuid.New(), couponID, orderID)
	if err != nil {
		var pgErr *pgconn.PgError
		// 23505 unique_violation on (coupon_id, order_id)
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return model.ErrCouponAlreadyUsed
		}
		r.logger.Error().
			Err(err).
			Str("coupon_id", couponID.String()).
			Str("order_id", orderID.String()).
			Msg("failed to record coupon usage")
		return fmt.Errorf("failed to record coupon usage: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE coupons SET used_count = used_count + 1 WHERE id = $1
	`, couponID); err != nil {
		return fmt.Errorf("failed to bump coupon usage count: %w", err)
	}

	return nil
}

// CreateBatch inserts imported coupons, skipping codes that already exist.
// Returns the number of rows actually inserted.
func (r *couponRepository) CreateBatch(ctx context.Context, coupons []model.Coupon) (int, error) {
	if len(coupons) == 0 {
		return 0, nil
	}

	query := `
		INSERT INTO coupons (id, code, discount_type, discount_value, min_order_amount,
		                     usage_limit, used_count, valid_from, valid_until, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		ON CONFLICT (code) DO NOTHING
	`

	batch := &pgx.Batch{}
	for _, c := range coupons {
		batch.Queue(query, c.ID, c.Code, c.DiscountType, c.DiscountValue, c.MinOrderAmount,
			c.UsageLimit, c.UsedCount, c.ValidFrom, c.ValidUntil, c.Active)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	inserted := 0
	for range coupons {
		tag, err := results.Exec()
		if err != nil {
			return inserted, fmt.Errorf("failed to insert coupon: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}

	r.logger.Info().
		Int("requested", len(coupons)).
		Int("inserted", inserted).
		Msg("coupon batch imported")

	return inserted, nil
}
