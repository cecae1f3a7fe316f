package repository

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"tienda/internal/model"
)

// productRepository implements ProductRepository using PostgreSQL.
type productRepository struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewProductRepository creates a new PostgreSQL-backed product repository.
func NewProductRepository(pool *pgxpool.Pool, logger zerolog.Logger) ProductRepository {
	return &productRepository{
		pool:   pool,
		logger: logger.With().Str("repository", "product").Logger(),
	}
}

// GetByIDs retrieves products by id.
func (r *productRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]model.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `
		SELECT id, name, price, stock, track_stock, created_at
		FROM products
		WHERE id = ANY($1)
	`

	rows, err := r.pool.Query(ctx, query, ids)
	if err != nil {
		r.logger.Error().Err(err).Int("id_count", len(ids)).Msg("failed to query products")
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	var products []model.Product
	for rows.Next() {
		var p model.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.Stock, &p.TrackStock, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating products: %w", err)
	}

	return products, nil
}

// GetVariant retrieves a single variant.
func (r *productRepository) GetVariant(ctx context.Context, id uuid.UUID) (*model.ProductVariant, error) {
	query := `
		SELECT id, product_id, name, price, stock
		FROM product_variants
		WHERE id = $1
	`

	var v model.ProductVariant
	err := r.pool.QueryRow(ctx, query, id).Scan(&v.ID, &v.ProductID, &v.Name, &v.Price, &v.Stock)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.NewNotFoundError("variant", id.String())
		}
		return nil, fmt.Errorf("failed to query variant: %w", err)
	}
	return &v, nil
}

// lockOrder returns the items sorted by product then variant id. Every
// caller that takes FOR UPDATE locks walks items in this order, so two
// transactions over the same products can never lock them in opposite
// directions and deadlock.
func lockOrder(items []model.OrderItem) []model.OrderItem {
	sorted := slices.Clone(items)
	slices.SortFunc(sorted, func(a, b model.OrderItem) int {
		if c := bytes.Compare(a.ProductID[:], b.ProductID[:]); c != 0 {
			return c
		}
		switch {
		case a.VariantID == nil && b.VariantID == nil:
			return 0
		case a.VariantID == nil:
			return -1
		case b.VariantID == nil:
			return 1
		}
		return bytes.Compare(a.VariantID[:], b.VariantID[:])
	})
	return sorted
}

// Reserve decrements stock for every item within tx. The reservation is
// all-or-nothing: the first shortfall aborts with InsufficientStockError
// and the caller's rollback discards any decrement already applied.
func (r *productRepository) Reserve(ctx context.Context, tx pgx.Tx, items []model.OrderItem) error {
	for _, item := range lockOrder(items) {
		var (
			name       string
			trackStock bool
			available  int
		)

		// Lock the product row first so concurrent reservations for the
		// same product serialize.
		err := tx.QueryRow(ctx, `
			SELECT name, track_stock, stock FROM products WHERE id = $1 FOR UPDATE
		`, item.ProductID).Scan(&name, &trackStock, &available)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return model.NewNotFoundError("product", item.ProductID.String())
			}
			r.logger.Error().Err(err).Str("product_id", item.ProductID.String()).Msg("failed to lock product")
			return fmt.Errorf("failed to lock product: %w", err)
		}

		if !trackStock {
			continue
		}

		if item.VariantID != nil {
			err := tx.QueryRow(ctx, `
				SELECT stock FROM product_variants WHERE id = $1 FOR UPDATE
			`, *item.VariantID).Scan(&available)
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return model.NewNotFoundError("variant", item.VariantID.String())
				}
				return fmt.Errorf("failed to lock variant: %w", err)
			}
		}

		if available < item.Quantity {
			r.logger.Warn().
				Str("product", name).
				Int("requested", item.Quantity).
				Int("available", available).
				Msg("insufficient stock")
			return &model.InsufficientStockError{
				ProductName: name,
				Requested:   item.Quantity,
				Available:   available,
			}
		}

		if err := r.adjustStock(ctx, tx, item, -item.Quantity); err != nil {
			return err
		}
	}

	r.logger.Debug().Int("item_count", len(items)).Msg("stock reserved")
	return nil
}

// Release increments stock back for every item within tx. Idempotence is
// guarded upstream by the order's stock_released_at stamp.
func (r *productRepository) Release(ctx context.Context, tx pgx.Tx, items []model.OrderItem) error {
	for _, item := range lockOrder(items) {
		var trackStock bool
		err := tx.QueryRow(ctx, `
			SELECT track_stock FROM products WHERE id = $1 FOR UPDATE
		`, item.ProductID).Scan(&trackStock)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return model.NewNotFoundError("product", item.ProductID.String())
			}
			return fmt.Errorf("failed to lock product: %w", err)
		}

		if !trackStock {
			continue
		}

		if err := r.adjustStock(ctx, tx, item, item.Quantity); err != nil {
			return err
		}
	}

	r.logger.Debug().Int("item_count", len(items)).Msg("stock released")
	return nil
}

func (r *productRepository) adjustStock(ctx context.Context, tx pgx.Tx, item model.OrderItem, delta int) error {
	var tag string
	var err error
	if item.VariantID != nil {
		_, err = tx.Exec(ctx,
			`UPDATE product_variants SET stock = stock + $1 WHERE id = $2`, delta, *item.VariantID)
		tag = "variant"
	} else {
		_, err = tx.Exec(ctx,
			`UPDATE products SET stock = stock + $1 WHERE id = $2`, delta, item.ProductID)
		tag = "product"
	}
	if err != nil {
		r.logger.Error().
			Err(err).
			Str("product_id", item.ProductID.String()).
			Int("delta", delta).
			Msg("failed to adjust " + tag + " stock")
		return fmt.Errorf("failed to adjust stock: %w", err)
	}
	return nil
}
