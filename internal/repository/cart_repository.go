package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"tienda/internal/model"
)

// cartRepository implements CartRepository using PostgreSQL.
type cartRepository struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewCartRepository creates a new PostgreSQL-backed cart repository.
func NewCartRepository(pool *pgxpool.Pool, logger zerolog.Logger) CartRepository {
	return &cartRepository{
		pool:   pool,
		logger: logger.With().Str("repository", "cart").Logger(),
	}
}

// GetOrCreateForUser returns the user's cart, creating it if absent.
func (r *cartRepository) GetOrCreateForUser(ctx context.Context, userID uuid.UUID) (*model.Cart, error) {
	query := `
		INSERT INTO carts (id, user_id, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		ON CONFLICT (user_id) WHERE user_id IS NOT NULL DO UPDATE SET updated_at = NOW()
		RETURNING id, user_id, session_id, expires_at, created_at, updated_at
	`

	cart, err := r.scanCart(r.pool.QueryRow(ctx, query, uuid.New(), userID))
	if err != nil {
		r.logger.Error().Err(err).Str("user_id", userID.String()).Msg("failed to get or create user cart")
		return nil, fmt.Errorf("failed to get or create cart: %w", err)
	}

	if err := r.loadItems(ctx, cart); err != nil {
		return nil, err
	}
	return cart, nil
}

// GetOrCreateForSession returns the session cart, creating it with the
// configured TTL if absent. Reads slide the expiry forward.
func (r *cartRepository) GetOrCreateForSession(ctx context.Context, sessionID string, ttl time.Duration) (*model.Cart, error) {
	expires := time.Now().Add(ttl)
	query := `
		INSERT INTO carts (id, session_id, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (session_id) WHERE session_id IS NOT NULL
		DO UPDATE SET expires_at = $3, updated_at = NOW()
		RETURNING id, user_id, session_id, expires_at, created_at, updated_at
	`

	cart, err := r.scanCart(r.pool.QueryRow(ctx, query, uuid.New(), sessionID, expires))
	if err != nil {
		r.logger.Error().Err(err).Str("session_id", sessionID).Msg("failed to get or create session cart")
		return nil, fmt.Errorf("failed to get or create cart: %w", err)
	}

	if err := r.loadItems(ctx, cart); err != nil {
		return nil, err
	}
	return cart, nil
}

// GetByID retrieves a cart with its items.
func (r *cartRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Cart, error) {
	query := `
		SELECT id, user_id, session_id, expires_at, created_at, updated_at
		FROM carts
		WHERE id = $1
	`

	cart, err := r.scanCart(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.NewNotFoundError("cart", id.String())
		}
		r.logger.Error().Err(err).Str("cart_id", id.String()).Msg("failed to query cart")
		return nil, fmt.Errorf("failed to query cart: %w", err)
	}

	if err := r.loadItems(ctx, cart); err != nil {
		return nil, err
	}
	return cart, nil
}

// UpsertItem inserts a new line or replaces the quantity of an existing
// one. Merging on login is the only place quantities are summed.
func (r *cartRepository) UpsertItem(ctx context.Context, cartID uuid.UUID, item model.CartItem) error {
	query := `
		INSERT INTO cart_items (id, cart_id, product_id, variant_id, quantity)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (cart_id, product_id, variant_id)
		DO UPDATE SET quantity = EXCLUDED.quantity
	`

	_, err := r.pool.Exec(ctx, query, uuid.New(), cartID, item.ProductID, item.VariantID, item.Quantity)
	if err != nil {
		r.logger.Error().
			Err(err).
			Str("cart_id", cartID.String()).
			Str("product_id", item.ProductID.String()).
			Msg("failed to upsert cart item")
		return fmt.Errorf("failed to upsert cart item: %w", err)
	}
	return nil
}

// RemoveItem deletes one line from the cart.
func (r *cartRepository) RemoveItem(ctx context.Context, cartID, productID uuid.UUID, variantID *uuid.UUID) error {
	query := `
		DELETE FROM cart_items
		WHERE cart_id = $1 AND product_id = $2 AND variant_id IS NOT DISTINCT FROM $3
	`

	_, err := r.pool.Exec(ctx, query, cartID, productID, variantID)
	if err != nil {
		r.logger.Error().Err(err).Str("cart_id", cartID.String()).Msg("failed to remove cart item")
		return fmt.Errorf("failed to remove cart item: %w", err)
	}
	return nil
}

// Clear removes every item but keeps the cart row; the cart survives
// checkout empty rather than being deleted.
func (r *cartRepository) Clear(ctx context.Context, cartID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, cartID)
	if err != nil {
		r.logger.Error().Err(err).Str("cart_id", cartID.String()).Msg("failed to clear cart")
		return fmt.Errorf("failed to clear cart: %w", err)
	}
	return nil
}

// MergeSessionIntoUser folds a session cart into the user's cart on login.
func (r *cartRepository) MergeSessionIntoUser(ctx context.Context, sessionID string, userID uuid.UUID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var sessionCartID uuid.UUID
	err = tx.QueryRow(ctx, `SELECT id FROM carts WHERE session_id = $1`, sessionID).Scan(&sessionCartID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Nothing to merge.
			return nil
		}
		return fmt.Errorf("failed to find session cart: %w", err)
	}

	var userCartID uuid.UUID
	err = tx.QueryRow(ctx, `
		INSERT INTO carts (id, user_id, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		ON CONFLICT (user_id) WHERE user_id IS NOT NULL DO UPDATE SET updated_at = NOW()
		RETURNING id
	`, uuid.New(), userID).Scan(&userCartID)
	if err != nil {
		return fmt.Errorf("failed to get or create user cart: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO cart_items (id, cart_id, product_id, variant_id, quantity)
		SELECT gen_random_uuid(), $1, product_id, variant_id, quantity
		FROM cart_items
		WHERE cart_id = $2
		ON CONFLICT (cart_id, product_id, variant_id)
		DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity
	`, userCartID, sessionCartID)
	if err != nil {
		return fmt.Errorf("failed to merge cart items: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, sessionCartID); err != nil {
		return fmt.Errorf("failed to clear session cart: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit cart merge: %w", err)
	}

	r.logger.Debug().
		Str("session_id", sessionID).
		Str("user_id", userID.String()).
		Msg("session cart merged into user cart")

	return nil
}

// DeleteExpired removes session carts past their TTL.
func (r *cartRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM carts WHERE session_id IS NOT NULL AND expires_at < $1`, now)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to delete expired carts")
		return 0, fmt.Errorf("failed to delete expired carts: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *cartRepository) scanCart(row pgx.Row) (*model.Cart, error) {
	var c model.Cart
	err := row.Scan(&c.ID, &c.UserID, &c.SessionID, &c.ExpiresAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *cartRepository) loadItems(ctx context.Context, c *model.Cart) error {
	rows, err := r.pool.Query(ctx, `
		SELECT id, cart_id, product_id, variant_id, quantity
		FROM cart_items
		WHERE cart_id = $1
		ORDER BY id
	`, c.ID)
	if err != nil {
		return fmt.Errorf("failed to query cart items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item model.CartItem
		if err := rows.Scan(&item.ID, &item.CartID, &item.ProductID, &item.VariantID, &item.Quantity); err != nil {
			return fmt.Errorf("failed to scan cart item: %w", err)
		}
		c.Items = append(c.Items, item)
	}
	return rows.Err()
}
