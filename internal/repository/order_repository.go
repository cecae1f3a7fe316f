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
	"tienda/internal/order"
)

// orderRepository implements OrderRepository using PostgreSQL.
type orderRepository struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewOrderRepository creates a new PostgreSQL-backed order repository.
func NewOrderRepository(pool *pgxpool.Pool, logger zerolog.Logger) OrderRepository {
	return &orderRepository{
		pool:   pool,
		logger: logger.With().Str("repository", "order").Logger(),
	}
}

// BeginTx starts a new database transaction.
func (r *orderRepository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to begin transaction")
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return tx, nil
}

const orderColumns = `id, order_number, user_id, status, payment_status, payment_method,
	subtotal, shipping_cost, discount, tax, total, coupon_code, notes, tracking_number,
	shipping_address, billing_address, paid_at, stock_released_at, reminder_sent_at,
	created_at, updated_at`

// Create inserts the order, its items and the initial history row.
func (r *orderRepository) Create(ctx context.Context, tx pgx.Tx, o *model.Order) error {
	query := `
		INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
	`

	_, err := tx.Exec(ctx, query,
		o.ID, o.OrderNumber, o.UserID, o.Status, o.PaymentStatus, o.PaymentMethod,
		o.Subtotal, o.ShippingCost, o.Discount, o.Tax, o.Total, o.CouponCode, o.Notes, o.TrackingNumber,
		o.ShippingAddress, o.BillingAddress, o.PaidAt, o.StockReleasedAt, o.ReminderSentAt,
		o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		r.logger.Error().
			Err(err).
			Str("order_id", o.ID.String()).
			Msg("failed to create order")
		return fmt.Errorf("failed to create order: %w", err)
	}

	if len(o.Items) > 0 {
		itemQuery := `
			INSERT INTO order_items (id, order_id, product_id, variant_id, product_name, unit_price, quantity, subtotal)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`
		batch := &pgx.Batch{}
		for _, item := range o.Items {
			batch.Queue(itemQuery, item.ID, item.OrderID, item.ProductID, item.VariantID,
				item.ProductName, item.UnitPrice, item.Quantity, item.Subtotal)
		}

		results := tx.SendBatch(ctx, batch)
		defer results.Close()

		for i := 0; i < len(o.Items); i++ {
			if _, err := results.Exec(); err != nil {
				r.logger.Error().
					Err(err).
					Str("order_id", o.ID.String()).
					Str("product_id", o.Items[i].ProductID.String()).
					Msg("failed to create order item")
				return fmt.Errorf("failed to create order item: %w", err)
			}
		}
	}

	if err := r.appendHistory(ctx, tx, o.ID, model.HistoryOrderCreated, model.ActorSystem, o.CreatedAt); err != nil {
		return err
	}

	r.logger.Debug().
		Str("order_id", o.ID.String()).
		Str("order_number", o.OrderNumber).
		Int("item_count", len(o.Items)).
		Msg("order created")

	return nil
}

// GetByID retrieves an order with its items.
func (r *orderRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	o, err := r.scanOrder(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.NewNotFoundError("order", id.String())
		}
		r.logger.Error().Err(err).Str("order_id", id.String()).Msg("failed to query order")
		return nil, fmt.Errorf("failed to query order: %w", err)
	}

	if err := r.loadItems(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

// GetByNumber retrieves an order by its human-readable number.
func (r *orderRepository) GetByNumber(ctx context.Context, number string) (*model.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE order_number = $1`

	o, err := r.scanOrder(r.pool.QueryRow(ctx, query, number))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.NewNotFoundError("order", number)
		}
		r.logger.Error().Err(err).Str("order_number", number).Msg("failed to query order")
		return nil, fmt.Errorf("failed to query order: %w", err)
	}

	if err := r.loadItems(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

// GetByIDForUpdate retrieves an order under a row lock. Items are loaded
// too since cancellation paths need them for the stock release.
func (r *orderRepository) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*model.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 FOR UPDATE`

	o, err := r.scanOrder(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.NewNotFoundError("order", id.String())
		}
		r.logger.Error().Err(err).Str("order_id", id.String()).Msg("failed to lock order")
		return nil, fmt.Errorf("failed to lock order: %w", err)
	}

	if err := r.loadItemsTx(ctx, tx, o); err != nil {
		return nil, err
	}
	return o, nil
}

// ApplyTransition persists a state machine outcome plus its history row.
func (r *orderRepository) ApplyTransition(ctx context.Context, tx pgx.Tx, o *model.Order, out order.Outcome, actor string) error {
	if out.Noop {
		return fmt.Errorf("refusing to persist a no-op transition for order %s", o.ID)
	}

	now := time.Now()

	query := `
		UPDATE orders
		SET status = $1,
		    payment_status = $2,
		    paid_at = CASE WHEN $3 THEN COALESCE(paid_at, $4) ELSE paid_at END,
		    stock_released_at = CASE WHEN $5 THEN COALESCE(stock_released_at, $4) ELSE stock_released_at END,
		    updated_at = $4
		WHERE id = $6
	`

	tag, err := tx.Exec(ctx, query,
		out.Status, out.PaymentStatus, out.SetPaidAt, now, out.ReleaseStock, o.ID)
	if err != nil {
		r.logger.Error().
			Err(err).
			Str("order_id", o.ID.String()).
			Str("status", string(out.Status)).
			Str("payment_status", string(out.PaymentStatus)).
			Msg("failed to persist transition")
		return fmt.Errorf("failed to persist transition: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewNotFoundError("order", o.ID.String())
	}

	if err := r.appendHistory(ctx, tx, o.ID, out.HistoryLabel, actor, now); err != nil {
		return err
	}

	// Reflect the write back into the caller's snapshot.
	o.Status = out.Status
	o.PaymentStatus = out.PaymentStatus
	if out.SetPaidAt && o.PaidAt == nil {
		o.PaidAt = &now
	}
	if out.ReleaseStock && o.StockReleasedAt == nil {
		o.StockReleasedAt = &now
	}
	o.UpdatedAt = now

	r.logger.Debug().
		Str("order_id", o.ID.String()).
		Str("status", string(out.Status)).
		Str("payment_status", string(out.PaymentStatus)).
		Str("label", out.HistoryLabel).
		Msg("transition persisted")

	return nil
}

// History returns the append-only audit trail, oldest first.
func (r *orderRepository) History(ctx context.Context, orderID uuid.UUID) ([]model.OrderStatusHistory, error) {
	query := `
		SELECT id, order_id, label, actor, created_at
		FROM order_status_history
		WHERE order_id = $1
		ORDER BY id
	`

	rows, err := r.pool.Query(ctx, query, orderID)
	if err != nil {
		r.logger.Error().Err(err).Str("order_id", orderID.String()).Msg("failed to query history")
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var entries []model.OrderStatusHistory
	for rows.Next() {
		var h model.OrderStatusHistory
		if err := rows.Scan(&h.ID, &h.OrderID, &h.Label, &h.Actor, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		entries = append(entries, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history rows: %w", err)
	}

	return entries, nil
}

// ListExpired returns pending/pending orders older than cutoff.
func (r *orderRepository) ListExpired(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	query := `
		SELECT id FROM orders
		WHERE status = $1 AND payment_status = $2 AND created_at < $3
		ORDER BY created_at
		LIMIT $4
	`
	return r.listIDs(ctx, query, model.OrderStatusPending, model.PaymentStatusPending, cutoff, limit)
}

// ListForReminder returns pending/pending orders older than cutoff with no
// reminder sent yet.
func (r *orderRepository) ListForReminder(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	query := `
		SELECT id FROM orders
		WHERE status = $1 AND payment_status = $2 AND created_at < $3
		  AND reminder_sent_at IS NULL
		ORDER BY created_at
		LIMIT $4
	`
	return r.listIDs(ctx, query, model.OrderStatusPending, model.PaymentStatusPending, cutoff, limit)
}

// MarkReminderSent stamps reminder_sent_at so the reminder fires once.
func (r *orderRepository) MarkReminderSent(ctx context.Context, tx pgx.Tx, id uuid.UUID) (bool, error) {
	tag, err := tx.Exec(ctx,
		`UPDATE orders SET reminder_sent_at = NOW() WHERE id = $1 AND reminder_sent_at IS NULL`, id)
	if err != nil {
		r.logger.Error().Err(err).Str("order_id", id.String()).Msg("failed to mark reminder sent")
		return false, fmt.Errorf("failed to mark reminder sent: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// SetTracking records the carrier tracking number once a shipment exists.
func (r *orderRepository) SetTracking(ctx context.Context, id uuid.UUID, trackingNumber string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE orders SET tracking_number = $1, updated_at = NOW() WHERE id = $2`, trackingNumber, id)
	if err != nil {
		r.logger.Error().Err(err).Str("order_id", id.String()).Msg("failed to set tracking number")
		return fmt.Errorf("failed to set tracking number: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewNotFoundError("order", id.String())
	}
	return nil
}

func (r *orderRepository) listIDs(ctx context.Context, query string, args ...any) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to query order ids")
		return nil, fmt.Errorf("failed to query order ids: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan order id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *orderRepository) appendHistory(ctx context.Context, tx pgx.Tx, orderID uuid.UUID, label, actor string, at time.Time) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO order_status_history (order_id, label, actor, created_at)
		VALUES ($1, $2, $3, $4)
	`, orderID, label, actor, at)
	if err != nil {
		r.logger.Error().
			Err(err).
			Str("order_id", orderID.String()).
			Str("label", label).
			Msg("failed to append history")
		return fmt.Errorf("failed to append history: %w", err)
	}
	return nil
}

func (r *orderRepository) scanOrder(row pgx.Row) (*model.Order, error) {
	var o model.Order
	err := row.Scan(
		&o.ID, &o.OrderNumber, &o.UserID, &o.Status, &o.PaymentStatus, &o.PaymentMethod,
		&o.Subtotal, &o.ShippingCost, &o.Discount, &o.Tax, &o.Total, &o.CouponCode, &o.Notes, &o.TrackingNumber,
		&o.ShippingAddress, &o.BillingAddress, &o.PaidAt, &o.StockReleasedAt, &o.ReminderSentAt,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

const itemQuery = `
	SELECT id, order_id, product_id, variant_id, product_name, unit_price, quantity, subtotal
	FROM order_items
	WHERE order_id = $1
	ORDER BY id
`

func (r *orderRepository) loadItems(ctx context.Context, o *model.Order) error {
	rows, err := r.pool.Query(ctx, itemQuery, o.ID)
	if err != nil {
		return fmt.Errorf("failed to query order items: %w", err)
	}
	return r.scanItems(rows, o)
}

func (r *orderRepository) loadItemsTx(ctx context.Context, tx pgx.Tx, o *model.Order) error {
	rows, err := tx.Query(ctx, itemQuery, o.ID)
	if err != nil {
		return fmt.Errorf("failed to query order items: %w", err)
	}
	return r.scanItems(rows, o)
}

func (r *orderRepository) scanItems(rows pgx.Rows, o *model.Order) error {
	defer rows.Close()

	for rows.Next() {
		var item model.OrderItem
		err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.VariantID,
			&item.ProductName, &item.UnitPrice, &item.Quantity, &item.Subtotal)
		if err != nil {
			return fmt.Errorf("failed to scan order item: %w", err)
		}
		o.Items = append(o.Items, item)
	}
	return rows.Err()
}
