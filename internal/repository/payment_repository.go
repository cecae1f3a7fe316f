package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"tienda/internal/model"
)

// paymentRepository implements PaymentRepository using PostgreSQL.
type paymentRepository struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewPaymentRepository creates a new PostgreSQL-backed payment repository.
func NewPaymentRepository(pool *pgxpool.Pool, logger zerolog.Logger) PaymentRepository {
	return &paymentRepository{
		pool:   pool,
		logger: logger.With().Str("repository", "payment").Logger(),
	}
}

// Create inserts a pending payment attempt within tx.
func (r *paymentRepository) Create(ctx context.Context, tx pgx.Tx, p *model.Payment) error {
	query := `
		INSERT INTO payments (id, order_id, external_id, status, amount, method, raw_metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := tx.Exec(ctx, query,
		p.ID, p.OrderID, p.ExternalID, p.Status, p.Amount, p.Method, p.RawMetadata,
		p.CreatedAt, p.UpdatedAt)
	if err != nil {
		r.logger.Error().
			Err(err).
			Str("payment_id", p.ID.String()).
			Str("order_id", p.OrderID.String()).
			Msg("failed to create payment")
		return fmt.Errorf("failed to create payment: %w", err)
	}

	return nil
}

// GetByID retrieves a payment attempt by id.
func (r *paymentRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Payment, error) {
	query := `
		SELECT id, order_id, external_id, status, amount, method, raw_metadata, created_at, updated_at
		FROM payments
		WHERE id = $1
	`

	var p model.Payment
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&p.ID, &p.OrderID, &p.ExternalID, &p.Status, &p.Amount, &p.Method, &p.RawMetadata,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.NewNotFoundError("payment", id.String())
		}
		r.logger.Error().Err(err).Str("payment_id", id.String()).Msg("failed to query payment")
		return nil, fmt.Errorf("failed to query payment: %w", err)
	}

	return &p, nil
}

// ListByOrder returns all payment attempts for an order, newest first.
func (r *paymentRepository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]model.Payment, error) {
	query := `
		SELECT id, order_id, external_id, status, amount, method, raw_metadata, created_at, updated_at
		FROM payments
		WHERE order_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.pool.Query(ctx, query, orderID)
	if err != nil {
		r.logger.Error().Err(err).Str("order_id", orderID.String()).Msg("failed to query payments")
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	var payments []model.Payment
	for rows.Next() {
		var p model.Payment
		err := rows.Scan(&p.ID, &p.OrderID, &p.ExternalID, &p.Status, &p.Amount, &p.Method,
			&p.RawMetadata, &p.CreatedAt, &p.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// UpdateFromGateway records the gateway-assigned id, mapped status and raw
// snapshot. Raw metadata always reflects the latest gateway fetch, even
// when the order transition itself was a no-op.
func (r *paymentRepository) UpdateFromGateway(ctx context.Context, tx pgx.Tx, id uuid.UUID, externalID string, status model.PaymentStatus, raw []byte) error {
	query := `
		UPDATE payments
		SET external_id = $1, status = $2, raw_metadata = $3, updated_at = NOW()
		WHERE id = $4
	`

	tag, err := tx.Exec(ctx, query, externalID, status, raw, id)
	if err != nil {
		r.logger.Error().
			Err(err).
			Str("payment_id", id.String()).
			Str("external_id", externalID).
			Msg("failed to update payment from gateway")
		return fmt.Errorf("failed to update payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewNotFoundError("payment", id.String())
	}

	return nil
}
