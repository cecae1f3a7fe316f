package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"tienda/internal/model"
	"tienda/internal/order"
)

// OrderRepository defines order aggregate persistence. Status and payment
// status columns are only written through ApplyTransition so every
// mutation carries its history row in the same transaction.
type OrderRepository interface {
	// BeginTx starts a new database transaction.
	BeginTx(ctx context.Context) (pgx.Tx, error)

	// Create inserts the order, its items, and the initial history row
	// within the provided transaction.
	Create(ctx context.Context, tx pgx.Tx, o *model.Order) error

	// GetByID retrieves an order with its items.
	GetByID(ctx context.Context, id uuid.UUID) (*model.Order, error)

	// GetByNumber retrieves an order by its human-readable number.
	GetByNumber(ctx context.Context, number string) (*model.Order, error)

	// GetByIDForUpdate retrieves an order under a row lock inside tx.
	// Guard evaluation must use the snapshot this returns.
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*model.Order, error)

	// ApplyTransition persists a state machine outcome and appends the
	// history row in the same transaction. No-op outcomes are rejected.
	ApplyTransition(ctx context.Context, tx pgx.Tx, o *model.Order, out order.Outcome, actor string) error

	// History returns the append-only audit trail, oldest first.
	History(ctx context.Context, orderID uuid.UUID) ([]model.OrderStatusHistory, error)

	// ListExpired returns ids of pending/pending orders created before
	// cutoff, candidates for the expiration sweep.
	ListExpired(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error)

	// ListForReminder returns ids of pending/pending orders created
	// before cutoff that have not yet received a reminder.
	ListForReminder(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error)

	// MarkReminderSent records that the still-pending reminder fired.
	// It returns false when the reminder was already stamped, so the
	// reminder is enqueued at most once.
	MarkReminderSent(ctx context.Context, tx pgx.Tx, id uuid.UUID) (bool, error)

	// SetTracking records the carrier tracking number on the order.
	SetTracking(ctx context.Context, id uuid.UUID, trackingNumber string) error
}

// ProductRepository defines catalogue reads and stock reservation.
type ProductRepository interface {
	// GetByIDs retrieves products by id.
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]model.Product, error)

	// GetVariant retrieves a single variant.
	GetVariant(ctx context.Context, id uuid.UUID) (*model.ProductVariant, error)

	// Reserve decrements stock for every item inside tx. All-or-nothing:
	// the first shortfall returns InsufficientStockError and the caller
	// rolls the transaction back, leaving no partial decrement visible.
	Reserve(ctx context.Context, tx pgx.Tx, items []model.OrderItem) error

	// Release increments stock back for every item inside tx.
	Release(ctx context.Context, tx pgx.Tx, items []model.OrderItem) error
}

// PaymentRepository defines payment attempt persistence.
type PaymentRepository interface {
	// Create inserts a pending payment attempt within tx.
	Create(ctx context.Context, tx pgx.Tx, p *model.Payment) error

	// GetByID retrieves a payment attempt. The payment id is the
	// external reference carried by the gateway preference.
	GetByID(ctx context.Context, id uuid.UUID) (*model.Payment, error)

	// ListByOrder returns all attempts for an order, newest first.
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]model.Payment, error)

	// UpdateFromGateway records the gateway-assigned id, mapped status
	// and raw snapshot within tx. Raw metadata is retained verbatim for
	// audit and manual reconciliation.
	UpdateFromGateway(ctx context.Context, tx pgx.Tx, id uuid.UUID, externalID string, status model.PaymentStatus, raw []byte) error
}

// CartRepository defines cart persistence. Session carts carry an
// expiry; user carts live until checkout clears them.
type CartRepository interface {
	GetOrCreateForUser(ctx context.Context, userID uuid.UUID) (*model.Cart, error)
	GetOrCreateForSession(ctx context.Context, sessionID string, ttl time.Duration) (*model.Cart, error)
	GetByID(ctx context.Context, id uuid.UUID) (*model.Cart, error)
	UpsertItem(ctx context.Context, cartID uuid.UUID, item model.CartItem) error
	RemoveItem(ctx context.Context, cartID, productID uuid.UUID, variantID *uuid.UUID) error
	Clear(ctx context.Context, cartID uuid.UUID) error

	// MergeSessionIntoUser folds a session cart into the user's cart on
	// login, summing quantities, then clears the session cart.
	MergeSessionIntoUser(ctx context.Context, sessionID string, userID uuid.UUID) error

	// DeleteExpired removes session carts past their TTL.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// CouponRepository defines coupon reads and usage recording.
type CouponRepository interface {
	// GetActiveByCode retrieves an active coupon by code, or nil.
	GetActiveByCode(ctx context.Context, code string) (*model.Coupon, error)

	// RecordUsage appends a usage row and bumps the used counter within
	// tx. A second usage for the same (coupon, order) pair is rejected
	// with ErrCouponAlreadyUsed; a usage beyond the cap with
	// ErrCouponExhausted.
	RecordUsage(ctx context.Context, tx pgx.Tx, couponID, orderID uuid.UUID) error

	// CreateBatch inserts imported coupons, skipping duplicate codes.
	CreateBatch(ctx context.Context, coupons []model.Coupon) (int, error)
}

// OutboxRepository defines the durable side-effect queue.
type OutboxRepository interface {
	// Enqueue appends a job ready at readyAt inside the caller's
	// transaction, committing atomically with the change it follows.
	Enqueue(ctx context.Context, tx pgx.Tx, kind string, payload []byte, readyAt time.Time) error

	// Due claims up to limit pending jobs whose ready time has passed.
	Due(ctx context.Context, limit int) ([]model.OutboxJob, error)

	// MarkDone finishes a job.
	MarkDone(ctx context.Context, id int64) error

	// MarkFailed schedules a retry with backoff, or marks the job dead
	// once maxAttempts is exhausted.
	MarkFailed(ctx context.Context, id int64, maxAttempts int) error
}
