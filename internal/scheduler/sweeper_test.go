package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"tienda/internal/config"
	"tienda/internal/model"
	"tienda/internal/order"
)

// MockTx is a minimal mock implementation of pgx.Tx.
type MockTx struct {
	mock.Mock
}

func (m *MockTx) Commit(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockTx) Rollback(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockTx) Begin(ctx context.Context) (pgx.Tx, error) { return nil, nil }
func (m *MockTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (m *MockTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults { return nil }
func (m *MockTx) LargeObjects() pgx.LargeObjects                               { return pgx.LargeObjects{} }
func (m *MockTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (m *MockTx) Exec(ctx context.Context, sql string, arguments ...any) (commandTag pgconn.CommandTag, err error) {
	return
}
func (m *MockTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, nil
}
func (m *MockTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row { return nil }
func (m *MockTx) Conn() *pgx.Conn                                               { return nil }

// MockOrderRepository is a mock implementation of repository.OrderRepository.
type MockOrderRepository struct {
	mock.Mock
}

func (m *MockOrderRepository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	args := m.Called(ctx)
	if tx, ok := args.Get(0).(pgx.Tx); ok {
		return tx, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockOrderRepository) Create(ctx context.Context, tx pgx.Tx, o *model.Order) error {
	args := m.Called(ctx, tx, o)
	return args.Error(0)
}

func (m *MockOrderRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Order), args.Error(1)
}

func (m *MockOrderRepository) GetByNumber(ctx context.Context, number string) (*model.Order, error) {
	args := m.Called(ctx, number)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Order), args.Error(1)
}

func (m *MockOrderRepository) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*model.Order, error) {
	args := m.Called(ctx, tx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Order), args.Error(1)
}

func (m *MockOrderRepository) ApplyTransition(ctx context.Context, tx pgx.Tx, o *model.Order, out order.Outcome, actor string) error {
	args := m.Called(ctx, tx, o, out, actor)
	return args.Error(0)
}

func (m *MockOrderRepository) History(ctx context.Context, orderID uuid.UUID) ([]model.OrderStatusHistory, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.OrderStatusHistory), args.Error(1)
}

func (m *MockOrderRepository) ListExpired(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	args := m.Called(ctx, cutoff, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]uuid.UUID), args.Error(1)
}

func (m *MockOrderRepository) ListForReminder(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	args := m.Called(ctx, cutoff, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]uuid.UUID), args.Error(1)
}

func (m *MockOrderRepository) MarkReminderSent(ctx context.Context, tx pgx.Tx, id uuid.UUID) (bool, error) {
	args := m.Called(ctx, tx, id)
	return args.Bool(0), args.Error(1)
}

func (m *MockOrderRepository) SetTracking(ctx context.Context, id uuid.UUID, trackingNumber string) error {
	args := m.Called(ctx, id, trackingNumber)
	return args.Error(0)
}

// MockProductRepository is a mock implementation of repository.ProductRepository.
type MockProductRepository struct {
	mock.Mock
}

func (m *MockProductRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]model.Product, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Product), args.Error(1)
}

func (m *MockProductRepository) GetVariant(ctx context.Context, id uuid.UUID) (*model.ProductVariant, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ProductVariant), args.Error(1)
}

func (m *MockProductRepository) Reserve(ctx context.Context, tx pgx.Tx, items []model.OrderItem) error {
	args := m.Called(ctx, tx, items)
	return args.Error(0)
}

func (m *MockProductRepository) Release(ctx context.Context, tx pgx.Tx, items []model.OrderItem) error {
	args := m.Called(ctx, tx, items)
	return args.Error(0)
}

// MockCartRepository is a mock implementation of repository.CartRepository.
type MockCartRepository struct {
	mock.Mock
}

func (m *MockCartRepository) GetOrCreateForUser(ctx context.Context, userID uuid.UUID) (*model.Cart, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Cart), args.Error(1)
}

func (m *MockCartRepository) GetOrCreateForSession(ctx context.Context, sessionID string, ttl time.Duration) (*model.Cart, error) {
	args := m.Called(ctx, sessionID, ttl)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Cart), args.Error(1)
}

func (m *MockCartRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Cart, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Cart), args.Error(1)
}

func (m *MockCartRepository) UpsertItem(ctx context.Context, cartID uuid.UUID, item model.CartItem) error {
	args := m.Called(ctx, cartID, item)
	return args.Error(0)
}

func (m *MockCartRepository) RemoveItem(ctx context.Context, cartID, productID uuid.UUID, variantID *uuid.UUID) error {
	args := m.Called(ctx, cartID, productID, variantID)
	return args.Error(0)
}

func (m *MockCartRepository) Clear(ctx context.Context, cartID uuid.UUID) error {
	args := m.Called(ctx, cartID)
	return args.Error(0)
}

func (m *MockCartRepository) MergeSessionIntoUser(ctx context.Context, sessionID string, userID uuid.UUID) error {
	args := m.Called(ctx, sessionID, userID)
	return args.Error(0)
}

func (m *MockCartRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	args := m.Called(ctx, now)
	return args.Get(0).(int64), args.Error(1)
}

// MockOutboxRepository is a mock implementation of repository.OutboxRepository.
type MockOutboxRepository struct {
	mock.Mock
}

func (m *MockOutboxRepository) Enqueue(ctx context.Context, tx pgx.Tx, kind string, payload []byte, readyAt time.Time) error {
	args := m.Called(ctx, tx, kind, payload, readyAt)
	return args.Error(0)
}

func (m *MockOutboxRepository) Due(ctx context.Context, limit int) ([]model.OutboxJob, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.OutboxJob), args.Error(1)
}

func (m *MockOutboxRepository) MarkDone(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockOutboxRepository) MarkFailed(ctx context.Context, id int64, maxAttempts int) error {
	args := m.Called(ctx, id, maxAttempts)
	return args.Error(0)
}

var fixedNow = time.Date(2026, 1, 16, 12, 0, 0, 0, time.UTC)

func testConfig() config.OrderConfig {
	return config.OrderConfig{
		ExpirationHours: 24,
		ReminderHours:   12,
		SweepInterval:   5 * time.Minute,
		CartTTL:         7 * 24 * time.Hour,
	}
}

type fixture struct {
	orders   *MockOrderRepository
	products *MockProductRepository
	carts    *MockCartRepository
	outbox   *MockOutboxRepository
	sweeper  *Sweeper
}

func newFixture() *fixture {
	f := &fixture{
		orders:   new(MockOrderRepository),
		products: new(MockProductRepository),
		carts:    new(MockCartRepository),
		outbox:   new(MockOutboxRepository),
	}
	f.sweeper = NewSweeper(f.orders, f.products, f.carts, f.outbox, testConfig(), zerolog.Nop())
	f.sweeper.now = func() time.Time { return fixedNow }
	return f
}

// noOtherWork stubs out the sweeps a test is not exercising.
func (f *fixture) noOtherWork(expire, remind, prune bool) {
	if !expire {
		f.orders.On("ListExpired", mock.Anything, mock.Anything, sweepBatchSize).Return([]uuid.UUID{}, nil)
	}
	if !remind {
		f.orders.On("ListForReminder", mock.Anything, mock.Anything, sweepBatchSize).Return([]uuid.UUID{}, nil)
	}
	if !prune {
		f.carts.On("DeleteExpired", mock.Anything, fixedNow).Return(int64(0), nil)
	}
}

func TestSweepExpiresOverdueOrder(t *testing.T) {
	f := newFixture()
	f.noOtherWork(true, false, false)

	o := &model.Order{
		ID:            uuid.New(),
		OrderNumber:   "TND-20260115-ABC123",
		Status:        model.OrderStatusPending,
		PaymentStatus: model.PaymentStatusPending,
		Items:         []model.OrderItem{{ProductID: uuid.New(), Quantity: 1}},
	}
	tx := new(MockTx)
	tx.On("Commit", mock.Anything).Return(nil)
	tx.On("Rollback", mock.Anything).Return(pgx.ErrTxClosed)

	cutoff := fixedNow.Add(-24 * time.Hour)
	f.orders.On("ListExpired", mock.Anything, cutoff, sweepBatchSize).Return([]uuid.UUID{o.ID}, nil)
	f.orders.On("BeginTx", mock.Anything).Return(tx, nil)
	f.orders.On("GetByIDForUpdate", mock.Anything, tx, o.ID).Return(o, nil)
	f.orders.On("ApplyTransition", mock.Anything, tx, o, mock.MatchedBy(func(out order.Outcome) bool {
		return out.Status == model.OrderStatusCancelled &&
			out.PaymentStatus == model.PaymentStatusCancelled &&
			out.ReleaseStock &&
			out.HistoryLabel == model.HistoryExpired
	}), model.ActorSystem).Return(nil)
	f.products.On("Release", mock.Anything, tx, o.Items).Return(nil)
	f.outbox.On("Enqueue", mock.Anything, tx, model.JobPaymentExpired, mock.Anything, fixedNow).Return(nil)
	f.outbox.On("Enqueue", mock.Anything, tx, model.JobStatusChanged, mock.Anything, fixedNow).Return(nil)

	f.sweeper.Sweep(context.Background())

	f.orders.AssertExpectations(t)
	f.products.AssertExpectations(t)
	f.outbox.AssertExpectations(t)
}

func TestSweepExpireNotCommittedWhenEnqueueFails(t *testing.T) {
	// The expiration jobs ride the cancellation transaction. An outbox
	// failure must abort the whole expiration so the next sweep retries
	// it, rather than cancelling the order with no notification job.
	f := newFixture()
	f.noOtherWork(true, false, false)

	o := &model.Order{
		ID:            uuid.New(),
		Status:        model.OrderStatusPending,
		PaymentStatus: model.PaymentStatusPending,
		Items:         []model.OrderItem{{ProductID: uuid.New(), Quantity: 1}},
	}
	tx := new(MockTx)
	tx.On("Rollback", mock.Anything).Return(nil)

	f.orders.On("ListExpired", mock.Anything, mock.Anything, sweepBatchSize).Return([]uuid.UUID{o.ID}, nil)
	f.orders.On("BeginTx", mock.Anything).Return(tx, nil)
	f.orders.On("GetByIDForUpdate", mock.Anything, tx, o.ID).Return(o, nil)
	f.orders.On("ApplyTransition", mock.Anything, tx, o, mock.Anything, model.ActorSystem).Return(nil)
	f.products.On("Release", mock.Anything, tx, o.Items).Return(nil)
	f.outbox.On("Enqueue", mock.Anything, tx, model.JobPaymentExpired, mock.Anything, fixedNow).
		Return(errors.New("insert failed"))

	f.sweeper.Sweep(context.Background())

	tx.AssertNotCalled(t, "Commit", mock.Anything)
	f.outbox.AssertExpectations(t)
}

func TestSweepSkipsOrderPaidDuringSweep(t *testing.T) {
	// The order aged past the window in the select, but a webhook paid it
	// before the sweep took the row lock. The guard must win.
	f := newFixture()
	f.noOtherWork(true, false, false)

	o := &model.Order{
		ID:            uuid.New(),
		Status:        model.OrderStatusProcessing,
		PaymentStatus: model.PaymentStatusPaid,
	}
	tx := new(MockTx)
	tx.On("Commit", mock.Anything).Return(nil)
	tx.On("Rollback", mock.Anything).Return(pgx.ErrTxClosed)

	f.orders.On("ListExpired", mock.Anything, mock.Anything, sweepBatchSize).Return([]uuid.UUID{o.ID}, nil)
	f.orders.On("BeginTx", mock.Anything).Return(tx, nil)
	f.orders.On("GetByIDForUpdate", mock.Anything, tx, o.ID).Return(o, nil)

	f.sweeper.Sweep(context.Background())

	f.orders.AssertNotCalled(t, "ApplyTransition", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.outbox.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.orders.AssertExpectations(t)
}

func TestSweepIsolatesPerOrderFailures(t *testing.T) {
	f := newFixture()
	f.noOtherWork(true, false, false)

	badID := uuid.New()
	o := &model.Order{
		ID:            uuid.New(),
		Status:        model.OrderStatusPending,
		PaymentStatus: model.PaymentStatusPending,
	}
	tx := new(MockTx)
	tx.On("Commit", mock.Anything).Return(nil)
	tx.On("Rollback", mock.Anything).Return(pgx.ErrTxClosed)
	badTx := new(MockTx)
	badTx.On("Rollback", mock.Anything).Return(nil)

	f.orders.On("ListExpired", mock.Anything, mock.Anything, sweepBatchSize).Return([]uuid.UUID{badID, o.ID}, nil)
	f.orders.On("BeginTx", mock.Anything).Return(badTx, nil).Once()
	f.orders.On("GetByIDForUpdate", mock.Anything, badTx, badID).Return(nil, errors.New("connection reset"))
	f.orders.On("BeginTx", mock.Anything).Return(tx, nil).Once()
	f.orders.On("GetByIDForUpdate", mock.Anything, tx, o.ID).Return(o, nil)
	f.orders.On("ApplyTransition", mock.Anything, tx, o, mock.Anything, model.ActorSystem).Return(nil)
	f.products.On("Release", mock.Anything, tx, mock.Anything).Return(nil)
	f.outbox.On("Enqueue", mock.Anything, tx, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	f.sweeper.Sweep(context.Background())

	f.orders.AssertNumberOfCalls(t, "ApplyTransition", 1)
}

func TestSweepSendsReminderOnce(t *testing.T) {
	f := newFixture()
	f.noOtherWork(false, true, false)

	fresh := uuid.New()
	alreadySent := uuid.New()

	tx := new(MockTx)
	tx.On("Commit", mock.Anything).Return(nil)
	tx.On("Rollback", mock.Anything).Return(pgx.ErrTxClosed)

	cutoff := fixedNow.Add(-12 * time.Hour)
	f.orders.On("ListForReminder", mock.Anything, cutoff, sweepBatchSize).Return([]uuid.UUID{fresh, alreadySent}, nil)
	f.orders.On("BeginTx", mock.Anything).Return(tx, nil)
	f.orders.On("MarkReminderSent", mock.Anything, tx, fresh).Return(true, nil)
	f.orders.On("MarkReminderSent", mock.Anything, tx, alreadySent).Return(false, nil)
	f.outbox.On("Enqueue", mock.Anything, tx, model.JobPendingReminder, mock.Anything, fixedNow).Return(nil).Once()

	f.sweeper.Sweep(context.Background())

	f.orders.AssertExpectations(t)
	f.outbox.AssertExpectations(t)
	f.outbox.AssertNumberOfCalls(t, "Enqueue", 1)
}

func TestSweepPrunesExpiredCarts(t *testing.T) {
	f := newFixture()
	f.noOtherWork(false, false, true)

	f.carts.On("DeleteExpired", mock.Anything, fixedNow).Return(int64(3), nil)

	f.sweeper.Sweep(context.Background())

	f.carts.AssertExpectations(t)
}

func TestStartStop(t *testing.T) {
	f := newFixture()

	f.sweeper.Start(context.Background())
	done := make(chan struct{})
	go func() {
		f.sweeper.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
	assert.NotPanics(t, func() { f.sweeper.Stop() })
}
