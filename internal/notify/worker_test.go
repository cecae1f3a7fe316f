package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"

	"tienda/internal/model"
	"tienda/internal/order"
	"tienda/internal/shipping/andreani"
)

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

// MockMailer is a mock implementation of Mailer.
type MockMailer struct {
	mock.Mock
}

func (m *MockMailer) Send(ctx context.Context, to, subject, body string) error {
	args := m.Called(ctx, to, subject, body)
	return args.Error(0)
}

// MockBroadcaster is a mock implementation of Broadcaster.
type MockBroadcaster struct {
	mock.Mock
}

func (m *MockBroadcaster) OrderStatusChanged(ctx context.Context, change model.StatusChangedPayload) error {
	args := m.Called(ctx, change)
	return args.Error(0)
}

// MockShipmentCreator is a mock implementation of ShipmentCreator.
type MockShipmentCreator struct {
	mock.Mock
}

func (m *MockShipmentCreator) CreateShipment(ctx context.Context, o *model.Order) (*andreani.Shipment, error) {
	args := m.Called(ctx, o)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*andreani.Shipment), args.Error(1)
}

type fixture struct {
	outbox    *MockOutboxRepository
	orders    *MockOrderRepository
	mailer    *MockMailer
	broadcast *MockBroadcaster
	shipments *MockShipmentCreator
	worker    *Worker
}

func newFixture() *fixture {
	f := &fixture{
		outbox:    new(MockOutboxRepository),
		orders:    new(MockOrderRepository),
		mailer:    new(MockMailer),
		broadcast: new(MockBroadcaster),
		shipments: new(MockShipmentCreator),
	}
	f.worker = NewWorker(f.outbox, f.orders, f.mailer, f.broadcast, f.shipments, zerolog.Nop())
	return f
}

func testOrder(status model.OrderStatus, payment model.PaymentStatus) *model.Order {
	return &model.Order{
		ID:            uuid.New(),
		OrderNumber:   "TND-20260115-ABC123",
		Status:        status,
		PaymentStatus: payment,
		ShippingAddress: model.Address{
			Name:  "Ana Gomez",
			Email: "ana@example.com",
		},
	}
}

func job(id int64, kind string, payload any) model.OutboxJob {
	data, _ := json.Marshal(payload)
	return model.OutboxJob{ID: id, Kind: kind, Payload: data, Status: model.OutboxStatusPending}
}

func TestDrainSendsOrderCreatedMail(t *testing.T) {
	f := newFixture()
	o := testOrder(model.OrderStatusPending, model.PaymentStatusPending)

	f.outbox.On("Due", mock.Anything, batchSize).
		Return([]model.OutboxJob{job(1, model.JobOrderCreated, model.OrderRefPayload{OrderID: o.ID})}, nil)
	f.orders.On("GetByID", mock.Anything, o.ID).Return(o, nil)
	f.mailer.On("Send", mock.Anything, "ana@example.com", mock.Anything, mock.Anything).Return(nil)
	f.outbox.On("MarkDone", mock.Anything, int64(1)).Return(nil)

	f.worker.Drain(context.Background())

	f.outbox.AssertExpectations(t)
	f.mailer.AssertExpectations(t)
}

func TestDrainSkipsReminderForPaidOrder(t *testing.T) {
	f := newFixture()
	o := testOrder(model.OrderStatusProcessing, model.PaymentStatusPaid)

	f.outbox.On("Due", mock.Anything, batchSize).
		Return([]model.OutboxJob{job(2, model.JobPendingReminder, model.OrderRefPayload{OrderID: o.ID})}, nil)
	f.orders.On("GetByID", mock.Anything, o.ID).Return(o, nil)
	f.outbox.On("MarkDone", mock.Anything, int64(2)).Return(nil)

	f.worker.Drain(context.Background())

	f.mailer.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.outbox.AssertExpectations(t)
}

func TestDrainBroadcastsAndMailsShippedStatus(t *testing.T) {
	f := newFixture()
	o := testOrder(model.OrderStatusShipped, model.PaymentStatusPaid)
	change := model.StatusChangedPayload{
		OrderID:       o.ID,
		OrderNumber:   o.OrderNumber,
		Status:        model.OrderStatusShipped,
		PaymentStatus: model.PaymentStatusPaid,
	}

	f.outbox.On("Due", mock.Anything, batchSize).
		Return([]model.OutboxJob{job(3, model.JobStatusChanged, change)}, nil)
	f.broadcast.On("OrderStatusChanged", mock.Anything, change).Return(nil)
	f.orders.On("GetByID", mock.Anything, o.ID).Return(o, nil)
	f.mailer.On("Send", mock.Anything, "ana@example.com", mock.Anything, mock.Anything).Return(nil)
	f.outbox.On("MarkDone", mock.Anything, int64(3)).Return(nil)

	f.worker.Drain(context.Background())

	f.broadcast.AssertExpectations(t)
	f.mailer.AssertExpectations(t)
}

func TestDrainBroadcastsCancelledWithoutMail(t *testing.T) {
	f := newFixture()
	change := model.StatusChangedPayload{
		OrderID:     uuid.New(),
		OrderNumber: "TND-20260115-ABC123",
		Status:      model.OrderStatusCancelled,
	}

	f.outbox.On("Due", mock.Anything, batchSize).
		Return([]model.OutboxJob{job(4, model.JobStatusChanged, change)}, nil)
	f.broadcast.On("OrderStatusChanged", mock.Anything, change).Return(nil)
	f.outbox.On("MarkDone", mock.Anything, int64(4)).Return(nil)

	f.worker.Drain(context.Background())

	f.mailer.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.broadcast.AssertExpectations(t)
}

func TestDrainCreatesShipment(t *testing.T) {
	f := newFixture()
	o := testOrder(model.OrderStatusProcessing, model.PaymentStatusPaid)

	f.outbox.On("Due", mock.Anything, batchSize).
		Return([]model.OutboxJob{job(5, model.JobCreateShipment, model.ShipmentPayload{OrderID: o.ID})}, nil)
	f.orders.On("GetByID", mock.Anything, o.ID).Return(o, nil)
	f.shipments.On("CreateShipment", mock.Anything, o).
		Return(&andreani.Shipment{TrackingNumber: "360000123456789"}, nil)
	f.orders.On("SetTracking", mock.Anything, o.ID, "360000123456789").Return(nil)
	f.outbox.On("MarkDone", mock.Anything, int64(5)).Return(nil)

	f.worker.Drain(context.Background())

	f.shipments.AssertExpectations(t)
	f.orders.AssertExpectations(t)
}

func TestDrainDoesNotShipTwice(t *testing.T) {
	f := newFixture()
	o := testOrder(model.OrderStatusProcessing, model.PaymentStatusPaid)
	tracking := "360000123456789"
	o.TrackingNumber = &tracking

	f.outbox.On("Due", mock.Anything, batchSize).
		Return([]model.OutboxJob{job(6, model.JobCreateShipment, model.ShipmentPayload{OrderID: o.ID})}, nil)
	f.orders.On("GetByID", mock.Anything, o.ID).Return(o, nil)
	f.outbox.On("MarkDone", mock.Anything, int64(6)).Return(nil)

	f.worker.Drain(context.Background())

	f.shipments.AssertNotCalled(t, "CreateShipment", mock.Anything, mock.Anything)
	f.outbox.AssertExpectations(t)
}

func TestDrainDoesNotShipCancelledOrder(t *testing.T) {
	f := newFixture()
	o := testOrder(model.OrderStatusCancelled, model.PaymentStatusPaid)

	f.outbox.On("Due", mock.Anything, batchSize).
		Return([]model.OutboxJob{job(7, model.JobCreateShipment, model.ShipmentPayload{OrderID: o.ID})}, nil)
	f.orders.On("GetByID", mock.Anything, o.ID).Return(o, nil)
	f.outbox.On("MarkDone", mock.Anything, int64(7)).Return(nil)

	f.worker.Drain(context.Background())

	f.shipments.AssertNotCalled(t, "CreateShipment", mock.Anything, mock.Anything)
	f.outbox.AssertExpectations(t)
}

func TestDrainMarksFailedJobForRetry(t *testing.T) {
	f := newFixture()
	o := testOrder(model.OrderStatusPending, model.PaymentStatusPending)

	f.outbox.On("Due", mock.Anything, batchSize).
		Return([]model.OutboxJob{job(8, model.JobOrderCreated, model.OrderRefPayload{OrderID: o.ID})}, nil)
	f.orders.On("GetByID", mock.Anything, o.ID).Return(o, nil)
	f.mailer.On("Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("smtp: connection refused"))
	f.outbox.On("MarkFailed", mock.Anything, int64(8), maxAttempts).Return(nil)

	f.worker.Drain(context.Background())

	f.outbox.AssertNotCalled(t, "MarkDone", mock.Anything, mock.Anything)
	f.outbox.AssertExpectations(t)
}

func TestDrainMarksUnknownKindFailed(t *testing.T) {
	f := newFixture()

	f.outbox.On("Due", mock.Anything, batchSize).
		Return([]model.OutboxJob{{ID: 9, Kind: "notify.telegram", Payload: []byte(`{}`)}}, nil)
	f.outbox.On("MarkFailed", mock.Anything, int64(9), maxAttempts).Return(nil)

	f.worker.Drain(context.Background())

	f.outbox.AssertExpectations(t)
}
