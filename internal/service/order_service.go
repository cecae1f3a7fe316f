package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"tienda/internal/model"
	"tienda/internal/order"
	"tienda/internal/repository"
)

// orderService implements OrderService.
type orderService struct {
	orderRepo   repository.OrderRepository
	productRepo repository.ProductRepository
	paymentRepo repository.PaymentRepository
	outbox      repository.OutboxRepository
	logger      zerolog.Logger
}

// NewOrderService creates an order service.
func NewOrderService(
	orderRepo repository.OrderRepository,
	productRepo repository.ProductRepository,
	paymentRepo repository.PaymentRepository,
	outbox repository.OutboxRepository,
	logger zerolog.Logger,
) OrderService {
	return &orderService{
		orderRepo:   orderRepo,
		productRepo: productRepo,
		paymentRepo: paymentRepo,
		outbox:      outbox,
		logger:      logger.With().Str("service", "order").Logger(),
	}
}

// GetByID retrieves an order with items and its full history.
func (s *orderService) GetByID(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	o, err := s.orderRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.withHistory(ctx, o)
}

// GetByNumber retrieves an order by its human-readable number.
func (s *orderService) GetByNumber(ctx context.Context, number string) (*model.Order, error) {
	o, err := s.orderRepo.GetByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	return s.withHistory(ctx, o)
}

// ListPayments returns the payment attempts for an order.
func (s *orderService) ListPayments(ctx context.Context, orderID uuid.UUID) ([]model.Payment, error) {
	return s.paymentRepo.ListByOrder(ctx, orderID)
}

// UpdateOrderStatus applies an operator move through the state machine.
func (s *orderService) UpdateOrderStatus(ctx context.Context, id uuid.UUID, target model.OrderStatus) (*model.Order, error) {
	ev, ok := order.EventForStatusUpdate(target)
	if !ok {
		// pending, processing and refunded are never set by hand; they
		// belong to checkout and the payment reconciler.
		return nil, model.ErrInvalidOperation
	}
	return s.applyEvent(ctx, id, ev, model.ActorAdmin)
}

// CancelOrder cancels a pending or processing order.
func (s *orderService) CancelOrder(ctx context.Context, id uuid.UUID, actor string) (*model.Order, error) {
	return s.applyEvent(ctx, id, order.EventCancel, actor)
}

// applyEvent runs one event through the state machine under the order row
// lock. Guard rejections surface to the caller; no-ops return the order
// unchanged.
func (s *orderService) applyEvent(ctx context.Context, id uuid.UUID, ev order.Event, actor string) (*model.Order, error) {
	tx, err := s.orderRepo.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to apply %s: %w", ev, err)
	}
	defer tx.Rollback(ctx)

	o, err := s.orderRepo.GetByIDForUpdate(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	out, err := order.Transition(o, ev)
	if err != nil {
		s.logger.Warn().
			Str("order_id", id.String()).
			Str("event", string(ev)).
			Str("status", string(o.Status)).
			Str("payment_status", string(o.PaymentStatus)).
			Msg("transition rejected")
		return nil, err
	}
	if out.Noop {
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("failed to apply %s: %w", ev, err)
		}
		return o, nil
	}

	if err := s.orderRepo.ApplyTransition(ctx, tx, o, out, actor); err != nil {
		return nil, err
	}
	if out.ReleaseStock {
		if err := s.productRepo.Release(ctx, tx, o.Items); err != nil {
			return nil, fmt.Errorf("failed to release stock: %w", err)
		}
	}

	// The notification job commits with the transition so it cannot be
	// lost between the two.
	if out.StatusChanged {
		if err := s.enqueueStatusChanged(ctx, tx, o, out); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to apply %s: %w", ev, err)
	}

	s.logger.Info().
		Str("order_id", o.ID.String()).
		Str("event", string(ev)).
		Str("status", string(o.Status)).
		Str("actor", actor).
		Msg("order transitioned")

	return o, nil
}

func (s *orderService) enqueueStatusChanged(ctx context.Context, tx pgx.Tx, o *model.Order, out order.Outcome) error {
	payload, err := json.Marshal(model.StatusChangedPayload{
		OrderID:       o.ID,
		OrderNumber:   o.OrderNumber,
		Status:        out.Status,
		PaymentStatus: out.PaymentStatus,
	})
	if err != nil {
		return fmt.Errorf("marshal status payload: %w", err)
	}
	if err := s.outbox.Enqueue(ctx, tx, model.JobStatusChanged, payload, time.Now().UTC()); err != nil {
		return fmt.Errorf("enqueue status notification: %w", err)
	}
	return nil
}

func (s *orderService) withHistory(ctx context.Context, o *model.Order) (*model.Order, error) {
	history, err := s.orderRepo.History(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	o.History = history
	return o, nil
}
