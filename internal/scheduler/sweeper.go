// Package scheduler runs the periodic sweeps: payment-window expiration,
// pending-payment reminders and stale session cart pruning. Sweeps are
// driven by wall-clock age but every expiration re-checks state under the
// order row lock, so a payment landing mid-sweep always wins.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"tienda/internal/config"
	"tienda/internal/model"
	"tienda/internal/order"
	"tienda/internal/repository"
)

const sweepBatchSize = 100

// Sweeper owns the background sweep loop.
type Sweeper struct {
	orders   repository.OrderRepository
	products repository.ProductRepository
	carts    repository.CartRepository
	outbox   repository.OutboxRepository
	cfg      config.OrderConfig
	logger   zerolog.Logger

	cancel context.CancelFunc
	done   chan struct{}

	// now is swapped out by tests.
	now func() time.Time
}

// NewSweeper creates a Sweeper from configuration.
func NewSweeper(
	orders repository.OrderRepository,
	products repository.ProductRepository,
	carts repository.CartRepository,
	outbox repository.OutboxRepository,
	cfg config.OrderConfig,
	logger zerolog.Logger,
) *Sweeper {
	return &Sweeper{
		orders:   orders,
		products: products,
		carts:    carts,
		outbox:   outbox,
		cfg:      cfg,
		logger:   logger.With().Str("service", "sweeper").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Start launches the sweep loop. It returns immediately.
func (s *Sweeper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.cfg.SweepInterval)
		defer ticker.Stop()

		s.logger.Info().
			Dur("interval", s.cfg.SweepInterval).
			Int("expiration_hours", s.cfg.ExpirationHours).
			Int("reminder_hours", s.cfg.ReminderHours).
			Msg("sweeper started")

		for {
			select {
			case <-ctx.Done():
				s.logger.Info().Msg("sweeper stopped")
				return
			case <-ticker.C:
				s.Sweep(ctx)
			}
		}
	}()
}

// Stop cancels the loop and waits for the in-flight sweep to finish.
func (s *Sweeper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

// Sweep runs one pass of all sweeps. Errors are logged per order so one
// bad row never blocks the rest of the batch.
func (s *Sweeper) Sweep(ctx context.Context) {
	now := s.now()

	s.expireDue(ctx, now)
	s.remindDue(ctx, now)
	s.pruneCarts(ctx, now)
}

func (s *Sweeper) expireDue(ctx context.Context, now time.Time) {
	cutoff := now.Add(-time.Duration(s.cfg.ExpirationHours) * time.Hour)

	ids, err := s.orders.ListExpired(ctx, cutoff, sweepBatchSize)
	if err != nil {
		s.logger.Error().Err(err).Msg("expiration sweep query failed")
		return
	}

	expired := 0
	for _, id := range ids {
		applied, err := s.expireOne(ctx, id)
		if err != nil {
			s.logger.Error().Err(err).Str("order_id", id.String()).Msg("failed to expire order")
			continue
		}
		if applied {
			expired++
		}
	}

	if expired > 0 {
		s.logger.Info().Int("count", expired).Msg("expired unpaid orders")
	}
}

// expireOne cancels a single overdue order. It returns false when the
// guard found the order no longer eligible, which happens when a payment
// webhook raced the sweep.
func (s *Sweeper) expireOne(ctx context.Context, id uuid.UUID) (bool, error) {
	tx, err := s.orders.BeginTx(ctx)
	if err != nil {
		return false, fmt.Errorf("begin expire tx: %w", err)
	}
	defer tx.Rollback(ctx)

	o, err := s.orders.GetByIDForUpdate(ctx, tx, id)
	if err != nil {
		return false, fmt.Errorf("lock order: %w", err)
	}

	out, err := order.Transition(o, order.EventExpire)
	if err != nil {
		return false, err
	}
	if out.Noop {
		return false, tx.Commit(ctx)
	}

	if err := s.orders.ApplyTransition(ctx, tx, o, out, model.ActorSystem); err != nil {
		return false, err
	}
	if out.ReleaseStock {
		if err := s.products.Release(ctx, tx, o.Items); err != nil {
			return false, fmt.Errorf("release stock: %w", err)
		}
	}

	// Jobs commit with the cancellation so neither can exist without the
	// other.
	if err := s.enqueue(ctx, tx, model.JobPaymentExpired, model.OrderRefPayload{OrderID: o.ID}); err != nil {
		return false, err
	}
	err = s.enqueue(ctx, tx, model.JobStatusChanged, model.StatusChangedPayload{
		OrderID:       o.ID,
		OrderNumber:   o.OrderNumber,
		Status:        out.Status,
		PaymentStatus: out.PaymentStatus,
	})
	if err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit expire tx: %w", err)
	}
	return true, nil
}

func (s *Sweeper) remindDue(ctx context.Context, now time.Time) {
	cutoff := now.Add(-time.Duration(s.cfg.ReminderHours) * time.Hour)

	ids, err := s.orders.ListForReminder(ctx, cutoff, sweepBatchSize)
	if err != nil {
		s.logger.Error().Err(err).Msg("reminder sweep query failed")
		return
	}

	for _, id := range ids {
		if err := s.remindOne(ctx, id); err != nil {
			s.logger.Error().Err(err).Str("order_id", id.String()).Msg("failed to enqueue reminder")
		}
	}
}

// remindOne stamps the reminder and enqueues its job in one transaction,
// so the stamp can never exist without the job.
func (s *Sweeper) remindOne(ctx context.Context, id uuid.UUID) error {
	tx, err := s.orders.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin reminder tx: %w", err)
	}
	defer tx.Rollback(ctx)

	stamped, err := s.orders.MarkReminderSent(ctx, tx, id)
	if err != nil {
		return err
	}
	if !stamped {
		return tx.Commit(ctx)
	}
	if err := s.enqueue(ctx, tx, model.JobPendingReminder, model.OrderRefPayload{OrderID: id}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Sweeper) pruneCarts(ctx context.Context, now time.Time) {
	n, err := s.carts.DeleteExpired(ctx, now)
	if err != nil {
		s.logger.Error().Err(err).Msg("cart pruning failed")
		return
	}
	if n > 0 {
		s.logger.Info().Int64("count", n).Msg("pruned expired session carts")
	}
}

func (s *Sweeper) enqueue(ctx context.Context, tx pgx.Tx, kind string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	if err := s.outbox.Enqueue(ctx, tx, kind, data, s.now()); err != nil {
		return fmt.Errorf("enqueue %s: %w", kind, err)
	}
	return nil
}
