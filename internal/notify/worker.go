package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"tienda/internal/model"
	"tienda/internal/repository"
	"tienda/internal/shipping/andreani"
)

const (
	pollInterval = 10 * time.Second
	batchSize    = 50
	maxAttempts  = 5
)

// ShipmentCreator creates a carrier shipment for a paid order.
type ShipmentCreator interface {
	CreateShipment(ctx context.Context, o *model.Order) (*andreani.Shipment, error)
}

// Worker drains the outbox. Jobs that fail are retried with backoff by
// the outbox itself; the worker only reports success or failure.
type Worker struct {
	outbox      repository.OutboxRepository
	orders      repository.OrderRepository
	mailer      Mailer
	broadcaster Broadcaster
	shipments   ShipmentCreator
	logger      zerolog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewWorker creates an outbox worker.
func NewWorker(
	outbox repository.OutboxRepository,
	orders repository.OrderRepository,
	mailer Mailer,
	broadcaster Broadcaster,
	shipments ShipmentCreator,
	logger zerolog.Logger,
) *Worker {
	return &Worker{
		outbox:      outbox,
		orders:      orders,
		mailer:      mailer,
		broadcaster: broadcaster,
		shipments:   shipments,
		logger:      logger.With().Str("service", "notify").Logger(),
	}
}

// Start launches the polling loop. It returns immediately.
func (w *Worker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})

	go func() {
		defer close(w.done)

		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()

		w.logger.Info().Dur("interval", pollInterval).Msg("outbox worker started")

		for {
			select {
			case <-ctx.Done():
				w.logger.Info().Msg("outbox worker stopped")
				return
			case <-ticker.C:
				w.Drain(ctx)
			}
		}
	}()
}

// Stop cancels the loop and waits for the in-flight batch to finish.
func (w *Worker) Stop() {
	if w.cancel == nil {
		return
	}
	w.cancel()
	<-w.done
}

// Drain claims one batch of due jobs and runs them. Each job fails or
// succeeds independently.
func (w *Worker) Drain(ctx context.Context) {
	jobs, err := w.outbox.Due(ctx, batchSize)
	if err != nil {
		w.logger.Error().Err(err).Msg("failed to claim outbox jobs")
		return
	}

	for _, job := range jobs {
		if err := w.handle(ctx, job); err != nil {
			w.logger.Error().
				Err(err).
				Int64("job_id", job.ID).
				Str("kind", job.Kind).
				Int("retry_count", job.RetryCount).
				Msg("job failed")
			if err := w.outbox.MarkFailed(ctx, job.ID, maxAttempts); err != nil {
				w.logger.Error().Err(err).Int64("job_id", job.ID).Msg("failed to record job failure")
			}
			continue
		}
		if err := w.outbox.MarkDone(ctx, job.ID); err != nil {
			w.logger.Error().Err(err).Int64("job_id", job.ID).Msg("failed to finish job")
		}
	}
}

func (w *Worker) handle(ctx context.Context, job model.OutboxJob) error {
	switch job.Kind {
	case model.JobOrderCreated:
		return w.orderCreated(ctx, job.Payload)
	case model.JobPendingReminder:
		return w.pendingReminder(ctx, job.Payload)
	case model.JobPaymentExpired:
		return w.paymentExpired(ctx, job.Payload)
	case model.JobStatusChanged:
		return w.statusChanged(ctx, job.Payload)
	case model.JobCreateShipment:
		return w.createShipment(ctx, job.Payload)
	default:
		return fmt.Errorf("unknown job kind %q", job.Kind)
	}
}

func (w *Worker) orderCreated(ctx context.Context, payload []byte) error {
	o, err := w.loadOrder(ctx, payload)
	if err != nil {
		return err
	}
	return w.mail(ctx, o,
		fmt.Sprintf("Recibimos tu pedido %s", o.OrderNumber),
		fmt.Sprintf("Tu pedido %s por %s quedó registrado y está esperando el pago.\n"+
			"Completá el pago para que podamos prepararlo.", o.OrderNumber, o.Total))
}

func (w *Worker) pendingReminder(ctx context.Context, payload []byte) error {
	o, err := w.loadOrder(ctx, payload)
	if err != nil {
		return err
	}
	// The order may have been paid or cancelled since the reminder was
	// queued. Only still-pending orders get the nudge.
	if o.Status != model.OrderStatusPending || o.PaymentStatus != model.PaymentStatusPending {
		return nil
	}
	return w.mail(ctx, o,
		fmt.Sprintf("Tu pedido %s sigue esperando el pago", o.OrderNumber),
		fmt.Sprintf("Todavía no recibimos el pago de tu pedido %s por %s.\n"+
			"Si no se acredita, el pedido se cancela y el stock se libera.", o.OrderNumber, o.Total))
}

func (w *Worker) paymentExpired(ctx context.Context, payload []byte) error {
	o, err := w.loadOrder(ctx, payload)
	if err != nil {
		return err
	}
	return w.mail(ctx, o,
		fmt.Sprintf("Pedido %s cancelado", o.OrderNumber),
		fmt.Sprintf("Cancelamos tu pedido %s porque el pago no se acreditó a tiempo.\n"+
			"Podés volver a comprar cuando quieras.", o.OrderNumber))
}

func (w *Worker) statusChanged(ctx context.Context, payload []byte) error {
	var change model.StatusChangedPayload
	if err := json.Unmarshal(payload, &change); err != nil {
		return fmt.Errorf("unmarshal status change: %w", err)
	}

	if err := w.broadcaster.OrderStatusChanged(ctx, change); err != nil {
		return err
	}

	// Mail only the milestones customers care about.
	var subject, body string
	switch change.Status {
	case model.OrderStatusProcessing:
		subject = fmt.Sprintf("Pago confirmado para el pedido %s", change.OrderNumber)
		body = fmt.Sprintf("Recibimos el pago de tu pedido %s. Ya lo estamos preparando.", change.OrderNumber)
	case model.OrderStatusShipped:
		subject = fmt.Sprintf("Tu pedido %s está en camino", change.OrderNumber)
		body = fmt.Sprintf("Despachamos tu pedido %s.", change.OrderNumber)
	case model.OrderStatusDelivered:
		subject = fmt.Sprintf("Tu pedido %s fue entregado", change.OrderNumber)
		body = fmt.Sprintf("Tu pedido %s figura como entregado. ¡Gracias por tu compra!", change.OrderNumber)
	default:
		return nil
	}

	o, err := w.orders.GetByID(ctx, change.OrderID)
	if err != nil {
		return err
	}
	return w.mail(ctx, o, subject, body)
}

func (w *Worker) createShipment(ctx context.Context, payload []byte) error {
	o, err := w.loadOrder(ctx, payload)
	if err != nil {
		return err
	}

	// The job may be a retry after a crash between carrier call and
	// tracking write, or the order may have moved on. Re-check first.
	if o.TrackingNumber != nil {
		return nil
	}
	if o.Status != model.OrderStatusProcessing || o.PaymentStatus != model.PaymentStatusPaid {
		w.logger.Warn().
			Str("order_id", o.ID.String()).
			Str("status", string(o.Status)).
			Msg("skipping shipment for order no longer in fulfilment")
		return nil
	}

	shipment, err := w.shipments.CreateShipment(ctx, o)
	if err != nil {
		return fmt.Errorf("create shipment: %w", err)
	}
	if err := w.orders.SetTracking(ctx, o.ID, shipment.TrackingNumber); err != nil {
		return err
	}

	w.logger.Info().
		Str("order_id", o.ID.String()).
		Str("tracking_number", shipment.TrackingNumber).
		Msg("shipment created for order")
	return nil
}

func (w *Worker) loadOrder(ctx context.Context, payload []byte) (*model.Order, error) {
	var ref model.OrderRefPayload
	if err := json.Unmarshal(payload, &ref); err != nil {
		return nil, fmt.Errorf("unmarshal order reference: %w", err)
	}
	o, err := w.orders.GetByID(ctx, ref.OrderID)
	if err != nil {
		return nil, err
	}
	return o, nil
}

func (w *Worker) mail(ctx context.Context, o *model.Order, subject, body string) error {
	to := o.ShippingAddress.Email
	if to == "" {
		w.logger.Warn().Str("order_id", o.ID.String()).Msg("order has no email address, skipping mail")
		return nil
	}
	return w.mailer.Send(ctx, to, subject, body)
}
