// Package reconciler turns gateway webhook deliveries into order state
// transitions. Webhook bodies are treated as hints only: the authoritative
// payment state is always re-fetched from the gateway before any write, so
// a forged or stale notification can never move an order.
package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"tienda/internal/gateway/mercadopago"
	"tienda/internal/model"
	"tienda/internal/order"
	"tienda/internal/repository"
)

// Result reports what a webhook delivery amounted to. Every Action other
// than ActionApplied is acknowledged without writes.
type Result struct {
	Action  string
	OrderID uuid.UUID
}

// Webhook outcomes.
const (
	// ActionIgnored covers malformed bodies, non-payment topics and
	// notifications that reference nothing we know about.
	ActionIgnored = "ignored"
	// ActionDuplicate means the same payment+status was already handled.
	ActionDuplicate = "duplicate"
	// ActionNoop means the transition guard found nothing to change.
	ActionNoop = "noop"
	// ActionApplied means an order transition was committed.
	ActionApplied = "applied"
)

// PaymentFetcher fetches authoritative payment state from the gateway.
type PaymentFetcher interface {
	GetPayment(ctx context.Context, paymentID string) (*mercadopago.PaymentSnapshot, error)
}

// Reconciler processes payment webhooks.
type Reconciler struct {
	orders   repository.OrderRepository
	payments repository.PaymentRepository
	products repository.ProductRepository
	outbox   repository.OutboxRepository
	gateway  PaymentFetcher
	seen     SeenStore
	logger   zerolog.Logger
}

// New creates a Reconciler. seen may be nil, which disables the duplicate
// fast path without affecting correctness.
func New(
	orders repository.OrderRepository,
	payments repository.PaymentRepository,
	products repository.ProductRepository,
	outbox repository.OutboxRepository,
	gateway PaymentFetcher,
	seen SeenStore,
	logger zerolog.Logger,
) *Reconciler {
	return &Reconciler{
		orders:   orders,
		payments: payments,
		products: products,
		outbox:   outbox,
		gateway:  gateway,
		seen:     seen,
		logger:   logger.With().Str("service", "reconciler").Logger(),
	}
}

// webhookBody is the notification envelope the gateway posts.
type webhookBody struct {
	Type string `json:"type"`
	Data struct {
		ID json.Number `json:"id"`
	} `json:"data"`
}

// ProcessWebhook handles one webhook delivery. It returns an error only
// for infrastructure failures the gateway should retry; every business
// outcome, including duplicates, unknown references and guard no-ops, is
// acknowledged so retries stop.
func (r *Reconciler) ProcessWebhook(ctx context.Context, body []byte) (Result, error) {
	var hook webhookBody
	if err := json.Unmarshal(body, &hook); err != nil {
		r.logger.Warn().Err(err).Msg("discarding malformed webhook body")
		return Result{Action: ActionIgnored}, nil
	}
	if hook.Type != "payment" || hook.Data.ID == "" {
		r.logger.Debug().Str("type", hook.Type).Msg("ignoring non-payment webhook")
		return Result{Action: ActionIgnored}, nil
	}

	snapshot, err := r.gateway.GetPayment(ctx, hook.Data.ID.String())
	if err != nil {
		var gatewayErr *mercadopago.GatewayError
		if errors.As(err, &gatewayErr) && !gatewayErr.Retryable {
			// The gateway does not know this payment. Nothing to
			// reconcile against, so stop the retries.
			r.logger.Warn().
				Str("gateway_payment_id", hook.Data.ID.String()).
				Int("status", gatewayErr.StatusCode).
				Msg("webhook references a payment the gateway rejects")
			return Result{Action: ActionIgnored}, nil
		}
		return Result{}, fmt.Errorf("fetch payment %s: %w", hook.Data.ID, err)
	}

	status := mercadopago.MapStatus(snapshot.Status)
	dedupKey := fmt.Sprintf("payment:%s:%s", snapshot.ID, status)

	if r.seen != nil {
		seen, err := r.seen.Seen(ctx, dedupKey)
		if err != nil {
			// Dedup is best effort. Guards below make replays harmless.
			r.logger.Warn().Err(err).Msg("seen store unavailable, processing without dedup")
		} else if seen {
			r.logger.Debug().
				Str("gateway_payment_id", snapshot.ID).
				Str("payment_status", string(status)).
				Msg("duplicate webhook delivery")
			return Result{Action: ActionDuplicate}, nil
		}
	}

	paymentID, err := uuid.Parse(snapshot.ExternalReference)
	if err != nil {
		r.logger.Warn().
			Str("gateway_payment_id", snapshot.ID).
			Str("external_reference", snapshot.ExternalReference).
			Msg("webhook payment carries an unusable external reference")
		return Result{Action: ActionIgnored}, nil
	}

	payment, err := r.payments.GetByID(ctx, paymentID)
	if err != nil {
		var notFound *model.NotFoundError
		if errors.As(err, &notFound) {
			r.logger.Warn().
				Str("payment_id", paymentID.String()).
				Str("gateway_payment_id", snapshot.ID).
				Msg("webhook references an unknown payment attempt")
			return Result{Action: ActionIgnored}, nil
		}
		return Result{}, fmt.Errorf("load payment %s: %w", paymentID, err)
	}

	result, err := r.reconcile(ctx, payment, snapshot, status)
	if err != nil {
		return Result{}, err
	}

	// Marked only after the transaction committed. A delivery that failed
	// mid-flight leaves no trace here, so its redelivery is processed in
	// full instead of short-circuited as a duplicate.
	if r.seen != nil {
		if err := r.seen.Mark(ctx, dedupKey); err != nil {
			r.logger.Warn().Err(err).Msg("seen store unavailable, delivery not recorded")
		}
	}

	return result, nil
}

// reconcile applies the authoritative payment state to the order inside a
// single transaction holding the order row lock.
func (r *Reconciler) reconcile(ctx context.Context, payment *model.Payment, snapshot *mercadopago.PaymentSnapshot, status model.PaymentStatus) (Result, error) {
	tx, err := r.orders.BeginTx(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("begin reconcile tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := r.payments.UpdateFromGateway(ctx, tx, payment.ID, snapshot.ID, status, snapshot.Raw); err != nil {
		return Result{}, fmt.Errorf("record gateway payment state: %w", err)
	}

	ev, ok := order.EventForPaymentStatus(status)
	if !ok {
		// Still pending at the gateway. The payment snapshot above is
		// worth keeping; the order does not move.
		if err := tx.Commit(ctx); err != nil {
			return Result{}, fmt.Errorf("commit reconcile tx: %w", err)
		}
		return Result{Action: ActionNoop, OrderID: payment.OrderID}, nil
	}

	// Guards evaluate against the row-locked snapshot, never the webhook.
	o, err := r.orders.GetByIDForUpdate(ctx, tx, payment.OrderID)
	if err != nil {
		return Result{}, fmt.Errorf("lock order %s: %w", payment.OrderID, err)
	}

	out, err := order.Transition(o, ev)
	if err != nil {
		return Result{}, fmt.Errorf("transition order %s on %s: %w", o.ID, ev, err)
	}
	if out.Noop {
		if err := tx.Commit(ctx); err != nil {
			return Result{}, fmt.Errorf("commit reconcile tx: %w", err)
		}
		return Result{Action: ActionNoop, OrderID: o.ID}, nil
	}

	if err := r.orders.ApplyTransition(ctx, tx, o, out, model.ActorSystem); err != nil {
		return Result{}, fmt.Errorf("apply transition for order %s: %w", o.ID, err)
	}
	if out.ReleaseStock {
		if err := r.products.Release(ctx, tx, o.Items); err != nil {
			return Result{}, fmt.Errorf("release stock for order %s: %w", o.ID, err)
		}
	}

	// Follow-up jobs ride the transition transaction so a crash can never
	// commit the state change but lose its notifications or shipment.
	if err := r.enqueueFollowups(ctx, tx, o, out); err != nil {
		return Result{}, fmt.Errorf("enqueue followups for order %s: %w", o.ID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Result{}, fmt.Errorf("commit reconcile tx: %w", err)
	}

	r.logger.Info().
		Str("order_id", o.ID.String()).
		Str("order_number", o.OrderNumber).
		Str("event", string(ev)).
		Str("status", string(out.Status)).
		Str("payment_status", string(out.PaymentStatus)).
		Msg("order reconciled from webhook")

	return Result{Action: ActionApplied, OrderID: o.ID}, nil
}

func (r *Reconciler) enqueueFollowups(ctx context.Context, tx pgx.Tx, o *model.Order, out order.Outcome) error {
	now := time.Now().UTC()

	if out.StatusChanged {
		payload, _ := json.Marshal(model.StatusChangedPayload{
			OrderID:       o.ID,
			OrderNumber:   o.OrderNumber,
			Status:        out.Status,
			PaymentStatus: out.PaymentStatus,
		})
		if err := r.outbox.Enqueue(ctx, tx, model.JobStatusChanged, payload, now); err != nil {
			return err
		}
	}

	// A fresh approval on a live order kicks off fulfilment.
	if out.Status == model.OrderStatusProcessing && out.StatusChanged {
		payload, _ := json.Marshal(model.ShipmentPayload{OrderID: o.ID})
		if err := r.outbox.Enqueue(ctx, tx, model.JobCreateShipment, payload, now); err != nil {
			return err
		}
	}
	return nil
}
