// Package order implements the order lifecycle state machine. Transitions
// are pure: they evaluate a guard against the order snapshot the caller
// passes in and describe the resulting writes without performing them.
// Callers re-read the order under a row lock before calling Transition so
// guards always see fresh state.
package order

import (
	"tienda/internal/model"
)

// Event triggers a state machine transition.
type Event string

const (
	EventPaymentApproved Event = "payment_approved"
	EventPaymentFailed   Event = "payment_failed"
	EventPaymentRefunded Event = "payment_refunded"
	EventExpire          Event = "expire"
	EventCancel          Event = "cancel"
	EventMarkShipped     Event = "mark_shipped"
	EventMarkDelivered   Event = "mark_delivered"
)

// Outcome describes the writes a transition requires. Noop outcomes mean
// the event was already applied (duplicate webhook, repeated release) and
// nothing must change, including no new history row.
type Outcome struct {
	Status        model.OrderStatus
	PaymentStatus model.PaymentStatus
	SetPaidAt     bool
	ReleaseStock  bool
	HistoryLabel  string
	StatusChanged bool
	Noop          bool
}

// Transition evaluates the guard table for ev against the order snapshot.
// It returns model.ErrInvalidOperation for admin moves the current state
// does not permit; asynchronous payment events never error, they degrade
// to no-ops so webhook retries stay silent.
func Transition(o *model.Order, ev Event) (Outcome, error) {
	out := Outcome{
		Status:        o.Status,
		PaymentStatus: o.PaymentStatus,
	}

	switch ev {
	case EventPaymentApproved:
		// Idempotence guard: a second approval changes nothing.
		if o.PaymentStatus == model.PaymentStatusPaid {
			out.Noop = true
			return out, nil
		}
		out.PaymentStatus = model.PaymentStatusPaid
		out.SetPaidAt = o.PaidAt == nil
		if o.Status == model.OrderStatusCancelled {
			// A late gateway callback must not resurrect a cancelled
			// order: its stock was already released and possibly resold.
			// Payment status still moves to paid for accounting, and the
			// distinct label lets operators reconcile manually.
			out.HistoryLabel = model.HistoryLatePayment
			return out, nil
		}
		if o.Status == model.OrderStatusPending {
			out.Status = model.OrderStatusProcessing
			out.StatusChanged = true
		}
		out.HistoryLabel = model.HistoryPaymentConfirmed
		return out, nil

	case EventPaymentFailed:
		if o.PaymentStatus != model.PaymentStatusPending {
			out.Noop = true
			return out, nil
		}
		out.PaymentStatus = model.PaymentStatusFailed
		out.HistoryLabel = model.HistoryPaymentFailed
		return out, nil

	case EventPaymentRefunded:
		if o.PaymentStatus != model.PaymentStatusPaid {
			out.Noop = true
			return out, nil
		}
		out.PaymentStatus = model.PaymentStatusRefunded
		if o.Status != model.OrderStatusCancelled {
			out.Status = model.OrderStatusRefunded
			out.StatusChanged = true
		}
		out.HistoryLabel = model.HistoryPaymentRefunded
		return out, nil

	case EventExpire:
		// Age is filtered by the sweep query; the guard re-checks state
		// because a webhook may have landed between select and lock.
		if o.Status != model.OrderStatusPending || o.PaymentStatus != model.PaymentStatusPending {
			out.Noop = true
			return out, nil
		}
		out.Status = model.OrderStatusCancelled
		out.PaymentStatus = model.PaymentStatusCancelled
		out.StatusChanged = true
		out.ReleaseStock = !o.StockReleased()
		out.HistoryLabel = model.HistoryExpired
		return out, nil

	case EventCancel:
		if o.Status != model.OrderStatusPending && o.Status != model.OrderStatusProcessing {
			return out, model.ErrInvalidOperation
		}
		out.Status = model.OrderStatusCancelled
		out.StatusChanged = true
		if o.PaymentStatus == model.PaymentStatusPending {
			out.PaymentStatus = model.PaymentStatusCancelled
		}
		out.ReleaseStock = !o.StockReleased()
		out.HistoryLabel = model.HistoryCancelled
		return out, nil

	case EventMarkShipped:
		if o.PaymentStatus != model.PaymentStatusPaid || o.Status != model.OrderStatusProcessing {
			return out, model.ErrInvalidOperation
		}
		out.Status = model.OrderStatusShipped
		out.StatusChanged = true
		out.HistoryLabel = model.HistoryShipped
		return out, nil

	case EventMarkDelivered:
		if o.PaymentStatus != model.PaymentStatusPaid || o.Status != model.OrderStatusShipped {
			return out, model.ErrInvalidOperation
		}
		out.Status = model.OrderStatusDelivered
		out.StatusChanged = true
		out.HistoryLabel = model.HistoryDelivered
		return out, nil
	}

	return out, model.ErrInvalidOperation
}

// EventForPaymentStatus maps an internal payment status reported by the
// gateway onto the event the reconciler should apply.
func EventForPaymentStatus(status model.PaymentStatus) (Event, bool) {
	switch status {
	case model.PaymentStatusPaid:
		return EventPaymentApproved, true
	case model.PaymentStatusFailed:
		return EventPaymentFailed, true
	case model.PaymentStatusCancelled:
		return EventPaymentFailed, true
	case model.PaymentStatusRefunded:
		return EventPaymentRefunded, true
	default:
		return "", false
	}
}

// EventForStatusUpdate maps an admin-requested target status onto an
// event, so operator tooling goes through the same guard table.
func EventForStatusUpdate(target model.OrderStatus) (Event, bool) {
	switch target {
	case model.OrderStatusShipped:
		return EventMarkShipped, true
	case model.OrderStatusDelivered:
		return EventMarkDelivered, true
	case model.OrderStatusCancelled:
		return EventCancel, true
	default:
		return "", false
	}
}
