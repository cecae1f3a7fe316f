package model

import (
	"time"

	"github.com/google/uuid"
)

// Outbox job states.
const (
	OutboxStatusPending = "pending"
	OutboxStatusDone    = "done"
	OutboxStatusDead    = "dead"
)

// Outbox job kinds.
const (
	JobOrderCreated    = "notify.order_created"
	JobPendingReminder = "notify.pending_reminder"
	JobPaymentExpired  = "notify.payment_expired"
	JobStatusChanged   = "notify.status_changed"
	JobCreateShipment  = "shipping.create_shipment"
)

// StatusChangedPayload is the payload of JobStatusChanged jobs.
type StatusChangedPayload struct {
	OrderID       uuid.UUID     `json:"orderId"`
	OrderNumber   string        `json:"orderNumber"`
	Status        OrderStatus   `json:"status"`
	PaymentStatus PaymentStatus `json:"paymentStatus"`
}

// ShipmentPayload is the payload of JobCreateShipment jobs.
type ShipmentPayload struct {
	OrderID uuid.UUID `json:"orderId"`
}

// OrderRefPayload is the payload of notification jobs that only need the
// order itself, such as reminders and expiration notices.
type OrderRefPayload struct {
	OrderID uuid.UUID `json:"orderId"`
}

// OutboxJob is a durable side-effect task. Jobs survive process restarts
// and are retried with backoff until done or dead.
type OutboxJob struct {
	ID            int64     `json:"id" db:"id"`
	Kind          string    `json:"kind" db:"kind"`
	Payload       []byte    `json:"payload" db:"payload"`
	Status        string    `json:"status" db:"status"`
	RetryCount    int       `json:"retryCount" db:"retry_count"`
	NextAttemptAt time.Time `json:"nextAttemptAt" db:"next_attempt_at"`
	CreatedAt     time.Time `json:"createdAt" db:"created_at"`
}
