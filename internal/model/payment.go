package model

import (
	"time"

	"github.com/google/uuid"

	"tienda/internal/money"
)

// Payment is one payment attempt against an order. An order may accumulate
// several attempts; at most one reaches paid. The payment ID doubles as the
// external reference attached to the gateway preference.
type Payment struct {
	ID          uuid.UUID     `json:"id" db:"id"`
	OrderID     uuid.UUID     `json:"orderId" db:"order_id"`
	ExternalID  *string       `json:"externalId,omitempty" db:"external_id"`
	Status      PaymentStatus `json:"status" db:"status"`
	Amount      money.Money   `json:"amount" db:"amount"`
	Method      string        `json:"method" db:"method"`
	RawMetadata []byte        `json:"-" db:"raw_metadata"`
	CreatedAt   time.Time     `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time     `json:"updatedAt" db:"updated_at"`
}
