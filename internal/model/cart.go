package model

import (
	"time"

	"github.com/google/uuid"

	"tienda/internal/money"
)

// Cart is ephemeral pre-order state owned by a user or anonymous session.
// Session carts expire after a fixed TTL and may be merged into a user
// cart on login. Checkout converts a cart into an order and clears it.
type Cart struct {
	ID        uuid.UUID  `json:"id" db:"id"`
	UserID    *uuid.UUID `json:"userId,omitempty" db:"user_id"`
	SessionID *string    `json:"-" db:"session_id"`
	ExpiresAt *time.Time `json:"-" db:"expires_at"`
	CreatedAt time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time  `json:"updatedAt" db:"updated_at"`

	Items []CartItem `json:"items,omitempty"`
}

// CartItem is a product (optionally variant) with a desired quantity.
type CartItem struct {
	ID        uuid.UUID  `json:"-" db:"id"`
	CartID    uuid.UUID  `json:"-" db:"cart_id"`
	ProductID uuid.UUID  `json:"productId" db:"product_id"`
	VariantID *uuid.UUID `json:"variantId,omitempty" db:"variant_id"`
	Quantity  int        `json:"quantity" db:"quantity"`
}

// CartTotals is the priced view of a cart computed against the current
// catalogue. Prices here are not a snapshot; snapshotting happens at
// checkout when order items are written.
type CartTotals struct {
	Subtotal  money.Money `json:"subtotal"`
	ItemCount int         `json:"itemCount"`
}
