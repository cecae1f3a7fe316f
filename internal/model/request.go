package model

import (
	"github.com/google/uuid"

	"tienda/internal/money"
)

// CheckoutRequest converts a cart into an order. UserID is nil for guest
// checkout; the shipping address email is the contact either way.
type CheckoutRequest struct {
	CartID          uuid.UUID   `json:"cartId"`
	UserID          *uuid.UUID  `json:"userId,omitempty"`
	CouponCode      *string     `json:"couponCode,omitempty"`
	PaymentMethod   string      `json:"paymentMethod"`
	Notes           string      `json:"notes,omitempty"`
	ShippingCost    money.Money `json:"shippingCost"`
	ShippingAddress Address     `json:"shippingAddress"`
	BillingAddress  *Address    `json:"billingAddress,omitempty"`
}

// CheckoutResponse carries the created order, its pending payment attempt
// and the gateway URL the customer must be redirected to.
type CheckoutResponse struct {
	Order      *Order   `json:"order"`
	Payment    *Payment `json:"payment"`
	PaymentURL string   `json:"paymentUrl,omitempty"`
}

// AddItemRequest puts a product into a cart, or replaces the quantity if
// the line already exists.
type AddItemRequest struct {
	ProductID uuid.UUID  `json:"productId"`
	VariantID *uuid.UUID `json:"variantId,omitempty"`
	Quantity  int        `json:"quantity"`
}

// UpdateStatusRequest is an operator move on an order.
type UpdateStatusRequest struct {
	Status OrderStatus `json:"status"`
}
