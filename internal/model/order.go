package model

import (
	"time"

	"github.com/google/uuid"

	"tienda/internal/money"
)

// OrderStatus is the fulfilment state of an order.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusRefunded   OrderStatus = "refunded"
)

// PaymentStatus is the payment state of an order, mirrored on Payment rows.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusPaid      PaymentStatus = "paid"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusCancelled PaymentStatus = "cancelled"
	PaymentStatusRefunded  PaymentStatus = "refunded"
)

// Address is an embedded shipping or billing address.
type Address struct {
	Name       string `json:"name"`
	Phone      string `json:"phone"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
	Email      string `json:"email,omitempty"`
}

// Order is a customer order. Status and payment status are only ever
// written through the order state machine; callers never assign them
// directly.
type Order struct {
	ID              uuid.UUID     `json:"id" db:"id"`
	OrderNumber     string        `json:"orderNumber" db:"order_number"`
	UserID          *uuid.UUID    `json:"userId,omitempty" db:"user_id"`
	Status          OrderStatus   `json:"status" db:"status"`
	PaymentStatus   PaymentStatus `json:"paymentStatus" db:"payment_status"`
	PaymentMethod   string        `json:"paymentMethod" db:"payment_method"`
	Subtotal        money.Money   `json:"subtotal" db:"subtotal"`
	ShippingCost    money.Money   `json:"shippingCost" db:"shipping_cost"`
	Discount        money.Money   `json:"discount" db:"discount"`
	Tax             money.Money   `json:"tax" db:"tax"`
	Total           money.Money   `json:"total" db:"total"`
	CouponCode      *string       `json:"couponCode,omitempty" db:"coupon_code"`
	Notes           string        `json:"notes,omitempty" db:"notes"`
	TrackingNumber  *string       `json:"trackingNumber,omitempty" db:"tracking_number"`
	ShippingAddress Address       `json:"shippingAddress" db:"shipping_address"`
	BillingAddress  Address       `json:"billingAddress" db:"billing_address"`
	PaidAt          *time.Time    `json:"paidAt,omitempty" db:"paid_at"`
	StockReleasedAt *time.Time    `json:"-" db:"stock_released_at"`
	ReminderSentAt  *time.Time    `json:"-" db:"reminder_sent_at"`
	CreatedAt       time.Time     `json:"createdAt" db:"created_at"`
	UpdatedAt       time.Time     `json:"updatedAt" db:"updated_at"`

	Items   []OrderItem          `json:"items,omitempty"`
	History []OrderStatusHistory `json:"history,omitempty"`
}

// StockReleased reports whether reserved stock was already returned.
func (o *Order) StockReleased() bool {
	return o.StockReleasedAt != nil
}

// TotalsConsistent verifies total = subtotal + shipping + tax - discount.
func (o *Order) TotalsConsistent() bool {
	expected := o.Subtotal.Add(o.ShippingCost).Add(o.Tax).Sub(o.Discount)
	return o.Total.Equal(expected)
}

// OrderItem is a line item with prices snapshotted at order time. The
// snapshot must not change if the catalogue price later changes.
type OrderItem struct {
	ID          uuid.UUID   `json:"-" db:"id"`
	OrderID     uuid.UUID   `json:"-" db:"order_id"`
	ProductID   uuid.UUID   `json:"productId" db:"product_id"`
	VariantID   *uuid.UUID  `json:"variantId,omitempty" db:"variant_id"`
	ProductName string      `json:"productName" db:"product_name"`
	UnitPrice   money.Money `json:"unitPrice" db:"unit_price"`
	Quantity    int         `json:"quantity" db:"quantity"`
	Subtotal    money.Money `json:"subtotal" db:"subtotal"`
}

// Actor values recorded on history entries.
const (
	ActorSystem = "system"
	ActorUser   = "user"
	ActorAdmin  = "admin"
)

// OrderStatusHistory is an append-only audit entry. Rows are never mutated
// or deleted; both fulfilment and payment transitions are recorded here.
// The serial id orders entries written in the same transaction, whose
// timestamps are identical.
type OrderStatusHistory struct {
	ID        int64     `json:"-" db:"id"`
	OrderID   uuid.UUID `json:"-" db:"order_id"`
	Label     string    `json:"label" db:"label"`
	Actor     string    `json:"actor" db:"actor"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// History labels written by the state machine.
const (
	HistoryOrderCreated     = "Order created"
	HistoryPaymentConfirmed = "Payment confirmed"
	HistoryLatePayment      = "Late payment received"
	HistoryPaymentFailed    = "Payment failed"
	HistoryPaymentRefunded  = "Payment refunded"
	HistoryExpired          = "Cancelled: payment not received"
	HistoryCancelled        = "Order cancelled"
	HistoryShipped          = "Order shipped"
	HistoryDelivered        = "Order delivered"
)
