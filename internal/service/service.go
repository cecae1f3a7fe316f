// Package service implements the business operations behind the HTTP
// surface: cart management, checkout and order administration.
package service

import (
	"context"

	"github.com/google/uuid"

	"tienda/internal/model"
)

// CartService defines cart operations.
type CartService interface {
	// GetForUser retrieves or creates the user's cart.
	GetForUser(ctx context.Context, userID uuid.UUID) (*model.Cart, error)

	// GetForSession retrieves or creates an anonymous session cart.
	GetForSession(ctx context.Context, sessionID string) (*model.Cart, error)

	// AddItem puts a product into the cart or replaces the quantity of
	// an existing line. Quantity zero removes the line.
	AddItem(ctx context.Context, cartID uuid.UUID, req model.AddItemRequest) error

	// RemoveItem drops one line from the cart.
	RemoveItem(ctx context.Context, cartID, productID uuid.UUID, variantID *uuid.UUID) error

	// Clear empties the cart.
	Clear(ctx context.Context, cartID uuid.UUID) error

	// MergeOnLogin folds the session cart into the user cart.
	MergeOnLogin(ctx context.Context, sessionID string, userID uuid.UUID) error

	// Totals prices the cart against the current catalogue.
	Totals(ctx context.Context, cartID uuid.UUID) (*model.CartTotals, error)
}

// CheckoutService converts carts into orders.
type CheckoutService interface {
	// CreateOrder validates the request, snapshots prices, applies the
	// coupon, reserves stock and creates the order with its pending
	// payment, then creates the gateway preference for redirection.
	CreateOrder(ctx context.Context, req *model.CheckoutRequest) (*model.CheckoutResponse, error)
}

// OrderService defines order reads and operator moves.
type OrderService interface {
	// GetByID retrieves an order with items and history.
	GetByID(ctx context.Context, id uuid.UUID) (*model.Order, error)

	// GetByNumber retrieves an order by its human-readable number.
	GetByNumber(ctx context.Context, number string) (*model.Order, error)

	// ListPayments returns the payment attempts for an order.
	ListPayments(ctx context.Context, orderID uuid.UUID) ([]model.Payment, error)

	// UpdateOrderStatus applies an operator move through the state
	// machine. Moves the current state does not permit return
	// ErrInvalidOperation.
	UpdateOrderStatus(ctx context.Context, id uuid.UUID, target model.OrderStatus) (*model.Order, error)

	// CancelOrder cancels a pending or processing order, releasing its
	// reserved stock.
	CancelOrder(ctx context.Context, id uuid.UUID, actor string) (*model.Order, error)
}
