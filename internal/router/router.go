package router

import (
	"net/http"

	"github.com/rs/zerolog"

	"tienda/internal/handler"
	"tienda/internal/middleware"
)

// New creates a new HTTP router with all routes and middleware configured.
func New(
	cartHandler *handler.CartHandler,
	checkoutHandler *handler.CheckoutHandler,
	orderHandler *handler.OrderHandler,
	webhookHandler *handler.WebhookHandler,
	apiKey string,
	logger zerolog.Logger,
) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint (no authentication required)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status": "healthy"}`))
	})

	// Payment gateway webhook ingress (no authentication; the reconciler
	// treats the body as a hint and re-fetches the authoritative state)
	mux.HandleFunc("POST /webhooks/mercadopago", webhookHandler.Receive)

	// Storefront cart routes
	mux.HandleFunc("GET /api/cart", cartHandler.Get)
	mux.HandleFunc("POST /api/cart/merge", cartHandler.Merge)
	mux.HandleFunc("PUT /api/carts/{id}/items", cartHandler.AddItem)
	mux.HandleFunc("DELETE /api/carts/{id}/items", cartHandler.Clear)
	mux.HandleFunc("DELETE /api/carts/{id}/items/{productId}", cartHandler.RemoveItem)
	mux.HandleFunc("GET /api/carts/{id}/totals", cartHandler.Totals)

	// Checkout
	mux.HandleFunc("POST /api/checkout", checkoutHandler.Create)

	// Order reads and customer cancellation
	mux.HandleFunc("GET /api/orders/{id}", orderHandler.Get)
	mux.HandleFunc("GET /api/orders/number/{number}", orderHandler.GetByNumber)
	mux.HandleFunc("POST /api/orders/{id}/cancel", orderHandler.Cancel)

	// Operator routes (API key required)
	mux.HandleFunc("PUT /api/admin/orders/{id}/status", orderHandler.UpdateStatus)
	mux.HandleFunc("GET /api/admin/orders/{id}/payments", orderHandler.ListPayments)

	// Apply middleware in order: Recovery -> Logging -> CORS -> AdminKeyAuth
	var h http.Handler = mux
	h = middleware.AdminKeyAuth(apiKey, logger)(h)
	h = middleware.CORS(h)
	h = middleware.Logging(logger)(h)
	h = middleware.Recovery(logger)(h)

	return h
}
