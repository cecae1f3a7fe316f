package handler

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tienda/internal/model"
	"tienda/internal/service"
)

// CartHandler handles cart-related HTTP requests.
type CartHandler struct {
	service service.CartService
	logger  zerolog.Logger
}

// NewCartHandler creates a new cart handler.
func NewCartHandler(service service.CartService, logger zerolog.Logger) *CartHandler {
	return &CartHandler{
		service: service,
		logger:  logger.With().Str("handler", "cart").Logger(),
	}
}

// Get handles GET /api/cart requests. The cart is looked up (or created)
// for either a userId or a sessionId query parameter.
func (h *CartHandler) Get(w http.ResponseWriter, r *http.Request) {
	var (
		cart *model.Cart
		err  error
	)

	switch {
	case r.URL.Query().Get("userId") != "":
		userID, perr := uuid.Parse(r.URL.Query().Get("userId"))
		if perr != nil {
			writeError(w, http.StatusBadRequest, "invalid userId", h.logger)
			return
		}
		cart, err = h.service.GetForUser(r.Context(), userID)
	case r.URL.Query().Get("sessionId") != "":
		cart, err = h.service.GetForSession(r.Context(), r.URL.Query().Get("sessionId"))
	default:
		writeError(w, http.StatusBadRequest, "userId or sessionId is required", h.logger)
		return
	}

	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, cart)
}

// AddItem handles PUT /api/carts/{id}/items requests. Sending an existing
// line replaces its quantity; quantity zero removes the line.
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	cartID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid cart ID", h.logger)
		return
	}

	var req model.AddItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", h.logger)
		return
	}

	if err := h.service.AddItem(r.Context(), cartID, req); err != nil {
		writeServiceError(w, err, h.logger)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RemoveItem handles DELETE /api/carts/{id}/items/{productId} requests.
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	cartID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid cart ID", h.logger)
		return
	}
	productID, err := uuid.Parse(r.PathValue("productId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid product ID", h.logger)
		return
	}

	var variantID *uuid.UUID
	if raw := r.URL.Query().Get("variantId"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid variantId", h.logger)
			return
		}
		variantID = &id
	}

	if err := h.service.RemoveItem(r.Context(), cartID, productID, variantID); err != nil {
		writeServiceError(w, err, h.logger)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Clear handles DELETE /api/carts/{id}/items requests.
func (h *CartHandler) Clear(w http.ResponseWriter, r *http.Request) {
	cartID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid cart ID", h.logger)
		return
	}

	if err := h.service.Clear(r.Context(), cartID); err != nil {
		writeServiceError(w, err, h.logger)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Totals handles GET /api/carts/{id}/totals requests. Lines are priced
// against the current catalogue on every call.
func (h *CartHandler) Totals(w http.ResponseWriter, r *http.Request) {
	cartID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid cart ID", h.logger)
		return
	}

	totals, err := h.service.Totals(r.Context(), cartID)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, totals)
}

// Merge handles POST /api/cart/merge requests, folding an anonymous
// session cart into the user's cart after login.
func (h *CartHandler) Merge(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string    `json:"sessionId"`
		UserID    uuid.UUID `json:"userId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", h.logger)
		return
	}
	if req.UserID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "userId is required", h.logger)
		return
	}

	if err := h.service.MergeOnLogin(r.Context(), req.SessionID, req.UserID); err != nil {
		writeServiceError(w, err, h.logger)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
