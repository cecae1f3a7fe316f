package handler

import (
	"context"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"tienda/internal/reconciler"
)

// maxWebhookBody caps webhook request bodies at 1 MiB.
const maxWebhookBody = 1 << 20

// WebhookProcessor reconciles a raw webhook delivery.
type WebhookProcessor interface {
	ProcessWebhook(ctx context.Context, body []byte) (reconciler.Result, error)
}

// WebhookHandler receives payment gateway notifications.
type WebhookHandler struct {
	reconciler WebhookProcessor
	logger     zerolog.Logger
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(rec WebhookProcessor, logger zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{
		reconciler: rec,
		logger:     logger.With().Str("handler", "webhook").Logger(),
	}
}

// Receive handles POST /webhooks/mercadopago requests. Only infrastructure
// failures return a 5xx; every business outcome is acknowledged with 200 so
// the gateway stops redelivering.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body", h.logger)
		return
	}

	result, err := h.reconciler.ProcessWebhook(r.Context(), body)
	if err != nil {
		h.logger.Error().Err(err).Msg("webhook processing failed, gateway will retry")
		writeError(w, http.StatusInternalServerError, "webhook processing failed", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": result.Action})
}
