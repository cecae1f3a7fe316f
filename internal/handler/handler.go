// Package handler exposes the HTTP surface: storefront cart and checkout,
// order reads, operator moves and the payment webhook ingress.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"tienda/internal/model"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error  string            `json:"error"`
	Code   string            `json:"code,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Log the error but don't expose it to the client
		return
	}
}

// writeError writes an error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string, logger zerolog.Logger) {
	logger.Error().Str("error", message).Int("status", status).Msg("handler error")
	writeJSON(w, status, ErrorResponse{Error: message})
}

// writeServiceError maps domain errors onto HTTP status codes.
func writeServiceError(w http.ResponseWriter, err error, logger zerolog.Logger) {
	var (
		validationErr *model.ValidationError
		notFoundErr   *model.NotFoundError
		stockErr      *model.InsufficientStockError
		domainErr     *model.DomainError
	)

	switch {
	case errors.As(err, &validationErr):
		logger.Warn().Err(err).Msg("request rejected")
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:  "validation failed",
			Code:   model.ErrCodeValidation,
			Fields: validationErr.Fields,
		})
	case errors.As(err, &notFoundErr):
		logger.Warn().Err(err).Msg("entity not found")
		writeJSON(w, http.StatusNotFound, ErrorResponse{
			Error: notFoundErr.Error(),
			Code:  model.ErrCodeEntityNotFound,
		})
	case errors.As(err, &stockErr):
		logger.Warn().Err(err).Msg("stock reservation failed")
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error: stockErr.Error(),
			Code:  model.ErrCodeInsufficientStock,
		})
	case errors.As(err, &domainErr):
		status := http.StatusUnprocessableEntity
		switch domainErr.Code {
		case model.ErrCodeValidation:
			status = http.StatusBadRequest
		case model.ErrCodeInvalidOperation:
			status = http.StatusConflict
		case model.ErrCodePaymentFailed, model.ErrCodeShippingCreation:
			status = http.StatusBadGateway
		}
		logger.Warn().Err(err).Str("code", domainErr.Code).Msg("domain error")
		writeJSON(w, status, ErrorResponse{Error: domainErr.Message, Code: domainErr.Code})
	default:
		logger.Error().Err(err).Msg("handler error")
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error: "internal server error",
			Code:  model.ErrCodeInternalError,
		})
	}
}
