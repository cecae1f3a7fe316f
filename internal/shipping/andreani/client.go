// Package andreani creates shipments with the Andreani carrier API once
// an order is paid. Failures surface as ShippingCreationFailed and never
// block the payment transition itself.
package andreani

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"tienda/internal/config"
	"tienda/internal/model"
)

// Shipment is a created carrier shipment.
type Shipment struct {
	TrackingNumber string `json:"numeroDeTracking"`
	LabelURL       string `json:"urlEtiqueta,omitempty"`
}

// shipmentRequest mirrors the carrier's shipment-order payload.
type shipmentRequest struct {
	OrderNumber string  `json:"numeroDePedido"`
	Recipient   party   `json:"destinatario"`
	Address     address `json:"domicilioDestino"`
}

type party struct {
	Name  string `json:"nombre"`
	Phone string `json:"telefono"`
	Email string `json:"email,omitempty"`
}

type address struct {
	Street     string `json:"calle"`
	City       string `json:"localidad"`
	State      string `json:"provincia"`
	PostalCode string `json:"codigoPostal"`
	Country    string `json:"pais"`
}

// Client talks to the Andreani API.
type Client struct {
	baseURL    *url.URL
	apiKey     string
	clientID   string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates a shipping client from configuration.
func NewClient(cfg config.AndreaniConfig, logger zerolog.Logger) (*Client, error) {
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse carrier url: %w", err)
	}
	if !parsed.IsAbs() {
		return nil, fmt.Errorf("carrier url must be absolute")
	}

	return &Client{
		baseURL:    parsed,
		apiKey:     cfg.APIKey,
		clientID:   cfg.ClientID,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.With().Str("carrier", "andreani").Logger(),
	}, nil
}

// CreateShipment registers a shipment order for a paid order.
func (c *Client) CreateShipment(ctx context.Context, o *model.Order) (*Shipment, error) {
	req := shipmentRequest{
		OrderNumber: o.OrderNumber,
		Recipient: party{
			Name:  o.ShippingAddress.Name,
			Phone: o.ShippingAddress.Phone,
			Email: o.ShippingAddress.Email,
		},
		Address: address{
			Street:     o.ShippingAddress.Line1,
			City:       o.ShippingAddress.City,
			State:      o.ShippingAddress.State,
			PostalCode: o.ShippingAddress.PostalCode,
			Country:    o.ShippingAddress.Country,
		},
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal shipment request: %w", err)
	}

	endpoint := *c.baseURL
	endpoint.Path = endpoint.Path + "/v2/ordenes-de-envio"

	var shipment *Shipment
	operation := func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		httpReq.Header.Set("x-authorization-token", c.apiKey)
		httpReq.Header.Set("x-client-id", c.clientID)
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			var s Shipment
			if err := json.Unmarshal(data, &s); err != nil {
				return backoff.Permanent(fmt.Errorf("decode shipment response: %w", err))
			}
			shipment = &s
			return nil
		case resp.StatusCode >= 500:
			c.logger.Warn().
				Int("status", resp.StatusCode).
				Str("order_number", o.OrderNumber).
				Msg("transient carrier failure, retrying")
			return fmt.Errorf("carrier error: %s", resp.Status)
		default:
			c.logger.Error().
				Int("status", resp.StatusCode).
				Str("order_number", o.OrderNumber).
				Str("body", string(data)).
				Msg("carrier rejected shipment")
			return backoff.Permanent(model.ErrShippingCreation)
		}
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(newExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}

	c.logger.Info().
		Str("order_number", o.OrderNumber).
		Str("tracking_number", shipment.TrackingNumber).
		Msg("shipment created")

	return shipment, nil
}

func newExponentialBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	return b
}
