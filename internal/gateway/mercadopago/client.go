// Package mercadopago is the payment gateway adapter: it creates checkout
// preferences, fetches authoritative payment snapshots, and maps gateway
// statuses onto the internal payment vocabulary.
package mercadopago

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/mail"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"tienda/internal/config"
	"tienda/internal/model"
	"tienda/internal/money"
)

// GatewayError is a failed gateway call. Retryable errors (5xx, network)
// were already retried with backoff before surfacing.
type GatewayError struct {
	StatusCode int
	Retryable  bool
	Message    string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway error (status %d): %s", e.StatusCode, e.Message)
}

// PreferenceItem is one payable line in a preference request.
type PreferenceItem struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
	Currency  string  `json:"currency_id,omitempty"`
}

// Payer identifies who pays.
type Payer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// BackURLs are the redirect targets after the gateway checkout.
type BackURLs struct {
	Success string `json:"success"`
	Failure string `json:"failure"`
	Pending string `json:"pending"`
}

// PreferenceRequest is a gateway-agnostic preference to be created. The
// external reference is the internal payment id, echoed back on webhooks.
type PreferenceRequest struct {
	Items             []PreferenceItem `json:"items"`
	Payer             Payer            `json:"payer"`
	BackURLs          BackURLs         `json:"back_urls"`
	NotificationURL   string           `json:"notification_url"`
	ExternalReference string           `json:"external_reference"`
	AutoReturn        string           `json:"auto_return,omitempty"`
}

// Preference is the created gateway preference.
type Preference struct {
	ID               string `json:"id"`
	InitPoint        string `json:"init_point"`
	SandboxInitPoint string `json:"sandbox_init_point"`
}

// PaymentSnapshot is an authoritative payment state fetched from the
// gateway. Raw retains the full gateway body for audit.
type PaymentSnapshot struct {
	ID                string
	Status            string
	StatusDetail      string
	ExternalReference string
	Method            string
	Amount            money.Money
	Raw               json.RawMessage
}

// Client talks to the Mercado Pago API.
type Client struct {
	baseURL    *url.URL
	token      string
	sandbox    bool
	maxRetries uint64
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates a gateway client from configuration.
func NewClient(cfg config.MercadoPagoConfig, logger zerolog.Logger) (*Client, error) {
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse gateway url: %w", err)
	}
	if !parsed.IsAbs() {
		return nil, fmt.Errorf("gateway url must be absolute")
	}

	return &Client{
		baseURL:    parsed,
		token:      cfg.AccessToken,
		sandbox:    cfg.Sandbox,
		maxRetries: uint64(cfg.MaxRetries),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.With().Str("gateway", "mercadopago").Logger(),
	}, nil
}

// RedirectURL picks the environment-appropriate checkout URL.
func (c *Client) RedirectURL(p *Preference) string {
	if c.sandbox && p.SandboxInitPoint != "" {
		return p.SandboxInitPoint
	}
	return p.InitPoint
}

// CreatePreference validates the request and creates a gateway
// preference. Invalid input fails fast without any network call.
func (c *Client) CreatePreference(ctx context.Context, req PreferenceRequest) (*Preference, error) {
	if err := validatePreference(req); err != nil {
		return nil, err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal preference request: %w", err)
	}

	respBody, err := c.do(ctx, http.MethodPost, "/checkout/preferences", body)
	if err != nil {
		return nil, err
	}

	var pref Preference
	if err := json.Unmarshal(respBody, &pref); err != nil {
		return nil, fmt.Errorf("decode preference response: %w", err)
	}

	c.logger.Info().
		Str("preference_id", pref.ID).
		Str("external_reference", req.ExternalReference).
		Msg("preference created")

	return &pref, nil
}

// paymentResponse mirrors the gateway payment payload fields we consume.
type paymentResponse struct {
	ID                json.Number `json:"id"`
	Status            string      `json:"status"`
	StatusDetail      string      `json:"status_detail"`
	ExternalReference string      `json:"external_reference"`
	PaymentMethodID   string      `json:"payment_method_id"`
	TransactionAmount float64     `json:"transaction_amount"`
}

// GetPayment fetches an authoritative payment snapshot by the gateway's
// payment id. Webhook bodies are never trusted; this fetch is.
func (c *Client) GetPayment(ctx context.Context, paymentID string) (*PaymentSnapshot, error) {
	respBody, err := c.do(ctx, http.MethodGet, "/v1/payments/"+url.PathEscape(paymentID), nil)
	if err != nil {
		return nil, err
	}

	var data paymentResponse
	if err := json.Unmarshal(respBody, &data); err != nil {
		return nil, fmt.Errorf("decode payment response: %w", err)
	}

	amount, err := money.FromString(fmt.Sprintf("%.2f", data.TransactionAmount))
	if err != nil {
		return nil, fmt.Errorf("parse payment amount: %w", err)
	}

	return &PaymentSnapshot{
		ID:                data.ID.String(),
		Status:            data.Status,
		StatusDetail:      data.StatusDetail,
		ExternalReference: data.ExternalReference,
		Method:            data.PaymentMethodID,
		Amount:            amount,
		Raw:               json.RawMessage(respBody),
	}, nil
}

// do performs an authenticated request with exponential backoff on
// transient failures. Client errors are permanent and never retried.
func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	endpoint := *c.baseURL
	endpoint.Path = joinPath(endpoint.Path, path)

	var respBody []byte
	operation := func() error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			// Network-level failure, worth retrying.
			return err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			respBody = data
			return nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			c.logger.Warn().
				Int("status", resp.StatusCode).
				Str("path", path).
				Msg("transient gateway failure, retrying")
			return &GatewayError{StatusCode: resp.StatusCode, Retryable: true, Message: string(data)}
		default:
			c.logger.Error().
				Int("status", resp.StatusCode).
				Str("path", path).
				Str("body", string(data)).
				Msg("gateway request rejected")
			return backoff.Permanent(&GatewayError{StatusCode: resp.StatusCode, Message: string(data)})
		}
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(newExponentialBackOff(), c.maxRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return respBody, nil
}

func newExponentialBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	return b
}

func joinPath(base, p string) string {
	if base == "" || base == "/" {
		return p
	}
	return base + p
}

func validatePreference(req PreferenceRequest) error {
	if len(req.Items) == 0 {
		return model.NewValidationError("items", "at least one item is required")
	}
	for i, item := range req.Items {
		if item.Quantity <= 0 {
			return model.NewValidationError(fmt.Sprintf("items[%d].quantity", i), "quantity must be greater than zero")
		}
		if item.UnitPrice <= 0 {
			return model.NewValidationError(fmt.Sprintf("items[%d].unit_price", i), "unit price must be greater than zero")
		}
	}
	if _, err := mail.ParseAddress(req.Payer.Email); err != nil {
		return model.NewValidationError("payer.email", "a well-formed email is required")
	}
	if req.BackURLs.Success == "" || req.BackURLs.Failure == "" || req.BackURLs.Pending == "" {
		return model.NewValidationError("back_urls", "success, failure and pending URLs are all required")
	}
	return nil
}
