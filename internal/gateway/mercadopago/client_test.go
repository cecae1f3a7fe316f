package mercadopago

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tienda/internal/config"
	"tienda/internal/model"
)

func newTestClient(t *testing.T, serverURL string) *Client {
	t.Helper()

	client, err := NewClient(config.MercadoPagoConfig{
		AccessToken: "TEST-token",
		BaseURL:     serverURL,
		Sandbox:     true,
		Timeout:     2 * time.Second,
		MaxRetries:  2,
	}, zerolog.Nop())
	require.NoError(t, err)
	return client
}

func validRequest() PreferenceRequest {
	return PreferenceRequest{
		Items: []PreferenceItem{
			{ID: "p1", Title: "Mate cup", Quantity: 2, UnitPrice: 10.50, Currency: "ARS"},
		},
		Payer: Payer{Name: "Ana", Email: "ana@example.com"},
		BackURLs: BackURLs{
			Success: "https://shop.example/success",
			Failure: "https://shop.example/failure",
			Pending: "https://shop.example/pending",
		},
		NotificationURL:   "https://shop.example/webhooks/mercadopago",
		ExternalReference: "9f2c7d66-1111-2222-3333-444455556666",
	}
}

func TestCreatePreference_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/checkout/preferences", r.URL.Path)
		assert.Equal(t, "Bearer TEST-token", r.Header.Get("Authorization"))

		var req PreferenceRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "9f2c7d66-1111-2222-3333-444455556666", req.ExternalReference)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(Preference{
			ID:               "pref-123",
			InitPoint:        "https://mp.example/init",
			SandboxInitPoint: "https://sandbox.mp.example/init",
		})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	pref, err := client.CreatePreference(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Equal(t, "pref-123", pref.ID)
	// sandbox client redirects to the sandbox init point
	assert.Equal(t, "https://sandbox.mp.example/init", client.RedirectURL(pref))
}

func TestCreatePreference_ValidationFailsWithoutNetworkCall(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	tests := []struct {
		name   string
		mutate func(*PreferenceRequest)
	}{
		{"no items", func(r *PreferenceRequest) { r.Items = nil }},
		{"zero quantity", func(r *PreferenceRequest) { r.Items[0].Quantity = 0 }},
		{"zero price", func(r *PreferenceRequest) { r.Items[0].UnitPrice = 0 }},
		{"bad email", func(r *PreferenceRequest) { r.Payer.Email = "not-an-email" }},
		{"missing back url", func(r *PreferenceRequest) { r.BackURLs.Pending = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(&req)

			_, err := client.CreatePreference(context.Background(), req)
			var verr *model.ValidationError
			require.ErrorAs(t, err, &verr)
		})
	}

	assert.Equal(t, int32(0), hits.Load(), "invalid input must fail fast without calling the gateway")
}

func TestCreatePreference_RetriesOnServerError(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(Preference{ID: "pref-retry"})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	pref, err := client.CreatePreference(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Equal(t, "pref-retry", pref.ID)
	assert.Equal(t, int32(2), hits.Load())
}

func TestCreatePreference_NoRetryOnClientError(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	_, err := client.CreatePreference(context.Background(), validRequest())
	var gerr *GatewayError
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, http.StatusUnauthorized, gerr.StatusCode)
	assert.False(t, gerr.Retryable)
	assert.Equal(t, int32(1), hits.Load(), "4xx must not be retried")
}

func TestCreatePreference_RetriesExhausted(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	_, err := client.CreatePreference(context.Background(), validRequest())
	var gerr *GatewayError
	require.ErrorAs(t, err, &gerr)
	assert.True(t, gerr.Retryable)
	// initial attempt + MaxRetries
	assert.Equal(t, int32(3), hits.Load())
}

func TestGetPayment(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payments/12345", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": 12345,
			"status": "approved",
			"status_detail": "accredited",
			"external_reference": "9f2c7d66-1111-2222-3333-444455556666",
			"payment_method_id": "visa",
			"transaction_amount": 40.33
		}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	snap, err := client.GetPayment(context.Background(), "12345")
	require.NoError(t, err)
	assert.Equal(t, "12345", snap.ID)
	assert.Equal(t, "approved", snap.Status)
	assert.Equal(t, "9f2c7d66-1111-2222-3333-444455556666", snap.ExternalReference)
	assert.Equal(t, "visa", snap.Method)
	assert.Equal(t, "40.33", snap.Amount.String())
	assert.NotEmpty(t, snap.Raw)
}

func TestGetPayment_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	client, err := NewClient(config.MercadoPagoConfig{
		AccessToken: "TEST-token",
		BaseURL:     server.URL,
		Timeout:     20 * time.Millisecond,
		MaxRetries:  0,
	}, zerolog.Nop())
	require.NoError(t, err)

	_, err = client.GetPayment(context.Background(), "12345")
	require.Error(t, err)
	var gerr *GatewayError
	// timeout is a transport failure, not a gateway verdict
	assert.False(t, errors.As(err, &gerr))
}

func TestMapStatus(t *testing.T) {
	tests := []struct {
		gateway string
		want    model.PaymentStatus
	}{
		{"approved", model.PaymentStatusPaid},
		{"pending", model.PaymentStatusPending},
		{"in_process", model.PaymentStatusPending},
		{"authorized", model.PaymentStatusPending},
		{"rejected", model.PaymentStatusFailed},
		{"cancelled", model.PaymentStatusCancelled},
		{"expired", model.PaymentStatusCancelled},
		{"refunded", model.PaymentStatusRefunded},
		{"charged_back", model.PaymentStatusRefunded},
		{"some_new_status", model.PaymentStatusFailed},
		{"", model.PaymentStatusFailed},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, MapStatus(tt.gateway), "status %q", tt.gateway)
	}
}

func TestNewClient_RejectsRelativeURL(t *testing.T) {
	_, err := NewClient(config.MercadoPagoConfig{BaseURL: "/not-absolute"}, zerolog.Nop())
	assert.Error(t, err)
}
