package stripe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/smallbiznis/invoicer/internal/providers/payment/domain"
	"github.com/stretchr/testify/require"
)

func newTestGateway(t *testing.T, handler http.HandlerFunc) domain.Gateway {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	gateway, err := NewFactory().NewGateway(domain.GatewayConfig{
		Secret:     "sk_test_123",
		BaseURL:    server.URL,
		HTTPClient: server.Client(),
	})
	require.NoError(t, err)
	return gateway
}

func TestFactoryRequiresSecret(t *testing.T) {
	_, err := NewFactory().NewGateway(domain.GatewayConfig{})
	require.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestCreateCheckoutSession(t *testing.T) {
	gateway := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		require.NoError(t, r.ParseForm())
		require.Equal(t, "payment", r.PostForm.Get("mode"))
		require.Equal(t, "101", r.PostForm.Get("client_reference_id"))
		require.Equal(t, "109000", r.PostForm.Get("line_items[0][price_data][unit_amount]"))
		require.Equal(t, "sgd", r.PostForm.Get("line_items[0][price_data][currency]"))
		require.Equal(t, "101", r.PostForm.Get("metadata[invoice_id]"))
		require.Equal(t, "http://invoicer.test/payments/success?invoice_id=101&session_id={CHECKOUT_SESSION_ID}", r.PostForm.Get("success_url"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cs_test_1","object":"checkout.session","url":"https://checkout.test/cs_test_1","payment_status":"unpaid","amount_total":109000,"currency":"sgd","client_reference_id":"101"}`))
	})

	session, err := gateway.CreateCheckoutSession(context.Background(), domain.CheckoutRequest{
		InvoiceID:     "101",
		InvoiceNumber: "INV-20240301-090000",
		AmountMinor:   109000,
		Currency:      "SGD",
		CustomerEmail: "jane@example.test",
		SuccessURL:    "http://invoicer.test/payments/success?invoice_id=101",
		CancelURL:     "http://invoicer.test/invoices/101/pay",
	})
	require.NoError(t, err)
	require.Equal(t, "cs_test_1", session.ID)
	require.Equal(t, "https://checkout.test/cs_test_1", session.URL)
	require.Equal(t, "stripe", session.Provider)
}

func TestCreateCheckoutSessionRejectsEmptyAmount(t *testing.T) {
	gateway := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("unexpected request to %s", r.URL.Path)
	})

	_, err := gateway.CreateCheckoutSession(context.Background(), domain.CheckoutRequest{
		InvoiceID:  "101",
		Currency:   "SGD",
		SuccessURL: "http://invoicer.test/ok",
		CancelURL:  "http://invoicer.test/cancel",
	})
	require.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestVerifySessionPaid(t *testing.T) {
	gateway := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/v1/checkout/sessions/cs_test_1", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cs_test_1","object":"checkout.session","payment_status":"paid","amount_total":109000,"currency":"sgd","metadata":{"invoice_id":"101"}}`))
	})

	session, err := gateway.VerifySession(context.Background(), "cs_test_1")
	require.NoError(t, err)
	require.True(t, session.Paid)
	require.Equal(t, int64(109000), session.AmountMinor)
	require.Equal(t, "SGD", session.Currency)
	require.Equal(t, "101", session.InvoiceID)
}

func TestVerifySessionNotFound(t *testing.T) {
	gateway := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","code":"resource_missing","message":"No such checkout.session"}}`))
	})

	_, err := gateway.VerifySession(context.Background(), "cs_missing")
	require.True(t, errors.Is(err, domain.ErrSessionNotFound), "got %v", err)
}

func TestVerifySessionProviderDown(t *testing.T) {
	gateway := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"type":"api_error","message":"unavailable"}}`))
	})

	_, err := gateway.VerifySession(context.Background(), "cs_test_1")
	require.ErrorIs(t, err, domain.ErrProviderUnavailable)
}
