package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	stringadapter "github.com/casbin/casbin/v2/persist/string-adapter"
	"github.com/gin-gonic/gin"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/invoicer/internal/authorization"
	invoicedomain "github.com/smallbiznis/invoicer/internal/invoice/domain"
	"github.com/smallbiznis/invoicer/internal/invoice/invoicetest"
	"github.com/smallbiznis/invoicer/internal/observability"
	paymentrepository "github.com/smallbiznis/invoicer/internal/payment/repository"
	paymentservice "github.com/smallbiznis/invoicer/internal/payment/service"
	gatewaydomain "github.com/smallbiznis/invoicer/internal/providers/payment/domain"
	"github.com/smallbiznis/invoicer/internal/ratelimit"
	"github.com/smallbiznis/invoicer/internal/reporting"
	"github.com/smallbiznis/invoicer/internal/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeGateway struct {
	mu       sync.Mutex
	sessions int
	verified gatewaydomain.VerifiedSession
}

func (f *fakeGateway) Name() string        { return "stripe" }
func (f *fakeGateway) DisplayName() string { return "Stripe" }

func (f *fakeGateway) CreateCheckoutSession(ctx context.Context, req gatewaydomain.CheckoutRequest) (gatewaydomain.CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions++
	f.verified = gatewaydomain.VerifiedSession{
		ID:          "cs_test",
		Paid:        true,
		AmountMinor: req.AmountMinor,
		Currency:    req.Currency,
		InvoiceID:   req.InvoiceID,
	}
	return gatewaydomain.CheckoutSession{ID: "cs_test", URL: "https://checkout.test/cs_test", Provider: "stripe"}, nil
}

func (f *fakeGateway) VerifySession(ctx context.Context, sessionID string) (gatewaydomain.VerifiedSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sessionID != f.verified.ID {
		return gatewaydomain.VerifiedSession{}, gatewaydomain.ErrSessionNotFound
	}
	return f.verified, nil
}

type testServer struct {
	h       *invoicetest.Harness
	gateway *fakeGateway
	engine  *gin.Engine
}

func newTestServer(t *testing.T, limiter *ratelimit.CheckoutLimiter) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	h := invoicetest.New(t)
	enforcer, err := authorization.NewEnforcerWithAdapter(stringadapter.NewAdapter("p, role:staff, invoice, invoice.view"))
	require.NoError(t, err)
	authz := authorization.NewService(authorization.Params{Log: h.Log, Enforcer: enforcer, AuditSvc: h.Audit})

	gateway := &fakeGateway{}
	payments := paymentservice.NewService(paymentservice.Params{
		DB:            h.DB,
		Log:           h.Log,
		GenID:         h.Node,
		Clock:         h.Clock,
		Config:        h.Config,
		Repo:          paymentrepository.Provide(),
		InvoiceRepo:   h.Repo,
		Invoices:      h.Invoices,
		Notifications: h.Notifications,
		Gateway:       gateway,
		AuditSvc:      h.Audit,
		Metrics:       h.Metrics,
	})

	srv := NewServer(ServerParams{
		Gin:             NewEngine(observability.Config{Environment: "test"}, zap.NewNop(), nil),
		Cfg:             h.Config,
		Log:             h.Log,
		AuthzSvc:        authz,
		AuditSvc:        h.Audit,
		ClientSvc:       h.Clients,
		CatalogSvc:      h.Catalog,
		SettingsSvc:     h.Settings,
		InvoiceSvc:      h.Invoices,
		PaymentSvc:      payments,
		NotificationSvc: h.Notifications,
		ObsMetrics:      h.Metrics,
		CheckoutLimiter: limiter,
		Dashboard:       reporting.NewDashboard(h.DB, h.Clock),
	})
	return &testServer{h: h, gateway: gateway, engine: srv.Engine()}
}

func (ts *testServer) do(t *testing.T, method, path, role string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		req.Header.Set(HeaderActorID, "user-"+role)
		req.Header.Set(HeaderActorRole, role)
	}
	rec := httptest.NewRecorder()
	ts.engine.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Data     json.RawMessage `json:"data"`
	Warnings []string        `json:"warnings"`
	Error    errorPayload    `json:"error"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var out envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, into any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, into), rec.Body.String())
}

// sentInvoice drives the public API from an empty database to a SENT invoice
// for one item at 1000 with the default 9% tax.
func (ts *testServer) sentInvoice(t *testing.T) invoicedomain.Invoice {
	t.Helper()

	rec := ts.do(t, http.MethodPost, "/api/clients", "staff", map[string]any{"name": "Jane Tan", "email": "jane@example.test"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var client struct {
		ID string `json:"id"`
	}
	decodeData(t, rec, &client)

	rec = ts.do(t, http.MethodPost, "/api/items", "admin", map[string]any{"description": "Consulting", "unit_price": "1000"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var item struct {
		ID string `json:"id"`
	}
	decodeData(t, rec, &item)

	rec = ts.do(t, http.MethodPost, "/api/invoices", "staff", map[string]any{
		"client_id": client.ID,
		"items":     []map[string]any{{"item_id": item.ID, "quantity": 1}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var draft invoicedomain.Invoice
	decodeData(t, rec, &draft)
	require.Equal(t, invoicedomain.StatusDraft, draft.Status)

	rec = ts.do(t, http.MethodPost, "/api/invoices/"+draft.ID.String()+"/send", "staff", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var sent invoicedomain.Invoice
	decodeData(t, rec, &sent)
	require.Equal(t, invoicedomain.StatusSent, sent.Status)
	require.Equal(t, "1090", sent.AmountDue().String())
	return sent
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAPIRequiresActor(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodGet, "/api/invoices", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "unauthorized", decode(t, rec).Error.Type)
}

func TestStaffCannotArchive(t *testing.T) {
	ts := newTestServer(t, nil)
	inv := ts.sentInvoice(t)

	rec := ts.do(t, http.MethodPost, "/api/invoices/"+inv.ID.String()+"/archive", "staff", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/invoices/"+inv.ID.String()+"/archive", "admin", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/api/invoices", "staff", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed []invoicedomain.Invoice
	decodeData(t, rec, &listed)
	require.Empty(t, listed)

	rec = ts.do(t, http.MethodGet, "/api/invoices?include_archived=true", "staff", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeData(t, rec, &listed)
	require.Len(t, listed, 1)
}

func TestManualPaymentIsIdempotent(t *testing.T) {
	ts := newTestServer(t, nil)
	inv := ts.sentInvoice(t)
	path := "/api/invoices/" + inv.ID.String() + "/payments"
	body := map[string]any{"transaction_id": "bank-001", "amount": "1090.00", "method": "Bank transfer"}

	rec := ts.do(t, http.MethodPost, path, "staff", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodPost, path, "staff", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var replay struct {
		Duplicate bool                  `json:"duplicate"`
		Invoice   invoicedomain.Invoice `json:"invoice"`
	}
	decodeData(t, rec, &replay)
	require.True(t, replay.Duplicate)
	require.Equal(t, invoicedomain.StatusPaid, replay.Invoice.Status)

	rec = ts.do(t, http.MethodGet, path, "staff", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var payments []map[string]any
	decodeData(t, rec, &payments)
	require.Len(t, payments, 1)

	testutil.AssertCount(t, ts.h.DB, `SELECT COUNT(*) FROM payments WHERE transaction_id = ?`, 1, "bank-001")
}

func TestPaymentAmountMismatchIsRejected(t *testing.T) {
	ts := newTestServer(t, nil)
	inv := ts.sentInvoice(t)

	rec := ts.do(t, http.MethodPost, "/api/invoices/"+inv.ID.String()+"/payments", "staff",
		map[string]any{"transaction_id": "bank-002", "amount": "1000"})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
	require.Equal(t, "payment_amount_mismatch", decode(t, rec).Error.Code)
	require.Equal(t, invoicedomain.StatusSent, ts.h.Reload(t, inv.ID).Status)
}

func TestIllegalTransitionIsConflict(t *testing.T) {
	ts := newTestServer(t, nil)
	inv := ts.sentInvoice(t)

	rec := ts.do(t, http.MethodPost, "/api/invoices/"+inv.ID.String()+"/send", "staff", nil)
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	require.Equal(t, "invalid_state", decode(t, rec).Error.Code)
}

func TestStaleVersionIsConflict(t *testing.T) {
	ts := newTestServer(t, nil)
	draft := ts.h.DraftInvoice(t, "250", 2)
	notes := "net 30"

	rec := ts.do(t, http.MethodPatch, "/api/invoices/"+draft.ID.String(), "staff",
		map[string]any{"notes": notes, "version": draft.Version + 5})
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	require.Equal(t, "concurrent_modification", decode(t, rec).Error.Code)

	rec = ts.do(t, http.MethodPatch, "/api/invoices/"+draft.ID.String(), "staff",
		map[string]any{"notes": notes, "version": draft.Version})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestDeleteClientWithInvoicesConflicts(t *testing.T) {
	ts := newTestServer(t, nil)
	inv := ts.sentInvoice(t)

	rec := ts.do(t, http.MethodDelete, "/api/clients/"+inv.ClientID.String(), "admin", nil)
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	require.Equal(t, "client_has_invoices", decode(t, rec).Error.Code)
}

func TestInvalidIDAndMissingInvoice(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodGet, "/api/invoices/abc", "staff", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "validation_error", decode(t, rec).Error.Type)

	rec = ts.do(t, http.MethodGet, "/api/invoices/123456", "staff", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCheckoutRoundTrip(t *testing.T) {
	ts := newTestServer(t, nil)
	inv := ts.sentInvoice(t)

	rec := ts.do(t, http.MethodPost, "/api/invoices/"+inv.ID.String()+"/checkout", "staff", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var session gatewaydomain.CheckoutSession
	decodeData(t, rec, &session)
	require.Equal(t, "https://checkout.test/cs_test", session.URL)

	rec = ts.do(t, http.MethodGet, "/payments/success?invoice_id="+inv.ID.String()+"&session_id=cs_test", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	stored := ts.h.Reload(t, inv.ID)
	require.Equal(t, invoicedomain.StatusPaid, stored.Status)
	testutil.AssertCount(t, ts.h.DB, `SELECT COUNT(*) FROM payments WHERE transaction_id = 'cs_test' AND gateway = 'stripe'`, 1)

	rec = ts.do(t, http.MethodGet, "/payments/success?invoice_id="+inv.ID.String()+"&session_id=cs_test", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	testutil.AssertCount(t, ts.h.DB, `SELECT COUNT(*) FROM payments`, 1)
}

func TestConfirmCheckoutRejectsUnknownSession(t *testing.T) {
	ts := newTestServer(t, nil)
	inv := ts.sentInvoice(t)

	rec := ts.do(t, http.MethodGet, "/payments/success?invoice_id="+inv.ID.String()+"&session_id=cs_forged", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code, rec.Body.String())
	require.Equal(t, invoicedomain.StatusSent, ts.h.Reload(t, inv.ID).Status)

	rec = ts.do(t, http.MethodGet, "/payments/success?invoice_id="+inv.ID.String(), "", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPayLinkRedirectsToCheckout(t *testing.T) {
	ts := newTestServer(t, nil)
	inv := ts.sentInvoice(t)

	rec := ts.do(t, http.MethodGet, "/invoices/"+inv.ID.String()+"/pay", "", nil)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.Equal(t, "https://checkout.test/cs_test", rec.Header().Get("Location"))
}

func TestPayLinkIsRateLimitedPerInvoice(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ts := newTestServer(t, ratelimit.NewCheckoutLimiterWithClient(client))
	inv := ts.sentInvoice(t)
	path := "/invoices/" + inv.ID.String() + "/pay"

	for i := 0; i < 5; i++ {
		rec := ts.do(t, http.MethodGet, path, "", nil)
		require.Equal(t, http.StatusSeeOther, rec.Code, "request %d", i)
	}

	rec := ts.do(t, http.MethodGet, path, "", nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, ratelimit.ReasonInvoiceRate, rec.Header().Get("X-Rate-Limited-Reason"))
	require.Equal(t, "5", rec.Header().Get("Retry-After"))
	require.Equal(t, 5, ts.gateway.sessions)
}

func TestTaxRateSettings(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodPut, "/api/settings/tax-rate", "staff", map[string]any{"tax_rate": "7"})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodPut, "/api/settings/tax-rate", "admin", map[string]any{"tax_rate": "150"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPut, "/api/settings/tax-rate", "admin", map[string]any{"tax_rate": "7"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/api/settings/tax-rate", "staff", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var out struct {
		TaxRate string `json:"tax_rate"`
	}
	decodeData(t, rec, &out)
	require.Equal(t, "7", out.TaxRate)
}

func TestAuditLogsRecordTransitions(t *testing.T) {
	ts := newTestServer(t, nil)
	inv := ts.sentInvoice(t)
	ts.h.Clock.Advance(time.Minute)

	rec := ts.do(t, http.MethodGet, "/api/audit-logs?entity_type=invoice&entity_id="+inv.ID.String(), "staff", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/audit-logs?entity_type=invoice&entity_id="+inv.ID.String(), "admin", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var logs []struct {
		Action string `json:"action"`
	}
	decodeData(t, rec, &logs)
	actions := make([]string, 0, len(logs))
	for _, entry := range logs {
		actions = append(actions, entry.Action)
	}
	require.Contains(t, actions, "invoice.create")
	require.Contains(t, actions, "invoice.send")
}

func TestDashboardSummarisesReceivables(t *testing.T) {
	ts := newTestServer(t, nil)
	inv := ts.sentInvoice(t)

	rec := ts.do(t, http.MethodGet, "/api/dashboard", "staff", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var summary reporting.Summary
	decodeData(t, rec, &summary)
	require.Equal(t, int64(1), summary.PendingInvoices)
	require.Equal(t, int64(1), summary.Clients)
	require.Len(t, summary.Revenue, 1)
	require.Equal(t, "SGD", summary.Revenue[0].Currency)
	require.Equal(t, "1090", summary.Revenue[0].Amount.String())
	require.Len(t, summary.RecentInvoices, 1)
	require.Equal(t, inv.ID, summary.RecentInvoices[0].ID)
	require.Equal(t, "Jane Tan", summary.RecentInvoices[0].ClientName)
}

func TestAnalyticsIsAdminOnly(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.sentInvoice(t)

	rec := ts.do(t, http.MethodGet, "/api/analytics", "staff", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/analytics", "admin", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var analytics reporting.Analytics
	decodeData(t, rec, &analytics)
	require.Len(t, analytics.RevenueTrend, 6)
	require.Len(t, analytics.TopItems, 1)
	require.Equal(t, "Consulting", analytics.TopItems[0].Description)
}

func TestMapErrorFallsBackToInternal(t *testing.T) {
	status, payload := mapError(context.DeadlineExceeded)
	require.Equal(t, http.StatusInternalServerError, status)
	require.Equal(t, "internal_error", payload.Type)

	kind, code := classifyErrorForLog(invoicedomain.ErrConcurrentModification)
	require.Equal(t, "conflict", kind)
	require.Equal(t, "concurrent_modification", code)
}
