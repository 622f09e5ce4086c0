package service_test

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	invoicedomain "github.com/smallbiznis/invoicer/internal/invoice/domain"
	"github.com/smallbiznis/invoicer/internal/invoice/invoicetest"
	paymentdomain "github.com/smallbiznis/invoicer/internal/payment/domain"
	paymentrepository "github.com/smallbiznis/invoicer/internal/payment/repository"
	paymentservice "github.com/smallbiznis/invoicer/internal/payment/service"
	gatewaydomain "github.com/smallbiznis/invoicer/internal/providers/payment/domain"
	"github.com/smallbiznis/invoicer/internal/testutil"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeGateway struct {
	mu       sync.Mutex
	requests []gatewaydomain.CheckoutRequest
	session  gatewaydomain.VerifiedSession
	err      error
}

func (f *fakeGateway) Name() string        { return "fake" }
func (f *fakeGateway) DisplayName() string { return "Fake" }

func (f *fakeGateway) CreateCheckoutSession(ctx context.Context, req gatewaydomain.CheckoutRequest) (gatewaydomain.CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return gatewaydomain.CheckoutSession{ID: "cs_1", URL: "https://pay.test/cs_1", Provider: "fake"}, nil
}

func (f *fakeGateway) VerifySession(ctx context.Context, sessionID string) (gatewaydomain.VerifiedSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return gatewaydomain.VerifiedSession{}, f.err
	}
	return f.session, nil
}

// racingInvoices bumps the invoice version inside the payment transaction
// the first time MarkPaidTx runs, forcing one version conflict.
type racingInvoices struct {
	invoicedomain.Service
	calls int
}

func (r *racingInvoices) MarkPaidTx(ctx context.Context, tx *gorm.DB, inv *invoicedomain.Invoice) error {
	r.calls++
	if r.calls == 1 {
		if err := tx.Exec(`UPDATE invoices SET version = version + 1 WHERE id = ?`, inv.ID).Error; err != nil {
			return err
		}
	}
	return r.Service.MarkPaidTx(ctx, tx, inv)
}

func newService(h *invoicetest.Harness, invoices invoicedomain.Service, gateway gatewaydomain.Gateway) paymentdomain.Service {
	if invoices == nil {
		invoices = h.Invoices
	}
	return paymentservice.NewService(paymentservice.Params{
		DB:            h.DB,
		Log:           h.Log,
		GenID:         h.Node,
		Clock:         h.Clock,
		Config:        h.Config,
		Repo:          paymentrepository.Provide(),
		InvoiceRepo:   h.Repo,
		Invoices:      invoices,
		Notifications: h.Notifications,
		Gateway:       gateway,
		AuditSvc:      h.Audit,
		Metrics:       h.Metrics,
	})
}

func complete(id invoicedomain.Invoice, txn, amount string) paymentdomain.CompletePaymentRequest {
	return paymentdomain.CompletePaymentRequest{
		InvoiceID:     id.ID,
		TransactionID: txn,
		Amount:        decimal.RequireFromString(amount),
		Method:        "Stripe",
		Gateway:       "stripe",
	}
}

func TestCompletePaymentMarksInvoicePaid(t *testing.T) {
	h := invoicetest.New(t)
	svc := newService(h, nil, nil)
	inv := h.SentInvoice(t, "1000", 1)

	out, err := svc.CompletePayment(context.Background(), complete(inv, "txn-1", "1090"))
	require.NoError(t, err)
	require.False(t, out.Duplicate)
	require.Empty(t, out.Warnings)
	require.Equal(t, invoicedomain.StatusPaid, out.Invoice.Status)
	require.Equal(t, paymentdomain.StatusCompleted, out.Payment.Status)

	stored := h.Reload(t, inv.ID)
	require.Equal(t, invoicedomain.StatusPaid, stored.Status)
	require.NotNil(t, stored.PaidAt)
	require.Equal(t, inv.Version+1, stored.Version)

	testutil.AssertCount(t, h.DB, `SELECT COUNT(*) FROM payments WHERE invoice_id = ?`, 1, inv.ID)
	testutil.AssertCount(t, h.DB, `SELECT COUNT(*) FROM notifications WHERE invoice_id = ? AND kind = 'payment_received'`, 1, inv.ID)
	testutil.AssertCount(t, h.DB, `SELECT COUNT(*) FROM audit_logs WHERE action = 'payment.completed'`, 1)
	testutil.AssertCount(t, h.DB, `SELECT COUNT(*) FROM audit_logs WHERE action = 'invoice.paid' AND target_id = ?`, 1, inv.ID.String())
}

func TestCompletePaymentIsIdempotent(t *testing.T) {
	h := invoicetest.New(t)
	svc := newService(h, nil, nil)
	inv := h.SentInvoice(t, "1000", 1)
	ctx := context.Background()

	first, err := svc.CompletePayment(ctx, complete(inv, "txn-1", "1090"))
	require.NoError(t, err)
	second, err := svc.CompletePayment(ctx, complete(inv, "txn-1", "1090"))
	require.NoError(t, err)

	require.True(t, second.Duplicate)
	require.Equal(t, first.Payment.ID, second.Payment.ID)
	require.Equal(t, invoicedomain.StatusPaid, second.Invoice.Status)
	testutil.AssertCount(t, h.DB, `SELECT COUNT(*) FROM payments`, 1)
	testutil.AssertCount(t, h.DB, `SELECT COUNT(*) FROM notifications WHERE kind = 'payment_received'`, 1)
}

func TestCompletePaymentFlagsTransactionFromAnotherInvoice(t *testing.T) {
	h := invoicetest.New(t)
	svc := newService(h, nil, nil)
	paid := h.SentInvoice(t, "1000", 1)
	other := h.SentInvoice(t, "1000", 1)
	ctx := context.Background()

	first, err := svc.CompletePayment(ctx, complete(paid, "txn-1", "1090"))
	require.NoError(t, err)
	require.Empty(t, first.Warnings)

	misrouted, err := svc.CompletePayment(ctx, complete(other, "txn-1", "1090"))
	require.NoError(t, err)
	require.True(t, misrouted.Duplicate)
	require.Equal(t, paid.ID, misrouted.Payment.InvoiceID)
	require.Len(t, misrouted.Warnings, 1)
	require.Contains(t, misrouted.Warnings[0], other.ID.String())
	require.Equal(t, invoicedomain.StatusSent, h.Reload(t, other.ID).Status)
	testutil.AssertCount(t, h.DB, `SELECT COUNT(*) FROM payments`, 1)
}

func TestConcurrentConfirmationsRecordOnePayment(t *testing.T) {
	h := invoicetest.New(t)
	svc := newService(h, nil, nil)
	inv := h.SentInvoice(t, "1000", 1)

	var wg sync.WaitGroup
	results := make([]paymentdomain.Completion, 2)
	errs := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.CompletePayment(context.Background(), complete(inv, "txn-123", "1090"))
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	require.NotEqual(t, results[0].Duplicate, results[1].Duplicate)
	require.Equal(t, results[0].Payment.ID, results[1].Payment.ID)

	require.Equal(t, invoicedomain.StatusPaid, h.Reload(t, inv.ID).Status)
	testutil.AssertCount(t, h.DB, `SELECT COUNT(*) FROM payments WHERE transaction_id = ?`, 1, "txn-123")
	testutil.AssertCount(t, h.DB, `SELECT COUNT(*) FROM notifications WHERE kind = 'payment_received'`, 1)
}

func TestCompletePaymentRejectsSettledInvoices(t *testing.T) {
	h := invoicetest.New(t)
	svc := newService(h, nil, nil)
	ctx := context.Background()

	paid := h.SentInvoice(t, "1000", 1)
	_, err := svc.CompletePayment(ctx, complete(paid, "txn-1", "1090"))
	require.NoError(t, err)
	_, err = svc.CompletePayment(ctx, complete(paid, "txn-2", "1090"))
	require.ErrorIs(t, err, paymentdomain.ErrNotPayable)

	cancelled := h.SentInvoice(t, "1000", 1)
	_, err = h.Invoices.Cancel(ctx, cancelled.ID)
	require.NoError(t, err)
	_, err = svc.CompletePayment(ctx, complete(cancelled, "txn-3", "1090"))
	require.ErrorIs(t, err, paymentdomain.ErrNotPayable)

	draft := h.DraftInvoice(t, "1000", 1)
	_, err = svc.CompletePayment(ctx, complete(draft, "txn-4", "1090"))
	require.ErrorIs(t, err, paymentdomain.ErrNotPayable)

	testutil.AssertCount(t, h.DB, `SELECT COUNT(*) FROM payments`, 1)
}

func TestCompletePaymentValidatesInput(t *testing.T) {
	h := invoicetest.New(t)
	svc := newService(h, nil, nil)
	inv := h.SentInvoice(t, "1000", 1)
	ctx := context.Background()

	_, err := svc.CompletePayment(ctx, complete(inv, "  ", "1090"))
	require.ErrorIs(t, err, paymentdomain.ErrInvalidTransactionID)

	_, err = svc.CompletePayment(ctx, complete(inv, "txn-1", "0"))
	require.ErrorIs(t, err, paymentdomain.ErrInvalidAmount)

	_, err = svc.CompletePayment(ctx, complete(inv, "txn-1", "1000"))
	require.ErrorIs(t, err, paymentdomain.ErrAmountMismatch)

	_, err = svc.CompletePayment(ctx, complete(invoicedomain.Invoice{ID: 42}, "txn-1", "1090"))
	require.ErrorIs(t, err, invoicedomain.ErrNotFound)

	require.Equal(t, invoicedomain.StatusSent, h.Reload(t, inv.ID).Status)
	testutil.AssertCount(t, h.DB, `SELECT COUNT(*) FROM payments`, 0)
}

func TestCompletePaymentEmailFailureIsWarning(t *testing.T) {
	h := invoicetest.New(t)
	svc := newService(h, nil, nil)
	inv := h.SentInvoice(t, "1000", 1)
	h.Email.FailWith(errors.New("smtp down"))

	out, err := svc.CompletePayment(context.Background(), complete(inv, "txn-1", "1090"))
	require.NoError(t, err)
	require.Len(t, out.Warnings, 1)
	require.Equal(t, invoicedomain.StatusPaid, h.Reload(t, inv.ID).Status)
	testutil.AssertCount(t, h.DB, `SELECT COUNT(*) FROM notifications WHERE kind = 'payment_received' AND status = 'FAILED'`, 1)
}

func TestCompletePaymentRetriesVersionConflict(t *testing.T) {
	h := invoicetest.New(t)
	racing := &racingInvoices{Service: h.Invoices}
	svc := newService(h, racing, nil)
	inv := h.SentInvoice(t, "1000", 1)

	out, err := svc.CompletePayment(context.Background(), complete(inv, "txn-1", "1090"))
	require.NoError(t, err)
	require.False(t, out.Duplicate)
	require.Equal(t, 2, racing.calls)
	require.Equal(t, invoicedomain.StatusPaid, h.Reload(t, inv.ID).Status)
	testutil.AssertCount(t, h.DB, `SELECT COUNT(*) FROM payments`, 1)
}

func TestCheckoutUsesStoredAmount(t *testing.T) {
	h := invoicetest.New(t)
	gateway := &fakeGateway{}
	svc := newService(h, nil, gateway)
	inv := h.SentInvoice(t, "1000", 1)

	session, err := svc.StartCheckout(context.Background(), inv.ID)
	require.NoError(t, err)
	require.Equal(t, "https://pay.test/cs_1", session.URL)

	require.Len(t, gateway.requests, 1)
	req := gateway.requests[0]
	require.Equal(t, int64(109000), req.AmountMinor)
	require.Equal(t, "sgd", req.Currency)
	require.Equal(t, "jane@example.test", req.CustomerEmail)
	require.Equal(t, "http://invoicer.test/payments/success?invoice_id="+inv.ID.String(), req.SuccessURL)
	require.Equal(t, "http://invoicer.test/invoices/"+inv.ID.String()+"/pay", req.CancelURL)
}

func TestCheckoutRequiresPayableInvoiceAndGateway(t *testing.T) {
	h := invoicetest.New(t)
	draft := h.DraftInvoice(t, "1000", 1)

	_, err := newService(h, nil, nil).StartCheckout(context.Background(), draft.ID)
	require.ErrorIs(t, err, paymentdomain.ErrCheckoutUnavailable)

	_, err = newService(h, nil, &fakeGateway{}).StartCheckout(context.Background(), draft.ID)
	require.ErrorIs(t, err, paymentdomain.ErrNotPayable)
}

func TestConfirmCheckoutCompletesVerifiedSession(t *testing.T) {
	h := invoicetest.New(t)
	inv := h.SentInvoice(t, "1000", 1)
	gateway := &fakeGateway{session: gatewaydomain.VerifiedSession{
		ID:          "cs_1",
		Paid:        true,
		AmountMinor: 109000,
		Currency:    "SGD",
		InvoiceID:   inv.ID.String(),
	}}
	svc := newService(h, nil, gateway)
	ctx := context.Background()

	out, err := svc.ConfirmCheckout(ctx, inv.ID, "cs_1")
	require.NoError(t, err)
	require.Equal(t, "Fake", out.Payment.Method)
	require.Equal(t, "fake", out.Payment.Gateway)
	require.Equal(t, "cs_1", out.Payment.TransactionID)
	require.Equal(t, invoicedomain.StatusPaid, out.Invoice.Status)

	replay, err := svc.ConfirmCheckout(ctx, inv.ID, "cs_1")
	require.NoError(t, err)
	require.True(t, replay.Duplicate)
}

func TestConfirmCheckoutRejectsUnverifiedSessions(t *testing.T) {
	h := invoicetest.New(t)
	inv := h.SentInvoice(t, "1000", 1)
	gateway := &fakeGateway{session: gatewaydomain.VerifiedSession{ID: "cs_1", InvoiceID: inv.ID.String()}}
	svc := newService(h, nil, gateway)
	ctx := context.Background()

	_, err := svc.ConfirmCheckout(ctx, inv.ID, "cs_1")
	require.ErrorIs(t, err, paymentdomain.ErrSessionNotPaid)

	gateway.session = gatewaydomain.VerifiedSession{ID: "cs_1", Paid: true, AmountMinor: 109000, InvoiceID: "999"}
	_, err = svc.ConfirmCheckout(ctx, inv.ID, "cs_1")
	require.ErrorIs(t, err, paymentdomain.ErrSessionMismatch)

	gateway.err = gatewaydomain.ErrSessionNotFound
	_, err = svc.ConfirmCheckout(ctx, inv.ID, "cs_missing")
	require.ErrorIs(t, err, gatewaydomain.ErrSessionNotFound)

	require.Equal(t, invoicedomain.StatusSent, h.Reload(t, inv.ID).Status)
}

func TestRenderReceipt(t *testing.T) {
	h := invoicetest.New(t)
	svc := newService(h, nil, nil)
	inv := h.SentInvoice(t, "1000", 1)
	ctx := context.Background()

	out, err := svc.CompletePayment(ctx, complete(inv, "txn-1", "1090"))
	require.NoError(t, err)

	pdfBytes, err := svc.RenderReceipt(ctx, out.Payment.ID)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(pdfBytes, []byte("%PDF")))

	_, err = svc.RenderReceipt(ctx, 12345)
	require.ErrorIs(t, err, paymentdomain.ErrNotFound)

	payments, err := svc.ListByInvoice(ctx, inv.ID)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	require.Equal(t, "1090.00", payments[0].Amount.StringFixed(2))
}
