package service

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	invoicedomain "github.com/smallbiznis/invoicer/internal/invoice/domain"
	invoiceformat "github.com/smallbiznis/invoicer/internal/invoice/format"
	paymentdomain "github.com/smallbiznis/invoicer/internal/payment/domain"
	gatewaydomain "github.com/smallbiznis/invoicer/internal/providers/payment/domain"
	"github.com/smallbiznis/invoicer/internal/providers/pdf"
	"go.uber.org/zap"
)

// StartCheckout opens a hosted payment page for the amount due on the
// stored invoice.
func (s *Service) StartCheckout(ctx context.Context, invoiceID snowflake.ID) (gatewaydomain.CheckoutSession, error) {
	if s.gateway == nil {
		return gatewaydomain.CheckoutSession{}, paymentdomain.ErrCheckoutUnavailable
	}
	invoice, err := s.invoices.GetByID(ctx, invoiceID)
	if err != nil {
		return gatewaydomain.CheckoutSession{}, err
	}
	if _, err := invoicedomain.Next(invoice.Status, invoicedomain.ActionMarkPaid); err != nil {
		return gatewaydomain.CheckoutSession{}, fmt.Errorf("%w: invoice is %s", paymentdomain.ErrNotPayable, invoice.Status)
	}
	notice, err := s.invoices.Notice(ctx, invoice)
	if err != nil {
		return gatewaydomain.CheckoutSession{}, err
	}

	id := invoice.ID.String()
	query := url.Values{}
	query.Set("invoice_id", id)
	req := gatewaydomain.CheckoutRequest{
		InvoiceID:     id,
		InvoiceNumber: invoice.InvoiceNumber,
		AmountMinor:   toMinor(invoice.AmountDue()),
		Currency:      invoice.Currency,
		CustomerName:  notice.ClientName,
		CustomerEmail: notice.ClientEmail,
		Description:   fmt.Sprintf("Due %s", invoiceformat.Date(invoice.DueDate)),
		SuccessURL:    s.baseURL + "/payments/success?" + query.Encode(),
		CancelURL:     fmt.Sprintf("%s/invoices/%s/pay", s.baseURL, id),
	}

	callCtx, cancel := context.WithTimeout(ctx, gatewayTimeout)
	defer cancel()
	session, err := s.gateway.CreateCheckoutSession(callCtx, req)
	if err != nil {
		s.log.Warn("checkout session failed",
			zap.String("invoice_id", id),
			zap.String("gateway", s.gateway.Name()),
			zap.Error(err),
		)
		return gatewaydomain.CheckoutSession{}, err
	}

	s.metrics.RecordPaymentEvent(ctx, s.gateway.Name(), "checkout_started")
	s.log.Info("checkout session created",
		zap.String("invoice_id", id),
		zap.String("gateway", s.gateway.Name()),
		zap.String("session_id", session.ID),
	)
	return session, nil
}

// ConfirmCheckout trusts only what the provider reports for sessionID; the
// query string of the redirect is never used for amounts.
func (s *Service) ConfirmCheckout(ctx context.Context, invoiceID snowflake.ID, sessionID string) (paymentdomain.Completion, error) {
	if s.gateway == nil {
		return paymentdomain.Completion{}, paymentdomain.ErrCheckoutUnavailable
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return paymentdomain.Completion{}, paymentdomain.ErrInvalidTransactionID
	}

	callCtx, cancel := context.WithTimeout(ctx, gatewayTimeout)
	defer cancel()
	verified, err := s.gateway.VerifySession(callCtx, sessionID)
	if err != nil {
		return paymentdomain.Completion{}, err
	}
	if verified.InvoiceID != "" && verified.InvoiceID != invoiceID.String() {
		return paymentdomain.Completion{}, paymentdomain.ErrSessionMismatch
	}
	if !verified.Paid {
		return paymentdomain.Completion{}, paymentdomain.ErrSessionNotPaid
	}

	invoice, err := s.invoices.GetByID(ctx, invoiceID)
	if err != nil {
		return paymentdomain.Completion{}, err
	}
	if verified.Currency != "" && !strings.EqualFold(verified.Currency, invoice.Currency) {
		return paymentdomain.Completion{}, fmt.Errorf("%w: currency %s", paymentdomain.ErrAmountMismatch, verified.Currency)
	}

	return s.CompletePayment(ctx, paymentdomain.CompletePaymentRequest{
		InvoiceID:     invoiceID,
		TransactionID: verified.ID,
		Amount:        decimal.New(verified.AmountMinor, -2),
		Method:        s.gateway.DisplayName(),
		Gateway:       s.gateway.Name(),
	})
}

func (s *Service) RenderReceipt(ctx context.Context, paymentID snowflake.ID) ([]byte, error) {
	payment, err := s.repo.FindByID(ctx, s.db, paymentID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, paymentdomain.ErrNotFound
	}
	invoice, err := s.invoices.GetByID(ctx, payment.InvoiceID)
	if err != nil {
		return nil, err
	}
	doc, err := s.invoices.Document(ctx, payment.InvoiceID)
	if err != nil {
		return nil, err
	}
	return s.pdf.GenerateReceipt(ctx, pdf.ReceiptData{
		InvoiceData:   doc,
		DatePaid:      invoiceformat.Date(payment.PaidAt),
		AmountPaid:    invoiceformat.Money(payment.Amount, invoice.Currency),
		Method:        payment.Method,
		TransactionID: payment.TransactionID,
	})
}

func toMinor(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}
