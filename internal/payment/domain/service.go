package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	invoicedomain "github.com/smallbiznis/invoicer/internal/invoice/domain"
	gatewaydomain "github.com/smallbiznis/invoicer/internal/providers/payment/domain"
	"gorm.io/gorm"
)

type Repository interface {
	// Insert reports false when a payment with the same transaction id exists.
	Insert(ctx context.Context, tx *gorm.DB, payment *Payment) (bool, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Payment, error)
	FindByTransactionID(ctx context.Context, db *gorm.DB, transactionID string) (*Payment, error)
	ListByInvoice(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]Payment, error)
}

type CompletePaymentRequest struct {
	InvoiceID     snowflake.ID
	TransactionID string
	Amount        decimal.Decimal
	Method        string
	Gateway       string
}

// Completion is the outcome of CompletePayment. Duplicate is set when the
// transaction id had already been recorded and nothing changed.
type Completion struct {
	Payment   Payment               `json:"payment"`
	Invoice   invoicedomain.Invoice `json:"invoice"`
	Duplicate bool                  `json:"duplicate"`
	Warnings  []string              `json:"warnings,omitempty"`
}

type Service interface {
	CompletePayment(ctx context.Context, req CompletePaymentRequest) (Completion, error)
	StartCheckout(ctx context.Context, invoiceID snowflake.ID) (gatewaydomain.CheckoutSession, error)
	// ConfirmCheckout verifies sessionID with the provider before completing.
	ConfirmCheckout(ctx context.Context, invoiceID snowflake.ID, sessionID string) (Completion, error)
	ListByInvoice(ctx context.Context, invoiceID snowflake.ID) ([]Payment, error)
	RenderReceipt(ctx context.Context, paymentID snowflake.ID) ([]byte, error)
}

var (
	ErrInvalidTransactionID = errors.New("invalid_transaction_id")
	ErrInvalidAmount        = errors.New("invalid_payment_amount")
	ErrAmountMismatch       = errors.New("payment_amount_mismatch")
	ErrNotPayable           = errors.New("invoice_not_payable")
	ErrNotFound             = errors.New("payment_not_found")
	ErrCheckoutUnavailable  = errors.New("checkout_unavailable")
	ErrSessionNotPaid       = errors.New("checkout_session_not_paid")
	ErrSessionMismatch      = errors.New("checkout_session_mismatch")
)
