package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var ErrMissingRecipient = errors.New("missing_recipient")

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, record *Record) error
	ListByInvoice(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]Record, error)
}

// Service delivers client notifications and logs every attempt. A delivery
// failure is returned alongside the FAILED record; callers treat it as a warning.
type Service interface {
	NotifyInvoiceSent(ctx context.Context, notice InvoiceNotice) (Record, error)
	NotifyOverdue(ctx context.Context, notice InvoiceNotice) (Record, error)
	NotifyPaymentReceived(ctx context.Context, notice InvoiceNotice) (Record, error)
	ListByInvoice(ctx context.Context, invoiceID snowflake.ID) ([]Record, error)
}
