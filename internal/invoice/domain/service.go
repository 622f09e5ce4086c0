package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/invoicer/internal/billing"
	notificationdomain "github.com/smallbiznis/invoicer/internal/notification/domain"
	"github.com/smallbiznis/invoicer/internal/providers/pdf"
	"github.com/smallbiznis/invoicer/pkg/db/pagination"
	"gorm.io/gorm"
)

type CreateInvoiceRequest struct {
	ClientID  snowflake.ID          `json:"client_id"`
	IssueDate *time.Time            `json:"issue_date,omitempty"`
	DueDate   *time.Time            `json:"due_date,omitempty"`
	Notes     string                `json:"notes"`
	Items     []billing.LineRequest `json:"items"`
}

// UpdateInvoiceRequest edits a draft. Nil fields are left unchanged; a
// non-zero Version must match the stored version.
type UpdateInvoiceRequest struct {
	DueDate *time.Time            `json:"due_date,omitempty"`
	Notes   *string               `json:"notes,omitempty"`
	Items   []billing.LineRequest `json:"items,omitempty"`
	Version int64                 `json:"version,omitempty"`
}

type ListInvoiceRequest struct {
	pagination.Pagination
	Status          string `form:"status"`
	ClientID        string `form:"client_id"`
	IncludeArchived bool   `form:"include_archived"`
}

type ListInvoiceResponse struct {
	pagination.PageInfo
	Invoices []Invoice `json:"invoices"`
}

// Result is returned by operations that can partially degrade. Warnings
// describe side effects that failed after the state change committed.
type Result struct {
	Invoice  Invoice             `json:"invoice"`
	Rejected []billing.Rejection `json:"rejected_items,omitempty"`
	Warnings []string            `json:"warnings,omitempty"`
}

type Service interface {
	Create(ctx context.Context, req CreateInvoiceRequest) (Result, error)
	Update(ctx context.Context, id snowflake.ID, req UpdateInvoiceRequest) (Result, error)
	GetByID(ctx context.Context, id snowflake.ID) (Invoice, error)
	List(ctx context.Context, req ListInvoiceRequest) (ListInvoiceResponse, error)
	Delete(ctx context.Context, id snowflake.ID) error

	Send(ctx context.Context, id snowflake.ID) (Result, error)
	Cancel(ctx context.Context, id snowflake.ID) (Result, error)
	Archive(ctx context.Context, id snowflake.ID) (Invoice, error)
	Restore(ctx context.Context, id snowflake.ID) (Invoice, error)
	// MarkOverdue moves a SENT invoice whose due date is before now to
	// OVERDUE and sends one reminder.
	MarkOverdue(ctx context.Context, id snowflake.ID, now time.Time) (Result, error)
	// MarkPaidTx moves inv to PAID inside tx. inv is updated in place.
	MarkPaidTx(ctx context.Context, tx *gorm.DB, inv *Invoice) error
	ListOverdueCandidates(ctx context.Context, now time.Time, afterID snowflake.ID, limit int) ([]Invoice, error)

	Notice(ctx context.Context, inv Invoice) (notificationdomain.InvoiceNotice, error)
	RenderPDF(ctx context.Context, id snowflake.ID) ([]byte, error)
	// Document is the printable view used by the invoice and receipt PDFs.
	Document(ctx context.Context, id snowflake.ID) (pdf.InvoiceData, error)
}

var (
	ErrInvalidInvoiceID       = errors.New("invalid_invoice_id")
	ErrInvalidClient          = errors.New("invalid_client")
	ErrInvalidDueDate         = errors.New("invalid_due_date")
	ErrInvalidNotes           = errors.New("invalid_notes")
	ErrInvalidStatus          = errors.New("invalid_status")
	ErrNoLineItems            = errors.New("no_valid_line_items")
	ErrNotFound               = errors.New("invoice_not_found")
	ErrUnknownStatus          = errors.New("unknown_invoice_status")
	ErrInvalidState           = errors.New("invalid_state")
	ErrNotDue                 = errors.New("invoice_not_due")
	ErrConcurrentModification = errors.New("concurrent_modification")
	ErrConflict               = errors.New("invoice_has_payments")
	ErrNumberExhausted        = errors.New("invoice_number_exhausted")
)
