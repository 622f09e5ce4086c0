package domain

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/invoicer/pkg/db/pagination"
)

// Action names recorded by the invoicing flows.
const (
	ActionInvoiceCreate    = "invoice.create"
	ActionInvoiceUpdate    = "invoice.update"
	ActionInvoiceSend      = "invoice.send"
	ActionInvoiceCancel    = "invoice.cancel"
	ActionInvoiceArchive   = "invoice.archive"
	ActionInvoiceRestore   = "invoice.restore"
	ActionInvoiceDelete    = "invoice.delete"
	ActionInvoiceOverdue   = "invoice.overdue"
	ActionInvoicePaid      = "invoice.paid"
	ActionPaymentCompleted = "payment.completed"
	ActionClientCreate     = "client.create"
	ActionClientDelete     = "client.delete"
	ActionItemCreate       = "item.create"
	ActionItemPriceUpdate  = "item.price_update"
	ActionSettingsUpdate   = "settings.update"
)

type ListAuditLogRequest struct {
	pagination.Pagination
	Action     string
	TargetType string
	TargetID   string
	ActorType  string
	StartAt    *time.Time
	EndAt      *time.Time
}

type ListAuditLogResponse struct {
	pagination.PageInfo
	AuditLogs []AuditLog `json:"audit_logs"`
}

// Service records audit entries. Callers treat AuditLog as fire-and-forget
// and invoke it after their own transaction has committed.
type Service interface {
	AuditLog(ctx context.Context, actorType string, actorID *string, action string, targetType string, targetID *string, metadata map[string]any) error
	List(ctx context.Context, req ListAuditLogRequest) (ListAuditLogResponse, error)
}

var (
	ErrInvalidPageToken = errors.New("invalid_page_token")
	ErrInvalidTimeRange = errors.New("invalid_time_range")
	ErrInvalidAction    = errors.New("invalid_action")
)
