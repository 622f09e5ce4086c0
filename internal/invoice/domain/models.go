// Package domain contains persistence models for invoicing.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

const MaxNotesLength = 500

// Invoice is the aggregate root. Version is bumped on every write and
// checked by every conditional update.
type Invoice struct {
	ID            snowflake.ID    `json:"id" gorm:"primaryKey"`
	InvoiceNumber string          `json:"invoice_number" gorm:"size:64;not null;uniqueIndex:ux_invoices_invoice_number"`
	ClientID      snowflake.ID    `json:"client_id" gorm:"not null;index"`
	Status        Status          `json:"status" gorm:"size:16;not null;default:'DRAFT'"`
	IssueDate     time.Time       `json:"issue_date" gorm:"not null"`
	DueDate       time.Time       `json:"due_date" gorm:"not null;index"`
	TotalAmount   decimal.Decimal `json:"total_amount" gorm:"type:numeric(14,2);not null"`
	TaxAmount     decimal.Decimal `json:"tax_amount" gorm:"type:numeric(14,2);not null"`
	TaxRate       decimal.Decimal `json:"tax_rate" gorm:"type:numeric(5,2);not null"`
	Currency      string          `json:"currency" gorm:"type:text;not null"`
	Notes         *string         `json:"notes,omitempty" gorm:"type:text"`
	IsArchived    bool            `json:"is_archived" gorm:"not null;default:false"`
	Version       int64           `json:"version" gorm:"not null;default:1"`
	SentAt        *time.Time      `json:"sent_at,omitempty"`
	OverdueAt     *time.Time      `json:"overdue_at,omitempty"`
	PaidAt        *time.Time      `json:"paid_at,omitempty"`
	CancelledAt   *time.Time      `json:"cancelled_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at" gorm:"not null"`
	UpdatedAt     time.Time       `json:"updated_at" gorm:"not null"`

	Items []InvoiceItem `json:"items" gorm:"-"`
}

func (Invoice) TableName() string { return "invoices" }

// AmountDue is total plus tax.
func (i Invoice) AmountDue() decimal.Decimal {
	return i.TotalAmount.Add(i.TaxAmount)
}

// InvoiceItem is a price snapshot taken when the invoice was last priced.
type InvoiceItem struct {
	ID          snowflake.ID    `json:"id" gorm:"primaryKey"`
	InvoiceID   snowflake.ID    `json:"invoice_id" gorm:"not null;index"`
	Position    int             `json:"position" gorm:"not null"`
	ItemID      snowflake.ID    `json:"item_id" gorm:"not null"`
	Description string          `json:"description" gorm:"type:text;not null"`
	Quantity    int64           `json:"quantity" gorm:"not null"`
	UnitPrice   decimal.Decimal `json:"unit_price" gorm:"type:numeric(14,2);not null"`
	LineTotal   decimal.Decimal `json:"line_total" gorm:"type:numeric(14,2);not null"`
}

func (InvoiceItem) TableName() string { return "invoice_items" }
