package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Kind string

const (
	KindInvoiceSent     Kind = "invoice_sent"
	KindInvoiceOverdue  Kind = "invoice_overdue"
	KindPaymentReceived Kind = "payment_received"
)

type Status string

const (
	StatusSent   Status = "SENT"
	StatusFailed Status = "FAILED"
)

// Record is one delivery attempt. Records are never updated.
type Record struct {
	ID             snowflake.ID `json:"id" gorm:"primaryKey"`
	InvoiceID      snowflake.ID `json:"invoice_id" gorm:"not null;index"`
	ClientID       snowflake.ID `json:"client_id" gorm:"not null"`
	Kind           Kind         `json:"kind" gorm:"type:text;not null"`
	RecipientEmail string       `json:"recipient_email" gorm:"type:text;not null"`
	Subject        string       `json:"subject" gorm:"type:text;not null"`
	Message        string       `json:"message" gorm:"type:text;not null"`
	Status         Status       `json:"status" gorm:"type:text;not null"`
	Error          *string      `json:"error,omitempty" gorm:"type:text"`
	SentAt         time.Time    `json:"sent_at" gorm:"not null"`
}

func (Record) TableName() string { return "notifications" }

// InvoiceNotice carries everything a client-facing message needs.
type InvoiceNotice struct {
	InvoiceID     snowflake.ID
	InvoiceNumber string
	ClientID      snowflake.ID
	ClientName    string
	ClientEmail   string
	CompanyName   string
	Currency      string
	Total         string
	Tax           string
	AmountDue     string
	DueDate       time.Time
	PayURL        string
	TransactionID string
}
