package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

const StatusCompleted = "COMPLETED"

// Payment is a confirmed settlement of one invoice. Rows are never updated;
// TransactionID is the provider's reference and is unique across payments.
type Payment struct {
	ID            snowflake.ID    `json:"id" gorm:"primaryKey"`
	InvoiceID     snowflake.ID    `json:"invoice_id" gorm:"not null;index"`
	Amount        decimal.Decimal `json:"amount" gorm:"type:numeric(14,2);not null"`
	Method        string          `json:"method" gorm:"type:text;not null"`
	Gateway       string          `json:"gateway" gorm:"type:text;not null"`
	TransactionID string          `json:"transaction_id" gorm:"size:255;not null;uniqueIndex"`
	Status        string          `json:"status" gorm:"type:text;not null"`
	PaidAt        time.Time       `json:"paid_at" gorm:"not null"`
	CreatedAt     time.Time       `json:"created_at" gorm:"not null"`
}

func (Payment) TableName() string { return "payments" }
