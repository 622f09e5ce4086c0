package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// Item is a catalog entry. Its unit price is the current price; invoices
// keep their own snapshot.
type Item struct {
	ID          snowflake.ID    `json:"id" gorm:"primaryKey"`
	Description string          `json:"description" gorm:"type:text;not null"`
	UnitPrice   decimal.Decimal `json:"unit_price" gorm:"type:numeric(14,2);not null"`
	CreatedAt   time.Time       `json:"created_at" gorm:"not null"`
	UpdatedAt   time.Time       `json:"updated_at" gorm:"not null"`
}

func (Item) TableName() string { return "items" }
