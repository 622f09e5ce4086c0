package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Client struct {
	ID          snowflake.ID `json:"id" gorm:"primaryKey"`
	Name        string       `json:"name" gorm:"type:text;not null"`
	CompanyName string       `json:"company_name,omitempty" gorm:"type:text"`
	Email       string       `json:"email" gorm:"type:text;not null"`
	Phone       string       `json:"phone,omitempty" gorm:"type:text"`
	Address     string       `json:"address,omitempty" gorm:"type:text"`
	CreatedAt   time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt   time.Time    `json:"updated_at" gorm:"not null"`
}

func (Client) TableName() string { return "clients" }

// DisplayName prefers the company name for correspondence.
func (c Client) DisplayName() string {
	if c.CompanyName != "" {
		return c.CompanyName
	}
	return c.Name
}
