package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, client *Client) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Client, error)
	// LockByID reads the client row under a row lock inside tx.
	LockByID(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*Client, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*Client, error)
	CountInvoices(ctx context.Context, tx *gorm.DB, id snowflake.ID) (int64, error)
	Delete(ctx context.Context, tx *gorm.DB, id snowflake.ID) (int64, error)
}
