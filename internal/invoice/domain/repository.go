package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type ListFilter struct {
	Status          *Status
	ClientID        snowflake.ID
	IncludeArchived bool
	BeforeID        snowflake.ID
	Limit           int
}

// TransitionUpdate is applied only when the row still has Version and From.
type TransitionUpdate struct {
	ID              snowflake.ID
	ExpectedVersion int64
	From            Status
	To              Status
	At              time.Time
}

// Repository loads and stores invoice aggregates. Every write that returns
// bool reports false when the version or status guard did not match.
type Repository interface {
	Insert(ctx context.Context, tx *gorm.DB, inv *Invoice) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Invoice, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*Invoice, error)
	ListOverdueCandidates(ctx context.Context, db *gorm.DB, now time.Time, afterID snowflake.ID, limit int) ([]*Invoice, error)

	UpdateDraft(ctx context.Context, tx *gorm.DB, inv *Invoice, expectedVersion int64) (bool, error)
	ReplaceItems(ctx context.Context, tx *gorm.DB, invoiceID snowflake.ID, items []InvoiceItem) error
	Transition(ctx context.Context, db *gorm.DB, update TransitionUpdate) (bool, error)
	SetArchived(ctx context.Context, db *gorm.DB, id snowflake.ID, expectedVersion int64, archived bool, at time.Time) (bool, error)
	Delete(ctx context.Context, tx *gorm.DB, id snowflake.ID, expectedVersion int64) (bool, error)
	CountPayments(ctx context.Context, tx *gorm.DB, id snowflake.ID) (int64, error)
}
