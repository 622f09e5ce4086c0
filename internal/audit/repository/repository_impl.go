package repository

import (
	"context"
	"strings"

	"github.com/smallbiznis/invoicer/internal/audit/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *domain.AuditLog) error {
	if entry == nil {
		return nil
	}
	return db.WithContext(ctx).Create(entry).Error
}

// List returns newest first and reads one row past Limit so the caller can
// tell whether another page exists.
func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.AuditLog, error) {
	var logs []*domain.AuditLog
	err := db.WithContext(ctx).
		Model(&domain.AuditLog{}).
		Scopes(matching(filter), within(filter), after(filter.Cursor)).
		Order(clause.OrderBy{Columns: []clause.OrderByColumn{
			{Column: clause.Column{Name: "created_at"}, Desc: true},
			{Column: clause.Column{Name: "id"}, Desc: true},
		}}).
		Scopes(pageOf(filter.Limit)).
		Find(&logs).Error
	return logs, err
}

func matching(filter domain.ListFilter) func(*gorm.DB) *gorm.DB {
	columns := [][2]string{
		{"action", filter.Action},
		{"target_type", filter.TargetType},
		{"target_id", filter.TargetID},
		{"actor_type", filter.ActorType},
	}
	return func(db *gorm.DB) *gorm.DB {
		for _, c := range columns {
			if value := strings.TrimSpace(c[1]); value != "" {
				db = db.Where(clause.Eq{Column: clause.Column{Name: c[0]}, Value: value})
			}
		}
		return db
	}
}

func within(filter domain.ListFilter) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if filter.StartAt != nil {
			db = db.Where(clause.Gte{Column: clause.Column{Name: "created_at"}, Value: filter.StartAt.UTC()})
		}
		if filter.EndAt != nil {
			db = db.Where(clause.Lte{Column: clause.Column{Name: "created_at"}, Value: filter.EndAt.UTC()})
		}
		return db
	}
}

// after applies keyset pagination on (created_at, id).
func after(cursor *domain.AuditCursor) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if cursor == nil {
			return db
		}
		return db.Where("created_at < ? OR (created_at = ? AND id < ?)",
			cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}
}

func pageOf(limit int) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if limit <= 0 {
			return db
		}
		return db.Limit(limit + 1)
	}
}
