package repository

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/invoicer/internal/client/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, client *domain.Client) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO clients (id, name, company_name, email, phone, address, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		client.ID,
		client.Name,
		client.CompanyName,
		client.Email,
		client.Phone,
		client.Address,
		client.CreatedAt,
		client.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Client, error) {
	return r.findByID(ctx, db, id, "")
}

func (r *repo) LockByID(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*domain.Client, error) {
	return r.findByID(ctx, tx, id, " FOR UPDATE")
}

func (r *repo) findByID(ctx context.Context, db *gorm.DB, id snowflake.ID, lock string) (*domain.Client, error) {
	var client domain.Client
	err := db.WithContext(ctx).Raw(
		`SELECT id, name, company_name, email, phone, address, created_at, updated_at
		 FROM clients WHERE id = ?`+lock,
		id,
	).Scan(&client).Error
	if err != nil {
		return nil, err
	}
	if client.ID == 0 {
		return nil, nil
	}
	return &client, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.Client, error) {
	stmt := db.WithContext(ctx).Model(&domain.Client{})
	if name := strings.TrimSpace(filter.Name); name != "" {
		stmt = stmt.Where("LOWER(name) LIKE ?", "%"+strings.ToLower(name)+"%")
	}
	if filter.AfterID != 0 {
		stmt = stmt.Where("id > ?", filter.AfterID)
	}
	stmt = stmt.Order("id asc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}

	var clients []*domain.Client
	if err := stmt.Find(&clients).Error; err != nil {
		return nil, err
	}
	return clients, nil
}

func (r *repo) CountInvoices(ctx context.Context, tx *gorm.DB, id snowflake.ID) (int64, error) {
	var count int64
	err := tx.WithContext(ctx).Raw(`SELECT COUNT(*) FROM invoices WHERE client_id = ?`, id).Scan(&count).Error
	return count, err
}

func (r *repo) Delete(ctx context.Context, tx *gorm.DB, id snowflake.ID) (int64, error) {
	res := tx.WithContext(ctx).Exec(`DELETE FROM clients WHERE id = ?`, id)
	return res.RowsAffected, res.Error
}
