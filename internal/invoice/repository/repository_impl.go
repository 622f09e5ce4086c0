package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/invoicer/internal/invoice/domain"
	"gorm.io/gorm"
)

const invoiceColumns = `id, invoice_number, client_id, status, issue_date, due_date,
	total_amount, tax_amount, tax_rate, currency, notes, is_archived, version,
	sent_at, overdue_at, paid_at, cancelled_at, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, tx *gorm.DB, inv *domain.Invoice) error {
	if err := tx.WithContext(ctx).Exec(
		`INSERT INTO invoices (
			id, invoice_number, client_id, status, issue_date, due_date,
			total_amount, tax_amount, tax_rate, currency, notes, is_archived, version,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.ID,
		inv.InvoiceNumber,
		inv.ClientID,
		inv.Status,
		inv.IssueDate,
		inv.DueDate,
		inv.TotalAmount,
		inv.TaxAmount,
		inv.TaxRate,
		inv.Currency,
		inv.Notes,
		inv.IsArchived,
		inv.Version,
		inv.CreatedAt,
		inv.UpdatedAt,
	).Error; err != nil {
		return err
	}
	return r.insertItems(ctx, tx, inv.Items)
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Invoice, error) {
	var inv domain.Invoice
	err := db.WithContext(ctx).Raw(
		`SELECT `+invoiceColumns+` FROM invoices WHERE id = ?`,
		id,
	).Scan(&inv).Error
	if err != nil {
		return nil, err
	}
	if inv.ID == 0 {
		return nil, nil
	}

	items, err := r.listItems(ctx, db, inv.ID)
	if err != nil {
		return nil, err
	}
	inv.Items = items
	return &inv, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.Invoice, error) {
	stmt := db.WithContext(ctx).Model(&domain.Invoice{})
	if filter.Status != nil {
		stmt = stmt.Where("status = ?", *filter.Status)
	}
	if filter.ClientID != 0 {
		stmt = stmt.Where("client_id = ?", filter.ClientID)
	}
	if !filter.IncludeArchived {
		stmt = stmt.Where("is_archived = ?", false)
	}
	if filter.BeforeID != 0 {
		stmt = stmt.Where("id < ?", filter.BeforeID)
	}
	stmt = stmt.Order("id desc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}

	var invoices []*domain.Invoice
	if err := stmt.Find(&invoices).Error; err != nil {
		return nil, err
	}
	return invoices, nil
}

func (r *repo) ListOverdueCandidates(ctx context.Context, db *gorm.DB, now time.Time, afterID snowflake.ID, limit int) ([]*domain.Invoice, error) {
	var invoices []*domain.Invoice
	err := db.WithContext(ctx).Raw(
		`SELECT `+invoiceColumns+`
		 FROM invoices
		 WHERE status = ? AND is_archived = ? AND due_date < ? AND id > ?
		 ORDER BY id ASC
		 LIMIT ?`,
		domain.StatusSent,
		false,
		now,
		afterID,
		limit,
	).Scan(&invoices).Error
	if err != nil {
		return nil, err
	}
	return invoices, nil
}

func (r *repo) UpdateDraft(ctx context.Context, tx *gorm.DB, inv *domain.Invoice, expectedVersion int64) (bool, error) {
	result := tx.WithContext(ctx).Exec(
		`UPDATE invoices
		 SET due_date = ?, notes = ?, total_amount = ?, tax_amount = ?, tax_rate = ?,
		     version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ? AND status = ?`,
		inv.DueDate,
		inv.Notes,
		inv.TotalAmount,
		inv.TaxAmount,
		inv.TaxRate,
		inv.UpdatedAt,
		inv.ID,
		expectedVersion,
		domain.StatusDraft,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) ReplaceItems(ctx context.Context, tx *gorm.DB, invoiceID snowflake.ID, items []domain.InvoiceItem) error {
	if err := tx.WithContext(ctx).Exec(`DELETE FROM invoice_items WHERE invoice_id = ?`, invoiceID).Error; err != nil {
		return err
	}
	return r.insertItems(ctx, tx, items)
}

func (r *repo) Transition(ctx context.Context, db *gorm.DB, update domain.TransitionUpdate) (bool, error) {
	column := stampColumn(update.To)
	sql := `UPDATE invoices SET status = ?, version = version + 1, updated_at = ?`
	args := []any{update.To, update.At}
	if column != "" {
		sql += `, ` + column + ` = ?`
		args = append(args, update.At)
	}
	sql += ` WHERE id = ? AND version = ? AND status = ?`
	args = append(args, update.ID, update.ExpectedVersion, update.From)

	result := db.WithContext(ctx).Exec(sql, args...)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) SetArchived(ctx context.Context, db *gorm.DB, id snowflake.ID, expectedVersion int64, archived bool, at time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE invoices
		 SET is_archived = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		archived,
		at,
		id,
		expectedVersion,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) Delete(ctx context.Context, tx *gorm.DB, id snowflake.ID, expectedVersion int64) (bool, error) {
	result := tx.WithContext(ctx).Exec(
		`DELETE FROM invoices WHERE id = ? AND version = ?`,
		id,
		expectedVersion,
	)
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected == 0 {
		return false, nil
	}
	if err := tx.WithContext(ctx).Exec(`DELETE FROM invoice_items WHERE invoice_id = ?`, id).Error; err != nil {
		return false, err
	}
	return true, nil
}

func (r *repo) CountPayments(ctx context.Context, tx *gorm.DB, id snowflake.ID) (int64, error) {
	var count int64
	err := tx.WithContext(ctx).Raw(`SELECT COUNT(*) FROM payments WHERE invoice_id = ?`, id).Scan(&count).Error
	return count, err
}

func (r *repo) listItems(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]domain.InvoiceItem, error) {
	var items []domain.InvoiceItem
	err := db.WithContext(ctx).
		Where("invoice_id = ?", invoiceID).
		Order("position asc").
		Find(&items).Error
	return items, err
}

func (r *repo) insertItems(ctx context.Context, tx *gorm.DB, items []domain.InvoiceItem) error {
	if len(items) == 0 {
		return nil
	}
	return tx.WithContext(ctx).Create(&items).Error
}

func stampColumn(status domain.Status) string {
	switch status {
	case domain.StatusSent:
		return "sent_at"
	case domain.StatusOverdue:
		return "overdue_at"
	case domain.StatusPaid:
		return "paid_at"
	case domain.StatusCancelled:
		return "cancelled_at"
	default:
		return ""
	}
}
