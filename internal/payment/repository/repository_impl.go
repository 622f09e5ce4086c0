package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/invoicer/internal/payment/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const paymentColumns = `id, invoice_id, amount, method, gateway, transaction_id, status, paid_at, created_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// Insert writes payment unless its transaction id is already recorded.
// The conflict clause is rendered per dialect, so the same call is an
// ON CONFLICT DO NOTHING on postgres and sqlite and an
// ON DUPLICATE KEY UPDATE no-op on mysql.
func (r *repo) Insert(ctx context.Context, tx *gorm.DB, payment *domain.Payment) (bool, error) {
	res := tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "transaction_id"}},
		DoNothing: true,
	}).Create(payment)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Payment, error) {
	return r.findOne(ctx, db, `id = ?`, id)
}

func (r *repo) FindByTransactionID(ctx context.Context, db *gorm.DB, transactionID string) (*domain.Payment, error) {
	return r.findOne(ctx, db, `transaction_id = ?`, transactionID)
}

func (r *repo) ListByInvoice(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]domain.Payment, error) {
	var payments []domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+` FROM payments
		 WHERE invoice_id = ?
		 ORDER BY paid_at ASC, id ASC`,
		invoiceID,
	).Scan(&payments).Error
	return payments, err
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, where string, arg any) (*domain.Payment, error) {
	var payment domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+` FROM payments WHERE `+where+` LIMIT 1`,
		arg,
	).Scan(&payment).Error
	if err != nil {
		return nil, err
	}
	if payment.ID == 0 {
		return nil, nil
	}
	return &payment, nil
}
