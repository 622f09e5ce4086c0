package reporting

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	invoicedomain "github.com/smallbiznis/invoicer/internal/invoice/domain"
	paymentdomain "github.com/smallbiznis/invoicer/internal/payment/domain"
	"gorm.io/gorm"
)

// unbilled statuses never count toward revenue.
var unbilled = []invoicedomain.Status{invoicedomain.StatusDraft, invoicedomain.StatusCancelled}

// StatusTotal is the invoice count and amount due for one status and
// currency.
type StatusTotal struct {
	Status   string          `json:"status"`
	Currency string          `json:"currency"`
	Count    int64           `json:"count"`
	Amount   decimal.Decimal `json:"amount"`
}

type paymentRow struct {
	Gateway string
	Count   int64
	Amount  decimal.Decimal
}

type datedAmount struct {
	IssueDate time.Time
	Currency  string
	Amount    decimal.Decimal
}

// invoiceTotals counts non-archived invoices and sums their amount due per
// status and currency.
func invoiceTotals(ctx context.Context, db *gorm.DB) ([]StatusTotal, error) {
	var rows []StatusTotal
	err := db.WithContext(ctx).
		Model(&invoicedomain.Invoice{}).
		Select("status, currency, COUNT(*) AS count, COALESCE(SUM(total_amount + tax_amount), 0) AS amount").
		Where("is_archived = ?", false).
		Group("status, currency").
		Order("status, currency").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for i := range rows {
		rows[i].Currency = strings.ToUpper(strings.TrimSpace(rows[i].Currency))
	}
	return rows, nil
}

func paymentTotals(ctx context.Context, db *gorm.DB) ([]paymentRow, error) {
	var rows []paymentRow
	err := db.WithContext(ctx).
		Model(&paymentdomain.Payment{}).
		Select("gateway, COUNT(*) AS count, COALESCE(SUM(amount), 0) AS amount").
		Where("status = ?", paymentdomain.StatusCompleted).
		Group("gateway").
		Scan(&rows).Error
	return rows, err
}

// billedSince lists the amount due of every billed invoice issued on or
// after since.
func billedSince(ctx context.Context, db *gorm.DB, since time.Time) ([]datedAmount, error) {
	var rows []datedAmount
	err := db.WithContext(ctx).
		Model(&invoicedomain.Invoice{}).
		Select("issue_date, currency, total_amount + tax_amount AS amount").
		Where("is_archived = ? AND status NOT IN ? AND issue_date >= ?", false, unbilled, since).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for i := range rows {
		rows[i].Currency = strings.ToUpper(strings.TrimSpace(rows[i].Currency))
	}
	return rows, nil
}
