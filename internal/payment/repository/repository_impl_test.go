package repository

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/invoicer/internal/payment/domain"
	"github.com/smallbiznis/invoicer/internal/testutil"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func newPayment(t *testing.T, txn string) *domain.Payment {
	t.Helper()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return &domain.Payment{
		ID:            testutil.Node(t).Generate(),
		InvoiceID:     42,
		Amount:        decimal.RequireFromString("1090.00"),
		Method:        "Stripe",
		Gateway:       "stripe",
		TransactionID: txn,
		Status:        domain.StatusCompleted,
		PaidAt:        now,
		CreatedAt:     now,
	}
}

func TestInsertSkipsKnownTransaction(t *testing.T) {
	db := testutil.OpenDB(t)
	repo := Provide()
	ctx := context.Background()

	first := newPayment(t, "txn-1")
	inserted, err := repo.Insert(ctx, db, first)
	require.NoError(t, err)
	require.True(t, inserted)

	replay := newPayment(t, "txn-1")
	inserted, err = repo.Insert(ctx, db, replay)
	require.NoError(t, err)
	require.False(t, inserted)

	stored, err := repo.FindByTransactionID(ctx, db, "txn-1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.Equal(t, first.ID, stored.ID)
	require.True(t, stored.Amount.Equal(first.Amount))
	testutil.AssertCount(t, db, `SELECT COUNT(*) FROM payments`, 1)
}

func TestInsertRendersMySQLConflictClause(t *testing.T) {
	db, err := gorm.Open(mysql.New(mysql.Config{
		DSN:                       "invoicer:invoicer@tcp(127.0.0.1:3306)/invoicer?parseTime=True&loc=UTC",
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		DryRun:               true,
		DisableAutomaticPing: true,
	})
	require.NoError(t, err)

	var rendered string
	require.NoError(t, db.Callback().Create().After("gorm:create").Register("test:capture_sql", func(d *gorm.DB) {
		rendered = d.Statement.SQL.String()
	}))

	_, err = Provide().Insert(context.Background(), db, newPayment(t, "txn-1"))
	require.NoError(t, err)
	require.Contains(t, rendered, "INSERT INTO `payments`")
	require.Contains(t, rendered, "ON DUPLICATE KEY UPDATE")
	require.NotContains(t, rendered, "ON CONFLICT")
}
