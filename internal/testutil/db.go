// Package testutil opens isolated in-memory databases for package tests.
package testutil

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var dbSeq atomic.Int64

// Schema mirrors the postgres migration. Money columns are TEXT so decimal
// values round-trip without float conversion.
var Schema = []string{
	`CREATE TABLE clients (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		company_name TEXT,
		email TEXT NOT NULL,
		phone TEXT,
		address TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE items (
		id INTEGER PRIMARY KEY,
		description TEXT NOT NULL,
		unit_price TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE invoices (
		id INTEGER PRIMARY KEY,
		invoice_number TEXT NOT NULL,
		client_id INTEGER NOT NULL,
		status TEXT NOT NULL,
		issue_date DATETIME NOT NULL,
		due_date DATETIME NOT NULL,
		total_amount TEXT NOT NULL,
		tax_amount TEXT NOT NULL,
		tax_rate TEXT NOT NULL,
		currency TEXT NOT NULL,
		notes TEXT,
		is_archived BOOLEAN NOT NULL DEFAULT FALSE,
		version INTEGER NOT NULL DEFAULT 1,
		sent_at DATETIME,
		overdue_at DATETIME,
		paid_at DATETIME,
		cancelled_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_invoices_invoice_number ON invoices(invoice_number)`,
	`CREATE TABLE invoice_items (
		id INTEGER PRIMARY KEY,
		invoice_id INTEGER NOT NULL,
		position INTEGER NOT NULL,
		item_id INTEGER NOT NULL,
		description TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		unit_price TEXT NOT NULL,
		line_total TEXT NOT NULL
	)`,
	`CREATE TABLE payments (
		id INTEGER PRIMARY KEY,
		invoice_id INTEGER NOT NULL,
		amount TEXT NOT NULL,
		method TEXT NOT NULL,
		gateway TEXT NOT NULL,
		transaction_id TEXT NOT NULL,
		status TEXT NOT NULL,
		paid_at DATETIME NOT NULL,
		created_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_payments_transaction_id ON payments(transaction_id)`,
	`CREATE TABLE notifications (
		id INTEGER PRIMARY KEY,
		invoice_id INTEGER NOT NULL,
		client_id INTEGER NOT NULL,
		kind TEXT NOT NULL,
		recipient_email TEXT NOT NULL,
		subject TEXT NOT NULL,
		message TEXT NOT NULL,
		status TEXT NOT NULL,
		error TEXT,
		sent_at DATETIME NOT NULL
	)`,
	`CREATE TABLE system_settings (
		setting_key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE audit_logs (
		id INTEGER PRIMARY KEY,
		actor_type TEXT NOT NULL,
		actor_id TEXT,
		action TEXT NOT NULL,
		target_type TEXT NOT NULL,
		target_id TEXT,
		metadata TEXT,
		ip_address TEXT,
		user_agent TEXT,
		request_id TEXT,
		created_at DATETIME NOT NULL
	)`,
}

// OpenDB returns a fresh shared-cache in-memory database with the schema
// applied. The pool is capped at one connection so transactions serialize.
func OpenDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d_%d?mode=memory&cache=shared", time.Now().UnixNano(), dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	stripRowLocks(db)

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range Schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("apply schema: %v", err)
		}
	}
	return db
}

// stripRowLocks removes FOR UPDATE clauses from raw SQL, which sqlite rejects.
func stripRowLocks(db *gorm.DB) {
	strip := func(d *gorm.DB) {
		sql := d.Statement.SQL.String()
		if !strings.Contains(sql, "FOR UPDATE") {
			return
		}
		sql = strings.ReplaceAll(sql, "FOR UPDATE SKIP LOCKED", "")
		sql = strings.ReplaceAll(sql, "FOR UPDATE", "")
		d.Statement.SQL.Reset()
		d.Statement.SQL.WriteString(sql)
	}
	_ = db.Callback().Query().Before("gorm:query").Register("testutil:strip_row_locks", strip)
	_ = db.Callback().Row().Before("gorm:row").Register("testutil:strip_row_locks_row", strip)
}

// Node returns a snowflake node for tests.
func Node(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return node
}

// AssertCount fails the test when the scalar count query differs from expected.
func AssertCount(t *testing.T, db *gorm.DB, query string, expected int64, args ...any) {
	t.Helper()
	var count int64
	if err := db.Raw(query, args...).Scan(&count).Error; err != nil {
		t.Fatalf("count query failed: %v", err)
	}
	if count != expected {
		t.Fatalf("expected %d rows for %q, got %d", expected, query, count)
	}
}
