// Package invoicetest wires the invoicing services against an in-memory
// database for tests in dependent packages.
package invoicetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/invoicer/internal/audit/domain"
	auditrepository "github.com/smallbiznis/invoicer/internal/audit/repository"
	auditservice "github.com/smallbiznis/invoicer/internal/audit/service"
	"github.com/smallbiznis/invoicer/internal/billing"
	catalogdomain "github.com/smallbiznis/invoicer/internal/catalog/domain"
	catalogrepository "github.com/smallbiznis/invoicer/internal/catalog/repository"
	catalogservice "github.com/smallbiznis/invoicer/internal/catalog/service"
	clientdomain "github.com/smallbiznis/invoicer/internal/client/domain"
	clientrepository "github.com/smallbiznis/invoicer/internal/client/repository"
	clientservice "github.com/smallbiznis/invoicer/internal/client/service"
	"github.com/smallbiznis/invoicer/internal/clock"
	"github.com/smallbiznis/invoicer/internal/config"
	invoicedomain "github.com/smallbiznis/invoicer/internal/invoice/domain"
	invoicerepository "github.com/smallbiznis/invoicer/internal/invoice/repository"
	invoiceservice "github.com/smallbiznis/invoicer/internal/invoice/service"
	notificationdomain "github.com/smallbiznis/invoicer/internal/notification/domain"
	notificationrepository "github.com/smallbiznis/invoicer/internal/notification/repository"
	notificationservice "github.com/smallbiznis/invoicer/internal/notification/service"
	"github.com/smallbiznis/invoicer/internal/observability/metrics"
	"github.com/smallbiznis/invoicer/internal/settings"
	"github.com/smallbiznis/invoicer/internal/testutil"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Start is the fake clock's initial time in every harness.
var Start = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

// RecordingEmail captures outgoing mail and can be switched to fail.
type RecordingEmail struct {
	mu       sync.Mutex
	fail     error
	Subjects []string
}

func (r *RecordingEmail) Send(ctx context.Context, to []string, subject, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.Subjects = append(r.Subjects, subject)
	return nil
}

func (r *RecordingEmail) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail = err
}

func (r *RecordingEmail) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Subjects)
}

type Harness struct {
	DB      *gorm.DB
	Log     *zap.Logger
	Clock   *clock.FakeClock
	Node    *snowflake.Node
	Config  config.Config
	Billing *config.BillingConfigHolder
	Email   *RecordingEmail
	Metrics *metrics.Metrics

	Audit         auditdomain.Service
	Settings      settings.Service
	Catalog       catalogdomain.Service
	Clients       clientdomain.Service
	ClientRepo    clientdomain.Repository
	Notifications notificationdomain.Service
	Invoices      invoicedomain.Service
	Repo          invoicedomain.Repository
}

func New(t *testing.T) *Harness {
	t.Helper()

	h := &Harness{
		DB:      testutil.OpenDB(t),
		Log:     zap.NewNop(),
		Clock:   clock.NewFakeClock(Start),
		Node:    testutil.Node(t),
		Config:  config.Config{BaseURL: "http://invoicer.test"},
		Billing: config.NewStaticBillingConfigHolder(config.DefaultBillingConfig()),
		Email:   &RecordingEmail{},
		Metrics: metrics.NewNoop(),
	}

	h.Audit = auditservice.NewService(auditservice.Params{
		DB:    h.DB,
		Log:   h.Log,
		GenID: h.Node,
		Clock: h.Clock,
		Repo:  auditrepository.Provide(),
	})
	h.Settings = settings.NewService(settings.Params{
		DB:       h.DB,
		Log:      h.Log,
		Clock:    h.Clock,
		Billing:  h.Billing,
		AuditSvc: h.Audit,
	})
	h.Catalog = catalogservice.New(catalogservice.Params{
		Log:   h.Log,
		GenID: h.Node,
		Clock: h.Clock,
		Repo:  catalogrepository.Provide(h.DB),
	})
	h.ClientRepo = clientrepository.Provide()
	h.Clients = clientservice.New(clientservice.Params{
		DB:    h.DB,
		Log:   h.Log,
		GenID: h.Node,
		Clock: h.Clock,
		Repo:  h.ClientRepo,
	})
	h.Notifications = notificationservice.New(notificationservice.Params{
		DB:      h.DB,
		Log:     h.Log,
		GenID:   h.Node,
		Clock:   h.Clock,
		Repo:    notificationrepository.Provide(),
		Email:   h.Email,
		Metrics: h.Metrics,
	})
	h.Repo = invoicerepository.Provide()
	h.Invoices = invoiceservice.NewService(invoiceservice.ServiceParam{
		DB:            h.DB,
		Log:           h.Log,
		GenID:         h.Node,
		Clock:         h.Clock,
		Config:        h.Config,
		Billing:       h.Billing,
		Settings:      h.Settings,
		Calculator:    billing.NewCalculator(h.Catalog),
		Repo:          h.Repo,
		ClientRepo:    h.ClientRepo,
		Notifications: h.Notifications,
		AuditSvc:      h.Audit,
		Metrics:       h.Metrics,
	})
	return h
}

func (h *Harness) SeedClient(t *testing.T, name, email string) clientdomain.Client {
	t.Helper()
	client, err := h.Clients.Create(context.Background(), clientdomain.CreateClientRequest{Name: name, Email: email})
	if err != nil {
		t.Fatalf("seed client: %v", err)
	}
	return client
}

func (h *Harness) SeedItem(t *testing.T, description, price string) catalogdomain.Item {
	t.Helper()
	item, err := h.Catalog.Create(context.Background(), catalogdomain.CreateRequest{
		Description: description,
		UnitPrice:   decimal.RequireFromString(price),
	})
	if err != nil {
		t.Fatalf("seed item: %v", err)
	}
	return *item
}

// DraftInvoice creates a draft for a fresh client with a single line of
// quantity qty at price.
func (h *Harness) DraftInvoice(t *testing.T, price string, qty int64) invoicedomain.Invoice {
	t.Helper()
	client := h.SeedClient(t, "Jane Tan", "jane@example.test")
	item := h.SeedItem(t, "Consulting", price)
	result, err := h.Invoices.Create(context.Background(), invoicedomain.CreateInvoiceRequest{
		ClientID: client.ID,
		Items:    []billing.LineRequest{{ItemID: item.ID, Quantity: qty}},
	})
	if err != nil {
		t.Fatalf("create invoice: %v", err)
	}
	return result.Invoice
}

// SentInvoice is DraftInvoice followed by Send. The clock is advanced one
// second first so invoice numbers differ between calls.
func (h *Harness) SentInvoice(t *testing.T, price string, qty int64) invoicedomain.Invoice {
	t.Helper()
	h.Clock.Advance(time.Second)
	draft := h.DraftInvoice(t, price, qty)
	result, err := h.Invoices.Send(context.Background(), draft.ID)
	if err != nil {
		t.Fatalf("send invoice: %v", err)
	}
	return result.Invoice
}

// SetDueDate rewrites due_date directly, bypassing the lifecycle.
func (h *Harness) SetDueDate(t *testing.T, id snowflake.ID, due time.Time) {
	t.Helper()
	if err := h.DB.Exec(`UPDATE invoices SET due_date = ? WHERE id = ?`, due.UTC(), id).Error; err != nil {
		t.Fatalf("set due date: %v", err)
	}
}

func (h *Harness) Reload(t *testing.T, id snowflake.ID) invoicedomain.Invoice {
	t.Helper()
	inv, err := h.Invoices.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("reload invoice: %v", err)
	}
	return inv
}
