package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/invoicer/internal/audit/domain"
	"github.com/smallbiznis/invoicer/internal/billing"
	clientdomain "github.com/smallbiznis/invoicer/internal/client/domain"
	"github.com/smallbiznis/invoicer/internal/clock"
	"github.com/smallbiznis/invoicer/internal/config"
	invoicedomain "github.com/smallbiznis/invoicer/internal/invoice/domain"
	invoiceformat "github.com/smallbiznis/invoicer/internal/invoice/format"
	notificationdomain "github.com/smallbiznis/invoicer/internal/notification/domain"
	"github.com/smallbiznis/invoicer/internal/observability/metrics"
	"github.com/smallbiznis/invoicer/internal/providers/pdf"
	"github.com/smallbiznis/invoicer/internal/settings"
	"github.com/smallbiznis/invoicer/pkg/db"
	"github.com/smallbiznis/invoicer/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	maxWriteAttempts  = 3
	maxNumberAttempts = 10
)

type ServiceParam struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	Clock         clock.Clock
	Config        config.Config
	Billing       *config.BillingConfigHolder
	Settings      settings.Service
	Calculator    *billing.Calculator
	Repo          invoicedomain.Repository
	ClientRepo    clientdomain.Repository
	Notifications notificationdomain.Service
	PDF           pdf.Provider        `optional:"true"`
	AuditSvc      auditdomain.Service `optional:"true"`
	Metrics       *metrics.Metrics    `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID         *snowflake.Node
	clock         clock.Clock
	baseURL       string
	billing       *config.BillingConfigHolder
	settings      settings.Service
	calculator    *billing.Calculator
	repo          invoicedomain.Repository
	clientRepo    clientdomain.Repository
	notifications notificationdomain.Service
	pdf           pdf.Provider
	auditSvc      auditdomain.Service
	metrics       *metrics.Metrics
}

func NewService(p ServiceParam) invoicedomain.Service {
	renderer := p.PDF
	if renderer == nil {
		renderer = pdf.New()
	}
	return &Service{
		db:  p.DB,
		log: p.Log.Named("invoice.service"),

		genID:         p.GenID,
		clock:         p.Clock,
		baseURL:       strings.TrimRight(p.Config.BaseURL, "/"),
		billing:       p.Billing,
		settings:      p.Settings,
		calculator:    p.Calculator,
		repo:          p.Repo,
		clientRepo:    p.ClientRepo,
		notifications: p.Notifications,
		pdf:           renderer,
		auditSvc:      p.AuditSvc,
		metrics:       p.Metrics,
	}
}

func (s *Service) Create(ctx context.Context, req invoicedomain.CreateInvoiceRequest) (invoicedomain.Result, error) {
	if req.ClientID == 0 {
		return invoicedomain.Result{}, invoicedomain.ErrInvalidClient
	}
	notes, err := normalizeNotes(req.Notes)
	if err != nil {
		return invoicedomain.Result{}, err
	}

	now := s.clock.Now()
	billingCfg := s.billing.Get()
	issueDate := now
	if req.IssueDate != nil {
		issueDate = req.IssueDate.UTC()
	}
	dueDate := issueDate.AddDate(0, 0, billingCfg.PaymentTermsDays)
	if req.DueDate != nil {
		dueDate = req.DueDate.UTC()
	}
	if dueDate.Before(issueDate) {
		return invoicedomain.Result{}, invoicedomain.ErrInvalidDueDate
	}

	priced, err := s.price(ctx, req.Items)
	if err != nil {
		return invoicedomain.Result{}, err
	}

	invoice := invoicedomain.Invoice{
		ID:          s.genID.Generate(),
		ClientID:    req.ClientID,
		Status:      invoicedomain.StatusDraft,
		IssueDate:   issueDate,
		DueDate:     dueDate,
		TotalAmount: priced.Total,
		TaxAmount:   priced.Tax,
		TaxRate:     priced.TaxRate,
		Currency:    billingCfg.Currency,
		Notes:       notes,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	invoice.Items = s.snapshotItems(invoice.ID, priced.Lines)

	if err := s.insertWithNumber(ctx, &invoice, now); err != nil {
		return invoicedomain.Result{}, err
	}

	s.emitAudit(ctx, auditdomain.ActionInvoiceCreate, &invoice, map[string]any{
		"rejected_items": len(priced.Rejected),
	})
	return invoicedomain.Result{
		Invoice:  invoice,
		Rejected: priced.Rejected,
		Warnings: rejectionWarnings(priced.Rejected),
	}, nil
}

// insertWithNumber assigns the first free invoice number for now. Each
// attempt runs in its own transaction since a unique violation aborts it.
func (s *Service) insertWithNumber(ctx context.Context, invoice *invoicedomain.Invoice, now time.Time) error {
	for attempt := 0; attempt < maxNumberAttempts; attempt++ {
		number, err := invoiceformat.FormatInvoiceNumber(invoiceformat.DefaultInvoiceNumberTemplate, now, attempt)
		if err != nil {
			return err
		}
		invoice.InvoiceNumber = number

		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			client, err := s.clientRepo.LockByID(ctx, tx, invoice.ClientID)
			if err != nil {
				return err
			}
			if client == nil {
				return invoicedomain.ErrInvalidClient
			}
			return s.repo.Insert(ctx, tx, invoice)
		})
		if err == nil {
			return nil
		}
		if !db.IsDuplicateKeyErr(err) {
			return err
		}
		s.log.Debug("invoice number taken, retrying", zap.String("invoice_number", number))
	}
	return invoicedomain.ErrNumberExhausted
}

func (s *Service) Update(ctx context.Context, id snowflake.ID, req invoicedomain.UpdateInvoiceRequest) (invoicedomain.Result, error) {
	var notes *string
	if req.Notes != nil {
		normalized, err := normalizeNotes(*req.Notes)
		if err != nil {
			return invoicedomain.Result{}, err
		}
		notes = normalized
	}

	var priced *billing.Result
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		current, err := s.load(ctx, s.db, id)
		if err != nil {
			return invoicedomain.Result{}, err
		}
		if _, err := invoicedomain.Next(current.Status, invoicedomain.ActionEdit); err != nil {
			return invoicedomain.Result{}, err
		}
		if req.Version != 0 && req.Version != current.Version {
			s.metrics.RecordVersionConflict(ctx, string(invoicedomain.ActionEdit))
			return invoicedomain.Result{}, invoicedomain.ErrConcurrentModification
		}
		if req.Items != nil && priced == nil {
			result, err := s.price(ctx, req.Items)
			if err != nil {
				return invoicedomain.Result{}, err
			}
			priced = &result
		}

		updated := *current
		updated.UpdatedAt = s.clock.Now()
		if req.DueDate != nil {
			updated.DueDate = req.DueDate.UTC()
		}
		if updated.DueDate.Before(updated.IssueDate) {
			return invoicedomain.Result{}, invoicedomain.ErrInvalidDueDate
		}
		if req.Notes != nil {
			updated.Notes = notes
		}
		if priced != nil {
			updated.TotalAmount = priced.Total
			updated.TaxAmount = priced.Tax
			updated.TaxRate = priced.TaxRate
			updated.Items = s.snapshotItems(updated.ID, priced.Lines)
		}

		var applied bool
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			ok, err := s.repo.UpdateDraft(ctx, tx, &updated, current.Version)
			if err != nil || !ok {
				return err
			}
			if priced != nil {
				if err := s.repo.ReplaceItems(ctx, tx, updated.ID, updated.Items); err != nil {
					return err
				}
			}
			applied = true
			return nil
		})
		if err != nil {
			return invoicedomain.Result{}, err
		}
		if !applied {
			s.metrics.RecordVersionConflict(ctx, string(invoicedomain.ActionEdit))
			continue
		}

		updated.Version = current.Version + 1
		s.emitAudit(ctx, auditdomain.ActionInvoiceUpdate, &updated, nil)
		result := invoicedomain.Result{Invoice: updated}
		if priced != nil {
			result.Rejected = priced.Rejected
			result.Warnings = rejectionWarnings(priced.Rejected)
		}
		return result, nil
	}
	return invoicedomain.Result{}, invoicedomain.ErrConcurrentModification
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (invoicedomain.Invoice, error) {
	invoice, err := s.load(ctx, s.db, id)
	if err != nil {
		return invoicedomain.Invoice{}, err
	}
	return *invoice, nil
}

func (s *Service) List(ctx context.Context, req invoicedomain.ListInvoiceRequest) (invoicedomain.ListInvoiceResponse, error) {
	filter := invoicedomain.ListFilter{
		IncludeArchived: req.IncludeArchived,
		Limit:           req.Limit(),
	}
	if raw := strings.TrimSpace(req.Status); raw != "" {
		status, err := invoicedomain.ParseStatus(raw)
		if err != nil {
			return invoicedomain.ListInvoiceResponse{}, invoicedomain.ErrInvalidStatus
		}
		filter.Status = &status
	}
	if raw := strings.TrimSpace(req.ClientID); raw != "" {
		clientID, err := snowflake.ParseString(raw)
		if err != nil {
			return invoicedomain.ListInvoiceResponse{}, invoicedomain.ErrInvalidClient
		}
		filter.ClientID = clientID
	}

	cursor, err := pagination.DecodeCursor(req.PageToken)
	if err != nil {
		return invoicedomain.ListInvoiceResponse{}, err
	}
	if cursor != nil {
		beforeID, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return invoicedomain.ListInvoiceResponse{}, pagination.ErrInvalidPageToken
		}
		filter.BeforeID = beforeID
	}

	rows, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return invoicedomain.ListInvoiceResponse{}, err
	}
	rows, pageInfo := pagination.BuildCursorPageInfo(rows, filter.Limit, func(inv *invoicedomain.Invoice) string {
		token, _ := pagination.EncodeCursor(pagination.Cursor{ID: inv.ID.String()})
		return token
	})

	invoices := make([]invoicedomain.Invoice, 0, len(rows))
	for _, row := range rows {
		if row == nil {
			continue
		}
		invoices = append(invoices, *row)
	}
	return invoicedomain.ListInvoiceResponse{PageInfo: *pageInfo, Invoices: invoices}, nil
}

// Delete removes an invoice that no payment references.
func (s *Service) Delete(ctx context.Context, id snowflake.ID) error {
	var deleted *invoicedomain.Invoice
	for attempt := 0; attempt < maxWriteAttempts && deleted == nil; attempt++ {
		var conflict bool
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			invoice, err := s.load(ctx, tx, id)
			if err != nil {
				return err
			}
			count, err := s.repo.CountPayments(ctx, tx, id)
			if err != nil {
				return err
			}
			if count > 0 {
				return invoicedomain.ErrConflict
			}
			ok, err := s.repo.Delete(ctx, tx, id, invoice.Version)
			if err != nil {
				return err
			}
			if !ok {
				conflict = true
				return nil
			}
			deleted = invoice
			return nil
		})
		if err != nil {
			return err
		}
		if conflict {
			s.metrics.RecordVersionConflict(ctx, "delete")
		}
	}
	if deleted == nil {
		return invoicedomain.ErrConcurrentModification
	}

	s.emitAudit(ctx, auditdomain.ActionInvoiceDelete, deleted, nil)
	return nil
}

func (s *Service) ListOverdueCandidates(ctx context.Context, now time.Time, afterID snowflake.ID, limit int) ([]invoicedomain.Invoice, error) {
	if limit <= 0 {
		limit = pagination.DefaultPageSize
	}
	rows, err := s.repo.ListOverdueCandidates(ctx, s.db, now, afterID, limit)
	if err != nil {
		return nil, err
	}
	invoices := make([]invoicedomain.Invoice, 0, len(rows))
	for _, row := range rows {
		invoices = append(invoices, *row)
	}
	return invoices, nil
}

// price resolves the tax rate in effect now and prices the requested lines.
func (s *Service) price(ctx context.Context, lines []billing.LineRequest) (billing.Result, error) {
	rate, err := s.settings.TaxRate(ctx)
	if err != nil {
		return billing.Result{}, fmt.Errorf("resolve tax rate: %w", err)
	}
	result, err := s.calculator.Calculate(ctx, lines, rate)
	if err != nil {
		return billing.Result{}, err
	}
	if len(result.Lines) == 0 {
		return billing.Result{}, invoicedomain.ErrNoLineItems
	}
	return result, nil
}

func (s *Service) snapshotItems(invoiceID snowflake.ID, lines []billing.Line) []invoicedomain.InvoiceItem {
	items := make([]invoicedomain.InvoiceItem, 0, len(lines))
	for i, line := range lines {
		items = append(items, invoicedomain.InvoiceItem{
			ID:          s.genID.Generate(),
			InvoiceID:   invoiceID,
			Position:    i + 1,
			ItemID:      line.ItemID,
			Description: line.Description,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
			LineTotal:   line.LineTotal,
		})
	}
	return items
}

func (s *Service) load(ctx context.Context, db *gorm.DB, id snowflake.ID) (*invoicedomain.Invoice, error) {
	if id == 0 {
		return nil, invoicedomain.ErrInvalidInvoiceID
	}
	invoice, err := s.repo.FindByID(ctx, db, id)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, invoicedomain.ErrNotFound
	}
	return invoice, nil
}

func (s *Service) emitAudit(ctx context.Context, action string, invoice *invoicedomain.Invoice, extra map[string]any) {
	if s.auditSvc == nil || invoice == nil {
		return
	}
	metadata := map[string]any{
		"invoice_number": invoice.InvoiceNumber,
		"client_id":      invoice.ClientID.String(),
		"status":         string(invoice.Status),
		"total_amount":   invoice.TotalAmount.StringFixed(2),
		"tax_amount":     invoice.TaxAmount.StringFixed(2),
		"version":        invoice.Version,
	}
	for key, value := range extra {
		if key == "" {
			continue
		}
		metadata[key] = value
	}

	targetID := invoice.ID.String()
	if err := s.auditSvc.AuditLog(ctx, "", nil, action, "invoice", &targetID, metadata); err != nil {
		s.log.Warn("audit write failed", zap.String("action", action), zap.Error(err))
	}
}

func normalizeNotes(raw string) (*string, error) {
	notes := strings.TrimSpace(raw)
	if notes == "" {
		return nil, nil
	}
	if len([]rune(notes)) > invoicedomain.MaxNotesLength {
		return nil, invoicedomain.ErrInvalidNotes
	}
	return &notes, nil
}

func rejectionWarnings(rejected []billing.Rejection) []string {
	if len(rejected) == 0 {
		return nil
	}
	warnings := make([]string, 0, len(rejected))
	for _, r := range rejected {
		warnings = append(warnings, fmt.Sprintf("line %d (item %s) dropped: %s", r.Index+1, r.ItemID, r.Reason))
	}
	return warnings
}
