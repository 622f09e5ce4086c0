package service

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/invoicer/internal/clock"
	"github.com/smallbiznis/invoicer/internal/notification/domain"
	"github.com/smallbiznis/invoicer/internal/observability/metrics"
	"github.com/smallbiznis/invoicer/internal/providers/email"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultSendTimeout = 10 * time.Second

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Repo    domain.Repository
	Email   email.Provider
	Metrics *metrics.Metrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	repo        domain.Repository
	email       email.Provider
	metrics     *metrics.Metrics
	sendTimeout time.Duration
}

func New(p Params) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("notification.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		repo:        p.Repo,
		email:       p.Email,
		metrics:     p.Metrics,
		sendTimeout: defaultSendTimeout,
	}
}

func (s *Service) NotifyInvoiceSent(ctx context.Context, notice domain.InvoiceNotice) (domain.Record, error) {
	company := notice.CompanyName
	if company == "" {
		company = "us"
	}
	subject := fmt.Sprintf("Invoice %s from %s", notice.InvoiceNumber, company)
	summary := fmt.Sprintf("Invoice %s sent", notice.InvoiceNumber)
	return s.dispatch(ctx, domain.KindInvoiceSent, "invoice_sent.html", subject, summary, notice)
}

func (s *Service) NotifyOverdue(ctx context.Context, notice domain.InvoiceNotice) (domain.Record, error) {
	subject := fmt.Sprintf("URGENT: Invoice %s is Overdue", notice.InvoiceNumber)
	summary := fmt.Sprintf("Overdue reminder sent for %s", notice.InvoiceNumber)
	return s.dispatch(ctx, domain.KindInvoiceOverdue, "invoice_overdue.html", subject, summary, notice)
}

func (s *Service) NotifyPaymentReceived(ctx context.Context, notice domain.InvoiceNotice) (domain.Record, error) {
	subject := fmt.Sprintf("Payment received for Invoice %s", notice.InvoiceNumber)
	summary := fmt.Sprintf("Payment confirmation sent for %s", notice.InvoiceNumber)
	return s.dispatch(ctx, domain.KindPaymentReceived, "payment_received.html", subject, summary, notice)
}

func (s *Service) ListByInvoice(ctx context.Context, invoiceID snowflake.ID) ([]domain.Record, error) {
	return s.repo.ListByInvoice(ctx, s.db, invoiceID)
}

func (s *Service) dispatch(ctx context.Context, kind domain.Kind, tmpl, subject, summary string, notice domain.InvoiceNotice) (domain.Record, error) {
	record := domain.Record{
		ID:             s.genID.Generate(),
		InvoiceID:      notice.InvoiceID,
		ClientID:       notice.ClientID,
		Kind:           kind,
		RecipientEmail: strings.TrimSpace(notice.ClientEmail),
		Subject:        subject,
		Message:        summary,
		Status:         domain.StatusSent,
	}

	sendErr := s.deliver(ctx, tmpl, subject, record.RecipientEmail, notice)
	record.SentAt = s.clock.Now()
	if sendErr != nil {
		msg := sendErr.Error()
		record.Status = domain.StatusFailed
		record.Error = &msg
		record.Message = fmt.Sprintf("Delivery failed for %s", notice.InvoiceNumber)
		s.log.Warn("notification delivery failed",
			zap.String("kind", string(kind)),
			zap.String("invoice_id", notice.InvoiceID.String()),
			zap.Error(sendErr),
		)
	}
	s.metrics.RecordNotification(ctx, string(kind), string(record.Status))

	if err := s.repo.Insert(ctx, s.db, &record); err != nil {
		s.log.Error("failed to record notification",
			zap.String("kind", string(kind)),
			zap.String("invoice_id", notice.InvoiceID.String()),
			zap.Error(err),
		)
		if sendErr != nil {
			return record, sendErr
		}
		return record, fmt.Errorf("record notification: %w", err)
	}
	return record, sendErr
}

func (s *Service) deliver(ctx context.Context, tmpl, subject, to string, notice domain.InvoiceNotice) error {
	if to == "" {
		return domain.ErrMissingRecipient
	}

	var body bytes.Buffer
	if err := templates.ExecuteTemplate(&body, tmpl, templateData(notice)); err != nil {
		return fmt.Errorf("render %s: %w", tmpl, err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.sendTimeout)
	defer cancel()
	return s.email.Send(sendCtx, []string{to}, subject, body.String())
}

func templateData(notice domain.InvoiceNotice) map[string]any {
	dueDate := ""
	if !notice.DueDate.IsZero() {
		dueDate = notice.DueDate.Format("02 Jan 2006")
	}
	return map[string]any{
		"ClientName":    notice.ClientName,
		"CompanyName":   notice.CompanyName,
		"InvoiceNumber": notice.InvoiceNumber,
		"AmountDue":     notice.AmountDue,
		"Tax":           notice.Tax,
		"Currency":      strings.ToUpper(notice.Currency),
		"DueDate":       dueDate,
		"PayURL":        notice.PayURL,
		"TransactionID": notice.TransactionID,
	}
}
