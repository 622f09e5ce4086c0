package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/invoicer/internal/audit/domain"
	"github.com/smallbiznis/invoicer/internal/clock"
	"github.com/smallbiznis/invoicer/internal/config"
	invoicedomain "github.com/smallbiznis/invoicer/internal/invoice/domain"
	notificationdomain "github.com/smallbiznis/invoicer/internal/notification/domain"
	"github.com/smallbiznis/invoicer/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/invoicer/internal/payment/domain"
	gatewaydomain "github.com/smallbiznis/invoicer/internal/providers/payment/domain"
	"github.com/smallbiznis/invoicer/internal/providers/pdf"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	maxCompleteAttempts = 3
	gatewayTimeout      = 15 * time.Second

	manualGateway = "manual"
	manualMethod  = "Manual"
)

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	Clock         clock.Clock
	Config        config.Config
	Repo          paymentdomain.Repository
	InvoiceRepo   invoicedomain.Repository
	Invoices      invoicedomain.Service
	Notifications notificationdomain.Service
	Gateway       gatewaydomain.Gateway `optional:"true"`
	PDF           pdf.Provider          `optional:"true"`
	AuditSvc      auditdomain.Service   `optional:"true"`
	Metrics       *metrics.Metrics      `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID         *snowflake.Node
	clock         clock.Clock
	baseURL       string
	repo          paymentdomain.Repository
	invoiceRepo   invoicedomain.Repository
	invoices      invoicedomain.Service
	notifications notificationdomain.Service
	gateway       gatewaydomain.Gateway
	pdf           pdf.Provider
	auditSvc      auditdomain.Service
	metrics       *metrics.Metrics
}

func NewService(p Params) paymentdomain.Service {
	renderer := p.PDF
	if renderer == nil {
		renderer = pdf.New()
	}
	return &Service{
		db:  p.DB,
		log: p.Log.Named("payment.service"),

		genID:         p.GenID,
		clock:         p.Clock,
		baseURL:       strings.TrimRight(p.Config.BaseURL, "/"),
		repo:          p.Repo,
		invoiceRepo:   p.InvoiceRepo,
		invoices:      p.Invoices,
		notifications: p.Notifications,
		gateway:       p.Gateway,
		pdf:           renderer,
		auditSvc:      p.AuditSvc,
		metrics:       p.Metrics,
	}
}

// CompletePayment records a confirmed payment and marks the invoice PAID in
// one transaction. A transaction id seen before is a no-op.
func (s *Service) CompletePayment(ctx context.Context, req paymentdomain.CompletePaymentRequest) (paymentdomain.Completion, error) {
	req.TransactionID = strings.TrimSpace(req.TransactionID)
	if req.TransactionID == "" {
		return paymentdomain.Completion{}, paymentdomain.ErrInvalidTransactionID
	}
	if req.InvoiceID == 0 {
		return paymentdomain.Completion{}, invoicedomain.ErrInvalidInvoiceID
	}
	if !req.Amount.IsPositive() {
		return paymentdomain.Completion{}, paymentdomain.ErrInvalidAmount
	}
	req.Gateway = strings.ToLower(strings.TrimSpace(req.Gateway))
	if req.Gateway == "" {
		req.Gateway = manualGateway
	}
	req.Method = strings.TrimSpace(req.Method)
	if req.Method == "" {
		req.Method = manualMethod
	}

	for attempt := 0; attempt < maxCompleteAttempts; attempt++ {
		completion, err := s.completeOnce(ctx, req)
		if errors.Is(err, invoicedomain.ErrConcurrentModification) {
			s.log.Debug("invoice changed during payment, retrying",
				zap.String("invoice_id", req.InvoiceID.String()),
				zap.String("transaction_id", req.TransactionID),
				zap.Int("attempt", attempt+1),
			)
			continue
		}
		if err != nil {
			return paymentdomain.Completion{}, err
		}

		if completion.Duplicate {
			if completion.Payment.InvoiceID != req.InvoiceID {
				s.metrics.RecordPaymentEvent(ctx, req.Gateway, "duplicate_mismatch")
				s.log.Warn("transaction already recorded against another invoice",
					zap.String("transaction_id", req.TransactionID),
					zap.String("requested_invoice_id", req.InvoiceID.String()),
					zap.String("recorded_invoice_id", completion.Payment.InvoiceID.String()),
				)
				completion.Warnings = append(completion.Warnings, fmt.Sprintf(
					"transaction %s belongs to invoice %s, not %s",
					req.TransactionID, completion.Payment.InvoiceID, req.InvoiceID))
				return completion, nil
			}
			s.metrics.RecordPaymentEvent(ctx, req.Gateway, "duplicate")
			s.log.Info("payment already recorded",
				zap.String("transaction_id", req.TransactionID),
				zap.String("payment_id", completion.Payment.ID.String()),
			)
			return completion, nil
		}

		s.metrics.RecordPaymentEvent(ctx, req.Gateway, "completed")
		s.afterCommit(ctx, &completion)
		return completion, nil
	}
	return paymentdomain.Completion{}, invoicedomain.ErrConcurrentModification
}

func (s *Service) completeOnce(ctx context.Context, req paymentdomain.CompletePaymentRequest) (paymentdomain.Completion, error) {
	var out paymentdomain.Completion
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.repo.FindByTransactionID(ctx, tx, req.TransactionID)
		if err != nil {
			return err
		}
		if existing != nil {
			out, err = s.duplicate(ctx, tx, existing)
			return err
		}

		invoice, err := s.invoiceRepo.FindByID(ctx, tx, req.InvoiceID)
		if err != nil {
			return err
		}
		if invoice == nil {
			return invoicedomain.ErrNotFound
		}
		if _, err := invoicedomain.Next(invoice.Status, invoicedomain.ActionMarkPaid); err != nil {
			return fmt.Errorf("%w: invoice is %s", paymentdomain.ErrNotPayable, invoice.Status)
		}
		if !req.Amount.Equal(invoice.AmountDue()) {
			return fmt.Errorf("%w: expected %s, got %s", paymentdomain.ErrAmountMismatch,
				invoice.AmountDue().StringFixed(2), req.Amount.StringFixed(2))
		}

		now := s.clock.Now()
		payment := paymentdomain.Payment{
			ID:            s.genID.Generate(),
			InvoiceID:     invoice.ID,
			Amount:        req.Amount,
			Method:        req.Method,
			Gateway:       req.Gateway,
			TransactionID: req.TransactionID,
			Status:        paymentdomain.StatusCompleted,
			PaidAt:        now,
			CreatedAt:     now,
		}
		inserted, err := s.repo.Insert(ctx, tx, &payment)
		if err != nil {
			return err
		}
		if !inserted {
			existing, err := s.repo.FindByTransactionID(ctx, tx, req.TransactionID)
			if err != nil {
				return err
			}
			if existing == nil {
				return invoicedomain.ErrConcurrentModification
			}
			out, err = s.duplicate(ctx, tx, existing)
			return err
		}

		if err := s.invoices.MarkPaidTx(ctx, tx, invoice); err != nil {
			return err
		}
		out = paymentdomain.Completion{Payment: payment, Invoice: *invoice}
		return nil
	})
	return out, err
}

func (s *Service) duplicate(ctx context.Context, tx *gorm.DB, existing *paymentdomain.Payment) (paymentdomain.Completion, error) {
	invoice, err := s.invoiceRepo.FindByID(ctx, tx, existing.InvoiceID)
	if err != nil {
		return paymentdomain.Completion{}, err
	}
	out := paymentdomain.Completion{Payment: *existing, Duplicate: true}
	if invoice != nil {
		out.Invoice = *invoice
	}
	return out, nil
}

// afterCommit writes the audit trail and the receipt email. Failures here
// never undo the payment.
func (s *Service) afterCommit(ctx context.Context, completion *paymentdomain.Completion) {
	payment := completion.Payment
	invoice := completion.Invoice

	s.emitAudit(ctx, auditdomain.ActionPaymentCompleted, "payment", payment.ID, map[string]any{
		"invoice_id":     invoice.ID.String(),
		"invoice_number": invoice.InvoiceNumber,
		"amount":         payment.Amount.StringFixed(2),
		"gateway":        payment.Gateway,
		"transaction_id": payment.TransactionID,
	})

	extra := map[string]any{
		"invoice_number": invoice.InvoiceNumber,
		"payment_id":     payment.ID.String(),
		"status":         string(invoice.Status),
		"version":        invoice.Version,
	}
	notice, err := s.invoices.Notice(ctx, invoice)
	if err == nil {
		notice.TransactionID = payment.TransactionID
		_, err = s.notifications.NotifyPaymentReceived(ctx, notice)
	}
	if err != nil {
		warning := fmt.Sprintf("payment confirmation not sent: %v", err)
		completion.Warnings = append(completion.Warnings, warning)
		extra["notification_status"] = string(notificationdomain.StatusFailed)
		extra["notification_error"] = warning
		s.log.Warn("payment confirmation failed",
			zap.String("invoice_id", invoice.ID.String()),
			zap.Error(err),
		)
	}
	s.emitAudit(ctx, auditdomain.ActionInvoicePaid, "invoice", invoice.ID, extra)
}

func (s *Service) ListByInvoice(ctx context.Context, invoiceID snowflake.ID) ([]paymentdomain.Payment, error) {
	if invoiceID == 0 {
		return nil, invoicedomain.ErrInvalidInvoiceID
	}
	payments, err := s.repo.ListByInvoice(ctx, s.db, invoiceID)
	if err != nil {
		return nil, err
	}
	if payments == nil {
		payments = []paymentdomain.Payment{}
	}
	return payments, nil
}

func (s *Service) emitAudit(ctx context.Context, action, targetType string, id snowflake.ID, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	targetID := id.String()
	if err := s.auditSvc.AuditLog(ctx, "", nil, action, targetType, &targetID, metadata); err != nil {
		s.log.Warn("audit write failed", zap.String("action", action), zap.Error(err))
	}
}
