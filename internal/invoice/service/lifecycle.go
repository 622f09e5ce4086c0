package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/invoicer/internal/audit/domain"
	invoicedomain "github.com/smallbiznis/invoicer/internal/invoice/domain"
	notificationdomain "github.com/smallbiznis/invoicer/internal/notification/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type notifyFunc func(ctx context.Context, notice notificationdomain.InvoiceNotice) (notificationdomain.Record, error)

// Send moves a draft to SENT, then emails the client. A failed email leaves
// the invoice SENT and is reported as a warning.
func (s *Service) Send(ctx context.Context, id snowflake.ID) (invoicedomain.Result, error) {
	invoice, from, err := s.transition(ctx, id, invoicedomain.ActionSend, nil)
	if err != nil {
		return invoicedomain.Result{}, err
	}

	result := invoicedomain.Result{Invoice: *invoice}
	extra := map[string]any{"previous_status": string(from)}
	if warning := s.notify(ctx, invoice, s.notifications.NotifyInvoiceSent); warning != "" {
		result.Warnings = append(result.Warnings, warning)
		extra["notification_status"] = string(notificationdomain.StatusFailed)
		extra["notification_error"] = warning
	}
	s.emitAudit(ctx, auditdomain.ActionInvoiceSend, invoice, extra)
	return result, nil
}

func (s *Service) Cancel(ctx context.Context, id snowflake.ID) (invoicedomain.Result, error) {
	invoice, from, err := s.transition(ctx, id, invoicedomain.ActionCancel, nil)
	if err != nil {
		return invoicedomain.Result{}, err
	}
	s.emitAudit(ctx, auditdomain.ActionInvoiceCancel, invoice, map[string]any{
		"previous_status": string(from),
	})
	return invoicedomain.Result{Invoice: *invoice}, nil
}

func (s *Service) MarkOverdue(ctx context.Context, id snowflake.ID, now time.Time) (invoicedomain.Result, error) {
	invoice, from, err := s.transition(ctx, id, invoicedomain.ActionMarkOverdue, func(inv *invoicedomain.Invoice) error {
		if inv.IsArchived || !inv.DueDate.Before(now) {
			return invoicedomain.ErrNotDue
		}
		return nil
	})
	if err != nil {
		return invoicedomain.Result{}, err
	}

	result := invoicedomain.Result{Invoice: *invoice}
	extra := map[string]any{
		"previous_status": string(from),
		"due_date":        invoice.DueDate.Format(time.RFC3339),
	}
	if warning := s.notify(ctx, invoice, s.notifications.NotifyOverdue); warning != "" {
		result.Warnings = append(result.Warnings, warning)
		extra["notification_status"] = string(notificationdomain.StatusFailed)
		extra["notification_error"] = warning
	}
	s.emitAudit(ctx, auditdomain.ActionInvoiceOverdue, invoice, extra)
	return result, nil
}

// MarkPaidTx runs inside the caller's transaction, so it only touches tx.
// The caller records the audit entry after commit.
func (s *Service) MarkPaidTx(ctx context.Context, tx *gorm.DB, inv *invoicedomain.Invoice) error {
	to, err := invoicedomain.Next(inv.Status, invoicedomain.ActionMarkPaid)
	if err != nil {
		return err
	}

	now := s.clock.Now()
	ok, err := s.repo.Transition(ctx, tx, invoicedomain.TransitionUpdate{
		ID:              inv.ID,
		ExpectedVersion: inv.Version,
		From:            inv.Status,
		To:              to,
		At:              now,
	})
	if err != nil {
		return err
	}
	if !ok {
		s.metrics.RecordVersionConflict(ctx, string(invoicedomain.ActionMarkPaid))
		return invoicedomain.ErrConcurrentModification
	}

	from := inv.Status
	applyTransition(inv, to, now)
	s.metrics.RecordInvoiceTransition(ctx, string(from), string(to))
	return nil
}

func (s *Service) Archive(ctx context.Context, id snowflake.ID) (invoicedomain.Invoice, error) {
	return s.setArchived(ctx, id, true)
}

func (s *Service) Restore(ctx context.Context, id snowflake.ID) (invoicedomain.Invoice, error) {
	return s.setArchived(ctx, id, false)
}

func (s *Service) setArchived(ctx context.Context, id snowflake.ID, archived bool) (invoicedomain.Invoice, error) {
	action := auditdomain.ActionInvoiceArchive
	if !archived {
		action = auditdomain.ActionInvoiceRestore
	}

	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		invoice, err := s.load(ctx, s.db, id)
		if err != nil {
			return invoicedomain.Invoice{}, err
		}
		if invoice.IsArchived == archived {
			return *invoice, nil
		}

		now := s.clock.Now()
		ok, err := s.repo.SetArchived(ctx, s.db, id, invoice.Version, archived, now)
		if err != nil {
			return invoicedomain.Invoice{}, err
		}
		if !ok {
			s.metrics.RecordVersionConflict(ctx, action)
			continue
		}

		invoice.IsArchived = archived
		invoice.Version++
		invoice.UpdatedAt = now
		s.emitAudit(ctx, action, invoice, nil)
		return *invoice, nil
	}
	return invoicedomain.Invoice{}, invoicedomain.ErrConcurrentModification
}

// transition applies action to a fresh read of id. When a concurrent writer
// bumps the version first, the read, guard and write are repeated.
func (s *Service) transition(ctx context.Context, id snowflake.ID, action invoicedomain.Action, guard func(*invoicedomain.Invoice) error) (*invoicedomain.Invoice, invoicedomain.Status, error) {
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, "", err
		}

		invoice, err := s.load(ctx, s.db, id)
		if err != nil {
			return nil, "", err
		}
		to, err := invoicedomain.Next(invoice.Status, action)
		if err != nil {
			return nil, "", err
		}
		if guard != nil {
			if err := guard(invoice); err != nil {
				return nil, "", err
			}
		}

		now := s.clock.Now()
		ok, err := s.repo.Transition(ctx, s.db, invoicedomain.TransitionUpdate{
			ID:              invoice.ID,
			ExpectedVersion: invoice.Version,
			From:            invoice.Status,
			To:              to,
			At:              now,
		})
		if err != nil {
			return nil, "", err
		}
		if !ok {
			s.metrics.RecordVersionConflict(ctx, string(action))
			s.log.Debug("invoice version moved, retrying",
				zap.String("invoice_id", id.String()),
				zap.String("action", string(action)),
				zap.Int("attempt", attempt+1),
			)
			continue
		}

		from := invoice.Status
		applyTransition(invoice, to, now)
		s.metrics.RecordInvoiceTransition(ctx, string(from), string(to))
		return invoice, from, nil
	}
	return nil, "", invoicedomain.ErrConcurrentModification
}

func applyTransition(inv *invoicedomain.Invoice, to invoicedomain.Status, at time.Time) {
	inv.Status = to
	inv.Version++
	inv.UpdatedAt = at
	stamp := at
	switch to {
	case invoicedomain.StatusSent:
		inv.SentAt = &stamp
	case invoicedomain.StatusOverdue:
		inv.OverdueAt = &stamp
	case invoicedomain.StatusPaid:
		inv.PaidAt = &stamp
	case invoicedomain.StatusCancelled:
		inv.CancelledAt = &stamp
	}
}

// notify sends one client message and returns a warning when it failed.
func (s *Service) notify(ctx context.Context, invoice *invoicedomain.Invoice, send notifyFunc) string {
	notice, err := s.Notice(ctx, *invoice)
	if err != nil {
		s.log.Warn("cannot build notification", zap.String("invoice_id", invoice.ID.String()), zap.Error(err))
		return fmt.Sprintf("notification not sent: %v", err)
	}
	if _, err := send(ctx, notice); err != nil {
		return fmt.Sprintf("notification failed: %v", err)
	}
	return ""
}
