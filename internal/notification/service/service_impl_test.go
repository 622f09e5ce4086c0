package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/invoicer/internal/clock"
	"github.com/smallbiznis/invoicer/internal/notification/domain"
	"github.com/smallbiznis/invoicer/internal/notification/repository"
	"github.com/smallbiznis/invoicer/internal/observability/metrics"
	"github.com/smallbiznis/invoicer/internal/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type captureEmail struct {
	mu       sync.Mutex
	subjects []string
	bodies   []string
	err      error
}

func (c *captureEmail) Send(ctx context.Context, to []string, subject, body string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.subjects = append(c.subjects, subject)
	c.bodies = append(c.bodies, body)
	return nil
}

func newNotice() domain.InvoiceNotice {
	return domain.InvoiceNotice{
		InvoiceID:     snowflake.ID(42),
		InvoiceNumber: "INV-20240101-090000",
		ClientID:      snowflake.ID(7),
		ClientName:    "Jane",
		ClientEmail:   "jane@example.test",
		CompanyName:   "Acme Pte Ltd",
		Currency:      "sgd",
		Total:         "100.00",
		Tax:           "9.00",
		AmountDue:     "109.00",
		DueDate:       time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
		PayURL:        "http://localhost:8080/pay/42",
	}
}

func TestNotifyOverdueRecordsSentNotification(t *testing.T) {
	db := testutil.OpenDB(t)
	mail := &captureEmail{}
	svc := New(Params{
		DB:      db,
		Log:     zap.NewNop(),
		GenID:   testutil.Node(t),
		Clock:   clock.NewFakeClock(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)),
		Repo:    repository.Provide(),
		Email:   mail,
		Metrics: metrics.NewNoop(),
	})

	record, err := svc.NotifyOverdue(context.Background(), newNotice())
	require.NoError(t, err)
	require.Equal(t, domain.StatusSent, record.Status)
	require.Equal(t, "URGENT: Invoice INV-20240101-090000 is Overdue", record.Subject)
	require.Equal(t, "Overdue reminder sent for INV-20240101-090000", record.Message)

	require.Len(t, mail.bodies, 1)
	require.True(t, strings.Contains(mail.bodies[0], "31 Jan 2024"))
	require.True(t, strings.Contains(mail.bodies[0], "109.00 SGD"))

	records, err := svc.ListByInvoice(context.Background(), snowflake.ID(42))
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, domain.KindInvoiceOverdue, records[0].Kind)
}

func TestNotifyInvoiceSentFailureIsRecorded(t *testing.T) {
	db := testutil.OpenDB(t)
	svc := New(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: testutil.Node(t),
		Clock: clock.NewFakeClock(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)),
		Repo:  repository.Provide(),
		Email: &captureEmail{err: errors.New("smtp down")},
	})

	record, err := svc.NotifyInvoiceSent(context.Background(), newNotice())
	require.Error(t, err)
	require.Equal(t, domain.StatusFailed, record.Status)
	require.NotNil(t, record.Error)
	require.Equal(t, "Invoice INV-20240101-090000 from Acme Pte Ltd", record.Subject)

	testutil.AssertCount(t, db, "SELECT COUNT(*) FROM notifications WHERE status = 'FAILED'", 1)
}

func TestNotifyWithoutRecipientFails(t *testing.T) {
	db := testutil.OpenDB(t)
	svc := New(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: testutil.Node(t),
		Clock: clock.NewFakeClock(time.Now()),
		Repo:  repository.Provide(),
		Email: &captureEmail{},
	})

	notice := newNotice()
	notice.ClientEmail = ""
	_, err := svc.NotifyPaymentReceived(context.Background(), notice)
	require.ErrorIs(t, err, domain.ErrMissingRecipient)
	testutil.AssertCount(t, db, "SELECT COUNT(*) FROM notifications", 1)
}
