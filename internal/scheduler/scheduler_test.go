package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	stringadapter "github.com/casbin/casbin/v2/persist/string-adapter"
	"github.com/smallbiznis/invoicer/internal/authorization"
	invoicedomain "github.com/smallbiznis/invoicer/internal/invoice/domain"
	"github.com/smallbiznis/invoicer/internal/invoice/invoicetest"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newAuthz(t *testing.T) authorization.Service {
	t.Helper()
	enforcer, err := authorization.NewEnforcerWithAdapter(stringadapter.NewAdapter("p, role:staff, invoice, invoice.view"))
	require.NoError(t, err)
	return authorization.NewService(authorization.Params{Log: zap.NewNop(), Enforcer: enforcer})
}

func newScheduler(t *testing.T, h *invoicetest.Harness, invoices invoicedomain.Service, locker Locker, cfg Config) *Scheduler {
	t.Helper()
	if invoices == nil {
		invoices = h.Invoices
	}
	sched, err := New(Params{
		Log:        zap.NewNop(),
		GenID:      h.Node,
		Clock:      h.Clock,
		InvoiceSvc: invoices,
		AuthzSvc:   newAuthz(t),
		Locker:     locker,
		Config:     cfg,
	})
	require.NoError(t, err)
	return sched
}

func overdueInvoice(t *testing.T, h *invoicetest.Harness) invoicedomain.Invoice {
	t.Helper()
	inv := h.SentInvoice(t, "1000", 1)
	h.SetDueDate(t, inv.ID, h.Clock.Now().Add(-24*time.Hour))
	return h.Reload(t, inv.ID)
}

// staleInvoices replays a fixed candidate list, as if it had been read
// before other writers touched the rows.
type staleInvoices struct {
	invoicedomain.Service
	candidates []invoicedomain.Invoice
}

func (s *staleInvoices) ListOverdueCandidates(ctx context.Context, now time.Time, afterID snowflake.ID, limit int) ([]invoicedomain.Invoice, error) {
	out := []invoicedomain.Invoice{}
	for _, inv := range s.candidates {
		if inv.ID > afterID && len(out) < limit {
			out = append(out, inv)
		}
	}
	return out, nil
}

type failingInvoices struct {
	invoicedomain.Service
	failID snowflake.ID
}

func (f *failingInvoices) MarkOverdue(ctx context.Context, id snowflake.ID, now time.Time) (invoicedomain.Result, error) {
	if id == f.failID {
		return invoicedomain.Result{}, errors.New("connection reset")
	}
	return f.Service.MarkOverdue(ctx, id, now)
}

// panicOnFirstList panics on the first candidate listing and then
// behaves like the wrapped service.
type panicOnFirstList struct {
	invoicedomain.Service
	calls atomic.Int32
}

func (p *panicOnFirstList) ListOverdueCandidates(ctx context.Context, now time.Time, afterID snowflake.ID, limit int) ([]invoicedomain.Invoice, error) {
	if p.calls.Add(1) == 1 {
		panic("nil template")
	}
	return p.Service.ListOverdueCandidates(ctx, now, afterID, limit)
}

type denyAll struct{}

func (denyAll) Authorize(context.Context, string, string) error { return authorization.ErrForbidden }

func TestSweepMarksOverdueOnceAndKeepsTotals(t *testing.T) {
	h := invoicetest.New(t)
	inv := overdueInvoice(t, h)
	emailsBefore := h.Email.Count()
	sched := newScheduler(t, h, nil, nil, Config{})

	result, err := sched.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, result.Scanned)
	require.Equal(t, 1, result.MarkedOverdue)
	require.Zero(t, result.ReminderFailures)

	got := h.Reload(t, inv.ID)
	require.Equal(t, invoicedomain.StatusOverdue, got.Status)
	require.True(t, got.TotalAmount.Equal(inv.TotalAmount))
	require.True(t, got.TaxAmount.Equal(inv.TaxAmount))
	require.Equal(t, emailsBefore+1, h.Email.Count())

	again, err := sched.Sweep(context.Background())
	require.NoError(t, err)
	require.Zero(t, again.Scanned)
	require.Equal(t, emailsBefore+1, h.Email.Count())
	require.Equal(t, invoicedomain.StatusOverdue, h.Reload(t, inv.ID).Status)
}

func TestSweepPagesThroughCandidates(t *testing.T) {
	h := invoicetest.New(t)
	first := overdueInvoice(t, h)
	second := overdueInvoice(t, h)
	third := overdueInvoice(t, h)
	sched := newScheduler(t, h, nil, nil, Config{BatchSize: 2})

	result, err := sched.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, result.MarkedOverdue)
	for _, id := range []snowflake.ID{first.ID, second.ID, third.ID} {
		require.Equal(t, invoicedomain.StatusOverdue, h.Reload(t, id).Status)
	}
}

func TestSweepLeavesInvoicesNotYetDue(t *testing.T) {
	h := invoicetest.New(t)
	inv := h.SentInvoice(t, "250", 2)
	h.SetDueDate(t, inv.ID, h.Clock.Now().Add(time.Hour))
	sched := newScheduler(t, h, nil, nil, Config{})

	result, err := sched.Sweep(context.Background())
	require.NoError(t, err)
	require.Zero(t, result.Scanned)
	require.Equal(t, invoicedomain.StatusSent, h.Reload(t, inv.ID).Status)
}

func TestSweepDoesNotTouchInvoicePaidAfterListing(t *testing.T) {
	h := invoicetest.New(t)
	stale := overdueInvoice(t, h)

	paid := h.Reload(t, stale.ID)
	require.NoError(t, h.Invoices.MarkPaidTx(context.Background(), h.DB, &paid))
	emailsBefore := h.Email.Count()

	invoices := &staleInvoices{Service: h.Invoices, candidates: []invoicedomain.Invoice{stale}}
	sched := newScheduler(t, h, invoices, nil, Config{})

	result, err := sched.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, result.Scanned)
	require.Equal(t, 1, result.Skipped)
	require.Zero(t, result.MarkedOverdue)

	got := h.Reload(t, stale.ID)
	require.Equal(t, invoicedomain.StatusPaid, got.Status)
	require.Equal(t, paid.Version, got.Version)
	require.Equal(t, emailsBefore, h.Email.Count())
}

func TestSweepContinuesPastFailedInvoice(t *testing.T) {
	h := invoicetest.New(t)
	broken := overdueInvoice(t, h)
	healthy := overdueInvoice(t, h)

	invoices := &failingInvoices{Service: h.Invoices, failID: broken.ID}
	sched := newScheduler(t, h, invoices, nil, Config{})

	result, err := sched.Sweep(context.Background())
	require.Error(t, err)
	require.ErrorContains(t, err, "connection reset")
	require.Equal(t, 1, result.Failed)
	require.Equal(t, 1, result.MarkedOverdue)
	require.Equal(t, invoicedomain.StatusSent, h.Reload(t, broken.ID).Status)
	require.Equal(t, invoicedomain.StatusOverdue, h.Reload(t, healthy.ID).Status)
}

func TestRunOnceRecoversFromPanic(t *testing.T) {
	h := invoicetest.New(t)
	inv := overdueInvoice(t, h)
	sched := newScheduler(t, h, &panicOnFirstList{Service: h.Invoices}, nil, Config{})

	err := sched.RunOnce(context.Background())
	require.ErrorIs(t, err, ErrJobPanicked)
	require.ErrorContains(t, err, "nil template")
	require.Equal(t, invoicedomain.StatusSent, h.Reload(t, inv.ID).Status)

	// The lease was released while unwinding, so the next cycle runs.
	require.NoError(t, sched.RunOnce(context.Background()))
	require.Equal(t, invoicedomain.StatusOverdue, h.Reload(t, inv.ID).Status)
}

func TestRunForeverKeepsTickingAfterPanic(t *testing.T) {
	h := invoicetest.New(t)
	inv := overdueInvoice(t, h)
	invoices := &panicOnFirstList{Service: h.Invoices}
	sched := newScheduler(t, h, invoices, nil, Config{RunInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		sched.RunForever(ctx)
		close(done)
	}()

	// A third listing means the cycle after the panic ran to completion.
	require.Eventually(t, func() bool {
		return invoices.calls.Load() >= 3
	}, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("RunForever did not return after cancel")
	}
	require.Equal(t, invoicedomain.StatusOverdue, h.Reload(t, inv.ID).Status)
}

func TestSweepReportsReminderFailureWithoutRollingBack(t *testing.T) {
	h := invoicetest.New(t)
	inv := overdueInvoice(t, h)
	h.Email.FailWith(errors.New("smtp unavailable"))
	sched := newScheduler(t, h, nil, nil, Config{})

	result, err := sched.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, result.MarkedOverdue)
	require.Equal(t, 1, result.ReminderFailures)
	require.NotEmpty(t, result.Warnings)
	require.Equal(t, invoicedomain.StatusOverdue, h.Reload(t, inv.ID).Status)
}

func TestSweepDefersWhileLeaseIsHeld(t *testing.T) {
	h := invoicetest.New(t)
	inv := overdueInvoice(t, h)
	locker := NewLocalLocker(h.Clock)
	cfg := Config{LockTTL: time.Minute, JobTimeout: 10 * time.Second}
	sched := newScheduler(t, h, nil, locker, cfg)

	_, ok, err := locker.TryLock(context.Background(), overdueSweepLockKey, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	result, err := sched.Sweep(context.Background())
	require.NoError(t, err)
	require.True(t, result.Deferred)
	require.Equal(t, invoicedomain.StatusSent, h.Reload(t, inv.ID).Status)

	h.Clock.Advance(2 * time.Minute)
	result, err = sched.Sweep(context.Background())
	require.NoError(t, err)
	require.False(t, result.Deferred)
	require.Equal(t, invoicedomain.StatusOverdue, h.Reload(t, inv.ID).Status)
}

func TestSweepRequiresAuthorization(t *testing.T) {
	h := invoicetest.New(t)
	inv := overdueInvoice(t, h)
	sched, err := New(Params{
		Log:        zap.NewNop(),
		GenID:      h.Node,
		Clock:      h.Clock,
		InvoiceSvc: h.Invoices,
		AuthzSvc:   denyAll{},
	})
	require.NoError(t, err)

	_, err = sched.Sweep(context.Background())
	require.ErrorIs(t, err, authorization.ErrForbidden)
	require.Equal(t, invoicedomain.StatusSent, h.Reload(t, inv.ID).Status)
}

func TestRunOnceMarksOverdue(t *testing.T) {
	h := invoicetest.New(t)
	inv := overdueInvoice(t, h)
	sched := newScheduler(t, h, nil, nil, Config{})

	require.NoError(t, sched.RunOnce(context.Background()))
	require.Equal(t, invoicedomain.StatusOverdue, h.Reload(t, inv.ID).Status)
}

func TestRunForeverStopsOnCancel(t *testing.T) {
	h := invoicetest.New(t)
	sched := newScheduler(t, h, nil, nil, Config{RunInterval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sched.RunForever(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("RunForever did not return after cancel")
	}
}

func TestNewRejectsMissingDependencies(t *testing.T) {
	_, err := New(Params{Log: zap.NewNop()})
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{JobTimeout: 5 * time.Minute, LockTTL: time.Minute}.withDefaults()
	require.Equal(t, time.Minute, cfg.RunInterval)
	require.Equal(t, 100, cfg.BatchSize)
	require.Greater(t, cfg.LockTTL, cfg.JobTimeout)
}
