package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/invoicer/internal/auditcontext"
	"github.com/smallbiznis/invoicer/internal/authorization"
	"github.com/smallbiznis/invoicer/internal/clock"
	invoicedomain "github.com/smallbiznis/invoicer/internal/invoice/domain"
	obslogger "github.com/smallbiznis/invoicer/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/invoicer/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	jobOverdueSweep = "overdue_sweep"

	releaseTimeout = 5 * time.Second
)

var (
	ErrInvalidConfig = errors.New("invalid_scheduler_config")
	ErrJobPanicked   = errors.New("scheduler_job_panicked")
)

type Params struct {
	fx.In

	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	InvoiceSvc invoicedomain.Service
	AuthzSvc   authorization.Service
	Locker     Locker `optional:"true"`
	Config     Config `optional:"true"`
}

type Scheduler struct {
	log        *zap.Logger
	cfg        Config
	genID      *snowflake.Node
	clock      clock.Clock
	invoiceSvc invoicedomain.Service
	authzSvc   authorization.Service
	locker     Locker
}

// SweepResult counts what one overdue pass did. Deferred is set when
// another runner held the lease and nothing was scanned.
type SweepResult struct {
	Scanned          int      `json:"scanned"`
	MarkedOverdue    int      `json:"marked_overdue"`
	Skipped          int      `json:"skipped"`
	Failed           int      `json:"failed"`
	ReminderFailures int      `json:"reminder_failures"`
	Deferred         bool     `json:"deferred"`
	Warnings         []string `json:"warnings,omitempty"`
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.InvoiceSvc == nil || p.AuthzSvc == nil {
		return nil, ErrInvalidConfig
	}
	cfg := p.Config.withDefaults()
	locker := p.Locker
	if locker == nil {
		locker = NewLocalLocker(p.Clock)
	}
	return &Scheduler{
		log:        p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:        cfg,
		genID:      p.GenID,
		clock:      p.Clock,
		invoiceSvc: p.InvoiceSvc,
		authzSvc:   p.AuthzSvc,
		locker:     locker,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx = auditcontext.WithActor(ctx, auditcontext.ActorTypeSystem, "scheduler")
	ctx, run, owner := s.beginRun(ctx)
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := callJob(ctx, run, fn)
	schedMetrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if owner {
		if err != nil && run.errors == 0 {
			run.errors++
		}
		run.end()
	}
	if err == nil {
		return nil
	}

	// A deadline is a soft timeout; the next tick picks up where this stopped.
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
	}
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		run.log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

// callJob turns a panic inside fn into ErrJobPanicked so one bad cycle
// cannot stop the loop.
func callJob(ctx context.Context, run *sweepRun, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrJobPanicked, r)
			run.log.Error("scheduler.job.panic",
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
		}
	}()
	return fn(ctx)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	return s.runJob(parent, jobOverdueSweep, s.cfg.JobTimeout, func(ctx context.Context) error {
		_, err := s.Sweep(ctx)
		return err
	})
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		runLag := time.Since(nextRun)
		if runLag > 0 {
			schedMetrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Sweep moves every SENT invoice past its due date to OVERDUE. Each
// invoice goes through the lifecycle service, so a payment that lands
// between listing and marking wins and the invoice is skipped. A failure
// on one invoice is logged and the pass continues.
func (s *Scheduler) Sweep(ctx context.Context) (SweepResult, error) {
	if actorType, _ := auditcontext.ActorFromContext(ctx); actorType == "" {
		ctx = auditcontext.WithActor(ctx, auditcontext.ActorTypeSystem, "scheduler")
	}
	ctx, run, owner := s.beginRun(ctx)
	if owner {
		defer run.end()
	}

	var result SweepResult
	if err := s.authzSvc.Authorize(ctx, authorization.ObjectInvoice, authorization.ActionInvoiceMarkOverdue); err != nil {
		run.fail("scheduler.sweep.unauthorized", 0, err)
		return result, err
	}

	schedMetrics := obsmetrics.Scheduler()
	token, acquired, err := s.locker.TryLock(ctx, overdueSweepLockKey, s.cfg.LockTTL)
	if err != nil {
		run.fail("scheduler.sweep.lock_failed", 0, err)
		return result, err
	}
	if !acquired {
		schedMetrics.IncBatchDeferred(jobOverdueSweep, obsmetrics.SchedulerDeferredReasonLockHeld)
		run.log.Info("scheduler.sweep.deferred", zap.String("reason", obsmetrics.SchedulerDeferredReasonLockHeld))
		result.Deferred = true
		return result, nil
	}
	defer s.releaseLock(ctx, token)

	now := s.clock.Now()
	var (
		afterID snowflake.ID
		jobErr  error
	)
	for {
		if err := ctx.Err(); err != nil {
			return result, errors.Join(jobErr, err)
		}

		page, err := s.invoiceSvc.ListOverdueCandidates(ctx, now, afterID, s.cfg.BatchSize)
		if err != nil {
			run.fail("scheduler.sweep.list_failed", 0, err)
			return result, errors.Join(jobErr, err)
		}

		for _, candidate := range page {
			if err := ctx.Err(); err != nil {
				return result, errors.Join(jobErr, err)
			}
			afterID = candidate.ID
			result.Scanned++
			jobErr = errors.Join(jobErr, s.markOverdue(ctx, run, candidate, now, &result))
		}
		run.processed += len(page)

		if len(page) < s.cfg.BatchSize {
			break
		}
	}

	schedMetrics.AddBatchProcessed(jobOverdueSweep, obsmetrics.ResourceOverdueInvoices, result.MarkedOverdue)
	schedMetrics.AddBatchProcessed(jobOverdueSweep, obsmetrics.ResourceOverdueReminders, result.MarkedOverdue-result.ReminderFailures)
	return result, jobErr
}

func (s *Scheduler) markOverdue(ctx context.Context, run *sweepRun, candidate invoicedomain.Invoice, now time.Time, result *SweepResult) error {
	schedMetrics := obsmetrics.Scheduler()
	ref := invoiceRef{id: candidate.ID, number: candidate.InvoiceNumber}

	marked, err := s.invoiceSvc.MarkOverdue(ctx, candidate.ID, now)
	switch {
	case err == nil:
		result.MarkedOverdue++
		if len(marked.Warnings) > 0 {
			result.ReminderFailures++
			result.Warnings = append(result.Warnings, marked.Warnings...)
		}
		schedMetrics.IncSweepOutcome(obsmetrics.SweepOutcomeMarkedOverdue)
		run.marked(ref, marked.Warnings)
		return nil
	case errors.Is(err, invoicedomain.ErrInvalidState),
		errors.Is(err, invoicedomain.ErrNotDue),
		errors.Is(err, invoicedomain.ErrNotFound):
		// Paid, cancelled or archived since it was listed.
		result.Skipped++
		schedMetrics.IncSweepOutcome(obsmetrics.SweepOutcomeSkipped)
		run.skipped(ref, err)
		return nil
	default:
		result.Failed++
		schedMetrics.IncSweepOutcome(obsmetrics.SweepOutcomeFailed)
		run.fail("scheduler.sweep.invoice_failed", candidate.ID, err,
			zap.String("invoice_number", candidate.InvoiceNumber),
		)
		return fmt.Errorf("invoice %s: %w", candidate.ID, err)
	}
}

func (s *Scheduler) releaseLock(ctx context.Context, token string) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := s.locker.Release(releaseCtx, overdueSweepLockKey, token); err != nil {
		obslogger.WithContext(ctx, s.log).Warn("scheduler.sweep.release_failed", zap.Error(err))
	}
}
