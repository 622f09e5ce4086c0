package scheduler

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/invoicer/internal/auditcontext"
	obslogger "github.com/smallbiznis/invoicer/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/invoicer/internal/observability/metrics"
	"go.uber.org/zap"
)

// sweepRun tracks one overdue pass. Its id doubles as the request id on
// every audit entry the pass writes.
type sweepRun struct {
	id        string
	log       *zap.Logger
	startedAt time.Time
	processed int
	errors    int
}

type sweepRunKey struct{}

// beginRun attaches a run to ctx. When ctx already carries one, as with
// RunOnce calling Sweep, that run is reused and owner is false; only the
// owner calls end.
func (s *Scheduler) beginRun(ctx context.Context) (context.Context, *sweepRun, bool) {
	if run, ok := ctx.Value(sweepRunKey{}).(*sweepRun); ok {
		return ctx, run, false
	}

	id := s.genID.Generate().String()
	ctx = auditcontext.WithRequestID(ctx, id)
	run := &sweepRun{
		id: id,
		log: obslogger.WithContext(ctx, s.log).With(
			zap.String("job", jobOverdueSweep),
			zap.String("run_id", id),
		),
		startedAt: time.Now(),
	}
	run.log.Info("scheduler.job.start", zap.Int("batch_size", s.cfg.BatchSize))
	return context.WithValue(ctx, sweepRunKey{}, run), run, true
}

func (r *sweepRun) end() {
	fields := []zap.Field{
		zap.Int64("duration_ms", time.Since(r.startedAt).Milliseconds()),
		zap.Int("processed_count", r.processed),
		zap.Int("error_count", r.errors),
	}
	if r.errors > 0 {
		r.log.Warn("scheduler.job.finish", fields...)
		return
	}
	r.log.Info("scheduler.job.finish", fields...)
}

func (r *sweepRun) fail(msg string, invoiceID snowflake.ID, err error, fields ...zap.Field) {
	if err == nil {
		return
	}
	r.errors++
	fields = append(fields,
		zap.String("error_type", obsmetrics.ClassifySchedulerErrorType(err)),
		zap.Bool("retryable", obsmetrics.IsSchedulerErrorRetryable(err)),
		zap.Error(err),
	)
	if invoiceID != 0 {
		fields = append(fields, zap.String("invoice_id", invoiceID.String()))
	}
	r.log.Error(msg, fields...)
}

func (r *sweepRun) marked(invoice invoiceRef, warnings []string) {
	fields := []zap.Field{
		zap.String("invoice_id", invoice.id.String()),
		zap.String("invoice_number", invoice.number),
	}
	if len(warnings) > 0 {
		r.log.Warn("invoice.overdue.reminder_failed", append(fields, zap.Strings("warnings", warnings))...)
		return
	}
	r.log.Info("invoice.overdue", fields...)
}

func (r *sweepRun) skipped(invoice invoiceRef, reason error) {
	r.log.Debug("scheduler.sweep.skipped",
		zap.String("invoice_id", invoice.id.String()),
		zap.String("reason", reason.Error()),
	)
}

type invoiceRef struct {
	id     snowflake.ID
	number string
}
