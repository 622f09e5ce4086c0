package reporting

import (
	"context"
	"time"

	"github.com/smallbiznis/invoicer/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("reporting",
	fx.Provide(NewPusher, NewDashboard),
	fx.Invoke(Register),
)

// Register starts the export loop when an exporter is configured.
func Register(lc fx.Lifecycle, cfg config.Config, pusher Pusher, db *gorm.DB, log *zap.Logger) {
	if pusher == nil {
		return
	}
	log = log.Named("reporting")
	snapshot := NewSnapshot(db)
	interval := cfg.Reporting.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			log.Info("starting receivables export",
				zap.String("exporter", cfg.Reporting.Exporter),
				zap.Duration("interval", interval),
			)
			go func() {
				ticker := time.NewTicker(interval)
				defer ticker.Stop()

				export(ctx, snapshot, pusher, log)
				for {
					select {
					case <-ticker.C:
						export(ctx, snapshot, pusher, log)
					case <-ctx.Done():
						log.Info("stopping receivables export")
						return
					}
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}

func export(ctx context.Context, snapshot *Snapshot, pusher Pusher, log *zap.Logger) {
	if err := snapshot.Refresh(ctx); err != nil {
		log.Warn("receivables snapshot failed", zap.Error(err))
		return
	}
	pushCtx, cancel := context.WithTimeout(ctx, defaultPushTimeout)
	defer cancel()
	if err := pusher.Push(pushCtx, snapshot.Registry()); err != nil {
		log.Warn("receivables push failed", zap.Error(err))
	}
}
