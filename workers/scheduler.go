package workers

import (
	"context"
	"time"

	"participation-points/services"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// Reconciler rebuilds totals from the ledger.
type Reconciler interface {
	ReconcileAll(ctx context.Context) (services.ReconcileSummary, error)
}

type ScheduleConfig struct {
	DeliveryInterval  time.Duration
	ReconcileInterval time.Duration
}

// StartScheduler runs the periodic jobs. A zero interval disables that job;
// delivery is then driven only by the HTTP trigger.
func StartScheduler(ctx context.Context, worker *DeliveryWorker, reconciler Reconciler, cfg ScheduleConfig, logger *zap.Logger) (gocron.Scheduler, error) {
	logger = logger.Named("scheduler")
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	if cfg.DeliveryInterval > 0 && worker != nil {
		_, err = sched.NewJob(
			gocron.DurationJob(cfg.DeliveryInterval),
			gocron.NewTask(func() {
				if _, err := worker.RunOnce(ctx); err != nil {
					logger.Error("scheduled delivery failed", zap.Error(err))
				}
			}),
			gocron.WithName("notification-delivery"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return nil, err
		}
	}

	if cfg.ReconcileInterval > 0 && reconciler != nil {
		_, err = sched.NewJob(
			gocron.DurationJob(cfg.ReconcileInterval),
			gocron.NewTask(func() {
				start := time.Now()
				summary, err := reconciler.ReconcileAll(ctx)
				if err != nil {
					logger.Error("reconcile sweep aborted", zap.Error(err), zap.Int("users", summary.Users))
					return
				}
				logger.Info("reconcile sweep finished",
					zap.Int("users", summary.Users),
					zap.Int("failed", summary.Failed),
					zap.Duration("took", time.Since(start)),
				)
			}),
			gocron.WithName("totals-reconcile"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return nil, err
		}
	}

	sched.Start()
	logger.Info("scheduler started",
		zap.Duration("delivery_interval", cfg.DeliveryInterval),
		zap.Duration("reconcile_interval", cfg.ReconcileInterval),
	)
	return sched, nil
}
