package nav

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"shield/apps/reconciler/internal/model"
)

const expirySweepSchedule = "@every 1m"

type Runner interface {
	Run(ctx context.Context, trigger string) (*model.NAVSnapshot, error)
}

type Expirer interface {
	ExpirePending(ctx context.Context, now time.Time) ([]string, error)
}

// Scheduler serialises NAV runs. Cron ticks and on-demand triggers land in a one-slot queue,
// so requests made while a run is pending collapse into that run.
type Scheduler struct {
	runner   Runner
	expirer  Expirer
	cron     *cron.Cron
	interval time.Duration
	pending  chan string
	logger   *zap.Logger
}

func NewScheduler(runner Runner, expirer Expirer, interval time.Duration, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		runner:   runner,
		expirer:  expirer,
		cron:     cron.New(),
		interval: interval,
		pending:  make(chan string, 1),
		logger:   logger,
	}
}

// Trigger requests a NAV run without blocking the caller.
func (s *Scheduler) Trigger(reason string) {
	select {
	case s.pending <- reason:
	default:
		s.logger.Debug("NAV run already pending", zap.String("reason", reason))
	}
}

// Start registers the cron jobs and runs queued NAV calculations until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.interval), func() {
		s.Trigger(TriggerSchedule)
	}); err != nil {
		return fmt.Errorf("failed to schedule NAV updates: %w", err)
	}

	if s.expirer != nil {
		if _, err := s.cron.AddFunc(expirySweepSchedule, func() {
			s.sweep(ctx)
		}); err != nil {
			return fmt.Errorf("failed to schedule expiry sweep: %w", err)
		}
	}

	s.cron.Start()
	s.logger.Info("NAV scheduler started", zap.Duration("interval", s.interval))

	// first run at startup so the oracle is fresh before the first tick
	s.Trigger(TriggerSchedule)

	for {
		select {
		case <-ctx.Done():
			<-s.cron.Stop().Done()
			s.logger.Info("NAV scheduler stopped")
			return nil
		case reason := <-s.pending:
			if _, err := s.runner.Run(ctx, reason); err != nil {
				s.logger.Error("NAV run failed", zap.String("trigger", reason), zap.Error(err))
			}
		}
	}
}

func (s *Scheduler) sweep(ctx context.Context) {
	if _, err := s.expirer.ExpirePending(ctx, time.Now()); err != nil {
		s.logger.Error("Expiry sweep failed", zap.Error(err))
	}
}
