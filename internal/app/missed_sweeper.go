package app

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// MissedSweeper periodically marks overdue pending schedules as missed.
type MissedSweeper struct {
	service *SchedulerService
	expr    string
	grace   time.Duration
	logger  *zap.Logger
}

// NewMissedSweeper creates a sweeper running on a cron expression (e.g. "0 * * * *").
func NewMissedSweeper(service *SchedulerService, expr string, grace time.Duration, logger *zap.Logger) *MissedSweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MissedSweeper{
		service: service,
		expr:    expr,
		grace:   grace,
		logger:  logger,
	}
}

// RunOnce performs a single sweep and returns how many schedules were marked.
func (m *MissedSweeper) RunOnce(ctx context.Context) (int, error) {
	missed, err := m.service.MarkMissed(ctx, m.service.now(), m.grace)
	if err != nil {
		return 0, err
	}
	return len(missed), nil
}

// Start registers the cron job and blocks until ctx is done.
func (m *MissedSweeper) Start(ctx context.Context) error {
	c, err := m.newCron(ctx)
	if err != nil {
		return err
	}

	c.Start()
	m.logger.Info("missed sweeper started",
		zap.String("cron", m.expr),
		zap.String("tz", m.service.location.String()),
		zap.Duration("grace", m.grace))

	<-ctx.Done()

	stopped := c.Stop()
	<-stopped.Done()
	m.logger.Info("missed sweeper stopped")
	return nil
}

// newCron evaluates the expression in the scheduler's local calendar, the same
// zone that decides day boundaries.
func (m *MissedSweeper) newCron(ctx context.Context) (*cron.Cron, error) {
	c := cron.New(cron.WithLocation(m.service.location))
	_, err := c.AddFunc(m.expr, func() {
		n, err := m.RunOnce(ctx)
		if err != nil {
			m.logger.Error("missed sweep failed", zap.Error(err))
			return
		}
		m.logger.Info("missed sweep ran", zap.Int("missed", n))
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}
