// Package scheduler runs the periodic ledger jobs.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"sellerledger/backend/internal/domain"
	"sellerledger/backend/internal/service"
)

type AutoApprover interface {
	AutoApprove(ctx context.Context, age time.Duration) (int, error)
}

type Options struct {
	AutoApproveAfter time.Duration
	Interval         time.Duration
	// OnApproved is called with the number of commissions approved per run.
	OnApproved func(n int)
}

type Manager struct {
	scheduler gocron.Scheduler
	approver  AutoApprover
	opts      Options
	logger    *zap.Logger
}

func NewManager(approver AutoApprover, opts Options, logger *zap.Logger) (*Manager, error) {
	s, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{scheduler: s, approver: approver, opts: opts, logger: logger}, nil
}

// Start registers the jobs and starts the scheduler. Auto-approval is only
// registered when a positive age is configured.
func (m *Manager) Start() error {
	if m.opts.AutoApproveAfter > 0 {
		interval := m.opts.Interval
		if interval <= 0 {
			interval = 15 * time.Minute
		}
		_, err := m.scheduler.NewJob(
			gocron.DurationJob(interval),
			gocron.NewTask(m.runAutoApprove),
			gocron.WithName("commission_auto_approve"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return fmt.Errorf("register auto-approve job: %w", err)
		}
		m.logger.Info("auto-approve job registered",
			zap.Duration("after", m.opts.AutoApproveAfter),
			zap.Duration("interval", interval),
		)
	}
	m.scheduler.Start()
	return nil
}

func (m *Manager) Jobs() int {
	return len(m.scheduler.Jobs())
}

func (m *Manager) runAutoApprove() {
	ctx := service.WithActor(context.Background(), domain.Actor{Subject: "scheduler", Role: domain.RoleSystem})
	n, err := m.approver.AutoApprove(ctx, m.opts.AutoApproveAfter)
	if err != nil {
		m.logger.Warn("auto-approve finished with errors", zap.Int("approved", n), zap.Error(err))
	} else if n > 0 {
		m.logger.Info("auto-approve finished", zap.Int("approved", n))
	}
	if m.opts.OnApproved != nil {
		m.opts.OnApproved(n)
	}
}

func (m *Manager) Stop() error {
	return m.scheduler.Shutdown()
}
