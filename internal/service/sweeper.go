package service

import (
	"context"
	"fmt"
	"time"

	"github.com/liliang-cn/groundchat/internal/observability"
	"github.com/liliang-cn/groundchat/internal/repository"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Sweeper periodically removes inactive sessions from the store
type Sweeper struct {
	store    *repository.SessionStore
	interval time.Duration
	cron     *cron.Cron
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// NewSweeper creates a sweeper running every interval
func NewSweeper(store *repository.SessionStore, interval time.Duration, metrics *observability.Metrics, logger *zap.Logger) *Sweeper {
	if metrics == nil {
		metrics = observability.NewNopMetrics()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		store:    store,
		interval: interval,
		cron:     cron.New(),
		metrics:  metrics,
		logger:   logger,
	}
}

// Start schedules the sweep. It returns immediately.
func (s *Sweeper) Start() error {
	if s.interval <= 0 {
		return fmt.Errorf("sweep interval must be positive, got %s", s.interval)
	}
	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.interval), func() { s.RunOnce() }); err != nil {
		return fmt.Errorf("schedule session sweep: %w", err)
	}
	s.cron.Start()
	s.logger.Info("session sweeper started", zap.Duration("interval", s.interval))
	return nil
}

// Stop unschedules the sweep and waits for a running sweep to finish or
// ctx to end.
func (s *Sweeper) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// RunOnce sweeps expired sessions now and returns how many were removed
func (s *Sweeper) RunOnce() int {
	removed := s.store.SweepExpired()
	s.metrics.SweptSessionsTotal.Add(float64(removed))
	s.metrics.ActiveSessions.Set(float64(s.store.Len()))
	if removed > 0 {
		s.logger.Info("swept expired sessions",
			zap.Int("removed", removed),
			zap.Int("active", s.store.Len()),
		)
	}
	return removed
}
