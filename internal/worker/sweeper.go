package worker

import (
	"context"
	"fmt"

	"github.com/Domenick1991/cruisebooking/config"
	"github.com/Domenick1991/cruisebooking/internal/domain"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Sweepable is the part of the session store the periodic jobs drive.
type Sweepable interface {
	ExpireStaleSessions(ctx context.Context) ([]domain.BookingSession, error)
	CleanupIdempotencyRecords(ctx context.Context) (int64, error)
}

// Sweeper runs the session expiry and idempotency retention jobs.
type Sweeper struct {
	store  Sweepable
	logger *logrus.Logger
}

func NewSweeper(store Sweepable, logger *logrus.Logger) *Sweeper {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Sweeper{store: store, logger: logger}
}

func (s *Sweeper) ExpireSessions(ctx context.Context) (int, error) {
	expired, err := s.store.ExpireStaleSessions(ctx)
	if err != nil {
		s.logger.WithError(err).Error("expire stale sessions")
		return 0, err
	}
	if len(expired) > 0 {
		s.logger.WithField("count", len(expired)).Info("expired stale sessions")
	}
	return len(expired), nil
}

func (s *Sweeper) CleanupIdempotency(ctx context.Context) (int64, error) {
	n, err := s.store.CleanupIdempotencyRecords(ctx)
	if err != nil {
		s.logger.WithError(err).Error("clean up idempotency records")
		return 0, err
	}
	if n > 0 {
		s.logger.WithField("count", n).Info("deleted idempotency records")
	}
	return n, nil
}

// Schedule registers both jobs on c with the configured 5-field expressions.
func (s *Sweeper) Schedule(ctx context.Context, c *cron.Cron, cfg config.WorkerConfig) error {
	if _, err := c.AddFunc(cfg.ExpireSessionsCron, func() { _, _ = s.ExpireSessions(ctx) }); err != nil {
		return fmt.Errorf("schedule session expiry %q: %w", cfg.ExpireSessionsCron, err)
	}
	if _, err := c.AddFunc(cfg.CleanupIdempotencyCron, func() { _, _ = s.CleanupIdempotency(ctx) }); err != nil {
		return fmt.Errorf("schedule idempotency cleanup %q: %w", cfg.CleanupIdempotencyCron, err)
	}
	return nil
}
