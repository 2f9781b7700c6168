// Package retention deletes sealed emails whose expiry has passed. The
// scheduler is the only component besides the external API that removes
// email records; it never touches mailboxes.
package retention

import (
	"context"
	"log/slog"
	"time"

	"github.com/vhqtvn/vh-mail-hook/internal/metrics"
)

// Purger is the slice of the storage layer the scheduler needs.
type Purger interface {
	DeleteExpiredBefore(ctx context.Context, now time.Time) (int64, error)
}

// Scheduler sweeps expired emails on a fixed interval.
type Scheduler struct {
	store     Purger
	interval  time.Duration
	collector metrics.Collector
	logger    *slog.Logger
	now       func() time.Time // test hook
}

// Config holds the scheduler's dependencies.
type Config struct {
	Store     Purger
	Interval  time.Duration
	Collector metrics.Collector
	Logger    *slog.Logger
}

// New creates a Scheduler. Interval defaults to one hour.
func New(cfg Config) *Scheduler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	collector := cfg.Collector
	if collector == nil {
		collector = &metrics.NoopCollector{}
	}
	return &Scheduler{
		store:     cfg.Store,
		interval:  interval,
		collector: collector,
		logger:    logger,
		now:       time.Now,
	}
}

// Run sweeps immediately, then on every tick, until ctx is cancelled.
// Sweep errors are logged and do not stop the loop; the next tick retries.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("retention scheduler started",
		slog.Duration("interval", s.interval))

	// Immediate first sweep so a restart does not leave expired mail
	// sitting for a full interval.
	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("retention scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// Sweep runs one expiry pass and returns the number of rows deleted.
// Exposed for tests and for an operator-triggered manual sweep.
func (s *Scheduler) Sweep(ctx context.Context) (int64, error) {
	count, err := s.store.DeleteExpiredBefore(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if count > 0 {
		s.collector.EmailsExpired(count)
	}
	return count, nil
}

func (s *Scheduler) sweep(ctx context.Context) {
	count, err := s.Sweep(ctx)
	if err != nil {
		s.logger.Error("expiry sweep failed", slog.String("error", err.Error()))
		return
	}
	if count > 0 {
		s.logger.Info("expired emails deleted", slog.Int64("count", count))
	} else {
		s.logger.Debug("expiry sweep found nothing to delete")
	}
}
