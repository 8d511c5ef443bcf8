package background

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// BanSweeper lifts lapsed temporary bans.
type BanSweeper interface {
	SweepExpired(ctx context.Context) ([]string, error)
}

// UsageReconciler merges usage counters across cache and store.
type UsageReconciler interface {
	Reconcile(ctx context.Context) error
}

// ExpiredCleaner purges accounts with expired credentials.
type ExpiredCleaner interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// SnapshotResetter forces the selector to rebuild its working set.
type SnapshotResetter interface {
	Reset()
}

// Sweeper periodically restores lapsed temporary bans, reconciles usage
// counters and purges expired credentials
type Sweeper struct {
	bans     BanSweeper
	usage    UsageReconciler
	cleaner  ExpiredCleaner
	selector SnapshotResetter
	logger   *slog.Logger
	interval time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewSweeper creates a new sweeper
func NewSweeper(
	bans BanSweeper,
	usage UsageReconciler,
	cleaner ExpiredCleaner,
	selector SnapshotResetter,
	logger *slog.Logger,
	interval time.Duration,
) *Sweeper {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Sweeper{
		bans:     bans,
		usage:    usage,
		cleaner:  cleaner,
		selector: selector,
		logger:   logger,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic sweep task
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Run immediately on startup
	s.runSweep(ctx)

	for {
		select {
		case <-ticker.C:
			s.runSweep(ctx)
		case <-s.stopCh:
			s.logger.Info("sweeper stopped")
			return
		case <-ctx.Done():
			s.logger.Info("sweeper context cancelled")
			return
		}
	}
}

func (s *Sweeper) runSweep(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	restored, err := s.bans.SweepExpired(sweepCtx)
	if err != nil {
		s.logger.Error("failed to sweep expired bans", slog.Any("error", err))
	} else if len(restored) > 0 {
		// Restored accounts should re-enter rotation without waiting out
		// the snapshot refresh interval.
		s.selector.Reset()
	}

	if err := s.usage.Reconcile(sweepCtx); err != nil {
		s.logger.Error("failed to reconcile usage counters", slog.Any("error", err))
	}

	purged, err := s.cleaner.CleanupExpired(sweepCtx)
	if err != nil {
		s.logger.Error("failed to cleanup expired accounts", slog.Any("error", err))
		return
	}
	if purged > 0 {
		s.logger.Info("expired accounts purged", slog.Int64("purged", purged))
	}
}

// Stop signals the sweeper to stop. Safe to call more than once.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}
