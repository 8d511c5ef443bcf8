package pool

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hqzhang/indexhunter/internal/models"
)

// UsageCache is the counter side served from the cache mirror.
type UsageCache interface {
	IncrementUsage(ctx context.Context, date, accountID string) (int64, error)
	UsageByDate(ctx context.Context, date string) (map[string]int64, error)
	ReplaceUsage(ctx context.Context, date string, counts map[string]int64) error
}

// UsageStore is the durable counter side.
type UsageStore interface {
	Increment(ctx context.Context, accountID string, date time.Time) error
	SetAll(ctx context.Context, date time.Time, counts map[string]int64) error
	GetByDate(ctx context.Context, date time.Time) ([]*models.UsageRecord, error)
	Query(ctx context.Context, filter models.UsageFilter) ([]*models.UsageRecord, error)
}

// AccountTouchStore records when an account was last handed out.
type AccountTouchStore interface {
	UpdateLastUsed(ctx context.Context, accountID string, usedAt time.Time) error
}

// UsageTracker counts per-account daily use on both sides of the split: the
// cache counter is bumped synchronously on the selection path, the store
// write happens in the background so a slow database never stalls a crawl.
// Counters only ever grow within a day; reconciliation merges the two sides
// by taking the larger value.
type UsageTracker struct {
	cache    UsageCache
	store    UsageStore
	accounts AccountTouchStore
	logger   *slog.Logger

	wg  sync.WaitGroup
	now func() time.Time
}

// NewUsageTracker creates a new UsageTracker
func NewUsageTracker(cache UsageCache, store UsageStore, accounts AccountTouchStore, logger *slog.Logger) *UsageTracker {
	return &UsageTracker{
		cache:    cache,
		store:    store,
		accounts: accounts,
		logger:   logger,
		now:      time.Now,
	}
}

// RecordUse counts one selection of an account. Failures are logged, never
// surfaced: losing a counter bump must not fail the request that used the
// cookie, and reconciliation repairs the gap.
func (t *UsageTracker) RecordUse(ctx context.Context, accountID string) {
	now := t.now()
	date := now.Format(models.UsageDateFormat)

	if _, err := t.cache.IncrementUsage(ctx, date, accountID); err != nil {
		t.logger.Warn("failed to increment cached usage counter",
			slog.String("account_id", accountID),
			slog.Any("error", err))
	}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()

		bgCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()

		if err := t.store.Increment(bgCtx, accountID, dateOnly(now)); err != nil {
			t.logger.Warn("failed to increment stored usage counter",
				slog.String("account_id", accountID),
				slog.Any("error", err))
		}
		if err := t.accounts.UpdateLastUsed(bgCtx, accountID, now); err != nil {
			t.logger.Warn("failed to update last-used timestamp",
				slog.String("account_id", accountID),
				slog.Any("error", err))
		}
	}()
}

// Reconcile merges today's counters across cache and store by taking the
// per-account maximum, then installs the merged values on both sides. Safe to
// run at any time; a counter never decreases.
func (t *UsageTracker) Reconcile(ctx context.Context) error {
	now := t.now()
	date := now.Format(models.UsageDateFormat)

	cached, err := t.cache.UsageByDate(ctx, date)
	if err != nil {
		return err
	}

	stored, err := t.store.GetByDate(ctx, dateOnly(now))
	if err != nil {
		return err
	}

	merged := make(map[string]int64, len(cached))
	for accountID, count := range cached {
		merged[accountID] = count
	}
	for _, rec := range stored {
		if rec.UsageCount > merged[rec.AccountID] {
			merged[rec.AccountID] = rec.UsageCount
		}
	}

	if err := t.cache.ReplaceUsage(ctx, date, merged); err != nil {
		return err
	}
	if err := t.store.SetAll(ctx, dateOnly(now), merged); err != nil {
		return err
	}

	t.logger.Info("usage counters reconciled",
		slog.String("date", date),
		slog.Int("accounts", len(merged)))
	return nil
}

// Query returns stored usage rows narrowed by the filter.
func (t *UsageTracker) Query(ctx context.Context, filter models.UsageFilter) ([]*models.UsageRecord, error) {
	return t.store.Query(ctx, filter)
}

// Close waits for in-flight background store writes to finish.
func (t *UsageTracker) Close() {
	t.wg.Wait()
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
