package pool

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/hqzhang/indexhunter/internal/config"
	"github.com/hqzhang/indexhunter/internal/models"
)

// SnapshotCache is the cache-mirror view the selector builds its snapshot
// from.
type SnapshotCache interface {
	AllAccounts(ctx context.Context) (map[string]models.CookieFields, error)
	GetStatus(ctx context.Context, accountID string) (*models.AccountStatus, error)
	GetBanInfo(ctx context.Context, accountID string) (*time.Time, error)
	UsageByDate(ctx context.Context, date string) (map[string]int64, error)
}

// SnapshotStore is the fallback read path when the cache yields nothing.
type SnapshotStore interface {
	GetAvailable(ctx context.Context) ([]*models.CookieAccount, error)
}

// UsageRecorder records one selection of an account.
type UsageRecorder interface {
	RecordUse(ctx context.Context, accountID string)
}

// SelectorConfig holds configuration for cookie selection behavior
type SelectorConfig struct {
	Strategy         string
	RefreshInterval  time.Duration
	WaitPollInterval time.Duration
}

type snapshotEntry struct {
	accountID string
	fields    models.CookieFields
	useCount  int64
	lastUse   time.Time
}

// Selector hands out one available account's credentials per request,
// load-balancing across the pool. It works over an in-memory snapshot
// rebuilt from the cache mirror at most once per refresh interval, so a
// selection normally costs no round trips beyond a ban re-check.
type Selector struct {
	cache   SnapshotCache
	store   SnapshotStore
	tracker UsageRecorder
	cfg     SelectorConfig
	logger  *slog.Logger

	mu          sync.Mutex
	entries     []*snapshotEntry
	rrIndex     int
	lastRebuild time.Time

	now func() time.Time
}

// NewSelector creates a new Selector
func NewSelector(cache SnapshotCache, store SnapshotStore, tracker UsageRecorder, cfg SelectorConfig, logger *slog.Logger) *Selector {
	if cfg.Strategy == "" {
		cfg.Strategy = config.StrategyLeastRecentlyUsed
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 300 * time.Second
	}
	if cfg.WaitPollInterval <= 0 {
		cfg.WaitPollInterval = 5 * time.Second
	}
	return &Selector{
		cache:   cache,
		store:   store,
		tracker: tracker,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// Next returns one currently-available account's credentials, recording the
// selection. Returns models.ErrNoCookieAvailable when the snapshot and a
// forced rebuild both yield nothing.
func (s *Selector) Next(ctx context.Context) (string, models.CookieFields, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if len(s.entries) == 0 || now.Sub(s.lastRebuild) >= s.cfg.RefreshInterval {
		if err := s.rebuildLocked(ctx); err != nil {
			return "", nil, err
		}
	}

	for len(s.entries) > 0 {
		idx := s.pickLocked()
		entry := s.entries[idx]

		// The snapshot can be up to a refresh interval stale; re-check the
		// mirror so a just-banned account is never handed out.
		if s.bannedNow(ctx, entry.accountID, now) {
			s.removeLocked(idx)
			continue
		}

		entry.useCount++
		entry.lastUse = now
		s.tracker.RecordUse(ctx, entry.accountID)
		return entry.accountID, entry.fields, nil
	}

	s.logger.Warn("no cookie available for selection")
	return "", nil, models.ErrNoCookieAvailable
}

// AwaitNext polls Next until an account becomes available or the timeout
// elapses. Intended for crawl workers riding out a temporarily exhausted
// pool.
func (s *Selector) AwaitNext(ctx context.Context, timeout time.Duration) (string, models.CookieFields, error) {
	deadline := s.now().Add(timeout)

	for {
		accountID, fields, err := s.Next(ctx)
		if err == nil {
			return accountID, fields, nil
		}
		if !errors.Is(err, models.ErrNoCookieAvailable) {
			return "", nil, err
		}

		if !s.now().Add(s.cfg.WaitPollInterval).Before(deadline) {
			return "", nil, models.ErrNoCookieAvailable
		}

		select {
		case <-ctx.Done():
			return "", nil, ctx.Err()
		case <-time.After(s.cfg.WaitPollInterval):
		}
	}
}

// Reset discards the snapshot so the next selection rebuilds it immediately.
func (s *Selector) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
	s.rrIndex = 0
	s.lastRebuild = time.Time{}
	s.logger.Info("selector snapshot reset")
}

// Evict drops an account from the current snapshot, called by the ban
// manager so a banned account stops being selectable before the next
// rebuild.
func (s *Selector) Evict(accountID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, entry := range s.entries {
		if entry.accountID == accountID {
			s.removeLocked(i)
			return
		}
	}
}

// Size returns the number of accounts in the current snapshot.
func (s *Selector) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Selector) rebuildLocked(ctx context.Context) error {
	now := s.now()
	today := now.Format(models.UsageDateFormat)

	usage, err := s.cache.UsageByDate(ctx, today)
	if err != nil {
		s.logger.Warn("failed to load usage counters for snapshot", slog.Any("error", err))
		usage = map[string]int64{}
	}

	entries := make([]*snapshotEntry, 0)

	accounts, err := s.cache.AllAccounts(ctx)
	if err != nil {
		s.logger.Warn("cache unavailable for snapshot rebuild, falling back to store", slog.Any("error", err))
		accounts = nil
	}

	for accountID, fields := range accounts {
		status, err := s.cache.GetStatus(ctx, accountID)
		if err != nil || status == nil || !status.IsAvailable || status.IsPermanentlyBanned {
			continue
		}

		banUntil, err := s.cache.GetBanInfo(ctx, accountID)
		if err == nil && banUntil != nil && banUntil.After(now) {
			continue
		}

		entries = append(entries, s.newEntry(accountID, fields, usage[accountID], now))
	}

	// Cache miss or cold cache: the store is the source of truth, read the
	// available set from it directly.
	if len(entries) == 0 {
		stored, err := s.store.GetAvailable(ctx)
		if err != nil {
			return err
		}
		for _, acct := range stored {
			if !acct.Selectable(now) {
				continue
			}
			entries = append(entries, s.newEntry(acct.AccountID, acct.Fields, usage[acct.AccountID], now))
		}
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].accountID < entries[j].accountID })

	s.entries = entries
	s.rrIndex = 0
	s.lastRebuild = now
	s.logger.Info("selector snapshot rebuilt", slog.Int("accounts", len(entries)))
	return nil
}

// newEntry derives a synthetic last-use time from today's use count, so the
// LRU policy has an ordering to start from after a rebuild: the more an
// account was used today, the more recently-used it ranks.
func (s *Selector) newEntry(accountID string, fields models.CookieFields, useCount int64, now time.Time) *snapshotEntry {
	var lastUse time.Time
	if useCount > 0 {
		lastUse = now.Add(-time.Duration(1_000_000/(useCount+1)) * time.Second)
	}
	return &snapshotEntry{
		accountID: accountID,
		fields:    fields,
		useCount:  useCount,
		lastUse:   lastUse,
	}
}

func (s *Selector) pickLocked() int {
	switch s.cfg.Strategy {
	case config.StrategyRandom:
		return rand.Intn(len(s.entries))
	case config.StrategyLeastUsed:
		best := 0
		for i, entry := range s.entries {
			if entry.useCount < s.entries[best].useCount {
				best = i
			}
		}
		return best
	case config.StrategyRoundRobin:
		idx := s.rrIndex % len(s.entries)
		s.rrIndex = (s.rrIndex + 1) % len(s.entries)
		return idx
	default: // least_recently_used
		best := 0
		for i, entry := range s.entries {
			if entry.lastUse.Before(s.entries[best].lastUse) {
				best = i
			}
		}
		return best
	}
}

func (s *Selector) bannedNow(ctx context.Context, accountID string, now time.Time) bool {
	status, err := s.cache.GetStatus(ctx, accountID)
	if err == nil && status != nil && (!status.IsAvailable || status.IsPermanentlyBanned) {
		return true
	}

	banUntil, err := s.cache.GetBanInfo(ctx, accountID)
	if err == nil && banUntil != nil && banUntil.After(now) {
		return true
	}

	return false
}

func (s *Selector) removeLocked(i int) {
	s.entries = append(s.entries[:i], s.entries[i+1:]...)
	if len(s.entries) > 0 {
		s.rrIndex = s.rrIndex % len(s.entries)
	} else {
		s.rrIndex = 0
	}
}
