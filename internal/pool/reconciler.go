package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hqzhang/indexhunter/internal/models"
)

// SyncStore is the authoritative account set the mirror is rebuilt from.
type SyncStore interface {
	GetByAccountID(ctx context.Context, accountID string) (*models.CookieAccount, error)
	ListAll(ctx context.Context) ([]*models.CookieAccount, error)
}

// SyncCache is the mirror surface the reconciler rewrites.
type SyncCache interface {
	SaveAccount(ctx context.Context, acct *models.CookieAccount) error
	GetStatus(ctx context.Context, accountID string) (*models.AccountStatus, error)
	ListAccountIDs(ctx context.Context) ([]string, error)
	DeleteAccount(ctx context.Context, accountID string) error
	Clear(ctx context.Context) error
	SetAvailableCount(ctx context.Context, n int64) error
}

// DriftReport summarizes disagreement between store and cache.
type DriftReport struct {
	CacheOnly  []string `json:"cache_only"`
	StoreOnly  []string `json:"store_only"`
	Mismatched []string `json:"mismatched"`
}

// Empty reports whether the two sides agreed.
func (r *DriftReport) Empty() bool {
	return len(r.CacheOnly) == 0 && len(r.StoreOnly) == 0 && len(r.Mismatched) == 0
}

// Reconciler rewrites the cache mirror from the store. The store always
// wins: cache entries with no backing row are dropped, and state
// disagreements resolve to the store's version.
type Reconciler struct {
	store  SyncStore
	cache  SyncCache
	logger *slog.Logger

	now func() time.Time
}

// NewReconciler creates a new Reconciler
func NewReconciler(store SyncStore, cache SyncCache, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		store:  store,
		cache:  cache,
		logger: logger,
		now:    time.Now,
	}
}

// FullResync wipes the mirror and rewrites it from the store. Permanently
// banned and credential-expired accounts are excluded; everything else is
// written with its real availability flags.
func (r *Reconciler) FullResync(ctx context.Context) error {
	accounts, err := r.store.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("list accounts for resync: %w", err)
	}

	if err := r.cache.Clear(ctx); err != nil {
		return fmt.Errorf("clear cache for resync: %w", err)
	}

	now := r.now()
	var written, available int64
	for _, acct := range accounts {
		if acct.IsPermanentlyBanned || acct.Expired(now) {
			continue
		}
		if err := r.cache.SaveAccount(ctx, acct); err != nil {
			return fmt.Errorf("mirror account %s: %w", acct.AccountID, err)
		}
		written++
		if acct.Selectable(now) {
			available++
		}
	}

	if err := r.cache.SetAvailableCount(ctx, available); err != nil {
		r.logger.Warn("failed to write available count", slog.Any("error", err))
	}

	r.logger.Info("cache mirror rebuilt from store",
		slog.Int64("written", written),
		slog.Int64("available", available))
	return nil
}

// ResyncAccount refreshes one account's mirror entry from the store. Missing
// or permanently banned accounts are removed from the mirror.
func (r *Reconciler) ResyncAccount(ctx context.Context, accountID string) error {
	acct, err := r.store.GetByAccountID(ctx, accountID)
	if errors.Is(err, models.ErrNotFound) {
		return r.cache.DeleteAccount(ctx, accountID)
	}
	if err != nil {
		return fmt.Errorf("load account %s for resync: %w", accountID, err)
	}

	if acct.IsPermanentlyBanned || acct.Expired(r.now()) {
		return r.cache.DeleteAccount(ctx, accountID)
	}
	return r.cache.SaveAccount(ctx, acct)
}

// DetectDrift compares the two sides and repairs what it safely can: cache
// entries with no store row are deleted on the spot, store-only and
// state-mismatched accounts are reported for the next full resync.
func (r *Reconciler) DetectDrift(ctx context.Context) (*DriftReport, error) {
	accounts, err := r.store.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts for drift check: %w", err)
	}

	cacheIDs, err := r.cache.ListAccountIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list cached accounts for drift check: %w", err)
	}

	now := r.now()
	stored := make(map[string]*models.CookieAccount, len(accounts))
	for _, acct := range accounts {
		stored[acct.AccountID] = acct
	}
	cached := make(map[string]bool, len(cacheIDs))
	for _, id := range cacheIDs {
		cached[id] = true
	}

	report := &DriftReport{}

	for _, id := range cacheIDs {
		if _, ok := stored[id]; ok {
			continue
		}
		report.CacheOnly = append(report.CacheOnly, id)
		if err := r.cache.DeleteAccount(ctx, id); err != nil {
			r.logger.Warn("failed to delete orphaned cache entry", slog.String("account_id", id), slog.Any("error", err))
		}
	}

	for _, acct := range accounts {
		if acct.IsPermanentlyBanned || acct.Expired(now) {
			continue
		}
		if !cached[acct.AccountID] {
			report.StoreOnly = append(report.StoreOnly, acct.AccountID)
			continue
		}

		status, err := r.cache.GetStatus(ctx, acct.AccountID)
		if err != nil || status == nil {
			report.Mismatched = append(report.Mismatched, acct.AccountID)
			continue
		}
		if status.IsAvailable != acct.IsAvailable || status.IsPermanentlyBanned != acct.IsPermanentlyBanned {
			report.Mismatched = append(report.Mismatched, acct.AccountID)
		}
	}

	if !report.Empty() {
		r.logger.Warn("cache drift detected",
			slog.Int("cache_only", len(report.CacheOnly)),
			slog.Int("store_only", len(report.StoreOnly)),
			slog.Int("mismatched", len(report.Mismatched)))
	}
	return report, nil
}
