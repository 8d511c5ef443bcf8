package pool

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hqzhang/indexhunter/internal/models"
)

// BanStore is the relational side of ban state, the source of truth.
type BanStore interface {
	GetByAccountID(ctx context.Context, accountID string) (*models.CookieAccount, error)
	BanTemporarily(ctx context.Context, accountID string, until time.Time) (int64, error)
	BanPermanently(ctx context.Context, accountID string) (int64, error)
	Unban(ctx context.Context, accountID string) (int64, error)
	ForceUnban(ctx context.Context, accountID string) (int64, error)
	SweepExpiredBans(ctx context.Context) ([]string, error)
}

// BanCache is the mirror side kept in step with the store on every ban
// transition.
type BanCache interface {
	SaveAccount(ctx context.Context, acct *models.CookieAccount) error
	SetStatus(ctx context.Context, accountID string, available, permBanned bool) error
	SetBanInfo(ctx context.Context, accountID string, until time.Time) error
	ClearBanInfo(ctx context.Context, accountID string) error
	DeleteAccount(ctx context.Context, accountID string) error
}

// SnapshotEvictor drops an account from the selector's working set.
type SnapshotEvictor interface {
	Evict(accountID string)
}

// BanManagerConfig holds configuration for ban behavior
type BanManagerConfig struct {
	BlockCooldown time.Duration
}

// BanManager applies ban transitions store-first, then mirrors them into the
// cache and evicts the account from the selector, so a banned account is out
// of rotation immediately rather than at the next snapshot rebuild.
type BanManager struct {
	store    BanStore
	cache    BanCache
	selector SnapshotEvictor
	cfg      BanManagerConfig
	logger   *slog.Logger

	now func() time.Time
}

// NewBanManager creates a new BanManager
func NewBanManager(store BanStore, cache BanCache, selector SnapshotEvictor, cfg BanManagerConfig, logger *slog.Logger) *BanManager {
	if cfg.BlockCooldown <= 0 {
		cfg.BlockCooldown = 1800 * time.Second
	}
	return &BanManager{
		store:    store,
		cache:    cache,
		selector: selector,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// BanTemporarily sidelines an account until now+d. A non-positive duration
// falls back to the configured block cooldown.
func (b *BanManager) BanTemporarily(ctx context.Context, accountID string, d time.Duration) error {
	if d <= 0 {
		d = b.cfg.BlockCooldown
	}
	until := b.now().Add(d)

	n, err := b.store.BanTemporarily(ctx, accountID, until)
	if err != nil {
		return fmt.Errorf("ban account %s: %w", accountID, err)
	}
	if n == 0 {
		return models.ErrNotFound
	}

	if err := b.cache.SetStatus(ctx, accountID, false, false); err != nil {
		b.logger.Warn("failed to mirror ban status", slog.String("account_id", accountID), slog.Any("error", err))
	}
	if err := b.cache.SetBanInfo(ctx, accountID, until); err != nil {
		b.logger.Warn("failed to mirror ban expiry", slog.String("account_id", accountID), slog.Any("error", err))
	}
	b.selector.Evict(accountID)

	b.logger.Info("account temporarily banned",
		slog.String("account_id", accountID),
		slog.Time("until", until))
	return nil
}

// BanPermanently retires an account for good. The mirror entry is deleted
// outright: a permanently banned account has no business in the fast path.
// Idempotent; banning an already-banned account is a no-op.
func (b *BanManager) BanPermanently(ctx context.Context, accountID string) error {
	n, err := b.store.BanPermanently(ctx, accountID)
	if err != nil {
		return fmt.Errorf("permanently ban account %s: %w", accountID, err)
	}
	if n == 0 {
		return models.ErrNotFound
	}

	if err := b.cache.DeleteAccount(ctx, accountID); err != nil {
		b.logger.Warn("failed to remove banned account from cache", slog.String("account_id", accountID), slog.Any("error", err))
	}
	b.selector.Evict(accountID)

	b.logger.Info("account permanently banned", slog.String("account_id", accountID))
	return nil
}

// Unban lifts a temporary ban. Permanent bans are sticky: the call leaves
// them in place and returns models.ErrAccountBanned so the caller knows to
// use ForceUnban instead.
func (b *BanManager) Unban(ctx context.Context, accountID string) (bool, error) {
	n, err := b.store.Unban(ctx, accountID)
	if err != nil {
		return false, fmt.Errorf("unban account %s: %w", accountID, err)
	}
	if n == 0 {
		acct, getErr := b.store.GetByAccountID(ctx, accountID)
		if getErr != nil {
			return false, getErr
		}
		if acct.IsPermanentlyBanned {
			return false, models.ErrAccountBanned
		}
		return false, nil
	}

	b.restoreToCache(ctx, accountID)
	b.logger.Info("account unbanned", slog.String("account_id", accountID))
	return true, nil
}

// ForceUnban clears any ban, permanent ones included. Operator escape hatch.
func (b *BanManager) ForceUnban(ctx context.Context, accountID string) error {
	n, err := b.store.ForceUnban(ctx, accountID)
	if err != nil {
		return fmt.Errorf("force unban account %s: %w", accountID, err)
	}
	if n == 0 {
		return models.ErrNotFound
	}

	b.restoreToCache(ctx, accountID)
	b.logger.Info("account force-unbanned", slog.String("account_id", accountID))
	return nil
}

// SweepExpired restores every account whose temporary ban has lapsed and
// returns their IDs.
func (b *BanManager) SweepExpired(ctx context.Context) ([]string, error) {
	ids, err := b.store.SweepExpiredBans(ctx)
	if err != nil {
		return nil, fmt.Errorf("sweep expired bans: %w", err)
	}

	for _, accountID := range ids {
		if err := b.cache.SetStatus(ctx, accountID, true, false); err != nil {
			b.logger.Warn("failed to mirror restored status", slog.String("account_id", accountID), slog.Any("error", err))
		}
		if err := b.cache.ClearBanInfo(ctx, accountID); err != nil {
			b.logger.Warn("failed to clear mirrored ban expiry", slog.String("account_id", accountID), slog.Any("error", err))
		}
	}

	if len(ids) > 0 {
		b.logger.Info("expired bans swept", slog.Int("restored", len(ids)))
	}
	return ids, nil
}

// restoreToCache re-reads the account from the store and rewrites its full
// mirror entry, so the unban path leaves no stale ban info behind.
func (b *BanManager) restoreToCache(ctx context.Context, accountID string) {
	acct, err := b.store.GetByAccountID(ctx, accountID)
	if err != nil {
		b.logger.Warn("failed to reload unbanned account", slog.String("account_id", accountID), slog.Any("error", err))
		return
	}
	if err := b.cache.SaveAccount(ctx, acct); err != nil {
		b.logger.Warn("failed to mirror unbanned account", slog.String("account_id", accountID), slog.Any("error", err))
	}
}
