package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hqzhang/indexhunter/internal/config"
	"github.com/hqzhang/indexhunter/internal/models"
	"github.com/redis/go-redis/v9"
)

// Redis key namespaces. Cookie data, availability status and ban info live in
// separate hashes keyed by account ID; usage counters get one hash per
// calendar date.
const (
	cookiesKey        = "cookie_pool:cookies"
	statusKey         = "cookie_pool:status"
	banKey            = "cookie_pool:ban"
	availableCountKey = "cookie_pool:available_count"
	usageKeyPrefix    = "cookie_pool:usage:"

	stateTTL = 7 * 24 * time.Hour
	usageTTL = 30 * 24 * time.Hour
)

// Mirror is the fast read-path copy of account availability and ban state.
// The relational store stays the source of truth; the mirror is rewritten
// from it by the reconciler and kept current incrementally by the ban
// manager and usage tracker.
type Mirror struct {
	rdb    *redis.Client
	logger *slog.Logger
}

func NewMirror(cfg *config.RedisConfig, logger *slog.Logger) (*Mirror, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("unable to ping redis: %w", err)
	}

	logger.Info("redis connection established", slog.String("addr", cfg.Addr))
	return &Mirror{rdb: rdb, logger: logger}, nil
}

func (m *Mirror) Close() error {
	return m.rdb.Close()
}

type accountEntry struct {
	AccountID string              `json:"account_id"`
	Cookie    models.CookieFields `json:"cookie"`
}

// SaveAccount writes an account's credentials, status and ban info into their
// namespaces in one pipeline and refreshes the namespace TTLs.
func (m *Mirror) SaveAccount(ctx context.Context, acct *models.CookieAccount) error {
	entry, err := json.Marshal(accountEntry{AccountID: acct.AccountID, Cookie: acct.Fields})
	if err != nil {
		return fmt.Errorf("marshal cookie entry: %w", err)
	}
	status, err := json.Marshal(models.AccountStatus{
		IsAvailable:         acct.IsAvailable,
		IsPermanentlyBanned: acct.IsPermanentlyBanned,
	})
	if err != nil {
		return fmt.Errorf("marshal status entry: %w", err)
	}

	pipe := m.rdb.Pipeline()
	pipe.HSet(ctx, cookiesKey, acct.AccountID, entry)
	pipe.HSet(ctx, statusKey, acct.AccountID, status)
	if acct.TempBanUntil != nil {
		ban, err := json.Marshal(models.BanInfo{TempBanUntil: *acct.TempBanUntil})
		if err != nil {
			return fmt.Errorf("marshal ban entry: %w", err)
		}
		pipe.HSet(ctx, banKey, acct.AccountID, ban)
	} else {
		pipe.HDel(ctx, banKey, acct.AccountID)
	}
	pipe.Expire(ctx, cookiesKey, stateTTL)
	pipe.Expire(ctx, statusKey, stateTTL)
	pipe.Expire(ctx, banKey, stateTTL)

	_, err = pipe.Exec(ctx)
	return err
}

// GetAccount returns the cached credential set for an account, or ErrNotFound.
func (m *Mirror) GetAccount(ctx context.Context, accountID string) (models.CookieFields, error) {
	raw, err := m.rdb.HGet(ctx, cookiesKey, accountID).Result()
	if err == redis.Nil {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var entry accountEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return nil, fmt.Errorf("unmarshal cookie entry: %w", err)
	}
	return entry.Cookie, nil
}

// AllAccounts returns every cached credential set keyed by account ID.
func (m *Mirror) AllAccounts(ctx context.Context) (map[string]models.CookieFields, error) {
	raw, err := m.rdb.HGetAll(ctx, cookiesKey).Result()
	if err != nil {
		return nil, err
	}

	result := make(map[string]models.CookieFields, len(raw))
	for accountID, entryJSON := range raw {
		var entry accountEntry
		if err := json.Unmarshal([]byte(entryJSON), &entry); err != nil {
			m.logger.Warn("skipping malformed cache entry",
				slog.String("account_id", accountID),
				slog.Any("error", err))
			continue
		}
		result[accountID] = entry.Cookie
	}
	return result, nil
}

// ListAccountIDs returns the account IDs present in the cookie namespace.
func (m *Mirror) ListAccountIDs(ctx context.Context) ([]string, error) {
	return m.rdb.HKeys(ctx, cookiesKey).Result()
}

// GetStatus returns the cached availability status, or nil if the account has
// no status entry.
func (m *Mirror) GetStatus(ctx context.Context, accountID string) (*models.AccountStatus, error) {
	raw, err := m.rdb.HGet(ctx, statusKey, accountID).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var status models.AccountStatus
	if err := json.Unmarshal([]byte(raw), &status); err != nil {
		return nil, fmt.Errorf("unmarshal status entry: %w", err)
	}
	return &status, nil
}

func (m *Mirror) SetStatus(ctx context.Context, accountID string, available, permBanned bool) error {
	status, err := json.Marshal(models.AccountStatus{
		IsAvailable:         available,
		IsPermanentlyBanned: permBanned,
	})
	if err != nil {
		return fmt.Errorf("marshal status entry: %w", err)
	}

	pipe := m.rdb.Pipeline()
	pipe.HSet(ctx, statusKey, accountID, status)
	pipe.Expire(ctx, statusKey, stateTTL)
	_, err = pipe.Exec(ctx)
	return err
}

// GetBanInfo returns the cached temporary-ban expiry, or nil if none is set.
func (m *Mirror) GetBanInfo(ctx context.Context, accountID string) (*time.Time, error) {
	raw, err := m.rdb.HGet(ctx, banKey, accountID).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var info models.BanInfo
	if err := json.Unmarshal([]byte(raw), &info); err != nil {
		return nil, fmt.Errorf("unmarshal ban entry: %w", err)
	}
	return &info.TempBanUntil, nil
}

func (m *Mirror) SetBanInfo(ctx context.Context, accountID string, until time.Time) error {
	ban, err := json.Marshal(models.BanInfo{TempBanUntil: until})
	if err != nil {
		return fmt.Errorf("marshal ban entry: %w", err)
	}

	pipe := m.rdb.Pipeline()
	pipe.HSet(ctx, banKey, accountID, ban)
	pipe.Expire(ctx, banKey, stateTTL)
	_, err = pipe.Exec(ctx)
	return err
}

func (m *Mirror) ClearBanInfo(ctx context.Context, accountID string) error {
	return m.rdb.HDel(ctx, banKey, accountID).Err()
}

// DeleteAccount removes an account from every state namespace.
func (m *Mirror) DeleteAccount(ctx context.Context, accountID string) error {
	pipe := m.rdb.Pipeline()
	pipe.HDel(ctx, cookiesKey, accountID)
	pipe.HDel(ctx, statusKey, accountID)
	pipe.HDel(ctx, banKey, accountID)
	_, err := pipe.Exec(ctx)
	return err
}

// Clear drops the cookie, status, ban and count namespaces. Usage counters are
// left alone; they are reconciled separately.
func (m *Mirror) Clear(ctx context.Context) error {
	return m.rdb.Del(ctx, cookiesKey, statusKey, banKey, availableCountKey).Err()
}

func (m *Mirror) SetAvailableCount(ctx context.Context, n int64) error {
	return m.rdb.Set(ctx, availableCountKey, n, stateTTL).Err()
}

func (m *Mirror) AvailableCount(ctx context.Context) (int64, error) {
	n, err := m.rdb.Get(ctx, availableCountKey).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}

func usageKey(date string) string {
	return usageKeyPrefix + date
}

// IncrementUsage adds one use to an account's counter for the given calendar
// date and returns the new count.
func (m *Mirror) IncrementUsage(ctx context.Context, date, accountID string) (int64, error) {
	pipe := m.rdb.Pipeline()
	incr := pipe.HIncrBy(ctx, usageKey(date), accountID, 1)
	pipe.Expire(ctx, usageKey(date), usageTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// UsageByDate returns all counters for a calendar date keyed by account ID.
func (m *Mirror) UsageByDate(ctx context.Context, date string) (map[string]int64, error) {
	raw, err := m.rdb.HGetAll(ctx, usageKey(date)).Result()
	if err != nil {
		return nil, err
	}

	result := make(map[string]int64, len(raw))
	for accountID, countStr := range raw {
		var count int64
		if _, err := fmt.Sscan(countStr, &count); err != nil {
			m.logger.Warn("skipping malformed usage counter",
				slog.String("account_id", accountID),
				slog.String("value", countStr))
			continue
		}
		result[accountID] = count
	}
	return result, nil
}

// ReplaceUsage atomically rewrites the usage hash for a date with the given
// counters. Used by reconciliation to install merged values.
func (m *Mirror) ReplaceUsage(ctx context.Context, date string, counts map[string]int64) error {
	pipe := m.rdb.Pipeline()
	pipe.Del(ctx, usageKey(date))
	if len(counts) > 0 {
		fields := make(map[string]interface{}, len(counts))
		for accountID, count := range counts {
			fields[accountID] = count
		}
		pipe.HSet(ctx, usageKey(date), fields)
		pipe.Expire(ctx, usageKey(date), usageTTL)
	}
	_, err := pipe.Exec(ctx)
	return err
}
