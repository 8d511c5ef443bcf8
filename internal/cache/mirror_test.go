package cache_test

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/hqzhang/indexhunter/internal/cache"
	"github.com/hqzhang/indexhunter/internal/config"
	"github.com/hqzhang/indexhunter/internal/models"
)

func setupMirror(t *testing.T, ctx context.Context) *cache.Mirror {
	t.Helper()

	container, err := tcredis.RunContainer(ctx, testcontainers.WithImage("redis:7-alpine"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	mirror, err := cache.NewMirror(&config.RedisConfig{
		Addr:     strings.TrimPrefix(uri, "redis://"),
		PoolSize: 10,
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = mirror.Close() })

	return mirror
}

func TestMirrorIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	mirror := setupMirror(t, ctx)

	t.Run("SaveAccountRoundTrip", func(t *testing.T) {
		require.NoError(t, mirror.Clear(ctx))

		until := time.Now().Add(30 * time.Minute)
		acct := &models.CookieAccount{
			AccountID:    "acct-1",
			Fields:       models.CookieFields{"BDUSS": "token-1", "BAIDUID": "baiduid-1"},
			IsAvailable:  false,
			TempBanUntil: &until,
		}
		require.NoError(t, mirror.SaveAccount(ctx, acct))

		fields, err := mirror.GetAccount(ctx, "acct-1")
		require.NoError(t, err)
		assert.Equal(t, "token-1", fields.Get("BDUSS"))
		assert.Equal(t, "baiduid-1", fields.Get("BAIDUID"))

		status, err := mirror.GetStatus(ctx, "acct-1")
		require.NoError(t, err)
		require.NotNil(t, status)
		assert.False(t, status.IsAvailable)
		assert.False(t, status.IsPermanentlyBanned)

		banUntil, err := mirror.GetBanInfo(ctx, "acct-1")
		require.NoError(t, err)
		require.NotNil(t, banUntil)
		assert.WithinDuration(t, until, *banUntil, time.Second)
	})

	t.Run("SaveAccountWithoutBanClearsBanInfo", func(t *testing.T) {
		require.NoError(t, mirror.Clear(ctx))

		until := time.Now().Add(time.Hour)
		banned := &models.CookieAccount{
			AccountID:    "acct-1",
			Fields:       models.CookieFields{"BDUSS": "token-1"},
			TempBanUntil: &until,
		}
		require.NoError(t, mirror.SaveAccount(ctx, banned))

		clean := &models.CookieAccount{
			AccountID:   "acct-1",
			Fields:      models.CookieFields{"BDUSS": "token-1"},
			IsAvailable: true,
		}
		require.NoError(t, mirror.SaveAccount(ctx, clean))

		banUntil, err := mirror.GetBanInfo(ctx, "acct-1")
		require.NoError(t, err)
		assert.Nil(t, banUntil)
	})

	t.Run("GetAccountMissingReturnsNotFound", func(t *testing.T) {
		require.NoError(t, mirror.Clear(ctx))

		_, err := mirror.GetAccount(ctx, "ghost")
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("AllAccountsAndListIDs", func(t *testing.T) {
		require.NoError(t, mirror.Clear(ctx))

		for _, id := range []string{"acct-a", "acct-b"} {
			acct := &models.CookieAccount{
				AccountID:   id,
				Fields:      models.CookieFields{"BDUSS": "token-" + id},
				IsAvailable: true,
			}
			require.NoError(t, mirror.SaveAccount(ctx, acct))
		}

		accounts, err := mirror.AllAccounts(ctx)
		require.NoError(t, err)
		require.Len(t, accounts, 2)
		assert.Equal(t, "token-acct-a", accounts["acct-a"].Get("BDUSS"))

		ids, err := mirror.ListAccountIDs(ctx)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"acct-a", "acct-b"}, ids)
	})

	t.Run("SetStatusOverridesSavedFlags", func(t *testing.T) {
		require.NoError(t, mirror.Clear(ctx))

		acct := &models.CookieAccount{
			AccountID:   "acct-1",
			Fields:      models.CookieFields{"BDUSS": "token-1"},
			IsAvailable: true,
		}
		require.NoError(t, mirror.SaveAccount(ctx, acct))
		require.NoError(t, mirror.SetStatus(ctx, "acct-1", false, true))

		status, err := mirror.GetStatus(ctx, "acct-1")
		require.NoError(t, err)
		require.NotNil(t, status)
		assert.False(t, status.IsAvailable)
		assert.True(t, status.IsPermanentlyBanned)
	})

	t.Run("SetAndClearBanInfo", func(t *testing.T) {
		require.NoError(t, mirror.Clear(ctx))

		until := time.Now().Add(15 * time.Minute)
		require.NoError(t, mirror.SetBanInfo(ctx, "acct-1", until))

		banUntil, err := mirror.GetBanInfo(ctx, "acct-1")
		require.NoError(t, err)
		require.NotNil(t, banUntil)
		assert.WithinDuration(t, until, *banUntil, time.Second)

		require.NoError(t, mirror.ClearBanInfo(ctx, "acct-1"))

		banUntil, err = mirror.GetBanInfo(ctx, "acct-1")
		require.NoError(t, err)
		assert.Nil(t, banUntil)
	})

	t.Run("DeleteAccountRemovesEveryNamespace", func(t *testing.T) {
		require.NoError(t, mirror.Clear(ctx))

		until := time.Now().Add(time.Hour)
		acct := &models.CookieAccount{
			AccountID:    "acct-1",
			Fields:       models.CookieFields{"BDUSS": "token-1"},
			TempBanUntil: &until,
		}
		require.NoError(t, mirror.SaveAccount(ctx, acct))
		require.NoError(t, mirror.DeleteAccount(ctx, "acct-1"))

		_, err := mirror.GetAccount(ctx, "acct-1")
		assert.ErrorIs(t, err, models.ErrNotFound)

		status, err := mirror.GetStatus(ctx, "acct-1")
		require.NoError(t, err)
		assert.Nil(t, status)

		banUntil, err := mirror.GetBanInfo(ctx, "acct-1")
		require.NoError(t, err)
		assert.Nil(t, banUntil)
	})

	t.Run("AvailableCountRoundTrip", func(t *testing.T) {
		require.NoError(t, mirror.Clear(ctx))

		n, err := mirror.AvailableCount(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)

		require.NoError(t, mirror.SetAvailableCount(ctx, 7))

		n, err = mirror.AvailableCount(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(7), n)
	})

	t.Run("ClearDropsStateButKeepsUsage", func(t *testing.T) {
		require.NoError(t, mirror.Clear(ctx))

		acct := &models.CookieAccount{
			AccountID:   "acct-1",
			Fields:      models.CookieFields{"BDUSS": "token-1"},
			IsAvailable: true,
		}
		require.NoError(t, mirror.SaveAccount(ctx, acct))
		require.NoError(t, mirror.SetAvailableCount(ctx, 1))

		date := "2026-08-01"
		_, err := mirror.IncrementUsage(ctx, date, "acct-1")
		require.NoError(t, err)

		require.NoError(t, mirror.Clear(ctx))

		ids, err := mirror.ListAccountIDs(ctx)
		require.NoError(t, err)
		assert.Empty(t, ids)

		n, err := mirror.AvailableCount(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)

		usage, err := mirror.UsageByDate(ctx, date)
		require.NoError(t, err)
		assert.Equal(t, int64(1), usage["acct-1"])
	})

	t.Run("IncrementUsageCounts", func(t *testing.T) {
		date := "2026-08-02"

		n, err := mirror.IncrementUsage(ctx, date, "acct-1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		n, err = mirror.IncrementUsage(ctx, date, "acct-1")
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		usage, err := mirror.UsageByDate(ctx, date)
		require.NoError(t, err)
		assert.Equal(t, map[string]int64{"acct-1": 2}, usage)
	})

	t.Run("ReplaceUsageInstallsMergedCounters", func(t *testing.T) {
		date := "2026-08-03"

		_, err := mirror.IncrementUsage(ctx, date, "acct-stale")
		require.NoError(t, err)

		require.NoError(t, mirror.ReplaceUsage(ctx, date, map[string]int64{
			"acct-1": 5,
			"acct-2": 9,
		}))

		usage, err := mirror.UsageByDate(ctx, date)
		require.NoError(t, err)
		assert.Equal(t, map[string]int64{"acct-1": 5, "acct-2": 9}, usage)

		require.NoError(t, mirror.ReplaceUsage(ctx, date, nil))

		usage, err = mirror.UsageByDate(ctx, date)
		require.NoError(t, err)
		assert.Empty(t, usage)
	})
}
