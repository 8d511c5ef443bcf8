package pool

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hqzhang/indexhunter/internal/models"
)

// StatusStore aggregates account states from the relational store.
type StatusStore interface {
	CountByStatus(ctx context.Context) (*models.PoolStatusCounts, error)
}

// StatusCache exposes the mirror's cached available count.
type StatusCache interface {
	AvailableCount(ctx context.Context) (int64, error)
}

// HealthChecker reports whether the backing database is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// PoolStatus is a point-in-time operator view of the cookie pool.
type PoolStatus struct {
	Counts          models.PoolStatusCounts `json:"counts"`
	CachedAvailable int64                   `json:"cached_available"`
	CacheInSync     bool                    `json:"cache_in_sync"`
	DatabaseHealthy bool                    `json:"database_healthy"`
}

// StatusReporter assembles pool status from the store, the cache mirror and
// the database health check. A cached count that disagrees with the store is
// a hint to run a resync.
type StatusReporter struct {
	store  StatusStore
	cache  StatusCache
	db     HealthChecker
	logger *slog.Logger
}

// NewStatusReporter creates a new StatusReporter
func NewStatusReporter(store StatusStore, cache StatusCache, db HealthChecker, logger *slog.Logger) *StatusReporter {
	return &StatusReporter{
		store:  store,
		cache:  cache,
		db:     db,
		logger: logger,
	}
}

// Report returns the current pool status. Cache failures degrade the report
// rather than fail it; store failures are fatal because the counts are the
// point of the call.
func (r *StatusReporter) Report(ctx context.Context) (*PoolStatus, error) {
	status := &PoolStatus{}

	if err := r.db.HealthCheck(ctx); err != nil {
		r.logger.Warn("database health check failed", slog.Any("error", err))
	} else {
		status.DatabaseHealthy = true
	}

	counts, err := r.store.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("count accounts by status: %w", err)
	}
	status.Counts = *counts

	cached, err := r.cache.AvailableCount(ctx)
	if err != nil {
		r.logger.Warn("failed to read cached available count", slog.Any("error", err))
	} else {
		status.CachedAvailable = cached
		status.CacheInSync = cached == int64(counts.Available)
	}

	return status, nil
}
