package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/hqzhang/indexhunter/internal/database"
	"github.com/hqzhang/indexhunter/internal/models"
	"github.com/jackc/pgx/v5"
)

// UsageRepository handles database operations for per-account daily usage
// counters.
type UsageRepository struct {
	db *database.DB
}

// NewUsageRepository creates a new UsageRepository
func NewUsageRepository(db *database.DB) *UsageRepository {
	return &UsageRepository{db: db}
}

// Increment adds one use to an account's counter for the given date,
// creating the row on first use.
func (r *UsageRepository) Increment(ctx context.Context, accountID string, date time.Time) error {
	query := `
		INSERT INTO cookie_daily_usage (account_id, usage_date, usage_count)
		VALUES ($1, $2, 1)
		ON CONFLICT (account_id, usage_date) DO UPDATE SET
			usage_count = cookie_daily_usage.usage_count + 1,
			update_time = NOW()
	`

	_, err := r.db.Pool.Exec(ctx, query, accountID, date)
	return database.MapPostgresError(err)
}

// Set writes an absolute counter value, used when installing merged counts
// during reconciliation.
func (r *UsageRepository) Set(ctx context.Context, accountID string, date time.Time, count int64) error {
	query := `
		INSERT INTO cookie_daily_usage (account_id, usage_date, usage_count)
		VALUES ($1, $2, $3)
		ON CONFLICT (account_id, usage_date) DO UPDATE SET
			usage_count = EXCLUDED.usage_count,
			update_time = NOW()
	`

	_, err := r.db.Pool.Exec(ctx, query, accountID, date, count)
	return database.MapPostgresError(err)
}

// SetAll installs absolute counter values for one date in a single
// transaction, so a crash mid-reconcile never leaves the store with a
// half-merged day.
func (r *UsageRepository) SetAll(ctx context.Context, date time.Time, counts map[string]int64) error {
	if len(counts) == 0 {
		return nil
	}

	query := `
		INSERT INTO cookie_daily_usage (account_id, usage_date, usage_count)
		VALUES ($1, $2, $3)
		ON CONFLICT (account_id, usage_date) DO UPDATE SET
			usage_count = EXCLUDED.usage_count,
			update_time = NOW()
	`

	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		for accountID, count := range counts {
			if _, err := tx.Exec(ctx, query, accountID, date, count); err != nil {
				return database.MapPostgresError(err)
			}
		}
		return nil
	})
}

// GetByDate returns all usage rows for one calendar date.
func (r *UsageRepository) GetByDate(ctx context.Context, date time.Time) ([]*models.UsageRecord, error) {
	query := `
		SELECT account_id, usage_date, usage_count, update_time
		FROM cookie_daily_usage
		WHERE usage_date = $1
	`

	rows, err := r.db.Pool.Query(ctx, query, date)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return scanUsageRows(rows)
}

// Query returns usage rows narrowed by the optional filter predicates,
// newest dates and heaviest users first.
func (r *UsageRepository) Query(ctx context.Context, filter models.UsageFilter) ([]*models.UsageRecord, error) {
	query := `
		SELECT account_id, usage_date, usage_count, update_time
		FROM cookie_daily_usage
		WHERE ($1 = '' OR account_id = $1)
		  AND ($2::date IS NULL OR usage_date >= $2)
		  AND ($3::date IS NULL OR usage_date <= $3)
		ORDER BY usage_date DESC, usage_count DESC
	`

	var start, end *time.Time
	if !filter.StartDate.IsZero() {
		start = &filter.StartDate
	}
	if !filter.EndDate.IsZero() {
		end = &filter.EndDate
	}

	rows, err := r.db.Pool.Query(ctx, query, filter.AccountID, start, end)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return scanUsageRows(rows)
}

func scanUsageRows(rows pgx.Rows) ([]*models.UsageRecord, error) {
	defer rows.Close()

	records := make([]*models.UsageRecord, 0)

	for rows.Next() {
		var rec models.UsageRecord
		if err := rows.Scan(&rec.AccountID, &rec.UsageDate, &rec.UsageCount, &rec.UpdateTime); err != nil {
			return nil, fmt.Errorf("failed to scan usage record: %w", err)
		}
		records = append(records, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return records, nil
}
