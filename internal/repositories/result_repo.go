package repositories

import (
	"context"

	"github.com/hqzhang/indexhunter/internal/database"
	"github.com/hqzhang/indexhunter/internal/models"
	"github.com/jackc/pgx/v5"
)

// ResultRepository persists decoded search-index series for SQL export.
type ResultRepository struct {
	db *database.DB
}

// NewResultRepository creates a new ResultRepository
func NewResultRepository(db *database.DB) *ResultRepository {
	return &ResultRepository{db: db}
}

// InsertRows batch-inserts decoded index rows for a crawl run.
func (r *ResultRepository) InsertRows(ctx context.Context, rows []models.IndexRow) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	query := `
		INSERT INTO search_index_results (run_id, keyword, area, record_date, interval_days, overall_index, wise_index, pc_index)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	for _, row := range rows {
		batch.Queue(query,
			row.RunID, row.Keyword, row.Area, row.Date,
			row.IntervalDays, row.OverallIndex, row.WiseIndex, row.PCIndex,
		)
	}

	results := r.db.Pool.SendBatch(ctx, batch)
	defer results.Close()

	var inserted int64
	for range rows {
		tag, err := results.Exec()
		if err != nil {
			return inserted, database.MapPostgresError(err)
		}
		inserted += tag.RowsAffected()
	}

	return inserted, nil
}

// CountByRun returns how many rows a crawl run produced.
func (r *ResultRepository) CountByRun(ctx context.Context, runID string) (int64, error) {
	query := `SELECT COUNT(*) FROM search_index_results WHERE run_id = $1`

	var count int64
	err := r.db.Pool.QueryRow(ctx, query, runID).Scan(&count)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return count, nil
}
