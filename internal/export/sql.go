package export

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hqzhang/indexhunter/internal/models"
)

// ResultWriter is the repository surface SQL export writes through.
type ResultWriter interface {
	InsertRows(ctx context.Context, rows []models.IndexRow) (int64, error)
}

// StoreSQL persists decoded rows to the results table.
func StoreSQL(ctx context.Context, repo ResultWriter, rows []models.IndexRow) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	inserted, err := repo.InsertRows(ctx, rows)
	if err != nil {
		return inserted, fmt.Errorf("store results: %w", err)
	}
	return inserted, nil
}

// SQLSink adapts a ResultWriter to the crawler's row sink, so decoded rows
// land in the results table as tasks complete.
type SQLSink struct {
	repo   ResultWriter
	logger *slog.Logger
}

// NewSQLSink creates a new SQLSink
func NewSQLSink(repo ResultWriter, logger *slog.Logger) *SQLSink {
	return &SQLSink{repo: repo, logger: logger}
}

func (s *SQLSink) WriteRows(ctx context.Context, rows []models.IndexRow) error {
	inserted, err := StoreSQL(ctx, s.repo, rows)
	if err != nil {
		return err
	}
	s.logger.Debug("rows stored", slog.Int64("inserted", inserted))
	return nil
}
