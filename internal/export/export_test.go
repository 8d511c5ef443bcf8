package export_test

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/hqzhang/indexhunter/internal/export"
	"github.com/hqzhang/indexhunter/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func sampleRows() []models.IndexRow {
	return []models.IndexRow{
		{
			RunID:        "run-1",
			Keyword:      "laptop",
			Area:         0,
			Date:         time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			IntervalDays: 1,
			OverallIndex: 120,
			WiseIndex:    80,
			PCIndex:      40,
		},
		{
			RunID:        "run-1",
			Keyword:      "laptop",
			Area:         0,
			Date:         time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
			IntervalDays: 1,
			OverallIndex: 130,
			WiseIndex:    85,
			PCIndex:      45,
		},
	}
}

func TestWriteCSV_WritesHeaderAndRows(t *testing.T) {
	var buf bytes.Buffer

	err := export.WriteCSV(&buf, sampleRows())
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "keyword,area,date,interval_days,overall_index,wise_index,pc_index")
	assert.Contains(t, out, "laptop,0,2024-01-01,1,120,80,40")
	assert.Contains(t, out, "laptop,0,2024-01-02,1,130,85,45")
}

func TestWriteCSV_EmptyRowsStillWritesHeader(t *testing.T) {
	var buf bytes.Buffer

	err := export.WriteCSV(&buf, nil)
	require.NoError(t, err)

	assert.Contains(t, buf.String(), "keyword,area,date")
}

func TestWriteExcel_RoundTripsRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.xlsx")

	err := export.WriteExcel(path, sampleRows())
	require.NoError(t, err)

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	cells, err := f.GetRows("SearchIndex")
	require.NoError(t, err)
	require.Len(t, cells, 3)
	assert.Equal(t, "keyword", cells[0][0])
	assert.Equal(t, "laptop", cells[1][0])
	assert.Equal(t, "2024-01-01", cells[1][2])
	assert.Equal(t, "120", cells[1][4])
}

type fakeResultWriter struct {
	rows []models.IndexRow
	err  error
}

func (f *fakeResultWriter) InsertRows(ctx context.Context, rows []models.IndexRow) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.rows = append(f.rows, rows...)
	return int64(len(rows)), nil
}

func TestStoreSQL_InsertsRows(t *testing.T) {
	repo := &fakeResultWriter{}

	inserted, err := export.StoreSQL(context.Background(), repo, sampleRows())

	require.NoError(t, err)
	assert.Equal(t, int64(2), inserted)
	assert.Len(t, repo.rows, 2)
}

func TestStoreSQL_EmptyRowsAreANoop(t *testing.T) {
	repo := &fakeResultWriter{err: errors.New("should not be called")}

	inserted, err := export.StoreSQL(context.Background(), repo, nil)

	require.NoError(t, err)
	assert.Zero(t, inserted)
}
