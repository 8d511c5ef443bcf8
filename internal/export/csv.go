package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/hqzhang/indexhunter/internal/models"
)

var columnHeaders = []string{"keyword", "area", "date", "interval_days", "overall_index", "wise_index", "pc_index"}

// WriteCSV streams decoded rows as CSV with a header line.
func WriteCSV(w io.Writer, rows []models.IndexRow) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(columnHeaders); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for _, row := range rows {
		record := []string{
			row.Keyword,
			strconv.Itoa(row.Area),
			row.Date.Format(models.UsageDateFormat),
			strconv.Itoa(row.IntervalDays),
			strconv.FormatInt(row.OverallIndex, 10),
			strconv.FormatInt(row.WiseIndex, 10),
			strconv.FormatInt(row.PCIndex, 10),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}
