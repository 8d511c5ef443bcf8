package export

import (
	"fmt"

	"github.com/hqzhang/indexhunter/internal/models"
	"github.com/xuri/excelize/v2"
)

const sheetName = "SearchIndex"

// WriteExcel writes decoded rows to an .xlsx workbook at the given path.
func WriteExcel(path string, rows []models.IndexRow) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	header := make([]interface{}, len(columnHeaders))
	for i, h := range columnHeaders {
		header[i] = h
	}
	if err := setRow(f, 1, header); err != nil {
		return err
	}

	for i, row := range rows {
		values := []interface{}{
			row.Keyword,
			row.Area,
			row.Date.Format(models.UsageDateFormat),
			row.IntervalDays,
			row.OverallIndex,
			row.WiseIndex,
			row.PCIndex,
		}
		if err := setRow(f, i+2, values); err != nil {
			return err
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	return nil
}

func setRow(f *excelize.File, rowNum int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, rowNum)
	if err != nil {
		return fmt.Errorf("resolve cell for row %d: %w", rowNum, err)
	}
	if err := f.SetSheetRow(sheetName, cell, &values); err != nil {
		return fmt.Errorf("write row %d: %w", rowNum, err)
	}
	return nil
}
