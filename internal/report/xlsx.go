package report

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"
)

const (
	statusSheet  = "By Status"
	vehicleSheet = "By Vehicle"
)

// WriteXLSX renders both histograms of rep as a workbook.
func WriteXLSX(w io.Writer, rep Report) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", statusSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet(vehicleSheet); err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	if err := writeHistogram(f, statusSheet, "Status", rep.ByStatus, rep); err != nil {
		return err
	}
	if err := writeHistogram(f, vehicleSheet, "Vehicle", rep.ByVehicle, rep); err != nil {
		return err
	}
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeHistogram(f *excelize.File, sheet, label string, counts []Count, rep Report) error {
	rows := [][]interface{}{
		{"Period", period(rep)},
		{label, "Requests"},
	}
	for _, c := range counts {
		rows = append(rows, []interface{}{c.Key, c.Count})
	}
	rows = append(rows, []interface{}{"Total", rep.Total})

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("%s row %d: %w", sheet, i+1, err)
		}
	}
	return f.SetColWidth(sheet, "A", "A", 24)
}

func period(rep Report) string {
	from, to := "*", "*"
	if rep.Start != nil {
		from = rep.Start.Format(time.DateOnly)
	}
	if rep.End != nil {
		to = rep.End.Format(time.DateOnly)
	}
	return from + " - " + to
}
