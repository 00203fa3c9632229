// Package export writes the report timeline as a spreadsheet.
package export

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"harvestreport/internal/logging"
	"harvestreport/internal/queue"
)

// SheetName is the worksheet holding the timeline.
const SheetName = "Reports"

// Headers are the column titles, in column order.
var Headers = []string{
	"Report ID",
	"Status",
	"Confirmation Number",
	"Effective At",
	"Harvest Date",
	"Waterbody",
	"Species",
	"Fish Count",
	"Retry Count",
	"Last Error",
}

// WriteTimeline writes entries as an XLSX workbook to w. Row 1 holds the
// headers; each entry follows on its own row in the order given.
func WriteTimeline(w io.Writer, entries []queue.Entry) error {
	timer := logging.StartTimer(logging.CategoryExport, "WriteTimeline")
	defer timer.Stop()

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#D9E1F2"},
			Pattern: 1,
		},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	for i, h := range Headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(SheetName, cell, h); err != nil {
			return err
		}
		col, _ := excelize.ColumnNumberToName(i + 1)
		_ = f.SetColWidth(SheetName, col, col, 20)
	}
	last, _ := excelize.CoordinatesToCellName(len(Headers), 1)
	if err := f.SetCellStyle(SheetName, "A1", last, headerStyle); err != nil {
		return err
	}

	for r, e := range entries {
		row := []any{
			e.ReportID,
			string(e.Status),
			e.ConfirmationNumber,
			e.EffectiveAt.UTC().Format("2006-01-02 15:04:05"),
			e.HarvestDate,
			e.Waterbody,
			e.Species,
			e.FishCount,
			e.RetryCount,
			e.LastError,
		}
		cell, _ := excelize.CoordinatesToCellName(1, r+2)
		if err := f.SetSheetRow(SheetName, cell, &row); err != nil {
			return fmt.Errorf("failed to write row %d: %w", r+2, err)
		}
	}

	_ = f.SetPanes(SheetName, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	logging.Get(logging.CategoryExport).Info("exported %d reports", len(entries))
	return nil
}
