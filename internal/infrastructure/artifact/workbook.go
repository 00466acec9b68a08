package artifact

import (
	"context"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"SeaIndexBridge/internal/domain"
	"SeaIndexBridge/internal/ports"
)

// HistorySheet is the worksheet holding exported runs.
const HistorySheet = "History"

var historyHeaders = []string{
	"Session",
	"File",
	"Subject",
	"Job",
	"Phase",
	"SEA Index",
	"Write",
	"Write Status Code",
	"Error Kind",
	"Error",
	"Started (UTC)",
	"Duration (s)",
}

// BuildHistoryWorkbook renders run summaries as an XLSX workbook.
func BuildHistoryWorkbook(rows []domain.SessionSummary) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", HistorySheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	for i, h := range historyHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(HistorySheet, cell, h)
	}
	if style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}}); err == nil {
		last, _ := excelize.CoordinatesToCellName(len(historyHeaders), 1)
		_ = f.SetCellStyle(HistorySheet, "A1", last, style)
	}

	for i, r := range rows {
		row := i + 2
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(HistorySheet, cell, v)
		}

		write(1, r.SessionID)
		write(2, r.FileName)
		write(3, r.SubjectID)
		write(4, r.JobID)
		write(5, string(r.Phase))
		if r.Score != nil {
			write(6, *r.Score)
		}
		write(7, string(r.WriteStatus))
		if r.WriteCode != 0 {
			write(8, r.WriteCode)
		}
		write(9, r.ErrorKind)
		write(10, r.ErrorMessage)
		if !r.StartedAt.IsZero() {
			write(11, r.StartedAt.UTC().Format(time.DateTime))
		}
		write(12, r.Duration().Seconds())
	}

	_ = f.SetColWidth(HistorySheet, "A", "A", 38) // uuid
	_ = f.SetColWidth(HistorySheet, "B", "B", 28)
	_ = f.SetColWidth(HistorySheet, "J", "J", 60)
	_ = f.SetColWidth(HistorySheet, "K", "K", 20)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}

// ExportHistory writes the workbook for rows to store under name.
func ExportHistory(ctx context.Context, store ports.FileStore, name string, rows []domain.SessionSummary) error {
	data, err := BuildHistoryWorkbook(rows)
	if err != nil {
		return err
	}

	w, err := store.Write(ctx, name)
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	return w.Close()
}
