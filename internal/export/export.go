// Package export writes enriched citations and their analysis to CSV and
// XLSX files for downstream consumers.
package export

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/citation-etl/backend/internal/analysis"
	"github.com/citation-etl/backend/internal/dataset"
	"github.com/citation-etl/backend/pkg/logger"
)

const (
	SheetCitations     = "Citations"
	SheetSummary       = "Summary"
	SheetRegions       = "Regions"
	SheetTopViolations = "Top Violations"
)

// EnrichedColumns is the column order of the exported citation table.
var EnrichedColumns = []string{
	dataset.ColTicketNumber,
	dataset.ColIssueDate,
	dataset.ColIssueTime,
	dataset.ColFineAmount,
	dataset.ColViolationCode,
	dataset.ColLocation,
	dataset.ColLatitude,
	dataset.ColLongitude,
	dataset.ColDescription,
}

// EnrichedTable renders citations with the same cell formats the cleaner
// produces, plus the mapped description.
func EnrichedTable(citations []dataset.Citation) *dataset.Table {
	t := dataset.NewTable(EnrichedColumns...)
	for _, c := range citations {
		t.AppendRow(citationRow(c))
	}
	return t
}

func citationRow(c dataset.Citation) []string {
	clock := ""
	if c.HasIssueTime {
		clock = fmt.Sprintf("%02d%02d", c.IssueMinutes/60, c.IssueMinutes%60)
	}
	return []string{
		c.TicketNumber,
		c.IssueDate.Format(dataset.DateLayout),
		clock,
		strconv.FormatFloat(c.FineAmount, 'f', -1, 64),
		c.ViolationCode,
		c.Location,
		strconv.FormatFloat(c.Latitude, 'f', -1, 64),
		strconv.FormatFloat(c.Longitude, 'f', -1, 64),
		c.Description,
	}
}

func WriteCSV(w io.Writer, citations []dataset.Citation) error {
	return EnrichedTable(citations).WriteCSV(w)
}

// Workbook builds an XLSX file with the citations on the first sheet and the
// analysis report on the following ones.
func Workbook(citations []dataset.Citation, report *analysis.Report) (*excelize.File, error) {
	f := excelize.NewFile()

	if err := f.SetSheetName("Sheet1", SheetCitations); err != nil {
		return nil, fmt.Errorf("failed to rename sheet: %w", err)
	}
	if err := writeRows(f, SheetCitations, headerRow(EnrichedColumns), citationRows(citations)); err != nil {
		return nil, err
	}
	_ = f.SetColWidth(SheetCitations, "A", "E", 16)
	_ = f.SetColWidth(SheetCitations, "F", "F", 32)
	_ = f.SetColWidth(SheetCitations, "I", "I", 36)

	if report == nil {
		report = analysis.Analyze(citations)
	}

	sheets := []struct {
		name   string
		header []any
		rows   [][]any
	}{
		{SheetSummary, []any{"metric", "count", "mean", "std", "min", "25%", "50%", "75%", "max", "mode"}, summaryRows(report.Summary)},
		{SheetRegions, []any{"region", "citations", "avg_fine"}, regionRows(report.Neighborhoods)},
		{SheetTopViolations, []any{"violation_description", "count"}, violationRows(report.TopViolations)},
	}
	for _, s := range sheets {
		if _, err := f.NewSheet(s.name); err != nil {
			return nil, fmt.Errorf("failed to create sheet %s: %w", s.name, err)
		}
		if err := writeRows(f, s.name, s.header, s.rows); err != nil {
			return nil, err
		}
	}
	_ = f.SetColWidth(SheetTopViolations, "A", "A", 36)

	return f, nil
}

func WriteXLSX(w io.Writer, citations []dataset.Citation, report *analysis.Report) error {
	f, err := Workbook(citations, report)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

// Files are the paths SaveFiles wrote.
type Files struct {
	CSV  string
	XLSX string
}

// SaveFiles writes <dir>/citations_<runID>.csv and .xlsx, creating dir when
// needed. Either format can be disabled.
func SaveFiles(dir, runID string, citations []dataset.Citation, report *analysis.Report, csvOut, xlsxOut bool) (*Files, error) {
	start := time.Now()

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}

	files := &Files{}
	base := filepath.Join(dir, "citations_"+runID)

	if csvOut {
		files.CSV = base + ".csv"
		if err := writeFile(files.CSV, func(w io.Writer) error { return WriteCSV(w, citations) }); err != nil {
			return nil, err
		}
	}
	if xlsxOut {
		files.XLSX = base + ".xlsx"
		if err := writeFile(files.XLSX, func(w io.Writer) error { return WriteXLSX(w, citations, report) }); err != nil {
			return nil, err
		}
	}

	logger.Info("Export written",
		zap.String("run_id", runID),
		zap.Int("rows", len(citations)),
		zap.String("csv", files.CSV),
		zap.String("xlsx", files.XLSX),
		zap.Duration("duration", time.Since(start)),
	)
	return files, nil
}

func writeFile(path string, write func(io.Writer) error) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := write(file); err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	return nil
}

func writeRows(f *excelize.File, sheet string, header []any, rows [][]any) error {
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("failed to write %s header: %w", sheet, err)
	}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write %s row %d: %w", sheet, i+2, err)
		}
	}
	return nil
}

func headerRow(cols []string) []any {
	out := make([]any, len(cols))
	for i, c := range cols {
		out[i] = c
	}
	return out
}

func citationRows(citations []dataset.Citation) [][]any {
	rows := make([][]any, len(citations))
	for i, c := range citations {
		rows[i] = []any{
			c.TicketNumber,
			c.IssueDate.Format("2006-01-02"),
			c.IssueClock(),
			c.FineAmount,
			c.ViolationCode,
			c.Location,
			c.Latitude,
			c.Longitude,
			c.Description,
		}
	}
	return rows
}

func summaryRows(s analysis.Summary) [][]any {
	stat := func(name string, st analysis.Stats) []any {
		return []any{name, st.Count, st.Mean, st.Std, st.Min, st.Q25, st.Median, st.Q75, st.Max, st.Mode}
	}
	return [][]any{
		stat(dataset.ColFineAmount, s.FineAmount),
		stat(dataset.ColLatitude, s.Latitude),
		stat(dataset.ColLongitude, s.Longitude),
		{"average_issue_time", s.AverageIssueTime},
		{"median_issue_time", s.MedianIssueTime},
		{"mode_issue_time", s.ModeIssueTime},
	}
}

func regionRows(regions []analysis.RegionStats) [][]any {
	rows := make([][]any, len(regions))
	for i, r := range regions {
		rows[i] = []any{r.Name, r.Citations, r.AvgFine}
	}
	return rows
}

func violationRows(top []analysis.ViolationCount) [][]any {
	rows := make([][]any, len(top))
	for i, v := range top {
		rows[i] = []any{v.Description, v.Count}
	}
	return rows
}
