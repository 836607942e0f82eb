// Package dataset holds the tabular representation shared by retrieval,
// cleaning and mapping: a raw string table read from CSV and the typed
// citation record the cleaner produces from it.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Column names of the remote citation dataset.
const (
	ColTicketNumber  = "ticket_number"
	ColIssueDate     = "issue_date"
	ColIssueTime     = "issue_time"
	ColFineAmount    = "fine_amount"
	ColViolationCode = "violation_code"
	ColLocation      = "location"
	ColLatitude      = "loc_lat"
	ColLongitude     = "loc_long"
	ColDescription   = "violation_description"
)

// CitationColumns is the schema the cleaner requires of a raw table.
var CitationColumns = []string{
	ColIssueDate,
	ColFineAmount,
	ColViolationCode,
	ColLocation,
	ColLatitude,
	ColLongitude,
}

var ErrMissingColumn = errors.New("missing required column")

type SchemaError struct {
	Missing []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("%s: %s", ErrMissingColumn, strings.Join(e.Missing, ", "))
}

func (e *SchemaError) Unwrap() error {
	return ErrMissingColumn
}

var naTokens = map[string]struct{}{
	"":     {},
	"NA":   {},
	"N/A":  {},
	"NaN":  {},
	"nan":  {},
	"null": {},
	"NULL": {},
	"None": {},
}

// IsMissing reports whether a raw cell carries no value.
func IsMissing(v string) bool {
	_, ok := naTokens[strings.TrimSpace(v)]
	return ok
}

// Table is an in-memory table of raw string cells. Every row has exactly
// len(Columns) cells.
type Table struct {
	Columns []string
	Rows    [][]string

	index map[string]int
}

func NewTable(columns ...string) *Table {
	t := &Table{Columns: append([]string(nil), columns...)}
	t.reindex()
	return t
}

func (t *Table) reindex() {
	t.index = make(map[string]int, len(t.Columns))
	for i, c := range t.Columns {
		if _, dup := t.index[c]; !dup {
			t.index[c] = i
		}
	}
}

func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

func (t *Table) Empty() bool {
	return t.Len() == 0
}

// Index returns the position of col.
func (t *Table) Index(col string) (int, bool) {
	if t.index == nil {
		t.reindex()
	}
	i, ok := t.index[col]
	return i, ok
}

func (t *Table) HasColumn(col string) bool {
	_, ok := t.Index(col)
	return ok
}

// Value returns the cell at row/col, or "" when the column is absent.
func (t *Table) Value(row int, col string) string {
	i, ok := t.Index(col)
	if !ok {
		return ""
	}
	return t.Rows[row][i]
}

func (t *Table) Set(row int, col, value string) {
	i, ok := t.Index(col)
	if !ok {
		i = t.addColumn(col)
	}
	t.Rows[row][i] = value
}

func (t *Table) addColumn(col string) int {
	t.Columns = append(t.Columns, col)
	for r := range t.Rows {
		t.Rows[r] = append(t.Rows[r], "")
	}
	t.reindex()
	return len(t.Columns) - 1
}

// AppendRow adds a row, padding or truncating it to the column count.
func (t *Table) AppendRow(row []string) {
	cells := make([]string, len(t.Columns))
	copy(cells, row)
	t.Rows = append(t.Rows, cells)
}

// Append concatenates other below t, aligning cells by column name.
// Columns t has not seen yet are added; cells absent from other are left
// empty, which IsMissing treats as missing.
func (t *Table) Append(other *Table) {
	if other == nil || len(other.Columns) == 0 {
		return
	}
	if len(t.Columns) == 0 && len(t.Rows) == 0 {
		t.Columns = append([]string(nil), other.Columns...)
		t.reindex()
	}

	positions := make([]int, len(other.Columns))
	for i, col := range other.Columns {
		pos, ok := t.Index(col)
		if !ok {
			pos = t.addColumn(col)
		}
		positions[i] = pos
	}

	for _, src := range other.Rows {
		cells := make([]string, len(t.Columns))
		for i, pos := range positions {
			if i < len(src) {
				cells[pos] = src[i]
			}
		}
		t.Rows = append(t.Rows, cells)
	}
}

// Filter keeps the rows for which keep returns true, preserving order.
func (t *Table) Filter(keep func(row int) bool) {
	kept := t.Rows[:0]
	for r, row := range t.Rows {
		if keep(r) {
			kept = append(kept, row)
		}
	}
	for i := len(kept); i < len(t.Rows); i++ {
		t.Rows[i] = nil
	}
	t.Rows = kept
}

// Clone returns a deep copy of t.
func (t *Table) Clone() *Table {
	c := NewTable(t.Columns...)
	c.Rows = make([][]string, len(t.Rows))
	for i, row := range t.Rows {
		c.Rows[i] = append([]string(nil), row...)
	}
	return c
}

// RequireColumns fails with a *SchemaError naming every absent column.
func (t *Table) RequireColumns(cols ...string) error {
	var missing []string
	for _, c := range cols {
		if !t.HasColumn(c) {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return &SchemaError{Missing: missing}
	}
	return nil
}

// ReadCSV parses a header-first comma separated payload. Every record must
// have as many fields as the header.
func ReadCSV(r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.ReuseRecord = false

	header, err := reader.Read()
	if err == io.EOF {
		return nil, errors.New("empty payload: no header row")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	columns := make([]string, len(header))
	for i, h := range header {
		columns[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}

	t := NewTable(columns...)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read record: %w", err)
		}
		t.Rows = append(t.Rows, record)
	}

	return t, nil
}

func (t *Table) WriteCSV(w io.Writer) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(t.Columns); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	if err := writer.WriteAll(t.Rows); err != nil {
		return fmt.Errorf("failed to write rows: %w", err)
	}
	return nil
}
