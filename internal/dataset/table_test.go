package dataset

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadCSV(t *testing.T) {
	payload := "\ufeffissue_date,fine_amount,violation_code\n2023-01-01T00:00:00.000,68,8.73+\n2023-01-02T00:00:00.000,,\n"

	table, err := ReadCSV(strings.NewReader(payload))
	require.NoError(t, err)

	assert.Equal(t, []string{"issue_date", "fine_amount", "violation_code"}, table.Columns)
	require.Equal(t, 2, table.Len())
	assert.Equal(t, "8.73+", table.Value(0, ColViolationCode))
	assert.Equal(t, "", table.Value(1, ColFineAmount))
	assert.Equal(t, "", table.Value(0, "absent"))
}

func TestReadCSV_Errors(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"empty body", ""},
		{"ragged row", "a,b\n1,2,3\n"},
		{"bare quote", "a,b\n\"1,2\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadCSV(strings.NewReader(tt.payload))
			assert.Error(t, err)
		})
	}
}

func TestTable_AppendAlignsColumns(t *testing.T) {
	first := NewTable("a", "b")
	first.AppendRow([]string{"1", "2"})

	second := NewTable("b", "c")
	second.AppendRow([]string{"20", "30"})

	first.Append(second)

	assert.Equal(t, []string{"a", "b", "c"}, first.Columns)
	assert.Equal(t, [][]string{{"1", "2", ""}, {"", "20", "30"}}, first.Rows)
}

func TestTable_AppendIntoEmpty(t *testing.T) {
	all := &Table{}
	page := NewTable("x")
	page.AppendRow([]string{"1"})

	all.Append(page)
	all.Append(nil)
	all.Append(&Table{})

	assert.Equal(t, []string{"x"}, all.Columns)
	assert.Equal(t, 1, all.Len())
}

func TestTable_RequireColumns(t *testing.T) {
	table := NewTable(ColIssueDate, ColFineAmount)

	err := table.RequireColumns(ColIssueDate, ColLocation, ColLatitude)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingColumn)

	var schemaErr *SchemaError
	require.ErrorAs(t, err, &schemaErr)
	assert.Equal(t, []string{ColLocation, ColLatitude}, schemaErr.Missing)

	assert.NoError(t, table.RequireColumns(ColFineAmount))
}

func TestTable_Dedupe(t *testing.T) {
	table := NewTable("a", "b")
	table.AppendRow([]string{"1", "2"})
	table.AppendRow([]string{"1", "2"})
	table.AppendRow([]string{"1", "3"})
	table.AppendRow([]string{"12", ""})
	table.AppendRow([]string{"1", "2"})

	removed := table.Dedupe()

	assert.Equal(t, 2, removed)
	assert.Equal(t, [][]string{{"1", "2"}, {"1", "3"}, {"12", ""}}, table.Rows)
}

func TestTable_SetAddsColumn(t *testing.T) {
	table := NewTable("a")
	table.AppendRow([]string{"1"})

	table.Set(0, ColDescription, "No parking")

	assert.Equal(t, []string{"a", ColDescription}, table.Columns)
	assert.Equal(t, "No parking", table.Value(0, ColDescription))
}

func TestTable_FilterAndClone(t *testing.T) {
	table := NewTable("n")
	for _, v := range []string{"1", "2", "3", "4"} {
		table.AppendRow([]string{v})
	}
	clone := table.Clone()

	table.Filter(func(r int) bool { return table.Rows[r][0] != "2" })

	assert.Equal(t, [][]string{{"1"}, {"3"}, {"4"}}, table.Rows)
	assert.Equal(t, 4, clone.Len())
}

func TestTable_WriteCSVRoundTrip(t *testing.T) {
	table := NewTable("location", "fine_amount")
	table.AppendRow([]string{"1ST ST, LA", "68"})

	var buf bytes.Buffer
	require.NoError(t, table.WriteCSV(&buf))
	assert.Equal(t, "location,fine_amount\n\"1ST ST, LA\",68\n", buf.String())
}

func TestIsMissing(t *testing.T) {
	for _, v := range []string{"", "  ", "NaN", "nan", "NULL", "None", "N/A"} {
		assert.True(t, IsMissing(v), v)
	}
	for _, v := range []string{"0", "none?", "8.73"} {
		assert.False(t, IsMissing(v), v)
	}
}

func TestCitation_IssuedAt(t *testing.T) {
	c := Citation{
		IssueDate:    time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC),
		IssueMinutes: 13*60 + 5,
		HasIssueTime: true,
	}

	assert.Equal(t, time.Date(2023, 5, 1, 13, 5, 0, 0, time.UTC), c.IssuedAt())
	assert.Equal(t, "13:05", c.IssueClock())

	c.HasIssueTime = false
	assert.Equal(t, c.IssueDate, c.IssuedAt())
	assert.Equal(t, "", c.IssueClock())
}
