package cleaning

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citation-etl/backend/internal/dataset"
)

const rawCSV = `ticket_number,issue_date,issue_time,fine_amount,violation_code,location,loc_lat,loc_long
1001,2023-05-01T00:00:00.000,930,68,8.73+,100 MAIN ST,34.0522,-118.2437
1001,2023-05-01T00:00:00.000,930,68,8.73+,100 MAIN ST,34.0522,-118.2437
1002,2023-05-02T00:00:00.000,1415.0,"$1,100.00",80.69BS,200 SPRING ST,34.05,-118.25
1003,,1200,68,8.73,300 BROADWAY,34.04,-118.25
1004,2023-05-03T00:00:00.000,1200,,8.73,300 BROADWAY,34.04,-118.25
1005,2023-05-03T00:00:00.000,1200,68,8.73,,34.04,-118.25
1006,not a date,1200,68,8.73,300 BROADWAY,34.04,-118.25
1007,2023-05-03T00:00:00.000,1200,sixty,8.73,300 BROADWAY,34.04,-118.25
1008,2023-05-03T00:00:00.000,1200,-5,8.73,300 BROADWAY,34.04,-118.25
1009,2023-05-04T00:00:00.000,2561,73,4000A1,400 HILL ST,,-118.25
1010,2023-05-04T00:00:00.000,800,73,4000A1,400 HILL ST,north,-118.25
1011,2023-05-04T00:00:00.000,800,73,4000A1,400 HILL ST,99999,99999
1012,2023-05-05 08:15:00,,25,5204A,500 OLIVE ST,34.0490,-118.2550
`

func readRaw(t *testing.T, body string) *dataset.Table {
	t.Helper()
	table, err := dataset.ReadCSV(strings.NewReader(body))
	require.NoError(t, err)
	return table
}

func TestClean_Stages(t *testing.T) {
	result, err := New(true).Clean(readRaw(t, rawCSV))
	require.NoError(t, err)

	assert.Equal(t, Report{
		Initial:          13,
		AfterDedup:       12,
		AfterRequired:    9,
		AfterCoercion:    6,
		AfterCoordinates: 3,
		Final:            3,
	}, result.Report)
	assert.Equal(t, 10, result.Report.Dropped())

	require.Len(t, result.Citations, 3)
	tickets := make([]string, 0, 3)
	for _, c := range result.Citations {
		tickets = append(tickets, c.TicketNumber)
	}
	assert.Equal(t, []string{"1001", "1002", "1012"}, tickets)

	first := result.Citations[0]
	assert.Equal(t, time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC), first.IssueDate)
	assert.True(t, first.HasIssueTime)
	assert.Equal(t, "09:30", first.IssueClock())
	assert.Equal(t, 68.0, first.FineAmount)
	assert.Equal(t, "8.73+", first.ViolationCode)
	assert.InDelta(t, 34.0522, first.Latitude, 1e-9)

	second := result.Citations[1]
	assert.Equal(t, 1100.0, second.FineAmount)
	assert.Equal(t, "14:15", second.IssueClock())

	last := result.Citations[2]
	assert.False(t, last.HasIssueTime)
	assert.Equal(t, time.Date(2023, 5, 5, 8, 15, 0, 0, time.UTC), last.IssueDate)

	// canonical cells
	assert.Equal(t, "2023-05-01T00:00:00", result.Table.Value(0, dataset.ColIssueDate))
	assert.Equal(t, "0930", result.Table.Value(0, dataset.ColIssueTime))
	assert.Equal(t, "1100", result.Table.Value(1, dataset.ColFineAmount))
	assert.Equal(t, "34.049", result.Table.Value(2, dataset.ColLatitude))
	assert.Equal(t, "", result.Table.Value(2, dataset.ColIssueTime))
}

func TestClean_Idempotent(t *testing.T) {
	first, err := New(true).Clean(readRaw(t, rawCSV))
	require.NoError(t, err)
	snapshot := first.Table.Clone()

	second, err := New(true).Clean(first.Table)
	require.NoError(t, err)

	assert.Equal(t, second.Report.Initial, second.Report.Final)
	assert.Equal(t, snapshot.Columns, second.Table.Columns)
	assert.Equal(t, snapshot.Rows, second.Table.Rows)
	assert.Equal(t, first.Citations, second.Citations)
}

func TestClean_DuplicateRowsCollapse(t *testing.T) {
	body := `issue_date,fine_amount,violation_code,location,loc_lat,loc_long
2023-05-01T00:00:00,68,8.73,100 MAIN ST,34.05,-118.24
2023-05-01T00:00:00,68,8.73,100 MAIN ST,34.05,-118.24
`
	result, err := New(false).Clean(readRaw(t, body))
	require.NoError(t, err)
	assert.Len(t, result.Citations, 1)
	assert.Equal(t, 1, result.Report.AfterDedup)
}

func TestClean_FormattingOnlyDuplicates(t *testing.T) {
	body := `issue_date,fine_amount,violation_code,location,loc_lat,loc_long
2023-05-01T00:00:00.000,68,8.73,100 MAIN ST,34.05,-118.24
2023-05-01T00:00:00,68.00,8.73,100 MAIN ST,34.050,-118.240
`
	result, err := New(false).Clean(readRaw(t, body))
	require.NoError(t, err)
	assert.Equal(t, 2, result.Report.AfterDedup)
	assert.Equal(t, 2, result.Report.AfterCoordinates)
	assert.Equal(t, 1, result.Report.Final)
}

func TestClean_CoordinateRangeOptional(t *testing.T) {
	body := `issue_date,fine_amount,violation_code,location,loc_lat,loc_long
2023-05-01T00:00:00,68,8.73,100 MAIN ST,99999,99999
`
	result, err := New(false).Clean(readRaw(t, body))
	require.NoError(t, err)
	assert.Len(t, result.Citations, 1)

	result, err = New(true).Clean(readRaw(t, body))
	require.NoError(t, err)
	assert.Empty(t, result.Citations)
}

func TestClean_MissingColumns(t *testing.T) {
	_, err := New(true).Clean(readRaw(t, "issue_date,fine_amount\n2023-01-01,68\n"))
	require.Error(t, err)
	assert.ErrorIs(t, err, dataset.ErrMissingColumn)

	var schemaErr *dataset.SchemaError
	require.ErrorAs(t, err, &schemaErr)
	assert.Contains(t, schemaErr.Missing, dataset.ColLatitude)
	assert.Contains(t, schemaErr.Missing, dataset.ColLocation)
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		in      string
		minutes int
		ok      bool
	}{
		{"930", 570, true},
		{"0930", 570, true},
		{"1415.0", 855, true},
		{"0", 0, true},
		{"14:15", 855, true},
		{"2359", 1439, true},
		{"2400", 0, false},
		{"1260", 0, false},
		{"12.5", 0, false},
		{"", 0, false},
		{"noon", 0, false},
	}
	for _, tt := range tests {
		minutes, ok := ParseClock(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		if tt.ok {
			assert.Equal(t, tt.minutes, minutes, tt.in)
		}
	}
}

func TestParseAmount(t *testing.T) {
	for in, want := range map[string]float64{"68": 68, "$1,100.50": 1100.5, " 25.00 ": 25, "0": 0} {
		got, err := ParseAmount(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	for _, in := range []string{"", "NaN", "-5", "Inf", "sixty"} {
		_, err := ParseAmount(in)
		assert.Error(t, err, in)
	}
}
