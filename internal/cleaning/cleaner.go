// Package cleaning turns the raw retrieved table into validated citation
// records.
package cleaning

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/spf13/cast"
	"go.uber.org/zap"

	"github.com/citation-etl/backend/internal/dataset"
	"github.com/citation-etl/backend/internal/metrics"
	"github.com/citation-etl/backend/pkg/logger"
)

// Report holds the row count after every stage. Final can be below
// AfterCoordinates: rows that only differed in formatting (fine "50" and
// "50.00") collapse once their cells are canonical.
type Report struct {
	Initial          int `json:"initial"`
	AfterDedup       int `json:"after_dedup"`
	AfterRequired    int `json:"after_required"`
	AfterCoercion    int `json:"after_coercion"`
	AfterCoordinates int `json:"after_coordinates"`
	Final            int `json:"final"`
}

func (r Report) Dropped() int {
	return r.Initial - r.Final
}

type Result struct {
	Table     *dataset.Table
	Citations []dataset.Citation
	Report    Report
}

type Cleaner struct {
	validateRange bool
}

// New returns a cleaner. With validateRange set, coordinates outside
// [-90, 90] x [-180, 180] count as missing.
func New(validateRange bool) *Cleaner {
	return &Cleaner{validateRange: validateRange}
}

// Clean validates and canonicalizes raw in place. Stages run in a fixed
// order: exact duplicates go first so that coercion failures cannot mask
// them, and coordinates are checked last so unparseable ones are caught.
// Cells of the returned table are written in canonical form, so cleaning
// the result again drops nothing.
func (c *Cleaner) Clean(raw *dataset.Table) (*Result, error) {
	if err := raw.RequireColumns(dataset.CitationColumns...); err != nil {
		return nil, fmt.Errorf("raw table rejected: %w", err)
	}

	t := raw
	var report Report
	report.Initial = t.Len()

	t.Dedupe()
	report.AfterDedup = t.Len()
	c.logStage("dedup", report.Initial, report.AfterDedup)

	t.Filter(func(r int) bool {
		return !dataset.IsMissing(t.Value(r, dataset.ColIssueDate)) &&
			!dataset.IsMissing(t.Value(r, dataset.ColFineAmount)) &&
			!dataset.IsMissing(t.Value(r, dataset.ColLocation))
	})
	report.AfterRequired = t.Len()
	c.logStage("required", report.AfterDedup, report.AfterRequired)

	hasTime := t.HasColumn(dataset.ColIssueTime)
	t.Filter(func(r int) bool {
		date, err := ParseDate(t.Value(r, dataset.ColIssueDate))
		if err != nil {
			return false
		}
		fine, err := ParseAmount(t.Value(r, dataset.ColFineAmount))
		if err != nil {
			return false
		}

		t.Set(r, dataset.ColIssueDate, date.Format(dataset.DateLayout))
		t.Set(r, dataset.ColFineAmount, formatFloat(fine))
		t.Set(r, dataset.ColLocation, strings.TrimSpace(t.Value(r, dataset.ColLocation)))
		t.Set(r, dataset.ColViolationCode, strings.TrimSpace(t.Value(r, dataset.ColViolationCode)))
		if hasTime {
			t.Set(r, dataset.ColIssueTime, canonicalTime(t.Value(r, dataset.ColIssueTime)))
		}
		t.Set(r, dataset.ColLatitude, canonicalCoordinate(t.Value(r, dataset.ColLatitude)))
		t.Set(r, dataset.ColLongitude, canonicalCoordinate(t.Value(r, dataset.ColLongitude)))
		return true
	})
	report.AfterCoercion = t.Len()
	c.logStage("coercion", report.AfterRequired, report.AfterCoercion)

	t.Filter(func(r int) bool {
		lat, latOK := coordinate(t.Value(r, dataset.ColLatitude))
		long, longOK := coordinate(t.Value(r, dataset.ColLongitude))
		if !latOK || !longOK {
			return false
		}
		return !c.validateRange || (lat >= -90 && lat <= 90 && long >= -180 && long <= 180)
	})
	report.AfterCoordinates = t.Len()
	c.logStage("coordinates", report.AfterCoercion, report.AfterCoordinates)

	// rows that differed only in formatting are duplicates once canonical
	t.Dedupe()
	report.Final = t.Len()
	c.logStage("canonical_dedup", report.AfterCoordinates, report.Final)

	citations, err := Citations(t)
	if err != nil {
		return nil, err
	}

	logger.Info("Data cleaned",
		zap.Int("initial", report.Initial),
		zap.Int("final", report.Final),
		zap.Int("dropped", report.Dropped()),
	)

	return &Result{Table: t, Citations: citations, Report: report}, nil
}

func (c *Cleaner) logStage(stage string, before, after int) {
	metrics.RowsDropped.WithLabelValues(stage).Add(float64(before - after))
	logger.Info("Cleaning stage complete",
		zap.String("stage", stage),
		zap.Int("rows", after),
		zap.Int("dropped", before-after),
	)
}

// Citations converts a cleaned table into typed records.
func Citations(t *dataset.Table) ([]dataset.Citation, error) {
	if err := t.RequireColumns(dataset.CitationColumns...); err != nil {
		return nil, err
	}

	hasTime := t.HasColumn(dataset.ColIssueTime)
	out := make([]dataset.Citation, 0, t.Len())
	for r := range t.Rows {
		date, err := ParseDate(t.Value(r, dataset.ColIssueDate))
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", r, err)
		}
		fine, err := ParseAmount(t.Value(r, dataset.ColFineAmount))
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", r, err)
		}
		lat, latOK := coordinate(t.Value(r, dataset.ColLatitude))
		long, longOK := coordinate(t.Value(r, dataset.ColLongitude))
		if !latOK || !longOK {
			return nil, fmt.Errorf("row %d: invalid coordinates", r)
		}

		c := dataset.Citation{
			TicketNumber:  t.Value(r, dataset.ColTicketNumber),
			IssueDate:     date,
			FineAmount:    fine,
			ViolationCode: t.Value(r, dataset.ColViolationCode),
			Location:      t.Value(r, dataset.ColLocation),
			Latitude:      lat,
			Longitude:     long,
			Description:   t.Value(r, dataset.ColDescription),
		}
		if hasTime {
			if minutes, ok := ParseClock(t.Value(r, dataset.ColIssueTime)); ok {
				c.IssueMinutes = minutes
				c.HasIssueTime = true
			}
		}
		out = append(out, c)
	}
	return out, nil
}

// ParseDate parses an issue date in any common layout, interpreting values
// without a zone as UTC.
func ParseDate(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if dataset.IsMissing(v) {
		return time.Time{}, fmt.Errorf("missing date")
	}
	d, err := dateparse.ParseIn(v, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", v, err)
	}
	return d.UTC(), nil
}

// ParseAmount parses a non-negative fine, accepting currency symbols and
// thousands separators.
func ParseAmount(v string) (float64, error) {
	v = strings.TrimSpace(v)
	if dataset.IsMissing(v) {
		return 0, fmt.Errorf("missing amount")
	}
	v = strings.NewReplacer("$", "", ",", "").Replace(v)
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", v, err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0, fmt.Errorf("invalid amount %q", v)
	}
	return f, nil
}

// ParseClock reads an issue time written as HHMM (e.g. "930", "1415.0") or
// HH:MM and returns minutes after midnight.
func ParseClock(v string) (int, bool) {
	v = strings.TrimSpace(v)
	if dataset.IsMissing(v) {
		return 0, false
	}

	var hh, mm int
	if strings.Contains(v, ":") {
		t, err := time.Parse("15:04", v[:min(len(v), 5)])
		if err != nil {
			return 0, false
		}
		hh, mm = t.Hour(), t.Minute()
	} else {
		f, err := cast.ToFloat64E(v)
		if err != nil || f < 0 || f != math.Trunc(f) {
			return 0, false
		}
		n := int(f)
		hh, mm = n/100, n%100
	}

	if hh > 23 || mm > 59 {
		return 0, false
	}
	return hh*60 + mm, true
}

func canonicalTime(v string) string {
	minutes, ok := ParseClock(v)
	if !ok {
		return ""
	}
	return fmt.Sprintf("%02d%02d", minutes/60, minutes%60)
}

func coordinate(v string) (float64, bool) {
	if dataset.IsMissing(v) {
		return 0, false
	}
	f, err := cast.ToFloat64E(strings.TrimSpace(v))
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func canonicalCoordinate(v string) string {
	f, ok := coordinate(v)
	if !ok {
		return ""
	}
	return formatFloat(f)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
