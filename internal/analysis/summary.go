// Package analysis derives the statistics, regional breakdowns and model
// inputs that downstream consumers read from enriched citations.
package analysis

import (
	"fmt"
	"math"
	"sort"

	"github.com/montanaflynn/stats"

	"github.com/citation-etl/backend/internal/dataset"
)

// Stats is the descriptive summary of one numeric column.
type Stats struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	Std    float64 `json:"std"`
	Min    float64 `json:"min"`
	Q25    float64 `json:"q25"`
	Median float64 `json:"median"`
	Q75    float64 `json:"q75"`
	Max    float64 `json:"max"`
	Mode   float64 `json:"mode"`
}

type Summary struct {
	Count      int   `json:"count"`
	FineAmount Stats `json:"fine_amount"`
	Latitude   Stats `json:"latitude"`
	Longitude  Stats `json:"longitude"`
	// AverageIssueTime is the mean issue time of day as HH:MM, or "" when no
	// citation recorded one.
	AverageIssueTime string `json:"average_issue_time"`
	// MedianIssueTime and ModeIssueTime use the same format.
	MedianIssueTime string `json:"median_issue_time"`
	ModeIssueTime   string `json:"mode_issue_time"`
}

func Summarize(citations []dataset.Citation) Summary {
	fines := make([]float64, len(citations))
	lats := make([]float64, len(citations))
	longs := make([]float64, len(citations))
	var clocks []float64

	for i, c := range citations {
		fines[i] = c.FineAmount
		lats[i] = c.Latitude
		longs[i] = c.Longitude
		if c.HasIssueTime {
			clocks = append(clocks, float64(c.IssueMinutes))
		}
	}

	s := Summary{
		Count:      len(citations),
		FineAmount: Describe(fines),
		Latitude:   Describe(lats),
		Longitude:  Describe(longs),
	}

	if len(clocks) > 0 {
		clock := Describe(clocks)
		s.AverageIssueTime = FormatClock(clock.Mean)
		s.MedianIssueTime = FormatClock(clock.Median)
		s.ModeIssueTime = FormatClock(clock.Mode)
	}
	return s
}

// Describe computes count, mean, sample standard deviation, extremes,
// quartiles and mode of values. An empty input yields a zero Stats.
func Describe(values []float64) Stats {
	if len(values) == 0 {
		return Stats{}
	}

	data := stats.Float64Data(values)
	st := Stats{Count: len(values)}
	st.Mean, _ = stats.Mean(data)
	st.Min, _ = stats.Min(data)
	st.Max, _ = stats.Max(data)
	st.Median, _ = stats.Median(data)
	if len(values) > 1 {
		st.Std, _ = stats.StandardDeviationSample(data)
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	st.Q25 = Quantile(sorted, 0.25)
	st.Q75 = Quantile(sorted, 0.75)
	st.Mode = mode(sorted)

	return st
}

// Quantile interpolates linearly between the closest ranks of sorted.
func Quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return math.NaN()
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	return sorted[lo] + (sorted[hi]-sorted[lo])*(pos-float64(lo))
}

// mode returns the most frequent value of sorted, the smallest on ties.
func mode(sorted []float64) float64 {
	best, bestRun := sorted[0], 0
	for i := 0; i < len(sorted); {
		j := i
		for j < len(sorted) && sorted[j] == sorted[i] {
			j++
		}
		if j-i > bestRun {
			best, bestRun = sorted[i], j-i
		}
		i = j
	}
	return best
}

// FormatClock renders minutes after midnight as HH:MM, rounding to the
// nearest minute.
func FormatClock(minutes float64) string {
	m := int(math.Round(minutes))
	return fmt.Sprintf("%02d:%02d", (m/60)%24, m%60)
}
