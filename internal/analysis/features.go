package analysis

import (
	"math"
	"sort"
	"strings"

	"github.com/citation-etl/backend/internal/dataset"
)

// HighFineThreshold separates the two classes of the fine classifier.
const HighFineThreshold = 100.0

const DefaultGridPrecision = 3

type ViolationCount struct {
	Description string `json:"description"`
	Count       int    `json:"count"`
}

// TopViolations returns the n most frequent descriptions, skipping Unknown
// and unmapped rows. Equal counts are ordered by description.
func TopViolations(citations []dataset.Citation, n int) []ViolationCount {
	counts := make(map[string]int)
	for _, c := range citations {
		if c.Description == "" || strings.Contains(c.Description, dataset.UnknownDescription) {
			continue
		}
		counts[c.Description]++
	}

	out := make([]ViolationCount, 0, len(counts))
	for d, n := range counts {
		out = append(out, ViolationCount{Description: d, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Description < out[j].Description
	})

	if n >= 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

type HeatCell struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"long"`
	Count     int     `json:"count"`
}

// HeatGrid buckets citations by coordinates rounded to precision decimals.
// Cells are ordered by descending count, then by position.
func HeatGrid(citations []dataset.Citation, precision int) []HeatCell {
	scale := math.Pow(10, float64(precision))
	type key struct{ lat, long int64 }

	counts := make(map[key]int)
	for _, c := range citations {
		k := key{int64(math.Round(c.Latitude * scale)), int64(math.Round(c.Longitude * scale))}
		counts[k]++
	}

	out := make([]HeatCell, 0, len(counts))
	for k, n := range counts {
		out = append(out, HeatCell{
			Latitude:  float64(k.lat) / scale,
			Longitude: float64(k.long) / scale,
			Count:     n,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		if a.Latitude != b.Latitude {
			return a.Latitude < b.Latitude
		}
		return a.Longitude < b.Longitude
	})
	return out
}

// FeatureRow is one training example for the high fine classifier.
type FeatureRow struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"long"`
	Hour      int     `json:"hour"`
	// DayOfWeek counts from Monday as 0.
	DayOfWeek int  `json:"day_of_week"`
	HighFine  bool `json:"high_fine"`
}

// Features builds classifier inputs from citations that recorded an issue
// time; the others are skipped.
func Features(citations []dataset.Citation) []FeatureRow {
	out := make([]FeatureRow, 0, len(citations))
	for _, c := range citations {
		if !c.HasIssueTime {
			continue
		}
		out = append(out, FeatureRow{
			Latitude:  c.Latitude,
			Longitude: c.Longitude,
			Hour:      c.IssueMinutes / 60,
			DayOfWeek: (int(c.IssueDate.Weekday()) + 6) % 7,
			HighFine:  c.FineAmount > HighFineThreshold,
		})
	}
	return out
}
