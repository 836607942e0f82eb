package analysis

import (
	"sort"
	"time"

	"github.com/citation-etl/backend/internal/dataset"
)

// Bounds is an inclusive latitude/longitude box.
type Bounds struct {
	LatMin  float64 `json:"lat_min"`
	LatMax  float64 `json:"lat_max"`
	LongMin float64 `json:"long_min"`
	LongMax float64 `json:"long_max"`
}

func (b Bounds) Contains(lat, long float64) bool {
	return lat >= b.LatMin && lat <= b.LatMax && long >= b.LongMin && long <= b.LongMax
}

type Region struct {
	Name   string `json:"name"`
	Bounds Bounds `json:"bounds"`
}

var (
	DowntownLA = Region{"Downtown LA", Bounds{34.040, 34.090, -118.290, -118.220}}
	Hollywood  = Region{"Hollywood", Bounds{34.090, 34.140, -118.350, -118.290}}
)

// DefaultRegions are the areas that get a full summary and trend lines.
var DefaultRegions = []Region{DowntownLA, Hollywood}

// DefaultNeighborhoods are the areas compared by volume and average fine.
var DefaultNeighborhoods = []Region{
	{"Central LA", Bounds{34.040, 34.090, -118.290, -118.220}},
	{"South Central LA", Bounds{33.920, 34.000, -118.310, -118.240}},
	Hollywood,
	{"West Hollywood", Bounds{34.080, 34.100, -118.380, -118.340}},
	{"Santa Monica", Bounds{34.000, 34.050, -118.520, -118.450}},
	{"Beverly Hills", Bounds{34.060, 34.090, -118.420, -118.380}},
	{"The Valley", Bounds{34.170, 34.250, -118.480, -118.380}},
}

type RegionStats struct {
	Name      string  `json:"name"`
	Citations int     `json:"citations"`
	AvgFine   float64 `json:"avg_fine"`
}

// Within returns the citations located inside b.
func Within(citations []dataset.Citation, b Bounds) []dataset.Citation {
	var out []dataset.Citation
	for _, c := range citations {
		if b.Contains(c.Latitude, c.Longitude) {
			out = append(out, c)
		}
	}
	return out
}

// ByRegion counts citations and averages fines per region, in the order
// given. Regions may overlap.
func ByRegion(citations []dataset.Citation, regions []Region) []RegionStats {
	out := make([]RegionStats, len(regions))
	for i, r := range regions {
		out[i].Name = r.Name
		var total float64
		for _, c := range citations {
			if r.Bounds.Contains(c.Latitude, c.Longitude) {
				out[i].Citations++
				total += c.FineAmount
			}
		}
		if out[i].Citations > 0 {
			out[i].AvgFine = total / float64(out[i].Citations)
		}
	}
	return out
}

type DailyPoint struct {
	Date      string  `json:"date"`
	Citations int     `json:"citations"`
	AvgFine   float64 `json:"avg_fine"`
	// Smoothed values are trailing means over the window and are only set
	// once a full window of days is available.
	SmoothedCitations *float64 `json:"smoothed_citations,omitempty"`
	SmoothedFine      *float64 `json:"smoothed_fine,omitempty"`
}

// DailyTrend groups citations by issue day, ascending, with a trailing
// rolling mean over window observed days.
func DailyTrend(citations []dataset.Citation, window int) []DailyPoint {
	type acc struct {
		count int
		total float64
	}
	days := make(map[string]*acc)
	for _, c := range citations {
		key := c.IssueDate.UTC().Format(time.DateOnly)
		a, ok := days[key]
		if !ok {
			a = &acc{}
			days[key] = a
		}
		a.count++
		a.total += c.FineAmount
	}

	keys := make([]string, 0, len(days))
	for k := range days {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	points := make([]DailyPoint, len(keys))
	for i, k := range keys {
		a := days[k]
		points[i] = DailyPoint{Date: k, Citations: a.count, AvgFine: a.total / float64(a.count)}
	}

	if window <= 0 {
		return points
	}
	for i := window - 1; i < len(points); i++ {
		var sumCount, sumFine float64
		for _, p := range points[i-window+1 : i+1] {
			sumCount += float64(p.Citations)
			sumFine += p.AvgFine
		}
		c := sumCount / float64(window)
		f := sumFine / float64(window)
		points[i].SmoothedCitations = &c
		points[i].SmoothedFine = &f
	}
	return points
}
