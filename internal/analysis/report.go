package analysis

import "github.com/citation-etl/backend/internal/dataset"

const (
	DefaultTopN        = 5
	DefaultTrendWindow = 7
)

type RegionReport struct {
	Region        Region           `json:"region"`
	Summary       Summary          `json:"summary"`
	TopViolations []ViolationCount `json:"top_violations"`
	Trend         []DailyPoint     `json:"trend"`
}

// Report is the full exploratory analysis of one run.
type Report struct {
	Summary       Summary          `json:"summary"`
	Regions       []RegionReport   `json:"regions"`
	Neighborhoods []RegionStats    `json:"neighborhoods"`
	TopViolations []ViolationCount `json:"top_violations"`
	HeatGrid      []HeatCell       `json:"heat_grid"`
}

// Analyze runs every analysis with the default regions and parameters.
// Regions without citations are left out of Regions.
func Analyze(citations []dataset.Citation) *Report {
	r := &Report{
		Summary:       Summarize(citations),
		Neighborhoods: ByRegion(citations, DefaultNeighborhoods),
		TopViolations: TopViolations(citations, DefaultTopN),
		HeatGrid:      HeatGrid(citations, DefaultGridPrecision),
	}

	for _, region := range DefaultRegions {
		in := Within(citations, region.Bounds)
		if len(in) == 0 {
			continue
		}
		r.Regions = append(r.Regions, RegionReport{
			Region:        region,
			Summary:       Summarize(in),
			TopViolations: TopViolations(in, DefaultTopN),
			Trend:         DailyTrend(in, DefaultTrendWindow),
		})
	}
	return r
}
