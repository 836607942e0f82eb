package codes

import (
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/citation-etl/backend/internal/dataset"
	"github.com/citation-etl/backend/internal/metrics"
	"github.com/citation-etl/backend/pkg/logger"
)

const DefaultThreshold = 90.0

type Outcome string

const (
	OutcomeExact   Outcome = "exact"
	OutcomeFuzzy   Outcome = "fuzzy"
	OutcomeUnknown Outcome = "unknown"
)

// Resolution is the result of resolving one raw code.
type Resolution struct {
	Code        string  `json:"code"`
	Key         string  `json:"key"`
	Description string  `json:"description"`
	Outcome     Outcome `json:"outcome"`
	MatchedKey  string  `json:"matched_key,omitempty"`
	Score       float64 `json:"score"`
}

// Report summarizes a batch mapping.
type Report struct {
	Total   int `json:"total"`
	Exact   int `json:"exact"`
	Fuzzy   int `json:"fuzzy"`
	Unknown int `json:"unknown"`
	// Unmatched lists the distinct normalized keys that resolved to Unknown.
	Unmatched []string `json:"unmatched"`
	// Skipped is set when the reference was unavailable and nothing was mapped.
	Skipped bool `json:"skipped"`
}

func (r Report) Mapped() int {
	return r.Exact + r.Fuzzy
}

type Mapper struct {
	ref       *Reference
	threshold float64
	scorer    Scorer
}

func NewMapper(ref *Reference, threshold float64, scorer Scorer) *Mapper {
	if scorer == nil {
		scorer = Ratio
	}
	return &Mapper{ref: ref, threshold: threshold, scorer: scorer}
}

func (m *Mapper) Reference() *Reference {
	return m.ref
}

func (m *Mapper) Threshold() float64 {
	return m.threshold
}

// Resolve maps one raw code. An exact hit on the normalized key wins.
// Otherwise the closest reference key is accepted when its score reaches the
// threshold; among equal scores the lexicographically smallest key is used.
// Anything else, including an absent code, resolves to Unknown.
func (m *Mapper) Resolve(code string) Resolution {
	res := Resolution{Code: code, Description: dataset.UnknownDescription, Outcome: OutcomeUnknown}

	if dataset.IsMissing(code) {
		return res
	}

	key := Normalize(code)
	res.Key = key
	if key == "" || m.ref.Empty() {
		return res
	}

	if desc, ok := m.ref.Lookup(key); ok {
		res.Description = desc
		res.Outcome = OutcomeExact
		res.MatchedKey = key
		res.Score = 100
		return res
	}

	best, bestScore := "", -1.0
	for _, candidate := range m.ref.Keys() {
		if score := m.scorer(key, candidate); score > bestScore {
			best, bestScore = candidate, score
		}
	}

	res.MatchedKey = best
	res.Score = bestScore
	if best != "" && bestScore >= m.threshold {
		desc, _ := m.ref.Lookup(best)
		res.Description = desc
		res.Outcome = OutcomeFuzzy
	}
	return res
}

// Map fills Description on every citation. Each distinct raw code is scored
// once per call. When the reference is empty every citation is marked
// Unknown without matching and the report is flagged as skipped.
func (m *Mapper) Map(citations []dataset.Citation) Report {
	report := Report{Total: len(citations), Unmatched: []string{}}

	if m.ref.Empty() {
		for i := range citations {
			citations[i].Description = dataset.UnknownDescription
		}
		report.Unknown = len(citations)
		report.Skipped = true
		logger.Warn("Violation code reference unavailable, skipping mapping",
			zap.Int("citations", len(citations)),
		)
		return report
	}

	memo := make(map[string]Resolution)
	unmatched := make(map[string]struct{})

	for i := range citations {
		code := strings.TrimSpace(citations[i].ViolationCode)
		res, ok := memo[code]
		if !ok {
			res = m.Resolve(code)
			memo[code] = res
			if res.Outcome != OutcomeExact && res.MatchedKey != "" {
				metrics.FuzzyScore.Observe(res.Score)
			}
			if res.Outcome == OutcomeUnknown && res.MatchedKey != "" {
				logger.Debug("Violation code below match threshold",
					zap.String("code", code),
					zap.String("key", res.Key),
					zap.String("closest", res.MatchedKey),
					zap.Float64("score", res.Score),
					zap.Float64("threshold", m.threshold),
				)
			}
		}

		citations[i].Description = res.Description
		switch res.Outcome {
		case OutcomeExact:
			report.Exact++
		case OutcomeFuzzy:
			report.Fuzzy++
		default:
			report.Unknown++
			// absent codes are not unmatched keys; a code that normalizes
			// to "" is
			if !dataset.IsMissing(code) {
				unmatched[res.Key] = struct{}{}
			}
		}
	}

	report.Unmatched = make([]string, 0, len(unmatched))
	for k := range unmatched {
		report.Unmatched = append(report.Unmatched, k)
	}
	sort.Strings(report.Unmatched)

	metrics.CodeResolutions.WithLabelValues(string(OutcomeExact)).Add(float64(report.Exact))
	metrics.CodeResolutions.WithLabelValues(string(OutcomeFuzzy)).Add(float64(report.Fuzzy))
	metrics.CodeResolutions.WithLabelValues(string(OutcomeUnknown)).Add(float64(report.Unknown))

	logger.Info("Violation codes mapped",
		zap.Int("total", report.Total),
		zap.Int("exact", report.Exact),
		zap.Int("fuzzy", report.Fuzzy),
		zap.Int("unknown", report.Unknown),
		zap.Int("distinct_codes", len(memo)),
	)

	return report
}
