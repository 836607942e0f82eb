package codes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/citation-etl/backend/internal/dataset"
	"github.com/citation-etl/backend/pkg/logger"
)

func noParkingReference() *Reference {
	return NewReference([]Entry{{Section: "8.73", Description: "No parking"}})
}

func TestMapper_ExactMatchIgnoresThreshold(t *testing.T) {
	ref := NewReference([]Entry{
		{Section: "8.73", Description: "No parking"},
		{Section: "8.731", Description: "Other"},
	})
	// a threshold no fuzzy score can reach
	m := NewMapper(ref, 101, Ratio)

	res := m.Resolve("8.73+")
	assert.Equal(t, "8.73", res.Key)
	assert.Equal(t, OutcomeExact, res.Outcome)
	assert.Equal(t, "No parking", res.Description)
}

func TestMapper_ThresholdBoundary(t *testing.T) {
	ref := NewReference([]Entry{
		{Section: "low", Description: "Scores 89"},
		{Section: "high", Description: "Scores 91"},
	})
	scores := map[string]float64{"low": 89, "high": 91}
	scorer := func(_, candidate string) float64 { return scores[candidate] }

	res := NewMapper(ref, 90, scorer).Resolve("input")
	assert.Equal(t, OutcomeFuzzy, res.Outcome)
	assert.Equal(t, "Scores 91", res.Description)
	assert.Equal(t, "high", res.MatchedKey)
	assert.Equal(t, 91.0, res.Score)

	scores["high"] = 89.9
	res = NewMapper(ref, 90, scorer).Resolve("input")
	assert.Equal(t, OutcomeUnknown, res.Outcome)
	assert.Equal(t, dataset.UnknownDescription, res.Description)

	// the threshold itself is accepted
	scores["high"] = 90
	res = NewMapper(ref, 90, scorer).Resolve("input")
	assert.Equal(t, OutcomeFuzzy, res.Outcome)
}

func TestMapper_TieBreaksOnSmallestKey(t *testing.T) {
	ref := NewReference([]Entry{
		{Section: "zz", Description: "Z"},
		{Section: "mm", Description: "M"},
		{Section: "aa", Description: "A"},
	})
	flat := func(_, _ string) float64 { return 95 }

	for i := 0; i < 5; i++ {
		res := NewMapper(ref, 90, flat).Resolve("input")
		assert.Equal(t, "aa", res.MatchedKey)
		assert.Equal(t, "A", res.Description)
	}
}

func TestMapper_MissingCodeIsUnknown(t *testing.T) {
	called := false
	scorer := func(_, _ string) float64 {
		called = true
		return 100
	}
	m := NewMapper(noParkingReference(), 0, scorer)

	for _, code := range []string{"", "  ", "NaN", "+++"} {
		res := m.Resolve(code)
		assert.Equal(t, OutcomeUnknown, res.Outcome, code)
		assert.Equal(t, dataset.UnknownDescription, res.Description, code)
	}
	assert.False(t, called)
}

func TestMapper_EndToEnd(t *testing.T) {
	t.Run("ratio", func(t *testing.T) {
		// "873" vs "8.73" scores 85.7 under the indel ratio
		m := NewMapper(noParkingReference(), 85, Ratio)

		assert.Equal(t, "No parking", m.Resolve("8.73+").Description)

		res := m.Resolve("8 73")
		assert.Equal(t, "873", res.Key)
		assert.Equal(t, OutcomeFuzzy, res.Outcome)
		assert.Equal(t, "No parking", res.Description)

		assert.Equal(t, dataset.UnknownDescription, m.Resolve("99.99").Description)

		strict := NewMapper(noParkingReference(), DefaultThreshold, Ratio)
		assert.Equal(t, dataset.UnknownDescription, strict.Resolve("8 73").Description)
	})

	t.Run("jaro winkler at default threshold", func(t *testing.T) {
		m := NewMapper(noParkingReference(), DefaultThreshold, JaroWinkler)

		assert.Equal(t, OutcomeExact, m.Resolve("8.73+").Outcome)

		res := m.Resolve("8 73")
		assert.Greater(t, res.Score, 90.0)
		assert.Equal(t, "No parking", res.Description)

		assert.Equal(t, dataset.UnknownDescription, m.Resolve("99.99").Description)
	})
}

func TestMapper_Map(t *testing.T) {
	m := NewMapper(noParkingReference(), DefaultThreshold, JaroWinkler)
	citations := []dataset.Citation{
		{ViolationCode: "8.73+"},
		{ViolationCode: "8 73"},
		{ViolationCode: "99.99"},
		{ViolationCode: "99.99"},
		{ViolationCode: "ZZ-1"},
		{ViolationCode: ""},
	}

	report := m.Map(citations)

	assert.Equal(t, 6, report.Total)
	assert.Equal(t, 1, report.Exact)
	assert.Equal(t, 1, report.Fuzzy)
	assert.Equal(t, 4, report.Unknown)
	assert.Equal(t, 2, report.Mapped())
	assert.False(t, report.Skipped)
	assert.Equal(t, []string{"99.99", "zz1"}, report.Unmatched)

	want := []string{"No parking", "No parking", "Unknown", "Unknown", "Unknown", "Unknown"}
	for i, c := range citations {
		assert.Equal(t, want[i], c.Description, i)
	}
}

func TestMapper_MapListsEmptyKeyAsUnmatched(t *testing.T) {
	m := NewMapper(noParkingReference(), DefaultThreshold, Ratio)
	citations := []dataset.Citation{
		{ViolationCode: "+++"},
		{ViolationCode: "NaN"},
		{ViolationCode: "8.73"},
	}

	report := m.Map(citations)

	assert.Equal(t, 2, report.Unknown)
	assert.Equal(t, []string{""}, report.Unmatched)
}

func TestMapper_MapLogsNearMisses(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger.Set(zap.New(core))
	t.Cleanup(func() { logger.Set(nil) })

	m := NewMapper(noParkingReference(), DefaultThreshold, Ratio)
	m.Map([]dataset.Citation{{ViolationCode: "8 73"}, {ViolationCode: "8 73"}, {ViolationCode: "8.73"}})

	misses := logs.FilterMessage("Violation code below match threshold").All()
	require.Len(t, misses, 1)
	fields := misses[0].ContextMap()
	assert.Equal(t, "873", fields["key"])
	assert.Equal(t, "8.73", fields["closest"])
	assert.InDelta(t, 85.71, fields["score"], 0.01)
	assert.Equal(t, DefaultThreshold, fields["threshold"])
}

func TestMapper_MapWithoutReference(t *testing.T) {
	m := NewMapper(LoadReference("/nonexistent/violation codes.csv"), DefaultThreshold, Ratio)
	citations := []dataset.Citation{{ViolationCode: "8.73"}, {ViolationCode: "5204A"}}

	report := m.Map(citations)

	require.True(t, report.Skipped)
	assert.Equal(t, 2, report.Unknown)
	assert.Equal(t, 0, report.Mapped())
	for _, c := range citations {
		assert.Equal(t, dataset.UnknownDescription, c.Description)
	}
}
