package codes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRatio(t *testing.T) {
	assert.Equal(t, 100.0, Ratio("8.73", "8.73"))
	assert.Equal(t, 100.0, Ratio("", ""))
	assert.Equal(t, 0.0, Ratio("", "8.73"))
	assert.Equal(t, 0.0, Ratio("abc", "xyz"))

	// one insertion over a combined length of seven
	assert.InDelta(t, 85.714, Ratio("873", "8.73"), 0.01)
	// a substitution costs a deletion plus an insertion
	assert.InDelta(t, 75.0, Ratio("abcd", "abce"), 0.01)
	assert.Equal(t, Ratio("80.69b", "80.69bs"), Ratio("80.69bs", "80.69b"))
}

func TestJaroWinkler(t *testing.T) {
	assert.Equal(t, 100.0, JaroWinkler("8.73", "8.73"))
	assert.Equal(t, 0.0, JaroWinkler("", "8.73"))
	assert.InDelta(t, 92.5, JaroWinkler("873", "8.73"), 0.01)
	assert.Less(t, JaroWinkler("99.99", "8.73"), 60.0)
}

func TestScorerByName(t *testing.T) {
	s, err := ScorerByName("")
	require.NoError(t, err)
	assert.Equal(t, Ratio("a", "ab"), s("a", "ab"))

	s, err = ScorerByName(ScorerJaroWinkler)
	require.NoError(t, err)
	assert.Equal(t, JaroWinkler("873", "8.73"), s("873", "8.73"))

	_, err = ScorerByName("cosine")
	assert.Error(t, err)
}
