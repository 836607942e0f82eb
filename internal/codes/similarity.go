package codes

import (
	"fmt"

	"github.com/agext/levenshtein"
	"github.com/xrash/smetrics"
)

// Scorer rates the similarity of two normalized keys on a 0..100 scale.
type Scorer func(a, b string) float64

const (
	ScorerRatio       = "ratio"
	ScorerJaroWinkler = "jaro_winkler"
)

// Substitution costs as much as a deletion plus an insertion, which turns the
// Levenshtein similarity into the indel ratio 1 - indel/(len(a)+len(b)).
var indelParams = levenshtein.NewParams().SubCost(2)

// Ratio is the character-level indel similarity ratio.
func Ratio(a, b string) float64 {
	if a == "" && b == "" {
		return 100
	}
	if a == "" || b == "" {
		return 0
	}
	return levenshtein.Similarity(a, b, indelParams) * 100
}

// JaroWinkler is the Jaro similarity with a bonus for a shared prefix of up
// to four characters.
func JaroWinkler(a, b string) float64 {
	if a == "" && b == "" {
		return 100
	}
	if a == "" || b == "" {
		return 0
	}
	return smetrics.JaroWinkler(a, b, 0.7, 4) * 100
}

// ScorerByName resolves a configured scorer name.
func ScorerByName(name string) (Scorer, error) {
	switch name {
	case "", ScorerRatio:
		return Ratio, nil
	case ScorerJaroWinkler:
		return JaroWinkler, nil
	default:
		return nil, fmt.Errorf("unknown scorer %q", name)
	}
}
