package dataset

import (
	"slices"

	"github.com/cespare/xxhash/v2"
)

// Dedupe removes rows that are equal to an earlier row in every column and
// returns how many were removed. The first occurrence of each row is kept.
func (t *Table) Dedupe() int {
	seen := make(map[uint64][]int, len(t.Rows))
	kept := make([][]string, 0, len(t.Rows))

outer:
	for _, row := range t.Rows {
		fp := fingerprint(row)
		for _, prev := range seen[fp] {
			if slices.Equal(kept[prev], row) {
				continue outer
			}
		}
		seen[fp] = append(seen[fp], len(kept))
		kept = append(kept, row)
	}

	removed := len(t.Rows) - len(kept)
	t.Rows = kept
	return removed
}

func fingerprint(row []string) uint64 {
	d := xxhash.New()
	for _, cell := range row {
		_, _ = d.WriteString(cell)
		_, _ = d.Write([]byte{0x1f})
	}
	return d.Sum64()
}
