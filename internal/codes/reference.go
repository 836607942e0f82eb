package codes

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/citation-etl/backend/internal/dataset"
	"github.com/citation-etl/backend/pkg/logger"
)

const (
	ColSection     = "Section"
	ColDescription = "Description"
)

var ErrEmptyReference = errors.New("reference table has no usable rows")

// Entry is one row of the violation code reference table.
type Entry struct {
	Section           string
	Description       string
	NormalizedSection string
}

// Reference is an immutable violation code table with a normalized-key
// lookup. It is safe for concurrent readers.
type Reference struct {
	Entries []Entry
	// Err records why loading failed; the reference is empty when set.
	Err error

	mapping map[string]string
	keys    []string
}

// NewReference normalizes every section and builds the key mapping. When
// several sections collapse to one key the later entry wins. Entries whose
// key normalizes to "" are kept in Entries but not mapped.
func NewReference(entries []Entry) *Reference {
	ref := &Reference{
		Entries: make([]Entry, len(entries)),
		mapping: make(map[string]string, len(entries)),
	}

	for i, e := range entries {
		e.NormalizedSection = Normalize(e.Section)
		ref.Entries[i] = e
		if e.NormalizedSection == "" {
			continue
		}
		ref.mapping[e.NormalizedSection] = e.Description
	}

	ref.keys = make([]string, 0, len(ref.mapping))
	for k := range ref.mapping {
		ref.keys = append(ref.keys, k)
	}
	sort.Strings(ref.keys)

	return ref
}

// Empty reports whether the reference can resolve nothing, which callers
// treat as "mapping unavailable".
func (r *Reference) Empty() bool {
	return r == nil || len(r.mapping) == 0
}

func (r *Reference) Len() int {
	if r == nil {
		return 0
	}
	return len(r.mapping)
}

// Lookup returns the description for an exact normalized key.
func (r *Reference) Lookup(key string) (string, bool) {
	if r == nil {
		return "", false
	}
	d, ok := r.mapping[key]
	return d, ok
}

// Keys returns the distinct normalized keys in ascending order.
func (r *Reference) Keys() []string {
	if r == nil {
		return nil
	}
	return r.keys
}

// FromTable builds a reference from a table with Section and Description
// columns. Rows missing either value are skipped.
func FromTable(t *dataset.Table) (*Reference, error) {
	if err := t.RequireColumns(ColSection, ColDescription); err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, t.Len())
	for r := range t.Rows {
		section := t.Value(r, ColSection)
		description := strings.TrimSpace(t.Value(r, ColDescription))
		if dataset.IsMissing(section) || dataset.IsMissing(description) {
			continue
		}
		entries = append(entries, Entry{Section: section, Description: description})
	}

	ref := NewReference(entries)
	if ref.Empty() {
		return nil, ErrEmptyReference
	}
	return ref, nil
}

// ReadReference parses a comma separated reference table.
func ReadReference(r io.Reader) (*Reference, error) {
	t, err := dataset.ReadCSV(r)
	if err != nil {
		return nil, err
	}
	return FromTable(t)
}

// ReadReferenceXLSX parses the first sheet of a workbook whose first row is
// the header.
func ReadReferenceXLSX(path string) (*Reference, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("workbook has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return nil, errors.New("sheet has no header row")
	}

	header := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		header[i] = strings.TrimSpace(h)
	}
	t := dataset.NewTable(header...)
	for _, row := range rows[1:] {
		t.AppendRow(row)
	}

	return FromTable(t)
}

// LoadReference reads the reference table at path (.csv or .xlsx). It never
// fails: on any error it logs the cause and returns an empty reference with
// Err set, so callers skip mapping instead of aborting.
func LoadReference(path string) *Reference {
	ref, err := loadReference(path)
	if err != nil {
		logger.Error("Failed to load violation codes",
			zap.String("path", path),
			zap.Error(err),
		)
		return &Reference{Err: err, mapping: map[string]string{}}
	}

	logger.Info("Violation codes loaded",
		zap.String("path", path),
		zap.Int("entries", len(ref.Entries)),
		zap.Int("keys", ref.Len()),
	)
	return ref
}

func loadReference(path string) (*Reference, error) {
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return ReadReferenceXLSX(path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open reference file: %w", err)
	}
	defer f.Close()

	return ReadReference(f)
}
