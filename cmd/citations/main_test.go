package main

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// writeConfig writes a config file pointing at endpoint and returns its
// path together with the working directory used for outputs.
func writeConfig(t *testing.T, endpoint string) (string, string) {
	t.Helper()
	dir := t.TempDir()

	reference := filepath.Join(dir, "violation codes.csv")
	require.NoError(t, os.WriteFile(reference, []byte("Section,Description\n8.73,No parking\n80.69BS,Street sweeping\n"), 0644))

	config := fmt.Sprintf(`
source:
  endpoint: %q
retrieval:
  totalRows: 4
  batchSize: 2
  concurrency: 2
  retry:
    maxAttempts: 1
    initialDelay: 1ms
reference:
  path: %q
mapping:
  threshold: 85
sqlite:
  path: %q
export:
  dir: %q
logging:
  level: error
  outputPath: stderr
`, endpoint, reference, filepath.Join(dir, "data", "citations.db"), filepath.Join(dir, "results"))

	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(config), 0644))
	return path, dir
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "citations version "+Version)
}

func TestMapCommand(t *testing.T) {
	cfgPath, _ := writeConfig(t, "http://localhost")

	out, err := execute(t, "--config", cfgPath, "map", "8.73", "873", "ZZ9")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[1], "exact")
	assert.Contains(t, lines[2], "fuzzy")
	assert.Contains(t, lines[2], "No parking")
	assert.Contains(t, lines[3], "unknown")

	_, err = execute(t, "--config", cfgPath, "map", "--reference", "/nonexistent.csv", "8.73")
	assert.ErrorContains(t, err, "unavailable")

	_, err = execute(t, "--config", cfgPath, "map")
	assert.Error(t, err)
}

func TestRunAndExport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		offset, _ := strconv.Atoi(r.URL.Query().Get("$offset"))
		fmt.Fprintln(w, "ticket_number,issue_date,issue_time,fine_amount,violation_code,location,loc_lat,loc_long")
		fmt.Fprintf(w, "T%d,2023-05-01T00:00:00.000,930,68,8.73,100 MAIN ST,34.05,-118.25\n", offset)
		fmt.Fprintf(w, "T%d,2023-05-02T00:00:00.000,1415,73,ZZ9,200 SPRING ST,34.06,-118.24\n", offset+1)
	}))
	defer srv.Close()

	cfgPath, dir := writeConfig(t, srv.URL)

	out, err := execute(t, "--config", cfgPath, "run", "--csv")
	require.NoError(t, err)
	assert.Contains(t, out, "succeeded")
	assert.Contains(t, out, "2 exact, 0 fuzzy, 2 unknown")

	matches, err := filepath.Glob(filepath.Join(dir, "results", "citations_*.csv"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Equal(t, 5, strings.Count(string(data), "\n"))

	out, err = execute(t, "--config", cfgPath, "export", "--csv=false", "--export-dir", filepath.Join(dir, "again"))
	require.NoError(t, err)
	assert.Contains(t, out, ".xlsx")

	_, err = execute(t, "--config", cfgPath, "export", "--run", "does-not-exist")
	assert.Error(t, err)
}

func TestRunFailsWithoutData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	cfgPath, _ := writeConfig(t, srv.URL)

	_, err := execute(t, "--config", cfgPath, "run")
	assert.ErrorContains(t, err, "no citation data")
}
