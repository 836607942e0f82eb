package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citation-etl/backend/internal/dataset"
	"github.com/citation-etl/backend/internal/storage/models"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient(filepath.Join(t.TempDir(), "citations.db"))
	require.NoError(t, err)
	require.NoError(t, c.InitSchema())
	t.Cleanup(func() { c.Close() })
	return c
}

func testRun(id string, status models.RunStatus, started time.Time) *models.PipelineRun {
	return &models.PipelineRun{
		ID:        id,
		Status:    status,
		StartedAt: started,
		Scorer:    "ratio",
		Threshold: 90,
	}
}

func TestClient_SaveAndGetRun(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	started := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	run := testRun("run-1", models.RunRunning, started)
	require.NoError(t, c.SaveRun(ctx, run))

	got, err := c.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunRunning, got.Status)
	assert.Equal(t, started, got.StartedAt)
	assert.Nil(t, got.FinishedAt)
	assert.Empty(t, got.FailedOffsets)

	finished := started.Add(90 * time.Second)
	run.Status = models.RunSucceeded
	run.FinishedAt = &finished
	run.PagesTotal = 4
	run.PagesFailed = 1
	run.FailedOffsets = []int{100}
	run.CompletionRatio = 0.75
	run.RowsClean = 42
	run.ReferenceAvailable = true
	run.MappedFuzzy = 3
	require.NoError(t, c.SaveRun(ctx, run))

	got, err = c.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunSucceeded, got.Status)
	require.NotNil(t, got.FinishedAt)
	assert.Equal(t, 90*time.Second, got.Duration())
	assert.Equal(t, []int{100}, got.FailedOffsets)
	assert.Equal(t, 0.75, got.CompletionRatio)
	assert.Equal(t, 42, got.RowsClean)
	assert.True(t, got.ReferenceAvailable)
	assert.Equal(t, 3, got.MappedFuzzy)
	assert.Equal(t, "ratio", got.Scorer)
}

func TestClient_GetRunNotFound(t *testing.T) {
	c := newTestClient(t)

	_, err := c.GetRun(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = c.LatestRun(context.Background(), models.RunSucceeded)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClient_ListAndLatestRuns(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, c.SaveRun(ctx, testRun("a", models.RunSucceeded, base)))
	require.NoError(t, c.SaveRun(ctx, testRun("b", models.RunSucceeded, base.Add(time.Hour))))
	require.NoError(t, c.SaveRun(ctx, testRun("c", models.RunFailed, base.Add(2*time.Hour))))

	runs, err := c.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "c", runs[0].ID)
	assert.Equal(t, "a", runs[2].ID)

	runs, err = c.ListRuns(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	latest, err := c.LatestRun(ctx, models.RunSucceeded)
	require.NoError(t, err)
	assert.Equal(t, "b", latest.ID)
}

func TestClient_Citations(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	require.NoError(t, c.SaveRun(ctx, testRun("run-1", models.RunSucceeded, time.Now().UTC())))

	citations := []dataset.Citation{
		{
			TicketNumber:  "1001",
			IssueDate:     time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC),
			IssueMinutes:  545,
			HasIssueTime:  true,
			FineAmount:    68,
			ViolationCode: "80.69BS",
			Location:      "100 MAIN ST",
			Latitude:      34.05,
			Longitude:     -118.24,
			Description:   "NO PARK/STREET CLEAN",
		},
		{
			TicketNumber: "1002",
			IssueDate:    time.Date(2023, 5, 2, 0, 0, 0, 0, time.UTC),
			FineAmount:   73.5,
			Location:     "200 SPRING ST",
			Latitude:     34.06,
			Longitude:    -118.25,
			Description:  dataset.UnknownDescription,
		},
	}
	require.NoError(t, c.SaveCitations(ctx, "run-1", citations))

	got, err := c.LoadCitations(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, citations, got)

	// saving again replaces instead of appending
	require.NoError(t, c.SaveCitations(ctx, "run-1", citations[:1]))
	got, err = c.LoadCitations(ctx, "run-1")
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = c.LoadCitations(ctx, "other")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestClient_CitationsRequireRun(t *testing.T) {
	c := newTestClient(t)

	err := c.SaveCitations(context.Background(), "ghost", []dataset.Citation{{Location: "x"}})
	assert.Error(t, err)
}

func TestClient_UnmatchedCodes(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	require.NoError(t, c.SaveRun(ctx, testRun("run-1", models.RunSucceeded, time.Now().UTC())))

	require.NoError(t, c.SaveUnmatchedCodes(ctx, "run-1", []string{"zz1", "aa9", "zz1"}))

	codes, err := c.UnmatchedCodes(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"aa9", "zz1"}, codes)
}
