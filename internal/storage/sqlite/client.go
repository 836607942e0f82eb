package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/citation-etl/backend/internal/dataset"
	"github.com/citation-etl/backend/internal/storage/models"
	"github.com/citation-etl/backend/pkg/logger"
)

var ErrNotFound = errors.New("not found")

type Client struct {
	db *sql.DB
}

// NewClient opens the database at dbPath. Pragmas go through the DSN so
// every pooled connection enforces foreign keys.
func NewClient(dbPath string) (*Client, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000", dbPath)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS pipeline_runs (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		finished_at INTEGER,
		error TEXT,
		pages_total INTEGER DEFAULT 0,
		pages_failed INTEGER DEFAULT 0,
		failed_offsets TEXT,
		completion_ratio REAL DEFAULT 0,
		rows_retrieved INTEGER DEFAULT 0,
		rows_after_dedup INTEGER DEFAULT 0,
		rows_after_required INTEGER DEFAULT 0,
		rows_after_coercion INTEGER DEFAULT 0,
		rows_after_coordinates INTEGER DEFAULT 0,
		rows_clean INTEGER DEFAULT 0,
		reference_available INTEGER DEFAULT 0,
		scorer TEXT,
		threshold REAL,
		mapped_exact INTEGER DEFAULT 0,
		mapped_fuzzy INTEGER DEFAULT 0,
		unknown INTEGER DEFAULT 0,
		unmatched_codes INTEGER DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON pipeline_runs(started_at);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON pipeline_runs(status);

	CREATE TABLE IF NOT EXISTS citations (
		run_id TEXT NOT NULL,
		row_index INTEGER NOT NULL,
		ticket_number TEXT,
		issue_date INTEGER NOT NULL,
		issue_minutes INTEGER,
		fine_amount REAL NOT NULL,
		violation_code TEXT,
		location TEXT NOT NULL,
		loc_lat REAL NOT NULL,
		loc_long REAL NOT NULL,
		violation_description TEXT NOT NULL,
		PRIMARY KEY (run_id, row_index),
		FOREIGN KEY (run_id) REFERENCES pipeline_runs(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_citations_description ON citations(run_id, violation_description);

	CREATE TABLE IF NOT EXISTS unmatched_codes (
		run_id TEXT NOT NULL,
		code TEXT NOT NULL,
		PRIMARY KEY (run_id, code),
		FOREIGN KEY (run_id) REFERENCES pipeline_runs(id) ON DELETE CASCADE
	);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

const runColumns = `id, status, started_at, finished_at, error, pages_total, pages_failed, failed_offsets,
	completion_ratio, rows_retrieved, rows_after_dedup, rows_after_required, rows_after_coercion,
	rows_after_coordinates, rows_clean, reference_available, scorer, threshold, mapped_exact,
	mapped_fuzzy, unknown, unmatched_codes`

// SaveRun inserts or replaces a run record.
func (c *Client) SaveRun(ctx context.Context, run *models.PipelineRun) error {
	query := `
		INSERT INTO pipeline_runs (` + runColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			finished_at = excluded.finished_at,
			error = excluded.error,
			pages_total = excluded.pages_total,
			pages_failed = excluded.pages_failed,
			failed_offsets = excluded.failed_offsets,
			completion_ratio = excluded.completion_ratio,
			rows_retrieved = excluded.rows_retrieved,
			rows_after_dedup = excluded.rows_after_dedup,
			rows_after_required = excluded.rows_after_required,
			rows_after_coercion = excluded.rows_after_coercion,
			rows_after_coordinates = excluded.rows_after_coordinates,
			rows_clean = excluded.rows_clean,
			reference_available = excluded.reference_available,
			scorer = excluded.scorer,
			threshold = excluded.threshold,
			mapped_exact = excluded.mapped_exact,
			mapped_fuzzy = excluded.mapped_fuzzy,
			unknown = excluded.unknown,
			unmatched_codes = excluded.unmatched_codes
	`

	offsets, err := json.Marshal(run.FailedOffsets)
	if err != nil {
		return fmt.Errorf("failed to marshal failed offsets: %w", err)
	}

	var finishedAt sql.NullInt64
	if run.FinishedAt != nil {
		finishedAt = sql.NullInt64{Int64: run.FinishedAt.Unix(), Valid: true}
	}

	referenceAvailable := 0
	if run.ReferenceAvailable {
		referenceAvailable = 1
	}

	_, err = c.db.ExecContext(ctx, query,
		run.ID,
		string(run.Status),
		run.StartedAt.Unix(),
		finishedAt,
		run.Error,
		run.PagesTotal,
		run.PagesFailed,
		string(offsets),
		run.CompletionRatio,
		run.RowsRetrieved,
		run.RowsAfterDedup,
		run.RowsAfterRequired,
		run.RowsAfterCoercion,
		run.RowsAfterCoordinates,
		run.RowsClean,
		referenceAvailable,
		run.Scorer,
		run.Threshold,
		run.MappedExact,
		run.MappedFuzzy,
		run.Unknown,
		run.UnmatchedCodes,
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}

	logger.Debug("Run saved", zap.String("run_id", run.ID), zap.String("status", string(run.Status)))
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*models.PipelineRun, error) {
	var run models.PipelineRun
	var status, offsets, errText, scorer sql.NullString
	var startedAt int64
	var finishedAt sql.NullInt64
	var threshold sql.NullFloat64
	var referenceAvailable int

	err := row.Scan(
		&run.ID,
		&status,
		&startedAt,
		&finishedAt,
		&errText,
		&run.PagesTotal,
		&run.PagesFailed,
		&offsets,
		&run.CompletionRatio,
		&run.RowsRetrieved,
		&run.RowsAfterDedup,
		&run.RowsAfterRequired,
		&run.RowsAfterCoercion,
		&run.RowsAfterCoordinates,
		&run.RowsClean,
		&referenceAvailable,
		&scorer,
		&threshold,
		&run.MappedExact,
		&run.MappedFuzzy,
		&run.Unknown,
		&run.UnmatchedCodes,
	)
	if err != nil {
		return nil, err
	}

	run.Status = models.RunStatus(status.String)
	run.StartedAt = time.Unix(startedAt, 0).UTC()
	if finishedAt.Valid {
		t := time.Unix(finishedAt.Int64, 0).UTC()
		run.FinishedAt = &t
	}
	run.Error = errText.String
	run.Scorer = scorer.String
	run.Threshold = threshold.Float64
	run.ReferenceAvailable = referenceAvailable == 1
	if offsets.Valid && offsets.String != "" {
		if err := json.Unmarshal([]byte(offsets.String), &run.FailedOffsets); err != nil {
			return nil, fmt.Errorf("failed to unmarshal failed offsets: %w", err)
		}
	}

	return &run, nil
}

func (c *Client) GetRun(ctx context.Context, id string) (*models.PipelineRun, error) {
	query := `SELECT ` + runColumns + ` FROM pipeline_runs WHERE id = ?`

	run, err := scanRun(c.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// LatestRun returns the most recently started run with the given status.
func (c *Client) LatestRun(ctx context.Context, status models.RunStatus) (*models.PipelineRun, error) {
	query := `SELECT ` + runColumns + ` FROM pipeline_runs WHERE status = ? ORDER BY started_at DESC, rowid DESC LIMIT 1`

	run, err := scanRun(c.db.QueryRowContext(ctx, query, string(status)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("no %s run: %w", status, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest run: %w", err)
	}
	return run, nil
}

func (c *Client) ListRuns(ctx context.Context, limit int) ([]models.PipelineRun, error) {
	query := `SELECT ` + runColumns + ` FROM pipeline_runs ORDER BY started_at DESC, rowid DESC LIMIT ?`

	rows, err := c.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []models.PipelineRun{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		runs = append(runs, *run)
	}

	return runs, rows.Err()
}

// SaveCitations replaces the stored citations of a run in one transaction.
func (c *Client) SaveCitations(ctx context.Context, runID string, citations []dataset.Citation) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM citations WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("failed to clear citations: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO citations (run_id, row_index, ticket_number, issue_date, issue_minutes, fine_amount,
			violation_code, location, loc_lat, loc_long, violation_description)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, cit := range citations {
		var minutes sql.NullInt64
		if cit.HasIssueTime {
			minutes = sql.NullInt64{Int64: int64(cit.IssueMinutes), Valid: true}
		}

		_, err := stmt.ExecContext(ctx,
			runID,
			i,
			cit.TicketNumber,
			cit.IssueDate.Unix(),
			minutes,
			cit.FineAmount,
			cit.ViolationCode,
			cit.Location,
			cit.Latitude,
			cit.Longitude,
			cit.Description,
		)
		if err != nil {
			return fmt.Errorf("failed to insert citation %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit citations: %w", err)
	}

	logger.Info("Citations stored", zap.String("run_id", runID), zap.Int("count", len(citations)))
	return nil
}

// LoadCitations returns the citations of a run in their original order.
func (c *Client) LoadCitations(ctx context.Context, runID string) ([]dataset.Citation, error) {
	query := `
		SELECT ticket_number, issue_date, issue_minutes, fine_amount, violation_code, location,
			loc_lat, loc_long, violation_description
		FROM citations
		WHERE run_id = ?
		ORDER BY row_index
	`

	rows, err := c.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load citations: %w", err)
	}
	defer rows.Close()

	citations := []dataset.Citation{}
	for rows.Next() {
		var cit dataset.Citation
		var ticket, code sql.NullString
		var issueDate int64
		var minutes sql.NullInt64

		err := rows.Scan(&ticket, &issueDate, &minutes, &cit.FineAmount, &code, &cit.Location,
			&cit.Latitude, &cit.Longitude, &cit.Description)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		cit.TicketNumber = ticket.String
		cit.ViolationCode = code.String
		cit.IssueDate = time.Unix(issueDate, 0).UTC()
		if minutes.Valid {
			cit.IssueMinutes = int(minutes.Int64)
			cit.HasIssueTime = true
		}
		citations = append(citations, cit)
	}

	return citations, rows.Err()
}

func (c *Client) SaveUnmatchedCodes(ctx context.Context, runID string, codes []string) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, code := range codes {
		_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO unmatched_codes (run_id, code) VALUES (?, ?)`, runID, code)
		if err != nil {
			return fmt.Errorf("failed to insert unmatched code: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit unmatched codes: %w", err)
	}
	return nil
}

func (c *Client) UnmatchedCodes(ctx context.Context, runID string) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT code FROM unmatched_codes WHERE run_id = ? ORDER BY code`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get unmatched codes: %w", err)
	}
	defer rows.Close()

	codes := []string{}
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}
