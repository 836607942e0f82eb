// Package pipeline runs one end-to-end pass: retrieve every page, clean the
// combined table, map violation codes and persist the outcome.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/citation-etl/backend/internal/cleaning"
	"github.com/citation-etl/backend/internal/codes"
	"github.com/citation-etl/backend/internal/dataset"
	"github.com/citation-etl/backend/internal/metrics"
	"github.com/citation-etl/backend/internal/retrieval"
	"github.com/citation-etl/backend/internal/storage/models"
	"github.com/citation-etl/backend/pkg/logger"
)

var (
	ErrNoData              = errors.New("no citation data retrieved")
	ErrIncompleteRetrieval = errors.New("retrieval completion below minimum")
	ErrRunInProgress       = errors.New("a pipeline run is already in progress")
)

type Retriever interface {
	Retrieve(ctx context.Context) *retrieval.Result
}

// Store persists run records and their output. *sqlite.Client satisfies it.
type Store interface {
	SaveRun(ctx context.Context, run *models.PipelineRun) error
	SaveCitations(ctx context.Context, runID string, citations []dataset.Citation) error
	SaveUnmatchedCodes(ctx context.Context, runID string, codes []string) error
}

type Options struct {
	ReferencePath string
	// Threshold is used as given, 0 included; OptionsFromConfig carries
	// the configured value.
	Threshold               float64
	Scorer                  string
	MinCompletionRatio      float64
	ValidateCoordinateRange bool
}

// Report is what a successful run hands to its caller.
type Report struct {
	Run       *models.PipelineRun
	Retrieval *retrieval.Result
	Cleaning  cleaning.Report
	Mapping   codes.Report
	Citations []dataset.Citation
}

type Pipeline struct {
	retriever Retriever
	store     Store
	cleaner   *cleaning.Cleaner
	opts      Options
	scorer    codes.Scorer
	now       func() time.Time

	mu      sync.Mutex
	running string
}

// New validates opts and returns a pipeline. store may be nil, in which case
// nothing is persisted.
func New(retriever Retriever, store Store, opts Options) (*Pipeline, error) {
	if opts.Scorer == "" {
		opts.Scorer = codes.ScorerRatio
	}
	scorer, err := codes.ScorerByName(opts.Scorer)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		retriever: retriever,
		store:     store,
		cleaner:   cleaning.New(opts.ValidateCoordinateRange),
		opts:      opts,
		scorer:    scorer,
		now:       time.Now,
	}, nil
}

// Running returns the ID of the run in progress, or "".
func (p *Pipeline) Running() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Start reserves the pipeline for a new run and returns its ID. The caller
// must follow with Execute using that ID.
func (p *Pipeline) Start() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running != "" {
		return "", fmt.Errorf("%w: %s", ErrRunInProgress, p.running)
	}
	p.running = uuid.New().String()
	return p.running, nil
}

// Run executes one full pass. Only one run can be in progress at a time.
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	runID, err := p.Start()
	if err != nil {
		return nil, err
	}
	return p.Execute(ctx, runID)
}

// Execute performs the run reserved by Start. The run record is persisted
// when the run begins and again with its final status.
func (p *Pipeline) Execute(ctx context.Context, runID string) (*Report, error) {
	defer func() {
		p.mu.Lock()
		if p.running == runID {
			p.running = ""
		}
		p.mu.Unlock()
	}()

	run := &models.PipelineRun{
		ID:        runID,
		Status:    models.RunRunning,
		StartedAt: p.now().UTC(),
		Scorer:    p.opts.Scorer,
		Threshold: p.opts.Threshold,
	}

	logger.Info("Pipeline run started", zap.String("run_id", runID))

	if err := p.saveRun(ctx, run); err != nil {
		return nil, err
	}

	report, err := p.execute(ctx, run)

	finished := p.now().UTC()
	run.FinishedAt = &finished
	if err != nil {
		run.Status = models.RunFailed
		run.Error = err.Error()
	} else {
		run.Status = models.RunSucceeded
	}

	metrics.RunsTotal.WithLabelValues(string(run.Status)).Inc()
	metrics.RunDuration.Observe(run.Duration().Seconds())

	// the caller's context may already be cancelled; the final status still
	// has to be recorded
	if saveErr := p.saveRun(context.WithoutCancel(ctx), run); saveErr != nil && err == nil {
		err = saveErr
	}

	if err != nil {
		logger.Error("Pipeline run failed",
			zap.String("run_id", runID),
			zap.Duration("duration", run.Duration()),
			zap.Error(err),
		)
		return nil, err
	}

	logger.Info("Pipeline run completed",
		zap.String("run_id", runID),
		zap.Duration("duration", run.Duration()),
		zap.Int("citations", run.RowsClean),
		zap.Int("unknown", run.Unknown),
	)
	return report, nil
}

func (p *Pipeline) execute(ctx context.Context, run *models.PipelineRun) (*Report, error) {
	result := p.retriever.Retrieve(ctx)

	run.PagesTotal = len(result.Pages)
	run.PagesFailed = result.Failed()
	run.FailedOffsets = result.FailedOffsets()
	run.CompletionRatio = result.CompletionRatio()
	run.RowsRetrieved = result.Table.Len()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("retrieval interrupted: %w", err)
	}
	if result.Table.Empty() {
		return nil, fmt.Errorf("%w: %d of %d pages failed", ErrNoData, run.PagesFailed, run.PagesTotal)
	}
	if run.CompletionRatio < p.opts.MinCompletionRatio {
		return nil, fmt.Errorf("%w: %.3f < %.3f", ErrIncompleteRetrieval, run.CompletionRatio, p.opts.MinCompletionRatio)
	}

	cleaned, err := p.cleaner.Clean(result.Table)
	if err != nil {
		return nil, fmt.Errorf("failed to clean data: %w", err)
	}
	run.RowsAfterDedup = cleaned.Report.AfterDedup
	run.RowsAfterRequired = cleaned.Report.AfterRequired
	run.RowsAfterCoercion = cleaned.Report.AfterCoercion
	run.RowsAfterCoordinates = cleaned.Report.AfterCoordinates
	run.RowsClean = cleaned.Report.Final

	if len(cleaned.Citations) == 0 {
		return nil, fmt.Errorf("%w: every row was dropped during cleaning", ErrNoData)
	}

	ref := codes.LoadReference(p.opts.ReferencePath)
	run.ReferenceAvailable = !ref.Empty()

	mapper := codes.NewMapper(ref, p.opts.Threshold, p.scorer)
	mapping := mapper.Map(cleaned.Citations)
	run.MappedExact = mapping.Exact
	run.MappedFuzzy = mapping.Fuzzy
	run.Unknown = mapping.Unknown
	run.UnmatchedCodes = len(mapping.Unmatched)

	if p.store != nil {
		if err := p.store.SaveCitations(ctx, run.ID, cleaned.Citations); err != nil {
			return nil, fmt.Errorf("failed to persist citations: %w", err)
		}
		if err := p.store.SaveUnmatchedCodes(ctx, run.ID, mapping.Unmatched); err != nil {
			return nil, fmt.Errorf("failed to persist unmatched codes: %w", err)
		}
	}

	return &Report{
		Run:       run,
		Retrieval: result,
		Cleaning:  cleaned.Report,
		Mapping:   mapping,
		Citations: cleaned.Citations,
	}, nil
}

func (p *Pipeline) saveRun(ctx context.Context, run *models.PipelineRun) error {
	if p.store == nil {
		return nil
	}
	if err := p.store.SaveRun(ctx, run); err != nil {
		return fmt.Errorf("failed to persist run: %w", err)
	}
	return nil
}
