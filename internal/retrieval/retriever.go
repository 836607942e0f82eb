package retrieval

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/citation-etl/backend/internal/dataset"
	"github.com/citation-etl/backend/pkg/logger"
)

const (
	DefaultBatchSize   = 50000
	DefaultConcurrency = 8
)

type BatchFetcher interface {
	FetchBatch(ctx context.Context, offset, limit int) Page
}

// Result holds the assembled table and every page outcome in offset order.
type Result struct {
	Table    *dataset.Table
	Pages    []Page
	Duration time.Duration
}

func (r *Result) Succeeded() int {
	n := 0
	for _, p := range r.Pages {
		if p.OK() {
			n++
		}
	}
	return n
}

func (r *Result) Failed() int {
	return len(r.Pages) - r.Succeeded()
}

func (r *Result) FailedOffsets() []int {
	var offsets []int
	for _, p := range r.Pages {
		if !p.OK() {
			offsets = append(offsets, p.Offset)
		}
	}
	return offsets
}

// CompletionRatio is the share of scheduled pages that succeeded.
func (r *Result) CompletionRatio() float64 {
	if len(r.Pages) == 0 {
		return 0
	}
	return float64(r.Succeeded()) / float64(len(r.Pages))
}

type Retriever struct {
	fetcher     BatchFetcher
	totalRows   int
	batchSize   int
	concurrency int
}

func NewRetriever(fetcher BatchFetcher, totalRows, batchSize, concurrency int) *Retriever {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Retriever{
		fetcher:     fetcher,
		totalRows:   totalRows,
		batchSize:   batchSize,
		concurrency: concurrency,
	}
}

// Offsets partitions totalRows into contiguous, non-overlapping pages.
func Offsets(totalRows, batchSize int) []int {
	if totalRows <= 0 || batchSize <= 0 {
		return nil
	}
	offsets := make([]int, 0, (totalRows+batchSize-1)/batchSize)
	for off := 0; off < totalRows; off += batchSize {
		offsets = append(offsets, off)
	}
	return offsets
}

// Retrieve fetches every page with at most concurrency requests in flight
// and concatenates the successful ones in offset order. Failed pages never
// abort the run. Once ctx is done no further pages are started; the
// remaining ones are recorded as failed with the context error.
func (r *Retriever) Retrieve(ctx context.Context) *Result {
	start := time.Now()
	offsets := Offsets(r.totalRows, r.batchSize)
	pages := make([]Page, len(offsets))

	logger.Info("Starting retrieval",
		zap.Int("total_rows", r.totalRows),
		zap.Int("batch_size", r.batchSize),
		zap.Int("pages", len(offsets)),
		zap.Int("concurrency", r.concurrency),
	)

	var g errgroup.Group
	g.SetLimit(r.concurrency)

	for i, offset := range offsets {
		i, offset := i, offset
		limit := min(r.batchSize, r.totalRows-offset)
		if err := ctx.Err(); err != nil {
			pages[i] = Page{Offset: offset, Limit: limit, Table: dataset.NewTable(), Err: err}
			continue
		}

		g.Go(func() error {
			pages[i] = r.fetcher.FetchBatch(ctx, offset, limit)
			return nil
		})
	}
	_ = g.Wait()

	table := dataset.NewTable()
	for _, p := range pages {
		if p.OK() {
			table.Append(p.Table)
		}
	}

	result := &Result{Table: table, Pages: pages, Duration: time.Since(start)}

	fields := []zap.Field{
		zap.Int("rows", table.Len()),
		zap.Int("succeeded", result.Succeeded()),
		zap.Int("failed", result.Failed()),
		zap.Float64("completion_ratio", result.CompletionRatio()),
		zap.Duration("duration", result.Duration),
	}
	if failed := result.FailedOffsets(); len(failed) > 0 {
		logger.Warn("Retrieval finished with missing pages", append(fields, zap.Ints("failed_offsets", failed))...)
	} else {
		logger.Info("Retrieval finished", fields...)
	}

	return result
}
