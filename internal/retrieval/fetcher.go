// Package retrieval pulls the citation dataset from a paginated remote
// source, one bounded page per request, tolerating the loss of individual
// pages.
package retrieval

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/citation-etl/backend/internal/dataset"
	"github.com/citation-etl/backend/internal/metrics"
	"github.com/citation-etl/backend/pkg/circuitbreaker"
	"github.com/citation-etl/backend/pkg/logger"
	"github.com/citation-etl/backend/pkg/retry"
	"github.com/citation-etl/backend/pkg/utils"
)

const maxErrorBody = 512

// StatusError is a non-2xx response from the source.
type StatusError struct {
	Offset int
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d at offset %d", e.Code, e.Offset)
	}
	return fmt.Sprintf("unexpected status %d at offset %d: %s", e.Code, e.Offset, e.Body)
}

// Temporary reports whether repeating the request may succeed.
func (e *StatusError) Temporary() bool {
	return e.Code >= 500 || e.Code == http.StatusRequestTimeout || e.Code == http.StatusTooManyRequests
}

// PageCache stores raw page bodies keyed by request.
type PageCache interface {
	GetPage(ctx context.Context, key string) ([]byte, bool, error)
	SetPage(ctx context.Context, key string, body []byte) error
}

// Page is the outcome of one page request. A failed page carries an empty
// table and the cause in Err.
type Page struct {
	Offset   int
	Limit    int
	Table    *dataset.Table
	Err      error
	Attempts int
	Duration time.Duration
	Cached   bool
}

func (p Page) OK() bool {
	return p.Err == nil
}

func (p Page) Rows() int {
	return p.Table.Len()
}

type FetcherConfig struct {
	Endpoint string
	Where    string
	Order    string
	AppToken string
	Client   *http.Client
	Retry    retry.Config
	Breaker  *circuitbreaker.CircuitBreaker
	Cache    PageCache
}

type Fetcher struct {
	base     *url.URL
	where    string
	order    string
	appToken string
	client   *http.Client
	retry    retry.Config
	breaker  *circuitbreaker.CircuitBreaker
	cache    PageCache
}

func NewFetcher(cfg FetcherConfig) (*Fetcher, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("endpoint is required")
	}
	base, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to parse endpoint: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("endpoint %q must be an absolute URL", cfg.Endpoint)
	}

	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	if cfg.Retry.Logger == nil {
		cfg.Retry.Logger = logger.L()
	}

	return &Fetcher{
		base:     base,
		where:    cfg.Where,
		order:    cfg.Order,
		appToken: cfg.AppToken,
		client:   client,
		retry:    cfg.Retry,
		breaker:  cfg.Breaker,
		cache:    cfg.Cache,
	}, nil
}

// PageURL builds the request for one page: the configured filter plus
// $limit and $offset.
func (f *Fetcher) PageURL(offset, limit int) string {
	u := *f.base
	q := u.Query()
	if f.where != "" {
		q.Set("$where", f.where)
	}
	if f.order != "" {
		q.Set("$order", f.order)
	}
	q.Set("$limit", strconv.Itoa(limit))
	q.Set("$offset", strconv.Itoa(offset))
	u.RawQuery = q.Encode()
	return u.String()
}

// FetchBatch retrieves and parses one page. It never returns an error: any
// failure is logged with its offset and reported through Page.Err alongside
// an empty table.
func (f *Fetcher) FetchBatch(ctx context.Context, offset, limit int) Page {
	start := time.Now()
	page := Page{Offset: offset, Limit: limit}
	pageURL := f.PageURL(offset, limit)
	cacheKey := utils.CacheKey(f.base.Host, pageURL)

	if t, ok := f.fromCache(ctx, cacheKey); ok {
		page.Table = t
		page.Cached = true
		page.Duration = time.Since(start)
		metrics.BatchesTotal.WithLabelValues("cached").Inc()
		metrics.RowsRetrieved.Add(float64(t.Len()))
		logger.Info("Retrieved rows from cache",
			zap.Int("offset", offset),
			zap.Int("rows", t.Len()),
		)
		return page
	}

	var body []byte
	err := retry.Do(ctx, f.retry, func(ctx context.Context, attempt int) error {
		page.Attempts = attempt
		b, err := f.guarded(ctx, pageURL, offset)
		if err != nil {
			return err
		}
		body = b
		return nil
	})

	var t *dataset.Table
	if err == nil {
		t, err = dataset.ReadCSV(bytes.NewReader(body))
		if err != nil {
			err = fmt.Errorf("failed to parse page at offset %d: %w", offset, err)
		}
	}

	page.Duration = time.Since(start)
	metrics.BatchAttempts.Observe(float64(page.Attempts))

	if err != nil {
		page.Err = err
		page.Table = dataset.NewTable()
		metrics.BatchesTotal.WithLabelValues("failed").Inc()
		metrics.BatchDuration.WithLabelValues("failed").Observe(page.Duration.Seconds())
		logger.Error("Failed to fetch batch",
			zap.Int("offset", offset),
			zap.Int("limit", limit),
			zap.Int("attempts", page.Attempts),
			zap.Error(err),
		)
		return page
	}

	page.Table = t
	metrics.BatchesTotal.WithLabelValues("success").Inc()
	metrics.BatchDuration.WithLabelValues("success").Observe(page.Duration.Seconds())
	metrics.RowsRetrieved.Add(float64(t.Len()))
	logger.Info("Retrieved rows",
		zap.Int("offset", offset),
		zap.Int("rows", t.Len()),
		zap.Int("attempts", page.Attempts),
		zap.Duration("duration", page.Duration),
	)

	f.toCache(ctx, cacheKey, body)
	return page
}

func (f *Fetcher) guarded(ctx context.Context, pageURL string, offset int) ([]byte, error) {
	if f.breaker == nil {
		return f.get(ctx, pageURL, offset)
	}

	var body []byte
	err := f.breaker.Execute(ctx, func(ctx context.Context) error {
		b, err := f.get(ctx, pageURL, offset)
		body = b
		return err
	})
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
		return nil, retry.Permanent(err)
	}
	return body, err
}

func (f *Fetcher) get(ctx context.Context, pageURL string, offset int) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("failed to build request: %w", err))
	}
	req.Header.Set("Accept", "text/csv")
	if f.appToken != "" {
		req.Header.Set("X-App-Token", f.appToken)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed at offset %d: %w", offset, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		statusErr := &StatusError{Offset: offset, Code: resp.StatusCode, Body: string(bytes.TrimSpace(snippet))}
		if !statusErr.Temporary() {
			return nil, retry.Permanent(statusErr)
		}
		return nil, statusErr
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read body at offset %d: %w", offset, err)
	}
	return body, nil
}

func (f *Fetcher) fromCache(ctx context.Context, key string) (*dataset.Table, bool) {
	if f.cache == nil {
		return nil, false
	}

	body, ok, err := f.cache.GetPage(ctx, key)
	if err != nil {
		logger.Warn("Page cache read failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	if !ok {
		metrics.CacheMisses.WithLabelValues("page").Inc()
		return nil, false
	}

	t, err := dataset.ReadCSV(bytes.NewReader(body))
	if err != nil {
		logger.Warn("Discarding unreadable cached page", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	metrics.CacheHits.WithLabelValues("page").Inc()
	return t, true
}

func (f *Fetcher) toCache(ctx context.Context, key string, body []byte) {
	if f.cache == nil {
		return
	}
	if err := f.cache.SetPage(ctx, key, body); err != nil {
		logger.Warn("Page cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// IsSourceFailure decides which errors count against the source's circuit
// breaker. Permanent rejections such as 404 say nothing about its health.
func IsSourceFailure(err error) bool {
	return err != nil && !errors.Is(err, retry.ErrPermanent)
}

// NewBreaker returns the circuit breaker shared by all page requests against
// one source, reporting its state to the metrics gauge.
func NewBreaker(name string, failureThreshold, successThreshold uint32, openTimeout time.Duration) *circuitbreaker.CircuitBreaker {
	metrics.CircuitState.WithLabelValues(name).Set(float64(circuitbreaker.StateClosed))
	return circuitbreaker.NewCircuitBreaker(name, circuitbreaker.Config{
		FailureThreshold: failureThreshold,
		SuccessThreshold: successThreshold,
		Timeout:          openTimeout,
		IsFailure:        IsSourceFailure,
		Logger:           logger.L(),
		OnStateChange: func(name string, _, to circuitbreaker.State) {
			metrics.CircuitState.WithLabelValues(name).Set(float64(to))
		},
	})
}
