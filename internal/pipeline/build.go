package pipeline

import (
	"net/http"

	"github.com/citation-etl/backend/internal/retrieval"
	"github.com/citation-etl/backend/pkg/config"
	"github.com/citation-etl/backend/pkg/retry"
)

const sourceBreakerName = "citation-source"

// NewRetriever wires a fetcher, its retry policy and circuit breaker from
// cfg. cache may be nil.
func NewRetriever(cfg *config.Config, cache retrieval.PageCache) (*retrieval.Retriever, error) {
	rc := cfg.Retrieval

	fetcher, err := retrieval.NewFetcher(retrieval.FetcherConfig{
		Endpoint: cfg.Source.Endpoint,
		Where:    cfg.Source.Where,
		Order:    cfg.Source.Order,
		AppToken: cfg.Source.AppToken,
		Client:   &http.Client{},
		Retry: retry.Config{
			MaxAttempts:    rc.Retry.MaxAttempts,
			InitialDelay:   rc.Retry.InitialDelay,
			MaxDelay:       rc.Retry.MaxDelay,
			Multiplier:     rc.Retry.Multiplier,
			JitterFraction: rc.Retry.Jitter,
			AttemptTimeout: rc.RequestTimeout,
		},
		Breaker: retrieval.NewBreaker(sourceBreakerName,
			rc.Breaker.FailureThreshold,
			rc.Breaker.SuccessThreshold,
			rc.Breaker.OpenTimeout,
		),
		Cache: cache,
	})
	if err != nil {
		return nil, err
	}

	return retrieval.NewRetriever(fetcher, rc.TotalRows, rc.BatchSize, rc.Concurrency), nil
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		ReferencePath:           cfg.Reference.Path,
		Threshold:               cfg.Mapping.Threshold,
		Scorer:                  cfg.Mapping.Scorer,
		MinCompletionRatio:      cfg.Retrieval.MinCompletionRatio,
		ValidateCoordinateRange: cfg.Cleaning.ValidateCoordinateRange,
	}
}
