package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	BatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "citation_etl_batch_duration_seconds",
			Help:    "Duration of a single page retrieval including retries",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"status"},
	)

	BatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citation_etl_batches_total",
			Help: "Total page retrievals by outcome",
		},
		[]string{"status"},
	)

	BatchAttempts = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "citation_etl_batch_attempts",
			Help:    "HTTP attempts needed per page",
			Buckets: []float64{1, 2, 3, 4, 5, 8},
		},
	)

	RowsRetrieved = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "citation_etl_rows_retrieved_total",
			Help: "Total raw rows returned by the source",
		},
	)

	RowsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citation_etl_rows_dropped_total",
			Help: "Rows removed by each cleaning stage",
		},
		[]string{"stage"},
	)

	CodeResolutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citation_etl_code_resolutions_total",
			Help: "Violation code resolutions by outcome",
		},
		[]string{"outcome"},
	)

	FuzzyScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "citation_etl_fuzzy_score",
			Help:    "Best fuzzy similarity score of codes without an exact match",
			Buckets: []float64{50, 60, 70, 80, 85, 90, 95, 100},
		},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citation_etl_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citation_etl_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citation_etl_runs_total",
			Help: "Total pipeline runs by final status",
		},
		[]string{"status"},
	)

	RunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "citation_etl_run_duration_seconds",
			Help:    "End to end pipeline run duration",
			Buckets: []float64{1, 10, 60, 300, 900, 1800, 3600},
		},
	)

	CircuitState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "citation_etl_circuit_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)
)

var registerOnce sync.Once

// Init registers the collectors with the default registry. Repeated calls
// are no-ops.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(BatchDuration)
		prometheus.MustRegister(BatchesTotal)
		prometheus.MustRegister(BatchAttempts)
		prometheus.MustRegister(RowsRetrieved)
		prometheus.MustRegister(RowsDropped)
		prometheus.MustRegister(CodeResolutions)
		prometheus.MustRegister(FuzzyScore)
		prometheus.MustRegister(CacheHits)
		prometheus.MustRegister(CacheMisses)
		prometheus.MustRegister(RunsTotal)
		prometheus.MustRegister(RunDuration)
		prometheus.MustRegister(CircuitState)
	})
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
