package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	ErrInvalidBatchSize       = errors.New("retrieval.batchSize must be positive")
	ErrInvalidTotalRows       = errors.New("retrieval.totalRows must be positive")
	ErrInvalidConcurrency     = errors.New("retrieval.concurrency must be positive")
	ErrInvalidCompletionRatio = errors.New("retrieval.minCompletionRatio must be within 0..1")
	ErrInvalidThreshold       = errors.New("mapping.threshold must be within 0..100")
	ErrInvalidScorer          = errors.New("mapping.scorer must be one of: ratio, jaro_winkler")
	ErrMissingEndpoint        = errors.New("source.endpoint is required")
)

type Config struct {
	Source    SourceConfig
	Retrieval RetrievalConfig
	Reference ReferenceConfig
	Mapping   MappingConfig
	Cleaning  CleaningConfig
	SQLite    SQLiteConfig
	Redis     RedisConfig
	Server    ServerConfig
	Export    ExportConfig
	Logging   LoggingConfig
}

type SourceConfig struct {
	Endpoint string
	Where    string
	Order    string
	AppToken string
}

type RetrievalConfig struct {
	TotalRows          int
	BatchSize          int
	Concurrency        int
	RequestTimeout     time.Duration
	MinCompletionRatio float64
	Retry              RetryConfig
	Breaker            BreakerConfig
}

type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       float64
}

type BreakerConfig struct {
	FailureThreshold uint32
	SuccessThreshold uint32
	OpenTimeout      time.Duration
}

type ReferenceConfig struct {
	Path string
}

type MappingConfig struct {
	Threshold float64
	Scorer    string
}

type CleaningConfig struct {
	ValidateCoordinateRange bool
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	PageTTL  time.Duration
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	// RateLimit caps requests per minute per client; 0 disables limiting.
	RateLimit   int
	Development bool
}

type ExportConfig struct {
	Dir string
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

// Load reads configuration from path, or from config.yaml in the usual
// search locations when path is empty. Environment variables prefixed with
// CITATION_ETL override file values.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/citation-etl")
	}

	v.SetEnvPrefix("CITATION_ETL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// Default returns the configuration Load produces with no file and no
// environment overrides.
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var config Config
	_ = v.Unmarshal(&config)
	return &config
}

func (c *Config) Validate() error {
	if c.Source.Endpoint == "" {
		return ErrMissingEndpoint
	}
	if c.Retrieval.TotalRows <= 0 {
		return ErrInvalidTotalRows
	}
	if c.Retrieval.BatchSize <= 0 {
		return ErrInvalidBatchSize
	}
	if c.Retrieval.Concurrency <= 0 {
		return ErrInvalidConcurrency
	}
	if c.Retrieval.MinCompletionRatio < 0 || c.Retrieval.MinCompletionRatio > 1 {
		return ErrInvalidCompletionRatio
	}
	if c.Mapping.Threshold < 0 || c.Mapping.Threshold > 100 {
		return ErrInvalidThreshold
	}
	switch c.Mapping.Scorer {
	case "ratio", "jaro_winkler":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidScorer, c.Mapping.Scorer)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("source.endpoint", "https://data.lacity.org/resource/4f5p-udkv.csv")
	v.SetDefault("source.where", "issue_date between '2023-01-01T00:00:00' and '2024-12-31T23:59:59'")
	v.SetDefault("source.order", ":id")
	v.SetDefault("source.appToken", "")

	v.SetDefault("retrieval.totalRows", 3500000)
	v.SetDefault("retrieval.batchSize", 50000)
	v.SetDefault("retrieval.concurrency", 8)
	v.SetDefault("retrieval.requestTimeout", 2*time.Minute)
	v.SetDefault("retrieval.minCompletionRatio", 0.0)
	v.SetDefault("retrieval.retry.maxAttempts", 3)
	v.SetDefault("retrieval.retry.initialDelay", time.Second)
	v.SetDefault("retrieval.retry.maxDelay", 20*time.Second)
	v.SetDefault("retrieval.retry.multiplier", 2.0)
	v.SetDefault("retrieval.retry.jitter", 0.1)
	v.SetDefault("retrieval.breaker.failureThreshold", 10)
	v.SetDefault("retrieval.breaker.successThreshold", 1)
	v.SetDefault("retrieval.breaker.openTimeout", 30*time.Second)

	v.SetDefault("reference.path", "./violation codes.csv")

	v.SetDefault("mapping.threshold", 90.0)
	v.SetDefault("mapping.scorer", "ratio")

	v.SetDefault("cleaning.validateCoordinateRange", true)

	v.SetDefault("sqlite.path", "./data/citations.db")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pageTTL", 24*time.Hour)

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)
	v.SetDefault("server.rateLimit", 120)
	v.SetDefault("server.development", false)

	v.SetDefault("export.dir", "./results")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
}
