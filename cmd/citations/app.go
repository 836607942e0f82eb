package main

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/citation-etl/backend/internal/cache/redis"
	"github.com/citation-etl/backend/internal/metrics"
	"github.com/citation-etl/backend/internal/retrieval"
	"github.com/citation-etl/backend/internal/storage/sqlite"
	"github.com/citation-etl/backend/pkg/config"
	"github.com/citation-etl/backend/pkg/logger"
)

// app holds the process-wide dependencies a command needs.
type app struct {
	cfg   *config.Config
	store *sqlite.Client
	cache *redis.Client
}

func loadConfig(configPath string) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	err = logger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	metrics.Init()
	return cfg, nil
}

// newApp loads configuration and opens the SQLite store, plus Redis when
// it is enabled. A Redis outage degrades to running without a cache.
func newApp(configPath string) (*app, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}

	if dir := filepath.Dir(cfg.SQLite.Path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	store, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		return nil, err
	}
	if err := store.InitSchema(); err != nil {
		store.Close()
		return nil, err
	}

	a := &app{cfg: cfg, store: store}

	if cfg.Redis.Enabled {
		cache, err := redis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.PageTTL)
		if err != nil {
			logger.Warn("Redis unavailable, continuing without cache", zap.Error(err))
		} else {
			a.cache = cache
		}
	}

	return a, nil
}

// pageCache returns the cache as a retrieval.PageCache, or a nil interface
// when there is none.
func (a *app) pageCache() retrieval.PageCache {
	if a.cache == nil {
		return nil
	}
	return a.cache
}

func (a *app) Close() {
	if a.cache != nil {
		a.cache.Close()
	}
	a.store.Close()
	logger.Sync()
}
