package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/citation-etl/backend/pkg/logger"
)

const (
	pagePrefix    = "page:"
	summaryPrefix = "summary:"
)

type Client struct {
	client  *redis.Client
	pageTTL time.Duration
}

func NewClient(host string, port int, password string, db int, pageTTL time.Duration) (*Client, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	_, err := client.Ping(ctx).Result()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", addr), zap.Duration("page_ttl", pageTTL))

	return &Client{client: client, pageTTL: pageTTL}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// SetPage stores a raw page body. Keys are already namespaced by the caller.
func (c *Client) SetPage(ctx context.Context, key string, body []byte) error {
	err := c.client.Set(ctx, pagePrefix+key, body, c.pageTTL).Err()
	if err != nil {
		return fmt.Errorf("failed to set page cache: %w", err)
	}

	logger.Debug("Page cached", zap.String("key", key), zap.Int("bytes", len(body)))
	return nil
}

func (c *Client) GetPage(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := c.client.Get(ctx, pagePrefix+key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get page cache: %w", err)
	}

	logger.Debug("Page cache hit", zap.String("key", key))
	return data, true, nil
}

// InvalidatePages drops every cached page and returns how many were removed.
func (c *Client) InvalidatePages(ctx context.Context) (int, error) {
	removed := 0
	iter := c.client.Scan(ctx, 0, pagePrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		err := c.client.Del(ctx, iter.Val()).Err()
		if err != nil {
			logger.Warn("Failed to delete cache key", zap.String("key", iter.Val()), zap.Error(err))
			continue
		}
		removed++
	}

	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("failed to iterate cache keys: %w", err)
	}

	logger.Info("Page cache invalidated", zap.Int("removed", removed))
	return removed, nil
}

func (c *Client) SetSummary(ctx context.Context, runID string, summary interface{}, ttl time.Duration) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}

	err = c.client.Set(ctx, summaryPrefix+runID, data, ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to set summary cache: %w", err)
	}

	logger.Debug("Summary cached", zap.String("run_id", runID), zap.Duration("ttl", ttl))
	return nil
}

func (c *Client) GetSummary(ctx context.Context, runID string, summary interface{}) (bool, error) {
	data, err := c.client.Get(ctx, summaryPrefix+runID).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get summary cache: %w", err)
	}

	err = json.Unmarshal(data, summary)
	if err != nil {
		return false, fmt.Errorf("failed to unmarshal summary: %w", err)
	}

	logger.Debug("Summary cache hit", zap.String("run_id", runID))
	return true, nil
}
