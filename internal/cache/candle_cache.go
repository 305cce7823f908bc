package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/cointop10/cointop10-websocket/internal/models"
)

type CandleCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *logrus.Logger
}

func NewCandleCache(client *redis.Client, ttl time.Duration, logger *logrus.Logger) *CandleCache {
	return &CandleCache{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

func latestKey(exchange, symbol, timeframe string) string {
	return fmt.Sprintf("candle:latest:%s:%s:%s", exchange, symbol, timeframe)
}

// SetLatest caches the most recent candle for a stream
func (c *CandleCache) SetLatest(ctx context.Context, candle models.Candle) error {
	data, err := json.Marshal(candle)
	if err != nil {
		return err
	}

	key := latestKey(candle.Exchange, candle.Symbol, candle.Timeframe)
	return c.client.Set(ctx, key, data, c.ttl).Err()
}

// GetLatest retrieves the cached latest candle for a stream
func (c *CandleCache) GetLatest(ctx context.Context, exchange, symbol, timeframe string) (*models.Candle, error) {
	data, err := c.client.Get(ctx, latestKey(exchange, symbol, timeframe)).Result()
	if err != nil {
		return nil, err
	}

	var candle models.Candle
	if err := json.Unmarshal([]byte(data), &candle); err != nil {
		return nil, err
	}

	return &candle, nil
}

// Delete removes a cached candle
func (c *CandleCache) Delete(ctx context.Context, exchange, symbol, timeframe string) error {
	return c.client.Del(ctx, latestKey(exchange, symbol, timeframe)).Err()
}
