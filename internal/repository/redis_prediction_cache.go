package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"BarPulse/internal/domain/models"
	domrepo "BarPulse/internal/domain/repository"
)

// RedisPredictionCache keeps the last good prediction per symbol with a TTL,
// so emergency cycles can serve something after a process restart.
type RedisPredictionCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ domrepo.PredictionCache = (*RedisPredictionCache)(nil)

// NewRedisPredictionCache wraps a connected client. TTL defaults to 5
// minutes: anything older is too stale to serve even degraded.
func NewRedisPredictionCache(client *redis.Client, prefix string, ttl time.Duration) *RedisPredictionCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisPredictionCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *RedisPredictionCache) key(symbol string) string {
	return c.prefix + ":pred:" + symbol
}

func (c *RedisPredictionCache) Put(ctx context.Context, p *models.Prediction) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal prediction: %w", err)
	}
	if err := c.client.Set(ctx, c.key(p.Symbol), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache prediction: %w", err)
	}
	return nil
}

func (c *RedisPredictionCache) Latest(ctx context.Context, symbol string) (*models.Prediction, error) {
	data, err := c.client.Get(ctx, c.key(symbol)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, models.ErrNoPrediction
		}
		return nil, fmt.Errorf("fetch prediction: %w", err)
	}
	var p models.Prediction
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode prediction: %w", err)
	}
	return &p, nil
}

// MemoryPredictionCache is the in-process fallback when Redis is disabled.
type MemoryPredictionCache struct {
	mu    sync.RWMutex
	items map[string]*models.Prediction
}

var _ domrepo.PredictionCache = (*MemoryPredictionCache)(nil)

func NewMemoryPredictionCache() *MemoryPredictionCache {
	return &MemoryPredictionCache{items: make(map[string]*models.Prediction)}
}

func (c *MemoryPredictionCache) Put(_ context.Context, p *models.Prediction) error {
	cp := *p
	c.mu.Lock()
	c.items[p.Symbol] = &cp
	c.mu.Unlock()
	return nil
}

func (c *MemoryPredictionCache) Latest(_ context.Context, symbol string) (*models.Prediction, error) {
	c.mu.RLock()
	p, ok := c.items[symbol]
	c.mu.RUnlock()
	if !ok {
		return nil, models.ErrNoPrediction
	}
	cp := *p
	return &cp, nil
}
