// Package cache stores computed occupancy forecasts in Redis so repeated
// optimizer runs over the same horizon skip model inference.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"hvac_savings/internal/forecast"
)

var ErrCacheMiss = errors.New("cache miss")

// KVStore is the key-value surface the cache needs; tests swap Redis out.
type KVStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
}

// RedisKVStore is a KVStore backed by go-redis.
type RedisKVStore struct {
	client *redis.Client
}

func NewRedisKVStore(client *redis.Client) *RedisKVStore {
	return &RedisKVStore{client: client}
}

func (r *RedisKVStore) Get(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return "", ErrCacheMiss
		}
		return "", err
	}
	return val, nil
}

func (r *RedisKVStore) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

// ForecastKey identifies one forecast run.
type ForecastKey struct {
	Model   string
	ZoneID  string
	Start   time.Time
	Horizon int
}

func (k ForecastKey) String() string {
	return fmt.Sprintf("forecast:%s:%s:%d:%d", k.Model, k.ZoneID, k.Start.Unix(), k.Horizon)
}

// ForecastCache JSON-encodes forecasts under their key with a fixed TTL.
type ForecastCache struct {
	kv     KVStore
	ttl    time.Duration
	logger *zap.Logger
}

func NewForecastCache(kv KVStore, ttl time.Duration, logger *zap.Logger) *ForecastCache {
	return &ForecastCache{kv: kv, ttl: ttl, logger: logger}
}

// Get returns the cached forecast or ErrCacheMiss.
func (c *ForecastCache) Get(ctx context.Context, key ForecastKey) ([]forecast.Point, error) {
	raw, err := c.kv.Get(ctx, key.String())
	if err != nil {
		return nil, err
	}
	var points []forecast.Point
	if err := json.Unmarshal([]byte(raw), &points); err != nil {
		return nil, fmt.Errorf("decoding cached forecast %s: %w", key, err)
	}
	return points, nil
}

// Put stores a forecast.
func (c *ForecastCache) Put(ctx context.Context, key ForecastKey, points []forecast.Point) error {
	data, err := json.Marshal(points)
	if err != nil {
		return fmt.Errorf("encoding forecast %s: %w", key, err)
	}
	return c.kv.Set(ctx, key.String(), string(data), c.ttl)
}

// GetOrCompute returns the cached forecast, computing and storing it on a
// miss. Cache failures are logged and fall through to compute.
func (c *ForecastCache) GetOrCompute(ctx context.Context, key ForecastKey, compute func() ([]forecast.Point, error)) ([]forecast.Point, error) {
	points, err := c.Get(ctx, key)
	if err == nil {
		c.logger.Debug("forecast cache hit", zap.String("key", key.String()))
		return points, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		c.logger.Warn("forecast cache read failed", zap.String("key", key.String()), zap.Error(err))
	}

	points, err = compute()
	if err != nil {
		return nil, err
	}
	if err := c.Put(ctx, key, points); err != nil {
		c.logger.Warn("forecast cache write failed", zap.String("key", key.String()), zap.Error(err))
	}
	return points, nil
}
