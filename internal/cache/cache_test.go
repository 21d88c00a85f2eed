package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"hvac_savings/internal/forecast"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *ForecastCache) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, NewForecastCache(NewRedisKVStore(client), 10*time.Minute, zap.NewNop())
}

var (
	start = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	key   = ForecastKey{Model: "seasonal", ZoneID: "conf-a", Start: start, Horizon: 2}
)

func samplePoints() []forecast.Point {
	return []forecast.Point{
		{Timestamp: start, Value: 3.5, Lower: 1, Upper: 6},
		{Timestamp: start.Add(15 * time.Minute), Value: 4, Lower: 1.5, Upper: 6.5},
	}
}

func TestForecastKey_String(t *testing.T) {
	assert.Equal(t, "forecast:seasonal:conf-a:1709542800:2", key.String())
}

func TestForecastCache_PutGet(t *testing.T) {
	mr, c := setupTestRedis(t)
	ctx := context.Background()

	_, err := c.Get(ctx, key)
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, c.Put(ctx, key, samplePoints()))
	assert.True(t, mr.Exists(key.String()))
	assert.Equal(t, 10*time.Minute, mr.TTL(key.String()))

	got, err := c.Get(ctx, key)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[1].Timestamp.Equal(start.Add(15*time.Minute)))
	assert.InDelta(t, 4.0, got[1].Value, 1e-9)

	mr.FastForward(11 * time.Minute)
	_, err = c.Get(ctx, key)
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestForecastCache_CorruptEntry(t *testing.T) {
	mr, c := setupTestRedis(t)
	require.NoError(t, mr.Set(key.String(), "not json"))

	_, err := c.Get(context.Background(), key)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCacheMiss)
}

func TestForecastCache_GetOrCompute(t *testing.T) {
	_, c := setupTestRedis(t)
	ctx := context.Background()

	calls := 0
	compute := func() ([]forecast.Point, error) {
		calls++
		return samplePoints(), nil
	}

	first, err := c.GetOrCompute(ctx, key, compute)
	require.NoError(t, err)
	second, err := c.GetOrCompute(ctx, key, compute)
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Len(t, second, len(first))

	boom := errors.New("model exploded")
	other := key
	other.ZoneID = "lobby"
	_, err = c.GetOrCompute(ctx, other, func() ([]forecast.Point, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)
}

// failingKV errors on every call.
type failingKV struct{}

func (failingKV) Get(context.Context, string) (string, error) {
	return "", errors.New("connection refused")
}

func (failingKV) Set(context.Context, string, string, time.Duration) error {
	return errors.New("connection refused")
}

func TestForecastCache_GetOrComputeSurvivesBackendFailure(t *testing.T) {
	c := NewForecastCache(failingKV{}, time.Minute, zap.NewNop())
	points, err := c.GetOrCompute(context.Background(), key, func() ([]forecast.Point, error) {
		return samplePoints(), nil
	})
	require.NoError(t, err)
	assert.Len(t, points, 2)
}
