package main

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"hvac_savings/internal/cache"
	"hvac_savings/internal/control"
	"hvac_savings/internal/forecast"
	"hvac_savings/internal/model"
	"hvac_savings/internal/pipeline"
)

var monday = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

func fittedSeasonal(t *testing.T, zone string) forecast.Model {
	t.Helper()
	cfg := forecast.DefaultSeasonalConfig()
	cfg.Frequency = time.Hour
	m, err := forecast.NewSeasonalModel(zone, cfg)
	require.NoError(t, err)

	var s forecast.Series
	for h := 0; h < 7*24; h++ {
		ts := monday.Add(time.Duration(h) * time.Hour)
		v := 0.0
		if ts.Hour() >= 9 && ts.Hour() < 17 {
			v = 4
		}
		s = append(s, forecast.Observation{Timestamp: ts, Value: v})
	}
	require.NoError(t, m.Fit(s))
	return m
}

func TestForecastZone_Cache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	fc := cache.NewForecastCache(cache.NewRedisKVStore(client), time.Hour, zap.NewNop())

	zm := pipeline.ZoneModel{Model: fittedSeasonal(t, "A"), Tag: "seasonal-test"}
	start := monday.AddDate(0, 0, 7)

	direct, err := forecastZone(context.Background(), zm, nil, start, 24, nil)
	require.NoError(t, err)
	require.Len(t, direct, 24)

	cached, err := forecastZone(context.Background(), zm, nil, start, 24, fc)
	require.NoError(t, err)
	assert.Len(t, cached, 24)

	key := cache.ForecastKey{Model: "seasonal-test", ZoneID: "A", Start: start, Horizon: 24}
	assert.True(t, mr.Exists(key.String()))

	again, err := forecastZone(context.Background(), zm, nil, start, 24, fc)
	require.NoError(t, err)
	assert.InDelta(t, direct[10].Value, again[10].Value, 1e-9)
}

func TestPlanBaseline(t *testing.T) {
	lastWeek := monday.Add(9 * time.Hour)
	window := lastWeek.AddDate(0, 0, 7)
	frame := model.Frame{
		{Timestamp: lastWeek, ZoneID: "A", Duration: time.Hour, HasHVAC: true, Setpoint: 70, EnergyKWh: 2, Mode: model.HVACHeat},
		{Timestamp: window.Add(time.Hour), ZoneID: "A", Duration: time.Hour, HasHVAC: true, Setpoint: 68, EnergyKWh: 1},
		{Timestamp: window, ZoneID: "B", Duration: time.Hour, HasOccupancy: true, Occupancy: 3},
	}
	fc := []control.ForecastPoint{
		{Timestamp: window, ZoneID: "A"},
		{Timestamp: window.Add(time.Hour), ZoneID: "A"},
		{Timestamp: window.Add(2 * time.Hour), ZoneID: "A"},
		{Timestamp: window, ZoneID: "B"},
	}

	baseline := planBaseline(frame, fc)
	require.Len(t, baseline, 2)

	assert.Equal(t, window, baseline[0].Timestamp)
	assert.Equal(t, 70.0, baseline[0].BaselineSetpoint)
	assert.Equal(t, model.HVACHeat, baseline[0].Mode)

	assert.Equal(t, window.Add(time.Hour), baseline[1].Timestamp)
	assert.Equal(t, 68.0, baseline[1].BaselineSetpoint)
}

func TestStart(t *testing.T) {
	assert.Equal(t, monday.AddDate(0, 0, 1), defaultStart(monday.Add(23*time.Hour+45*time.Minute)))

	ts, err := parseStart("2024-03-11", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, monday.AddDate(0, 0, 7), ts)

	ts, err = parseStart("2024-03-11T06:00:00Z", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, 6, ts.Hour())

	_, err = parseStart("next tuesday", time.UTC)
	assert.Error(t, err)
}
