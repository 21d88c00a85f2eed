package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"hvac_savings/internal/cache"
	"hvac_savings/internal/control"
	"hvac_savings/internal/forecast"
	"hvac_savings/internal/model"
	"hvac_savings/internal/pipeline"
)

// referenceLag is how far back the baseline looks when the planning window
// has no measured HVAC data.
const referenceLag = 7 * 24 * time.Hour

// forecastZone predicts one zone's window, going through the cache when one
// is configured.
func forecastZone(ctx context.Context, zm pipeline.ZoneModel, recent forecast.Series, start time.Time, horizon int, fc *cache.ForecastCache) ([]forecast.Point, error) {
	compute := func() ([]forecast.Point, error) {
		return zm.Model.PredictWindow(recent, start, horizon)
	}
	if fc == nil {
		return compute()
	}
	key := cache.ForecastKey{Model: zm.Tag, ZoneID: zm.Model.ZoneID(), Start: start, Horizon: horizon}
	return fc.GetOrCompute(ctx, key, compute)
}

// planBaseline returns the baseline for each forecast interval: the measured
// HVAC interval when the frame has one, otherwise the same slot one week
// earlier moved forward. Intervals with neither are left out and so get no
// recommendation.
func planBaseline(frame model.Frame, fc []control.ForecastPoint) []control.BaselinePoint {
	type key struct {
		zone string
		ts   int64
	}
	measured := make(map[key]control.BaselinePoint)
	for _, b := range control.BaselineFromFrame(frame) {
		measured[key{b.ZoneID, b.Timestamp.UnixNano()}] = b
	}

	out := make([]control.BaselinePoint, 0, len(fc))
	for _, f := range fc {
		if b, ok := measured[key{f.ZoneID, f.Timestamp.UnixNano()}]; ok {
			out = append(out, b)
			continue
		}
		if b, ok := measured[key{f.ZoneID, f.Timestamp.Add(-referenceLag).UnixNano()}]; ok {
			b.Timestamp = f.Timestamp
			out = append(out, b)
		}
	}
	return out
}

// defaultStart is the first midnight after the data ends.
func defaultStart(end time.Time) time.Time {
	y, m, d := end.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, end.Location())
}

// parseStart accepts RFC 3339 or a bare date.
func parseStart(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation(time.DateOnly, s, loc); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid start %q: want RFC 3339 or YYYY-MM-DD", s)
}
