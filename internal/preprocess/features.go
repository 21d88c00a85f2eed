package preprocess

import (
	"time"

	"gonum.org/v1/gonum/stat"

	"hvac_savings/internal/model"
)

// FeatureOptions select which derived columns EngineerFeatures adds.
type FeatureOptions struct {
	IncludeTime    bool
	IncludeLag     bool
	IncludeRolling bool
	// LagPeriods are in grid steps: 1 is the previous interval, 96 the same
	// time yesterday on a 15-minute grid.
	LagPeriods []int
	// RollingWindows are trailing window lengths in grid steps.
	RollingWindows []int
}

// DefaultFeatureOptions enables every feature with lags 1, 4, 96 and
// rolling windows 4, 96.
func DefaultFeatureOptions() FeatureOptions {
	return FeatureOptions{
		IncludeTime:    true,
		IncludeLag:     true,
		IncludeRolling: true,
		LagPeriods:     []int{1, 4, 96},
		RollingWindows: []int{4, 96},
	}
}

// EngineerFeatures returns a copy of frame with calendar, lag and rolling
// occupancy features added. The input frame is not modified. With every
// Include flag false the copy is returned unchanged.
//
// Lags and windows are measured in grid steps of each interval's Duration
// and looked up by time within the zone, so gaps in the grid leave the
// feature absent rather than shifting it onto the wrong interval. Rolling
// statistics cover the previous n steps, exclude the current interval, and
// need at least half the window observed.
func EngineerFeatures(frame model.Frame, opts FeatureOptions) model.Frame {
	out := frame.Clone()
	if !opts.IncludeTime && !opts.IncludeLag && !opts.IncludeRolling {
		return out
	}

	if opts.IncludeTime {
		for i := range out {
			addTimeFeatures(&out[i])
		}
	}

	if !opts.IncludeLag && !opts.IncludeRolling {
		return out
	}

	// zone -> unix nanos -> occupancy
	history := make(map[string]map[int64]float64)
	for _, iv := range out {
		if !iv.HasOccupancy {
			continue
		}
		h, ok := history[iv.ZoneID]
		if !ok {
			h = make(map[int64]float64)
			history[iv.ZoneID] = h
		}
		h[iv.Timestamp.UnixNano()] = iv.Occupancy
	}

	for i := range out {
		iv := &out[i]
		if iv.Duration <= 0 {
			continue
		}
		h := history[iv.ZoneID]

		if opts.IncludeLag {
			for _, n := range opts.LagPeriods {
				if n <= 0 {
					continue
				}
				if v, ok := h[iv.Timestamp.Add(-time.Duration(n)*iv.Duration).UnixNano()]; ok {
					if iv.Lags == nil {
						iv.Lags = make(map[int]float64)
					}
					iv.Lags[n] = v
				}
			}
		}

		if opts.IncludeRolling {
			for _, n := range opts.RollingWindows {
				if n <= 0 {
					continue
				}
				mean, std, ok := trailingStats(h, iv.Timestamp, iv.Duration, n)
				if !ok {
					continue
				}
				if iv.RollingMean == nil {
					iv.RollingMean = make(map[int]float64)
					iv.RollingStd = make(map[int]float64)
				}
				iv.RollingMean[n] = mean
				iv.RollingStd[n] = std
			}
		}
	}
	return out
}

func addTimeFeatures(iv *model.Interval) {
	t := iv.Timestamp
	iv.HasTimeFeatures = true
	iv.Hour = t.Hour()
	iv.MinuteOfDay = t.Hour()*60 + t.Minute()
	iv.DayOfWeek = (int(t.Weekday()) + 6) % 7
	iv.IsWeekend = t.Weekday() == time.Saturday || t.Weekday() == time.Sunday
	iv.Month = int(t.Month())
}

// trailingStats returns the mean and population std of the n steps before t.
// All n steps must be present.
func trailingStats(h map[int64]float64, t time.Time, step time.Duration, n int) (float64, float64, bool) {
	window := make([]float64, 0, n)
	for k := 1; k <= n; k++ {
		if v, ok := h[t.Add(-time.Duration(k)*step).UnixNano()]; ok {
			window = append(window, v)
		}
	}
	if len(window) < n {
		return 0, 0, false
	}
	mean, std := stat.PopMeanStdDev(window, nil)
	return mean, std, true
}
