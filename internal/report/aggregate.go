// Package report aggregates merged frames into chart-ready tables and renders
// them as Excel workbooks with native charts.
package report

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"gonum.org/v1/gonum/stat"

	"hvac_savings/internal/model"
)

var (
	ErrInvalidAggFunc = errors.New("invalid aggregation function")
	ErrNoData         = errors.New("no data to plot")
)

// AggFunc reduces the samples in one heatmap cell.
type AggFunc string

const (
	AggMean   AggFunc = "mean"
	AggMedian AggFunc = "median"
	AggMax    AggFunc = "max"
)

// ParseAggFunc validates an aggregation name. Empty means mean.
func ParseAggFunc(s string) (AggFunc, error) {
	switch AggFunc(strings.ToLower(strings.TrimSpace(s))) {
	case "", AggMean:
		return AggMean, nil
	case AggMedian:
		return AggMedian, nil
	case AggMax:
		return AggMax, nil
	}
	return "", fmt.Errorf("%w: %q (want mean, median or max)", ErrInvalidAggFunc, s)
}

// DailyPoint is the wasted conditioning on one calendar day.
type DailyPoint struct {
	Date      time.Time `json:"date"`
	Intervals int       `json:"intervals"`
	Hours     float64   `json:"hours"`
	EnergyKWh float64   `json:"energy_kwh"`
	Cost      float64   `json:"cost"`
}

// DailyOpportunity totals flagged opportunity intervals per calendar day
// across all zones. The frame must already carry opportunity flags.
func DailyOpportunity(frame model.Frame) []DailyPoint {
	byDay := make(map[time.Time]*DailyPoint)
	for _, iv := range frame {
		if !iv.IsOpportunity {
			continue
		}
		day := startOfDay(iv.Timestamp)
		p, ok := byDay[day]
		if !ok {
			p = &DailyPoint{Date: day}
			byDay[day] = p
		}
		p.Intervals++
		p.Hours += iv.Hours()
		p.EnergyKWh += iv.PotentialEnergyKWh
		p.Cost += iv.PotentialCost
	}

	out := make([]DailyPoint, 0, len(byDay))
	for _, p := range byDay {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// TimelinePoint is one interval of a zone's day.
type TimelinePoint struct {
	Timestamp     time.Time `json:"timestamp"`
	HasOccupancy  bool      `json:"has_occupancy"`
	Occupancy     float64   `json:"occupancy"`
	HasHVAC       bool      `json:"has_hvac"`
	HVACOn        bool      `json:"hvac_on"`
	Setpoint      float64   `json:"setpoint"`
	EnergyKWh     float64   `json:"energy_kwh"`
	IsOpportunity bool      `json:"is_opportunity"`
}

// DayTimeline returns one zone's intervals on the calendar day containing
// date, in time order.
func DayTimeline(frame model.Frame, date time.Time, zoneID string) []TimelinePoint {
	day := startOfDay(date)
	var out []TimelinePoint
	for _, iv := range frame {
		if iv.ZoneID != zoneID || !startOfDay(iv.Timestamp).Equal(day) {
			continue
		}
		out = append(out, TimelinePoint{
			Timestamp:     iv.Timestamp,
			HasOccupancy:  iv.HasOccupancy,
			Occupancy:     iv.Occupancy,
			HasHVAC:       iv.HasHVAC,
			HVACOn:        iv.HVACOn,
			Setpoint:      iv.Setpoint,
			EnergyKWh:     iv.EnergyKWh,
			IsOpportunity: iv.IsOpportunity,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// Heatmap is occupancy by weekday (Monday=0) and hour. Cells without samples
// hold NaN.
type Heatmap struct {
	ZoneID string         `json:"zone_id"`
	Agg    AggFunc        `json:"agg"`
	Values [7][24]float64 `json:"-"`
	Counts [7][24]int     `json:"counts"`
}

// Max returns the largest populated cell, or 0 when the heatmap is empty.
func (h Heatmap) Max() float64 {
	best := 0.0
	for d := range h.Values {
		for _, v := range h.Values[d] {
			if !math.IsNaN(v) && v > best {
				best = v
			}
		}
	}
	return best
}

// OccupancyHeatmap aggregates measured occupancy into weekday × hour cells.
// An empty zone ID pools every zone.
func OccupancyHeatmap(frame model.Frame, zoneID string, agg AggFunc) (Heatmap, error) {
	agg, err := ParseAggFunc(string(agg))
	if err != nil {
		return Heatmap{}, err
	}

	var samples [7][24][]float64
	n := 0
	for _, iv := range frame {
		if !iv.HasOccupancy || (zoneID != "" && iv.ZoneID != zoneID) {
			continue
		}
		d := (int(iv.Timestamp.Weekday()) + 6) % 7
		h := iv.Timestamp.Hour()
		samples[d][h] = append(samples[d][h], iv.Occupancy)
		n++
	}
	if n == 0 {
		return Heatmap{}, fmt.Errorf("%w: no occupancy for zone %q", ErrNoData, zoneID)
	}

	hm := Heatmap{ZoneID: zoneID, Agg: agg}
	for d := range samples {
		for h, xs := range samples[d] {
			hm.Counts[d][h] = len(xs)
			hm.Values[d][h] = reduce(xs, agg)
		}
	}
	return hm, nil
}

func reduce(xs []float64, agg AggFunc) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	switch agg {
	case AggMax:
		m := xs[0]
		for _, x := range xs[1:] {
			m = math.Max(m, x)
		}
		return m
	case AggMedian:
		s := append([]float64(nil), xs...)
		sort.Float64s(s)
		mid := len(s) / 2
		if len(s)%2 == 1 {
			return s[mid]
		}
		return (s[mid-1] + s[mid]) / 2
	default:
		return stat.Mean(xs, nil)
	}
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
