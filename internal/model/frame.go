package model

import (
	"maps"
	"sort"
	"time"
)

// Interval is one row of the merged zone timeline: a single zone over a
// single grid step, carrying whatever context has been joined onto it.
type Interval struct {
	Timestamp time.Time
	ZoneID    string
	Duration  time.Duration

	// Occupancy side of the join.
	HasOccupancy bool
	Occupancy    float64

	// HVAC side of the join.
	HasHVAC   bool
	Setpoint  float64
	Mode      HVACMode
	HVACOn    bool
	EnergyKWh float64

	// Weather context.
	HasWeather         bool
	OutdoorTempF       float64
	Humidity           float64
	HeatingDegreeHours float64
	CoolingDegreeHours float64

	// Tariff context.
	HasRate bool
	RateKWh float64
	Period  PeriodType

	// Calendar features.
	HasTimeFeatures bool
	Hour            int
	MinuteOfDay     int
	DayOfWeek       int // Monday=0
	IsWeekend       bool
	Month           int

	// Keyed by lag/window length in rows. Absent keys mean not enough history.
	Lags        map[int]float64
	RollingMean map[int]float64
	RollingStd  map[int]float64

	// Savings opportunity.
	IsOpportunity      bool
	PotentialEnergyKWh float64
	PotentialCost      float64
}

// Hours returns the interval length in hours.
func (iv Interval) Hours() float64 {
	return iv.Duration.Hours()
}

// Clone returns a deep copy of the interval.
func (iv Interval) Clone() Interval {
	out := iv
	out.Lags = maps.Clone(iv.Lags)
	out.RollingMean = maps.Clone(iv.RollingMean)
	out.RollingStd = maps.Clone(iv.RollingStd)
	return out
}

// Frame is an ordered set of intervals, conventionally sorted by zone then time.
type Frame []Interval

// Clone returns a deep copy of the frame.
func (f Frame) Clone() Frame {
	if f == nil {
		return nil
	}
	out := make(Frame, len(f))
	for i, iv := range f {
		out[i] = iv.Clone()
	}
	return out
}

// Sort orders the frame by zone, then timestamp.
func (f Frame) Sort() {
	sort.SliceStable(f, func(i, j int) bool {
		if f[i].ZoneID != f[j].ZoneID {
			return f[i].ZoneID < f[j].ZoneID
		}
		return f[i].Timestamp.Before(f[j].Timestamp)
	})
}

// Zones returns the distinct zone IDs in sorted order.
func (f Frame) Zones() []string {
	seen := make(map[string]bool)
	var zones []string
	for _, iv := range f {
		if !seen[iv.ZoneID] {
			seen[iv.ZoneID] = true
			zones = append(zones, iv.ZoneID)
		}
	}
	sort.Strings(zones)
	return zones
}

// Zone returns the intervals for one zone, in frame order.
func (f Frame) Zone(zoneID string) Frame {
	var out Frame
	for _, iv := range f {
		if iv.ZoneID == zoneID {
			out = append(out, iv)
		}
	}
	return out
}

// TimeRange returns the earliest and latest timestamps in the frame.
func (f Frame) TimeRange() (TimeRange, bool) {
	if len(f) == 0 {
		return TimeRange{}, false
	}
	tr := TimeRange{Start: f[0].Timestamp, End: f[0].Timestamp}
	for _, iv := range f[1:] {
		if iv.Timestamp.Before(tr.Start) {
			tr.Start = iv.Timestamp
		}
		if iv.Timestamp.After(tr.End) {
			tr.End = iv.Timestamp
		}
	}
	return tr, true
}
