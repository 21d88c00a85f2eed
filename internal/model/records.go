package model

import "time"

// HVACMode is the operating state reported by a zone's HVAC equipment.
type HVACMode string

const (
	HVACOff  HVACMode = "off"
	HVACOn   HVACMode = "on"
	HVACHeat HVACMode = "heat"
	HVACCool HVACMode = "cool"
	HVACFan  HVACMode = "fan"
)

// IsActive reports whether the equipment draws conditioning energy in this mode.
func (m HVACMode) IsActive() bool {
	return m != HVACOff && m != ""
}

// PeriodType classifies a time-of-use tariff window.
type PeriodType string

const (
	PeriodPeak    PeriodType = "peak"
	PeriodMidPeak PeriodType = "mid_peak"
	PeriodOffPeak PeriodType = "off_peak"
)

// DaySet restricts a tariff window to a subset of the week.
type DaySet string

const (
	DaysAll     DaySet = "all"
	DaysWeekday DaySet = "weekday"
	DaysWeekend DaySet = "weekend"
)

// Contains reports whether the weekday falls in the set. Holidays are
// passed in as weekend days by the caller.
func (d DaySet) Contains(weekend bool) bool {
	switch d {
	case DaysWeekday:
		return !weekend
	case DaysWeekend:
		return weekend
	default:
		return true
	}
}

// OccupancyRecord is a single people-count observation for a zone.
type OccupancyRecord struct {
	Timestamp time.Time
	ZoneID    string
	Count     float64
}

// HVACRecord is a single HVAC telemetry sample for a zone.
type HVACRecord struct {
	Timestamp time.Time
	ZoneID    string
	Setpoint  float64 // °F
	Mode      HVACMode
	EnergyKWh float64
}

// WeatherRecord is an outdoor conditions sample.
type WeatherRecord struct {
	Timestamp    time.Time
	TemperatureF float64
	Humidity     float64 // percent, NaN when not reported
}

// TOURate is one row of a time-of-use tariff. The window covers
// [StartMinute, EndMinute) minutes after midnight; EndMinute may be smaller
// than StartMinute for windows that wrap past midnight.
type TOURate struct {
	StartMinute int
	EndMinute   int
	RateKWh     float64
	Period      PeriodType
	Days        DaySet
	Months      []time.Month // empty means every month
}

// Space describes a zone's static metadata.
type Space struct {
	ZoneID     string
	Name       string
	IsExternal bool
	Floor      int
	AreaSqft   float64
}

// TimeRange represents a span of time.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t lies within [Start, End].
func (tr TimeRange) Contains(t time.Time) bool {
	return !t.Before(tr.Start) && !t.After(tr.End)
}
