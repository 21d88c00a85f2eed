// Package tariff resolves time-of-use electricity rates for a timestamp.
package tariff

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"hvac_savings/internal/model"
)

// ErrInvalidRate is returned when a tariff row cannot be used.
var ErrInvalidRate = errors.New("invalid tariff rate")

// Schedule is an ordered list of TOU windows. The first matching window wins.
type Schedule struct {
	rates       []model.TOURate
	holidays    map[string]bool
	hasDefault  bool
	defaultRate float64
	defaultType model.PeriodType
}

// Option configures a Schedule.
type Option func(*Schedule)

// WithHolidays marks dates that are priced like weekend days.
func WithHolidays(dates ...time.Time) Option {
	return func(s *Schedule) {
		for _, d := range dates {
			s.holidays[d.Format(time.DateOnly)] = true
		}
	}
}

// WithDefaultRate applies when no window matches.
func WithDefaultRate(rate float64, period model.PeriodType) Option {
	return func(s *Schedule) {
		s.hasDefault = true
		s.defaultRate = rate
		s.defaultType = period
	}
}

// NewSchedule validates rates and builds a schedule.
func NewSchedule(rates []model.TOURate, opts ...Option) (*Schedule, error) {
	for i, r := range rates {
		if r.RateKWh < 0 {
			return nil, fmt.Errorf("%w: row %d has negative rate %g", ErrInvalidRate, i, r.RateKWh)
		}
		if r.StartMinute < 0 || r.StartMinute >= 24*60 || r.EndMinute <= 0 || r.EndMinute > 24*60 || r.StartMinute == r.EndMinute {
			return nil, fmt.Errorf("%w: row %d has window %d-%d", ErrInvalidRate, i, r.StartMinute, r.EndMinute)
		}
	}
	s := &Schedule{
		rates:    slices.Clone(rates),
		holidays: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Rates returns the configured windows in match order.
func (s *Schedule) Rates() []model.TOURate {
	return slices.Clone(s.rates)
}

// IsHoliday reports whether t falls on a configured holiday.
func (s *Schedule) IsHoliday(t time.Time) bool {
	return s.holidays[t.Format(time.DateOnly)]
}

// RateAt returns the rate and period in effect at t.
func (s *Schedule) RateAt(t time.Time) (float64, model.PeriodType, bool) {
	if s == nil {
		return 0, "", false
	}
	weekend := t.Weekday() == time.Saturday || t.Weekday() == time.Sunday || s.IsHoliday(t)
	minute := t.Hour()*60 + t.Minute()

	for _, r := range s.rates {
		if !r.Days.Contains(weekend) {
			continue
		}
		if len(r.Months) > 0 && !slices.Contains(r.Months, t.Month()) {
			continue
		}
		if inWindow(minute, r.StartMinute, r.EndMinute) {
			return r.RateKWh, r.Period, true
		}
	}
	if s.hasDefault {
		return s.defaultRate, s.defaultType, true
	}
	return 0, "", false
}

func inWindow(minute, start, end int) bool {
	if start < end {
		return minute >= start && minute < end
	}
	// wraps past midnight
	return minute >= start || minute < end
}

// HourlyProfile returns the rate for each hour of a representative weekday
// in the given month, with ok=false for uncovered hours.
func (s *Schedule) HourlyProfile(month time.Month) ([24]float64, [24]bool) {
	var rates [24]float64
	var ok [24]bool
	day := time.Date(2024, month, 1, 0, 0, 0, 0, time.UTC)
	for day.Weekday() == time.Saturday || day.Weekday() == time.Sunday || s.IsHoliday(day) {
		day = day.AddDate(0, 0, 1)
	}
	for h := 0; h < 24; h++ {
		rates[h], _, ok[h] = s.RateAt(day.Add(time.Duration(h) * time.Hour))
	}
	return rates, ok
}
