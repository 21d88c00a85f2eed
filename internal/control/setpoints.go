package control

import (
	"math"
	"sort"
	"time"

	"hvac_savings/internal/model"
	"hvac_savings/internal/tariff"
)

const defaultStep = 15 * time.Minute

// ForecastPoint is a predicted occupancy for one zone interval.
type ForecastPoint struct {
	Timestamp          time.Time
	ZoneID             string
	PredictedOccupancy float64
}

// BaselinePoint is what the zone's HVAC did (or would do) without control.
// Mode, outdoor temperature, rate and duration are optional context.
type BaselinePoint struct {
	Timestamp         time.Time
	ZoneID            string
	BaselineSetpoint  float64
	BaselineEnergyKWh float64
	Mode              model.HVACMode
	HasOutdoorTemp    bool
	OutdoorTempF      float64
	HasRate           bool
	RateKWh           float64
	Duration          time.Duration
}

// Action describes what the optimizer chose for an interval.
type Action string

const (
	ActionMaintain     Action = "maintain"
	ActionSetback      Action = "setback"
	ActionPreCondition Action = "pre_condition"
	ActionNoForecast   Action = "no_forecast"
)

// Recommendation is the optimizer's output for one zone interval.
type Recommendation struct {
	Timestamp           time.Time      `json:"timestamp"`
	ZoneID              string         `json:"zone_id"`
	Duration            time.Duration  `json:"duration"`
	PredictedOccupancy  float64        `json:"predicted_occupancy"`
	Action              Action         `json:"action"`
	Mode                model.HVACMode `json:"mode"`
	BaselineSetpoint    float64        `json:"baseline_setpoint"`
	RecommendedSetpoint float64        `json:"recommended_setpoint"`
	SetbackDegrees      float64        `json:"setback_degrees"`
	BaselineEnergyKWh   float64        `json:"baseline_energy_kwh"`
	EnergySavingsKWh    float64        `json:"energy_savings_kwh"`
	RateKWh             float64        `json:"rate_kwh"`
	CostSavings         float64        `json:"cost_savings"`
}

// ZoneSavings aggregates savings for one zone.
type ZoneSavings struct {
	EnergySavingsKWh float64 `json:"energy_savings_kwh"`
	CostSavings      float64 `json:"cost_savings"`
	SetbackHours     float64 `json:"setback_hours"`
}

// SetpointSummary totals a set of recommendations.
type SetpointSummary struct {
	TotalEnergySavingsKWh  float64                `json:"total_energy_savings_kwh"`
	TotalCostSavings       float64                `json:"total_cost_savings"`
	TotalBaselineEnergyKWh float64                `json:"total_baseline_energy_kwh"`
	PercentEnergySavings   float64                `json:"percent_energy_savings"`
	SetbackIntervals       int                    `json:"setback_intervals"`
	SetbackHours           float64                `json:"setback_hours"`
	PreConditionIntervals  int                    `json:"pre_condition_intervals"`
	ByZone                 map[string]ZoneSavings `json:"by_zone"`
}

type zoneTime struct {
	zone string
	ts   int64
}

// ComputeSavingsAndSetpoints recommends a setpoint for every baseline
// interval and estimates the energy and cost saved relative to the baseline.
//
// An interval is set back when its forecast is at or below the occupancy
// threshold and no occupied forecast falls within the pre-conditioning lead
// after it. Heating intervals drop to MinTempF and cooling intervals rise to
// MaxTempF; a baseline already beyond the bound is left alone. Savings are
// the baseline energy scaled by SavingsPerDegree per degree of setback, up to
// MaxSavingsFraction. Cost uses the schedule's rate at the interval, falling
// back to the baseline's own rate. A nil constraints pointer uses defaults.
func ComputeSavingsAndSetpoints(forecast []ForecastPoint, baseline []BaselinePoint, rates *tariff.Schedule, constraints *ComfortConstraints) ([]Recommendation, SetpointSummary, error) {
	c, err := resolveConstraints(constraints)
	if err != nil {
		return nil, SetpointSummary{}, err
	}

	predicted := make(map[zoneTime]float64, len(forecast))
	occupiedAt := make(map[string][]time.Time)
	for _, f := range forecast {
		predicted[zoneTime{f.ZoneID, f.Timestamp.UnixNano()}] = f.PredictedOccupancy
		if f.PredictedOccupancy > c.OccupancyThreshold {
			occupiedAt[f.ZoneID] = append(occupiedAt[f.ZoneID], f.Timestamp)
		}
	}
	for zone := range occupiedAt {
		ts := occupiedAt[zone]
		sort.Slice(ts, func(i, j int) bool { return ts[i].Before(ts[j]) })
	}

	rows := append([]BaselinePoint(nil), baseline...)
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].ZoneID != rows[j].ZoneID {
			return rows[i].ZoneID < rows[j].ZoneID
		}
		return rows[i].Timestamp.Before(rows[j].Timestamp)
	})
	steps := inferSteps(rows)
	lead := time.Duration(c.PreConditionMinutes) * time.Minute

	summary := SetpointSummary{ByZone: make(map[string]ZoneSavings)}
	recs := make([]Recommendation, 0, len(rows))
	for _, b := range rows {
		dur := b.Duration
		if dur <= 0 {
			dur = steps[b.ZoneID]
		}
		rec := Recommendation{
			Timestamp:           b.Timestamp,
			ZoneID:              b.ZoneID,
			Duration:            dur,
			Mode:                inferMode(b),
			BaselineSetpoint:    b.BaselineSetpoint,
			RecommendedSetpoint: b.BaselineSetpoint,
			BaselineEnergyKWh:   b.BaselineEnergyKWh,
			Action:              ActionMaintain,
		}
		if rate, _, ok := rates.RateAt(b.Timestamp); ok {
			rec.RateKWh = rate
		} else if b.HasRate {
			rec.RateKWh = b.RateKWh
		}

		occ, ok := predicted[zoneTime{b.ZoneID, b.Timestamp.UnixNano()}]
		rec.PredictedOccupancy = occ
		switch {
		case !ok:
			rec.Action = ActionNoForecast
		case occ > c.OccupancyThreshold:
			rec.Action = ActionMaintain
		case occupiedWithin(occupiedAt[b.ZoneID], b.Timestamp, lead):
			rec.Action = ActionPreCondition
		default:
			applySetback(&rec, c)
		}

		summary.TotalBaselineEnergyKWh += rec.BaselineEnergyKWh
		summary.TotalEnergySavingsKWh += rec.EnergySavingsKWh
		summary.TotalCostSavings += rec.CostSavings
		zs := summary.ByZone[rec.ZoneID]
		zs.EnergySavingsKWh += rec.EnergySavingsKWh
		zs.CostSavings += rec.CostSavings
		switch rec.Action {
		case ActionSetback:
			summary.SetbackIntervals++
			summary.SetbackHours += dur.Hours()
			zs.SetbackHours += dur.Hours()
		case ActionPreCondition:
			summary.PreConditionIntervals++
		}
		summary.ByZone[rec.ZoneID] = zs
		recs = append(recs, rec)
	}
	if summary.TotalBaselineEnergyKWh > 0 {
		summary.PercentEnergySavings = summary.TotalEnergySavingsKWh / summary.TotalBaselineEnergyKWh * 100
	}
	return recs, summary, nil
}

func applySetback(rec *Recommendation, c ComfortConstraints) {
	rec.Action = ActionSetback
	if rec.Mode == model.HVACHeat {
		if rec.BaselineSetpoint > c.MinTempF {
			rec.RecommendedSetpoint = c.MinTempF
		}
	} else if rec.BaselineSetpoint < c.MaxTempF {
		rec.RecommendedSetpoint = c.MaxTempF
	}
	rec.SetbackDegrees = math.Abs(rec.RecommendedSetpoint - rec.BaselineSetpoint)
	fraction := math.Min(c.MaxSavingsFraction, rec.SetbackDegrees*c.SavingsPerDegree)
	rec.EnergySavingsKWh = rec.BaselineEnergyKWh * fraction
	rec.CostSavings = rec.EnergySavingsKWh * rec.RateKWh
}

// inferMode resolves heating or cooling: an explicit mode wins, then the
// outdoor temperature against the setpoint, then the calendar (October
// through April heats).
func inferMode(b BaselinePoint) model.HVACMode {
	switch b.Mode {
	case model.HVACHeat, model.HVACCool:
		return b.Mode
	}
	if b.HasOutdoorTemp {
		if b.OutdoorTempF < b.BaselineSetpoint {
			return model.HVACHeat
		}
		return model.HVACCool
	}
	if m := b.Timestamp.Month(); m >= time.October || m <= time.April {
		return model.HVACHeat
	}
	return model.HVACCool
}

// occupiedWithin reports whether any occupied time lies in (t, t+lead].
func occupiedWithin(occupied []time.Time, t time.Time, lead time.Duration) bool {
	if lead <= 0 {
		return false
	}
	i := sort.Search(len(occupied), func(i int) bool { return occupied[i].After(t) })
	return i < len(occupied) && !occupied[i].After(t.Add(lead))
}

// inferSteps returns each zone's smallest positive timestamp spacing,
// defaulting to 15 minutes. rows must be sorted by zone then time.
func inferSteps(rows []BaselinePoint) map[string]time.Duration {
	steps := make(map[string]time.Duration)
	for i, b := range rows {
		if _, ok := steps[b.ZoneID]; !ok {
			steps[b.ZoneID] = 0
		}
		if i == 0 || rows[i-1].ZoneID != b.ZoneID {
			continue
		}
		d := b.Timestamp.Sub(rows[i-1].Timestamp)
		if d > 0 && (steps[b.ZoneID] == 0 || d < steps[b.ZoneID]) {
			steps[b.ZoneID] = d
		}
	}
	for zone, d := range steps {
		if d == 0 {
			steps[zone] = defaultStep
		}
	}
	return steps
}
