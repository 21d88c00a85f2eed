package control

import (
	"errors"
	"fmt"
	"time"

	"hvac_savings/internal/model"
	"hvac_savings/internal/tariff"
)

// Policy names a control strategy that SimulateControlPolicy can replay.
type Policy string

const (
	// PolicyOccupancySetback reacts to measured occupancy.
	PolicyOccupancySetback Policy = "occupancy_setback"
	// PolicyPredictiveSetback follows a supplied occupancy forecast.
	PolicyPredictiveSetback Policy = "predictive_setback"
	// PolicyOptimalSchedule follows a fixed weekly occupancy schedule.
	PolicyOptimalSchedule Policy = "optimal_schedule"
)

// Policies lists every supported policy.
var Policies = []Policy{PolicyOccupancySetback, PolicyPredictiveSetback, PolicyOptimalSchedule}

var (
	ErrInvalidPolicy   = errors.New("invalid control policy")
	ErrInvalidSchedule = errors.New("invalid occupancy schedule slot")
)

// ParsePolicy validates a policy name.
func ParsePolicy(name string) (Policy, error) {
	for _, p := range Policies {
		if string(p) == name {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %q is not one of %v", ErrInvalidPolicy, name, Policies)
}

// PolicyParams carry the inputs a policy simulation may need.
type PolicyParams struct {
	// Constraints default to DefaultComfortConstraints when nil.
	Constraints *ComfortConstraints
	// Rates price savings; intervals fall back to their attached rate.
	Rates *tariff.Schedule
	// Forecast is required by PolicyPredictiveSetback.
	Forecast []ForecastPoint
	// Schedule drives PolicyOptimalSchedule; derived from the frame when nil.
	Schedule *OccupancySchedule
}

// SimulatedInterval pairs a recommendation with what actually happened.
type SimulatedInterval struct {
	Recommendation
	HasActual        bool    `json:"has_actual"`
	ActualOccupancy  float64 `json:"actual_occupancy"`
	ComfortViolation bool    `json:"comfort_violation"`
}

// SimulationSummary totals a policy replay against the baseline.
type SimulationSummary struct {
	SetpointSummary
	Policy             Policy  `json:"policy"`
	SimulatedEnergyKWh float64 `json:"simulated_energy_kwh"`
	// ComfortViolations count setback intervals where the zone was occupied.
	ComfortViolations     int     `json:"comfort_violations"`
	ComfortViolationHours float64 `json:"comfort_violation_hours"`
	// ComfortViolationRate is violations over setback intervals.
	ComfortViolationRate float64 `json:"comfort_violation_rate"`
}

// SimulateControlPolicy replays a frame's HVAC history under a control
// policy and reports savings alongside comfort violations against the
// measured occupancy.
func SimulateControlPolicy(frame model.Frame, policy string, params *PolicyParams) ([]SimulatedInterval, SimulationSummary, error) {
	p, err := ParsePolicy(policy)
	if err != nil {
		return nil, SimulationSummary{}, err
	}
	if params == nil {
		params = &PolicyParams{}
	}
	c, err := resolveConstraints(params.Constraints)
	if err != nil {
		return nil, SimulationSummary{}, err
	}

	var forecast []ForecastPoint
	switch p {
	case PolicyOccupancySetback:
		for _, iv := range frame {
			if iv.HasOccupancy {
				forecast = append(forecast, ForecastPoint{Timestamp: iv.Timestamp, ZoneID: iv.ZoneID, PredictedOccupancy: iv.Occupancy})
			}
		}
	case PolicyPredictiveSetback:
		if len(params.Forecast) == 0 {
			return nil, SimulationSummary{}, fmt.Errorf("%w: %s", ErrMissingForecast, p)
		}
		forecast = params.Forecast
	case PolicyOptimalSchedule:
		sched := params.Schedule
		if sched == nil {
			sched = BuildOccupancySchedule(frame, ScheduleOptions{OccupancyThreshold: c.OccupancyThreshold})
		}
		for _, iv := range frame {
			occ := 0.0
			if sched.Occupied(iv.ZoneID, iv.Timestamp) {
				occ = c.OccupancyThreshold + 1
			}
			forecast = append(forecast, ForecastPoint{Timestamp: iv.Timestamp, ZoneID: iv.ZoneID, PredictedOccupancy: occ})
		}
	}

	baseline := BaselineFromFrame(frame)
	recs, setpoints, err := ComputeSavingsAndSetpoints(forecast, baseline, params.Rates, &c)
	if err != nil {
		return nil, SimulationSummary{}, err
	}

	actual := make(map[zoneTime]float64, len(frame))
	for _, iv := range frame {
		if iv.HasOccupancy {
			actual[zoneTime{iv.ZoneID, iv.Timestamp.UnixNano()}] = iv.Occupancy
		}
	}

	summary := SimulationSummary{
		SetpointSummary:    setpoints,
		Policy:             p,
		SimulatedEnergyKWh: setpoints.TotalBaselineEnergyKWh - setpoints.TotalEnergySavingsKWh,
	}
	out := make([]SimulatedInterval, len(recs))
	for i, rec := range recs {
		si := SimulatedInterval{Recommendation: rec}
		si.ActualOccupancy, si.HasActual = actual[zoneTime{rec.ZoneID, rec.Timestamp.UnixNano()}]
		if rec.Action == ActionSetback && si.HasActual && si.ActualOccupancy > c.OccupancyThreshold {
			si.ComfortViolation = true
			summary.ComfortViolations++
			summary.ComfortViolationHours += rec.Duration.Hours()
		}
		out[i] = si
	}
	if summary.SetbackIntervals > 0 {
		summary.ComfortViolationRate = float64(summary.ComfortViolations) / float64(summary.SetbackIntervals)
	}
	return out, summary, nil
}

// ComparePolicies simulates every policy the params allow. Predictive
// setback is skipped without a forecast.
func ComparePolicies(frame model.Frame, params *PolicyParams) (map[Policy]SimulationSummary, error) {
	out := make(map[Policy]SimulationSummary, len(Policies))
	for _, p := range Policies {
		if p == PolicyPredictiveSetback && (params == nil || len(params.Forecast) == 0) {
			continue
		}
		_, summary, err := SimulateControlPolicy(frame, string(p), params)
		if err != nil {
			return nil, fmt.Errorf("simulating %s: %w", p, err)
		}
		out[p] = summary
	}
	return out, nil
}

// BaselineFromFrame extracts the HVAC baseline from a merged frame. Intervals
// without HVAC data are skipped.
func BaselineFromFrame(frame model.Frame) []BaselinePoint {
	out := make([]BaselinePoint, 0, len(frame))
	for _, iv := range frame {
		if !iv.HasHVAC {
			continue
		}
		out = append(out, BaselinePoint{
			Timestamp:         iv.Timestamp,
			ZoneID:            iv.ZoneID,
			BaselineSetpoint:  iv.Setpoint,
			BaselineEnergyKWh: iv.EnergyKWh,
			Mode:              iv.Mode,
			HasOutdoorTemp:    iv.HasWeather,
			OutdoorTempF:      iv.OutdoorTempF,
			HasRate:           iv.HasRate,
			RateKWh:           iv.RateKWh,
			Duration:          iv.Duration,
		})
	}
	return out
}

// ScheduleOptions configure BuildOccupancySchedule.
type ScheduleOptions struct {
	OccupancyThreshold float64
	// MinShare is the fraction of observed intervals in a weekday-hour slot
	// that must be occupied for the slot to count as occupied. Zero means 0.1.
	MinShare float64
}

// OccupancySchedule is a weekly occupied/unoccupied map per zone, indexed
// by weekday (Monday=0) and hour.
type OccupancySchedule struct {
	zones map[string]*[7][24]bool
}

// NewOccupancySchedule returns an empty schedule.
func NewOccupancySchedule() *OccupancySchedule {
	return &OccupancySchedule{zones: make(map[string]*[7][24]bool)}
}

// Set marks one weekday-hour slot for a zone. hour is 0..23.
func (s *OccupancySchedule) Set(zoneID string, day time.Weekday, hour int, occupied bool) error {
	if day < time.Sunday || day > time.Saturday {
		return fmt.Errorf("%w: weekday %d", ErrInvalidSchedule, day)
	}
	if hour < 0 || hour > 23 {
		return fmt.Errorf("%w: hour %d outside 0..23", ErrInvalidSchedule, hour)
	}
	week, ok := s.zones[zoneID]
	if !ok {
		week = new([7][24]bool)
		s.zones[zoneID] = week
	}
	week[mondayIndex(day)][hour] = occupied
	return nil
}

// Occupied reports whether the zone is scheduled occupied at t. Zones the
// schedule does not know are treated as occupied so they are never set back.
func (s *OccupancySchedule) Occupied(zoneID string, t time.Time) bool {
	if s == nil {
		return true
	}
	week, ok := s.zones[zoneID]
	if !ok {
		return true
	}
	return week[mondayIndex(t.Weekday())][t.Hour()]
}

// OccupiedHours returns how many weekly hours the zone is scheduled occupied.
func (s *OccupancySchedule) OccupiedHours(zoneID string) int {
	week, ok := s.zones[zoneID]
	if !ok {
		return 0
	}
	n := 0
	for d := range week {
		for h := range week[d] {
			if week[d][h] {
				n++
			}
		}
	}
	return n
}

// BuildOccupancySchedule derives a weekly schedule from measured occupancy.
func BuildOccupancySchedule(frame model.Frame, opts ScheduleOptions) *OccupancySchedule {
	minShare := opts.MinShare
	if minShare <= 0 {
		minShare = 0.1
	}
	type slot struct{ occupied, seen int }
	counts := make(map[string]*[7][24]slot)
	for _, iv := range frame {
		if !iv.HasOccupancy {
			continue
		}
		week, ok := counts[iv.ZoneID]
		if !ok {
			week = new([7][24]slot)
			counts[iv.ZoneID] = week
		}
		s := &week[mondayIndex(iv.Timestamp.Weekday())][iv.Timestamp.Hour()]
		s.seen++
		if iv.Occupancy > opts.OccupancyThreshold {
			s.occupied++
		}
	}

	sched := NewOccupancySchedule()
	for zone, week := range counts {
		out := new([7][24]bool)
		for d := range week {
			for h, s := range week[d] {
				out[d][h] = s.seen > 0 && float64(s.occupied)/float64(s.seen) >= minShare
			}
		}
		sched.zones[zone] = out
	}
	return sched
}

func mondayIndex(d time.Weekday) int {
	return (int(d) + 6) % 7
}
