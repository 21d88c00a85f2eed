package control

import (
	"hvac_savings/internal/model"
	"hvac_savings/internal/preprocess"
)

// PotentialOptions configure EstimateSavingsPotential.
type PotentialOptions struct {
	OccupancyThreshold float64
}

// Breakdown is one bucket of wasted conditioning.
type Breakdown struct {
	Hours     float64 `json:"hours"`
	EnergyKWh float64 `json:"energy_kwh"`
	Cost      float64 `json:"cost"`
}

func (b *Breakdown) add(hours, energy, cost float64) {
	b.Hours += hours
	b.EnergyKWh += energy
	b.Cost += cost
}

// SavingsPotential summarizes how much HVAC energy went to unoccupied zones.
type SavingsPotential struct {
	TotalHours     float64 `json:"total_hours"`
	TotalEnergyKWh float64 `json:"total_energy_kwh"`
	TotalCost      float64 `json:"total_cost"`
	// HasCost is false when no interval carried a tariff rate.
	HasCost bool `json:"has_cost"`
	// TotalHVACEnergyKWh is all HVAC energy in the frame, wasted or not.
	TotalHVACEnergyKWh float64 `json:"total_hvac_energy_kwh"`
	PercentOfTotal     float64 `json:"percent_of_total"`
	Intervals          int     `json:"intervals"`

	ByHour [24]Breakdown `json:"by_hour"`
	// ByDayOfWeek is indexed Monday=0.
	ByDayOfWeek [7]Breakdown `json:"by_day_of_week"`
	// ByMonth is keyed "2006-01".
	ByMonth map[string]Breakdown `json:"by_month"`
	ByZone  map[string]Breakdown `json:"by_zone"`
}

// EstimateSavingsPotential looks back over a merged frame and totals the
// energy and cost spent conditioning zones that were empty.
func EstimateSavingsPotential(frame model.Frame, opts PotentialOptions) SavingsPotential {
	flagged := preprocess.ComputeOpportunity(frame, preprocess.OpportunityOptions{
		OccupancyThreshold: opts.OccupancyThreshold,
	})

	p := SavingsPotential{
		ByMonth: make(map[string]Breakdown),
		ByZone:  make(map[string]Breakdown),
	}
	for _, iv := range flagged {
		if iv.HasHVAC {
			p.TotalHVACEnergyKWh += iv.EnergyKWh
		}
		if !iv.IsOpportunity {
			continue
		}
		hours := intervalHours(iv)
		if iv.HasRate {
			p.HasCost = true
		}
		p.Intervals++
		p.TotalHours += hours
		p.TotalEnergyKWh += iv.PotentialEnergyKWh
		p.TotalCost += iv.PotentialCost

		local := iv.Timestamp
		p.ByHour[local.Hour()].add(hours, iv.PotentialEnergyKWh, iv.PotentialCost)
		p.ByDayOfWeek[mondayIndex(local.Weekday())].add(hours, iv.PotentialEnergyKWh, iv.PotentialCost)

		month := p.ByMonth[local.Format("2006-01")]
		month.add(hours, iv.PotentialEnergyKWh, iv.PotentialCost)
		p.ByMonth[local.Format("2006-01")] = month

		zone := p.ByZone[iv.ZoneID]
		zone.add(hours, iv.PotentialEnergyKWh, iv.PotentialCost)
		p.ByZone[iv.ZoneID] = zone
	}
	if p.TotalHVACEnergyKWh > 0 {
		p.PercentOfTotal = p.TotalEnergyKWh / p.TotalHVACEnergyKWh * 100
	}
	return p
}

func intervalHours(iv model.Interval) float64 {
	if iv.Duration <= 0 {
		return defaultStep.Hours()
	}
	return iv.Hours()
}
