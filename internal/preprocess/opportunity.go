package preprocess

import "hvac_savings/internal/model"

// OpportunityOptions configure ComputeOpportunity.
type OpportunityOptions struct {
	// OccupancyThreshold is the highest count still treated as unoccupied.
	OccupancyThreshold float64
}

// ComputeOpportunity flags intervals where the zone was unoccupied while the
// HVAC ran. Flagged intervals carry their full HVAC energy as potential
// savings, monetized at the attached rate when one is present. Intervals
// missing either occupancy or HVAC data are never flagged.
func ComputeOpportunity(frame model.Frame, opts OpportunityOptions) model.Frame {
	out := frame.Clone()
	for i := range out {
		iv := &out[i]
		iv.IsOpportunity = iv.HasOccupancy && iv.HasHVAC && iv.HVACOn && iv.Occupancy <= opts.OccupancyThreshold
		iv.PotentialEnergyKWh = 0
		iv.PotentialCost = 0
		if !iv.IsOpportunity {
			continue
		}
		iv.PotentialEnergyKWh = iv.EnergyKWh
		if iv.HasRate {
			iv.PotentialCost = iv.EnergyKWh * iv.RateKWh
		}
	}
	return out
}
