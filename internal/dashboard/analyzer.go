package dashboard

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"hvac_savings/internal/control"
	"hvac_savings/internal/model"
	"hvac_savings/internal/preprocess"
	"hvac_savings/internal/report"
	"hvac_savings/internal/tariff"
)

// ErrNoDataset is returned before the first dataset has been loaded.
var ErrNoDataset = errors.New("no dataset loaded")

// Dataset is what the analyzer serves: a merged frame plus its context.
type Dataset struct {
	Frame    model.Frame
	Spaces   []model.Space
	Schedule *tariff.Schedule
	// Forecast enables the predictive_setback policy when present.
	Forecast []control.ForecastPoint
}

// Analyzer holds the current dataset and answers dashboard queries against
// it. Readers never observe a half-replaced dataset.
type Analyzer struct {
	mu          sync.RWMutex
	data        Dataset
	loaded      bool
	threshold   float64
	constraints control.ComfortConstraints
	logger      *zap.Logger
}

func NewAnalyzer(constraints control.ComfortConstraints, logger *zap.Logger) *Analyzer {
	return &Analyzer{
		constraints: constraints,
		threshold:   constraints.OccupancyThreshold,
		logger:      logger,
	}
}

// SetDataset replaces the dataset, re-flagging opportunities at the current
// threshold.
func (a *Analyzer) SetDataset(ds Dataset) {
	a.mu.Lock()
	defer a.mu.Unlock()
	ds.Frame = preprocess.ComputeOpportunity(ds.Frame, preprocess.OpportunityOptions{OccupancyThreshold: a.threshold})
	a.data = ds
	a.loaded = true
	a.logger.Info("dataset replaced", zap.Int("intervals", len(ds.Frame)), zap.Int("zones", len(ds.Frame.Zones())))
}

// SetThreshold changes the occupancy threshold and re-flags opportunities.
func (a *Analyzer) SetThreshold(threshold float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.threshold = threshold
	if a.loaded {
		a.data.Frame = preprocess.ComputeOpportunity(a.data.Frame, preprocess.OpportunityOptions{OccupancyThreshold: threshold})
	}
}

func (a *Analyzer) Threshold() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.threshold
}

func (a *Analyzer) Loaded() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.loaded
}

// Zones lists the frame's zones, decorated with space metadata when known.
func (a *Analyzer) Zones() []ZoneInfo {
	a.mu.RLock()
	defer a.mu.RUnlock()

	spaces := make(map[string]model.Space, len(a.data.Spaces))
	for _, sp := range a.data.Spaces {
		spaces[sp.ZoneID] = sp
	}
	ids := a.data.Frame.Zones()
	zones := make([]ZoneInfo, 0, len(ids))
	for _, id := range ids {
		info := ZoneInfo{ID: id}
		if sp, ok := spaces[id]; ok {
			info.Name = sp.Name
			info.IsExternal = sp.IsExternal
			info.Floor = sp.Floor
			info.AreaSqft = sp.AreaSqft
		}
		zones = append(zones, info)
	}
	return zones
}

// DataLoaded describes the dataset for the data:loaded message.
func (a *Analyzer) DataLoaded() DataLoadedPayload {
	zones := a.Zones()
	a.mu.RLock()
	defer a.mu.RUnlock()
	tr, _ := a.data.Frame.TimeRange()
	return DataLoadedPayload{
		Zones:     zones,
		TimeRange: timeRangeInfo(tr),
		Intervals: len(a.data.Frame),
		HasRates:  a.data.Schedule != nil,
	}
}

// Potential estimates savings at the current threshold.
func (a *Analyzer) Potential() (control.SavingsPotential, error) {
	return a.PotentialAt(a.Threshold())
}

// PotentialAt estimates savings at threshold without changing the
// analyzer's own threshold.
func (a *Analyzer) PotentialAt(threshold float64) (control.SavingsPotential, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if !a.loaded {
		return control.SavingsPotential{}, ErrNoDataset
	}
	return control.EstimateSavingsPotential(a.data.Frame, control.PotentialOptions{OccupancyThreshold: threshold}), nil
}

// Daily returns per-day wasted conditioning.
func (a *Analyzer) Daily() ([]report.DailyPoint, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if !a.loaded {
		return nil, ErrNoDataset
	}
	return report.DailyOpportunity(a.data.Frame), nil
}

// Summary bundles potential and daily totals for savings:summary.
func (a *Analyzer) Summary() (SavingsSummaryPayload, error) {
	potential, err := a.Potential()
	if err != nil {
		return SavingsSummaryPayload{}, err
	}
	daily, err := a.Daily()
	if err != nil {
		return SavingsSummaryPayload{}, err
	}
	return SavingsSummaryPayload{
		OccupancyThreshold: a.Threshold(),
		Potential:          potential,
		Daily:              daily,
	}, nil
}

// Heatmap aggregates occupancy for one zone, or all zones when zone is "".
func (a *Analyzer) Heatmap(zone, agg string) (report.Heatmap, error) {
	fn, err := report.ParseAggFunc(agg)
	if err != nil {
		return report.Heatmap{}, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if !a.loaded {
		return report.Heatmap{}, ErrNoDataset
	}
	return report.OccupancyHeatmap(a.data.Frame, zone, fn)
}

// Simulate replays the dataset under a control policy.
func (a *Analyzer) Simulate(policy string) (control.SimulationSummary, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if !a.loaded {
		return control.SimulationSummary{}, ErrNoDataset
	}
	constraints := a.constraints
	constraints.OccupancyThreshold = a.threshold
	_, summary, err := control.SimulateControlPolicy(a.data.Frame, policy, &control.PolicyParams{
		Constraints: &constraints,
		Rates:       a.data.Schedule,
		Forecast:    a.data.Forecast,
	})
	return summary, err
}
