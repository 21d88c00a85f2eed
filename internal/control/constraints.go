// Package control turns occupancy forecasts into HVAC setpoint schedules and
// estimates the energy and cost those schedules save.
package control

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidConstraints = errors.New("invalid comfort constraints")
	ErrMissingForecast    = errors.New("policy requires an occupancy forecast")
)

// ComfortConstraints bound how far a setback may drift and when it must
// recover. Temperatures are °F.
type ComfortConstraints struct {
	// MinTempF is the heating setback floor.
	MinTempF float64 `json:"min_temp_f"`
	// MaxTempF is the cooling setback ceiling.
	MaxTempF float64 `json:"max_temp_f"`
	// PreConditionMinutes restores the baseline setpoint this long before
	// predicted occupancy.
	PreConditionMinutes int `json:"pre_condition_minutes"`
	// OccupancyThreshold is the highest predicted count treated as empty.
	OccupancyThreshold float64 `json:"occupancy_threshold"`
	// SavingsPerDegree is the share of baseline energy saved per °F of setback.
	SavingsPerDegree float64 `json:"savings_per_degree"`
	// MaxSavingsFraction caps the share of baseline energy a setback can save.
	MaxSavingsFraction float64 `json:"max_savings_fraction"`
}

// DefaultComfortConstraints returns a 60-85 °F band, 30 minutes of
// pre-conditioning, and 3% savings per degree capped at 90%.
func DefaultComfortConstraints() ComfortConstraints {
	return ComfortConstraints{
		MinTempF:            60,
		MaxTempF:            85,
		PreConditionMinutes: 30,
		OccupancyThreshold:  0,
		SavingsPerDegree:    0.03,
		MaxSavingsFraction:  0.9,
	}
}

// Validate checks the constraints are internally consistent.
func (c ComfortConstraints) Validate() error {
	switch {
	case c.MinTempF >= c.MaxTempF:
		return fmt.Errorf("%w: min_temp_f %g must be below max_temp_f %g", ErrInvalidConstraints, c.MinTempF, c.MaxTempF)
	case c.PreConditionMinutes < 0:
		return fmt.Errorf("%w: pre_condition_minutes must be non-negative", ErrInvalidConstraints)
	case c.OccupancyThreshold < 0:
		return fmt.Errorf("%w: occupancy_threshold must be non-negative", ErrInvalidConstraints)
	case c.SavingsPerDegree < 0 || c.SavingsPerDegree > 1:
		return fmt.Errorf("%w: savings_per_degree %g outside [0,1]", ErrInvalidConstraints, c.SavingsPerDegree)
	case c.MaxSavingsFraction < 0 || c.MaxSavingsFraction > 1:
		return fmt.Errorf("%w: max_savings_fraction %g outside [0,1]", ErrInvalidConstraints, c.MaxSavingsFraction)
	}
	return nil
}

func resolveConstraints(c *ComfortConstraints) (ComfortConstraints, error) {
	if c == nil {
		return DefaultComfortConstraints(), nil
	}
	if err := c.Validate(); err != nil {
		return ComfortConstraints{}, err
	}
	return *c, nil
}
