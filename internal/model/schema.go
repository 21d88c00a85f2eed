package model

import (
	"errors"
	"fmt"
	"strings"
)

// ErrSchemaMismatch is returned when an input header lacks a required column.
var ErrSchemaMismatch = errors.New("schema mismatch")

// Schema names the columns a tabular input must (and may) carry.
type Schema struct {
	Name     string
	Required []string
	Optional []string
	// AnyOf lists alternative columns of which at least one must be present.
	AnyOf []string
}

var (
	OccupancySchema = Schema{
		Name:     "occupancy",
		Required: []string{"timestamp", "zone_id", "occupancy_count"},
	}
	HVACSchema = Schema{
		Name:     "hvac",
		Required: []string{"timestamp", "zone_id", "setpoint", "state"},
		AnyOf:    []string{"energy_kwh", "energy_btu"},
	}
	WeatherSchema = Schema{
		Name:     "weather",
		Required: []string{"timestamp", "temperature"},
		Optional: []string{"humidity"},
	}
	TOUSchema = Schema{
		Name:     "tou",
		Required: []string{"time_period", "rate_kwh", "period_type"},
		Optional: []string{"days", "months"},
	}
	SpaceSchema = Schema{
		Name:     "space",
		Required: []string{"zone_id", "room_name", "is_external", "floor", "area_sqft"},
	}
)

// Index maps every known column present in header to its position.
// Column names are matched case-insensitively after trimming; order is free.
func (s Schema) Index(header []string) (map[string]int, error) {
	pos := make(map[string]int, len(header))
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, dup := pos[name]; !dup {
			pos[name] = i
		}
	}

	idx := make(map[string]int, len(s.Required)+len(s.Optional))
	for _, col := range s.Required {
		i, ok := pos[col]
		if !ok {
			return nil, fmt.Errorf("%w: %s input missing column %q", ErrSchemaMismatch, s.Name, col)
		}
		idx[col] = i
	}
	for _, col := range s.Optional {
		if i, ok := pos[col]; ok {
			idx[col] = i
		}
	}
	if len(s.AnyOf) > 0 {
		found := false
		for _, col := range s.AnyOf {
			if i, ok := pos[col]; ok {
				idx[col] = i
				found = true
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: %s input needs one of %s", ErrSchemaMismatch, s.Name, strings.Join(s.AnyOf, ", "))
		}
	}
	return idx, nil
}
