package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"hvac_savings/internal/control"
	"hvac_savings/internal/forecast"
	"hvac_savings/internal/model"
)

// ZoneModel is a loaded forecaster plus a tag derived from the artifact
// bytes, so cache keys change when a model is retrained.
type ZoneModel struct {
	Model forecast.Model
	Tag   string
}

// LoadModels reads every *.json artifact in dir, keyed by the zone stored in
// the artifact. A non-empty zone keeps only that zone.
func LoadModels(dir, zone string) (map[string]ZoneModel, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, err
	}
	out := make(map[string]ZoneModel, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		m, err := forecast.LoadModel(data)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", path, err)
		}
		if zone != "" && m.ZoneID() != zone {
			continue
		}
		sum := sha256.Sum256(data)
		out[m.ZoneID()] = ZoneModel{Model: m, Tag: m.Kind() + "-" + hex.EncodeToString(sum[:6])}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no model artifacts in %s", dir)
	}
	return out, nil
}

// ModelZones returns the zones of a model set, sorted.
func ModelZones(models map[string]ZoneModel) []string {
	zones := make([]string, 0, len(models))
	for z := range models {
		zones = append(zones, z)
	}
	sort.Strings(zones)
	return zones
}

// ForecastPoints converts one zone's forecast to optimizer input.
func ForecastPoints(zone string, points []forecast.Point) []control.ForecastPoint {
	out := make([]control.ForecastPoint, len(points))
	for i, p := range points {
		out[i] = control.ForecastPoint{Timestamp: p.Timestamp, ZoneID: zone, PredictedOccupancy: p.Value}
	}
	return out
}

// HorizonSteps converts a window length to model steps, at least one.
func HorizonSteps(window, step time.Duration) int {
	if step <= 0 {
		return 0
	}
	n := int(window / step)
	if n < 1 {
		n = 1
	}
	return n
}

// Hindcast predicts every zone over [from, to] so historical frames can be
// replayed under the predictive policy. Each zone's observed occupancy in
// frame is the history models roll forward from.
func Hindcast(models map[string]ZoneModel, frame model.Frame, from, to time.Time) ([]control.ForecastPoint, error) {
	var out []control.ForecastPoint
	for _, z := range ModelZones(models) {
		m := models[z].Model
		steps := HorizonSteps(to.Sub(from), m.Frequency()) + 1
		points, err := m.Hindcast(forecast.SeriesFromFrame(frame, z), from, steps)
		if err != nil {
			return nil, fmt.Errorf("hindcast for %s: %w", z, err)
		}
		out = append(out, ForecastPoints(z, points)...)
	}
	return out, nil
}
