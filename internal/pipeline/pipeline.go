// Package pipeline assembles the analysis frame from a directory of CSVs.
package pipeline

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"hvac_savings/internal/ingest"
	"hvac_savings/internal/model"
	"hvac_savings/internal/preprocess"
	"hvac_savings/internal/store"
	"hvac_savings/internal/tariff"
)

var ErrMissingInput = errors.New("required input missing")

// Inputs names the files inside a dataset directory. Empty names are skipped.
type Inputs struct {
	Occupancy string
	HVAC      string
	Weather   string
	TOU       string
	Spaces    string
}

func DefaultInputs() Inputs {
	return Inputs{
		Occupancy: "occupancy.csv",
		HVAC:      "hvac.csv",
		Weather:   "weather.csv",
		TOU:       "tou.csv",
		Spaces:    "spaces.csv",
	}
}

// Dataset is everything loaded from one directory.
type Dataset struct {
	Dir       string
	Occupancy []model.OccupancyRecord
	HVAC      []model.HVACRecord
	Weather   []model.WeatherRecord
	TOU       []model.TOURate
	Spaces    []model.Space
}

// LoadDataset reads every input present in dir. Occupancy and HVAC are
// required; the rest are loaded when their file exists.
func LoadDataset(dir string, in Inputs, opts ingest.Options, logger *zap.Logger) (*Dataset, error) {
	ds := &Dataset{Dir: dir}
	var err error

	if ds.Occupancy, err = loadRequired(dir, in.Occupancy, opts, ingest.LoadOccupancy); err != nil {
		return nil, err
	}
	if ds.HVAC, err = loadRequired(dir, in.HVAC, opts, ingest.LoadHVAC); err != nil {
		return nil, err
	}
	if ds.Weather, err = loadOptional(dir, in.Weather, opts, ingest.LoadWeather); err != nil {
		return nil, err
	}
	if ds.TOU, err = loadOptional(dir, in.TOU, opts, ingest.LoadTOU); err != nil {
		return nil, err
	}
	if ds.Spaces, err = loadOptional(dir, in.Spaces, opts, ingest.LoadSpaces); err != nil {
		return nil, err
	}

	logger.Info("loaded dataset",
		zap.String("dir", dir),
		zap.Int("occupancy", len(ds.Occupancy)),
		zap.Int("hvac", len(ds.HVAC)),
		zap.Int("weather", len(ds.Weather)),
		zap.Int("tou", len(ds.TOU)),
		zap.Int("spaces", len(ds.Spaces)),
	)
	return ds, nil
}

type loader[T any] func(path string, opts ingest.Options) ([]T, error)

func loadRequired[T any](dir, name string, opts ingest.Options, load loader[T]) ([]T, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: no file name configured", ErrMissingInput)
	}
	path := filepath.Join(dir, name)
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrMissingInput, path)
	}
	return load(path, opts)
}

func loadOptional[T any](dir, name string, opts ingest.Options, load loader[T]) ([]T, error) {
	if name == "" {
		return nil, nil
	}
	path := filepath.Join(dir, name)
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return load(path, opts)
}

// Schedule builds the tariff from the dataset's TOU rows, or returns nil
// when there are none.
func (ds *Dataset) Schedule(holidays ...time.Time) (*tariff.Schedule, error) {
	if len(ds.TOU) == 0 {
		return nil, nil
	}
	return tariff.NewSchedule(ds.TOU, tariff.WithHolidays(holidays...))
}

// Store loads spaces and occupancy into a fresh store.
func (ds *Dataset) Store() *store.Store {
	st := store.New()
	st.AddSpaces(ds.Spaces)
	st.AddOccupancy(ds.Occupancy)
	return st
}

// BuildOptions configure BuildFrame.
type BuildOptions struct {
	Merge              preprocess.MergeOptions
	Weather            preprocess.WeatherOptions
	Features           preprocess.FeatureOptions
	OccupancyThreshold float64
	Holidays           []time.Time
}

func DefaultBuildOptions() BuildOptions {
	return BuildOptions{
		Merge:    preprocess.DefaultMergeOptions(),
		Weather:  preprocess.DefaultWeatherOptions(),
		Features: preprocess.DefaultFeatureOptions(),
	}
}

// BuildFrame merges occupancy with HVAC, then adds weather, tariff and
// engineered features, and finally flags savings opportunities.
func BuildFrame(ds *Dataset, opts BuildOptions) (model.Frame, error) {
	frame, err := preprocess.MergeOccupancyHVAC(ds.Occupancy, ds.HVAC, opts.Merge)
	if err != nil {
		return nil, fmt.Errorf("merging occupancy and HVAC: %w", err)
	}
	if len(ds.Weather) > 0 {
		frame = preprocess.AddWeatherFeatures(frame, ds.Weather, opts.Weather)
	}
	schedule, err := ds.Schedule(opts.Holidays...)
	if err != nil {
		return nil, fmt.Errorf("building tariff: %w", err)
	}
	if schedule != nil {
		frame = preprocess.AddTOUFeatures(frame, schedule)
	}
	frame = preprocess.EngineerFeatures(frame, opts.Features)
	frame = preprocess.ComputeOpportunity(frame, preprocess.OpportunityOptions{OccupancyThreshold: opts.OccupancyThreshold})
	return frame, nil
}
