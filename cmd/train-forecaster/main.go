// train-forecaster fits an occupancy forecaster per zone from occupancy.csv,
// prints held-out accuracy and writes one JSON artifact per zone.
//
// Usage:
//
//	train-forecaster
//	train-forecaster -model sequence -epochs 50
//	train-forecaster -zone conf-a -test-fraction 0.1 -models-dir models
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"hvac_savings/internal/config"
	"hvac_savings/internal/forecast"
	"hvac_savings/internal/ingest"
	"hvac_savings/internal/logger"
	"hvac_savings/internal/model"
	"hvac_savings/internal/preprocess"
)

// trainOptions selects and configures the model kind.
type trainOptions struct {
	Kind         string
	Frequency    time.Duration
	TestFraction float64
	Metrics      []forecast.Metric
	Seasonal     forecast.SeasonalConfig
	Sequence     forecast.SequenceConfig
}

// trainResult is one zone's fitted model and its held-out scores.
type trainResult struct {
	Zone   string
	Model  forecast.Model
	Train  int
	Test   int
	Scores map[forecast.Metric]float64
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Loading config: %v", err)
	}

	inputDir := flag.String("input-dir", cfg.Data.InputDir, "directory containing occupancy.csv")
	file := flag.String("file", "occupancy.csv", "occupancy file name inside input-dir")
	kind := flag.String("model", "seasonal", "model kind: seasonal or sequence")
	zone := flag.String("zone", "", "train a single zone (default: all zones)")
	freq := flag.String("freq", cfg.Data.Freq, "training grid frequency")
	testFraction := flag.Float64("test-fraction", 0.2, "trailing share of each series held out for evaluation")
	metricList := flag.String("metrics", "mae,rmse,mape,zero_accuracy", "comma-separated evaluation metrics")
	modelsDir := flag.String("models-dir", "models", "output directory for model artifacts")
	tz := flag.String("tz", "UTC", "timezone for timestamps without an offset")

	daily := flag.Int("daily-order", 4, "seasonal: daily Fourier order")
	weekly := flag.Int("weekly-order", 3, "seasonal: weekly Fourier order")
	noTrend := flag.Bool("no-trend", false, "seasonal: drop the linear trend term")

	seqLen := flag.Int("seq-length", 96, "sequence: lookback window in steps")
	predLen := flag.Int("pred-length", 96, "sequence: default horizon in steps")
	epochs := flag.Int("epochs", 100, "sequence: maximum training epochs")
	lr := flag.Float64("lr", 1e-3, "sequence: learning rate")
	seed := flag.Uint64("seed", 42, "sequence: random seed")
	flag.Parse()

	lg, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "train-forecaster")
	if err != nil {
		log.Fatalf("Creating logger: %v", err)
	}
	defer lg.Sync()

	step, err := preprocess.ParseFrequency(*freq)
	if err != nil {
		lg.Fatal("invalid frequency", zap.Error(err))
	}
	metrics, err := forecast.ParseMetrics(strings.Split(*metricList, ","))
	if err != nil {
		lg.Fatal("invalid metrics", zap.Error(err))
	}
	loc, err := time.LoadLocation(*tz)
	if err != nil {
		lg.Fatal("invalid timezone", zap.String("tz", *tz), zap.Error(err))
	}

	opts := trainOptions{
		Kind:         *kind,
		Frequency:    step,
		TestFraction: *testFraction,
		Metrics:      metrics,
		Seasonal:     forecast.DefaultSeasonalConfig(),
		Sequence:     forecast.DefaultSequenceConfig(),
	}
	opts.Seasonal.Frequency = step
	opts.Seasonal.DailyOrder = *daily
	opts.Seasonal.WeeklyOrder = *weekly
	opts.Seasonal.Trend = !*noTrend
	opts.Sequence.Frequency = step
	opts.Sequence.SeqLength = *seqLen
	opts.Sequence.PredLength = *predLen
	opts.Sequence.Epochs = *epochs
	opts.Sequence.LearningRate = *lr
	opts.Sequence.Seed = *seed

	path := filepath.Join(*inputDir, *file)
	records, err := ingest.LoadOccupancy(path, ingest.Options{ParseDates: true, Location: loc})
	if err != nil {
		lg.Fatal("failed to load occupancy", zap.String("path", path), zap.Error(err))
	}
	frame, err := occupancyGrid(records, *freq)
	if err != nil {
		lg.Fatal("failed to resample occupancy", zap.Error(err))
	}

	zones := frame.Zones()
	if *zone != "" {
		zones = []string{*zone}
	}
	if err := os.MkdirAll(*modelsDir, 0o755); err != nil {
		lg.Fatal("failed to create models dir", zap.Error(err))
	}

	fmt.Println()
	fmt.Printf("Training %s forecasters on %d records (%s grid)\n", opts.Kind, len(records), step)
	fmt.Println()
	fmt.Printf("  %-16s │ %6s │ %6s", "Zone", "Train", "Test")
	for _, m := range metrics {
		fmt.Printf(" │ %13s", m)
	}
	fmt.Println()
	fmt.Print("  ─────────────────┼────────┼───────")
	for range metrics {
		fmt.Print("─┼──────────────")
	}
	fmt.Println()

	failed := 0
	for _, z := range zones {
		res, err := trainZone(z, forecast.SeriesFromFrame(frame, z).FillGaps(step), opts)
		if err != nil {
			lg.Error("training failed", zap.String("zone", z), zap.Error(err))
			failed++
			continue
		}
		fmt.Printf("  %-16s │ %6d │ %6d", z, res.Train, res.Test)
		for _, m := range metrics {
			fmt.Printf(" │ %13.3f", res.Scores[m])
		}
		fmt.Println()

		data, err := res.Model.Save()
		if err != nil {
			lg.Error("failed to encode model", zap.String("zone", z), zap.Error(err))
			failed++
			continue
		}
		out := filepath.Join(*modelsDir, artifactName(z))
		if err := os.WriteFile(out, data, 0o644); err != nil {
			lg.Error("failed to write model", zap.String("path", out), zap.Error(err))
			failed++
			continue
		}
		lg.Debug("wrote model", zap.String("zone", z), zap.String("path", out))
	}
	fmt.Println()
	fmt.Printf("Saved %d of %d models to %s\n", len(zones)-failed, len(zones), *modelsDir)
	if failed > 0 {
		os.Exit(1)
	}
}

// occupancyGrid resamples raw occupancy onto the training grid. HVAC is not
// needed, so a left join keeps every occupied bucket.
func occupancyGrid(records []model.OccupancyRecord, freq string) (model.Frame, error) {
	return preprocess.MergeOccupancyHVAC(records, nil, preprocess.MergeOptions{Freq: freq, Join: preprocess.JoinLeft})
}

// trainZone splits a series, fits the requested model on the head and
// scores it on the tail.
func trainZone(zone string, series forecast.Series, opts trainOptions) (trainResult, error) {
	var m forecast.Model
	var err error
	switch opts.Kind {
	case "seasonal":
		m, err = forecast.NewSeasonalModel(zone, opts.Seasonal)
	case "sequence":
		m, err = forecast.NewSequenceModel(zone, opts.Sequence)
	default:
		return trainResult{}, fmt.Errorf("unknown model kind %q: must be seasonal or sequence", opts.Kind)
	}
	if err != nil {
		return trainResult{}, err
	}

	train, test := series.Split(opts.TestFraction)
	if err := m.Fit(train); err != nil {
		return trainResult{}, err
	}
	res := trainResult{Zone: zone, Model: m, Train: len(train), Test: len(test)}
	if len(test) > 0 {
		res.Scores, err = m.Evaluate(test, opts.Metrics)
		if err != nil {
			return trainResult{}, err
		}
	}
	return res, nil
}

// artifactName maps a zone ID to a safe file name.
func artifactName(zone string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, zone)
	return safe + ".json"
}
