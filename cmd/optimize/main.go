// optimize forecasts occupancy for a planning window with trained models and
// recommends setback setpoints against the HVAC baseline.
//
// Usage:
//
//	optimize -models-dir models
//	optimize -start 2024-03-11 -hours 48 -simulate
//	optimize -cache -publish -persist
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"hvac_savings/internal/cache"
	"hvac_savings/internal/config"
	"hvac_savings/internal/control"
	"hvac_savings/internal/dispatch"
	"hvac_savings/internal/forecast"
	"hvac_savings/internal/ingest"
	"hvac_savings/internal/logger"
	"hvac_savings/internal/model"
	"hvac_savings/internal/pipeline"
	"hvac_savings/internal/report"
	"hvac_savings/internal/repository"
	"hvac_savings/internal/tariff"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Loading config: %v", err)
	}

	inputDir := flag.String("input-dir", cfg.Data.InputDir, "directory containing the CSV inputs")
	modelsDir := flag.String("models-dir", "models", "directory of trained model artifacts")
	zone := flag.String("zone", "", "optimize a single zone (default: every zone with a model)")
	startFlag := flag.String("start", "", "window start, RFC 3339 or YYYY-MM-DD (default: midnight after the data ends)")
	hours := flag.Duration("hours", 24*time.Hour, "planning window length")
	freq := flag.String("freq", cfg.Data.Freq, "resampling frequency for the baseline frame")
	tz := flag.String("tz", "UTC", "timezone for timestamps without an offset")
	threshold := flag.Float64("threshold", cfg.Comfort.OccupancyThreshold, "highest predicted occupancy treated as empty")
	minTemp := flag.Float64("min-temp", cfg.Comfort.MinTempF, "heating setback floor (°F)")
	maxTemp := flag.Float64("max-temp", cfg.Comfort.MaxTempF, "cooling setback ceiling (°F)")
	precondition := flag.Int("precondition", cfg.Comfort.PreConditionMinutes, "pre-conditioning lead in minutes")
	simulate := flag.Bool("simulate", false, "also replay the history under every control policy")
	useCache := flag.Bool("cache", false, "cache forecasts in Redis")
	publish := flag.Bool("publish", false, "publish setpoint changes to Kafka")
	persist := flag.Bool("persist", false, "store the run in PostgreSQL")
	xlsxPath := flag.String("xlsx", "", "write charts to this .xlsx workbook")
	flag.Parse()

	lg, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "optimize")
	if err != nil {
		log.Fatalf("Creating logger: %v", err)
	}
	defer lg.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loc, err := time.LoadLocation(*tz)
	if err != nil {
		lg.Fatal("invalid timezone", zap.String("tz", *tz), zap.Error(err))
	}

	constraints := cfg.Comfort
	constraints.OccupancyThreshold = *threshold
	constraints.MinTempF = *minTemp
	constraints.MaxTempF = *maxTemp
	constraints.PreConditionMinutes = *precondition
	if err := constraints.Validate(); err != nil {
		lg.Fatal("invalid comfort constraints", zap.Error(err))
	}

	models, err := pipeline.LoadModels(*modelsDir, *zone)
	if err != nil {
		lg.Fatal("failed to load models", zap.Error(err))
	}

	ds, err := pipeline.LoadDataset(*inputDir, pipeline.DefaultInputs(), ingest.Options{ParseDates: true, Location: loc}, lg)
	if err != nil {
		lg.Fatal("failed to load dataset", zap.Error(err))
	}
	opts := pipeline.DefaultBuildOptions()
	opts.Merge.Freq = *freq
	opts.OccupancyThreshold = *threshold
	frame, err := pipeline.BuildFrame(ds, opts)
	if err != nil {
		lg.Fatal("failed to build frame", zap.Error(err))
	}
	tr, ok := frame.TimeRange()
	if !ok {
		lg.Fatal("no intervals after merging occupancy and HVAC data")
	}
	schedule, err := ds.Schedule()
	if err != nil {
		lg.Fatal("invalid tariff", zap.Error(err))
	}

	start := defaultStart(tr.End)
	if *startFlag != "" {
		if start, err = parseStart(*startFlag, loc); err != nil {
			lg.Fatal("invalid start", zap.Error(err))
		}
	}

	var fc *cache.ForecastCache
	if *useCache {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			lg.Warn("redis unavailable, forecasting without cache", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		} else {
			fc = cache.NewForecastCache(cache.NewRedisKVStore(client), cfg.Redis.TTL, lg)
		}
	}

	var predicted []control.ForecastPoint
	for _, z := range pipeline.ModelZones(models) {
		zm := models[z]
		horizon := pipeline.HorizonSteps(*hours, zm.Model.Frequency())
		points, err := forecastZone(ctx, zm, forecast.SeriesFromFrame(frame, z), start, horizon, fc)
		if err != nil {
			lg.Error("forecast failed", zap.String("zone", z), zap.Error(err))
			continue
		}
		predicted = append(predicted, pipeline.ForecastPoints(z, points)...)
	}
	if len(predicted) == 0 {
		lg.Fatal("no zone could be forecast")
	}

	baseline := planBaseline(frame, predicted)
	if len(baseline) == 0 {
		lg.Fatal("no baseline HVAC data for the window or the week before",
			zap.Time("start", start), zap.Duration("window", *hours))
	}
	recs, summary, err := control.ComputeSavingsAndSetpoints(predicted, baseline, schedule, &constraints)
	if err != nil {
		lg.Fatal("optimization failed", zap.Error(err))
	}

	fmt.Println()
	fmt.Println("Setpoint Optimization")
	fmt.Printf("  Window: %s to %s (%d zones, %d intervals)\n",
		start.Format("2006-01-02 15:04"), start.Add(*hours).Format("2006-01-02 15:04"), len(summary.ByZone), len(recs))
	fmt.Printf("  Comfort: %.0f–%.0f°F, pre-condition %d min, empty at ≤ %.1f\n",
		constraints.MinTempF, constraints.MaxTempF, constraints.PreConditionMinutes, constraints.OccupancyThreshold)
	fmt.Println()
	printSummary(summary)
	fmt.Println()
	printZones(summary)
	fmt.Println()

	var policies map[control.Policy]control.SimulationSummary
	if *simulate {
		policies, err = comparePolicies(frame, models, tr.Start, tr.End, schedule, &constraints)
		if err != nil {
			lg.Fatal("policy simulation failed", zap.Error(err))
		}
		printPolicies(policies)
		fmt.Println()
	}

	if *xlsxPath != "" {
		if err := writeWorkbook(*xlsxPath, frame, constraints.OccupancyThreshold, policies); err != nil {
			lg.Fatal("failed to write workbook", zap.String("path", *xlsxPath), zap.Error(err))
		}
		lg.Info("wrote workbook", zap.String("path", *xlsxPath))
	}

	if *publish {
		pub, err := dispatch.NewSetpointPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, lg)
		if err != nil {
			lg.Fatal("failed to create publisher", zap.Error(err))
		}
		n, err := pub.Publish(ctx, recs)
		if cerr := pub.Close(); cerr != nil {
			lg.Warn("failed to close publisher", zap.Error(cerr))
		}
		if err != nil {
			lg.Fatal("failed to publish setpoints", zap.Error(err))
		}
		fmt.Printf("Published %d setpoint commands to %s\n", n, cfg.Kafka.Topic)
	}

	if *persist {
		db, err := repository.NewPostgresDB(cfg.Database)
		if err != nil {
			lg.Fatal("failed to connect to database", zap.Error(err))
		}
		defer db.Close()
		repo := repository.NewSavingsRepository(db, lg)
		if err := repo.EnsureSchema(ctx); err != nil {
			lg.Fatal("failed to prepare schema", zap.Error(err))
		}
		id, err := repo.SaveRun(ctx, repository.Run{
			Kind:              repository.RunOptimization,
			StartTime:         start,
			EndTime:           start.Add(*hours),
			ZoneCount:         len(summary.ByZone),
			BaselineEnergyKWh: summary.TotalBaselineEnergyKWh,
			SavingsEnergyKWh:  summary.TotalEnergySavingsKWh,
			SavingsCost:       summary.TotalCostSavings,
			PercentSavings:    summary.PercentEnergySavings,
			Constraints:       constraints,
			Recommendations:   recs,
		})
		if err != nil {
			lg.Fatal("failed to persist run", zap.Error(err))
		}
		fmt.Printf("Saved run %s\n", id)
	}
}

// comparePolicies replays the history under every policy, using the models'
// hindcast over the history for predictive setback.
func comparePolicies(frame model.Frame, models map[string]pipeline.ZoneModel, from, to time.Time, rates *tariff.Schedule, c *control.ComfortConstraints) (map[control.Policy]control.SimulationSummary, error) {
	hindcast, err := pipeline.Hindcast(models, frame, from, to)
	if err != nil {
		return nil, err
	}
	return control.ComparePolicies(frame, &control.PolicyParams{Constraints: c, Rates: rates, Forecast: hindcast})
}

func writeWorkbook(path string, frame model.Frame, threshold float64, policies map[control.Policy]control.SimulationSummary) error {
	wb, err := report.NewWorkbook()
	if err != nil {
		return err
	}
	defer wb.Close()

	potential := control.EstimateSavingsPotential(frame, control.PotentialOptions{OccupancyThreshold: threshold})
	if err := wb.PlotDailyOpportunity(report.DailyOpportunity(frame), report.FigureOptions{}); err != nil {
		return err
	}
	if err := wb.PlotSavingsSummary(potential, report.FigureOptions{}); err != nil {
		return err
	}
	if len(policies) > 0 {
		if err := wb.PlotPolicyComparison(policies, report.FigureOptions{}); err != nil {
			return err
		}
	}
	return wb.SaveAs(path)
}

func printSummary(s control.SetpointSummary) {
	fmt.Println("=== Recommended Savings ===")
	fmt.Printf("  Baseline energy:   %10.1f kWh\n", s.TotalBaselineEnergyKWh)
	fmt.Printf("  Energy saved:      %10.1f kWh (%.1f%%)\n", s.TotalEnergySavingsKWh, s.PercentEnergySavings)
	fmt.Printf("  Cost saved:        %10.2f\n", s.TotalCostSavings)
	fmt.Printf("  Setback:           %10.1f h over %d intervals\n", s.SetbackHours, s.SetbackIntervals)
	fmt.Printf("  Pre-conditioning:  %10d intervals\n", s.PreConditionIntervals)
}

func printZones(s control.SetpointSummary) {
	fmt.Println("  By Zone:")
	fmt.Printf("   %-16s │ %9s │ %9s │ %9s\n", "Zone", "Setback h", "kWh", "Cost")
	fmt.Printf("  ──────────────────┼───────────┼───────────┼──────────\n")
	zones := make([]string, 0, len(s.ByZone))
	for z := range s.ByZone {
		zones = append(zones, z)
	}
	sort.Strings(zones)
	for _, z := range zones {
		zs := s.ByZone[z]
		fmt.Printf("   %-16s │ %9.1f │ %9.1f │ %9.2f\n", z, zs.SetbackHours, zs.EnergySavingsKWh, zs.CostSavings)
	}
}

func printPolicies(results map[control.Policy]control.SimulationSummary) {
	fmt.Println("=== Policy Replay ===")
	fmt.Printf("   %-20s │ %9s │ %6s │ %10s │ %6s\n", "Policy", "Saved kWh", "%", "Violations", "Rate")
	fmt.Printf("  ──────────────────────┼───────────┼────────┼────────────┼───────\n")
	for _, p := range control.Policies {
		s, ok := results[p]
		if !ok {
			continue
		}
		fmt.Printf("   %-20s │ %9.1f │ %5.1f%% │ %10d │ %5.1f%%\n",
			p, s.TotalEnergySavingsKWh, s.PercentEnergySavings, s.ComfortViolations, s.ComfortViolationRate*100)
	}
}
