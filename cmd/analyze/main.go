package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"time"

	"go.uber.org/zap"

	"hvac_savings/internal/config"
	"hvac_savings/internal/control"
	"hvac_savings/internal/ingest"
	"hvac_savings/internal/logger"
	"hvac_savings/internal/model"
	"hvac_savings/internal/pipeline"
	"hvac_savings/internal/preprocess"
	"hvac_savings/internal/report"
	"hvac_savings/internal/repository"
)

var weekdays = [7]string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Loading config: %v", err)
	}

	inputDir := flag.String("input-dir", cfg.Data.InputDir, "directory containing occupancy.csv, hvac.csv and optional weather.csv, tou.csv, spaces.csv")
	freq := flag.String("freq", cfg.Data.Freq, "resampling frequency (e.g. 15min, 1H)")
	join := flag.String("join", cfg.Data.Join, "occupancy/HVAC join: inner, left, right, outer")
	threshold := flag.Float64("threshold", cfg.Data.OccupancyThreshold, "highest occupancy count treated as empty")
	tz := flag.String("tz", "UTC", "timezone for timestamps without an offset")
	strict := flag.Bool("strict", false, "fail on the first unparseable CSV row")
	zone := flag.String("zone", "", "zone for the heatmap and example day (default: all zones)")
	xlsxPath := flag.String("xlsx", "", "write charts to this .xlsx workbook")
	persist := flag.Bool("persist", false, "store the run in PostgreSQL")
	flag.Parse()

	lg, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "analyze")
	if err != nil {
		log.Fatalf("Creating logger: %v", err)
	}
	defer lg.Sync()

	loc, err := time.LoadLocation(*tz)
	if err != nil {
		lg.Fatal("invalid timezone", zap.String("tz", *tz), zap.Error(err))
	}

	ds, err := pipeline.LoadDataset(*inputDir, pipeline.DefaultInputs(), ingest.Options{ParseDates: true, Location: loc, Strict: *strict}, lg)
	if err != nil {
		lg.Fatal("failed to load dataset", zap.Error(err))
	}

	opts := pipeline.DefaultBuildOptions()
	opts.Merge.Freq = *freq
	opts.Merge.Join = preprocess.JoinType(*join)
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

	potential := control.EstimateSavingsPotential(frame, control.PotentialOptions{OccupancyThreshold: *threshold})

	constraints := cfg.Comfort
	constraints.OccupancyThreshold = *threshold
	policies, err := control.ComparePolicies(frame, &control.PolicyParams{Constraints: &constraints, Rates: schedule})
	if err != nil {
		lg.Fatal("failed to simulate policies", zap.Error(err))
	}

	days := tr.End.Sub(tr.Start).Hours() / 24
	fmt.Println()
	fmt.Println("HVAC Savings Analysis")
	fmt.Printf("  Data: %s to %s (%.0f days, %d zones, %d intervals)\n",
		tr.Start.Format("2006-01-02"), tr.End.Format("2006-01-02"), days, len(frame.Zones()), len(frame))
	fmt.Println()

	printPotential(os.Stdout, potential)
	fmt.Println()
	printHourlyTable(os.Stdout, potential)
	fmt.Println()
	printWeekdayTable(os.Stdout, potential)
	fmt.Println()
	printZoneTable(os.Stdout, potential)
	fmt.Println()
	printMonthTable(os.Stdout, potential)
	fmt.Println()
	printPolicyTable(os.Stdout, policies)
	fmt.Println()

	if *xlsxPath != "" {
		if err := writeWorkbook(*xlsxPath, frame, *zone, potential, policies); err != nil {
			lg.Fatal("failed to write workbook", zap.String("path", *xlsxPath), zap.Error(err))
		}
		lg.Info("wrote workbook", zap.String("path", *xlsxPath))
	}

	if *persist {
		id, err := persistRun(context.Background(), cfg, lg, frame, tr, potential, constraints)
		if err != nil {
			lg.Fatal("failed to persist run", zap.Error(err))
		}
		fmt.Printf("Saved run %s\n", id)
	}
}

func writeWorkbook(path string, frame model.Frame, zone string, p control.SavingsPotential, policies map[control.Policy]control.SimulationSummary) error {
	wb, err := report.NewWorkbook()
	if err != nil {
		return err
	}
	defer wb.Close()

	daily := report.DailyOpportunity(frame)
	if err := wb.PlotDailyOpportunity(daily, report.FigureOptions{}); err != nil {
		return err
	}
	if day, ok := busiestDay(daily); ok {
		exampleZone := zone
		if exampleZone == "" {
			exampleZone = topZone(p)
		}
		timeline := report.DayTimeline(frame, day, exampleZone)
		if err := wb.PlotExampleDayTimeline(timeline, report.FigureOptions{
			Title: fmt.Sprintf("%s on %s", exampleZone, day.Format("Mon 2006-01-02")),
		}); err != nil {
			return err
		}
	}
	hm, err := report.OccupancyHeatmap(frame, zone, report.AggMean)
	if err != nil {
		return err
	}
	if err := wb.PlotOccupancyHeatmap(hm, report.FigureOptions{}); err != nil {
		return err
	}
	if err := wb.PlotSavingsSummary(p, report.FigureOptions{}); err != nil {
		return err
	}
	if len(policies) > 0 {
		if err := wb.PlotPolicyComparison(policies, report.FigureOptions{}); err != nil {
			return err
		}
	}
	return wb.SaveAs(path)
}

func persistRun(ctx context.Context, cfg *config.Config, lg *zap.Logger, frame model.Frame, tr model.TimeRange, p control.SavingsPotential, c control.ComfortConstraints) (string, error) {
	db, err := repository.NewPostgresDB(cfg.Database)
	if err != nil {
		return "", err
	}
	defer db.Close()

	repo := repository.NewSavingsRepository(db, lg)
	if err := repo.EnsureSchema(ctx); err != nil {
		return "", err
	}
	return repo.SaveRun(ctx, repository.Run{
		Kind:              repository.RunAnalysis,
		StartTime:         tr.Start,
		EndTime:           tr.End,
		ZoneCount:         len(frame.Zones()),
		BaselineEnergyKWh: p.TotalHVACEnergyKWh,
		SavingsEnergyKWh:  p.TotalEnergyKWh,
		SavingsCost:       p.TotalCost,
		PercentSavings:    p.PercentOfTotal,
		Constraints:       c,
	})
}

// --- Output ---

func printPotential(w io.Writer, p control.SavingsPotential) {
	fmt.Fprintln(w, "=== Savings Potential ===")
	fmt.Fprintf(w, "  Unoccupied conditioning: %.1f h over %d intervals\n", p.TotalHours, p.Intervals)
	fmt.Fprintf(w, "  Wasted energy: %s of %s HVAC total (%.1f%%)\n",
		formatKWh(p.TotalEnergyKWh), formatKWh(p.TotalHVACEnergyKWh), p.PercentOfTotal)
	if p.HasCost {
		fmt.Fprintf(w, "  Wasted cost: %.2f\n", p.TotalCost)
	} else {
		fmt.Fprintln(w, "  Wasted cost: n/a (no tariff)")
	}
}

func printHourlyTable(w io.Writer, p control.SavingsPotential) {
	fmt.Fprintln(w, "  By Hour of Day:")
	fmt.Fprintf(w, "   %4s │ %7s │ %9s │ %9s │ %5s\n", "Hour", "Hours", "kWh", "Cost", "Share")
	fmt.Fprintf(w, "  ──────┼─────────┼───────────┼───────────┼──────\n")

	peak := 0
	for h := range p.ByHour {
		if p.ByHour[h].EnergyKWh > p.ByHour[peak].EnergyKWh {
			peak = h
		}
	}
	for h, b := range p.ByHour {
		if b.Hours == 0 {
			continue
		}
		marker := ""
		if h == peak && b.EnergyKWh > 0 {
			marker = " ← worst"
		}
		fmt.Fprintf(w, "     %02d │ %7.1f │ %9.1f │ %9.2f │ %4.1f%%%s\n",
			h, b.Hours, b.EnergyKWh, b.Cost, safeDivide(b.EnergyKWh, p.TotalEnergyKWh)*100, marker)
	}
}

func printWeekdayTable(w io.Writer, p control.SavingsPotential) {
	fmt.Fprintln(w, "  By Day of Week:")
	fmt.Fprintf(w, "   %4s │ %7s │ %9s │ %9s\n", "Day", "Hours", "kWh", "Cost")
	fmt.Fprintf(w, "  ──────┼─────────┼───────────┼──────────\n")
	for d, b := range p.ByDayOfWeek {
		fmt.Fprintf(w, "    %s │ %7.1f │ %9.1f │ %9.2f\n", weekdays[d], b.Hours, b.EnergyKWh, b.Cost)
	}
}

func printZoneTable(w io.Writer, p control.SavingsPotential) {
	zones := make([]string, 0, len(p.ByZone))
	for z := range p.ByZone {
		zones = append(zones, z)
	}
	sort.Slice(zones, func(i, j int) bool {
		if p.ByZone[zones[i]].EnergyKWh != p.ByZone[zones[j]].EnergyKWh {
			return p.ByZone[zones[i]].EnergyKWh > p.ByZone[zones[j]].EnergyKWh
		}
		return zones[i] < zones[j]
	})

	fmt.Fprintln(w, "  By Zone:")
	fmt.Fprintf(w, "   %-16s │ %7s │ %9s │ %9s\n", "Zone", "Hours", "kWh", "Cost")
	fmt.Fprintf(w, "  ──────────────────┼─────────┼───────────┼──────────\n")
	for _, z := range zones {
		b := p.ByZone[z]
		fmt.Fprintf(w, "   %-16s │ %7.1f │ %9.1f │ %9.2f\n", z, b.Hours, b.EnergyKWh, b.Cost)
	}
}

func printMonthTable(w io.Writer, p control.SavingsPotential) {
	months := make([]string, 0, len(p.ByMonth))
	for m := range p.ByMonth {
		months = append(months, m)
	}
	sort.Strings(months)

	fmt.Fprintln(w, "  By Month:")
	fmt.Fprintf(w, "   %-7s │ %7s │ %9s │ %9s\n", "Month", "Hours", "kWh", "Cost")
	fmt.Fprintf(w, "  ─────────┼─────────┼───────────┼──────────\n")
	for _, m := range months {
		b := p.ByMonth[m]
		fmt.Fprintf(w, "   %-7s │ %7.1f │ %9.1f │ %9.2f\n", m, b.Hours, b.EnergyKWh, b.Cost)
	}
}

func printPolicyTable(w io.Writer, results map[control.Policy]control.SimulationSummary) {
	fmt.Fprintln(w, "=== Control Policies ===")
	fmt.Fprintf(w, "   %-20s │ %9s │ %9s │ %6s │ %10s\n", "Policy", "Saved kWh", "Saved", "%", "Violations")
	fmt.Fprintf(w, "  ──────────────────────┼───────────┼───────────┼────────┼───────────\n")
	for _, policy := range control.Policies {
		s, ok := results[policy]
		if !ok {
			continue
		}
		fmt.Fprintf(w, "   %-20s │ %9.1f │ %9.2f │ %5.1f%% │ %10d\n",
			policy, s.TotalEnergySavingsKWh, s.TotalCostSavings, s.PercentEnergySavings, s.ComfortViolations)
	}
}

// --- Helpers ---

// busiestDay returns the day with the most wasted energy.
func busiestDay(daily []report.DailyPoint) (time.Time, bool) {
	if len(daily) == 0 {
		return time.Time{}, false
	}
	best := daily[0]
	for _, d := range daily[1:] {
		if d.EnergyKWh > best.EnergyKWh {
			best = d
		}
	}
	return best.Date, true
}

// topZone returns the zone with the most wasted energy.
func topZone(p control.SavingsPotential) string {
	var best string
	for z, b := range p.ByZone {
		if best == "" || b.EnergyKWh > p.ByZone[best].EnergyKWh || (b.EnergyKWh == p.ByZone[best].EnergyKWh && z < best) {
			best = z
		}
	}
	return best
}

func safeDivide(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}

func formatKWh(v float64) string {
	if v >= 1000 {
		return fmt.Sprintf("%.1f MWh", v/1000)
	}
	return fmt.Sprintf("%.1f kWh", v)
}
