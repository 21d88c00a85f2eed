// fetch-weather downloads hourly outdoor temperature and humidity for a site
// and writes them as weather.csv.
//
// Usage:
//
//	fetch-weather -start 2024-03-01 -end 2024-03-31
//	fetch-weather -days 14 -lat 52.23 -lon 21.01 -tz Europe/Warsaw
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"hvac_savings/internal/config"
	"hvac_savings/internal/logger"
	"hvac_savings/internal/model"
	"hvac_savings/internal/weather"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Loading config: %v", err)
	}

	baseURL := flag.String("base-url", cfg.Weather.BaseURL, "archive API base URL")
	lat := flag.Float64("lat", cfg.Weather.Latitude, "site latitude")
	lon := flag.Float64("lon", cfg.Weather.Longitude, "site longitude")
	tz := flag.String("tz", cfg.Weather.Timezone, "IANA timezone of the returned timestamps")
	startFlag := flag.String("start", "", "first day, YYYY-MM-DD (default: -days before end)")
	endFlag := flag.String("end", "", "last day, YYYY-MM-DD (default: yesterday)")
	days := flag.Int("days", 30, "days to fetch when -start is not set")
	output := flag.String("output", filepath.Join(cfg.Data.InputDir, "weather.csv"), "output CSV path")
	flag.Parse()

	lg, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "fetch-weather")
	if err != nil {
		log.Fatalf("Creating logger: %v", err)
	}
	defer lg.Sync()

	start, end, err := dateRange(*startFlag, *endFlag, *days, time.Now())
	if err != nil {
		lg.Fatal("invalid date range", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := weather.NewClient(*baseURL, lg)
	records, err := client.FetchHourly(ctx, weather.Site{Latitude: *lat, Longitude: *lon, Timezone: *tz}, start, end)
	if err != nil {
		lg.Fatal("failed to fetch weather", zap.Error(err))
	}

	if err := writeFile(*output, records); err != nil {
		lg.Fatal("failed to write weather CSV", zap.String("path", *output), zap.Error(err))
	}
	fmt.Printf("Wrote %d hourly records (%s to %s) to %s\n",
		len(records), start.Format(time.DateOnly), end.Format(time.DateOnly), *output)
}

// dateRange resolves the flags to an inclusive day range. The archive lags
// real time, so the default end is yesterday.
func dateRange(startFlag, endFlag string, days int, now time.Time) (time.Time, time.Time, error) {
	y, m, d := now.Date()
	end := time.Date(y, m, d-1, 0, 0, 0, 0, time.UTC)
	if endFlag != "" {
		t, err := time.Parse(time.DateOnly, endFlag)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid end %q: %w", endFlag, err)
		}
		end = t
	}
	if days < 1 {
		return time.Time{}, time.Time{}, fmt.Errorf("days must be at least 1, got %d", days)
	}
	start := end.AddDate(0, 0, -(days - 1))
	if startFlag != "" {
		t, err := time.Parse(time.DateOnly, startFlag)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid start %q: %w", startFlag, err)
		}
		start = t
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("end %s before start %s", end.Format(time.DateOnly), start.Format(time.DateOnly))
	}
	return start, end, nil
}

// writeFile writes through a temp file so a failed fetch never truncates an
// existing weather.csv.
func writeFile(path string, records []model.WeatherRecord) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".weather-*.csv")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := weather.WriteCSV(tmp, records); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
