// Package weather downloads historical hourly outdoor conditions for a site
// and writes them in the weather loader's CSV format.
package weather

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"hvac_savings/internal/model"
)

var ErrInvalidRange = errors.New("invalid weather date range")

// Site is where and in which timezone to fetch weather.
type Site struct {
	Latitude  float64
	Longitude float64
	// Timezone is an IANA name; timestamps in the response are local to it.
	Timezone string
}

// Client talks to an Open-Meteo compatible archive API.
type Client struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// Option tunes the HTTP client.
type Option func(*resty.Client)

// WithRetry sets the retry count and backoff bounds.
func WithRetry(count int, wait, maxWait time.Duration) Option {
	return func(c *resty.Client) {
		c.SetRetryCount(count).SetRetryWaitTime(wait).SetRetryMaxWaitTime(maxWait)
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *resty.Client) { c.SetTimeout(d) }
}

func NewClient(baseURL string, logger *zap.Logger, opts ...Option) *Client {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30*time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(1*time.Second).
		SetRetryMaxWaitTime(5*time.Second).
		SetHeader("Accept", "application/json").
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return r != nil && r.StatusCode() >= 500
		})
	for _, opt := range opts {
		opt(client)
	}
	return &Client{httpClient: client, logger: logger}
}

type archiveResponse struct {
	Timezone string `json:"timezone"`
	Hourly   struct {
		Time        []string   `json:"time"`
		Temperature []*float64 `json:"temperature_2m"`
		Humidity    []*float64 `json:"relative_humidity_2m"`
	} `json:"hourly"`
}

type apiError struct {
	Error  bool   `json:"error"`
	Reason string `json:"reason"`
}

// FetchHourly returns hourly temperature (°F) and relative humidity for the
// inclusive date range. Hours with no temperature are dropped; missing
// humidity is NaN.
func (c *Client) FetchHourly(ctx context.Context, site Site, start, end time.Time) ([]model.WeatherRecord, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("%w: end %s before start %s", ErrInvalidRange, end.Format(time.DateOnly), start.Format(time.DateOnly))
	}
	tz := site.Timezone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", tz, err)
	}

	c.logger.Info("fetching weather",
		zap.Float64("latitude", site.Latitude),
		zap.Float64("longitude", site.Longitude),
		zap.String("start", start.Format(time.DateOnly)),
		zap.String("end", end.Format(time.DateOnly)),
	)

	var result archiveResponse
	var failure apiError
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"latitude":         strconv.FormatFloat(site.Latitude, 'f', -1, 64),
			"longitude":        strconv.FormatFloat(site.Longitude, 'f', -1, 64),
			"start_date":       start.Format(time.DateOnly),
			"end_date":         end.Format(time.DateOnly),
			"hourly":           "temperature_2m,relative_humidity_2m",
			"temperature_unit": "fahrenheit",
			"timezone":         tz,
		}).
		SetResult(&result).
		SetError(&failure).
		Get("/v1/archive")
	if err != nil {
		c.logger.Error("weather API call failed", zap.Error(err))
		return nil, fmt.Errorf("failed to call weather API: %w", err)
	}
	if resp.IsError() {
		c.logger.Error("weather API returned error",
			zap.Int("status_code", resp.StatusCode()),
			zap.String("reason", failure.Reason),
		)
		return nil, fmt.Errorf("weather API error: %s (status: %d)", failure.Reason, resp.StatusCode())
	}

	h := result.Hourly
	if len(h.Temperature) != len(h.Time) {
		return nil, fmt.Errorf("weather API returned %d temperatures for %d timestamps", len(h.Temperature), len(h.Time))
	}

	records := make([]model.WeatherRecord, 0, len(h.Time))
	for i, raw := range h.Time {
		ts, err := time.ParseInLocation("2006-01-02T15:04", raw, loc)
		if err != nil {
			c.logger.Warn("skipping unparseable weather timestamp", zap.String("time", raw))
			continue
		}
		if h.Temperature[i] == nil {
			continue
		}
		rec := model.WeatherRecord{Timestamp: ts, TemperatureF: *h.Temperature[i], Humidity: math.NaN()}
		if i < len(h.Humidity) && h.Humidity[i] != nil {
			rec.Humidity = *h.Humidity[i]
		}
		records = append(records, rec)
	}

	c.logger.Info("fetched weather", zap.Int("records", len(records)))
	return records, nil
}

// WriteCSV writes records with the weather loader's columns. Timestamps are
// RFC 3339 so the zone offset survives the round trip.
func WriteCSV(w io.Writer, records []model.WeatherRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"timestamp", "temperature", "humidity"}); err != nil {
		return fmt.Errorf("writing CSV header: %w", err)
	}
	for _, r := range records {
		humidity := ""
		if !math.IsNaN(r.Humidity) {
			humidity = strconv.FormatFloat(r.Humidity, 'f', -1, 64)
		}
		row := []string{
			r.Timestamp.Format(time.RFC3339),
			strconv.FormatFloat(r.TemperatureF, 'f', -1, 64),
			humidity,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing CSV row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
