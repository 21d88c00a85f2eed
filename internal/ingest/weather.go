package ingest

import (
	"io"
	"math"

	"hvac_savings/internal/model"
)

// WeatherParser parses outdoor conditions.
//
// Expected format:
//
//	timestamp,temperature,humidity
//	2024-03-04 09:00:00,41.5,72
//
// humidity is optional; missing values become NaN.
type WeatherParser struct {
	Options Options
}

func (p *WeatherParser) Parse(r io.Reader) ([]model.WeatherRecord, error) {
	var records []model.WeatherRecord
	err := readTable(r, model.WeatherSchema, p.Options, func(rw row) error {
		ts, err := rw.timestamp("timestamp", p.Options)
		if err != nil {
			return err
		}
		temp, err := rw.float("temperature")
		if err != nil {
			return err
		}
		humidity := math.NaN()
		if v, ok := rw.field("humidity"); ok && v != "" {
			if humidity, err = rw.float("humidity"); err != nil {
				return err
			}
		}
		records = append(records, model.WeatherRecord{
			Timestamp:    ts,
			TemperatureF: temp,
			Humidity:     humidity,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// LoadWeather reads a weather CSV file.
func LoadWeather(path string, opts Options) ([]model.WeatherRecord, error) {
	return loadFile[model.WeatherRecord](path, &WeatherParser{Options: opts})
}
