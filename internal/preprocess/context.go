package preprocess

import (
	"math"
	"sort"
	"time"

	"hvac_savings/internal/model"
	"hvac_savings/internal/tariff"
)

// WeatherOptions configure AddWeatherFeatures.
type WeatherOptions struct {
	// MaxGap is the furthest a weather sample may be from an interval and
	// still describe it.
	MaxGap time.Duration
	// BaseTempF is the balance point for degree-hour features.
	BaseTempF float64
}

// DefaultWeatherOptions returns a 3 hour gap tolerance and a 65 °F base.
func DefaultWeatherOptions() WeatherOptions {
	return WeatherOptions{MaxGap: 3 * time.Hour, BaseTempF: 65}
}

// AddWeatherFeatures joins outdoor conditions onto each interval. Conditions
// are linearly interpolated between the two bracketing samples when both lie
// within MaxGap, otherwise taken from the nearest sample within MaxGap.
// Intervals with no usable sample keep HasWeather false.
func AddWeatherFeatures(frame model.Frame, weather []model.WeatherRecord, opts WeatherOptions) model.Frame {
	if opts.MaxGap <= 0 {
		opts.MaxGap = DefaultWeatherOptions().MaxGap
	}
	samples := make([]model.WeatherRecord, len(weather))
	copy(samples, weather)
	sort.Slice(samples, func(i, j int) bool {
		return samples[i].Timestamp.Before(samples[j].Timestamp)
	})

	out := frame.Clone()
	for i := range out {
		iv := &out[i]
		temp, humidity, ok := weatherAt(samples, iv.Timestamp, opts.MaxGap)
		if !ok {
			continue
		}
		iv.HasWeather = true
		iv.OutdoorTempF = temp
		iv.Humidity = humidity
		hours := iv.Hours()
		iv.HeatingDegreeHours = math.Max(0, opts.BaseTempF-temp) * hours
		iv.CoolingDegreeHours = math.Max(0, temp-opts.BaseTempF) * hours
	}
	return out
}

func weatherAt(samples []model.WeatherRecord, t time.Time, maxGap time.Duration) (float64, float64, bool) {
	if len(samples) == 0 {
		return 0, 0, false
	}
	idx := sort.Search(len(samples), func(i int) bool {
		return !samples[i].Timestamp.Before(t)
	})
	if idx < len(samples) && samples[idx].Timestamp.Equal(t) {
		return samples[idx].TemperatureF, samples[idx].Humidity, true
	}

	var prev, next *model.WeatherRecord
	if idx > 0 && t.Sub(samples[idx-1].Timestamp) <= maxGap {
		prev = &samples[idx-1]
	}
	if idx < len(samples) && samples[idx].Timestamp.Sub(t) <= maxGap {
		next = &samples[idx]
	}

	switch {
	case prev != nil && next != nil:
		span := next.Timestamp.Sub(prev.Timestamp).Seconds()
		w := t.Sub(prev.Timestamp).Seconds() / span
		temp := prev.TemperatureF + w*(next.TemperatureF-prev.TemperatureF)
		humidity := lerpMaybeNaN(prev.Humidity, next.Humidity, w)
		return temp, humidity, true
	case prev != nil:
		return prev.TemperatureF, prev.Humidity, true
	case next != nil:
		return next.TemperatureF, next.Humidity, true
	}
	return 0, 0, false
}

func lerpMaybeNaN(a, b, w float64) float64 {
	switch {
	case math.IsNaN(a):
		return b
	case math.IsNaN(b):
		return a
	}
	return a + w*(b-a)
}

// AddTOUFeatures attaches the rate and period in effect at each interval.
// A nil schedule leaves the frame without rates.
func AddTOUFeatures(frame model.Frame, schedule *tariff.Schedule) model.Frame {
	out := frame.Clone()
	for i := range out {
		rate, period, ok := schedule.RateAt(out[i].Timestamp)
		out[i].HasRate = ok
		out[i].RateKWh = rate
		out[i].Period = period
	}
	return out
}
