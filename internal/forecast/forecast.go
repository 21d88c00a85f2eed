// Package forecast predicts zone occupancy with two interchangeable models:
// an additive seasonal regression and an attention-weighted sequence network.
package forecast

import (
	"errors"
	"math"
	"sort"
	"time"

	"hvac_savings/internal/model"
)

var (
	ErrNotFitted         = errors.New("model must be fitted before prediction")
	ErrInvalidConfig     = errors.New("invalid model config")
	ErrInsufficientData  = errors.New("insufficient training data")
	ErrUnknownMetric     = errors.New("unknown metric")
	ErrMismatchedLengths = errors.New("actual and predicted lengths differ")
)

// State is a model's lifecycle stage. Fit is the only transition.
type State int

const (
	Unfitted State = iota
	Fitted
)

func (s State) String() string {
	if s == Fitted {
		return "fitted"
	}
	return "unfitted"
}

// Observation is one (ds, y) pair.
type Observation struct {
	Timestamp time.Time `json:"ds"`
	Value     float64   `json:"y"`
}

// Series is a time-ordered occupancy history for one zone.
type Series []Observation

// Point is one forecast step with its uncertainty band.
type Point struct {
	Timestamp time.Time `json:"ds"`
	Value     float64   `json:"yhat"`
	Lower     float64   `json:"yhat_lower"`
	Upper     float64   `json:"yhat_upper"`
}

// Forecaster is the capability set shared by both models.
type Forecaster interface {
	ZoneID() string
	State() State
	Fit(history Series) error
	// Forecast predicts horizon steps past the end of the training data.
	Forecast(horizon int) ([]Point, error)
	Evaluate(test Series, metrics []Metric) (map[Metric]float64, error)
}

// SeriesFromFrame extracts the observed occupancy of one zone, sorted by time.
func SeriesFromFrame(frame model.Frame, zoneID string) Series {
	var s Series
	for _, iv := range frame {
		if iv.ZoneID == zoneID && iv.HasOccupancy {
			s = append(s, Observation{Timestamp: iv.Timestamp, Value: iv.Occupancy})
		}
	}
	s.sort()
	return s
}

func (s Series) sort() {
	sort.SliceStable(s, func(i, j int) bool { return s[i].Timestamp.Before(s[j].Timestamp) })
}

// Values returns the observed values in order.
func (s Series) Values() []float64 {
	v := make([]float64, len(s))
	for i, o := range s {
		v[i] = o.Value
	}
	return v
}

// Split returns the first len*(1-testFraction) observations and the rest.
func (s Series) Split(testFraction float64) (Series, Series) {
	nTest := int(math.Round(float64(len(s)) * testFraction))
	if nTest < 0 {
		nTest = 0
	}
	if nTest > len(s) {
		nTest = len(s)
	}
	return s[:len(s)-nTest], s[len(s)-nTest:]
}

// FillGaps returns the series on a regular freq grid, carrying the last
// observed value forward into missing steps.
func (s Series) FillGaps(freq time.Duration) Series {
	if len(s) < 2 || freq <= 0 {
		return append(Series(nil), s...)
	}
	out := Series{s[0]}
	for _, o := range s[1:] {
		last := out[len(out)-1]
		for t := last.Timestamp.Add(freq); t.Before(o.Timestamp); t = t.Add(freq) {
			out = append(out, Observation{Timestamp: t, Value: last.Value})
		}
		out = append(out, o)
	}
	return out
}

// timeEncoding maps t to sin/cos of its daily and weekly phase.
func timeEncoding(t time.Time) [4]float64 {
	day := float64(t.Hour()*3600+t.Minute()*60+t.Second()) / 86400
	weekday := float64((int(t.Weekday()) + 6) % 7)
	week := (weekday + day) / 7
	return [4]float64{
		math.Sin(2 * math.Pi * day),
		math.Cos(2 * math.Pi * day),
		math.Sin(2 * math.Pi * week),
		math.Cos(2 * math.Pi * week),
	}
}

func clipBand(value, halfWidth float64) Point {
	return Point{
		Value: math.Max(0, value),
		Lower: math.Max(0, value-halfWidth),
		Upper: math.Max(0, value+halfWidth),
	}
}
