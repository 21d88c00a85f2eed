package forecast

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/stat"
)

// Metric names an accuracy measure.
type Metric string

const (
	MetricMAE          Metric = "mae"
	MetricRMSE         Metric = "rmse"
	MetricMAPE         Metric = "mape"
	MetricZeroAccuracy Metric = "zero_accuracy"
)

// DefaultMetrics is used when Evaluate receives no metric list.
var DefaultMetrics = []Metric{MetricMAE, MetricRMSE, MetricMAPE}

// zeroCutoff separates "empty" from "occupied" predictions.
const zeroCutoff = 0.5

// ParseMetrics validates metric names.
func ParseMetrics(names []string) ([]Metric, error) {
	metrics := make([]Metric, 0, len(names))
	for _, n := range names {
		m := Metric(strings.ToLower(strings.TrimSpace(n)))
		switch m {
		case MetricMAE, MetricRMSE, MetricMAPE, MetricZeroAccuracy:
			metrics = append(metrics, m)
		default:
			return nil, fmt.Errorf("%w %q", ErrUnknownMetric, n)
		}
	}
	return metrics, nil
}

// Score computes each requested metric over paired actual/predicted values.
// MAPE is a percentage over non-zero actuals and is NaN when every actual is
// zero. zero_accuracy is the share of steps where the prediction agrees with
// the actual on whether the zone is empty.
func Score(actual, predicted []float64, metrics []Metric) (map[Metric]float64, error) {
	if len(actual) != len(predicted) {
		return nil, fmt.Errorf("%w: %d vs %d", ErrMismatchedLengths, len(actual), len(predicted))
	}
	if len(metrics) == 0 {
		metrics = DefaultMetrics
	}
	if len(actual) == 0 {
		return nil, fmt.Errorf("%w: no test observations", ErrInsufficientData)
	}

	absErr := make([]float64, len(actual))
	sqErr := make([]float64, len(actual))
	var pctErr []float64
	zeroMatch := make([]float64, len(actual))
	for i := range actual {
		d := predicted[i] - actual[i]
		absErr[i] = math.Abs(d)
		sqErr[i] = d * d
		if actual[i] != 0 {
			pctErr = append(pctErr, math.Abs(d/actual[i])*100)
		}
		if (actual[i] <= zeroCutoff) == (predicted[i] <= zeroCutoff) {
			zeroMatch[i] = 1
		}
	}

	out := make(map[Metric]float64, len(metrics))
	for _, m := range metrics {
		switch m {
		case MetricMAE:
			out[m] = stat.Mean(absErr, nil)
		case MetricRMSE:
			out[m] = math.Sqrt(stat.Mean(sqErr, nil))
		case MetricMAPE:
			if len(pctErr) == 0 {
				out[m] = math.NaN()
			} else {
				out[m] = stat.Mean(pctErr, nil)
			}
		case MetricZeroAccuracy:
			out[m] = stat.Mean(zeroMatch, nil)
		default:
			return nil, fmt.Errorf("%w %q", ErrUnknownMetric, m)
		}
	}
	return out, nil
}
