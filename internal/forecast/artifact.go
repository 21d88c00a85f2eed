package forecast

import (
	"encoding/json"
	"fmt"
	"time"
)

// Model is a Forecaster that can be saved and aimed at an arbitrary window.
type Model interface {
	Forecaster
	Save() ([]byte, error)
	Kind() string
	Frequency() time.Duration
	// PredictWindow forecasts horizon steps starting at start. recent holds
	// observations before start for models that roll forward from context.
	PredictWindow(recent Series, start time.Time, horizon int) ([]Point, error)
	// Hindcast predicts steps grid points from from as the model would have
	// seen them at the time, using history for any context it needs.
	Hindcast(history Series, from time.Time, steps int) ([]Point, error)
}

func (m *SeasonalModel) Kind() string             { return kindSeasonal }
func (m *SeasonalModel) Frequency() time.Duration { return m.cfg.Frequency }

// PredictWindow evaluates the fitted curve on the grid from start; recent is
// not needed.
func (m *SeasonalModel) PredictWindow(_ Series, start time.Time, horizon int) ([]Point, error) {
	if horizon <= 0 {
		return nil, fmt.Errorf("%w: horizon must be positive", ErrInvalidConfig)
	}
	ts := make([]time.Time, horizon)
	for k := range ts {
		ts[k] = start.Add(time.Duration(k) * m.cfg.Frequency)
	}
	return m.PredictAt(ts)
}

// Hindcast evaluates the fitted curve over the window; history is not needed.
func (m *SeasonalModel) Hindcast(_ Series, from time.Time, steps int) ([]Point, error) {
	return m.PredictWindow(nil, from, steps)
}

func (m *SequenceModel) Kind() string             { return kindSequence }
func (m *SequenceModel) Frequency() time.Duration { return m.cfg.Frequency }

// PredictWindow returns horizon steps starting exactly at start. It rolls
// forward from the observations in recent that precede start, or from the
// training tail when recent holds fewer than SeqLength of them. Steps
// between the end of that context and start are predicted and dropped.
func (m *SequenceModel) PredictWindow(recent Series, start time.Time, horizon int) ([]Point, error) {
	if horizon <= 0 {
		return nil, fmt.Errorf("%w: horizon must be positive", ErrInvalidConfig)
	}
	if m.state != Fitted {
		return nil, ErrNotFitted
	}
	var context Series
	for _, o := range recent {
		if o.Timestamp.Before(start) {
			context = append(context, o)
		}
	}
	last := m.tail[len(m.tail)-1].Timestamp
	if len(context) < m.cfg.SeqLength {
		context = nil
	} else {
		context.sort()
		last = context[len(context)-1].Timestamp
	}
	if !last.Before(start) {
		return nil, fmt.Errorf("%w: context ends %s, not before window start %s",
			ErrInsufficientData, last.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	gap := start.Sub(last)
	if gap%m.cfg.Frequency != 0 {
		return nil, fmt.Errorf("%w: start %s is not on the %s grid after %s",
			ErrInvalidConfig, start.Format(time.RFC3339), m.cfg.Frequency, last.Format(time.RFC3339))
	}
	warmup := int(gap/m.cfg.Frequency) - 1
	points, err := m.Predict(context, warmup+horizon)
	if err != nil {
		return nil, err
	}
	return points[warmup:], nil
}

// Hindcast predicts each grid step from from one step ahead, using the
// SeqLength observations of history before it. Steps without that much
// history are skipped.
func (m *SequenceModel) Hindcast(history Series, from time.Time, steps int) ([]Point, error) {
	if m.state != Fitted {
		return nil, ErrNotFitted
	}
	if steps <= 0 {
		return nil, fmt.Errorf("%w: steps must be positive", ErrInvalidConfig)
	}
	h := append(Series(nil), history...)
	h.sort()
	L := m.cfg.SeqLength

	var out []Point
	j := 0
	for k := 0; k < steps; k++ {
		t := from.Add(time.Duration(k) * m.cfg.Frequency)
		for j < len(h) && h[j].Timestamp.Before(t) {
			j++
		}
		if j < L {
			continue
		}
		p := clipBand(m.norm.invert(m.net.predict(m.encode(h[j-L:j], t))), m.zQuantile*m.residualStd)
		p.Timestamp = t
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: need %d observations before a step in the window", ErrInsufficientData, L)
	}
	return out, nil
}

// LoadModel restores a saved artifact of either kind.
func LoadModel(data []byte) (Model, error) {
	var head struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: unreadable artifact: %v", ErrInvalidConfig, err)
	}
	switch head.Kind {
	case kindSeasonal:
		return LoadSeasonalModel(data)
	case kindSequence:
		return LoadSequenceModel(data)
	}
	return nil, fmt.Errorf("%w: unknown artifact kind %q", ErrInvalidConfig, head.Kind)
}
