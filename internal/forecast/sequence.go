package forecast

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// SequenceConfig holds the sequence model's hyperparameters.
//
//	SeqLength     2..2016    lookback window in grid steps (96)
//	PredLength    1..2016    default forecast horizon in steps (96)
//	ModelDim      2..512     hidden layer width (64)
//	Heads         1..16      attention heads (4)
//	Layers        1..8       hidden layers (2)
//	Epochs        1..10000   maximum training epochs (100)
//	BatchSize     1..4096    mini-batch size (32)
//	LearningRate  (0,1]      Adam step size (1e-3)
//	ValSplit      [0,0.5)    trailing share of windows held out (0.2)
//	Patience      0..1000    early stopping patience, 0 disables (10)
//	Frequency     > 0        grid step (15m)
//	Seed                     RNG seed for initialization and shuffling
type SequenceConfig struct {
	SeqLength    int           `json:"seq_length"`
	PredLength   int           `json:"pred_length"`
	ModelDim     int           `json:"model_dim"`
	Heads        int           `json:"heads"`
	Layers       int           `json:"layers"`
	Epochs       int           `json:"epochs"`
	BatchSize    int           `json:"batch_size"`
	LearningRate float64       `json:"learning_rate"`
	ValSplit     float64       `json:"val_split"`
	Patience     int           `json:"patience"`
	Frequency    time.Duration `json:"frequency"`
	Seed         uint64        `json:"seed"`
}

// DefaultSequenceConfig returns one day of 15-minute context predicting one day ahead.
func DefaultSequenceConfig() SequenceConfig {
	return SequenceConfig{
		SeqLength:    96,
		PredLength:   96,
		ModelDim:     64,
		Heads:        4,
		Layers:       2,
		Epochs:       100,
		BatchSize:    32,
		LearningRate: 1e-3,
		ValSplit:     0.2,
		Patience:     10,
		Frequency:    15 * time.Minute,
		Seed:         42,
	}
}

// Validate checks every field against its documented range.
func (c SequenceConfig) Validate() error {
	check := func(name string, v, lo, hi int) error {
		if v < lo || v > hi {
			return fmt.Errorf("%w: %s %d outside %d..%d", ErrInvalidConfig, name, v, lo, hi)
		}
		return nil
	}
	for _, err := range []error{
		check("seq_length", c.SeqLength, 2, 2016),
		check("pred_length", c.PredLength, 1, 2016),
		check("model_dim", c.ModelDim, 2, 512),
		check("heads", c.Heads, 1, 16),
		check("layers", c.Layers, 1, 8),
		check("epochs", c.Epochs, 1, 10000),
		check("batch_size", c.BatchSize, 1, 4096),
		check("patience", c.Patience, 0, 1000),
	} {
		if err != nil {
			return err
		}
	}
	switch {
	case c.LearningRate <= 0 || c.LearningRate > 1:
		return fmt.Errorf("%w: learning_rate %g outside (0,1]", ErrInvalidConfig, c.LearningRate)
	case c.ValSplit < 0 || c.ValSplit >= 0.5:
		return fmt.Errorf("%w: val_split %g outside [0,0.5)", ErrInvalidConfig, c.ValSplit)
	case c.Frequency <= 0:
		return fmt.Errorf("%w: frequency must be positive", ErrInvalidConfig)
	}
	return nil
}

// normalization holds z-score parameters for occupancy values.
type normalization struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
}

func computeNormalization(values []float64) normalization {
	mean, std := stat.PopMeanStdDev(values, nil)
	if std < 1e-10 {
		std = 1
	}
	return normalization{Mean: mean, Std: std}
}

func (n normalization) apply(v float64) float64  { return (v - n.Mean) / n.Std }
func (n normalization) invert(v float64) float64 { return v*n.Std + n.Mean }

// SequenceModel predicts the next step from a window of recent occupancy.
// Each input carries the normalized window, the target step's calendar
// encoding and one attention context per head: a softmax-weighted average of
// the window where weights come from scaled dot products between the
// target's calendar encoding and each window step's encoding. Head h sharpens
// its scores by 2^h, so heads range from a broad average to a near lookup of
// the most calendar-similar step.
type SequenceModel struct {
	zoneID string
	cfg    SequenceConfig
	state  State

	net         *network
	norm        normalization
	residualStd float64
	tail        Series
	zQuantile   float64
	result      trainResult
}

// NewSequenceModel creates an unfitted model for one zone.
func NewSequenceModel(zoneID string, cfg SequenceConfig) (*SequenceModel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &SequenceModel{
		zoneID:    zoneID,
		cfg:       cfg,
		state:     Unfitted,
		zQuantile: distuv.UnitNormal.Quantile(0.9),
	}, nil
}

func (m *SequenceModel) ZoneID() string { return m.zoneID }
func (m *SequenceModel) State() State   { return m.state }

// Config returns the model's hyperparameters.
func (m *SequenceModel) Config() SequenceConfig { return m.cfg }

// Losses returns per-epoch training and validation MSE from the last Fit.
func (m *SequenceModel) Losses() (train, val []float64) {
	return m.result.TrainLoss, m.result.ValLoss
}

func (m *SequenceModel) inputSize() int {
	return m.cfg.SeqLength + 4 + m.cfg.Heads
}

// encode builds the input vector for predicting the step at target from
// window, which holds the SeqLength preceding observations.
func (m *SequenceModel) encode(window Series, target time.Time) []float64 {
	x := make([]float64, 0, m.inputSize())
	for _, o := range window {
		x = append(x, m.norm.apply(o.Value))
	}
	q := timeEncoding(target)
	x = append(x, q[:]...)

	scores := make([]float64, len(window))
	weights := make([]float64, len(window))
	for h := 0; h < m.cfg.Heads; h++ {
		temp := math.Pow(2, float64(h)) / 2 // sqrt of the 4-dim key size
		maxScore := math.Inf(-1)
		for i, o := range window {
			k := timeEncoding(o.Timestamp)
			scores[i] = temp * (q[0]*k[0] + q[1]*k[1] + q[2]*k[2] + q[3]*k[3])
			maxScore = math.Max(maxScore, scores[i])
		}
		var z float64
		for i, s := range scores {
			weights[i] = math.Exp(s - maxScore)
			z += weights[i]
		}
		ctx := 0.0
		for i := range window {
			ctx += weights[i] / z * x[i]
		}
		x = append(x, ctx)
	}
	return x
}

// Fit trains on every full window in history. The trailing ValSplit share of
// windows is held out for early stopping and residual estimation.
func (m *SequenceModel) Fit(history Series) error {
	s := append(Series(nil), history...)
	s.sort()
	L := m.cfg.SeqLength
	if len(s) < L+2 {
		return fmt.Errorf("%w: need at least %d observations, got %d", ErrInsufficientData, L+2, len(s))
	}

	m.norm = computeNormalization(s.Values())
	n := len(s) - L
	X := make([][]float64, n)
	Y := make([]float64, n)
	for j := 0; j < n; j++ {
		X[j] = m.encode(s[j:j+L], s[j+L].Timestamp)
		Y[j] = m.norm.apply(s[j+L].Value)
	}

	nVal := int(float64(n) * m.cfg.ValSplit)
	if m.cfg.ValSplit > 0 && nVal < 1 {
		nVal = 1
	}
	if nVal >= n {
		nVal = n - 1
	}
	nTrain := n - nVal

	rng := rand.New(rand.NewPCG(m.cfg.Seed, 0))
	sizes := []int{m.inputSize()}
	for i := 0; i < m.cfg.Layers; i++ {
		sizes = append(sizes, m.cfg.ModelDim)
	}
	sizes = append(sizes, 1)
	m.net = newNetwork(sizes, rng)

	cfg := newTrainConfig(m.cfg.LearningRate, m.cfg.BatchSize, m.cfg.Epochs, m.cfg.Patience)
	m.result = m.net.train(X[:nTrain], Y[:nTrain], X[nTrain:], Y[nTrain:], cfg, rng)

	resX, resY := X[nTrain:], Y[nTrain:]
	if len(resX) == 0 {
		resX, resY = X, Y
	}
	residuals := make([]float64, len(resX))
	for i := range resX {
		residuals[i] = m.norm.invert(m.net.predict(resX[i])) - m.norm.invert(resY[i])
	}
	m.residualStd = math.Sqrt(stat.Mean(squares(residuals), nil))

	m.tail = append(Series(nil), s[len(s)-L:]...)
	m.state = Fitted
	return nil
}

func squares(v []float64) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = x * x
	}
	return out
}

// Predict rolls the model forward horizon steps from the end of recent,
// feeding each prediction back as input. A nil recent uses the end of the
// training data; horizon <= 0 uses PredLength. Bands widen with the square
// root of the step count.
func (m *SequenceModel) Predict(recent Series, horizon int) ([]Point, error) {
	if m.state != Fitted {
		return nil, ErrNotFitted
	}
	if horizon <= 0 {
		horizon = m.cfg.PredLength
	}
	context := m.tail
	if recent != nil {
		context = append(Series(nil), recent...)
		context.sort()
	}
	L := m.cfg.SeqLength
	if len(context) < L {
		return nil, fmt.Errorf("%w: need %d recent observations, got %d", ErrInsufficientData, L, len(context))
	}

	window := append(Series(nil), context[len(context)-L:]...)
	out := make([]Point, horizon)
	for k := 0; k < horizon; k++ {
		t := window[len(window)-1].Timestamp.Add(m.cfg.Frequency)
		y := m.norm.invert(m.net.predict(m.encode(window, t)))
		p := clipBand(y, m.zQuantile*m.residualStd*math.Sqrt(float64(k+1)))
		p.Timestamp = t
		out[k] = p
		window = append(window[1:], Observation{Timestamp: t, Value: p.Value})
	}
	return out, nil
}

func (m *SequenceModel) Forecast(horizon int) ([]Point, error) {
	return m.Predict(nil, horizon)
}

// Evaluate scores one-step-ahead predictions for every test observation,
// each made from the SeqLength actual values before it. The end of the
// training data supplies context for the first test steps.
func (m *SequenceModel) Evaluate(test Series, metrics []Metric) (map[Metric]float64, error) {
	if m.state != Fitted {
		return nil, ErrNotFitted
	}
	t := append(Series(nil), test...)
	t.sort()
	all := append(append(Series(nil), m.tail...), t...)
	offset := len(m.tail)
	L := m.cfg.SeqLength

	var actual, predicted []float64
	for i := range t {
		j := offset + i
		if j < L {
			continue
		}
		y := m.norm.invert(m.net.predict(m.encode(all[j-L:j], all[j].Timestamp)))
		actual = append(actual, all[j].Value)
		predicted = append(predicted, math.Max(0, y))
	}
	return Score(actual, predicted, metrics)
}

type savedSequence struct {
	Kind        string         `json:"kind"`
	ZoneID      string         `json:"zone_id"`
	Config      SequenceConfig `json:"config"`
	Network     *network       `json:"network"`
	Norm        normalization  `json:"normalization"`
	ResidualStd float64        `json:"residual_std"`
	Tail        Series         `json:"tail"`
}

const kindSequence = "sequence"

// Save serializes a fitted model to JSON.
func (m *SequenceModel) Save() ([]byte, error) {
	if m.state != Fitted {
		return nil, ErrNotFitted
	}
	return json.MarshalIndent(savedSequence{
		Kind:        kindSequence,
		ZoneID:      m.zoneID,
		Config:      m.cfg,
		Network:     m.net,
		Norm:        m.norm,
		ResidualStd: m.residualStd,
		Tail:        m.tail,
	}, "", "  ")
}

// LoadSequenceModel restores a fitted model saved with Save.
func LoadSequenceModel(data []byte) (*SequenceModel, error) {
	var s savedSequence
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	if s.Kind != kindSequence {
		return nil, fmt.Errorf("%w: artifact kind %q is not %q", ErrInvalidConfig, s.Kind, kindSequence)
	}
	m, err := NewSequenceModel(s.ZoneID, s.Config)
	if err != nil {
		return nil, err
	}
	if s.Network == nil || s.Network.inputSize() != m.inputSize() || len(s.Tail) != s.Config.SeqLength {
		return nil, fmt.Errorf("%w: artifact does not match its config", ErrInvalidConfig)
	}
	m.net = s.Network
	m.norm = s.Norm
	m.residualStd = s.ResidualStd
	m.tail = s.Tail
	m.state = Fitted
	return m, nil
}
