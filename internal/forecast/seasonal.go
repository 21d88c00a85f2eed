package forecast

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// SeasonalConfig holds the seasonal model's hyperparameters.
//
//	Frequency       > 0            grid step for future timestamps (15m)
//	DailyOrder      0..12          Fourier pairs with a 1 day period (4)
//	WeeklyOrder     0..6           Fourier pairs with a 7 day period (3)
//	Trend           bool           include a linear trend term (true)
//	Regularization  0..1000        ridge penalty on non-intercept terms (0.1)
//	IntervalWidth   (0,1)          coverage of the uncertainty band (0.8)
//	Holidays        dates          adds a holiday indicator regressor
type SeasonalConfig struct {
	Frequency      time.Duration `json:"frequency"`
	DailyOrder     int           `json:"daily_order"`
	WeeklyOrder    int           `json:"weekly_order"`
	Trend          bool          `json:"trend"`
	Regularization float64       `json:"regularization"`
	IntervalWidth  float64       `json:"interval_width"`
	Holidays       []time.Time   `json:"holidays,omitempty"`
}

// DefaultSeasonalConfig returns defaults suited to a 15-minute grid.
func DefaultSeasonalConfig() SeasonalConfig {
	return SeasonalConfig{
		Frequency:      15 * time.Minute,
		DailyOrder:     4,
		WeeklyOrder:    3,
		Trend:          true,
		Regularization: 0.1,
		IntervalWidth:  0.8,
	}
}

// Validate checks every field against its documented range.
func (c SeasonalConfig) Validate() error {
	switch {
	case c.Frequency <= 0:
		return fmt.Errorf("%w: frequency must be positive", ErrInvalidConfig)
	case c.DailyOrder < 0 || c.DailyOrder > 12:
		return fmt.Errorf("%w: daily_order %d outside 0..12", ErrInvalidConfig, c.DailyOrder)
	case c.WeeklyOrder < 0 || c.WeeklyOrder > 6:
		return fmt.Errorf("%w: weekly_order %d outside 0..6", ErrInvalidConfig, c.WeeklyOrder)
	case c.Regularization < 0 || c.Regularization > 1000:
		return fmt.Errorf("%w: regularization %g outside 0..1000", ErrInvalidConfig, c.Regularization)
	case c.IntervalWidth <= 0 || c.IntervalWidth >= 1:
		return fmt.Errorf("%w: interval_width %g outside (0,1)", ErrInvalidConfig, c.IntervalWidth)
	}
	return nil
}

// SeasonalModel fits occupancy as an additive sum of an intercept, an
// optional linear trend, daily and weekly Fourier terms and a holiday
// indicator, solved by ridge least squares.
type SeasonalModel struct {
	zoneID   string
	cfg      SeasonalConfig
	state    State
	holidays map[string]bool

	origin    time.Time
	span      float64 // days covered by training, scales the trend term
	coef      []float64
	hourlyStd [24]float64
	globalStd float64
	history   Series
	zQuantile float64
}

// NewSeasonalModel creates an unfitted model for one zone.
func NewSeasonalModel(zoneID string, cfg SeasonalConfig) (*SeasonalModel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &SeasonalModel{zoneID: zoneID, cfg: cfg, state: Unfitted}
	m.indexHolidays()
	return m, nil
}

func (m *SeasonalModel) indexHolidays() {
	m.holidays = make(map[string]bool, len(m.cfg.Holidays))
	for _, d := range m.cfg.Holidays {
		m.holidays[d.Format(time.DateOnly)] = true
	}
	m.zQuantile = distuv.UnitNormal.Quantile(0.5 + m.cfg.IntervalWidth/2)
}

func (m *SeasonalModel) ZoneID() string { return m.zoneID }
func (m *SeasonalModel) State() State   { return m.state }

// Config returns the model's hyperparameters.
func (m *SeasonalModel) Config() SeasonalConfig { return m.cfg }

func (m *SeasonalModel) numFeatures() int {
	n := 1 + 2*m.cfg.DailyOrder + 2*m.cfg.WeeklyOrder
	if m.cfg.Trend {
		n++
	}
	if len(m.holidays) > 0 {
		n++
	}
	return n
}

func (m *SeasonalModel) features(t time.Time, row []float64) {
	row[0] = 1
	i := 1
	if m.cfg.Trend {
		row[i] = t.Sub(m.origin).Hours() / 24 / m.span
		i++
	}
	dayPhase := float64(t.Hour()*3600+t.Minute()*60+t.Second()) / 86400
	for k := 1; k <= m.cfg.DailyOrder; k++ {
		a := 2 * math.Pi * float64(k) * dayPhase
		row[i], row[i+1] = math.Sin(a), math.Cos(a)
		i += 2
	}
	weekPhase := (float64((int(t.Weekday())+6)%7) + dayPhase) / 7
	for k := 1; k <= m.cfg.WeeklyOrder; k++ {
		a := 2 * math.Pi * float64(k) * weekPhase
		row[i], row[i+1] = math.Sin(a), math.Cos(a)
		i += 2
	}
	if len(m.holidays) > 0 {
		if m.holidays[t.Format(time.DateOnly)] {
			row[i] = 1
		} else {
			row[i] = 0
		}
	}
}

// Fit estimates coefficients and per-hour residual spread from history.
func (m *SeasonalModel) Fit(history Series) error {
	s := append(Series(nil), history...)
	s.sort()
	p := m.numFeatures()
	if len(s) < 2 || len(s) <= p {
		return fmt.Errorf("%w: %d observations for %d regressors", ErrInsufficientData, len(s), p)
	}

	m.origin = s[0].Timestamp
	m.span = s[len(s)-1].Timestamp.Sub(m.origin).Hours() / 24
	if m.span <= 0 {
		m.span = 1
	}

	X := mat.NewDense(len(s), p, nil)
	y := mat.NewVecDense(len(s), nil)
	row := make([]float64, p)
	for i, o := range s {
		m.features(o.Timestamp, row)
		X.SetRow(i, row)
		y.SetVec(i, o.Value)
	}

	beta := ridgeSolve(X, y, m.cfg.Regularization)
	m.coef = make([]float64, p)
	for i := range m.coef {
		m.coef[i] = beta.AtVec(i)
	}

	hours := make([]int, len(s))
	predictions := make([]float64, len(s))
	actuals := make([]float64, len(s))
	residuals := make([]float64, len(s))
	for i, o := range s {
		hours[i] = o.Timestamp.Hour()
		predictions[i] = m.raw(o.Timestamp, row)
		actuals[i] = o.Value
		residuals[i] = actuals[i] - predictions[i]
	}
	m.globalStd = stat.PopStdDev(residuals, nil)
	m.hourlyStd = residualStdByHour(hours, predictions, actuals)
	m.history = s
	m.state = Fitted
	return nil
}

// ridgeSolve returns argmin ||Xb - y||² + l2·||b[1:]||², leaving the
// intercept unpenalized. Falls back to an SVD pseudo-inverse when the
// normal equations are not positive definite.
func ridgeSolve(X *mat.Dense, y *mat.VecDense, l2 float64) *mat.VecDense {
	var xtx mat.Dense
	xtx.Mul(X.T(), X)
	n, _ := xtx.Dims()
	for i := 1; i < n; i++ {
		xtx.Set(i, i, xtx.At(i, i)+l2)
	}

	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j <= i; j++ {
			sym.SetSym(i, j, xtx.At(i, j))
		}
	}

	var xty mat.VecDense
	xty.MulVec(X.T(), y)

	var chol mat.Cholesky
	if ok := chol.Factorize(sym); ok {
		var beta mat.VecDense
		if err := chol.SolveVecTo(&beta, &xty); err == nil {
			return &beta
		}
	}

	var svd mat.SVD
	if !svd.Factorize(X, mat.SVDThin) {
		return mat.NewVecDense(n, nil)
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	vals := svd.Values(nil)

	var uty mat.VecDense
	uty.MulVec(u.T(), y)
	for i, sv := range vals {
		if sv > 1e-12 {
			uty.SetVec(i, uty.AtVec(i)/sv)
		} else {
			uty.SetVec(i, 0)
		}
	}
	var beta mat.VecDense
	beta.MulVec(&v, &uty)
	return &beta
}

// residualStdByHour returns the residual standard deviation per hour of day.
// Hours with fewer than two samples are left at zero.
func residualStdByHour(hours []int, predictions, actuals []float64) [24]float64 {
	var byHour [24][]float64
	for i, h := range hours {
		byHour[h] = append(byHour[h], actuals[i]-predictions[i])
	}

	var out [24]float64
	for h, residuals := range byHour {
		if len(residuals) > 1 {
			out[h] = stat.PopStdDev(residuals, nil)
		}
	}
	return out
}

func (m *SeasonalModel) raw(t time.Time, row []float64) float64 {
	m.features(t, row)
	sum := 0.0
	for i, c := range m.coef {
		sum += c * row[i]
	}
	return sum
}

func (m *SeasonalModel) point(t time.Time, row []float64) Point {
	std := m.hourlyStd[t.Hour()]
	if std == 0 {
		std = m.globalStd
	}
	p := clipBand(m.raw(t, row), m.zQuantile*std)
	p.Timestamp = t
	return p
}

// PredictAt evaluates the fitted model at arbitrary timestamps.
func (m *SeasonalModel) PredictAt(timestamps []time.Time) ([]Point, error) {
	if m.state != Fitted {
		return nil, ErrNotFitted
	}
	row := make([]float64, m.numFeatures())
	out := make([]Point, len(timestamps))
	for i, t := range timestamps {
		out[i] = m.point(t, row)
	}
	return out, nil
}

// Predict forecasts periods steps past the last training timestamp on the
// configured grid, optionally preceded by in-sample fits for the history.
// Predictions and bounds are clipped at zero.
func (m *SeasonalModel) Predict(periods int, includeHistory bool) ([]Point, error) {
	if m.state != Fitted {
		return nil, ErrNotFitted
	}
	if periods < 0 {
		return nil, fmt.Errorf("%w: periods must be non-negative", ErrInvalidConfig)
	}

	var timestamps []time.Time
	if includeHistory {
		for _, o := range m.history {
			timestamps = append(timestamps, o.Timestamp)
		}
	}
	last := m.history[len(m.history)-1].Timestamp
	for k := 1; k <= periods; k++ {
		timestamps = append(timestamps, last.Add(time.Duration(k)*m.cfg.Frequency))
	}
	return m.PredictAt(timestamps)
}

func (m *SeasonalModel) Forecast(horizon int) ([]Point, error) {
	return m.Predict(horizon, false)
}

// Evaluate scores predictions at the test timestamps against test values.
func (m *SeasonalModel) Evaluate(test Series, metrics []Metric) (map[Metric]float64, error) {
	if m.state != Fitted {
		return nil, ErrNotFitted
	}
	timestamps := make([]time.Time, len(test))
	for i, o := range test {
		timestamps[i] = o.Timestamp
	}
	points, err := m.PredictAt(timestamps)
	if err != nil {
		return nil, err
	}
	predicted := make([]float64, len(points))
	for i, p := range points {
		predicted[i] = p.Value
	}
	return Score(test.Values(), predicted, metrics)
}

type savedSeasonal struct {
	Kind      string         `json:"kind"`
	ZoneID    string         `json:"zone_id"`
	Config    SeasonalConfig `json:"config"`
	Origin    time.Time      `json:"origin"`
	Span      float64        `json:"span_days"`
	Coef      []float64      `json:"coef"`
	HourlyStd [24]float64    `json:"hourly_std"`
	GlobalStd float64        `json:"global_std"`
	History   Series         `json:"history"`
}

const kindSeasonal = "seasonal"

// Save serializes a fitted model to JSON.
func (m *SeasonalModel) Save() ([]byte, error) {
	if m.state != Fitted {
		return nil, ErrNotFitted
	}
	return json.MarshalIndent(savedSeasonal{
		Kind:      kindSeasonal,
		ZoneID:    m.zoneID,
		Config:    m.cfg,
		Origin:    m.origin,
		Span:      m.span,
		Coef:      m.coef,
		HourlyStd: m.hourlyStd,
		GlobalStd: m.globalStd,
		History:   m.history,
	}, "", "  ")
}

// LoadSeasonalModel restores a fitted model saved with Save.
func LoadSeasonalModel(data []byte) (*SeasonalModel, error) {
	var s savedSeasonal
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	if s.Kind != kindSeasonal {
		return nil, fmt.Errorf("%w: artifact kind %q is not %q", ErrInvalidConfig, s.Kind, kindSeasonal)
	}
	m, err := NewSeasonalModel(s.ZoneID, s.Config)
	if err != nil {
		return nil, err
	}
	if len(s.Coef) != m.numFeatures() || len(s.History) == 0 {
		return nil, fmt.Errorf("%w: artifact does not match its config", ErrInvalidConfig)
	}
	m.origin = s.Origin
	m.span = s.Span
	m.coef = s.Coef
	m.hourlyStd = s.HourlyStd
	m.globalStd = s.GlobalStd
	m.history = s.History
	m.state = Fitted
	return m, nil
}
