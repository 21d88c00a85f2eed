package preprocess

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hvac_savings/internal/model"
	"hvac_savings/internal/tariff"
)

var base = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC) // Monday

func at(minutes int) time.Time {
	return base.Add(time.Duration(minutes) * time.Minute)
}

func TestParseFrequency(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"15min", 15 * time.Minute},
		{"15T", 15 * time.Minute},
		{"1H", time.Hour},
		{"h", time.Hour},
		{"1D", 24 * time.Hour},
		{"30s", 30 * time.Second},
		{"15m", 15 * time.Minute},
		{"1h30m", 90 * time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFrequency(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, bad := range []string{"", "fortnight", "0min", "-5m"} {
		_, err := ParseFrequency(bad)
		assert.ErrorIs(t, err, ErrInvalidFrequency, bad)
	}
}

func TestParseJoin(t *testing.T) {
	j, err := ParseJoin("")
	require.NoError(t, err)
	assert.Equal(t, JoinInner, j)

	j, err = ParseJoin("OUTER")
	require.NoError(t, err)
	assert.Equal(t, JoinOuter, j)

	_, err = ParseJoin("cross")
	assert.ErrorIs(t, err, ErrInvalidJoin)
}

func mergeInputs() ([]model.OccupancyRecord, []model.HVACRecord) {
	occ := []model.OccupancyRecord{
		{Timestamp: at(0), ZoneID: "a", Count: 0},
		{Timestamp: at(5), ZoneID: "a", Count: 2},
		{Timestamp: at(15), ZoneID: "a", Count: 0},
		{Timestamp: at(30), ZoneID: "b", Count: 1},
	}
	hvac := []model.HVACRecord{
		{Timestamp: at(0), ZoneID: "a", Setpoint: 68, Mode: model.HVACHeat, EnergyKWh: 1},
		{Timestamp: at(10), ZoneID: "a", Setpoint: 72, Mode: model.HVACOff, EnergyKWh: 0.5},
		{Timestamp: at(45), ZoneID: "a", Setpoint: 70, Mode: model.HVACCool, EnergyKWh: 2},
		{Timestamp: at(30), ZoneID: "b", Setpoint: 70, Mode: model.HVACOff, EnergyKWh: 0},
	}
	return occ, hvac
}

func TestMergeOccupancyHVAC_Inner(t *testing.T) {
	occ, hvac := mergeInputs()
	frame, err := MergeOccupancyHVAC(occ, hvac, DefaultMergeOptions())
	require.NoError(t, err)

	require.Len(t, frame, 2)
	a := frame[0]
	assert.Equal(t, "a", a.ZoneID)
	assert.Equal(t, at(0), a.Timestamp)
	assert.Equal(t, 15*time.Minute, a.Duration)
	assert.InDelta(t, 2.0, a.Occupancy, 1e-9, "max within bucket")
	assert.InDelta(t, 70.0, a.Setpoint, 1e-9, "mean setpoint")
	assert.InDelta(t, 1.5, a.EnergyKWh, 1e-9, "summed energy")
	assert.True(t, a.HVACOn)
	assert.Equal(t, model.HVACHeat, a.Mode)

	b := frame[1]
	assert.Equal(t, "b", b.ZoneID)
	assert.False(t, b.HVACOn)
	assert.Equal(t, model.HVACOff, b.Mode)
}

func TestMergeOccupancyHVAC_JoinTypes(t *testing.T) {
	occ, hvac := mergeInputs()

	tests := []struct {
		join JoinType
		want int
	}{
		{JoinInner, 2},
		{JoinLeft, 3},
		{JoinRight, 3},
		{JoinOuter, 4},
	}
	for _, tt := range tests {
		t.Run(string(tt.join), func(t *testing.T) {
			frame, err := MergeOccupancyHVAC(occ, hvac, MergeOptions{Freq: "15min", Join: tt.join})
			require.NoError(t, err)
			assert.Len(t, frame, tt.want)
		})
	}

	frame, err := MergeOccupancyHVAC(occ, hvac, MergeOptions{Freq: "15min", Join: JoinOuter})
	require.NoError(t, err)
	var occOnly, hvacOnly int
	for _, iv := range frame {
		if iv.HasOccupancy && !iv.HasHVAC {
			occOnly++
		}
		if iv.HasHVAC && !iv.HasOccupancy {
			hvacOnly++
		}
	}
	assert.Equal(t, 1, occOnly)
	assert.Equal(t, 1, hvacOnly)
}

func TestMergeOccupancyHVAC_HourlyGrid(t *testing.T) {
	occ, hvac := mergeInputs()
	frame, err := MergeOccupancyHVAC(occ, hvac, MergeOptions{Freq: "1H"})
	require.NoError(t, err)

	require.Len(t, frame, 2)
	assert.InDelta(t, 3.5, frame[0].EnergyKWh, 1e-9)
	assert.Equal(t, model.HVACCool, frame[0].Mode, "last active mode wins")
	assert.Equal(t, time.Hour, frame[0].Duration)
}

func TestMergeOccupancyHVAC_InvalidOptions(t *testing.T) {
	_, err := MergeOccupancyHVAC(nil, nil, MergeOptions{Freq: "soon"})
	assert.ErrorIs(t, err, ErrInvalidFrequency)

	_, err = MergeOccupancyHVAC(nil, nil, MergeOptions{Freq: "15min", Join: "cross"})
	assert.ErrorIs(t, err, ErrInvalidJoin)
}

func TestAddWeatherFeatures(t *testing.T) {
	frame := model.Frame{
		{ZoneID: "a", Timestamp: at(0), Duration: 15 * time.Minute},
		{ZoneID: "a", Timestamp: at(30), Duration: 15 * time.Minute},
		{ZoneID: "a", Timestamp: at(60 * 10), Duration: 15 * time.Minute},
	}
	weather := []model.WeatherRecord{
		{Timestamp: at(60), TemperatureF: 50, Humidity: math.NaN()},
		{Timestamp: at(0), TemperatureF: 40, Humidity: 80},
	}

	out := AddWeatherFeatures(frame, weather, DefaultWeatherOptions())

	require.Len(t, out, 3)
	assert.True(t, out[0].HasWeather)
	assert.InDelta(t, 40.0, out[0].OutdoorTempF, 1e-9)
	assert.InDelta(t, 80.0, out[0].Humidity, 1e-9)
	assert.InDelta(t, 25*0.25, out[0].HeatingDegreeHours, 1e-9)
	assert.InDelta(t, 0.0, out[0].CoolingDegreeHours, 1e-9)

	assert.InDelta(t, 45.0, out[1].OutdoorTempF, 1e-9, "interpolated midway")
	assert.InDelta(t, 80.0, out[1].Humidity, 1e-9, "NaN side ignored")

	assert.False(t, out[2].HasWeather, "beyond max gap")
	assert.False(t, frame[0].HasWeather, "input untouched")
}

func TestAddTOUFeatures(t *testing.T) {
	s, err := tariff.NewSchedule([]model.TOURate{
		{StartMinute: 9 * 60, EndMinute: 10 * 60, RateKWh: 0.3, Period: model.PeriodPeak, Days: model.DaysAll},
	})
	require.NoError(t, err)

	frame := model.Frame{
		{ZoneID: "a", Timestamp: at(0)},
		{ZoneID: "a", Timestamp: at(60)},
	}
	out := AddTOUFeatures(frame, s)

	assert.True(t, out[0].HasRate)
	assert.InDelta(t, 0.3, out[0].RateKWh, 1e-9)
	assert.Equal(t, model.PeriodPeak, out[0].Period)
	assert.False(t, out[1].HasRate)

	none := AddTOUFeatures(frame, nil)
	assert.False(t, none[0].HasRate)
}

func zoneFrame(zone string, values []float64) model.Frame {
	f := make(model.Frame, len(values))
	for i, v := range values {
		f[i] = model.Interval{
			ZoneID:       zone,
			Timestamp:    at(15 * i),
			Duration:     15 * time.Minute,
			HasOccupancy: true,
			Occupancy:    v,
		}
	}
	return f
}

func TestEngineerFeatures_TimeFeatures(t *testing.T) {
	frame := model.Frame{
		{ZoneID: "a", Timestamp: time.Date(2024, 3, 9, 13, 45, 0, 0, time.UTC)}, // Saturday
	}
	out := EngineerFeatures(frame, FeatureOptions{IncludeTime: true})

	iv := out[0]
	assert.True(t, iv.HasTimeFeatures)
	assert.Equal(t, 13, iv.Hour)
	assert.Equal(t, 13*60+45, iv.MinuteOfDay)
	assert.Equal(t, 5, iv.DayOfWeek)
	assert.True(t, iv.IsWeekend)
	assert.Equal(t, 3, iv.Month)
	assert.Nil(t, iv.Lags)
}

func TestEngineerFeatures_LagsPerZone(t *testing.T) {
	frame := append(zoneFrame("a", []float64{1, 2, 3, 4, 5}), zoneFrame("b", []float64{10, 20})...)
	out := EngineerFeatures(frame, FeatureOptions{IncludeLag: true, LagPeriods: []int{1, 4}})

	a := out.Zone("a")
	_, ok := a[0].Lags[1]
	assert.False(t, ok)
	assert.InDelta(t, 1.0, a[1].Lags[1], 1e-9)
	assert.InDelta(t, 4.0, a[4].Lags[1], 1e-9)
	assert.InDelta(t, 1.0, a[4].Lags[4], 1e-9)
	_, ok = a[3].Lags[4]
	assert.False(t, ok)

	b := out.Zone("b")
	assert.InDelta(t, 10.0, b[1].Lags[1], 1e-9, "lags never cross zones")
	assert.False(t, b[0].HasTimeFeatures)
}

func TestEngineerFeatures_LagRespectsGaps(t *testing.T) {
	frame := zoneFrame("a", []float64{1, 2, 3})
	frame = append(frame[:1], frame[2:]...) // drop the 09:15 row

	out := EngineerFeatures(frame, FeatureOptions{IncludeLag: true, LagPeriods: []int{1}})
	_, ok := out[1].Lags[1]
	assert.False(t, ok, "09:30 has no 09:15 predecessor")
}

func TestEngineerFeatures_Rolling(t *testing.T) {
	frame := zoneFrame("a", []float64{2, 4, 6, 8, 10})
	out := EngineerFeatures(frame, FeatureOptions{IncludeRolling: true, RollingWindows: []int{4}})

	for i := 0; i < 4; i++ {
		_, ok := out[i].RollingMean[4]
		assert.False(t, ok, "row %d has only %d earlier rows", i, i)
		_, ok = out[i].RollingStd[4]
		assert.False(t, ok)
	}
	assert.InDelta(t, 5.0, out[4].RollingMean[4], 1e-9)
	assert.InDelta(t, math.Sqrt(5), out[4].RollingStd[4], 1e-9)
}

func TestEngineerFeatures_RollingNeedsFullWindow(t *testing.T) {
	frame := zoneFrame("a", []float64{1, 2, 3, 4, 5, 6})
	frame = append(frame[:2], frame[3:]...) // drop the third row

	out := EngineerFeatures(frame, FeatureOptions{IncludeRolling: true, RollingWindows: []int{2}})
	_, ok := out[2].RollingMean[2]
	assert.False(t, ok, "the step before the fourth row is missing")
	_, ok = out[3].RollingMean[2]
	assert.False(t, ok, "the window of the fifth row spans the missing step")
	assert.InDelta(t, 4.5, out[4].RollingMean[2], 1e-9)
}

func TestEngineerFeatures_NoFlagsIsCopy(t *testing.T) {
	frame := zoneFrame("a", []float64{1, 2})
	out := EngineerFeatures(frame, FeatureOptions{})

	assert.Equal(t, frame, out)
	out[0].Occupancy = 99
	assert.InDelta(t, 1.0, frame[0].Occupancy, 1e-9)
}

func TestEngineerFeatures_DoesNotMutateInput(t *testing.T) {
	frame := zoneFrame("a", []float64{1, 2, 3})
	_ = EngineerFeatures(frame, DefaultFeatureOptions())

	for _, iv := range frame {
		assert.False(t, iv.HasTimeFeatures)
		assert.Nil(t, iv.Lags)
		assert.Nil(t, iv.RollingMean)
	}
}

func TestComputeOpportunity(t *testing.T) {
	frame := model.Frame{
		{ZoneID: "a", HasOccupancy: true, HasHVAC: true, Occupancy: 0, HVACOn: true, EnergyKWh: 2, HasRate: true, RateKWh: 0.25},
		{ZoneID: "a", HasOccupancy: true, HasHVAC: true, Occupancy: 3, HVACOn: true, EnergyKWh: 2},
		{ZoneID: "a", HasOccupancy: true, HasHVAC: true, Occupancy: 0, HVACOn: false, EnergyKWh: 0},
		{ZoneID: "a", HasOccupancy: false, HasHVAC: true, HVACOn: true, EnergyKWh: 2},
		{ZoneID: "a", HasOccupancy: true, HasHVAC: true, Occupancy: 1, HVACOn: true, EnergyKWh: 1},
	}

	out := ComputeOpportunity(frame, OpportunityOptions{})
	assert.True(t, out[0].IsOpportunity)
	assert.InDelta(t, 2.0, out[0].PotentialEnergyKWh, 1e-9)
	assert.InDelta(t, 0.5, out[0].PotentialCost, 1e-9)
	assert.False(t, out[1].IsOpportunity)
	assert.False(t, out[2].IsOpportunity)
	assert.False(t, out[3].IsOpportunity, "missing occupancy is not evidence of vacancy")
	assert.False(t, out[4].IsOpportunity)

	lenient := ComputeOpportunity(frame, OpportunityOptions{OccupancyThreshold: 1})
	assert.True(t, lenient[4].IsOpportunity)
	assert.InDelta(t, 0.0, lenient[4].PotentialCost, 1e-9, "no rate attached")
}
