package report

import (
	"bytes"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"hvac_savings/internal/control"
	"hvac_savings/internal/model"
)

var monday = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

// twoDays is zone A over Monday and Tuesday at hourly resolution: four people
// 09:00-16:59, HVAC running from 06:00 to 19:59 at 1.5 kWh.
func twoDays() model.Frame {
	var f model.Frame
	for h := 0; h < 48; h++ {
		ts := monday.Add(time.Duration(h) * time.Hour)
		occ := 0.0
		if ts.Hour() >= 9 && ts.Hour() < 17 {
			occ = 4
		}
		on := ts.Hour() >= 6 && ts.Hour() < 20
		energy := 0.0
		if on {
			energy = 1.5
		}
		f = append(f, model.Interval{
			Timestamp:    ts,
			ZoneID:       "A",
			Duration:     time.Hour,
			HasOccupancy: true,
			Occupancy:    occ,
			HasHVAC:      true,
			HVACOn:       on,
			Setpoint:     70,
			EnergyKWh:    energy,
		})
	}
	for i := range f {
		iv := &f[i]
		if iv.HVACOn && iv.Occupancy == 0 {
			iv.IsOpportunity = true
			iv.PotentialEnergyKWh = iv.EnergyKWh
			iv.PotentialCost = iv.EnergyKWh * 0.2
		}
	}
	return f
}

func TestParseAggFunc(t *testing.T) {
	for in, want := range map[string]AggFunc{"": AggMean, "MEAN": AggMean, "median": AggMedian, " max ": AggMax} {
		got, err := ParseAggFunc(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseAggFunc("p95")
	assert.ErrorIs(t, err, ErrInvalidAggFunc)
}

func TestDailyOpportunity(t *testing.T) {
	days := DailyOpportunity(twoDays())
	require.Len(t, days, 2)

	// 06:00-08:59 and 17:00-19:59 each day.
	for i, d := range days {
		assert.Equal(t, monday.AddDate(0, 0, i), d.Date)
		assert.Equal(t, 6, d.Intervals)
		assert.InDelta(t, 6.0, d.Hours, 1e-9)
		assert.InDelta(t, 9.0, d.EnergyKWh, 1e-9)
		assert.InDelta(t, 1.8, d.Cost, 1e-9)
	}
	assert.Empty(t, DailyOpportunity(nil))
}

func TestDayTimeline(t *testing.T) {
	frame := twoDays()
	tl := DayTimeline(frame, monday.Add(30*time.Hour), "A")
	require.Len(t, tl, 24)
	assert.Equal(t, monday.Add(24*time.Hour), tl[0].Timestamp)
	assert.True(t, tl[7].IsOpportunity)
	assert.False(t, tl[12].IsOpportunity)
	assert.Equal(t, 4.0, tl[12].Occupancy)

	assert.Empty(t, DayTimeline(frame, monday, "B"))
}

func TestOccupancyHeatmap(t *testing.T) {
	frame := twoDays()
	frame[12].Occupancy = 10 // Monday noon

	mean, err := OccupancyHeatmap(frame, "A", AggMean)
	require.NoError(t, err)
	assert.Equal(t, 10.0, mean.Values[0][12])
	assert.Equal(t, 4.0, mean.Values[1][12])
	assert.Equal(t, 0.0, mean.Values[0][3])
	assert.Equal(t, 1, mean.Counts[0][12])
	assert.True(t, math.IsNaN(mean.Values[2][12]), "Wednesday has no samples")
	assert.Equal(t, 10.0, mean.Max())

	// Pool two zones into one cell to exercise each reducer.
	pooled := append(frame.Clone(),
		model.Interval{Timestamp: monday.Add(12 * time.Hour), ZoneID: "B", HasOccupancy: true, Occupancy: 2},
		model.Interval{Timestamp: monday.Add(12 * time.Hour), ZoneID: "C", HasOccupancy: true, Occupancy: 3},
	)
	tests := []struct {
		agg  AggFunc
		want float64
	}{
		{AggMean, 5},
		{AggMedian, 3},
		{AggMax, 10},
	}
	for _, tt := range tests {
		t.Run(string(tt.agg), func(t *testing.T) {
			hm, err := OccupancyHeatmap(pooled, "", tt.agg)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, hm.Values[0][12], 1e-9)
			assert.Equal(t, 3, hm.Counts[0][12])
		})
	}

	_, err = OccupancyHeatmap(frame, "missing", AggMean)
	assert.ErrorIs(t, err, ErrNoData)
	_, err = OccupancyHeatmap(frame, "A", "mode")
	assert.ErrorIs(t, err, ErrInvalidAggFunc)
}

func TestReduceMedianEven(t *testing.T) {
	assert.Equal(t, 2.5, reduce([]float64{4, 1, 3, 2}, AggMedian))
}

func buildWorkbook(t *testing.T) *Workbook {
	t.Helper()
	frame := twoDays()

	wb, err := NewWorkbook()
	require.NoError(t, err)
	t.Cleanup(func() { wb.Close() })

	require.NoError(t, wb.PlotDailyOpportunity(DailyOpportunity(frame), FigureOptions{Title: "Waste"}))
	require.NoError(t, wb.PlotExampleDayTimeline(DayTimeline(frame, monday, "A"), FigureOptions{}))
	hm, err := OccupancyHeatmap(frame, "A", AggMax)
	require.NoError(t, err)
	require.NoError(t, wb.PlotOccupancyHeatmap(hm, FigureOptions{}))

	potential := control.EstimateSavingsPotential(frame, control.PotentialOptions{})
	require.NoError(t, wb.PlotSavingsSummary(potential, FigureOptions{Width: 480, Height: 320}))

	results, err := control.ComparePolicies(frame, nil)
	require.NoError(t, err)
	require.NoError(t, wb.PlotPolicyComparison(results, FigureOptions{}))
	return wb
}

func TestWorkbook_WriteTo(t *testing.T) {
	wb := buildWorkbook(t)

	var buf bytes.Buffer
	n, err := wb.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, int64(buf.Len()), n)

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"Daily Opportunity", "Day Timeline", "Heatmap A", "Savings Summary", "Policy Comparison"}, f.GetSheetList())

	rows, err := f.GetRows("Daily Opportunity")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"Date", "Intervals", "Hours", "Energy (kWh)", "Cost"}, rows[0])
	assert.Equal(t, "2024-03-04", rows[1][0])
	assert.Equal(t, "9", rows[1][3])

	cell, err := f.GetCellValue("Heatmap A", "N2")
	require.NoError(t, err)
	assert.Equal(t, "4", cell, "Monday 12:00")
	cell, err = f.GetCellValue("Heatmap A", "N4")
	require.NoError(t, err)
	assert.Empty(t, cell, "Wednesday has no samples")

	cell, err = f.GetCellValue("Savings Summary", "B4")
	require.NoError(t, err)
	assert.Equal(t, "18", cell)

	rows, err = f.GetRows("Policy Comparison")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "occupancy_setback", rows[1][0])
	assert.Equal(t, "optimal_schedule", rows[2][0])
}

func TestWorkbook_SaveAs(t *testing.T) {
	wb := buildWorkbook(t)
	path := filepath.Join(t.TempDir(), "report.xlsx")
	require.NoError(t, wb.SaveAs(path))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()
	assert.Len(t, f.GetSheetList(), 5)
}

func TestWorkbook_EmptyInputs(t *testing.T) {
	wb, err := NewWorkbook()
	require.NoError(t, err)
	defer wb.Close()

	assert.ErrorIs(t, wb.PlotDailyOpportunity(nil, FigureOptions{}), ErrNoData)
	assert.ErrorIs(t, wb.PlotExampleDayTimeline(nil, FigureOptions{}), ErrNoData)
	assert.ErrorIs(t, wb.PlotPolicyComparison(nil, FigureOptions{}), ErrNoData)
	assert.Empty(t, wb.Sheets())
}

func TestWorkbook_UniqueSheetNames(t *testing.T) {
	wb, err := NewWorkbook()
	require.NoError(t, err)
	defer wb.Close()

	days := DailyOpportunity(twoDays())
	require.NoError(t, wb.PlotDailyOpportunity(days, FigureOptions{}))
	require.NoError(t, wb.PlotDailyOpportunity(days, FigureOptions{}))

	hm, err := OccupancyHeatmap(twoDays(), "A", AggMean)
	require.NoError(t, err)
	hm.ZoneID = "floor/2:east"
	require.NoError(t, wb.PlotOccupancyHeatmap(hm, FigureOptions{}))

	assert.Equal(t, []string{"Daily Opportunity", "Daily Opportunity (2)", "Heatmap floor_2_east"}, wb.Sheets())
}
