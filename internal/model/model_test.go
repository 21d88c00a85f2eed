package model

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHVACMode_IsActive(t *testing.T) {
	assert.False(t, HVACOff.IsActive())
	assert.False(t, HVACMode("").IsActive())
	assert.True(t, HVACOn.IsActive())
	assert.True(t, HVACHeat.IsActive())
	assert.True(t, HVACCool.IsActive())
	assert.True(t, HVACFan.IsActive())
}

func TestDaySet_Contains(t *testing.T) {
	assert.True(t, DaysAll.Contains(true))
	assert.True(t, DaysAll.Contains(false))
	assert.True(t, DaysWeekday.Contains(false))
	assert.False(t, DaysWeekday.Contains(true))
	assert.True(t, DaysWeekend.Contains(true))
	assert.False(t, DaysWeekend.Contains(false))
}

func TestSchema_Index(t *testing.T) {
	idx, err := OccupancySchema.Index([]string{" Zone_ID", "occupancy_count", "timestamp", "extra"})
	require.NoError(t, err)
	assert.Equal(t, 2, idx["timestamp"])
	assert.Equal(t, 0, idx["zone_id"])
	assert.Equal(t, 1, idx["occupancy_count"])
	assert.NotContains(t, idx, "extra")
}

func TestSchema_IndexOptional(t *testing.T) {
	idx, err := WeatherSchema.Index([]string{"timestamp", "temperature", "humidity"})
	require.NoError(t, err)
	assert.Equal(t, 2, idx["humidity"])

	idx, err = WeatherSchema.Index([]string{"timestamp", "temperature"})
	require.NoError(t, err)
	_, ok := idx["humidity"]
	assert.False(t, ok)
}

func TestSchema_IndexMissingColumn(t *testing.T) {
	_, err := HVACSchema.Index([]string{"timestamp", "zone_id", "setpoint"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSchemaMismatch))
	assert.Contains(t, err.Error(), `"state"`)
}

func TestFrame_CloneIsDeep(t *testing.T) {
	f := Frame{{ZoneID: "a", Lags: map[int]float64{1: 2}}}
	c := f.Clone()
	c[0].Lags[1] = 99
	c[0].ZoneID = "b"

	assert.Equal(t, 2.0, f[0].Lags[1])
	assert.Equal(t, "a", f[0].ZoneID)
}

func TestFrame_SortZonesAndRange(t *testing.T) {
	base := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	f := Frame{
		{ZoneID: "b", Timestamp: base.Add(15 * time.Minute)},
		{ZoneID: "a", Timestamp: base.Add(30 * time.Minute)},
		{ZoneID: "a", Timestamp: base},
	}
	f.Sort()

	assert.Equal(t, []string{"a", "b"}, f.Zones())
	assert.Equal(t, base, f[0].Timestamp)
	assert.Len(t, f.Zone("a"), 2)

	tr, ok := f.TimeRange()
	require.True(t, ok)
	assert.Equal(t, base, tr.Start)
	assert.Equal(t, base.Add(30*time.Minute), tr.End)
	assert.True(t, tr.Contains(base.Add(time.Minute)))

	_, ok = Frame{}.TimeRange()
	assert.False(t, ok)
}

func TestInterval_Hours(t *testing.T) {
	iv := Interval{Duration: 15 * time.Minute}
	assert.InDelta(t, 0.25, iv.Hours(), 1e-12)
}

func TestSchema_IndexAnyOf(t *testing.T) {
	idx, err := HVACSchema.Index([]string{"timestamp", "zone_id", "setpoint", "state", "energy_btu"})
	require.NoError(t, err)
	assert.Equal(t, 4, idx["energy_btu"])

	_, err = HVACSchema.Index([]string{"timestamp", "zone_id", "setpoint", "state"})
	assert.ErrorIs(t, err, ErrSchemaMismatch)
}
