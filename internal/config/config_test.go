package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hvac_savings/internal/control"
	"hvac_savings/internal/preprocess"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "15min", cfg.Data.Freq)
	assert.Equal(t, control.DefaultComfortConstraints(), cfg.Comfort)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, time.Hour, cfg.Redis.TTL)
	assert.Equal(t, byte(1), cfg.MQTT.QoS)
	assert.Equal(t, "host=localhost port=5432 user=postgres password=postgres dbname=hvac_savings sslmode=disable", cfg.Database.DSN())
	require.NoError(t, cfg.Validate())
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("MERGE_FREQ", "1H")
	t.Setenv("OCCUPANCY_THRESHOLD", "1")
	t.Setenv("COMFORT_MIN_TEMP_F", "58")
	t.Setenv("COMFORT_PRECONDITION_MINUTES", "45")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("FORECAST_CACHE_TTL", "15m")
	t.Setenv("ALLOWED_ORIGINS", "http://localhost:5173")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "1H", cfg.Data.Freq)
	assert.Equal(t, 1.0, cfg.Comfort.OccupancyThreshold)
	assert.Equal(t, 58.0, cfg.Comfort.MinTempF)
	assert.Equal(t, 45, cfg.Comfort.PreConditionMinutes)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 15*time.Minute, cfg.Redis.TTL)
	assert.Equal(t, []string{"http://localhost:5173"}, cfg.Server.AllowedOrigins)
	require.NoError(t, cfg.Validate())
}

func TestLoad_MalformedNumber(t *testing.T) {
	t.Setenv("DB_PORT", "five")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_PORT")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr error
	}{
		{"bad frequency", map[string]string{"MERGE_FREQ": "weekly-ish"}, preprocess.ErrInvalidFrequency},
		{"bad join", map[string]string{"MERGE_JOIN": "cross"}, preprocess.ErrInvalidJoin},
		{"inverted comfort band", map[string]string{"COMFORT_MIN_TEMP_F": "90"}, control.ErrInvalidConstraints},
		{"bad qos", map[string]string{"MQTT_QOS": "3"}, nil},
		{"bad latitude", map[string]string{"WEATHER_LATITUDE": "123"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cfg, err := Load()
			require.NoError(t, err)
			err = cfg.Validate()
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}
