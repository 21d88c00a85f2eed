// Package config loads service settings from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"hvac_savings/internal/control"
	"hvac_savings/internal/preprocess"
)

// DatabaseConfig locates the PostgreSQL database that stores savings runs.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// DSN returns a lib/pq connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

// RedisConfig locates the forecast cache.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// KafkaConfig locates the setpoint command topic.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// MQTTConfig locates the live occupancy feed.
type MQTTConfig struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte
}

// WeatherConfig points the weather client at an archive API and a site.
type WeatherConfig struct {
	BaseURL   string
	Latitude  float64
	Longitude float64
	Timezone  string
}

// Config is the full service configuration.
type Config struct {
	Log struct {
		Level  string
		Format string
	}

	Data struct {
		InputDir           string
		Freq               string
		Join               string
		OccupancyThreshold float64
	}

	Comfort control.ComfortConstraints

	Server struct {
		Addr           string
		AllowedOrigins []string
	}

	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	MQTT     MQTTConfig
	Weather  WeatherConfig
}

// Load reads the configuration from the environment, applying defaults for
// anything unset. Malformed numbers are errors.
func Load() (*Config, error) {
	cfg := &Config{}
	p := &parser{}

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	cfg.Data.InputDir = getEnv("INPUT_DIR", "data")
	cfg.Data.Freq = getEnv("MERGE_FREQ", "15min")
	cfg.Data.Join = getEnv("MERGE_JOIN", "inner")
	cfg.Data.OccupancyThreshold = p.float("OCCUPANCY_THRESHOLD", 0)

	def := control.DefaultComfortConstraints()
	cfg.Comfort = control.ComfortConstraints{
		MinTempF:            p.float("COMFORT_MIN_TEMP_F", def.MinTempF),
		MaxTempF:            p.float("COMFORT_MAX_TEMP_F", def.MaxTempF),
		PreConditionMinutes: p.int("COMFORT_PRECONDITION_MINUTES", def.PreConditionMinutes),
		OccupancyThreshold:  cfg.Data.OccupancyThreshold,
		SavingsPerDegree:    p.float("SAVINGS_PER_DEGREE", def.SavingsPerDegree),
		MaxSavingsFraction:  p.float("MAX_SAVINGS_FRACTION", def.MaxSavingsFraction),
	}

	cfg.Server.Addr = getEnv("SERVER_ADDR", ":8080")
	cfg.Server.AllowedOrigins = splitList(getEnv("ALLOWED_ORIGINS", "*"))

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = p.int("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Name = getEnv("DB_NAME", "hvac_savings")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = p.int("DB_MAX_CONNS", 10)
	cfg.Database.MaxIdle = p.int("DB_MAX_IDLE", 5)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = p.int("REDIS_DB", 0)
	cfg.Redis.TTL = p.duration("FORECAST_CACHE_TTL", time.Hour)

	cfg.Kafka.Brokers = splitList(getEnv("KAFKA_BROKERS", "localhost:9092"))
	cfg.Kafka.Topic = getEnv("KAFKA_SETPOINT_TOPIC", "hvac.setpoints")

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "hvac-savings")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.TopicPrefix = getEnv("MQTT_TOPIC_PREFIX", "building")
	cfg.MQTT.QoS = byte(p.int("MQTT_QOS", 1))

	cfg.Weather.BaseURL = getEnv("WEATHER_BASE_URL", "https://archive-api.open-meteo.com")
	cfg.Weather.Latitude = p.float("WEATHER_LATITUDE", 40.7128)
	cfg.Weather.Longitude = p.float("WEATHER_LONGITUDE", -74.0060)
	cfg.Weather.Timezone = getEnv("WEATHER_TIMEZONE", "UTC")

	if p.err != nil {
		return nil, p.err
	}
	return cfg, nil
}

// Validate rejects settings no run could use.
func (c *Config) Validate() error {
	if _, err := preprocess.ParseFrequency(c.Data.Freq); err != nil {
		return err
	}
	if _, err := preprocess.ParseJoin(c.Data.Join); err != nil {
		return err
	}
	if err := c.Comfort.Validate(); err != nil {
		return err
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("MQTT_QOS must be 0, 1 or 2, got %d", c.MQTT.QoS)
	}
	if c.Weather.Latitude < -90 || c.Weather.Latitude > 90 || c.Weather.Longitude < -180 || c.Weather.Longitude > 180 {
		return fmt.Errorf("weather coordinates (%g, %g) out of range", c.Weather.Latitude, c.Weather.Longitude)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parser records the first malformed numeric variable.
type parser struct {
	err error
}

func (p *parser) float(key string, def float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("parsing %s: %w", key, err)
	}
	return v
}

func (p *parser) int(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("parsing %s: %w", key, err)
	}
	return v
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("parsing %s: %w", key, err)
	}
	return v
}
