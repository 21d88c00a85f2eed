package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"hvac_savings/internal/model"
	"hvac_savings/internal/store"
)

var ErrBadReading = errors.New("bad occupancy reading")

// Reading is the JSON payload published on <prefix>/<zone>/occupancy.
// Timestamp is RFC 3339 or Unix seconds; zero means "now".
type Reading struct {
	ZoneID    string          `json:"zone_id,omitempty"`
	Count     *float64        `json:"count"`
	Timestamp json.RawMessage `json:"timestamp,omitempty"`
}

// Ingestor appends live readings to a store.
type Ingestor struct {
	sub    Subscriber
	store  *store.Store
	prefix string
	qos    byte
	logger *zap.Logger
	now    func() time.Time

	// OnRecord, when set, is called after each accepted reading.
	OnRecord func(model.OccupancyRecord)
}

func NewIngestor(sub Subscriber, st *store.Store, prefix string, qos byte, logger *zap.Logger) *Ingestor {
	return &Ingestor{
		sub:    sub,
		store:  st,
		prefix: strings.Trim(prefix, "/"),
		qos:    qos,
		logger: logger.With(zap.String("component", "live_ingestor")),
		now:    time.Now,
	}
}

// Topic is the wildcard subscription covering every zone.
func (i *Ingestor) Topic() string {
	if i.prefix == "" {
		return "+/occupancy"
	}
	return i.prefix + "/+/occupancy"
}

// Run subscribes and blocks until ctx is done, then unsubscribes.
func (i *Ingestor) Run(ctx context.Context) error {
	topic := i.Topic()
	if err := i.sub.Subscribe(topic, i.qos, i.Handle); err != nil {
		return err
	}
	i.logger.Info("live ingestion started", zap.String("topic", topic))

	<-ctx.Done()
	if err := i.sub.Unsubscribe(topic); err != nil {
		i.logger.Error("failed to unsubscribe", zap.Error(err))
	}
	i.logger.Info("live ingestion stopped")
	return nil
}

// Handle decodes one message and stores it. Malformed payloads return an
// error and leave the store untouched.
func (i *Ingestor) Handle(topic string, payload []byte) error {
	rec, err := i.decode(topic, payload)
	if err != nil {
		i.logger.Warn("malformed occupancy message",
			zap.String("topic", topic),
			zap.Int("payload_size", len(payload)),
			zap.Error(err),
		)
		return err
	}
	i.store.AddOccupancy([]model.OccupancyRecord{rec})
	i.logger.Debug("stored occupancy reading",
		zap.String("zone_id", rec.ZoneID),
		zap.Time("timestamp", rec.Timestamp),
		zap.Float64("count", rec.Count),
	)
	if i.OnRecord != nil {
		i.OnRecord(rec)
	}
	return nil
}

func (i *Ingestor) decode(topic string, payload []byte) (model.OccupancyRecord, error) {
	var r Reading
	if err := json.Unmarshal(payload, &r); err != nil {
		return model.OccupancyRecord{}, fmt.Errorf("%w: %v", ErrBadReading, err)
	}
	if r.Count == nil {
		return model.OccupancyRecord{}, fmt.Errorf("%w: missing count", ErrBadReading)
	}
	count := *r.Count
	if count < 0 || math.IsNaN(count) || math.IsInf(count, 0) {
		return model.OccupancyRecord{}, fmt.Errorf("%w: count %v out of range", ErrBadReading, count)
	}

	zone := r.ZoneID
	if zone == "" {
		zone = zoneFromTopic(topic)
	}
	if zone == "" {
		return model.OccupancyRecord{}, fmt.Errorf("%w: no zone in payload or topic %q", ErrBadReading, topic)
	}

	ts, err := parseTimestamp(r.Timestamp)
	if err != nil {
		return model.OccupancyRecord{}, err
	}
	if ts.IsZero() {
		ts = i.now()
	}
	return model.OccupancyRecord{Timestamp: ts.UTC(), ZoneID: zone, Count: count}, nil
}

// zoneFromTopic returns the segment before the trailing "occupancy".
func zoneFromTopic(topic string) string {
	parts := strings.Split(strings.Trim(topic, "/"), "/")
	if len(parts) < 2 || parts[len(parts)-1] != "occupancy" {
		return ""
	}
	return parts[len(parts)-2]
}

func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}, nil
	}
	var epoch float64
	if err := json.Unmarshal(raw, &epoch); err == nil {
		sec, frac := math.Modf(epoch)
		return time.Unix(int64(sec), int64(frac*1e9)), nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return time.Time{}, fmt.Errorf("%w: timestamp must be a string or number", ErrBadReading)
	}
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: timestamp %q: %v", ErrBadReading, s, err)
	}
	return ts, nil
}
