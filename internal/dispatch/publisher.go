// Package dispatch publishes setpoint schedules to building controllers over
// Kafka.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"hvac_savings/internal/control"
	"hvac_savings/internal/model"
)

// MessageWriter is the part of kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// SetpointCommand tells a zone controller what to hold from EffectiveAt on.
type SetpointCommand struct {
	ZoneID             string         `json:"zone_id"`
	EffectiveAt        time.Time      `json:"effective_at"`
	SetpointF          float64        `json:"setpoint_f"`
	Mode               model.HVACMode `json:"mode"`
	Action             control.Action `json:"action"`
	BaselineSetpointF  float64        `json:"baseline_setpoint_f"`
	PredictedOccupancy float64        `json:"predicted_occupancy"`
	IssuedAt           time.Time      `json:"issued_at"`
}

// SetpointPublisher turns recommendations into keyed Kafka messages. Keys
// are zone IDs so the hash balancer keeps each zone's commands ordered.
type SetpointPublisher struct {
	writer MessageWriter
	logger *zap.Logger
	now    func() time.Time
}

// NewSetpointPublisher builds a publisher on a kafka.Writer for topic.
func NewSetpointPublisher(brokers []string, topic string, logger *zap.Logger) (*SetpointPublisher, error) {
	if strings.TrimSpace(topic) == "" {
		return nil, errors.New("setpoint topic must not be empty")
	}
	if len(brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: false,
		BatchTimeout:           50 * time.Millisecond,
	}
	return NewSetpointPublisherWithWriter(w, logger), nil
}

// NewSetpointPublisherWithWriter wires an existing writer.
func NewSetpointPublisherWithWriter(w MessageWriter, logger *zap.Logger) *SetpointPublisher {
	return &SetpointPublisher{writer: w, logger: logger.With(zap.String("component", "setpoint_publisher")), now: time.Now}
}

// Commands reduces recommendations to setpoint transitions: each zone's
// first interval, then every interval whose setpoint differs from the one
// before it.
func Commands(recs []control.Recommendation, issuedAt time.Time) []SetpointCommand {
	sorted := append([]control.Recommendation(nil), recs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].ZoneID != sorted[j].ZoneID {
			return sorted[i].ZoneID < sorted[j].ZoneID
		}
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	var out []SetpointCommand
	for i, rec := range sorted {
		if i > 0 && sorted[i-1].ZoneID == rec.ZoneID && sorted[i-1].RecommendedSetpoint == rec.RecommendedSetpoint {
			continue
		}
		out = append(out, SetpointCommand{
			ZoneID:             rec.ZoneID,
			EffectiveAt:        rec.Timestamp,
			SetpointF:          rec.RecommendedSetpoint,
			Mode:               rec.Mode,
			Action:             rec.Action,
			BaselineSetpointF:  rec.BaselineSetpoint,
			PredictedOccupancy: rec.PredictedOccupancy,
			IssuedAt:           issuedAt,
		})
	}
	return out
}

// Publish writes one message per setpoint transition and returns how many
// were sent.
func (p *SetpointPublisher) Publish(ctx context.Context, recs []control.Recommendation) (int, error) {
	issued := p.now().UTC()
	cmds := Commands(recs, issued)
	if len(cmds) == 0 {
		return 0, nil
	}

	msgs := make([]kafka.Message, len(cmds))
	for i, cmd := range cmds {
		value, err := json.Marshal(cmd)
		if err != nil {
			return 0, fmt.Errorf("encoding command for zone %s: %w", cmd.ZoneID, err)
		}
		msgs[i] = kafka.Message{
			Key:   []byte(cmd.ZoneID),
			Value: value,
			Time:  issued,
		}
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		p.logger.Error("failed to publish setpoints", zap.Int("commands", len(msgs)), zap.Error(err))
		return 0, fmt.Errorf("publishing setpoints: %w", err)
	}
	p.logger.Info("published setpoints", zap.Int("commands", len(msgs)), zap.Int("recommendations", len(recs)))
	return len(msgs), nil
}

// Close flushes and closes the writer.
func (p *SetpointPublisher) Close() error {
	return p.writer.Close()
}
