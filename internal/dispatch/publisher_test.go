package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"hvac_savings/internal/control"
	"hvac_savings/internal/model"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

var (
	base   = time.Date(2024, 3, 4, 6, 0, 0, 0, time.UTC)
	issued = time.Date(2024, 3, 4, 5, 55, 0, 0, time.UTC)
)

func rec(zone string, step int, setpoint float64, action control.Action) control.Recommendation {
	return control.Recommendation{
		Timestamp:           base.Add(time.Duration(step) * 15 * time.Minute),
		ZoneID:              zone,
		Mode:                model.HVACHeat,
		Action:              action,
		BaselineSetpoint:    70,
		RecommendedSetpoint: setpoint,
	}
}

func schedule() []control.Recommendation {
	return []control.Recommendation{
		rec("B", 0, 70, control.ActionMaintain),
		rec("A", 1, 60, control.ActionSetback),
		rec("A", 0, 60, control.ActionSetback),
		rec("A", 2, 70, control.ActionPreCondition),
		rec("A", 3, 70, control.ActionMaintain),
		rec("A", 4, 60, control.ActionSetback),
		rec("B", 1, 70, control.ActionMaintain),
	}
}

func TestCommands_Transitions(t *testing.T) {
	cmds := Commands(schedule(), issued)
	require.Len(t, cmds, 4)

	assert.Equal(t, "A", cmds[0].ZoneID)
	assert.Equal(t, base, cmds[0].EffectiveAt)
	assert.Equal(t, 60.0, cmds[0].SetpointF)

	assert.Equal(t, base.Add(30*time.Minute), cmds[1].EffectiveAt)
	assert.Equal(t, 70.0, cmds[1].SetpointF)
	assert.Equal(t, control.ActionPreCondition, cmds[1].Action)

	assert.Equal(t, base.Add(time.Hour), cmds[2].EffectiveAt)
	assert.Equal(t, "B", cmds[3].ZoneID)
	assert.Equal(t, issued, cmds[3].IssuedAt)

	assert.Empty(t, Commands(nil, issued))
}

func TestSetpointPublisher_Publish(t *testing.T) {
	w := &fakeWriter{}
	p := NewSetpointPublisherWithWriter(w, zap.NewNop())
	p.now = func() time.Time { return issued }

	n, err := p.Publish(context.Background(), schedule())
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	require.Len(t, w.msgs, 4)

	assert.Equal(t, []byte("A"), w.msgs[0].Key)
	assert.Equal(t, issued, w.msgs[0].Time)

	var cmd SetpointCommand
	require.NoError(t, json.Unmarshal(w.msgs[1].Value, &cmd))
	assert.Equal(t, "A", cmd.ZoneID)
	assert.Equal(t, 70.0, cmd.SetpointF)
	assert.Equal(t, model.HVACHeat, cmd.Mode)
	assert.True(t, cmd.EffectiveAt.Equal(base.Add(30*time.Minute)))

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestSetpointPublisher_NothingToSend(t *testing.T) {
	w := &fakeWriter{err: errors.New("must not be called")}
	p := NewSetpointPublisherWithWriter(w, zap.NewNop())

	n, err := p.Publish(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSetpointPublisher_WriteError(t *testing.T) {
	w := &fakeWriter{err: errors.New("leader not available")}
	p := NewSetpointPublisherWithWriter(w, zap.NewNop())

	_, err := p.Publish(context.Background(), schedule())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "leader not available")
}

func TestNewSetpointPublisher_Validation(t *testing.T) {
	_, err := NewSetpointPublisher(nil, "hvac.setpoints", zap.NewNop())
	assert.Error(t, err)
	_, err = NewSetpointPublisher([]string{"localhost:9092"}, " ", zap.NewNop())
	assert.Error(t, err)

	p, err := NewSetpointPublisher([]string{"localhost:9092"}, "hvac.setpoints", zap.NewNop())
	require.NoError(t, err)
	assert.NoError(t, p.Close())
}
