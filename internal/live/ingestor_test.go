package live

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"hvac_savings/internal/model"
	"hvac_savings/internal/store"
)

type fakeSubscriber struct {
	mu           sync.Mutex
	handlers     map[string]MessageHandler
	qos          byte
	unsubscribed []string
	subscribed   chan struct{}
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{handlers: make(map[string]MessageHandler), subscribed: make(chan struct{}, 1)}
}

func (f *fakeSubscriber) Subscribe(topic string, qos byte, handler MessageHandler) error {
	f.mu.Lock()
	f.handlers[topic] = handler
	f.qos = qos
	f.mu.Unlock()
	f.subscribed <- struct{}{}
	return nil
}

func (f *fakeSubscriber) Unsubscribe(topics ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed = append(f.unsubscribed, topics...)
	return nil
}

func (f *fakeSubscriber) deliver(t *testing.T, pattern, topic, payload string) error {
	f.mu.Lock()
	h, ok := f.handlers[pattern]
	f.mu.Unlock()
	require.True(t, ok, "no subscription on %s", pattern)
	return h(topic, []byte(payload))
}

var fixedNow = time.Date(2024, 3, 4, 9, 30, 0, 0, time.UTC)

func newTestIngestor(sub Subscriber) (*Ingestor, *store.Store) {
	st := store.New()
	ing := NewIngestor(sub, st, "/building/", 1, zap.NewNop())
	ing.now = func() time.Time { return fixedNow }
	return ing, st
}

func TestIngestor_Topic(t *testing.T) {
	ing, _ := newTestIngestor(newFakeSubscriber())
	assert.Equal(t, "building/+/occupancy", ing.Topic())

	bare := NewIngestor(newFakeSubscriber(), store.New(), "", 0, zap.NewNop())
	assert.Equal(t, "+/occupancy", bare.Topic())
}

func TestIngestor_Handle(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		payload string
		want    model.OccupancyRecord
	}{
		{
			name:    "zone from topic with RFC 3339 time",
			topic:   "building/conf-a/occupancy",
			payload: `{"count": 4, "timestamp": "2024-03-04T09:00:00Z"}`,
			want:    model.OccupancyRecord{ZoneID: "conf-a", Count: 4, Timestamp: time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)},
		},
		{
			name:    "zone in payload wins",
			topic:   "building/ignored/occupancy",
			payload: `{"zone_id": "lobby", "count": 12, "timestamp": 1709542800}`,
			want:    model.OccupancyRecord{ZoneID: "lobby", Count: 12, Timestamp: time.Unix(1709542800, 0).UTC()},
		},
		{
			name:    "missing timestamp uses now",
			topic:   "building/desk-1/occupancy",
			payload: `{"count": 0}`,
			want:    model.OccupancyRecord{ZoneID: "desk-1", Count: 0, Timestamp: fixedNow},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ing, st := newTestIngestor(newFakeSubscriber())
			var seen []model.OccupancyRecord
			ing.OnRecord = func(r model.OccupancyRecord) { seen = append(seen, r) }

			require.NoError(t, ing.Handle(tt.topic, []byte(tt.payload)))

			got, ok := st.OccupancyAt(tt.want.ZoneID, tt.want.Timestamp)
			require.True(t, ok)
			assert.Equal(t, tt.want.ZoneID, got.ZoneID)
			assert.Equal(t, tt.want.Count, got.Count)
			assert.True(t, got.Timestamp.Equal(tt.want.Timestamp))
			require.Len(t, seen, 1)
		})
	}
}

func TestIngestor_DropsMalformed(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		payload string
	}{
		{"not json", "building/a/occupancy", `count=3`},
		{"missing count", "building/a/occupancy", `{"timestamp": "2024-03-04T09:00:00Z"}`},
		{"negative count", "building/a/occupancy", `{"count": -1}`},
		{"bad timestamp", "building/a/occupancy", `{"count": 1, "timestamp": "yesterday"}`},
		{"timestamp wrong type", "building/a/occupancy", `{"count": 1, "timestamp": true}`},
		{"no zone anywhere", "building/occupancy-feed", `{"count": 1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ing, st := newTestIngestor(newFakeSubscriber())
			called := false
			ing.OnRecord = func(model.OccupancyRecord) { called = true }

			err := ing.Handle(tt.topic, []byte(tt.payload))
			assert.ErrorIs(t, err, ErrBadReading)
			assert.Empty(t, st.Zones())
			assert.False(t, called)
		})
	}
}

func TestIngestor_Run(t *testing.T) {
	sub := newFakeSubscriber()
	ing, st := newTestIngestor(sub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ing.Run(ctx) }()

	select {
	case <-sub.subscribed:
	case <-time.After(2 * time.Second):
		t.Fatal("ingestor never subscribed")
	}
	assert.Equal(t, byte(1), sub.qos)

	require.NoError(t, sub.deliver(t, "building/+/occupancy", "building/a/occupancy", `{"count": 2, "timestamp": "2024-03-04T09:00:00Z"}`))
	require.NoError(t, sub.deliver(t, "building/+/occupancy", "building/a/occupancy", `{"count": 5, "timestamp": "2024-03-04T09:15:00Z"}`))
	assert.Equal(t, 2, st.Count("a"))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("ingestor did not stop")
	}
	assert.Equal(t, []string{"building/+/occupancy"}, sub.unsubscribed)
}

func TestZoneFromTopic(t *testing.T) {
	assert.Equal(t, "a", zoneFromTopic("building/a/occupancy"))
	assert.Equal(t, "a", zoneFromTopic("a/occupancy"))
	assert.Equal(t, "", zoneFromTopic("building/a/temperature"))
	assert.Equal(t, "", zoneFromTopic("occupancy"))
}
