package eventsink

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bissquit/market-sentinel/internal/domain"
	"github.com/bissquit/market-sentinel/internal/notifications"
)

type fakeWriter struct {
	mu      sync.Mutex
	batches [][]kafka.Message
	err     error
	closed  bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.batches = append(w.batches, append([]kafka.Message(nil), msgs...))
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *fakeWriter) messages() []kafka.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	var all []kafka.Message
	for _, b := range w.batches {
		all = append(all, b...)
	}
	return all
}

func (w *fakeWriter) batchCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.batches)
}

func event(id string, typ notifications.EventType) notifications.Event {
	return notifications.Event{
		Type:           typ,
		NotificationID: id,
		Channel:        domain.ChannelTypeTelegram,
		Timestamp:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestNew_Defaults(t *testing.T) {
	s := New(Config{Topic: "events"}, &fakeWriter{})

	assert.Equal(t, 1024, s.config.BufferSize)
	assert.Equal(t, 100, s.config.BatchSize)
	assert.Equal(t, time.Second, s.config.FlushInterval)
	assert.Equal(t, 1024, cap(s.events))
}

func TestNewWriter(t *testing.T) {
	w := NewWriter(Config{Brokers: []string{"kafka:9092"}, Topic: "events"})
	defer w.Close()

	assert.Equal(t, "events", w.Topic)
	assert.Equal(t, "kafka:9092", w.Addr.String())
	assert.IsType(t, &kafka.Hash{}, w.Balancer)
}

func TestSink_FlushesOnStop(t *testing.T) {
	writer := &fakeWriter{}
	s := New(Config{FlushInterval: time.Hour}, writer)
	listener := s.Listener()

	s.Start(context.Background())
	listener(event("n-1", notifications.EventRoutingStarted))
	listener(event("n-1", notifications.EventChannelSent))
	listener(event("n-2", notifications.EventChannelFailed))
	require.NoError(t, s.Stop())

	msgs := writer.messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "n-1", string(msgs[0].Key))
	assert.Equal(t, "n-2", string(msgs[2].Key))
	assert.Equal(t, []kafka.Header{{Key: "event_type", Value: []byte("channel_failed")}}, msgs[2].Headers)

	var decoded notifications.Event
	require.NoError(t, json.Unmarshal(msgs[1].Value, &decoded))
	assert.Equal(t, notifications.EventChannelSent, decoded.Type)
	assert.Equal(t, domain.ChannelTypeTelegram, decoded.Channel)
	assert.True(t, writer.closed)
}

func TestSink_WritesFullBatches(t *testing.T) {
	writer := &fakeWriter{}
	s := New(Config{BatchSize: 2, FlushInterval: time.Hour}, writer)
	listener := s.Listener()

	s.Start(context.Background())
	for i := 0; i < 4; i++ {
		listener(event("n", notifications.EventChannelSending))
	}

	assert.Eventually(t, func() bool { return writer.batchCount() == 2 }, time.Second, 10*time.Millisecond)
	require.NoError(t, s.Stop())
	assert.Len(t, writer.messages(), 4)
}

func TestSink_FlushesOnInterval(t *testing.T) {
	writer := &fakeWriter{}
	s := New(Config{FlushInterval: 20 * time.Millisecond}, writer)

	s.Start(context.Background())
	defer s.Stop()
	s.Listener()(event("n-1", notifications.EventRoutingCompleted))

	assert.Eventually(t, func() bool { return len(writer.messages()) == 1 }, time.Second, 10*time.Millisecond)
}

func TestSink_DropsWhenBufferFull(t *testing.T) {
	s := New(Config{BufferSize: 1}, &fakeWriter{})
	listener := s.Listener()
	before := promtest.ToFloat64(eventsDropped)

	listener(event("n-1", notifications.EventChannelSending))
	listener(event("n-2", notifications.EventChannelSending))
	listener(event("n-3", notifications.EventChannelSending))

	assert.Equal(t, 2.0, promtest.ToFloat64(eventsDropped)-before)
	assert.Len(t, s.events, 1)
}

func TestSink_WriteErrorIsCounted(t *testing.T) {
	writer := &fakeWriter{err: errors.New("broker unavailable")}
	s := New(Config{FlushInterval: time.Hour}, writer)
	before := promtest.ToFloat64(eventsFailed)

	s.Start(context.Background())
	s.Listener()(event("n-1", notifications.EventChannelSent))
	s.Listener()(event("n-1", notifications.EventRoutingCompleted))
	require.NoError(t, s.Stop())

	assert.Equal(t, 2.0, promtest.ToFloat64(eventsFailed)-before)
	assert.Empty(t, writer.messages())
}

func TestSink_StopsOnContextCancel(t *testing.T) {
	writer := &fakeWriter{}
	s := New(Config{FlushInterval: time.Hour}, writer)
	ctx, cancel := context.WithCancel(context.Background())

	s.Start(ctx)
	s.Listener()(event("n-1", notifications.EventRoutingStarted))
	cancel()

	assert.Eventually(t, func() bool { return len(writer.messages()) == 1 }, time.Second, 10*time.Millisecond)
	require.NoError(t, s.Stop())
}

type okHandler struct{}

func (okHandler) Channel() domain.ChannelType { return domain.ChannelTypeTelegram }
func (okHandler) IsAvailable() bool           { return true }
func (okHandler) Status() notifications.ChannelStatus {
	return notifications.ChannelStatus{Channel: domain.ChannelTypeTelegram, Enabled: true, Available: true}
}
func (okHandler) Send(context.Context, notifications.Notification) notifications.ChannelSendResult {
	return notifications.ChannelSendResult{Success: true}
}

func TestSink_SubscribedToRouter(t *testing.T) {
	writer := &fakeWriter{}
	s := New(Config{FlushInterval: time.Hour}, writer)
	router := notifications.NewRouter(notifications.DefaultRouterConfig())
	require.NoError(t, router.Register(okHandler{}))
	unsubscribe := router.Subscribe(s.Listener())
	defer unsubscribe()

	s.Start(context.Background())
	result, err := router.Route(context.Background(), "n-1", notifications.NotificationPayload{
		Channel: domain.ChannelTypeTelegram,
		Address: "100",
		Body:    "hi",
	}, notifications.RouteOptions{})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.NoError(t, s.Stop())

	var types []string
	for _, msg := range writer.messages() {
		assert.Equal(t, "n-1", string(msg.Key))
		types = append(types, string(msg.Headers[0].Value))
	}
	assert.Equal(t, []string{"routing_started", "channel_sending", "channel_sent", "routing_completed"}, types)
}
