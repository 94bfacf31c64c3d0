// Package eventsink publishes router lifecycle events to Kafka.
package eventsink

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/bissquit/market-sentinel/internal/notifications"
)

// Config holds sink configuration.
type Config struct {
	Brokers       []string
	Topic         string
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
}

// DefaultConfig returns default sink configuration.
func DefaultConfig() Config {
	return Config{
		Topic:         "notification-events",
		BufferSize:    1024,
		BatchSize:     100,
		FlushInterval: time.Second,
	}
}

// MessageWriter is the subset of *kafka.Writer the sink needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewWriter creates a Kafka writer for config. Messages with the same key
// (the notification id) land on the same partition.
func NewWriter(config Config) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(config.Brokers...),
		Topic:        config.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
}

// Sink buffers router events and writes them to Kafka in batches.
//
// The listener never blocks the routing goroutine: when the buffer is full
// the event is dropped and counted.
type Sink struct {
	config Config
	writer MessageWriter
	events chan notifications.Event

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a sink writing through writer.
func New(config Config, writer MessageWriter) *Sink {
	def := DefaultConfig()
	if config.BufferSize <= 0 {
		config.BufferSize = def.BufferSize
	}
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = def.FlushInterval
	}
	return &Sink{
		config: config,
		writer: writer,
		events: make(chan notifications.Event, config.BufferSize),
		stopCh: make(chan struct{}),
	}
}

// Listener returns the function to subscribe on the router.
func (s *Sink) Listener() notifications.Listener {
	return func(e notifications.Event) {
		select {
		case s.events <- e:
		default:
			eventsDropped.Inc()
		}
	}
}

// Start launches the publishing loop.
func (s *Sink) Start(ctx context.Context) {
	slog.Info("starting event sink", "topic", s.config.Topic, "buffer_size", s.config.BufferSize)
	s.wg.Add(1)
	go s.run(ctx)
}

// Stop flushes buffered events, stops the loop and closes the writer.
func (s *Sink) Stop() error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
	return s.writer.Close()
}

func (s *Sink) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.FlushInterval)
	defer ticker.Stop()

	batch := make([]kafka.Message, 0, s.config.BatchSize)
	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		s.write(ctx, batch)
		batch = batch[:0]
	}

	for {
		select {
		case e := <-s.events:
			if msg, ok := encode(e); ok {
				batch = append(batch, msg)
			}
			if len(batch) >= s.config.BatchSize {
				flush(ctx)
			}
		case <-ticker.C:
			flush(ctx)
		case <-s.stopCh:
			s.drain(&batch)
			flush(context.WithoutCancel(ctx))
			return
		case <-ctx.Done():
			s.drain(&batch)
			flush(context.WithoutCancel(ctx))
			return
		}
	}
}

// drain moves every buffered event into batch.
func (s *Sink) drain(batch *[]kafka.Message) {
	for {
		select {
		case e := <-s.events:
			if msg, ok := encode(e); ok {
				*batch = append(*batch, msg)
			}
		default:
			return
		}
	}
}

func (s *Sink) write(ctx context.Context, batch []kafka.Message) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := s.writer.WriteMessages(ctx, batch...); err != nil {
		eventsFailed.Add(float64(len(batch)))
		slog.Error("failed to publish router events", "count", len(batch), "error", err)
		return
	}
	eventsPublished.Add(float64(len(batch)))
}

func encode(e notifications.Event) (kafka.Message, bool) {
	value, err := json.Marshal(e)
	if err != nil {
		slog.Error("failed to encode router event", "event", e.Type, "error", err)
		return kafka.Message{}, false
	}
	return kafka.Message{
		Key:   []byte(e.NotificationID),
		Value: value,
		Time:  e.Timestamp,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(e.Type)},
		},
	}, true
}
