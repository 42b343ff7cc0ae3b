// Package broker publishes classified readings to Kafka for downstream
// consumers.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/rewired-gh/firewatch/internal/feed"
	"github.com/rewired-gh/firewatch/internal/models"
)

// DefaultTopic carries classified readings.
const DefaultTopic = "firewatch.readings"

// ReadingEvent is the message value published per installed state.
type ReadingEvent struct {
	Reading     models.Reading   `json:"reading"`
	Level       models.RiskLevel `json:"level"`
	OverCount   int              `json:"over_count"`
	Exceeded    []models.Field   `json:"exceeded,omitempty"`
	Missing     []models.Field   `json:"missing,omitempty"`
	Escalators  []string         `json:"escalators,omitempty"`
	PublishedAt time.Time        `json:"published_at"`
}

// EventOf converts a state.
func EventOf(st feed.State, at time.Time) ReadingEvent {
	return ReadingEvent{
		Reading:     st.Reading,
		Level:       st.Assessment.Level,
		OverCount:   st.Assessment.OverCount,
		Exceeded:    st.Assessment.Exceeded,
		Missing:     st.Assessment.Missing,
		Escalators:  st.Assessment.Escalators,
		PublishedAt: at,
	}
}

// Message encodes an event keyed by reading source, so a board's readings
// stay ordered within one partition.
func (e ReadingEvent) Message() (kafka.Message, error) {
	value, err := json.Marshal(e)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal reading event: %w", err)
	}
	return kafka.Message{
		Key:   []byte(e.Reading.Source),
		Value: value,
		Time:  e.PublishedAt,
		Headers: []kafka.Header{
			{Key: "level", Value: []byte(e.Level.String())},
		},
	}, nil
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes reading events to a topic.
type Publisher struct {
	w      messageWriter
	topic  string
	logger *zap.Logger
	now    func() time.Time
}

// NewPublisher creates a synchronous writer for brokers/topic.
func NewPublisher(brokers []string, topic string, logger *zap.Logger) *Publisher {
	if topic == "" {
		topic = DefaultTopic
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
		BatchTimeout: 50 * time.Millisecond,
	}
	return newPublisher(w, topic, logger)
}

func newPublisher(w messageWriter, topic string, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		w:      w,
		topic:  topic,
		logger: logger.With(zap.String("component", "kafka-publisher")),
		now:    time.Now,
	}
}

// Publish sends one state.
func (p *Publisher) Publish(ctx context.Context, st feed.State) error {
	msg, err := EventOf(st, p.now()).Message()
	if err != nil {
		return err
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", p.topic, err)
	}
	p.logger.Debug("Published reading event",
		zap.String("source", st.Reading.Source),
		zap.String("level", st.Assessment.Level.String()),
	)
	return nil
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	return p.w.Close()
}
